package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var (
	baseURL        = flag.String("api", "http://localhost:8080", "Admission API base URL")
	eventID        = flag.String("event", "demo-event", "Event ID")
	ticketTypeID   = flag.String("ticket-type", "demo-ga", "Ticket type added to each cart")
	numUsers       = flag.Int("users", 300, "Number of users to enqueue")
	anonymousRate  = flag.Float64("anonymous-rate", 0.2, "Share of users that join with only a browser session")
	batchSize      = flag.Int("batch-size", 20, "Concurrent join requests")
	pollInterval   = flag.Duration("poll", 2*time.Second, "Status poll interval")
	leaveRate      = flag.Float64("leave-rate", 0.02, "Probability a waiting user leaves per poll")
	checkoutRate   = flag.Float64("checkout-rate", 0.7, "Probability an admitted user completes checkout")
	checkoutDelay  = flag.Duration("checkout-delay", 10*time.Second, "Time an admitted user spends before deciding")
	requestTimeout = flag.Duration("timeout", 5*time.Second, "Per-request timeout")
)

const checkoutTokenHeader = "X-Checkout-Token"

type envelope struct {
	ErrorCode string          `json:"error_code"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data"`
}

type apiError struct {
	status int
	code   string
	msg    string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.status, e.code, e.msg)
}

type client struct {
	http *http.Client
	base string
}

func (c *client) do(ctx context.Context, method, path string, body any, out any, headers ...string) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	if resp.StatusCode >= 300 {
		return &apiError{status: resp.StatusCode, code: env.ErrorCode, msg: env.Message}
	}
	if out != nil && len(env.Data) > 0 {
		return json.Unmarshal(env.Data, out)
	}
	return nil
}

type user struct {
	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`

	admittedAt    time.Time
	checkoutToken string
	done          bool
}

func (u *user) query() string {
	if u.UserID != "" {
		return "user_id=" + u.UserID
	}
	return "session_id=" + u.SessionID
}

type queueStatus struct {
	Entry struct {
		Status string `json:"status"`
	} `json:"entry"`
	Position          int    `json:"position"`
	QueueLength       int    `json:"queue_length"`
	EstimatedWait     string `json:"estimated_wait"`
	PurchaseSessionID string `json:"purchase_session_id"`
}

type session struct {
	Status        string `json:"status"`
	CheckoutToken string `json:"checkout_token"`
}

type stats struct {
	joined, rejected, left, completed, abandoned, expired atomic.Int64
}

func main() {
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := &client{http: &http.Client{Timeout: *requestTimeout}, base: *baseURL}
	var st stats

	users := enqueueUsers(ctx, c, &st)
	fmt.Printf("\n✅ %d users joined event %s (%d rejected)\n", st.joined.Load(), *eventID, st.rejected.Load())
	fmt.Printf("🎬 Simulating; press Ctrl+C to stop\n\n")

	runSimulation(ctx, c, users, &st)
	printFinalStats(context.Background(), c, &st)
}

func enqueueUsers(ctx context.Context, c *client, st *stats) []*user {
	var (
		mu    sync.Mutex
		users = make([]*user, 0, *numUsers)
	)
	started := time.Now()

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(max(*batchSize, 1))
	for i := 0; i < *numUsers; i++ {
		u := &user{SessionID: uuid.NewString()}
		if rand.Float64() >= *anonymousRate {
			u.UserID = fmt.Sprintf("demo-user-%d", i+1)
		}

		g.Go(func() error {
			var out queueStatus
			err := c.do(gCtx, http.MethodPost, "/api/v1/events/"+*eventID+"/queue/join", u, &out)
			if err != nil {
				st.rejected.Add(1)
				fmt.Printf("❌ join %s: %v\n", u.SessionID, err)
				return nil
			}
			st.joined.Add(1)
			mu.Lock()
			users = append(users, u)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	elapsed := time.Since(started)
	fmt.Printf("⏱️  Joins finished in %v (%.0f users/sec)\n", elapsed, float64(*numUsers)/elapsed.Seconds())
	return users
}

func runSimulation(ctx context.Context, c *client, users []*user, st *stats) {
	ticker := time.NewTicker(*pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Println("\n\n🛑 Simulation stopped")
			return
		case <-ticker.C:
		}

		remaining := 0
		for _, u := range users {
			if u.done {
				continue
			}
			step(ctx, c, u, st)
			if !u.done {
				remaining++
			}
		}

		fmt.Printf("[%s] Remaining: %d | Completed: %d | Left: %d | Expired: %d\n",
			time.Now().Format("15:04:05"), remaining, st.completed.Load(), st.left.Load(), st.expired.Load())
		if remaining == 0 {
			fmt.Println("🏁 Every user has finished")
			return
		}
	}
}

func step(ctx context.Context, c *client, u *user, st *stats) {
	var qs queueStatus
	err := c.do(ctx, http.MethodGet, "/api/v1/events/"+*eventID+"/queue/status?"+u.query(), nil, &qs)
	var apiErr *apiError
	if errors.As(err, &apiErr) && apiErr.status == http.StatusGone {
		st.expired.Add(1)
		u.done = true
		return
	}
	if err != nil {
		return
	}

	switch qs.Entry.Status {
	case "waiting":
		if rand.Float64() < *leaveRate {
			if err := c.do(ctx, http.MethodPost, "/api/v1/events/"+*eventID+"/queue/leave", u, nil); err == nil {
				st.left.Add(1)
				u.done = true
			}
		}
	case "processing":
		if u.admittedAt.IsZero() {
			var ps session
			if err := c.do(ctx, http.MethodGet, "/api/v1/sessions/"+qs.PurchaseSessionID, nil, &ps); err != nil {
				return
			}
			u.admittedAt = time.Now()
			u.checkoutToken = ps.CheckoutToken
			_ = c.do(ctx, http.MethodPost, "/api/v1/sessions/"+qs.PurchaseSessionID+"/items", map[string]any{
				"items": []map[string]any{{"ticket_type_id": *ticketTypeID, "quantity": 1 + rand.Intn(2)}},
			}, nil, checkoutTokenHeader, u.checkoutToken)
			return
		}
		if time.Since(u.admittedAt) < *checkoutDelay {
			return
		}
		finish(ctx, c, u, qs.PurchaseSessionID, st)
	default:
		u.done = true
	}
}

func finish(ctx context.Context, c *client, u *user, purchaseSessionID string, st *stats) {
	path := "/api/v1/sessions/" + purchaseSessionID
	if rand.Float64() >= *checkoutRate {
		if err := c.do(ctx, http.MethodPost, path+"/abandon", nil, nil, checkoutTokenHeader, u.checkoutToken); err == nil {
			st.abandoned.Add(1)
			u.done = true
		}
		return
	}

	_ = c.do(ctx, http.MethodPut, path+"/customer", map[string]string{
		"name":  "Sim " + u.SessionID[:8],
		"email": u.SessionID[:8] + "@example.com",
	}, nil, checkoutTokenHeader, u.checkoutToken)
	order := map[string]string{"order_id": "sim-order-" + uuid.NewString()}
	if err := c.do(ctx, http.MethodPost, path+"/complete", order, nil, checkoutTokenHeader, u.checkoutToken); err == nil {
		st.completed.Add(1)
		u.done = true
	}
}

func printFinalStats(ctx context.Context, c *client, st *stats) {
	var out struct {
		OccupiedSlots  int `json:"occupied_slots"`
		AvailableSlots int `json:"available_slots"`
	}
	_ = c.do(ctx, http.MethodGet, "/api/v1/events/"+*eventID+"/queue/stats", nil, &out)

	fmt.Println("\n📊 Final Statistics:")
	fmt.Printf("   Joined: %d (rejected %d)\n", st.joined.Load(), st.rejected.Load())
	fmt.Printf("   Completed: %d | Abandoned: %d | Left: %d | Expired: %d\n",
		st.completed.Load(), st.abandoned.Load(), st.left.Load(), st.expired.Load())
	fmt.Printf("   Slots occupied: %d, available: %d\n", out.OccupiedSlots, out.AvailableSlots)
}
