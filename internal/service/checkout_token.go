package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	appErrors "github.com/vogiaan1904/ticketbottle-admission/internal/errors"
	"github.com/vogiaan1904/ticketbottle-admission/internal/models"
	"github.com/vogiaan1904/ticketbottle-admission/pkg/clock"
)

type checkoutClaims struct {
	SessionID string `json:"session_id"`
	EventID   string `json:"event_id"`
	UserID    string `json:"user_id,omitempty"`
	jwt.RegisteredClaims
}

// CheckoutTokens signs the token a client presents when completing a purchase.
type CheckoutTokens struct {
	secret   []byte
	validFor time.Duration
	clock    clock.Clock
}

// NewCheckoutTokens issues tokens valid for validFor past the session start,
// which should cover the window plus every possible extension.
func NewCheckoutTokens(secret string, validFor time.Duration, clk clock.Clock) *CheckoutTokens {
	return &CheckoutTokens{
		secret:   []byte(secret),
		validFor: validFor,
		clock:    clk,
	}
}

func (t *CheckoutTokens) Issue(ps *models.PurchaseSession) (string, error) {
	claims := checkoutClaims{
		SessionID: ps.ID,
		EventID:   ps.EventID,
		UserID:    ps.UserID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   ps.ID,
			IssuedAt:  jwt.NewNumericDate(ps.StartedAt),
			ExpiresAt: jwt.NewNumericDate(ps.StartedAt.Add(t.validFor)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign checkout token: %w", err)
	}
	return signed, nil
}

func (t *CheckoutTokens) Validate(raw, sessionID string) error {
	if raw == "" {
		return appErrors.ErrInvalidCheckoutToken
	}

	claims := &checkoutClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	}, jwt.WithTimeFunc(t.clock.Now))
	if err != nil {
		return errors.Join(appErrors.ErrInvalidCheckoutToken, err)
	}
	if !token.Valid || claims.SessionID != sessionID {
		return appErrors.ErrInvalidCheckoutToken
	}
	return nil
}
