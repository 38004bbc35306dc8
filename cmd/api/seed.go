package main

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/vogiaan1904/ticketbottle-admission/internal/models"
	"github.com/vogiaan1904/ticketbottle-admission/internal/repository/memory"
)

const demoEventID = "demo-event"

// seedDemoCatalog gives a memory-backed process one event already on sale so
// the API and cmd/simulate have something to drive.
func seedDemoCatalog(store *memory.Store, now time.Time) {
	start := now.Add(-time.Minute)
	end := now.Add(24 * time.Hour)
	store.PutEvent(models.Event{
		ID:              demoEventID,
		Name:            "Demo Night",
		Status:          models.EventStatusSaleStarted,
		SaleStartAt:     &start,
		SaleEndAt:       &end,
		ConcurrentUsers: 5,
	})
	store.PutTicketType(models.TicketType{
		ID:         "demo-ga",
		EventID:    demoEventID,
		Name:       "General Admission",
		Price:      decimal.NewFromInt(40),
		Quantity:   500,
		MaxPerUser: 4,
		Active:     true,
	})
	store.PutTicketType(models.TicketType{
		ID:         "demo-vip",
		EventID:    demoEventID,
		Name:       "VIP",
		Price:      decimal.RequireFromString("149.50"),
		Quantity:   50,
		MaxPerUser: 2,
		Active:     true,
	})
}
