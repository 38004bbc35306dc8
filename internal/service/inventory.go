package service

import (
	"context"
	"fmt"

	"github.com/vogiaan1904/ticketbottle-admission/internal/models"
	"github.com/vogiaan1904/ticketbottle-admission/internal/repository"
)

type inventory struct {
	catalog repository.CatalogRepository
}

func NewInventory(catalog repository.CatalogRepository) Inventory {
	return &inventory{catalog: catalog}
}

func (i *inventory) FindAvailableByEvent(ctx context.Context, eventID string) ([]*models.TicketType, error) {
	types, err := i.catalog.ListTicketTypes(ctx, eventID)
	if err != nil {
		return nil, err
	}

	available := make([]*models.TicketType, 0, len(types))
	for _, tt := range types {
		if tt.IsAvailable() {
			available = append(available, tt)
		}
	}
	return available, nil
}

func (i *inventory) CanPurchaseWithLimit(ctx context.Context, tt *models.TicketType, quantity int, userID string) (LimitDecision, error) {
	if !tt.IsAvailable() {
		return LimitDecision{Reason: fmt.Sprintf("%s is no longer available", tt.Name)}, nil
	}
	if quantity > tt.Remaining() {
		return LimitDecision{Reason: fmt.Sprintf("only %d %s tickets remaining", tt.Remaining(), tt.Name)}, nil
	}
	if userID == "" || !tt.HasLimit() {
		return LimitDecision{Allowed: true}, nil
	}

	purchased, err := i.catalog.PurchasedQuantity(ctx, tt.ID, userID)
	if err != nil {
		return LimitDecision{}, err
	}
	if purchased+quantity > tt.MaxPerUser {
		return LimitDecision{
			Reason: fmt.Sprintf("limit of %d %s tickets per user, %d already purchased", tt.MaxPerUser, tt.Name, purchased),
		}, nil
	}
	return LimitDecision{Allowed: true}, nil
}

// HasUserReachedAllEventLimits is true only when every ticket type of the
// event is capped and the user has bought up to each cap.
func (i *inventory) HasUserReachedAllEventLimits(ctx context.Context, eventID, userID string) (bool, error) {
	if userID == "" {
		return false, nil
	}

	types, err := i.catalog.ListTicketTypes(ctx, eventID)
	if err != nil {
		return false, err
	}
	if len(types) == 0 {
		return false, nil
	}

	for _, tt := range types {
		if !tt.HasLimit() {
			return false, nil
		}
		purchased, err := i.catalog.PurchasedQuantity(ctx, tt.ID, userID)
		if err != nil {
			return false, err
		}
		if purchased < tt.MaxPerUser {
			return false, nil
		}
	}
	return true, nil
}
