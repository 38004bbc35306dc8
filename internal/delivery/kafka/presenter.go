package kafka

import "time"

// Notifications published by the admission service

type QueueJoinedMessage struct {
	EntryID   string    `json:"entry_id"`
	EventID   string    `json:"event_id"`
	EventName string    `json:"event_name"`
	UserID    string    `json:"user_id,omitempty"`
	SessionID string    `json:"session_id"`
	Position  int       `json:"position"`
	JoinedAt  time.Time `json:"joined_at"`
	Timestamp time.Time `json:"timestamp"`
}

type QueueTurnMessage struct {
	EntryID           string    `json:"entry_id"`
	EventID           string    `json:"event_id"`
	EventName         string    `json:"event_name"`
	UserID            string    `json:"user_id,omitempty"`
	SessionID         string    `json:"session_id"`
	PurchaseSessionID string    `json:"purchase_session_id"`
	SlotType          string    `json:"slot_type"`
	ExpiresAt         time.Time `json:"expires_at"`
	Timestamp         time.Time `json:"timestamp"`
}

type SessionExpiredMessage struct {
	PurchaseSessionID string    `json:"purchase_session_id"`
	EntryID           string    `json:"entry_id,omitempty"`
	EventID           string    `json:"event_id"`
	EventName         string    `json:"event_name"`
	UserID            string    `json:"user_id,omitempty"`
	SessionID         string    `json:"session_id"`
	Reason            string    `json:"reason"`
	ExpiredAt         time.Time `json:"expired_at"`
	Timestamp         time.Time `json:"timestamp"`
}

// Events consumed from the order and event services

type OrderCompletedEvent struct {
	OrderID           string    `json:"order_id"`
	EventID           string    `json:"event_id"`
	UserID            string    `json:"user_id"`
	PurchaseSessionID string    `json:"purchase_session_id,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

// EventStatusEvent is shared by the sale_started, sale_ended, sold_out and
// cancelled topics.
type EventStatusEvent struct {
	EventID   string    `json:"event_id"`
	Status    string    `json:"status,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
