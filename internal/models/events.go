package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Order event types
const (
	EventOrderConfirmed = "order.confirmed"
	EventOrderCancelled = "order.cancelled"
)

// OrderEvent is published after an order changes
type OrderEvent struct {
	EventID      string          `json:"event_id"`
	EventType    string          `json:"event_type"`
	OrderID      uuid.UUID       `json:"order_id"`
	TrackingCode string          `json:"tracking_code"`
	ClientID     uuid.UUID       `json:"client_id"`
	SupplierID   uuid.UUID       `json:"supplier_id"`
	Status       OrderStatus     `json:"status"`
	Total        decimal.Decimal `json:"total"`
	Timestamp    time.Time       `json:"timestamp"`
}

// NewOrderEvent builds an event describing the current state of order
func NewOrderEvent(eventType string, order *Order) OrderEvent {
	return OrderEvent{
		EventID:      uuid.NewString(),
		EventType:    eventType,
		OrderID:      order.ID,
		TrackingCode: order.TrackingCode,
		ClientID:     order.ClientID,
		SupplierID:   order.SupplierID,
		Status:       order.Status,
		Total:        order.Total,
		Timestamp:    time.Now().UTC(),
	}
}

// OrderDocument is the search index representation of an order
type OrderDocument struct {
	ID                  string          `json:"id"`
	TrackingCode        string          `json:"tracking_code"`
	Status              OrderStatus     `json:"status"`
	ClientID            string          `json:"client_id"`
	ClientName          string          `json:"client_name"`
	SupplierID          string          `json:"supplier_id"`
	SupplierName        string          `json:"supplier_name"`
	Total               decimal.Decimal `json:"total"`
	Products            []string        `json:"products"`
	Notes               string          `json:"notes"`
	CreatedAt           time.Time       `json:"created_at"`
	EstimatedDeliveryAt time.Time       `json:"estimated_delivery_at"`
}
