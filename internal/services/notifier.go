package services

import (
	"context"
	"example.com/backstage/services/orderbot/internal/models"

	"github.com/rs/zerolog/log"
)

// EventPublisher publishes order events to a message bus
type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, event models.OrderEvent) error
}

// OrderIndexer keeps the order search index current
type OrderIndexer interface {
	IndexOrder(ctx context.Context, doc models.OrderDocument) error
	SearchOrders(ctx context.Context, text string, limit int) ([]map[string]interface{}, error)
}

// Notifier fans an order change out to the event bus and the search index.
// Both sinks are optional and failures never reach the caller.
type Notifier struct {
	publisher EventPublisher
	indexer   OrderIndexer
}

// NewNotifier creates a notifier; either sink may be nil
func NewNotifier(publisher EventPublisher, indexer OrderIndexer) *Notifier {
	return &Notifier{publisher: publisher, indexer: indexer}
}

// OrderChanged publishes eventType for order and re-indexes doc
func (n *Notifier) OrderChanged(ctx context.Context, eventType string, order *models.Order, doc models.OrderDocument) {
	if n == nil {
		return
	}

	if n.publisher != nil {
		if err := n.publisher.PublishOrderEvent(ctx, models.NewOrderEvent(eventType, order)); err != nil {
			log.Warn().
				Err(err).
				Str("event_type", eventType).
				Str("tracking_code", order.TrackingCode).
				Msg("Failed to publish order event")
		}
	}

	if n.indexer != nil {
		if err := n.indexer.IndexOrder(ctx, doc); err != nil {
			log.Warn().
				Err(err).
				Str("tracking_code", order.TrackingCode).
				Msg("Failed to index order")
		}
	}
}

// Search runs a full-text search over indexed orders
func (n *Notifier) Search(ctx context.Context, text string, limit int) ([]map[string]interface{}, error) {
	if n == nil || n.indexer == nil {
		return nil, ErrSearchDisabled
	}
	return n.indexer.SearchOrders(ctx, text, limit)
}

func orderDocument(order *models.Order, clientName, supplierName string, products []string) models.OrderDocument {
	return models.OrderDocument{
		ID:                  order.ID.String(),
		TrackingCode:        order.TrackingCode,
		Status:              order.Status,
		ClientID:            order.ClientID.String(),
		ClientName:          clientName,
		SupplierID:          order.SupplierID.String(),
		SupplierName:        supplierName,
		Total:               order.Total,
		Products:            products,
		Notes:               order.Notes,
		CreatedAt:           order.CreatedAt,
		EstimatedDeliveryAt: order.EstimatedDeliveryAt,
	}
}
