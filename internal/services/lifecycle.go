package services

import (
	"context"
	"example.com/backstage/services/orderbot/internal/cache"
	"example.com/backstage/services/orderbot/internal/metrics"
	"example.com/backstage/services/orderbot/internal/models"
	"example.com/backstage/services/orderbot/internal/repositories"
	"example.com/backstage/services/orderbot/internal/tracing"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// UnavailableProductName is shown for a line whose product no longer exists
const UnavailableProductName = "(producto no disponible)"

// DefaultProductNameTTL bounds how long a cached product name is trusted
const DefaultProductNameTTL = time.Hour

// OrderLineDetails is a persisted line with its product name
type OrderLineDetails struct {
	ProductID   uuid.UUID       `json:"product_id"`
	ProductName string          `json:"product_name"`
	Size        string          `json:"size"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

// OrderDetails is an order with its lines
type OrderDetails struct {
	Order models.Order       `json:"order"`
	Lines []OrderLineDetails `json:"lines"`
}

// ClientStats aggregates a client's order history
type ClientStats struct {
	ClientID          uuid.UUID                  `json:"client_id"`
	TotalOrders       int                        `json:"total_orders"`
	ByStatus          map[models.OrderStatus]int `json:"by_status"`
	TotalSpent        decimal.Decimal            `json:"total_spent"`
	AverageSpent      decimal.Decimal            `json:"average_spent"`
	TopSupplierID     uuid.UUID                  `json:"top_supplier_id"`
	TopSupplierName   string                     `json:"top_supplier_name"`
	TopSupplierOrders int                        `json:"top_supplier_orders"`
	FirstOrderAt      time.Time                  `json:"first_order_at"`
	LastOrderAt       time.Time                  `json:"last_order_at"`
	ActiveDays        int                        `json:"active_days"`
	OrdersPerMonth    float64                    `json:"orders_per_month"`
}

// CancelResult is the outcome of a cancellation
type CancelResult struct {
	Order            *models.Order `json:"order"`
	AlreadyCancelled bool          `json:"already_cancelled"`
	Warnings         []string      `json:"warnings,omitempty"`
}

// OrderService answers questions about persisted orders and cancels them
type OrderService struct {
	store          *repositories.Store
	cache          cache.Cache
	notifier       *Notifier
	tracer         tracing.Tracer
	metrics        *metrics.Metrics
	productNameTTL time.Duration
	now            func() time.Time
}

// NewOrderService creates a new order service; names is the product-name cache
func NewOrderService(
	store *repositories.Store,
	names cache.Cache,
	notifier *Notifier,
	tracer tracing.Tracer,
	collector *metrics.Metrics,
	productNameTTL time.Duration,
) *OrderService {
	if productNameTTL <= 0 {
		productNameTTL = DefaultProductNameTTL
	}
	if tracer == nil {
		tracer = tracing.Noop()
	}
	return &OrderService{
		store:          store,
		cache:          names,
		notifier:       notifier,
		tracer:         tracer,
		metrics:        collector,
		productNameTTL: productNameTTL,
		now:            time.Now,
	}
}

// NormalizeTrackingCode trims and upper-cases a code typed by a user
func NormalizeTrackingCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (s *OrderService) getOrder(ctx context.Context, code string) (*models.Order, error) {
	order, err := s.store.Orders.GetByTrackingCode(ctx, NormalizeTrackingCode(code))
	if err != nil {
		if repositories.IsNotFound(err) {
			return nil, ErrOrderNotFound
		}
		return nil, errors.Wrap(err, "failed to get order")
	}
	return order, nil
}

// Lookup returns an order and its lines by tracking code
func (s *OrderService) Lookup(ctx context.Context, code string) (*OrderDetails, error) {
	txn := s.tracer.StartTransaction("lookup-order")
	defer s.tracer.EndTransaction(txn)

	order, err := s.getOrder(ctx, code)
	if err != nil {
		return nil, err
	}

	span := s.tracer.StartSpan("list-line-items", txn)
	items, err := s.store.Orders.ListLineItems(ctx, order.ID)
	span.End()
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, errors.Wrap(err, "failed to list order lines")
	}

	details := &OrderDetails{Order: *order, Lines: make([]OrderLineDetails, 0, len(items))}
	for _, item := range items {
		details.Lines = append(details.Lines, OrderLineDetails{
			ProductID:   item.ProductID,
			ProductName: s.productName(ctx, item.ProductID),
			Size:        item.Size,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Subtotal:    item.Subtotal(),
		})
	}
	return details, nil
}

// productName reads through the product-name cache
func (s *OrderService) productName(ctx context.Context, id uuid.UUID) string {
	key := cache.GetProductNameKey(id)

	var name string
	if s.cache != nil {
		if err := s.cache.Get(ctx, key, &name); err == nil {
			return name
		}
	}

	product, err := s.store.Products.GetByID(ctx, id)
	if err != nil {
		if !repositories.IsNotFound(err) {
			log.Warn().Err(err).Str("product_id", id.String()).Msg("Failed to read product name")
		}
		return UnavailableProductName
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, product.Name, s.productNameTTL); err != nil && !errors.Is(err, cache.ErrDisabled) {
			log.Warn().Err(err).Str("product_id", id.String()).Msg("Failed to cache product name")
		}
	}
	return product.Name
}

// Status returns the order header for a status summary
func (s *OrderService) Status(ctx context.Context, code string) (*models.Order, error) {
	return s.getOrder(ctx, code)
}

// Stats aggregates the orders of a client
func (s *OrderService) Stats(ctx context.Context, clientID uuid.UUID) (*ClientStats, error) {
	txn := s.tracer.StartTransaction("client-stats")
	defer s.tracer.EndTransaction(txn)

	orders, err := s.store.Orders.ListByClient(ctx, clientID)
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, errors.Wrap(err, "failed to list client orders")
	}

	stats := ComputeStats(clientID, orders)
	if stats.TopSupplierID != uuid.Nil {
		supplier, err := s.store.Suppliers.GetByID(ctx, stats.TopSupplierID)
		if err != nil {
			log.Warn().Err(err).Str("supplier_id", stats.TopSupplierID.String()).Msg("Failed to read top supplier")
		} else {
			stats.TopSupplierName = supplier.Name
		}
	}
	return stats, nil
}

// ComputeStats aggregates orders, which must be sorted by creation time.
// Spend excludes cancelled orders; supplier ties go to the first seen.
func ComputeStats(clientID uuid.UUID, orders []models.Order) *ClientStats {
	stats := &ClientStats{
		ClientID:     clientID,
		TotalOrders:  len(orders),
		ByStatus:     make(map[models.OrderStatus]int, len(models.OrderStatuses)),
		TotalSpent:   decimal.Zero,
		AverageSpent: decimal.Zero,
	}
	for _, status := range models.OrderStatuses {
		stats.ByStatus[status] = 0
	}
	if len(orders) == 0 {
		return stats
	}

	supplierCounts := make(map[uuid.UUID]int)
	var supplierOrder []uuid.UUID
	spentOrders := 0

	for _, order := range orders {
		stats.ByStatus[order.Status]++

		if order.Status != models.OrderStatusCancelled {
			stats.TotalSpent = stats.TotalSpent.Add(order.Total)
			spentOrders++
		}

		if _, seen := supplierCounts[order.SupplierID]; !seen {
			supplierOrder = append(supplierOrder, order.SupplierID)
		}
		supplierCounts[order.SupplierID]++

		if stats.FirstOrderAt.IsZero() || order.CreatedAt.Before(stats.FirstOrderAt) {
			stats.FirstOrderAt = order.CreatedAt
		}
		if order.CreatedAt.After(stats.LastOrderAt) {
			stats.LastOrderAt = order.CreatedAt
		}
	}

	if spentOrders > 0 {
		stats.AverageSpent = stats.TotalSpent.Div(decimal.NewFromInt(int64(spentOrders))).Round(2)
	}

	for _, id := range supplierOrder {
		if supplierCounts[id] > stats.TopSupplierOrders {
			stats.TopSupplierID = id
			stats.TopSupplierOrders = supplierCounts[id]
		}
	}

	stats.ActiveDays = int(stats.LastOrderAt.Sub(stats.FirstOrderAt)/(24*time.Hour)) + 1
	months := math.Max(1, float64(stats.ActiveDays)/30)
	stats.OrdersPerMonth = math.Round(float64(stats.TotalOrders)/months*100) / 100

	return stats
}

// Cancel cancels an open order and returns its stock. Cancelling a cancelled
// order changes nothing; a completed order cannot be cancelled.
func (s *OrderService) Cancel(ctx context.Context, code string) (*CancelResult, error) {
	txn := s.tracer.StartTransaction("cancel-order")
	defer s.tracer.EndTransaction(txn)

	order, err := s.getOrder(ctx, code)
	if err != nil {
		return nil, err
	}

	switch order.Status {
	case models.OrderStatusCompleted:
		return nil, Reject("El pedido %s ya fue completado y no se puede cancelar.", order.TrackingCode)
	case models.OrderStatusCancelled:
		return &CancelResult{Order: order, AlreadyCancelled: true}, nil
	}

	notes := appendCancelMarker(order.Notes, s.now())
	updated, err := s.store.Orders.UpdateStatus(ctx, order.ID, models.OrderStatusCancelled, notes,
		models.OrderStatusPending, models.OrderStatusInProcess)
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, errors.Wrap(err, "failed to cancel order")
	}
	if !updated {
		// Another request changed the order first
		current, err := s.getOrder(ctx, order.TrackingCode)
		if err != nil {
			return nil, err
		}
		if current.Status == models.OrderStatusCompleted {
			return nil, Reject("El pedido %s ya fue completado y no se puede cancelar.", current.TrackingCode)
		}
		return &CancelResult{Order: current, AlreadyCancelled: true}, nil
	}

	order.Status = models.OrderStatusCancelled
	order.Notes = notes
	result := &CancelResult{Order: order}

	span := s.tracer.StartSpan("restore-stock", txn)
	items, err := s.store.Orders.ListLineItems(ctx, order.ID)
	if err != nil {
		log.Error().Err(err).Str("order_id", order.ID.String()).Msg("Failed to list lines for stock restore")
		result.Warnings = append(result.Warnings, "No se pudo devolver el stock de los productos")
		s.metrics.RecordStockFailure("restore")
	}

	products := make([]string, 0, len(items))
	for _, item := range items {
		name := s.productName(ctx, item.ProductID)
		products = append(products, name)

		if err := s.store.Products.AdjustStock(ctx, item.ProductID, item.Quantity); err != nil {
			s.metrics.RecordStockFailure("restore")
			log.Error().
				Err(err).
				Str("order_id", order.ID.String()).
				Str("product_id", item.ProductID.String()).
				Int("quantity", item.Quantity).
				Msg("Failed to restore stock")
			result.Warnings = append(result.Warnings, fmt.Sprintf("No se pudo devolver el stock de %s talla %s", name, item.Size))
		}
	}
	span.End()

	s.notifier.OrderChanged(ctx, models.EventOrderCancelled, order, s.document(ctx, order, products))
	s.metrics.RecordOrderCancelled()

	log.Info().
		Str("order_id", order.ID.String()).
		Str("tracking_code", order.TrackingCode).
		Int("warnings", len(result.Warnings)).
		Msg("Order cancelled")

	return result, nil
}

func (s *OrderService) document(ctx context.Context, order *models.Order, products []string) models.OrderDocument {
	var clientName, supplierName string
	if client, err := s.store.Clients.GetByID(ctx, order.ClientID); err == nil {
		clientName = client.Name
	}
	if supplier, err := s.store.Suppliers.GetByID(ctx, order.SupplierID); err == nil {
		supplierName = supplier.Name
	}
	return orderDocument(order, clientName, supplierName, products)
}

// Search runs a full-text search over indexed orders
func (s *OrderService) Search(ctx context.Context, text string, limit int) ([]map[string]interface{}, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.notifier.Search(ctx, strings.TrimSpace(text), limit)
}

func appendCancelMarker(notes string, at time.Time) string {
	marker := fmt.Sprintf("[CANCELADO vía chatbot %s]", at.Format(time.RFC3339))
	if strings.TrimSpace(notes) == "" {
		return marker
	}
	return notes + " " + marker
}
