package repositories

import (
	"context"
	"example.com/backstage/services/orderbot/internal/models"
	"time"

	"github.com/google/uuid"
)

// MatchMode controls how a text column is compared
type MatchMode int

const (
	// MatchExact compares case-sensitively for equality
	MatchExact MatchMode = iota
	// MatchContains compares case-insensitively for a substring
	MatchContains
)

// ProductQuery filters a supplier's products by name and size
type ProductQuery struct {
	SupplierID uuid.UUID
	Name       string
	NameMatch  MatchMode
	Size       string
	SizeMatch  MatchMode
	Limit      int
}

// ClientRepository provides access to client data
type ClientRepository interface {
	GetByPhone(ctx context.Context, phone string) (*models.Client, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Client, error)
}

// SupplierRepository provides access to supplier data
type SupplierRepository interface {
	GetByPhone(ctx context.Context, phone string) (*models.Supplier, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Supplier, error)
}

// ProductRepository provides access to the product catalog
type ProductRepository interface {
	Find(ctx context.Context, query ProductQuery) ([]models.Product, error)
	ListBySupplier(ctx context.Context, supplierID uuid.UUID, limit int) ([]models.Product, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Product, error)
	// AdjustStock adds delta to the stock of one product. It returns
	// ErrInsufficientStock instead of letting the stock go negative.
	AdjustStock(ctx context.Context, id uuid.UUID, delta int) error
}

// OrderRepository provides access to persisted orders and their line items
type OrderRepository interface {
	Create(ctx context.Context, order *models.Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	GetByTrackingCode(ctx context.Context, code string) (*models.Order, error)
	TrackingCodeExists(ctx context.Context, code string) (bool, error)
	MaxSequenceNumber(ctx context.Context, supplierID uuid.UUID) (int, error)
	ListByClient(ctx context.Context, clientID uuid.UUID) ([]models.Order, error)
	// UpdateStatus sets status and notes when the order's current status is one
	// of from (any status when from is empty). It reports whether a row changed.
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.OrderStatus, notes string, from ...models.OrderStatus) (bool, error)
	CreateLineItems(ctx context.Context, items []models.OrderLineItem) error
	ListLineItems(ctx context.Context, orderID uuid.UUID) ([]models.OrderLineItem, error)
}

// SagaRepository persists confirmation saga markers
type SagaRepository interface {
	Create(ctx context.Context, saga *models.ConfirmationSaga) error
	Update(ctx context.Context, saga *models.ConfirmationSaga) error
	// GetByTempOrder returns the newest saga for a temporary order that was not aborted
	GetByTempOrder(ctx context.Context, tempOrderID uuid.UUID) (*models.ConfirmationSaga, error)
	ListStale(ctx context.Context, olderThan time.Time, limit int) ([]models.ConfirmationSaga, error)
}

// Store groups every repository the order pipeline needs
type Store struct {
	Clients   ClientRepository
	Suppliers SupplierRepository
	Products  ProductRepository
	Orders    OrderRepository
	Sagas     SagaRepository
}
