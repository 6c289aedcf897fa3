package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// OrderStatus is the lifecycle state of a persisted order
type OrderStatus string

// Order statuses
const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusInProcess OrderStatus = "in_process"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// OrderStatuses lists every status in display order
var OrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusInProcess,
	OrderStatusCompleted,
	OrderStatusCancelled,
}

// Client is a customer placing orders, identified by phone number
type Client struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
	Name      string    `gorm:"not null" json:"name"`
	Phone     string    `gorm:"not null;uniqueIndex" json:"phone"`
}

// Supplier owns a catalog of products
type Supplier struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
	Name      string    `gorm:"not null" json:"name"`
	Phone     string    `gorm:"not null;uniqueIndex" json:"phone"`
}

// Product is a sellable item in one size
type Product struct {
	ID            uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
	SupplierID    uuid.UUID       `gorm:"type:uuid;not null;index" json:"supplier_id"`
	Name          string          `gorm:"not null;index" json:"name"`
	Category      string          `json:"category"`
	Size          string          `gorm:"not null" json:"size"`
	UnitPrice     decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"unit_price"`
	StockQuantity int             `gorm:"not null;check:stock_quantity >= 0" json:"stock_quantity"`
	Supplier      Supplier        `gorm:"foreignKey:SupplierID" json:"-"`
}

// Order is a confirmed, durable order
type Order struct {
	ID                  uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
	ClientID            uuid.UUID       `gorm:"type:uuid;not null;index" json:"client_id"`
	SupplierID          uuid.UUID       `gorm:"type:uuid;not null;index:idx_orders_supplier_sequence" json:"supplier_id"`
	SequenceNumber      int             `gorm:"not null;index:idx_orders_supplier_sequence" json:"sequence_number"`
	TrackingCode        string          `gorm:"type:varchar(20);not null;uniqueIndex" json:"tracking_code"`
	Status              OrderStatus     `gorm:"type:varchar(20);not null;default:pending" json:"status"`
	Total               decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"total"`
	Notes               string          `json:"notes"`
	EstimatedDeliveryAt time.Time       `json:"estimated_delivery_at"`
	Client              Client          `gorm:"foreignKey:ClientID" json:"-"`
	Supplier            Supplier        `gorm:"foreignKey:SupplierID" json:"-"`
}

// OrderLineItem is one product line of a persisted order
type OrderLineItem struct {
	ID        uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
	OrderID   uuid.UUID       `gorm:"type:uuid;not null;index" json:"order_id"`
	ProductID uuid.UUID       `gorm:"type:uuid;not null" json:"product_id"`
	Quantity  int             `gorm:"not null" json:"quantity"`
	UnitPrice decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"unit_price"`
	Size      string          `json:"size"`
	Order     Order           `gorm:"foreignKey:OrderID" json:"-"`
	Product   Product         `gorm:"foreignKey:ProductID" json:"-"`
}

// Subtotal returns quantity times unit price
func (l OrderLineItem) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// SagaStatus is the state of a confirmation saga
type SagaStatus string

// Saga statuses
const (
	SagaStatusInProgress SagaStatus = "in_progress"
	SagaStatusCompleted  SagaStatus = "completed"
	SagaStatusAborted    SagaStatus = "aborted"
	SagaStatusFailed     SagaStatus = "failed"
)

// ConfirmationSaga is the durable marker and step log of one order confirmation
type ConfirmationSaga struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	ConversationID string     `gorm:"not null;index" json:"conversation_id"`
	TempOrderID    uuid.UUID  `gorm:"type:uuid;not null;index" json:"temp_order_id"`
	OrderID        uuid.UUID  `gorm:"type:uuid;not null" json:"order_id"`
	TrackingCode   string     `gorm:"type:varchar(20)" json:"tracking_code"`
	SequenceNumber int        `json:"sequence_number"`
	Status         SagaStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	Step           string     `gorm:"type:varchar(32)" json:"step"`
	Payload        []byte     `gorm:"type:jsonb" json:"payload"`
	LastError      string     `json:"last_error"`
}

// SetupModels runs the auto migrations for every table
func SetupModels(db *gorm.DB) error {
	err := db.AutoMigrate(
		&Client{},
		&Supplier{},
		&Product{},
		&Order{},
		&OrderLineItem{},
		&ConfirmationSaga{},
	)
	if err != nil {
		return errors.Wrap(err, "failed to auto migrate models")
	}
	return nil
}
