package repositories

import (
	"context"
	"example.com/backstage/services/orderbot/internal/models"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// NewGormStore builds a Store backed by a write and a read-only database
func NewGormStore(db *gorm.DB, readOnlyDB *gorm.DB) *Store {
	if readOnlyDB == nil {
		readOnlyDB = db
	}
	return &Store{
		Clients:   NewClientRepository(db, readOnlyDB),
		Suppliers: NewSupplierRepository(db, readOnlyDB),
		Products:  NewProductRepository(db, readOnlyDB),
		Orders:    NewOrderRepository(db, readOnlyDB),
		Sagas:     NewSagaRepository(db),
	}
}

// GormClientRepository reads clients from postgres
type GormClientRepository struct {
	db         *gorm.DB // Write database
	readOnlyDB *gorm.DB // Read-only database
}

// NewClientRepository creates a new client repository
func NewClientRepository(db *gorm.DB, readOnlyDB *gorm.DB) *GormClientRepository {
	return &GormClientRepository{db: db, readOnlyDB: readOnlyDB}
}

// GetByPhone gets a client by phone number
func (r *GormClientRepository) GetByPhone(ctx context.Context, phone string) (*models.Client, error) {
	var client models.Client
	err := r.readOnlyDB.WithContext(ctx).Where("phone = ?", phone).First(&client).Error
	if err != nil {
		return nil, translateError(err, "failed to get client by phone")
	}
	return &client, nil
}

// GetByID gets a client by ID
func (r *GormClientRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Client, error) {
	var client models.Client
	err := r.readOnlyDB.WithContext(ctx).First(&client, "id = ?", id).Error
	if err != nil {
		return nil, translateError(err, "failed to get client by ID")
	}
	return &client, nil
}

// GormSupplierRepository reads suppliers from postgres
type GormSupplierRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewSupplierRepository creates a new supplier repository
func NewSupplierRepository(db *gorm.DB, readOnlyDB *gorm.DB) *GormSupplierRepository {
	return &GormSupplierRepository{db: db, readOnlyDB: readOnlyDB}
}

// GetByPhone gets a supplier by phone number
func (r *GormSupplierRepository) GetByPhone(ctx context.Context, phone string) (*models.Supplier, error) {
	var supplier models.Supplier
	err := r.readOnlyDB.WithContext(ctx).Where("phone = ?", phone).First(&supplier).Error
	if err != nil {
		return nil, translateError(err, "failed to get supplier by phone")
	}
	return &supplier, nil
}

// GetByID gets a supplier by ID
func (r *GormSupplierRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Supplier, error) {
	var supplier models.Supplier
	err := r.readOnlyDB.WithContext(ctx).First(&supplier, "id = ?", id).Error
	if err != nil {
		return nil, translateError(err, "failed to get supplier by ID")
	}
	return &supplier, nil
}

// GormProductRepository provides access to products in postgres
type GormProductRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewProductRepository creates a new product repository
func NewProductRepository(db *gorm.DB, readOnlyDB *gorm.DB) *GormProductRepository {
	return &GormProductRepository{db: db, readOnlyDB: readOnlyDB}
}

// Find returns the supplier's products matching the query, ordered by name
func (r *GormProductRepository) Find(ctx context.Context, query ProductQuery) ([]models.Product, error) {
	tx := r.readOnlyDB.WithContext(ctx).Where("supplier_id = ?", query.SupplierID)
	tx = applyMatch(tx, "name", query.Name, query.NameMatch)
	tx = applyMatch(tx, "size", query.Size, query.SizeMatch)
	if query.Limit > 0 {
		tx = tx.Limit(query.Limit)
	}

	var products []models.Product
	if err := tx.Order("name ASC, id ASC").Find(&products).Error; err != nil {
		return nil, translateError(err, "failed to find products")
	}
	return products, nil
}

// ListBySupplier lists a supplier's products ordered by name; a limit of zero means all
func (r *GormProductRepository) ListBySupplier(ctx context.Context, supplierID uuid.UUID, limit int) ([]models.Product, error) {
	tx := r.readOnlyDB.WithContext(ctx).Where("supplier_id = ?", supplierID).Order("name ASC, id ASC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}

	var products []models.Product
	if err := tx.Find(&products).Error; err != nil {
		return nil, translateError(err, "failed to list supplier products")
	}
	return products, nil
}

// GetByID gets a product by ID
func (r *GormProductRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	var product models.Product
	err := r.readOnlyDB.WithContext(ctx).First(&product, "id = ?", id).Error
	if err != nil {
		return nil, translateError(err, "failed to get product by ID")
	}
	return &product, nil
}

// AdjustStock applies a relative stock change in a single guarded update
func (r *GormProductRepository) AdjustStock(ctx context.Context, id uuid.UUID, delta int) error {
	result := r.db.WithContext(ctx).
		Model(&models.Product{}).
		Where("id = ? AND stock_quantity + ? >= 0", id, delta).
		Update("stock_quantity", gorm.Expr("stock_quantity + ?", delta))

	if result.Error != nil {
		return translateError(result.Error, "failed to adjust product stock")
	}

	if result.RowsAffected == 0 {
		// Either the product is gone or the guard rejected the change
		var count int64
		if err := r.db.WithContext(ctx).Model(&models.Product{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return translateError(err, "failed to check product after stock update")
		}
		if count == 0 {
			return errors.Wrap(ErrNotFound, "product not found for stock update")
		}
		return errors.Wrapf(ErrInsufficientStock, "cannot apply %d to product %s", delta, id)
	}

	return nil
}

// GormOrderRepository provides access to orders in postgres
type GormOrderRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewOrderRepository creates a new order repository
func NewOrderRepository(db *gorm.DB, readOnlyDB *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db, readOnlyDB: readOnlyDB}
}

// Create inserts an order header
func (r *GormOrderRepository) Create(ctx context.Context, order *models.Order) error {
	if err := r.db.WithContext(ctx).Create(order).Error; err != nil {
		return translateError(err, "failed to create order")
	}
	return nil
}

// GetByID gets an order by ID from the primary
func (r *GormOrderRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).First(&order, "id = ?", id).Error
	if err != nil {
		return nil, translateError(err, "failed to get order by ID")
	}
	return &order, nil
}

// GetByTrackingCode gets an order by its tracking code
func (r *GormOrderRepository) GetByTrackingCode(ctx context.Context, code string) (*models.Order, error) {
	var order models.Order
	err := r.readOnlyDB.WithContext(ctx).Where("tracking_code = ?", code).First(&order).Error
	if err != nil {
		return nil, translateError(err, "failed to get order by tracking code")
	}
	return &order, nil
}

// TrackingCodeExists checks a candidate code against the primary; replica lag would hide a fresh code
func (r *GormOrderRepository) TrackingCodeExists(ctx context.Context, code string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Order{}).Where("tracking_code = ?", code).Count(&count).Error
	if err != nil {
		return false, translateError(err, "failed to check tracking code")
	}
	return count > 0, nil
}

// MaxSequenceNumber returns the highest sequence number used by a supplier, or zero
func (r *GormOrderRepository) MaxSequenceNumber(ctx context.Context, supplierID uuid.UUID) (int, error) {
	var max int
	err := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("supplier_id = ?", supplierID).
		Select("COALESCE(MAX(sequence_number), 0)").
		Scan(&max).Error
	if err != nil {
		return 0, translateError(err, "failed to read max sequence number")
	}
	return max, nil
}

// ListByClient lists a client's orders, oldest first
func (r *GormOrderRepository) ListByClient(ctx context.Context, clientID uuid.UUID) ([]models.Order, error) {
	var orders []models.Order
	err := r.readOnlyDB.WithContext(ctx).
		Where("client_id = ?", clientID).
		Order("created_at ASC, id ASC").
		Find(&orders).Error
	if err != nil {
		return nil, translateError(err, "failed to list client orders")
	}
	return orders, nil
}

// UpdateStatus sets the status and notes of an order, guarded by its current status
func (r *GormOrderRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.OrderStatus, notes string, from ...models.OrderStatus) (bool, error) {
	tx := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", id)
	if len(from) > 0 {
		tx = tx.Where("status IN ?", from)
	}

	result := tx.Updates(map[string]interface{}{
		"status":     status,
		"notes":      notes,
		"updated_at": time.Now(),
	})
	if result.Error != nil {
		return false, translateError(result.Error, "failed to update order status")
	}

	return result.RowsAffected > 0, nil
}

// CreateLineItems inserts all line items of an order in one statement
func (r *GormOrderRepository) CreateLineItems(ctx context.Context, items []models.OrderLineItem) error {
	if len(items) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Create(&items).Error; err != nil {
		return translateError(err, "failed to create order line items")
	}
	return nil
}

// ListLineItems lists the line items of an order from the primary
func (r *GormOrderRepository) ListLineItems(ctx context.Context, orderID uuid.UUID) ([]models.OrderLineItem, error) {
	var items []models.OrderLineItem
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC, id ASC").
		Find(&items).Error
	if err != nil {
		return nil, translateError(err, "failed to list order line items")
	}
	return items, nil
}

// GormSagaRepository persists confirmation sagas; it only uses the primary
type GormSagaRepository struct {
	db *gorm.DB
}

// NewSagaRepository creates a new saga repository
func NewSagaRepository(db *gorm.DB) *GormSagaRepository {
	return &GormSagaRepository{db: db}
}

// Create inserts a saga marker
func (r *GormSagaRepository) Create(ctx context.Context, saga *models.ConfirmationSaga) error {
	if err := r.db.WithContext(ctx).Create(saga).Error; err != nil {
		return translateError(err, "failed to create confirmation saga")
	}
	return nil
}

// Update saves the step, status, payload and error of a saga
func (r *GormSagaRepository) Update(ctx context.Context, saga *models.ConfirmationSaga) error {
	saga.UpdatedAt = time.Now()
	result := r.db.WithContext(ctx).
		Model(&models.ConfirmationSaga{}).
		Where("id = ?", saga.ID).
		Updates(map[string]interface{}{
			"order_id":        saga.OrderID,
			"tracking_code":   saga.TrackingCode,
			"sequence_number": saga.SequenceNumber,
			"status":          saga.Status,
			"step":            saga.Step,
			"payload":         saga.Payload,
			"last_error":      saga.LastError,
			"updated_at":      saga.UpdatedAt,
		})

	if result.Error != nil {
		return translateError(result.Error, "failed to update confirmation saga")
	}

	if result.RowsAffected == 0 {
		return errors.Wrap(ErrNotFound, "no confirmation saga updated")
	}

	return nil
}

// GetByTempOrder finds the newest saga of a temporary order that was not aborted
func (r *GormSagaRepository) GetByTempOrder(ctx context.Context, tempOrderID uuid.UUID) (*models.ConfirmationSaga, error) {
	var saga models.ConfirmationSaga
	err := r.db.WithContext(ctx).
		Where("temp_order_id = ? AND status <> ?", tempOrderID, models.SagaStatusAborted).
		Order("created_at DESC").
		First(&saga).Error
	if err != nil {
		return nil, translateError(err, "failed to get saga by temporary order")
	}
	return &saga, nil
}

// ListStale lists in-progress sagas not touched since olderThan
func (r *GormSagaRepository) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]models.ConfirmationSaga, error) {
	var sagas []models.ConfirmationSaga
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", models.SagaStatusInProgress, olderThan).
		Order("updated_at ASC").
		Limit(limit).
		Find(&sagas).Error
	if err != nil {
		return nil, translateError(err, "failed to list stale sagas")
	}
	return sagas, nil
}

func applyMatch(tx *gorm.DB, column, value string, mode MatchMode) *gorm.DB {
	if mode == MatchContains {
		return tx.Where(column+" ILIKE ?", "%"+escapeLike(value)+"%")
	}
	return tx.Where(column+" = ?", value)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
