package repositories

import (
	"context"
	"example.com/backstage/services/orderbot/internal/models"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// MemoryStore keeps every table in process memory. It backs the "memory"
// database driver and the service tests.
type MemoryStore struct {
	mu        sync.RWMutex
	clients   map[uuid.UUID]models.Client
	suppliers map[uuid.UUID]models.Supplier
	products  map[uuid.UUID]models.Product
	orders    []models.Order
	lineItems []models.OrderLineItem
	sagas     map[uuid.UUID]models.ConfirmationSaga
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		clients:   make(map[uuid.UUID]models.Client),
		suppliers: make(map[uuid.UUID]models.Supplier),
		products:  make(map[uuid.UUID]models.Product),
		sagas:     make(map[uuid.UUID]models.ConfirmationSaga),
	}
}

// Store exposes the memory tables through the repository interfaces
func (m *MemoryStore) Store() *Store {
	return &Store{
		Clients:   memoryClients{m},
		Suppliers: memorySuppliers{m},
		Products:  memoryProducts{m},
		Orders:    memoryOrders{m},
		Sagas:     memorySagas{m},
	}
}

// AddClient inserts a client, assigning an ID when missing
func (m *MemoryStore) AddClient(client models.Client) models.Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	if client.ID == uuid.Nil {
		client.ID = uuid.New()
	}
	m.clients[client.ID] = client
	return client
}

// AddSupplier inserts a supplier, assigning an ID when missing
func (m *MemoryStore) AddSupplier(supplier models.Supplier) models.Supplier {
	m.mu.Lock()
	defer m.mu.Unlock()
	if supplier.ID == uuid.Nil {
		supplier.ID = uuid.New()
	}
	m.suppliers[supplier.ID] = supplier
	return supplier
}

// AddProduct inserts a product, assigning an ID when missing
func (m *MemoryStore) AddProduct(product models.Product) models.Product {
	m.mu.Lock()
	defer m.mu.Unlock()
	if product.ID == uuid.Nil {
		product.ID = uuid.New()
	}
	m.products[product.ID] = product
	return product
}

type memoryClients struct{ m *MemoryStore }

func (r memoryClients) GetByPhone(ctx context.Context, phone string) (*models.Client, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	for _, c := range r.m.clients {
		if c.Phone == phone {
			client := c
			return &client, nil
		}
	}
	return nil, errors.Wrap(ErrNotFound, "failed to get client by phone")
}

func (r memoryClients) GetByID(ctx context.Context, id uuid.UUID) (*models.Client, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	c, ok := r.m.clients[id]
	if !ok {
		return nil, errors.Wrap(ErrNotFound, "failed to get client by ID")
	}
	return &c, nil
}

type memorySuppliers struct{ m *MemoryStore }

func (r memorySuppliers) GetByPhone(ctx context.Context, phone string) (*models.Supplier, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	for _, s := range r.m.suppliers {
		if s.Phone == phone {
			supplier := s
			return &supplier, nil
		}
	}
	return nil, errors.Wrap(ErrNotFound, "failed to get supplier by phone")
}

func (r memorySuppliers) GetByID(ctx context.Context, id uuid.UUID) (*models.Supplier, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	s, ok := r.m.suppliers[id]
	if !ok {
		return nil, errors.Wrap(ErrNotFound, "failed to get supplier by ID")
	}
	return &s, nil
}

type memoryProducts struct{ m *MemoryStore }

func (r memoryProducts) Find(ctx context.Context, query ProductQuery) ([]models.Product, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()

	var products []models.Product
	for _, p := range r.m.products {
		if p.SupplierID != query.SupplierID {
			continue
		}
		if !matches(p.Name, query.Name, query.NameMatch) || !matches(p.Size, query.Size, query.SizeMatch) {
			continue
		}
		products = append(products, p)
	}
	sortProducts(products)
	return limitProducts(products, query.Limit), nil
}

func (r memoryProducts) ListBySupplier(ctx context.Context, supplierID uuid.UUID, limit int) ([]models.Product, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()

	var products []models.Product
	for _, p := range r.m.products {
		if p.SupplierID == supplierID {
			products = append(products, p)
		}
	}
	sortProducts(products)
	return limitProducts(products, limit), nil
}

func (r memoryProducts) GetByID(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	p, ok := r.m.products[id]
	if !ok {
		return nil, errors.Wrap(ErrNotFound, "failed to get product by ID")
	}
	return &p, nil
}

func (r memoryProducts) AdjustStock(ctx context.Context, id uuid.UUID, delta int) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	p, ok := r.m.products[id]
	if !ok {
		return errors.Wrap(ErrNotFound, "product not found for stock update")
	}
	if p.StockQuantity+delta < 0 {
		return errors.Wrapf(ErrInsufficientStock, "cannot apply %d to product %s", delta, id)
	}
	p.StockQuantity += delta
	p.UpdatedAt = time.Now()
	r.m.products[id] = p
	return nil
}

type memoryOrders struct{ m *MemoryStore }

func (r memoryOrders) Create(ctx context.Context, order *models.Order) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, o := range r.m.orders {
		if o.TrackingCode == order.TrackingCode {
			return errors.Wrap(ErrDuplicateKey, "failed to create order: tracking_code")
		}
		if o.ID == order.ID {
			return errors.Wrap(ErrDuplicateKey, "failed to create order: id")
		}
	}
	now := time.Now()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = now
	}
	r.m.orders = append(r.m.orders, *order)
	return nil
}

func (r memoryOrders) GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	for _, o := range r.m.orders {
		if o.ID == id {
			order := o
			return &order, nil
		}
	}
	return nil, errors.Wrap(ErrNotFound, "failed to get order by ID")
}

func (r memoryOrders) GetByTrackingCode(ctx context.Context, code string) (*models.Order, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	for _, o := range r.m.orders {
		if o.TrackingCode == code {
			order := o
			return &order, nil
		}
	}
	return nil, errors.Wrap(ErrNotFound, "failed to get order by tracking code")
}

func (r memoryOrders) TrackingCodeExists(ctx context.Context, code string) (bool, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	for _, o := range r.m.orders {
		if o.TrackingCode == code {
			return true, nil
		}
	}
	return false, nil
}

func (r memoryOrders) MaxSequenceNumber(ctx context.Context, supplierID uuid.UUID) (int, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	max := 0
	for _, o := range r.m.orders {
		if o.SupplierID == supplierID && o.SequenceNumber > max {
			max = o.SequenceNumber
		}
	}
	return max, nil
}

func (r memoryOrders) ListByClient(ctx context.Context, clientID uuid.UUID) ([]models.Order, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	var orders []models.Order
	for _, o := range r.m.orders {
		if o.ClientID == clientID {
			orders = append(orders, o)
		}
	}
	sort.SliceStable(orders, func(i, j int) bool {
		return orders[i].CreatedAt.Before(orders[j].CreatedAt)
	})
	return orders, nil
}

func (r memoryOrders) UpdateStatus(ctx context.Context, id uuid.UUID, status models.OrderStatus, notes string, from ...models.OrderStatus) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for i := range r.m.orders {
		if r.m.orders[i].ID != id {
			continue
		}
		if len(from) > 0 && !containsStatus(from, r.m.orders[i].Status) {
			return false, nil
		}
		r.m.orders[i].Status = status
		r.m.orders[i].Notes = notes
		r.m.orders[i].UpdatedAt = time.Now()
		return true, nil
	}
	return false, nil
}

func (r memoryOrders) CreateLineItems(ctx context.Context, items []models.OrderLineItem) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	now := time.Now()
	for _, item := range items {
		if item.ID == uuid.Nil {
			item.ID = uuid.New()
		}
		if item.CreatedAt.IsZero() {
			item.CreatedAt = now
		}
		r.m.lineItems = append(r.m.lineItems, item)
	}
	return nil
}

func (r memoryOrders) ListLineItems(ctx context.Context, orderID uuid.UUID) ([]models.OrderLineItem, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	var items []models.OrderLineItem
	for _, item := range r.m.lineItems {
		if item.OrderID == orderID {
			items = append(items, item)
		}
	}
	return items, nil
}

type memorySagas struct{ m *MemoryStore }

func (r memorySagas) Create(ctx context.Context, saga *models.ConfirmationSaga) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.sagas[saga.ID]; ok {
		return errors.Wrap(ErrDuplicateKey, "failed to create confirmation saga")
	}
	now := time.Now()
	if saga.CreatedAt.IsZero() {
		saga.CreatedAt = now
	}
	if saga.UpdatedAt.IsZero() {
		saga.UpdatedAt = now
	}
	r.m.sagas[saga.ID] = cloneSaga(*saga)
	return nil
}

func (r memorySagas) Update(ctx context.Context, saga *models.ConfirmationSaga) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	existing, ok := r.m.sagas[saga.ID]
	if !ok {
		return errors.Wrap(ErrNotFound, "no confirmation saga updated")
	}
	saga.CreatedAt = existing.CreatedAt
	saga.UpdatedAt = time.Now()
	r.m.sagas[saga.ID] = cloneSaga(*saga)
	return nil
}

func (r memorySagas) GetByTempOrder(ctx context.Context, tempOrderID uuid.UUID) (*models.ConfirmationSaga, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	var newest *models.ConfirmationSaga
	for _, s := range r.m.sagas {
		if s.TempOrderID != tempOrderID || s.Status == models.SagaStatusAborted {
			continue
		}
		if newest == nil || s.CreatedAt.After(newest.CreatedAt) {
			saga := cloneSaga(s)
			newest = &saga
		}
	}
	if newest == nil {
		return nil, errors.Wrap(ErrNotFound, "failed to get saga by temporary order")
	}
	return newest, nil
}

func (r memorySagas) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]models.ConfirmationSaga, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	var sagas []models.ConfirmationSaga
	for _, s := range r.m.sagas {
		if s.Status == models.SagaStatusInProgress && s.UpdatedAt.Before(olderThan) {
			sagas = append(sagas, cloneSaga(s))
		}
	}
	sort.Slice(sagas, func(i, j int) bool {
		return sagas[i].UpdatedAt.Before(sagas[j].UpdatedAt)
	})
	if limit > 0 && len(sagas) > limit {
		sagas = sagas[:limit]
	}
	return sagas, nil
}

func containsStatus(statuses []models.OrderStatus, status models.OrderStatus) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

func matches(value, query string, mode MatchMode) bool {
	if mode == MatchContains {
		return strings.Contains(strings.ToLower(value), strings.ToLower(query))
	}
	return value == query
}

func sortProducts(products []models.Product) {
	sort.Slice(products, func(i, j int) bool {
		if products[i].Name != products[j].Name {
			return products[i].Name < products[j].Name
		}
		return products[i].ID.String() < products[j].ID.String()
	})
}

func limitProducts(products []models.Product, limit int) []models.Product {
	if limit > 0 && len(products) > limit {
		return products[:limit]
	}
	return products
}

func cloneSaga(s models.ConfirmationSaga) models.ConfirmationSaga {
	if s.Payload != nil {
		s.Payload = append([]byte(nil), s.Payload...)
	}
	return s
}
