package services

import (
	"context"
	"testing"
	"time"

	"example.com/backstage/services/orderbot/internal/cache"
	"example.com/backstage/services/orderbot/internal/catalog"
	"example.com/backstage/services/orderbot/internal/conversation"
	"example.com/backstage/services/orderbot/internal/models"
	"example.com/backstage/services/orderbot/internal/repositories"
	"example.com/backstage/services/orderbot/internal/tracking"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testConversation = "5215550001"

type fixture struct {
	mem       *repositories.MemoryStore
	store     *repositories.Store
	states    conversation.Store
	names     *cache.MemoryCache
	client    models.Client
	supplier  models.Supplier
	shirt     models.Product
	hat       models.Product
	assembler *Assembler
	confirmer *Confirmer
	orders    *OrderService
	publisher *MockEventPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mem := repositories.NewMemoryStore()
	f := &fixture{
		mem:       mem,
		store:     mem.Store(),
		names:     cache.NewMemoryCache(),
		publisher: &MockEventPublisher{},
	}
	f.states = conversation.NewCacheStore(cache.NewMemoryCache(), time.Hour)

	f.client = mem.AddClient(models.Client{Name: "Ana Pérez", Phone: "5551000"})
	f.supplier = mem.AddSupplier(models.Supplier{
		ID:    uuid.MustParse("6f1c2a9e-0000-4000-8000-00000000abcd"),
		Name:  "Textiles Luna",
		Phone: "5552000",
	})
	f.shirt = mem.AddProduct(models.Product{
		SupplierID:    f.supplier.ID,
		Name:          "camiseta",
		Category:      "ropa",
		Size:          "M",
		UnitPrice:     decimal.NewFromInt(10),
		StockQuantity: 10,
	})
	f.hat = mem.AddProduct(models.Product{
		SupplierID:    f.supplier.ID,
		Name:          "gorra",
		Category:      "accesorios",
		Size:          "unica",
		UnitPrice:     decimal.NewFromInt(5),
		StockQuantity: 3,
	})

	f.publisher.On("PublishOrderEvent", mock.Anything, mock.Anything).Return(nil).Maybe()
	notifier := NewNotifier(f.publisher, nil)

	f.assembler = NewAssembler(catalog.NewResolver(f.store.Products, 5))
	f.confirmer = NewConfirmer(f.store, f.states, tracking.NewGenerator(f.store.Orders, 5, nil), notifier, nil, nil, 7)
	f.orders = NewOrderService(f.store, f.names, notifier, nil, nil, time.Hour)
	return f
}

// stateWithOrder returns a conversation holding a validated order for text
func (f *fixture) stateWithOrder(t *testing.T, text string) *conversation.State {
	t.Helper()
	state := conversation.New(testConversation)
	state.Client = &conversation.Party{ID: f.client.ID, Name: f.client.Name, Phone: f.client.Phone}
	state.Supplier = &conversation.Party{ID: f.supplier.ID, Name: f.supplier.Name, Phone: f.supplier.Phone}

	result, err := f.assembler.Submit(context.Background(), state, text)
	require.NoError(t, err)
	require.True(t, result.Accepted(), "order text should be accepted: %+v", result.Errors)
	require.NoError(t, f.states.Save(context.Background(), state))
	return state
}

func (f *fixture) stock(t *testing.T, product models.Product) int {
	t.Helper()
	p, err := f.store.Products.GetByID(context.Background(), product.ID)
	require.NoError(t, err)
	return p.StockQuantity
}

// MockEventPublisher is a testify mock of EventPublisher
type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) PublishOrderEvent(ctx context.Context, event models.OrderEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

// MockOrderIndexer is a testify mock of OrderIndexer
type MockOrderIndexer struct {
	mock.Mock
}

func (m *MockOrderIndexer) IndexOrder(ctx context.Context, doc models.OrderDocument) error {
	args := m.Called(ctx, doc)
	return args.Error(0)
}

func (m *MockOrderIndexer) SearchOrders(ctx context.Context, text string, limit int) ([]map[string]interface{}, error) {
	args := m.Called(ctx, text, limit)
	docs, _ := args.Get(0).([]map[string]interface{})
	return docs, args.Error(1)
}

// failingOrders wraps an order repository and fails selected writes
type failingOrders struct {
	repositories.OrderRepository
	createErr      error
	lineItemsErr   error
	hideCodesOnce  bool
	hiddenCodeSeen bool
}

func (r *failingOrders) Create(ctx context.Context, order *models.Order) error {
	if r.createErr != nil {
		return r.createErr
	}
	return r.OrderRepository.Create(ctx, order)
}

func (r *failingOrders) CreateLineItems(ctx context.Context, items []models.OrderLineItem) error {
	if r.lineItemsErr != nil {
		return r.lineItemsErr
	}
	return r.OrderRepository.CreateLineItems(ctx, items)
}

// TrackingCodeExists reports the first taken code as free once
func (r *failingOrders) TrackingCodeExists(ctx context.Context, code string) (bool, error) {
	exists, err := r.OrderRepository.TrackingCodeExists(ctx, code)
	if exists && r.hideCodesOnce && !r.hiddenCodeSeen {
		r.hiddenCodeSeen = true
		return false, err
	}
	return exists, err
}

// withOrders rebuilds the confirmer over a wrapped order repository
func (f *fixture) withOrders(orders *failingOrders) {
	orders.OrderRepository = f.mem.Store().Orders
	store := *f.store
	store.Orders = orders
	f.confirmer = NewConfirmer(&store, f.states, tracking.NewGenerator(orders, 5, nil), f.confirmer.notifier, nil, nil, 7)
}

var errWriteFailed = errors.New("connection reset by peer")
