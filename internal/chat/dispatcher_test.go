package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"example.com/backstage/services/orderbot/internal/cache"
	"example.com/backstage/services/orderbot/internal/catalog"
	"example.com/backstage/services/orderbot/internal/conversation"
	"example.com/backstage/services/orderbot/internal/messaging"
	"example.com/backstage/services/orderbot/internal/models"
	"example.com/backstage/services/orderbot/internal/repositories"
	"example.com/backstage/services/orderbot/internal/services"
	"example.com/backstage/services/orderbot/internal/tracking"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	sender        = "5215550009"
	clientPhone   = "5551000"
	supplierPhone = "5552000"
)

// MockMessenger is a testify mock of messaging.Messenger
type MockMessenger struct {
	mock.Mock
}

func (m *MockMessenger) SendText(ctx context.Context, to, body string) error {
	args := m.Called(ctx, to, body)
	return args.Error(0)
}

func (m *MockMessenger) SendMedia(ctx context.Context, to, caption, mediaURL string) error {
	args := m.Called(ctx, to, caption, mediaURL)
	return args.Error(0)
}

// replies returns the bodies sent since the last call
func (m *MockMessenger) replies() []string {
	var bodies []string
	for _, call := range m.Calls {
		if call.Method == "SendText" {
			bodies = append(bodies, call.Arguments.String(2))
		}
	}
	m.Calls = nil
	return bodies
}

type failingStates struct {
	conversation.Store
}

func (failingStates) Load(ctx context.Context, conversationID string) (*conversation.State, error) {
	return nil, errors.New("redis: connection refused")
}

// failingSaves loads from the wrapped store and fails every save
type failingSaves struct {
	conversation.Store
}

func (failingSaves) Save(ctx context.Context, state *conversation.State) error {
	return errors.New("redis: connection refused")
}

type testBot struct {
	dispatcher *Dispatcher
	messenger  *MockMessenger
	states     conversation.Store
	store      *repositories.Store
	mem        *repositories.MemoryStore
	blacklist  *Blacklist
	client     models.Client
	supplier   models.Supplier
	shirt      models.Product
}

func newTestBot(t *testing.T) *testBot {
	t.Helper()

	mem := repositories.NewMemoryStore()
	b := &testBot{
		mem:       mem,
		store:     mem.Store(),
		messenger: &MockMessenger{},
		states:    conversation.NewCacheStore(cache.NewMemoryCache(), time.Hour),
		blacklist: NewBlacklist(cache.NewMemoryCache()),
	}

	b.client = mem.AddClient(models.Client{Name: "Ana Pérez", Phone: clientPhone})
	b.supplier = mem.AddSupplier(models.Supplier{Name: "Textiles Luna", Phone: supplierPhone})
	b.shirt = mem.AddProduct(models.Product{
		SupplierID:    b.supplier.ID,
		Name:          "camiseta",
		Category:      "ropa",
		Size:          "M",
		UnitPrice:     decimal.NewFromInt(10),
		StockQuantity: 10,
	})

	b.messenger.On("SendText", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	resolver := catalog.NewResolver(b.store.Products, catalog.DefaultSuggestionLimit)
	notifier := services.NewNotifier(nil, nil)
	b.dispatcher = NewDispatcher(Deps{
		States:    b.states,
		Store:     b.store,
		Resolver:  resolver,
		Assembler: services.NewAssembler(resolver),
		Confirmer: services.NewConfirmer(b.store, b.states, tracking.NewGenerator(b.store.Orders, 5, nil), notifier, nil, nil, 7),
		Orders:    services.NewOrderService(b.store, cache.NewMemoryCache(), notifier, nil, nil, time.Hour),
		Messenger: b.messenger,
		Blacklist: b.blacklist,
	})
	return b
}

func (b *testBot) say(t *testing.T, text string) []string {
	t.Helper()
	err := b.dispatcher.HandleInbound(context.Background(), messaging.InboundMessage{From: sender, Name: "Luisa", Type: "text", Body: text})
	require.NoError(t, err)
	return b.messenger.replies()
}

func (b *testBot) state(t *testing.T) *conversation.State {
	t.Helper()
	state, err := b.states.Load(context.Background(), sender)
	require.NoError(t, err)
	return state
}

func (b *testBot) placeOrder(t *testing.T) models.Order {
	t.Helper()
	b.say(t, "pedido")
	b.say(t, clientPhone)
	b.say(t, supplierPhone)
	b.say(t, "3 camiseta talla M")
	b.say(t, "confirmar")

	orders, err := b.store.Orders.ListByClient(context.Background(), b.client.ID)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	return orders[0]
}

func TestDispatcherOrderFlow(t *testing.T) {
	b := newTestBot(t)

	replies := b.say(t, "Hola")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "¡Hola Luisa!")

	replies = b.say(t, "Nuevo pedido")
	assert.Contains(t, replies[0], "teléfono del cliente")
	assert.Equal(t, conversation.StepOrderClientPhone, b.state(t).Awaiting)

	replies = b.say(t, "+555 1000")
	assert.Equal(t, "Cliente: Ana Pérez", replies[0])
	assert.Equal(t, conversation.StepOrderSupplierPhone, b.state(t).Awaiting)

	replies = b.say(t, supplierPhone)
	require.Len(t, replies, 2)
	assert.Contains(t, replies[0], "Catálogo de Textiles Luna")
	assert.Contains(t, replies[0], "camiseta (ropa) talla M: $10.00, stock 10")
	assert.Equal(t, orderInstructions, replies[1])

	replies = b.say(t, "3 camiseta talla M")
	assert.Contains(t, replies[0], "Total: $30.00")
	state := b.state(t)
	require.NotNil(t, state.Pending)
	assert.Equal(t, conversation.StepOrderText, state.Awaiting)

	replies = b.say(t, "confirmar")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "Pedido registrado")
	assert.Contains(t, replies[0], "Total: $30.00")

	state = b.state(t)
	assert.Nil(t, state.Pending)
	assert.Equal(t, conversation.StepNone, state.Awaiting)

	product, err := b.store.Products.GetByID(context.Background(), b.shirt.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, product.StockQuantity)
}

func TestDispatcherRejectionKeepsStep(t *testing.T) {
	b := newTestBot(t)
	b.say(t, "pedido")

	replies := b.say(t, "12ab")
	assert.Contains(t, replies[0], "no es válido")
	assert.Equal(t, conversation.StepOrderClientPhone, b.state(t).Awaiting)

	replies = b.say(t, "5559999")
	assert.Contains(t, replies[0], "No encontré un cliente")
	assert.Equal(t, conversation.StepOrderClientPhone, b.state(t).Awaiting)
}

func TestDispatcherLineErrors(t *testing.T) {
	b := newTestBot(t)
	b.say(t, "pedido")
	b.say(t, clientPhone)
	b.say(t, supplierPhone)

	replies := b.say(t, "20 camiseta talla M\n1 pantalon talla L")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "No pudimos aceptar el pedido")

	state := b.state(t)
	assert.Nil(t, state.Pending)
	assert.Equal(t, conversation.StepOrderText, state.Awaiting)

	replies = b.say(t, "quiero ropa")
	assert.Contains(t, replies[0], "formato inválido")

	replies = b.say(t, "\n \n")
	assert.Equal(t, nothingUnderstoodMessage, replies[0])
}

func TestDispatcherConfirmWithoutOrder(t *testing.T) {
	b := newTestBot(t)

	replies := b.say(t, "confirmar")
	assert.Contains(t, replies[0], "No tienes un pedido pendiente")
}

func TestDispatcherCorrectSupplierDropsPending(t *testing.T) {
	b := newTestBot(t)
	other := b.mem.AddSupplier(models.Supplier{Name: "Hilos Sol", Phone: "5553000"})

	b.say(t, "pedido")
	b.say(t, clientPhone)
	b.say(t, supplierPhone)
	b.say(t, "1 camiseta talla M")
	require.NotNil(t, b.state(t).Pending)

	b.say(t, "cambiar proveedor")
	replies := b.say(t, other.Phone)
	assert.Equal(t, "Proveedor actualizado: Hilos Sol", replies[0])
	assert.Contains(t, replies[1], "se descartó")

	state := b.state(t)
	assert.Nil(t, state.Pending)
	assert.Equal(t, other.ID, state.Supplier.ID)
	assert.Equal(t, conversation.StepOrderText, state.Awaiting)
}

func TestDispatcherLookupStatusCancel(t *testing.T) {
	b := newTestBot(t)
	order := b.placeOrder(t)

	b.say(t, "buscar pedido")
	replies := b.say(t, " "+order.TrackingCode+" ")
	assert.Contains(t, replies[0], "Pedido *"+order.TrackingCode+"*")
	assert.Contains(t, replies[0], "3 x camiseta talla M")

	b.say(t, "consultar estado")
	replies = b.say(t, order.TrackingCode)
	assert.Contains(t, replies[0], "Pendiente")

	b.say(t, "cancelar pedido")
	replies = b.say(t, order.TrackingCode)
	assert.Contains(t, replies[0], "fue cancelado")

	b.say(t, "cancelar pedido")
	replies = b.say(t, order.TrackingCode)
	assert.Contains(t, replies[0], "ya estaba cancelado")

	product, err := b.store.Products.GetByID(context.Background(), b.shirt.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, product.StockQuantity)
}

func TestDispatcherUnknownCodeKeepsStep(t *testing.T) {
	b := newTestBot(t)
	b.say(t, "consultar estado")

	replies := b.say(t, "zz-9")
	assert.Contains(t, replies[0], "No encontré un pedido con el código ZZ-9")
	assert.Equal(t, conversation.StepStatusCode, b.state(t).Awaiting)
}

func TestDispatcherStats(t *testing.T) {
	b := newTestBot(t)
	b.placeOrder(t)

	b.say(t, "Mis Estadísticas")
	replies := b.say(t, clientPhone)
	assert.Contains(t, replies[0], "Estadísticas de Ana Pérez")
	assert.Contains(t, replies[0], "Pedidos: 1")
	assert.Contains(t, replies[0], "Proveedor frecuente: Textiles Luna")
	assert.Equal(t, b.client.ID, b.state(t).ConsultClient.ID)
}

func TestDispatcherFallback(t *testing.T) {
	b := newTestBot(t)

	replies := b.say(t, "qué tal")
	assert.Equal(t, []string{fallbackMessage}, replies)
}

func TestDispatcherIgnoresBlacklisted(t *testing.T) {
	b := newTestBot(t)
	require.NoError(t, b.blacklist.Add(context.Background(), "+"+sender))

	replies := b.say(t, "hola")
	assert.Empty(t, replies)
	b.messenger.AssertNotCalled(t, "SendText", mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatcherLoadError(t *testing.T) {
	b := newTestBot(t)
	b.dispatcher.States = failingStates{}

	err := b.dispatcher.HandleInbound(context.Background(), messaging.InboundMessage{From: sender, Body: "hola"})
	assert.Error(t, err)
}

func TestDispatcherSaveErrorKeepsConfirmation(t *testing.T) {
	b := newTestBot(t)
	b.say(t, "pedido")
	b.say(t, clientPhone)
	b.say(t, supplierPhone)
	b.say(t, "3 camiseta talla M")

	b.dispatcher.States = failingSaves{b.states}

	replies := b.say(t, "confirmar")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "Pedido registrado")

	orders, err := b.store.Orders.ListByClient(context.Background(), b.client.ID)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Contains(t, replies[0], orders[0].TrackingCode)

	// A rejected turn that cannot be saved falls back to the generic reply
	replies = b.say(t, "confirmar")
	assert.Equal(t, []string{GenericErrorMessage}, replies)
}

func TestDispatcherUnexpectedErrorIsGeneric(t *testing.T) {
	b := newTestBot(t)
	b.dispatcher.Store = &repositories.Store{
		Clients:   failingClients{},
		Suppliers: b.store.Suppliers,
		Products:  b.store.Products,
		Orders:    b.store.Orders,
		Sagas:     b.store.Sagas,
	}

	b.say(t, "pedido")
	replies := b.say(t, clientPhone)
	assert.Equal(t, []string{GenericErrorMessage}, replies)
	assert.Equal(t, conversation.StepOrderClientPhone, b.state(t).Awaiting)
}

type failingClients struct {
	repositories.ClientRepository
}

func (failingClients) GetByPhone(ctx context.Context, phone string) (*models.Client, error) {
	return nil, errors.New("connection reset by peer")
}

func TestTrigger(t *testing.T) {
	b := newTestBot(t)
	ctx := context.Background()

	require.NoError(t, b.dispatcher.Trigger(ctx, FlowRegister, sender, "Marta"))
	replies := b.messenger.replies()
	assert.Contains(t, replies[0], "¡Hola Marta!")

	require.NoError(t, b.dispatcher.Trigger(ctx, FlowSamples, sender, ""))
	assert.Equal(t, conversation.StepCatalogSupplierPhone, b.state(t).Awaiting)
	b.messenger.replies()

	replies = b.say(t, supplierPhone)
	assert.Contains(t, replies[0], "Catálogo de Textiles Luna")
	assert.Equal(t, conversation.StepNone, b.state(t).Awaiting)

	err := b.dispatcher.Trigger(ctx, "UNKNOWN", sender, "")
	assert.True(t, errors.Is(err, ErrUnknownFlow))
}

func TestMatchKeyword(t *testing.T) {
	cmd, ok := MatchKeyword("  Catálogo ")
	assert.True(t, ok)
	assert.Equal(t, "catalog", cmd)

	_, ok = MatchKeyword("quiero un pedido")
	assert.False(t, ok)
}

func TestConversationLocks(t *testing.T) {
	locks := newConversationLocks()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		active  int
		overlap bool
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("a")
			defer unlock()

			mu.Lock()
			active++
			if active > 1 {
				overlap = true
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.False(t, overlap)
	assert.Equal(t, 0, locks.size())
}
