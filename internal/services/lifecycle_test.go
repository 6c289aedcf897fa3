package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"example.com/backstage/services/orderbot/internal/cache"
	"example.com/backstage/services/orderbot/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func confirmOrder(t *testing.T, f *fixture, text string) *Confirmation {
	t.Helper()
	confirmation, err := f.confirmer.Confirm(context.Background(), f.stateWithOrder(t, text))
	require.NoError(t, err)
	return confirmation
}

func TestLookupReturnsLinesWithNames(t *testing.T) {
	f := newFixture(t)
	confirmation := confirmOrder(t, f, "2 camiseta talla M\n1 gorra talla unica")

	details, err := f.orders.Lookup(context.Background(), strings.ToLower(confirmation.TrackingCode))
	require.NoError(t, err)

	assert.Equal(t, confirmation.TrackingCode, details.Order.TrackingCode)
	require.Len(t, details.Lines, 2)
	names := []string{details.Lines[0].ProductName, details.Lines[1].ProductName}
	assert.ElementsMatch(t, []string{"camiseta", "gorra"}, names)

	var cached string
	require.NoError(t, f.names.Get(context.Background(), cache.GetProductNameKey(f.shirt.ID), &cached))
	assert.Equal(t, "camiseta", cached)
}

func TestLookupUsesCachedProductName(t *testing.T) {
	f := newFixture(t)
	confirmation := confirmOrder(t, f, "1 camiseta talla M")
	require.NoError(t, f.names.Set(context.Background(), cache.GetProductNameKey(f.shirt.ID), "Camiseta básica", time.Hour))

	details, err := f.orders.Lookup(context.Background(), confirmation.TrackingCode)
	require.NoError(t, err)
	assert.Equal(t, "Camiseta básica", details.Lines[0].ProductName)
}

func TestLookupUnknownCode(t *testing.T) {
	f := newFixture(t)

	_, err := f.orders.Lookup(context.Background(), "NOPE-000000-001")
	assert.ErrorIs(t, err, ErrOrderNotFound)

	_, err = f.orders.Status(context.Background(), "NOPE-000000-001")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestCancelRestoresStockOnce(t *testing.T) {
	f := newFixture(t)
	confirmation := confirmOrder(t, f, "2 camiseta talla M\n1 gorra talla unica")
	require.Equal(t, 8, f.stock(t, f.shirt))

	result, err := f.orders.Cancel(context.Background(), confirmation.TrackingCode)
	require.NoError(t, err)

	assert.False(t, result.AlreadyCancelled)
	assert.Empty(t, result.Warnings)
	assert.Equal(t, models.OrderStatusCancelled, result.Order.Status)
	assert.Equal(t, 10, f.stock(t, f.shirt))
	assert.Equal(t, 3, f.stock(t, f.hat))

	order, err := f.orders.Status(context.Background(), confirmation.TrackingCode)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, order.Status)
	assert.Contains(t, order.Notes, "Pedido creado vía chatbot")
	assert.Contains(t, order.Notes, "[CANCELADO vía chatbot ")

	again, err := f.orders.Cancel(context.Background(), confirmation.TrackingCode)
	require.NoError(t, err)
	assert.True(t, again.AlreadyCancelled)
	assert.Equal(t, 10, f.stock(t, f.shirt))

	f.publisher.AssertNumberOfCalls(t, "PublishOrderEvent", 2)
}

func TestCancelCompletedOrderIsRejected(t *testing.T) {
	f := newFixture(t)
	confirmation := confirmOrder(t, f, "1 camiseta talla M")
	_, err := f.store.Orders.UpdateStatus(context.Background(), confirmation.OrderID, models.OrderStatusCompleted, "")
	require.NoError(t, err)

	_, err = f.orders.Cancel(context.Background(), confirmation.TrackingCode)

	_, ok := IsRejection(err)
	assert.True(t, ok)
	assert.Equal(t, 9, f.stock(t, f.shirt))
}

func TestComputeStats(t *testing.T) {
	clientID := uuid.New()
	supplierA := uuid.New()
	supplierB := uuid.New()
	start := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	orders := []models.Order{
		{SupplierID: supplierB, Status: models.OrderStatusCompleted, Total: decimal.NewFromInt(100), CreatedAt: start},
		{SupplierID: supplierA, Status: models.OrderStatusPending, Total: decimal.NewFromInt(50), CreatedAt: start.Add(24 * time.Hour)},
		{SupplierID: supplierA, Status: models.OrderStatusCancelled, Total: decimal.NewFromInt(999), CreatedAt: start.Add(30 * 24 * time.Hour)},
		{SupplierID: supplierB, Status: models.OrderStatusInProcess, Total: decimal.NewFromInt(30), CreatedAt: start.Add(59*24*time.Hour + time.Hour)},
	}

	stats := ComputeStats(clientID, orders)

	assert.Equal(t, 4, stats.TotalOrders)
	assert.Equal(t, 1, stats.ByStatus[models.OrderStatusCompleted])
	assert.Equal(t, 1, stats.ByStatus[models.OrderStatusCancelled])
	assert.True(t, decimal.NewFromInt(180).Equal(stats.TotalSpent))
	assert.True(t, decimal.NewFromInt(60).Equal(stats.AverageSpent))
	// Tie between A and B goes to B, seen first
	assert.Equal(t, supplierB, stats.TopSupplierID)
	assert.Equal(t, 2, stats.TopSupplierOrders)
	assert.Equal(t, 60, stats.ActiveDays)
	assert.Equal(t, 2.0, stats.OrdersPerMonth)
}

func TestComputeStatsSingleOrder(t *testing.T) {
	stats := ComputeStats(uuid.New(), []models.Order{
		{SupplierID: uuid.New(), Status: models.OrderStatusPending, Total: decimal.NewFromInt(10), CreatedAt: time.Now()},
	})

	assert.Equal(t, 1, stats.ActiveDays)
	assert.Equal(t, 1.0, stats.OrdersPerMonth)
}

func TestComputeStatsNoOrders(t *testing.T) {
	stats := ComputeStats(uuid.New(), nil)

	assert.Equal(t, 0, stats.TotalOrders)
	assert.True(t, stats.TotalSpent.IsZero())
	assert.Equal(t, uuid.Nil, stats.TopSupplierID)
	assert.Equal(t, 0, stats.ActiveDays)
}

func TestStatsResolvesTopSupplier(t *testing.T) {
	f := newFixture(t)
	confirmOrder(t, f, "1 camiseta talla M")

	stats, err := f.orders.Stats(context.Background(), f.client.ID)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.TotalOrders)
	assert.Equal(t, "Textiles Luna", stats.TopSupplierName)
	assert.True(t, decimal.NewFromInt(10).Equal(stats.TotalSpent))
}

func TestSearch(t *testing.T) {
	f := newFixture(t)

	_, err := f.orders.Search(context.Background(), "camiseta", 10)
	assert.ErrorIs(t, err, ErrSearchDisabled)

	indexer := &MockOrderIndexer{}
	indexer.On("SearchOrders", mock.Anything, "camiseta", 10).
		Return([]map[string]interface{}{{"tracking_code": "ABCD-261016-001"}}, nil)
	f.orders = NewOrderService(f.store, f.names, NewNotifier(nil, indexer), nil, nil, time.Hour)

	docs, err := f.orders.Search(context.Background(), " camiseta ", 10)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	indexer.AssertExpectations(t)
}
