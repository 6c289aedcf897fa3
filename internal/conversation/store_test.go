package conversation

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"example.com/backstage/services/orderbot/internal/cache"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleState(id string) *State {
	state := New(id)
	state.Client = &Party{ID: uuid.New(), Name: "Ana", Phone: "5551000"}
	state.Supplier = &Party{ID: uuid.New(), Name: "Textiles Luna", Phone: "5552000"}
	state.Pending = &TemporaryOrder{
		ID: uuid.New(),
		Lines: []TemporaryOrderLine{
			{ProductID: uuid.New(), ProductName: "Camiseta", Size: "M", Quantity: 2, UnitPrice: decimal.NewFromInt(10), Subtotal: decimal.NewFromInt(20)},
		},
		Total: decimal.NewFromInt(20),
	}
	state.Awaiting = StepOrderText
	return state
}

func testStoreRoundTrip(t *testing.T, store Store) {
	ctx := context.Background()

	fresh, err := store.Load(ctx, "5215550001")
	require.NoError(t, err)
	assert.Equal(t, "5215550001", fresh.ConversationID)
	assert.Nil(t, fresh.Pending)

	state := sampleState("5215550001")
	require.NoError(t, store.Save(ctx, state))

	loaded, err := store.Load(ctx, "5215550001")
	require.NoError(t, err)
	require.NotNil(t, loaded.Pending)
	assert.Equal(t, state.Pending.ID, loaded.Pending.ID)
	assert.True(t, decimal.NewFromInt(20).Equal(loaded.Pending.Total))
	assert.Equal(t, StepOrderText, loaded.Awaiting)
	assert.Equal(t, "Ana", loaded.Client.Name)

	require.NoError(t, store.Clear(ctx, "5215550001"))
	cleared, err := store.Load(ctx, "5215550001")
	require.NoError(t, err)
	assert.Nil(t, cleared.Client)
}

func TestCacheStoreRoundTrip(t *testing.T) {
	testStoreRoundTrip(t, NewCacheStore(cache.NewMemoryCache(), time.Hour))
}

func TestBoltStoreRoundTrip(t *testing.T) {
	store, err := NewBoltStore(filepath.Join(t.TempDir(), "state.db"), time.Hour)
	require.NoError(t, err)
	defer store.Close()

	testStoreRoundTrip(t, store)
}

func TestBoltStoreExpiresIdleState(t *testing.T) {
	store, err := NewBoltStore(filepath.Join(t.TempDir(), "state.db"), time.Hour)
	require.NoError(t, err)
	defer store.Close()

	now := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	require.NoError(t, store.Save(context.Background(), sampleState("5215550002")))

	now = now.Add(2 * time.Hour)
	loaded, err := store.Load(context.Background(), "5215550002")
	require.NoError(t, err)
	assert.Nil(t, loaded.Pending)
}

func TestClearPendingOrder(t *testing.T) {
	store := NewCacheStore(cache.NewMemoryCache(), 0)
	ctx := context.Background()
	state := sampleState("5215550003")
	require.NoError(t, store.Save(ctx, state))

	cleared, err := ClearPendingOrder(ctx, store, "5215550003", uuid.New())
	require.NoError(t, err)
	assert.False(t, cleared)

	cleared, err = ClearPendingOrder(ctx, store, "5215550003", state.Pending.ID)
	require.NoError(t, err)
	assert.True(t, cleared)

	loaded, err := store.Load(ctx, "5215550003")
	require.NoError(t, err)
	assert.Nil(t, loaded.Pending)
	assert.NotNil(t, loaded.Client)
}

func TestTemporaryOrderSumSubtotals(t *testing.T) {
	var nilOrder *TemporaryOrder
	assert.True(t, nilOrder.Empty())
	assert.True(t, decimal.Zero.Equal(nilOrder.SumSubtotals()))

	order := sampleState("x").Pending
	assert.False(t, order.Empty())
	assert.True(t, order.Total.Equal(order.SumSubtotals()))
}
