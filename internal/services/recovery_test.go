package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"example.com/backstage/services/orderbot/internal/conversation"
	"example.com/backstage/services/orderbot/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// interruptedSaga stores a saga as if the process died right after step
func interruptedSaga(t *testing.T, f *fixture, state *conversation.State, step string, applied []bool) *models.ConfirmationSaga {
	t.Helper()

	payload := confirmationPayload{
		Order:               *state.Pending,
		Client:              *state.Client,
		Supplier:            *state.Supplier,
		EstimatedDeliveryAt: time.Now().AddDate(0, 0, 7),
		StockApplied:        applied,
	}
	data, err := json.Marshal(payload)
	require.NoError(t, err)

	record := &models.ConfirmationSaga{
		ID:             uuid.New(),
		CreatedAt:      time.Now().Add(-10 * time.Minute),
		UpdatedAt:      time.Now().Add(-10 * time.Minute),
		ConversationID: state.ConversationID,
		TempOrderID:    state.Pending.ID,
		OrderID:        uuid.New(),
		TrackingCode:   "ABCD-261016-001",
		SequenceNumber: 1,
		Status:         models.SagaStatusInProgress,
		Step:           step,
		Payload:        data,
	}
	require.NoError(t, f.store.Sagas.Create(context.Background(), record))
	return record
}

func TestRecoverAfterHeaderInsert(t *testing.T) {
	f := newFixture(t)
	state := f.stateWithOrder(t, "2 camiseta talla M\n1 gorra talla unica")
	record := interruptedSaga(t, f, state, StepInsertHeader, []bool{false, false})

	run := &confirmationRun{c: f.confirmer, saga: record}
	require.NoError(t, json.Unmarshal(record.Payload, &run.payload))
	require.NoError(t, f.store.Orders.Create(context.Background(), run.order()))

	result, err := f.confirmer.RecoverConfirmations(context.Background(), 2*time.Minute, 10)
	require.NoError(t, err)
	assert.Equal(t, RecoveryResult{Resumed: 1, Completed: 1}, result)

	items, err := f.store.Orders.ListLineItems(context.Background(), record.OrderID)
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.Equal(t, 8, f.stock(t, f.shirt))
	assert.Equal(t, 2, f.stock(t, f.hat))

	saved, err := f.states.Load(context.Background(), testConversation)
	require.NoError(t, err)
	assert.Nil(t, saved.Pending)

	marker, err := f.store.Sagas.GetByTempOrder(context.Background(), record.TempOrderID)
	require.NoError(t, err)
	assert.Equal(t, models.SagaStatusCompleted, marker.Status)
}

func TestRecoverSkipsAppliedStock(t *testing.T) {
	f := newFixture(t)
	state := f.stateWithOrder(t, "2 camiseta talla M\n1 gorra talla unica")
	record := interruptedSaga(t, f, state, StepInsertLines, []bool{true, false})

	run := &confirmationRun{c: f.confirmer, saga: record}
	require.NoError(t, json.Unmarshal(record.Payload, &run.payload))
	require.NoError(t, f.store.Orders.Create(context.Background(), run.order()))
	require.NoError(t, run.insertLines(context.Background()))

	_, err := f.confirmer.RecoverConfirmations(context.Background(), 2*time.Minute, 10)
	require.NoError(t, err)

	// The shirt line was already applied before the interruption
	assert.Equal(t, 10, f.stock(t, f.shirt))
	assert.Equal(t, 2, f.stock(t, f.hat))

	items, err := f.store.Orders.ListLineItems(context.Background(), record.OrderID)
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestRecoverKeepsNewerTemporaryOrder(t *testing.T) {
	f := newFixture(t)
	state := f.stateWithOrder(t, "1 camiseta talla M")
	record := interruptedSaga(t, f, state, StepApplyStock, []bool{true})

	run := &confirmationRun{c: f.confirmer, saga: record}
	require.NoError(t, json.Unmarshal(record.Payload, &run.payload))
	require.NoError(t, f.store.Orders.Create(context.Background(), run.order()))

	// The user started another order after the interrupted confirmation
	newer := f.stateWithOrder(t, "1 gorra talla unica")

	_, err := f.confirmer.RecoverConfirmations(context.Background(), 2*time.Minute, 10)
	require.NoError(t, err)

	saved, err := f.states.Load(context.Background(), testConversation)
	require.NoError(t, err)
	require.NotNil(t, saved.Pending)
	assert.Equal(t, newer.Pending.ID, saved.Pending.ID)
}

func TestRecoverIgnoresFreshSagas(t *testing.T) {
	f := newFixture(t)
	state := f.stateWithOrder(t, "1 camiseta talla M")
	record := interruptedSaga(t, f, state, StepReserveCode, []bool{false})
	record.UpdatedAt = time.Now()
	require.NoError(t, f.store.Sagas.Update(context.Background(), record))

	result, err := f.confirmer.RecoverConfirmations(context.Background(), 2*time.Minute, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Resumed)
}

func TestRecoverMarksUnreadablePayloadFailed(t *testing.T) {
	f := newFixture(t)
	record := &models.ConfirmationSaga{
		ID:          uuid.New(),
		UpdatedAt:   time.Now().Add(-time.Hour),
		TempOrderID: uuid.New(),
		OrderID:     uuid.New(),
		Status:      models.SagaStatusInProgress,
		Payload:     []byte("{"),
	}
	require.NoError(t, f.store.Sagas.Create(context.Background(), record))

	result, err := f.confirmer.RecoverConfirmations(context.Background(), 2*time.Minute, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)

	marker, err := f.store.Sagas.GetByTempOrder(context.Background(), record.TempOrderID)
	require.NoError(t, err)
	assert.Equal(t, models.SagaStatusFailed, marker.Status)
}
