package services

import (
	"context"
	"encoding/json"
	"example.com/backstage/services/orderbot/internal/conversation"
	"example.com/backstage/services/orderbot/internal/metrics"
	"example.com/backstage/services/orderbot/internal/models"
	"example.com/backstage/services/orderbot/internal/repositories"
	"example.com/backstage/services/orderbot/internal/saga"
	"example.com/backstage/services/orderbot/internal/tracing"
	"example.com/backstage/services/orderbot/internal/tracking"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Confirmation saga steps, in order
const (
	StepReserveCode  = "reserve_code"
	StepInsertHeader = "insert_header"
	StepInsertLines  = "insert_lines"
	StepApplyStock   = "apply_stock"
	StepClearState   = "clear_state"
	StepComplete     = "complete"
)

// DefaultDeliveryDays is the estimated delivery offset of a new order
const DefaultDeliveryDays = 7

// Confirmation summarizes a persisted order
type Confirmation struct {
	OrderID             uuid.UUID
	TrackingCode        string
	SequenceNumber      int
	ClientName          string
	SupplierName        string
	Lines               []conversation.TemporaryOrderLine
	Total               decimal.Decimal
	EstimatedDeliveryAt time.Time
	Warnings            []string
	EmergencyCode       bool
}

// confirmationPayload is everything a resumed saga needs, stored as the saga payload
type confirmationPayload struct {
	Order               conversation.TemporaryOrder `json:"order"`
	Client              conversation.Party          `json:"client"`
	Supplier            conversation.Party          `json:"supplier"`
	EstimatedDeliveryAt time.Time                   `json:"estimated_delivery_at"`
	StockApplied        []bool                      `json:"stock_applied"`
	Warnings            []string                    `json:"warnings,omitempty"`
	EmergencyCode       bool                        `json:"emergency_code,omitempty"`
}

// Confirmer turns a conversation's temporary order into a persisted order
type Confirmer struct {
	store        *repositories.Store
	states       conversation.Store
	generator    *tracking.Generator
	notifier     *Notifier
	tracer       tracing.Tracer
	metrics      *metrics.Metrics
	deliveryDays int
	now          func() time.Time
}

// NewConfirmer creates a new order confirmer
func NewConfirmer(
	store *repositories.Store,
	states conversation.Store,
	generator *tracking.Generator,
	notifier *Notifier,
	tracer tracing.Tracer,
	collector *metrics.Metrics,
	deliveryDays int,
) *Confirmer {
	if deliveryDays <= 0 {
		deliveryDays = DefaultDeliveryDays
	}
	if tracer == nil {
		tracer = tracing.Noop()
	}
	return &Confirmer{
		store:        store,
		states:       states,
		generator:    generator,
		notifier:     notifier,
		tracer:       tracer,
		metrics:      collector,
		deliveryDays: deliveryDays,
		now:          time.Now,
	}
}

// Confirm persists the conversation's temporary order. The returned error is a
// *RejectionError when a precondition fails and a *ConfirmationError when a
// dependent write fails.
func (c *Confirmer) Confirm(ctx context.Context, state *conversation.State) (*Confirmation, error) {
	txn := c.tracer.StartTransaction("confirm-order")
	defer c.tracer.EndTransaction(txn)

	if state.Pending.Empty() {
		return nil, Reject("No tienes un pedido pendiente de confirmar. Escribe \"pedido\" para iniciar uno.")
	}
	if state.Client == nil {
		return nil, Reject("Falta el cliente del pedido. Escribe \"corregir cliente\" para indicarlo.")
	}
	if state.Supplier == nil {
		return nil, Reject("Falta el proveedor del pedido. Escribe \"corregir proveedor\" para indicarlo.")
	}
	if state.Pending.SupplierID != state.Supplier.ID {
		return nil, Reject("El pedido pendiente es de otro proveedor. Vuelve a escribir los productos.")
	}

	previous, err := c.store.Sagas.GetByTempOrder(ctx, state.Pending.ID)
	switch {
	case err == nil && previous.Status == models.SagaStatusInProgress:
		return nil, Reject("Tu pedido ya se está confirmando, espera un momento.")
	case err == nil && previous.Status == models.SagaStatusFailed:
		return c.resume(ctx, txn, state, previous)
	case err == nil:
		// Already persisted; the earlier turn could not clear the state
		state.ClearPending()
		return nil, Reject("Este pedido ya fue confirmado con el código %s.", previous.TrackingCode)
	case !repositories.IsNotFound(err):
		c.tracer.RecordError(txn, err)
		return nil, errors.Wrap(err, "failed to check previous confirmations")
	}

	pending := *state.Pending
	pending.ClientID = state.Client.ID
	payload := confirmationPayload{
		Order:               pending,
		Client:              *state.Client,
		Supplier:            *state.Supplier,
		EstimatedDeliveryAt: c.now().AddDate(0, 0, c.deliveryDays),
		StockApplied:        make([]bool, len(pending.Lines)),
	}

	run := &confirmationRun{
		c:     c,
		state: state,
		txn:   txn,
		saga: &models.ConfirmationSaga{
			ID:             uuid.New(),
			ConversationID: state.ConversationID,
			TempOrderID:    pending.ID,
			OrderID:        uuid.New(),
			Status:         models.SagaStatusInProgress,
		},
		payload: payload,
	}

	if err := run.begin(ctx); err != nil {
		c.tracer.RecordError(txn, err)
		return nil, err
	}

	if err := saga.Run(ctx, run, run.steps(), ""); err != nil {
		c.tracer.RecordError(txn, err)
		return nil, run.failure(err)
	}

	c.tracer.AddAttribute(txn, "tracking_code", run.saga.TrackingCode)
	return run.confirmation(), nil
}

// resume continues a failed confirmation of the same temporary order after its
// last completed step
func (c *Confirmer) resume(ctx context.Context, txn *newrelic.Transaction, state *conversation.State, previous *models.ConfirmationSaga) (*Confirmation, error) {
	run := &confirmationRun{c: c, saga: previous, state: state, txn: txn}
	if err := json.Unmarshal(previous.Payload, &run.payload); err != nil {
		c.tracer.RecordError(txn, err)
		return nil, errors.Wrap(err, "failed to decode confirmation payload")
	}

	log.Info().
		Str("saga_id", previous.ID.String()).
		Str("conversation_id", previous.ConversationID).
		Str("resume_after", previous.Step).
		Msg("Retrying failed confirmation")

	previous.Status = models.SagaStatusInProgress
	previous.LastError = ""
	if err := run.persist(ctx); err != nil {
		c.tracer.RecordError(txn, err)
		return nil, errors.Wrap(err, "failed to restart confirmation")
	}

	if err := saga.Run(ctx, run, run.steps(), previous.Step); err != nil {
		c.tracer.RecordError(txn, err)
		return nil, run.failure(err)
	}

	c.tracer.AddAttribute(txn, "tracking_code", run.saga.TrackingCode)
	return run.confirmation(), nil
}

// confirmationRun executes one confirmation saga. state is nil when the saga
// is resumed outside the conversation.
type confirmationRun struct {
	c       *Confirmer
	saga    *models.ConfirmationSaga
	payload confirmationPayload
	state   *conversation.State
	txn     *newrelic.Transaction
}

func (r *confirmationRun) steps() []saga.Step {
	return []saga.Step{
		{Name: StepReserveCode, Do: r.traced(StepReserveCode, r.reserveCode), OnError: saga.Abort},
		{Name: StepInsertHeader, Do: r.traced(StepInsertHeader, r.insertHeader), OnError: saga.Abort},
		{Name: StepInsertLines, Do: r.traced(StepInsertLines, r.insertLines), OnError: saga.Fail},
		{Name: StepApplyStock, Do: r.traced(StepApplyStock, r.applyStock), OnError: saga.Fail},
		{Name: StepClearState, Do: r.traced(StepClearState, r.clearState), OnError: saga.Fail},
		{Name: StepComplete, Do: r.traced(StepComplete, r.complete), OnError: saga.Fail},
	}
}

func (r *confirmationRun) traced(name string, fn func(ctx context.Context) error) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		span := r.c.tracer.StartSpan(name, r.txn)
		defer span.End()
		return fn(ctx)
	}
}

// begin writes the marker before any order data
func (r *confirmationRun) begin(ctx context.Context) error {
	data, err := json.Marshal(r.payload)
	if err != nil {
		return errors.Wrap(err, "failed to encode confirmation payload")
	}
	r.saga.Payload = data
	if err := r.c.store.Sagas.Create(ctx, r.saga); err != nil {
		return errors.Wrap(err, "failed to start confirmation")
	}
	return nil
}

// Record persists the saga marker after a step
func (r *confirmationRun) Record(ctx context.Context, step string, status saga.Status, stepErr error) error {
	if status == saga.StatusInProgress || status == saga.StatusCompleted {
		r.saga.Step = step
	}
	r.saga.Status = models.SagaStatus(status)
	if stepErr != nil {
		r.saga.LastError = stepErr.Error()
	}
	return r.persist(ctx)
}

func (r *confirmationRun) persist(ctx context.Context) error {
	data, err := json.Marshal(r.payload)
	if err != nil {
		return errors.Wrap(err, "failed to encode confirmation payload")
	}
	r.saga.Payload = data
	return r.c.store.Sagas.Update(ctx, r.saga)
}

func (r *confirmationRun) reserveCode(ctx context.Context) error {
	if r.saga.TrackingCode != "" {
		return nil
	}

	seq, err := tracking.NextSequence(ctx, r.c.store.Orders, r.payload.Supplier.ID)
	if err != nil {
		return err
	}

	result, err := r.c.generator.Generate(ctx, r.payload.Supplier.ID, seq)
	if err != nil {
		return err
	}

	r.saga.SequenceNumber = seq
	r.saga.TrackingCode = result.Code
	r.payload.EmergencyCode = result.Emergency
	return nil
}

func (r *confirmationRun) order() *models.Order {
	return &models.Order{
		ID:                  r.saga.OrderID,
		ClientID:            r.payload.Client.ID,
		SupplierID:          r.payload.Supplier.ID,
		SequenceNumber:      r.saga.SequenceNumber,
		TrackingCode:        r.saga.TrackingCode,
		Status:              models.OrderStatusPending,
		Total:               r.payload.Order.SumSubtotals(),
		Notes:               fmt.Sprintf("Pedido creado vía chatbot para cliente %s", r.payload.Client.Name),
		EstimatedDeliveryAt: r.payload.EstimatedDeliveryAt,
	}
}

func (r *confirmationRun) insertHeader(ctx context.Context) error {
	_, err := r.c.store.Orders.GetByID(ctx, r.saga.OrderID)
	if err == nil {
		return nil
	}
	if !repositories.IsNotFound(err) {
		return errors.Wrap(err, "failed to check order header")
	}

	order := r.order()
	err = r.c.store.Orders.Create(ctx, order)
	if repositories.IsDuplicateKey(err) {
		// The code was taken between the uniqueness check and the insert
		r.c.metrics.RecordCodeCollision()
		log.Warn().
			Str("tracking_code", order.TrackingCode).
			Msg("Tracking code taken at insert, regenerating")

		result, genErr := r.c.generator.Generate(ctx, order.SupplierID, order.SequenceNumber)
		if genErr != nil {
			return genErr
		}
		r.saga.TrackingCode = result.Code
		r.payload.EmergencyCode = result.Emergency
		order.TrackingCode = result.Code
		err = r.c.store.Orders.Create(ctx, order)
	}
	if err != nil {
		return errors.Wrap(err, "failed to insert order header")
	}
	return nil
}

func (r *confirmationRun) insertLines(ctx context.Context) error {
	existing, err := r.c.store.Orders.ListLineItems(ctx, r.saga.OrderID)
	if err != nil {
		return errors.Wrap(err, "failed to check order lines")
	}
	if len(existing) > 0 {
		return nil
	}

	items := make([]models.OrderLineItem, 0, len(r.payload.Order.Lines))
	for _, line := range r.payload.Order.Lines {
		items = append(items, models.OrderLineItem{
			ID:        uuid.New(),
			OrderID:   r.saga.OrderID,
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			Size:      line.Size,
		})
	}

	if err := r.c.store.Orders.CreateLineItems(ctx, items); err != nil {
		return errors.Wrap(err, "failed to insert order lines")
	}
	return nil
}

// applyStock decrements each line independently; failures become warnings
func (r *confirmationRun) applyStock(ctx context.Context) error {
	if len(r.payload.StockApplied) != len(r.payload.Order.Lines) {
		r.payload.StockApplied = make([]bool, len(r.payload.Order.Lines))
	}

	for i, line := range r.payload.Order.Lines {
		if r.payload.StockApplied[i] {
			continue
		}

		if err := r.c.store.Products.AdjustStock(ctx, line.ProductID, -line.Quantity); err != nil {
			r.c.metrics.RecordStockFailure("decrement")
			log.Error().
				Err(err).
				Str("order_id", r.saga.OrderID.String()).
				Str("product_id", line.ProductID.String()).
				Int("quantity", line.Quantity).
				Msg("Failed to decrement stock")
			r.payload.Warnings = append(r.payload.Warnings,
				fmt.Sprintf("No se pudo descontar el stock de %s talla %s", line.ProductName, line.Size))
			continue
		}

		r.payload.StockApplied[i] = true
		if err := r.persist(ctx); err != nil {
			log.Warn().Err(err).Str("order_id", r.saga.OrderID.String()).Msg("Failed to persist stock progress")
		}
	}
	return nil
}

func (r *confirmationRun) clearState(ctx context.Context) error {
	if r.state != nil {
		r.state.ClearPending()
		if err := r.c.states.Save(ctx, r.state); err != nil {
			log.Warn().
				Err(err).
				Str("conversation_id", r.saga.ConversationID).
				Msg("Failed to save cleared conversation state")
		}
		return nil
	}

	if _, err := conversation.ClearPendingOrder(ctx, r.c.states, r.saga.ConversationID, r.saga.TempOrderID); err != nil {
		log.Warn().
			Err(err).
			Str("conversation_id", r.saga.ConversationID).
			Msg("Failed to clear temporary order")
	}
	return nil
}

func (r *confirmationRun) complete(ctx context.Context) error {
	order := r.order()
	order.CreatedAt = r.saga.CreatedAt

	products := make([]string, 0, len(r.payload.Order.Lines))
	for _, line := range r.payload.Order.Lines {
		products = append(products, line.ProductName)
	}

	r.c.notifier.OrderChanged(ctx, models.EventOrderConfirmed, order,
		orderDocument(order, r.payload.Client.Name, r.payload.Supplier.Name, products))
	r.c.metrics.RecordOrderConfirmed()

	log.Info().
		Str("order_id", order.ID.String()).
		Str("tracking_code", order.TrackingCode).
		Str("conversation_id", r.saga.ConversationID).
		Int("lines", len(r.payload.Order.Lines)).
		Int("warnings", len(r.payload.Warnings)).
		Msg("Order confirmed")
	return nil
}

func (r *confirmationRun) confirmation() *Confirmation {
	return &Confirmation{
		OrderID:             r.saga.OrderID,
		TrackingCode:        r.saga.TrackingCode,
		SequenceNumber:      r.saga.SequenceNumber,
		ClientName:          r.payload.Client.Name,
		SupplierName:        r.payload.Supplier.Name,
		Lines:               r.payload.Order.Lines,
		Total:               r.payload.Order.SumSubtotals(),
		EstimatedDeliveryAt: r.payload.EstimatedDeliveryAt,
		Warnings:            r.payload.Warnings,
		EmergencyCode:       r.payload.EmergencyCode,
	}
}

// failure converts a saga error into the error reported to the user
func (r *confirmationRun) failure(err error) error {
	var stepErr *saga.StepError
	if !errors.As(err, &stepErr) {
		return err
	}

	r.c.metrics.RecordConfirmationFailure(stepErr.Step)
	log.Error().
		Err(stepErr.Err).
		Str("step", stepErr.Step).
		Str("status", string(stepErr.Status)).
		Str("conversation_id", r.saga.ConversationID).
		Str("order_id", r.saga.OrderID.String()).
		Msg("Order confirmation failed")

	return &ConfirmationError{
		Step:         stepErr.Step,
		OrderID:      r.saga.OrderID.String(),
		TrackingCode: r.saga.TrackingCode,
		HeaderSaved:  stepErr.Status == saga.StatusFailed,
		Err:          stepErr.Err,
	}
}
