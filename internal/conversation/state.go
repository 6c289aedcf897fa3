package conversation

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Step names the capture a conversation is waiting for
type Step string

// Capture steps
const (
	StepNone                 Step = ""
	StepOrderClientPhone     Step = "order_client_phone"
	StepOrderSupplierPhone   Step = "order_supplier_phone"
	StepOrderText            Step = "order_text"
	StepCorrectClientPhone   Step = "correct_client_phone"
	StepCorrectSupplierPhone Step = "correct_supplier_phone"
	StepCatalogSupplierPhone Step = "catalog_supplier_phone"
	StepStatsClientPhone     Step = "stats_client_phone"
	StepLookupCode           Step = "lookup_code"
	StepStatusCode           Step = "status_code"
	StepCancelCode           Step = "cancel_code"
)

// Party is a resolved client or supplier
type Party struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Phone string    `json:"phone"`
}

// TemporaryOrderLine is a validated, not yet durable order line
type TemporaryOrderLine struct {
	ProductID         uuid.UUID       `json:"product_id"`
	ProductName       string          `json:"product_name"`
	Size              string          `json:"size"`
	Quantity          int             `json:"quantity"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	Subtotal          decimal.Decimal `json:"subtotal"`
	StockAtValidation int             `json:"stock_at_validation"`
}

// TemporaryOrder is the unconfirmed order held in a conversation
type TemporaryOrder struct {
	ID         uuid.UUID            `json:"id"`
	ClientID   uuid.UUID            `json:"client_id"`
	SupplierID uuid.UUID            `json:"supplier_id"`
	Lines      []TemporaryOrderLine `json:"lines"`
	Total      decimal.Decimal      `json:"total"`
	CreatedAt  time.Time            `json:"created_at"`
}

// Empty reports whether the order has no lines
func (o *TemporaryOrder) Empty() bool {
	return o == nil || len(o.Lines) == 0
}

// SumSubtotals adds up the line subtotals
func (o *TemporaryOrder) SumSubtotals() decimal.Decimal {
	total := decimal.Zero
	if o == nil {
		return total
	}
	for _, line := range o.Lines {
		total = total.Add(line.Subtotal)
	}
	return total
}

// State is everything a conversation remembers between turns. It is owned by
// the flow handling the conversation and saved whole after each turn.
type State struct {
	ConversationID  string          `json:"conversation_id"`
	Client          *Party          `json:"client,omitempty"`
	Supplier        *Party          `json:"supplier,omitempty"`
	ConsultClient   *Party          `json:"consult_client,omitempty"`
	ConsultSupplier *Party          `json:"consult_supplier,omitempty"`
	Pending         *TemporaryOrder `json:"pending,omitempty"`
	Awaiting        Step            `json:"awaiting,omitempty"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// New returns the empty state of a conversation
func New(conversationID string) *State {
	return &State{ConversationID: conversationID}
}

// ClearPending drops the temporary order
func (s *State) ClearPending() {
	s.Pending = nil
}

// Reset forgets the order-scoped parties, the temporary order and the awaited step
func (s *State) Reset() {
	s.Client = nil
	s.Supplier = nil
	s.Pending = nil
	s.Awaiting = StepNone
}
