package services

import (
	"context"
	"example.com/backstage/services/orderbot/internal/catalog"
	"example.com/backstage/services/orderbot/internal/conversation"
	"example.com/backstage/services/orderbot/internal/models"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// LineErrorKind classifies why an order line was refused
type LineErrorKind string

// Line error kinds
const (
	LineErrorFormat            LineErrorKind = "format"
	LineErrorNotFound          LineErrorKind = "not_found"
	LineErrorInsufficientStock LineErrorKind = "insufficient_stock"
)

// LineError is a refused order line
type LineError struct {
	LineNumber  int
	Text        string
	Kind        LineErrorKind
	Message     string
	Suggestions []models.Product
	Available   int
}

// AssemblyResult is the outcome of validating an order text. Order is set
// only when every line was accepted.
type AssemblyResult struct {
	Order  *conversation.TemporaryOrder
	Errors []LineError
	// Empty is true when the text held no order line at all
	Empty bool
}

// Accepted reports whether the text produced a temporary order
func (r AssemblyResult) Accepted() bool {
	return r.Order != nil
}

// ProductResolver finds the single product a line refers to
type ProductResolver interface {
	Resolve(ctx context.Context, supplierID uuid.UUID, name, size string) (*models.Product, error)
}

// Assembler turns free order text into a validated temporary order
type Assembler struct {
	resolver ProductResolver
	now      func() time.Time
}

// NewAssembler creates an assembler resolving products through resolver
func NewAssembler(resolver ProductResolver) *Assembler {
	return &Assembler{resolver: resolver, now: time.Now}
}

// Assemble validates every line of rawText against the supplier's catalog.
// Errors are collected for all lines; any error rejects the whole text.
func (a *Assembler) Assemble(ctx context.Context, rawText string, client, supplier conversation.Party) (AssemblyResult, error) {
	lines := SplitLines(rawText)
	if len(lines) == 0 {
		return AssemblyResult{Empty: true}, nil
	}

	order := &conversation.TemporaryOrder{
		ID:         uuid.New(),
		ClientID:   client.ID,
		SupplierID: supplier.ID,
		CreatedAt:  a.now(),
	}
	var lineErrors []LineError
	requested := make(map[uuid.UUID]int)

	for i, text := range lines {
		number := i + 1

		parsed, err := ParseLine(text)
		if err != nil {
			lineErrors = append(lineErrors, LineError{
				LineNumber: number,
				Text:       text,
				Kind:       LineErrorFormat,
				Message:    fmt.Sprintf("Línea %d: formato inválido. Usa <cantidad> <producto> talla <talla>, por ejemplo: 3 camisetas talla M", number),
			})
			continue
		}

		product, err := a.resolver.Resolve(ctx, supplier.ID, parsed.ProductName, parsed.Size)
		if err != nil {
			var notFound *catalog.NotFoundError
			if errors.As(err, &notFound) {
				lineErrors = append(lineErrors, LineError{
					LineNumber:  number,
					Text:        text,
					Kind:        LineErrorNotFound,
					Message:     fmt.Sprintf("Línea %d: no encontramos \"%s\" talla %s con este proveedor", number, parsed.ProductName, parsed.Size),
					Suggestions: notFound.Suggestions,
				})
				continue
			}
			return AssemblyResult{}, errors.Wrapf(err, "failed to resolve line %d", number)
		}

		// Lines naming the same product share its stock
		requested[product.ID] += parsed.Quantity
		if requested[product.ID] > product.StockQuantity {
			lineErrors = append(lineErrors, LineError{
				LineNumber: number,
				Text:       text,
				Kind:       LineErrorInsufficientStock,
				Message: fmt.Sprintf("Línea %d: stock insuficiente de %s talla %s. Disponible: %d, solicitado: %d",
					number, product.Name, product.Size, product.StockQuantity, requested[product.ID]),
				Available: product.StockQuantity,
			})
			continue
		}

		subtotal := product.UnitPrice.Mul(decimal.NewFromInt(int64(parsed.Quantity)))
		order.Lines = append(order.Lines, conversation.TemporaryOrderLine{
			ProductID:         product.ID,
			ProductName:       product.Name,
			Size:              product.Size,
			Quantity:          parsed.Quantity,
			UnitPrice:         product.UnitPrice,
			Subtotal:          subtotal,
			StockAtValidation: product.StockQuantity,
		})
	}

	if len(lineErrors) > 0 {
		log.Debug().
			Str("supplier_id", supplier.ID.String()).
			Int("lines", len(lines)).
			Int("errors", len(lineErrors)).
			Msg("Order text rejected")
		return AssemblyResult{Errors: lineErrors}, nil
	}

	order.Total = order.SumSubtotals()
	return AssemblyResult{Order: order}, nil
}

// Submit assembles rawText for the conversation's selected parties. Once the
// text is validated the previous temporary order is discarded and the new one
// is stored only when accepted. A store error leaves the state untouched. The
// caller saves state once afterwards.
func (a *Assembler) Submit(ctx context.Context, state *conversation.State, rawText string) (AssemblyResult, error) {
	if state.Client == nil || state.Supplier == nil {
		return AssemblyResult{}, Reject("Primero indica el cliente y el proveedor del pedido.")
	}

	result, err := a.Assemble(ctx, rawText, *state.Client, *state.Supplier)
	if err != nil {
		return AssemblyResult{}, err
	}

	state.ClearPending()
	if result.Accepted() {
		state.Pending = result.Order
	}
	return result, nil
}
