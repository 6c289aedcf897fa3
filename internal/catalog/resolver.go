package catalog

import (
	"context"
	"example.com/backstage/services/orderbot/internal/models"
	"example.com/backstage/services/orderbot/internal/repositories"
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// DefaultSuggestionLimit caps the sample products offered on a miss
const DefaultSuggestionLimit = 5

// Matcher is one product lookup strategy
type Matcher interface {
	Name() string
	Match(ctx context.Context, products repositories.ProductRepository, supplierID uuid.UUID, name, size string) ([]models.Product, error)
}

// QueryMatcher matches name and size with the given comparison modes
type QueryMatcher struct {
	Label     string
	NameMatch repositories.MatchMode
	SizeMatch repositories.MatchMode
}

// Name returns the strategy label used in logs
func (m QueryMatcher) Name() string {
	return m.Label
}

// Match runs the query and returns at most one row
func (m QueryMatcher) Match(ctx context.Context, products repositories.ProductRepository, supplierID uuid.UUID, name, size string) ([]models.Product, error) {
	return products.Find(ctx, repositories.ProductQuery{
		SupplierID: supplierID,
		Name:       name,
		NameMatch:  m.NameMatch,
		Size:       size,
		SizeMatch:  m.SizeMatch,
		Limit:      1,
	})
}

// DefaultMatchers tries exact first and widens to substring matches
var DefaultMatchers = []Matcher{
	QueryMatcher{Label: "exact", NameMatch: repositories.MatchExact, SizeMatch: repositories.MatchExact},
	QueryMatcher{Label: "name_contains", NameMatch: repositories.MatchContains, SizeMatch: repositories.MatchExact},
	QueryMatcher{Label: "contains", NameMatch: repositories.MatchContains, SizeMatch: repositories.MatchContains},
}

// NotFoundError is returned when no strategy finds the product
type NotFoundError struct {
	Name        string
	Size        string
	Suggestions []models.Product
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("product %q size %q not found", e.Name, e.Size)
}

// Resolver looks up a supplier's products from user-typed names and sizes
type Resolver struct {
	products        repositories.ProductRepository
	matchers        []Matcher
	suggestionLimit int
}

// NewResolver creates a resolver with the default strategies
func NewResolver(products repositories.ProductRepository, suggestionLimit int) *Resolver {
	if suggestionLimit <= 0 {
		suggestionLimit = DefaultSuggestionLimit
	}
	return &Resolver{
		products:        products,
		matchers:        DefaultMatchers,
		suggestionLimit: suggestionLimit,
	}
}

// Resolve returns the first product found by the first strategy with a result.
// A miss is a *NotFoundError carrying sample products from the same supplier.
func (r *Resolver) Resolve(ctx context.Context, supplierID uuid.UUID, name, size string) (*models.Product, error) {
	for _, matcher := range r.matchers {
		found, err := matcher.Match(ctx, r.products, supplierID, name, size)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to match product with %s strategy", matcher.Name())
		}
		if len(found) > 0 {
			product := found[0]
			return &product, nil
		}
	}

	suggestions, err := r.Suggestions(ctx, supplierID)
	if err != nil {
		return nil, err
	}

	return nil, &NotFoundError{Name: name, Size: size, Suggestions: suggestions}
}

// Suggestions returns up to the configured number of the supplier's products
func (r *Resolver) Suggestions(ctx context.Context, supplierID uuid.UUID) ([]models.Product, error) {
	products, err := r.products.ListBySupplier(ctx, supplierID, r.suggestionLimit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load product suggestions")
	}
	return products, nil
}

// Catalog lists every product of the supplier, ordered by name
func (r *Resolver) Catalog(ctx context.Context, supplierID uuid.UUID) ([]models.Product, error) {
	products, err := r.products.ListBySupplier(ctx, supplierID, 0)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load catalog")
	}
	return products, nil
}
