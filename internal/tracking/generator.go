package tracking

import (
	"context"
	"example.com/backstage/services/orderbot/internal/metrics"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	// MaxLength is the longest tracking code ever issued
	MaxLength = 20
	// DefaultMaxAttempts bounds the candidates checked before the emergency code
	DefaultMaxAttempts = 5

	// No 0/O or 1/I so codes survive being read aloud
	suffixAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// RandomFunc returns n random characters
type RandomFunc func(n int) string

// Checker reports whether a code is already used by a persisted order
type Checker interface {
	TrackingCodeExists(ctx context.Context, code string) (bool, error)
}

// SequenceSource reads the highest sequence number a supplier has used
type SequenceSource interface {
	MaxSequenceNumber(ctx context.Context, supplierID uuid.UUID) (int, error)
}

// RandomSuffix draws n characters from the code alphabet
func RandomSuffix(n int) string {
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		b.WriteByte(suffixAlphabet[rand.IntN(len(suffixAlphabet))])
	}
	return b.String()
}

// Candidate builds the code for a 1-based attempt. The first attempt is
// <last4 supplier>-<YYMMDD>-<seq>; later attempts add a random suffix; anything
// longer than MaxLength falls back to the compact form.
func Candidate(supplierID string, seq int, attempt int, now time.Time, random RandomFunc) string {
	code := fmt.Sprintf("%s-%s-%03d", tail(supplierID, 4), now.Format("060102"), seq)
	if attempt > 1 {
		code += "-" + random(3)
	}
	if len(code) > MaxLength {
		return Compact(supplierID, now, random)
	}
	return code
}

// Compact builds <last3 supplier>-<low 6 digits of unix ms>-<random>
func Compact(supplierID string, now time.Time, random RandomFunc) string {
	return fmt.Sprintf("%s-%06d-%s", tail(supplierID, 3), now.UnixMilli()%1000000, random(3))
}

// Emergency builds a code from the timestamp and randomness only
func Emergency(now time.Time, random RandomFunc) string {
	return "X" + strings.ToUpper(strconv.FormatInt(now.UnixMilli(), 36)) + random(4)
}

// Result is a generated code and how it was obtained
type Result struct {
	Code      string
	Attempts  int
	Emergency bool
}

// Generator issues tracking codes that are not yet used by any persisted order
type Generator struct {
	checker     Checker
	maxAttempts int
	now         func() time.Time
	random      RandomFunc
	metrics     *metrics.Metrics
}

// NewGenerator creates a generator checking candidates against checker
func NewGenerator(checker Checker, maxAttempts int, collector *metrics.Metrics) *Generator {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Generator{
		checker:     checker,
		maxAttempts: maxAttempts,
		now:         time.Now,
		random:      RandomSuffix,
		metrics:     collector,
	}
}

// Generate returns the first unused candidate. When every attempt collides it
// returns the emergency code without checking it.
func (g *Generator) Generate(ctx context.Context, supplierID uuid.UUID, seq int) (Result, error) {
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		code := Candidate(supplierID.String(), seq, attempt, g.now(), g.random)

		exists, err := g.checker.TrackingCodeExists(ctx, code)
		if err != nil {
			return Result{}, errors.Wrap(err, "failed to check tracking code uniqueness")
		}
		if !exists {
			return Result{Code: code, Attempts: attempt}, nil
		}

		g.metrics.RecordCodeCollision()
		log.Warn().
			Str("code", code).
			Int("attempt", attempt).
			Str("supplier_id", supplierID.String()).
			Msg("Tracking code collision, retrying")
	}

	code := Emergency(g.now(), g.random)
	g.metrics.RecordEmergencyCode()
	log.Warn().
		Str("code", code).
		Str("supplier_id", supplierID.String()).
		Msg("Tracking code attempts exhausted, issuing emergency code")

	return Result{Code: code, Attempts: g.maxAttempts, Emergency: true}, nil
}

// NextSequence returns the supplier's next sequence number; the first order gets 1
func NextSequence(ctx context.Context, source SequenceSource, supplierID uuid.UUID) (int, error) {
	max, err := source.MaxSequenceNumber(ctx, supplierID)
	if err != nil {
		return 0, errors.Wrap(err, "failed to read supplier sequence")
	}
	return max + 1, nil
}

func tail(s string, n int) string {
	s = strings.ToUpper(strings.ReplaceAll(s, "-", ""))
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
