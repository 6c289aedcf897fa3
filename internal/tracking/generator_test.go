package tracking

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	testSupplier = uuid.MustParse("6f1c2a9e-0000-4000-8000-00000000abcd")
	testNow      = time.Date(2026, 10, 16, 14, 30, 0, 0, time.UTC)
)

func fixedRandom(n int) string {
	return strings.Repeat("Z", n)
}

type MockChecker struct {
	mock.Mock
}

func (m *MockChecker) TrackingCodeExists(ctx context.Context, code string) (bool, error) {
	args := m.Called(ctx, code)
	return args.Bool(0), args.Error(1)
}

type MockSequenceSource struct {
	mock.Mock
}

func (m *MockSequenceSource) MaxSequenceNumber(ctx context.Context, supplierID uuid.UUID) (int, error) {
	args := m.Called(ctx, supplierID)
	return args.Int(0), args.Error(1)
}

func newTestGenerator(checker Checker) *Generator {
	g := NewGenerator(checker, DefaultMaxAttempts, nil)
	g.now = func() time.Time { return testNow }
	g.random = fixedRandom
	return g
}

func TestCandidatePrimaryFormat(t *testing.T) {
	code := Candidate(testSupplier.String(), 7, 1, testNow, fixedRandom)
	assert.Equal(t, "ABCD-261016-007", code)
}

func TestCandidateRetryAddsSuffix(t *testing.T) {
	code := Candidate(testSupplier.String(), 7, 2, testNow, fixedRandom)
	assert.Equal(t, "ABCD-261016-007-ZZZ", code)
	assert.LessOrEqual(t, len(code), MaxLength)
}

func TestCandidateFallsBackToCompact(t *testing.T) {
	code := Candidate(testSupplier.String(), 123456, 2, testNow, fixedRandom)
	assert.Equal(t, Compact(testSupplier.String(), testNow, fixedRandom), code)
	assert.True(t, strings.HasPrefix(code, "BCD-"))
	assert.LessOrEqual(t, len(code), MaxLength)
}

func TestCandidateLengthBound(t *testing.T) {
	for _, seq := range []int{1, 999, 1000, 99999, 1234567890} {
		for attempt := 1; attempt <= DefaultMaxAttempts; attempt++ {
			code := Candidate(testSupplier.String(), seq, attempt, testNow, RandomSuffix)
			assert.LessOrEqual(t, len(code), MaxLength, "seq %d attempt %d", seq, attempt)
		}
	}
	assert.LessOrEqual(t, len(Emergency(testNow, RandomSuffix)), MaxLength)
}

func TestCandidatesForDifferentSequencesDiffer(t *testing.T) {
	seen := make(map[string]bool)
	for seq := 1; seq <= 500; seq++ {
		code := Candidate(testSupplier.String(), seq, 1, testNow, fixedRandom)
		require.False(t, seen[code], "duplicate code %s", code)
		seen[code] = true
	}
}

func TestGenerateFirstCandidateFree(t *testing.T) {
	checker := new(MockChecker)
	checker.On("TrackingCodeExists", mock.Anything, "ABCD-261016-001").Return(false, nil)

	result, err := newTestGenerator(checker).Generate(context.Background(), testSupplier, 1)
	require.NoError(t, err)
	assert.Equal(t, "ABCD-261016-001", result.Code)
	assert.Equal(t, 1, result.Attempts)
	assert.False(t, result.Emergency)
	checker.AssertExpectations(t)
}

func TestGenerateRetriesAfterCollision(t *testing.T) {
	checker := new(MockChecker)
	checker.On("TrackingCodeExists", mock.Anything, "ABCD-261016-001").Return(true, nil).Once()
	checker.On("TrackingCodeExists", mock.Anything, "ABCD-261016-001-ZZZ").Return(false, nil).Once()

	result, err := newTestGenerator(checker).Generate(context.Background(), testSupplier, 1)
	require.NoError(t, err)
	assert.Equal(t, "ABCD-261016-001-ZZZ", result.Code)
	assert.Equal(t, 2, result.Attempts)
	checker.AssertExpectations(t)
}

func TestGenerateEmergencyWhenExhausted(t *testing.T) {
	checker := new(MockChecker)
	checker.On("TrackingCodeExists", mock.Anything, mock.Anything).Return(true, nil)

	result, err := newTestGenerator(checker).Generate(context.Background(), testSupplier, 1)
	require.NoError(t, err)
	assert.True(t, result.Emergency)
	assert.Equal(t, Emergency(testNow, fixedRandom), result.Code)
	assert.LessOrEqual(t, len(result.Code), MaxLength)
	checker.AssertNumberOfCalls(t, "TrackingCodeExists", DefaultMaxAttempts)
}

func TestGenerateLookupError(t *testing.T) {
	checker := new(MockChecker)
	checker.On("TrackingCodeExists", mock.Anything, mock.Anything).Return(false, errors.New("timeout"))

	_, err := newTestGenerator(checker).Generate(context.Background(), testSupplier, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
}

func TestNextSequence(t *testing.T) {
	source := new(MockSequenceSource)
	first := uuid.New()
	source.On("MaxSequenceNumber", mock.Anything, first).Return(0, nil)
	source.On("MaxSequenceNumber", mock.Anything, testSupplier).Return(41, nil)

	seq, err := NextSequence(context.Background(), source, first)
	require.NoError(t, err)
	assert.Equal(t, 1, seq)

	seq, err = NextSequence(context.Background(), source, testSupplier)
	require.NoError(t, err)
	assert.Equal(t, 42, seq)
}
