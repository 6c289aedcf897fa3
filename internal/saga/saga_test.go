package saga

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	step   string
	status Status
}

type fakeRecorder struct {
	calls []recorded
	err   error
}

func (r *fakeRecorder) Record(ctx context.Context, step string, status Status, stepErr error) error {
	r.calls = append(r.calls, recorded{step: step, status: status})
	return r.err
}

func steps(ran *[]string, failAt string, onError OnError) []Step {
	names := []string{"one", "two", "three"}
	var out []Step
	for _, name := range names {
		name := name
		out = append(out, Step{
			Name:    name,
			OnError: onError,
			Do: func(ctx context.Context) error {
				*ran = append(*ran, name)
				if name == failAt {
					return errors.New("boom")
				}
				return nil
			},
		})
	}
	return out
}

func TestRunCompletes(t *testing.T) {
	var ran []string
	rec := &fakeRecorder{}

	require.NoError(t, Run(context.Background(), rec, steps(&ran, "", Fail), ""))

	assert.Equal(t, []string{"one", "two", "three"}, ran)
	assert.Equal(t, []recorded{
		{"one", StatusInProgress},
		{"two", StatusInProgress},
		{"three", StatusInProgress},
		{"three", StatusCompleted},
	}, rec.calls)
}

func TestRunAbortStopsSaga(t *testing.T) {
	var ran []string
	rec := &fakeRecorder{}

	err := Run(context.Background(), rec, steps(&ran, "two", Abort), "")

	var stepErr *StepError
	require.True(t, errors.As(err, &stepErr))
	assert.Equal(t, "two", stepErr.Step)
	assert.Equal(t, StatusAborted, stepErr.Status)
	assert.Equal(t, []string{"one", "two"}, ran)
	assert.Equal(t, recorded{"two", StatusAborted}, rec.calls[len(rec.calls)-1])
}

func TestRunFailKeepsStatus(t *testing.T) {
	var ran []string
	rec := &fakeRecorder{}

	err := Run(context.Background(), rec, steps(&ran, "three", Fail), "")

	var stepErr *StepError
	require.True(t, errors.As(err, &stepErr))
	assert.Equal(t, StatusFailed, stepErr.Status)
	assert.EqualError(t, errors.Cause(stepErr.Err), "boom")
}

func TestRunResumesAfterStep(t *testing.T) {
	var ran []string
	rec := &fakeRecorder{}

	require.NoError(t, Run(context.Background(), rec, steps(&ran, "", Fail), "one"))
	assert.Equal(t, []string{"two", "three"}, ran)
}

func TestRunUnknownResumePoint(t *testing.T) {
	var ran []string
	err := Run(context.Background(), &fakeRecorder{}, steps(&ran, "", Fail), "missing")
	require.Error(t, err)
	assert.Empty(t, ran)
}

func TestRunIgnoresRecorderErrors(t *testing.T) {
	var ran []string
	rec := &fakeRecorder{err: errors.New("db down")}

	require.NoError(t, Run(context.Background(), rec, steps(&ran, "", Fail), ""))
	assert.Len(t, ran, 3)
}
