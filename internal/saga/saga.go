package saga

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Status is the state a recorder persists after each step
type Status string

// Saga statuses
const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusAborted    Status = "aborted"
	StatusFailed     Status = "failed"
)

// OnError decides what a step failure does to the saga
type OnError int

const (
	// Abort stops the saga before it left any durable residue
	Abort OnError = iota
	// Fail stops the saga and leaves its earlier writes in place
	Fail
)

// Step is one idempotent unit of a saga
type Step struct {
	Name    string
	Do      func(ctx context.Context) error
	OnError OnError
}

// Recorder persists the saga marker. Record is called after every completed
// step with StatusInProgress, and once more with the terminal status.
type Recorder interface {
	Record(ctx context.Context, step string, status Status, stepErr error) error
}

// StepError reports the step that stopped a saga
type StepError struct {
	Step   string
	Status Status
	Err    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("saga step %s %s: %v", e.Step, e.Status, e.Err)
}

// Unwrap returns the step's error
func (e *StepError) Unwrap() error {
	return e.Err
}

// Run executes steps in order, skipping every step up to and including
// resumeAfter (empty runs all). A marker write failure is logged and does not
// stop the saga.
func Run(ctx context.Context, rec Recorder, steps []Step, resumeAfter string) error {
	skipping := resumeAfter != ""
	last := resumeAfter

	for _, step := range steps {
		if skipping {
			if step.Name == resumeAfter {
				skipping = false
			}
			continue
		}

		if err := step.Do(ctx); err != nil {
			status := StatusFailed
			if step.OnError == Abort {
				status = StatusAborted
			}
			record(ctx, rec, step.Name, status, err)
			return &StepError{Step: step.Name, Status: status, Err: err}
		}

		last = step.Name
		record(ctx, rec, step.Name, StatusInProgress, nil)
	}

	if skipping {
		return fmt.Errorf("saga has no step %q to resume after", resumeAfter)
	}

	record(ctx, rec, last, StatusCompleted, nil)
	return nil
}

func record(ctx context.Context, rec Recorder, step string, status Status, stepErr error) {
	if err := rec.Record(ctx, step, status, stepErr); err != nil {
		log.Error().
			Err(err).
			Str("step", step).
			Str("status", string(status)).
			Msg("Failed to persist saga marker")
	}
}
