// Package saga runs multi-step operations whose steps each carry a
// compensating action. When a step fails, the compensations of every step
// that already succeeded run in reverse order.
package saga

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/prn-tf/artshare/internal/metrics"
)

// Step is one action of a saga. Compensate may be nil for steps with
// nothing to undo.
type Step struct {
	Name       string
	Action     func(ctx context.Context) error
	Compensate func(ctx context.Context) error
}

// Error reports the step that failed a saga run.
type Error struct {
	Saga string
	Step string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("saga %s: step %s: %v", e.Saga, e.Step, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Saga is an ordered list of steps. A Saga is built and run by one goroutine.
type Saga struct {
	name    string
	steps   []Step
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// New creates an empty saga. m may be nil.
func New(name string, logger zerolog.Logger, m *metrics.Metrics) *Saga {
	return &Saga{
		name:    name,
		metrics: m,
		logger:  logger.With().Str("saga", name).Logger(),
	}
}

// Step appends a step and returns s for chaining.
func (s *Saga) Step(name string, action, compensate func(ctx context.Context) error) *Saga {
	s.steps = append(s.steps, Step{Name: name, Action: action, Compensate: compensate})
	return s
}

// Len returns the number of steps.
func (s *Saga) Len() int { return len(s.steps) }

// Run executes the steps in order. On the first failure it compensates the
// completed steps in reverse order and returns an *Error for the failed step.
// Compensations run even if ctx is cancelled; their failures are logged.
func (s *Saga) Run(ctx context.Context) error {
	runID := uuid.NewString()
	log := s.logger.With().Str("run_id", runID).Logger()

	for i, step := range s.steps {
		if err := ctx.Err(); err != nil {
			s.compensate(ctx, log, i)
			return &Error{Saga: s.name, Step: step.Name, Err: err}
		}

		if err := step.Action(ctx); err != nil {
			log.Warn().Err(err).Str("step", step.Name).Msg("saga step failed, compensating")
			s.compensate(ctx, log, i)
			return &Error{Saga: s.name, Step: step.Name, Err: err}
		}
	}

	log.Debug().Int("steps", len(s.steps)).Msg("saga completed")
	return nil
}

// compensate undoes steps[:done] newest first.
func (s *Saga) compensate(ctx context.Context, log zerolog.Logger, done int) {
	cctx := context.WithoutCancel(ctx)
	for i := done - 1; i >= 0; i-- {
		step := s.steps[i]
		if step.Compensate == nil {
			continue
		}
		if err := step.Compensate(cctx); err != nil {
			s.metrics.RecordCompensation(s.name, false)
			log.Error().Err(err).Str("step", step.Name).Msg("compensation failed")
			continue
		}
		s.metrics.RecordCompensation(s.name, true)
		log.Info().Str("step", step.Name).Msg("compensated")
	}
}
