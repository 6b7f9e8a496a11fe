package detector

import (
	"context"
	"fmt"

	"github.com/fpt/framebridge/pkg/dom"
	"github.com/pkg/errors"
)

// Stage names one step of a search.
type Stage string

const (
	StageContainer Stage = "container"
	StageTarget    Stage = "target"
	StageValidate  Stage = "validate"
	StageLoad      Stage = "load"
)

var (
	// ErrNotFound matches every ordinary, non-fatal search failure.
	ErrNotFound = errors.New("detector: target not found")
	// ErrBoundaryDenied aborts a search: the target exists but its content is isolated.
	ErrBoundaryDenied = dom.ErrBoundaryDenied

	errNotYet = errors.New("not yet")
)

// NotFoundError reports which stage gave up and after how many attempts.
type NotFoundError struct {
	Stage    Stage
	Attempts int
	Reason   string
}

func (e *NotFoundError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("detector: %s stage failed after %d attempt(s): %s", e.Stage, e.Attempts, e.Reason)
	}
	return fmt.Sprintf("detector: %s stage failed after %d attempt(s)", e.Stage, e.Attempts)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// Outcome classifies the result of a search.
type Outcome int

const (
	OutcomeUnknown Outcome = iota
	OutcomeFound
	OutcomeNotFound
	OutcomeBoundaryDenied
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFound:
		return "found"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeBoundaryDenied:
		return "boundary_denied"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Classify maps a Find error to its Outcome.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeFound
	case errors.Is(err, ErrBoundaryDenied):
		return OutcomeBoundaryDenied
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeCancelled
	case errors.Is(err, ErrNotFound):
		return OutcomeNotFound
	default:
		return OutcomeUnknown
	}
}
