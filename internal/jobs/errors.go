package jobs

import "errors"

// Outcome is the typed result of one handler execution.
type Outcome int

const (
	OutcomeSucceeded Outcome = iota
	OutcomeRetry
	OutcomePermanent
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeRetry:
		return "retry"
	case OutcomePermanent:
		return "permanent"
	}
	return "unknown"
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Handlers decide this; the
// pool only reads the mark.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Classify maps a handler error to an Outcome. Unmarked errors are
// transient.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSucceeded
	case IsPermanent(err):
		return OutcomePermanent
	default:
		return OutcomeRetry
	}
}
