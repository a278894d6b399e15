package errs

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a failure for the ticket state machine: transient failures
// go through the retry coordinator, business failures park the ticket for
// review, config failures fail fast before processing, everything else is
// fatal for the current ticket only.
type Kind int

const (
	KindFatal Kind = iota
	KindTransient
	KindBusiness
	KindConfig
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindBusiness:
		return "business"
	case KindConfig:
		return "config"
	case KindFatal:
		return "fatal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string { return e.err.Error() }
func (e *kindError) Unwrap() error { return e.err }

// Transient marks err as retriable (network timeout, rate limit, transient
// provider failure).
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: KindTransient, err: err}
}

// Business marks err as a non-retriable business rule violation.
func Business(err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: KindBusiness, err: err}
}

// Config marks err as a configuration/validation failure.
func Config(err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: KindConfig, err: err}
}

// Classify reports the kind of err. A context deadline counts as transient:
// a timed-out provider call is indistinguishable from a transport failure
// for retry purposes. Unmarked errors are fatal.
func Classify(err error) Kind {
	if err == nil {
		return KindFatal
	}

	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}

	return KindFatal
}

// IsTransient is shorthand for Classify(err) == KindTransient.
func IsTransient(err error) bool { return err != nil && Classify(err) == KindTransient }
