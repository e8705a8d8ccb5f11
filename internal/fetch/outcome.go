package fetch

import (
	"errors"
	"fmt"
)

var (
	// ErrBlocked marks an outcome where every attempt hit a block page.
	ErrBlocked = errors.New("blocked by anti-bot protection")
	// ErrTransient marks an outcome where attempts ran out on network errors.
	ErrTransient = errors.New("transient fetch failure")
	// ErrFatal marks a failure that retrying cannot fix.
	ErrFatal = errors.New("fatal fetch failure")
)

type Kind int

const (
	Success Kind = iota
	Blocked
	TransientError
	FatalError
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case Blocked:
		return "blocked"
	case TransientError:
		return "transient_error"
	case FatalError:
		return "fatal_error"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Outcome is the terminal result of one logical fetch.
type Outcome struct {
	Kind       Kind
	URL        string
	StatusCode int
	Body       []byte
	Reason     string
	Err        error
	Attempts   int
	Profile    string
}

func (o Outcome) OK() bool {
	return o.Kind == Success
}

// Error returns nil for a successful outcome and otherwise an error that
// matches ErrBlocked, ErrTransient or ErrFatal under errors.Is.
func (o Outcome) Error() error {
	var sentinel error
	switch o.Kind {
	case Success:
		return nil
	case Blocked:
		sentinel = ErrBlocked
	case TransientError:
		sentinel = ErrTransient
	default:
		sentinel = ErrFatal
	}

	msg := o.Reason
	if msg == "" && o.Err != nil {
		msg = o.Err.Error()
	}
	if o.Err != nil {
		return fmt.Errorf("%w: %s after %d attempt(s): %w", sentinel, o.URL, o.Attempts, o.Err)
	}
	return fmt.Errorf("%w: %s after %d attempt(s): %s", sentinel, o.URL, o.Attempts, msg)
}
