package upstream

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an upstream failure.
type Kind int

const (
	// KindTransient is a network failure or rate limiting, eligible for retry.
	KindTransient Kind = iota + 1
	// KindTerminal is any other failure status or an error body, never retried.
	KindTerminal
)

var (
	// ErrTransient matches every *Error of KindTransient with errors.Is.
	ErrTransient = errors.New("upstream transient failure")
	// ErrTerminal matches every *Error of KindTerminal with errors.Is.
	ErrTerminal = errors.New("upstream terminal failure")
)

const maxErrorBodyLen = 2048

// Error describes a failed upstream call after the retry policy gave up on it.
type Error struct {
	Kind       Kind
	Method     string
	Path       string
	StatusCode int
	// Status is the status text of the response, e.g. "Not Found".
	Status   string
	Body     string
	Attempts int
	// Err is the transport failure, nil when the upstream answered.
	Err error
}

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindTerminal:
		return "terminal"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

func (e *Error) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s failed after %d attempt(s)", e.Method, e.Path, e.Attempts)

	if e.StatusCode > 0 {
		fmt.Fprintf(&sb, ": HTTP %d %s", e.StatusCode, e.Status)
		if e.Body != "" {
			body := e.Body
			if len(body) > maxErrorBodyLen {
				body = body[:maxErrorBodyLen] + "...(truncated)"
			}
			fmt.Fprintf(&sb, ": %s", body)
		}
	}
	if e.Err != nil {
		fmt.Fprintf(&sb, ": %s", e.Err.Error())
	}

	return sb.String()
}

// Unwrap exposes both the kind sentinel and the underlying transport error.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	switch e.Kind {
	case KindTransient:
		errs = append(errs, ErrTransient)
	case KindTerminal:
		errs = append(errs, ErrTerminal)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}
