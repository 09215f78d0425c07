// Package arberr defines the single application-wide error taxonomy used
// across the detection and execution pipeline.
package arberr

import "fmt"

// Kind classifies an error by how the caller should react to it, not by
// its concrete Go type.
type Kind string

const (
	// Transport covers HTTP/websocket/parse failures talking to the venue.
	Transport Kind = "transport"
	// Schema covers a well-formed response missing fields we depend on.
	Schema Kind = "schema"
	// Precondition covers invariant/configuration breaches caught before
	// any order is placed. Fatal.
	Precondition Kind = "precondition"
	// Execution covers an order that did not fill as expected. Fatal.
	Execution Kind = "execution"
	// FilterViolation covers a normalized quantity failing lot/notional
	// checks. Recoverable by the caller.
	FilterViolation Kind = "filter_violation"
	// Persistence covers opportunity-sink I/O failures.
	Persistence Kind = "persistence"
)

// Error is the one error type the engine returns across package
// boundaries. Kind drives recovery; Op names the failing operation.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err under op with the given kind. A nil err still produces
// an error value describing the kind (used for sentinel-style guards).
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err is an *Error of the given kind, walking Unwrap.
func Is(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			if e.Kind == kind {
				return true
			}
			err = e.Err
			continue
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Fatal reports whether the kind should terminate the process per §7:
// Precondition and Execution are fatal, everything else propagates.
func (k Kind) Fatal() bool {
	return k == Precondition || k == Execution
}

// IsFatal walks err's Unwrap chain looking for an *Error and reports
// whether its Kind is fatal. A chain containing no *Error is never
// fatal: only this package's own taxonomy carries that judgment.
func IsFatal(err error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind.Fatal()
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
