// Package errcode defines the stable error-kind taxonomy shared by every
// component of the device I/O and configuration-transfer engine.
package errcode

import "fmt"

// Code is a stable, comparable error-kind identifier. It is a string newtype
// so it can be compared directly and also satisfies the error interface.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical kinds, per spec.md §7.
const (
	OK         Code = "ok"
	Cancelled  Code = "cancelled"
	Connection Code = "connection"
	Framing    Code = "framing"
	Write      Code = "write"
	Timeout    Code = "timeout"
	Protocol   Code = "protocol"
	Config     Code = "config"
	Validation Code = "validation"

	Error Code = "error" // generic fallback
)

// Diagnostic is one entry in an aggregated Validation error, identified by a
// path-prefix like "TYPE(dx,dy)/page-N/element-i/eventName".
type Diagnostic struct {
	Path string
	Msg  string
}

func (d Diagnostic) String() string { return d.Path + ": " + d.Msg }

// E is the structured error carried across component boundaries: a Code, an
// operation label, a human message, an optional wrapped cause, and — only for
// Validation — the aggregated per-event diagnostics.
type E struct {
	C           Code
	Op          string
	Msg         string
	Err         error
	Diagnostics []Diagnostic
}

func (e *E) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.C)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if len(e.Diagnostics) > 0 {
		msg = fmt.Sprintf("%s (%d diagnostics)", msg, len(e.Diagnostics))
	}
	return msg
}

func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// New builds an *E with no wrapped cause.
func New(c Code, op, msg string) *E {
	return &E{C: c, Op: op, Msg: msg}
}

// Wrap builds an *E around an existing cause.
func Wrap(c Code, op string, err error) *E {
	if err == nil {
		return nil
	}
	return &E{C: c, Op: op, Msg: err.Error(), Err: err}
}

// ValidationError builds an aggregated Validation error from diagnostics.
func ValidationError(op string, diags []Diagnostic) *E {
	return &E{C: Validation, Op: op, Msg: "validation failed", Diagnostics: diags}
}

// Of extracts a Code from an error, defaulting to Error. A nil error maps to OK.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	if c, ok := err.(Code); ok {
		return c
	}
	type coder interface{ Code() Code }
	if x, ok := err.(coder); ok {
		return x.Code()
	}
	return Error
}

// Is reports whether err (or any error it wraps) carries the given Code.
func Is(err error, c Code) bool {
	for {
		if Of(err) == c {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		if err = u.Unwrap(); err == nil {
			return false
		}
	}
}
