package stamp

import (
	"fmt"
)

// Kind classifies why an Apply call failed.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidArgument
	KindMissingInput
	KindDecode
	KindTransform
	KindWrite
	KindPostProcess
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid argument"
	case KindMissingInput:
		return "missing input"
	case KindDecode:
		return "decode"
	case KindTransform:
		return "transform"
	case KindWrite:
		return "write"
	case KindPostProcess:
		return "post process"
	default:
		return "unknown"
	}
}

// Sentinel errors for errors.Is. An *Error matches the sentinel of its Kind.
var (
	ErrInvalidArgument = &Error{Kind: KindInvalidArgument}
	ErrMissingInput    = &Error{Kind: KindMissingInput}
	ErrDecode          = &Error{Kind: KindDecode}
	ErrTransform       = &Error{Kind: KindTransform}
	ErrWrite           = &Error{Kind: KindWrite}
	ErrPostProcess     = &Error{Kind: KindPostProcess}
)

// Error is the failure reported by Apply.
type Error struct {
	Kind Kind
	// Path is the input or output the failure is about, if any.
	Path string
	Err  error
}

func newError(kind Kind, path string, err error) *Error {
	return &Error{Kind: kind, Path: path, Err: err}
}

func (e *Error) Error() string {
	switch {
	case e.Path != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Path, e.Err)
	case e.Path != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Path)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Path == "" && t.Err == nil && t.Kind == e.Kind
}

// Status is the outcome of an Apply call.
type Status int

const (
	StatusFailed Status = iota
	StatusSucceeded
	// StatusUnchanged means the output already held an equivalent image and was left untouched.
	StatusUnchanged
)

func (s Status) String() string {
	switch s {
	case StatusSucceeded:
		return "succeeded"
	case StatusUnchanged:
		return "unchanged"
	default:
		return "failed"
	}
}

// Result describes what Apply did.
type Result struct {
	Status    Status
	Base      string
	Logo      string
	Output    string
	Format    Format
	Placement Placement
	Geometry  Geometry
	// Err is set when Status is StatusFailed.
	Err *Error
}

// OK reports whether an output image is in place.
func (r *Result) OK() bool {
	return r != nil && r.Status != StatusFailed
}

func (r *Result) fail(err *Error) (*Result, error) {
	r.Status = StatusFailed
	r.Err = err
	return r, err
}
