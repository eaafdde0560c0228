// Package apperr defines the error taxonomy shared by the client engines
// and the HTTP layer. Validation and ownership errors are raised before
// any network or database work; remote errors wrap transport failures;
// state errors block workflow transitions whose preconditions do not
// hold.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindValidation Kind = iota + 1
	KindOwnership
	KindRemote
	KindState
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindOwnership:
		return "ownership"
	case KindRemote:
		return "remote"
	case KindState:
		return "state"
	}
	return "unknown"
}

// Well-known machine-readable codes.
const (
	CodeAnnotationAgreed  = "annotation_agreed"
	CodeInvalidType       = "invalid_annotation_type"
	CodeInvalidID         = "invalid_id"
	CodeInvalidSpan       = "invalid_span"
	CodeNotOwner          = "not_owner"
	CodeIncompleteReview  = "incomplete_review"
	CodeCommentsRequired  = "comments_required"
	CodeNoAnnotations     = "no_annotations"
	CodeNotFound          = "not_found"
	CodeRemoteUnavailable = "remote_unavailable"
)

// Error carries a kind, a stable code and a user-facing message, plus an
// optional wrapped cause.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

func Validation(code, format string, args ...any) *Error {
	return New(KindValidation, code, format, args...)
}

func Ownership(code, format string, args ...any) *Error {
	return New(KindOwnership, code, format, args...)
}

func State(code, format string, args ...any) *Error {
	return New(KindState, code, format, args...)
}

// Remote wraps a transport or server failure.
func Remote(code string, err error, format string, args ...any) *Error {
	return &Error{Kind: KindRemote, Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// IsKind reports whether err is (or wraps) an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Kind == kind
}

// CodeOf extracts the machine code from err, or "" if err is not an
// *Error.
func CodeOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}
