package mpath

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// ErrorCode standardizes tree-maintenance failure semantics.
type ErrorCode string

const (
	// CodeInvalidSegment means a path-source value is empty or contains the
	// reserved delimiter.
	CodeInvalidSegment ErrorCode = "invalid_segment"
	// CodeMissingParent means path assignment ran for a non-root node whose
	// parent row could not be loaded.
	CodeMissingParent ErrorCode = "missing_parent"
	// CodeCircularReference means a reparent would make a node its own
	// ancestor.
	CodeCircularReference ErrorCode = "circular_reference"
	// CodeUnsupportedBackend means the active connection is neither of the
	// two supported dialects.
	CodeUnsupportedBackend ErrorCode = "unsupported_backend"
	// CodeNotFound means the addressed node row does not exist.
	CodeNotFound ErrorCode = "not_found"
	// CodeInternal covers wiring mistakes and infrastructure failures.
	CodeInternal ErrorCode = "internal"
)

// Error is the canonical error wrapper for every operation in this package.
type Error struct {
	Code    ErrorCode
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	op := strings.TrimSpace(e.Op)
	msg := strings.TrimSpace(e.Message)
	switch {
	case op != "" && msg != "":
		return fmt.Sprintf("%s: %s (%s)", op, msg, e.Code)
	case op != "":
		return fmt.Sprintf("%s (%s)", op, e.Code)
	case msg != "":
		return fmt.Sprintf("%s (%s)", msg, e.Code)
	default:
		return string(e.Code)
	}
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError builds an Error with an explicit code and operation.
func NewError(code ErrorCode, op, message string, cause error) error {
	return &Error{
		Code:    code,
		Op:      strings.TrimSpace(op),
		Message: strings.TrimSpace(message),
		Cause:   cause,
	}
}

// IsCode reports whether err (or anything it wraps) carries the given code.
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == code
}

// CodeOf extracts the error code when available.
func CodeOf(err error) ErrorCode {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.Code
}

// CircularRefError is the typed leaf behind CodeCircularReference; it names
// the node whose move was rejected and the candidate parent that sits inside
// the node's own subtree, each by its own path segment. Retrieve it with
// errors.As.
type CircularRefError struct {
	Node   string
	Parent string
}

func (e *CircularRefError) Error() string {
	return fmt.Sprintf("circular reference: %q cannot become a child of %q inside its own subtree", e.Node, e.Parent)
}

// MapError translates infrastructure failures into package error codes.
// Errors already carrying a code pass through untouched.
func MapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var already *Error
	if errors.As(err, &already) {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return NewError(CodeNotFound, op, "record not found", err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch strings.TrimSpace(pgErr.Code) {
		case "23503":
			// foreign_key_violation: the parent reference points nowhere
			return NewError(CodeMissingParent, op, "parent reference violates foreign key", err)
		case "42704", "42883":
			// undefined_object / undefined_function: ltree is not installed
			return NewError(CodeUnsupportedBackend, op, "ltree extension not available; run EnsureExtensions first", err)
		}
	}
	return NewError(CodeInternal, op, err.Error(), err)
}
