// Package apperr holds the business error taxonomy shared by the ledger,
// the stores and the HTTP layer.
//
// Callers match kinds with errors.Is against ErrValidation / ErrInvariant
// and extract details with errors.As.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrInvariant  = errors.New("invariant violated")
)

// ValidationError is a field-level, user-correctable input problem. The
// operation was not attempted.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// InvariantViolation is a business-rule rejection: the input was well formed
// but applying it would break a ledger invariant.
type InvariantViolation struct {
	Rule    string
	Message string
}

func (e *InvariantViolation) Error() string { return e.Message }

func (e *InvariantViolation) Is(target error) bool { return target == ErrInvariant }

func Invalid(field string, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func Violation(rule string, format string, args ...any) error {
	return &InvariantViolation{Rule: rule, Message: fmt.Sprintf(format, args...)}
}

// RuleOf returns the rule name of an InvariantViolation in err's chain, or "".
func RuleOf(err error) string {
	var iv *InvariantViolation
	if errors.As(err, &iv) {
		return iv.Rule
	}
	return ""
}
