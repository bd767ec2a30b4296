// Package shared contains common domain types, errors, events, and value objects
// that are used across all ledger domain packages.
package shared

import (
	"errors"
	"fmt"
	"strings"
)

// Base ledger error kinds that can be checked with errors.Is().
var (
	// ErrNotFound is returned when an entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrValidation marks malformed input. Details live in *ValidationError.
	ErrValidation = errors.New("validation error")

	// ErrPolicyViolation marks input that is well-formed but breaks a
	// business rule (discount above ceiling, inactive concept, ...).
	ErrPolicyViolation = errors.New("policy violation")

	// ErrStateTransition marks an operation illegal for the current state.
	ErrStateTransition = errors.New("invalid state transition")

	// ErrOverpayment marks a payment larger than the pending balance.
	ErrOverpayment = errors.New("overpayment")

	// ErrDuplicateFolio marks a receipt folio collision.
	ErrDuplicateFolio = errors.New("duplicate folio")

	// ErrContention marks a lock timeout, deadlock or serialization failure.
	// Operations failing with it may be resubmitted.
	ErrContention = errors.New("contention")

	// ErrExternalService marks a failing collaborator (directory, sinks).
	ErrExternalService = errors.New("external service error")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "charge", "payment", "statement"
	Op      string // Operation that failed, e.g., "ApplyPayment"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// Retryable reports whether the failed operation may be resubmitted unchanged.
func (e *DomainError) Retryable() bool {
	return errors.Is(e.Kind, ErrContention)
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Validation
// ═══════════════════════════════════════════════════════════════════════════

// Violation is a single failed rule on a single field.
type Violation struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// ValidationError aggregates every violation found while validating input.
// Validation never stops at the first problem.
type ValidationError struct {
	Domain     string
	Op         string
	Violations []Violation
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, fmt.Sprintf("%s: %s", v.Field, v.Message))
	}
	return fmt.Sprintf("%s.%s: validation failed: %s", e.Domain, e.Op, strings.Join(parts, "; "))
}

// Is matches ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Retryable is always false for validation failures.
func (e *ValidationError) Retryable() bool { return false }

// Violations collects rule failures before turning them into a ValidationError.
type Violations []Violation

// Add records a violation.
func (v *Violations) Add(field, rule, message string) {
	*v = append(*v, Violation{Field: field, Rule: rule, Message: message})
}

// Check records a violation when cond is false.
func (v *Violations) Check(cond bool, field, rule, message string) {
	if !cond {
		v.Add(field, rule, message)
	}
}

// Prefixed returns a copy with every field prefixed, e.g. "items[2].".
func (v Violations) Prefixed(prefix string) Violations {
	out := make(Violations, len(v))
	for i, vi := range v {
		vi.Field = prefix + vi.Field
		out[i] = vi
	}
	return out
}

// Err returns nil when empty, otherwise a *ValidationError.
func (v Violations) Err(domain, op string) error {
	if len(v) == 0 {
		return nil
	}
	return &ValidationError{Domain: domain, Op: op, Violations: append([]Violation(nil), v...)}
}

// NewValidationError builds a ValidationError with a single violation.
func NewValidationError(domain, op, field, rule, message string) *ValidationError {
	return &ValidationError{
		Domain:     domain,
		Op:         op,
		Violations: []Violation{{Field: field, Rule: rule, Message: message}},
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Constructors per kind
// ═══════════════════════════════════════════════════════════════════════════

// NotFound builds a not-found error for the given entity.
func NotFound(domain, op, id string) *DomainError {
	return NewDomainError(domain, op, ErrNotFound, fmt.Sprintf("%s %q not found", domain, id))
}

// PolicyViolation builds a policy violation error.
func PolicyViolation(domain, op, message string) *DomainError {
	return NewDomainError(domain, op, ErrPolicyViolation, message)
}

// InvalidTransition builds an invalid state transition error.
func InvalidTransition(domain, op, message string) *DomainError {
	return NewDomainError(domain, op, ErrStateTransition, message)
}

// Contention wraps a locking failure.
func Contention(domain, op string, err error) *DomainError {
	return WrapError(domain, op, ErrContention, "concurrent modification, retry the operation", err)
}

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsRetryable checks if the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrContention)
}

// ViolationsOf extracts the aggregated violations of a validation error.
func ViolationsOf(err error) []Violation {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Violations
	}
	return nil
}

// Kind returns the base kind of a ledger error, or nil for foreign errors.
func Kind(err error) error {
	for _, k := range []error{
		ErrValidation, ErrPolicyViolation, ErrStateTransition, ErrOverpayment,
		ErrDuplicateFolio, ErrContention, ErrNotFound, ErrExternalService,
	} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
