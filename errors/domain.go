package errors

import (
	"fmt"
	"strings"
)

// Domain error codes. Clients branch on these instead of matching message text,
// and the HTTP gateway maps them to status codes.
const (
	CodeValidation     = "validation_error"
	CodeNotFound       = "not_found"
	CodeConflict       = "conflict"
	CodeCycleDetected  = "cycle_detected"
	CodeInvalidBase    = "invalid_base"
	CodePartialFailure = "partial_failure"
	CodeTimeout        = "timeout"
	CodeForbidden      = "forbidden"
	CodeInternal       = "internal_error"
)

// FieldError describes a single validation failure in a request or record.
type FieldError struct {
	Loc  string `json:"loc"`
	Msg  string `json:"msg"`
	Type string `json:"type"`
}

// ValidationError reports one or more malformed or missing fields. All
// violations are collected before returning, never just the first.
type ValidationError struct {
	Details []FieldError
}

// NewValidation creates a ValidationError with a single field detail.
func NewValidation(loc, msg string) *ValidationError {
	return &ValidationError{Details: []FieldError{{Loc: loc, Msg: msg, Type: CodeValidation}}}
}

// Add appends another field violation.
func (ve *ValidationError) Add(loc, msg string) *ValidationError {
	ve.Details = append(ve.Details, FieldError{Loc: loc, Msg: msg, Type: CodeValidation})
	return ve
}

// Empty reports whether any violation has been recorded.
func (ve *ValidationError) Empty() bool { return len(ve.Details) == 0 }

// Code returns the machine-readable error code.
func (ve *ValidationError) Code() string { return CodeValidation }

func (ve *ValidationError) Error() string {
	if len(ve.Details) == 0 {
		return "validation error"
	}
	parts := make([]string, 0, len(ve.Details))
	for _, d := range ve.Details {
		parts = append(parts, fmt.Sprintf("%s: %s", d.Loc, d.Msg))
	}
	return "validation error: " + strings.Join(parts, "; ")
}

// NotFoundError reports an unresolvable elementId, typeId or namespaceUri.
type NotFoundError struct {
	Kind      string // "object", "objecttype", "namespace", "relationshiptype", "subscription"
	ElementID string
}

// NewNotFound creates a NotFoundError for the given record kind and id.
func NewNotFound(kind, elementID string) *NotFoundError {
	return &NotFoundError{Kind: kind, ElementID: elementID}
}

// Code returns the machine-readable error code.
func (ne *NotFoundError) Code() string { return CodeNotFound }

func (ne *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", ne.Kind, ne.ElementID)
}

// ConflictReason narrows the cause of a ConflictError.
type ConflictReason string

const (
	// ConflictDuplicateID indicates an elementId is already in use.
	ConflictDuplicateID ConflictReason = "duplicate_id"
	// ConflictHasChildren indicates a delete was attempted on an object with
	// children and no cascade flag.
	ConflictHasChildren ConflictReason = "has_children"
	// ConflictStreamAttached indicates a subscription already has an open
	// stream channel.
	ConflictStreamAttached ConflictReason = "stream_attached"

	// ConflictNamespaceInUse indicates a content change was attempted on a
	// namespace that registered types already reference.
	ConflictNamespaceInUse ConflictReason = "namespace_in_use"
)

// ConflictError reports a state conflict such as a duplicate id or a
// delete-with-children without cascade.
type ConflictError struct {
	Reason    ConflictReason
	ElementID string
}

// NewConflict creates a ConflictError.
func NewConflict(reason ConflictReason, elementID string) *ConflictError {
	return &ConflictError{Reason: reason, ElementID: elementID}
}

// Code returns the machine-readable error code.
func (ce *ConflictError) Code() string { return CodeConflict }

func (ce *ConflictError) Error() string {
	switch ce.Reason {
	case ConflictDuplicateID:
		return fmt.Sprintf("elementId %q already exists", ce.ElementID)
	case ConflictHasChildren:
		return fmt.Sprintf("object %q has children; set cascade to delete", ce.ElementID)
	case ConflictStreamAttached:
		return fmt.Sprintf("subscription %q already has an attached stream", ce.ElementID)
	case ConflictNamespaceInUse:
		return fmt.Sprintf("namespace %q is referenced by registered types and cannot change", ce.ElementID)
	default:
		return fmt.Sprintf("conflict on %q", ce.ElementID)
	}
}

// CycleError reports that a relink or parent change would create a cycle in
// the composition graph. The graph is left unchanged.
type CycleError struct {
	ElementID string
	Path      []string // ancestor chain that closes the cycle
}

// NewCycle creates a CycleError.
func NewCycle(elementID string, path []string) *CycleError {
	return &CycleError{ElementID: elementID, Path: path}
}

// Code returns the machine-readable error code.
func (ge *CycleError) Code() string { return CodeCycleDetected }

func (ge *CycleError) Error() string {
	if len(ge.Path) > 0 {
		return fmt.Sprintf("relink of %q would create cycle via %s", ge.ElementID, strings.Join(ge.Path, " -> "))
	}
	return fmt.Sprintf("relink of %q would create cycle", ge.ElementID)
}

// SchemaBaseError reports an invalid baseTypeId reference: unresolvable base,
// or a base chain that would form a cycle.
type SchemaBaseError struct {
	TypeID string
	BaseID string
	Reason string
}

// NewSchemaBase creates a SchemaBaseError.
func NewSchemaBase(typeID, baseID, reason string) *SchemaBaseError {
	return &SchemaBaseError{TypeID: typeID, BaseID: baseID, Reason: reason}
}

// Code returns the machine-readable error code.
func (se *SchemaBaseError) Code() string { return CodeInvalidBase }

func (se *SchemaBaseError) Error() string {
	return fmt.Sprintf("invalid base %q for type %q: %s", se.BaseID, se.TypeID, se.Reason)
}

// PartialFailure reports an operation that succeeded for some elements and
// failed for others, such as an interrupted cascade delete. It is never
// silently swallowed; callers receive the per-item outcome.
type PartialFailure struct {
	Operation string
	Succeeded []string
	Remaining []string // elementIds still present / not processed
	Cause     error
}

// NewPartialFailure creates a PartialFailure for the named operation.
func NewPartialFailure(operation string, succeeded, remaining []string, cause error) *PartialFailure {
	return &PartialFailure{Operation: operation, Succeeded: succeeded, Remaining: remaining, Cause: cause}
}

// Code returns the machine-readable error code.
func (pf *PartialFailure) Code() string { return CodePartialFailure }

func (pf *PartialFailure) Error() string {
	return fmt.Sprintf("%s partially failed: %d succeeded, %d remaining: %v",
		pf.Operation, len(pf.Succeeded), len(pf.Remaining), pf.Cause)
}

// Unwrap returns the underlying cause.
func (pf *PartialFailure) Unwrap() error { return pf.Cause }

// TimeoutError reports a store operation that exceeded its deadline. It is
// retryable.
type TimeoutError struct {
	Operation string
	Cause     error
}

// NewTimeout creates a TimeoutError.
func NewTimeout(operation string, cause error) *TimeoutError {
	return &TimeoutError{Operation: operation, Cause: cause}
}

// Code returns the machine-readable error code.
func (te *TimeoutError) Code() string { return CodeTimeout }

func (te *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out: %v", te.Operation, te.Cause)
}

// Unwrap returns the underlying cause.
func (te *TimeoutError) Unwrap() error { return te.Cause }

// ForbiddenError reports that the authenticated identity lacks the
// capability an operation requires.
type ForbiddenError struct {
	Capability string
}

// NewForbidden creates a ForbiddenError for the denied capability.
func NewForbidden(capability string) *ForbiddenError {
	return &ForbiddenError{Capability: capability}
}

// Code returns the machine-readable error code.
func (fe *ForbiddenError) Code() string { return CodeForbidden }

func (fe *ForbiddenError) Error() string {
	return fmt.Sprintf("capability %q denied", fe.Capability)
}

// Coder is implemented by all typed domain errors.
type Coder interface {
	error
	Code() string
}

// CodeOf extracts the domain error code from an error chain, or CodeInternal
// if no typed domain error is present.
func CodeOf(err error) string {
	var c Coder
	if As(err, &c) {
		return c.Code()
	}
	return CodeInternal
}
