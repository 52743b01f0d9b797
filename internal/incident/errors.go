package incident

import (
	"errors"
	"sort"
	"strings"
)

// ErrNotFound is returned when no incident exists for the requested id.
var ErrNotFound = errors.New("incident not found")

// ValidationError reports malformed or missing fields. Never retried.
type ValidationError struct {
	Fields map[string]string
}

// NewValidationError builds a ValidationError for a single field.
func NewValidationError(field, msg string) *ValidationError {
	v := &ValidationError{}
	v.Add(field, msg)
	return v
}

// Add records a problem with field. The first message per field wins.
func (v *ValidationError) Add(field, msg string) {
	if v.Fields == nil {
		v.Fields = make(map[string]string)
	}
	if _, ok := v.Fields[field]; !ok {
		v.Fields[field] = msg
	}
}

// OrNil returns v as an error when it has at least one field, otherwise nil.
func (v *ValidationError) OrNil() error {
	if len(v.Fields) == 0 {
		return nil
	}
	return v
}

func (v *ValidationError) Error() string {
	keys := make([]string, 0, len(v.Fields))
	for k := range v.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+v.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// ConflictError means a state machine precondition did not hold. Current is
// the incident as it was observed after the failed transition, so the caller
// can reconcile (e.g. see who won a claim race).
type ConflictError struct {
	Reason  string
	Current *Incident
}

func (c *ConflictError) Error() string {
	if c.Current == nil {
		return "conflict: " + c.Reason
	}
	return "conflict: " + c.Reason + " (status " + string(c.Current.Status) + ")"
}

// IsValidation reports whether err is (or wraps) a *ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// AsConflict extracts a *ConflictError from err.
func AsConflict(err error) (*ConflictError, bool) {
	var c *ConflictError
	if errors.As(err, &c) {
		return c, true
	}
	return nil, false
}
