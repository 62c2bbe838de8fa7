package model

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation        = errors.New("validation error")
	ErrNotFound          = errors.New("not found")
	ErrUnknownType       = errors.New("unknown type")
	ErrVersionMismatch   = errors.New("version mismatch")
	ErrNoModelRegistered = errors.New("no model registered")
	ErrVersionDowngrade  = errors.New("version downgrade")
	ErrBreakingChange    = errors.New("breaking schema change")
	ErrVersionGap        = errors.New("schema version gap")
	ErrNeedlessBump      = errors.New("non-breaking schema change under a new version")
	ErrPersistence       = errors.New("persistence error")
	ErrIndexSync         = errors.New("index sync error")
	ErrPatchSize         = errors.New("patch size limit exceeded")
	ErrPatch             = errors.New("patch error")
	ErrPatchUnsupported  = errors.New("unsupported patch format")
	ErrConstraint        = errors.New("constraint violation")
)

// FieldError describes one invalid metadata field.
type FieldError struct {
	Field    string `json:"field"`
	Tag      string `json:"tag,omitempty"`
	Expected string `json:"expected,omitempty"`
	Actual   any    `json:"actual,omitempty"`
	Message  string `json:"message"`
}

// ValidationError is returned when input fails validation. It never touches storage.
type ValidationError struct {
	Type   string       `json:"type,omitempty"`
	Reason string       `json:"reason,omitempty"`
	Fields []FieldError `json:"fields,omitempty"`
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("validation error")
	if e.Type != "" {
		fmt.Fprintf(&b, " for %s", e.Type)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	for i, f := range e.Fields {
		if i == 0 {
			b.WriteString(": ")
		} else {
			b.WriteString("; ")
		}
		b.WriteString(f.Message)
	}
	return b.String()
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NewValidationError wraps field errors for a block type.
func NewValidationError(typ string, fields []FieldError) *ValidationError {
	return &ValidationError{Type: typ, Fields: fields}
}

// ErrorKind maps an error onto the machine-readable kind reported at tool boundaries.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnknownType):
		return "unknown_type"
	case errors.Is(err, ErrVersionMismatch):
		return "version_mismatch"
	case errors.Is(err, ErrNoModelRegistered):
		return "no_model_registered"
	case errors.Is(err, ErrVersionDowngrade), errors.Is(err, ErrBreakingChange),
		errors.Is(err, ErrVersionGap), errors.Is(err, ErrNeedlessBump):
		return "schema_registry"
	case errors.Is(err, ErrPatchSize):
		return "patch_size"
	case errors.Is(err, ErrPatchUnsupported):
		return "patch_unsupported"
	case errors.Is(err, ErrPatch):
		return "patch"
	case errors.Is(err, ErrConstraint):
		return "constraint"
	case errors.Is(err, ErrIndexSync):
		return "index_sync"
	case errors.Is(err, ErrPersistence):
		return "persistence"
	}
	return "internal"
}
