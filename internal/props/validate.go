package props

import (
	"github.com/rcliao/memory-bank/internal/model"
	"github.com/rcliao/memory-bank/internal/schema"
)

// ExtraPrefix marks an extra field that collided with a validated one.
const ExtraPrefix = "_extra_"

// Split is the result of checking metadata against a model.
type Split struct {
	Valid  map[string]any     `json:"valid_fields"`
	Errors []model.FieldError `json:"validation_errors,omitempty"`
	Extras map[string]any     `json:"extras,omitempty"`
}

// ValidateAgainstSchema splits metadata using m. Fields m does not declare
// are returned as extras rather than rejected. With no model, everything is
// treated as valid.
func ValidateAgainstSchema(metadata map[string]any, m schema.Model) Split {
	if m == nil {
		valid := make(map[string]any, len(metadata))
		for k, v := range metadata {
			valid[k] = v
		}
		return Split{Valid: valid}
	}
	out := m.Check(metadata)
	return Split{Valid: out.Valid, Errors: out.Errors, Extras: out.Extras}
}

// MergeExtras combines validated fields with extras into one mapping. An
// extra whose name collides with a validated field is kept under
// "_extra_<name>"; the validated value wins the bare name.
func MergeExtras(valid, extras map[string]any) map[string]any {
	out := make(map[string]any, len(valid)+len(extras))
	for k, v := range valid {
		out[k] = v
	}
	for k, v := range extras {
		if _, taken := out[k]; taken {
			out[ExtraPrefix+k] = v
			continue
		}
		out[k] = v
	}
	return out
}
