package model

import (
	"fmt"
	"time"
)

// PropertyType classifies a decomposed metadata field.
type PropertyType string

const (
	PropText        PropertyType = "text"
	PropNumber      PropertyType = "number"
	PropBool        PropertyType = "bool"
	PropJSON        PropertyType = "json"
	PropDate        PropertyType = "date"
	PropSelect      PropertyType = "select"
	PropMultiSelect PropertyType = "multi_select"
)

// Valid reports whether t is one of the known property types.
func (t PropertyType) Valid() bool {
	switch t {
	case PropText, PropNumber, PropBool, PropJSON, PropDate, PropSelect, PropMultiSelect:
		return true
	}
	return false
}

// Variant holds the three value columns of a property row. Exactly one is set.
type Variant struct {
	Text   *string
	Number *float64
	JSON   *string
}

func (v Variant) populated() int {
	n := 0
	if v.Text != nil {
		n++
	}
	if v.Number != nil {
		n++
	}
	if v.JSON != nil {
		n++
	}
	return n
}

// BlockProperty is one metadata field stored as a typed row.
type BlockProperty struct {
	BlockID    string       `json:"block_id"`
	Name       string       `json:"property_name"`
	Type       PropertyType `json:"property_type"`
	Text       *string      `json:"property_value_text,omitempty"`
	Number     *float64     `json:"property_value_number,omitempty"`
	JSON       *string      `json:"property_value_json,omitempty"`
	IsComputed bool         `json:"is_computed"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// NewBlockProperty builds a property row, enforcing the variant-column
// invariant: exactly one of text, number or json must be populated.
func NewBlockProperty(blockID, name string, typ PropertyType, v Variant) (BlockProperty, error) {
	if name == "" {
		return BlockProperty{}, fmt.Errorf("property name is empty: %w", ErrConstraint)
	}
	if !typ.Valid() {
		return BlockProperty{}, fmt.Errorf("property %q: unknown type %q: %w", name, typ, ErrConstraint)
	}
	if n := v.populated(); n != 1 {
		return BlockProperty{}, fmt.Errorf("property %q: %d value columns populated, want exactly 1: %w", name, n, ErrConstraint)
	}
	now := time.Now().UTC()
	return BlockProperty{
		BlockID:   blockID,
		Name:      name,
		Type:      typ,
		Text:      v.Text,
		Number:    v.Number,
		JSON:      v.JSON,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Variant returns the value columns of the row.
func (p BlockProperty) Variant() Variant {
	return Variant{Text: p.Text, Number: p.Number, JSON: p.JSON}
}

// Check re-validates the invariant on a row built without the constructor.
func (p BlockProperty) Check() error {
	if n := p.Variant().populated(); n != 1 {
		return fmt.Errorf("property %q: %d value columns populated, want exactly 1: %w", p.Name, n, ErrConstraint)
	}
	return nil
}
