package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strp(s string) *string     { return &s }
func floatp(f float64) *float64 { return &f }

func TestNewBlockPropertyVariantInvariant(t *testing.T) {
	tests := []struct {
		name    string
		v       Variant
		wantErr bool
	}{
		{"text only", Variant{Text: strp("x")}, false},
		{"number only", Variant{Number: floatp(3)}, false},
		{"json only", Variant{JSON: strp(`["a"]`)}, false},
		{"empty text counts as populated", Variant{Text: strp("")}, false},
		{"none", Variant{}, true},
		{"text and number", Variant{Text: strp("x"), Number: floatp(1)}, true},
		{"all three", Variant{Text: strp("x"), Number: floatp(1), JSON: strp("{}")}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewBlockProperty("b1", "field", PropText, tt.v)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrConstraint))
				return
			}
			require.NoError(t, err)
			assert.NoError(t, p.Check())
			assert.Equal(t, "field", p.Name)
		})
	}
}

func TestNewBlockPropertyRejectsUnknownType(t *testing.T) {
	_, err := NewBlockProperty("b1", "field", PropertyType("blob"), Variant{Text: strp("x")})
	assert.ErrorIs(t, err, ErrConstraint)
}

func TestCheckOnLiteralRow(t *testing.T) {
	p := BlockProperty{Name: "bad", Type: PropText, Text: strp("x"), JSON: strp("1")}
	assert.ErrorIs(t, p.Check(), ErrConstraint)
}

func TestNormalizeTags(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, NormalizeTags([]string{" a", "b", "a", "", "c", "b "}))
	assert.Nil(t, NormalizeTags([]string{" ", ""}))
	assert.Nil(t, NormalizeTags(nil))
}

func TestValidateBlockID(t *testing.T) {
	assert.NoError(t, ValidateBlockID(NewBlockID()))
	err := ValidateBlockID("not-a-uuid")
	require.Error(t, err)
	assert.Equal(t, "validation", ErrorKind(err))
}

func TestValidateRelation(t *testing.T) {
	assert.NoError(t, ValidateRelation("depends_on"))
	assert.Error(t, ValidateRelation(""))
	assert.Error(t, ValidateRelation("Depends On"))
}

func TestConfidenceValidate(t *testing.T) {
	assert.NoError(t, (&Confidence{Human: floatp(0.5), AI: floatp(1)}).Validate())
	assert.Error(t, (&Confidence{AI: floatp(1.2)}).Validate())
	var c *Confidence
	assert.NoError(t, c.Validate())
}

func TestErrorKind(t *testing.T) {
	wrapped := errors.Join(errors.New("ctx"), ErrNotFound)
	assert.Equal(t, "not_found", ErrorKind(wrapped))
	assert.Equal(t, "validation", ErrorKind(NewValidationError("task", []FieldError{{Field: "title", Message: "title is required"}})))
	assert.Equal(t, "internal", ErrorKind(errors.New("boom")))
	assert.Equal(t, "", ErrorKind(nil))
}

func TestTagMatching(t *testing.T) {
	b := &MemoryBlock{Tags: []string{"x", "y"}}
	assert.True(t, b.HasAnyTag([]string{"z", "y"}))
	assert.False(t, b.HasAnyTag([]string{"z"}))
	assert.True(t, b.HasAllTags([]string{"x", "y"}))
	assert.False(t, b.HasAllTags([]string{"x", "z"}))
}
