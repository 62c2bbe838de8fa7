package props

import (
	"errors"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/memory-bank/internal/model"
	"github.com/rcliao/memory-bank/internal/schema"
)

type priority string

type poisoned struct{}

func (poisoned) MarshalJSON() ([]byte, error) { return nil, errors.New("no json") }
func (poisoned) String() string               { panic("no string either") }

func newMapper() *Mapper {
	return NewMapper(log.New(nil))
}

func TestDetectType(t *testing.T) {
	cases := []struct {
		in   any
		want model.PropertyType
	}{
		{nil, model.PropText},
		{"hello", model.PropText},
		{true, model.PropBool},
		{3, model.PropNumber},
		{int64(3), model.PropNumber},
		{2.5, model.PropNumber},
		{time.Now(), model.PropDate},
		{priority("P1"), model.PropSelect},
		{[]string{"a"}, model.PropMultiSelect},
		{[]any{"a", "b"}, model.PropMultiSelect},
		{[]any{"a", 1}, model.PropJSON},
		{map[string]any{"k": 1}, model.PropJSON},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, DetectType(c.in), "value %#v", c.in)
	}
}

func TestToVariantPopulatesOneColumn(t *testing.T) {
	for _, v := range []any{"x", true, 7, time.Now(), priority("P0"), []string{"a"}, map[string]any{"a": 1}} {
		typ := DetectType(v)
		variant, err := ToVariant(v, typ)
		require.NoError(t, err)
		n := 0
		for _, set := range []bool{variant.Text != nil, variant.Number != nil, variant.JSON != nil} {
			if set {
				n++
			}
		}
		assert.Equal(t, 1, n, "value %#v", v)
	}
}

func TestNilTextBecomesEmptyString(t *testing.T) {
	v, err := ToVariant(nil, model.PropText)
	require.NoError(t, err)
	require.NotNil(t, v.Text)
	assert.Equal(t, "", *v.Text)
}

func TestDecomposeScenario(t *testing.T) {
	m := newMapper()
	rows, skipped := m.Decompose("b1", map[string]any{
		"tags":  []string{"a", "b"},
		"count": 3,
		"flag":  true,
		"note":  nil,
	})
	assert.Empty(t, skipped)
	require.Len(t, rows, 3)

	byName := map[string]model.BlockProperty{}
	for _, r := range rows {
		byName[r.Name] = r
		assert.NoError(t, r.Check())
	}
	assert.NotContains(t, byName, "note")

	flag := byName["flag"]
	assert.Equal(t, model.PropBool, flag.Type)
	require.NotNil(t, flag.Text)
	assert.Equal(t, "true", *flag.Text)

	count := byName["count"]
	assert.Equal(t, model.PropNumber, count.Type)
	require.NotNil(t, count.Number)
	assert.Equal(t, 3.0, *count.Number)

	tags := byName["tags"]
	assert.Equal(t, model.PropMultiSelect, tags.Type)
	require.NotNil(t, tags.JSON)
	assert.JSONEq(t, `["a","b"]`, *tags.JSON)
}

func TestRoundTrip(t *testing.T) {
	m := newMapper()
	when := time.Date(2026, 3, 4, 5, 6, 7, 8, time.UTC)
	in := map[string]any{
		"title":    "write tests",
		"count":    3.0,
		"done":     false,
		"due":      when,
		"priority": priority("P1"),
		"labels":   []string{"x", "y"},
		"extra":    map[string]any{"nested": []any{1.0, "two"}},
	}
	rows, skipped := m.Decompose("b1", in)
	require.Empty(t, skipped)
	out := m.Compose(rows)

	assert.Equal(t, "write tests", out["title"])
	assert.Equal(t, 3.0, out["count"])
	assert.Equal(t, false, out["done"])
	assert.True(t, when.Equal(out["due"].(time.Time)))
	assert.Equal(t, "P1", out["priority"])
	assert.Equal(t, []string{"x", "y"}, out["labels"])
	assert.Equal(t, map[string]any{"nested": []any{1.0, "two"}}, out["extra"])
}

func TestOmittedKeysAreAbsent(t *testing.T) {
	m := newMapper()
	rows, _ := m.Decompose("b1", map[string]any{"a": "x", "b": nil, "c": []string(nil)})
	out := m.Compose(rows)
	assert.Equal(t, map[string]any{"a": "x"}, out)
}

func TestComposeNeverFails(t *testing.T) {
	m := newMapper()
	bad := "not-a-date"
	badJSON := "{broken"
	out := m.Compose([]model.BlockProperty{
		{Name: "d", Type: model.PropDate, Text: &bad},
		{Name: "j", Type: model.PropJSON, JSON: &badJSON},
		{Name: "b", Type: model.PropBool, Text: &bad},
	})
	assert.Equal(t, "not-a-date", out["d"])
	assert.Equal(t, "{broken", out["j"])
	assert.Equal(t, "not-a-date", out["b"])
}

func TestDecomposeDropsUnserializableField(t *testing.T) {
	m := newMapper()
	rows, skipped := m.Decompose("b1", map[string]any{"ok": "fine", "bad": poisoned{}})
	assert.Equal(t, []string{"bad"}, skipped)
	require.Len(t, rows, 1)
	assert.Equal(t, "ok", rows[0].Name)
}

func TestMergeExtras(t *testing.T) {
	got := MergeExtras(
		map[string]any{"title": "t", "status": "done"},
		map[string]any{"status": "weird", "color": "red"},
	)
	assert.Equal(t, map[string]any{
		"title":         "t",
		"status":        "done",
		"_extra_status": "weird",
		"color":         "red",
	}, got)
}

func TestValidateAgainstSchema(t *testing.T) {
	split := ValidateAgainstSchema(map[string]any{"a": 1}, nil)
	assert.Equal(t, map[string]any{"a": 1}, split.Valid)
	assert.Empty(t, split.Errors)

	doc := schema.NewStructModel[schema.DocMetadata]("doc", schema.DocVersion)
	split = ValidateAgainstSchema(map[string]any{
		"title":       "Guide",
		"color":       "red",
		"x_agent_id":  "agent-1",
		"x_timestamp": "2026-01-02T03:04:05Z",
	}, doc)
	assert.Empty(t, split.Errors)
	assert.Equal(t, "Guide", split.Valid["title"])
	assert.Equal(t, map[string]any{"color": "red"}, split.Extras)
}
