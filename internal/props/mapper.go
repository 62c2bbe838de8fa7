// Package props decomposes block metadata into typed property rows and
// composes it back.
//
// Every row populates exactly one value column: text, number or json.
// Booleans are stored as "true"/"false" text, dates as RFC3339 text, select
// values as text, and multi_select/json values as JSON. A nil value is never
// stored: omitting a key deletes its row.
package props

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"time"

	"github.com/charmbracelet/log"

	"github.com/rcliao/memory-bank/internal/model"
)

// Enum is implemented by values that should be stored as a select property.
type Enum interface {
	EnumValue() string
}

var timeType = reflect.TypeOf(time.Time{})

// DetectType picks the property type for a metadata value.
func DetectType(v any) model.PropertyType {
	if v == nil {
		return model.PropText
	}
	switch x := v.(type) {
	case bool:
		return model.PropBool
	case time.Time, *time.Time:
		return model.PropDate
	case Enum:
		return model.PropSelect
	case json.Number:
		return model.PropNumber
	case []string:
		return model.PropMultiSelect
	case []any:
		if len(x) > 0 && allStrings(x) {
			return model.PropMultiSelect
		}
		return model.PropJSON
	case string:
		return model.PropText
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return model.PropNumber
	case reflect.String:
		// Named string types are enum-like.
		return model.PropSelect
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.String {
			return model.PropMultiSelect
		}
		return model.PropJSON
	case reflect.Map, reflect.Struct:
		return model.PropJSON
	case reflect.Pointer:
		if rv.IsNil() {
			return model.PropText
		}
		return DetectType(rv.Elem().Interface())
	}
	return model.PropText
}

func allStrings(xs []any) bool {
	for _, x := range xs {
		if _, ok := x.(string); !ok {
			return false
		}
	}
	return true
}

// ToVariant renders v into the single value column matching typ. nil under
// text yields an empty string, never a null column.
func ToVariant(v any, typ model.PropertyType) (model.Variant, error) {
	switch typ {
	case model.PropText:
		if v == nil {
			return textVariant(""), nil
		}
		if s, ok := v.(string); ok {
			return textVariant(s), nil
		}
		s, err := stringify(v)
		if err != nil {
			return model.Variant{}, err
		}
		return textVariant(s), nil

	case model.PropBool:
		b, ok := v.(bool)
		if !ok {
			return model.Variant{}, fmt.Errorf("bool property got %T", v)
		}
		return textVariant(strconv.FormatBool(b)), nil

	case model.PropNumber:
		f, err := toFloat(v)
		if err != nil {
			return model.Variant{}, err
		}
		return model.Variant{Number: &f}, nil

	case model.PropDate:
		switch t := v.(type) {
		case time.Time:
			return textVariant(t.Format(time.RFC3339Nano)), nil
		case *time.Time:
			if t == nil {
				return model.Variant{}, fmt.Errorf("nil date")
			}
			return textVariant(t.Format(time.RFC3339Nano)), nil
		case string:
			return textVariant(t), nil
		}
		return model.Variant{}, fmt.Errorf("date property got %T", v)

	case model.PropSelect:
		switch e := v.(type) {
		case Enum:
			return textVariant(e.EnumValue()), nil
		case string:
			return textVariant(e), nil
		}
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.String {
			return textVariant(rv.String()), nil
		}
		return model.Variant{}, fmt.Errorf("select property got %T", v)

	case model.PropMultiSelect, model.PropJSON:
		b, err := json.Marshal(v)
		if err != nil {
			return model.Variant{}, err
		}
		s := string(b)
		return model.Variant{JSON: &s}, nil
	}
	return model.Variant{}, fmt.Errorf("unknown property type %q", typ)
}

// FromVariant is the inverse of ToVariant. Unparsable stored values are
// returned in their raw stored form; it never fails.
func FromVariant(typ model.PropertyType, text *string, number *float64, raw *string) any {
	switch typ {
	case model.PropBool:
		if text != nil {
			if b, err := strconv.ParseBool(*text); err == nil {
				return b
			}
			return *text
		}
	case model.PropNumber:
		if number != nil {
			return *number
		}
	case model.PropDate:
		if text != nil {
			if t, err := time.Parse(time.RFC3339Nano, *text); err == nil {
				return t
			}
			return *text
		}
	case model.PropMultiSelect:
		if raw != nil {
			var ss []string
			if err := json.Unmarshal([]byte(*raw), &ss); err == nil {
				return ss
			}
			var anyv any
			if err := json.Unmarshal([]byte(*raw), &anyv); err == nil {
				return anyv
			}
			return *raw
		}
	case model.PropJSON:
		if raw != nil {
			var anyv any
			if err := json.Unmarshal([]byte(*raw), &anyv); err == nil {
				return anyv
			}
			return *raw
		}
	case model.PropText, model.PropSelect:
		if text != nil {
			return *text
		}
	}
	// The column for typ is empty; fall back to whichever column holds data.
	switch {
	case text != nil:
		return *text
	case number != nil:
		return *number
	case raw != nil:
		var anyv any
		if err := json.Unmarshal([]byte(*raw), &anyv); err == nil {
			return anyv
		}
		return *raw
	}
	return nil
}

// Mapper converts between metadata mappings and property rows.
type Mapper struct {
	log *log.Logger
}

// NewMapper returns a Mapper that logs skipped fields to logger.
func NewMapper(logger *log.Logger) *Mapper {
	if logger == nil {
		logger = log.Default()
	}
	return &Mapper{log: logger.WithPrefix("props")}
}

// Decompose turns metadata into property rows for blockID. nil values are
// omitted. A field that can be neither encoded nor stringified is dropped and
// reported in skipped; it never blocks the remaining fields.
func (m *Mapper) Decompose(blockID string, metadata map[string]any) (rows []model.BlockProperty, skipped []string) {
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := metadata[k]
		if isNil(v) {
			continue
		}
		typ := DetectType(v)
		variant, err := ToVariant(v, typ)
		if err != nil {
			// Fall back to a best-effort string rendering.
			s, serr := stringify(v)
			if serr != nil {
				m.log.Warn("dropping unserializable metadata field", "block", blockID, "field", k, "encode_err", err, "stringify_err", serr)
				skipped = append(skipped, k)
				continue
			}
			m.log.Warn("storing metadata field as text", "block", blockID, "field", k, "err", err)
			typ, variant = model.PropText, textVariant(s)
		}
		row, err := model.NewBlockProperty(blockID, k, typ, variant)
		if err != nil {
			m.log.Warn("dropping metadata field", "block", blockID, "field", k, "err", err)
			skipped = append(skipped, k)
			continue
		}
		rows = append(rows, row)
	}
	return rows, skipped
}

// Compose rebuilds a metadata mapping from property rows.
func (m *Mapper) Compose(rows []model.BlockProperty) map[string]any {
	out := make(map[string]any, len(rows))
	for _, r := range rows {
		out[r.Name] = FromVariant(r.Type, r.Text, r.Number, r.JSON)
	}
	return out
}

func textVariant(s string) model.Variant {
	return model.Variant{Text: &s}
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

func toFloat(v any) (float64, error) {
	var f float64
	switch n := v.(type) {
	case json.Number:
		x, err := n.Float64()
		if err != nil {
			return 0, err
		}
		f = x
	default:
		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			f = float64(rv.Int())
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			f = float64(rv.Uint())
		case reflect.Float32, reflect.Float64:
			f = rv.Float()
		default:
			return 0, fmt.Errorf("number property got %T", v)
		}
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("number %v is not finite", f)
	}
	return f, nil
}

// stringify renders v as text, JSON first and fmt as a fallback. A value
// whose String or MarshalJSON method panics cannot be rendered.
func stringify(v any) (s string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stringify %T: %v", v, r)
		}
	}()
	if b, jerr := json.Marshal(v); jerr == nil {
		return string(b), nil
	}
	if st, ok := v.(fmt.Stringer); ok {
		return st.String(), nil
	}
	return fmt.Sprintf("%v", v), nil
}
