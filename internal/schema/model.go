// Package schema holds the registry of per-type metadata models.
//
// A model validates the metadata mapping of one block type at one version.
// Models are bound explicitly at startup (see RegisterBuiltins); nothing is
// discovered by introspection.
package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/invopop/jsonschema"
	santhosh "github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"

	"github.com/rcliao/memory-bank/internal/model"
)

// Outcome splits a metadata mapping into accepted fields, invalid fields and
// fields the model does not know about.
type Outcome struct {
	Valid  map[string]any     `json:"valid_fields"`
	Errors []model.FieldError `json:"validation_errors,omitempty"`
	Extras map[string]any     `json:"extras,omitempty"`
}

// OK reports whether no known field failed validation.
func (o Outcome) OK() bool { return len(o.Errors) == 0 }

// Model validates the metadata of one block type at one version.
type Model interface {
	Name() string
	Version() int
	Check(metadata map[string]any) Outcome
	JSONSchema() ([]byte, error)
}

// GeneratedAtKey marks the generation time inside emitted JSON schemas. It is
// ignored when comparing schemas.
const GeneratedAtKey = "x-generated-at"

// StructModel validates metadata by decoding it into T and running the
// validator/v10 tags declared on T.
type StructModel[T any] struct {
	name    string
	version int
	fields  map[string]bool
}

// NewStructModel binds the Go type T as the metadata model of name at version.
func NewStructModel[T any](name string, version int) *StructModel[T] {
	var zero T
	return &StructModel[T]{name: name, version: version, fields: jsonFieldNames(reflect.TypeOf(zero))}
}

func (m *StructModel[T]) Name() string { return m.name }
func (m *StructModel[T]) Version() int { return m.version }

// Decode converts a metadata mapping into the typed model. Unknown keys are ignored.
func (m *StructModel[T]) Decode(metadata map[string]any) (*T, error) {
	var out T
	known := make(map[string]any, len(metadata))
	for k, v := range metadata {
		if m.fields[k] {
			known[k] = v
		}
	}
	if err := decodeInto(known, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (m *StructModel[T]) Check(metadata map[string]any) Outcome {
	out := Outcome{Valid: map[string]any{}, Extras: map[string]any{}}
	known := make(map[string]any, len(metadata))
	for k, v := range metadata {
		if m.fields[k] {
			known[k] = v
		} else {
			out.Extras[k] = v
		}
	}

	var target T
	bad := map[string]bool{}
	if err := decodeInto(known, &target); err != nil {
		// Find the offending keys one at a time so the rest still validate.
		target = *new(T)
		for _, k := range sortedKeys(known) {
			var probe T
			if perr := decodeInto(map[string]any{k: known[k]}, &probe); perr != nil {
				bad[k] = true
				out.Errors = append(out.Errors, model.FieldError{
					Field: k, Tag: "type", Actual: known[k],
					Message: fmt.Sprintf("%s has the wrong type: %v", k, perr),
				})
				delete(known, k)
			}
		}
		if err := decodeInto(known, &target); err != nil {
			out.Errors = append(out.Errors, model.FieldError{Field: "", Tag: "decode", Message: err.Error()})
			return out
		}
	}

	if err := structValidator.Struct(&target); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			out.Errors = append(out.Errors, model.FieldError{Tag: "validate", Message: err.Error()})
			return out
		}
		for _, fe := range verrs {
			path := fieldPath(fe.Namespace())
			top := strings.SplitN(path, ".", 2)[0]
			if i := strings.IndexByte(top, '['); i >= 0 {
				top = top[:i]
			}
			bad[top] = true
			out.Errors = append(out.Errors, model.FieldError{
				Field:    path,
				Tag:      fe.Tag(),
				Expected: expectation(fe),
				Actual:   actualValue(fe),
				Message:  fieldMessage(path, fe),
			})
		}
	}

	for k, v := range known {
		if !bad[k] {
			out.Valid[k] = v
		}
	}
	return out
}

func (m *StructModel[T]) JSONSchema() ([]byte, error) {
	r := &jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true, AllowAdditionalProperties: true}
	var zero T
	s := r.Reflect(&zero)
	s.Title = m.name
	s.Extras = map[string]any{
		"x-block-type":     m.name,
		"x-schema-version": m.version,
		GeneratedAtKey:     time.Now().UTC().Format(time.RFC3339),
	}
	return json.Marshal(s)
}

// JSONSchemaModel validates metadata against a JSON Schema document supplied
// at runtime, e.g. through the registerSchema tool.
type JSONSchemaModel struct {
	name     string
	version  int
	raw      []byte
	compiled *santhosh.Schema
	fields   map[string]bool
}

// NewJSONSchemaModel compiles raw as the metadata model of name at version.
func NewJSONSchemaModel(name string, version int, raw []byte) (*JSONSchemaModel, error) {
	if !gjson.ValidBytes(raw) {
		return nil, &model.ValidationError{Type: name, Reason: "schema is not valid JSON"}
	}
	url := fmt.Sprintf("https://memory-bank.local/schemas/%s/v%d.json", name, version)
	c := santhosh.NewCompiler()
	if err := c.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, &model.ValidationError{Type: name, Reason: "load schema: " + err.Error()}
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, &model.ValidationError{Type: name, Reason: "compile schema: " + err.Error()}
	}
	fields := map[string]bool{}
	gjson.GetBytes(raw, "properties").ForEach(func(key, _ gjson.Result) bool {
		fields[key.String()] = true
		return true
	})
	return &JSONSchemaModel{name: name, version: version, raw: raw, compiled: compiled, fields: fields}, nil
}

func (m *JSONSchemaModel) Name() string                { return m.name }
func (m *JSONSchemaModel) Version() int                { return m.version }
func (m *JSONSchemaModel) JSONSchema() ([]byte, error) { return m.raw, nil }

func (m *JSONSchemaModel) Check(metadata map[string]any) Outcome {
	out := Outcome{Valid: map[string]any{}, Extras: map[string]any{}}
	known := make(map[string]any, len(metadata))
	for k, v := range metadata {
		if m.fields[k] {
			known[k] = v
		} else {
			out.Extras[k] = v
		}
	}

	b, err := json.Marshal(known)
	if err != nil {
		out.Errors = append(out.Errors, model.FieldError{Tag: "encode", Message: err.Error()})
		return out
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		out.Errors = append(out.Errors, model.FieldError{Tag: "encode", Message: err.Error()})
		return out
	}

	bad := map[string]bool{}
	if err := m.compiled.Validate(doc); err != nil {
		var ve *santhosh.ValidationError
		if !errors.As(err, &ve) {
			out.Errors = append(out.Errors, model.FieldError{Tag: "validate", Message: err.Error()})
			return out
		}
		for _, leaf := range leafCauses(ve) {
			path := strings.ReplaceAll(strings.TrimPrefix(leaf.InstanceLocation, "/"), "/", ".")
			kw := leaf.KeywordLocation
			if i := strings.LastIndexByte(kw, '/'); i >= 0 {
				kw = kw[i+1:]
			}
			if kw == "required" {
				// Required errors point at the parent; name the missing property.
				if missing := missingProperty(leaf.Message); missing != "" {
					if path == "" {
						path = missing
					} else {
						path += "." + missing
					}
				}
			}
			top := strings.SplitN(path, ".", 2)[0]
			bad[top] = true
			out.Errors = append(out.Errors, model.FieldError{Field: path, Tag: kw, Message: fmt.Sprintf("%s: %s", displayPath(path), leaf.Message)})
		}
	}
	for k, v := range known {
		if !bad[k] {
			out.Valid[k] = v
		}
	}
	return out
}

func leafCauses(ve *santhosh.ValidationError) []*santhosh.ValidationError {
	if len(ve.Causes) == 0 {
		return []*santhosh.ValidationError{ve}
	}
	var out []*santhosh.ValidationError
	for _, c := range ve.Causes {
		out = append(out, leafCauses(c)...)
	}
	return out
}

// missingProperty extracts the first quoted name from a "missing properties" message.
func missingProperty(msg string) string {
	start := strings.IndexAny(msg, `'"`)
	if start < 0 {
		return ""
	}
	quote := msg[start]
	end := strings.IndexByte(msg[start+1:], quote)
	if end < 0 {
		return ""
	}
	return msg[start+1 : start+1+end]
}

func displayPath(p string) string {
	if p == "" {
		return "metadata"
	}
	return p
}

func decodeInto(in map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "json",
		Squash:  true,
		Result:  out,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
		),
	})
	if err != nil {
		return err
	}
	return dec.Decode(in)
}

// jsonFieldNames lists the top-level metadata keys of a struct type,
// flattening anonymous embedded structs.
func jsonFieldNames(t reflect.Type) map[string]bool {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	names := map[string]bool{}
	if t.Kind() != reflect.Struct {
		return names
	}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if f.Anonymous && name == "" {
			for k := range jsonFieldNames(f.Type) {
				names[k] = true
			}
			continue
		}
		if !f.IsExported() || name == "-" {
			continue
		}
		if name == "" {
			name = f.Name
		}
		names[name] = true
	}
	return names
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
