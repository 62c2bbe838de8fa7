package schema

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/rcliao/memory-bank/internal/model"
)

// CheckVersion applies the versioning policy to registering next as version
// of typ, given the latest known version and its schema. Versions start at
// 1 and only move up by one, and only for a breaking change. Re-registering
// the latest version is left to the same-version comparison. prev may be
// nil when the latest schema is unknown; the bump is then accepted.
func CheckVersion(typ string, latest int, prev []byte, version int, next []byte) error {
	switch {
	case version < 1:
		return &model.ValidationError{Type: typ, Reason: fmt.Sprintf("schema versions start at 1, got %d", version)}
	case latest == 0 && version != 1:
		return fmt.Errorf("register %s v%d: first version must be 1: %w", typ, version, model.ErrVersionGap)
	case latest == 0, version == latest:
		return nil
	case version < latest:
		return fmt.Errorf("register %s v%d: latest is v%d: %w", typ, version, latest, model.ErrVersionDowngrade)
	case version > latest+1:
		return fmt.Errorf("register %s v%d: latest is v%d, next must be v%d: %w", typ, version, latest, latest+1, model.ErrVersionGap)
	}
	if prev == nil {
		return nil
	}
	if breaking, _ := IsBreaking(prev, next); !breaking {
		return fmt.Errorf("register %s v%d: change from v%d is not breaking, register it as v%d: %w",
			typ, version, latest, latest, model.ErrNeedlessBump)
	}
	return nil
}

// StripVolatile removes generation metadata that must not affect comparison.
func StripVolatile(js []byte) ([]byte, error) {
	if !gjson.GetBytes(js, GeneratedAtKey).Exists() {
		return js, nil
	}
	return sjson.DeleteBytes(js, GeneratedAtKey)
}

// Equivalent reports whether two JSON schemas are structurally identical,
// ignoring their generation timestamps and key order.
func Equivalent(a, b []byte) bool {
	sa, err := StripVolatile(a)
	if err != nil {
		return false
	}
	sb, err := StripVolatile(b)
	if err != nil {
		return false
	}
	var va, vb any
	if json.Unmarshal(sa, &va) != nil || json.Unmarshal(sb, &vb) != nil {
		return false
	}
	return reflect.DeepEqual(va, vb)
}

// tightening keywords: adding or changing any of these can invalidate
// metadata that used to pass.
var tighteningKeywords = []string{
	"minimum", "maximum", "exclusiveMinimum", "exclusiveMaximum",
	"minLength", "maxLength", "minItems", "maxItems", "pattern", "format",
}

// IsBreaking compares two JSON schemas of the same block type and lists the
// changes that require a version bump: a field becoming required, a field
// removed, a type change, a narrowed enum or tightened validation. Adding
// optional fields is not breaking.
func IsBreaking(oldJS, newJS []byte) (bool, []string) {
	var reasons []string
	oldProps := gjson.GetBytes(oldJS, "properties").Map()
	newProps := gjson.GetBytes(newJS, "properties").Map()
	oldReq := stringSet(gjson.GetBytes(oldJS, "required"))
	newReq := stringSet(gjson.GetBytes(newJS, "required"))

	for _, name := range sortedResultKeys(oldProps) {
		if _, ok := newProps[name]; !ok {
			reasons = append(reasons, fmt.Sprintf("field %q removed", name))
		}
	}
	for _, name := range sortedSetKeys(newReq) {
		if !oldReq[name] {
			reasons = append(reasons, fmt.Sprintf("field %q is now required", name))
		}
	}
	for _, name := range sortedResultKeys(newProps) {
		np := newProps[name]
		op, ok := oldProps[name]
		if !ok {
			continue
		}
		if ot, nt := op.Get("type").Raw, np.Get("type").Raw; ot != nt {
			reasons = append(reasons, fmt.Sprintf("field %q changed type from %s to %s", name, orAny(ot), orAny(nt)))
		}
		if ne := np.Get("enum"); ne.Exists() {
			oe := op.Get("enum")
			if !oe.Exists() {
				reasons = append(reasons, fmt.Sprintf("field %q gained an enum", name))
			} else {
				allowed := map[string]bool{}
				for _, v := range ne.Array() {
					allowed[v.Raw] = true
				}
				for _, v := range oe.Array() {
					if !allowed[v.Raw] {
						reasons = append(reasons, fmt.Sprintf("field %q no longer allows %s", name, v.Raw))
					}
				}
			}
		}
		for _, kw := range tighteningKeywords {
			nv := np.Get(kw)
			if nv.Exists() && nv.Raw != op.Get(kw).Raw {
				reasons = append(reasons, fmt.Sprintf("field %q changed %s to %s", name, kw, nv.Raw))
			}
		}
	}
	if gjson.GetBytes(newJS, "additionalProperties").Raw == "false" &&
		gjson.GetBytes(oldJS, "additionalProperties").Raw != "false" {
		reasons = append(reasons, "additional properties are no longer allowed")
	}
	return len(reasons) > 0, reasons
}

func stringSet(r gjson.Result) map[string]bool {
	out := map[string]bool{}
	for _, v := range r.Array() {
		out[v.String()] = true
	}
	return out
}

func sortedResultKeys(m map[string]gjson.Result) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedSetKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func orAny(raw string) string {
	if raw == "" {
		return "any"
	}
	return raw
}
