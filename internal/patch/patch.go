// Package patch applies bounded partial updates: RFC 6902 JSON patches and
// RFC 7386 merge patches to block metadata, diff-match-patch text patches to
// block text. Oversized patches are rejected before anything is applied.
package patch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"
	jsonpatch "gopkg.in/evanphx/json-patch.v4"

	"github.com/rcliao/memory-bank/internal/model"
)

const (
	MaxJSONOps   = 50
	MaxTextLines = 1000
)

// Metadata patch formats.
const (
	FormatJSONPatch  = "json_patch"
	FormatMergePatch = "merge_patch"
)

// Metadata applies a metadata patch in the given format ("" means
// json_patch). The input map is not modified.
func Metadata(md map[string]any, format string, raw []byte) (map[string]any, error) {
	switch format {
	case "", FormatJSONPatch:
		return JSON(md, raw)
	case FormatMergePatch:
		return Merge(md, raw)
	}
	return nil, fmt.Errorf("metadata patch format %q: %w", format, model.ErrPatchUnsupported)
}

// JSON applies an RFC 6902 patch of at most MaxJSONOps operations.
func JSON(md map[string]any, raw []byte) (map[string]any, error) {
	p, err := jsonpatch.DecodePatch(raw)
	if err != nil {
		return nil, fmt.Errorf("decode json patch: %w: %w", model.ErrPatch, err)
	}
	if len(p) > MaxJSONOps {
		return nil, fmt.Errorf("json patch has %d operations, limit %d: %w", len(p), MaxJSONOps, model.ErrPatchSize)
	}
	doc, err := encode(md)
	if err != nil {
		return nil, err
	}
	out, err := p.Apply(doc)
	if err != nil {
		return nil, fmt.Errorf("apply json patch: %w: %w", model.ErrPatch, err)
	}
	return decode(md, out)
}

// Merge applies an RFC 7386 merge patch. Its size is bounded by the number
// of keys it touches, counted the same way as JSON patch operations.
func Merge(md map[string]any, raw []byte) (map[string]any, error) {
	var probe map[string]any
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("decode merge patch: %w: %w", model.ErrPatch, err)
	}
	if n := countLeaves(probe); n > MaxJSONOps {
		return nil, fmt.Errorf("merge patch touches %d fields, limit %d: %w", n, MaxJSONOps, model.ErrPatchSize)
	}
	doc, err := encode(md)
	if err != nil {
		return nil, err
	}
	out, err := jsonpatch.MergePatch(doc, raw)
	if err != nil {
		return nil, fmt.Errorf("apply merge patch: %w: %w", model.ErrPatch, err)
	}
	return decode(md, out)
}

// Text applies a diff-match-patch patch (the textual form produced by
// MakeText) of at most MaxTextLines lines. Every hunk must apply.
func Text(text, patchText string) (string, error) {
	if n := strings.Count(patchText, "\n") + 1; n > MaxTextLines {
		return "", fmt.Errorf("text patch has %d lines, limit %d: %w", n, MaxTextLines, model.ErrPatchSize)
	}
	dmp := diffmatchpatch.New()
	patches, err := dmp.PatchFromText(patchText)
	if err != nil {
		return "", fmt.Errorf("decode text patch: %w: %w", model.ErrPatch, err)
	}
	out, applied := dmp.PatchApply(patches, text)
	for i, ok := range applied {
		if !ok {
			return "", fmt.Errorf("text patch hunk %d does not apply: %w", i+1, model.ErrPatch)
		}
	}
	return out, nil
}

// MakeText returns the textual patch turning from into to.
func MakeText(from, to string) string {
	dmp := diffmatchpatch.New()
	return dmp.PatchToText(dmp.PatchMake(from, to))
}

func encode(md map[string]any) ([]byte, error) {
	if md == nil {
		md = map[string]any{}
	}
	doc, err := json.Marshal(md)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w: %w", model.ErrPatch, err)
	}
	return doc, nil
}

// decode unmarshals the patched document. Top-level dates that survived the
// patch unchanged come back as time.Time rather than strings.
func decode(orig map[string]any, doc []byte) (map[string]any, error) {
	var out map[string]any
	dec := json.NewDecoder(bytes.NewReader(doc))
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("patched metadata: %w: %w", model.ErrPatch, err)
	}
	if out == nil {
		return nil, fmt.Errorf("patched metadata is not an object: %w", model.ErrPatch)
	}
	for k, v := range orig {
		t, ok := v.(time.Time)
		if !ok {
			continue
		}
		if s, ok := out[k].(string); ok {
			if parsed, err := time.Parse(time.RFC3339Nano, s); err == nil && parsed.Equal(t) {
				out[k] = t
			}
		}
	}
	return out, nil
}

func countLeaves(m map[string]any) int {
	n := 0
	for _, v := range m {
		if sub, ok := v.(map[string]any); ok && len(sub) > 0 {
			n += countLeaves(sub)
			continue
		}
		n++
	}
	return n
}
