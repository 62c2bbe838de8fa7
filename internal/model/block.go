// Package model defines the core memory block data types.
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MemoryBlock is the canonical stored unit of knowledge or work.
type MemoryBlock struct {
	ID            string         `json:"id"`
	Type          string         `json:"type"`
	SchemaVersion int            `json:"schema_version"`
	Text          string         `json:"text"`
	State         string         `json:"state"`
	Visibility    string         `json:"visibility"`
	Tags          []string       `json:"tags,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Links         []BlockLink    `json:"links,omitempty"`
	Confidence    *Confidence    `json:"confidence,omitempty"`
	CreatedBy     string         `json:"created_by,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// BlockLink is a directed, typed edge owned by the block that carries it.
type BlockLink struct {
	ToID     string `json:"to_id"`
	Relation string `json:"relation"`
}

// Link is a BlockLink with its source made explicit, as stored in block_links.
type Link struct {
	FromID    string    `json:"from_id"`
	ToID      string    `json:"to_id"`
	Relation  string    `json:"relation"`
	CreatedAt time.Time `json:"created_at,omitzero"`
}

// Confidence holds optional human and AI confidence scores in [0,1].
type Confidence struct {
	Human *float64 `json:"human,omitempty"`
	AI    *float64 `json:"ai,omitempty"`
}

// Validate reports scores outside [0,1].
func (c *Confidence) Validate() error {
	if c == nil {
		return nil
	}
	var fields []FieldError
	check := func(name string, v *float64) {
		if v != nil && (*v < 0 || *v > 1) {
			fields = append(fields, FieldError{
				Field: "confidence." + name, Tag: "range",
				Expected: "0 <= value <= 1", Actual: *v,
				Message: fmt.Sprintf("confidence.%s must be within [0,1]", name),
			})
		}
	}
	check("human", c.Human)
	check("ai", c.AI)
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

const (
	DefaultState      = "draft"
	DefaultVisibility = "internal"
)

// ValidStates are the allowed block lifecycle states.
var ValidStates = map[string]bool{
	"draft":     true,
	"published": true,
	"archived":  true,
}

// ValidVisibilities are the allowed access flags.
var ValidVisibilities = map[string]bool{
	"internal":   true,
	"public":     true,
	"restricted": true,
}

// ConventionalRelations lists the relation names used across the block types.
// The set is open: any lower_snake_case name is accepted.
var ConventionalRelations = []string{
	"subtask_of", "child_of", "parent_of", "depends_on", "blocks",
	"is_blocked_by", "related_to", "mentions", "duplicate_of",
	"belongs_to_epic", "epic_contains",
}

// NewBlockID returns a fresh UUID for a block.
func NewBlockID() string {
	return uuid.NewString()
}

// ValidateBlockID rejects identifiers that are not UUIDs.
func ValidateBlockID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return &ValidationError{
			Reason: "malformed block id",
			Fields: []FieldError{{Field: "id", Tag: "uuid", Expected: "UUID", Actual: id, Message: err.Error()}},
		}
	}
	return nil
}

// ValidateRelation checks that a relation name is non-empty lower_snake_case.
func ValidateRelation(rel string) error {
	if rel == "" {
		return &ValidationError{Fields: []FieldError{{Field: "relation", Tag: "required", Message: "relation is required"}}}
	}
	for _, r := range rel {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '_' {
			return &ValidationError{Fields: []FieldError{{
				Field: "relation", Tag: "snake_case", Expected: "lower_snake_case", Actual: rel,
				Message: fmt.Sprintf("invalid relation %q", rel),
			}}}
		}
	}
	return nil
}

// NormalizeTags trims, drops empties and removes duplicates, keeping first-seen order.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// HasAnyTag reports whether the block carries at least one of tags.
func (b *MemoryBlock) HasAnyTag(tags []string) bool {
	for _, want := range tags {
		for _, have := range b.Tags {
			if have == want {
				return true
			}
		}
	}
	return false
}

// HasAllTags reports whether the block carries every tag in tags.
func (b *MemoryBlock) HasAllTags(tags []string) bool {
	for _, want := range tags {
		found := false
		for _, have := range b.Tags {
			if have == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// OutgoingLinks expands the block's embedded links into source-qualified links.
func (b *MemoryBlock) OutgoingLinks() []Link {
	out := make([]Link, 0, len(b.Links))
	for _, l := range b.Links {
		out = append(out, Link{FromID: b.ID, ToID: l.ToID, Relation: l.Relation})
	}
	return out
}

// DedupeLinks removes repeated (to_id, relation) pairs, keeping order.
func DedupeLinks(links []BlockLink) []BlockLink {
	if len(links) == 0 {
		return nil
	}
	seen := make(map[BlockLink]bool, len(links))
	out := make([]BlockLink, 0, len(links))
	for _, l := range links {
		if seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	return out
}
