// Package links maintains directed, typed relationships between blocks.
//
// Two implementations share one contract: Memory keeps links in process for
// tests and ephemeral use; StoreManager persists them in the structured
// store's link table.
package links

import (
	"context"
	"fmt"

	"github.com/rcliao/memory-bank/internal/model"
)

// Manager is the authority for link existence and backlink queries.
type Manager interface {
	// AddLink records fromID -relation-> toID. Adding an existing link is a
	// no-op. Both ends must exist unless pending links are allowed.
	AddLink(ctx context.Context, fromID, toID, relation string) error

	// RemoveLink deletes a link; a missing link is not an error.
	RemoveLink(ctx context.Context, fromID, toID, relation string) error

	// Backlinks returns the distinct sources linking to targetID, including
	// targetID itself when it links to itself.
	Backlinks(ctx context.Context, targetID string) ([]string, error)

	// ForwardLinks returns the outgoing links of sourceID.
	ForwardLinks(ctx context.Context, sourceID string) ([]model.BlockLink, error)

	// ReplaceLinks makes links the complete outgoing set of fromID.
	ReplaceLinks(ctx context.Context, fromID string, links []model.BlockLink) error

	// CheckTargets reports links whose target does not exist, unless pending
	// links are allowed. Links from fromID to itself always pass.
	CheckTargets(ctx context.Context, fromID string, links []model.BlockLink) error

	// Forget drops every link from or to id once the block is deleted.
	Forget(ctx context.Context, id string) error
}

// Options configures existence checking.
type Options struct {
	// AllowPending accepts links whose target does not exist yet.
	AllowPending bool
}

// ExistsFunc reports whether a block exists.
type ExistsFunc func(ctx context.Context, id string) (bool, error)

func validateLink(fromID, toID, relation string) error {
	if fromID == "" || toID == "" {
		return &model.ValidationError{Fields: []model.FieldError{{Field: "to_id", Tag: "required", Message: "link endpoints are required"}}}
	}
	return model.ValidateRelation(relation)
}

func checkTargets(ctx context.Context, exists ExistsFunc, opts Options, fromID string, links []model.BlockLink) error {
	var fields []model.FieldError
	for i, l := range links {
		if err := validateLink(fromID, l.ToID, l.Relation); err != nil {
			return err
		}
		if opts.AllowPending || l.ToID == fromID {
			continue
		}
		ok, err := exists(ctx, l.ToID)
		if err != nil {
			return err
		}
		if !ok {
			fields = append(fields, model.FieldError{
				Field: fmt.Sprintf("links[%d].to_id", i), Tag: "exists", Actual: l.ToID,
				Message: fmt.Sprintf("link target %s does not exist", l.ToID),
			})
		}
	}
	if len(fields) > 0 {
		return &model.ValidationError{Reason: "dangling link", Fields: fields}
	}
	return nil
}

func sameLinks(a, b []model.BlockLink) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
