package tools

import (
	"context"

	"github.com/rcliao/memory-bank/internal/model"
)

// LinkRequest names one directed link.
type LinkRequest struct {
	FromID   string `json:"from_id"`
	ToID     string `json:"to_id"`
	Relation string `json:"relation"`
}

func (r LinkRequest) check() error {
	if err := model.ValidateBlockID(r.FromID); err != nil {
		return err
	}
	return model.ValidateBlockID(r.ToID)
}

// AddLink records from_id -relation-> to_id. Adding an existing link succeeds.
func (t *Toolset) AddLink(ctx context.Context, req LinkRequest) Result {
	if err := req.check(); err != nil {
		return t.fail("add_link", err)
	}
	if err := t.bank.Links().AddLink(ctx, req.FromID, req.ToID, req.Relation); err != nil {
		return t.fail("add_link", err)
	}
	return ok()
}

// RemoveLink deletes a link. Removing a missing link succeeds.
func (t *Toolset) RemoveLink(ctx context.Context, req LinkRequest) Result {
	if err := req.check(); err != nil {
		return t.fail("remove_link", err)
	}
	if err := t.bank.Links().RemoveLink(ctx, req.FromID, req.ToID, req.Relation); err != nil {
		return t.fail("remove_link", err)
	}
	return ok()
}

// BacklinksRequest names the link target.
type BacklinksRequest struct {
	ID string `json:"id"`
}

// BacklinksResult lists the blocks linking to the target.
type BacklinksResult struct {
	Result
	Backlinks []string          `json:"backlinks"`
	Forward   []model.BlockLink `json:"forward,omitempty"`
}

// GetBacklinks returns the sources linking to a block, plus its own
// outgoing links.
func (t *Toolset) GetBacklinks(ctx context.Context, req BacklinksRequest) BacklinksResult {
	if err := model.ValidateBlockID(req.ID); err != nil {
		return BacklinksResult{Result: t.fail("get_backlinks", err), Backlinks: []string{}}
	}
	back, err := t.bank.Links().Backlinks(ctx, req.ID)
	if err != nil {
		return BacklinksResult{Result: t.fail("get_backlinks", err), Backlinks: []string{}}
	}
	fwd, err := t.bank.Links().ForwardLinks(ctx, req.ID)
	if err != nil {
		return BacklinksResult{Result: t.fail("get_backlinks", err), Backlinks: []string{}}
	}
	if back == nil {
		back = []string{}
	}
	return BacklinksResult{Result: ok(), Backlinks: back, Forward: fwd}
}
