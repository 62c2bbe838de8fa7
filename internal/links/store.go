package links

import (
	"context"
	"fmt"

	"github.com/rcliao/memory-bank/internal/model"
)

// LinkStore is the part of the structured store the StoreManager needs.
type LinkStore interface {
	Exists(ctx context.Context, id string) (bool, error)
	AddLink(ctx context.Context, l model.Link) error
	RemoveLink(ctx context.Context, l model.Link) error
	ReplaceLinks(ctx context.Context, fromID string, links []model.BlockLink) error
	ForwardLinks(ctx context.Context, fromID string) ([]model.Link, error)
	Backlinks(ctx context.Context, toID string) ([]string, error)
}

// StoreManager is a Manager persisted in the structured store.
type StoreManager struct {
	st   LinkStore
	opts Options
}

// NewStoreManager returns a Manager backed by st.
func NewStoreManager(st LinkStore, opts Options) *StoreManager {
	return &StoreManager{st: st, opts: opts}
}

func (m *StoreManager) AddLink(ctx context.Context, fromID, toID, relation string) error {
	if err := validateLink(fromID, toID, relation); err != nil {
		return err
	}
	if !m.opts.AllowPending && toID != fromID {
		ok, err := m.st.Exists(ctx, toID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("link target %s: %w", toID, model.ErrNotFound)
		}
	}
	return m.st.AddLink(ctx, model.Link{FromID: fromID, ToID: toID, Relation: relation})
}

func (m *StoreManager) RemoveLink(ctx context.Context, fromID, toID, relation string) error {
	return m.st.RemoveLink(ctx, model.Link{FromID: fromID, ToID: toID, Relation: relation})
}

func (m *StoreManager) Backlinks(ctx context.Context, targetID string) ([]string, error) {
	return m.st.Backlinks(ctx, targetID)
}

func (m *StoreManager) ForwardLinks(ctx context.Context, sourceID string) ([]model.BlockLink, error) {
	links, err := m.st.ForwardLinks(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	out := make([]model.BlockLink, 0, len(links))
	for _, l := range links {
		out = append(out, model.BlockLink{ToID: l.ToID, Relation: l.Relation})
	}
	return out, nil
}

// ReplaceLinks writes only when the stored set differs, so re-syncing links
// that a block write already stored adds no commit.
func (m *StoreManager) ReplaceLinks(ctx context.Context, fromID string, links []model.BlockLink) error {
	links = model.DedupeLinks(links)
	current, err := m.ForwardLinks(ctx, fromID)
	if err != nil {
		return err
	}
	if sameLinks(current, links) {
		return nil
	}
	if err := m.CheckTargets(ctx, fromID, links); err != nil {
		return err
	}
	return m.st.ReplaceLinks(ctx, fromID, links)
}

func (m *StoreManager) CheckTargets(ctx context.Context, fromID string, links []model.BlockLink) error {
	return checkTargets(ctx, m.st.Exists, m.opts, fromID, links)
}

// Forget is a no-op: the store drops a deleted block's links in the delete
// transaction.
func (m *StoreManager) Forget(ctx context.Context, id string) error {
	return nil
}
