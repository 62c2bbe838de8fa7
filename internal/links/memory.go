package links

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rcliao/memory-bank/internal/model"
)

// Memory is an in-process Manager.
type Memory struct {
	mu      sync.RWMutex
	exists  ExistsFunc
	opts    Options
	forward map[string][]model.BlockLink
}

// NewMemory returns an empty in-memory Manager. exists decides whether a
// block ID is known.
func NewMemory(exists ExistsFunc, opts Options) *Memory {
	return &Memory{exists: exists, opts: opts, forward: map[string][]model.BlockLink{}}
}

func (m *Memory) AddLink(ctx context.Context, fromID, toID, relation string) error {
	if err := validateLink(fromID, toID, relation); err != nil {
		return err
	}
	if err := m.requireExists(ctx, fromID, "source"); err != nil {
		return err
	}
	if !m.opts.AllowPending && toID != fromID {
		if err := m.requireExists(ctx, toID, "target"); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	link := model.BlockLink{ToID: toID, Relation: relation}
	for _, l := range m.forward[fromID] {
		if l == link {
			return nil
		}
	}
	m.forward[fromID] = append(m.forward[fromID], link)
	return nil
}

func (m *Memory) RemoveLink(ctx context.Context, fromID, toID, relation string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	links := m.forward[fromID]
	for i, l := range links {
		if l.ToID == toID && l.Relation == relation {
			m.forward[fromID] = append(links[:i:i], links[i+1:]...)
			break
		}
	}
	if len(m.forward[fromID]) == 0 {
		delete(m.forward, fromID)
	}
	return nil
}

func (m *Memory) Backlinks(ctx context.Context, targetID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for from, links := range m.forward {
		for _, l := range links {
			if l.ToID == targetID {
				out = append(out, from)
				break
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) ForwardLinks(ctx context.Context, sourceID string) ([]model.BlockLink, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.BlockLink(nil), m.forward[sourceID]...), nil
}

func (m *Memory) ReplaceLinks(ctx context.Context, fromID string, links []model.BlockLink) error {
	links = model.DedupeLinks(links)
	if len(links) > 0 {
		if err := m.requireExists(ctx, fromID, "source"); err != nil {
			return err
		}
		if err := m.CheckTargets(ctx, fromID, links); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(links) == 0 {
		delete(m.forward, fromID)
		return nil
	}
	m.forward[fromID] = links
	return nil
}

func (m *Memory) CheckTargets(ctx context.Context, fromID string, links []model.BlockLink) error {
	return checkTargets(ctx, m.exists, m.opts, fromID, links)
}

// Forget drops every link from or to id, as when the block is deleted.
func (m *Memory) Forget(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.forward, id)
	for from, links := range m.forward {
		kept := links[:0]
		for _, l := range links {
			if l.ToID != id {
				kept = append(kept, l)
			}
		}
		if len(kept) == 0 {
			delete(m.forward, from)
		} else {
			m.forward[from] = kept
		}
	}
	return nil
}

func (m *Memory) requireExists(ctx context.Context, id, end string) error {
	ok, err := m.exists(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("link %s %s: %w", end, id, model.ErrNotFound)
	}
	return nil
}
