package schema

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/rcliao/memory-bank/internal/model"
)

// Latest asks Resolve for the newest registered version.
const Latest = 0

// Registry maps block type names to their current model and version.
// Construct one at startup and pass it to the components that need it.
type Registry struct {
	mu       sync.RWMutex
	versions map[string]int
	models   map[string]Model
	log      *log.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.Default()
	}
	return &Registry{
		versions: make(map[string]int),
		models:   make(map[string]Model),
		log:      logger.WithPrefix("schema"),
	}
}

// Register binds m as the model for m.Name(). Registering a version lower
// than the one already known for the type fails with ErrVersionDowngrade,
// skipping past the next version with ErrVersionGap.
func (r *Registry) Register(m Model) error {
	if m == nil {
		return fmt.Errorf("register nil model: %w", model.ErrValidation)
	}
	if m.Name() == "" {
		return &model.ValidationError{Reason: "model has no type name"}
	}
	if m.Version() < 1 {
		return &model.ValidationError{Type: m.Name(), Reason: fmt.Sprintf("schema versions start at 1, got %d", m.Version())}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.versions[m.Name()]; ok {
		switch {
		case m.Version() < cur:
			return fmt.Errorf("register %s v%d: latest is v%d: %w", m.Name(), m.Version(), cur, model.ErrVersionDowngrade)
		case m.Version() > cur+1:
			return fmt.Errorf("register %s v%d: latest is v%d: %w", m.Name(), m.Version(), cur, model.ErrVersionGap)
		}
	}
	r.versions[m.Name()] = m.Version()
	r.models[m.Name()] = m
	r.log.Debug("registered model", "type", m.Name(), "version", m.Version())
	return nil
}

// RecordVersion notes that version v of typ exists (e.g. found in persisted
// schema history). A version newer than the bound model unbinds it, so
// resolving the type reports ErrNoModelRegistered until a matching model is
// registered. Older versions are history and are ignored.
func (r *Registry) RecordVersion(typ string, v int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.versions[typ]
	if ok && v <= cur {
		return
	}
	r.versions[typ] = v
	if m, bound := r.models[typ]; bound && m.Version() != v {
		r.log.Warn("persisted schema is newer than bound model", "type", typ, "persisted", v, "bound", m.Version())
		delete(r.models, typ)
	}
}

// Resolve returns the model for typ. version must be Latest or equal the
// latest known version; older versions are rejected, not fetched.
func (r *Registry) Resolve(typ string, version int) (Model, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	latest, ok := r.versions[typ]
	if !ok {
		return nil, 0, fmt.Errorf("resolve %q: %w", typ, model.ErrUnknownType)
	}
	if version != Latest && version != latest {
		return nil, 0, fmt.Errorf("resolve %q: requested v%d, latest is v%d: %w", typ, version, latest, model.ErrVersionMismatch)
	}
	m, bound := r.models[typ]
	if !bound || m == nil {
		return nil, 0, fmt.Errorf("resolve %q v%d: %w", typ, latest, model.ErrNoModelRegistered)
	}
	return m, latest, nil
}

// Validation is the result of Registry.Validate.
type Validation struct {
	Type     string             `json:"type"`
	Version  int                `json:"version,omitempty"`
	Valid    bool               `json:"valid"`
	Errors   []model.FieldError `json:"errors,omitempty"`
	Extras   []string           `json:"extras,omitempty"`
	Warnings []string           `json:"warnings,omitempty"`
}

// Validate checks metadata against the latest model for typ. With no model
// bound, empty metadata is valid and non-empty metadata passes with a warning,
// so a type's schema can be rolled out after its first blocks.
func (r *Registry) Validate(typ string, metadata map[string]any) Validation {
	res := Validation{Type: typ}
	m, v, err := r.Resolve(typ, Latest)
	if err != nil {
		res.Valid = true
		if len(metadata) > 0 {
			msg := fmt.Sprintf("no model registered for %q; %d field(s) accepted unchecked", typ, len(metadata))
			res.Warnings = append(res.Warnings, msg)
			r.log.Warn("unchecked metadata", "type", typ, "fields", len(metadata), "reason", err)
		}
		return res
	}
	out := m.Check(metadata)
	res.Version = v
	res.Valid = out.OK()
	res.Errors = out.Errors
	for k := range out.Extras {
		res.Extras = append(res.Extras, k)
	}
	sort.Strings(res.Extras)
	return res
}

// LatestVersion returns the latest known version of typ, or 0.
func (r *Registry) LatestVersion(typ string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.versions[typ]
}

// Types lists every type with a known version, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.versions))
	for t := range r.versions {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Models returns the bound models, sorted by type.
func (r *Registry) Models() []Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Model, 0, len(r.models))
	for _, m := range r.models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// SchemaStore persists schema definitions.
type SchemaStore interface {
	RegisterSchema(ctx context.Context, rec model.SchemaRecord) (bool, error)
	ListSchemas(ctx context.Context) ([]model.SchemaRecord, error)
}

// Sync writes the JSON schema of every bound model to st. Identical
// definitions already stored are left untouched.
func (r *Registry) Sync(ctx context.Context, st SchemaStore) error {
	for _, m := range r.Models() {
		js, err := m.JSONSchema()
		if err != nil {
			return fmt.Errorf("generate schema %s v%d: %w", m.Name(), m.Version(), err)
		}
		created, err := st.RegisterSchema(ctx, model.SchemaRecord{
			NodeType:   m.Name(),
			Version:    m.Version(),
			JSONSchema: js,
			CreatedAt:  time.Now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("persist schema %s v%d: %w", m.Name(), m.Version(), err)
		}
		if created {
			r.log.Info("stored schema", "type", m.Name(), "version", m.Version())
		}
	}
	return nil
}

// Load records every persisted schema version and binds JSON-Schema-backed
// models for types that have no Go model.
func (r *Registry) Load(ctx context.Context, st SchemaStore) error {
	recs, err := st.ListSchemas(ctx)
	if err != nil {
		return fmt.Errorf("list schemas: %w", err)
	}
	latest := map[string]model.SchemaRecord{}
	for _, rec := range recs {
		if cur, ok := latest[rec.NodeType]; !ok || rec.Version > cur.Version {
			latest[rec.NodeType] = rec
		}
	}
	for typ, rec := range latest {
		if _, _, err := r.Resolve(typ, Latest); err == nil && r.LatestVersion(typ) >= rec.Version {
			continue
		}
		if r.LatestVersion(typ) == 0 {
			m, err := NewJSONSchemaModel(typ, rec.Version, rec.JSONSchema)
			if err != nil {
				r.log.Warn("persisted schema does not compile", "type", typ, "version", rec.Version, "err", err)
				r.RecordVersion(typ, rec.Version)
				continue
			}
			if err := r.Register(m); err != nil {
				return err
			}
			continue
		}
		r.RecordVersion(typ, rec.Version)
	}
	return nil
}
