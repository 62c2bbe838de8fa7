package schema

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/memory-bank/internal/model"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry(nil)
	require.NoError(t, RegisterBuiltins(r))
	return r
}

func system() map[string]any {
	return map[string]any{
		"x_agent_id":  "agent-1",
		"x_timestamp": time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC).Format(time.RFC3339),
	}
}

func taskMeta(extra map[string]any) map[string]any {
	md := system()
	md["title"] = "Write the parser"
	md["status"] = StatusBacklog
	md["acceptance_criteria"] = []string{"parses input"}
	for k, v := range extra {
		md[k] = v
	}
	return md
}

func TestResolveLatest(t *testing.T) {
	r := newTestRegistry(t)
	m, v, err := r.Resolve("task", Latest)
	require.NoError(t, err)
	assert.Equal(t, TaskVersion, v)
	assert.Equal(t, "task", m.Name())

	_, v, err = r.Resolve("task", TaskVersion)
	require.NoError(t, err)
	assert.Equal(t, TaskVersion, v)
}

func TestResolveErrors(t *testing.T) {
	r := newTestRegistry(t)

	_, _, err := r.Resolve("spaceship", Latest)
	assert.ErrorIs(t, err, model.ErrUnknownType)

	_, _, err = r.Resolve("task", TaskVersion+1)
	assert.ErrorIs(t, err, model.ErrVersionMismatch)

	r.RecordVersion("task", TaskVersion+1)
	_, _, err = r.Resolve("task", Latest)
	assert.ErrorIs(t, err, model.ErrNoModelRegistered)
}

func TestResolveAlwaysReturnsHighestVersion(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register(NewStructModel[DocMetadata]("doc", 1)))
	require.NoError(t, r.Register(NewStructModel[DocMetadata]("doc", 2)))

	_, v, err := r.Resolve("doc", Latest)
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	_, _, err = r.Resolve("doc", 1)
	assert.ErrorIs(t, err, model.ErrVersionMismatch)
}

func TestRegisterRejectsDowngrade(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register(NewStructModel[DocMetadata]("doc", 2)))
	err := r.Register(NewStructModel[DocMetadata]("doc", 1))
	assert.ErrorIs(t, err, model.ErrVersionDowngrade)

	err = r.Register(NewStructModel[DocMetadata]("doc", 0))
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestRegisterRejectsVersionGap(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register(NewStructModel[DocMetadata]("doc", 1)))
	err := r.Register(NewStructModel[DocMetadata]("doc", 3))
	assert.ErrorIs(t, err, model.ErrVersionGap)

	_, v, err := r.Resolve("doc", Latest)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestCheckVersion(t *testing.T) {
	v1 := []byte(`{"type":"object","properties":{"title":{"type":"string"}},"required":["title"]}`)
	optional := []byte(`{"type":"object","properties":{"title":{"type":"string"},"note":{"type":"string"}},"required":["title"]}`)
	required := []byte(`{"type":"object","properties":{"title":{"type":"string"},"note":{"type":"string"}},"required":["title","note"]}`)

	tests := []struct {
		name    string
		latest  int
		prev    []byte
		version int
		next    []byte
		want    error
	}{
		{"first version", 0, nil, 1, v1, nil},
		{"first version above one", 0, nil, 2, v1, model.ErrVersionGap},
		{"zero version", 0, nil, 0, v1, model.ErrValidation},
		{"same version", 1, v1, 1, optional, nil},
		{"downgrade", 2, v1, 1, v1, model.ErrVersionDowngrade},
		{"gap", 1, v1, 9, required, model.ErrVersionGap},
		{"non-breaking bump", 1, v1, 2, optional, model.ErrNeedlessBump},
		{"identical bump", 1, v1, 2, v1, model.ErrNeedlessBump},
		{"breaking bump", 1, v1, 2, required, nil},
		{"bump with unknown previous schema", 1, nil, 2, optional, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckVersion("widget", tt.latest, tt.prev, tt.version, tt.next)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestValidateWithoutModelIsPermissive(t *testing.T) {
	r := NewRegistry(nil)

	res := r.Validate("note", nil)
	assert.True(t, res.Valid)
	assert.Empty(t, res.Warnings)

	res = r.Validate("note", map[string]any{"anything": 1})
	assert.True(t, res.Valid)
	assert.Len(t, res.Warnings, 1)
}

func TestTaskAcceptanceCriteriaRequired(t *testing.T) {
	r := newTestRegistry(t)

	res := r.Validate("task", taskMeta(map[string]any{"acceptance_criteria": []string{}}))
	require.False(t, res.Valid)
	assert.Equal(t, "acceptance_criteria", res.Errors[0].Field)
	assert.Equal(t, "min", res.Errors[0].Tag)

	md := taskMeta(nil)
	delete(md, "acceptance_criteria")
	res = r.Validate("task", md)
	require.False(t, res.Valid)
	assert.Equal(t, "acceptance_criteria", res.Errors[0].Field)
}

func TestTaskDoneRequiresReport(t *testing.T) {
	r := newTestRegistry(t)

	res := r.Validate("task", taskMeta(map[string]any{"status": StatusDone}))
	require.False(t, res.Valid)
	assert.Equal(t, "validation_report", res.Errors[0].Field)
	assert.Equal(t, "done_requires_report", res.Errors[0].Tag)

	failing := map[string]any{
		"validated_by": "reviewer",
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
		"results":      []any{map[string]any{"criterion": "parses input", "status": "fail"}},
	}
	res = r.Validate("task", taskMeta(map[string]any{"status": StatusDone, "validation_report": failing}))
	require.False(t, res.Valid)
	assert.Equal(t, "done_requires_pass", res.Errors[0].Tag)

	passing := map[string]any{
		"validated_by": "reviewer",
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
		"results":      []any{map[string]any{"criterion": "parses input", "status": "pass"}},
	}
	res = r.Validate("task", taskMeta(map[string]any{"status": StatusDone, "validation_report": passing}))
	assert.True(t, res.Valid, "%v", res.Errors)
}

func TestSystemFieldsRequired(t *testing.T) {
	r := newTestRegistry(t)
	md := taskMeta(nil)
	delete(md, "x_agent_id")
	res := r.Validate("task", md)
	require.False(t, res.Valid)
	assert.Equal(t, "x_agent_id", res.Errors[0].Field)
}

func TestCheckSplitsExtras(t *testing.T) {
	m := NewStructModel[TaskMetadata]("task", 1)
	out := m.Check(taskMeta(map[string]any{
		"custom_color": "blue",
		"priority":     "P9",
	}))
	assert.Equal(t, map[string]any{"custom_color": "blue"}, out.Extras)
	require.Len(t, out.Errors, 1)
	assert.Equal(t, "priority", out.Errors[0].Field)
	assert.NotContains(t, out.Valid, "priority")
	assert.Contains(t, out.Valid, "title")
}

func TestCheckReportsWrongTypes(t *testing.T) {
	m := NewStructModel[TaskMetadata]("task", 1)
	out := m.Check(taskMeta(map[string]any{"estimate_hours": "lots"}))
	require.NotEmpty(t, out.Errors)
	assert.Equal(t, "estimate_hours", out.Errors[0].Field)
	assert.Equal(t, "type", out.Errors[0].Tag)
	assert.Contains(t, out.Valid, "title")
}

func TestStructModelJSONSchema(t *testing.T) {
	js, err := NewStructModel[TaskMetadata]("task", 1).JSONSchema()
	require.NoError(t, err)
	assert.Contains(t, string(js), `"acceptance_criteria"`)
	assert.Contains(t, string(js), `"x_agent_id"`)
	assert.Contains(t, string(js), GeneratedAtKey)
}

const noteSchema = `{
  "type": "object",
  "properties": {
    "title": {"type": "string", "minLength": 1},
    "rating": {"type": "number", "minimum": 0, "maximum": 5}
  },
  "required": ["title"]
}`

func TestJSONSchemaModel(t *testing.T) {
	m, err := NewJSONSchemaModel("note", 1, []byte(noteSchema))
	require.NoError(t, err)

	out := m.Check(map[string]any{"title": "hi", "rating": 3.0, "mood": "ok"})
	assert.True(t, out.OK())
	assert.Equal(t, map[string]any{"mood": "ok"}, out.Extras)
	assert.Len(t, out.Valid, 2)

	out = m.Check(map[string]any{"rating": 9.0})
	require.False(t, out.OK())
	fields := map[string]bool{}
	for _, fe := range out.Errors {
		fields[fe.Field] = true
	}
	assert.True(t, fields["title"])
	assert.True(t, fields["rating"])
}

func TestJSONSchemaModelRejectsBadSchema(t *testing.T) {
	_, err := NewJSONSchemaModel("note", 1, []byte(`{"type": 12`))
	assert.True(t, errors.Is(err, model.ErrValidation))
}

func TestEquivalentIgnoresGenerationTime(t *testing.T) {
	m := NewStructModel[DocMetadata]("doc", 1)
	a, err := m.JSONSchema()
	require.NoError(t, err)
	b, err := m.JSONSchema()
	require.NoError(t, err)
	assert.True(t, Equivalent(a, b))
	assert.False(t, Equivalent(a, []byte(noteSchema)))
}

func TestIsBreaking(t *testing.T) {
	base := `{"properties":{"title":{"type":"string"},"rating":{"type":"number"}},"required":["title"]}`

	breaking, _ := IsBreaking([]byte(base), []byte(`{"properties":{"title":{"type":"string"},"rating":{"type":"number"},"tag":{"type":"string"}},"required":["title"]}`))
	assert.False(t, breaking, "adding an optional field is not breaking")

	cases := map[string]string{
		"new required": `{"properties":{"title":{"type":"string"},"rating":{"type":"number"}},"required":["title","rating"]}`,
		"removed":      `{"properties":{"title":{"type":"string"}},"required":["title"]}`,
		"type change":  `{"properties":{"title":{"type":"string"},"rating":{"type":"string"}},"required":["title"]}`,
		"tightened":    `{"properties":{"title":{"type":"string","minLength":3},"rating":{"type":"number"}},"required":["title"]}`,
	}
	for name, next := range cases {
		t.Run(name, func(t *testing.T) {
			breaking, reasons := IsBreaking([]byte(base), []byte(next))
			assert.True(t, breaking)
			assert.NotEmpty(t, reasons)
		})
	}
}

type fakeSchemaStore struct {
	recs []model.SchemaRecord
}

func (f *fakeSchemaStore) RegisterSchema(_ context.Context, rec model.SchemaRecord) (bool, error) {
	for _, r := range f.recs {
		if r.NodeType == rec.NodeType && r.Version == rec.Version {
			return false, nil
		}
	}
	f.recs = append(f.recs, rec)
	return true, nil
}

func (f *fakeSchemaStore) ListSchemas(context.Context) ([]model.SchemaRecord, error) {
	return f.recs, nil
}

func TestSyncAndLoad(t *testing.T) {
	ctx := context.Background()
	st := &fakeSchemaStore{}
	r := newTestRegistry(t)
	require.NoError(t, r.Sync(ctx, st))
	assert.Len(t, st.recs, len(Builtins()))

	st.recs = append(st.recs, model.SchemaRecord{NodeType: "note", Version: 2, JSONSchema: []byte(noteSchema)})
	fresh := newTestRegistry(t)
	require.NoError(t, fresh.Load(ctx, st))

	m, v, err := fresh.Resolve("note", Latest)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
	assert.Equal(t, "note", m.Name())

	_, _, err = fresh.Resolve("task", Latest)
	assert.NoError(t, err)
}
