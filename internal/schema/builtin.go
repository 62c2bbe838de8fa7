package schema

import (
	"fmt"
	"time"
)

// Status values shared by the executable block types.
const (
	StatusBacklog    = "backlog"
	StatusReady      = "ready"
	StatusInProgress = "in_progress"
	StatusReview     = "review"
	StatusBlocked    = "blocked"
	StatusDone       = "done"
	StatusArchived   = "archived"
)

// Versions of the built-in models. Bump only for breaking changes: a new
// required field, a removed field, a type change or tightened validation.
const (
	TaskVersion      = 1
	ProjectVersion   = 1
	EpicVersion      = 1
	BugVersion       = 1
	DocVersion       = 1
	KnowledgeVersion = 1
	LogVersion       = 1
)

// SystemMetadata is carried by every block type.
type SystemMetadata struct {
	AgentID       string    `json:"x_agent_id" validate:"required"`
	Timestamp     time.Time `json:"x_timestamp" validate:"required"`
	ToolID        string    `json:"x_tool_id,omitempty"`
	SessionID     string    `json:"x_session_id,omitempty"`
	ParentBlockID string    `json:"x_parent_block_id,omitempty" validate:"omitempty,uuid"`
}

// ValidationResult is the outcome of checking one acceptance criterion.
type ValidationResult struct {
	Criterion string `json:"criterion" validate:"required"`
	Status    string `json:"status" validate:"required,oneof=pass fail" jsonschema:"enum=pass,enum=fail"`
	Notes     string `json:"notes,omitempty"`
}

// ValidationReport records who checked a block's acceptance criteria and how it went.
type ValidationReport struct {
	ValidatedBy string             `json:"validated_by" validate:"required"`
	Timestamp   time.Time          `json:"timestamp" validate:"required"`
	Results     []ValidationResult `json:"results" validate:"required,min=1,dive"`
}

// Summary counts passing and failing results.
func (r *ValidationReport) Summary() (pass, fail int) {
	if r == nil {
		return 0, 0
	}
	for _, res := range r.Results {
		switch res.Status {
		case "pass":
			pass++
		case "fail":
			fail++
		}
	}
	return pass, fail
}

// ExecutableMetadata is shared by work items: tasks, projects, epics and bugs.
type ExecutableMetadata struct {
	SystemMetadata
	Title              string            `json:"title" validate:"required"`
	Description        string            `json:"description,omitempty"`
	Status             string            `json:"status" validate:"required,oneof=backlog ready in_progress review blocked done archived" jsonschema:"enum=backlog,enum=ready,enum=in_progress,enum=review,enum=blocked,enum=done,enum=archived"`
	Priority           string            `json:"priority,omitempty" validate:"omitempty,oneof=P0 P1 P2 P3 P4 P5" jsonschema:"enum=P0,enum=P1,enum=P2,enum=P3,enum=P4,enum=P5"`
	Owner              string            `json:"owner,omitempty"`
	Assignee           string            `json:"assignee,omitempty"`
	Reviewer           string            `json:"reviewer,omitempty"`
	AcceptanceCriteria []string          `json:"acceptance_criteria" validate:"required,min=1,dive,required"`
	ActionItems        []string          `json:"action_items,omitempty"`
	ExpectedOutputs    []string          `json:"expected_outputs,omitempty"`
	ValidationReport   *ValidationReport `json:"validation_report,omitempty"`
}

type executable interface {
	executable() ExecutableMetadata
}

func (m ExecutableMetadata) executable() ExecutableMetadata { return m }

// TaskMetadata is the model for "task" blocks.
type TaskMetadata struct {
	ExecutableMetadata
	ProjectID     string     `json:"project_id,omitempty" validate:"omitempty,uuid"`
	EpicID        string     `json:"epic_id,omitempty" validate:"omitempty,uuid"`
	EstimateHours *float64   `json:"estimate_hours,omitempty" validate:"omitempty,gte=0"`
	DueDate       *time.Time `json:"due_date,omitempty"`
	Phase         string     `json:"phase,omitempty"`
}

// ProjectMetadata is the model for "project" blocks.
type ProjectMetadata struct {
	ExecutableMetadata
	Goals      []string   `json:"goals,omitempty"`
	StartDate  *time.Time `json:"start_date,omitempty"`
	TargetDate *time.Time `json:"target_date,omitempty"`
}

// EpicMetadata is the model for "epic" blocks.
type EpicMetadata struct {
	ExecutableMetadata
	ProjectID string `json:"project_id,omitempty" validate:"omitempty,uuid"`
}

// BugMetadata is the model for "bug" blocks.
type BugMetadata struct {
	ExecutableMetadata
	Severity    string   `json:"severity" validate:"required,oneof=critical major minor trivial" jsonschema:"enum=critical,enum=major,enum=minor,enum=trivial"`
	Component   string   `json:"component,omitempty"`
	Environment string   `json:"environment,omitempty"`
	ReproSteps  []string `json:"repro_steps,omitempty"`
}

// DocMetadata is the model for "doc" blocks.
type DocMetadata struct {
	SystemMetadata
	Title        string     `json:"title" validate:"required"`
	Audience     string     `json:"audience,omitempty"`
	Section      string     `json:"section,omitempty"`
	DocVersion   string     `json:"doc_version,omitempty"`
	Format       string     `json:"format,omitempty" validate:"omitempty,oneof=markdown html text" jsonschema:"enum=markdown,enum=html,enum=text"`
	Completed    bool       `json:"completed,omitempty"`
	LastReviewed *time.Time `json:"last_reviewed,omitempty"`
}

// KnowledgeMetadata is the model for "knowledge" blocks.
type KnowledgeMetadata struct {
	SystemMetadata
	Title      string   `json:"title" validate:"required"`
	Subject    string   `json:"subject,omitempty"`
	Source     string   `json:"source,omitempty"`
	Keywords   []string `json:"keywords,omitempty"`
	Confidence *float64 `json:"confidence,omitempty" validate:"omitempty,gte=0,lte=1"`
}

// LogMetadata is the model for "log" blocks.
type LogMetadata struct {
	SystemMetadata
	Level      string   `json:"level,omitempty" validate:"omitempty,oneof=debug info warn error" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	Model      string   `json:"model,omitempty"`
	InputText  string   `json:"input_text,omitempty"`
	OutputText string   `json:"output_text,omitempty"`
	TokensUsed *int     `json:"tokens_used,omitempty" validate:"omitempty,gte=0"`
	LatencyMs  *float64 `json:"latency_ms,omitempty" validate:"omitempty,gte=0"`
}

// ExecutableTypes are the block types that carry acceptance criteria and
// accept validation reports.
var ExecutableTypes = map[string]bool{
	"task":    true,
	"project": true,
	"epic":    true,
	"bug":     true,
}

// Builtins returns the models shipped with the memory bank.
func Builtins() []Model {
	return []Model{
		NewStructModel[TaskMetadata]("task", TaskVersion),
		NewStructModel[ProjectMetadata]("project", ProjectVersion),
		NewStructModel[EpicMetadata]("epic", EpicVersion),
		NewStructModel[BugMetadata]("bug", BugVersion),
		NewStructModel[DocMetadata]("doc", DocVersion),
		NewStructModel[KnowledgeMetadata]("knowledge", KnowledgeVersion),
		NewStructModel[LogMetadata]("log", LogVersion),
	}
}

// RegisterBuiltins binds every built-in model on r.
func RegisterBuiltins(r *Registry) error {
	for _, m := range Builtins() {
		if err := r.Register(m); err != nil {
			return fmt.Errorf("register %s: %w", m.Name(), err)
		}
	}
	return nil
}
