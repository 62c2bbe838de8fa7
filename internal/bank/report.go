package bank

import (
	"context"
	"fmt"
	"time"

	"github.com/rcliao/memory-bank/internal/model"
	"github.com/rcliao/memory-bank/internal/schema"
)

// ReportParams records the result of checking a block's acceptance criteria.
type ReportParams struct {
	ID          string
	Results     []schema.ValidationResult
	ValidatedBy string
	MarkAsDone  bool
}

// ReportOutcome is the result of AddValidationReport.
type ReportOutcome struct {
	*Outcome
	StatusUpdated bool `json:"status_updated"`
	Pass          int  `json:"pass"`
	Fail          int  `json:"fail"`
	Total         int  `json:"total"`
}

// AddValidationReport stores a validation report in the block's metadata.
// The status moves to done only when MarkAsDone is set and nothing failed;
// non-executable blocks only get the report.
// A failing report on a block that is already done reopens it for review,
// since a done block may not carry a failing report.
func (b *Bank) AddValidationReport(ctx context.Context, p ReportParams) (*ReportOutcome, error) {
	if len(p.Results) == 0 {
		return nil, &model.ValidationError{Fields: []model.FieldError{{Field: "results", Tag: "min", Expected: ">= 1", Message: "at least one result is required"}}}
	}
	if p.ValidatedBy == "" {
		return nil, &model.ValidationError{Fields: []model.FieldError{{Field: "validated_by", Tag: "required", Message: "validated_by is required"}}}
	}
	cur, err := b.Get(ctx, p.ID)
	if err != nil {
		return nil, err
	}

	report := schema.ValidationReport{ValidatedBy: p.ValidatedBy, Timestamp: b.now(), Results: p.Results}
	pass, fail := report.Summary()

	results := make([]any, 0, len(p.Results))
	for _, r := range p.Results {
		m := map[string]any{"criterion": r.Criterion, "status": r.Status}
		if r.Notes != "" {
			m["notes"] = r.Notes
		}
		results = append(results, m)
	}
	md := copyMap(cur.Metadata)
	md["validation_report"] = map[string]any{
		"validated_by": report.ValidatedBy,
		"timestamp":    report.Timestamp.Format(time.RFC3339Nano),
		"results":      results,
	}

	status, _ := md["status"].(string)
	hasStatus := schema.ExecutableTypes[cur.Type]
	done := hasStatus && p.MarkAsDone && fail == 0
	switch {
	case done:
		md["status"] = schema.StatusDone
	case hasStatus && fail > 0 && status == schema.StatusDone:
		md["status"] = schema.StatusReview
	}

	out, err := b.Update(ctx, UpdateParams{ID: p.ID, Metadata: md, Author: p.ValidatedBy})
	if err != nil {
		return nil, fmt.Errorf("record validation report: %w", err)
	}
	return &ReportOutcome{
		Outcome:       out,
		StatusUpdated: done,
		Pass:          pass,
		Fail:          fail,
		Total:         len(p.Results),
	}, nil
}
