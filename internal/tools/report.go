package tools

import (
	"context"

	"github.com/rcliao/memory-bank/internal/bank"
	"github.com/rcliao/memory-bank/internal/schema"
)

// AddValidationReportRequest records how a block fared against its
// acceptance criteria.
type AddValidationReportRequest struct {
	BlockID     string                    `json:"block_id"`
	Results     []schema.ValidationResult `json:"results"`
	ValidatedBy string                    `json:"validated_by"`
	MarkAsDone  bool                      `json:"mark_as_done,omitempty"`
}

// ValidationSummary counts report results.
type ValidationSummary struct {
	Pass  int `json:"pass"`
	Fail  int `json:"fail"`
	Total int `json:"total"`
}

// ValidationReportResult tells whether the block moved to done.
type ValidationReportResult struct {
	Result
	StatusUpdated     bool               `json:"status_updated"`
	ValidationSummary *ValidationSummary `json:"validation_summary,omitempty"`
	IsConsistent      bool               `json:"is_consistent"`
}

// AddValidationReport stores the report. The block becomes done only when
// mark_as_done is set and no result failed.
func (t *Toolset) AddValidationReport(ctx context.Context, req AddValidationReportRequest) ValidationReportResult {
	out, err := t.bank.AddValidationReport(ctx, bank.ReportParams{
		ID:          req.BlockID,
		Results:     req.Results,
		ValidatedBy: req.ValidatedBy,
		MarkAsDone:  req.MarkAsDone,
	})
	if err != nil {
		return ValidationReportResult{Result: t.fail("add_validation_report", err)}
	}
	return ValidationReportResult{
		Result:            ok(),
		StatusUpdated:     out.StatusUpdated,
		ValidationSummary: &ValidationSummary{Pass: out.Pass, Fail: out.Fail, Total: out.Total},
		IsConsistent:      out.Consistent,
	}
}

// ValidateMetadataRequest checks metadata without storing anything.
type ValidateMetadataRequest struct {
	Type     string         `json:"type"`
	Metadata map[string]any `json:"metadata"`
}

// ValidateMetadataResult reports the check. success reflects the call, valid
// the metadata.
type ValidateMetadataResult struct {
	Result
	Validation *schema.Validation `json:"validation,omitempty"`
}

// ValidateMetadata runs the registry's validation for a type. Types without a
// bound model pass with a warning.
func (t *Toolset) ValidateMetadata(_ context.Context, req ValidateMetadataRequest) ValidateMetadataResult {
	if req.Type == "" {
		return ValidateMetadataResult{Result: t.fail("validate_metadata", invalid("type", "type is required"))}
	}
	v := t.bank.Registry().Validate(req.Type, req.Metadata)
	return ValidateMetadataResult{Result: ok(), Validation: &v}
}
