package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/memory-bank/internal/schema"
	"github.com/rcliao/memory-bank/internal/tools"
)

func init() {
	validate := &cobra.Command{
		Use:   "validate <type> <metadata-json>",
		Short: "Check metadata against a type's schema without storing anything",
		Args:  cobra.ExactArgs(2),
		RunE:  runValidate,
	}

	report := &cobra.Command{
		Use:   "report <id>",
		Short: "Record a validation report for a block",
		Long: `Record how a block fared against its acceptance criteria.

Example:
  memory-bank report 3f2c... --pass "tests green" --fail "docs updated" --by reviewer
  memory-bank report 3f2c... --pass "tests green" --done`,
		Args: cobra.ExactArgs(1),
		RunE: runReport,
	}
	report.Flags().StringArray("pass", nil, "Criterion that passed (repeatable)")
	report.Flags().StringArray("fail", nil, "Criterion that failed (repeatable)")
	report.Flags().String("by", "", "Validator (required)")
	report.Flags().Bool("done", false, "Mark the block done when nothing failed")
	report.MarkFlagRequired("by")

	RootCmd.AddCommand(validate, report)
}

func runValidate(cmd *cobra.Command, args []string) error {
	meta, err := parseJSONFlag("metadata", args[1])
	if err != nil {
		return err
	}
	return withApp(cmd, func(a *app) error {
		res := a.tools.ValidateMetadata(cmd.Context(), tools.ValidateMetadataRequest{Type: args[0], Metadata: meta})
		if err := printResult(cmd, res); err != nil {
			return err
		}
		if res.Validation != nil && !res.Validation.Valid {
			return errFailed
		}
		return nil
	})
}

func runReport(cmd *cobra.Command, args []string) error {
	passed, _ := cmd.Flags().GetStringArray("pass")
	failed, _ := cmd.Flags().GetStringArray("fail")
	by, _ := cmd.Flags().GetString("by")
	done, _ := cmd.Flags().GetBool("done")

	var results []schema.ValidationResult
	for _, c := range passed {
		results = append(results, schema.ValidationResult{Criterion: c, Status: "pass"})
	}
	for _, c := range failed {
		results = append(results, schema.ValidationResult{Criterion: c, Status: "fail"})
	}

	return withApp(cmd, func(a *app) error {
		return printResult(cmd, a.tools.AddValidationReport(cmd.Context(), tools.AddValidationReportRequest{
			BlockID:     args[0],
			Results:     results,
			ValidatedBy: by,
			MarkAsDone:  done,
		}))
	})
}
