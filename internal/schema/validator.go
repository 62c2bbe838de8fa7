package schema

import (
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

var structValidator = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterStructValidation(doneRequiresPassingReport,
		TaskMetadata{}, ProjectMetadata{}, EpicMetadata{}, BugMetadata{})
	return v
}

// doneRequiresPassingReport rejects executable blocks marked done without a
// validation report, or with a report that has failing criteria.
func doneRequiresPassingReport(sl validator.StructLevel) {
	e, ok := sl.Current().Interface().(executable)
	if !ok {
		return
	}
	m := e.executable()
	if m.Status != StatusDone {
		return
	}
	if m.ValidationReport == nil {
		sl.ReportError(m.ValidationReport, "validation_report", "ValidationReport", "done_requires_report", "")
		return
	}
	if _, fail := m.ValidationReport.Summary(); fail > 0 {
		sl.ReportError(m.ValidationReport, "validation_report", "ValidationReport", "done_requires_pass", fmt.Sprint(fail))
	}
}

// fieldPath turns a validator namespace into a dotted metadata path,
// dropping the root type and embedded struct names.
func fieldPath(ns string) string {
	parts := strings.Split(ns, ".")
	out := parts[:0]
	for i, p := range parts {
		if i == 0 || p == "" {
			continue
		}
		if r := []rune(p)[0]; unicode.IsUpper(r) {
			continue
		}
		out = append(out, p)
	}
	return strings.Join(out, ".")
}

func expectation(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "present"
	case "min":
		return ">= " + fe.Param()
	case "max":
		return "<= " + fe.Param()
	case "gte":
		return ">= " + fe.Param()
	case "lte":
		return "<= " + fe.Param()
	case "oneof":
		return "one of [" + fe.Param() + "]"
	case "uuid":
		return "UUID"
	case "done_requires_report":
		return "validation_report when status is done"
	case "done_requires_pass":
		return "no failing criteria when status is done"
	}
	return fe.Tag()
}

func actualValue(fe validator.FieldError) any {
	v := fe.Value()
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
	case reflect.Struct:
		return nil
	}
	return v
}

func fieldMessage(path string, fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", path)
	case "min":
		if k := fe.Kind(); k == reflect.Slice || k == reflect.Array || k == reflect.Map {
			return fmt.Sprintf("%s must contain at least %s item(s)", path, fe.Param())
		}
		return fmt.Sprintf("%s must be at least %s", path, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be >= %s", path, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be <= %s", path, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %v", path, fe.Param(), fe.Value())
	case "uuid":
		return fmt.Sprintf("%s must be a UUID", path)
	case "done_requires_report":
		return "status done requires a validation_report"
	case "done_requires_pass":
		return fmt.Sprintf("status done requires a passing validation_report (%s failing)", fe.Param())
	}
	return fmt.Sprintf("%s failed %s validation", path, fe.Tag())
}
