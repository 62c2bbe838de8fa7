// Package tools is the agent-facing boundary of the memory bank.
//
// Every tool takes a JSON-tagged request struct and returns a result struct
// carrying an explicit success flag. Errors never cross the boundary as Go
// errors: they are reported as a message plus a machine-readable kind so an
// agent can branch on the outcome.
package tools

import (
	"errors"

	"github.com/charmbracelet/log"

	"github.com/rcliao/memory-bank/internal/bank"
	"github.com/rcliao/memory-bank/internal/model"
)

// Result is embedded in every tool result.
type Result struct {
	Success   bool               `json:"success"`
	Error     string             `json:"error,omitempty"`
	ErrorKind string             `json:"error_kind,omitempty"`
	Fields    []model.FieldError `json:"fields,omitempty"`
}

// OK reports whether the call succeeded.
func (r Result) OK() bool { return r.Success }

// Kind returns the machine-readable error kind, empty on success.
func (r Result) Kind() string { return r.ErrorKind }

func ok() Result { return Result{Success: true} }

// Toolset exposes bank operations as tools.
type Toolset struct {
	bank *bank.Bank
	log  *log.Logger
}

// New returns a Toolset over b.
func New(b *bank.Bank, logger *log.Logger) *Toolset {
	if logger == nil {
		logger = log.Default()
	}
	return &Toolset{bank: b, log: logger.WithPrefix("tools")}
}

// Bank returns the underlying bank.
func (t *Toolset) Bank() *bank.Bank { return t.bank }

// fail converts err into a failed Result. Caller mistakes are logged at
// debug level, everything else as an error.
func (t *Toolset) fail(tool string, err error) Result {
	kind := model.ErrorKind(err)
	res := Result{Error: kind + ": " + err.Error(), ErrorKind: kind}
	var ve *model.ValidationError
	if errors.As(err, &ve) {
		res.Fields = ve.Fields
	}
	switch kind {
	case "persistence", "internal":
		t.log.Error("tool failed", "tool", tool, "err", err)
	default:
		t.log.Debug("tool rejected call", "tool", tool, "kind", kind, "err", err)
	}
	return res
}

func invalid(field, msg string) error {
	return &model.ValidationError{Fields: []model.FieldError{{Field: field, Tag: "required", Message: msg}}}
}
