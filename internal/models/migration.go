package models

import (
	"strings"
	"time"
)

// Record is one row flowing through a pipeline. Keys are field names.
type Record map[string]interface{}

// MetaPrefix marks fields that travel with a record but are never loaded.
const MetaPrefix = "_"

// SourceField carries the source table a record was extracted from.
const SourceField = MetaPrefix + "source"

// Clone returns a shallow copy of r.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// WithoutMeta returns a copy of r without meta fields.
func (r Record) WithoutMeta() Record {
	out := make(Record, len(r))
	for k, v := range r {
		if strings.HasPrefix(k, MetaPrefix) {
			continue
		}
		out[k] = v
	}
	return out
}

// Phase names one step of the ETLV pipeline.
type Phase string

const (
	PhaseExtract   Phase = "extract"
	PhaseTransform Phase = "transform"
	PhaseValidate  Phase = "validate"
	PhaseLoad      Phase = "load"
)

// Phases lists the pipeline steps in execution order.
var Phases = []Phase{PhaseExtract, PhaseTransform, PhaseValidate, PhaseLoad}

// PhaseStatus is the outcome of a single phase.
type PhaseStatus string

const (
	PhasePassed   PhaseStatus = "passed"
	PhaseWarnings PhaseStatus = "warnings"
	PhaseErrors   PhaseStatus = "errors"
	PhaseSkipped  PhaseStatus = "skipped"
	PhaseFatal    PhaseStatus = "fatal"
)

// Severity of a diagnostic.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Diagnostic is one finding produced by a phase.
type Diagnostic struct {
	Code     string   `json:"code,omitempty"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Field    string   `json:"field,omitempty"`
	// Record is the index of the offending record, or -1 when not record specific.
	Record int `json:"record"`
}

// PhaseResult is the structured outcome of one phase for one object.
type PhaseResult struct {
	Status       PhaseStatus  `json:"status"`
	RecordCount  int          `json:"recordCount"`
	SuccessCount int          `json:"successCount,omitempty"`
	ErrorCount   int          `json:"errorCount,omitempty"`
	WarningCount int          `json:"warningCount,omitempty"`
	MergedCount  int          `json:"mergedCount,omitempty"`
	DurationMs   int64        `json:"durationMs"`
	Records      []Record     `json:"-"`
	Diagnostics  []Diagnostic `json:"diagnostics"`
}

// NewPhaseResult returns an empty passed result.
func NewPhaseResult() *PhaseResult {
	return &PhaseResult{Status: PhasePassed, Diagnostics: []Diagnostic{}}
}

// SkippedPhase returns the placeholder for a phase that never ran.
func SkippedPhase(reason string) *PhaseResult {
	res := NewPhaseResult()
	res.Status = PhaseSkipped
	if reason != "" {
		res.Diagnostics = append(res.Diagnostics, Diagnostic{Severity: SeverityInfo, Message: reason, Record: -1})
	}
	return res
}

// FatalPhase returns the result recorded when a phase raised.
func FatalPhase(code string, cause error) *PhaseResult {
	res := NewPhaseResult()
	res.Status = PhaseFatal
	res.Diagnostics = append(res.Diagnostics, Diagnostic{
		Code:     code,
		Severity: SeverityError,
		Message:  cause.Error(),
		Record:   -1,
	})
	return res
}

// AddError appends an error diagnostic and bumps ErrorCount.
func (p *PhaseResult) AddError(code, field string, record int, msg string) {
	p.ErrorCount++
	p.Diagnostics = append(p.Diagnostics, Diagnostic{Code: code, Severity: SeverityError, Message: msg, Field: field, Record: record})
}

// AddWarning appends a warning diagnostic and bumps WarningCount.
func (p *PhaseResult) AddWarning(code, field string, record int, msg string) {
	p.WarningCount++
	p.Diagnostics = append(p.Diagnostics, Diagnostic{Code: code, Severity: SeverityWarning, Message: msg, Field: field, Record: record})
}

// Settle derives Status from the counters unless the phase is fatal or skipped.
func (p *PhaseResult) Settle() {
	switch p.Status {
	case PhaseFatal, PhaseSkipped:
		return
	}
	switch {
	case p.ErrorCount > 0:
		p.Status = PhaseErrors
	case p.WarningCount > 0:
		p.Status = PhaseWarnings
	default:
		p.Status = PhasePassed
	}
}

// ObjectStatus is the derived outcome of one object.
type ObjectStatus string

const (
	StatusCompleted           ObjectStatus = "completed"
	StatusCompletedWithErrors ObjectStatus = "completed_with_errors"
	StatusValidationFailed    ObjectStatus = "validation_failed"
	StatusError               ObjectStatus = "error"
	StatusSkipped             ObjectStatus = "skipped"
)

// Succeeded reports whether the status counts as completed in run stats.
func (s ObjectStatus) Succeeded() bool {
	return s == StatusCompleted || s == StatusCompletedWithErrors
}

// PhaseSet holds one result per phase. Missing phases never ran.
type PhaseSet struct {
	Extract   *PhaseResult `json:"extract,omitempty"`
	Transform *PhaseResult `json:"transform,omitempty"`
	Validate  *PhaseResult `json:"validate,omitempty"`
	Load      *PhaseResult `json:"load,omitempty"`
}

// Get returns the result stored for phase.
func (s *PhaseSet) Get(phase Phase) *PhaseResult {
	switch phase {
	case PhaseExtract:
		return s.Extract
	case PhaseTransform:
		return s.Transform
	case PhaseValidate:
		return s.Validate
	case PhaseLoad:
		return s.Load
	}
	return nil
}

// Set stores res for phase.
func (s *PhaseSet) Set(phase Phase, res *PhaseResult) {
	switch phase {
	case PhaseExtract:
		s.Extract = res
	case PhaseTransform:
		s.Transform = res
	case PhaseValidate:
		s.Validate = res
	case PhaseLoad:
		s.Load = res
	}
}

// ObjectStats carries timing for one object.
type ObjectStats struct {
	DurationMs int64     `json:"durationMs"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

// ObjectResult is the outcome of running one migration object.
type ObjectResult struct {
	ObjectID string       `json:"objectId"`
	Name     string       `json:"name,omitempty"`
	Module   string       `json:"module,omitempty"`
	Status   ObjectStatus `json:"status"`
	Phases   PhaseSet     `json:"phases"`
	Stats    ObjectStats  `json:"stats"`
}

// DeriveStatus computes the object status from its phases. Status is never authored.
//
//	error                 any phase fatal
//	skipped               load never ran and nothing failed (cancellation)
//	validation_failed     transform or validate reported errors
//	completed_with_errors load reported per-record errors
//	completed             otherwise
func DeriveStatus(p PhaseSet) ObjectStatus {
	for _, phase := range Phases {
		if res := p.Get(phase); res != nil && res.Status == PhaseFatal {
			return StatusError
		}
	}
	if (p.Transform != nil && p.Transform.Status == PhaseErrors) ||
		(p.Validate != nil && p.Validate.Status == PhaseErrors) {
		return StatusValidationFailed
	}
	if p.Load == nil || p.Load.Status == PhaseSkipped {
		return StatusSkipped
	}
	if p.Load.ErrorCount > 0 {
		return StatusCompletedWithErrors
	}
	return StatusCompleted
}
