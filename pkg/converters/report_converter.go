package converters

import (
	"encoding/json"
	"io"
	"sort"
	"time"

	"github.com/feichai0017/migration-orchestrator/internal/models"
	"github.com/feichai0017/migration-orchestrator/pkg/errors"
)

// RunConverter turns a run result into its consolidated report.
type RunConverter interface {
	Convert(run *models.RunResult) (*Report, error)
}

// Report is the audit document archived for every run.
type Report struct {
	RunID       string          `json:"runId"`
	Timestamp   time.Time       `json:"timestamp"`
	GeneratedAt time.Time       `json:"generatedAt"`
	Summary     Summary         `json:"summary"`
	Waves       [][]string      `json:"waves"`
	Modules     []ModuleSummary `json:"modules"`
	Objects     []ObjectRow     `json:"objects"`
	Failures    []Failure       `json:"failures"`
}

// Summary aggregates the run.
type Summary struct {
	Outcome     string  `json:"outcome"`
	Total       int     `json:"total"`
	Completed   int     `json:"completed"`
	Failed      int     `json:"failed"`
	Skipped     int     `json:"skipped"`
	Waves       int     `json:"waves"`
	DurationMs  int64   `json:"durationMs"`
	SuccessRate float64 `json:"successRate"`
	Cancelled   bool    `json:"cancelled,omitempty"`
}

// ModuleSummary is the per-module breakdown.
type ModuleSummary struct {
	Module    string `json:"module"`
	Total     int    `json:"total"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
	Loaded    int    `json:"loaded"`
}

// ObjectRow is one line of the object table.
type ObjectRow struct {
	ObjectID   string              `json:"objectId"`
	Name       string              `json:"name"`
	Module     string              `json:"module"`
	Wave       int                 `json:"wave"`
	Status     models.ObjectStatus `json:"status"`
	Extracted  int                 `json:"extracted"`
	Loaded     int                 `json:"loaded"`
	Merged     int                 `json:"merged,omitempty"`
	Errors     int                 `json:"errors"`
	Warnings   int                 `json:"warnings"`
	DurationMs int64               `json:"durationMs"`
}

// Failure lists the error diagnostics of an object that did not succeed.
type Failure struct {
	ObjectID    string              `json:"objectId"`
	Status      models.ObjectStatus `json:"status"`
	Phase       models.Phase        `json:"phase,omitempty"`
	Diagnostics []models.Diagnostic `json:"diagnostics"`
}

// ReportConverter builds reports. MaxDiagnostics caps the diagnostics kept per
// failure; zero keeps all of them.
type ReportConverter struct {
	MaxDiagnostics int
}

func NewReportConverter(maxDiagnostics int) *ReportConverter {
	return &ReportConverter{MaxDiagnostics: maxDiagnostics}
}

func (c *ReportConverter) Convert(run *models.RunResult) (*Report, error) {
	if run == nil {
		return nil, errors.New("no run result to convert")
	}

	report := &Report{
		RunID:       run.RunID,
		Timestamp:   run.Timestamp,
		GeneratedAt: time.Now().UTC(),
		Waves:       run.Stats.ExecutionOrder,
		Modules:     make([]ModuleSummary, 0),
		Objects:     make([]ObjectRow, 0, len(run.Results)),
		Failures:    make([]Failure, 0),
		Summary: Summary{
			Outcome:    run.Stats.Outcome(),
			Total:      run.Stats.Total,
			Completed:  run.Stats.Completed,
			Failed:     run.Stats.Failed,
			Skipped:    run.Stats.Skipped,
			Waves:      run.Stats.Waves,
			DurationMs: run.Stats.TotalDurationMs,
			Cancelled:  run.Stats.Cancelled,
		},
	}
	if run.Stats.Total > 0 {
		report.Summary.SuccessRate = float64(run.Stats.Completed) / float64(run.Stats.Total)
	}

	waveOf := make(map[string]int)
	for k, wave := range run.Stats.ExecutionOrder {
		for _, id := range wave {
			waveOf[id] = k
		}
	}

	modules := make(map[string]*ModuleSummary)
	for _, res := range run.Results {
		row := ObjectRow{
			ObjectID:   res.ObjectID,
			Name:       res.Name,
			Module:     res.Module,
			Wave:       waveOf[res.ObjectID],
			Status:     res.Status,
			DurationMs: res.Stats.DurationMs,
		}
		for _, phase := range models.Phases {
			p := res.Phases.Get(phase)
			if p == nil {
				continue
			}
			row.Errors += p.ErrorCount
			row.Warnings += p.WarningCount
			row.Merged += p.MergedCount
		}
		if p := res.Phases.Extract; p != nil {
			row.Extracted = p.RecordCount
		}
		if p := res.Phases.Load; p != nil && p.Status != models.PhaseSkipped {
			row.Loaded = p.SuccessCount
		}
		report.Objects = append(report.Objects, row)

		m, ok := modules[res.Module]
		if !ok {
			m = &ModuleSummary{Module: res.Module}
			modules[res.Module] = m
		}
		m.Total++
		m.Loaded += row.Loaded
		if res.Status.Succeeded() {
			m.Completed++
			continue
		}
		m.Failed++
		report.Failures = append(report.Failures, c.failure(res))
	}

	for _, m := range modules {
		report.Modules = append(report.Modules, *m)
	}
	sort.Slice(report.Modules, func(i, j int) bool { return report.Modules[i].Module < report.Modules[j].Module })
	return report, nil
}

// failure picks the first phase that went wrong and keeps its error diagnostics.
func (c *ReportConverter) failure(res models.ObjectResult) Failure {
	f := Failure{ObjectID: res.ObjectID, Status: res.Status, Diagnostics: []models.Diagnostic{}}
	for _, phase := range models.Phases {
		p := res.Phases.Get(phase)
		if p == nil || (p.Status != models.PhaseFatal && p.Status != models.PhaseErrors) {
			continue
		}
		if f.Phase == "" {
			f.Phase = phase
		}
		for _, d := range p.Diagnostics {
			if d.Severity != models.SeverityError {
				continue
			}
			if c.MaxDiagnostics > 0 && len(f.Diagnostics) >= c.MaxDiagnostics {
				return f
			}
			f.Diagnostics = append(f.Diagnostics, d)
		}
	}
	return f
}

// Encode writes report as indented JSON.
func Encode(w io.Writer, report *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return errors.Wrap(err, "failed to encode report")
	}
	return nil
}

// Decode reads a report written by Encode.
func Decode(r io.Reader) (*Report, error) {
	var report Report
	if err := json.NewDecoder(r).Decode(&report); err != nil {
		return nil, errors.Wrap(err, "failed to decode report")
	}
	return &report, nil
}
