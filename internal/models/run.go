package models

import (
	"time"
)

// RunStats aggregates a run.
type RunStats struct {
	Total           int        `json:"total"`
	Completed       int        `json:"completed"`
	Failed          int        `json:"failed"`
	Skipped         int        `json:"skipped"`
	TotalDurationMs int64      `json:"totalDurationMs"`
	Waves           int        `json:"waves"`
	ExecutionOrder  [][]string `json:"executionOrder"`
	Cancelled       bool       `json:"cancelled,omitempty"`
}

// Outcome names the overall result: cancelled, failed or succeeded.
func (s RunStats) Outcome() string {
	switch {
	case s.Cancelled:
		return "cancelled"
	case s.Failed > 0:
		return "failed"
	default:
		return "succeeded"
	}
}

// RunResult is the outcome of one runAll call.
type RunResult struct {
	RunID     string         `json:"runId,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Results   []ObjectResult `json:"results"`
	Stats     RunStats       `json:"stats"`
}

// Result returns the result for objectID.
func (r *RunResult) Result(objectID string) (ObjectResult, bool) {
	for _, res := range r.Results {
		if res.ObjectID == objectID {
			return res, true
		}
	}
	return ObjectResult{}, false
}

// Plan is the planner output: the closed object set and its waves.
type Plan struct {
	ObjectIDs []string   `json:"objectIds"`
	Waves     [][]string `json:"waves"`
	// Added lists prerequisites pulled in by closure that the filters had removed.
	Added []string `json:"added,omitempty"`
	// CircularFallback is set when the final wave holds objects stuck in a cycle.
	CircularFallback bool `json:"circularFallback,omitempty"`
}

// RunRequest is the serialisable form of run options used by the API, the queue and the CLI.
type RunRequest struct {
	ObjectIDs         []string `json:"objectIds,omitempty" yaml:"objectIds" validate:"omitempty,dive,objectid"`
	IncludeModules    []string `json:"includeModules,omitempty" yaml:"includeModules" validate:"omitempty,dive,required,max=32"`
	ExcludeModules    []string `json:"excludeModules,omitempty" yaml:"excludeModules" validate:"omitempty,dive,required,max=32"`
	ExcludeObjects    []string `json:"excludeObjects,omitempty" yaml:"excludeObjects" validate:"omitempty,dive,objectid"`
	IncludeConfig     *bool    `json:"includeConfig,omitempty" yaml:"includeConfig"`
	IncludeInterfaces *bool    `json:"includeInterfaces,omitempty" yaml:"includeInterfaces"`
	Parallel          *bool    `json:"parallel,omitempty" yaml:"parallel"`
	MaxParallel       int      `json:"maxParallel,omitempty" yaml:"maxParallel" validate:"gte=0"`
}

// Bool returns a pointer to v.
func Bool(v bool) *bool { return &v }

// BoolOr dereferences p, falling back to def when nil.
func BoolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// RunState is the lifecycle state of a queued or inline run.
type RunState string

const (
	RunPending   RunState = "pending"
	RunRunning   RunState = "running"
	RunCompleted RunState = "completed"
	RunFailed    RunState = "failed"
	RunCancelled RunState = "cancelled"
)

// Terminal reports whether no further transitions happen.
func (s RunState) Terminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

// RunStatus is the persisted status of a run.
type RunStatus struct {
	RunID      string     `json:"runId"`
	State      RunState   `json:"state"`
	Progress   float64    `json:"progress"`
	Total      int        `json:"total"`
	Finished   int        `json:"finished"`
	Failed     int        `json:"failed"`
	Error      string     `json:"error,omitempty"`
	Request    RunRequest `json:"request"`
	CreatedAt  time.Time  `json:"createdAt"`
	StartedAt  time.Time  `json:"startedAt,omitempty"`
	FinishedAt time.Time  `json:"finishedAt,omitempty"`
	ReportKey  string     `json:"reportKey,omitempty"`
}

// ObjectInfo describes a registered object for listings.
type ObjectInfo struct {
	ObjectID     string   `json:"objectId"`
	Name         string   `json:"name"`
	Module       string   `json:"module"`
	Dependencies []string `json:"dependencies"`
}
