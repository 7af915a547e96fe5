package storage

import (
	"bytes"
	"context"
	"path"
	"time"

	"github.com/feichai0017/migration-orchestrator/pkg/converters"
	"github.com/feichai0017/migration-orchestrator/pkg/errors"
	"github.com/feichai0017/migration-orchestrator/pkg/logger"
)

// ReportArchive stores consolidated run reports as JSON under prefix.
type ReportArchive struct {
	store     Storage
	prefix    string
	retention time.Duration
	logger    logger.Logger
}

func NewReportArchive(store Storage, prefix string, retention time.Duration, log logger.Logger) *ReportArchive {
	if log == nil {
		log = logger.NewNop()
	}
	return &ReportArchive{store: store, prefix: prefix, retention: retention, logger: log.Named("reports")}
}

// Key returns the object key of the report of runID.
func (a *ReportArchive) Key(runID string) string {
	return path.Join(a.prefix, runID+".json")
}

// Save writes report and returns its key.
func (a *ReportArchive) Save(ctx context.Context, report *converters.Report) (string, error) {
	var buf bytes.Buffer
	if err := converters.Encode(&buf, report); err != nil {
		return "", err
	}
	key, err := a.store.Store(ctx, &buf, a.Key(report.RunID))
	if err != nil {
		return "", errors.Wrapf(err, "failed to archive report of run %s", report.RunID)
	}
	a.logger.Info("Report archived", logger.String("runId", report.RunID), logger.String("key", key))
	return key, nil
}

// Load reads the report of runID.
func (a *ReportArchive) Load(ctx context.Context, runID string) (*converters.Report, error) {
	rc, err := a.store.Get(ctx, a.Key(runID))
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return converters.Decode(rc)
}

// Cleanup removes reports older than the retention period.
func (a *ReportArchive) Cleanup(ctx context.Context) (int, error) {
	if a.retention <= 0 {
		return 0, nil
	}
	threshold := time.Now().Add(-a.retention)
	removed, err := a.store.CleanupBefore(ctx, a.prefix, threshold)
	if err != nil {
		return removed, errors.Wrap(err, "failed to cleanup reports")
	}
	a.logger.Info("Completed reports cleanup",
		logger.Time("threshold", threshold),
		logger.Int("removed", removed),
	)
	return removed, nil
}
