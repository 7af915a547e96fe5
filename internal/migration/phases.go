package migration

import (
	"context"
	"fmt"

	"github.com/feichai0017/migration-orchestrator/internal/models"
	"github.com/feichai0017/migration-orchestrator/pkg/errors"
	"github.com/feichai0017/migration-orchestrator/pkg/gateway"
)

// Source names one table an object extracts from.
type Source struct {
	Table   string   `yaml:"table" json:"table"`
	Fields  []string `yaml:"fields,omitempty" json:"fields,omitempty"`
	MaxRows int      `yaml:"maxRows,omitempty" json:"maxRows,omitempty"`
}

// ExtractTables reads every source in order and tags each record with the
// table it came from. Any read failure fails the phase.
func ExtractTables(ctx context.Context, gw gateway.Gateway, sources []Source) (*models.PhaseResult, error) {
	res := models.NewPhaseResult()
	for _, src := range sources {
		rows, err := gw.ReadTable(ctx, src.Table, gateway.ReadOptions{Fields: src.Fields, MaxRows: src.MaxRows})
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read table %s", src.Table)
		}
		for _, row := range rows {
			rec := row.Clone()
			rec[models.SourceField] = src.Table
			res.Records = append(res.Records, rec)
		}
	}
	res.RecordCount = len(res.Records)
	res.SuccessCount = res.RecordCount
	return res, nil
}

// LoadRecords writes each record to the target with meta fields stripped.
// Rejected records are counted as errors; an unreachable or timed out gateway
// fails the whole phase.
func LoadRecords(ctx context.Context, gw gateway.Gateway, objectType string, records []models.Record) (*models.PhaseResult, error) {
	res := models.NewPhaseResult()
	res.RecordCount = len(records)
	res.Records = make([]models.Record, 0, len(records))
	for i, rec := range records {
		clean := rec.WithoutMeta()
		if err := gw.WriteObject(ctx, objectType, clean); err != nil {
			if gateway.IsFatal(err) {
				return nil, errors.Wrapf(err, "failed to write %s record %d", objectType, i)
			}
			res.AddError("", "", i, fmt.Sprintf("record %d rejected: %v", i, err))
			continue
		}
		res.SuccessCount++
		res.Records = append(res.Records, clean)
	}
	res.Settle()
	return res, nil
}
