package gateway

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/migration-orchestrator/internal/models"
	"github.com/feichai0017/migration-orchestrator/pkg/errors"
	"github.com/feichai0017/migration-orchestrator/pkg/logger"
)

var fixtures = fstest.MapFS{
	"SKA1.json": {Data: []byte(`[
		{"SAKNR": "100000", "TXT50": "Cash", "XBILK": "X"},
		{"SAKNR": "200000", "TXT50": "Payables", "XBILK": ""},
		{"SAKNR": "400000", "TXT50": "Revenue", "XBILK": ""}
	]`)},
	"BAD.json": {Data: []byte(`{"not": "an array"}`)},
	"NUM.json": {Data: []byte(`[{"AMOUNT": 1250000}]`)},
}

func TestMockReadTable(t *testing.T) {
	ctx := context.Background()
	gw := NewMock(fixtures)
	assert.Equal(t, ModeMock, gw.Mode())

	rows, err := gw.ReadTable(ctx, "SKA1", ReadOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Cash", rows[0]["TXT50"])

	projected, err := gw.ReadTable(ctx, "SKA1", ReadOptions{Fields: []string{"SAKNR"}, MaxRows: 2})
	require.NoError(t, err)
	assert.Equal(t, []models.Record{{"SAKNR": "100000"}, {"SAKNR": "200000"}}, projected)

	// Callers get copies; fixtures stay deterministic across reads.
	rows[0]["TXT50"] = "mutated"
	again, err := gw.ReadTable(ctx, "SKA1", ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Cash", again[0]["TXT50"])
	assert.Equal(t, 3, gw.Reads("SKA1"))
}

func TestMockNumbersKeepPrecision(t *testing.T) {
	rows, err := NewMock(fixtures).ReadTable(context.Background(), "NUM", ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, json.Number("1250000"), rows[0]["AMOUNT"])
}

func TestMockReadErrors(t *testing.T) {
	ctx := context.Background()
	gw := NewMock(fixtures)

	_, err := gw.ReadTable(ctx, "MISSING", ReadOptions{})
	assert.True(t, errors.IsNotFoundError(err))

	_, err = gw.ReadTable(ctx, "BAD", ReadOptions{})
	assert.Error(t, err)

	_, err = NewMock(nil).ReadTable(ctx, "SKA1", ReadOptions{})
	assert.True(t, errors.IsNotFoundError(err))

	down := NewMock(fixtures, WithUnreachable())
	_, err = down.ReadTable(ctx, "SKA1", ReadOptions{})
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.True(t, IsFatal(down.WriteObject(ctx, "GLAccount", models.Record{})))
}

func TestMockWriteObject(t *testing.T) {
	ctx := context.Background()
	gw := NewMock(nil,
		WithTable("T", []models.Record{{"ID": "1"}}),
		WithWriteHook(func(_ string, rec models.Record) error {
			if rec["ID"] == "bad" {
				return errors.Wrap(ErrRejected, "ID bad")
			}
			return nil
		}),
	)

	rows, err := gw.ReadTable(ctx, "T", ReadOptions{})
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	require.NoError(t, gw.WriteObject(ctx, "Thing", models.Record{"ID": "1"}))
	err = gw.WriteObject(ctx, "Thing", models.Record{"ID": "bad"})
	assert.ErrorIs(t, err, ErrRejected)
	assert.False(t, IsFatal(err))
	assert.Equal(t, []models.Record{{"ID": "1"}}, gw.Written("Thing"))
}

type flaky struct {
	failures int32
	calls    int32
	err      error
	block    bool
}

func (f *flaky) Mode() Mode { return ModeLive }

func (f *flaky) ReadTable(ctx context.Context, table string, _ ReadOptions) ([]models.Record, error) {
	n := atomic.AddInt32(&f.calls, 1)
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if n <= f.failures {
		return nil, f.err
	}
	return []models.Record{{"TABLE": table}}, nil
}

func (f *flaky) WriteObject(ctx context.Context, _ string, _ models.Record) error {
	_, err := f.ReadTable(ctx, "", ReadOptions{})
	return err
}

func fastPolicy() ResilientConfig {
	return ResilientConfig{CallTimeout: time.Second, MaxRetries: 3, InitialInterval: time.Millisecond}
}

func TestResilientRetriesUnreachable(t *testing.T) {
	log := logger.NewTestLogger()
	next := &flaky{failures: 2, err: ErrUnreachable}
	gw := NewResilient(next, fastPolicy(), log)
	assert.Equal(t, ModeLive, gw.Mode())

	rows, err := gw.ReadTable(context.Background(), "KNA1", ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, "KNA1", rows[0]["TABLE"])
	assert.EqualValues(t, 3, atomic.LoadInt32(&next.calls))
	assert.Len(t, log.EntriesAt("WARN"), 2)
}

func TestResilientGivesUp(t *testing.T) {
	next := &flaky{failures: 100, err: ErrUnreachable}
	gw := NewResilient(next, fastPolicy(), nil)

	err := gw.WriteObject(context.Background(), "Thing", models.Record{})
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.EqualValues(t, 4, atomic.LoadInt32(&next.calls))
}

func TestResilientDoesNotRetryRejections(t *testing.T) {
	next := &flaky{failures: 1, err: ErrRejected}
	gw := NewResilient(next, fastPolicy(), nil)

	err := gw.WriteObject(context.Background(), "Thing", models.Record{})
	assert.ErrorIs(t, err, ErrRejected)
	assert.EqualValues(t, 1, atomic.LoadInt32(&next.calls))
}

func TestResilientTimeout(t *testing.T) {
	next := &flaky{block: true}
	cfg := fastPolicy()
	cfg.CallTimeout = 10 * time.Millisecond
	cfg.MaxRetries = 0
	gw := NewResilient(next, cfg, nil)

	_, err := gw.ReadTable(context.Background(), "KNA1", ReadOptions{})
	assert.ErrorIs(t, err, ErrTimeout)
	assert.True(t, IsFatal(err))
}
