package catalog

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/feichai0017/migration-orchestrator/internal/migration"
	"github.com/feichai0017/migration-orchestrator/internal/models"
	"github.com/feichai0017/migration-orchestrator/pkg/errors"
	"github.com/feichai0017/migration-orchestrator/pkg/logger"
)

// HookFunc adapts a function to migration.PostTransformer.
type HookFunc func(ctx context.Context, records []models.Record, res *models.PhaseResult) ([]models.Record, error)

func (f HookFunc) PostTransform(ctx context.Context, records []models.Record, res *models.PhaseResult) ([]models.Record, error) {
	return f(ctx, records, res)
}

// HookFactory resolves the post-transform hook names used in definitions.
type HookFactory struct {
	mu     sync.RWMutex
	hooks  map[string]migration.PostTransformer
	logger logger.Logger
}

// NewHookFactory returns a factory preloaded with the built-in hooks.
func NewHookFactory(log logger.Logger) *HookFactory {
	if log == nil {
		log = logger.NewNop()
	}
	f := &HookFactory{
		hooks:  make(map[string]migration.PostTransformer),
		logger: log.Named("hooks"),
	}
	f.Register("debitCreditSign", HookFunc(debitCreditSign))
	f.Register("dropDeleted", HookFunc(dropDeleted))
	return f
}

// Register adds or replaces the hook stored under name.
func (f *HookFactory) Register(name string, hook migration.PostTransformer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hooks[name] = hook
}

// Get returns the hook registered under name.
func (f *HookFactory) Get(name string) (migration.PostTransformer, error) {
	f.mu.RLock()
	hook, ok := f.hooks[name]
	f.mu.RUnlock()
	if !ok {
		f.logger.Error("No hook found", logger.String("hook", name))
		return nil, errors.Wrapf(errors.ErrNotFound, "post-transform hook %q", name)
	}
	return hook, nil
}

// Names lists the registered hooks, sorted.
func (f *HookFactory) Names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	names := make([]string, 0, len(f.hooks))
	for name := range f.hooks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open item field names shared by the AR and AP definitions.
const (
	FieldAmount      = "AMOUNT"
	FieldDebitCredit = "DEBIT_CREDIT"
	FieldDeleted     = "DELETION_FLAG"
)

// debitCreditSign negates AMOUNT on credit postings (indicator H) and
// normalises the indicator to S/H.
func debitCreditSign(_ context.Context, records []models.Record, res *models.PhaseResult) ([]models.Record, error) {
	for i, rec := range records {
		indicator := strings.ToUpper(strings.TrimSpace(fmt.Sprint(rec[FieldDebitCredit])))
		if indicator != "H" {
			rec[FieldDebitCredit] = "S"
			continue
		}
		switch amount := rec[FieldAmount].(type) {
		case float64:
			rec[FieldAmount] = -amount
		case int64:
			rec[FieldAmount] = -amount
		case string:
			f, err := strconv.ParseFloat(amount, 64)
			if err != nil {
				res.AddWarning("", FieldAmount, i, fmt.Sprintf("cannot apply credit sign to %q", amount))
				continue
			}
			rec[FieldAmount] = -f
		}
	}
	return records, nil
}

// dropDeleted removes records flagged for deletion in the source system.
func dropDeleted(_ context.Context, records []models.Record, res *models.PhaseResult) ([]models.Record, error) {
	out := records[:0]
	dropped := 0
	for _, rec := range records {
		if rec[FieldDeleted] == "X" {
			dropped++
			continue
		}
		out = append(out, rec)
	}
	if dropped > 0 {
		res.Diagnostics = append(res.Diagnostics, models.Diagnostic{
			Severity: models.SeverityInfo,
			Field:    FieldDeleted,
			Message:  fmt.Sprintf("%d records flagged for deletion were not migrated", dropped),
			Record:   -1,
		})
	}
	return out, nil
}
