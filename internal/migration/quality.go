package migration

import (
	"fmt"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/feichai0017/migration-orchestrator/internal/models"
	"github.com/feichai0017/migration-orchestrator/pkg/errors"
)

// DefaultFuzzyLimit caps the record count the pairwise fuzzy check runs on.
const DefaultFuzzyLimit = 2000

// QualityChecks declares what validate enforces.
type QualityChecks struct {
	Required       []string        `yaml:"required,omitempty" json:"required,omitempty"`
	ExactDuplicate *DuplicateCheck `yaml:"exactDuplicate,omitempty" json:"exactDuplicate,omitempty"`
	FuzzyDuplicate *FuzzyCheck     `yaml:"fuzzyDuplicate,omitempty" json:"fuzzyDuplicate,omitempty"`
}

// DuplicateCheck flags records sharing the same composite key. Errors.
type DuplicateCheck struct {
	Keys []string `yaml:"keys" json:"keys"`
}

// FuzzyCheck flags record pairs whose composite key similarity reaches
// Threshold (0..1, Levenshtein based). Warnings only.
type FuzzyCheck struct {
	Keys       []string `yaml:"keys" json:"keys"`
	Threshold  float64  `yaml:"threshold" json:"threshold"`
	MaxRecords int      `yaml:"maxRecords,omitempty" json:"maxRecords,omitempty"`
}

// CheckQuality runs the checks over records. Records pass through unchanged so
// the result can feed load directly.
func CheckQuality(checks QualityChecks, records []models.Record) *models.PhaseResult {
	res := models.NewPhaseResult()
	res.Records = records
	res.RecordCount = len(records)
	code := string(errors.CodePhaseValidation)

	failed := make(map[int]bool)
	for i, rec := range records {
		for _, field := range checks.Required {
			if isEmpty(rec[field]) {
				res.AddError(code, field, i, fmt.Sprintf("required field %s is empty", field))
				failed[i] = true
			}
		}
	}

	if dup := checks.ExactDuplicate; dup != nil && len(dup.Keys) > 0 {
		first := make(map[string]int, len(records))
		for i, rec := range records {
			key, ok := compositeKey(rec, dup.Keys, false)
			if !ok {
				continue
			}
			if j, seen := first[key]; seen {
				res.AddError(code, strings.Join(dup.Keys, "+"), i,
					fmt.Sprintf("duplicate of record %d on %s", j, strings.Join(dup.Keys, ", ")))
				failed[i] = true
				continue
			}
			first[key] = i
		}
	}

	if fz := checks.FuzzyDuplicate; fz != nil && len(fz.Keys) > 0 {
		checkFuzzy(fz, records, res)
	}

	res.SuccessCount = len(records) - len(failed)
	res.Settle()
	return res
}

func checkFuzzy(fz *FuzzyCheck, records []models.Record, res *models.PhaseResult) {
	limit := fz.MaxRecords
	if limit <= 0 {
		limit = DefaultFuzzyLimit
	}
	if len(records) > limit {
		res.Diagnostics = append(res.Diagnostics, models.Diagnostic{
			Severity: models.SeverityInfo,
			Message:  fmt.Sprintf("fuzzy duplicate check skipped: %d records exceed limit %d", len(records), limit),
			Record:   -1,
		})
		return
	}

	keys := make([]string, len(records))
	for i, rec := range records {
		keys[i], _ = compositeKey(rec, fz.Keys, true)
	}
	field := strings.Join(fz.Keys, "+")
	for i := 0; i < len(keys); i++ {
		if keys[i] == "" {
			continue
		}
		for j := i + 1; j < len(keys); j++ {
			if keys[j] == "" {
				continue
			}
			if score := Similarity(keys[i], keys[j]); score >= fz.Threshold {
				res.AddWarning("", field, j,
					fmt.Sprintf("possible duplicate of record %d (similarity %.2f)", i, score))
			}
		}
	}
}

// Similarity is 1 minus the Levenshtein distance over the longer length.
func Similarity(a, b string) float64 {
	longest := len([]rune(a))
	if n := len([]rune(b)); n > longest {
		longest = n
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(fuzzy.LevenshteinDistance(a, b))/float64(longest)
}

// compositeKey joins the key fields. ok is false when any key is empty.
// normalize lowercases and collapses whitespace for fuzzy comparison.
func compositeKey(rec models.Record, keys []string, normalize bool) (string, bool) {
	parts := make([]string, len(keys))
	for i, k := range keys {
		s := strings.TrimSpace(stringify(rec[k]))
		if s == "" {
			return "", false
		}
		if normalize {
			s = strings.Join(strings.Fields(strings.ToLower(s)), " ")
		}
		parts[i] = s
	}
	sep := "\x1f"
	if normalize {
		sep = " "
	}
	return strings.Join(parts, sep), true
}
