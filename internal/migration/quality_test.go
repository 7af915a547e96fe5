package migration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/migration-orchestrator/internal/models"
)

func TestRequiredFields(t *testing.T) {
	checks := QualityChecks{Required: []string{"PARTNER", "NAME"}}
	res := CheckQuality(checks, []models.Record{
		{"PARTNER": "1", "NAME": "Acme"},
		{"PARTNER": "2", "NAME": "  "},
		{"NAME": "Gamma"},
	})
	assert.Equal(t, models.PhaseErrors, res.Status)
	assert.Equal(t, 2, res.ErrorCount)
	assert.Equal(t, 1, res.SuccessCount)
	assert.Equal(t, 3, res.RecordCount)
	assert.Equal(t, "NAME", res.Diagnostics[0].Field)
	assert.Equal(t, 1, res.Diagnostics[0].Record)
}

func TestExactDuplicatesAreErrors(t *testing.T) {
	checks := QualityChecks{ExactDuplicate: &DuplicateCheck{Keys: []string{"BUKRS", "BELNR"}}}
	res := CheckQuality(checks, []models.Record{
		{"BUKRS": "1000", "BELNR": "1"},
		{"BUKRS": "1000", "BELNR": "2"},
		{"BUKRS": "1000", "BELNR": "1"},
		{"BUKRS": "", "BELNR": "1"},
	})
	require.Equal(t, 1, res.ErrorCount)
	assert.Equal(t, 2, res.Diagnostics[0].Record)
	assert.Contains(t, res.Diagnostics[0].Message, "record 0")
	assert.Equal(t, models.SeverityError, res.Diagnostics[0].Severity)
}

func TestFuzzyDuplicatesAreWarnings(t *testing.T) {
	checks := QualityChecks{FuzzyDuplicate: &FuzzyCheck{Keys: []string{"NAME", "CITY"}, Threshold: 0.85}}
	res := CheckQuality(checks, []models.Record{
		{"NAME": "Acme Industries", "CITY": "Berlin"},
		{"NAME": "ACME  Industries", "CITY": "berlin"},
		{"NAME": "Acme Industrie", "CITY": "Berlin"},
		{"NAME": "Globex", "CITY": "Paris"},
	})
	assert.Equal(t, models.PhaseWarnings, res.Status)
	assert.Equal(t, 0, res.ErrorCount)
	assert.Equal(t, 3, res.WarningCount)
	for _, d := range res.Diagnostics {
		assert.Equal(t, models.SeverityWarning, d.Severity)
	}
}

func TestFuzzyCheckSkipsLargeSets(t *testing.T) {
	checks := QualityChecks{FuzzyDuplicate: &FuzzyCheck{Keys: []string{"NAME"}, Threshold: 0.5, MaxRecords: 2}}
	res := CheckQuality(checks, []models.Record{{"NAME": "a"}, {"NAME": "a"}, {"NAME": "a"}})
	assert.Equal(t, models.PhasePassed, res.Status)
	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, models.SeverityInfo, res.Diagnostics[0].Severity)
}

func TestRevalidatingCleanRecordsStaysClean(t *testing.T) {
	checks := QualityChecks{
		Required:       []string{"ID"},
		ExactDuplicate: &DuplicateCheck{Keys: []string{"ID"}},
	}
	records := []models.Record{{"ID": "1"}, {"ID": "2"}}
	first := CheckQuality(checks, records)
	second := CheckQuality(checks, first.Records)
	assert.Equal(t, models.PhasePassed, first.Status)
	assert.Equal(t, models.PhasePassed, second.Status)
	assert.Zero(t, second.ErrorCount)
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("", ""))
	assert.Equal(t, 1.0, Similarity("abc", "abc"))
	assert.InDelta(t, 0.75, Similarity("abcd", "abce"), 1e-9)
}
