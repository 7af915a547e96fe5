package migration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/migration-orchestrator/internal/models"
	"github.com/feichai0017/migration-orchestrator/pkg/errors"
	"github.com/feichai0017/migration-orchestrator/pkg/gateway"
)

func partnerDefinition() Definition {
	return Definition{
		ID:     "BUSINESS_PARTNER",
		Name:   "Business Partner",
		Module: "BP",
		Sources: []Source{
			{Table: "KNA1", Fields: []string{"KUNNR", "NAME1", "STCD1"}},
			{Table: "LFA1", Fields: []string{"LIFNR", "NAME1", "STCD1", "BANKN"}},
		},
		TargetType:   "BusinessPartner",
		Dependencies: []string{"COMPANY_CODE_CONFIG"},
		Mappings: []FieldMapping{
			Copy("STCD1", "TAX_NUMBER"),
			Copy("NAME1", "NAME"),
			Copy("BANKN", "BANK_ACCOUNT"),
		},
		Checks: QualityChecks{Required: []string{"NAME"}},
		DualRoleMerge: &DualRoleMerge{
			Key:       "TAX_NUMBER",
			RoleField: "ROLES",
			Roles:     map[string]string{"KNA1": "CUSTOMER", "LFA1": "VENDOR"},
		},
	}
}

func partnerGateway(opts ...gateway.MockOption) *gateway.Mock {
	opts = append([]gateway.MockOption{
		gateway.WithTable("KNA1", []models.Record{
			{"KUNNR": "100", "NAME1": "Acme", "STCD1": "DE111"},
			{"KUNNR": "101", "NAME1": "Solo Customer", "STCD1": "DE222"},
		}),
		gateway.WithTable("LFA1", []models.Record{
			{"LIFNR": "900", "NAME1": "Acme", "STCD1": "DE111", "BANKN": "12345"},
		}),
	}, opts...)
	return gateway.NewMock(nil, opts...)
}

func TestDefinitionCheck(t *testing.T) {
	require.NoError(t, partnerDefinition().Check())

	bad := partnerDefinition()
	bad.ID = "business_partner"
	assert.Error(t, bad.Check())

	bad = partnerDefinition()
	bad.Sources = nil
	assert.Error(t, bad.Check())

	bad = partnerDefinition()
	bad.Dependencies = []string{"lower"}
	assert.Error(t, bad.Check())

	bad = partnerDefinition()
	bad.DualRoleMerge.Roles = nil
	assert.Error(t, bad.Check())
}

func TestDeclarativePipeline(t *testing.T) {
	ctx := context.Background()
	gw := partnerGateway()
	obj, err := NewDeclarative(partnerDefinition())
	require.NoError(t, err)

	assert.Equal(t, "BUSINESS_PARTNER", obj.ID())
	assert.Equal(t, "BP", obj.Module())
	assert.Equal(t, []string{"COMPANY_CODE_CONFIG"}, obj.Dependencies())
	assert.False(t, obj.LoadOnValidationErrors())

	extracted, err := obj.Extract(ctx, gw)
	require.NoError(t, err)
	assert.Equal(t, 3, extracted.RecordCount)
	assert.Equal(t, "LFA1", extracted.Records[2][models.SourceField])

	transformed, err := obj.Transform(ctx, extracted.Records)
	require.NoError(t, err)
	merged, err := obj.PostTransform(ctx, transformed.Records, transformed)
	require.NoError(t, err)
	require.Len(t, merged, 2)
	assert.Equal(t, 1, transformed.MergedCount)
	assert.Equal(t, "CUSTOMER,VENDOR", merged[0]["ROLES"])
	assert.Equal(t, "12345", merged[0]["BANK_ACCOUNT"], "filled from the vendor record")
	assert.Equal(t, "CUSTOMER", merged[1]["ROLES"])

	validated, err := obj.Validate(ctx, merged)
	require.NoError(t, err)
	assert.Equal(t, models.PhasePassed, validated.Status)

	loaded, err := obj.Load(ctx, validated.Records, gw)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.SuccessCount)
	written := gw.Written("BusinessPartner")
	require.Len(t, written, 2)
	assert.NotContains(t, written[0], models.SourceField, "meta fields are not loaded")
}

func TestLoadCountsRejections(t *testing.T) {
	gw := gateway.NewMock(nil, gateway.WithWriteHook(func(_ string, rec models.Record) error {
		if rec["ID"] == "2" {
			return errors.Wrap(gateway.ErrRejected, "duplicate key")
		}
		return nil
	}))

	res, err := LoadRecords(context.Background(), gw, "Thing", []models.Record{{"ID": "1"}, {"ID": "2"}, {"ID": "3"}})
	require.NoError(t, err)
	assert.Equal(t, 3, res.RecordCount)
	assert.Equal(t, 2, res.SuccessCount)
	assert.Equal(t, 1, res.ErrorCount)
	assert.Equal(t, models.PhaseErrors, res.Status)
	assert.Equal(t, 1, res.Diagnostics[0].Record)
}

func TestLoadFailsWhenUnreachable(t *testing.T) {
	gw := gateway.NewMock(nil, gateway.WithUnreachable())
	_, err := LoadRecords(context.Background(), gw, "Thing", []models.Record{{"ID": "1"}})
	assert.ErrorIs(t, err, gateway.ErrUnreachable)
}

func TestExtractFailsOnMissingTable(t *testing.T) {
	obj, err := NewDeclarative(partnerDefinition())
	require.NoError(t, err)
	_, err = obj.Extract(context.Background(), gateway.NewMock(nil))
	assert.True(t, errors.IsNotFoundError(err))
}

func TestMergeKeepsKeylessRecords(t *testing.T) {
	m := DualRoleMerge{Key: "TAX", RoleField: "ROLES", Roles: map[string]string{"KNA1": "CUSTOMER"}}
	out := m.Merge([]models.Record{
		{"TAX": "", "N": "a"},
		{"TAX": "1", models.SourceField: "KNA1"},
		{"TAX": "", "N": "b"},
	})
	require.Len(t, out, 3)
	assert.Equal(t, "a", out[0]["N"])
	assert.Equal(t, "CUSTOMER", out[1]["ROLES"])
}
