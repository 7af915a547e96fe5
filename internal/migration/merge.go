package migration

import (
	"context"
	"sort"
	"strings"

	"github.com/feichai0017/migration-orchestrator/internal/models"
)

// DualRoleMerge folds records that share Key into one business partner record
// carrying every role it plays. Roles maps a source table to a role name, e.g.
// KNA1 -> CUSTOMER and LFA1 -> VENDOR. Fields empty on the first record are
// filled from later ones; RoleField receives the sorted, comma joined roles.
type DualRoleMerge struct {
	Key       string            `yaml:"key" json:"key"`
	RoleField string            `yaml:"roleField" json:"roleField"`
	Roles     map[string]string `yaml:"roles" json:"roles"`
}

// PostTransform implements the post-transform step for objects that merge.
func (d DualRoleMerge) PostTransform(_ context.Context, records []models.Record, res *models.PhaseResult) ([]models.Record, error) {
	merged := d.Merge(records)
	res.MergedCount += len(records) - len(merged)
	return merged, nil
}

// Merge returns the merged records in first-appearance order. Records without
// a key are kept as they are.
func (d DualRoleMerge) Merge(records []models.Record) []models.Record {
	type group struct {
		rec   models.Record
		roles map[string]bool
	}
	var (
		out    []models.Record
		groups = make(map[string]*group)
		order  []*group
	)
	for _, rec := range records {
		key := strings.TrimSpace(stringify(rec[d.Key]))
		if key == "" {
			out = append(out, rec)
			continue
		}
		g, ok := groups[key]
		if !ok {
			g = &group{rec: rec.Clone(), roles: map[string]bool{}}
			groups[key] = g
			order = append(order, g)
			out = append(out, g.rec)
		} else {
			for k, v := range rec {
				if isEmpty(g.rec[k]) && !isEmpty(v) {
					g.rec[k] = v
				}
			}
		}
		if role, ok := d.Roles[stringify(rec[models.SourceField])]; ok {
			g.roles[role] = true
		}
	}

	for _, g := range order {
		if d.RoleField == "" || len(g.roles) == 0 {
			continue
		}
		roles := make([]string, 0, len(g.roles))
		for r := range g.roles {
			roles = append(roles, r)
		}
		sort.Strings(roles)
		g.rec[d.RoleField] = strings.Join(roles, ",")
	}
	return out
}
