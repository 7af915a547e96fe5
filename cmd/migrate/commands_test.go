package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/migration-orchestrator/internal/models"
	"github.com/feichai0017/migration-orchestrator/pkg/converters"
	"github.com/feichai0017/migration-orchestrator/pkg/errors"
)

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(&stdout, &stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, exitOK},
		{"failures", &exitError{code: exitFailures, err: errors.New("x")}, exitFailures},
		{"unknown object", errors.NewCoded(errors.CodePlannerUnknownObject, "x"), exitPlanner},
		{"bad options", errors.Wrap(errors.NewCoded(errors.CodePlannerBadOptions, "x"), "plan"), exitPlanner},
		{"cycle", errors.NewCoded(errors.CodeGraphCycle, "x"), exitPlanner},
		{"phase", errors.NewCoded(errors.CodePhaseFatal, "x"), exitInternal},
		{"plain", errors.New("boom"), exitInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"FI", "CO", "MM"}, splitList([]string{"FI, CO", "", "MM"}))
	assert.Nil(t, splitList(nil))
}

func TestRequestFlags(t *testing.T) {
	opts := &cliOptions{objects: []string{"A,B"}, noConfig: true, serial: true, maxParallel: 3}
	req := opts.request()
	assert.Equal(t, []string{"A", "B"}, req.ObjectIDs)
	assert.False(t, models.BoolOr(req.IncludeConfig, true))
	assert.True(t, models.BoolOr(req.IncludeInterfaces, true))
	assert.False(t, models.BoolOr(req.Parallel, true))
	assert.Equal(t, 3, req.MaxParallel)
}

func TestPlanCommand(t *testing.T) {
	out, _, err := execute(t, "plan", "--objects", "GL_BALANCE", "--json")
	require.NoError(t, err)

	var plan models.Plan
	require.NoError(t, json.Unmarshal([]byte(out), &plan))
	assert.Equal(t, []string{"COMPANY_CODE_CONFIG", "GL_ACCOUNT_MASTER", "GL_BALANCE"}, plan.ObjectIDs)
	assert.Len(t, plan.Waves, 3)

	out, _, err = execute(t, "plan", "--objects", "GL_BALANCE")
	require.NoError(t, err)
	assert.Contains(t, out, "wave 1: COMPANY_CODE_CONFIG")
	assert.Contains(t, out, "3 objects in 3 waves")
}

func TestPlanUnknownObjectExitsPlanner(t *testing.T) {
	_, _, err := execute(t, "plan", "--objects", "NOPE")
	require.Error(t, err)
	assert.Equal(t, exitPlanner, exitCode(err))
}

func TestRunCommand(t *testing.T) {
	out, _, err := execute(t, "run", "--objects", "COST_CENTER", "--serial", "--json")
	require.NoError(t, err)

	report, err := converters.Decode(bytes.NewBufferString(out))
	require.NoError(t, err)
	assert.Equal(t, "succeeded", report.Summary.Outcome)
	assert.Equal(t, 2, report.Summary.Total)

	out, progress, err := execute(t, "run", "--objects", "COST_CENTER")
	require.NoError(t, err)
	assert.Contains(t, progress, "COMPANY_CODE_CONFIG")
	assert.Contains(t, out, "succeeded: 2 total")
}

func TestValidateAndObjectsCommands(t *testing.T) {
	out, _, err := execute(t, "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "graph valid: 12 objects")

	out, _, err = execute(t, "objects", "--json")
	require.NoError(t, err)
	var objects []models.ObjectInfo
	require.NoError(t, json.Unmarshal([]byte(out), &objects))
	assert.Len(t, objects, 12)
}
