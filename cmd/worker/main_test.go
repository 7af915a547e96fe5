package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunReturnsConfigError(t *testing.T) {
	err := run(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
