package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCommand(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.True(t, strings.HasPrefix(out.String(), "slotguard dev"))
}

func TestMigrateCommandCreatesSchema(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "slots.db")
	cfgPath := filepath.Join(dir, "config.yaml")
	content := "database:\n  path: \"" + dbPath + "\"\nlogging:\n  output: \"stderr\"\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o644))

	root := newRootCmd()
	root.SetArgs([]string{"migrate", "--config", cfgPath})
	require.NoError(t, root.Execute())

	_, err := os.Stat(dbPath)
	assert.NoError(t, err)
}

func TestBookCommandRequiresSlotFlags(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"book", "--date", "2025-06-15"})
	assert.Error(t, root.Execute())
}
