package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confkeeper/confkeeper/internal/config"
)

func TestNewRootCmd(t *testing.T) {
	root := NewRootCmd()
	require.NotNil(t, root)
	assert.Equal(t, "confkeeper", root.Use)

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{
		"backup", "backup-all", "list", "verify", "delete",
		"restore", "rollback", "sync", "version",
	} {
		assert.Contains(t, names, want)
	}
}

func TestSyncCmdFlagDefaults(t *testing.T) {
	strategy, err := syncCmd.Flags().GetString("strategy")
	require.NoError(t, err)
	assert.Equal(t, "merge", strategy)

	branch, err := syncCmd.Flags().GetString("branch")
	require.NoError(t, err)
	assert.Empty(t, branch)
}

func TestFindCollaborator(t *testing.T) {
	cfg := config.Default()

	c, err := findCollaborator(cfg, "claude")
	require.NoError(t, err)
	assert.Equal(t, "claude", c.VendorID())

	_, err = findCollaborator(cfg, "unknown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown vendor")
}
