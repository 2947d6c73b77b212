package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "feedmirror", cmd.Use)
	assert.Contains(t, cmd.Long, "content-addressed")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"sync", "entries", "convert", "history", "test"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)
}

func TestSyncCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	syncCmd, _, err := cmd.Find([]string{"sync"})
	require.NoError(t, err)

	for _, name := range []string{"input", "manifest", "offers", "public-base-url", "store-dir", "concurrency", "attempts", "hash", "history-db"} {
		assert.NotNil(t, syncCmd.Flags().Lookup(name), "flag %s", name)
	}
	assert.Equal(t, "i", syncCmd.Flags().Lookup("input").Shorthand)
}

func TestHistoryCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	historyCmd, _, err := cmd.Find([]string{"history"})
	require.NoError(t, err)

	limitFlag := historyCmd.Flags().Lookup("limit")
	require.NotNil(t, limitFlag)
	assert.Equal(t, "10", limitFlag.DefValue)
}

func TestInvalidFormat(t *testing.T) {
	cmd := newRootCommand(&RootOptions{LookupEnv: noEnv})
	cmd.SetArgs([]string{"--format", "xml", "history", "--db", "unused.db"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestIsValidFormat(t *testing.T) {
	assert.True(t, isValidFormat("text"))
	assert.True(t, isValidFormat("json"))
	assert.False(t, isValidFormat("yaml"))
}
