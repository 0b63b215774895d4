package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "ladybug", cmd.Use)
	assert.Contains(t, cmd.Long, "LADYBUG_")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"list", "show", "diff", "export", "export-all", "import", "delete", "clear", "ingest", "config"}

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
	assert.Equal(t, "", configFlag.DefValue)
}

func TestListCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	listCmd, _, err := cmd.Find([]string{"list"})
	require.NoError(t, err)

	maxFlag := listCmd.Flags().Lookup("max")
	require.NotNil(t, maxFlag)
	assert.Equal(t, "100", maxFlag.DefValue)

	require.NotNil(t, listCmd.Flags().Lookup("field"))
	require.NotNil(t, listCmd.Flags().Lookup("columns"))
	require.NotNil(t, listCmd.Flags().Lookup("kind"))
}

func TestExportCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"export", "export-all"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err)

		outFlag := sub.Flags().Lookup("out")
		require.NotNil(t, outFlag, name)
		assert.Equal(t, "o", outFlag.Shorthand)
	}
}

func TestClearCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	clearCmd, _, err := cmd.Find([]string{"clear"})
	require.NoError(t, err)

	yesFlag := clearCmd.Flags().Lookup("yes")
	require.NotNil(t, yesFlag)
	assert.Equal(t, "false", yesFlag.DefValue)
}

func TestInvalidFormat(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"config", "--format", "xml"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestIsValidFormat(t *testing.T) {
	assert.True(t, isValidFormat("text"))
	assert.True(t, isValidFormat("json"))
	assert.False(t, isValidFormat("yaml"))
	assert.False(t, isValidFormat(""))
}
