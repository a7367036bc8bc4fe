package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_Subcommands(t *testing.T) {
	cmd := NewRootCommand()

	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	for _, want := range []string{"serve", "sync", "view", "queue", "test"} {
		assert.Contains(t, names, want)
	}
}

func TestRootCommand_PersistentFlags(t *testing.T) {
	cmd := NewRootCommand()

	format := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, format)
	assert.Equal(t, "text", format.DefValue)

	verbose := cmd.PersistentFlags().ShorthandLookup("v")
	require.NotNil(t, verbose)
	assert.Equal(t, "verbose", verbose.Name)

	cfg := cmd.PersistentFlags().ShorthandLookup("c")
	require.NotNil(t, cfg)
	assert.Equal(t, "config", cfg.Name)
}

func TestRootCommand_InvalidFormat(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.run(t, "view", "--format", "yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid format "yaml"`)
}

func TestRootCommand_BadConfig(t *testing.T) {
	fx := newFixture(t)

	cmd := NewRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", fx.dir + "/missing.yaml", "view"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
