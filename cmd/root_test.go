package main

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	expected := []string{"serve", "sync", "accounts", "funnels", "runs", "status", "migrate", "report"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "funnel-sync", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestFormatFlags(t *testing.T) {
	for _, c := range []string{"sync", "accounts", "funnels", "runs", "status"} {
		cmd, _, err := rootCmd.Find([]string{c})
		require.NoError(t, err)
		flag := cmd.Flags().Lookup("format")
		require.NotNil(t, flag, "%s should have --format", c)
		assert.Equal(t, "table", flag.DefValue)
	}
}

func TestFunnelFilterFlags(t *testing.T) {
	for _, c := range []string{"funnels", "report"} {
		cmd, _, err := rootCmd.Find([]string{c})
		require.NoError(t, err)
		for _, name := range []string{"start-date", "end-date", "funnel-id", "limit"} {
			assert.NotNil(t, cmd.Flags().Lookup(name), "%s should have --%s", c, name)
		}
	}
	assert.Equal(t, "1000", reportCmd.Flags().Lookup("limit").DefValue)
	assert.Equal(t, "funnels.xlsx", reportCmd.Flags().Lookup("out").DefValue)
}

func TestFunnelFilterFromFlags(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	addFunnelFilterFlags(cmd, 100)
	require.NoError(t, cmd.Flags().Parse([]string{"--start-date", "2024-03-08", "--funnel-id", "3", "--limit", "5"}))

	filter, err := funnelFilterFromFlags(cmd)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-08", filter.StartDate.Format("2006-01-02"))
	assert.True(t, filter.EndDate.IsZero())
	assert.Equal(t, "3", filter.FunnelID)
	assert.Equal(t, 5, filter.Limit)

	require.NoError(t, cmd.Flags().Parse([]string{"--end-date", "15/03/2024"}))
	_, err = funnelFilterFromFlags(cmd)
	assert.Error(t, err)
}
