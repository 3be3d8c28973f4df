package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandsRegistered(t *testing.T) {
	want := []string{"serve", "prices", "check-tokens", "network", "show", "export", "simulate-settlement", "version"}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
}

func TestCommandFlags(t *testing.T) {
	flags := simulateCmd.Flags()
	for _, name := range []string{"recipient", "amount", "stablecoin", "revert"} {
		assert.NotNil(t, flags.Lookup(name), "missing flag --%s", name)
	}
	assert.Equal(t, "USDC", flags.Lookup("stablecoin").DefValue)

	assert.NotNil(t, pricesCmd.Flags().Lookup("history"))
	assert.NotNil(t, showCmd.Flags().Lookup("status"))
	assert.NotNil(t, exportCmd.Flags().Lookup("symbol"))
}
