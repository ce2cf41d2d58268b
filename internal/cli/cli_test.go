package cli

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDecimal(t *testing.T) {
	d, err := parseDecimal("bond", "10.50")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("10.5").Equal(d))

	_, err = parseDecimal("bond", "")
	assert.EqualError(t, err, "--bond must be provided")

	_, err = parseDecimal("price", "abc")
	assert.ErrorContains(t, err, "invalid --price value")
}

func TestCommandsRegistered(t *testing.T) {
	want := []string{"run", "register", "submit", "aggregate", "withdraw", "dispute", "show", "export", "simulate", "version"}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
}
