package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedact(t *testing.T) {
	assert.Equal(t, "postgres://app:xxxxx@db:5432/app", redact("postgres://app:hunter2@db:5432/app"))
	assert.Equal(t, "database", redact("://bad"))
}

func TestCommandTree(t *testing.T) {
	for _, name := range []string{"migrate", "seed", "topup", "balance", "audit"} {
		cmd, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
}

func TestFlags(t *testing.T) {
	f := auditCmd.Flags().Lookup("older-than")
	require.NotNil(t, f)
	assert.Equal(t, time.Hour.String(), f.DefValue)

	require.NotNil(t, topupCmd.Flags().Lookup("user"))
	require.NotNil(t, topupCmd.Flags().Lookup("amount"))
	assert.Equal(t, "demo-password", seedCmd.Flags().Lookup("password").DefValue)
}
