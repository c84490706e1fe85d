package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvOverrides_Governor(t *testing.T) {
	t.Run("MIN_FREE_MEM_MB overrides the floor", func(t *testing.T) {
		t.Setenv("MIN_FREE_MEM_MB", "2048")

		cfg := DefaultConfig()
		cfg.ApplyEnv()

		assert.Equal(t, 2048, cfg.Governor.MinFreeMemMB)
	})

	t.Run("garbage value keeps the default", func(t *testing.T) {
		t.Setenv("MIN_FREE_MEM_MB", "plenty")

		cfg := DefaultConfig()
		want := cfg.Governor.MinFreeMemMB
		cfg.ApplyEnv()

		assert.Equal(t, want, cfg.Governor.MinFreeMemMB)
	})
}

func TestEnvOverrides_Flags(t *testing.T) {
	t.Setenv("ALLOW_RISKY_CODE", "1")
	t.Setenv("STOP_ALL", "1")

	cfg := DefaultConfig()
	cfg.ApplyEnv()

	assert.True(t, cfg.Scan.AllowRisky)
	assert.True(t, cfg.StopAll)
}

func TestEnvOverrides_LedgerKeys(t *testing.T) {
	t.Run("single key joins the ring and becomes active", func(t *testing.T) {
		t.Setenv("EVIDENCE_HMAC_KEY", "s3cret")
		t.Setenv("EVIDENCE_HMAC_KEY_ID", "k2")
		t.Setenv("EVIDENCE_SIGNING_REQUIRED", "true")
		t.Setenv("EVIDENCE_SINK_PATH", "/tmp/mirror.jsonl")

		cfg := DefaultConfig()
		cfg.ApplyEnv()
		require.NoError(t, cfg.normalize())

		assert.Equal(t, "s3cret", cfg.Ledger.Keys["k2"])
		assert.Equal(t, "k2", cfg.Ledger.ActiveKeyID)
		assert.True(t, cfg.Ledger.SigningRequired)
		assert.Equal(t, "/tmp/mirror.jsonl", cfg.Ledger.SinkPath)
	})

	t.Run("JSON ring loads every key", func(t *testing.T) {
		t.Setenv("EVIDENCE_HMAC_KEYS_JSON", `{"old":"k-old","new":"k-new"}`)
		t.Setenv("EVIDENCE_HMAC_KEY_ID", "new")

		cfg := DefaultConfig()
		cfg.ApplyEnv()

		assert.Equal(t, "k-old", cfg.Ledger.Keys["old"])
		assert.Equal(t, "k-new", cfg.Ledger.Keys["new"])
		assert.Equal(t, "new", cfg.Ledger.ActiveKeyID)
	})
}

func TestEnvOverrides_ProviderAPIKey(t *testing.T) {
	t.Setenv("COUNCIL_TEST_KEY", "abc123")

	cfg := DefaultConfig()
	cfg.Router.Providers = []ProviderSpec{
		{Name: "cloud", APIKeyEnv: "COUNCIL_TEST_KEY"},
	}
	cfg.ApplyEnv()

	require.Len(t, cfg.Router.Providers, 1)
	assert.Equal(t, "abc123", cfg.Router.Providers[0].APIKey)
}

func TestEnvOverrides_RepoRoot(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("REPO_ROOT", dir)

	cfg := DefaultConfig()
	cfg.ApplyEnv()
	require.NoError(t, cfg.normalize())

	assert.Equal(t, dir, cfg.RepoRoot)
	assert.NotEmpty(t, cfg.RunsRoot)
}
