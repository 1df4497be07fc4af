package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMultipliers(t *testing.T) {
	multipliers, err := parseMultipliers("ZN:1000, zf:1000,ES:50")
	require.NoError(t, err)
	assert.Equal(t, 1000.0, multipliers["ZN"])
	assert.Equal(t, 1000.0, multipliers["ZF"])
	assert.Equal(t, 50.0, multipliers["ES"])
}

func TestParseMultipliers_Empty(t *testing.T) {
	multipliers, err := parseMultipliers("")
	require.NoError(t, err)
	assert.Empty(t, multipliers)
}

func TestParseMultipliers_Invalid(t *testing.T) {
	_, err := parseMultipliers("ZN")
	assert.Error(t, err)

	_, err = parseMultipliers("ZN:abc")
	assert.Error(t, err)

	_, err = parseMultipliers("ZN:-5")
	assert.Error(t, err)
}

func TestMultiplierFor_FallsBackToDefault(t *testing.T) {
	cfg := &Config{
		Multipliers:       map[string]float64{"ZN": 1000},
		DefaultMultiplier: 50,
	}
	assert.Equal(t, 1000.0, cfg.MultiplierFor("ZN"))
	assert.Equal(t, 1000.0, cfg.MultiplierFor("zn"))
	assert.Equal(t, 50.0, cfg.MultiplierFor("UNKNOWN"))
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("LEDGER_DATA_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8001, cfg.Port)
	assert.Equal(t, 5, cfg.RetryMaxAttempts)
	assert.Equal(t, 1000.0, cfg.DefaultMultiplier)
	assert.Contains(t, cfg.DatabasePath(), "ledger.db")
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("LEDGER_DATA_DIR", t.TempDir())
	t.Setenv("GO_PORT", "9005")
	t.Setenv("RETRY_MAX_ATTEMPTS", "3")
	t.Setenv("CONTRACT_MULTIPLIERS", "ZN:1000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9005, cfg.Port)
	assert.Equal(t, 3, cfg.RetryMaxAttempts)
	assert.Equal(t, 1000.0, cfg.MultiplierFor("ZN"))
}
