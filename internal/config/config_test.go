package config_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/studydeck/gamecore/internal/config"
)

func TestProcessorSeedFromEnv(t *testing.T) {
	t.Setenv("GAME_PROCESSOR_SEED", "42")
	cfg := config.FromEnv()
	require.Equal(t, int64(42), cfg.Game.ProcessorSeed)
}

func TestProcessorSeedVariesWithoutOverride(t *testing.T) {
	t.Setenv("GAME_PROCESSOR_SEED", "")
	cfg := config.FromEnv()
	require.NotZero(t, cfg.Game.ProcessorSeed, "seed comes from the clock when not configured")
}
