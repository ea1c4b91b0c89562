package config_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/loomvcs/loom/compressor"
	"github.com/loomvcs/loom/internal/config"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "does-not-exist"))
	require.NoError(t, err)
	require.Equal(t, config.Default(), cfg)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")
	cfg := config.Default()
	cfg.Chunk.Avg = 128 * 1024
	cfg.Sync.Concurrency = 16

	require.NoError(t, config.Save(path, cfg))

	got, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg, got)
}

func TestLoadAppliesZeroValuesWrittenBySave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")
	require.NoError(t, config.Save(path, config.Config{Sync: config.Sync{Concurrency: 2, BatchSize: 1, TimeoutSeconds: 5}}))

	got, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, 2, got.Sync.Concurrency)
	require.Equal(t, 0, got.Chunk.Min, "Save writes every field, so the zero values in the saved Config override the defaults")
}

func TestCompressionAlgorithmResolvesConfiguredValue(t *testing.T) {
	cfg := config.Default()
	cfg.Compression.Algorithm = "none"
	require.Equal(t, compressor.None, cfg.CompressionAlgorithm())
}

func TestCompressionAlgorithmFallsBackToFastOnUnknown(t *testing.T) {
	cfg := config.Default()
	cfg.Compression.Algorithm = "bogus"
	require.Equal(t, compressor.Fast, cfg.CompressionAlgorithm())
}
