// Package config implements the YAML-tagged configuration surface of spec
// §6's key table, following the teacher's configuration struct/defaults
// pattern generalized away from registry HTTP/storage-driver options.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/loomvcs/loom/compressor"
)

// Chunk holds spec §6's `chunk.*` keys.
type Chunk struct {
	Min            int  `yaml:"min"`
	Avg            int  `yaml:"avg"`
	Max            int  `yaml:"max"`
	Normalization  int  `yaml:"normalization"`
	ContainerAware bool `yaml:"container_aware"`
}

// Compression holds spec §6's `compression.*` keys.
type Compression struct {
	Algorithm string  `yaml:"algorithm"`
	MinRatio  float64 `yaml:"min_ratio"`
}

// GC holds spec §6's `gc.*` keys.
type GC struct {
	GraceSeconds int `yaml:"grace_seconds"`
}

// LockConfig holds spec §6's `lock.*` keys.
type LockConfig struct {
	DefaultTTLSeconds int `yaml:"default_ttl_seconds"`
}

// Sync holds spec §6's `sync.*` keys.
type Sync struct {
	Concurrency    int `yaml:"concurrency"`
	BatchSize      int `yaml:"batch_size"`
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// Config is the full key table of spec §6, loaded from `<repo>/.loom/config`.
type Config struct {
	Chunk       Chunk       `yaml:"chunk"`
	Compression Compression `yaml:"compression"`
	GC          GC          `yaml:"gc"`
	Lock        LockConfig  `yaml:"lock"`
	Sync        Sync        `yaml:"sync"`
}

// Default returns the configuration with every key at its spec-named
// default value.
func Default() Config {
	return Config{
		Chunk: Chunk{
			Min:            16 * 1024,
			Avg:            64 * 1024,
			Max:            256 * 1024,
			Normalization:  2,
			ContainerAware: true,
		},
		Compression: Compression{
			Algorithm: "fast",
			MinRatio:  0.95,
		},
		GC: GC{GraceSeconds: 2 * 60 * 60},
		Lock: LockConfig{DefaultTTLSeconds: 30 * 60},
		Sync: Sync{
			Concurrency:    8,
			BatchSize:      4096,
			TimeoutSeconds: 30,
		},
	}
}

// Load reads and merges path over the defaults; a missing file yields
// Default() unmodified, so a freshly initialized repository needs no
// config file on disk.
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path in canonical YAML form.
func Save(path string, cfg Config) error {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	return os.WriteFile(path, out, 0o644)
}

// CompressionAlgorithm resolves the configured algorithm name to the
// compressor package's enum, defaulting to Fast on an unrecognized value.
func (c Config) CompressionAlgorithm() compressor.Algorithm {
	algo, err := compressor.ParseAlgorithm(c.Compression.Algorithm)
	if err != nil {
		return compressor.Fast
	}
	return algo
}
