package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"roadseg/internal/errs"
)

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	require.Equal(t, 40, cfg.Epochs)
	require.Equal(t, 16, cfg.BatchSize)
	require.Equal(t, 0.5, cfg.Dropout)
	require.Equal(t, 0.0001, cfg.LearningRate)
	require.Equal(t, 160, cfg.ImageHeight)
	require.Equal(t, 576, cfg.ImageWidth)
	require.False(t, cfg.FreezeBackbone)
	require.Equal(t, filepath.Join("data", "vgg"), filepath.Clean(cfg.BackbonePath()))
}

func TestLoadYAMLOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	body := "epochs: 3\nbatch_size: 2\ndropout: 0.75\nfreeze_backbone: true\nimage_height: 64\nimage_width: 128\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 3, cfg.Epochs)
	require.Equal(t, 2, cfg.BatchSize)
	require.Equal(t, 0.75, cfg.Dropout)
	require.True(t, cfg.FreezeBackbone)
	require.Equal(t, 0.0001, cfg.LearningRate, "unset keys keep defaults")
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte("epochz: 3\n"), 0o644))

	_, err := Load(path)
	var cerr *errs.ConfigError
	require.ErrorAs(t, err, &cerr)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero epochs", func(c *Config) { c.Epochs = 0 }},
		{"zero batch", func(c *Config) { c.BatchSize = 0 }},
		{"keep zero", func(c *Config) { c.Dropout = 0 }},
		{"keep above one", func(c *Config) { c.Dropout = 1.5 }},
		{"negative lr", func(c *Config) { c.LearningRate = -1 }},
		{"three classes", func(c *Config) { c.NumClasses = 3 }},
		{"height not multiple", func(c *Config) { c.ImageHeight = 100 }},
		{"shards without root", func(c *Config) { c.DatasetFormat = FormatShards }},
		{"unknown format", func(c *Config) { c.DatasetFormat = "coco" }},
		{"zero workers", func(c *Config) { c.NumWorkers = 0 }},
		{"zero log interval", func(c *Config) { c.LogEvery = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			before := *cfg
			var cerr *errs.ConfigError
			require.ErrorAs(t, cfg.Validate(), &cerr)
			require.Equal(t, before, *cfg, "validate leaves the config unchanged")
		})
	}
}

func TestOverridesFixInvalidFileValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte("epochs: 0\nnum_workers: 0\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err, "load does not validate")
	var cerr *errs.ConfigError
	require.ErrorAs(t, cfg.Validate(), &cerr)

	cfg.ApplyOverrides(Overrides{Epochs: 5, NumWorkers: 2})
	require.NoError(t, cfg.Validate())
	require.Equal(t, 5, cfg.Epochs)
	require.Equal(t, 2, cfg.NumWorkers)
}

func TestApplyOverrides(t *testing.T) {
	cfg := Default()
	freeze := true
	cfg.ApplyOverrides(Overrides{Epochs: 5, Dropout: 0.8, FreezeBackbone: &freeze})
	require.Equal(t, 5, cfg.Epochs)
	require.Equal(t, 0.8, cfg.Dropout)
	require.True(t, cfg.FreezeBackbone)
	require.Equal(t, 16, cfg.BatchSize, "zero overrides are ignored")
}
