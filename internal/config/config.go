package config

import (
	"bytes"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"roadseg/internal/errs"
)

// Dataset formats understood by the batch generator.
const (
	FormatKITTI  = "kitti"
	FormatShards = "shards"
)

// NumClasses is the only class count the network supports: road and background.
const NumClasses = 2

// InputStride is the total downsampling of the backbone; image sides must be multiples of it.
const InputStride = 32

// Config captures the runtime knobs for a training run.
type Config struct {
	DataDir        string  `yaml:"data_dir"`
	RunsDir        string  `yaml:"runs_dir"`
	SaveDir        string  `yaml:"save_dir"`
	BackboneDir    string  `yaml:"backbone_dir"`
	DatasetFormat  string  `yaml:"dataset_format"`
	ShardRoot      string  `yaml:"shard_root"`
	Epochs         int     `yaml:"epochs"`
	BatchSize      int     `yaml:"batch_size"`
	Dropout        float64 `yaml:"dropout"`
	LearningRate   float64 `yaml:"learning_rate"`
	NumClasses     int     `yaml:"num_classes"`
	ImageHeight    int     `yaml:"image_height"`
	ImageWidth     int     `yaml:"image_width"`
	FreezeBackbone bool    `yaml:"freeze_backbone"`
	SaveCheckpoint bool    `yaml:"save_checkpoint"`
	Export         bool    `yaml:"export"`
	Seed           int64   `yaml:"seed"`
	NumWorkers     int     `yaml:"num_workers"`
	LogEvery       int     `yaml:"log_every"`
}

// Overrides captures CLI supplied values.
type Overrides struct {
	DataDir        string
	RunsDir        string
	BackboneDir    string
	Epochs         int
	BatchSize      int
	Dropout        float64
	LearningRate   float64
	FreezeBackbone *bool
	SaveCheckpoint *bool
	Seed           int64
	NumWorkers     int
	LogEvery       int
}

// Default returns the configuration of the reference KITTI run.
func Default() *Config {
	return &Config{
		DataDir:       "./data",
		RunsDir:       "./runs",
		SaveDir:       "save_models",
		DatasetFormat: FormatKITTI,
		Epochs:        40,
		BatchSize:     16,
		Dropout:       0.5,
		LearningRate:  0.0001,
		NumClasses:    NumClasses,
		ImageHeight:   160,
		ImageWidth:    576,
		Export:        true,
		Seed:          42,
		NumWorkers:    4,
		LogEvery:      10,
	}
}

// Load reads a YAML file on top of Default. An empty path yields the defaults.
// The result is not validated: apply overrides first, then call Validate.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "open config")
	}
	if err := cfg.parse(raw); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) parse(raw []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return &errs.ConfigError{Op: "parse config", Err: errors.WithStack(err)}
	}
	return nil
}

// ApplyOverrides updates c using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.DataDir != "" {
		c.DataDir = o.DataDir
	}
	if o.RunsDir != "" {
		c.RunsDir = o.RunsDir
	}
	if o.BackboneDir != "" {
		c.BackboneDir = o.BackboneDir
	}
	if o.Epochs > 0 {
		c.Epochs = o.Epochs
	}
	if o.BatchSize > 0 {
		c.BatchSize = o.BatchSize
	}
	if o.Dropout > 0 {
		c.Dropout = o.Dropout
	}
	if o.LearningRate > 0 {
		c.LearningRate = o.LearningRate
	}
	if o.FreezeBackbone != nil {
		c.FreezeBackbone = *o.FreezeBackbone
	}
	if o.SaveCheckpoint != nil {
		c.SaveCheckpoint = *o.SaveCheckpoint
	}
	if o.Seed != 0 {
		c.Seed = o.Seed
	}
	if o.NumWorkers > 0 {
		c.NumWorkers = o.NumWorkers
	}
	if o.LogEvery > 0 {
		c.LogEvery = o.LogEvery
	}
}

// Validate verifies the config is runnable. It never modifies c.
func (c *Config) Validate() error {
	if c == nil {
		return errs.Config("validate", "config is nil")
	}
	if c.Epochs < 1 {
		return errs.Config("validate", "epochs must be >= 1 (got %d)", c.Epochs)
	}
	if c.BatchSize < 1 {
		return errs.Config("validate", "batch_size must be >= 1 (got %d)", c.BatchSize)
	}
	if c.Dropout <= 0 || c.Dropout > 1 {
		return errs.Config("validate", "dropout keep probability must be in (0,1] (got %g)", c.Dropout)
	}
	if c.LearningRate <= 0 {
		return errs.Config("validate", "learning_rate must be > 0 (got %g)", c.LearningRate)
	}
	if c.NumClasses != NumClasses {
		return errs.Config("validate", "num_classes must be %d (got %d)", NumClasses, c.NumClasses)
	}
	if c.ImageHeight <= 0 || c.ImageHeight%InputStride != 0 {
		return errs.Config("validate", "image_height must be a positive multiple of %d (got %d)", InputStride, c.ImageHeight)
	}
	if c.ImageWidth <= 0 || c.ImageWidth%InputStride != 0 {
		return errs.Config("validate", "image_width must be a positive multiple of %d (got %d)", InputStride, c.ImageWidth)
	}
	switch c.DatasetFormat {
	case FormatKITTI:
		if c.DataDir == "" {
			return errs.Config("validate", "data_dir must be set")
		}
	case FormatShards:
		if c.ShardRoot == "" {
			return errs.Config("validate", "shard_root must be set for dataset_format %q", FormatShards)
		}
	default:
		return errs.Config("validate", "unknown dataset_format %q", c.DatasetFormat)
	}
	if c.NumWorkers < 1 {
		return errs.Config("validate", "num_workers must be >= 1 (got %d)", c.NumWorkers)
	}
	if c.LogEvery < 1 {
		return errs.Config("validate", "log_every must be >= 1 (got %d)", c.LogEvery)
	}
	return nil
}

// BackbonePath is the pretrained artifact directory, defaulting to <data_dir>/vgg.
func (c *Config) BackbonePath() string {
	if c.BackboneDir != "" {
		return c.BackboneDir
	}
	return filepath.Join(c.DataDir, "vgg")
}

// TrainingDir is the KITTI training split.
func (c *Config) TrainingDir() string {
	return filepath.Join(c.DataDir, "data_road", "training")
}

// TestingDir is the KITTI held-out split used for the inference export.
func (c *Config) TestingDir() string {
	return filepath.Join(c.DataDir, "data_road", "testing")
}
