package trainer

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"roadseg/internal/config"
	"roadseg/internal/dataset"
	"roadseg/internal/errs"
	"roadseg/internal/inference"
	"roadseg/internal/model"
	"roadseg/internal/runlog"
)

// Run stages reported in StageError.
const (
	StageLoad   = "load"
	StageBuild  = "build"
	StageTrain  = "train"
	StageExport = "export"
)

// StageError tags a failure with the phase of the run it happened in.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return e.Stage + ": " + e.Err.Error() }
func (e *StageError) Unwrap() error { return e.Err }

func stageErr(stage string, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Err: err}
}

// Summary describes a finished run.
type Summary struct {
	RunID      uuid.UUID
	OutputDir  string
	LogPath    string
	Epochs     []EpochStats
	Checkpoint string
	ExportDir  string
	Exported   int
}

// Run executes a full training run: prepare outputs, load the backbone,
// build the network, train, then optionally checkpoint and export overlays.
func Run(ctx context.Context, cfg *config.Config) (Summary, error) {
	var sum Summary
	if err := cfg.Validate(); err != nil {
		return sum, stageErr(StageLoad, err)
	}
	params := runlog.Params{
		Epochs:       cfg.Epochs,
		BatchSize:    cfg.BatchSize,
		KeepProb:     cfg.Dropout,
		LearningRate: cfg.LearningRate,
		Seed:         cfg.Seed,
	}
	sum.RunID = params.RunID()

	outDir, err := runlog.PrepareOutputDir(cfg.RunsDir, cfg.Dropout)
	if err != nil {
		return sum, stageErr(StageLoad, err)
	}
	sum.OutputDir = outDir
	runLog := runlog.Open(outDir, cfg.Dropout)
	sum.LogPath = runLog.Path()
	if err := runLog.Header(params); err != nil {
		return sum, stageErr(StageLoad, err)
	}
	log.Printf("run_id=%s output_dir=%s %s", sum.RunID, outDir, params.Key())

	mach := NewMachine(cfg.Epochs)
	sess := model.NewSession(cfg.Seed)
	backbone, err := model.LoadBackbone(sess, cfg.BackbonePath())
	if err != nil {
		return sum, stageErr(StageLoad, err)
	}
	if err := mach.Advance(BackboneLoaded); err != nil {
		return sum, stageErr(StageLoad, err)
	}
	src, err := OpenSource(ctx, cfg)
	if err != nil {
		return sum, stageErr(StageLoad, err)
	}
	log.Printf("backbone=%s variables=%d examples=%d", cfg.BackbonePath(), sess.Len(), src.Len())

	fcn, err := model.Build(sess, backbone, model.BuildConfig{
		NumClasses:     cfg.NumClasses,
		Height:         cfg.ImageHeight,
		Width:          cfg.ImageWidth,
		BatchSize:      cfg.BatchSize,
		LearningRate:   cfg.LearningRate,
		KeepProb:       cfg.Dropout,
		FreezeBackbone: cfg.FreezeBackbone,
	})
	if err != nil {
		return sum, stageErr(StageBuild, err)
	}
	if err := mach.Advance(GraphBuilt); err != nil {
		return sum, stageErr(StageBuild, err)
	}
	log.Printf("model build successful variables=%d trainable=%d freeze_backbone=%t, starting training",
		sess.Len(), len(sess.TrainableParams()), cfg.FreezeBackbone)

	if err := mach.Advance(Training); err != nil {
		return sum, stageErr(StageTrain, err)
	}
	sum.Epochs, err = TrainEpochs(ctx, mach, fcn, src, LoopConfig{
		Epochs:    cfg.Epochs,
		BatchSize: cfg.BatchSize,
		LogEvery:  cfg.LogEvery,
	}, runLog)
	if err != nil {
		return sum, stageErr(StageTrain, err)
	}
	if err := mach.Advance(Completed); err != nil {
		return sum, stageErr(StageTrain, err)
	}

	if cfg.SaveCheckpoint {
		path, err := saveCheckpoint(sess, cfg, params, sum.RunID)
		if err != nil {
			return sum, stageErr(StageExport, err)
		}
		sum.Checkpoint = path
		log.Printf("checkpoint=%s", path)
	}
	if cfg.Export {
		sum.ExportDir = filepath.Join(outDir, strconv.FormatInt(time.Now().Unix(), 10))
		exp := inference.Exporter{ImageDir: filepath.Join(cfg.TestingDir(), "image_2")}
		sum.Exported, err = exp.Export(ctx, sum.ExportDir, fcn)
		if err != nil {
			return sum, stageErr(StageExport, err)
		}
		log.Printf("exported=%d dir=%s", sum.Exported, sum.ExportDir)
	}
	return sum, nil
}

// OpenSource builds the batch generator for the configured dataset format.
func OpenSource(ctx context.Context, cfg *config.Config) (*dataset.Generator, error) {
	var (
		pairs []dataset.Pair
		err   error
	)
	switch cfg.DatasetFormat {
	case config.FormatKITTI:
		pairs, err = dataset.DiscoverPairs(cfg.TrainingDir())
	case config.FormatShards:
		var shards []string
		if shards, err = dataset.DiscoverShards(cfg.ShardRoot); err == nil {
			pairs, err = dataset.ReadShards(ctx, shards, cfg.NumWorkers)
		}
	default:
		return nil, errs.Config("dataset", "unknown dataset_format %q", cfg.DatasetFormat)
	}
	if err != nil {
		return nil, errs.WrapLoad("dataset", err)
	}
	gen, err := dataset.NewGenerator(pairs, dataset.Options{
		Height:     cfg.ImageHeight,
		Width:      cfg.ImageWidth,
		NumClasses: cfg.NumClasses,
		Seed:       cfg.Seed,
		Shuffle:    true,
		NumWorkers: cfg.NumWorkers,
	})
	return gen, errs.WrapLoad("dataset", err)
}

func saveCheckpoint(sess *model.Session, cfg *config.Config, p runlog.Params, id uuid.UUID) (string, error) {
	if err := os.MkdirAll(cfg.SaveDir, 0o755); err != nil {
		return "", errors.Wrap(err, "create save dir")
	}
	path := filepath.Join(cfg.SaveDir, "save-"+runlog.FormatFloat(cfg.Dropout)+".born")
	meta := map[string]string{
		"run_id":        id.String(),
		"epochs":        strconv.Itoa(p.Epochs),
		"batch_size":    strconv.Itoa(p.BatchSize),
		"dropout":       runlog.FormatFloat(p.KeepProb),
		"learning_rate": runlog.FormatFloat(p.LearningRate),
		"seed":          fmt.Sprint(p.Seed),
	}
	return path, sess.Save(path, meta)
}
