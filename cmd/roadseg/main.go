package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"

	"roadseg/internal/config"
	"roadseg/internal/model"
	"roadseg/internal/sysinfo"
	"roadseg/internal/trainer"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "init-backbone" {
		initBackbone(os.Args[2:])
		return
	}
	train()
}

func train() {
	cfgPath := flag.String("config", "configs/kitti.yaml", "Path to YAML config")
	dataDir := flag.String("data-dir", "", "Override data directory")
	runsDir := flag.String("runs-dir", "", "Override runs directory")
	backboneDir := flag.String("backbone-dir", "", "Override pretrained backbone directory")
	epochs := flag.Int("epochs", 0, "Number of epochs")
	batchSize := flag.Int("batch-size", 0, "Batch size")
	dropout := flag.Float64("dropout", 0, "Dropout keep probability")
	learningRate := flag.Float64("learning-rate", 0, "Adam learning rate")
	freeze := flag.Bool("freeze-backbone", false, "Train decoder variables only")
	save := flag.Bool("save", false, "Write a checkpoint after training")
	seed := flag.Int64("seed", 0, "PRNG seed")
	numWorkers := flag.Int("num-workers", 0, "Number of decode workers")
	logEvery := flag.Int("log-every", 0, "Log every N steps")

	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	overrides := config.Overrides{
		DataDir:      *dataDir,
		RunsDir:      *runsDir,
		BackboneDir:  *backboneDir,
		Epochs:       *epochs,
		BatchSize:    *batchSize,
		Dropout:      *dropout,
		LearningRate: *learningRate,
		Seed:         *seed,
		NumWorkers:   *numWorkers,
		LogEvery:     *logEvery,
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "freeze-backbone":
			overrides.FreezeBackbone = freeze
		case "save":
			overrides.SaveCheckpoint = save
		}
	})
	cfg.ApplyOverrides(overrides)

	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	sysinfo.Probe().Log()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sum, err := trainer.Run(ctx, cfg)
	if err != nil {
		var serr *trainer.StageError
		if errors.As(err, &serr) {
			log.Fatalf("training failed stage=%s error=%v", serr.Stage, serr.Err)
		}
		log.Fatalf("training failed: %v", err)
	}
	log.Printf("run_id=%s epochs=%d log=%s exported=%d", sum.RunID, len(sum.Epochs), sum.LogPath, sum.Exported)
}

// initBackbone writes a freshly initialised VGG16 artifact, for smoke runs
// without converted pretrained weights.
func initBackbone(args []string) {
	fs := flag.NewFlagSet("init-backbone", flag.ExitOnError)
	out := fs.String("out", "data/vgg", "Artifact directory")
	seed := fs.Int64("seed", 42, "Initialisation seed")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: %s init-backbone [-out dir] [-seed n]\n", os.Args[0])
		fs.PrintDefaults()
	}
	_ = fs.Parse(args)

	b, err := model.NewBackbone(model.NewSession(*seed), model.VGG16Spec())
	if err != nil {
		log.Fatalf("build backbone: %v", err)
	}
	if err := model.SaveBackbone(b, *out); err != nil {
		log.Fatalf("save backbone: %v", err)
	}
	log.Printf("backbone written to %s", *out)
}
