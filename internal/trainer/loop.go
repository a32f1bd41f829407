package trainer

import (
	"context"
	"log"
	"time"

	"roadseg/internal/errs"
	"roadseg/internal/metrics"
	"roadseg/internal/model"
)

// BatchSource yields one pass over the training data per Batches call.
type BatchSource interface {
	Batches(ctx context.Context, batchSize int) (<-chan model.Batch, <-chan error)
	Len() int
}

// EpochLogger receives the summed loss of every finished epoch.
type EpochLogger interface {
	Epoch(n int, totalLoss float64) error
}

// LoopConfig captures the knobs required by the epoch loop.
type LoopConfig struct {
	Epochs    int
	BatchSize int
	LogEvery  int
}

// EpochStats summarises one epoch.
type EpochStats struct {
	Epoch     int
	Steps     int
	Images    int
	TotalLoss float64
	MeanLoss  float64
	Duration  time.Duration
}

// TrainEpochs runs cfg.Epochs passes of src through mdl. Steps are strictly
// sequential; any failure stops the run. The machine must be in Training.
func TrainEpochs(ctx context.Context, mach *Machine, mdl model.Model, src BatchSource, cfg LoopConfig, logger EpochLogger) ([]EpochStats, error) {
	if cfg.Epochs <= 0 {
		return nil, errs.Config("train", "epochs must be > 0")
	}
	if cfg.BatchSize <= 0 {
		return nil, errs.Config("train", "batch size must be > 0")
	}
	if cfg.LogEvery <= 0 {
		cfg.LogEvery = 10
	}
	if mach.State() != Training {
		return nil, errs.Run("train", "run is %s, not %s", mach.State(), Training)
	}

	history := make([]EpochStats, 0, cfg.Epochs)
	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		stats, err := runEpoch(ctx, epoch, mdl, src, cfg)
		if err != nil {
			return history, err
		}
		if err := mach.FinishEpoch(); err != nil {
			return history, err
		}
		history = append(history, stats)

		log.Printf("epoch=%d/%d steps=%d images=%d total_loss=%.3f mean_loss=%.4f duration=%s",
			epoch, cfg.Epochs, stats.Steps, stats.Images, stats.TotalLoss, stats.MeanLoss, stats.Duration.Round(time.Millisecond))
		if logger != nil {
			if err := logger.Epoch(epoch, stats.TotalLoss); err != nil {
				return history, errs.WrapRun("epoch log", err)
			}
		}
	}
	return history, nil
}

func runEpoch(ctx context.Context, epoch int, mdl model.Model, src BatchSource, cfg LoopConfig) (EpochStats, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	start := time.Now()
	batches, batchErr := src.Batches(ctx, cfg.BatchSize)
	var window, total metrics.Window

	for {
		if err := ctx.Err(); err != nil {
			return EpochStats{}, errs.WrapRun("epoch", err)
		}
		startData := time.Now()
		batch, ok, err := nextBatch(ctx, batches, batchErr)
		if err != nil {
			return EpochStats{}, errs.WrapRun("epoch data", err)
		}
		if !ok {
			break
		}
		dataTime := time.Since(startData)

		startCompute := time.Now()
		res, err := mdl.TrainStep(batch)
		if err != nil {
			return EpochStats{}, errs.WrapRun("train step", err)
		}
		computeTime := time.Since(startCompute)

		window.Record(batch.Size, dataTime, computeTime, res.Loss)
		total.Record(batch.Size, dataTime, computeTime, res.Loss)

		if window.Steps() == cfg.LogEvery {
			snap := window.Snapshot()
			log.Printf("epoch=%d step=%d images_per_sec=%.1f data_ms=%.2f compute_ms=%.2f loss=%.4f",
				epoch,
				res.Step,
				snap.ImagesPerSec,
				snap.AvgDataMS,
				snap.AvgComputeMS,
				snap.LastLoss,
			)
		}
	}

	snap := total.Snapshot()
	if snap.Steps == 0 {
		return EpochStats{}, errs.Run("epoch", "epoch %d produced no batches", epoch)
	}
	return EpochStats{
		Epoch:     epoch,
		Steps:     snap.Steps,
		Images:    snap.Images,
		TotalLoss: snap.TotalLoss,
		MeanLoss:  snap.MeanLoss,
		Duration:  time.Since(start),
	}, nil
}

// nextBatch waits for the next batch. ok is false once the pass is over.
func nextBatch(ctx context.Context, batches <-chan model.Batch, batchErr <-chan error) (model.Batch, bool, error) {
	select {
	case <-ctx.Done():
		return model.Batch{}, false, ctx.Err()
	case batch, ok := <-batches:
		if ok {
			return batch, true, nil
		}
		if err := <-batchErr; err != nil {
			return model.Batch{}, false, err
		}
		return model.Batch{}, false, nil
	}
}
