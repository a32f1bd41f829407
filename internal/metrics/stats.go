package metrics

import "time"

// Window accumulates loss and timing across optimizer steps until the next Snapshot.
type Window struct {
	images    int
	steps     int
	data      time.Duration
	compute   time.Duration
	totalLoss float64
	lastLoss  float64
}

// Record adds one step to the window.
func (w *Window) Record(batchSize int, dataTime, computeTime time.Duration, loss float64) {
	w.images += batchSize
	w.steps++
	w.data += dataTime
	w.compute += computeTime
	w.totalLoss += loss
	w.lastLoss = loss
}

// Steps is the number of steps recorded since the last Snapshot.
func (w *Window) Steps() int { return w.steps }

// Snapshot returns aggregated metrics and resets the window.
func (w *Window) Snapshot() Snapshot {
	snap := Snapshot{
		Steps:     w.steps,
		Images:    w.images,
		TotalLoss: w.totalLoss,
		LastLoss:  w.lastLoss,
	}
	if total := w.data + w.compute; total > 0 {
		snap.ImagesPerSec = float64(w.images) / total.Seconds()
	}
	if w.steps > 0 {
		snap.AvgDataMS = (w.data.Seconds() * 1000) / float64(w.steps)
		snap.AvgComputeMS = (w.compute.Seconds() * 1000) / float64(w.steps)
		snap.MeanLoss = w.totalLoss / float64(w.steps)
	}
	*w = Window{}
	return snap
}

// Snapshot represents loggable metrics.
type Snapshot struct {
	Steps        int
	Images       int
	ImagesPerSec float64
	AvgDataMS    float64
	AvgComputeMS float64
	TotalLoss    float64
	MeanLoss     float64
	LastLoss     float64
}
