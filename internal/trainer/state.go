package trainer

import "roadseg/internal/errs"

// State is a phase of a training run.
type State int

const (
	Uninitialized State = iota
	BackboneLoaded
	GraphBuilt
	Training
	Completed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case BackboneLoaded:
		return "backbone_loaded"
	case GraphBuilt:
		return "graph_built"
	case Training:
		return "training"
	case Completed:
		return "completed"
	}
	return "unknown"
}

// Machine enforces the run's phase order. States may only advance one step
// at a time, and Training only completes after every epoch has finished.
type Machine struct {
	state  State
	epoch  int
	epochs int
}

// NewMachine starts in Uninitialized for a run of the given length.
func NewMachine(epochs int) *Machine {
	return &Machine{epochs: epochs}
}

// State is the current phase.
func (m *Machine) State() State { return m.state }

// Epoch is the number of finished epochs.
func (m *Machine) Epoch() int { return m.epoch }

// Advance moves to the next phase.
func (m *Machine) Advance(to State) error {
	if to != m.state+1 {
		return errs.Run("state", "cannot move from %s to %s", m.state, to)
	}
	if to == Completed && m.epoch != m.epochs {
		return errs.Run("state", "cannot complete after %d of %d epochs", m.epoch, m.epochs)
	}
	m.state = to
	return nil
}

// FinishEpoch records one completed epoch while Training.
func (m *Machine) FinishEpoch() error {
	if m.state != Training {
		return errs.Run("state", "epoch finished while %s", m.state)
	}
	if m.epoch >= m.epochs {
		return errs.Run("state", "epoch %d exceeds the configured %d", m.epoch+1, m.epochs)
	}
	m.epoch++
	return nil
}
