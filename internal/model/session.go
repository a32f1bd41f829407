package model

import (
	"math"
	"math/rand"

	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"
	"github.com/pkg/errors"

	"roadseg/internal/errs"
)

// Variable groups.
const (
	GroupBackbone = "backbone"
	GroupDecoder  = "decoder"
)

// Variable is one entry of the session's variable scope.
type Variable struct {
	Name      string
	Group     string
	Trainable bool
	Param     *Param
}

// Session is the execution context of a run: one engine, one seeded RNG and
// the ordered scope of every variable registered by the backbone and decoder.
type Session struct {
	engine *Engine
	rng    *rand.Rand
	vars   []Variable
	index  map[string]int
}

// NewSession creates an empty session. The seed drives weight initialisation and dropout masks.
func NewSession(seed int64) *Session {
	return &Session{
		engine: NewEngine(),
		rng:    rand.New(rand.NewSource(seed)),
		index:  make(map[string]int),
	}
}

// Engine returns the session's execution backend.
func (s *Session) Engine() *Engine { return s.engine }

// Len is the number of registered variables.
func (s *Session) Len() int { return len(s.vars) }

// Variables returns a copy of the scope in registration order.
func (s *Session) Variables() []Variable {
	return append([]Variable(nil), s.vars...)
}

// VariableName scopes a layer parameter: "fcn9" + "conv2d.weight" is
// "fcn9.conv2d.weight". Checkpoint tensor names may not contain path separators.
func VariableName(layer, param string) string {
	return layer + "." + param
}

// Lookup finds a variable by its scoped name, e.g. "fcn9.conv2d.weight".
func (s *Session) Lookup(name string) (*Param, bool) {
	i, ok := s.index[name]
	if !ok {
		return nil, false
	}
	return s.vars[i].Param, true
}

// register adds the parameters of one layer under VariableName(layer, param).
// Either every parameter is added or none is.
func (s *Session) register(group string, layers []namedLayer) error {
	pending := make(map[string]struct{})
	for _, l := range layers {
		for _, p := range l.params {
			name := VariableName(l.name, p.Name())
			if _, dup := s.index[name]; dup {
				return errors.Errorf("variable %q already registered", name)
			}
			if _, dup := pending[name]; dup {
				return errors.Errorf("variable %q declared twice", name)
			}
			pending[name] = struct{}{}
		}
	}
	for _, l := range layers {
		for _, p := range l.params {
			name := VariableName(l.name, p.Name())
			s.index[name] = len(s.vars)
			s.vars = append(s.vars, Variable{Name: name, Group: group, Trainable: true, Param: p})
		}
	}
	return nil
}

// SetTrainable toggles every variable of a group. Frozen variables keep
// receiving gradients from the tape but are never handed to the optimizer.
func (s *Session) SetTrainable(group string, trainable bool) {
	for i := range s.vars {
		if s.vars[i].Group == group {
			s.vars[i].Trainable = trainable
		}
	}
}

// TrainableParams lists the parameters the optimizer should update.
func (s *Session) TrainableParams() []*Param {
	params := make([]*Param, 0, len(s.vars))
	for _, v := range s.vars {
		if v.Trainable {
			params = append(params, v.Param)
		}
	}
	return params
}

// Save writes every registered variable to path in born's state-dict format.
func (s *Session) Save(path string, metadata map[string]string) error {
	if len(s.vars) == 0 {
		return errors.New("save checkpoint: session has no variables")
	}
	if err := nn.Save[*Engine](scopeModule{s}, path, "fcn8", metadata); err != nil {
		return errors.Wrapf(err, "save checkpoint %s", path)
	}
	return nil
}

// Restore overwrites every registered variable from a checkpoint written by Save.
func (s *Session) Restore(path string) error {
	if _, err := nn.Load[*Engine](path, s.engine, scopeModule{s}); err != nil {
		return errs.WrapLoad("restore checkpoint "+path, err)
	}
	return nil
}

type namedLayer struct {
	name   string
	params []*Param
}

// scopeModule exposes the whole scope as a born module so nn.Save/nn.Load can
// serialise it under the scoped variable names.
type scopeModule struct{ s *Session }

func (m scopeModule) Forward(input *Tensor) *Tensor { return input }

func (m scopeModule) Parameters() []*Param {
	params := make([]*Param, len(m.s.vars))
	for i, v := range m.s.vars {
		params[i] = v.Param
	}
	return params
}

func (m scopeModule) StateDict() map[string]*tensor.RawTensor {
	return stateDict(m.s.vars)
}

func (m scopeModule) LoadStateDict(state map[string]*tensor.RawTensor) error {
	return loadStateDict(m.s.vars, state)
}

func stateDict(vars []Variable) map[string]*tensor.RawTensor {
	state := make(map[string]*tensor.RawTensor, len(vars))
	for _, v := range vars {
		state[v.Name] = v.Param.Tensor().Raw()
	}
	return state
}

// loadStateDict copies values into the existing parameter buffers so the
// optimizer's per-parameter state stays attached. Nothing is written unless
// every variable is present with a matching shape.
func loadStateDict(vars []Variable, state map[string]*tensor.RawTensor) error {
	for _, v := range vars {
		raw, ok := state[v.Name]
		if !ok {
			return errors.Errorf("tensor %q not found", v.Name)
		}
		if want := v.Param.Tensor().Shape(); !raw.Shape().Equal(want) {
			return errors.Errorf("tensor %q has shape %v, want %v", v.Name, raw.Shape(), want)
		}
		if raw.DType() != tensor.Float32 {
			return errors.Errorf("tensor %q has dtype %v, want float32", v.Name, raw.DType())
		}
	}
	for _, v := range vars {
		copy(v.Param.Tensor().Raw().AsFloat32(), state[v.Name].AsFloat32())
	}
	return nil
}

// initialize overwrites the layers' weights with seeded Xavier-uniform values
// and zeroes the biases, so runs with the same seed start identically.
func (s *Session) initialize(params []*Param) {
	for _, p := range params {
		data := p.Tensor().Raw().AsFloat32()
		shape := p.Tensor().Shape()
		if len(shape) != 4 {
			for i := range data {
				data[i] = 0
			}
			continue
		}
		receptive := shape[2] * shape[3]
		bound := math.Sqrt(6.0 / float64(shape[0]*receptive+shape[1]*receptive))
		for i := range data {
			data[i] = float32((s.rng.Float64()*2 - 1) * bound)
		}
	}
}
