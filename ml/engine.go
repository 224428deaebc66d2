package ml

import (
	"math/rand/v2"
	"sync"
)

// DefaultLearningRate is the fixed step size of the gradient descent update.
const DefaultLearningRate = 0.01

// Engine owns the four weight/bias tensors of the 784-128-10 network.
//
// An Engine is not safe for concurrent use: Train and ImportState mutate the
// tensors in place. Share it through a ConcurrentEngine.
type Engine struct {
	w1, b1 *Matrix // HiddenSize x InputSize, HiddenSize x 1
	w2, b2 *Matrix // OutputSize x HiddenSize, OutputSize x 1

	optimizer *SGDOptimizer

	// Forward buffers, one set per in-flight pass.
	workspaces sync.Pool
}

// workspace holds the activations of a single forward pass.
type workspace struct {
	x      *Matrix
	z1, a1 *Matrix
	z2     *Matrix
	out    *Matrix
}

type engineConfig struct {
	rng *rand.Rand
}

type EngineOption func(*engineConfig)

// WithSeed makes weight initialization deterministic.
func WithSeed(seed uint64) EngineOption {
	return func(c *engineConfig) {
		c.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

// NewEngine builds a network with He-initialized weights and zero biases.
func NewEngine(opts ...EngineOption) *Engine {
	cfg := engineConfig{
		rng: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	e := &Engine{
		w1:        NewMatrix(HiddenSize, InputSize),
		b1:        NewVector(HiddenSize),
		w2:        NewMatrix(OutputSize, HiddenSize),
		b2:        NewVector(OutputSize),
		optimizer: &SGDOptimizer{LearningRate: DefaultLearningRate},
	}
	e.w1.Randomize(cfg.rng, InputSize)
	e.w2.Randomize(cfg.rng, HiddenSize)

	e.workspaces.New = func() any {
		return &workspace{
			x:   NewVector(InputSize),
			z1:  NewVector(HiddenSize),
			a1:  NewVector(HiddenSize),
			z2:  NewVector(OutputSize),
			out: NewVector(OutputSize),
		}
	}
	return e
}

// forward runs x -> relu(W1 x + b1) -> softmax(W2 a1 + b2), reading only the weights.
func (e *Engine) forward(ws *workspace) {
	MatMul(e.w1.dense, ws.x.dense, ws.z1)
	ws.z1.Add(e.b1)
	ws.a1.CopyFrom(ws.z1)
	ws.a1.ApplyRelu()

	MatMul(e.w2.dense, ws.a1.dense, ws.z2)
	ws.z2.Add(e.b2)
	ws.out.CopyFrom(ws.z2)
	Softmax(ws.out.data)
}

func (e *Engine) acquire(pixels []byte) (*workspace, error) {
	x, err := Normalize(pixels)
	if err != nil {
		return nil, err
	}
	ws := e.workspaces.Get().(*workspace)
	copy(ws.x.data, x)
	return ws, nil
}

// Predict classifies one 784-pixel image. It does not modify the engine.
func (e *Engine) Predict(pixels []byte) (Prediction, error) {
	ws, err := e.acquire(pixels)
	if err != nil {
		return Prediction{}, err
	}
	defer e.workspaces.Put(ws)

	e.forward(ws)

	probs := make([]float64, OutputSize)
	copy(probs, ws.out.data)
	digit := Argmax(probs)
	return Prediction{
		Digit:         digit,
		Confidence:    probs[digit],
		Probabilities: probs,
	}, nil
}

// Train performs one backpropagation step on a single labeled example.
func (e *Engine) Train(label int, pixels []byte) (TrainingStepResult, error) {
	if err := validLabel(label); err != nil {
		return TrainingStepResult{}, err
	}
	ws, err := e.acquire(pixels)
	if err != nil {
		return TrainingStepResult{}, err
	}
	defer e.workspaces.Put(ws)

	e.forward(ws)

	// Measured before the update touches the weights.
	result := TrainingStepResult{
		Loss:    CrossEntropy(ws.out.data, label),
		Correct: Argmax(ws.out.data) == label,
	}

	e.optimizer.Update(e, e.gradients(ws, label))
	return result, nil
}

// gradients backpropagates the combined softmax + cross-entropy error.
// Index 0 is the hidden layer, index 1 the output layer.
func (e *Engine) gradients(ws *workspace, label int) [2]GradientSet {
	// dz2 = output - onehot(label)
	dz2 := NewVector(OutputSize)
	copy(dz2.data, ws.out.data)
	dz2.data[label] -= 1.0

	dW2 := NewMatrix(OutputSize, HiddenSize)
	MatMul(dz2.dense, ws.a1.dense.T(), dW2)

	// dz1 = (W2^T dz2) * relu'(z1)
	dz1 := NewVector(HiddenSize)
	MatMul(e.w2.dense.T(), dz2.dense, dz1)
	for i, z := range ws.z1.data {
		dz1.data[i] *= ReluDerivative(z)
	}

	dW1 := NewMatrix(HiddenSize, InputSize)
	MatMul(dz1.dense, ws.x.dense.T(), dW1)

	return [2]GradientSet{
		{dW: dW1, db: dz1},
		{dW: dW2, db: dz2},
	}
}

// ExportState copies the weights into a fresh ModelState.
func (e *Engine) ExportState() ModelState {
	return ModelState{
		W1: toFloat32(e.w1.data),
		B1: toFloat32(e.b1.data),
		W2: toFloat32(e.w2.data),
		B2: toFloat32(e.b2.data),
	}
}

// ImportState replaces all weights. On a shape mismatch nothing is modified.
func (e *Engine) ImportState(s ModelState) error {
	if err := s.Validate(); err != nil {
		return err
	}
	fromFloat32(e.w1.data, s.W1)
	fromFloat32(e.b1.data, s.B1)
	fromFloat32(e.w2.data, s.W2)
	fromFloat32(e.b2.data, s.B2)
	return nil
}
