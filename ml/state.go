package ml

import "github.com/pkg/errors"

// Network shape. The topology is fixed: 784 inputs, one hidden layer, 10 classes.
const (
	InputSize  = 28 * 28
	HiddenSize = 128
	OutputSize = 10
)

// ModelState is a flat, row-major snapshot of the four trainable tensors.
// W1 is HiddenSize x InputSize, W2 is OutputSize x HiddenSize.
type ModelState struct {
	W1 []float32
	B1 []float32
	W2 []float32
	B2 []float32
}

// Validate checks every field length against the network shape.
func (s ModelState) Validate() error {
	checks := []struct {
		name      string
		got, want int
	}{
		{"w1", len(s.W1), HiddenSize * InputSize},
		{"b1", len(s.B1), HiddenSize},
		{"w2", len(s.W2), OutputSize * HiddenSize},
		{"b2", len(s.B2), OutputSize},
	}
	for _, c := range checks {
		if c.got != c.want {
			return errors.Wrapf(ErrSerialization, "%s has %d values, expected %d", c.name, c.got, c.want)
		}
	}
	return nil
}

// Prediction is the classifier's answer for one image.
type Prediction struct {
	Digit         int
	Confidence    float64
	Probabilities []float64
}

// TrainingStepResult describes one gradient step, measured on the pre-update forward pass.
type TrainingStepResult struct {
	Loss    float64
	Correct bool
}

func toFloat32(src []float64) []float32 {
	out := make([]float32, len(src))
	for i, v := range src {
		out[i] = float32(v)
	}
	return out
}

func fromFloat32(dst []float64, src []float32) {
	for i, v := range src {
		dst[i] = float64(v)
	}
}
