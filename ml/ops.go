package ml

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// probabilityFloor keeps CrossEntropy finite when the target class has ~0 mass.
const probabilityFloor = 1e-7

// Normalize maps 784 byte intensities onto [0, 1].
func Normalize(pixels []byte) ([]float64, error) {
	if len(pixels) != InputSize {
		return nil, errors.Wrapf(ErrInvalidInput, "expected %d pixels, got %d", InputSize, len(pixels))
	}
	out := make([]float64, InputSize)
	for i, p := range pixels {
		out[i] = float64(p) / 255.0
	}
	return out, nil
}

func Relu(x float64) float64 {
	if x > 0 {
		return x
	}
	return 0
}

// ReluDerivative is 0 at the kink.
func ReluDerivative(x float64) float64 {
	if x > 0 {
		return 1
	}
	return 0
}

// Softmax normalizes v in place. The max is subtracted before exponentiating.
func Softmax(v []float64) {
	if len(v) == 0 {
		return
	}
	maxVal := floats.Max(v)
	for i, x := range v {
		v[i] = math.Exp(x - maxVal)
	}
	floats.Scale(1/floats.Sum(v), v)
}

// CrossEntropy returns -ln(output[label]) with the probability floored at 1e-7.
func CrossEntropy(output []float64, label int) float64 {
	return -math.Log(math.Max(output[label], probabilityFloor))
}

// Argmax returns the first index holding the largest value.
func Argmax(v []float64) int {
	return floats.MaxIdx(v)
}

func validLabel(label int) error {
	if label < 0 || label >= OutputSize {
		return errors.Wrapf(ErrInvalidInput, "label %d outside 0..%d", label, OutputSize-1)
	}
	return nil
}
