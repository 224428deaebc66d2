package ml

import (
	"gonum.org/v1/gonum/floats"
)

// GradientSet holds the calculated gradients for one layer
type GradientSet struct {
	dW *Matrix
	db *Matrix
}

// SGDOptimizer applies plain gradient descent: p -= lr * g.
type SGDOptimizer struct {
	LearningRate float64
}

// Update applies both layers' gradients. grads[0] is the hidden layer.
func (opt *SGDOptimizer) Update(e *Engine, grads [2]GradientSet) {
	params := [2][2]*Matrix{
		{e.w1, e.b1},
		{e.w2, e.b2},
	}
	for i, g := range grads {
		floats.AddScaled(params[i][0].data, -opt.LearningRate, g.dW.data)
		floats.AddScaled(params[i][1].data, -opt.LearningRate, g.db.data)
	}
}
