package ml

import "context"

// Classifier is the capability set shared by the concurrent engine and the
// service built on top of it.
type Classifier interface {
	Predict(ctx context.Context, pixels []byte) (Prediction, error)
	Train(ctx context.Context, label int, pixels []byte) (TrainingStepResult, error)
	ExportState(ctx context.Context) (ModelState, error)
	ImportState(ctx context.Context, state ModelState) error
}

var _ Classifier = (*ConcurrentEngine)(nil)
