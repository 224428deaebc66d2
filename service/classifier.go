// Package service composes the concurrent engine with a model repository.
package service

import (
	"context"
	"log"
	"sync"

	"github.com/pkg/errors"

	"github.com/b0tShaman/neuro-digits/ml"
)

// Repository stores and retrieves model snapshots.
type Repository interface {
	Save(ctx context.Context, s ml.ModelState) error
	Load(ctx context.Context) (ml.ModelState, error)
}

// Stats summarizes what the service has done since it started.
type Stats struct {
	Generation uint64
	TrainSteps uint64
	Correct    uint64
	LastLoss   float64
	Loaded     bool
}

// DigitClassifier serves predictions and online training over one shared engine.
type DigitClassifier struct {
	engine *ml.ConcurrentEngine
	repo   Repository
	logger *log.Logger

	autosaveEvery uint64

	mu    sync.Mutex
	stats Stats
}

type Option func(*DigitClassifier)

// WithAutosaveEvery saves the model after every n-th successful training step.
// Zero, the default, leaves persistence to SaveModel.
func WithAutosaveEvery(n int) Option {
	return func(d *DigitClassifier) {
		if n > 0 {
			d.autosaveEvery = uint64(n)
		}
	}
}

func WithLogger(l *log.Logger) Option {
	return func(d *DigitClassifier) { d.logger = l }
}

var _ ml.Classifier = (*DigitClassifier)(nil)

// New tries to load a stored model into engine. A missing or unreadable model
// is not an error: the service starts from the engine's current weights.
func New(ctx context.Context, engine *ml.ConcurrentEngine, repo Repository, opts ...Option) *DigitClassifier {
	d := &DigitClassifier{
		engine: engine,
		repo:   repo,
		logger: log.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}

	if err := d.LoadModel(ctx); err != nil {
		d.logger.Printf("no stored model, starting fresh: %v", err)
	} else {
		d.logger.Printf("model loaded generation=%d", engine.Generation())
	}
	return d
}

func (d *DigitClassifier) Predict(ctx context.Context, pixels []byte) (ml.Prediction, error) {
	return d.engine.Predict(ctx, pixels)
}

func (d *DigitClassifier) Train(ctx context.Context, label int, pixels []byte) (ml.TrainingStepResult, error) {
	res, err := d.engine.Train(ctx, label, pixels)
	if err != nil {
		return res, err
	}

	d.mu.Lock()
	d.stats.TrainSteps++
	if res.Correct {
		d.stats.Correct++
	}
	d.stats.LastLoss = res.Loss
	steps := d.stats.TrainSteps
	d.mu.Unlock()

	if d.autosaveEvery > 0 && steps%d.autosaveEvery == 0 {
		if err := d.SaveModel(ctx); err != nil {
			d.logger.Printf("autosave failed steps=%d: %v", steps, err)
		}
	}
	return res, nil
}

func (d *DigitClassifier) ExportState(ctx context.Context) (ml.ModelState, error) {
	return d.engine.ExportState(ctx)
}

func (d *DigitClassifier) ImportState(ctx context.Context, s ml.ModelState) error {
	return d.engine.ImportState(ctx, s)
}

// SaveModel writes a consistent snapshot of the current weights to the repository.
func (d *DigitClassifier) SaveModel(ctx context.Context) error {
	s, err := d.engine.ExportState(ctx)
	if err != nil {
		return errors.WithMessage(err, "save model")
	}
	if err := d.repo.Save(ctx, s); err != nil {
		return errors.WithMessage(err, "save model")
	}
	return nil
}

// LoadModel replaces the current weights with the repository's model.
func (d *DigitClassifier) LoadModel(ctx context.Context) error {
	s, err := d.repo.Load(ctx)
	if err != nil {
		return errors.WithMessage(err, "load model")
	}
	if err := d.engine.ImportState(ctx, s); err != nil {
		return errors.WithMessage(err, "load model")
	}

	d.mu.Lock()
	d.stats.Loaded = true
	d.mu.Unlock()
	return nil
}

func (d *DigitClassifier) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.stats
	s.Generation = d.engine.Generation()
	return s
}
