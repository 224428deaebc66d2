package trainer

import (
	"context"
	"fmt"
	"log"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/b0tShaman/neuro-digits/data"
	"github.com/b0tShaman/neuro-digits/ml"
)

type TrainingConfig struct {
	Epochs       int
	VerboseEvery int // How often to log progress (in samples)
	Shuffle      bool
	Logger       *log.Logger
}

// EpochStats summarizes one pass over the training samples.
type EpochStats struct {
	Epoch    int
	Samples  int
	AvgLoss  float64
	Accuracy float64 // fraction in [0, 1]
	Elapsed  time.Duration
}

// Train runs cfg.Epochs passes of single-example gradient descent over samples.
// It stops early, returning the epochs finished so far, when ctx is cancelled.
func Train(ctx context.Context, c ml.Classifier, samples []data.Sample, cfg TrainingConfig) ([]EpochStats, error) {
	if err := validateConfig(cfg, samples); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	indices := NewIndexList(len(samples))
	var history []EpochStats
	start := time.Now()

	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		if cfg.Shuffle {
			ShuffleIndices(indices)
		}

		var totalLoss float64
		var correct, count int
		for _, idx := range indices {
			if err := ctx.Err(); err != nil {
				return history, err
			}
			s := samples[idx]
			res, err := c.Train(ctx, s.Label, s.Pixels)
			if err != nil {
				if ctx.Err() != nil {
					return history, ctx.Err()
				}
				return history, fmt.Errorf("epoch %d sample %d: %w", epoch, idx, err)
			}

			totalLoss += res.Loss
			if res.Correct {
				correct++
			}
			count++

			if cfg.VerboseEvery > 0 && count%cfg.VerboseEvery == 0 {
				logger.Printf("epoch=%d samples=%d avg_loss=%.4f acc=%.2f%%",
					epoch, count, totalLoss/float64(count), 100*float64(correct)/float64(count))
			}
		}

		stats := EpochStats{
			Epoch:    epoch,
			Samples:  count,
			AvgLoss:  totalLoss / float64(count),
			Accuracy: float64(correct) / float64(count),
			Elapsed:  time.Since(start),
		}
		history = append(history, stats)
		logger.Printf("epoch=%d done loss=%.4f acc=%.2f%% time=%v",
			epoch, stats.AvgLoss, 100*stats.Accuracy, stats.Elapsed)
	}
	return history, nil
}

// Evaluate returns the fraction of samples predicted correctly. Predictions run
// on numWorkers goroutines, each taking a contiguous shard of samples.
func Evaluate(ctx context.Context, c ml.Classifier, samples []data.Sample, numWorkers int) (float64, error) {
	if len(samples) == 0 {
		return 0, fmt.Errorf("no samples to evaluate")
	}
	if numWorkers <= 0 {
		numWorkers = 1
	}
	numWorkers = min(numWorkers, len(samples))

	shard := (len(samples) + numWorkers - 1) / numWorkers
	correct := make([]int, numWorkers)
	errs := make([]error, numWorkers)

	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for w := 0; w < numWorkers; w++ {
		go func(id int) {
			defer wg.Done()
			lo := id * shard
			hi := min(lo+shard, len(samples))
			for _, s := range samples[lo:hi] {
				p, err := c.Predict(ctx, s.Pixels)
				if err != nil {
					errs[id] = err
					return
				}
				if p.Digit == s.Label {
					correct[id]++
				}
			}
		}(w)
	}
	wg.Wait()

	total := 0
	for w := range numWorkers {
		if errs[w] != nil {
			return 0, errs[w]
		}
		total += correct[w]
	}
	return float64(total) / float64(len(samples)), nil
}

func validateConfig(cfg TrainingConfig, samples []data.Sample) error {
	if cfg.Epochs <= 0 {
		return fmt.Errorf("epochs must be > 0 (got %d)", cfg.Epochs)
	}
	if len(samples) == 0 {
		return fmt.Errorf("no training samples")
	}
	return nil
}

// ------ DATA HANDLING HELPERS ------
func NewIndexList(size int) []int {
	indices := make([]int, size)
	for i := range indices {
		indices[i] = i
	}
	return indices
}

func ShuffleIndices(indices []int) {
	rand.Shuffle(len(indices), func(i, j int) {
		indices[i], indices[j] = indices[j], indices[i]
	})
}
