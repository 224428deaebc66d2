package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/b0tShaman/neuro-digits/data"
	"github.com/b0tShaman/neuro-digits/ml"
	"github.com/b0tShaman/neuro-digits/service"
	"github.com/b0tShaman/neuro-digits/store"
	"github.com/b0tShaman/neuro-digits/trainer"
)

// -------- MAIN -------- //
func main() {
	trainPath := flag.String("data", "assets/mnist/mnist_train.csv", "MNIST training CSV")
	testPath := flag.String("eval", "", "MNIST test CSV to report accuracy on")
	modelsDir := flag.String("models", "assets/models", "Directory holding model files")
	version := flag.String("version", "default", "Model name; the file is <models>/<version>.bin")
	epochs := flag.Int("epochs", 3, "Training epochs (0 skips training)")
	resume := flag.Bool("resume", false, "Continue from the existing model file")
	shuffle := flag.Bool("shuffle", true, "Shuffle samples every epoch")
	logEvery := flag.Int("log-every", 5000, "Log progress every N samples")
	predictPath := flag.String("predict", "", "Image file to classify after training")
	invert := flag.Bool("invert", false, "Invert the -predict image (dark digit on light background)")
	seed := flag.Uint64("seed", 0, "Weight initialization seed")
	flag.Parse()

	runID := uuid.NewString()
	logger := log.New(os.Stderr, "run="+runID[:8]+" ", log.LstdFlags)

	if err := os.MkdirAll(*modelsDir, 0o755); err != nil {
		logger.Fatalf("create models dir: %v", err)
	}
	modelFile := filepath.Join(*modelsDir, *version+".bin")
	logger.Printf("version=%s model=%s cores=%d", *version, modelFile, runtime.NumCPU())

	var engineOpts []ml.EngineOption
	if *seed != 0 {
		engineOpts = append(engineOpts, ml.WithSeed(*seed))
	}
	engine := ml.NewConcurrentEngine(ml.NewEngine(engineOpts...),
		ml.WithInline(),
		ml.WithTimeout(0),
		ml.WithLogger(logger),
	)
	repo := store.NewFile(modelFile)

	// Interrupt stops training; the model is saved below either way.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := openService(ctx, engine, repo, *resume, *epochs, logger)
	if err != nil {
		logger.Fatalf("%v", err)
	}

	if *epochs > 0 {
		samples, err := data.LoadCSV(*trainPath)
		if err != nil {
			logger.Fatalf("load training data: %v", err)
		}
		logger.Printf("loaded dataset: %d samples", len(samples))

		start := time.Now()
		_, err = trainer.Train(ctx, svc, samples, trainer.TrainingConfig{
			Epochs:       *epochs,
			VerboseEvery: *logEvery,
			Shuffle:      *shuffle,
			Logger:       logger,
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Fatalf("training failed: %v", err)
		}
		if err != nil {
			logger.Printf("interrupted, saving model...")
		}

		state, err := svc.ExportState(context.Background())
		if err != nil {
			logger.Fatalf("export model: %v", err)
		}
		if err := repo.Save(context.Background(), state); err != nil {
			logger.Fatalf("save model: %v", err)
		}
		logger.Printf("model saved to %s (training took %v)", modelFile, time.Since(start))
	}

	if *testPath != "" {
		samples, err := data.LoadCSV(*testPath)
		if err != nil {
			logger.Fatalf("load test data: %v", err)
		}
		acc, err := trainer.Evaluate(context.Background(), svc, samples, runtime.NumCPU())
		if err != nil {
			logger.Fatalf("evaluate: %v", err)
		}
		logger.Printf("test accuracy=%.2f%% samples=%d", 100*acc, len(samples))
	}

	if *predictPath != "" {
		pixels, err := data.LoadImage(*predictPath, *invert)
		if err != nil {
			logger.Fatalf("load image: %v", err)
		}
		p, err := svc.Predict(context.Background(), pixels)
		if err != nil {
			logger.Fatalf("predict: %v", err)
		}
		logger.Printf("image=%s digit=%d confidence=%.2f%%", *predictPath, p.Digit, 100*p.Confidence)
	}
}

// openService backs the run with the model file whenever it needs the stored
// weights: -resume, or -epochs 0 to only evaluate or predict. A fresh training
// run starts from random weights and writes the file when it finishes.
func openService(ctx context.Context, engine *ml.ConcurrentEngine, repo *store.File, resume bool, epochs int, logger *log.Logger) (*service.DigitClassifier, error) {
	if !resume && epochs > 0 {
		return service.New(ctx, engine, store.NewMemory(), service.WithLogger(logger)), nil
	}
	svc := service.New(ctx, engine, repo, service.WithLogger(logger))
	if !svc.Stats().Loaded {
		return nil, errors.Wrapf(ml.ErrPersistence, "model %s could not be loaded", repo.Path())
	}
	return svc, nil
}
