package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/klauspost/cpuid/v2"

	"github.com/b0tShaman/neuro-digits/config"
	"github.com/b0tShaman/neuro-digits/ml"
	"github.com/b0tShaman/neuro-digits/server"
	"github.com/b0tShaman/neuro-digits/service"
	"github.com/b0tShaman/neuro-digits/store"
)

func main() {
	cfgPath := flag.String("config", "", "Path to YAML config")
	modelPath := flag.String("model", "", "Override model file path")
	listenAddr := flag.String("listen", "", "Override listen address")
	timeout := flag.Duration("timeout", 0, "Per-call engine deadline")
	maxWorkers := flag.Int("max-workers", 0, "Concurrent engine computations")
	autosave := flag.Int("autosave-every", 0, "Save the model every N training steps")
	seed := flag.Uint64("seed", 0, "Weight initialization seed")
	flag.Parse()

	path, optional := *cfgPath, false
	if path == "" {
		path, optional = "configs/server.yaml", true
	}
	cfg, err := config.Load(path, optional)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg.ApplyOverrides(config.Overrides{
		ModelPath:       *modelPath,
		ListenAddr:      *listenAddr,
		DispatchTimeout: *timeout,
		MaxWorkers:      *maxWorkers,
		AutosaveEvery:   *autosave,
		Seed:            *seed,
	})
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.ModelPath), 0o755); err != nil {
		log.Fatalf("create model dir: %v", err)
	}

	workers := cfg.MaxWorkers
	if workers == 0 {
		workers = max(cpuid.CPU.PhysicalCores, 1)
	}
	log.Printf("cpu=%q physical_cores=%d logical_cores=%d avx2=%t workers=%d",
		cpuid.CPU.BrandName, cpuid.CPU.PhysicalCores, cpuid.CPU.LogicalCores,
		cpuid.CPU.Supports(cpuid.AVX2), workers)

	var engineOpts []ml.EngineOption
	if cfg.Seed != 0 {
		engineOpts = append(engineOpts, ml.WithSeed(cfg.Seed))
	}
	engine := ml.NewConcurrentEngine(ml.NewEngine(engineOpts...),
		ml.WithTimeout(cfg.DispatchTimeout),
		ml.WithMaxWorkers(workers),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo := store.NewFile(cfg.ModelPath)
	svc := service.New(ctx, engine, repo,
		service.WithAutosaveEvery(cfg.AutosaveEvery))

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.NewHandler(svc, nil),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}()

	log.Printf("listening on %s model=%s", cfg.ListenAddr, repo.Path())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server failed: %v", err)
	}

	if cfg.SaveOnExit {
		saveCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := svc.SaveModel(saveCtx); err != nil {
			log.Printf("save on exit failed: %v", err)
		} else {
			log.Printf("model saved to %s", repo.Path())
		}
	}
}
