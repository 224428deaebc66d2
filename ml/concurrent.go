package ml

import (
	"bytes"
	"context"
	"log"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// DefaultDispatchTimeout bounds a single dispatched computation.
const DefaultDispatchTimeout = 30 * time.Second

// ConcurrentEngine shares one Engine between goroutines.
//
// A single RWMutex guards all four tensors together: Predict and ExportState
// run under the read lock and observe one generation of weights, Train and
// ImportState take the write lock. The numeric work runs on a background
// goroutine so callers can give up on it through their context; a panic in
// that goroutine is reported as ErrInternal and never leaves the lock held.
//
// A deadline only abandons work that has not started. Once Train or
// ImportState holds the write lock the caller waits for it, so an applied
// update is always reported as a success.
type ConcurrentEngine struct {
	mu     sync.RWMutex
	engine *Engine

	generation atomic.Uint64

	inline  bool
	timeout time.Duration
	slots   chan struct{}
	logger  *log.Logger
}

type ConcurrentOption func(*ConcurrentEngine)

// WithTimeout sets the per-call deadline. Zero disables it.
func WithTimeout(d time.Duration) ConcurrentOption {
	return func(c *ConcurrentEngine) { c.timeout = d }
}

// WithInline runs computations on the calling goroutine.
func WithInline() ConcurrentOption {
	return func(c *ConcurrentEngine) { c.inline = true }
}

// WithMaxWorkers bounds how many computations run at once.
func WithMaxWorkers(n int) ConcurrentOption {
	return func(c *ConcurrentEngine) {
		if n > 0 {
			c.slots = make(chan struct{}, n)
		}
	}
}

func WithLogger(l *log.Logger) ConcurrentOption {
	return func(c *ConcurrentEngine) { c.logger = l }
}

// NewConcurrentEngine takes ownership of e; e must not be used directly afterwards.
func NewConcurrentEngine(e *Engine, opts ...ConcurrentOption) *ConcurrentEngine {
	c := &ConcurrentEngine{
		engine:  e,
		timeout: DefaultDispatchTimeout,
		slots:   make(chan struct{}, runtime.NumCPU()),
		logger:  log.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Generation counts successful Train and ImportState calls.
func (c *ConcurrentEngine) Generation() uint64 {
	return c.generation.Load()
}

func (c *ConcurrentEngine) Predict(ctx context.Context, pixels []byte) (Prediction, error) {
	pixels = bytes.Clone(pixels)
	return dispatch(ctx, c, "predict", false, func(e *Engine) (Prediction, error) {
		return e.Predict(pixels)
	})
}

func (c *ConcurrentEngine) Train(ctx context.Context, label int, pixels []byte) (TrainingStepResult, error) {
	pixels = bytes.Clone(pixels)
	return dispatch(ctx, c, "train", true, func(e *Engine) (TrainingStepResult, error) {
		res, err := e.Train(label, pixels)
		if err == nil {
			c.generation.Add(1)
		}
		return res, err
	})
}

// ExportState reads a consistent snapshot; it may overlap predictions but never a training step.
func (c *ConcurrentEngine) ExportState(ctx context.Context) (ModelState, error) {
	return dispatch(ctx, c, "export", false, func(e *Engine) (ModelState, error) {
		return e.ExportState(), nil
	})
}

func (c *ConcurrentEngine) ImportState(ctx context.Context, state ModelState) error {
	_, err := dispatch(ctx, c, "import", true, func(e *Engine) (struct{}, error) {
		if err := e.ImportState(state); err != nil {
			return struct{}{}, err
		}
		c.generation.Add(1)
		return struct{}{}, nil
	})
	return err
}

type outcome[T any] struct {
	value T
	err   error
}

// dispatch runs fn against the engine under the read or write lock and waits
// for it, for the caller's context, or for the dispatch deadline.
func dispatch[T any](ctx context.Context, c *ConcurrentEngine, op string, exclusive bool, fn func(*Engine) (T, error)) (T, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var claim atomic.Int32
	if c.inline {
		return guarded(ctx, c, op, exclusive, &claim, fn)
	}

	done := make(chan outcome[T], 1)
	go func() {
		v, err := guarded(ctx, c, op, exclusive, &claim, fn)
		done <- outcome[T]{v, err}
	}()

	select {
	case res := <-done:
		return res.value, res.err
	case <-ctx.Done():
		if !claim.CompareAndSwap(claimFree, claimAbandoned) && exclusive {
			// The mutation is already running; its result is the truth.
			res := <-done
			return res.value, res.err
		}
		var zero T
		return zero, errors.Wrapf(ErrInternal, "%s: %v", op, ctx.Err())
	}
}

// Claim states shared by dispatch and guarded. Whichever side moves the
// claim off claimFree first decides whether fn runs.
const (
	claimFree int32 = iota
	claimStarted
	claimAbandoned
)

func guarded[T any](ctx context.Context, c *ConcurrentEngine, op string, exclusive bool, claim *atomic.Int32, fn func(*Engine) (T, error)) (value T, err error) {
	select {
	case c.slots <- struct{}{}:
		defer func() { <-c.slots }()
	case <-ctx.Done():
		return value, errors.Wrapf(ErrInternal, "%s: %v", op, ctx.Err())
	}

	if exclusive {
		c.mu.Lock()
		defer c.mu.Unlock()
	} else {
		c.mu.RLock()
		defer c.mu.RUnlock()
	}

	// The caller may have given up while we waited for the lock.
	if ctx.Err() != nil || !claim.CompareAndSwap(claimFree, claimStarted) {
		return value, errors.Wrapf(ErrInternal, "%s skipped: %v", op, context.Cause(ctx))
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Printf("engine op=%s panic=%v", op, r)
			err = errors.Wrapf(ErrInternal, "%s panicked: %v", op, r)
		}
	}()
	return fn(c.engine)
}
