package runner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harunnryd/sttstream/pkg/logging"
)

type LifecycleRunner struct {
	state   atomic.Int32
	cancel  context.CancelFunc
	mu      sync.Mutex
	stopped sync.Once
	stopErr error
	hooks   Hooks
	drainer Drainer
	timeout time.Duration
	logger  *slog.Logger

	BannerOut   io.Writer
	BannerColor bool
}

func NewLifecycleRunner(drainer Drainer, hooks Hooks, timeout time.Duration, logger *slog.Logger) *LifecycleRunner {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &LifecycleRunner{
		hooks:   hooks,
		drainer: drainer,
		timeout: timeout,
		logger:  logging.NewComponentLogger(logger, "runner"),
	}
}

// Run blocks until ctx is cancelled or Stop is called, then drains.
func (r *LifecycleRunner) Run(ctx context.Context) error {
	if !r.state.CompareAndSwap(int32(StateNew), int32(StateStarting)) {
		return fmt.Errorf("runner: cannot run from state %s", r.State())
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()
	defer cancel()

	PrintBanner(r.BannerOut, r.BannerColor)
	if r.hooks.OnStart != nil {
		if err := r.hooks.OnStart(ctx); err != nil {
			r.logger.Error("start_failed", "error", err)
			_ = r.stop()
			return err
		}
	}
	r.state.Store(int32(StateRunning))
	r.logger.Info("runner_started")
	<-ctx.Done()
	return r.stop()
}

func (r *LifecycleRunner) Stop() error {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return r.stop()
}

func (r *LifecycleRunner) State() State {
	return State(r.state.Load())
}

func (r *LifecycleRunner) stop() error {
	r.stopped.Do(func() {
		r.state.Store(int32(StateDraining))
		if r.drainer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
			done := make(chan error, 1)
			go func() { done <- r.drainer.Drain(ctx) }()
			select {
			case err := <-done:
				r.stopErr = err
			case <-ctx.Done():
				r.stopErr = fmt.Errorf("drain timeout after %s", r.timeout)
			}
			cancel()
		}
		if r.hooks.OnStop != nil {
			r.hooks.OnStop()
		}
		r.state.Store(int32(StateStopped))
		if r.stopErr != nil {
			r.logger.Warn("runner_stopped", "error", r.stopErr)
		} else {
			r.logger.Info("runner_stopped")
		}
	})
	return r.stopErr
}
