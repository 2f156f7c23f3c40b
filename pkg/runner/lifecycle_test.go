package runner

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestLifecycleRunsAndDrains(t *testing.T) {
	var drained, started, stopped atomic.Bool
	r := NewLifecycleRunner(DrainFunc(func(ctx context.Context) error {
		drained.Store(true)
		return nil
	}), Hooks{
		OnStart: func(ctx context.Context) error { started.Store(true); return nil },
		OnStop:  func() { stopped.Store(true) },
	}, time.Second, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for r.State() != StateRunning {
		if time.Now().After(deadline) {
			t.Fatalf("runner never reached running, state=%s", r.State())
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not return")
	}
	if !started.Load() || !drained.Load() || !stopped.Load() {
		t.Fatalf("expected all hooks to fire")
	}
	if r.State() != StateStopped {
		t.Fatalf("expected stopped, got %s", r.State())
	}
	if err := r.Run(context.Background()); err == nil {
		t.Fatalf("expected second run to fail")
	}
}

func TestLifecycleDrainTimeout(t *testing.T) {
	r := NewLifecycleRunner(DrainFunc(func(ctx context.Context) error {
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		return ctx.Err()
	}), Hooks{}, 20*time.Millisecond, nil)
	if err := r.Stop(); err == nil || !strings.Contains(err.Error(), "drain timeout") {
		t.Fatalf("expected drain timeout, got %v", err)
	}
	if err := r.Stop(); err == nil {
		t.Fatalf("expected stop to be idempotent and keep its error")
	}
}

func TestLifecycleStartFailure(t *testing.T) {
	boom := errors.New("listen failed")
	r := NewLifecycleRunner(nil, Hooks{OnStart: func(context.Context) error { return boom }}, time.Second, nil)
	if err := r.Run(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected start error, got %v", err)
	}
	if r.State() != StateStopped {
		t.Fatalf("expected stopped, got %s", r.State())
	}
}

func TestPrintBanner(t *testing.T) {
	var buf bytes.Buffer
	PrintBanner(&buf, false)
	if !strings.Contains(buf.String(), "Version: "+Version) {
		t.Fatalf("expected version line, got %q", buf.String())
	}
	PrintBanner(nil, false)
}
