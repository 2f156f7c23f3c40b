package runner

import (
	"bytes"
	"context"
	"io"

	"github.com/dimiro1/banner"
)

type State int32

const (
	StateNew State = iota
	StateStarting
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

type Runner interface {
	Run(ctx context.Context) error
	Stop() error
	State() State
}

// Hooks run around the serving phase. OnStart may fail, in which case the
// runner drains and returns the error.
type Hooks struct {
	OnStart func(ctx context.Context) error
	OnStop  func()
}

// Drainer lets in-flight sessions finish before the process exits.
type Drainer interface {
	Drain(ctx context.Context) error
}

// DrainFunc adapts a function to Drainer.
type DrainFunc func(ctx context.Context) error

func (f DrainFunc) Drain(ctx context.Context) error { return f(ctx) }

var Version = "dev"

// PrintBanner writes the startup banner. A nil writer disables it.
func PrintBanner(w io.Writer, color bool) {
	if w == nil {
		return
	}
	tpl := "{{ .Title \"sttstream\" \"\" 0 }}\nVersion: " + Version + "\n"
	banner.Init(w, true, color, bytes.NewBufferString(tpl))
}
