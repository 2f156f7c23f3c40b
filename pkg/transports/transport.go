package transports

import "context"

// Gateway exposes streaming sessions to remote clients. Implementations own
// their listener and must let running sessions finish during Drain.
type Gateway interface {
	Name() string
	Start(ctx context.Context) error
	Drain(ctx context.Context) error
}

// ReadyReporter exposes readiness metadata, such as the bound address, for logging.
type ReadyReporter interface {
	ReadyFields() map[string]any
}
