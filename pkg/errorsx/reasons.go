package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	// ReasonConnect marks transport or channel setup failures.
	ReasonConnect ReasonCode = "connect"
	// ReasonAuth marks credential resolution failures.
	ReasonAuth ReasonCode = "auth"
	// ReasonStream marks failures while a duplex session is active.
	ReasonStream ReasonCode = "stream"
	// ReasonChannelClosed marks use of an endpoint that was already taken or closed.
	ReasonChannelClosed ReasonCode = "channel_closed"
	// ReasonConfig marks an invalid session configuration.
	ReasonConfig ReasonCode = "config"
)
