package metrics

import "time"

// Event names emitted by a streaming session.
const (
	EventSessionOpened   = "stt_session_opened"
	EventResultForwarded = "stt_result_forwarded"
	EventResultDropped   = "stt_result_dropped"
	EventSessionClosed   = "stt_session_closed"
	EventRecognize       = "stt_recognize"
)

type MetricsEvent struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

type Observer interface {
	RecordEvent(ev MetricsEvent)
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}

// OrNoop returns o, or a NoopObserver when o is nil.
func OrNoop(o Observer) Observer {
	if o == nil {
		return NoopObserver{}
	}
	return o
}
