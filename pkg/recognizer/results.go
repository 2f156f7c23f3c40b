package recognizer

import (
	"sync"

	"cloud.google.com/go/speech/apiv2/speechpb"
)

// ResultReceiver is the consuming end of the egress channel.
type ResultReceiver struct {
	ch        chan *speechpb.StreamingRecognizeResponse
	gone      chan struct{}
	goneOnce  sync.Once
	closeOnce sync.Once
}

func newResultReceiver(capacity int) *ResultReceiver {
	return &ResultReceiver{
		ch:   make(chan *speechpb.StreamingRecognizeResponse, capacity),
		gone: make(chan struct{}),
	}
}

// Results yields responses in the order the service emitted them. The channel
// is closed when the session pump returns, whether it succeeded or not.
func (r *ResultReceiver) Results() <-chan *speechpb.StreamingRecognizeResponse {
	return r.ch
}

// Close tells the pump nobody reads anymore. Later results are dropped while
// the pump keeps draining the service until it ends the stream.
func (r *ResultReceiver) Close() {
	r.goneOnce.Do(func() { close(r.gone) })
}

func (r *ResultReceiver) consumerGone() bool {
	select {
	case <-r.gone:
		return true
	default:
		return false
	}
}

func (r *ResultReceiver) finish() {
	r.closeOnce.Do(func() { close(r.ch) })
}
