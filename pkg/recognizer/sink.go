package recognizer

import (
	"context"
	"sync"

	"cloud.google.com/go/speech/apiv2/speechpb"
)

// AudioSink is the producing end of the ingress channel. Send blocks while the
// channel is full. Close is the only way to tell the service no more audio will
// follow; it is idempotent and safe to call from any producer.
type AudioSink struct {
	recognizer string
	ch         chan<- *speechpb.StreamingRecognizeRequest
	closing    chan struct{}
	pumpDone   <-chan struct{}

	mu   sync.RWMutex
	once sync.Once
}

func newAudioSink(recognizer string, ch chan<- *speechpb.StreamingRecognizeRequest, pumpDone <-chan struct{}) *AudioSink {
	return &AudioSink{
		recognizer: recognizer,
		ch:         ch,
		closing:    make(chan struct{}),
		pumpDone:   pumpDone,
	}
}

// Send enqueues one audio frame. It returns ErrSinkClosed after Close or once
// the session pump has ended, and ctx.Err() if ctx ends while waiting for room.
func (s *AudioSink) Send(ctx context.Context, frame []byte) error {
	if ctx == nil {
		ctx = context.Background()
	}
	req := AudioRequest(s.recognizer, frame)

	s.mu.RLock()
	defer s.mu.RUnlock()
	select {
	case <-s.closing:
		return ErrSinkClosed
	case <-s.pumpDone:
		return ErrSinkClosed
	default:
	}
	select {
	case s.ch <- req:
		return nil
	case <-s.closing:
		return ErrSinkClosed
	case <-s.pumpDone:
		return ErrSinkClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close ends the outbound audio stream. Frames already enqueued are still
// delivered.
func (s *AudioSink) Close() {
	s.once.Do(func() {
		close(s.closing)
		// Wait for in-flight Sends to observe closing before closing the channel.
		s.mu.Lock()
		close(s.ch)
		s.mu.Unlock()
	})
}
