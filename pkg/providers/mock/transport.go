package mock

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"cloud.google.com/go/speech/apiv2/speechpb"
	"github.com/harunnryd/sttstream/pkg/adapters/transport"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Config scripts the behavior of the in-memory transport.
type Config struct {
	// DialErr makes Dial fail.
	DialErr error
	// OpenErr makes StreamingRecognize fail.
	OpenErr error
	// Respond is called for every audio request and returns the responses the
	// service emits while audio is still flowing. Nil emits one interim
	// transcript per audio frame.
	Respond func(audio []byte, index int) []*speechpb.StreamingRecognizeResponse
	// Final is emitted only after the client half-closes.
	Final []*speechpb.StreamingRecognizeResponse
	// FailAfter makes Recv return RecvErr once this many responses were delivered.
	FailAfter int
	RecvErr   error
	// RecognizeResponse and RecognizeErr script the synchronous call.
	RecognizeResponse *speechpb.RecognizeResponse
	RecognizeErr      error
	// RecognizeEmpty makes the synchronous call return neither response nor error.
	RecognizeEmpty bool
}

// Transport is an in-memory speech backend for tests and local runs.
type Transport struct {
	cfg Config

	mu         sync.Mutex
	streams    []*Stream
	recognized []*speechpb.RecognizeRequest
	dialed     []transport.DialConfig
	closed     bool
}

func NewTransport(cfg Config) *Transport {
	if cfg.Respond == nil {
		cfg.Respond = InterimPerFrame
	}
	if cfg.FailAfter > 0 && cfg.RecvErr == nil {
		cfg.RecvErr = status.Error(codes.Unavailable, "mock stream broken")
	}
	return &Transport{cfg: cfg}
}

func (t *Transport) Name() string { return "mock" }

// Dial satisfies transport.Dialer.
func (t *Transport) Dial(ctx context.Context, cfg transport.DialConfig) (transport.Transport, error) {
	t.mu.Lock()
	t.dialed = append(t.dialed, cfg)
	t.mu.Unlock()
	if t.cfg.DialErr != nil {
		return nil, t.cfg.DialErr
	}
	return t, nil
}

func (t *Transport) StreamingRecognize(ctx context.Context) (transport.Stream, error) {
	if t.cfg.OpenErr != nil {
		return nil, t.cfg.OpenErr
	}
	if ctx == nil {
		ctx = context.Background()
	}
	s := &Stream{ctx: ctx, cfg: t.cfg, notify: make(chan struct{}, 1)}
	t.mu.Lock()
	t.streams = append(t.streams, s)
	t.mu.Unlock()
	return s, nil
}

func (t *Transport) Recognize(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
	t.mu.Lock()
	t.recognized = append(t.recognized, req)
	t.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, status.FromContextError(err).Err()
	}
	if t.cfg.RecognizeErr != nil {
		return nil, t.cfg.RecognizeErr
	}
	if t.cfg.RecognizeEmpty {
		return nil, nil
	}
	if t.cfg.RecognizeResponse != nil {
		return t.cfg.RecognizeResponse, nil
	}
	return &speechpb.RecognizeResponse{
		Results: []*speechpb.SpeechRecognitionResult{{
			Alternatives: []*speechpb.SpeechRecognitionAlternative{{
				Transcript: fmt.Sprintf("%d bytes", len(req.GetContent())),
				Confidence: 1,
			}},
		}},
	}, nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Streams returns every stream opened so far.
func (t *Transport) Streams() []*Stream {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Stream(nil), t.streams...)
}

// Recognized returns every synchronous request received.
func (t *Transport) Recognized() []*speechpb.RecognizeRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*speechpb.RecognizeRequest(nil), t.recognized...)
}

// Dialed returns the configs passed to Dial.
func (t *Transport) Dialed() []transport.DialConfig {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]transport.DialConfig(nil), t.dialed...)
}

// Stream is one scripted duplex call.
type Stream struct {
	ctx    context.Context
	cfg    Config
	notify chan struct{}

	mu         sync.Mutex
	sent       []*speechpb.StreamingRecognizeRequest
	queue      []*speechpb.StreamingRecognizeResponse
	audio      int
	delivered  int
	halfClosed bool
}

func (s *Stream) Send(req *speechpb.StreamingRecognizeRequest) error {
	if s.ctx.Err() != nil {
		return io.EOF
	}
	s.mu.Lock()
	if s.halfClosed {
		s.mu.Unlock()
		return errors.New("mock: send after CloseSend")
	}
	s.sent = append(s.sent, req)
	if audio, ok := req.GetStreamingRequest().(*speechpb.StreamingRecognizeRequest_Audio); ok {
		s.queue = append(s.queue, s.cfg.Respond(audio.Audio, s.audio)...)
		s.audio++
	}
	s.mu.Unlock()
	s.signal()
	return nil
}

func (s *Stream) CloseSend() error {
	s.mu.Lock()
	if !s.halfClosed {
		s.halfClosed = true
		s.queue = append(s.queue, s.cfg.Final...)
	}
	s.mu.Unlock()
	s.signal()
	return nil
}

func (s *Stream) Recv() (*speechpb.StreamingRecognizeResponse, error) {
	for {
		s.mu.Lock()
		if s.cfg.FailAfter > 0 && s.delivered >= s.cfg.FailAfter {
			s.mu.Unlock()
			return nil, s.cfg.RecvErr
		}
		if len(s.queue) > 0 {
			resp := s.queue[0]
			s.queue = s.queue[1:]
			s.delivered++
			s.mu.Unlock()
			return resp, nil
		}
		if s.halfClosed {
			s.mu.Unlock()
			return nil, io.EOF
		}
		s.mu.Unlock()

		select {
		case <-s.notify:
		case <-s.ctx.Done():
			return nil, status.FromContextError(s.ctx.Err()).Err()
		}
	}
}

func (s *Stream) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Sent returns the requests observed by the service, in order.
func (s *Stream) Sent() []*speechpb.StreamingRecognizeRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*speechpb.StreamingRecognizeRequest(nil), s.sent...)
}

// HalfClosed reports whether the client ended the outbound direction.
func (s *Stream) HalfClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.halfClosed
}

// InterimPerFrame emits one non-final transcript per audio frame.
func InterimPerFrame(audio []byte, index int) []*speechpb.StreamingRecognizeResponse {
	return []*speechpb.StreamingRecognizeResponse{Transcript(fmt.Sprintf("frame-%d:%s", index, audio), false)}
}

// Silent emits nothing while audio flows.
func Silent([]byte, int) []*speechpb.StreamingRecognizeResponse { return nil }

// Transcript builds a single-alternative streaming response.
func Transcript(text string, final bool) *speechpb.StreamingRecognizeResponse {
	return &speechpb.StreamingRecognizeResponse{
		Results: []*speechpb.StreamingRecognitionResult{{
			Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: text, Confidence: 0.9}},
			IsFinal:      final,
		}},
	}
}

var _ transport.Transport = (*Transport)(nil)
var _ transport.Stream = (*Stream)(nil)
