package recognizer

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"cloud.google.com/go/speech/apiv2/speechpb"
	"github.com/google/uuid"
	"github.com/harunnryd/sttstream/pkg/adapters/transport"
	"github.com/harunnryd/sttstream/pkg/credentials"
	"github.com/harunnryd/sttstream/pkg/errorsx"
	"github.com/harunnryd/sttstream/pkg/logging"
	"github.com/harunnryd/sttstream/pkg/metrics"
	"github.com/harunnryd/sttstream/pkg/providers/google"
	"google.golang.org/protobuf/proto"
)

// DefaultBufferSize is the ingress and egress capacity used when none is given.
const DefaultBufferSize = 1000

var (
	ErrAudioSinkTaken   = errorsx.New(errorsx.ReasonChannelClosed, "audio sink already taken")
	ErrResultsInstalled = errorsx.New(errorsx.ReasonChannelClosed, "result receiver already installed")
	ErrPumpStarted      = errorsx.New(errorsx.ReasonChannelClosed, "streaming recognize already started")
	ErrSinkClosed       = errorsx.New(errorsx.ReasonChannelClosed, "audio sink closed")
	ErrNotStreaming     = errorsx.New(errorsx.ReasonChannelClosed, "recognizer was created for synchronous use")
	ErrClosed           = errorsx.New(errorsx.ReasonChannelClosed, "recognizer closed")
)

// Options configure a Recognizer.
type Options struct {
	// Credentials is the raw credential material handed to Resolver.
	Credentials []byte
	// Resolver defaults to credentials.GoogleResolver.
	Resolver credentials.Resolver
	// Dialer defaults to google.Dial.
	Dialer transport.Dialer
	// Endpoint overrides the endpoint derived from Recognizer.
	Endpoint string
	// Recognizer is the recognizer resource name embedded in every request.
	Recognizer string
	// Config is the session envelope; unused by synchronous recognizers.
	Config SessionConfig
	// BufferSize is the ingress capacity, DefaultBufferSize when <= 0.
	BufferSize int
	UserAgent  string
	Logger     *slog.Logger
	Observer   metrics.Observer
}

// Stats are counters for one streaming session.
type Stats struct {
	FramesSent       int64
	ResultsForwarded int64
	ResultsDropped   int64
}

// Recognizer owns one transport connection and, in streaming mode, the
// ingress/egress channels of a single duplex session.
type Recognizer struct {
	id         string
	recognizer string
	cfg        SessionConfig
	transport  transport.Transport
	logger     *slog.Logger
	observer   metrics.Observer
	streaming  bool

	mu          sync.Mutex
	sink        *AudioSink
	sinkTaken   bool
	ingress     <-chan *speechpb.StreamingRecognizeRequest
	results     atomic.Pointer[ResultReceiver]
	pumpStarted bool
	pumpDone    bool
	closed      bool
	done        chan struct{}

	framesSent       atomic.Int64
	resultsForwarded atomic.Int64
	resultsDropped   atomic.Int64

	closeOnce sync.Once
	closeErr  error
}

// NewStreaming resolves credentials, dials the transport and prepares the
// session channels. The config envelope is enqueued before it returns, so the
// service always observes it ahead of any audio. On error nothing is left open.
func NewStreaming(ctx context.Context, opts Options) (*Recognizer, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	r, err := newRecognizer(ctx, opts, true)
	if err != nil {
		return nil, err
	}

	size := opts.BufferSize
	if size <= 0 {
		size = DefaultBufferSize
	}
	ingress := make(chan *speechpb.StreamingRecognizeRequest, size)
	ingress <- ConfigRequest(r.recognizer, r.cfg)

	r.ingress = ingress
	r.sink = newAudioSink(r.recognizer, ingress, r.done)
	r.logger.Info("streaming_recognizer_created",
		slog.Int("buffer_size", size),
		slog.Any("languages", r.cfg.Languages))
	return r, nil
}

// NewSynchronous prepares a recognizer for single request/response calls. It has
// no audio sink and no result receiver.
func NewSynchronous(ctx context.Context, opts Options) (*Recognizer, error) {
	r, err := newRecognizer(ctx, opts, false)
	if err != nil {
		return nil, err
	}
	r.logger.Info("synchronous_recognizer_created")
	return r, nil
}

func newRecognizer(ctx context.Context, opts Options, streaming bool) (*Recognizer, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(opts.Recognizer) == "" {
		return nil, errorsx.New(errorsx.ReasonConfig, "recognizer name is required")
	}
	resolver := opts.Resolver
	if resolver == nil {
		resolver = credentials.GoogleResolver{}
	}
	dial := opts.Dialer
	if dial == nil {
		dial = google.Dial
	}
	id := uuid.NewString()
	logger := logging.NewComponentLogger(opts.Logger, "recognizer").With(
		slog.String("session_id", id),
		slog.String("recognizer", opts.Recognizer))

	token, err := resolver.Resolve(ctx, opts.Credentials)
	if err != nil {
		logger.Error("credential_resolve_failed", slog.String("error", err.Error()))
		return nil, errorsx.Wrap(err, errorsx.ReasonAuth)
	}

	tr, err := dial(ctx, transport.DialConfig{
		Recognizer:  opts.Recognizer,
		Endpoint:    opts.Endpoint,
		TokenSource: token.Source(),
		UserAgent:   opts.UserAgent,
	})
	if err != nil {
		logger.Error("transport_dial_failed", slog.String("error", err.Error()))
		return nil, errorsx.Wrap(err, errorsx.ReasonConnect)
	}

	return &Recognizer{
		id:         id,
		recognizer: opts.Recognizer,
		cfg:        opts.Config,
		transport:  tr,
		logger:     logger.With(slog.String("transport", tr.Name())),
		observer:   metrics.OrNoop(opts.Observer),
		streaming:  streaming,
		done:       make(chan struct{}),
	}, nil
}

// ID identifies the session in logs and metrics.
func (r *Recognizer) ID() string { return r.id }

// TakeAudioSink hands the ingress sender to the caller. Only the first call
// succeeds; later calls return ErrAudioSinkTaken.
func (r *Recognizer) TakeAudioSink() (*AudioSink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.streaming {
		return nil, ErrNotStreaming
	}
	if r.sinkTaken {
		return nil, ErrAudioSinkTaken
	}
	r.sinkTaken = true
	sink := r.sink
	r.sink = nil
	return sink, nil
}

// ResultReceiver installs the egress channel with the given capacity
// (DefaultBufferSize when <= 0). Install it before starting StreamingRecognize:
// results the pump handles while no receiver is installed are dropped. Only the
// first call succeeds.
func (r *Recognizer) ResultReceiver(capacity int) (*ResultReceiver, error) {
	if capacity <= 0 {
		capacity = DefaultBufferSize
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.streaming {
		return nil, ErrNotStreaming
	}
	if r.results.Load() != nil {
		return nil, ErrResultsInstalled
	}
	rr := newResultReceiver(capacity)
	r.results.Store(rr)
	if r.pumpDone {
		rr.finish()
	}
	return rr, nil
}

// Stats returns the session counters.
func (r *Recognizer) Stats() Stats {
	return Stats{
		FramesSent:       r.framesSent.Load(),
		ResultsForwarded: r.resultsForwarded.Load(),
		ResultsDropped:   r.resultsDropped.Load(),
	}
}

// Done is closed once StreamingRecognize has returned.
func (r *Recognizer) Done() <-chan struct{} { return r.done }

// Recognize performs one synchronous request. It yields exactly one of a
// response or an error. An empty request recognizer is filled in.
func (r *Recognizer) Recognize(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
	if req == nil {
		return nil, errorsx.New(errorsx.ReasonConfig, "recognize request is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if req.GetRecognizer() == "" {
		req = proto.Clone(req).(*speechpb.RecognizeRequest)
		req.Recognizer = r.recognizer
	}
	start := time.Now()
	resp, err := r.transport.Recognize(ctx, req)
	ev := metrics.MetricsEvent{
		Name:  metrics.EventRecognize,
		Time:  time.Now(),
		Value: float64(time.Since(start).Milliseconds()),
		Tags:  map[string]string{"session_id": r.id, "status": "ok"},
	}
	if err != nil {
		ev.Tags["status"] = "error"
		r.observer.RecordEvent(ev)
		r.logger.Error("recognize_failed", slog.String("error", err.Error()))
		return nil, errorsx.Errorf(errorsx.ReasonStream, "recognize: %w", err)
	}
	if resp == nil {
		ev.Tags["status"] = "error"
		r.observer.RecordEvent(ev)
		r.logger.Error("recognize_failed", slog.String("error", "empty response"))
		return nil, errorsx.New(errorsx.ReasonStream, "empty recognize response")
	}
	r.observer.RecordEvent(ev)
	r.logger.Debug("recognize_done",
		slog.Int("results", len(resp.GetResults())),
		slog.Duration("elapsed", time.Since(start)))
	return resp, nil
}

// RecognizeContent sends audio as inline content with the given config.
func (r *Recognizer) RecognizeContent(ctx context.Context, cfg SessionConfig, audio []byte) (*speechpb.RecognizeResponse, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return r.Recognize(ctx, ContentRequest(r.recognizer, cfg, audio))
}

// Close ends an untaken audio sink and releases the transport. Call it after
// StreamingRecognize has returned. When no pump was started, producers blocked
// on the sink are released with ErrSinkClosed, an installed result channel is
// closed and StreamingRecognize returns ErrClosed from then on.
func (r *Recognizer) Close() error {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		sink := r.sink
		r.sink = nil
		r.sinkTaken = true
		r.closed = true
		var rr *ResultReceiver
		if r.streaming && !r.pumpStarted && !r.pumpDone {
			r.pumpDone = true
			close(r.done)
			rr = r.results.Load()
		}
		r.mu.Unlock()
		if sink != nil {
			sink.Close()
		}
		if rr != nil {
			rr.finish()
		}
		r.closeErr = r.transport.Close()
		r.logger.Debug("recognizer_closed")
	})
	return r.closeErr
}
