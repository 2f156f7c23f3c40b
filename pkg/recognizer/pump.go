package recognizer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"cloud.google.com/go/speech/apiv2/speechpb"
	"github.com/harunnryd/sttstream/pkg/adapters/transport"
	"github.com/harunnryd/sttstream/pkg/errorsx"
	"github.com/harunnryd/sttstream/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

// StreamingRecognize drives the duplex session until the service ends its
// response stream. Run it in its own goroutine after taking the audio sink and
// installing the result receiver.
//
// Audio is forwarded in order; once the sink is closed the outbound direction
// is half-closed and the pump keeps reading until the service finishes. The
// result channel is closed when this returns. No retries are attempted.
func (r *Recognizer) StreamingRecognize(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ingress, err := r.startPump()
	if err != nil {
		return err
	}
	start := time.Now()
	err = r.pump(ctx, ingress)
	r.finishPump(start, err)
	return err
}

func (r *Recognizer) startPump() (<-chan *speechpb.StreamingRecognizeRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.streaming {
		return nil, ErrNotStreaming
	}
	if r.closed {
		return nil, ErrClosed
	}
	if r.pumpStarted {
		return nil, ErrPumpStarted
	}
	r.pumpStarted = true
	ingress := r.ingress
	r.ingress = nil
	return ingress, nil
}

func (r *Recognizer) pump(ctx context.Context, ingress <-chan *speechpb.StreamingRecognizeRequest) error {
	g, gctx := errgroup.WithContext(ctx)
	stream, err := r.transport.StreamingRecognize(gctx)
	if err != nil {
		r.logger.Error("streaming_open_failed", slog.String("error", err.Error()))
		return errorsx.Errorf(errorsx.ReasonConnect, "open streaming recognize: %w", err)
	}
	r.logger.Info("streaming_opened")
	r.observer.RecordEvent(metrics.MetricsEvent{
		Name: metrics.EventSessionOpened,
		Time: time.Now(),
		Tags: r.tags(),
	})

	recvDone := make(chan struct{})
	g.Go(func() error {
		return r.sendAudio(gctx, stream, ingress, recvDone)
	})
	g.Go(func() error {
		defer close(recvDone)
		return r.receiveResults(gctx, stream)
	})
	return g.Wait()
}

// sendAudio forwards ingress items to the stream. The first item must be the
// config envelope and no later item may carry one.
func (r *Recognizer) sendAudio(ctx context.Context, stream transport.Stream, ingress <-chan *speechpb.StreamingRecognizeRequest, recvDone <-chan struct{}) error {
	awaitingConfig := true
	for {
		select {
		case req, ok := <-ingress:
			if !ok {
				r.logger.Debug("audio_sink_closed", slog.Int64("frames", r.framesSent.Load()))
				if err := stream.CloseSend(); err != nil {
					return errorsx.Errorf(errorsx.ReasonStream, "half-close: %w", err)
				}
				return nil
			}
			isConfig := req.GetStreamingConfig() != nil
			if awaitingConfig != isConfig {
				if awaitingConfig {
					return errorsx.New(errorsx.ReasonStream, "first streaming request must carry the session config")
				}
				return errorsx.New(errorsx.ReasonStream, "session config may only be sent once")
			}
			awaitingConfig = false
			if err := stream.Send(req); err != nil {
				if errors.Is(err, io.EOF) {
					// The call is over; Recv reports why.
					return nil
				}
				return errorsx.Errorf(errorsx.ReasonStream, "send audio: %w", err)
			}
			if !isConfig {
				r.framesSent.Add(1)
			}
		case <-recvDone:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

func (r *Recognizer) receiveResults(ctx context.Context, stream transport.Stream) error {
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return errorsx.Errorf(errorsx.ReasonStream, "receive result: %w", err)
		}
		if err := r.forward(ctx, resp); err != nil {
			return err
		}
	}
}

// forward hands resp to the installed receiver. Without a receiver, or after
// the consumer closed it, the result is dropped and counted.
func (r *Recognizer) forward(ctx context.Context, resp *speechpb.StreamingRecognizeResponse) error {
	rr := r.results.Load()
	if rr == nil {
		r.drop("no_receiver")
		return nil
	}
	if rr.consumerGone() {
		r.drop("consumer_gone")
		return nil
	}
	select {
	case rr.ch <- resp:
		r.resultsForwarded.Add(1)
		r.observer.RecordEvent(metrics.MetricsEvent{
			Name:  metrics.EventResultForwarded,
			Time:  time.Now(),
			Value: 1,
			Tags:  r.tags(),
			Fields: map[string]any{
				"results": len(resp.GetResults()),
				"final":   isFinal(resp),
			},
		})
		return nil
	case <-rr.gone:
		r.drop("consumer_gone")
		return nil
	case <-ctx.Done():
		return errorsx.Errorf(errorsx.ReasonStream, "forward result: %w", ctx.Err())
	}
}

func (r *Recognizer) drop(reason string) {
	n := r.resultsDropped.Add(1)
	tags := r.tags()
	tags["reason"] = reason
	r.observer.RecordEvent(metrics.MetricsEvent{
		Name:  metrics.EventResultDropped,
		Time:  time.Now(),
		Value: 1,
		Tags:  tags,
	})
	r.logger.Debug("result_dropped", slog.String("reason", reason), slog.Int64("dropped_total", n))
}

func (r *Recognizer) finishPump(start time.Time, err error) {
	r.mu.Lock()
	r.pumpDone = true
	close(r.done)
	rr := r.results.Load()
	r.mu.Unlock()
	if rr != nil {
		rr.finish()
	}

	stats := r.Stats()
	tags := r.tags()
	tags["status"] = "ok"
	if err != nil {
		tags["status"] = string(errorsx.Reason(err))
	}
	r.observer.RecordEvent(metrics.MetricsEvent{
		Name:  metrics.EventSessionClosed,
		Time:  time.Now(),
		Value: float64(time.Since(start).Milliseconds()),
		Tags:  tags,
		Fields: map[string]any{
			"frames_sent":       stats.FramesSent,
			"results_forwarded": stats.ResultsForwarded,
			"results_dropped":   stats.ResultsDropped,
		},
	})
	attrs := []any{
		slog.Int64("frames_sent", stats.FramesSent),
		slog.Int64("results_forwarded", stats.ResultsForwarded),
		slog.Int64("results_dropped", stats.ResultsDropped),
		slog.Duration("elapsed", time.Since(start)),
	}
	if err != nil {
		r.logger.Error("streaming_failed", append(attrs,
			slog.String("reason", string(errorsx.Reason(err))),
			slog.String("error", err.Error()))...)
		return
	}
	r.logger.Info("streaming_completed", attrs...)
}

func (r *Recognizer) tags() map[string]string {
	return map[string]string{"session_id": r.id, "transport": r.transport.Name()}
}

func isFinal(resp *speechpb.StreamingRecognizeResponse) bool {
	for _, res := range resp.GetResults() {
		if res.GetIsFinal() {
			return true
		}
	}
	return false
}
