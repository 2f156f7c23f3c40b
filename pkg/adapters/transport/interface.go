package transport

import (
	"context"

	"cloud.google.com/go/speech/apiv2/speechpb"
	"golang.org/x/oauth2"
)

// Stream is one open duplex recognition call. Send and Recv may be used from
// different goroutines; CloseSend half-closes the outbound direction only.
type Stream interface {
	Send(*speechpb.StreamingRecognizeRequest) error
	// Recv returns io.EOF once the service has ended the response sequence.
	Recv() (*speechpb.StreamingRecognizeResponse, error)
	CloseSend() error
}

// Transport defines the contract for any speech-recognition backend.
type Transport interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// StreamingRecognize opens a duplex call bound to ctx.
	StreamingRecognize(ctx context.Context) (Stream, error)
	// Recognize performs one synchronous request/response exchange.
	Recognize(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error)
	// Close releases the underlying connection.
	Close() error
}

// DialConfig contains vendor-agnostic connection settings.
type DialConfig struct {
	// Recognizer is the opaque recognizer resource name; some backends derive
	// their endpoint from it.
	Recognizer string
	// Endpoint overrides the derived endpoint when set.
	Endpoint    string
	TokenSource oauth2.TokenSource
	UserAgent   string
}

// Dialer opens a Transport.
type Dialer func(ctx context.Context, cfg DialConfig) (Transport, error)
