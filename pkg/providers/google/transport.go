package google

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"time"

	speech "cloud.google.com/go/speech/apiv2"
	"cloud.google.com/go/speech/apiv2/speechpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/harunnryd/sttstream/pkg/adapters/transport"
	"github.com/harunnryd/sttstream/pkg/errorsx"
	"github.com/harunnryd/sttstream/pkg/logging"
	"google.golang.org/api/option"
	"google.golang.org/grpc/metadata"
)

const (
	apiDomain      = "speech.googleapis.com"
	apiPort        = "443"
	defaultTimeout = 5 * time.Minute
)

// EndpointFor derives the gRPC endpoint serving a recognizer resource name of the
// form projects/{p}/locations/{loc}/recognizers/{r}. Regional recognizers are only
// reachable on their regional endpoint.
func EndpointFor(recognizer string) string {
	parts := strings.Split(strings.Trim(recognizer, "/"), "/")
	for i := 0; i+1 < len(parts); i++ {
		if parts[i] != "locations" {
			continue
		}
		loc := strings.TrimSpace(parts[i+1])
		if loc != "" && loc != "global" {
			return loc + "-" + apiDomain + ":" + apiPort
		}
		break
	}
	return apiDomain + ":" + apiPort
}

// Transport talks to Cloud Speech-to-Text v2 over gRPC.
type Transport struct {
	client     *speech.Client
	recognizer string
	callOpts   []gax.CallOption
	logger     *slog.Logger
}

// Dial satisfies transport.Dialer.
func Dial(ctx context.Context, cfg transport.DialConfig) (transport.Transport, error) {
	return New(ctx, cfg, defaultTimeout)
}

// New creates the speech client. recognizeTimeout bounds each synchronous call.
func New(ctx context.Context, cfg transport.DialConfig, recognizeTimeout time.Duration) (*Transport, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = EndpointFor(cfg.Recognizer)
	}
	opts := []option.ClientOption{option.WithEndpoint(endpoint)}
	if cfg.TokenSource != nil {
		opts = append(opts, option.WithTokenSource(cfg.TokenSource))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, option.WithUserAgent(cfg.UserAgent))
	}

	logger := logging.NewComponentLogger(slog.Default(), "google_speech")
	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		logger.Error("speech_client_create_error",
			slog.String("endpoint", endpoint),
			slog.String("error", err.Error()))
		return nil, errorsx.Errorf(errorsx.ReasonConnect, "create speech client: %w", err)
	}
	logger.Info("speech_client_ready", slog.String("endpoint", endpoint))

	var callOpts []gax.CallOption
	if recognizeTimeout > 0 {
		callOpts = append(callOpts, gax.WithTimeout(recognizeTimeout))
	}
	return &Transport{
		client:     client,
		recognizer: cfg.Recognizer,
		callOpts:   callOpts,
		logger:     logger,
	}, nil
}

func (t *Transport) Name() string { return "google_speech_v2" }

func (t *Transport) StreamingRecognize(ctx context.Context) (transport.Stream, error) {
	if t.recognizer != "" {
		ctx = metadata.AppendToOutgoingContext(ctx,
			"x-goog-request-params", "recognizer="+url.QueryEscape(t.recognizer))
	}
	stream, err := t.client.StreamingRecognize(ctx)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

func (t *Transport) Recognize(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
	return t.client.Recognize(ctx, req, t.callOpts...)
}

func (t *Transport) Close() error {
	return t.client.Close()
}

var _ transport.Transport = (*Transport)(nil)
var _ transport.Dialer = Dial
