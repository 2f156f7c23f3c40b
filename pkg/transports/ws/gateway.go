package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/speech/apiv2/speechpb"
	"github.com/gorilla/websocket"
	"github.com/harunnryd/sttstream/pkg/errorsx"
	"github.com/harunnryd/sttstream/pkg/logging"
	"github.com/harunnryd/sttstream/pkg/recognizer"
	"github.com/harunnryd/sttstream/pkg/redact"
	"github.com/harunnryd/sttstream/pkg/resilience"
	"github.com/harunnryd/sttstream/pkg/transports"
)

type Config struct {
	Addr             string        `mapstructure:"addr"`
	Path             string        `mapstructure:"path"`
	AllowAnyOrigin   bool          `mapstructure:"allow_any_origin"`
	AllowedOrigins   []string      `mapstructure:"allowed_origins"`
	ResultBufferSize int           `mapstructure:"result_buffer_size"`
	BreakerThreshold int           `mapstructure:"breaker_threshold"`
	BreakerCooldown  time.Duration `mapstructure:"breaker_cooldown"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.Path == "" {
		c.Path = "/recognize"
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	return c
}

// SessionFactory opens one streaming recognizer for a connection. languages
// comes from repeated ?language= query parameters and may be empty.
type SessionFactory func(ctx context.Context, languages []string) (*recognizer.Recognizer, error)

// Gateway serves one recognition session per websocket connection. Binary
// messages are audio frames, {"event":"stop"} or a socket close ends the
// audio, and every result is written back as a protojson result event.
type Gateway struct {
	cfg      Config
	factory  SessionFactory
	upgrader websocket.Upgrader
	breaker  *resilience.CircuitBreaker
	redactor redact.Redactor
	logger   *slog.Logger

	server   *http.Server
	listener net.Listener

	baseCtx context.Context
	abort   context.CancelFunc

	mu       sync.Mutex
	draining bool
	active   sync.WaitGroup
}

func New(cfg Config, factory SessionFactory, redactor redact.Redactor, logger *slog.Logger) *Gateway {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	g := &Gateway{
		cfg:      cfg,
		factory:  factory,
		redactor: redactor,
		logger:   logging.NewComponentLogger(logger, "ws_gateway"),
		breaker:  resilience.NewCircuitBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown, countsTowardBreaker),
		baseCtx:  ctx,
		abort:    cancel,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
		},
	}
	g.upgrader.CheckOrigin = g.checkOrigin
	return g
}

// Only failures to reach the service trip the breaker; bad client input does not.
func countsTowardBreaker(err error) bool {
	return errorsx.HasReason(err, errorsx.ReasonConnect) || errorsx.HasReason(err, errorsx.ReasonAuth)
}

func (g *Gateway) Name() string { return "ws" }

func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(g.cfg.Path, g)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if g.isDraining() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// Start binds the listener and serves in the background until ctx ends or
// Drain is called.
func (g *Gateway) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ln, err := net.Listen("tcp", g.cfg.Addr)
	if err != nil {
		return err
	}
	g.listener = ln
	g.server = &http.Server{
		ReadHeaderTimeout: 5 * time.Second,
		Handler:           g.Handler(),
	}
	go func() {
		<-ctx.Done()
		_ = g.server.Close()
	}()
	go func() {
		if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("ws_server_error", "error", err.Error())
		}
	}()
	g.logger.Info("ws_gateway_listening", "addr", ln.Addr().String(), "path", g.cfg.Path)
	return nil
}

func (g *Gateway) ReadyFields() map[string]any {
	addr := g.cfg.Addr
	if g.listener != nil {
		addr = g.listener.Addr().String()
	}
	return map[string]any{"addr": addr, "path": g.cfg.Path}
}

// Drain refuses new sessions and waits for running ones. When ctx expires
// first, running sessions are cancelled.
func (g *Gateway) Drain(ctx context.Context) error {
	g.mu.Lock()
	g.draining = true
	g.mu.Unlock()

	if g.server != nil {
		_ = g.server.Shutdown(ctx)
	}
	done := make(chan struct{})
	go func() {
		g.active.Wait()
		close(done)
	}()
	select {
	case <-done:
		g.abort()
		return nil
	case <-ctx.Done():
		g.abort()
		<-done
		return ctx.Err()
	}
}

func (g *Gateway) isDraining() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.draining
}

func (g *Gateway) admit() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.draining {
		return false
	}
	g.active.Add(1)
	return true
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !g.breaker.Allow() {
		http.Error(w, "speech service unavailable", http.StatusServiceUnavailable)
		return
	}
	if !g.admit() {
		http.Error(w, "draining", http.StatusServiceUnavailable)
		return
	}
	defer g.active.Done()

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(g.baseCtx)
	defer cancel()

	rec, err := g.factory(ctx, r.URL.Query()["language"])
	if err != nil {
		g.breaker.OnError(err)
		g.logger.Warn("session_open_failed", "error", err.Error(), "reason", string(errorsx.Reason(err)))
		_ = g.write(conn, errorEvent(err))
		g.closeConn(conn, websocket.CloseInternalServerErr, "session failed")
		return
	}
	g.breaker.OnSuccess()
	defer rec.Close()
	g.serveSession(ctx, conn, rec)
}

func (g *Gateway) serveSession(ctx context.Context, conn *websocket.Conn, rec *recognizer.Recognizer) {
	logger := g.logger.With("session_id", rec.ID())
	sink, err := rec.TakeAudioSink()
	if err != nil {
		_ = g.write(conn, errorEvent(err))
		return
	}
	results, err := rec.ResultReceiver(g.cfg.ResultBufferSize)
	if err != nil {
		sink.Close()
		_ = g.write(conn, errorEvent(err))
		return
	}
	if err := g.write(conn, Event{Event: EventReady, SessionID: rec.ID()}); err != nil {
		sink.Close()
		results.Close()
		return
	}
	logger.Info("ws_session_started")

	pumpErr := make(chan error, 1)
	go func() { pumpErr <- rec.StreamingRecognize(ctx) }()
	written := make(chan struct{})
	go func() {
		defer close(written)
		g.writeResults(conn, results, logger)
	}()
	go func() {
		// Unblock the reader when the session ends without a client stop.
		<-rec.Done()
		_ = conn.SetReadDeadline(time.Now())
	}()

	g.readAudio(ctx, conn, sink, logger)
	sink.Close()

	err = <-pumpErr
	<-written
	if err != nil {
		logger.Warn("ws_session_failed", "error", err.Error())
	} else {
		logger.Info("ws_session_completed", "frames", rec.Stats().FramesSent)
	}
	if werr := g.write(conn, endEvent(rec.ID(), rec.Stats(), err)); werr != nil {
		return
	}
	g.closeConn(conn, websocket.CloseNormalClosure, "")
}

func (g *Gateway) readAudio(ctx context.Context, conn *websocket.Conn, sink *recognizer.AudioSink, logger *slog.Logger) {
	for {
		kind, msg, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !isTimeout(err) {
				logger.Debug("ws_read_ended", "error", err.Error())
			}
			return
		}
		switch kind {
		case websocket.BinaryMessage:
			if err := sink.Send(ctx, msg); err != nil {
				logger.Debug("audio_rejected", "error", err.Error())
				return
			}
		case websocket.TextMessage:
			var ev Event
			if err := json.Unmarshal(msg, &ev); err != nil {
				continue
			}
			if ev.Event == EventStop {
				logger.Debug("ws_stop_received")
				return
			}
		}
	}
}

// writeResults owns writes until the result channel closes. After a failed
// write the consumer is marked gone and the rest is drained.
func (g *Gateway) writeResults(conn *websocket.Conn, results *recognizer.ResultReceiver, logger *slog.Logger) {
	failed := false
	for resp := range results.Results() {
		if failed {
			continue
		}
		ev, err := resultEvent(resp)
		if err == nil {
			err = g.write(conn, ev)
		}
		if err != nil {
			logger.Debug("ws_write_failed", "error", err.Error())
			failed = true
			results.Close()
			continue
		}
		if logger.Enabled(context.Background(), slog.LevelDebug) {
			logger.Debug("result_forwarded", "final", anyFinal(resp), "transcript", g.redactor.Summary(resp))
		}
	}
}

func (g *Gateway) write(conn *websocket.Conn, ev Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(g.cfg.WriteTimeout))
	return conn.WriteJSON(ev)
}

func (g *Gateway) closeConn(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	if g.cfg.AllowAnyOrigin {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	if len(g.cfg.AllowedOrigins) == 0 {
		return strings.EqualFold(u.Host, r.Host)
	}
	for _, allowed := range g.cfg.AllowedOrigins {
		a := strings.TrimRight(strings.TrimSpace(allowed), "/")
		if a == "" {
			continue
		}
		if strings.Contains(a, "://") {
			if strings.EqualFold(a, u.Scheme+"://"+u.Host) {
				return true
			}
			continue
		}
		if strings.EqualFold(a, u.Host) {
			return true
		}
	}
	return false
}

func anyFinal(resp *speechpb.StreamingRecognizeResponse) bool {
	for _, res := range resp.GetResults() {
		if res.GetIsFinal() {
			return true
		}
	}
	return false
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

var (
	_ transports.Gateway       = (*Gateway)(nil)
	_ transports.ReadyReporter = (*Gateway)(nil)
)
