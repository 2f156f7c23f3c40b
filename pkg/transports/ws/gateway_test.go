package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"cloud.google.com/go/speech/apiv2/speechpb"
	"github.com/gorilla/websocket"
	"github.com/harunnryd/sttstream/pkg/credentials"
	"github.com/harunnryd/sttstream/pkg/errorsx"
	"github.com/harunnryd/sttstream/pkg/providers/mock"
	"github.com/harunnryd/sttstream/pkg/recognizer"
	"github.com/harunnryd/sttstream/pkg/redact"
)

const testRecognizer = "projects/p/locations/global/recognizers/r"

func mockFactory(tr *mock.Transport) SessionFactory {
	return func(ctx context.Context, languages []string) (*recognizer.Recognizer, error) {
		if len(languages) == 0 {
			languages = []string{"en-US"}
		}
		return recognizer.NewStreaming(ctx, recognizer.Options{
			Resolver:   credentials.StaticResolver{AccessToken: "token"},
			Dialer:     tr.Dial,
			Recognizer: testRecognizer,
			Config:     recognizer.SessionConfig{Languages: languages},
		})
	}
}

func startGateway(t *testing.T, cfg Config, factory SessionFactory) (*Gateway, *httptest.Server) {
	t.Helper()
	g := New(cfg, factory, redact.New(true), nil)
	srv := httptest.NewServer(g.Handler())
	t.Cleanup(srv.Close)
	return g, srv
}

func dial(t *testing.T, srv *httptest.Server, query string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/recognize" + query
	conn, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if conn != nil {
		t.Cleanup(func() { _ = conn.Close() })
	}
	return conn, resp, err
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var ev Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return ev
}

func readUntilEnd(t *testing.T, conn *websocket.Conn) ([]string, Event) {
	t.Helper()
	var transcripts []string
	for {
		ev := readEvent(t, conn)
		switch ev.Event {
		case EventResult:
			resp, err := DecodeResult(ev)
			if err != nil {
				t.Fatalf("decode result: %v", err)
			}
			transcripts = append(transcripts, resp.GetResults()[0].GetAlternatives()[0].GetTranscript())
		case EventEnd:
			return transcripts, ev
		default:
			t.Fatalf("unexpected event %+v", ev)
		}
	}
}

func TestSessionRoundTrip(t *testing.T) {
	tr := mock.NewTransport(mock.Config{
		Final: []*speechpb.StreamingRecognizeResponse{mock.Transcript("done", true)},
	})
	_, srv := startGateway(t, Config{}, mockFactory(tr))

	conn, _, err := dial(t, srv, "?language=cs-CZ")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	ready := readEvent(t, conn)
	if ready.Event != EventReady || ready.SessionID == "" {
		t.Fatalf("expected ready event, got %+v", ready)
	}

	for _, frame := range []string{"ab", "cd"} {
		if err := conn.WriteMessage(websocket.BinaryMessage, []byte(frame)); err != nil {
			t.Fatalf("write frame: %v", err)
		}
	}
	if err := conn.WriteJSON(Event{Event: EventStop}); err != nil {
		t.Fatalf("write stop: %v", err)
	}

	transcripts, end := readUntilEnd(t, conn)
	want := []string{"frame-0:ab", "frame-1:cd", "done"}
	if strings.Join(transcripts, ",") != strings.Join(want, ",") {
		t.Fatalf("expected %v, got %v", want, transcripts)
	}
	if end.Reason != "" || end.Message != "" {
		t.Fatalf("expected clean end, got %+v", end)
	}
	if end.Stats == nil || end.Stats.FramesSent != 2 || end.Stats.ResultsForwarded != 3 {
		t.Fatalf("unexpected stats %+v", end.Stats)
	}
	if end.SessionID != ready.SessionID {
		t.Fatalf("session id changed: %q vs %q", ready.SessionID, end.SessionID)
	}

	streams := tr.Streams()
	if len(streams) != 1 || !streams[0].HalfClosed() {
		t.Fatalf("expected one half-closed stream, got %d", len(streams))
	}
	first := streams[0].Sent()[0].GetStreamingConfig()
	if first == nil || first.GetConfig().GetLanguageCodes()[0] != "cs-CZ" {
		t.Fatalf("expected config with query language first, got %v", streams[0].Sent()[0])
	}
}

func TestSessionReportsStreamFailure(t *testing.T) {
	tr := mock.NewTransport(mock.Config{FailAfter: 1})
	_, srv := startGateway(t, Config{}, mockFactory(tr))

	conn, _, err := dial(t, srv, "")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	readEvent(t, conn)
	if err := conn.WriteMessage(websocket.BinaryMessage, []byte("x")); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	transcripts, end := readUntilEnd(t, conn)
	if len(transcripts) != 1 {
		t.Fatalf("expected one result before failure, got %v", transcripts)
	}
	if end.Reason != string(errorsx.ReasonStream) || end.Message == "" {
		t.Fatalf("expected stream failure in end event, got %+v", end)
	}
}

func TestConnectFailuresOpenBreaker(t *testing.T) {
	var calls atomic.Int32
	factory := func(ctx context.Context, languages []string) (*recognizer.Recognizer, error) {
		calls.Add(1)
		return nil, errorsx.New(errorsx.ReasonConnect, "dial failed")
	}
	_, srv := startGateway(t, Config{BreakerThreshold: 1, BreakerCooldown: time.Minute}, factory)

	conn, _, err := dial(t, srv, "")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	ev := readEvent(t, conn)
	if ev.Event != EventError || ev.Reason != string(errorsx.ReasonConnect) {
		t.Fatalf("expected connect error event, got %+v", ev)
	}

	_, resp, err := dial(t, srv, "")
	if err == nil {
		t.Fatalf("expected handshake to be refused")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %v", resp)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected factory to be skipped while open, got %d calls", calls.Load())
	}
}

func TestConfigFailuresDoNotOpenBreaker(t *testing.T) {
	factory := func(ctx context.Context, languages []string) (*recognizer.Recognizer, error) {
		return nil, errorsx.New(errorsx.ReasonConfig, "bad language")
	}
	_, srv := startGateway(t, Config{BreakerThreshold: 1, BreakerCooldown: time.Minute}, factory)

	for i := 0; i < 2; i++ {
		conn, _, err := dial(t, srv, "")
		if err != nil {
			t.Fatalf("dial %d: %v", i, err)
		}
		if ev := readEvent(t, conn); ev.Reason != string(errorsx.ReasonConfig) {
			t.Fatalf("expected config error, got %+v", ev)
		}
	}
}

func TestDrainWaitsForSessions(t *testing.T) {
	tr := mock.NewTransport(mock.Config{Respond: mock.Silent})
	g, srv := startGateway(t, Config{}, mockFactory(tr))

	conn, _, err := dial(t, srv, "")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	readEvent(t, conn)

	drained := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		drained <- g.Drain(ctx)
	}()

	select {
	case err := <-drained:
		t.Fatalf("drain returned with an active session: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	if _, resp, err := dial(t, srv, ""); err == nil || resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected new sessions to be refused while draining")
	}

	if err := conn.WriteJSON(Event{Event: EventStop}); err != nil {
		t.Fatalf("write stop: %v", err)
	}
	readUntilEnd(t, conn)

	select {
	case err := <-drained:
		if err != nil {
			t.Fatalf("drain: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("drain did not finish")
	}
}

func TestDrainTimeoutCancelsSessions(t *testing.T) {
	tr := mock.NewTransport(mock.Config{Respond: mock.Silent})
	g, srv := startGateway(t, Config{}, mockFactory(tr))

	conn, _, err := dial(t, srv, "")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	readEvent(t, conn)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := g.Drain(ctx); err == nil {
		t.Fatalf("expected drain timeout")
	}
	_, end := readUntilEnd(t, conn)
	if end.Reason == "" {
		t.Fatalf("expected cancelled session to report an error, got %+v", end)
	}
}

func TestCheckOrigin(t *testing.T) {
	cases := []struct {
		name   string
		cfg    Config
		origin string
		want   bool
	}{
		{"no origin header", Config{}, "", true},
		{"same host default", Config{}, "http://example.com", true},
		{"foreign host default", Config{}, "http://evil.test", false},
		{"any origin", Config{AllowAnyOrigin: true}, "http://evil.test", true},
		{"host allow list", Config{AllowedOrigins: []string{"app.test"}}, "https://app.test", true},
		{"scheme allow list mismatch", Config{AllowedOrigins: []string{"https://app.test/"}}, "http://app.test", false},
		{"scheme allow list match", Config{AllowedOrigins: []string{"https://app.test/"}}, "https://app.test", true},
		{"garbage", Config{AllowedOrigins: []string{"app.test"}}, "::not a url", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := New(tc.cfg, nil, redact.Redactor{}, nil)
			req := httptest.NewRequest(http.MethodGet, "http://example.com/recognize", nil)
			if tc.origin != "" {
				req.Header.Set("Origin", tc.origin)
			}
			if got := g.checkOrigin(req); got != tc.want {
				t.Fatalf("origin %q: expected %v, got %v", tc.origin, tc.want, got)
			}
		})
	}
}

func TestClientDisconnectStillFinishesSession(t *testing.T) {
	big := strings.Repeat("x", 4096)
	final := make([]*speechpb.StreamingRecognizeResponse, 0, 500)
	for i := 0; i < 500; i++ {
		final = append(final, mock.Transcript(big, true))
	}
	tr := mock.NewTransport(mock.Config{Final: final})
	g, srv := startGateway(t, Config{WriteTimeout: time.Second}, mockFactory(tr))

	conn, _, err := dial(t, srv, "")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	readEvent(t, conn)
	if err := conn.WriteMessage(websocket.BinaryMessage, []byte("ab")); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	// Drop the socket without a stop event or close handshake.
	_ = conn.UnderlyingConn().Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := g.Drain(ctx); err != nil {
		t.Fatalf("session did not finish after client disconnect: %v", err)
	}

	streams := tr.Streams()
	if len(streams) != 1 || !streams[0].HalfClosed() {
		t.Fatalf("expected the audio side to be half-closed after disconnect")
	}
	if !tr.Closed() {
		t.Fatalf("expected the transport to be released")
	}
}
