package gateway_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"foreman/gateway"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// mockGateway is a minimal WebSocket server speaking the gateway frame
// protocol: it issues the connect challenge, answers the connect
// request, and routes further requests to per-method handlers.
type mockGateway struct {
	srv *httptest.Server
	t   *testing.T

	mu            sync.Mutex
	conn          *websocket.Conn
	handlers      map[string]func(*gateway.Frame) *gateway.Frame
	rejectConnect *gateway.ErrorInfo
	lastConnect   json.RawMessage
}

func newMockGateway(t *testing.T) *mockGateway {
	t.Helper()
	mg := &mockGateway{
		t:        t,
		handlers: make(map[string]func(*gateway.Frame) *gateway.Frame),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		mg.mu.Lock()
		mg.conn = ws
		mg.mu.Unlock()
		mg.serve(ws)
	})
	mg.srv = httptest.NewServer(mux)

	t.Cleanup(func() {
		mg.closeConn()
		mg.srv.Close()
	})
	return mg
}

func (mg *mockGateway) wsURL() string {
	return "ws" + strings.TrimPrefix(mg.srv.URL, "http")
}

func (mg *mockGateway) handle(method string, fn func(*gateway.Frame) *gateway.Frame) {
	mg.mu.Lock()
	defer mg.mu.Unlock()
	mg.handlers[method] = fn
}

func (mg *mockGateway) send(frame *gateway.Frame) {
	mg.mu.Lock()
	defer mg.mu.Unlock()
	if mg.conn == nil {
		return
	}
	data, err := json.Marshal(frame)
	if err != nil {
		mg.t.Errorf("marshal: %v", err)
		return
	}
	mg.conn.WriteMessage(websocket.TextMessage, data)
}

func (mg *mockGateway) closeConn() {
	mg.mu.Lock()
	defer mg.mu.Unlock()
	if mg.conn != nil {
		mg.conn.Close()
		mg.conn = nil
	}
}

func (mg *mockGateway) serve(ws *websocket.Conn) {
	mg.send(&gateway.Frame{Type: gateway.TypeEvent, Event: gateway.EventConnectChallenge})

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var frame gateway.Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			continue
		}
		if frame.Type != gateway.TypeRequest {
			continue
		}

		if frame.Method == "connect" {
			mg.mu.Lock()
			mg.lastConnect = frame.Params
			reject := mg.rejectConnect
			mg.mu.Unlock()

			if reject != nil {
				mg.send(&gateway.Frame{Type: gateway.TypeResponse, ID: frame.ID, OK: false, Error: reject})
				continue
			}
			payload, _ := json.Marshal(map[string]any{"protocol": 3})
			mg.send(&gateway.Frame{Type: gateway.TypeResponse, ID: frame.ID, OK: true, Payload: payload})
			continue
		}

		mg.mu.Lock()
		handler := mg.handlers[frame.Method]
		mg.mu.Unlock()

		if handler == nil {
			mg.send(&gateway.Frame{Type: gateway.TypeResponse, ID: frame.ID, OK: true})
			continue
		}
		resp := handler(&frame)
		if resp != nil {
			resp.ID = frame.ID
			mg.send(resp)
		}
	}
}

func testClient(t *testing.T, mg *mockGateway, opts gateway.Options) *gateway.Client {
	t.Helper()
	opts.URL = mg.wsURL()
	if opts.Token == "" {
		opts.Token = "test-token"
	}
	c := gateway.NewClient(opts)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func okPayload(t *testing.T, v any) *gateway.Frame {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return &gateway.Frame{Type: gateway.TypeResponse, OK: true, Payload: data}
}

func TestConnectHandshake(t *testing.T) {
	mg := newMockGateway(t)
	c := testClient(t, mg, gateway.Options{Token: "secret-token"})

	if !c.Connected() {
		t.Fatal("expected connected client")
	}
	if c.Hello() == nil || c.Hello().Protocol != 3 {
		t.Errorf("expected hello protocol 3, got %+v", c.Hello())
	}

	mg.mu.Lock()
	raw := mg.lastConnect
	mg.mu.Unlock()

	var params struct {
		MinProtocol int    `json:"minProtocol"`
		MaxProtocol int    `json:"maxProtocol"`
		Role        string `json:"role"`
		Scopes      []string
		Auth        struct {
			Token string `json:"token"`
		} `json:"auth"`
	}
	if err := json.Unmarshal(raw, &params); err != nil {
		t.Fatalf("unmarshal connect params: %v", err)
	}
	if params.MinProtocol != 3 || params.MaxProtocol != 3 {
		t.Errorf("expected protocol range 3..3, got %d..%d", params.MinProtocol, params.MaxProtocol)
	}
	if params.Role != "operator" {
		t.Errorf("expected role operator, got %q", params.Role)
	}
	if params.Auth.Token != "secret-token" {
		t.Errorf("expected auth token to be forwarded, got %q", params.Auth.Token)
	}
}

func TestConnectRejected(t *testing.T) {
	mg := newMockGateway(t)
	mg.rejectConnect = &gateway.ErrorInfo{Code: "NOT_AUTHORIZED", Message: "bad token"}

	c := gateway.NewClient(gateway.Options{URL: mg.wsURL(), Token: "wrong"})
	err := c.Connect(context.Background())
	if err == nil {
		t.Fatal("expected connect error")
	}
	var connErr *gateway.ConnectError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected ConnectError, got %T: %v", err, err)
	}
	if connErr.Code != "NOT_AUTHORIZED" {
		t.Errorf("expected code NOT_AUTHORIZED, got %q", connErr.Code)
	}
}

func TestRequestResponse(t *testing.T) {
	mg := newMockGateway(t)
	mg.handle("status", func(req *gateway.Frame) *gateway.Frame {
		return okPayload(t, map[string]any{"state": "ready"})
	})

	c := testClient(t, mg, gateway.Options{})

	status, err := c.Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status["state"] != "ready" {
		t.Errorf("expected state ready, got %v", status["state"])
	}
}

func TestRemoteError(t *testing.T) {
	mg := newMockGateway(t)
	mg.handle("models.list", func(req *gateway.Frame) *gateway.Frame {
		return &gateway.Frame{
			Type:  gateway.TypeResponse,
			OK:    false,
			Error: &gateway.ErrorInfo{Code: "RATE_LIMITED", Message: "slow down"},
		}
	})

	c := testClient(t, mg, gateway.Options{})

	_, err := c.Models(context.Background())
	var remoteErr *gateway.RemoteError
	if !errors.As(err, &remoteErr) {
		t.Fatalf("expected RemoteError, got %T: %v", err, err)
	}
	if remoteErr.Code != "RATE_LIMITED" {
		t.Errorf("expected code RATE_LIMITED, got %q", remoteErr.Code)
	}
}

func TestDisconnectFailsPending(t *testing.T) {
	mg := newMockGateway(t)
	mg.handle("status", func(req *gateway.Frame) *gateway.Frame {
		return nil // never answer
	})

	c := testClient(t, mg, gateway.Options{})

	go func() {
		time.Sleep(100 * time.Millisecond)
		mg.closeConn()
	}()

	err := c.RequestTimeout(context.Background(), "status", nil, nil, 5*time.Second)
	if !errors.Is(err, gateway.ErrDisconnected) {
		t.Fatalf("expected ErrDisconnected, got %v", err)
	}
}

func TestSeqGapTracking(t *testing.T) {
	mg := newMockGateway(t)

	got := make(chan *gateway.Frame, 10)
	c := testClient(t, mg, gateway.Options{
		OnEvent: func(f *gateway.Frame) { got <- f },
	})

	seq := func(n int64) *int64 { return &n }
	mg.send(&gateway.Frame{Type: gateway.TypeEvent, Event: "tick", Seq: seq(0)})
	mg.send(&gateway.Frame{Type: gateway.TypeEvent, Event: "tick", Seq: seq(1)})
	mg.send(&gateway.Frame{Type: gateway.TypeEvent, Event: "tick", Seq: seq(5)})

	for i := 0; i < 3; i++ {
		select {
		case <-got:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}

	if c.GapCount() != 1 {
		t.Errorf("expected 1 gap, got %d", c.GapCount())
	}
}

func TestChatSendPollsForReply(t *testing.T) {
	mg := newMockGateway(t)

	var mu sync.Mutex
	sent := false

	mg.handle("chat.history", func(req *gateway.Frame) *gateway.Frame {
		mu.Lock()
		defer mu.Unlock()
		msgs := []map[string]any{}
		if sent {
			msgs = append(msgs,
				map[string]any{"role": "user", "content": "do the thing"},
				map[string]any{"role": "assistant", "model": "test-model", "content": "all done"},
			)
		}
		return okPayload(t, map[string]any{"messages": msgs})
	})
	mg.handle("chat.send", func(req *gateway.Frame) *gateway.Frame {
		mu.Lock()
		sent = true
		mu.Unlock()
		return okPayload(t, map[string]any{"status": "started"})
	})

	c := testClient(t, mg, gateway.Options{ChatPollInterval: 10 * time.Millisecond})

	reply, err := c.ChatSend(context.Background(), "", "do the thing")
	if err != nil {
		t.Fatalf("chat send: %v", err)
	}
	if reply.Text() != "all done" {
		t.Errorf("expected reply 'all done', got %q", reply.Text())
	}
}

func TestChatSendIgnoresMessagesBeforeSend(t *testing.T) {
	mg := newMockGateway(t)

	var mu sync.Mutex
	sent := false

	// History already holds a texty agent reply from an earlier
	// exchange; only messages appended after the send may count.
	mg.handle("chat.history", func(req *gateway.Frame) *gateway.Frame {
		mu.Lock()
		defer mu.Unlock()
		msgs := []map[string]any{
			{"role": "user", "content": "earlier question"},
			{"role": "assistant", "model": "test-model", "content": "stale earlier answer"},
		}
		if sent {
			msgs = append(msgs,
				map[string]any{"role": "user", "content": "do the thing"},
				map[string]any{"role": "assistant", "model": "test-model", "content": "fresh answer"},
			)
		}
		return okPayload(t, map[string]any{"messages": msgs})
	})
	mg.handle("chat.send", func(req *gateway.Frame) *gateway.Frame {
		mu.Lock()
		sent = true
		mu.Unlock()
		return okPayload(t, map[string]any{"status": "started"})
	})

	c := testClient(t, mg, gateway.Options{ChatPollInterval: 10 * time.Millisecond})

	reply, err := c.ChatSend(context.Background(), "", "do the thing")
	if err != nil {
		t.Fatalf("chat send: %v", err)
	}
	if reply.Text() != "fresh answer" {
		t.Errorf("expected reply 'fresh answer', got %q", reply.Text())
	}
}

func TestReconnectResetsSeqTracking(t *testing.T) {
	mg := newMockGateway(t)

	got := make(chan *gateway.Frame, 10)
	c := testClient(t, mg, gateway.Options{
		OnEvent: func(f *gateway.Frame) { got <- f },
	})

	seq := func(n int64) *int64 { return &n }
	mg.send(&gateway.Frame{Type: gateway.TypeEvent, Event: "tick", Seq: seq(0)})
	mg.send(&gateway.Frame{Type: gateway.TypeEvent, Event: "tick", Seq: seq(1)})
	for i := 0; i < 2; i++ {
		select {
		case <-got:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}

	mg.closeConn()
	waitFor(t, 2*time.Second, func() bool { return !c.Connected() })
	waitFor(t, 5*time.Second, func() bool { return c.Connected() })

	// The gateway restarted its sequence; a jump past the old lastSeq
	// must not count as a gap on a fresh connection.
	mg.send(&gateway.Frame{Type: gateway.TypeEvent, Event: "tick", Seq: seq(5)})
	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for post-reconnect event")
	}

	if c.GapCount() != 0 {
		t.Errorf("expected 0 gaps after reconnect, got %d", c.GapCount())
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestChatSendProviderError(t *testing.T) {
	mg := newMockGateway(t)

	var mu sync.Mutex
	sent := false

	mg.handle("chat.history", func(req *gateway.Frame) *gateway.Frame {
		mu.Lock()
		defer mu.Unlock()
		msgs := []map[string]any{}
		if sent {
			msgs = append(msgs, map[string]any{
				"role":         "assistant",
				"stopReason":   "error",
				"errorMessage": "insufficient credits",
			})
		}
		return okPayload(t, map[string]any{"messages": msgs})
	})
	mg.handle("chat.send", func(req *gateway.Frame) *gateway.Frame {
		mu.Lock()
		sent = true
		mu.Unlock()
		return okPayload(t, map[string]any{"status": "started"})
	})

	c := testClient(t, mg, gateway.Options{ChatPollInterval: 10 * time.Millisecond})

	_, err := c.ChatSend(context.Background(), "", "hi")
	var remoteErr *gateway.RemoteError
	if !errors.As(err, &remoteErr) {
		t.Fatalf("expected RemoteError, got %T: %v", err, err)
	}
	if !strings.Contains(remoteErr.Message, "insufficient credits") {
		t.Errorf("expected provider message, got %q", remoteErr.Message)
	}
}

func TestChatMessageText(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    string
	}{
		{"plain string", `"hello"`, "hello"},
		{"parts", `[{"type":"text","text":"a"},{"type":"toolCall","text":"x"},{"type":"text","text":"b"}]`, "ab"},
		{"empty", ``, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := gateway.ChatMessage{Content: json.RawMessage(tc.content)}
			if got := m.Text(); got != tc.want {
				t.Errorf("Text() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestNormalizeURL(t *testing.T) {
	cases := []struct{ in, want string }{
		{"http://example.com", "ws://example.com"},
		{"https://example.com", "wss://example.com"},
		{"https://example.com/some/path", "wss://example.com"},
		{"wss://example.com", "wss://example.com"},
	}
	for _, tc := range cases {
		if got := gateway.NormalizeURL(tc.in); got != tc.want {
			t.Errorf("NormalizeURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
