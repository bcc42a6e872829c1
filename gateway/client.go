package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
)

const (
	protocolVersion = 3

	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = (pongWait * 9) / 10
	dialTimeout      = 15 * time.Second
	handshakeTimeout = 10 * time.Second

	defaultRequestTimeout = 30 * time.Second

	// Bounded event queue: when full the oldest event is dropped so the
	// read loop never stalls. A stalled reader gets kicked by the gateway
	// as a slow consumer, which is worse than losing an event.
	eventQueueSize = 500

	reconnectInitialDelay = time.Second
	reconnectMaxDelay     = 30 * time.Second
	reconnectMaxAttempts  = 10

	// Gaps above this many missed events suggest more than transient
	// network jitter and are logged at error level.
	largeGapThreshold = 100
)

// Options configures a gateway client.
type Options struct {
	URL        string
	Token      string
	SessionKey string

	// ClientID identifies this client in the connect handshake.
	// Defaults to "foreman-client".
	ClientID string

	// Cloudflare Access service token for gateways behind Zero Trust.
	CFAccessClientID     string
	CFAccessClientSecret string

	// OnEvent is called for every event frame, from a worker goroutine
	// separate from the read loop.
	OnEvent func(*Frame)

	// ChatPollInterval is the initial chat.history polling interval.
	// Defaults to 1.5s; it grows by 300ms per idle poll, capped at 3s.
	ChatPollInterval time.Duration

	Logger hclog.Logger
}

// DefaultSessionKey is the session chats target when none is configured.
const DefaultSessionKey = "agent:main:main"

type pendingResult struct {
	payload json.RawMessage
	err     error
}

// Client is a persistent connection to a gateway. It correlates request
// and response frames, tracks event ordering, and reconnects with
// backoff when the link drops.
type Client struct {
	opts Options
	log  hclog.Logger

	mu           sync.Mutex
	ws           *websocket.Conn
	send         chan []byte
	connected    bool
	stopped      bool
	reconnecting bool
	hello        *Hello
	pending      map[string]chan pendingResult
	lastSeq      int64
	gapCount     int

	events      chan *Frame
	workerOnce  sync.Once
	ctx         context.Context
	stop        context.CancelFunc
}

// NewClient builds a client. Call Connect before issuing requests.
func NewClient(opts Options) *Client {
	if opts.ClientID == "" {
		opts.ClientID = "foreman-client"
	}
	if opts.SessionKey == "" {
		opts.SessionKey = DefaultSessionKey
	}
	if opts.ChatPollInterval <= 0 {
		opts.ChatPollInterval = 1500 * time.Millisecond
	}
	log := opts.Logger
	if log == nil {
		log = hclog.NewNullLogger()
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Client{
		opts:    opts,
		log:     log.Named("gateway"),
		pending: make(map[string]chan pendingResult),
		events:  make(chan *Frame, eventQueueSize),
		lastSeq: -1,
		ctx:     ctx,
		stop:    stop,
	}
}

// Connect dials the gateway and completes the challenge/connect
// handshake. On success the read/write pumps are running and the client
// is ready for requests.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	c.stopped = false
	c.lastSeq = -1
	c.mu.Unlock()

	header := http.Header{}
	if c.opts.CFAccessClientID != "" && c.opts.CFAccessClientSecret != "" {
		header.Set("CF-Access-Client-Id", c.opts.CFAccessClientID)
		header.Set("CF-Access-Client-Secret", c.opts.CFAccessClientSecret)
		// Cookie fallback; some Access configurations only honor this.
		header.Set("Cookie", "CF_Authorization="+c.opts.CFAccessClientSecret)
		c.log.Info("using Cloudflare Access service token")
	}

	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	ws, _, err := dialer.DialContext(ctx, c.opts.URL, header)
	if err != nil {
		msg := err.Error()
		if strings.Contains(msg, "cloudflareaccess.com") || strings.Contains(msg, "access/login") {
			return &ConnectError{
				Message: "Cloudflare Access is blocking the connection; provide CF-Access-Client-Id and CF-Access-Client-Secret service token credentials",
				Err:     err,
			}
		}
		return &ConnectError{Message: fmt.Sprintf("dial %s: %v", c.opts.URL, err), Err: err}
	}

	hello, err := c.handshake(ws)
	if err != nil {
		ws.Close()
		return err
	}

	send := make(chan []byte, 256)

	c.mu.Lock()
	c.ws = ws
	c.send = send
	c.connected = true
	c.hello = hello
	c.mu.Unlock()

	go c.readPump(ws)
	go c.writePump(ws, send)
	c.workerOnce.Do(func() { go c.eventWorker() })

	c.log.Info("connected", "url", c.opts.URL, "protocol", hello.Protocol)
	return nil
}

// handshake runs on the raw connection before the pumps start: wait for
// the challenge event, send the connect request, wait for its response.
func (c *Client) handshake(ws *websocket.Conn) (*Hello, error) {
	ws.SetReadDeadline(time.Now().Add(handshakeTimeout))

	_, raw, err := ws.ReadMessage()
	if err != nil {
		return nil, &ConnectError{Message: fmt.Sprintf("waiting for challenge: %v", err), Err: err}
	}
	var challenge Frame
	if err := json.Unmarshal(raw, &challenge); err != nil {
		return nil, &ConnectError{Message: fmt.Sprintf("invalid challenge frame: %v", err), Err: err}
	}
	if challenge.Type != TypeEvent || challenge.Event != EventConnectChallenge {
		return nil, &ConnectError{Message: fmt.Sprintf("expected %s, got type=%s event=%s", EventConnectChallenge, challenge.Type, challenge.Event)}
	}

	req, err := NewRequest("connect", c.connectParams())
	if err != nil {
		return nil, &ConnectError{Message: err.Error(), Err: err}
	}
	data, _ := json.Marshal(req)
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return nil, &ConnectError{Message: fmt.Sprintf("sending connect: %v", err), Err: err}
	}

	// The gateway may emit unrelated events before the connect response.
	for i := 0; i < 20; i++ {
		ws.SetReadDeadline(time.Now().Add(handshakeTimeout))
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return nil, &ConnectError{Message: fmt.Sprintf("waiting for connect response: %v", err), Err: err}
		}
		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			continue
		}
		if frame.Type != TypeResponse || frame.ID != req.ID {
			continue
		}
		if !frame.OK {
			code, msg := "?", "?"
			if frame.Error != nil {
				code, msg = frame.Error.Code, frame.Error.Message
			}
			return nil, &ConnectError{Code: code, Message: msg}
		}
		var hello Hello
		if len(frame.Payload) > 0 {
			if err := json.Unmarshal(frame.Payload, &hello); err != nil {
				return nil, &ConnectError{Message: fmt.Sprintf("invalid hello payload: %v", err), Err: err}
			}
		}
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return &hello, nil
	}
	return nil, &ConnectError{Message: "no connect response received"}
}

type connectClient struct {
	ID         string `json:"id"`
	Version    string `json:"version"`
	Platform   string `json:"platform"`
	Mode       string `json:"mode"`
	InstanceID string `json:"instanceId"`
}

type connectAuth struct {
	Token string `json:"token"`
}

type connectRequest struct {
	MinProtocol int           `json:"minProtocol"`
	MaxProtocol int           `json:"maxProtocol"`
	Client      connectClient `json:"client"`
	Role        string        `json:"role"`
	Scopes      []string      `json:"scopes"`
	Caps        []string      `json:"caps"`
	Auth        connectAuth   `json:"auth"`
	UserAgent   string        `json:"userAgent"`
	Locale      string        `json:"locale"`
}

func (c *Client) connectParams() *connectRequest {
	return &connectRequest{
		MinProtocol: protocolVersion,
		MaxProtocol: protocolVersion,
		Client: connectClient{
			ID:         c.opts.ClientID,
			Version:    "1.0.0",
			Platform:   runtime.GOOS,
			Mode:       "backend",
			InstanceID: uuid.New().String()[:8],
		},
		Role:      "operator",
		Scopes:    []string{"operator.admin"},
		Caps:      []string{},
		Auth:      connectAuth{Token: c.opts.Token},
		UserAgent: "Foreman-Orchestrator/1.0",
		Locale:    "en-US",
	}
}

// Close shuts the client down for good; no reconnect is attempted.
func (c *Client) Close() {
	c.mu.Lock()
	c.stopped = true
	c.connected = false
	ws := c.ws
	c.mu.Unlock()

	c.stop()
	if ws != nil {
		ws.Close()
	}
	c.failPending(ErrDisconnected)
}

// Connected reports whether the client currently has a live connection.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Hello returns the payload from the last successful handshake.
func (c *Client) Hello() *Hello {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hello
}

// GapCount returns how many event sequence gaps have been observed.
func (c *Client) GapCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gapCount
}

// SessionKey returns the session chats target by default.
func (c *Client) SessionKey() string { return c.opts.SessionKey }

// Request sends an RPC and decodes the response payload into out (which
// may be nil). The default 30s timeout applies.
func (c *Client) Request(ctx context.Context, method string, params, out any) error {
	return c.RequestTimeout(ctx, method, params, out, defaultRequestTimeout)
}

// RequestTimeout is Request with an explicit response timeout.
func (c *Client) RequestTimeout(ctx context.Context, method string, params, out any, timeout time.Duration) error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	send := c.send
	c.mu.Unlock()

	req, err := NewRequest(method, params)
	if err != nil {
		return err
	}

	ch := make(chan pendingResult, 1)
	c.mu.Lock()
	c.pending[req.ID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}()

	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	select {
	case send <- data:
	case <-c.ctx.Done():
		return ErrDisconnected
	case <-ctx.Done():
		return ctx.Err()
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.err != nil {
			return res.err
		}
		if out != nil && len(res.payload) > 0 {
			if err := json.Unmarshal(res.payload, out); err != nil {
				return fmt.Errorf("decode %s payload: %w", method, err)
			}
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("rpc %s: %w", method, ErrTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) readPump(ws *websocket.Conn) {
	defer ws.Close()

	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("read error", "error", err)
			}
			c.onDisconnect()
			return
		}

		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.log.Warn("invalid frame from gateway", "error", err)
			continue
		}
		c.dispatch(&frame)
	}
}

func (c *Client) writePump(ws *websocket.Conn, send chan []byte) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case message, ok := <-send:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Client) dispatch(frame *Frame) {
	switch frame.Type {
	case TypeResponse:
		c.mu.Lock()
		ch, ok := c.pending[frame.ID]
		c.mu.Unlock()
		if !ok {
			return
		}
		if frame.OK {
			ch <- pendingResult{payload: frame.Payload}
		} else {
			code, msg := "?", "?"
			if frame.Error != nil {
				code, msg = frame.Error.Code, frame.Error.Message
			}
			ch <- pendingResult{err: &RemoteError{Code: code, Message: msg}}
		}

	case TypeEvent:
		c.trackSeq(frame)
		c.enqueueEvent(frame)
	}
}

// trackSeq watches the event sequence number for gaps. Gaps are logged
// and counted but never fatal: polling paths recover missed state on
// their next fetch.
func (c *Client) trackSeq(frame *Frame) {
	if frame.Seq == nil {
		return
	}
	seq := *frame.Seq

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lastSeq >= 0 && seq > c.lastSeq+1 {
		gap := seq - c.lastSeq - 1
		c.gapCount++
		if gap > largeGapThreshold {
			c.log.Error("large event gap", "missed", gap, "total_gaps", c.gapCount)
		} else {
			c.log.Warn("event gap detected", "expected", c.lastSeq+1, "got", seq, "missed", gap)
		}
	}
	c.lastSeq = seq
}

func (c *Client) enqueueEvent(frame *Frame) {
	select {
	case c.events <- frame:
	default:
		// Queue full: drop the oldest event and retry once.
		select {
		case <-c.events:
		default:
		}
		select {
		case c.events <- frame:
		default:
		}
	}
}

// eventWorker drains the event queue so slow handlers cannot stall the
// read loop.
func (c *Client) eventWorker() {
	for {
		select {
		case frame := <-c.events:
			if c.opts.OnEvent != nil {
				c.opts.OnEvent(frame)
			}
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Client) onDisconnect() {
	c.mu.Lock()
	wasConnected := c.connected
	c.connected = false
	stopped := c.stopped
	alreadyReconnecting := c.reconnecting
	if !stopped && !alreadyReconnecting {
		c.reconnecting = true
	}
	c.mu.Unlock()

	c.failPending(ErrDisconnected)

	if wasConnected && !stopped && !alreadyReconnecting {
		go c.reconnectLoop()
	}
}

// reconnectLoop retries the connection with exponential backoff.
func (c *Client) reconnectLoop() {
	defer func() {
		c.mu.Lock()
		c.reconnecting = false
		c.mu.Unlock()
	}()

	delay := reconnectInitialDelay
	for attempt := 1; attempt <= reconnectMaxAttempts; attempt++ {
		c.mu.Lock()
		stopped := c.stopped
		c.mu.Unlock()
		if stopped {
			return
		}

		c.log.Info("reconnecting", "attempt", attempt)
		select {
		case <-time.After(delay):
		case <-c.ctx.Done():
			return
		}

		if err := c.Connect(c.ctx); err != nil {
			c.log.Warn("reconnect failed", "attempt", attempt, "error", err)
			delay = min(time.Duration(float64(delay)*1.5), reconnectMaxDelay)
			continue
		}
		c.log.Info("reconnected")
		return
	}
	c.log.Error("giving up on reconnect", "attempts", reconnectMaxAttempts)
}

func (c *Client) failPending(reason error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]chan pendingResult)
	c.mu.Unlock()

	for _, ch := range pending {
		select {
		case ch <- pendingResult{err: reason}:
		default:
		}
	}
}
