package gateway

import (
	"context"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
)

// NormalizeURL turns an HTTP(S) endpoint into its WebSocket form and
// strips any path; connections always target the gateway root.
func NormalizeURL(url string) string {
	switch {
	case strings.HasPrefix(url, "http://"):
		url = "ws://" + strings.TrimPrefix(url, "http://")
	case strings.HasPrefix(url, "https://"):
		url = "wss://" + strings.TrimPrefix(url, "https://")
	}
	if strings.Count(url, "/") > 2 {
		parts := strings.SplitN(url, "/", 4)
		url = strings.Join(parts[:3], "/")
	}
	return url
}

// Pool shares gateway connections across callers, keyed by normalized
// URL. Subtasks running against the same gateway reuse one socket.
type Pool struct {
	log hclog.Logger

	mu      sync.Mutex
	clients map[string]*Client
}

func NewPool(log hclog.Logger) *Pool {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Pool{
		log:     log.Named("gateway-pool"),
		clients: make(map[string]*Client),
	}
}

// Get returns a connected client for opts.URL, dialing if none exists
// or the cached one has dropped its connection for good.
func (p *Pool) Get(ctx context.Context, opts Options) (*Client, error) {
	opts.URL = NormalizeURL(opts.URL)
	if opts.Logger == nil {
		opts.Logger = p.log
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[opts.URL]; ok && c.Connected() {
		return c, nil
	}

	c := NewClient(opts)
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	p.clients[opts.URL] = c
	return c, nil
}

// Close tears down every pooled connection.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for url, c := range p.clients {
		c.Close()
		delete(p.clients, url)
	}
}
