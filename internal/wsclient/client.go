// Package wsclient is the realtime client adapter used by widgets, agents and
// tools that talk to the handoff websocket. A Client holds the desired
// connection identity and reconnects only when that identity changes.
//
//	disconnected --SetParams--> connecting --connection-confirmed--> connected
//	      ^                         ^                                    |
//	      |                         +------------read error / backoff----+
//	      +---------------------- Close / SetParams(zero) ---------------+
package wsclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"handoffdesk/backend/internal/config"
	"handoffdesk/backend/internal/models"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// WSPath is the websocket route relative to the server base URL.
const WSPath = "/api/v1/human-handoff/ws"

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

var ErrNotConnected = errors.New("wsclient: not connected")

// Params is the desired connection. Exactly one of ConversationID or AdminID
// selects the role.
type Params struct {
	BaseURL        string
	ConversationID string
	AdminID        string
	Token          string
}

// Identity is what a connection is for; a change forces a reconnect.
func (p Params) Identity() string {
	if p.BaseURL == "" {
		return ""
	}
	if p.AdminID != "" {
		return p.BaseURL + "|admin:" + p.AdminID
	}
	if p.ConversationID != "" {
		return p.BaseURL + "|user:" + p.ConversationID
	}
	return ""
}

// URL builds the websocket URL. http(s) base URLs are mapped to ws(s).
func (p Params) URL(resume bool) (string, error) {
	u, err := url.Parse(p.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + WSPath

	q := url.Values{}
	if p.AdminID != "" {
		q.Set("adminId", p.AdminID)
	} else {
		q.Set("conversationId", p.ConversationID)
	}
	if p.Token != "" {
		q.Set("token", p.Token)
	}
	if resume {
		q.Set("resume", "1")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Options tune a Client. Zero values take defaults.
type Options struct {
	Dialer       *websocket.Dialer
	MinBackoff   time.Duration
	MaxBackoff   time.Duration
	EventBuffer  int
	SeenCapacity int
	// OnState observes every state change.
	OnState func(State)
}

// Client keeps one websocket connection matching its current Params.
type Client struct {
	opts   Options
	events chan models.Event
	seen   *lru.Cache[string, struct{}]
	logger zerolog.Logger

	// lifecycleMu serializes SetParams and Close, so one stop-then-start
	// sequence completes before the next begins.
	lifecycleMu sync.Mutex

	mu       sync.Mutex
	params   Params
	state    State
	conn     *websocket.Conn
	cancel   context.CancelFunc
	loopDone chan struct{}
	resumed  bool
	closed   bool

	writeMu sync.Mutex
}

func New(opts Options) *Client {
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = 500 * time.Millisecond
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 30 * time.Second
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = config.WSSendBuffer
	}
	if opts.SeenCapacity <= 0 {
		opts.SeenCapacity = 512
	}
	seen, _ := lru.New[string, struct{}](opts.SeenCapacity)
	return &Client{
		opts:   opts,
		events: make(chan models.Event, opts.EventBuffer),
		seen:   seen,
		logger: log.With().Str("component", "wsclient").Logger(),
	}
}

// Events yields server events, each event id at most once. The channel is
// closed by Close.
func (c *Client) Events() <-chan models.Event {
	return c.events
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) Params() Params {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.params
}

// Resumed reports whether the server treated the current connection as a
// reconnect of an earlier one.
func (c *Client) Resumed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resumed
}

// SetParams updates the desired connection and reports whether it caused a
// reconnect. Params with the same identity only refresh the stored token.
func (c *Client) SetParams(p Params) bool {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	same := p.Identity() == c.params.Identity()
	c.params = p
	if same && (c.cancel != nil || p.Identity() == "") {
		c.mu.Unlock()
		return false
	}
	c.stopLocked()
	if p.Identity() == "" {
		c.mu.Unlock()
		return true
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.cancel = cancel
	c.loopDone = done
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	go c.loop(ctx, p, done)
	return true
}

// Send writes a frame on the current connection.
func (c *Client) Send(frame models.InboundFrame) error {
	c.mu.Lock()
	conn := c.conn
	state := c.state
	c.mu.Unlock()
	if conn == nil || state != StateConnected {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(config.WSWriteWait))
	return conn.WriteJSON(frame)
}

// Close disconnects and closes the events channel.
func (c *Client) Close() {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.stopLocked()
	c.mu.Unlock()
	close(c.events)
}

// stopLocked cancels the running loop and waits for it. c.mu is released
// while waiting; callers hold lifecycleMu so no other loop can start then.
func (c *Client) stopLocked() {
	if c.cancel == nil {
		c.setStateLocked(StateDisconnected)
		return
	}
	cancel, done, conn := c.cancel, c.loopDone, c.conn
	c.cancel, c.loopDone = nil, nil
	cancel()
	if conn != nil {
		conn.Close()
	}
	c.mu.Unlock()
	<-done
	c.mu.Lock()
	c.conn = nil
	c.resumed = false
	c.setStateLocked(StateDisconnected)
}

func (c *Client) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	if c.opts.OnState != nil {
		c.opts.OnState(s)
	}
}

func (c *Client) loop(ctx context.Context, p Params, done chan struct{}) {
	defer close(done)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.opts.MinBackoff
	bo.MaxInterval = c.opts.MaxBackoff
	bo.MaxElapsedTime = 0
	bo.Reset()

	attempt := 0
	for {
		confirmed, err := c.session(ctx, p, attempt > 0)
		if ctx.Err() != nil {
			return
		}
		if confirmed {
			bo.Reset()
		}
		attempt++

		wait := bo.NextBackOff()
		c.logger.Warn().Err(err).Int("attempt", attempt).Dur("retryIn", wait).Msg("realtime connection lost")

		c.mu.Lock()
		c.conn = nil
		c.setStateLocked(StateConnecting)
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// session dials once and reads until the connection fails. It reports whether
// the server confirmed the connection.
func (c *Client) session(ctx context.Context, p Params, resume bool) (bool, error) {
	target, err := p.URL(resume)
	if err != nil {
		return false, err
	}
	header := http.Header{}
	if p.Token != "" {
		header.Set("Authorization", "Bearer "+p.Token)
	}
	conn, resp, err := c.opts.Dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			return false, fmt.Errorf("dial: %w (status %d)", err, resp.StatusCode)
		}
		return false, fmt.Errorf("dial: %w", err)
	}

	c.mu.Lock()
	if ctx.Err() != nil {
		c.mu.Unlock()
		conn.Close()
		return false, ctx.Err()
	}
	c.conn = conn
	c.mu.Unlock()
	defer conn.Close()

	confirmed := false
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return confirmed, err
		}
		var ev models.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			c.logger.Warn().Err(err).Msg("invalid event from server")
			continue
		}
		if ev.Type == models.EventConnectionConfirmed {
			confirmed = true
			c.mu.Lock()
			c.resumed = ev.Resumed
			c.setStateLocked(StateConnected)
			c.mu.Unlock()
		}
		c.emit(ctx, ev)
	}
}

func (c *Client) emit(ctx context.Context, ev models.Event) {
	if ev.ID != "" {
		if seen, _ := c.seen.ContainsOrAdd(ev.ID, struct{}{}); seen {
			return
		}
	}
	select {
	case c.events <- ev:
	case <-ctx.Done():
	}
}
