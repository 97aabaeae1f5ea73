package chathub

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"handoffdesk/backend/internal/config"
	"handoffdesk/backend/internal/metrics"
	"handoffdesk/backend/internal/models"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InboundHandler processes a frame read from a client. It runs on the client's
// read goroutine, so frames of one connection are handled in order.
type InboundHandler func(p models.Participant, frame models.InboundFrame)

// ConnectHook returns events to send after connection-confirmed, such as the
// current session status of a reconnecting user. It runs outside the hub loop
// and may query the store or publish.
type ConnectHook func(p models.Participant) []models.Event

// Relay carries envelopes to every hub instance, including the sender.
type Relay interface {
	Publish(ctx context.Context, env models.Envelope) error
	Start(ctx context.Context, deliver func(models.Envelope)) error
}

type registration struct {
	client  Client
	resumed bool
}

// catchUp carries connect-hook events back to the hub loop for one client.
type catchUp struct {
	client Client
	events []models.Event
}

// ManagerService routes handoff events to the sockets of one process.
type ManagerService struct {
	mu      sync.RWMutex
	Clients map[string]map[Client]struct{}

	RegisterCh   chan registration
	UnregisterCh chan Client
	deliverCh    chan models.Envelope
	catchUpCh    chan catchUp
	done         chan struct{}

	relay      Relay
	relayUp    atomic.Bool
	newBackOff func() backoff.BackOff
	inbound    InboundHandler
	onConnect  ConnectHook
	instanceID string
	now        func() time.Time
	logger     zerolog.Logger
}

// NewManagerService creates a hub. A nil relay means single-instance delivery.
func NewManagerService(relay Relay) *ManagerService {
	m := &ManagerService{
		Clients:      make(map[string]map[Client]struct{}),
		RegisterCh:   make(chan registration),
		UnregisterCh: make(chan Client),
		deliverCh:    make(chan models.Envelope, 256),
		catchUpCh:    make(chan catchUp),
		done:         make(chan struct{}),
		instanceID:   uuid.New().String(),
		now:          func() time.Time { return time.Now().UTC() },
		logger:       log.With().Str("component", "chathub").Logger(),
	}
	if relay == nil {
		relay = NewLocalRelay()
	}
	m.relay = relay
	m.newBackOff = func() backoff.BackOff {
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = config.RelayRetryMinInterval
		bo.MaxInterval = config.RelayRetryMaxInterval
		bo.MaxElapsedTime = 0
		return bo
	}
	return m
}

// SetRelayBackOff replaces the retry policy used while the relay subscription
// cannot be established.
func (m *ManagerService) SetRelayBackOff(fn func() backoff.BackOff) {
	m.newBackOff = fn
}

func (m *ManagerService) SetInboundHandler(h InboundHandler) {
	m.inbound = h
}

func (m *ManagerService) SetConnectHook(h ConnectHook) {
	m.onConnect = h
}

// Register hands a client to the hub loop. resumed marks a client that says it
// is reconnecting.
func (m *ManagerService) Register(c Client, resumed bool) {
	select {
	case m.RegisterCh <- registration{client: c, resumed: resumed}:
	case <-m.done:
		c.Close()
		return
	}
	if m.onConnect != nil {
		go m.catchUp(c)
	}
}

// catchUp runs the connect hook and queues its events behind
// connection-confirmed.
func (m *ManagerService) catchUp(c Client) {
	events := m.onConnect(c.Participant())
	if len(events) == 0 {
		return
	}
	select {
	case m.catchUpCh <- catchUp{client: c, events: events}:
	case <-m.done:
	}
}

func (m *ManagerService) Unregister(c Client) {
	select {
	case m.UnregisterCh <- c:
	case <-m.done:
	}
}

// HandleInbound dispatches a client frame to the inbound handler.
func (m *ManagerService) HandleInbound(c Client, frame models.InboundFrame) {
	if m.inbound == nil {
		m.logger.Warn().Str("type", frame.Type).Msg("no inbound handler configured, dropping frame")
		return
	}
	m.inbound(c.Participant(), frame)
}

// Publish addresses an event and sends it through the relay. A relay failure
// still delivers to local sockets and is returned for logging.
func (m *ManagerService) Publish(ctx context.Context, target models.Target, event models.Event) error {
	env := models.Envelope{Origin: m.instanceID, Target: target, Event: event}
	if err := m.relay.Publish(ctx, env); err != nil {
		metrics.RelayErrors.Inc()
		m.logger.Error().Err(err).Str("event", string(event.Type)).Msg("relay publish failed, delivering locally")
		m.Deliver(env)
		return err
	}
	if !m.relayUp.Load() {
		// Not subscribed yet: nothing would echo the envelope back to us.
		m.Deliver(env)
	}
	return nil
}

// Deliver queues an envelope for local routing.
func (m *ManagerService) Deliver(env models.Envelope) {
	select {
	case m.deliverCh <- env:
	case <-m.done:
	}
}

// Run owns the client registry until ctx is cancelled.
func (m *ManagerService) Run(ctx context.Context) {
	if err := m.relay.Start(ctx, m.Deliver); err != nil {
		metrics.RelayErrors.Inc()
		m.logger.Error().Err(err).Msg("relay failed to start, retrying in background")
		go m.retryRelay(ctx)
	} else {
		m.relayUp.Store(true)
	}
	defer m.shutdown()

	for {
		select {
		case <-ctx.Done():
			return
		case reg := <-m.RegisterCh:
			m.register(reg)
		case c := <-m.UnregisterCh:
			m.unregister(c)
		case env := <-m.deliverCh:
			m.deliver(env)
		case cu := <-m.catchUpCh:
			m.sendCatchUp(cu)
		}
	}
}

// retryRelay subscribes the relay, retrying with backoff until it succeeds or
// ctx ends. Until then Publish delivers to local sockets directly.
func (m *ManagerService) retryRelay(ctx context.Context) {
	err := backoff.RetryNotify(
		func() error { return m.relay.Start(ctx, m.Deliver) },
		backoff.WithContext(m.newBackOff(), ctx),
		func(err error, wait time.Duration) {
			metrics.RelayErrors.Inc()
			m.logger.Error().Err(err).Dur("retryIn", wait).Msg("relay failed to start")
		},
	)
	if err != nil {
		return
	}
	m.relayUp.Store(true)
	m.logger.Info().Msg("relay subscribed")
}

// RelayReady reports whether the relay subscription is established.
func (m *ManagerService) RelayReady() bool {
	return m.relayUp.Load()
}

func (m *ManagerService) sendCatchUp(cu catchUp) {
	key := cu.client.Participant().Key()
	m.mu.RLock()
	_, present := m.Clients[key][cu.client]
	m.mu.RUnlock()
	if !present {
		return
	}
	for _, ev := range cu.events {
		m.send(key, cu.client, ev)
	}
}

func (m *ManagerService) register(reg registration) {
	p := reg.client.Participant()
	key := p.Key()

	m.mu.Lock()
	set, ok := m.Clients[key]
	if !ok {
		set = make(map[Client]struct{})
		m.Clients[key] = set
	}
	resumed := reg.resumed
	// A requester has one socket per conversation; a reconnect replaces the old one.
	if p.Role == models.RoleUser {
		for old := range set {
			if old.Participant().Requester != p.Requester {
				continue
			}
			delete(set, old)
			old.Close()
			metrics.ActiveConnections.WithLabelValues(string(p.Role)).Dec()
			resumed = true
		}
	}
	set[reg.client] = struct{}{}
	m.mu.Unlock()

	metrics.ActiveConnections.WithLabelValues(string(p.Role)).Inc()
	m.logger.Info().Str("key", key).Bool("resumed", resumed).Msg("client registered")

	confirmed := models.NewEvent(models.EventConnectionConfirmed, m.now())
	confirmed.ConversationID = p.ConversationID
	confirmed.AdminID = p.AdminID
	confirmed.Resumed = resumed
	m.send(key, reg.client, confirmed)
}

func (m *ManagerService) unregister(c Client) {
	key := c.Participant().Key()

	m.mu.Lock()
	set, ok := m.Clients[key]
	if !ok {
		m.mu.Unlock()
		return
	}
	if _, present := set[c]; !present {
		m.mu.Unlock()
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(m.Clients, key)
	}
	m.mu.Unlock()

	c.Close()
	metrics.ActiveConnections.WithLabelValues(string(c.Participant().Role)).Dec()
	m.logger.Info().Str("key", key).Msg("client unregistered")
}

func (m *ManagerService) deliver(env models.Envelope) {
	for client, key := range m.recipients(env.Target) {
		m.send(key, client, env.Event)
	}
}

// recipients snapshots the clients addressed by a target.
func (m *ManagerService) recipients(t models.Target) map[Client]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[Client]string)
	add := func(key string) {
		for c := range m.Clients[key] {
			out[c] = key
		}
	}
	if t.ConversationID != "" {
		key := models.Participant{Role: models.RoleUser, ConversationID: t.ConversationID}.Key()
		for c := range m.Clients[key] {
			if t.Requester == (models.Requester{}) || c.Participant().Requester == t.Requester {
				out[c] = key
			}
		}
	}
	if t.AllAdmins {
		for key, set := range m.Clients {
			for c := range set {
				if c.Participant().Role == models.RoleAdmin {
					out[c] = key
				}
			}
		}
	} else if t.AdminID != "" {
		add(models.Participant{Role: models.RoleAdmin, AdminID: t.AdminID}.Key())
	}
	return out
}

// send writes to a client's buffer without blocking; a client that cannot keep
// up is dropped.
func (m *ManagerService) send(key string, c Client, ev models.Event) {
	select {
	case c.GetSendChannel() <- ev:
		metrics.EventsDelivered.WithLabelValues(string(ev.Type)).Inc()
	default:
		m.logger.Warn().Str("key", key).Str("event", string(ev.Type)).Msg("send buffer full, dropping client")
		m.dropSlow(c)
	}
}

func (m *ManagerService) dropSlow(c Client) {
	key := c.Participant().Key()
	m.mu.Lock()
	set := m.Clients[key]
	_, present := set[c]
	if present {
		delete(set, c)
		if len(set) == 0 {
			delete(m.Clients, key)
		}
	}
	m.mu.Unlock()
	if present {
		c.Close()
		metrics.ActiveConnections.WithLabelValues(string(c.Participant().Role)).Dec()
	}
}

func (m *ManagerService) shutdown() {
	close(m.done)
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, set := range m.Clients {
		for c := range set {
			c.Close()
		}
		delete(m.Clients, key)
	}
	m.logger.Info().Msg("hub stopped")
}

// IsConnected reports whether a participant has at least one open socket here.
func (m *ManagerService) IsConnected(p models.Participant) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.Clients[p.Key()]) > 0
}

// ConnectionCount returns the number of open sockets on this instance.
func (m *ManagerService) ConnectionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, set := range m.Clients {
		n += len(set)
	}
	return n
}
