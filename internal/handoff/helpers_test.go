package handoff

import (
	"context"
	"sync"
	"testing"
	"time"

	"handoffdesk/backend/internal/config"
	"handoffdesk/backend/internal/dedup"
	"handoffdesk/backend/internal/models"
	"handoffdesk/backend/internal/notify"
	"handoffdesk/backend/internal/storage"
	"handoffdesk/backend/internal/timeout"

	"github.com/stretchr/testify/require"
)

type published struct {
	target models.Target
	event  models.Event
}

// recorder captures published events.
type recorder struct {
	mu     sync.Mutex
	events []published
}

func (r *recorder) Publish(_ context.Context, target models.Target, ev models.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, published{target: target, event: ev})
	return nil
}

func (r *recorder) ofType(t models.EventType) []published {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []published
	for _, p := range r.events {
		if p.event.Type == t {
			out = append(out, p)
		}
	}
	return out
}

func (r *recorder) count(t models.EventType) int {
	return len(r.ofType(t))
}

type dispatchRecorder struct {
	mu    sync.Mutex
	notes []notify.Notification
}

func (d *dispatchRecorder) Dispatch(n notify.Notification) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notes = append(d.notes, n)
}

func (d *dispatchRecorder) kinds() []notify.Kind {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []notify.Kind
	for _, n := range d.notes {
		out = append(out, n.Kind)
	}
	return out
}

// clock is a settable time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock { return &clock{now: time.Now().UTC()} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	svc      *Service
	store    *storage.Service
	events   *recorder
	notifier *dispatchRecorder
}

type fixtureOption func(*Options)

func withTimeout(d time.Duration) fixtureOption {
	return func(o *Options) { o.Timeout = d }
}

func withClock(c *clock) fixtureOption {
	return func(o *Options) { o.Now = c.Now }
}

func withSettings(s config.HandoffSettings) fixtureOption {
	return func(o *Options) { o.Settings = s }
}

func withStoreWrapper(wrap func(storage.Storage) storage.Storage) fixtureOption {
	return func(o *Options) { o.Store = wrap(o.Store) }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	db, err := storage.Open("sqlite", ":memory:")
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	store := storage.NewStorageService(db, nil)
	events := &recorder{}
	notifier := &dispatchRecorder{}
	timers := timeout.NewCoordinator(20 * time.Millisecond)
	t.Cleanup(timers.Stop)

	o := Options{
		Store:     store,
		Publisher: events,
		Timers:    timers,
		Dedup:     dedup.NewMemory(100),
		Notifier:  notifier,
		Settings:  config.DefaultHandoffSettings(),
		Timeout:   time.Minute,
	}
	for _, opt := range opts {
		opt(&o)
	}
	svc, err := NewService(o)
	require.NoError(t, err)
	t.Cleanup(svc.Close)

	return &fixture{svc: svc, store: store, events: events, notifier: notifier}
}

func guestRequest(conversationID, guestID string) SupportRequest {
	return SupportRequest{
		ConversationID: conversationID,
		Requester:      models.Requester{GuestID: guestID},
		Message:        "cần hỗ trợ",
	}
}

func (f *fixture) request(t *testing.T, conversationID, guestID string) *models.HandoffSession {
	t.Helper()
	session, err := f.svc.RequestSupport(context.Background(), guestRequest(conversationID, guestID))
	require.NoError(t, err)
	return session
}

func (f *fixture) connect(t *testing.T, conversationID, adminID string) *models.HandoffSession {
	t.Helper()
	session := f.request(t, conversationID, "guest-"+conversationID)
	accepted, err := f.svc.AcceptSession(context.Background(), session.ID, adminID, "Mai")
	require.NoError(t, err)
	return accepted
}
