package wsclient

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"handoffdesk/backend/internal/models"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer confirms every connection, echoes a fixed event twice and records
// the query of each dial.
type fakeServer struct {
	*httptest.Server
	upgrader websocket.Upgrader

	mu      sync.Mutex
	queries []map[string]string
	conns   []*websocket.Conn
	frames  []models.InboundFrame
	live    int
}

func newFakeServer(t *testing.T) *fakeServer {
	fs := &fakeServer{}
	fs.Server = httptest.NewServer(http.HandlerFunc(fs.handle))
	t.Cleanup(fs.Close)
	return fs
}

func (fs *fakeServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != WSPath {
		http.NotFound(w, r)
		return
	}
	conn, err := fs.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	q := r.URL.Query()
	fs.mu.Lock()
	fs.queries = append(fs.queries, map[string]string{
		"conversationId": q.Get("conversationId"),
		"adminId":        q.Get("adminId"),
		"token":          q.Get("token"),
		"resume":         q.Get("resume"),
	})
	fs.conns = append(fs.conns, conn)
	fs.live++
	fs.mu.Unlock()
	defer func() {
		fs.mu.Lock()
		fs.live--
		fs.mu.Unlock()
	}()

	confirmed := models.NewEvent(models.EventConnectionConfirmed, time.Now())
	confirmed.Resumed = q.Get("resume") == "1"
	conn.WriteJSON(confirmed)

	dup := models.NewEvent(models.EventCountdown, time.Now())
	dup.RemainingMs = 42000
	conn.WriteJSON(dup)
	conn.WriteJSON(dup)

	for {
		var frame models.InboundFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		fs.mu.Lock()
		fs.frames = append(fs.frames, frame)
		fs.mu.Unlock()
	}
}

func (fs *fakeServer) dials() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return len(fs.queries)
}

// liveCount is the number of connections the server has not seen close.
func (fs *fakeServer) liveCount() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.live
}

func (fs *fakeServer) query(i int) map[string]string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.queries[i]
}

func (fs *fakeServer) dropLast() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.conns[len(fs.conns)-1].Close()
}

func waitEvent(t *testing.T, c *Client, typ models.EventType) models.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-c.Events():
			if ev.Type == typ {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %s event", typ)
		}
	}
}

func TestParams_URL(t *testing.T) {
	p := Params{BaseURL: "https://desk.example.com/", AdminID: "7", Token: "tok"}
	u, err := p.URL(true)
	require.NoError(t, err)
	assert.Equal(t, "wss://desk.example.com/api/v1/human-handoff/ws?adminId=7&resume=1&token=tok", u)

	p = Params{BaseURL: "http://localhost:8080", ConversationID: "c1"}
	u, err = p.URL(false)
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8080/api/v1/human-handoff/ws?conversationId=c1", u)

	_, err = Params{BaseURL: "ftp://x", ConversationID: "c1"}.URL(false)
	assert.Error(t, err)
}

func TestParams_Identity(t *testing.T) {
	a := Params{BaseURL: "http://x", ConversationID: "c1", Token: "t1"}
	b := Params{BaseURL: "http://x", ConversationID: "c1", Token: "t2"}
	assert.Equal(t, a.Identity(), b.Identity())
	assert.NotEqual(t, a.Identity(), Params{BaseURL: "http://x", ConversationID: "c2"}.Identity())
	assert.NotEqual(t, a.Identity(), Params{BaseURL: "http://x", AdminID: "c1"}.Identity())
	assert.Empty(t, Params{ConversationID: "c1"}.Identity())
}

func TestClient_ConnectsAndDeduplicates(t *testing.T) {
	srv := newFakeServer(t)
	var states []State
	var mu sync.Mutex
	c := New(Options{OnState: func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	}})
	defer c.Close()

	assert.True(t, c.SetParams(Params{BaseURL: srv.URL, ConversationID: "c1", Token: "t"}))

	waitEvent(t, c, models.EventConnectionConfirmed)
	assert.Equal(t, StateConnected, c.State())
	assert.False(t, c.Resumed())

	ev := waitEvent(t, c, models.EventCountdown)
	assert.Equal(t, int64(42000), ev.RemainingMs)
	select {
	case extra := <-c.Events():
		t.Fatalf("duplicate event delivered: %s", extra.Type)
	case <-time.After(50 * time.Millisecond):
	}

	assert.Equal(t, "c1", srv.query(0)["conversationId"])
	assert.Equal(t, "t", srv.query(0)["token"])
	mu.Lock()
	assert.Equal(t, []State{StateConnecting, StateConnected}, states)
	mu.Unlock()
}

func TestClient_SameIdentityDoesNotReconnect(t *testing.T) {
	srv := newFakeServer(t)
	c := New(Options{})
	defer c.Close()

	require.True(t, c.SetParams(Params{BaseURL: srv.URL, ConversationID: "c1", Token: "a"}))
	waitEvent(t, c, models.EventConnectionConfirmed)

	assert.False(t, c.SetParams(Params{BaseURL: srv.URL, ConversationID: "c1", Token: "b"}))
	assert.Equal(t, "b", c.Params().Token)
	assert.Equal(t, 1, srv.dials())

	assert.True(t, c.SetParams(Params{BaseURL: srv.URL, ConversationID: "c2"}))
	waitEvent(t, c, models.EventConnectionConfirmed)
	assert.Equal(t, 2, srv.dials())
	assert.Equal(t, "c2", srv.query(1)["conversationId"])
	assert.Empty(t, srv.query(1)["resume"])
}

func TestClient_ReconnectsWithResume(t *testing.T) {
	srv := newFakeServer(t)
	c := New(Options{MinBackoff: 10 * time.Millisecond, MaxBackoff: 20 * time.Millisecond})
	defer c.Close()

	c.SetParams(Params{BaseURL: srv.URL, AdminID: "7"})
	waitEvent(t, c, models.EventConnectionConfirmed)

	srv.dropLast()

	ev := waitEvent(t, c, models.EventConnectionConfirmed)
	assert.True(t, ev.Resumed)
	assert.True(t, c.Resumed())
	assert.Equal(t, "1", srv.query(1)["resume"])
	assert.Equal(t, "7", srv.query(1)["adminId"])
}

func TestClient_Send(t *testing.T) {
	srv := newFakeServer(t)
	c := New(Options{})
	defer c.Close()

	assert.ErrorIs(t, c.Send(models.InboundFrame{Type: models.FramePing}), ErrNotConnected)

	c.SetParams(Params{BaseURL: srv.URL, ConversationID: "c1"})
	waitEvent(t, c, models.EventConnectionConfirmed)

	require.NoError(t, c.Send(models.InboundFrame{Type: models.FrameMessage, Message: "Xin chào", ClientMessageID: "m1"}))
	assert.Eventually(t, func() bool {
		srv.mu.Lock()
		defer srv.mu.Unlock()
		return len(srv.frames) == 1 && srv.frames[0].Message == "Xin chào"
	}, time.Second, 5*time.Millisecond)
}

func TestClient_ClearParamsDisconnects(t *testing.T) {
	srv := newFakeServer(t)
	c := New(Options{})
	defer c.Close()

	c.SetParams(Params{BaseURL: srv.URL, ConversationID: "c1"})
	waitEvent(t, c, models.EventConnectionConfirmed)

	assert.True(t, c.SetParams(Params{}))
	assert.Equal(t, StateDisconnected, c.State())
	assert.False(t, c.SetParams(Params{}))
}

func TestClient_CloseClosesEvents(t *testing.T) {
	c := New(Options{})
	c.Close()
	_, ok := <-c.Events()
	assert.False(t, ok)
	assert.False(t, c.SetParams(Params{BaseURL: "http://x", ConversationID: "c1"}))
}

func TestClient_ConcurrentSetParamsKeepOneConnection(t *testing.T) {
	srv := newFakeServer(t)

	for round := 0; round < 20; round++ {
		c := New(Options{MinBackoff: 10 * time.Millisecond, MaxBackoff: 50 * time.Millisecond})
		c.SetParams(Params{BaseURL: srv.URL, ConversationID: "seed"})
		waitEvent(t, c, models.EventConnectionConfirmed)

		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				c.SetParams(Params{BaseURL: srv.URL, ConversationID: fmt.Sprintf("c%d-%d", round, i)})
			}(i)
		}
		wg.Wait()

		require.Eventually(t, func() bool { return srv.liveCount() == 1 }, 2*time.Second, 10*time.Millisecond,
			"round %d: exactly one connection after concurrent updates", round)
		c.Close()
		require.Eventually(t, func() bool { return srv.liveCount() == 0 }, 2*time.Second, 10*time.Millisecond,
			"round %d: no connection survives Close", round)
	}
}
