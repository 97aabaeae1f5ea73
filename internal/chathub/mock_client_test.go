package chathub_test

import (
	"sync"
	"time"

	"handoffdesk/backend/internal/models"
)

type MockClient struct {
	participant models.Participant
	RecvChannel chan models.Event

	mu     sync.Mutex
	closed bool
}

func newMockUser(conversationID string) *MockClient {
	return newMockClient(models.Participant{Role: models.RoleUser, ConversationID: conversationID})
}

func newMockRequester(conversationID, guestID string) *MockClient {
	return newMockClient(models.Participant{
		Role:           models.RoleUser,
		ConversationID: conversationID,
		Requester:      models.Requester{GuestID: guestID},
	})
}

func newMockAdmin(adminID string) *MockClient {
	return newMockClient(models.Participant{Role: models.RoleAdmin, AdminID: adminID})
}

func newMockClient(p models.Participant) *MockClient {
	return &MockClient{
		participant: p,
		RecvChannel: make(chan models.Event, 10),
	}
}

func (c *MockClient) Participant() models.Participant     { return c.participant }
func (c *MockClient) GetSendChannel() chan<- models.Event { return c.RecvChannel }
func (c *MockClient) Run()                                {}

func (c *MockClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *MockClient) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// next waits briefly for the next event.
func (c *MockClient) next() (models.Event, bool) {
	select {
	case ev := <-c.RecvChannel:
		return ev, true
	case <-time.After(time.Second):
		return models.Event{}, false
	}
}

// drain discards everything buffered.
func (c *MockClient) drain() {
	for {
		select {
		case <-c.RecvChannel:
		default:
			return
		}
	}
}
