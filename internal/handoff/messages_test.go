package handoff

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	apperrors "handoffdesk/backend/internal/errors"
	"handoffdesk/backend/internal/models"
	"handoffdesk/backend/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendMessage_AdminDuplicateDeliveredOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.connect(t, "c1", "admin-1")

	// Two sends 2s apart, inside one 5s bucket.
	base := time.UnixMilli(1_750_000_000_000).UTC()
	first, err := f.svc.SendMessage(ctx, OutgoingMessage{
		SessionID: session.ID, Sender: models.SenderAdmin, AdminID: "admin-1", Content: "Xin chào", SentAt: base,
	})
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	second, err := f.svc.SendMessage(ctx, OutgoingMessage{
		SessionID: session.ID, Sender: models.SenderAdmin, AdminID: "admin-1", Content: "Xin chào", SentAt: base.Add(2 * time.Second),
	})
	require.NoError(t, err)
	assert.True(t, second.Duplicate)

	delivered := f.events.ofType(models.EventAdminMessage)
	require.Len(t, delivered, 1)
	assert.Equal(t, "Xin chào", delivered[0].event.Message)
	assert.Equal(t, "Mai", delivered[0].event.AdminName)
	assert.Equal(t, models.Target{ConversationID: "c1", Requester: models.Requester{GuestID: "guest-c1"}, AdminID: "admin-1"}, delivered[0].target)

	history, err := f.svc.GetMessages(ctx, session.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestSendMessage_NextBucketNotSuppressed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.connect(t, "c1", "admin-1")

	base := time.UnixMilli(1_750_000_000_000).UTC()
	for _, at := range []time.Time{base, base.Add(5 * time.Second)} {
		d, err := f.svc.SendMessage(ctx, OutgoingMessage{
			SessionID: session.ID, Sender: models.SenderAdmin, Content: "ok", SentAt: at,
		})
		require.NoError(t, err)
		assert.False(t, d.Duplicate)
	}
	assert.Equal(t, 2, f.events.count(models.EventAdminMessage))
}

func TestSendMessage_RetriedClientMessageIDStoredOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.connect(t, "c1", "admin-1")

	base := time.UnixMilli(1_750_000_000_000).UTC()
	_, err := f.svc.SendMessage(ctx, OutgoingMessage{
		ConversationID: "c1", Sender: models.SenderUser, Content: "hello", ClientMessageID: "m-1", SentAt: base,
	})
	require.NoError(t, err)

	// Same id, outside the content window.
	retry, err := f.svc.SendMessage(ctx, OutgoingMessage{
		ConversationID: "c1", Sender: models.SenderUser, Content: "hello", ClientMessageID: "m-1", SentAt: base.Add(time.Minute),
	})
	require.NoError(t, err)
	assert.True(t, retry.Duplicate)

	history, err := f.svc.GetMessages(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "m-1", history[0].ClientMessageID)
}

func TestSendMessage_UserByConversation(t *testing.T) {
	f := newFixture(t)
	session := f.connect(t, "c1", "admin-1")

	d, err := f.svc.SendMessage(context.Background(), OutgoingMessage{
		ConversationID: "c1", Sender: models.SenderUser, Content: "  còn học bổng không?  ",
	})
	require.NoError(t, err)

	assert.Equal(t, session.ID, d.Message.SessionID)
	assert.Equal(t, "còn học bổng không?", d.Message.Content)
	assert.Len(t, d.Message.ClientMessageID, 32)

	ev := f.events.ofType(models.EventUserMessage)
	require.Len(t, ev, 1)
	assert.Equal(t, "admin-1", ev[0].target.AdminID)
	assert.Equal(t, models.SenderUser, ev[0].event.Sender)
}

func TestSendMessage_BlockedWhileWaiting(t *testing.T) {
	f := newFixture(t)
	session := f.request(t, "c1", "g1")

	_, err := f.svc.SendMessage(context.Background(), OutgoingMessage{
		SessionID: session.ID, Sender: models.SenderUser, Content: "are you there?",
	})

	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidState))
	assert.Equal(t, 0, f.events.count(models.EventUserMessage))
}

func TestSendMessage_NoActiveSession(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.SendMessage(context.Background(), OutgoingMessage{
		ConversationID: "nobody", Sender: models.SenderUser, Content: "hi",
	})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidState))
}

func TestSendMessage_OtherAdminForbidden(t *testing.T) {
	f := newFixture(t)
	session := f.connect(t, "c1", "admin-1")

	_, err := f.svc.SendMessage(context.Background(), OutgoingMessage{
		SessionID: session.ID, Sender: models.SenderAdmin, AdminID: "admin-2", Content: "hi",
	})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeForbidden))
}

func TestSendMessage_Validation(t *testing.T) {
	f := newFixture(t)
	cases := []OutgoingMessage{
		{SessionID: "s", Sender: "bot", Content: "hi"},
		{Sender: models.SenderUser, Content: "hi"},
		{SessionID: "s", Sender: models.SenderUser, Content: " "},
	}
	for _, msg := range cases {
		_, err := f.svc.SendMessage(context.Background(), msg)
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation), "got %v", err)
	}
}

func TestSendMessage_EndedSessionForgetsFingerprints(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.connect(t, "c1", "admin-1")
	base := time.UnixMilli(1_750_000_000_000).UTC()

	_, err := f.svc.SendMessage(ctx, OutgoingMessage{SessionID: session.ID, Sender: models.SenderUser, Content: "hi", SentAt: base})
	require.NoError(t, err)
	_, err = f.svc.EndSession(ctx, session.ID)
	require.NoError(t, err)

	next := f.connect(t, "c1", "admin-1")
	d, err := f.svc.SendMessage(ctx, OutgoingMessage{SessionID: next.ID, Sender: models.SenderUser, Content: "hi", SentAt: base})
	require.NoError(t, err)
	assert.False(t, d.Duplicate)
}

// flakySaves fails the next `failures` SaveMessage calls.
type flakySaves struct {
	storage.Storage
	failures atomic.Int32
}

func (f *flakySaves) SaveMessage(ctx context.Context, msg *models.HandoffMessage) (bool, error) {
	if f.failures.Add(-1) >= 0 {
		return false, apperrors.Database("failed to save handoff message", errors.New("connection reset"))
	}
	return f.Storage.SaveMessage(ctx, msg)
}

func TestSendMessage_RetryAfterStoreFailureIsDelivered(t *testing.T) {
	flaky := &flakySaves{}
	f := newFixture(t, withStoreWrapper(func(s storage.Storage) storage.Storage {
		flaky.Storage = s
		return flaky
	}))
	ctx := context.Background()
	session := f.connect(t, "c1", "admin-1")
	msg := OutgoingMessage{
		SessionID: session.ID, Sender: models.SenderAdmin, AdminID: "admin-1",
		Content: "Xin chào", ClientMessageID: "m-1", SentAt: time.Now().UTC(),
	}

	flaky.failures.Store(1)
	_, err := f.svc.SendMessage(ctx, msg)
	require.True(t, apperrors.IsCode(err, apperrors.ErrCodeDatabase), "got %v", err)
	assert.Equal(t, 0, f.events.count(models.EventAdminMessage))

	retry, err := f.svc.SendMessage(ctx, msg)
	require.NoError(t, err)
	assert.False(t, retry.Duplicate)
	assert.Equal(t, 1, f.events.count(models.EventAdminMessage))

	history, err := f.svc.GetMessages(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "m-1", history[0].ClientMessageID)

	again, err := f.svc.SendMessage(ctx, msg)
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
}
