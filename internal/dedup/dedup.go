// Package dedup suppresses repeated handoff messages.
//
// A message is identified by its conversation, sender, content and the 5s
// time bucket it falls in. This is a content and time heuristic, not a
// delivery-id ledger: two identical messages that straddle a bucket boundary
// are both delivered, and two deliberately repeated messages inside one bucket
// collapse into one.
package dedup

import (
	"context"
	"sync"
	"time"

	"handoffdesk/backend/internal/config"
	"handoffdesk/backend/internal/models"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Suppressor interface {
	// ShouldSuppress returns true if the fingerprint was already recorded,
	// otherwise records it and returns false.
	ShouldSuppress(ctx context.Context, conversationID string, sender models.SenderType, content string, ts time.Time) (bool, error)
	// Release removes a fingerprint recorded by ShouldSuppress, so a message
	// that could not be stored may be retried.
	Release(ctx context.Context, conversationID string, sender models.SenderType, content string, ts time.Time) error
	// Forget drops the state kept for a conversation.
	Forget(conversationID string)
}

// Fingerprint is the key under which a message is remembered.
func Fingerprint(conversationID string, sender models.SenderType, content string, ts time.Time) string {
	return models.MessageKey(conversationID, sender, content, ts, config.DedupBucket)
}

// fingerprintSet keeps insertion order so trimming keeps the newest entries.
type fingerprintSet struct {
	order []string
	seen  map[string]struct{}
}

func (f *fingerprintSet) add(fp string) {
	f.order = append(f.order, fp)
	f.seen[fp] = struct{}{}
	if len(f.order) > config.DedupMaxEntries {
		drop := f.order[:len(f.order)-config.DedupTrimTo]
		for _, old := range drop {
			delete(f.seen, old)
		}
		kept := make([]string, config.DedupTrimTo)
		copy(kept, f.order[len(f.order)-config.DedupTrimTo:])
		f.order = kept
	}
}

func (f *fingerprintSet) remove(fp string) {
	if _, ok := f.seen[fp]; !ok {
		return
	}
	delete(f.seen, fp)
	for i, v := range f.order {
		if v == fp {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
}

// Memory is a process-local Suppressor. Conversations are held in an LRU so
// idle ones are evicted.
type Memory struct {
	mu     sync.Mutex
	sets   *lru.Cache[string, *fingerprintSet]
	logger zerolog.Logger
}

func NewMemory(maxConversations int) *Memory {
	if maxConversations <= 0 {
		maxConversations = config.DedupConversations
	}
	m := &Memory{logger: log.With().Str("component", "dedup").Logger()}
	cache, _ := lru.NewWithEvict[string, *fingerprintSet](maxConversations, m.handleEviction)
	m.sets = cache
	return m
}

func (m *Memory) handleEviction(conversationID string, set *fingerprintSet) {
	m.logger.Debug().Str("conversationId", conversationID).Int("entries", len(set.order)).Msg("evicted dedup set")
}

func (m *Memory) ShouldSuppress(_ context.Context, conversationID string, sender models.SenderType, content string, ts time.Time) (bool, error) {
	fp := Fingerprint(conversationID, sender, content, ts)

	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.sets.Get(conversationID)
	if !ok {
		set = &fingerprintSet{seen: make(map[string]struct{})}
		m.sets.Add(conversationID, set)
	}
	if _, dup := set.seen[fp]; dup {
		return true, nil
	}
	set.add(fp)
	return false, nil
}

func (m *Memory) Release(_ context.Context, conversationID string, sender models.SenderType, content string, ts time.Time) error {
	fp := Fingerprint(conversationID, sender, content, ts)

	m.mu.Lock()
	defer m.mu.Unlock()
	if set, ok := m.sets.Peek(conversationID); ok {
		set.remove(fp)
	}
	return nil
}

func (m *Memory) Forget(conversationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets.Remove(conversationID)
}

// Len is the number of fingerprints held for a conversation.
func (m *Memory) Len(conversationID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if set, ok := m.sets.Peek(conversationID); ok {
		return len(set.order)
	}
	return 0
}

// KeyClaimer atomically records a key with an expiry.
type KeyClaimer interface {
	ClaimKey(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseKey(ctx context.Context, key string) error
}

// Redis shares fingerprints between instances through SET NX.
type Redis struct {
	claimer KeyClaimer
	ttl     time.Duration
}

func NewRedis(claimer KeyClaimer) *Redis {
	return &Redis{claimer: claimer, ttl: 2 * config.DedupBucket}
}

func (r *Redis) ShouldSuppress(ctx context.Context, conversationID string, sender models.SenderType, content string, ts time.Time) (bool, error) {
	claimed, err := r.claimer.ClaimKey(ctx, Fingerprint(conversationID, sender, content, ts), r.ttl)
	if err != nil {
		return false, err
	}
	return !claimed, nil
}

func (r *Redis) Release(ctx context.Context, conversationID string, sender models.SenderType, content string, ts time.Time) error {
	return r.claimer.ReleaseKey(ctx, Fingerprint(conversationID, sender, content, ts))
}

// Forget is a no-op; Redis keys expire on their own.
func (r *Redis) Forget(string) {}
