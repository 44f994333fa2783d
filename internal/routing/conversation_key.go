package routing

import (
	"sync"

	"github.com/soyeahso/smsforms/internal/domain"
)

// Conversation scopes.
const (
	ScopePerSender = "per-sender"
	ScopePerChat   = "per-chat"
)

// ConversationKeyFor builds the conversation key of an inbound message.
//
// Scopes:
//   - "per-sender": every participant of a group chat has their own
//     conversation (default)
//   - "per-chat": a group chat is one conversation shared by all members
//
// Direct messages are keyed by chat alone under either scope, since the
// chat and the sender are the same party.
func ConversationKeyFor(msg domain.InboundMessage, scope string) domain.ConversationKey {
	key := domain.ConversationKey{
		ChannelID: msg.ChannelID,
		ChatID:    msg.ChatID,
	}
	if key.ChatID == "" {
		key.ChatID = msg.From
	}
	if msg.ChatType == domain.ChatTypeGroup && scope != ScopePerChat {
		key.SenderID = msg.From
	}
	return key
}

// keyedMutex serializes work per key. Entries are dropped once no
// goroutine holds or waits for them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refLock)}
}

// Lock blocks until key is free and returns the matching unlock.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
