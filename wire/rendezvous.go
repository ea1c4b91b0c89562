package wire

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"sync"
	"time"
)

// Rendezvous maps a short join code to a transport endpoint and session
// key, the opaque NAT-traversal/lookup service spec.md §1 excludes from
// scope (SPEC_FULL.md §4.7.1). Loom's core only ever consumes this
// interface; the real implementation (STUN/TURN, a DHT, a relay) lives
// outside this module.
type Rendezvous interface {
	// Register publishes endpoint under a freshly minted join code that
	// resolves to it and to sessionKey until Close is called or the code
	// expires (spec §4.7: "Join codes are single-session and expire when
	// the share is closed").
	Register(ctx context.Context, endpoint string, sessionKey []byte) (joinCode string, err error)

	// Resolve looks up a join code, returning the endpoint and session key
	// it was registered with.
	Resolve(ctx context.Context, joinCode string) (endpoint string, sessionKey []byte, err error)

	// Close invalidates joinCode immediately, ending its session.
	Close(ctx context.Context, joinCode string) error
}

// joinCodeEncoding's 32-character alphabet avoids the visually ambiguous
// characters 0/O and 1/I for human-shareable codes (spec §3 glossary:
// "Short, human-shareable token").
var joinCodeEncoding = base32.NewEncoding("ABCDEFGHJKLMNPQRSTUVWXYZ23456789").WithPadding(base32.NoPadding)

// NewJoinCode generates a random human-shareable join code.
func NewJoinCode() (string, error) {
	buf := make([]byte, 5)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return joinCodeEncoding.EncodeToString(buf), nil
}

type memoryEntry struct {
	endpoint   string
	sessionKey []byte
	expiresAt  time.Time
}

// MemoryRendezvous is an in-process fake satisfying Rendezvous, used by
// tests and single-host demos in place of a real NAT-traversal service.
type MemoryRendezvous struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]memoryEntry
}

// NewMemoryRendezvous constructs a fake rendezvous service whose codes
// expire after ttl if never explicitly Closed.
func NewMemoryRendezvous(ttl time.Duration) *MemoryRendezvous {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &MemoryRendezvous{ttl: ttl, entries: make(map[string]memoryEntry)}
}

func (m *MemoryRendezvous) Register(ctx context.Context, endpoint string, sessionKey []byte) (string, error) {
	code, err := NewJoinCode()
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[code] = memoryEntry{
		endpoint:   endpoint,
		sessionKey: append([]byte(nil), sessionKey...),
		expiresAt:  time.Now().Add(m.ttl),
	}
	return code, nil
}

func (m *MemoryRendezvous) Resolve(ctx context.Context, joinCode string) (string, []byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[joinCode]
	if !ok {
		return "", nil, fmt.Errorf("wire: unknown or expired join code")
	}
	if time.Now().After(e.expiresAt) {
		delete(m.entries, joinCode)
		return "", nil, fmt.Errorf("wire: join code expired")
	}
	return e.endpoint, e.sessionKey, nil
}

func (m *MemoryRendezvous) Close(ctx context.Context, joinCode string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, joinCode)
	return nil
}
