package store

import (
	"context"
	"sync"
	"time"

	"github.com/spritz-hq/spritz/core"
)

// MemoryStore is an in-memory implementation of the store ports. It is
// primarily intended for tests; consume atomicity is provided by the mutex.
type MemoryStore struct {
	mu          sync.Mutex
	challenges  map[string]*core.Challenge
	credentials map[string]*core.Credential
	users       map[string]*core.User
	counters    map[string]*windowCounter
}

type windowCounter struct {
	count   int
	resetAt time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		challenges:  make(map[string]*core.Challenge),
		credentials: make(map[string]*core.Credential),
		users:       make(map[string]*core.User),
		counters:    make(map[string]*windowCounter),
	}
}

// Save stores a challenge row, sweeping used and expired rows first.
func (s *MemoryStore) Save(ctx context.Context, challenge *core.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for value, row := range s.challenges {
		if row.Used || row.Expired(now) {
			delete(s.challenges, value)
		}
	}

	cp := *challenge
	s.challenges[challenge.Value] = &cp
	return nil
}

// Consume flips used=false to used=true exactly once while holding the lock,
// classifying every miss.
func (s *MemoryStore) Consume(ctx context.Context, value string, ceremony core.CeremonyType) (*core.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.challenges[value]
	if !ok {
		return nil, core.ErrChallengeNotFound
	}
	if row.Used {
		return nil, core.ErrChallengeAlreadyUsed
	}
	if row.Ceremony != ceremony {
		return nil, core.ErrChallengeWrongCeremony
	}
	now := time.Now()
	if row.Expired(now) {
		return nil, core.ErrChallengeExpired
	}

	row.Used = true
	row.ConsumedAt = &now
	cp := *row
	return &cp, nil
}

// Register stores a credential, rejecting duplicate ids.
func (s *MemoryStore) Register(ctx context.Context, cred *core.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.credentials[cred.ID]; ok {
		return core.ErrDuplicateCredential
	}
	cp := *cred
	s.credentials[cred.ID] = &cp
	return nil
}

// Find returns a credential by id.
func (s *MemoryStore) Find(ctx context.Context, credentialID string) (*core.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.credentials[credentialID]
	if !ok {
		return nil, core.ErrCredentialNotFound
	}
	cp := *cred
	return &cp, nil
}

// ListForOwner returns all credentials registered for an owner address.
func (s *MemoryStore) ListForOwner(ctx context.Context, ownerAddress string) ([]*core.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*core.Credential
	for _, cred := range s.credentials {
		if cred.UserAddress == ownerAddress {
			cp := *cred
			out = append(out, &cp)
		}
	}
	return out, nil
}

// BumpCounter stores a validated counter and stamps last_used_at.
func (s *MemoryStore) BumpCounter(ctx context.Context, credentialID string, counter uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.credentials[credentialID]
	if !ok {
		return core.ErrCredentialNotFound
	}
	now := time.Now()
	cred.Counter = counter
	cred.LastUsedAt = &now
	return nil
}

// Get returns a user row by wallet address.
func (s *MemoryStore) Get(ctx context.Context, walletAddress string) (*core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[walletAddress]
	if !ok {
		return nil, core.ErrUserNotFound
	}
	cp := *user
	return &cp, nil
}

// Upsert inserts or replaces a user row.
func (s *MemoryStore) Upsert(ctx context.Context, user *core.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *user
	s.users[user.WalletAddress] = &cp
	return nil
}

// Bump increments a rate counter within its window.
func (s *MemoryStore) Bump(ctx context.Context, key string, window time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	c, ok := s.counters[key]
	if !ok || now.After(c.resetAt) {
		c = &windowCounter{resetAt: now.Add(window)}
		s.counters[key] = c
	}
	c.count++
	return c.count, nil
}

// Clear resets all state, useful for resetting between tests.
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.challenges = make(map[string]*core.Challenge)
	s.credentials = make(map[string]*core.Credential)
	s.users = make(map[string]*core.User)
	s.counters = make(map[string]*windowCounter)
}
