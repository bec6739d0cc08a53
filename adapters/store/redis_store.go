package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/spritz-hq/spritz/core"
)

const (
	challengePrefix  = "spritz:challenge:"
	credentialPrefix = "spritz:credential:"
	credOwnerPrefix  = "spritz:credowner:"
	userPrefix       = "spritz:user:"
	ratePrefix       = "spritz:rate:"

	// Used and expired rows stick around past expiry so a late consume can be
	// classified instead of reported as not-found.
	diagnosticGrace = time.Hour
)

// consumeScript is the single atomic challenge transition: used=false to
// used=true, only for the right ceremony and only while unexpired. Returning
// false on any miss lets the caller classify with a plain read; two
// concurrent consumers can never both see success.
var consumeScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then
	return false
end
local row = cjson.decode(raw)
if row.used or row.ceremony ~= ARGV[1] or row.expires_unix <= tonumber(ARGV[2]) then
	return false
end
row.used = true
row.consumed_unix = tonumber(ARGV[2])
local updated = cjson.encode(row)
redis.call('SET', KEYS[1], updated, 'KEEPTTL')
return updated
`)

// bumpScript increments a rate counter and attaches the window TTL in the
// same script, so a crash can never strand a counter without an expiry.
var bumpScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return count
`)

// challengeRow is the redis representation of a challenge. Timestamps are
// unix seconds so the consume script can compare them.
type challengeRow struct {
	Value        string `json:"value"`
	Ceremony     string `json:"ceremony"`
	UserAddress  string `json:"user_address,omitempty"`
	SessionData  []byte `json:"session_data,omitempty"`
	ClientIP     string `json:"client_ip,omitempty"`
	IssuedUnix   int64  `json:"issued_unix"`
	ExpiresUnix  int64  `json:"expires_unix"`
	Used         bool   `json:"used"`
	ConsumedUnix int64  `json:"consumed_unix"`
}

func toRow(c *core.Challenge) *challengeRow {
	row := &challengeRow{
		Value:       c.Value,
		Ceremony:    string(c.Ceremony),
		UserAddress: c.UserAddress,
		SessionData: c.SessionData,
		ClientIP:    c.ClientIP,
		IssuedUnix:  c.IssuedAt.Unix(),
		ExpiresUnix: c.ExpiresAt.Unix(),
		Used:        c.Used,
	}
	if c.ConsumedAt != nil {
		row.ConsumedUnix = c.ConsumedAt.Unix()
	}
	return row
}

func (r *challengeRow) toChallenge() *core.Challenge {
	c := &core.Challenge{
		Value:       r.Value,
		Ceremony:    core.CeremonyType(r.Ceremony),
		UserAddress: r.UserAddress,
		SessionData: r.SessionData,
		ClientIP:    r.ClientIP,
		IssuedAt:    time.Unix(r.IssuedUnix, 0),
		ExpiresAt:   time.Unix(r.ExpiresUnix, 0),
		Used:        r.Used,
	}
	if r.ConsumedUnix > 0 {
		t := time.Unix(r.ConsumedUnix, 0)
		c.ConsumedAt = &t
	}
	return c
}

// RedisStore implements the store ports on Redis.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a store sharing an existing Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Save stores a challenge row. Redis key TTLs take the place of the
// opportunistic sweep: used and expired rows evict themselves after the
// diagnostic grace period.
func (s *RedisStore) Save(ctx context.Context, challenge *core.Challenge) error {
	payload, err := json.Marshal(toRow(challenge))
	if err != nil {
		return fmt.Errorf("marshal challenge: %w", err)
	}
	ttl := time.Until(challenge.ExpiresAt) + diagnosticGrace
	if err := s.client.Set(ctx, challengePrefix+challenge.Value, payload, ttl).Err(); err != nil {
		return fmt.Errorf("save challenge: %w", core.ErrStoreOperationFailed)
	}
	return nil
}

// Consume runs the atomic transition script, then classifies any miss with a
// diagnostic lookup that ignores the used/expiry predicate.
func (s *RedisStore) Consume(ctx context.Context, value string, ceremony core.CeremonyType) (*core.Challenge, error) {
	now := time.Now().Unix()
	res, err := consumeScript.Run(ctx, s.client,
		[]string{challengePrefix + value}, string(ceremony), now).Result()
	if err == nil {
		raw, ok := res.(string)
		if !ok {
			return nil, core.ErrStoreOperationFailed
		}
		var row challengeRow
		if err := json.Unmarshal([]byte(raw), &row); err != nil {
			return nil, fmt.Errorf("decode challenge: %w", err)
		}
		return row.toChallenge(), nil
	}
	if err != redis.Nil {
		return nil, fmt.Errorf("consume challenge: %w", core.ErrStoreOperationFailed)
	}

	// Script declined. Classify from the raw row.
	raw, err := s.client.Get(ctx, challengePrefix+value).Result()
	if err == redis.Nil {
		return nil, core.ErrChallengeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("classify challenge: %w", core.ErrStoreOperationFailed)
	}
	var row challengeRow
	if err := json.Unmarshal([]byte(raw), &row); err != nil {
		return nil, fmt.Errorf("decode challenge: %w", err)
	}
	switch {
	case row.Used:
		return nil, core.ErrChallengeAlreadyUsed
	case row.Ceremony != string(ceremony):
		return nil, core.ErrChallengeWrongCeremony
	case row.ExpiresUnix <= now:
		return nil, core.ErrChallengeExpired
	default:
		return nil, core.ErrChallengeNotFound
	}
}

// Register stores a credential, using SETNX for duplicate-id rejection.
func (s *RedisStore) Register(ctx context.Context, cred *core.Credential) error {
	payload, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("marshal credential: %w", err)
	}
	ok, err := s.client.SetNX(ctx, credentialPrefix+cred.ID, payload, 0).Result()
	if err != nil {
		return fmt.Errorf("register credential: %w", core.ErrStoreOperationFailed)
	}
	if !ok {
		return core.ErrDuplicateCredential
	}
	if err := s.client.SAdd(ctx, credOwnerPrefix+cred.UserAddress, cred.ID).Err(); err != nil {
		return fmt.Errorf("index credential owner: %w", core.ErrStoreOperationFailed)
	}
	return nil
}

// Find returns a credential by id.
func (s *RedisStore) Find(ctx context.Context, credentialID string) (*core.Credential, error) {
	raw, err := s.client.Get(ctx, credentialPrefix+credentialID).Result()
	if err == redis.Nil {
		return nil, core.ErrCredentialNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find credential: %w", core.ErrStoreOperationFailed)
	}
	var cred core.Credential
	if err := json.Unmarshal([]byte(raw), &cred); err != nil {
		return nil, fmt.Errorf("decode credential: %w", err)
	}
	return &cred, nil
}

// ListForOwner returns all credentials indexed under an owner address.
func (s *RedisStore) ListForOwner(ctx context.Context, ownerAddress string) ([]*core.Credential, error) {
	ids, err := s.client.SMembers(ctx, credOwnerPrefix+ownerAddress).Result()
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", core.ErrStoreOperationFailed)
	}
	out := make([]*core.Credential, 0, len(ids))
	for _, id := range ids {
		cred, err := s.Find(ctx, id)
		if err == core.ErrCredentialNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, cred)
	}
	return out, nil
}

// BumpCounter rewrites the credential with the validated counter and a fresh
// last_used_at stamp.
func (s *RedisStore) BumpCounter(ctx context.Context, credentialID string, counter uint32) error {
	cred, err := s.Find(ctx, credentialID)
	if err != nil {
		return err
	}
	now := time.Now()
	cred.Counter = counter
	cred.LastUsedAt = &now
	payload, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("marshal credential: %w", err)
	}
	if err := s.client.Set(ctx, credentialPrefix+credentialID, payload, 0).Err(); err != nil {
		return fmt.Errorf("bump counter: %w", core.ErrStoreOperationFailed)
	}
	return nil
}

// Get returns a user row by wallet address.
func (s *RedisStore) Get(ctx context.Context, walletAddress string) (*core.User, error) {
	raw, err := s.client.Get(ctx, userPrefix+walletAddress).Result()
	if err == redis.Nil {
		return nil, core.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", core.ErrStoreOperationFailed)
	}
	var user core.User
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		return nil, fmt.Errorf("decode user: %w", err)
	}
	return &user, nil
}

// Upsert inserts or replaces a user row.
func (s *RedisStore) Upsert(ctx context.Context, user *core.User) error {
	payload, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}
	if err := s.client.Set(ctx, userPrefix+user.WalletAddress, payload, 0).Err(); err != nil {
		return fmt.Errorf("upsert user: %w", core.ErrStoreOperationFailed)
	}
	return nil
}

// Bump increments a fixed-window rate counter. The window TTL is attached on
// first increment only, so concurrent bumps share one window.
func (s *RedisStore) Bump(ctx context.Context, key string, window time.Duration) (int, error) {
	count, err := bumpScript.Run(ctx, s.client,
		[]string{ratePrefix + key}, window.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("bump rate counter: %w", core.ErrStoreOperationFailed)
	}
	return int(count), nil
}
