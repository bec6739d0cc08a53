package ports

import (
	"context"
	"time"

	"github.com/spritz-hq/spritz/core"
)

// ChallengeStore persists single-use challenges. Consume is the only state
// transition: it must be atomic, so that two concurrent attempts on the same
// challenge yield exactly one success.
type ChallengeStore interface {
	// Save stores a fresh challenge row. Implementations may opportunistically
	// delete rows that are already used or expired before inserting.
	Save(ctx context.Context, challenge *core.Challenge) error

	// Consume atomically flips used=false to used=true for an unexpired
	// challenge of the given ceremony and returns the updated row. On miss it
	// classifies the failure as ErrChallengeAlreadyUsed, ErrChallengeExpired,
	// ErrChallengeWrongCeremony or ErrChallengeNotFound.
	Consume(ctx context.Context, value string, ceremony core.CeremonyType) (*core.Challenge, error)
}

// CredentialStore is the durable credential registry.
type CredentialStore interface {
	// Register stores a new credential. Returns ErrDuplicateCredential if the
	// id already exists.
	Register(ctx context.Context, cred *core.Credential) error

	// Find returns the credential or ErrCredentialNotFound.
	Find(ctx context.Context, credentialID string) (*core.Credential, error)

	// ListForOwner returns all credentials registered for the owner address.
	ListForOwner(ctx context.Context, ownerAddress string) ([]*core.Credential, error)

	// BumpCounter records a verified assertion: stores the new counter and
	// stamps last_used_at. The caller has already validated the counter.
	BumpCounter(ctx context.Context, credentialID string, counter uint32) error
}

// UserStore is the identity row storage.
type UserStore interface {
	Get(ctx context.Context, walletAddress string) (*core.User, error)
	Upsert(ctx context.Context, user *core.User) error
}

// RateCounter counts events within a rolling window, used for rescue ceilings.
type RateCounter interface {
	// Bump increments the counter for key and returns the count within the
	// current window, including this bump.
	Bump(ctx context.Context, key string, window time.Duration) (int, error)
}
