package core

import (
	"errors"
	"fmt"
)

var (
	// Input validation
	ErrMissingFields = errors.New("missing required fields")

	// Challenge lifecycle
	ErrChallengeNotFound      = errors.New("challenge not found")
	ErrChallengeExpired       = errors.New("challenge has expired")
	ErrChallengeAlreadyUsed   = errors.New("challenge has already been used")
	ErrChallengeWrongCeremony = errors.New("challenge issued for a different ceremony")

	// Credentials
	ErrCredentialNotFound  = errors.New("credential not found")
	ErrDuplicateCredential = errors.New("credential already registered")
	ErrCounterRegression   = errors.New("signature counter regression")

	// Verification
	ErrVerificationFailed = errors.New("assertion verification failed")
	ErrInvalidSignature   = errors.New("invalid signature")
	ErrInvalidAddress     = errors.New("invalid ethereum address")

	// Sessions
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token has expired")

	// Rescue
	ErrUserNotFound       = errors.New("user not found")
	ErrRescueRateLimited  = errors.New("too many rescue attempts")
	ErrRescueNotAvailable = errors.New("rescue is not available for this credential")

	// Vault
	ErrNotAnOwner     = errors.New("signer is not an owner of the vault")
	ErrVaultNotFound  = errors.New("vault contract not deployed on this network")
	ErrMalformedBytes = errors.New("malformed signature bytes")
	ErrChainRead      = errors.New("chain read failed")

	// Stores
	ErrStoreOperationFailed = errors.New("store operation failed")
)

// InsufficientSignaturesError reports a threshold miss with enough detail for
// the caller to prompt the remaining signers.
type InsufficientSignaturesError struct {
	Have int
	Need int
}

func (e *InsufficientSignaturesError) Error() string {
	return fmt.Sprintf("insufficient signatures: have %d, need %d", e.Have, e.Need)
}
