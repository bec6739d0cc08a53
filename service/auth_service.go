package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"github.com/spritz-hq/spritz/core"
	"github.com/spritz-hq/spritz/ports"
	"github.com/spritz-hq/spritz/safe"
)

// AuthService handles wallet-signature login and session lifecycle. Passkey
// ceremonies live in CeremonyService; both mint sessions the same way.
type AuthService struct {
	challenges ports.ChallengeStore
	users      ports.UserStore
	tokenizer  ports.Tokenizer
	events     ports.EventPublisher
	deriver    *safe.Deriver
	log        *slog.Logger

	challengeTTL time.Duration
}

// NewAuthService creates the wallet-login service.
func NewAuthService(
	challenges ports.ChallengeStore,
	users ports.UserStore,
	tokenizer ports.Tokenizer,
	events ports.EventPublisher,
	deriver *safe.Deriver,
	log *slog.Logger,
) *AuthService {
	if log == nil {
		log = slog.Default()
	}
	return &AuthService{
		challenges:   challenges,
		users:        users,
		tokenizer:    tokenizer,
		events:       events,
		deriver:      deriver,
		log:          log,
		challengeTTL: 5 * time.Minute,
	}
}

// CreateWalletChallenge issues a single-use nonce for an EOA login.
func (s *AuthService) CreateWalletChallenge(ctx context.Context, address, clientIP string) (string, error) {
	if !common.IsHexAddress(address) {
		return "", core.ErrInvalidAddress
	}

	nonce, err := generateChallenge()
	if err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	now := time.Now()
	challenge := &core.Challenge{
		Value:       nonce,
		Ceremony:    core.CeremonyWallet,
		UserAddress: common.HexToAddress(address).Hex(),
		ClientIP:    clientIP,
		IssuedAt:    now,
		ExpiresAt:   now.Add(s.challengeTTL),
	}
	if err := s.challenges.Save(ctx, challenge); err != nil {
		return "", fmt.Errorf("failed to save challenge: %w", err)
	}
	return nonce, nil
}

// WalletLogin consumes the challenge, verifies the EOA signature over the
// standard signed-message hash of the nonce, upserts the user and mints a
// session. An account that has enrolled a passkey is passkey-first: the EOA
// signature alone yields OutcomeNeedsPasskey and the client must complete an
// assertion ceremony instead.
func (s *AuthService) WalletLogin(ctx context.Context, challengeValue, signature, address string) (core.AuthOutcome, error) {
	if challengeValue == "" || signature == "" || address == "" {
		return nil, core.ErrMissingFields
	}
	if !common.IsHexAddress(address) {
		return nil, core.ErrInvalidAddress
	}
	expected := common.HexToAddress(address)

	challenge, err := s.challenges.Consume(ctx, challengeValue, core.CeremonyWallet)
	if err != nil {
		return nil, err
	}
	if challenge.UserAddress != "" && challenge.UserAddress != expected.Hex() {
		return nil, core.ErrInvalidSignature
	}

	if err := verifyPersonalSignature(challengeValue, signature, expected); err != nil {
		s.publishSecurity(ctx, ports.SecurityEvent{
			Kind:    ports.EventVerificationFailed,
			Address: expected.Hex(),
			Detail:  "wallet signature mismatch",
		})
		return nil, err
	}

	if existing, gerr := s.users.Get(ctx, expected.Hex()); gerr == nil &&
		existing.WalletType == core.WalletTypePasskey {
		return &core.OutcomeNeedsPasskey{WalletAddress: expected.Hex()}, nil
	}

	smartWallet, err := s.deriver.OwnerAddress(expected)
	if err != nil {
		return nil, fmt.Errorf("derive smart wallet: %w", err)
	}

	user, err := s.upsertLogin(ctx, expected.Hex(), core.WalletTypeWallet, smartWallet.Hex())
	if err != nil {
		return nil, err
	}

	token, err := s.MintSession(ctx, user.WalletAddress, core.WalletTypeWallet)
	if err != nil {
		return nil, err
	}
	return &core.OutcomeReady{User: user, AuthToken: token}, nil
}

// MintSession signs a fresh session token and publishes the login event.
func (s *AuthService) MintSession(ctx context.Context, address string, method core.WalletType) (string, error) {
	token, err := s.tokenizer.SessionToToken(&core.Session{
		ID:         uuid.New().String(),
		Address:    address,
		AuthMethod: method,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create session token: %w", err)
	}
	if err := s.events.PublishLogin(ctx, address, string(method)); err != nil {
		// The session is already minted; event delivery is best-effort.
		s.log.Warn("failed to publish login event", "address", address, "err", err)
	}
	return token, nil
}

// ValidateSession checks a bearer token and returns the session it carries.
func (s *AuthService) ValidateSession(ctx context.Context, token string) (*core.Session, error) {
	return s.tokenizer.TokenToSession(token)
}

// Logout publishes a logout event for the session's token id. Termination
// itself is expiry plus client-side cookie deletion.
func (s *AuthService) Logout(ctx context.Context, token string) error {
	session, err := s.tokenizer.TokenToSession(token)
	if err != nil {
		return err
	}
	if err := s.events.PublishLogout(ctx, session.Address, session.ID); err != nil {
		s.log.Warn("failed to publish logout event", "address", session.Address, "err", err)
	}
	return nil
}

// upsertLogin records a login on the user row, self-healing wallet type and
// smart wallet address. A stored address that disagrees with the fresh
// derivation is corrected in place and reported as a migration, never left
// stale and never silently rewritten.
func (s *AuthService) upsertLogin(ctx context.Context, address string, method core.WalletType, smartWallet string) (*core.User, error) {
	now := time.Now()
	user, err := s.users.Get(ctx, address)
	if err == core.ErrUserNotFound {
		user = &core.User{
			WalletAddress: address,
			WalletType:    method,
			FirstLogin:    now,
		}
	} else if err != nil {
		return nil, err
	}

	if user.SmartWalletAddress != "" && user.SmartWalletAddress != smartWallet {
		s.log.Warn("stored smart wallet address is stale, migrating",
			"address", address, "stored", user.SmartWalletAddress, "derived", smartWallet)
		s.publishSecurity(ctx, ports.SecurityEvent{
			Kind:    ports.EventAddressMigrated,
			Address: address,
			Detail:  fmt.Sprintf("stored %s replaced by %s", user.SmartWalletAddress, smartWallet),
		})
	}
	user.SmartWalletAddress = smartWallet
	user.WalletType = method
	user.LoginCount++
	user.LastLogin = now

	if err := s.users.Upsert(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}
	return user, nil
}

func (s *AuthService) publishSecurity(ctx context.Context, event ports.SecurityEvent) {
	if err := s.events.PublishSecurity(ctx, event); err != nil {
		s.log.Warn("failed to publish security event", "kind", event.Kind, "err", err)
	}
}

// verifyPersonalSignature recovers the signer of an eth_sign-style signature
// over the nonce and compares it to the expected address.
func verifyPersonalSignature(nonce, signature string, expected common.Address) error {
	sig, err := hexutil.Decode(signature)
	if err != nil || len(sig) != 65 {
		return core.ErrInvalidSignature
	}
	// Normalize the recovery id: wallets return 27/28.
	if sig[64] >= 27 {
		sig = append([]byte(nil), sig...)
		sig[64] -= 27
	}

	digest := crypto.Keccak256(
		[]byte(fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(nonce), nonce)),
	)
	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return core.ErrInvalidSignature
	}
	if crypto.PubkeyToAddress(*pub) != expected {
		return core.ErrInvalidSignature
	}
	return nil
}

// generateChallenge returns a hex-encoded 32-byte random value.
func generateChallenge() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
