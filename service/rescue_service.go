package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spritz-hq/spritz/core"
	"github.com/spritz-hq/spritz/ports"
	"github.com/spritz-hq/spritz/safe"
)

const (
	// Hourly issuance ceilings. Rescue is a defense-in-depth heuristic, so
	// enforcement under races may overshoot by one.
	DefaultRescueAddressCeiling = 3
	DefaultRescueIPCeiling      = 10

	rescueWindow = time.Hour
	rescueTTL    = 10 * time.Minute
)

// RescueService recovers orphaned accounts: credentials that completed a
// client-side ceremony but whose registry row was never persisted. It never
// re-registers a credential by itself; it only issues a rate-limited,
// single-use grant that the client must explicitly redeem.
type RescueService struct {
	challenges ports.ChallengeStore
	users      ports.UserStore
	rates      ports.RateCounter
	tokenizer  ports.Tokenizer
	events     ports.EventPublisher
	log        *slog.Logger

	addressCeiling int
	ipCeiling      int
}

// NewRescueService creates the rescue flow with the given hourly ceilings.
// Non-positive ceilings fall back to the defaults.
func NewRescueService(
	challenges ports.ChallengeStore,
	users ports.UserStore,
	rates ports.RateCounter,
	tokenizer ports.Tokenizer,
	events ports.EventPublisher,
	log *slog.Logger,
	addressCeiling, ipCeiling int,
) *RescueService {
	if log == nil {
		log = slog.Default()
	}
	if addressCeiling <= 0 {
		addressCeiling = DefaultRescueAddressCeiling
	}
	if ipCeiling <= 0 {
		ipCeiling = DefaultRescueIPCeiling
	}
	return &RescueService{
		challenges:     challenges,
		users:          users,
		rates:          rates,
		tokenizer:      tokenizer,
		events:         events,
		log:            log,
		addressCeiling: addressCeiling,
		ipCeiling:      ipCeiling,
	}
}

// Offer checks whether an unknown credential id corresponds to an orphaned
// account and, if so, issues a rescue grant. The candidate address is an
// existence probe only; re-linking re-derives the real address from the
// credential's public key.
func (s *RescueService) Offer(ctx context.Context, credentialID, clientIP string) (core.AuthOutcome, error) {
	if credentialID == "" {
		return nil, core.ErrMissingFields
	}
	candidate := safe.RescueCandidateAddress(credentialID)

	user, err := s.users.Get(ctx, candidate.Hex())
	if err == core.ErrUserNotFound {
		// Not an orphan, just an unknown credential.
		return nil, core.ErrCredentialNotFound
	} else if err != nil {
		return nil, err
	}

	// The response deliberately does not say which ceiling was hit.
	addrCount, err := s.rates.Bump(ctx, "rescue:addr:"+strings.ToLower(candidate.Hex()), rescueWindow)
	if err != nil {
		return nil, fmt.Errorf("bump rescue counter: %w", err)
	}
	ipCount, err := s.rates.Bump(ctx, "rescue:ip:"+clientIP, rescueWindow)
	if err != nil {
		return nil, fmt.Errorf("bump rescue counter: %w", err)
	}
	if addrCount > s.addressCeiling || ipCount > s.ipCeiling {
		s.log.Warn("rescue issuance refused by ceiling",
			"address", candidate.Hex(), "client_ip", clientIP,
			"addr_count", addrCount, "ip_count", ipCount)
		return nil, core.ErrRescueRateLimited
	}

	value, err := generateChallenge()
	if err != nil {
		return nil, fmt.Errorf("failed to generate rescue challenge: %w", err)
	}
	now := time.Now()
	if err := s.challenges.Save(ctx, &core.Challenge{
		Value:       value,
		Ceremony:    core.CeremonyRescue,
		UserAddress: candidate.Hex(),
		ClientIP:    clientIP,
		IssuedAt:    now,
		ExpiresAt:   now.Add(rescueTTL),
	}); err != nil {
		return nil, fmt.Errorf("save rescue challenge: %w", err)
	}

	token, err := s.tokenizer.RescueToToken(candidate.Hex(), value)
	if err != nil {
		return nil, fmt.Errorf("sign rescue token: %w", err)
	}

	if err := s.events.PublishSecurity(ctx, ports.SecurityEvent{
		Kind:         ports.EventRescueIssued,
		Address:      candidate.Hex(),
		CredentialID: credentialID,
		ClientIP:     clientIP,
	}); err != nil {
		s.log.Warn("failed to publish rescue event", "address", candidate.Hex(), "err", err)
	}

	return &core.OutcomeRescueAvailable{
		RescueAddress:             candidate.Hex(),
		RescueToken:               token,
		RequiresEmailVerification: user.Email != "",
		MaskedEmail:               maskEmail(user.Email),
	}, nil
}

// Authorize redeems a rescue token, consuming its bound single-use challenge,
// and returns the address the passkey may be re-linked to.
func (s *RescueService) Authorize(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", core.ErrMissingFields
	}
	address, challengeValue, err := s.tokenizer.TokenToRescue(token)
	if err != nil {
		return "", err
	}
	challenge, err := s.challenges.Consume(ctx, challengeValue, core.CeremonyRescue)
	if err != nil {
		return "", err
	}
	if challenge.UserAddress != address {
		return "", core.ErrRescueNotAvailable
	}
	return address, nil
}

// maskEmail keeps the first character of the local part and the domain.
func maskEmail(email string) string {
	if email == "" {
		return ""
	}
	at := strings.IndexByte(email, '@')
	if at <= 0 {
		return "***"
	}
	return email[:1] + "***" + email[at:]
}
