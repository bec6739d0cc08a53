package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/protocol/webauthncose"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/spritz-hq/spritz/core"
	"github.com/spritz-hq/spritz/ports"
	"github.com/spritz-hq/spritz/safe"
)

// ceremonyVerifier is the slice of *webauthn.WebAuthn the finish steps use,
// extracted so tests can substitute the cryptographic verification.
type ceremonyVerifier interface {
	CreateCredential(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error)
	ValidateLogin(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (*webauthn.Credential, error)
	ValidateDiscoverableLogin(handler webauthn.DiscoverableUserHandler, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (*webauthn.Credential, error)
}

// CeremonyService runs WebAuthn registration and authentication ceremonies.
// The WebAuthn session produced at begin is persisted inside the single-use
// challenge row, so finish is challenge consumption plus verification against
// the recovered session.
type CeremonyService struct {
	wa          *webauthn.WebAuthn
	verifier    ceremonyVerifier
	challenges  ports.ChallengeStore
	credentials ports.CredentialStore
	users       ports.UserStore
	events      ports.EventPublisher
	deriver     *safe.Deriver
	sessions    *AuthService
	rescue      *RescueService
	log         *slog.Logger

	challengeTTL time.Duration
}

// NewCeremonyService wires the ceremony engine. The *webauthn.WebAuthn
// instance serves as both option generator and verifier.
func NewCeremonyService(
	wa *webauthn.WebAuthn,
	challenges ports.ChallengeStore,
	credentials ports.CredentialStore,
	users ports.UserStore,
	events ports.EventPublisher,
	deriver *safe.Deriver,
	sessions *AuthService,
	rescue *RescueService,
	log *slog.Logger,
) *CeremonyService {
	if log == nil {
		log = slog.Default()
	}
	return &CeremonyService{
		wa:           wa,
		verifier:     wa,
		challenges:   challenges,
		credentials:  credentials,
		users:        users,
		events:       events,
		deriver:      deriver,
		sessions:     sessions,
		rescue:       rescue,
		log:          log,
		challengeTTL: 5 * time.Minute,
	}
}

// BeginRegistration issues registration options. ownerAddress binds the new
// credential to an existing identity, so the caller must have proven control
// of it first: transport only passes an address taken from an authenticated
// session, and rescue re-links go through BeginRescueRegistration. An empty
// ownerAddress is the fresh-signup path where the identity address is derived
// from the public key at finish.
func (s *CeremonyService) BeginRegistration(ctx context.Context, ownerAddress, clientIP string) (*protocol.CredentialCreation, error) {
	if ownerAddress != "" && !common.IsHexAddress(ownerAddress) {
		return nil, core.ErrInvalidAddress
	}
	user := newCeremonyUser(ownerAddress, nil)

	var exclusions []protocol.CredentialDescriptor
	if ownerAddress != "" {
		existing, err := s.credentials.ListForOwner(ctx, ownerAddress)
		if err != nil {
			return nil, fmt.Errorf("list credentials: %w", err)
		}
		for _, cred := range existing {
			id, err := base64.RawURLEncoding.DecodeString(cred.ID)
			if err != nil {
				continue
			}
			exclusions = append(exclusions, protocol.CredentialDescriptor{
				Type:         protocol.PublicKeyCredentialType,
				CredentialID: id,
				Transport:    toTransports(cred.Transports),
			})
		}
	}

	options, session, err := s.wa.BeginRegistration(user, webauthn.WithExclusions(exclusions))
	if err != nil {
		return nil, fmt.Errorf("begin registration: %w", err)
	}

	if err := s.saveCeremonyChallenge(ctx, session, core.CeremonyRegistration, ownerAddress, clientIP); err != nil {
		return nil, err
	}
	return options, nil
}

// BeginRescueRegistration redeems a rescue grant and issues registration
// options bound to the rescued address. Redeeming here is what makes the
// grant single use: a second begin with the same token fails at consumption.
func (s *CeremonyService) BeginRescueRegistration(ctx context.Context, rescueToken, clientIP string) (*protocol.CredentialCreation, error) {
	address, err := s.rescue.Authorize(ctx, rescueToken)
	if err != nil {
		return nil, err
	}
	return s.BeginRegistration(ctx, address, clientIP)
}

// FinishRegistration consumes the challenge, verifies the attestation, stores
// the credential and derives the smart wallet address from the public key.
// The derivation here is the canonical point of truth for the account's
// address; skipping it is what produces orphaned credentials.
func (s *CeremonyService) FinishRegistration(ctx context.Context, response *protocol.ParsedCredentialCreationData, clientIP string) (*core.OutcomeReady, error) {
	if response == nil {
		return nil, core.ErrMissingFields
	}

	challenge, err := s.challenges.Consume(ctx, response.Response.CollectedClientData.Challenge, core.CeremonyRegistration)
	if err != nil {
		return nil, err
	}
	session, err := unmarshalSession(challenge.SessionData)
	if err != nil {
		return nil, err
	}

	user := &ceremonyUser{id: session.UserID, name: challenge.UserAddress}
	credential, err := s.verifier.CreateCredential(user, *session, response)
	if err != nil {
		s.publishSecurity(ctx, ports.SecurityEvent{
			Kind:     ports.EventVerificationFailed,
			Address:  challenge.UserAddress,
			ClientIP: clientIP,
			Detail:   "registration attestation rejected",
		})
		return nil, fmt.Errorf("%w: %v", core.ErrVerificationFailed, err)
	}

	owner := challenge.UserAddress
	var x, y []byte
	var smartWallet string
	if parsed, perr := webauthncose.ParsePublicKey(credential.PublicKey); perr == nil {
		if ec2, ok := parsed.(webauthncose.EC2PublicKeyData); ok {
			x, y = ec2.XCoord, ec2.YCoord
		}
	}
	if x != nil && y != nil {
		derived, err := s.deriver.PasskeyWalletAddress(x, y)
		if err != nil {
			return nil, fmt.Errorf("derive passkey wallet: %w", err)
		}
		smartWallet = derived.Hex()
		if owner == "" {
			owner = smartWallet
		}
	}
	if owner == "" {
		// Non-EC2 key with no pre-established identity: nothing to anchor
		// the account to.
		return nil, fmt.Errorf("%w: no derivable owner address", core.ErrVerificationFailed)
	}
	if smartWallet == "" {
		derived, err := s.deriver.OwnerAddress(common.HexToAddress(owner))
		if err != nil {
			return nil, fmt.Errorf("derive smart wallet: %w", err)
		}
		smartWallet = derived.Hex()
	}

	now := time.Now()
	record := &core.Credential{
		ID:          base64.RawURLEncoding.EncodeToString(credential.ID),
		UserAddress: owner,
		PublicKey:   credential.PublicKey,
		PublicKeyX:  x,
		PublicKeyY:  y,
		Counter:     credential.Authenticator.SignCount,
		Transports:  fromTransports(credential.Transport),
		CreatedAt:   now,
	}
	if err := s.credentials.Register(ctx, record); err != nil {
		return nil, err
	}

	userRow, err := s.sessions.upsertLogin(ctx, owner, core.WalletTypePasskey, smartWallet)
	if err != nil {
		return nil, err
	}
	token, err := s.sessions.MintSession(ctx, owner, core.WalletTypePasskey)
	if err != nil {
		return nil, err
	}
	return &core.OutcomeReady{User: userRow, AuthToken: token}, nil
}

// BeginAuthentication issues assertion options. With an owner address the
// allow list is the owner's registered credentials; without one the options
// request a discoverable credential.
func (s *CeremonyService) BeginAuthentication(ctx context.Context, ownerAddress, clientIP string) (*protocol.CredentialAssertion, error) {
	if ownerAddress != "" && !common.IsHexAddress(ownerAddress) {
		return nil, core.ErrInvalidAddress
	}
	var (
		options *protocol.CredentialAssertion
		session *webauthn.SessionData
		err     error
	)
	if ownerAddress == "" {
		options, session, err = s.wa.BeginDiscoverableLogin()
	} else {
		creds, lerr := s.credentials.ListForOwner(ctx, ownerAddress)
		if lerr != nil {
			return nil, fmt.Errorf("list credentials: %w", lerr)
		}
		if len(creds) == 0 {
			return nil, core.ErrCredentialNotFound
		}
		user := newCeremonyUser(ownerAddress, toLibraryCredentials(creds))
		options, session, err = s.wa.BeginLogin(user)
	}
	if err != nil {
		return nil, fmt.Errorf("begin authentication: %w", err)
	}

	if err := s.saveCeremonyChallenge(ctx, session, core.CeremonyAuthentication, ownerAddress, clientIP); err != nil {
		return nil, err
	}
	return options, nil
}

// FinishAuthentication consumes the challenge and verifies the assertion. A
// credential id absent from the registry routes into the rescue flow instead
// of failing outright.
func (s *CeremonyService) FinishAuthentication(ctx context.Context, response *protocol.ParsedCredentialAssertionData, clientIP string) (core.AuthOutcome, error) {
	if response == nil {
		return nil, core.ErrMissingFields
	}

	challenge, err := s.challenges.Consume(ctx, response.Response.CollectedClientData.Challenge, core.CeremonyAuthentication)
	if err != nil {
		return nil, err
	}
	session, err := unmarshalSession(challenge.SessionData)
	if err != nil {
		return nil, err
	}

	credentialID := base64.RawURLEncoding.EncodeToString(response.RawID)
	stored, err := s.credentials.Find(ctx, credentialID)
	if err != nil {
		if err == core.ErrCredentialNotFound {
			return s.rescue.Offer(ctx, credentialID, clientIP)
		}
		return nil, err
	}

	user := &ceremonyUser{
		id:    session.UserID,
		name:  stored.UserAddress,
		creds: toLibraryCredentials([]*core.Credential{stored}),
	}
	var verified *webauthn.Credential
	if len(session.UserID) == 0 {
		handler := func(rawID, userHandle []byte) (webauthn.User, error) {
			user.id = userHandle
			return user, nil
		}
		verified, err = s.verifier.ValidateDiscoverableLogin(handler, *session, response)
	} else {
		verified, err = s.verifier.ValidateLogin(user, *session, response)
	}
	if err != nil {
		s.publishSecurity(ctx, ports.SecurityEvent{
			Kind:         ports.EventVerificationFailed,
			Address:      stored.UserAddress,
			CredentialID: credentialID,
			ClientIP:     clientIP,
			Detail:       "assertion rejected",
		})
		return nil, fmt.Errorf("%w: %v", core.ErrVerificationFailed, err)
	}
	if !verified.Flags.UserVerified {
		return nil, fmt.Errorf("%w: user verification flag missing", core.ErrVerificationFailed)
	}

	newCounter := verified.Authenticator.SignCount
	if verified.Authenticator.CloneWarning ||
		((stored.Counter > 0 || newCounter > 0) && newCounter <= stored.Counter) {
		s.publishSecurity(ctx, ports.SecurityEvent{
			Kind:         ports.EventCounterRegression,
			Address:      stored.UserAddress,
			CredentialID: credentialID,
			ClientIP:     clientIP,
			Detail:       fmt.Sprintf("stored counter %d, asserted %d", stored.Counter, newCounter),
		})
		return nil, core.ErrCounterRegression
	}
	if err := s.credentials.BumpCounter(ctx, credentialID, newCounter); err != nil {
		return nil, err
	}

	var smartWallet string
	if stored.PublicKeyX != nil && stored.PublicKeyY != nil {
		derived, derr := s.deriver.PasskeyWalletAddress(stored.PublicKeyX, stored.PublicKeyY)
		if derr != nil {
			return nil, fmt.Errorf("derive passkey wallet: %w", derr)
		}
		smartWallet = derived.Hex()
	} else {
		derived, derr := s.deriver.OwnerAddress(common.HexToAddress(stored.UserAddress))
		if derr != nil {
			return nil, fmt.Errorf("derive smart wallet: %w", derr)
		}
		smartWallet = derived.Hex()
	}
	userRow, err := s.sessions.upsertLogin(ctx, stored.UserAddress, core.WalletTypePasskey, smartWallet)
	if err != nil {
		return nil, err
	}
	token, err := s.sessions.MintSession(ctx, stored.UserAddress, core.WalletTypePasskey)
	if err != nil {
		return nil, err
	}
	return &core.OutcomeReady{User: userRow, AuthToken: token}, nil
}

func (s *CeremonyService) saveCeremonyChallenge(ctx context.Context, session *webauthn.SessionData, ceremony core.CeremonyType, ownerAddress, clientIP string) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal webauthn session: %w", err)
	}
	now := time.Now()
	if err := s.challenges.Save(ctx, &core.Challenge{
		Value:       session.Challenge,
		Ceremony:    ceremony,
		UserAddress: ownerAddress,
		SessionData: raw,
		ClientIP:    clientIP,
		IssuedAt:    now,
		ExpiresAt:   now.Add(s.challengeTTL),
	}); err != nil {
		return fmt.Errorf("save challenge: %w", err)
	}
	return nil
}

func (s *CeremonyService) publishSecurity(ctx context.Context, event ports.SecurityEvent) {
	if err := s.events.PublishSecurity(ctx, event); err != nil {
		s.log.Warn("failed to publish security event", "kind", event.Kind, "err", err)
	}
}

func unmarshalSession(raw []byte) (*webauthn.SessionData, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: challenge has no ceremony session", core.ErrVerificationFailed)
	}
	var session webauthn.SessionData
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("unmarshal webauthn session: %w", err)
	}
	return &session, nil
}

// ceremonyUser satisfies webauthn.User for ceremony runs. Identities are
// keyed by owner address, so the user handle is the lowercased address.
type ceremonyUser struct {
	id    []byte
	name  string
	creds []webauthn.Credential
}

func newCeremonyUser(address string, creds []webauthn.Credential) *ceremonyUser {
	name := address
	if name == "" {
		name = "spritz"
	}
	return &ceremonyUser{
		id:    []byte(strings.ToLower(name)),
		name:  name,
		creds: creds,
	}
}

func (u *ceremonyUser) WebAuthnID() []byte                         { return u.id }
func (u *ceremonyUser) WebAuthnName() string                       { return u.name }
func (u *ceremonyUser) WebAuthnDisplayName() string                { return u.name }
func (u *ceremonyUser) WebAuthnCredentials() []webauthn.Credential { return u.creds }

func toLibraryCredentials(creds []*core.Credential) []webauthn.Credential {
	out := make([]webauthn.Credential, 0, len(creds))
	for _, cred := range creds {
		id, err := base64.RawURLEncoding.DecodeString(cred.ID)
		if err != nil {
			continue
		}
		out = append(out, webauthn.Credential{
			ID:        id,
			PublicKey: cred.PublicKey,
			Transport: toTransports(cred.Transports),
			Authenticator: webauthn.Authenticator{
				SignCount: cred.Counter,
			},
		})
	}
	return out
}

func toTransports(hints []string) []protocol.AuthenticatorTransport {
	out := make([]protocol.AuthenticatorTransport, 0, len(hints))
	for _, hint := range hints {
		out = append(out, protocol.AuthenticatorTransport(hint))
	}
	return out
}

func fromTransports(transports []protocol.AuthenticatorTransport) []string {
	out := make([]string, 0, len(transports))
	for _, t := range transports {
		out = append(out, string(t))
	}
	return out
}
