package service

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/stretchr/testify/require"

	"github.com/spritz-hq/spritz/adapters/store"
	"github.com/spritz-hq/spritz/adapters/tokenizer"
	"github.com/spritz-hq/spritz/ports"
	"github.com/spritz-hq/spritz/safe"
)

// capturingPublisher records published events for assertions.
type capturingPublisher struct {
	mu       sync.Mutex
	logins   []string
	logouts  []string
	security []ports.SecurityEvent
}

func (p *capturingPublisher) PublishLogin(ctx context.Context, address, authMethod string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logins = append(p.logins, address)
	return nil
}

func (p *capturingPublisher) PublishLogout(ctx context.Context, address, tokenID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logouts = append(p.logouts, address)
	return nil
}

func (p *capturingPublisher) PublishSecurity(ctx context.Context, event ports.SecurityEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.security = append(p.security, event)
	return nil
}

func (p *capturingPublisher) securityKinds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	kinds := make([]string, len(p.security))
	for i, e := range p.security {
		kinds[i] = e.Kind
	}
	return kinds
}

// stubVerifier replaces the cryptographic verification steps so flows can be
// exercised without a real authenticator.
type stubVerifier struct {
	createResult   *webauthn.Credential
	createErr      error
	validateResult *webauthn.Credential
	validateErr    error
}

func (v *stubVerifier) CreateCredential(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error) {
	return v.createResult, v.createErr
}

func (v *stubVerifier) ValidateLogin(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (*webauthn.Credential, error) {
	return v.validateResult, v.validateErr
}

func (v *stubVerifier) ValidateDiscoverableLogin(handler webauthn.DiscoverableUserHandler, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (*webauthn.Credential, error) {
	return v.validateResult, v.validateErr
}

type harness struct {
	store    *store.MemoryStore
	events   *capturingPublisher
	deriver  *safe.Deriver
	auth     *AuthService
	rescue   *RescueService
	ceremony *CeremonyService
	verifier *stubVerifier
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	mem := store.NewMemoryStore()
	events := &capturingPublisher{}
	log := slog.Default()

	tok, err := tokenizer.NewJWTTokenizer([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	deriver, err := safe.NewDeriver(safe.CanonicalParams(), safe.CanonicalSignerParams())
	require.NoError(t, err)

	wa, err := webauthn.New(&webauthn.Config{
		RPID:          "localhost",
		RPDisplayName: "Spritz",
		RPOrigins:     []string{"http://localhost:3000"},
	})
	require.NoError(t, err)

	auth := NewAuthService(mem, mem, tok, events, deriver, log)
	rescue := NewRescueService(mem, mem, mem, tok, events, log, 0, 0)
	ceremony := NewCeremonyService(wa, mem, mem, mem, events, deriver, auth, rescue, log)

	verifier := &stubVerifier{}
	ceremony.verifier = verifier

	return &harness{
		store:    mem,
		events:   events,
		deriver:  deriver,
		auth:     auth,
		rescue:   rescue,
		ceremony: ceremony,
		verifier: verifier,
	}
}
