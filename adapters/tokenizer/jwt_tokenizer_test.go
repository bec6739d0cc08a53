package tokenizer

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spritz-hq/spritz/core"
	"github.com/spritz-hq/spritz/ports"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestTokenizer(t *testing.T) ports.Tokenizer {
	t.Helper()
	tok, err := NewJWTTokenizer(testSecret)
	require.NoError(t, err)
	return tok
}

func TestNewJWTTokenizerRejectsShortSecret(t *testing.T) {
	_, err := NewJWTTokenizer([]byte("too short"))
	assert.Error(t, err)
}

func TestSessionRoundTrip(t *testing.T) {
	tok := newTestTokenizer(t)

	signed, err := tok.SessionToToken(&core.Session{
		ID:         "session-1",
		Address:    "0x1111111111111111111111111111111111111111",
		AuthMethod: core.WalletTypePasskey,
	})
	require.NoError(t, err)

	session, err := tok.TokenToSession(signed)
	require.NoError(t, err)
	assert.Equal(t, "session-1", session.ID)
	assert.Equal(t, "0x1111111111111111111111111111111111111111", session.Address)
	assert.Equal(t, core.WalletTypePasskey, session.AuthMethod)
	assert.WithinDuration(t, time.Now().Add(DefaultSessionTTL), session.ExpiresAt, time.Minute)
}

func TestTokenToSessionRejectsTampering(t *testing.T) {
	tok := newTestTokenizer(t)

	signed, err := tok.SessionToToken(&core.Session{Address: "0xABC"})
	require.NoError(t, err)

	// Flip a character in the payload segment.
	parts := strings.Split(signed, ".")
	require.Len(t, parts, 3)
	payload := []byte(parts[1])
	if payload[0] == 'A' {
		payload[0] = 'B'
	} else {
		payload[0] = 'A'
	}
	tampered := parts[0] + "." + string(payload) + "." + parts[2]

	_, err = tok.TokenToSession(tampered)
	assert.ErrorIs(t, err, core.ErrInvalidToken)
}

func TestTokenToSessionRejectsWrongSecret(t *testing.T) {
	tok := newTestTokenizer(t)
	other, err := NewJWTTokenizer([]byte("ffffffffffffffffffffffffffffffff"))
	require.NoError(t, err)

	signed, err := other.SessionToToken(&core.Session{Address: "0xABC"})
	require.NoError(t, err)

	_, err = tok.TokenToSession(signed)
	assert.ErrorIs(t, err, core.ErrInvalidToken)
}

func TestTokenToSessionRejectsExpired(t *testing.T) {
	tok := newTestTokenizer(t)

	signed, err := tok.SessionToToken(&core.Session{
		Address:   "0xABC",
		ExpiresAt: time.Now().Add(-time.Minute),
	})
	require.NoError(t, err)

	_, err = tok.TokenToSession(signed)
	assert.ErrorIs(t, err, core.ErrTokenExpired)
}

func TestRescueRoundTrip(t *testing.T) {
	tok := newTestTokenizer(t)

	signed, err := tok.RescueToToken("0xABC", "rescue-challenge")
	require.NoError(t, err)

	address, challenge, err := tok.TokenToRescue(signed)
	require.NoError(t, err)
	assert.Equal(t, "0xABC", address)
	assert.Equal(t, "rescue-challenge", challenge)
}

func TestAudiencesAreNotInterchangeable(t *testing.T) {
	tok := newTestTokenizer(t)

	sessionToken, err := tok.SessionToToken(&core.Session{Address: "0xABC"})
	require.NoError(t, err)
	rescueToken, err := tok.RescueToToken("0xABC", "chal")
	require.NoError(t, err)

	// A rescue grant must never pass as a session, nor the reverse.
	_, _, err = tok.TokenToRescue(sessionToken)
	assert.ErrorIs(t, err, core.ErrInvalidToken)
	_, err = tok.TokenToSession(rescueToken)
	assert.ErrorIs(t, err, core.ErrInvalidToken)
}

func TestTokenToSessionRejectsGarbage(t *testing.T) {
	tok := newTestTokenizer(t)

	_, err := tok.TokenToSession("not-a-token")
	assert.ErrorIs(t, err, core.ErrInvalidToken)
	_, err = tok.TokenToSession("")
	assert.ErrorIs(t, err, core.ErrInvalidToken)
}
