package tokenizer

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/spritz-hq/spritz/core"
	"github.com/spritz-hq/spritz/ports"
)

const (
	AudienceSession = "spritz:session"
	AudienceRescue  = "spritz:rescue"

	// DefaultSessionTTL is how long a minted session stays valid. Expiry is
	// the only termination mechanism; there is no revocation list.
	DefaultSessionTTL = 7 * 24 * time.Hour

	// DefaultRescueTTL bounds how long a rescue grant may be redeemed.
	DefaultRescueTTL = 10 * time.Minute
)

// JWTTokenizer implements the Tokenizer port with HMAC-signed (HS256) tokens.
// The signing secret is server-held; a token that is merely encoded would be
// a forgeable identity.
type JWTTokenizer struct {
	secret     []byte
	sessionTTL time.Duration
	rescueTTL  time.Duration
}

// NewJWTTokenizer creates a tokenizer with the given signing secret.
func NewJWTTokenizer(secret []byte) (ports.Tokenizer, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("signing secret must be at least 32 bytes")
	}
	return &JWTTokenizer{
		secret:     secret,
		sessionTTL: DefaultSessionTTL,
		rescueTTL:  DefaultRescueTTL,
	}, nil
}

// SessionToToken signs a session into a bearer token. A zero ExpiresAt takes
// the default session TTL.
func (j *JWTTokenizer) SessionToToken(session *core.Session) (string, error) {
	now := time.Now()
	expiresAt := session.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = now.Add(j.sessionTTL)
	}
	id := session.ID
	if id == "" {
		id = uuid.New().String()
	}

	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   session.Address,
			ID:        id,
			Audience:  jwt.ClaimStrings{AudienceSession},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		AuthMethod: string(session.AuthMethod),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(j.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

// TokenToSession validates signature, audience and expiry before trusting the
// subject claim.
func (j *JWTTokenizer) TokenToSession(tokenStr string) (*core.Session, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &SessionClaims{}, j.keyFunc,
		jwt.WithAudience(AudienceSession),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, core.ErrTokenExpired
		}
		return nil, core.ErrInvalidToken
	}
	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, core.ErrInvalidToken
	}

	return &core.Session{
		ID:         claims.ID,
		Address:    claims.Subject,
		AuthMethod: core.WalletType(claims.AuthMethod),
		IssuedAt:   claims.IssuedAt.Time,
		ExpiresAt:  claims.ExpiresAt.Time,
	}, nil
}

// RescueToToken signs a short-lived rescue grant bound to the single-use
// challenge value backing it.
func (j *JWTTokenizer) RescueToToken(address, challengeValue string) (string, error) {
	now := time.Now()
	claims := RescueClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   address,
			ID:        uuid.New().String(),
			Audience:  jwt.ClaimStrings{AudienceRescue},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.rescueTTL)),
		},
		Challenge: challengeValue,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(j.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign rescue token: %w", err)
	}
	return signed, nil
}

// TokenToRescue validates a rescue token and returns the rescue address and
// bound challenge value.
func (j *JWTTokenizer) TokenToRescue(tokenStr string) (string, string, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &RescueClaims{}, j.keyFunc,
		jwt.WithAudience(AudienceRescue),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", "", core.ErrTokenExpired
		}
		return "", "", core.ErrInvalidToken
	}
	claims, ok := token.Claims.(*RescueClaims)
	if !ok || !token.Valid || claims.Challenge == "" {
		return "", "", core.ErrInvalidToken
	}
	return claims.Subject, claims.Challenge, nil
}

func (j *JWTTokenizer) keyFunc(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return j.secret, nil
}
