package tokenizer

import "github.com/golang-jwt/jwt/v5"

// SessionClaims combines standard claims with the authentication method.
type SessionClaims struct {
	jwt.RegisteredClaims
	AuthMethod string `json:"amr"`
}

// RescueClaims bind a rescue grant to a single-use challenge value.
type RescueClaims struct {
	jwt.RegisteredClaims
	Challenge string `json:"chl"`
}
