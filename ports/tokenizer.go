package ports

import "github.com/spritz-hq/spritz/core"

// Tokenizer converts between domain sessions and signed bearer tokens. Tokens
// are integrity-protected with a server-held secret; a token that is merely
// encoded is a forgeable identity.
type Tokenizer interface {
	// SessionToToken signs a session into a bearer token.
	SessionToToken(session *core.Session) (string, error)

	// TokenToSession validates signature, audience and expiry before trusting
	// the subject claim.
	TokenToSession(token string) (*core.Session, error)

	// RescueToToken signs a short-lived, single-use rescue grant. The
	// challenge value binds the token to a consumable rescue challenge row.
	RescueToToken(address, challengeValue string) (string, error)

	// TokenToRescue validates a rescue token and returns the rescue address
	// and the bound challenge value.
	TokenToRescue(token string) (address, challengeValue string, err error)
}
