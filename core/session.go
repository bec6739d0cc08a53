package core

import "time"

// Session is an authenticated session as carried by a signed bearer token.
// There is no revocation list; expiry is the only termination mechanism.
type Session struct {
	ID         string     `json:"id"`
	Address    string     `json:"address"`
	AuthMethod WalletType `json:"auth_method"`
	IssuedAt   time.Time  `json:"issued_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
}
