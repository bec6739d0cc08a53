package core

import "time"

// CeremonyType discriminates what a challenge may be consumed for. A challenge
// issued for one ceremony is inert for every other.
type CeremonyType string

const (
	CeremonyRegistration   CeremonyType = "registration"
	CeremonyAuthentication CeremonyType = "authentication"
	CeremonyWallet         CeremonyType = "wallet"
	CeremonyRescue         CeremonyType = "rescue"
)

// Challenge is a single-use authentication challenge. The value is the primary
// key; SessionData carries the serialized WebAuthn session the finish step
// needs to verify the client response.
type Challenge struct {
	Value       string       `json:"challenge"`
	Ceremony    CeremonyType `json:"ceremony_type"`
	UserAddress string       `json:"user_address,omitempty"`
	SessionData []byte       `json:"session_data,omitempty"`
	ClientIP    string       `json:"client_ip,omitempty"`
	IssuedAt    time.Time    `json:"issued_at"`
	ExpiresAt   time.Time    `json:"expires_at"`
	Used        bool         `json:"used"`
	ConsumedAt  *time.Time   `json:"consumed_at,omitempty"`
}

// Expired reports whether the challenge is past its expiry at the given time.
func (c *Challenge) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}
