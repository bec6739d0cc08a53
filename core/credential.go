package core

import "time"

// Credential is a WebAuthn credential registered for an owner address.
// PublicKey holds the COSE-encoded key as returned by the authenticator;
// PublicKeyX/Y hold the raw P-256 coordinates when the key is EC2, which is
// what smart-wallet derivation consumes.
type Credential struct {
	ID          string     `json:"credential_id"`
	UserAddress string     `json:"user_address"`
	PublicKey   []byte     `json:"public_key"`
	PublicKeyX  []byte     `json:"public_key_x,omitempty"`
	PublicKeyY  []byte     `json:"public_key_y,omitempty"`
	Counter     uint32     `json:"counter"`
	Transports  []string   `json:"transports,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
}
