package core

import "time"

// WalletType identifies how an identity authenticates.
type WalletType string

const (
	WalletTypeWallet  WalletType = "wallet"
	WalletTypePasskey WalletType = "passkey"
	WalletTypeEmail   WalletType = "email"
	WalletTypeSolana  WalletType = "solana"
	WalletTypeWorldID WalletType = "world_id"
	WalletTypeAlienID WalletType = "alien_id"
)

// User is an identity row keyed by wallet address. SmartWalletAddress is the
// derived counterfactual Safe address and is corrected in place on login when
// a fresh derivation disagrees with the stored value.
type User struct {
	WalletAddress      string     `json:"wallet_address"`
	WalletType         WalletType `json:"wallet_type"`
	SmartWalletAddress string     `json:"smart_wallet_address,omitempty"`
	Email              string     `json:"email,omitempty"`
	LoginCount         int        `json:"login_count"`
	FirstLogin         time.Time  `json:"first_login"`
	LastLogin          time.Time  `json:"last_login"`
}
