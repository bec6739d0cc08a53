package core

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// SignerKind discriminates how an owner signature was produced.
type SignerKind int

const (
	// SignerEOA is an externally-owned key signing the raw transaction hash.
	SignerEOA SignerKind = iota
	// SignerContract is a smart-contract owner validated via ERC-1271; its
	// signature is produced over the owner contract's wrapped message hash.
	SignerContract
)

// OwnerSignature is one owner's contribution to a pending vault transaction.
type OwnerSignature struct {
	Owner     common.Address
	Kind      SignerKind
	Signature []byte
}

// VaultTransaction is the payload a co-signing round agrees on. It lives only
// for the duration of the round and is never persisted by this core.
type VaultTransaction struct {
	Vault common.Address
	To    common.Address
	Value *big.Int
	Data  []byte
	Nonce *big.Int
}

// VaultStatus describes a vault contract as seen from the chain, or from
// off-chain record when the contract is not deployed yet.
type VaultStatus struct {
	Address    common.Address
	IsDeployed bool
	Owners     []common.Address
	Threshold  int
}

// IsOwner reports whether addr appears in the vault's owner set.
func (v *VaultStatus) IsOwner(addr common.Address) bool {
	for _, o := range v.Owners {
		if o == addr {
			return true
		}
	}
	return false
}
