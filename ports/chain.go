package ports

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/spritz-hq/spritz/core"
)

// ChainBackend is the narrow read/submit surface this core needs from a
// blockchain node. Transaction hashing is delegated to the vault contract's
// own accessor so the hash can never drift from the chain's view.
type ChainBackend interface {
	// IsDeployed reports whether any bytecode exists at addr.
	IsDeployed(ctx context.Context, addr common.Address) (bool, error)

	// VaultStatus reads the owner set and threshold of a deployed vault.
	// Returns core.ErrVaultNotFound when no bytecode exists at the address.
	VaultStatus(ctx context.Context, vault common.Address) (*core.VaultStatus, error)

	// VaultNonce reads the vault's transaction nonce.
	VaultNonce(ctx context.Context, vault common.Address) (*big.Int, error)

	// TransactionHash calls the vault's getTransactionHash accessor.
	TransactionHash(ctx context.Context, tx *core.VaultTransaction) (common.Hash, error)

	// DomainSeparator reads a contract's EIP-712 domain separator, used to
	// wrap hashes for ERC-1271 contract owners.
	DomainSeparator(ctx context.Context, contract common.Address) (common.Hash, error)

	// ExecTransaction submits execTransaction on the vault with the assembled
	// signature bytes and returns the submitted transaction hash.
	ExecTransaction(ctx context.Context, tx *core.VaultTransaction, signatures []byte) (common.Hash, error)
}
