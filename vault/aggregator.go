package vault

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/spritz-hq/spritz/core"
	"github.com/spritz-hq/spritz/ports"
)

// safeMsgTypehash is keccak256("SafeMessage(bytes message)").
var safeMsgTypehash = common.HexToHash("0x60b3cbf8b4a223d68d641b3b6ddf9a298e7f33710cf3d3a9d1146b5a6150fbca")

// Eligibility answers whether a candidate may co-sign a vault transaction.
type Eligibility struct {
	Eligible   bool             `json:"eligible"`
	EligibleAs common.Address   `json:"eligible_as,omitempty"`
	IsDeployed bool             `json:"is_deployed"`
	Threshold  int              `json:"threshold"`
	Owners     []common.Address `json:"owners"`
}

// Aggregator runs the co-signing round for a multi-owner wallet. It keeps no
// state between calls; partial signatures are caller-supplied every time.
type Aggregator struct {
	chain ports.ChainBackend
	log   *slog.Logger
}

func NewAggregator(chain ports.ChainBackend, log *slog.Logger) *Aggregator {
	if log == nil {
		log = slog.Default()
	}
	return &Aggregator{chain: chain, log: log}
}

// CanSign reports whether any candidate address appears in the vault's owner
// set. For a vault that is not deployed yet there is no on-chain state, so
// the caller's off-chain record of the pending deployment is trusted instead.
func (a *Aggregator) CanSign(ctx context.Context, vault common.Address, candidates []common.Address, offchain *core.VaultStatus) (*Eligibility, error) {
	status, err := a.chain.VaultStatus(ctx, vault)
	if err != nil {
		if errors.Is(err, core.ErrVaultNotFound) && offchain != nil {
			// Work on a copy so the caller's record is not rewritten.
			pending := *offchain
			pending.IsDeployed = false
			status = &pending
		} else {
			return nil, fmt.Errorf("read vault status: %w", err)
		}
	}

	elig := &Eligibility{
		IsDeployed: status.IsDeployed,
		Threshold:  status.Threshold,
		Owners:     status.Owners,
	}
	for _, c := range candidates {
		if status.IsOwner(c) {
			elig.Eligible = true
			elig.EligibleAs = c
			break
		}
	}
	return elig, nil
}

// ComputeTransactionHash delegates to the vault contract's own hashing
// accessor rather than reimplementing it.
func (a *Aggregator) ComputeTransactionHash(ctx context.Context, tx *core.VaultTransaction) (common.Hash, error) {
	return a.chain.TransactionHash(ctx, tx)
}

// SafeMessageHash wraps a raw hash the way an owner contract's
// isValidSignature reconstructs it: the contract's domain separator over a
// typed SafeMessage encoding of the original hash.
func SafeMessageHash(domainSeparator common.Hash, message common.Hash) common.Hash {
	inner := crypto.Keccak256(safeMsgTypehash.Bytes(), crypto.Keccak256(message.Bytes()))
	return common.BytesToHash(crypto.Keccak256([]byte{0x19, 0x01}, domainSeparator.Bytes(), inner))
}

// SignAsOwner produces one owner signature over the transaction hash. When
// ownerContract is nil the key signs the raw hash as an EOA owner. Otherwise
// the key signs the owner contract's wrapped message hash, because that is
// the form the contract's isValidSignature will check.
func (a *Aggregator) SignAsOwner(ctx context.Context, hash common.Hash, key *ecdsa.PrivateKey, ownerContract *common.Address) (core.OwnerSignature, error) {
	if ownerContract == nil {
		sig, err := crypto.Sign(hash.Bytes(), key)
		if err != nil {
			return core.OwnerSignature{}, fmt.Errorf("sign transaction hash: %w", err)
		}
		sig[64] += 27
		return core.OwnerSignature{
			Owner:     crypto.PubkeyToAddress(key.PublicKey),
			Kind:      core.SignerEOA,
			Signature: sig,
		}, nil
	}

	separator, err := a.chain.DomainSeparator(ctx, *ownerContract)
	if err != nil {
		return core.OwnerSignature{}, fmt.Errorf("read owner domain separator: %w", err)
	}
	wrapped := SafeMessageHash(separator, hash)
	sig, err := crypto.Sign(wrapped.Bytes(), key)
	if err != nil {
		return core.OwnerSignature{}, fmt.Errorf("sign wrapped hash: %w", err)
	}
	sig[64] += 27
	return core.OwnerSignature{
		Owner:     *ownerContract,
		Kind:      core.SignerContract,
		Signature: sig,
	}, nil
}

// Execute submits the transaction once enough distinct owner signatures are
// collected. Below threshold it reports InsufficientSignatures without
// touching the chain.
func (a *Aggregator) Execute(ctx context.Context, tx *core.VaultTransaction, signatures []core.OwnerSignature) (common.Hash, error) {
	status, err := a.chain.VaultStatus(ctx, tx.Vault)
	if err != nil {
		return common.Hash{}, fmt.Errorf("read vault status: %w", err)
	}

	seen := make(map[common.Address]bool, len(signatures))
	for _, sig := range signatures {
		if !status.IsOwner(sig.Owner) {
			return common.Hash{}, fmt.Errorf("signer %s: %w", sig.Owner.Hex(), core.ErrNotAnOwner)
		}
		if seen[sig.Owner] {
			return common.Hash{}, fmt.Errorf("duplicate signer %s: %w", sig.Owner.Hex(), core.ErrMalformedBytes)
		}
		seen[sig.Owner] = true
	}
	if len(signatures) < status.Threshold {
		return common.Hash{}, &core.InsufficientSignaturesError{Have: len(signatures), Need: status.Threshold}
	}

	assembled, err := AssembleSignatureBytes(signatures)
	if err != nil {
		return common.Hash{}, fmt.Errorf("assemble signatures: %w", err)
	}

	txHash, err := a.chain.ExecTransaction(ctx, tx, assembled)
	if err != nil {
		return common.Hash{}, fmt.Errorf("exec transaction: %w", err)
	}
	a.log.Info("vault transaction executed",
		"vault", tx.Vault.Hex(), "to", tx.To.Hex(), "tx", txHash.Hex(), "signers", len(signatures))
	return txHash, nil
}

// SignAndExecute is the threshold-1 convenience path: one signature already
// meets threshold, so sign and submit in a single round trip with no partial
// state persisted.
func (a *Aggregator) SignAndExecute(ctx context.Context, tx *core.VaultTransaction, key *ecdsa.PrivateKey, ownerContract *common.Address) (common.Hash, error) {
	hash, err := a.ComputeTransactionHash(ctx, tx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("compute transaction hash: %w", err)
	}
	sig, err := a.SignAsOwner(ctx, hash, key, ownerContract)
	if err != nil {
		return common.Hash{}, err
	}
	return a.Execute(ctx, tx, []core.OwnerSignature{sig})
}
