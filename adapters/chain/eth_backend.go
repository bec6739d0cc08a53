// Package chain adapts the ChainBackend port onto an Ethereum JSON-RPC node.
package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/spritz-hq/spritz/core"
	"github.com/spritz-hq/spritz/ports"
)

// safeABIJSON covers the slice of the multi-sig wallet interface this core
// consumes. Hashing is always delegated to the contract's own accessor.
const safeABIJSON = `[
	{"type":"function","name":"getOwners","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address[]"}]},
	{"type":"function","name":"getThreshold","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"nonce","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"domainSeparator","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bytes32"}]},
	{"type":"function","name":"getTransactionHash","stateMutability":"view","inputs":[
		{"name":"to","type":"address"},{"name":"value","type":"uint256"},{"name":"data","type":"bytes"},
		{"name":"operation","type":"uint8"},{"name":"safeTxGas","type":"uint256"},{"name":"baseGas","type":"uint256"},
		{"name":"gasPrice","type":"uint256"},{"name":"gasToken","type":"address"},{"name":"refundReceiver","type":"address"},
		{"name":"_nonce","type":"uint256"}],"outputs":[{"name":"","type":"bytes32"}]},
	{"type":"function","name":"execTransaction","stateMutability":"payable","inputs":[
		{"name":"to","type":"address"},{"name":"value","type":"uint256"},{"name":"data","type":"bytes"},
		{"name":"operation","type":"uint8"},{"name":"safeTxGas","type":"uint256"},{"name":"baseGas","type":"uint256"},
		{"name":"gasPrice","type":"uint256"},{"name":"gasToken","type":"address"},{"name":"refundReceiver","type":"address"},
		{"name":"signatures","type":"bytes"}],"outputs":[{"name":"success","type":"bool"}]}
]`

var safeABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(safeABIJSON))
	if err != nil {
		panic(err)
	}
	safeABI = parsed
}

var _ ports.ChainBackend = (*EthBackend)(nil)

// EthBackend implements the ChainBackend port on an ethclient connection.
// Execution is submitted by a server-held relayer key.
type EthBackend struct {
	client  *ethclient.Client
	relayer *ecdsa.PrivateKey
	chainID *big.Int
}

// Dial connects to an RPC endpoint and verifies the chain id.
func Dial(ctx context.Context, rpcURL string, relayer *ecdsa.PrivateKey) (*EthBackend, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("read chain id: %w", err)
	}
	return &EthBackend{client: client, relayer: relayer, chainID: chainID}, nil
}

// NewEthBackend wraps an existing client, mainly for tests.
func NewEthBackend(client *ethclient.Client, relayer *ecdsa.PrivateKey, chainID *big.Int) *EthBackend {
	return &EthBackend{client: client, relayer: relayer, chainID: chainID}
}

// IsDeployed reports whether bytecode exists at addr.
func (b *EthBackend) IsDeployed(ctx context.Context, addr common.Address) (bool, error) {
	code, err := b.client.CodeAt(ctx, addr, nil)
	if err != nil {
		return false, fmt.Errorf("code at %s: %w", addr.Hex(), core.ErrChainRead)
	}
	return len(code) > 0, nil
}

// VaultStatus reads the owner set and threshold of a deployed vault.
func (b *EthBackend) VaultStatus(ctx context.Context, vault common.Address) (*core.VaultStatus, error) {
	deployed, err := b.IsDeployed(ctx, vault)
	if err != nil {
		return nil, err
	}
	if !deployed {
		return nil, core.ErrVaultNotFound
	}

	var owners []common.Address
	if err := b.callView(ctx, vault, "getOwners", &owners); err != nil {
		return nil, err
	}
	threshold := new(big.Int)
	if err := b.callView(ctx, vault, "getThreshold", &threshold); err != nil {
		return nil, err
	}

	return &core.VaultStatus{
		Address:    vault,
		IsDeployed: true,
		Owners:     owners,
		Threshold:  int(threshold.Int64()),
	}, nil
}

// VaultNonce reads the vault's transaction nonce.
func (b *EthBackend) VaultNonce(ctx context.Context, vault common.Address) (*big.Int, error) {
	nonce := new(big.Int)
	if err := b.callView(ctx, vault, "nonce", &nonce); err != nil {
		return nil, err
	}
	return nonce, nil
}

// DomainSeparator reads a contract's EIP-712 domain separator.
func (b *EthBackend) DomainSeparator(ctx context.Context, contract common.Address) (common.Hash, error) {
	var separator [32]byte
	if err := b.callView(ctx, contract, "domainSeparator", &separator); err != nil {
		return common.Hash{}, err
	}
	return common.Hash(separator), nil
}

// TransactionHash calls the vault's getTransactionHash accessor with the
// standard call parameters (operation CALL, no gas refund fields).
func (b *EthBackend) TransactionHash(ctx context.Context, tx *core.VaultTransaction) (common.Hash, error) {
	nonce := tx.Nonce
	if nonce == nil {
		chainNonce, err := b.VaultNonce(ctx, tx.Vault)
		if err != nil {
			return common.Hash{}, err
		}
		nonce = chainNonce
	}

	var hash [32]byte
	err := b.callView(ctx, tx.Vault, "getTransactionHash", &hash,
		tx.To, tx.Value, tx.Data, uint8(0),
		big.NewInt(0), big.NewInt(0), big.NewInt(0),
		common.Address{}, common.Address{}, nonce)
	if err != nil {
		return common.Hash{}, err
	}
	return common.Hash(hash), nil
}

// ExecTransaction submits execTransaction signed by the relayer key.
func (b *EthBackend) ExecTransaction(ctx context.Context, tx *core.VaultTransaction, signatures []byte) (common.Hash, error) {
	if b.relayer == nil {
		return common.Hash{}, fmt.Errorf("no relayer key configured")
	}
	opts, err := bind.NewKeyedTransactorWithChainID(b.relayer, b.chainID)
	if err != nil {
		return common.Hash{}, fmt.Errorf("build transactor: %w", err)
	}
	opts.Context = ctx

	contract := bind.NewBoundContract(tx.Vault, safeABI, b.client, b.client, b.client)
	submitted, err := contract.Transact(opts, "execTransaction",
		tx.To, tx.Value, tx.Data, uint8(0),
		big.NewInt(0), big.NewInt(0), big.NewInt(0),
		common.Address{}, common.Address{}, signatures)
	if err != nil {
		return common.Hash{}, fmt.Errorf("submit execTransaction: %w", err)
	}
	return submitted.Hash(), nil
}

func (b *EthBackend) callView(ctx context.Context, contract common.Address, method string, out interface{}, args ...interface{}) error {
	data, err := safeABI.Pack(method, args...)
	if err != nil {
		return fmt.Errorf("pack %s: %w", method, err)
	}
	raw, err := b.client.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return fmt.Errorf("call %s: %w", method, core.ErrChainRead)
	}
	results, err := safeABI.Unpack(method, raw)
	if err != nil || len(results) == 0 {
		return fmt.Errorf("unpack %s: %w", method, core.ErrChainRead)
	}
	return assign(out, results[0])
}

// assign copies an unpacked ABI value into the typed output pointer.
func assign(out interface{}, value interface{}) error {
	switch dst := out.(type) {
	case *[]common.Address:
		v, ok := value.([]common.Address)
		if !ok {
			return fmt.Errorf("unexpected abi result type %T: %w", value, core.ErrChainRead)
		}
		*dst = v
	case **big.Int:
		v, ok := value.(*big.Int)
		if !ok {
			return fmt.Errorf("unexpected abi result type %T: %w", value, core.ErrChainRead)
		}
		*dst = v
	case *[32]byte:
		v, ok := value.([32]byte)
		if !ok {
			return fmt.Errorf("unexpected abi result type %T: %w", value, core.ErrChainRead)
		}
		*dst = v
	default:
		return fmt.Errorf("unsupported abi output type %T", out)
	}
	return nil
}
