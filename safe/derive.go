package safe

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/spritz-hq/spritz/core"
)

const setupABIJSON = `[{"type":"function","name":"setup","inputs":[
	{"name":"_owners","type":"address[]"},
	{"name":"_threshold","type":"uint256"},
	{"name":"to","type":"address"},
	{"name":"data","type":"bytes"},
	{"name":"fallbackHandler","type":"address"},
	{"name":"paymentToken","type":"address"},
	{"name":"payment","type":"uint256"},
	{"name":"paymentReceiver","type":"address"}]}]`

var setupABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(setupABIJSON))
	if err != nil {
		panic(err)
	}
	setupABI = parsed
}

// rescuePrefix namespaces the credential-id probe hash so it can never collide
// with a primary derivation input.
var rescuePrefix = []byte("spritz/passkey-rescue")

// Deriver computes counterfactual wallet addresses under a pinned parameter
// set. It holds no mutable state and is safe for concurrent use.
type Deriver struct {
	params DeploymentParams
	signer SignerParams
}

// NewDeriver pins a deployment and signer parameter set.
func NewDeriver(params DeploymentParams, signer SignerParams) (*Deriver, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Deriver{params: params, signer: signer}, nil
}

// Params returns the pinned deployment parameter set.
func (d *Deriver) Params() DeploymentParams { return d.params }

// InitializerFor builds the setup calldata for a single-owner, threshold-1
// wallet. The encoding is part of the address; any change to it is a breaking
// parameter change.
func (d *Deriver) InitializerFor(owner common.Address) ([]byte, error) {
	return setupABI.Pack("setup",
		[]common.Address{owner},
		big.NewInt(1),
		common.Address{},
		[]byte{},
		d.params.FallbackHandler,
		d.params.PaymentToken,
		big.NewInt(0),
		d.params.PaymentReceiver,
	)
}

// OwnerAddress computes the counterfactual wallet address for an EOA owner.
// The computation is independent of deployment state.
func (d *Deriver) OwnerAddress(owner common.Address) (common.Address, error) {
	if owner == (common.Address{}) {
		return common.Address{}, core.ErrInvalidAddress
	}
	initializer, err := d.InitializerFor(owner)
	if err != nil {
		return common.Address{}, fmt.Errorf("encode initializer: %w", err)
	}

	salt := crypto.Keccak256(
		crypto.Keccak256(initializer),
		common.LeftPadBytes(d.params.SaltNonce.Bytes(), 32),
	)
	codeHash := crypto.Keccak256(
		d.params.ProxyCreationCode,
		common.LeftPadBytes(d.params.Singleton.Bytes(), 32),
	)
	return crypto.CreateAddress2(d.params.Factory, common.BytesToHash(salt), codeHash), nil
}

// PasskeySignerAddress maps P-256 public key coordinates to the address of
// the signer contract that would hold them. This mapping must stay
// byte-for-byte consistent with the client.
func (d *Deriver) PasskeySignerAddress(x, y []byte) (common.Address, error) {
	if len(x) == 0 || len(x) > 32 || len(y) == 0 || len(y) > 32 {
		return common.Address{}, fmt.Errorf("p-256 coordinates must be 1..32 bytes: %w", core.ErrMissingFields)
	}
	codeHash := crypto.Keccak256(
		d.signer.CreationCode,
		common.LeftPadBytes(d.signer.Singleton.Bytes(), 32),
		common.LeftPadBytes(x, 32),
		common.LeftPadBytes(y, 32),
		common.LeftPadBytes(d.signer.Verifiers.Bytes(), 32),
	)
	return crypto.CreateAddress2(d.signer.Factory, common.Hash{}, codeHash), nil
}

// PasskeyWalletAddress is the full passkey derivation: P-256 coordinates to
// signer contract, signer contract to counterfactual wallet.
func (d *Deriver) PasskeyWalletAddress(x, y []byte) (common.Address, error) {
	signer, err := d.PasskeySignerAddress(x, y)
	if err != nil {
		return common.Address{}, err
	}
	return d.OwnerAddress(signer)
}

// RescueCandidateAddress derives a candidate owner address from a credential
// id alone. It is a user-row existence probe for orphaned credentials, never
// a funding target; re-linking always re-derives from the real public key.
func RescueCandidateAddress(credentialID string) common.Address {
	sum := crypto.Keccak256(rescuePrefix, []byte(credentialID))
	return common.BytesToAddress(sum[12:])
}
