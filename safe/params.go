// Package safe computes counterfactual Safe smart-wallet addresses. Every
// derivation is a pure function of an owner key and a fixed, versioned
// parameter set; the same inputs must produce byte-identical addresses in the
// browser, on the server and in any reimplementation.
package safe

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// DeploymentParams pins every input of the proxy-factory address computation.
// Changing any field changes every derived address, so the set is versioned
// and old sets are kept around to recognize addresses derived under them.
type DeploymentParams struct {
	Version           string
	Factory           common.Address
	Singleton         common.Address
	FallbackHandler   common.Address
	PaymentToken      common.Address
	PaymentReceiver   common.Address
	ProxyCreationCode []byte
	SaltNonce         *big.Int
}

// SignerParams pins the derivation of a passkey signer contract from P-256
// public key coordinates. The signer contract is what actually owns the Safe
// for passkey identities.
type SignerParams struct {
	Version      string
	Factory      common.Address
	Singleton    common.Address
	CreationCode []byte
	// Verifiers packs the P-256 verifier selection the signer is bound to.
	Verifiers *big.Int
}

// safeProxyCreationCode is the Safe proxy (v1.3.0) creation bytecode. The
// singleton address is appended as the sole constructor argument when hashing
// deployment data.
var safeProxyCreationCode = common.FromHex("0x608060405234801561001057600080fd5b506040516101e63803806101e68339818101604052602081101561003357600080fd5b8101908080519060200190929190505050600073ffffffffffffffffffffffffffffffffffffffff168173ffffffffffffffffffffffffffffffffffffffff1614156100ca576040517f08c379a00000000000000000000000000000000000000000000000000000000081526004018080602001828103825260228152602001806101c46022913960400191505060405180910390fd5b806000806101000a81548173ffffffffffffffffffffffffffffffffffffffff021916908373ffffffffffffffffffffffffffffffffffffffff16021790555050603e806101866000396000f3fe608060405273ffffffffffffffffffffffffffffffffffffffff600054167fa619486e0000000000000000000000000000000000000000000000000000000060003514156050578060005260206000f35b3660008037600080366000845af43d6000803e60008113603f573d6000fd5b3d6000f3fea2646970667358221220d1429297349653a4918076d650332de1a1068c5f3e07c5c82360c277770b955264736f6c63430007060033496e76616c69642073696e676c65746f6e20616464726573732070726f7669646564")

// webauthnSignerCreationCode is the passkey signer proxy creation bytecode.
var webauthnSignerCreationCode = common.FromHex("0x608060405234801561001057600080fd5b506040516101a03803806101a083398101604081905261002f9161007a565b600080546001600160a01b0319166001600160a01b039590951694909417909355600191909155600255600380546001600160b01b0319166001600160b01b039290921691909117905560d6565b600080600080608085870312156100905760008081fd5b84516001600160a01b03811681146100a75760008081fd5b6020860151604087015160609097015195989097509350915050565b60bb806100e56000396000f3fe")

// CanonicalParams is the current ("v1") derivation parameter set: the Safe
// v1.3.0 canonical deployment with a zero salt nonce.
func CanonicalParams() DeploymentParams {
	return DeploymentParams{
		Version:           "v1",
		Factory:           common.HexToAddress("0xa6B71E26C5e0845f74c812102Ca7114b6a896AB2"),
		Singleton:         common.HexToAddress("0x3E5c63644E683549055b9Be8653de26E0B4CD36E"),
		FallbackHandler:   common.HexToAddress("0xf48f2B2d2a534e402487b3ee7C18c33Aec0Fe5e4"),
		ProxyCreationCode: safeProxyCreationCode,
		SaltNonce:         big.NewInt(0),
	}
}

// LegacyParams is the retired placeholder parameter set some early accounts
// were derived under. It exists only to recognize stale stored addresses;
// new derivations never use it.
func LegacyParams() DeploymentParams {
	return DeploymentParams{
		Version:           "legacy",
		Factory:           common.HexToAddress("0x76E2cFc1F5Fa8F6a5b3fC4c8F4788F0116861F9B"),
		Singleton:         common.HexToAddress("0xd9Db270c1B5E3Bd161E8c8503c55cEABeE709552"),
		FallbackHandler:   common.HexToAddress("0xf48f2B2d2a534e402487b3ee7C18c33Aec0Fe5e4"),
		ProxyCreationCode: safeProxyCreationCode,
		SaltNonce:         big.NewInt(0),
	}
}

// CanonicalSignerParams is the current passkey signer derivation set.
func CanonicalSignerParams() SignerParams {
	return SignerParams{
		Version:      "v1",
		Factory:      common.HexToAddress("0x1d31F259eE307358a26dFb23EB365939E8641195"),
		Singleton:    common.HexToAddress("0x270D7E4a57E6322f336261f3EaE2BADe72E68d72"),
		CreationCode: webauthnSignerCreationCode,
		// Default shared WebAuthn verifier.
		Verifiers: new(big.Int).SetBytes(common.FromHex("0x0000000000000000000000A86391452C2f1bd7a27f06dC703D2dD2c22a0a28")),
	}
}

// Validate rejects parameter sets that would silently derive garbage.
func (p DeploymentParams) Validate() error {
	if p.Factory == (common.Address{}) || p.Singleton == (common.Address{}) {
		return fmt.Errorf("derivation params %q: factory and singleton are required", p.Version)
	}
	if len(p.ProxyCreationCode) == 0 {
		return fmt.Errorf("derivation params %q: proxy creation code is required", p.Version)
	}
	if p.SaltNonce == nil {
		return fmt.Errorf("derivation params %q: salt nonce is required", p.Version)
	}
	return nil
}
