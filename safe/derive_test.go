package safe

import (
	"bytes"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spritz-hq/spritz/core"
)

func newTestDeriver(t *testing.T) *Deriver {
	t.Helper()
	d, err := NewDeriver(CanonicalParams(), CanonicalSignerParams())
	require.NoError(t, err)
	return d
}

func TestOwnerAddressDeterministic(t *testing.T) {
	owner := common.HexToAddress("0x1111111111111111111111111111111111111111")

	a := newTestDeriver(t)
	b := newTestDeriver(t)

	addrA, err := a.OwnerAddress(owner)
	require.NoError(t, err)
	addrB, err := b.OwnerAddress(owner)
	require.NoError(t, err)

	// Independent instances must agree byte for byte, the same way the
	// browser and the server must.
	assert.Equal(t, addrA, addrB)
	assert.NotEqual(t, common.Address{}, addrA)
}

func TestOwnerAddressDistinctPerOwner(t *testing.T) {
	d := newTestDeriver(t)

	a, err := d.OwnerAddress(common.HexToAddress("0x1111111111111111111111111111111111111111"))
	require.NoError(t, err)
	b, err := d.OwnerAddress(common.HexToAddress("0x2222222222222222222222222222222222222222"))
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestOwnerAddressRejectsZeroOwner(t *testing.T) {
	d := newTestDeriver(t)

	_, err := d.OwnerAddress(common.Address{})
	assert.ErrorIs(t, err, core.ErrInvalidAddress)
}

func TestParameterDriftChangesAddress(t *testing.T) {
	owner := common.HexToAddress("0x1111111111111111111111111111111111111111")
	canonical := newTestDeriver(t)
	base, err := canonical.OwnerAddress(owner)
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*DeploymentParams)
	}{
		{"salt nonce", func(p *DeploymentParams) { p.SaltNonce.SetInt64(1) }},
		{"singleton", func(p *DeploymentParams) {
			p.Singleton = common.HexToAddress("0x00000000000000000000000000000000000000aa")
		}},
		{"fallback handler", func(p *DeploymentParams) {
			p.FallbackHandler = common.HexToAddress("0x00000000000000000000000000000000000000bb")
		}},
		{"factory", func(p *DeploymentParams) {
			p.Factory = common.HexToAddress("0x00000000000000000000000000000000000000cc")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := CanonicalParams()
			tt.mutate(&params)
			drifted, err := NewDeriver(params, CanonicalSignerParams())
			require.NoError(t, err)

			addr, err := drifted.OwnerAddress(owner)
			require.NoError(t, err)
			// A silent drift would produce a different, unfunded wallet.
			assert.NotEqual(t, base, addr, "parameter drift must change the derived address")
		})
	}
}

func TestLegacyParamsDivergeFromCanonical(t *testing.T) {
	owner := common.HexToAddress("0x1111111111111111111111111111111111111111")

	canonical := newTestDeriver(t)
	legacy, err := NewDeriver(LegacyParams(), CanonicalSignerParams())
	require.NoError(t, err)

	a, err := canonical.OwnerAddress(owner)
	require.NoError(t, err)
	b, err := legacy.OwnerAddress(owner)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestPasskeyWalletAddress(t *testing.T) {
	d := newTestDeriver(t)

	x := bytes.Repeat([]byte{0x11}, 32)
	y := bytes.Repeat([]byte{0x22}, 32)

	first, err := d.PasskeyWalletAddress(x, y)
	require.NoError(t, err)
	second, err := d.PasskeyWalletAddress(x, y)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// Swapped coordinates are a different key.
	swapped, err := d.PasskeyWalletAddress(y, x)
	require.NoError(t, err)
	assert.NotEqual(t, first, swapped)

	// The signer contract is the wallet's owner, never the wallet itself.
	signer, err := d.PasskeySignerAddress(x, y)
	require.NoError(t, err)
	assert.NotEqual(t, signer, first)

	viaSigner, err := d.OwnerAddress(signer)
	require.NoError(t, err)
	assert.Equal(t, first, viaSigner)
}

func TestPasskeySignerAddressCoordinateValidation(t *testing.T) {
	d := newTestDeriver(t)

	valid := bytes.Repeat([]byte{0x01}, 32)
	tooLong := bytes.Repeat([]byte{0x01}, 33)

	_, err := d.PasskeySignerAddress(nil, valid)
	assert.Error(t, err)
	_, err = d.PasskeySignerAddress(valid, nil)
	assert.Error(t, err)
	_, err = d.PasskeySignerAddress(tooLong, valid)
	assert.Error(t, err)

	// Short coordinates are left-padded, so a 31-byte coordinate equals its
	// zero-prefixed 32-byte form.
	short, err := d.PasskeySignerAddress(valid[1:], valid)
	require.NoError(t, err)
	padded, err := d.PasskeySignerAddress(append([]byte{0x00}, valid[1:]...), valid)
	require.NoError(t, err)
	assert.Equal(t, short, padded)
}

func TestRescueCandidateAddress(t *testing.T) {
	a := RescueCandidateAddress("credential-one")
	b := RescueCandidateAddress("credential-one")
	c := RescueCandidateAddress("credential-two")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, common.Address{}, a)
}

func TestInitializerEncodingStable(t *testing.T) {
	d := newTestDeriver(t)
	owner := common.HexToAddress("0x1111111111111111111111111111111111111111")

	first, err := d.InitializerFor(owner)
	require.NoError(t, err)
	second, err := d.InitializerFor(owner)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	// setup() selector.
	assert.Equal(t, []byte{0xb6, 0x3e, 0x80, 0x0d}, first[:4])
}
