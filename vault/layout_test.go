package vault

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spritz-hq/spritz/core"
)

func eoaSig(fill byte) []byte {
	return bytes.Repeat([]byte{fill}, 65)
}

func TestAssembleSortsByOwnerAddress(t *testing.T) {
	high := common.HexToAddress("0xCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCC")
	low := common.HexToAddress("0x1111111111111111111111111111111111111111")

	assembled, err := AssembleSignatureBytes([]core.OwnerSignature{
		{Owner: high, Kind: core.SignerEOA, Signature: eoaSig(0xCC)},
		{Owner: low, Kind: core.SignerEOA, Signature: eoaSig(0x11)},
	})
	require.NoError(t, err)
	require.Len(t, assembled, 130)

	// The lower address's entry must come first regardless of input order.
	assert.Equal(t, eoaSig(0x11), assembled[:65])
	assert.Equal(t, eoaSig(0xCC), assembled[65:])
}

func TestAssembleContractSignatureLayout(t *testing.T) {
	eoaOwner := common.HexToAddress("0x1111111111111111111111111111111111111111")
	contractOwner := common.HexToAddress("0x2222222222222222222222222222222222222222")
	contractSig := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x01}

	assembled, err := AssembleSignatureBytes([]core.OwnerSignature{
		{Owner: contractOwner, Kind: core.SignerContract, Signature: contractSig},
		{Owner: eoaOwner, Kind: core.SignerEOA, Signature: eoaSig(0x11)},
	})
	require.NoError(t, err)

	// Static region: two 65-byte entries, then the dynamic region.
	require.Len(t, assembled, 130+32+len(contractSig))

	entry := assembled[65:130]
	assert.Equal(t, contractOwner.Bytes(), entry[12:32], "owner address left-padded into the first word")
	assert.Equal(t, byte(0x00), entry[64], "contract signature marker")

	offset := binary.BigEndian.Uint64(entry[56:64])
	assert.Equal(t, uint64(130), offset, "offset points past the static region")

	length := binary.BigEndian.Uint64(assembled[offset+24 : offset+32])
	assert.Equal(t, uint64(len(contractSig)), length)
	assert.Equal(t, contractSig, assembled[offset+32:])
}

func TestAssembleDecodeRoundTrip(t *testing.T) {
	owners := []core.OwnerSignature{
		{
			Owner:     common.HexToAddress("0x3333333333333333333333333333333333333333"),
			Kind:      core.SignerContract,
			Signature: bytes.Repeat([]byte{0xAB}, 77),
		},
		{
			Owner:     common.HexToAddress("0x1111111111111111111111111111111111111111"),
			Kind:      core.SignerEOA,
			Signature: eoaSig(0x11),
		},
		{
			Owner:     common.HexToAddress("0x2222222222222222222222222222222222222222"),
			Kind:      core.SignerContract,
			Signature: []byte{0x01},
		},
	}

	assembled, err := AssembleSignatureBytes(owners)
	require.NoError(t, err)

	decoded, err := DecodeSignatureBytes(assembled, len(owners))
	require.NoError(t, err)
	require.Len(t, decoded, 3)

	// Sorted order: 0x11... (EOA), 0x22... (contract), 0x33... (contract).
	assert.Equal(t, core.SignerEOA, decoded[0].Kind)
	assert.Equal(t, eoaSig(0x11), decoded[0].Signature)

	assert.Equal(t, core.SignerContract, decoded[1].Kind)
	assert.Equal(t, common.HexToAddress("0x2222222222222222222222222222222222222222"), decoded[1].Owner)
	assert.Equal(t, []byte{0x01}, decoded[1].Signature)

	assert.Equal(t, core.SignerContract, decoded[2].Kind)
	assert.Equal(t, bytes.Repeat([]byte{0xAB}, 77), decoded[2].Signature)
}

func TestAssembleRejectsBadInput(t *testing.T) {
	owner := common.HexToAddress("0x1111111111111111111111111111111111111111")

	_, err := AssembleSignatureBytes(nil)
	assert.ErrorIs(t, err, core.ErrMissingFields)

	_, err = AssembleSignatureBytes([]core.OwnerSignature{
		{Owner: owner, Kind: core.SignerEOA, Signature: eoaSig(0x11)},
		{Owner: owner, Kind: core.SignerEOA, Signature: eoaSig(0x22)},
	})
	assert.ErrorIs(t, err, core.ErrMalformedBytes)

	_, err = AssembleSignatureBytes([]core.OwnerSignature{
		{Owner: owner, Kind: core.SignerEOA, Signature: []byte{0x01, 0x02}},
	})
	assert.ErrorIs(t, err, core.ErrMalformedBytes)
}

func TestDecodeRejectsMalformedBuffers(t *testing.T) {
	_, err := DecodeSignatureBytes(nil, 1)
	assert.ErrorIs(t, err, core.ErrMalformedBytes)

	_, err = DecodeSignatureBytes(make([]byte, 64), 1)
	assert.ErrorIs(t, err, core.ErrMalformedBytes)

	// Contract entry whose offset points outside the buffer.
	entry := make([]byte, 65)
	binary.BigEndian.PutUint64(entry[56:64], 1000)
	entry[64] = 0x00
	_, err = DecodeSignatureBytes(entry, 1)
	assert.ErrorIs(t, err, core.ErrMalformedBytes)

	// Offset into the static region is equally invalid.
	binary.BigEndian.PutUint64(entry[56:64], 0)
	_, err = DecodeSignatureBytes(entry, 1)
	assert.ErrorIs(t, err, core.ErrMalformedBytes)

	// A length word near 2^64 would wrap an additive bounds check and then
	// blow up allocating the slice; it must be rejected outright.
	buf := make([]byte, 65+32)
	binary.BigEndian.PutUint64(buf[56:64], 65)
	buf[64] = 0x00
	binary.BigEndian.PutUint64(buf[65+24:], ^uint64(0)-89)
	_, err = DecodeSignatureBytes(buf, 1)
	assert.ErrorIs(t, err, core.ErrMalformedBytes)
}
