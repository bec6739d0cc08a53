// Package vault collects per-owner signatures for a multi-sig wallet
// transaction and executes it once the threshold is met.
package vault

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/spritz-hq/spritz/core"
)

// contractSignatureType is the final static-entry byte marking an ERC-1271
// contract signature.
const contractSignatureType = 0x00

const staticEntrySize = 65

// AssembleSignatureBytes serializes owner signatures into the byte layout the
// wallet contract expects: a static region of 65-byte entries sorted
// ascending by owner address, followed by a dynamic region holding each
// contract signature as a 32-byte length plus raw bytes. Each contract entry's
// middle word is the byte offset of its dynamic blob within the full buffer.
func AssembleSignatureBytes(signatures []core.OwnerSignature) ([]byte, error) {
	if len(signatures) == 0 {
		return nil, core.ErrMissingFields
	}

	sorted := make([]core.OwnerSignature, len(signatures))
	copy(sorted, signatures)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].Owner.Bytes(), sorted[j].Owner.Bytes()) < 0
	})
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Owner == sorted[i-1].Owner {
			return nil, fmt.Errorf("duplicate owner %s: %w", sorted[i].Owner.Hex(), core.ErrMalformedBytes)
		}
	}

	var static, dynamic bytes.Buffer
	dynamicOffset := staticEntrySize * len(sorted)

	for _, sig := range sorted {
		switch sig.Kind {
		case core.SignerEOA:
			if len(sig.Signature) != 65 {
				return nil, fmt.Errorf("eoa signature must be 65 bytes, got %d: %w", len(sig.Signature), core.ErrMalformedBytes)
			}
			static.Write(sig.Signature)

		case core.SignerContract:
			// Header: left-padded owner address, offset into the full buffer,
			// contract signature marker.
			static.Write(common.LeftPadBytes(sig.Owner.Bytes(), 32))
			static.Write(encodeUint256(uint64(dynamicOffset + dynamic.Len())))
			static.WriteByte(contractSignatureType)

			dynamic.Write(encodeUint256(uint64(len(sig.Signature))))
			dynamic.Write(sig.Signature)

		default:
			return nil, fmt.Errorf("unknown signer kind %d: %w", sig.Kind, core.ErrMalformedBytes)
		}
	}

	return append(static.Bytes(), dynamic.Bytes()...), nil
}

// DecodeSignatureBytes walks the static and dynamic regions of an assembled
// buffer and recovers each entry. EOA entries come back with a zero owner
// address since recovery requires the signed hash.
func DecodeSignatureBytes(data []byte, count int) ([]core.OwnerSignature, error) {
	if count <= 0 || len(data) < staticEntrySize*count {
		return nil, core.ErrMalformedBytes
	}

	out := make([]core.OwnerSignature, 0, count)
	for i := 0; i < count; i++ {
		entry := data[i*staticEntrySize : (i+1)*staticEntrySize]

		if entry[64] != contractSignatureType {
			sig := make([]byte, staticEntrySize)
			copy(sig, entry)
			out = append(out, core.OwnerSignature{Kind: core.SignerEOA, Signature: sig})
			continue
		}

		owner := common.BytesToAddress(entry[12:32])
		// Compared without addition on the attacker-controlled side so a
		// crafted word near 2^64 cannot wrap past the check.
		limit := uint64(len(data))
		offset, ok := decodeUint256(entry[32:64])
		if !ok || offset < uint64(staticEntrySize*count) || offset > limit-32 {
			return nil, fmt.Errorf("contract signature offset out of bounds: %w", core.ErrMalformedBytes)
		}
		length, ok := decodeUint256(data[offset : offset+32])
		if !ok || length > limit-offset-32 {
			return nil, fmt.Errorf("contract signature length out of bounds: %w", core.ErrMalformedBytes)
		}
		sig := make([]byte, length)
		copy(sig, data[offset+32:offset+32+length])
		out = append(out, core.OwnerSignature{Owner: owner, Kind: core.SignerContract, Signature: sig})
	}

	return out, nil
}

func encodeUint256(v uint64) []byte {
	word := make([]byte, 32)
	binary.BigEndian.PutUint64(word[24:], v)
	return word
}

func decodeUint256(word []byte) (uint64, bool) {
	for _, b := range word[:24] {
		if b != 0 {
			return 0, false
		}
	}
	return binary.BigEndian.Uint64(word[24:]), true
}
