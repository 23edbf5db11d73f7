// ABOUTME: CID derivation: SHA-256 multihash over canonical CBOR, wrapped as CIDv1
// ABOUTME: All CID comparisons elsewhere in the write pipeline are on the base32 string form

package dwncid

import (
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// dagCbor is the multicodec code for the CBOR codec used to derive CIDs.
const dagCbor = 0x51

// Derive computes the content identifier of v: SHA-256 over the
// canonical CBOR encoding of v, wrapped as a CIDv1 with the cbor codec.
func Derive(v any) (cid.Cid, error) {
	encoded, err := Encode(v)
	if err != nil {
		return cid.Undef, err
	}
	return DeriveBytes(encoded)
}

// DeriveBytes wraps pre-encoded bytes as a CIDv1 without re-encoding.
// Used to CID an already-canonicalized descriptor and to derive the
// dataCid of a raw payload (encodedData is hashed as-is, never through
// Encode, since it is not a CBOR-encodable structure).
func DeriveBytes(encoded []byte) (cid.Cid, error) {
	mh, err := multihash.Sum(encoded, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, fmt.Errorf("dwncid: hash: %w", err)
	}
	return cid.NewCidV1(dagCbor, mh), nil
}

// DeriveString is Derive, returning the base32 text form used throughout
// the write pipeline: recordId/contextId/lineageParent comparisons and
// the §4.7 lexicographic tiebreak all operate on this string.
func DeriveString(v any) (string, error) {
	c, err := Derive(v)
	if err != nil {
		return "", err
	}
	return c.String(), nil
}

// DeriveBytesString is DeriveBytes, returning the base32 text form.
func DeriveBytesString(encoded []byte) (string, error) {
	c, err := DeriveBytes(encoded)
	if err != nil {
		return "", err
	}
	return c.String(), nil
}
