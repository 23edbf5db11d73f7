// ABOUTME: Deterministic CBOR encoding for descriptor and envelope values
// ABOUTME: Backs content-address derivation for recordId/contextId/message CIDs

package dwncid

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var canonicalMode = mustCanonicalEncMode()

func mustCanonicalEncMode() cbor.EncMode {
	opts := cbor.CanonicalEncOptions()
	mode, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("dwncid: building canonical CBOR mode: %v", err))
	}
	return mode
}

// Encode returns the deterministic CBOR encoding of v: sorted map keys,
// canonical integer encodings, no indefinite-length forms. Equal Go
// values encode to byte-identical output regardless of map literal
// order or call site.
func Encode(v any) ([]byte, error) {
	b, err := canonicalMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("dwncid: encode: %w", err)
	}
	return b, nil
}
