// ABOUTME: Shared store/signer fixtures for the write-pipeline tests

package writehandler

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"os"
	"testing"

	jose "github.com/go-jose/go-jose/v4"

	"github.com/nainya/dwnnode/pkg/dwnmessage"
	"github.com/nainya/dwnnode/pkg/dwnstore"
	"github.com/nainya/dwnnode/pkg/jws"
)

func newTestStore(t *testing.T) *dwnstore.MessageStore {
	t.Helper()
	dbPath := fmt.Sprintf("/tmp/writehandler_test_%s.db", t.Name())
	os.Remove(dbPath)
	t.Cleanup(func() { os.Remove(dbPath) })

	store := dwnstore.NewMessageStore(dbPath)
	if err := store.Open(); err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newSigner(t *testing.T, resolver *jws.StaticResolver, author string) dwnmessage.Signer {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	kid := author + "#key-1"
	resolver.Register(author, &jws.DidDocument{
		ID: author,
		VerificationMethod: []jws.VerificationMethod{
			{
				ID:   kid,
				Type: "JsonWebKey2020",
				PublicKeyJwk: map[string]any{
					"kty": "OKP",
					"crv": "Ed25519",
					"x":   rawURLEncode(pub),
				},
			},
		},
	})
	return dwnmessage.Signer{Key: priv, KID: kid, Alg: jose.EdDSA, Author: author}
}

func rawURLEncode(b []byte) string {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"
	var out []byte
	for i := 0; i < len(b); i += 3 {
		end := i + 3
		if end > len(b) {
			end = len(b)
		}
		chunk := b[i:end]
		var n uint32
		for _, c := range chunk {
			n = n<<8 | uint32(c)
		}
		n <<= uint32(8 * (3 - len(chunk)))
		nChars := (len(chunk)*8 + 5) / 6
		for j := 0; j < nChars; j++ {
			shift := uint32(18 - 6*j)
			out = append(out, alphabet[(n>>shift)&0x3F])
		}
	}
	return string(out)
}
