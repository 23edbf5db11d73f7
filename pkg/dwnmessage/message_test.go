// ABOUTME: Tests for message construction, CID determinism, and self-validation
// ABOUTME: Exercises root/child creation and the spec.md §7 detail strings SelfValidate emits

package dwnmessage

import (
	"crypto/ed25519"
	"crypto/rand"
	"strings"
	"testing"

	jose "github.com/go-jose/go-jose/v4"

	"github.com/nainya/dwnnode/pkg/jws"
)

func newSigner(t *testing.T, author string) (Signer, *jws.StaticResolver) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	kid := author + "#key-1"
	resolver := jws.NewStaticResolver()
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
	return Signer{Key: priv, KID: kid, Alg: jose.EdDSA, Author: author}, resolver
}

func rawURLEncode(b []byte) string {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"
	var out []byte
	for i := 0; i < len(b); i += 3 {
		chunk := b[i:minInt(i+3, len(b))]
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

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func TestCreateRootProducesDeterministicRecordID(t *testing.T) {
	signer, _ := newSigner(t, "did:example:alice")

	msg, err := CreateRoot(RootInput{
		Recipient:  "did:example:alice",
		Schema:     "https://schema.example/email",
		DataFormat: "application/json",
		Data:       []byte(`{"subject":"hi"}`),
	}, signer)
	if err != nil {
		t.Fatalf("CreateRoot: %v", err)
	}

	expected, err := DeriveRecordID(msg.Descriptor, signer.Author)
	if err != nil {
		t.Fatalf("DeriveRecordID: %v", err)
	}
	if msg.RecordID != expected {
		t.Fatalf("recordId mismatch: got %s want %s", msg.RecordID, expected)
	}
	if msg.Descriptor.DateCreated != msg.Descriptor.DateModified {
		t.Fatalf("root dateCreated != dateModified")
	}
	if msg.LineageParent != "" {
		t.Fatalf("root must not have a lineageParent")
	}
}

func TestCreateLineageChildInheritsRecordID(t *testing.T) {
	signer, _ := newSigner(t, "did:example:alice")

	root, err := CreateRoot(RootInput{
		Recipient:  "did:example:alice",
		Schema:     "https://schema.example/email",
		DataFormat: "application/json",
		Data:       []byte("v1"),
	}, signer)
	if err != nil {
		t.Fatalf("CreateRoot: %v", err)
	}

	child, err := CreateLineageChild(root, ChildOverrides{Data: []byte("v2")}, signer)
	if err != nil {
		t.Fatalf("CreateLineageChild: %v", err)
	}

	if child.RecordID != root.RecordID {
		t.Fatalf("child recordId %s != root recordId %s", child.RecordID, root.RecordID)
	}
	if child.LineageParent != root.CID() {
		t.Fatalf("child lineageParent %s != root cid %s", child.LineageParent, root.CID())
	}
	if child.CID() == root.CID() {
		t.Fatalf("child cid must differ from root cid")
	}
}

func TestSelfValidateRejectsDataCidMismatch(t *testing.T) {
	signer, _ := newSigner(t, "did:example:alice")

	msg, err := CreateRoot(RootInput{
		Recipient:  "did:example:alice",
		Schema:     "s",
		DataFormat: "f",
		Data:       []byte("original"),
	}, signer)
	if err != nil {
		t.Fatalf("CreateRoot: %v", err)
	}

	msg.EncodedData = EncodedData("tampered")

	result := SelfValidate(msg, nil, mustMarshal(t, msg))
	if result.Success() {
		t.Fatalf("expected rejection, got success")
	}
	if !strings.Contains(result.Detail, "dataCid") {
		t.Fatalf("expected dataCid mismatch detail, got %q", result.Detail)
	}
}

func TestSelfValidateRejectsAuthorizationRecordIDMismatch(t *testing.T) {
	signer, _ := newSigner(t, "did:example:alice")

	msg, err := CreateRoot(RootInput{
		Recipient:  "did:example:alice",
		Schema:     "s",
		DataFormat: "f",
		Data:       []byte("v1"),
	}, signer)
	if err != nil {
		t.Fatalf("CreateRoot: %v", err)
	}

	msg.RecordID = "bafysomethingelse"

	result := SelfValidate(msg, nil, mustMarshal(t, msg))
	if result.Success() {
		t.Fatalf("expected rejection, got success")
	}
	if !strings.Contains(result.Detail, "does not match recordId in authorization") {
		t.Fatalf("unexpected detail: %q", result.Detail)
	}
}

func TestSelfValidateAcceptsValidRoot(t *testing.T) {
	signer, _ := newSigner(t, "did:example:alice")

	msg, err := CreateRoot(RootInput{
		Recipient:  "did:example:alice",
		Schema:     "s",
		DataFormat: "f",
		Data:       []byte("v1"),
	}, signer)
	if err != nil {
		t.Fatalf("CreateRoot: %v", err)
	}

	result := SelfValidate(msg, nil, mustMarshal(t, msg))
	if !result.Success() {
		t.Fatalf("expected success, got %v", result)
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	signer, _ := newSigner(t, "did:example:alice")

	msg, err := CreateRoot(RootInput{
		Recipient:  "did:example:alice",
		Schema:     "s",
		DataFormat: "f",
		Data:       []byte("v1"),
	}, signer)
	if err != nil {
		t.Fatalf("CreateRoot: %v", err)
	}

	blob, err := msg.MarshalEnvelope()
	if err != nil {
		t.Fatalf("MarshalEnvelope: %v", err)
	}

	decoded, err := UnmarshalEnvelope(blob)
	if err != nil {
		t.Fatalf("UnmarshalEnvelope: %v", err)
	}

	if decoded.CID() != msg.CID() {
		t.Fatalf("round-tripped cid mismatch: got %s want %s", decoded.CID(), msg.CID())
	}
	if decoded.RecordID != msg.RecordID {
		t.Fatalf("round-tripped recordId mismatch")
	}
}

func mustMarshal(t *testing.T, msg *Message) []byte {
	t.Helper()
	blob, err := msg.MarshalEnvelope()
	if err != nil {
		t.Fatalf("MarshalEnvelope: %v", err)
	}
	return blob
}
