// ABOUTME: Tests for general-JWS sign/verify round-trip and failure modes
// ABOUTME: Exercises the three authorization error kinds against a StaticResolver

package jws

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"testing"

	jose "github.com/go-jose/go-jose/v4"
)

func newTestKey(t *testing.T) (ed25519.PrivateKey, ed25519.PublicKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return priv, pub
}

func verificationMethodFor(did string, pub ed25519.PublicKey) (string, *DidDocument) {
	kid := did + "#key-1"
	return kid, &DidDocument{
		ID: did,
		VerificationMethod: []VerificationMethod{
			{
				ID:   kid,
				Type: "JsonWebKey2020",
				PublicKeyJwk: map[string]any{
					"kty": "OKP",
					"crv": "Ed25519",
					"x":   base64URLEncode(pub),
				},
			},
		},
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	priv, pub := newTestKey(t)
	did := "did:example:alice"
	kid, doc := verificationMethodFor(did, pub)

	resolver := NewStaticResolver()
	resolver.Register(did, doc)

	payload := []byte(`{"descriptorCid":"bafyabc","recordId":"bafyrecord"}`)
	gjws, err := Sign(payload, priv, kid, jose.EdDSA)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	got, _, err := Verify(context.Background(), gjws, resolver)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("recovered payload mismatch: got %s want %s", got, payload)
	}
}

func TestVerifyUnresolvableDid(t *testing.T) {
	priv, pub := newTestKey(t)
	did := "did:example:alice"
	kid, _ := verificationMethodFor(did, pub)

	resolver := NewStaticResolver()

	gjws, err := Sign([]byte(`{"x":1}`), priv, kid, jose.EdDSA)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	if _, _, err := Verify(context.Background(), gjws, resolver); err != ErrUnresolvableDid {
		t.Fatalf("expected ErrUnresolvableDid, got %v", err)
	}
}

func TestVerifyUnknownKid(t *testing.T) {
	priv, pub := newTestKey(t)
	did := "did:example:alice"
	_, doc := verificationMethodFor(did, pub)

	resolver := NewStaticResolver()
	resolver.Register(did, doc)

	gjws, err := Sign([]byte(`{"x":1}`), priv, did+"#no-such-key", jose.EdDSA)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	if _, _, err := Verify(context.Background(), gjws, resolver); err != ErrUnknownKid {
		t.Fatalf("expected ErrUnknownKid, got %v", err)
	}
}

func TestVerifyBadSignature(t *testing.T) {
	priv, pub := newTestKey(t)
	did := "did:example:alice"
	kid, doc := verificationMethodFor(did, pub)

	resolver := NewStaticResolver()
	resolver.Register(did, doc)

	gjws, err := Sign([]byte(`{"x":1}`), priv, kid, jose.EdDSA)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	// Tamper with the payload without re-signing.
	gjws.Payload = base64URLEncode([]byte(`{"x":2}`))

	if _, _, err := Verify(context.Background(), gjws, resolver); err != ErrBadSignature {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}
}

func TestEncodeDecodePayloadRoundTrip(t *testing.T) {
	type payload struct {
		DescriptorCid string `json:"descriptorCid"`
		RecordID      string `json:"recordId"`
	}

	in := payload{DescriptorCid: "bafyabc", RecordID: "bafyrecord"}
	encoded, err := EncodePayload(in)
	if err != nil {
		t.Fatalf("EncodePayload: %v", err)
	}

	gjws := &GeneralJWS{Payload: base64URLEncode(encoded)}

	var out payload
	if err := DecodePayload(gjws, &out); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if out != in {
		t.Fatalf("round-trip mismatch: got %+v want %+v", out, in)
	}
}

func base64URLEncode(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}
