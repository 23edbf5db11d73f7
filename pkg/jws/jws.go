// ABOUTME: General-JWS construction and verification over a resolved DID key
// ABOUTME: Wire shape matches spec exactly: {payload, signatures:[{protected,signature}]}

package jws

import (
	"context"
	"crypto"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	jose "github.com/go-jose/go-jose/v4"
)

// Error kinds returned by Verify, per the authorization taxonomy.
var (
	ErrUnresolvableDid = errors.New("jws: unresolvable did")
	ErrUnknownKid      = errors.New("jws: unknown kid")
	ErrBadSignature    = errors.New("jws: bad signature")
)

// allowedAlgs bounds the signature algorithms Verify will accept.
// EdDSA (Ed25519) is the default signing algorithm for DWN authors; ES256
// is accepted for verification methods advertised with an EC P-256 key.
var allowedAlgs = []jose.SignatureAlgorithm{jose.EdDSA, jose.ES256}

// GeneralJWS is the general (non-compact) JWS envelope carried as
// Message.Authorization: one payload, one or more detached signatures.
type GeneralJWS struct {
	Payload    string      `json:"payload"`
	Signatures []Signature `json:"signatures"`
}

// Signature is a single detached signature over GeneralJWS.Payload.
type Signature struct {
	Protected string `json:"protected"`
	Signature string `json:"signature"`
}

type protectedHeader struct {
	Alg string `json:"alg"`
	Kid string `json:"kid"`
}

// Sign produces a general JWS over payload, signed by key and identified
// by kid — a DID URL fragment of the form "did:example:alice#key-1".
func Sign(payload []byte, key crypto.Signer, kid string, alg jose.SignatureAlgorithm) (*GeneralJWS, error) {
	opts := &jose.SignerOptions{}
	opts.WithHeader("kid", jose.HeaderKey(kid))

	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: alg, Key: key}, opts)
	if err != nil {
		return nil, fmt.Errorf("jws: new signer: %w", err)
	}

	signed, err := signer.Sign(payload)
	if err != nil {
		return nil, fmt.Errorf("jws: sign: %w", err)
	}

	// With a single signature go-jose emits the flattened serialization
	// ({payload, protected, signature}), so rebuild the general form here.
	raw := signed.FullSerialize()

	var flat struct {
		Payload   string `json:"payload"`
		Protected string `json:"protected"`
		Signature string `json:"signature"`
	}
	if err := json.Unmarshal([]byte(raw), &flat); err != nil {
		return nil, fmt.Errorf("jws: decode serialized signature: %w", err)
	}
	return &GeneralJWS{
		Payload:    flat.Payload,
		Signatures: []Signature{{Protected: flat.Protected, Signature: flat.Signature}},
	}, nil
}

// Verify checks every signature in gjws against a DID-resolved
// verification method and returns the recovered payload bytes plus the
// author DID recovered from the (first) signature's kid. Every
// signature must verify; the last recovered payload is returned since
// a well-formed GeneralJWS only ever carries one payload.
func Verify(ctx context.Context, gjws *GeneralJWS, resolver DidResolver) ([]byte, string, error) {
	if gjws == nil || len(gjws.Signatures) == 0 {
		return nil, "", ErrBadSignature
	}

	var payload []byte
	var author string
	for _, sig := range gjws.Signatures {
		hdr, err := decodeProtectedHeader(sig.Protected)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrBadSignature, err)
		}

		did, _ := splitDidURL(hdr.Kid)
		if author == "" {
			author = did
		}

		res, err := resolver.Resolve(ctx, did)
		if err != nil || res == nil || res.DidDocument == nil {
			return nil, "", ErrUnresolvableDid
		}

		vm := res.DidDocument.FindVerificationMethod(hdr.Kid)
		if vm == nil {
			return nil, "", ErrUnknownKid
		}

		jwk, err := vm.JSONWebKey()
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrBadSignature, err)
		}

		compact := sig.Protected + "." + gjws.Payload + "." + sig.Signature
		parsed, err := jose.ParseSigned(compact, allowedAlgs)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrBadSignature, err)
		}

		out, err := parsed.Verify(jwk)
		if err != nil {
			return nil, "", ErrBadSignature
		}
		payload = out
	}

	return payload, author, nil
}

func decodeProtectedHeader(protected string) (protectedHeader, error) {
	raw, err := base64.RawURLEncoding.DecodeString(protected)
	if err != nil {
		return protectedHeader{}, fmt.Errorf("bad protected header encoding: %w", err)
	}
	var hdr protectedHeader
	if err := json.Unmarshal(raw, &hdr); err != nil {
		return protectedHeader{}, fmt.Errorf("bad protected header: %w", err)
	}
	return hdr, nil
}

// splitDidURL splits a DID URL into its bare DID and fragment.
func splitDidURL(didURL string) (did string, fragment string) {
	if idx := strings.Index(didURL, "#"); idx >= 0 {
		return didURL[:idx], didURL[idx+1:]
	}
	return didURL, ""
}

// DecodePayload base64url-decodes a GeneralJWS payload into dst.
func DecodePayload(gjws *GeneralJWS, dst any) error {
	raw, err := base64.RawURLEncoding.DecodeString(gjws.Payload)
	if err != nil {
		return fmt.Errorf("jws: decode payload: %w", err)
	}
	return json.Unmarshal(raw, dst)
}

// EncodePayload JSON-encodes src as the raw JWS payload bytes; Sign's
// go-jose signer base64url-encodes them into GeneralJWS.Payload.
func EncodePayload(src any) ([]byte, error) {
	raw, err := json.Marshal(src)
	if err != nil {
		return nil, fmt.Errorf("jws: encode payload: %w", err)
	}
	return raw, nil
}
