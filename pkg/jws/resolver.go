// ABOUTME: DID resolution collaborator interface and a static test double
// ABOUTME: Real DID-method resolution is an external collaborator, out of scope here

package jws

import (
	"context"
	"encoding/json"
	"fmt"

	jose "github.com/go-jose/go-jose/v4"
)

// DidResolver resolves a DID URL to its DID document. Implementations of
// specific DID methods (did:key, did:web, did:ion, ...) are external
// collaborators outside this subsystem's scope (spec.md §6).
type DidResolver interface {
	Resolve(ctx context.Context, didURL string) (*DidResolutionResult, error)
}

// DidResolutionResult mirrors the shape returned by a DID resolver per
// the DID Core resolution spec: document plus the two metadata bags.
type DidResolutionResult struct {
	DidDocument           *DidDocument
	DidDocumentMetadata   map[string]any
	DidResolutionMetadata map[string]any
}

// DidDocument holds the subset of a DID document this subsystem needs:
// the verification methods used to check a JWS signature.
type DidDocument struct {
	ID                 string               `json:"id"`
	VerificationMethod []VerificationMethod `json:"verificationMethod"`
}

// FindVerificationMethod looks up a verification method by its full id
// (e.g. "did:example:alice#key-1"), as carried in a JWS protected
// header's "kid".
func (d *DidDocument) FindVerificationMethod(id string) *VerificationMethod {
	for i := range d.VerificationMethod {
		if d.VerificationMethod[i].ID == id {
			return &d.VerificationMethod[i]
		}
	}
	return nil
}

// VerificationMethod is one entry of a DID document's verificationMethod
// array, carrying the public key as a JWK.
type VerificationMethod struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Controller   string         `json:"controller,omitempty"`
	PublicKeyJwk map[string]any `json:"publicKeyJwk,omitempty"`
}

// JSONWebKey parses the verification method's publicKeyJwk into a
// go-jose JSONWebKey usable for signature verification.
func (vm *VerificationMethod) JSONWebKey() (*jose.JSONWebKey, error) {
	if vm.PublicKeyJwk == nil {
		return nil, fmt.Errorf("jws: verification method %q has no publicKeyJwk", vm.ID)
	}
	raw, err := json.Marshal(vm.PublicKeyJwk)
	if err != nil {
		return nil, fmt.Errorf("jws: marshal publicKeyJwk: %w", err)
	}
	var jwk jose.JSONWebKey
	if err := jwk.UnmarshalJSON(raw); err != nil {
		return nil, fmt.Errorf("jws: parse publicKeyJwk: %w", err)
	}
	return &jwk, nil
}

// StaticResolver is a DidResolver test double backed by a fixed map of
// DID -> resolution result. It is not a real DID method implementation;
// production deployments inject a resolver for the DID methods they
// support.
type StaticResolver struct {
	docs map[string]*DidResolutionResult
}

// NewStaticResolver builds a StaticResolver from a DID -> document map.
func NewStaticResolver() *StaticResolver {
	return &StaticResolver{docs: make(map[string]*DidResolutionResult)}
}

// Register adds or replaces the resolution result for a DID.
func (r *StaticResolver) Register(did string, doc *DidDocument) {
	r.docs[did] = &DidResolutionResult{DidDocument: doc}
}

// Resolve implements DidResolver.
func (r *StaticResolver) Resolve(ctx context.Context, didURL string) (*DidResolutionResult, error) {
	did, _ := splitDidURL(didURL)
	res, ok := r.docs[did]
	if !ok {
		return nil, fmt.Errorf("jws: no document registered for %q", did)
	}
	return res, nil
}
