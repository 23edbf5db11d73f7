// ABOUTME: CollectionsWrite descriptor and its deterministic recordId/contextId derivation
// ABOUTME: Immutable-field contract shared by self-validation and the handler's tip-immutability check

package dwnmessage

import (
	"github.com/nainya/dwnnode/pkg/dwncid"
)

// MethodCollectionsWrite is the only descriptor method this subsystem handles.
const MethodCollectionsWrite = "CollectionsWrite"

// Descriptor is the canonical, signed body of a CollectionsWrite message.
type Descriptor struct {
	Method        string `json:"method" cbor:"method"`
	Recipient     string `json:"recipient" cbor:"recipient"`
	Schema        string `json:"schema" cbor:"schema"`
	Protocol      string `json:"protocol,omitempty" cbor:"protocol,omitempty"`
	ParentID      string `json:"parentId,omitempty" cbor:"parentId,omitempty"`
	DataCID       string `json:"dataCid" cbor:"dataCid"`
	DataFormat    string `json:"dataFormat" cbor:"dataFormat"`
	DateCreated   string `json:"dateCreated" cbor:"dateCreated"`
	DateModified  string `json:"dateModified" cbor:"dateModified"`
	Published     bool   `json:"published,omitempty" cbor:"published,omitempty"`
	DatePublished string `json:"datePublished,omitempty" cbor:"datePublished,omitempty"`
}

// immutableFields pairs a field name (as it appears in error details) with
// an accessor, so the root-vs-candidate walk in DiffImmutableField and the
// handler's tip-immutability check (spec.md §4.7 step 6) share one list.
var immutableFields = []struct {
	name string
	get  func(Descriptor) string
}{
	{"dateCreated", func(d Descriptor) string { return d.DateCreated }},
	{"schema", func(d Descriptor) string { return d.Schema }},
	{"dataFormat", func(d Descriptor) string { return d.DataFormat }},
	{"recipient", func(d Descriptor) string { return d.Recipient }},
	{"protocol", func(d Descriptor) string { return d.Protocol }},
	{"parentId", func(d Descriptor) string { return d.ParentID }},
}

// DiffImmutableField returns the name of the first immutable field on
// which candidate differs from root, or "" if every immutable field
// matches.
func DiffImmutableField(candidate, root Descriptor) string {
	for _, f := range immutableFields {
		if f.get(candidate) != f.get(root) {
			return f.name
		}
	}
	return ""
}

// recordIdentity is the immutable subset of a descriptor hashed to
// derive a lineage root's recordId (spec.md §3): dateCreated, schema,
// dataFormat, recipient, protocol, parentId, and the resolved author —
// author is not a descriptor field but is bound into the identity so two
// authors can never collide on the same recordId.
type recordIdentity struct {
	DateCreated string `cbor:"dateCreated"`
	Schema      string `cbor:"schema"`
	DataFormat  string `cbor:"dataFormat"`
	Recipient   string `cbor:"recipient"`
	Protocol    string `cbor:"protocol,omitempty"`
	ParentID    string `cbor:"parentId,omitempty"`
	Author      string `cbor:"author"`
}

// DeriveRecordID computes the lineage root recordId for a descriptor
// signed by author.
func DeriveRecordID(d Descriptor, author string) (string, error) {
	return dwncid.DeriveString(recordIdentity{
		DateCreated: d.DateCreated,
		Schema:      d.Schema,
		DataFormat:  d.DataFormat,
		Recipient:   d.Recipient,
		Protocol:    d.Protocol,
		ParentID:    d.ParentID,
		Author:      author,
	})
}

// contextRootIdentity is hashed once, at the creation of a protocol
// context's top-level record (the one with no parentId), to produce the
// contextId shared verbatim by every descendant in that context tree —
// "under the same contextId" in spec.md §8 scenario 5/6 is read literally.
type contextRootIdentity struct {
	RecordID string `cbor:"recordId"`
}

// DeriveContextID computes the contextId for a protocol context's
// top-level record from its own recordId.
func DeriveContextID(contextRootRecordID string) (string, error) {
	return dwncid.DeriveString(contextRootIdentity{RecordID: contextRootRecordID})
}

// DescriptorCID is the CID of the descriptor alone, bound into the JWS
// payload (spec.md §6 "Authorization JWS payload").
func DescriptorCID(d Descriptor) (string, error) {
	return dwncid.DeriveString(d)
}
