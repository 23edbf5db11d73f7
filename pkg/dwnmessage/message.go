// ABOUTME: Message envelope construction: lineage roots and lineage children
// ABOUTME: Wire shape matches spec.md §6 exactly; CID is computed once and cached, never recomputed lazily

package dwnmessage

import (
	"crypto"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	jose "github.com/go-jose/go-jose/v4"

	"github.com/nainya/dwnnode/pkg/dwncid"
	"github.com/nainya/dwnnode/pkg/jws"
)

// timestampLayout is ISO-8601 with microsecond precision in UTC,
// lexicographically comparable as a string (spec.md §6 "Timestamps").
const timestampLayout = "2006-01-02T15:04:05.000000Z"

// EncodedData is a record payload, marshaled as base64url text on the
// wire per spec.md §6's envelope.
type EncodedData []byte

func (d EncodedData) MarshalJSON() ([]byte, error) {
	if d == nil {
		return []byte("null"), nil
	}
	return json.Marshal(base64.RawURLEncoding.EncodeToString(d))
}

func (d *EncodedData) UnmarshalJSON(b []byte) error {
	var s *string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == nil {
		*d = nil
		return nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(*s)
	if err != nil {
		return fmt.Errorf("dwnmessage: decode encodedData: %w", err)
	}
	*d = EncodedData(raw)
	return nil
}

// Message is a CollectionsWrite envelope (spec.md §3).
type Message struct {
	RecordID      string          `json:"recordId"`
	ContextID     string          `json:"contextId,omitempty"`
	Descriptor    Descriptor      `json:"descriptor"`
	Authorization *jws.GeneralJWS `json:"authorization"`
	EncodedData   EncodedData     `json:"encodedData,omitempty"`
	LineageParent string          `json:"lineageParent,omitempty"`

	// Author is the DID that signed Authorization. It is never read from
	// the wire: the handler sets it from jws.Verify's result before
	// SelfValidate reads it, and CreateRoot/CreateLineageChild set it to
	// the signer's DID.
	Author string `json:"-"`

	cid string
}

// cidSubset is what a message's own content identifier is derived over:
// everything that makes the message unique, so lineage children (which
// carry a new dateModified and signature) always get a new CID.
type cidSubset struct {
	Descriptor    Descriptor      `cbor:"descriptor"`
	Authorization *jws.GeneralJWS `cbor:"authorization"`
	RecordID      string          `cbor:"recordId"`
	ContextID     string          `cbor:"contextId,omitempty"`
	LineageParent string          `cbor:"lineageParent,omitempty"`
}

// CID returns the message's own content identifier, computed once at
// construction/decode time.
func (m *Message) CID() string {
	return m.cid
}

func (m *Message) computeCID() error {
	cid, err := dwncid.DeriveString(cidSubset{
		Descriptor:    m.Descriptor,
		Authorization: m.Authorization,
		RecordID:      m.RecordID,
		ContextID:     m.ContextID,
		LineageParent: m.LineageParent,
	})
	if err != nil {
		return fmt.Errorf("dwnmessage: derive message cid: %w", err)
	}
	m.cid = cid
	return nil
}

// MarshalEnvelope serializes the message to its JSON wire form.
func (m *Message) MarshalEnvelope() ([]byte, error) {
	return json.Marshal(m)
}

// UnmarshalEnvelope parses a JSON wire envelope and computes its CID.
func UnmarshalEnvelope(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("dwnmessage: unmarshal envelope: %w", err)
	}
	if err := m.computeCID(); err != nil {
		return nil, err
	}
	return &m, nil
}

// authzPayload is the decoded JWS payload bound to a message (spec.md
// §6 "Authorization JWS payload").
type authzPayload struct {
	DescriptorCID string `json:"descriptorCid"`
	RecordID      string `json:"recordId"`
	ContextID     string `json:"contextId,omitempty"`
}

// Signer is the key material and identity a caller signs a message
// with: a crypto.Signer, the DID URL fragment identifying the
// verification method, the algorithm, and the signer's own DID (bound
// into recordId derivation as "author").
type Signer struct {
	Key    crypto.Signer
	KID    string
	Alg    jose.SignatureAlgorithm
	Author string
}

func (s Signer) sign(payload []byte) (*jws.GeneralJWS, error) {
	return jws.Sign(payload, s.Key, s.KID, s.Alg)
}

// RootInput describes a new lineage root to construct.
type RootInput struct {
	Recipient  string
	Schema     string
	DataFormat string
	Data       []byte
	Protocol   string
	ParentID   string
	Published  bool

	// ProtocolParent is the protocol-structural ancestor referenced by
	// ParentID, when this root is itself a non-top-level record within a
	// protocol context. Its ContextID is inherited verbatim. Leave nil
	// for an unscoped record or a context's top-level record.
	ProtocolParent *Message
}

// CreateRoot builds and signs a new lineage root (spec.md §4.4).
func CreateRoot(input RootInput, signer Signer) (*Message, error) {
	now := time.Now().UTC().Format(timestampLayout)

	dataCID, err := dwncid.DeriveBytesString(input.Data)
	if err != nil {
		return nil, fmt.Errorf("dwnmessage: derive dataCid: %w", err)
	}

	desc := Descriptor{
		Method:       MethodCollectionsWrite,
		Recipient:    input.Recipient,
		Schema:       input.Schema,
		Protocol:     input.Protocol,
		ParentID:     input.ParentID,
		DataCID:      dataCID,
		DataFormat:   input.DataFormat,
		DateCreated:  now,
		DateModified: now,
		Published:    input.Published,
	}
	if input.Published {
		desc.DatePublished = now
	}

	recordID, err := DeriveRecordID(desc, signer.Author)
	if err != nil {
		return nil, fmt.Errorf("dwnmessage: derive recordId: %w", err)
	}

	var contextID string
	if desc.Protocol != "" {
		if desc.ParentID == "" {
			contextID, err = DeriveContextID(recordID)
			if err != nil {
				return nil, fmt.Errorf("dwnmessage: derive contextId: %w", err)
			}
		} else {
			if input.ProtocolParent == nil {
				return nil, fmt.Errorf("dwnmessage: protocol-scoped record with parentId requires ProtocolParent")
			}
			contextID = input.ProtocolParent.ContextID
		}
	}

	msg, err := sign(desc, recordID, contextID, "", EncodedData(input.Data), signer)
	if err != nil {
		return nil, err
	}
	msg.Author = signer.Author
	return msg, nil
}

// ChildOverrides carries the fields a lineage child may set. DataFormat
// is one of the immutable fields: a child built with it set breaks the
// immutable-field contract and is rejected by the write handler.
type ChildOverrides struct {
	Data         []byte
	DataFormat   string // "" keeps the parent's dataFormat
	Published    *bool  // nil keeps the parent's published flag
	DateModified time.Time
}

// CreateLineageChild builds and signs a new tip for parent's record
// (spec.md §4.4): inherits recordId, contextId, and every immutable
// field except dataFormat when overrides.DataFormat is set; sets
// lineageParent to parent's CID.
func CreateLineageChild(parent *Message, overrides ChildOverrides, signer Signer) (*Message, error) {
	dateModified := overrides.DateModified
	if dateModified.IsZero() {
		dateModified = time.Now().UTC()
	}

	dataFormat := parent.Descriptor.DataFormat
	if overrides.DataFormat != "" {
		dataFormat = overrides.DataFormat
	}

	published := parent.Descriptor.Published
	if overrides.Published != nil {
		published = *overrides.Published
	}

	dataCID, err := dwncid.DeriveBytesString(overrides.Data)
	if err != nil {
		return nil, fmt.Errorf("dwnmessage: derive dataCid: %w", err)
	}

	desc := parent.Descriptor
	desc.DataCID = dataCID
	desc.DataFormat = dataFormat
	desc.DateModified = dateModified.Format(timestampLayout)
	desc.Published = published
	if published && desc.DatePublished == "" {
		desc.DatePublished = desc.DateModified
	}

	msg, err := sign(desc, parent.RecordID, parent.ContextID, parent.CID(), EncodedData(overrides.Data), signer)
	if err != nil {
		return nil, err
	}
	msg.Author = signer.Author
	return msg, nil
}

func sign(desc Descriptor, recordID, contextID, lineageParent string, data EncodedData, signer Signer) (*Message, error) {
	descriptorCID, err := DescriptorCID(desc)
	if err != nil {
		return nil, fmt.Errorf("dwnmessage: derive descriptorCid: %w", err)
	}

	payloadBytes, err := jws.EncodePayload(authzPayload{
		DescriptorCID: descriptorCID,
		RecordID:      recordID,
		ContextID:     contextID,
	})
	if err != nil {
		return nil, err
	}

	gjws, err := signer.sign(payloadBytes)
	if err != nil {
		return nil, fmt.Errorf("dwnmessage: sign: %w", err)
	}

	msg := &Message{
		RecordID:      recordID,
		ContextID:     contextID,
		Descriptor:    desc,
		Authorization: gjws,
		EncodedData:   data,
		LineageParent: lineageParent,
	}
	if err := msg.computeCID(); err != nil {
		return nil, err
	}
	return msg, nil
}
