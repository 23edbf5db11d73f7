// ABOUTME: Self-contained inbound-message validation (spec.md §4.4, pipeline step 3)
// ABOUTME: Lineage- and protocol-spanning checks are deferred to the resolver/authorizer that owns that context

package dwnmessage

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/nainya/dwnnode/pkg/dwncid"
	"github.com/nainya/dwnnode/pkg/jws"
)

// unmarshalJSON decodes envelope JSON the same way jsonschema.Schema.Validate
// expects (numbers as json.Number), matching the decoding jsonschema/v5 uses
// internally for document unmarshalling.
func unmarshalJSON(r *bytes.Reader) (interface{}, error) {
	decoder := json.NewDecoder(r)
	decoder.UseNumber()
	var doc interface{}
	if err := decoder.Decode(&doc); err != nil {
		return nil, err
	}
	if t, _ := decoder.Token(); t != nil {
		return nil, fmt.Errorf("invalid character %v after top-level value", t)
	}
	return doc, nil
}

// SelfValidate runs every check that does not require the lineage or
// protocol ancestors to already be resolved: envelope schema
// validation, `dataCid`/`encodedData` equality, JWS-payload-bound
// `recordId`/`contextId` equality, and — for a lineage root — the
// deterministic `recordId` and `dateCreated == dateModified` checks.
// `contextId` determinism for a protocol context's top-level record is
// checked here too; a deeper descendant's contextId can only be checked
// once its ancestor chain is resolved, so that check lives in the
// protocol ancestor walk (C6) instead (pkg/protocol's validateContextID).
func SelfValidate(msg *Message, schema *jsonschema.Schema, envelope []byte) Result {
	if schema != nil {
		doc, err := unmarshalJSON(bytes.NewReader(envelope))
		if err != nil {
			return BadRequest(fmt.Sprintf("malformed envelope: %v", err))
		}
		if err := schema.Validate(doc); err != nil {
			return BadRequest(fmt.Sprintf("envelope failed schema validation: %v", err))
		}
	}

	actualDataCID, err := dwncid.DeriveBytesString(msg.EncodedData)
	if err != nil {
		return BadRequest(fmt.Sprintf("unable to derive data cid: %v", err))
	}
	if actualDataCID != msg.Descriptor.DataCID {
		return BadRequest("actual CID of data and `dataCid` in descriptor mismatch")
	}

	var payload authzPayload
	if err := jws.DecodePayload(msg.Authorization, &payload); err != nil {
		return Unauthorized("bad signature")
	}
	if payload.RecordID != msg.RecordID {
		return BadRequest("does not match recordId in authorization")
	}
	if payload.ContextID != msg.ContextID {
		return BadRequest("does not match contextId in authorization")
	}

	if msg.LineageParent == "" {
		if msg.Descriptor.DateCreated != msg.Descriptor.DateModified {
			return BadRequest("dateModified must match dateCreated")
		}

		expectedRecordID, err := DeriveRecordID(msg.Descriptor, msg.Author)
		if err != nil {
			return BadRequest(fmt.Sprintf("unable to derive recordId: %v", err))
		}
		if expectedRecordID != msg.RecordID {
			return BadRequest("does not match deterministic recordId")
		}

		if msg.Descriptor.Protocol != "" && msg.Descriptor.ParentID == "" {
			expectedContextID, err := DeriveContextID(msg.RecordID)
			if err != nil {
				return BadRequest(fmt.Sprintf("unable to derive contextId: %v", err))
			}
			if expectedContextID != msg.ContextID {
				return BadRequest("does not match deterministic contextId")
			}
		}
	}

	return OK
}
