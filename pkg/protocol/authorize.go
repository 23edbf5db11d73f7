// ABOUTME: C6 protocol authorization: ancestor-chain walk + allow-rule evaluation (spec.md §4.6)
// ABOUTME: Ancestors are resolved by recordId -> store lookup at every step, never by in-memory pointer (spec.md §9)

package protocol

import (
	"fmt"
	"strings"

	"github.com/nainya/dwnnode/pkg/dwnmessage"
	"github.com/nainya/dwnnode/pkg/dwnstore"
	"github.com/nainya/dwnnode/pkg/lineage"
)

// ancestorStep is one resolved ancestor in a protocol context chain,
// oldest-first.
type ancestorStep struct {
	Label   string
	Message *dwnmessage.Message
}

// Authorize runs the spec.md §4.6 algorithm for an inbound
// protocol-scoped write by msg.Author targeting owner target.
// lineageParent is the message identified by msg.LineageParent (nil for
// a lineage root) — step 7 compares its author against msg's author
// regardless of how the allow rule above it was satisfied.
func Authorize(store *dwnstore.MessageStore, defs *Definitions, target string, msg *dwnmessage.Message, lineageParent *dwnmessage.Message) dwnmessage.Result {
	chain, res := ancestorMessages(store, target, msg)
	if !res.Success() {
		return res
	}

	// contextId is shared verbatim by every descendant of a protocol
	// context's top-level record (spec.md §3/§4.4). The top-level record
	// itself is checked in SelfValidate before any store lookup is
	// possible; every deeper descendant's contextId can only be checked
	// here, once its ancestor chain is resolved, and this must hold
	// regardless of who authored the write.
	if res := validateContextID(chain, msg); !res.Success() {
		return res
	}

	if msg.Author == target {
		return dwnmessage.OK
	}

	def, res := Fetch(store, defs, target, msg.Descriptor.Protocol)
	if !res.Success() {
		return res
	}

	cursor := def.Records
	ancestors := make([]ancestorStep, 0, len(chain))
	for _, a := range chain {
		label, rd, ok := resolveLabel(def, cursor, a.Descriptor.Schema)
		if !ok {
			return dwnmessage.Unauthorized("not allowed in structure level")
		}
		ancestors = append(ancestors, ancestorStep{Label: label, Message: a})
		cursor = rd.Records
	}

	_, rd, ok := resolveLabel(def, cursor, msg.Descriptor.Schema)
	if !ok {
		if len(labelsForSchema(def, msg.Descriptor.Schema)) == 0 {
			return dwnmessage.Unauthorized(fmt.Sprintf("record with schema '%s' not allowed in protocol", msg.Descriptor.Schema))
		}
		return dwnmessage.Unauthorized("not allowed in structure level")
	}

	if rd.Allow == nil {
		return dwnmessage.Unauthorized("no allow rule defined for requester")
	}

	switch {
	case rd.Allow.Anyone != nil && containsWrite(rd.Allow.Anyone.To):
		// accepted; step 7 still applies below
	case rd.Allow.Recipient != nil:
		if res := checkRecipientRule(rd.Allow.Recipient, ancestors, msg.Author); !res.Success() {
			return res
		}
	default:
		return dwnmessage.Unauthorized("no allow rule defined for requester")
	}

	if lineageParent != nil && lineageParent.Author != msg.Author {
		return dwnmessage.Unauthorized("must match to author of lineage parent")
	}

	return dwnmessage.OK
}

// validateContextID asserts that a protocol-scoped descendant's contextId
// equals the deterministic contextId derived from its context root's
// recordId (chain[0], the ancestor with no parentId of its own). chain is
// empty when msg is itself the context root, which SelfValidate already
// checked.
func validateContextID(chain []*dwnmessage.Message, msg *dwnmessage.Message) dwnmessage.Result {
	if len(chain) == 0 {
		return dwnmessage.OK
	}
	contextRoot := chain[0]
	expected, err := dwnmessage.DeriveContextID(contextRoot.RecordID)
	if err != nil {
		return dwnmessage.BadRequest(fmt.Sprintf("unable to derive contextId: %v", err))
	}
	if expected != msg.ContextID {
		return dwnmessage.BadRequest("does not match deterministic contextId")
	}
	return dwnmessage.OK
}

func containsWrite(actions []string) bool {
	for _, a := range actions {
		if a == "write" {
			return true
		}
	}
	return false
}

// checkRecipientRule implements spec.md §4.6 step 6's recipient.of path
// resolution: Of is a slash-separated sequence of labels indexing
// ancestors from the context root.
func checkRecipientRule(rule *AllowRecipient, ancestors []ancestorStep, author string) dwnmessage.Result {
	segments := strings.Split(rule.Of, "/")
	if len(segments) > len(ancestors) {
		return dwnmessage.Unauthorized("path to expected recipient is longer than actual length of ancestor message chain")
	}
	for i, seg := range segments {
		if ancestors[i].Label != seg {
			return dwnmessage.Unauthorized("mismatching record schema")
		}
	}
	recipientAncestor := ancestors[len(segments)-1]
	if recipientAncestor.Message.Descriptor.Recipient != author {
		return dwnmessage.Unauthorized("unexpected inbound message author")
	}
	return dwnmessage.OK
}

// ancestorMessages resolves msg's structural ancestor chain via
// descriptor.parentId, oldest to newest. parentId is a recordId, so
// each step is a full lineage resolution (C5) — the structural ancestor
// is whatever message currently holds that record's tip, falling back
// to the root if the record has no accepted update yet.
func ancestorMessages(store *dwnstore.MessageStore, tenant string, msg *dwnmessage.Message) ([]*dwnmessage.Message, dwnmessage.Result) {
	var newestFirst []*dwnmessage.Message

	parentID := msg.Descriptor.ParentID
	for parentID != "" {
		lin, res := lineage.Resolve(store, tenant, parentID)
		if !res.Success() {
			return nil, res
		}
		if lin.Empty() {
			return nil, dwnmessage.Unauthorized("no parent found")
		}

		ancestor := lin.Tip
		if ancestor == nil {
			ancestor = lin.Root
		}
		newestFirst = append(newestFirst, ancestor)
		parentID = ancestor.Descriptor.ParentID
	}

	chain := make([]*dwnmessage.Message, len(newestFirst))
	for i, a := range newestFirst {
		chain[len(newestFirst)-1-i] = a
	}
	return chain, dwnmessage.OK
}
