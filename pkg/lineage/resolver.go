// ABOUTME: C5 lineage root/tip resolution and lineageParent-chain validation
// ABOUTME: Tip selection is delegated to dwnstore.PickTip so the §4.7 ordering lives in exactly one place

package lineage

import (
	"fmt"

	"github.com/nainya/dwnnode/pkg/dwnmessage"
	"github.com/nainya/dwnnode/pkg/dwnstore"
)

// Lineage is the resolved state of a (tenant, recordId) version chain.
type Lineage struct {
	Root *dwnmessage.Message
	Tip  *dwnmessage.Message

	members map[string]*dwnmessage.Message // cid -> message, for lineageParent existence checks
}

// Empty reports whether this recordId has no messages in the store yet.
func (l *Lineage) Empty() bool {
	return l.Root == nil
}

// Resolve fetches every message sharing recordId within tenant and
// identifies the lineage root and current tip (spec.md §4.5). An empty
// result (no root, no error) means recordId is unused so far — the
// caller treats the inbound message as a candidate lineage root.
func Resolve(store *dwnstore.MessageStore, tenant, recordID string) (*Lineage, dwnmessage.Result) {
	entries, err := store.ByRecordID(tenant, recordID)
	if err != nil {
		return nil, dwnmessage.Result{Code: 500, Detail: err.Error()}
	}
	if len(entries) == 0 {
		return &Lineage{}, dwnmessage.OK
	}

	members := make(map[string]*dwnmessage.Message, len(entries))
	var root *dwnmessage.Message
	var tipEntry *dwnstore.Entry
	for i := range entries {
		e := &entries[i]
		members[e.Message.CID()] = e.Message

		if e.Message.LineageParent == "" {
			if root != nil {
				return nil, dwnmessage.BadRequest("unable to find the lineage root: more than one candidate")
			}
			root = e.Message
		}

		if e.Tags.IsLatestTip {
			if tipEntry == nil {
				tipEntry = e
			} else {
				winner := dwnstore.PickTip(*tipEntry, *e)
				tipEntry = &winner
			}
		}
	}
	if root == nil {
		return nil, dwnmessage.BadRequest("unable to find the lineage root")
	}

	var tip *dwnmessage.Message
	if tipEntry != nil {
		tip = tipEntry.Message
	}

	return &Lineage{Root: root, Tip: tip, members: members}, dwnmessage.OK
}

// MessageByCID returns the lineage member identified by cid, or nil if
// cid is not part of this lineage.
func (l *Lineage) MessageByCID(cid string) *dwnmessage.Message {
	if l == nil || l.members == nil {
		return nil
	}
	return l.members[cid]
}

// ValidateParent checks that candidate's lineageParent, if any, names a
// message already present in this lineage (spec.md §4.5). A candidate
// with no lineageParent is a prospective lineage root and always passes
// here — the write handler's later pipeline steps (immutable-field and
// conflict checks) govern that case.
func (l *Lineage) ValidateParent(candidate *dwnmessage.Message) dwnmessage.Result {
	if candidate.LineageParent == "" {
		return dwnmessage.OK
	}
	if l.Empty() {
		return dwnmessage.BadRequest("unable to find the lineage root")
	}
	if _, ok := l.members[candidate.LineageParent]; !ok {
		return dwnmessage.BadRequest(fmt.Sprintf("expecting lineageParent to be `%s`", l.Root.RecordID))
	}
	return dwnmessage.OK
}
