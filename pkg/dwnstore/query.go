// ABOUTME: Indexed read paths: lineage-by-recordId, protocol-context walk, and the filter-conjunction user query
// ABOUTME: Every path decodes the stored envelope blob via dwnmessage.UnmarshalEnvelope, never trusts the index alone

package dwnstore

import (
	"fmt"

	"github.com/nainya/dwnnode/pkg/dwnmessage"
	"github.com/nainya/dwnnode/pkg/storage"
)

// Entry pairs a decoded message with the index tags it was stored under,
// since a query caller (e.g. the lineage resolver) needs IsLatestTip
// without re-deriving it from the store.
type Entry struct {
	Message *dwnmessage.Message
	Tags    IndexTags
}

func decodeEntry(record map[string]storage.Value) (Entry, error) {
	msg, err := dwnmessage.UnmarshalEnvelope(record["blob"].Str)
	if err != nil {
		return Entry{}, fmt.Errorf("dwnstore: decode entry: %w", err)
	}
	return Entry{
		Message: msg,
		Tags: IndexTags{
			RecordID:    string(record["recordId"].Str),
			ContextID:   string(record["contextId"].Str),
			Protocol:    string(record["protocol"].Str),
			Schema:      string(record["schema"].Str),
			ParentID:    string(record["parentId"].Str),
			DataFormat:  string(record["dataFormat"].Str),
			Recipient:   string(record["recipient"].Str),
			Author:      string(record["author"].Str),
			IsLatestTip: record["isLatestTip"].I64 != 0,
		},
	}, nil
}

// ByRecordID returns every message sharing recordId within tenant,
// regardless of tip status — the lineage resolver (C5) needs the whole
// lineage, not just the current tip.
func (s *MessageStore) ByRecordID(tenant, recordID string) ([]Entry, error) {
	tx := s.idx.Begin()
	defer tx.Abort()

	start := []storage.Value{
		storage.NewBytesValue([]byte(tenant)),
		storage.NewBytesValue([]byte(recordID)),
	}

	var entries []Entry
	var scanErr error
	err := tx.ScanIndex(indexByRecordID, start, func(_ []storage.Value, record map[string]storage.Value) bool {
		if string(record["tenant"].Str) != tenant || string(record["recordId"].Str) != recordID {
			return false
		}
		entry, err := decodeEntry(record)
		if err != nil {
			scanErr = err
			return false
		}
		entries = append(entries, entry)
		return true
	})
	if err != nil {
		return nil, err
	}
	if scanErr != nil {
		return nil, scanErr
	}
	return entries, nil
}

// ByContext returns every protocol-scoped message sharing (protocol,
// contextId) within tenant — the ancestor chain a protocol authorization
// walk (C6) needs to reconstruct, oldest and newest intermixed (the
// caller orders by parentId/lineageParent).
func (s *MessageStore) ByContext(tenant, protocol, contextID string) ([]Entry, error) {
	tx := s.idx.Begin()
	defer tx.Abort()

	start := []storage.Value{
		storage.NewBytesValue([]byte(tenant)),
		storage.NewBytesValue([]byte(protocol)),
		storage.NewBytesValue([]byte(contextID)),
	}

	var entries []Entry
	var scanErr error
	err := tx.ScanIndex(indexByContext, start, func(_ []storage.Value, record map[string]storage.Value) bool {
		if string(record["tenant"].Str) != tenant ||
			string(record["protocol"].Str) != protocol ||
			string(record["contextId"].Str) != contextID {
			return false
		}
		entry, err := decodeEntry(record)
		if err != nil {
			scanErr = err
			return false
		}
		entries = append(entries, entry)
		return true
	})
	if err != nil {
		return nil, err
	}
	if scanErr != nil {
		return nil, scanErr
	}
	return entries, nil
}

// Filter is a conjunction over indexed tag equalities (spec.md §4.3).
// Zero-value fields are treated as "unconstrained", matching teacher
// `pkg/query/engine.go`'s filter-map convention.
type Filter struct {
	RecordID   string
	ContextID  string
	Protocol   string
	Schema     string
	ParentID   string
	DataFormat string
	Recipient  string
	Author     string
}

func (f Filter) matches(tags IndexTags) bool {
	switch {
	case f.RecordID != "" && f.RecordID != tags.RecordID:
		return false
	case f.ContextID != "" && f.ContextID != tags.ContextID:
		return false
	case f.Protocol != "" && f.Protocol != tags.Protocol:
		return false
	case f.Schema != "" && f.Schema != tags.Schema:
		return false
	case f.ParentID != "" && f.ParentID != tags.ParentID:
		return false
	case f.DataFormat != "" && f.DataFormat != tags.DataFormat:
		return false
	case f.Recipient != "" && f.Recipient != tags.Recipient:
		return false
	case f.Author != "" && f.Author != tags.Author:
		return false
	}
	return true
}

// Query returns the isLatestTip=true messages in tenant's store matching
// filter (spec.md §4.3 "by isLatestTip=true ∧ filters"). Per spec.md §9
// open question (a), if the index transiently carries more than one
// tip-flagged sibling for the same recordId (a non-atomic SetTip/ClearTip
// pair observed mid-flight), Query de-duplicates explicitly by picking
// the §4.7 winner rather than returning both.
func (s *MessageStore) Query(tenant string, filter Filter) ([]Entry, error) {
	tx := s.idx.Begin()
	defer tx.Abort()

	start := []storage.Value{
		storage.NewBytesValue([]byte(tenant)),
		storage.NewInt64Value(1),
	}

	byRecord := make(map[string]Entry)
	var scanErr error
	err := tx.ScanIndex(indexByTip, start, func(_ []storage.Value, record map[string]storage.Value) bool {
		if string(record["tenant"].Str) != tenant || record["isLatestTip"].I64 == 0 {
			return false
		}
		entry, err := decodeEntry(record)
		if err != nil {
			scanErr = err
			return false
		}
		if !filter.matches(entry.Tags) {
			return true
		}
		if existing, ok := byRecord[entry.Tags.RecordID]; ok {
			if PickTip(existing, entry) == entry {
				byRecord[entry.Tags.RecordID] = entry
			}
		} else {
			byRecord[entry.Tags.RecordID] = entry
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if scanErr != nil {
		return nil, scanErr
	}

	entries := make([]Entry, 0, len(byRecord))
	for _, e := range byRecord {
		entries = append(entries, e)
	}
	return entries, nil
}

// PickTip applies the spec.md §4.7 (dateModified, cid) ordering to two
// tip-flagged candidates for the same recordId and returns the winner.
// Shared by Query's de-duplication and the lineage resolver so the rule
// is implemented exactly once (spec.md §9 open question (a)).
func PickTip(a, b Entry) Entry {
	da, db := a.Message.Descriptor.DateModified, b.Message.Descriptor.DateModified
	switch {
	case da > db:
		return a
	case db > da:
		return b
	case a.Message.CID() > b.Message.CID():
		return a
	default:
		return b
	}
}
