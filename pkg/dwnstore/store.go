// ABOUTME: Message store: content-addressed messages with a tag index and a tip pointer
// ABOUTME: Built directly on the page store's IndexManager, whose own two-phase fsync makes every Set/Commit durable on its own

package dwnstore

import (
	"fmt"

	"github.com/nainya/dwnnode/pkg/dwnmessage"
	"github.com/nainya/dwnnode/pkg/storage"
)

// PREFIX_TIP is the tip-pointer table: (tenant, recordId) -> current tip cid.
// Modeled directly on the teacher's PREFIX_LATEST_VERSION "latest pointer" index.
const PREFIX_TIP = uint32(9000)

// IndexTags are the indexed tag values recorded per message (spec §4.3).
type IndexTags struct {
	RecordID    string
	ContextID   string
	Protocol    string
	Schema      string
	ParentID    string
	DataFormat  string
	Recipient   string
	Author      string
	IsLatestTip bool
}

// MessageStore is the tenanted, append-ish content-addressed message store.
type MessageStore struct {
	kv  *storage.KV
	idx *storage.IndexManager
}

// NewMessageStore constructs a store over an already-open KV path.
// Call Open before using it.
func NewMessageStore(kvPath string) *MessageStore {
	return &MessageStore{
		kv: &storage.KV{Path: kvPath},
	}
}

// Open opens the backing KV file and registers the secondary indexes.
// Every Put/SetTip/ClearTip below commits through storage.KV's own
// two-phase fsync, so each of those is independently crash-safe; a
// crash between a SetTip and its paired ClearTip leaves at most a
// transient double tip, which Query and lineage.Resolve already
// resolve on the read side via PickTip (spec.md §5, §9 open question
// (a)) — there is nothing left for a separate recovery log to redo.
func (s *MessageStore) Open() error {
	if err := s.kv.Open(); err != nil {
		return fmt.Errorf("dwnstore: open kv: %w", err)
	}

	s.idx = storage.NewIndexManager(s.kv)
	if err := registerIndexes(s.idx); err != nil {
		return fmt.Errorf("dwnstore: register indexes: %w", err)
	}

	return nil
}

// Close closes the backing KV file.
func (s *MessageStore) Close() error {
	return s.kv.Close()
}

// Clear drops every message and tip pointer. Used by tests.
func (s *MessageStore) Clear() error {
	tx := s.idx.Begin()
	var keys [][]byte
	tx.ScanIndex("by_tenant", nil, func(primaryKey []storage.Value, record map[string]storage.Value) bool {
		keys = append(keys, storage.EncodeValues(primaryKey))
		return true
	})
	for _, k := range keys {
		vals, err := storage.DecodeValues(k)
		if err != nil {
			continue
		}
		tx.Del(vals)
	}
	return tx.Commit()
}

// Put writes a message under the primary key (tenant, cid) and maintains
// every secondary index, in one indexed transaction.
func (s *MessageStore) Put(tenant string, msg *dwnmessage.Message, tags IndexTags) error {
	blob, err := msg.MarshalEnvelope()
	if err != nil {
		return fmt.Errorf("dwnstore: marshal message: %w", err)
	}

	primaryKey := []storage.Value{
		storage.NewBytesValue([]byte(tenant)),
		storage.NewBytesValue([]byte(msg.CID())),
	}

	record := map[string]storage.Value{
		"tenant":      storage.NewBytesValue([]byte(tenant)),
		"cid":         storage.NewBytesValue([]byte(msg.CID())),
		"recordId":    storage.NewBytesValue([]byte(tags.RecordID)),
		"contextId":   storage.NewBytesValue([]byte(tags.ContextID)),
		"protocol":    storage.NewBytesValue([]byte(tags.Protocol)),
		"schema":      storage.NewBytesValue([]byte(tags.Schema)),
		"parentId":    storage.NewBytesValue([]byte(tags.ParentID)),
		"dataFormat":  storage.NewBytesValue([]byte(tags.DataFormat)),
		"recipient":   storage.NewBytesValue([]byte(tags.Recipient)),
		"author":      storage.NewBytesValue([]byte(tags.Author)),
		"isLatestTip": storage.NewInt64Value(boolToInt64(tags.IsLatestTip)),
		"blob":        storage.NewBytesValue(blob),
	}

	tx := s.idx.Begin()
	if err := tx.Set(primaryKey, record); err != nil {
		tx.Abort()
		return fmt.Errorf("dwnstore: put: %w", err)
	}
	return tx.Commit()
}

// Get retrieves a message by its content identifier.
func (s *MessageStore) Get(tenant, cid string) (*dwnmessage.Message, bool, error) {
	tx := s.idx.Begin()
	defer tx.Abort()

	primaryKey := []storage.Value{
		storage.NewBytesValue([]byte(tenant)),
		storage.NewBytesValue([]byte(cid)),
	}

	record, ok, err := tx.Get(primaryKey)
	if err != nil || !ok {
		return nil, false, err
	}

	msg, err := dwnmessage.UnmarshalEnvelope(record["blob"].Str)
	if err != nil {
		return nil, false, fmt.Errorf("dwnstore: decode message %s: %w", cid, err)
	}
	return msg, true, nil
}

// Delete removes a message by its content identifier. Used only by tests
// and administrative tooling; the write pipeline itself never deletes.
func (s *MessageStore) Delete(tenant, cid string) (bool, error) {
	tx := s.idx.Begin()
	primaryKey := []storage.Value{
		storage.NewBytesValue([]byte(tenant)),
		storage.NewBytesValue([]byte(cid)),
	}
	ok, err := tx.Del(primaryKey)
	if err != nil {
		tx.Abort()
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return ok, nil
}

// SetTip flips the (tenant, recordId) tip pointer to cid and tags that
// message isLatestTip=true. Per spec.md §5 this is deliberately a
// separate step from ClearTip — the handler writes the new tip first.
func (s *MessageStore) SetTip(tenant, recordID, cid string) error {
	key := storage.EncodeKey(PREFIX_TIP, []storage.Value{
		storage.NewBytesValue([]byte(tenant)),
		storage.NewBytesValue([]byte(recordID)),
	})
	if err := s.kv.Set(key, []byte(cid)); err != nil {
		return fmt.Errorf("dwnstore: set tip: %w", err)
	}

	return s.setTipFlag(tenant, cid, true)
}

// ClearTip flips isLatestTip=false on the message identified by cid,
// without touching the PREFIX_TIP pointer (the caller has already moved
// it to the new tip via SetTip).
func (s *MessageStore) ClearTip(tenant, recordID, cid string) error {
	return s.setTipFlag(tenant, cid, false)
}

func (s *MessageStore) setTipFlag(tenant, cid string, flag bool) error {
	tx := s.idx.Begin()
	primaryKey := []storage.Value{
		storage.NewBytesValue([]byte(tenant)),
		storage.NewBytesValue([]byte(cid)),
	}
	record, ok, err := tx.Get(primaryKey)
	if err != nil {
		tx.Abort()
		return err
	}
	if !ok {
		tx.Abort()
		return fmt.Errorf("dwnstore: set tip flag: no message %s/%s", tenant, cid)
	}
	record["isLatestTip"] = storage.NewInt64Value(boolToInt64(flag))
	if err := tx.Set(primaryKey, record); err != nil {
		tx.Abort()
		return err
	}
	return tx.Commit()
}

// CurrentTip returns the cid currently flagged as the tip for
// (tenant, recordId), or ok=false if the record has no messages yet.
func (s *MessageStore) CurrentTip(tenant, recordID string) (string, bool, error) {
	key := storage.EncodeKey(PREFIX_TIP, []storage.Value{
		storage.NewBytesValue([]byte(tenant)),
		storage.NewBytesValue([]byte(recordID)),
	})
	val, ok := s.kv.Get(key)
	if !ok {
		return "", false, nil
	}
	return string(val), true, nil
}

func boolToInt64(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
