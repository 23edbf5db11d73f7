// ABOUTME: Secondary index registration for the message store's access patterns
// ABOUTME: Built on the page store's generic IndexManager/ScanIndex (storage.IndexDef)

package dwnstore

import (
	"github.com/nainya/dwnnode/pkg/storage"
)

// Secondary index prefixes. PREFIX_TIP (store.go) is the (tenant, recordId)
// -> tip cid pointer; these are keyed-record indexes over the message
// table itself.
const (
	prefixByTenant   = uint32(9001)
	prefixByRecordID = uint32(9002)
	prefixByContext  = uint32(9003)
	prefixByTip      = uint32(9004)
)

// indexByTenant backs Clear's full-tenant scan.
const indexByTenant = "by_tenant"

// indexByRecordID backs lineage lookup (spec.md §4.3 "by recordId").
const indexByRecordID = "by_recordId"

// indexByContext backs the protocol ancestor walk (spec.md §4.3
// "by (protocol, contextId)").
const indexByContext = "by_context"

// indexByTip backs the user-visible query path (spec.md §4.3
// "by isLatestTip=true ∧ filters"); the remaining filter columns are
// applied in Go over the isLatestTip=true candidate set, since the
// underlying index has no general conjunction support.
const indexByTip = "by_tip"

func registerIndexes(im *storage.IndexManager) error {
	defs := []storage.IndexDef{
		{Name: indexByTenant, Columns: []string{"tenant"}, Prefix: prefixByTenant},
		{Name: indexByRecordID, Columns: []string{"tenant", "recordId"}, Prefix: prefixByRecordID},
		{Name: indexByContext, Columns: []string{"tenant", "protocol", "contextId"}, Prefix: prefixByContext},
		{Name: indexByTip, Columns: []string{"tenant", "isLatestTip"}, Prefix: prefixByTip},
	}
	for _, def := range defs {
		if err := im.AddIndex(def); err != nil {
			return err
		}
	}
	return nil
}
