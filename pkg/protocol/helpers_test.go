// ABOUTME: Shared store/signer fixtures for this package's authorization tests

package protocol

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"os"
	"testing"

	jose "github.com/go-jose/go-jose/v4"

	"github.com/nainya/dwnnode/pkg/dwnmessage"
	"github.com/nainya/dwnnode/pkg/dwnstore"
)

func newTestStore(t *testing.T) *dwnstore.MessageStore {
	t.Helper()
	dbPath := fmt.Sprintf("/tmp/protocol_test_%s.db", t.Name())
	os.Remove(dbPath)
	t.Cleanup(func() { os.Remove(dbPath) })

	store := dwnstore.NewMessageStore(dbPath)
	if err := store.Open(); err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func putMessage(t *testing.T, store *dwnstore.MessageStore, tenant string, msg *dwnmessage.Message, isLatestTip bool) {
	t.Helper()
	tags := dwnstore.IndexTags{
		RecordID:    msg.RecordID,
		ContextID:   msg.ContextID,
		Protocol:    msg.Descriptor.Protocol,
		Schema:      msg.Descriptor.Schema,
		ParentID:    msg.Descriptor.ParentID,
		DataFormat:  msg.Descriptor.DataFormat,
		Recipient:   msg.Descriptor.Recipient,
		Author:      msg.Author,
		IsLatestTip: isLatestTip,
	}
	if err := store.Put(tenant, msg, tags); err != nil {
		t.Fatalf("put message: %v", err)
	}
}

func newSigner(t *testing.T, author string) dwnmessage.Signer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return dwnmessage.Signer{Key: priv, KID: author + "#key-1", Alg: jose.EdDSA, Author: author}
}
