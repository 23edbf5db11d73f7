// ABOUTME: Protocol definition tree types and the (tenant, protocol) registry
// ABOUTME: Supplements spec.md §4.6's "fetch the protocol definition" with a concrete ProtocolsConfigure shape

package protocol

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/nainya/dwnnode/pkg/dwnmessage"
	"github.com/nainya/dwnnode/pkg/dwnstore"
)

// ConfigureSchema is the sentinel descriptor schema identifying a
// ProtocolsConfigure CollectionsWrite — spec.md §4.6 names the fetch
// ("the CollectionsWrite of a ProtocolsConfigure ... whose protocol
// equals the message's") but not the concrete message shape; this is
// that shape.
const ConfigureSchema = "https://dwn/protocols-configure"

// LabelDef binds a protocol label to the schema identifying records
// carrying it.
type LabelDef struct {
	Schema string `json:"schema"`
}

// AllowAnyone permits any author to perform the listed actions.
type AllowAnyone struct {
	To []string `json:"to"`
}

// AllowRecipient permits the recipient of an ancestor at path Of to
// perform the listed actions.
type AllowRecipient struct {
	Of string   `json:"of"`
	To []string `json:"to"`
}

// AllowRule is the allow clause of a RecordDefinition (spec.md §4.6).
type AllowRule struct {
	Anyone    *AllowAnyone    `json:"anyone,omitempty"`
	Recipient *AllowRecipient `json:"recipient,omitempty"`
}

// RecordDefinition describes one label's place in the protocol tree:
// who may write it and what labels may nest beneath it.
type RecordDefinition struct {
	Allow   *AllowRule                  `json:"allow,omitempty"`
	Records map[string]RecordDefinition `json:"records,omitempty"`
}

// Definition is a full protocol definition (spec.md §4.6).
type Definition struct {
	Protocol string                      `json:"protocol"`
	Labels   map[string]LabelDef         `json:"labels"`
	Records  map[string]RecordDefinition `json:"records"`
}

// labelsForSchema returns every label name a schema is bound to, sorted
// for deterministic disambiguation — spec.md §4.6 step 3: "if multiple
// labels match, the structural position decides", so callers walk this
// candidate list against the record tree cursor rather than picking one
// up front.
func labelsForSchema(def *Definition, schema string) []string {
	var out []string
	for label, ld := range def.Labels {
		if ld.Schema == schema {
			out = append(out, label)
		}
	}
	sort.Strings(out)
	return out
}

// resolveLabel finds the first label bound to schema that exists under
// cursor, returning that label's RecordDefinition.
func resolveLabel(def *Definition, cursor map[string]RecordDefinition, schema string) (string, RecordDefinition, bool) {
	for _, label := range labelsForSchema(def, schema) {
		if rd, ok := cursor[label]; ok {
			return label, rd, true
		}
	}
	return "", RecordDefinition{}, false
}

// Definitions is an in-memory registry of loaded protocol definitions
// keyed by (tenant, protocol), populated lazily from accepted
// ProtocolsConfigure messages.
type Definitions struct {
	mu  sync.RWMutex
	reg map[string]*Definition
}

// NewDefinitions constructs an empty registry.
func NewDefinitions() *Definitions {
	return &Definitions{reg: make(map[string]*Definition)}
}

func regKey(tenant, protocol string) string {
	return tenant + "\x00" + protocol
}

// Register adds or replaces the definition for (tenant, protocol).
func (d *Definitions) Register(tenant, protocol string, def *Definition) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reg[regKey(tenant, protocol)] = def
}

// Lookup returns the registered definition for (tenant, protocol), if any.
func (d *Definitions) Lookup(tenant, protocol string) (*Definition, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	def, ok := d.reg[regKey(tenant, protocol)]
	return def, ok
}

// DecodeDefinition parses a ProtocolsConfigure message's encodedData
// into a Definition.
func DecodeDefinition(msg *dwnmessage.Message) (*Definition, error) {
	if msg.Descriptor.Schema != ConfigureSchema {
		return nil, fmt.Errorf("protocol: message schema %q is not a protocol configuration", msg.Descriptor.Schema)
	}
	var def Definition
	if err := json.Unmarshal(msg.EncodedData, &def); err != nil {
		return nil, fmt.Errorf("protocol: decode definition: %w", err)
	}
	return &def, nil
}

// Fetch resolves the protocol definition for (tenant, protocol): the
// in-memory registry first, falling back to the tenant's current
// ProtocolsConfigure tip in the message store (spec.md §4.6 step 2).
func Fetch(store *dwnstore.MessageStore, defs *Definitions, tenant, protocol string) (*Definition, dwnmessage.Result) {
	if def, ok := defs.Lookup(tenant, protocol); ok {
		return def, dwnmessage.OK
	}

	entries, err := store.Query(tenant, dwnstore.Filter{Schema: ConfigureSchema, Protocol: protocol})
	if err != nil {
		return nil, dwnmessage.Result{Code: 500, Detail: err.Error()}
	}
	if len(entries) == 0 {
		return nil, dwnmessage.Unauthorized("unable to find protocol definition")
	}

	def, decodeErr := DecodeDefinition(entries[0].Message)
	if decodeErr != nil {
		return nil, dwnmessage.Result{Code: 500, Detail: decodeErr.Error()}
	}
	defs.Register(tenant, protocol, def)
	return def, dwnmessage.OK
}
