// ABOUTME: Ambient operational shell around the write pipeline, grounded on the teacher's Server struct
// ABOUTME: Dropped the teacher's gRPC transport (named out of scope by spec.md §1); kept opCounts/startTime shape

package server

import (
	"context"
	"sync"
	"time"

	"github.com/nainya/dwnnode/internal/logger"
	"github.com/nainya/dwnnode/internal/metrics"
	"github.com/nainya/dwnnode/internal/writehandler"
	"github.com/nainya/dwnnode/pkg/dwnstore"
	"github.com/nainya/dwnnode/pkg/jws"
	"github.com/nainya/dwnnode/pkg/protocol"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Node wraps a writehandler.Handler with the logging/metrics/op-counting
// shell every teacher entrypoint carries around its storage/service core.
type Node struct {
	handler *writehandler.Handler
	store   *dwnstore.MessageStore
	log     *logger.Logger
	metrics *metrics.Metrics

	startTime time.Time

	mu       sync.Mutex
	opCounts map[string]int64
}

// Config assembles a Node's collaborators. Schema may be nil to skip
// envelope JSON-schema validation.
type Config struct {
	Store    *dwnstore.MessageStore
	Resolver jws.DidResolver
	Defs     *protocol.Definitions
	Schema   *jsonschema.Schema
	Log      *logger.Logger
	Metrics  *metrics.Metrics
}

// NewNode constructs a Node from already-open collaborators.
func NewNode(cfg Config) *Node {
	handler := writehandler.NewHandler(cfg.Store, cfg.Resolver, cfg.Defs, cfg.Schema, cfg.Log, cfg.Metrics)
	return &Node{
		handler:   handler,
		store:     cfg.Store,
		log:       cfg.Log,
		metrics:   cfg.Metrics,
		startTime: time.Now(),
		opCounts:  make(map[string]int64),
	}
}

func (n *Node) countOp(op string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.opCounts[op]++
}

// OpCounts returns a snapshot of operation counts since startup, for
// administrative/debugging inspection.
func (n *Node) OpCounts() map[string]int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make(map[string]int64, len(n.opCounts))
	for k, v := range n.opCounts {
		out[k] = v
	}
	return out
}

// Process submits one signed CollectionsWrite envelope for tenant.
func (n *Node) Process(ctx context.Context, tenant string, envelope []byte) writehandler.Reply {
	n.countOp("CollectionsWrite")
	if n.log != nil {
		n.log.WriteLogger("process").Info("processing write").Str("tenant", tenant).Send()
	}
	return n.handler.Process(ctx, tenant, envelope)
}

// Query runs a filter-conjunction read against tenant's current tips.
func (n *Node) Query(tenant string, filter dwnstore.Filter) writehandler.Reply {
	n.countOp("CollectionsQuery")
	return n.handler.Query(tenant, filter)
}

// Close closes the underlying message store.
func (n *Node) Close() error {
	return n.store.Close()
}

// Uptime returns how long the node has been running.
func (n *Node) Uptime() time.Duration {
	return time.Since(n.startTime)
}
