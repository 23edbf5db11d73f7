// ABOUTME: C7 write handler: the eight-step CollectionsWrite pipeline and conflict resolution (spec.md §4.7)
// ABOUTME: Grounded on the teacher's Server struct (collaborators + opCounts) with the gRPC transport stripped

package writehandler

import (
	"context"
	"fmt"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/nainya/dwnnode/internal/logger"
	"github.com/nainya/dwnnode/internal/metrics"
	"github.com/nainya/dwnnode/pkg/dwnmessage"
	"github.com/nainya/dwnnode/pkg/dwnstore"
	"github.com/nainya/dwnnode/pkg/jws"
	"github.com/nainya/dwnnode/pkg/lineage"
	"github.com/nainya/dwnnode/pkg/protocol"
)

// Handler orchestrates the CollectionsWrite pipeline over one message
// store, one DID resolver, and one protocol definition registry.
type Handler struct {
	Store    *dwnstore.MessageStore
	Resolver jws.DidResolver
	Defs     *protocol.Definitions
	Schema   *jsonschema.Schema

	Log     *logger.Logger
	Metrics *metrics.Metrics

	locks *recordLocks
}

// NewHandler constructs a Handler. Schema, Log, and Metrics may be nil —
// a nil Schema skips envelope JSON-schema validation (tests do this
// routinely); a nil Log/Metrics simply means no instrumentation.
func NewHandler(store *dwnstore.MessageStore, resolver jws.DidResolver, defs *protocol.Definitions, schema *jsonschema.Schema, log *logger.Logger, m *metrics.Metrics) *Handler {
	return &Handler{
		Store:    store,
		Resolver: resolver,
		Defs:     defs,
		Schema:   schema,
		Log:      log,
		Metrics:  m,
		locks:    newRecordLocks(),
	}
}

func (h *Handler) stageLogger(stage string) *logger.Logger {
	if h.Log == nil {
		return nil
	}
	return h.Log.WriteLogger(stage)
}

func (h *Handler) recordStage(stage string, res dwnmessage.Result, start time.Time) {
	if l := h.stageLogger(stage); l != nil {
		l.LogWriteStage(stage, time.Since(start), res.Code, res.Detail)
	}
	if h.Metrics != nil {
		status := "accepted"
		if !res.Success() {
			status = "rejected"
		}
		h.Metrics.RecordWriteStage(stage, status)
	}
}

// Process runs the spec.md §4.7 pipeline against an inbound wire
// envelope, returning the final Reply. tenant is the DWN owner the
// message targets ("target").
func (h *Handler) Process(ctx context.Context, tenant string, envelope []byte) Reply {
	start := time.Now()

	// Step 1: envelope schema validation + the bulk of C4's
	// self-validation. Schema validation does not depend on the
	// author, so running it together with the rest of SelfValidate
	// after signature verification (step 2) is observationally
	// identical to running it first; see DESIGN.md.
	msg, err := dwnmessage.UnmarshalEnvelope(envelope)
	if err != nil {
		res := dwnmessage.BadRequest(fmt.Sprintf("malformed envelope: %v", err))
		h.recordStage("unmarshal", res, start)
		h.finalizeMetrics(res, start)
		return replyFromResult(res)
	}

	// Step 2: signature verification.
	_, author, verr := jws.Verify(ctx, msg.Authorization, h.Resolver)
	if verr != nil {
		res := dwnmessage.Unauthorized("bad signature")
		h.recordStage("signature", res, start)
		h.finalizeMetrics(res, start)
		return replyFromResult(res)
	}
	msg.Author = author

	// Step 3: the rest of self-validation (dataCid, authz-payload
	// binding, root determinism).
	if res := dwnmessage.SelfValidate(msg, h.Schema, envelope); !res.Success() {
		h.recordStage("self-validate", res, start)
		h.finalizeMetrics(res, start)
		return replyFromResult(res)
	}

	lock := h.locks.acquire(tenant, msg.RecordID)
	defer lock.release()
	if h.Metrics != nil {
		h.Metrics.WriteRequestsInFlight.Inc()
		defer h.Metrics.WriteRequestsInFlight.Dec()
	}

	res := h.processLocked(ctx, tenant, msg)
	h.finalizeMetrics(res, start)
	return replyFromResult(res)
}

func (h *Handler) finalizeMetrics(res dwnmessage.Result, start time.Time) {
	if h.Metrics == nil {
		return
	}
	status := "accepted"
	switch {
	case res.Code == 409:
		status = "conflict"
		h.Metrics.WriteConflictsTotal.Inc()
	case !res.Success():
		status = "rejected"
	}
	h.Metrics.RecordWrite(status, time.Since(start))
}

// processLocked runs pipeline steps 4-8, called with the
// (tenant, recordId) lock already held.
func (h *Handler) processLocked(ctx context.Context, tenant string, msg *dwnmessage.Message) dwnmessage.Result {
	stageStart := time.Now()

	// Step 4: lineage resolution.
	lin, res := lineage.Resolve(h.Store, tenant, msg.RecordID)
	if !res.Success() {
		h.recordStage("lineage", res, stageStart)
		return res
	}
	if res := lin.ValidateParent(msg); !res.Success() {
		h.recordStage("lineage", res, stageStart)
		return res
	}

	root := lin.Root
	if root == nil {
		root = msg // this write is the lineage root
	}

	// Step 5: authorization.
	stageStart = time.Now()
	if msg.Descriptor.Protocol == "" {
		if msg.Author != tenant {
			res := dwnmessage.Unauthorized("no allow rule defined for requester")
			h.recordStage("authorize", res, stageStart)
			return res
		}
	} else {
		var lineageParent *dwnmessage.Message
		if msg.LineageParent != "" {
			lineageParent = lin.MessageByCID(msg.LineageParent)
		}
		res := protocol.Authorize(h.Store, h.Defs, tenant, msg, lineageParent)
		if !res.Success() {
			if h.Metrics != nil {
				h.Metrics.RecordAuthzDenied(res.Detail)
			}
			h.recordStage("authorize", res, stageStart)
			return res
		}
		if h.Metrics != nil {
			h.Metrics.AuthzAllowedTotal.Inc()
		}
	}

	// Step 6: immutability against the existing root, if any.
	stageStart = time.Now()
	if !lin.Empty() {
		if field := dwnmessage.DiffImmutableField(msg.Descriptor, root.Descriptor); field != "" {
			res := dwnmessage.BadRequest(fmt.Sprintf("`%s` is an immutable property", field))
			h.recordStage("immutability", res, stageStart)
			return res
		}
	}

	// Step 7: conflict resolution against the current tip.
	stageStart = time.Now()
	if lin.Tip != nil {
		if msg.CID() == lin.Tip.CID() {
			res := dwnmessage.Accepted
			h.recordStage("conflict", res, stageStart)
			if h.Metrics != nil {
				h.Metrics.WriteNoopTotal.Inc()
			}
			return res
		}
		winner := dwnstore.PickTip(
			dwnstore.Entry{Message: lin.Tip},
			dwnstore.Entry{Message: msg},
		)
		if winner.Message.CID() != msg.CID() {
			res := dwnmessage.ConflictResult()
			h.recordStage("conflict", res, stageStart)
			return res
		}
	}

	// Step 8: commit.
	stageStart = time.Now()
	tags := dwnstore.IndexTags{
		RecordID:    msg.RecordID,
		ContextID:   msg.ContextID,
		Protocol:    msg.Descriptor.Protocol,
		Schema:      msg.Descriptor.Schema,
		ParentID:    msg.Descriptor.ParentID,
		DataFormat:  msg.Descriptor.DataFormat,
		Recipient:   msg.Descriptor.Recipient,
		Author:      msg.Author,
		IsLatestTip: true,
	}
	if err := h.Store.Put(tenant, msg, tags); err != nil {
		res := dwnmessage.Result{Code: 500, Detail: err.Error()}
		h.recordStage("commit", res, stageStart)
		return res
	}
	if err := h.Store.SetTip(tenant, msg.RecordID, msg.CID()); err != nil {
		res := dwnmessage.Result{Code: 500, Detail: err.Error()}
		h.recordStage("commit", res, stageStart)
		return res
	}
	if lin.Tip != nil && lin.Tip.CID() != msg.CID() {
		if err := h.Store.ClearTip(tenant, msg.RecordID, lin.Tip.CID()); err != nil {
			res := dwnmessage.Result{Code: 500, Detail: err.Error()}
			h.recordStage("commit", res, stageStart)
			return res
		}
	}

	res = dwnmessage.Accepted
	h.recordStage("commit", res, stageStart)
	return res
}

// Query reads directly through the message store with no lock
// (spec.md §4.3/§5).
func (h *Handler) Query(tenant string, filter dwnstore.Filter) Reply {
	entries, err := h.Store.Query(tenant, filter)
	if err != nil {
		if h.Metrics != nil {
			h.Metrics.RecordStoreOperation("query", "error", 0)
		}
		return replyFromResult(dwnmessage.Result{Code: 500, Detail: err.Error()})
	}
	if h.Metrics != nil {
		h.Metrics.QueryRequestsTotal.Inc()
		h.Metrics.QueryResultsTotal.Add(float64(len(entries)))
	}
	msgs := make([]*dwnmessage.Message, 0, len(entries))
	for _, e := range entries {
		msgs = append(msgs, e.Message)
	}
	return Reply{Status: Status{Code: 200}, Entries: msgs}
}
