// ABOUTME: Reply contract shared by Process and Query (spec.md §6 "Reply contract")
// ABOUTME: Status mirrors dwnmessage.Result; kept as its own type since a query reply also carries entries

package writehandler

import (
	"github.com/nainya/dwnnode/pkg/dwnmessage"
)

// Status is the outcome of one request: a code and, for non-2xx, a detail.
type Status struct {
	Code   int    `json:"code"`
	Detail string `json:"detail,omitempty"`
}

// Reply is the wire-level response for both writes and queries
// (spec.md §6).
type Reply struct {
	Status  Status             `json:"status"`
	Entries []*dwnmessage.Message `json:"entries,omitempty"`
}

func statusFromResult(r dwnmessage.Result) Status {
	return Status{Code: r.Code, Detail: r.Detail}
}

func replyFromResult(r dwnmessage.Result) Reply {
	return Reply{Status: statusFromResult(r)}
}
