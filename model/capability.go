package model

import (
	"slices"
	"strings"
)

// Capabilities checked by the work-order engine and the HTTP layer.
const (
	CapWorkOrdersCreate = "workorders:create"
	CapWorkOrdersView   = "workorders:view"
	CapWorkOrdersAssign = "workorders:assign"
	CapWorkOrdersManage = "workorders:manage"
	CapSessionsExecute  = "sessions:execute"
	CapReportsSend      = "reports:send"
	CapApprovalsRequest = "approvals:request"
	CapApprovalsDecide  = "approvals:decide"
	CapProceduresManage = "procedures:manage"
	CapEquipmentManage  = "equipment:manage"
	CapAssistantUse     = "assistant:use"
)

// CapabilitySet holds the capabilities granted to a caller. Keys are either
// exact ("approvals:decide"), a namespace wildcard ("approvals:*") or "*".
type CapabilitySet map[string]bool

// Has reports whether cap is granted exactly or through a wildcard.
func (cs CapabilitySet) Has(cap string) bool {
	if cs[cap] || cs["*"] {
		return true
	}
	namespace, _, ok := strings.Cut(cap, ":")
	return ok && cs[namespace+":*"]
}

// HasAny reports whether at least one of caps is granted.
func (cs CapabilitySet) HasAny(caps ...string) bool {
	return slices.ContainsFunc(caps, cs.Has)
}

// CapabilityResolver returns the capability set of the caller.
type CapabilityResolver interface {
	Resolve(rctx *RequestContext) (CapabilitySet, error)
}

// PolicyEvaluator turns the caller's roles into capabilities.
type PolicyEvaluator interface {
	ResolveCapabilities(rctx *RequestContext) (CapabilitySet, error)
}
