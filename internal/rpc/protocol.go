// Package rpc is the JSON-RPC-over-stdio/unix-socket glue between the daemon and its
// clients. Handlers here translate engine/jobs/graph/projector calls and storeerr
// codes into a wire Response; it carries no domain logic of its own.
package rpc

import "encoding/json"

// Tool verbs dispatched by the daemon. The prefix groups the module the verb targets.
const (
	OpPing = "ping"

	OpTasksCreate     = "tasks.create"
	OpTasksGet        = "tasks.get"
	OpTasksList       = "tasks.list"
	OpTasksTransition = "tasks.transition"
	OpTasksPark       = "tasks.park"

	OpStepsAdd       = "tasks.steps.add"
	OpStepsList      = "tasks.steps.list"
	OpStepsComplete  = "tasks.steps.complete"
	OpTasksCloseStep = "tasks.close.step"

	OpLeaseClaim   = "tasks.steps.lease.claim"
	OpLeaseRenew   = "tasks.steps.lease.renew"
	OpLeaseRelease = "tasks.steps.lease.release"
	OpLeaseGet     = "tasks.steps.lease.get"

	OpAnchorsUpsert  = "anchors.upsert"
	OpAnchorsGet     = "anchors.get"
	OpAnchorsList    = "anchors.list"
	OpKnowledgeQuery = "knowledge.query"

	OpGraphAddCard = "graph.add_card"
	OpGraphLink    = "graph.link"
	OpGraphTrace   = "graph.trace"

	OpKnowledgeLint = "knowledge.lint"

	OpJobsCreate   = "jobs.create"
	OpJobsClaim    = "jobs.claim"
	OpJobsComplete = "jobs.complete"
	OpJobsGet      = "jobs.get"
	OpJobsList     = "jobs.list"
	OpJobsCancel   = "jobs.cancel"
	OpJobsWait     = "jobs.wait"

	OpMeshPublish = "mesh.publish"
	OpMeshPull    = "mesh.pull"
	OpMeshAck     = "mesh.ack"

	OpTasksRadar       = "tasks.radar"
	OpTasksHandoff     = "tasks.handoff"
	OpTasksContextPack = "tasks.context_pack"
	OpTasksResumeSuper = "tasks.resume_super"
	OpThinkPack        = "think_pack"

	OpStatus   = "status"
	OpSnapshot = "snapshot"
	OpShutdown = "shutdown"
)

// Request is one envelope sent from client to daemon over the unix socket.
type Request struct {
	Operation string          `json:"operation"`
	Args      json.RawMessage `json:"args"`
	RequestID string          `json:"request_id,omitempty"`
	Workspace string          `json:"workspace"`
	MaxChars  *int            `json:"max_chars,omitempty"`
}

// Response is one envelope sent from daemon back to client.
type Response struct {
	Success   bool            `json:"success"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	Code      string          `json:"code,omitempty"`
	Recovery  string          `json:"recovery,omitempty"`
	Warnings  []Warning       `json:"warnings,omitempty"`
	Actions   []Action        `json:"actions,omitempty"`
	Truncated bool            `json:"truncated,omitempty"`
}

// Warning annotates a Response with a non-fatal condition the caller should know
// about, such as a budget that had to clamp or compact the result.
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Action is a suggested follow-up operation attached to a Response, most often a
// recovery step for an error or a next step surfaced by a capsule view.
type Action struct {
	Command  string `json:"command"`
	Label    string `json:"label"`
	Priority string `json:"priority,omitempty"`
}

// StatusResponse is the payload of the "status" operation, used by daemon discovery
// to report liveness and identity without a caller needing a workspace handle yet.
type StatusResponse struct {
	Version          string  `json:"version"`
	WorkspacePath    string  `json:"workspace_path"`
	DatabasePath     string  `json:"database_path"`
	PID              int     `json:"pid"`
	UptimeSeconds    float64 `json:"uptime_seconds"`
	LastActivityTime string  `json:"last_activity_time"`
}
