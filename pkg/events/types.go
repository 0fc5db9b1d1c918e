// Package events provides real-time progress delivery for analysis
// runs: an in-process event bus with per-channel replay, and a
// WebSocket connection manager that streams bus events to clients.
package events

// Event types published over the bus.
const (
	EventTypeRunStatus    = "run.status"
	EventTypeStageStatus  = "stage.status"
	EventTypeAgentStatus  = "agent.status"
	EventTypeRunCompleted = "run.completed"
)

// Run lifecycle status values (used in RunStatusPayload.Status).
const (
	RunStatusQueued    = "queued"
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
	RunStatusCancelled = "cancelled"
	RunStatusTimedOut  = "timed_out"
)

// Stage lifecycle status values (used in StageStatusPayload.Status).
const (
	StageStatusStarted   = "started"
	StageStatusCompleted = "completed"
	StageStatusFailed    = "failed"
)

// GlobalRunsChannel carries run-level status for every analysis. The
// run list view subscribes to this.
const GlobalRunsChannel = "runs"

// RunChannel returns the channel name for one analysis run's events.
// Format: "run:{analysis_id}"
func RunChannel(analysisID string) string {
	return "run:" + analysisID
}

// ClientMessage is the JSON structure for client to server WebSocket
// messages.
type ClientMessage struct {
	Action      string `json:"action"`                  // "subscribe", "unsubscribe", "catchup", "ping"
	Channel     string `json:"channel,omitempty"`       // e.g. "run:abc-123"
	LastEventID *int   `json:"last_event_id,omitempty"` // for catchup
}

// RunStatusPayload is the payload for run.status events.
type RunStatusPayload struct {
	Type       string `json:"type"` // always EventTypeRunStatus
	AnalysisID string `json:"analysis_id"`
	Status     string `json:"status"`
	Timestamp  string `json:"timestamp"` // RFC3339Nano
}

// StageStatusPayload is the payload for stage.status events.
type StageStatusPayload struct {
	Type       string `json:"type"` // always EventTypeStageStatus
	AnalysisID string `json:"analysis_id"`
	Stage      string `json:"stage"` // planner, collectors, timeline, hypotheses, verifier, decision
	Status     string `json:"status"`
	Detail     string `json:"detail,omitempty"`
	Timestamp  string `json:"timestamp"` // RFC3339Nano
}

// AgentStatusPayload is the payload for agent.status events, one per
// evidence collector completion.
type AgentStatusPayload struct {
	Type          string  `json:"type"` // always EventTypeAgentStatus
	AnalysisID    string  `json:"analysis_id"`
	Agent         string  `json:"agent"`
	Status        string  `json:"status"` // completed, failed, timed_out, skipped, cancelled
	EvidenceCount int     `json:"evidence_count"`
	DurationMS    int64   `json:"duration_ms"`
	Confidence    float64 `json:"confidence,omitempty"`
	Error         string  `json:"error,omitempty"`
	Timestamp     string  `json:"timestamp"` // RFC3339Nano
}

// RunCompletedPayload is the payload for run.completed events. It
// carries the decision, not the full response — clients fetch that
// over REST.
type RunCompletedPayload struct {
	Type       string  `json:"type"` // always EventTypeRunCompleted
	AnalysisID string  `json:"analysis_id"`
	Status     string  `json:"status"` // answer, refuse, request_more_data
	Confidence float64 `json:"confidence"`
	RootCause  string  `json:"root_cause,omitempty"`
	Timestamp  string  `json:"timestamp"` // RFC3339Nano
}
