package models

import (
	"fmt"
	"time"
)

// Agent status values recorded in AgentRecord.Status.
const (
	AgentStatusCompleted = "completed"
	AgentStatusFailed    = "failed"
	AgentStatusTimedOut  = "timed_out"
	AgentStatusSkipped   = "skipped"
	AgentStatusCancelled = "cancelled"
)

// AgentRecord is one entry in the run's chronological agent history.
type AgentRecord struct {
	Agent         string    `json:"agent"`
	Status        string    `json:"status"`
	EvidenceCount int       `json:"evidence_count,omitempty"`
	Confidence    *float64  `json:"confidence,omitempty"`
	Iterations    int       `json:"iterations,omitempty"`
	DurationMS    int64     `json:"duration_ms"`
	Error         string    `json:"error,omitempty"`
	StartedAt     time.Time `json:"started_at"`
}

// Patch is the additive contribution an agent returns from a stage.
// The orchestrator applies patches serially at stage boundaries; agents
// never write to the RunState directly.
type Patch struct {
	Evidence []Evidence
	Errors   []string
	Record   AgentRecord
}

// Append files evidence under its source kind.
func (b *EvidenceBundle) Append(ev Evidence) {
	switch ev.Source {
	case SourceLog:
		b.Logs = append(b.Logs, ev)
	case SourceRAG:
		b.RAG = append(b.RAG, ev)
	case SourceMetrics:
		b.Metrics = append(b.Metrics, ev)
	case SourceDashboard:
		b.Dashboards = append(b.Dashboards, ev)
	case SourceImage:
		b.Images = append(b.Images, ev)
	case SourceToolEnrichment:
		b.ToolEnrichment = append(b.ToolEnrichment, ev)
	}
}

// ByKind returns the bundle's evidence of one source kind.
func (b *EvidenceBundle) ByKind(kind SourceKind) []Evidence {
	switch kind {
	case SourceLog:
		return b.Logs
	case SourceRAG:
		return b.RAG
	case SourceMetrics:
		return b.Metrics
	case SourceDashboard:
		return b.Dashboards
	case SourceImage:
		return b.Images
	case SourceToolEnrichment:
		return b.ToolEnrichment
	}
	return nil
}

// All flattens the bundle in collector order, with tool enrichment
// last.
func (b *EvidenceBundle) All() []Evidence {
	var out []Evidence
	for _, kind := range CollectorKinds {
		out = append(out, b.ByKind(kind)...)
	}
	out = append(out, b.ToolEnrichment...)
	return out
}

// Count is the total number of evidence items across all sources.
func (b *EvidenceBundle) Count() int {
	n := len(b.Logs) + len(b.RAG) + len(b.Metrics)
	n += len(b.Dashboards) + len(b.Images) + len(b.ToolEnrichment)
	return n
}

func (b *EvidenceBundle) clone() EvidenceBundle {
	return EvidenceBundle{
		Logs:           append([]Evidence(nil), b.Logs...),
		RAG:            append([]Evidence(nil), b.RAG...),
		Metrics:        append([]Evidence(nil), b.Metrics...),
		Dashboards:     append([]Evidence(nil), b.Dashboards...),
		Images:         append([]Evidence(nil), b.Images...),
		ToolEnrichment: append([]Evidence(nil), b.ToolEnrichment...),
	}
}

// Snapshot is the read-only view handed to agents. Slices are copies —
// an agent holding a Snapshot cannot observe or affect later mutation
// of the run state.
type Snapshot struct {
	AnalysisID   string
	Request      AnalysisRequest
	Plan         Plan
	Evidence     EvidenceBundle
	Timeline     []TimelineEvent
	Correlations []Correlation
	Gaps         []Gap
	Hypotheses   []Hypothesis
}

// AllEvidence flattens the snapshot's evidence in collector order,
// with tool enrichment last.
func (s *Snapshot) AllEvidence() []Evidence {
	return s.Evidence.All()
}

// RunState is the orchestrator-owned record for one analysis run.
// Mutated only by the orchestrator at stage boundaries; read-only once
// the decision gate has produced Response.
type RunState struct {
	AnalysisID string
	Request    AnalysisRequest
	StartedAt  time.Time

	Plan Plan

	Evidence EvidenceBundle

	Timeline     []TimelineEvent
	Correlations []Correlation
	Gaps         []Gap

	Hypotheses    []Hypothesis
	Verifications []VerificationResult

	OverallConfidence float64
	Response          *AnalysisResponse

	AgentHistory []AgentRecord
	Errors       []string
}

// NewRunState creates the state record for a normalized request.
func NewRunState(analysisID string, req AnalysisRequest) *RunState {
	return &RunState{
		AnalysisID: analysisID,
		Request:    req,
		StartedAt:  time.Now().UTC(),
	}
}

// Apply merges an agent's patch into the state. Evidence is appended
// under its declared source kind; errors and the history record are
// appended in arrival order.
func (rs *RunState) Apply(p *Patch) {
	if p == nil {
		return
	}
	for _, ev := range p.Evidence {
		rs.Evidence.Append(ev)
	}
	rs.Errors = append(rs.Errors, p.Errors...)
	if p.Record.Agent != "" {
		rs.AgentHistory = append(rs.AgentHistory, p.Record)
	}
}

// Snapshot returns a defensive copy of the state for agent consumption.
func (rs *RunState) Snapshot() Snapshot {
	return Snapshot{
		AnalysisID:   rs.AnalysisID,
		Request:      rs.Request,
		Plan:         rs.Plan,
		Evidence:     rs.Evidence.clone(),
		Timeline:     append([]TimelineEvent(nil), rs.Timeline...),
		Correlations: append([]Correlation(nil), rs.Correlations...),
		Gaps:         append([]Gap(nil), rs.Gaps...),
		Hypotheses:   append([]Hypothesis(nil), rs.Hypotheses...),
	}
}

// EvidenceCount is the total number of evidence items across all sources.
func (rs *RunState) EvidenceCount() int {
	return rs.Evidence.Count()
}

// FindEvidence looks up an evidence item by ID.
func (rs *RunState) FindEvidence(id string) (Evidence, bool) {
	for _, ev := range rs.Evidence.All() {
		if ev.ID == id {
			return ev, true
		}
	}
	return Evidence{}, false
}

// Validate checks the structural invariants that implementation bugs
// would violate: timeline back-references and ID uniqueness. A failure
// here fails the run with an internal error.
func (rs *RunState) Validate() error {
	for _, te := range rs.Timeline {
		if _, ok := rs.FindEvidence(te.EvidenceID); !ok {
			return fmt.Errorf("timeline event %q references missing evidence %q", te.Event, te.EvidenceID)
		}
	}
	seen := make(map[string]bool, len(rs.Hypotheses))
	for _, h := range rs.Hypotheses {
		if seen[h.ID] {
			return fmt.Errorf("duplicate hypothesis id %q", h.ID)
		}
		seen[h.ID] = true
	}
	seenVR := make(map[string]bool, len(rs.Verifications))
	for _, vr := range rs.Verifications {
		if seenVR[vr.HypothesisID] {
			return fmt.Errorf("duplicate verification result for hypothesis %q", vr.HypothesisID)
		}
		seenVR[vr.HypothesisID] = true
	}
	return nil
}
