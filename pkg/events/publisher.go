package events

import (
	"time"

	"github.com/faultline-io/faultline/pkg/models"
)

// Publisher builds typed payloads and routes them onto the bus. A nil
// *Publisher is valid and drops everything, so the pipeline can run
// without event delivery wired.
type Publisher struct {
	bus *Bus
}

// NewPublisher creates a publisher.
func NewPublisher(bus *Bus) *Publisher {
	return &Publisher{bus: bus}
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// RunStatus publishes a run lifecycle transition to the run's channel
// and the global runs channel.
func (p *Publisher) RunStatus(analysisID, status string) {
	if p == nil {
		return
	}
	payload := RunStatusPayload{
		Type:       EventTypeRunStatus,
		AnalysisID: analysisID,
		Status:     status,
		Timestamp:  now(),
	}
	p.bus.Publish(RunChannel(analysisID), payload)
	p.bus.Publish(GlobalRunsChannel, payload)
}

// StageStatus publishes a pipeline stage transition.
func (p *Publisher) StageStatus(analysisID, stage, status, detail string) {
	if p == nil {
		return
	}
	p.bus.Publish(RunChannel(analysisID), StageStatusPayload{
		Type:       EventTypeStageStatus,
		AnalysisID: analysisID,
		Stage:      stage,
		Status:     status,
		Detail:     detail,
		Timestamp:  now(),
	})
}

// AgentCompleted publishes one collector's outcome.
func (p *Publisher) AgentCompleted(analysisID string, rec models.AgentRecord) {
	if p == nil {
		return
	}
	payload := AgentStatusPayload{
		Type:          EventTypeAgentStatus,
		AnalysisID:    analysisID,
		Agent:         rec.Agent,
		Status:        rec.Status,
		EvidenceCount: rec.EvidenceCount,
		DurationMS:    rec.DurationMS,
		Error:         rec.Error,
		Timestamp:     now(),
	}
	if rec.Confidence != nil {
		payload.Confidence = *rec.Confidence
	}
	p.bus.Publish(RunChannel(analysisID), payload)
}

// RunCompleted publishes the final decision for a run.
func (p *Publisher) RunCompleted(resp *models.AnalysisResponse) {
	if p == nil {
		return
	}
	payload := RunCompletedPayload{
		Type:       EventTypeRunCompleted,
		AnalysisID: resp.AnalysisID,
		Status:     resp.Status,
		Confidence: resp.Confidence,
		RootCause:  resp.RootCause,
		Timestamp:  now(),
	}
	p.bus.Publish(RunChannel(resp.AnalysisID), payload)
	p.bus.Publish(GlobalRunsChannel, payload)
}
