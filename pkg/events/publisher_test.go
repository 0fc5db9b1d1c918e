package events

import (
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faultline-io/faultline/pkg/models"
)

func lastPayload(t *testing.T, bus *Bus, channel string) map[string]any {
	t.Helper()
	events, _ := bus.EventsSince(channel, 0)
	require.NotEmpty(t, events)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(events[len(events)-1].Payload, &decoded))
	return decoded
}

func TestPublisherRunStatusDualChannel(t *testing.T) {
	bus := NewBus(slog.Default())
	pub := NewPublisher(bus)

	pub.RunStatus("abc-123", RunStatusRunning)

	runEvt := lastPayload(t, bus, RunChannel("abc-123"))
	globalEvt := lastPayload(t, bus, GlobalRunsChannel)

	assert.Equal(t, EventTypeRunStatus, runEvt["type"])
	assert.Equal(t, "abc-123", runEvt["analysis_id"])
	assert.Equal(t, RunStatusRunning, runEvt["status"])
	assert.NotEmpty(t, runEvt["timestamp"])
	assert.Equal(t, runEvt["analysis_id"], globalEvt["analysis_id"])
}

func TestPublisherStageStatus(t *testing.T) {
	bus := NewBus(slog.Default())
	pub := NewPublisher(bus)

	pub.StageStatus("abc-123", "collectors", StageStatusStarted, "5 agents")

	evt := lastPayload(t, bus, RunChannel("abc-123"))
	assert.Equal(t, EventTypeStageStatus, evt["type"])
	assert.Equal(t, "collectors", evt["stage"])
	assert.Equal(t, StageStatusStarted, evt["status"])
	assert.Equal(t, "5 agents", evt["detail"])

	// Stage events stay off the global channel.
	events, _ := bus.EventsSince(GlobalRunsChannel, 0)
	assert.Empty(t, events)
}

func TestPublisherAgentCompleted(t *testing.T) {
	bus := NewBus(slog.Default())
	pub := NewPublisher(bus)

	conf := 0.75
	pub.AgentCompleted("abc-123", models.AgentRecord{
		Agent:         string(models.SourceMetrics),
		Status:        models.AgentStatusCompleted,
		EvidenceCount: 3,
		DurationMS:    420,
		Confidence:    &conf,
	})

	evt := lastPayload(t, bus, RunChannel("abc-123"))
	assert.Equal(t, EventTypeAgentStatus, evt["type"])
	assert.Equal(t, string(models.SourceMetrics), evt["agent"])
	assert.Equal(t, models.AgentStatusCompleted, evt["status"])
	assert.InDelta(t, 3, evt["evidence_count"], 0.01)
	assert.InDelta(t, 0.75, evt["confidence"], 0.001)
}

func TestPublisherRunCompleted(t *testing.T) {
	bus := NewBus(slog.Default())
	pub := NewPublisher(bus)

	pub.RunCompleted(&models.AnalysisResponse{
		AnalysisID: "abc-123",
		Status:     models.StatusAnswer,
		Confidence: 0.82,
		RootCause:  "Deployment v2.3.1 introduced a memory leak",
	})

	evt := lastPayload(t, bus, RunChannel("abc-123"))
	assert.Equal(t, EventTypeRunCompleted, evt["type"])
	assert.Equal(t, models.StatusAnswer, evt["status"])
	assert.InDelta(t, 0.82, evt["confidence"], 0.001)

	globalEvt := lastPayload(t, bus, GlobalRunsChannel)
	assert.Equal(t, EventTypeRunCompleted, globalEvt["type"])
}

func TestNilPublisherIsSafe(t *testing.T) {
	var pub *Publisher

	assert.NotPanics(t, func() {
		pub.RunStatus("abc-123", RunStatusRunning)
		pub.StageStatus("abc-123", "planner", StageStatusStarted, "")
		pub.AgentCompleted("abc-123", models.AgentRecord{})
		pub.RunCompleted(&models.AnalysisResponse{AnalysisID: "abc-123"})
	})
}
