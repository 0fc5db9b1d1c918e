// Package models defines the shared data types for incident analysis runs:
// evidence, timeline events, hypotheses, verification results, and the
// run state record owned by the pipeline orchestrator.
package models

import "time"

// SourceKind identifies which evidence producer emitted an item.
// The set is closed — kind-specific detail lives in the typed payloads
// on Evidence, not in subtypes.
type SourceKind string

const (
	SourceLog            SourceKind = "log"
	SourceRAG            SourceKind = "rag"
	SourceMetrics        SourceKind = "metrics"
	SourceDashboard      SourceKind = "dashboard"
	SourceImage          SourceKind = "image"
	SourceToolEnrichment SourceKind = "tool_enrichment"
)

// CollectorKinds lists the five parallel evidence producers, in stage order.
// Tool enrichment is not a collector — it runs inside the sequential tail.
var CollectorKinds = []SourceKind{
	SourceLog, SourceRAG, SourceMetrics, SourceDashboard, SourceImage,
}

// Evidence is a single immutable observation produced by one agent.
// Agents return Evidence in patches; nothing mutates an item after the
// orchestrator has applied the patch.
type Evidence struct {
	ID         string            `json:"id"`
	Source     SourceKind        `json:"source"`
	Content    string            `json:"content"`
	Timestamp  *time.Time        `json:"timestamp,omitempty"` // nil when the source had no usable time
	Confidence float64           `json:"confidence"`          // [0,1]
	Metadata   map[string]string `json:"metadata,omitempty"`

	// Kind-specific payloads. At most one is non-nil, matching Source.
	Metric     *MetricPayload     `json:"metric,omitempty"`
	Log        *LogPayload        `json:"log,omitempty"`
	Document   *DocumentPayload   `json:"document,omitempty"`
	Dashboard  *DashboardPayload  `json:"dashboard,omitempty"`
	Image      *ImagePayload      `json:"image,omitempty"`
	Enrichment *EnrichmentPayload `json:"enrichment,omitempty"`
}

// MetricPayload carries the detail of a metric range-query observation.
type MetricPayload struct {
	Metric    string          `json:"metric"`
	Job       string          `json:"job,omitempty"`
	Query     string          `json:"query"`
	Stats     MetricStats     `json:"stats"`
	Anomalies []MetricAnomaly `json:"anomalies,omitempty"`
}

// MetricStats summarizes a metric series over the queried window.
type MetricStats struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	Stddev float64 `json:"stddev"`
}

// MetricAnomaly is one rule-based anomaly detection hit.
type MetricAnomaly struct {
	Kind   string    `json:"kind"` // "spike", "flatline", "step_change"
	Time   time.Time `json:"time"`
	Value  float64   `json:"value"`
	ZScore float64   `json:"zscore,omitempty"`
	Detail string    `json:"detail,omitempty"`
}

// LogPayload carries log-line detail.
type LogPayload struct {
	Service string `json:"service,omitempty"`
	Level   string `json:"level,omitempty"`
}

// DocumentPayload carries similarity-search detail for RAG hits.
type DocumentPayload struct {
	Corpus     string  `json:"corpus"` // "incidents" or "runbooks"
	DocID      string  `json:"doc_id"`
	Similarity float64 `json:"similarity"`
}

// DashboardPayload carries dashboard/annotation detail.
type DashboardPayload struct {
	UID   string   `json:"uid,omitempty"`
	Title string   `json:"title,omitempty"`
	Tags  []string `json:"tags,omitempty"`
}

// ImagePayload carries vision-analysis detail for a screenshot.
type ImagePayload struct {
	ImageRef   string   `json:"image_ref"` // path or "inline:<n>"
	Anomalies  []string `json:"anomalies,omitempty"`
	TimeLabels []string `json:"time_labels,omitempty"`
}

// EnrichmentPayload carries the tool-loop provenance of synthesized evidence.
type EnrichmentPayload struct {
	Iterations int      `json:"iterations"`
	ToolCalls  []string `json:"tool_calls,omitempty"`
}

// TimelineEvent is the projection of one Evidence item onto the
// correlated timeline. EvidenceID always references an item present in
// the run state.
type TimelineEvent struct {
	Time       time.Time  `json:"time"`
	Event      string     `json:"event"`
	Source     SourceKind `json:"source"`
	Confidence float64    `json:"confidence"`
	EvidenceID string     `json:"evidence_id"`
	Class      EventClass `json:"class"`
}

// EventClass is a coarse classification used by correlation matching.
type EventClass string

const (
	ClassDeployment    EventClass = "deployment"
	ClassError         EventClass = "error"
	ClassMetricAnomaly EventClass = "metric_anomaly"
	ClassPerformance   EventClass = "performance"
	ClassCapacity      EventClass = "capacity"
	ClassConfiguration EventClass = "configuration"
	ClassOther         EventClass = "other"
)

// Correlation records a co-occurrence of events from at least two
// distinct source kinds within the correlation window.
type Correlation struct {
	EvidenceIDs  []string  `json:"evidence_ids"`
	FirstEvent   string    `json:"first_event"`
	SecondEvent  string    `json:"second_event"`
	FirstTime    time.Time `json:"first_time"`
	SecondTime   time.Time `json:"second_time"`
	DeltaSeconds float64   `json:"delta_seconds"`
	Pattern      string    `json:"pattern"`
	Strength     string    `json:"strength"` // "strong", "medium", "weak"
}

// Gap is an interval inside the plan window with no evidence, or where a
// specific expected source was silent.
type Gap struct {
	Start         time.Time  `json:"start"`
	End           time.Time  `json:"end"`
	MissingSource SourceKind `json:"missing_source,omitempty"` // empty = all sources silent
	Description   string     `json:"description"`
}
