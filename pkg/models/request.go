package models

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors for request validation.
var (
	ErrEmptyQuery       = errors.New("query must not be empty")
	ErrMissingTimestamp = errors.New("timestamp must be provided")
)

// LogEntry is one in-request log line.
type LogEntry struct {
	Time    string `json:"timestamp,omitempty"` // best-effort; parsed lazily
	Level   string `json:"level,omitempty"`
	Service string `json:"service,omitempty"`
	Source  string `json:"source,omitempty"`
	Message string `json:"content"`
}

// LogFile is a base64-encoded attached log file.
type LogFile struct {
	Filename      string `json:"filename"`
	ContentBase64 string `json:"content_base64"`
}

// AnalysisRequest is the external request shape accepted by the API and
// normalized by the orchestrator before a run starts.
type AnalysisRequest struct {
	Query           string     `json:"query"`
	Timestamp       time.Time  `json:"timestamp"`
	DashboardImages []string   `json:"dashboard_images,omitempty"` // base64 or paths
	LogFilesBase64  []LogFile  `json:"log_files_base64,omitempty"`
	Logs            []LogEntry `json:"logs,omitempty"`
	Services        []string   `json:"services,omitempty"`
}

// Validate checks the request before the pipeline starts. Failures here
// are input errors — surfaced synchronously, never as a run.
func (r *AnalysisRequest) Validate() error {
	if strings.TrimSpace(r.Query) == "" {
		return ErrEmptyQuery
	}
	if r.Timestamp.IsZero() {
		return ErrMissingTimestamp
	}
	return nil
}

// Normalize converts the timestamp to UTC and expands attached log files
// into Logs entries, one per non-empty line. Undecodable attachments are
// reported as non-fatal errors and skipped.
func (r *AnalysisRequest) Normalize() []string {
	r.Timestamp = r.Timestamp.UTC()

	var errs []string
	for _, f := range r.LogFilesBase64 {
		raw, err := base64.StdEncoding.DecodeString(f.ContentBase64)
		if err != nil {
			errs = append(errs, fmt.Sprintf("log file %q: %v", f.Filename, err))
			continue
		}
		for _, line := range strings.Split(string(raw), "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			r.Logs = append(r.Logs, LogEntry{
				Source:  f.Filename,
				Message: line,
			})
		}
	}
	r.LogFilesBase64 = nil
	return errs
}

// Alternative is a non-winning hypothesis included in an answer.
type Alternative struct {
	Hypothesis    string `json:"hypothesis"`
	WhyLessLikely string `json:"why_less_likely"`
}

// EvidenceBundle groups response evidence by source kind.
type EvidenceBundle struct {
	Logs           []Evidence `json:"logs"`
	RAG            []Evidence `json:"rag"`
	Metrics        []Evidence `json:"metrics"`
	Dashboards     []Evidence `json:"dashboards"`
	Images         []Evidence `json:"images"`
	ToolEnrichment []Evidence `json:"tool_enrichment"`
}

// Decision status values for AnalysisResponse.Status.
const (
	StatusAnswer          = "answer"
	StatusRefuse          = "refuse"
	StatusRequestMoreData = "request_more_data"
)

// AnalysisResponse is the structured verdict for one run.
type AnalysisResponse struct {
	AnalysisID            string          `json:"analysis_id"`
	Status                string          `json:"status"`
	Confidence            float64         `json:"confidence"`
	RootCause             string          `json:"root_cause,omitempty"`
	Evidence              *EvidenceBundle `json:"evidence,omitempty"`
	Timeline              []TimelineEvent `json:"timeline,omitempty"`
	RecommendedActions    []string        `json:"recommended_actions,omitempty"`
	AlternativeHypotheses []Alternative   `json:"alternative_hypotheses,omitempty"`
	MissingEvidence       []string        `json:"missing_evidence,omitempty"`
	ProcessingTimeMS      int64           `json:"processing_time_ms"`
	AgentHistory          []AgentRecord   `json:"agent_history"`
	Errors                []string        `json:"errors,omitempty"`
}
