package api

import "github.com/faultline-io/faultline/pkg/queue"

// SubmitResponse is returned by POST /api/v1/analyze/async.
type SubmitResponse struct {
	AnalysisID string `json:"analysis_id"`
	Status     string `json:"status"`
}

// CancelResponse is returned by POST /api/v1/analyses/:id/cancel.
type CancelResponse struct {
	AnalysisID string `json:"analysis_id"`
	Message    string `json:"message"`
}

// HealthResponse is returned by GET /healthz.
type HealthResponse struct {
	Status     string            `json:"status"`
	Version    string            `json:"version"`
	WorkerPool *queue.PoolHealth `json:"worker_pool,omitempty"`
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}
