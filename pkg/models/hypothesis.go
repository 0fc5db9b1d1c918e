package models

// Hypothesis is a candidate root cause. Immutable after the generator
// emits it — the verifier writes its findings into a separate
// VerificationResult keyed by HypothesisID.
type Hypothesis struct {
	ID                 string   `json:"id"`
	RootCause          string   `json:"root_cause"`
	Plausibility       float64  `json:"plausibility"` // generator prior, [0,1]
	SupportingEvidence []string `json:"supporting_evidence"`
	RequiredEvidence   []string `json:"required_evidence"`
	WouldRefute        []string `json:"would_refute"`
}

// Verdict is the verifier's judgment on one hypothesis.
type Verdict string

const (
	VerdictSupported            Verdict = "SUPPORTED"
	VerdictInsufficientEvidence Verdict = "INSUFFICIENT_EVIDENCE"
	VerdictContradicted         Verdict = "CONTRADICTED"
)

// VerificationResult scores one hypothesis against all collected evidence.
// A SUPPORTED result always has IndependentSources >= the configured
// minimum and an empty Contradictions list.
type VerificationResult struct {
	HypothesisID       string                  `json:"hypothesis_id"`
	Verdict            Verdict                 `json:"verdict"`
	Confidence         float64                 `json:"confidence"`
	EvidenceSummary    map[SourceKind][]string `json:"evidence_summary"`
	IndependentSources int                     `json:"independent_sources"`
	Contradictions     []string                `json:"contradictions"`
	Reasoning          string                  `json:"reasoning"`
}
