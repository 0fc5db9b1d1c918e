// Package pipeline is the analysis orchestrator. It owns the RunState
// for each run, fans the evidence agents out in parallel, applies
// their patches serially at stage boundaries, drives the sequential
// tail (timeline, hypotheses, verification, decision), and enforces
// the per-run hard deadline.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/faultline-io/faultline/pkg/agent"
	"github.com/faultline-io/faultline/pkg/agent/planner"
	"github.com/faultline-io/faultline/pkg/config"
	"github.com/faultline-io/faultline/pkg/decision"
	"github.com/faultline-io/faultline/pkg/enrich"
	"github.com/faultline-io/faultline/pkg/events"
	"github.com/faultline-io/faultline/pkg/hypothesis"
	"github.com/faultline-io/faultline/pkg/models"
	"github.com/faultline-io/faultline/pkg/timeline"
	"github.com/faultline-io/faultline/pkg/verify"
)

// Stage names used in progress events.
const (
	StagePlanner    = "planner"
	StageCollectors = "collectors"
	StageTimeline   = "timeline"
	StageHypotheses = "hypotheses"
	StageVerifier   = "verifier"
	StageDecision   = "decision"
)

// enrichmentAgent is the agent_history name for tool-loop runs.
const enrichmentAgent = string(models.SourceToolEnrichment)

// Options wires an orchestrator. Enricher and Publisher may be nil:
// without an enricher the pipeline skips both enrichment loops,
// without a publisher it runs silently.
type Options struct {
	Config     config.PipelineConfig
	Planner    *planner.Planner
	Collectors []agent.Collector
	Correlator *timeline.Correlator
	Generator  *hypothesis.Generator
	Verifier   *verify.Verifier
	Enricher   *enrich.Loop
	Gate       *decision.Gate
	Publisher  *events.Publisher
	Logger     *slog.Logger
}

// Orchestrator runs analyses end to end.
type Orchestrator struct {
	cfg        config.PipelineConfig
	planner    *planner.Planner
	collectors []agent.Collector
	correlator *timeline.Correlator
	generator  *hypothesis.Generator
	verifier   *verify.Verifier
	enricher   *enrich.Loop
	gate       *decision.Gate
	publisher  *events.Publisher
	logger     *slog.Logger
}

// New creates an orchestrator.
func New(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:        opts.Config,
		planner:    opts.Planner,
		collectors: opts.Collectors,
		correlator: opts.Correlator,
		generator:  opts.Generator,
		verifier:   opts.Verifier,
		enricher:   opts.Enricher,
		gate:       opts.Gate,
		publisher:  opts.Publisher,
		logger:     logger,
	}
}

// Analyze runs the full pipeline for a normalized-or-raw request and
// always returns a structured response. The request must have passed
// Validate; everything after that is recovered into the response.
func (o *Orchestrator) Analyze(ctx context.Context, analysisID string, req models.AnalysisRequest) *models.AnalysisResponse {
	log := o.logger.With(slog.String("analysis_id", analysisID))
	start := time.Now()

	rs := models.NewRunState(analysisID, req)
	rs.Errors = append(rs.Errors, rs.Request.Normalize()...)

	runCtx, cancel := context.WithTimeout(ctx, o.cfg.RunTimeout())
	defer cancel()

	resp := o.run(runCtx, log, rs)
	resp.ProcessingTimeMS = time.Since(start).Milliseconds()
	resp.AgentHistory = rs.AgentHistory
	resp.Errors = append(resp.Errors, rs.Errors...)
	rs.Response = resp

	o.publisher.RunCompleted(resp)
	log.Info("Analysis finished",
		slog.String("status", resp.Status),
		slog.Float64("confidence", resp.Confidence),
		slog.Int64("duration_ms", resp.ProcessingTimeMS))
	return resp
}

// run drives the stages. It returns early with a refusal when the run
// deadline trips or the caller cancels.
func (o *Orchestrator) run(ctx context.Context, log *slog.Logger, rs *models.RunState) *models.AnalysisResponse {
	// Plan. The planner never fails; a degraded LLM falls back to
	// deterministic extraction internally.
	o.stage(rs.AnalysisID, StagePlanner, func() {
		rs.Plan = o.planner.Plan(ctx, rs.Request)
	})
	if aborted := o.aborted(ctx, rs); aborted != nil {
		return aborted
	}

	// Evidence fan-out. Agents see the same snapshot; patches are
	// applied serially once all of them have returned.
	o.stage(rs.AnalysisID, StageCollectors, func() {
		o.collectEvidence(ctx, rs)
	})
	if aborted := o.aborted(ctx, rs); aborted != nil {
		return aborted
	}

	// Sequential tail.
	o.stage(rs.AnalysisID, StageTimeline, func() {
		snap := rs.Snapshot()
		rs.Timeline, rs.Correlations, rs.Gaps = o.correlator.Build(snap)
	})
	if aborted := o.aborted(ctx, rs); aborted != nil {
		return aborted
	}

	o.stage(rs.AnalysisID, StageHypotheses, func() {
		o.generateHypotheses(ctx, rs)
	})
	if aborted := o.aborted(ctx, rs); aborted != nil {
		return aborted
	}

	var results []models.VerificationResult
	o.stage(rs.AnalysisID, StageVerifier, func() {
		results = o.verifyWithEnrichment(ctx, rs)
	})
	rs.Verifications = results
	rs.OverallConfidence = verify.OverallConfidence(results)
	if aborted := o.aborted(ctx, rs); aborted != nil {
		return aborted
	}

	if err := rs.Validate(); err != nil {
		log.Error("Run state invariant violated", slog.String("error", err.Error()))
		return o.internalFailure(rs, err)
	}

	var resp *models.AnalysisResponse
	o.stage(rs.AnalysisID, StageDecision, func() {
		resp = o.gate.Decide(rs.Snapshot(), results)
	})
	return resp
}

// collectEvidence runs every collector concurrently with the per-agent
// soft timeout and merges their patches in collector order.
func (o *Orchestrator) collectEvidence(ctx context.Context, rs *models.RunState) {
	snap := rs.Snapshot()
	patches := make([]*models.Patch, len(o.collectors))

	g, gctx := errgroup.WithContext(ctx)
	for i, c := range o.collectors {
		i, c := i, c
		g.Go(func() error {
			patches[i] = agent.Run(gctx, o.logger, c, snap, o.cfg.AgentTimeout())
			return nil
		})
	}
	// agent.Run never returns an error; the group is only a barrier.
	_ = g.Wait()

	for _, p := range patches {
		rs.Apply(p)
		if p != nil {
			o.publisher.AgentCompleted(rs.AnalysisID, p.Record)
		}
	}
}

// generateHypotheses runs the generator and, when it cannot produce
// two plausible hypotheses, one enrichment loop followed by a second
// generation over the enlarged evidence.
func (o *Orchestrator) generateHypotheses(ctx context.Context, rs *models.RunState) {
	rs.Hypotheses = o.generator.Generate(ctx, rs.Snapshot())

	if o.enricher == nil || !hypothesis.NeedsEnrichment(rs.Hypotheses) || ctx.Err() != nil {
		return
	}

	o.runEnrichment(ctx, rs, "Too few plausible root-cause hypotheses; look for causal signals around the incident window.")

	// The generator works from the correlated timeline, so the
	// enrichment evidence only reaches it through a rebuild.
	rs.Timeline, rs.Correlations, rs.Gaps = o.correlator.Build(rs.Snapshot())
	rs.Hypotheses = o.generator.Generate(ctx, rs.Snapshot())
}

// verifyWithEnrichment verifies all hypotheses, then, when the best
// confidence is under the answer threshold, runs one enrichment loop
// focused on the weakest hypotheses and re-verifies against the
// enlarged evidence set. Enrichment loops within a run never overlap:
// both call sites live on this sequential tail.
func (o *Orchestrator) verifyWithEnrichment(ctx context.Context, rs *models.RunState) []models.VerificationResult {
	results := o.verifier.Verify(rs.Snapshot())

	if o.enricher == nil || !verify.NeedsEnrichment(results, o.cfg.ConfidenceThreshold) || ctx.Err() != nil {
		return results
	}

	o.runEnrichment(ctx, rs, enrichmentFocus(rs.Snapshot(), results))
	return o.verifier.Verify(rs.Snapshot())
}

// runEnrichment executes one tool loop and applies its evidence as a
// patch with a tool_enrichment agent record.
func (o *Orchestrator) runEnrichment(ctx context.Context, rs *models.RunState, focus string) {
	start := time.Now()
	record := models.AgentRecord{Agent: enrichmentAgent, StartedAt: start.UTC()}

	evidence, iterations, err := o.enricher.Run(ctx, rs.Snapshot(), focus)
	record.Iterations = iterations
	record.DurationMS = time.Since(start).Milliseconds()
	record.EvidenceCount = len(evidence)

	patch := &models.Patch{Evidence: evidence, Record: record}
	if err != nil {
		patch.Record.Status = models.AgentStatusFailed
		patch.Record.Error = fmt.Sprintf("enrichment loop failed: %v", err)
		patch.Errors = []string{patch.Record.Error}
	} else {
		patch.Record.Status = models.AgentStatusCompleted
	}

	rs.Apply(patch)
	o.publisher.AgentCompleted(rs.AnalysisID, patch.Record)
}

// enrichmentFocus names the weakest hypotheses and their missing
// evidence kinds for the tool loop prompt.
func enrichmentFocus(snap models.Snapshot, results []models.VerificationResult) string {
	weakest := verify.WeakestHypotheses(snap, results, 2)
	if len(weakest) == 0 {
		return "Confidence is below the answer threshold; gather corroborating or refuting evidence."
	}
	focus := "Verification confidence is below the answer threshold. Weakest hypotheses:\n"
	for _, h := range weakest {
		focus += fmt.Sprintf("- %s", h.RootCause)
		if len(h.RequiredEvidence) > 0 {
			focus += fmt.Sprintf(" (missing: %v)", h.RequiredEvidence)
		}
		focus += "\n"
	}
	return focus
}

// aborted returns the terminal refusal when the run deadline tripped
// or the caller cancelled, nil otherwise.
func (o *Orchestrator) aborted(ctx context.Context, rs *models.RunState) *models.AnalysisResponse {
	switch {
	case ctx.Err() == nil:
		return nil
	case ctx.Err() == context.DeadlineExceeded:
		rs.Errors = append(rs.Errors, "timeout")
	default:
		rs.Errors = append(rs.Errors, "cancelled")
	}

	return &models.AnalysisResponse{
		AnalysisID: rs.AnalysisID,
		Status:     models.StatusRefuse,
		Confidence: rs.OverallConfidence,
		Evidence:   &rs.Evidence,
		Timeline:   rs.Timeline,
	}
}

// internalFailure reports a state-invariant violation. Unlike agent
// failures this is an implementation bug, so the run fails rather than
// degrading.
func (o *Orchestrator) internalFailure(rs *models.RunState, err error) *models.AnalysisResponse {
	rs.Errors = append(rs.Errors, fmt.Sprintf("internal error: %v", err))
	return &models.AnalysisResponse{
		AnalysisID: rs.AnalysisID,
		Status:     models.StatusRefuse,
		Confidence: 0,
	}
}

// stage publishes start/completion events around one pipeline node.
func (o *Orchestrator) stage(analysisID, name string, fn func()) {
	o.publisher.StageStatus(analysisID, name, events.StageStatusStarted, "")
	fn()
	o.publisher.StageStatus(analysisID, name, events.StageStatusCompleted, "")
}
