package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/quay/zlog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/chainlock/chainlock"
)

// maxStageRetries is the per-stage retry budget for transient failures.
const maxStageRetries = 2

// Orchestrator runs the stages under a strict sequential protocol. It owns
// the SharedContext; parallelism lives inside stages.
type Orchestrator struct {
	stages  []Stage
	tracer  trace.Tracer
	initial time.Duration
}

// NewOrchestrator returns an Orchestrator over the given stages, run in
// order. Registration is explicit; there is no discovery.
func NewOrchestrator(stages ...Stage) *Orchestrator {
	return &Orchestrator{
		stages:  stages,
		tracer:  otel.Tracer("chainlock/analysis"),
		initial: time.Second,
	}
}

// Run executes every stage and seals the context. Run itself only fails on
// cancellation; individual stage failures are recorded in the context and
// reflected in the degradation outcome.
func (o *Orchestrator) Run(ctx context.Context, sc *SharedContext) error {
	ctx = zlog.ContextWithValues(ctx, "component", "analysis/Orchestrator.Run")
	defer sc.Seal()
	o.seedHighRisk(sc)
	for _, stage := range o.stages {
		if err := ctx.Err(); err != nil {
			return &chainlock.Error{Op: "analysis.Run", Kind: chainlock.ErrCancelled, Inner: err}
		}
		res := o.runStage(ctx, sc, stage)
		sc.SetResult(res)
		zlog.Info(ctx).
			Str("stage", res.StageName).
			Str("status", string(res.Status)).
			Dur("duration", res.Duration).
			Msg("stage finished")
	}
	return nil
}

// seedHighRisk carries the rule-based layer's verdicts into the high-risk
// set before any stage runs.
func (o *Orchestrator) seedHighRisk(sc *SharedContext) {
	for _, f := range sc.RuleFindings {
		switch f.Type {
		case chainlock.FindingMaliciousPackage:
			sc.MarkHighRisk(f.Package, "known-malicious package")
		default:
			if f.Severity >= chainlock.High {
				sc.MarkHighRisk(f.Package, "rule finding "+f.Type)
			}
		}
	}
}

// runStage applies the skip check, the deadline, and the retry policy.
func (o *Orchestrator) runStage(ctx context.Context, sc *SharedContext, stage Stage) *StageResult {
	name := stage.Name()
	res := &StageResult{StageName: name, StartedAt: time.Now()}
	if skip, reason := stage.Skip(sc); skip {
		res.Status = StatusSkipped
		res.Err = errors.New(reason)
		return res
	}

	ctx, span := o.tracer.Start(ctx, "stage."+name)
	defer span.End()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = o.initial
	bo.Multiplier = 2
	bo.RandomizationFactor = 0

	var data StageData
	var conf float64
	var err error
	for attempt := 0; ; attempt++ {
		sctx, cancel := context.WithTimeout(ctx, stage.Deadline())
		data, conf, err = o.guard(sctx, sc, stage)
		cancel()
		if err == nil || attempt >= maxStageRetries || !retryable(ctx, err) {
			break
		}
		wait := bo.NextBackOff()
		zlog.Warn(ctx).
			Str("stage", name).
			Err(err).
			Dur("backoff", wait).
			Msg("transient stage failure, retrying")
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			err = ctx.Err()
		}
		if ctx.Err() != nil {
			break
		}
	}

	res.Duration = time.Since(res.StartedAt)
	res.Confidence = conf
	res.Data = data
	res.Err = err
	switch {
	case err == nil:
		res.Success = true
		res.Status = StatusSuccess
	case errors.Is(err, ErrOffline):
		res.Status = StatusNotAvailable
	case errors.Is(err, context.DeadlineExceeded):
		res.Status = StatusTimeout
	default:
		res.Status = StatusFailed
	}
	// A required stage that produced nothing still hands synthesis a typed,
	// empty payload; the degradation verdict keeps counting it as missing.
	if !res.Success && res.Status != StatusSkipped && res.Data == nil {
		if data := emptyStageData(name); data != nil {
			res.Data = data
			res.Status = StatusFallback
		}
	}
	if err != nil {
		span.RecordError(err)
	}
	span.SetAttributes(
		attribute.String("status", string(res.Status)),
		attribute.Float64("confidence", res.Confidence),
	)
	return res
}

// emptyStageData returns the empty payload substituted for a failed required
// stage, or nil for stages whose absence the report tolerates.
func emptyStageData(name string) StageData {
	switch name {
	case StageVulnerability:
		return &VulnData{}
	case StageReputation:
		return &ReputationData{}
	}
	return nil
}

// guard converts a stage panic into an internal error so the run proceeds.
func (o *Orchestrator) guard(ctx context.Context, sc *SharedContext, stage Stage) (data StageData, conf float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &chainlock.Error{
				Op:      "analysis." + stage.Name(),
				Kind:    chainlock.ErrInternal,
				Message: fmt.Sprintf("stage panicked: %v", r),
			}
		}
	}()
	return stage.Run(ctx, sc)
}

// retryable reports whether the stage attempt should be retried. Deadline
// expiry, run cancellation, and offline upstreams are terminal.
func retryable(parent context.Context, err error) bool {
	switch {
	case parent.Err() != nil:
		return false
	case errors.Is(err, ErrOffline):
		return false
	case errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return chainlock.Transient(err)
}

// Outcome is the degradation verdict over a run's stage results.
type Outcome struct {
	Status           chainlock.AnalysisStatus
	Confidence       float64
	Reason           string
	Missing          []string
	RetryRecommended bool
	AgentsExecuted   int
	AgentsSuccessful int
}

// required stages drive the degradation ladder; optional ones only
// distinguish full from partial.
var (
	requiredStages = []string{StageVulnerability, StageReputation, StageSynthesis}
	optionalStages = []string{StageCode, StageSupplyChain}
)

// Degrade computes the run's degradation level from the recorded results.
// synthesisOK stands in for the synthesis stage when Degrade is called from
// inside it, before its own result exists.
func Degrade(sc *SharedContext, synthesisOK bool) *Outcome {
	out := &Outcome{Confidence: 0.95, Status: chainlock.StatusFull}
	reqTotal, reqOK := 0, 0
	optFailed := false
	consider := func(name string, required bool) {
		r, recorded := sc.Result(name)
		if name == StageSynthesis && !recorded {
			r = &StageResult{StageName: name, Success: synthesisOK, Status: StatusSuccess}
			if !synthesisOK {
				r.Status = StatusFailed
			}
			recorded = true
		}
		if !recorded {
			if required {
				reqTotal++
				out.Missing = append(out.Missing, name)
			}
			return
		}
		out.AgentsExecuted++
		switch {
		case r.Success:
			out.AgentsSuccessful++
			if required {
				reqTotal++
				reqOK++
			}
		case r.Status == StatusSkipped:
			// Skipped conditional stages never reduce confidence.
			out.AgentsExecuted--
		default:
			out.Missing = append(out.Missing, name)
			if required {
				reqTotal++
			} else {
				optFailed = true
			}
			if chainlock.Transient(r.Err) {
				out.RetryRecommended = true
			}
		}
	}
	for _, name := range requiredStages {
		consider(name, true)
	}
	for _, name := range optionalStages {
		consider(name, false)
	}

	switch {
	case reqTotal == 0 || reqOK == 0:
		out.Status = chainlock.StatusMinimal
		out.Confidence = 0.35
		out.Reason = "no required analysis completed"
	case reqOK < reqTotal:
		out.Status = chainlock.StatusBasic
		out.Confidence = 0.55
		out.Reason = "one or more required analyses failed"
	case optFailed:
		out.Status = chainlock.StatusPartial
		out.Confidence = 0.75
		out.Reason = "optional analyses failed"
	}
	return out
}
