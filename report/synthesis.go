package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/quay/zlog"

	"github.com/chainlock/chainlock"
	"github.com/chainlock/chainlock/analysis"
	"github.com/chainlock/chainlock/llm"
)

// llmPackageLimit is the package count above which synthesis never consults
// the LLM; a large run's prompt would be mostly noise.
const llmPackageLimit = 50

var _ analysis.Stage = (*SynthesisStage)(nil)

// SynthesisStage is the final stage: it folds every earlier StageResult into
// the report. The LLM path is best-effort; the deterministic assembler is
// always available and is the arbiter of schema validity.
type SynthesisStage struct {
	Assembler *Assembler
	// LLM is optional. Nil, unconfigured, or misbehaving clients all fall
	// back to the deterministic path.
	LLM llm.Client
}

// NewSynthesisStage returns a stage around the given assembler.
func NewSynthesisStage(a *Assembler, c llm.Client) *SynthesisStage {
	if a == nil {
		a = NewAssembler()
	}
	return &SynthesisStage{Assembler: a, LLM: c}
}

// Name implements analysis.Stage.
func (*SynthesisStage) Name() string { return analysis.StageSynthesis }

// Deadline implements analysis.Stage.
func (*SynthesisStage) Deadline() time.Duration { return 20 * time.Second }

// Skip implements analysis.Stage.
func (*SynthesisStage) Skip(*analysis.SharedContext) (bool, string) { return false, "" }

// Run implements analysis.Stage.
func (s *SynthesisStage) Run(ctx context.Context, sc *analysis.SharedContext) (analysis.StageData, float64, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "report/SynthesisStage.Run")
	outcome := analysis.Degrade(sc, true)
	deterministic := s.Assembler.Assemble(ctx, sc, outcome)

	data := &analysis.SynthesisData{Report: deterministic}
	if s.LLM != nil && len(deterministic.Packages) <= llmPackageLimit {
		if r, err := s.refine(ctx, deterministic); err == nil {
			data.Report = r
			data.UsedLLM = true
		} else if !errors.Is(err, llm.ErrUnavailable) {
			zlog.Info(ctx).Err(err).Msg("falling back to deterministic synthesis")
		}
	}
	return data, outcome.Confidence, nil
}

// refine asks the LLM for a refined report and validates the answer against
// the schema. Any mismatch is an error; the caller keeps the deterministic
// report.
func (s *SynthesisStage) refine(ctx context.Context, det *chainlock.Report) (*chainlock.Report, error) {
	seed, err := json.Marshal(det)
	if err != nil {
		return nil, err
	}
	out, err := s.LLM.Complete(ctx, &llm.Request{
		System: "You are a supply-chain security analyst. " +
			"Improve the human-readable fields of the given dependency analysis report. " +
			"Return the full report as a JSON object with the same structure. " +
			"Never invent vulnerabilities, packages, or counters.",
		Prompt:   string(seed),
		JSONMode: true,
	})
	if err != nil {
		return nil, err
	}
	refined, err := Parse([]byte(out))
	if err != nil {
		return nil, fmt.Errorf("report: refined output rejected: %w", err)
	}
	// Counters and identity come from observed data; the LLM only gets to
	// touch prose.
	refined.Metadata = det.Metadata
	refined.Summary = det.Summary
	refined.AnalysisDetails = det.AnalysisDetails
	return refined, nil
}
