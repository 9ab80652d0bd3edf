// Package analysis holds the five specialist stages and the orchestrator
// that sequences them over a shared per-run context.
package analysis

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/chainlock/chainlock"
	"github.com/chainlock/chainlock/ecosystem"
)

// Stage names, as they appear in reports and diagnostics.
const (
	StageVulnerability = "vulnerability_analysis"
	StageReputation    = "reputation_analysis"
	StageCode          = "code_analysis"
	StageSupplyChain   = "supply_chain_analysis"
	StageSynthesis     = "synthesis"
)

// StageStatus classifies a stage's outcome.
type StageStatus string

const (
	StatusSuccess      StageStatus = "success"
	StatusTimeout      StageStatus = "timeout"
	StatusFailed       StageStatus = "failed"
	StatusFallback     StageStatus = "fallback"
	StatusSkipped      StageStatus = "skipped"
	StatusNotAvailable StageStatus = "not_available"
)

// StageData is the tagged payload of a StageResult. Exactly one concrete
// type exists per stage.
type StageData interface {
	isStageData()
}

// StageResult is the immutable outcome of one stage execution.
type StageResult struct {
	StageName  string        `json:"stage_name"`
	Success    bool          `json:"success"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Confidence float64       `json:"confidence"`
	Data       StageData     `json:"-"`
	Err        error         `json:"-"`
	Status     StageStatus   `json:"status"`
}

// Stage is the contract every specialist implements. The orchestrator
// enforces the deadline and the retry policy; a stage only reports its data,
// its confidence, and any error.
type Stage interface {
	Name() string
	// Deadline is the stage's default time budget.
	Deadline() time.Duration
	// Skip reports whether the stage's trigger condition is false, with a
	// reason for the diagnostics. Unconditional stages always return false.
	Skip(sc *SharedContext) (bool, string)
	Run(ctx context.Context, sc *SharedContext) (StageData, float64, error)
}

// SharedContext is the per-run working set. The orchestrator owns it; stages
// write only their own StageResult and additions to the high-risk set.
type SharedContext struct {
	// Target is the analysed path as given by the caller.
	Target    string
	Ecosystem chainlock.Ecosystem
	Manifest  *ecosystem.Manifest
	Graph     *chainlock.Graph
	// RuleFindings are the rule-based layer's findings, complete before any
	// stage runs.
	RuleFindings []chainlock.Finding
	// SkipExternal disables external vulnerability queries for the run.
	SkipExternal bool
	StartedAt    time.Time

	mu       sync.Mutex
	results  map[string]*StageResult
	order    []string
	highRisk map[chainlock.PackageRef]string
	sealed   bool
}

// NewSharedContext returns a context ready for a run.
func NewSharedContext(target string, e chainlock.Ecosystem) *SharedContext {
	return &SharedContext{
		Target:    target,
		Ecosystem: e,
		StartedAt: time.Now(),
		results:   make(map[string]*StageResult),
		highRisk:  make(map[chainlock.PackageRef]string),
	}
}

// SetResult records a stage's result. Results are append-only and writing
// after Seal panics, which catches orchestrator bugs early.
func (sc *SharedContext) SetResult(r *StageResult) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.sealed {
		panic("analysis: stage result written after run completion")
	}
	if _, ok := sc.results[r.StageName]; !ok {
		sc.order = append(sc.order, r.StageName)
	}
	sc.results[r.StageName] = r
}

// Result returns the named stage's result, if recorded.
func (sc *SharedContext) Result(name string) (*StageResult, bool) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	r, ok := sc.results[name]
	return r, ok
}

// Results returns every recorded result in stage order.
func (sc *SharedContext) Results() []*StageResult {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	out := make([]*StageResult, 0, len(sc.order))
	for _, name := range sc.order {
		out = append(out, sc.results[name])
	}
	return out
}

// MarkHighRisk adds ref to the run's high-risk set. The set is additive;
// there is no way to remove an entry.
func (sc *SharedContext) MarkHighRisk(ref chainlock.PackageRef, reason string) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.sealed {
		panic("analysis: high-risk set written after run completion")
	}
	if _, ok := sc.highRisk[ref]; !ok {
		sc.highRisk[ref] = reason
	}
}

// HighRisk returns the high-risk refs, sorted for stable iteration.
func (sc *SharedContext) HighRisk() []chainlock.PackageRef {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	out := make([]chainlock.PackageRef, 0, len(sc.highRisk))
	for ref := range sc.highRisk {
		out = append(out, ref)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// HighRiskReason returns the recorded reason for ref, if marked.
func (sc *SharedContext) HighRiskReason(ref chainlock.PackageRef) (string, bool) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	reason, ok := sc.highRisk[ref]
	return reason, ok
}

// Seal forbids further mutation. Called by the orchestrator when the run
// completes.
func (sc *SharedContext) Seal() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.sealed = true
}

// Packages returns the refs under analysis: the graph's refs minus the
// synthetic root, or the declared dependencies when no graph was built.
func (sc *SharedContext) Packages() []chainlock.PackageRef {
	if sc.Graph != nil {
		var out []chainlock.PackageRef
		for _, n := range sc.Graph.Nodes {
			if n.ID == sc.Graph.Root {
				continue
			}
			out = append(out, n.Ref)
		}
		return out
	}
	if sc.Manifest == nil {
		return nil
	}
	out := make([]chainlock.PackageRef, 0, len(sc.Manifest.Dependencies))
	for _, d := range sc.Manifest.Dependencies {
		out = append(out, chainlock.PackageRef{
			Name:      d.Name,
			Version:   d.Specifier,
			Ecosystem: sc.Ecosystem,
		})
	}
	return out
}
