// Package report builds the package-centric JSON artefact of a run.
//
// The assembler is deterministic: the same SharedContext always yields the
// same report (timestamps and the analysis id aside). The synthesis stage
// wraps it, optionally asking an LLM for the final document and falling back
// here whenever that output fails schema validation.
package report

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/quay/zlog"

	"github.com/chainlock/chainlock"
	"github.com/chainlock/chainlock/analysis"
	"github.com/chainlock/chainlock/depgraph"
)

// Assembler builds reports from a completed (or partially completed) run.
type Assembler struct {
	// Now is the clock, replaceable in tests.
	Now func() time.Time
	// NewID mints analysis ids, replaceable in tests.
	NewID func() string
}

// NewAssembler returns an Assembler with the real clock.
func NewAssembler() *Assembler {
	return &Assembler{
		Now:   time.Now,
		NewID: func() string { return uuid.New().String() },
	}
}

// Assemble builds the report. The outcome describes the run's degradation
// level; callers get it from analysis.Degrade.
func (a *Assembler) Assemble(ctx context.Context, sc *analysis.SharedContext, outcome *analysis.Outcome) *chainlock.Report {
	ctx = zlog.ContextWithValues(ctx, "component", "report/Assembler.Assemble")
	r := &chainlock.Report{
		Metadata: chainlock.ReportMetadata{
			AnalysisID:        a.NewID(),
			Target:            sc.Target,
			Ecosystem:         sc.Ecosystem,
			StartedAt:         sc.StartedAt,
			FinishedAt:        a.Now(),
			AgentsExecuted:    outcome.AgentsExecuted,
			AgentsSuccessful:  outcome.AgentsSuccessful,
			AnalysisStatus:    outcome.Status,
			Confidence:        outcome.Confidence,
			DegradationReason: outcome.Reason,
			MissingAnalysis:   outcome.Missing,
			RetryRecommended:  outcome.RetryRecommended,
		},
		Vulnerabilities: []chainlock.ReportVuln{},
		Packages:        []chainlock.PackageReport{},
		Recommendations: []chainlock.Recommendation{},
	}

	var ga *depgraph.Analysis
	if sc.Graph != nil {
		ga = depgraph.Analyze(ctx, sc.Graph)
	}
	vd := vulnData(sc)

	r.Vulnerabilities = collectVulns(vd)
	r.Packages = a.collectPackages(sc, vd)
	r.Summary = summarize(sc, ga, r)
	r.Recommendations = recommend(sc, ga, r)
	r.AnalysisDetails = diagnostics(sc)
	zlog.Info(ctx).
		Int("packages", len(r.Packages)).
		Int("vulnerabilities", len(r.Vulnerabilities)).
		Str("status", string(r.Metadata.AnalysisStatus)).
		Msg("report assembled")
	return r
}

func vulnData(sc *analysis.SharedContext) *analysis.VulnData {
	res, ok := sc.Result(analysis.StageVulnerability)
	if !ok || res.Data == nil {
		return nil
	}
	vd, ok := res.Data.(*analysis.VulnData)
	if !ok {
		return nil
	}
	return vd
}

// collectVulns emits exactly one entry per (id, package) pair, sorted for
// stable output.
func collectVulns(vd *analysis.VulnData) []chainlock.ReportVuln {
	out := []chainlock.ReportVuln{}
	if vd == nil {
		return out
	}
	seen := make(map[string]struct{})
	for ref, vulns := range vd.ByPackage {
		for _, v := range vulns {
			key := ref.Key() + "\x00" + v.ID
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, chainlock.ReportVuln{Package: ref, Vulnerability: v})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Package.Key() != out[j].Package.Key() {
			return out[i].Package.Key() < out[j].Package.Key()
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// findingKey is the deduplication identity for findings.
func findingKey(f *chainlock.Finding) string {
	h := sha256.New()
	for _, e := range f.Evidence {
		h.Write([]byte(e))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%s\x00%s\x00%x", f.Package.Key(), f.Type, h.Sum(nil))
}

func (a *Assembler) collectPackages(sc *analysis.SharedContext, vd *analysis.VulnData) []chainlock.PackageReport {
	perRef := make(map[chainlock.PackageRef]*chainlock.PackageReport)
	var order []chainlock.PackageRef
	get := func(ref chainlock.PackageRef) *chainlock.PackageReport {
		if pr, ok := perRef[ref]; ok {
			return pr
		}
		pr := &chainlock.PackageReport{
			Ref:  ref,
			PURL: ref.PURL(),
		}
		if sc.Graph != nil {
			if n, ok := sc.Graph.Lookup(ref); ok {
				pr.Depth = n.Depth
				pr.Direct = n.Depth == 1
			}
		}
		perRef[ref] = pr
		order = append(order, ref)
		return pr
	}
	for _, ref := range sc.Packages() {
		get(ref)
	}

	if vd != nil {
		for ref, vulns := range vd.ByPackage {
			pr := get(ref)
			for _, v := range vulns {
				pr.VulnCount++
				switch v.Severity {
				case chainlock.Critical:
					pr.CriticalCount++
				case chainlock.High:
					pr.HighCount++
				}
			}
			if risk, ok := vd.PackageRisk[ref]; ok && risk > pr.OverallRisk {
				pr.OverallRisk = risk
			}
		}
	}

	if res, ok := sc.Result(analysis.StageReputation); ok {
		if rd, ok := res.Data.(*analysis.ReputationData); ok {
			for ref, as := range rd.Assessments {
				get(ref).Reputation = as
			}
		}
	}

	seen := make(map[string]struct{})
	appendFinding := func(dst *[]chainlock.Finding, f chainlock.Finding) bool {
		key := findingKey(&f)
		if _, ok := seen[key]; ok {
			return false
		}
		seen[key] = struct{}{}
		*dst = append(*dst, f)
		return true
	}
	for _, f := range sc.RuleFindings {
		pr := get(f.Package)
		if appendFinding(&pr.Findings, f) && f.Severity > pr.OverallRisk {
			pr.OverallRisk = f.Severity
		}
	}
	if res, ok := sc.Result(analysis.StageCode); ok {
		if cd, ok := res.Data.(*analysis.CodeData); ok {
			for _, f := range cd.Findings {
				pr := get(f.Package)
				if appendFinding(&pr.CodeIssues, f) && f.Severity > pr.OverallRisk {
					pr.OverallRisk = f.Severity
				}
			}
		}
	}
	if res, ok := sc.Result(analysis.StageSupplyChain); ok {
		if sd, ok := res.Data.(*analysis.SupplyChainData); ok {
			for _, f := range sd.Findings {
				pr := get(f.Package)
				if appendFinding(&pr.SupplyChainRisks, f) && f.Severity > pr.OverallRisk {
					pr.OverallRisk = f.Severity
				}
			}
		}
	}

	out := make([]chainlock.PackageReport, 0, len(order))
	for _, ref := range order {
		pr := perRef[ref]
		consolidate(pr)
		out = append(out, *pr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ref.Key() < out[j].Ref.Key() })
	return out
}

// consolidate lifts a remediation string to the package level when every
// finding carries the identical text.
func consolidate(pr *chainlock.PackageReport) {
	var all []*chainlock.Finding
	for _, fs := range [][]chainlock.Finding{pr.Findings, pr.CodeIssues, pr.SupplyChainRisks} {
		for i := range fs {
			all = append(all, &fs[i])
		}
	}
	if len(all) == 0 {
		return
	}
	rec := all[0].Recommendation
	if rec == "" {
		return
	}
	for _, f := range all[1:] {
		if f.Recommendation != rec {
			return
		}
	}
	pr.Recommendation = rec
	for _, f := range all {
		f.Recommendation = ""
	}
}

func summarize(sc *analysis.SharedContext, ga *depgraph.Analysis, r *chainlock.Report) chainlock.ReportSummary {
	s := chainlock.ReportSummary{
		TotalPackages: len(r.Packages),
	}
	for i := range r.Packages {
		pr := &r.Packages[i]
		if pr.Direct {
			s.DirectDependencies++
		}
		if pr.OverallRisk >= chainlock.High {
			s.HighRiskPackages++
		}
		for _, f := range pr.Findings {
			if f.Type == chainlock.FindingMaliciousPackage {
				s.MaliciousPackages++
			}
		}
	}
	s.TransitiveDependencies = s.TotalPackages - s.DirectDependencies
	for i := range r.Vulnerabilities {
		s.TotalVulnerabilities++
		switch r.Vulnerabilities[i].Severity {
		case chainlock.Critical:
			s.CriticalVulnerabilities++
		case chainlock.High:
			s.HighVulnerabilities++
		}
	}
	if ga != nil {
		s.CircularDependencies = len(ga.Cycles)
		s.VersionConflicts = len(ga.Conflicts)
	}
	return s
}

func diagnostics(sc *analysis.SharedContext) []chainlock.StageDiagnostics {
	var out []chainlock.StageDiagnostics
	for _, res := range sc.Results() {
		d := chainlock.StageDiagnostics{
			Stage:           res.StageName,
			Status:          string(res.Status),
			DurationSeconds: res.Duration.Seconds(),
			Confidence:      res.Confidence,
		}
		if res.Err != nil {
			d.Error = firstSentence(res.Err.Error())
		}
		out = append(out, d)
	}
	return out
}

// firstSentence keeps error summaries terse; diagnostics never carry a stack
// trace.
func firstSentence(s string) string {
	if i := strings.IndexByte(s, '\n'); i != -1 {
		s = s[:i]
	}
	const max = 200
	if len(s) > max {
		s = s[:max]
	}
	return s
}
