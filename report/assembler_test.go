package report

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/quay/zlog"

	"github.com/chainlock/chainlock"
	"github.com/chainlock/chainlock/analysis"
)

func testAssembler() *Assembler {
	return &Assembler{
		Now:   func() time.Time { return time.Date(2026, 8, 20, 12, 1, 30, 0, time.UTC) },
		NewID: func() string { return "test-analysis-id" },
	}
}

func npmRef(name, version string) chainlock.PackageRef {
	return chainlock.PackageRef{Name: name, Version: version, Ecosystem: chainlock.NPM}
}

// runContext builds a SharedContext resembling a completed run: a small
// graph, one vulnerable package, one rule finding, and recorded results.
func runContext() *analysis.SharedContext {
	sc := analysis.NewSharedContext("/proj", chainlock.NPM)
	g := chainlock.NewGraph(npmRef("app", "1.0.0"))
	root := g.Node(g.Root)
	lodash, _ := g.Intern(npmRef("lodash", "4.17.20"))
	g.Attach(root, lodash)
	deep, _ := g.Intern(npmRef("deep-pkg", "1.0.0"))
	g.Attach(lodash, deep)
	sc.Graph = g

	vuln := chainlock.Vulnerability{
		ID:              "GHSA-35jh-r3h4-6jhm",
		CVSSScore:       7.2,
		Severity:        chainlock.High,
		FixedVersions:   []string{"4.17.21"},
		CurrentAffected: chainlock.AffectedYes,
		Status:          chainlock.VulnActive,
	}
	sc.SetResult(&analysis.StageResult{
		StageName: analysis.StageVulnerability,
		Success:   true,
		Status:    analysis.StatusSuccess,
		Duration:  2 * time.Second,
		Data: &analysis.VulnData{
			ByPackage: map[chainlock.PackageRef][]chainlock.Vulnerability{
				npmRef("lodash", "4.17.20"): {vuln, vuln}, // duplicate advisory
			},
			PackageRisk: map[chainlock.PackageRef]chainlock.Severity{
				npmRef("lodash", "4.17.20"): chainlock.High,
			},
		},
	})
	sc.SetResult(&analysis.StageResult{
		StageName: analysis.StageReputation,
		Success:   true,
		Status:    analysis.StatusSuccess,
		Data: &analysis.ReputationData{
			Assessments: map[chainlock.PackageRef]*chainlock.ReputationAssessment{
				npmRef("deep-pkg", "1.0.0"): {
					Package:   npmRef("deep-pkg", "1.0.0"),
					Score:     0.2,
					RiskLevel: chainlock.RiskHigh,
				},
			},
		},
	})
	return sc
}

func TestAssemble(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	sc := runContext()
	r := testAssembler().Assemble(ctx, sc, analysis.Degrade(sc, true))

	if r.Metadata.AnalysisID != "test-analysis-id" {
		t.Errorf("analysis id: got: %q", r.Metadata.AnalysisID)
	}
	if r.Metadata.AnalysisStatus != chainlock.StatusFull {
		t.Errorf("status: got: %v, want: full", r.Metadata.AnalysisStatus)
	}

	// The duplicate advisory collapsed to one entry.
	if len(r.Vulnerabilities) != 1 {
		t.Fatalf("got %d vulnerabilities, want 1", len(r.Vulnerabilities))
	}
	if r.Vulnerabilities[0].Package.Name != "lodash" {
		t.Errorf("vuln package: got: %q", r.Vulnerabilities[0].Package.Name)
	}

	// Root is excluded; lodash and deep-pkg remain.
	if len(r.Packages) != 2 {
		t.Fatalf("got %d packages, want 2", len(r.Packages))
	}
	var lodash, deep *chainlock.PackageReport
	for i := range r.Packages {
		switch r.Packages[i].Ref.Name {
		case "lodash":
			lodash = &r.Packages[i]
		case "deep-pkg":
			deep = &r.Packages[i]
		}
	}
	if lodash == nil || deep == nil {
		t.Fatalf("packages missing: %+v", r.Packages)
	}
	if !lodash.Direct || lodash.Depth != 1 {
		t.Errorf("lodash placement: direct=%v depth=%d", lodash.Direct, lodash.Depth)
	}
	if deep.Direct || deep.Depth != 2 {
		t.Errorf("deep-pkg placement: direct=%v depth=%d", deep.Direct, deep.Depth)
	}
	if lodash.VulnCount != 2 || lodash.HighCount != 2 {
		t.Errorf("lodash counts: %+v", lodash)
	}
	if lodash.OverallRisk != chainlock.High {
		t.Errorf("lodash risk: got: %v", lodash.OverallRisk)
	}
	if deep.Reputation == nil || deep.Reputation.Score != 0.2 {
		t.Errorf("deep-pkg reputation: %+v", deep.Reputation)
	}

	if r.Summary.TotalPackages != 2 || r.Summary.DirectDependencies != 1 || r.Summary.TransitiveDependencies != 1 {
		t.Errorf("summary: %+v", r.Summary)
	}
	if r.Summary.HighVulnerabilities != 1 {
		t.Errorf("high vuln count: got: %d", r.Summary.HighVulnerabilities)
	}

	if len(r.AnalysisDetails) != 2 {
		t.Errorf("got %d diagnostics, want 2", len(r.AnalysisDetails))
	}

	// The assembled report satisfies its own schema.
	raw, err := json.Marshal(r)
	if err != nil {
		t.Fatal(err)
	}
	if err := Validate(raw); err != nil {
		t.Errorf("assembled report fails validation: %v", err)
	}
}

func TestAssembleDegraded(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	sc := analysis.NewSharedContext("/proj", chainlock.NPM)
	sc.SetResult(&analysis.StageResult{
		StageName: analysis.StageVulnerability,
		Status:    analysis.StatusSuccess,
		Success:   true,
		Data:      &analysis.VulnData{},
	})
	sc.SetResult(&analysis.StageResult{
		StageName: analysis.StageReputation,
		Status:    analysis.StatusFailed,
		Err: &chainlock.Error{
			Op:   "registry.fetch",
			Kind: chainlock.ErrNetworkTransient,
		},
	})
	r := testAssembler().Assemble(ctx, sc, analysis.Degrade(sc, true))
	if r.Metadata.AnalysisStatus != chainlock.StatusBasic {
		t.Errorf("status: got: %v, want: basic", r.Metadata.AnalysisStatus)
	}
	if r.Metadata.Confidence != 0.55 {
		t.Errorf("confidence: got: %v", r.Metadata.Confidence)
	}
	found := false
	for _, m := range r.Metadata.MissingAnalysis {
		if m == analysis.StageReputation {
			found = true
		}
	}
	if !found {
		t.Errorf("missing_analysis lacks reputation: %v", r.Metadata.MissingAnalysis)
	}
	if !r.Metadata.RetryRecommended {
		t.Error("transient failure did not recommend retry")
	}
}

func TestAssembleConsolidatesRecommendations(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	ref := npmRef("evil-pkg", "1.0.0")
	sc := analysis.NewSharedContext("/proj", chainlock.NPM)
	sc.RuleFindings = []chainlock.Finding{
		{
			Package:        ref,
			Type:           chainlock.FindingMaliciousScript,
			Severity:       chainlock.Critical,
			Evidence:       []string{"preinstall: curl | sh"},
			Recommendation: "Remove this package immediately",
			Method:         chainlock.RuleBased,
		},
		{
			Package:        ref,
			Type:           chainlock.FindingRemoteCodeExec,
			Severity:       chainlock.Critical,
			Evidence:       []string{"postinstall: node payload.js"},
			Recommendation: "Remove this package immediately",
			Method:         chainlock.RuleBased,
		},
	}
	r := testAssembler().Assemble(ctx, sc, analysis.Degrade(sc, true))

	var pr *chainlock.PackageReport
	for i := range r.Packages {
		if r.Packages[i].Ref == ref {
			pr = &r.Packages[i]
		}
	}
	if pr == nil {
		t.Fatal("package missing from report")
	}
	if pr.Recommendation != "Remove this package immediately" {
		t.Errorf("recommendation not lifted: %q", pr.Recommendation)
	}
	for _, f := range pr.Findings {
		if f.Recommendation != "" {
			t.Errorf("per-finding recommendation kept: %+v", f)
		}
	}
}

func TestRecommendTable(t *testing.T) {
	sc := analysis.NewSharedContext("/proj", chainlock.NPM)
	r := &chainlock.Report{
		Vulnerabilities: []chainlock.ReportVuln{
			{
				Package: npmRef("minimist", "0.0.8"),
				Vulnerability: chainlock.Vulnerability{
					ID:            "CVE-2021-44906",
					Severity:      chainlock.Critical,
					FixedVersions: []string{"1.2.6"},
				},
			},
			{
				Package: npmRef("unfixed", "1.0.0"),
				Vulnerability: chainlock.Vulnerability{
					ID:       "GHSA-xxxx-yyyy-zzzz",
					Severity: chainlock.High,
				},
			},
		},
		Packages: []chainlock.PackageReport{{
			Ref:        npmRef("sketchy", "0.0.1"),
			Reputation: &chainlock.ReputationAssessment{Score: 0.1, RiskLevel: chainlock.RiskHigh},
		}},
	}
	recs := recommend(sc, nil, r)

	byPriority := map[chainlock.Severity]int{}
	for _, rec := range recs {
		byPriority[rec.Priority]++
	}
	if byPriority[chainlock.Critical] != 1 {
		t.Errorf("critical recommendations: got: %d, want: 1", byPriority[chainlock.Critical])
	}
	if byPriority[chainlock.High] != 1 {
		t.Errorf("high recommendations: got: %d, want: 1", byPriority[chainlock.High])
	}
	if byPriority[chainlock.Medium] != 1 {
		t.Errorf("medium recommendations: got: %d, want: 1", byPriority[chainlock.Medium])
	}
}

func TestRecommendCleanRun(t *testing.T) {
	sc := analysis.NewSharedContext("/proj", chainlock.NPM)
	recs := recommend(sc, nil, &chainlock.Report{})
	if len(recs) != 1 || recs[0].Priority != chainlock.Info {
		t.Errorf("clean run recommendations: %+v", recs)
	}
}
