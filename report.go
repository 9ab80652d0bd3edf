package chainlock

import "time"

// AnalysisStatus is the degradation level of a run's output.
type AnalysisStatus string

const (
	StatusFull    AnalysisStatus = "full"
	StatusPartial AnalysisStatus = "partial"
	StatusBasic   AnalysisStatus = "basic"
	StatusMinimal AnalysisStatus = "minimal"
)

// Report is the package-centric JSON artefact of a run. It is the only
// contractual output consumed by the UI collaborator. Field names are
// snake_case on the wire.
type Report struct {
	Metadata        ReportMetadata     `json:"metadata"`
	Summary         ReportSummary      `json:"summary"`
	Vulnerabilities []ReportVuln       `json:"vulnerabilities"`
	Packages        []PackageReport    `json:"packages"`
	Recommendations []Recommendation   `json:"recommendations"`
	AnalysisDetails []StageDiagnostics `json:"analysis_details"`
}

// ReportMetadata is the report's header block.
type ReportMetadata struct {
	AnalysisID        string         `json:"analysis_id"`
	Target            string         `json:"target"`
	Ecosystem         Ecosystem      `json:"ecosystem"`
	StartedAt         time.Time      `json:"started_at"`
	FinishedAt        time.Time      `json:"finished_at"`
	AgentsExecuted    int            `json:"agents_executed"`
	AgentsSuccessful  int            `json:"agents_successful"`
	AnalysisStatus    AnalysisStatus `json:"analysis_status"`
	Confidence        float64        `json:"confidence"`
	DegradationReason string         `json:"degradation_reason,omitempty"`
	MissingAnalysis   []string       `json:"missing_analysis,omitempty"`
	RetryRecommended  bool           `json:"retry_recommended"`
}

// ReportSummary holds the top-line counters.
type ReportSummary struct {
	TotalPackages           int `json:"total_packages"`
	DirectDependencies      int `json:"direct_dependencies"`
	TransitiveDependencies  int `json:"transitive_dependencies"`
	TotalVulnerabilities    int `json:"total_vulnerabilities"`
	CriticalVulnerabilities int `json:"critical_vulnerabilities"`
	HighVulnerabilities     int `json:"high_vulnerabilities"`
	MaliciousPackages       int `json:"malicious_packages"`
	HighRiskPackages        int `json:"high_risk_packages"`
	CircularDependencies    int `json:"circular_dependencies"`
	VersionConflicts        int `json:"version_conflicts"`
}

// ReportVuln is one vulnerability entry; there is exactly one per
// (id, package) pair.
type ReportVuln struct {
	Package PackageRef `json:"package"`
	Vulnerability
}

// PackageReport merges every stage's data about one package.
type PackageReport struct {
	Ref              PackageRef            `json:"ref"`
	PURL             string                `json:"purl,omitempty"`
	Direct           bool                  `json:"direct"`
	Depth            int                   `json:"depth"`
	VulnCount        int                   `json:"vulnerability_count"`
	CriticalCount    int                   `json:"critical_count"`
	HighCount        int                   `json:"high_count"`
	Reputation       *ReputationAssessment `json:"reputation,omitempty"`
	Findings         []Finding             `json:"findings,omitempty"`
	CodeIssues       []Finding             `json:"code_issues,omitempty"`
	SupplyChainRisks []Finding             `json:"supply_chain_risks,omitempty"`
	OverallRisk      Severity              `json:"overall_risk"`
	// Recommendation is set when every finding in the package carries the
	// same remediation text; the per-finding copies are omitted.
	Recommendation string `json:"recommendation,omitempty"`
}

// Recommendation is one prioritised remediation action.
type Recommendation struct {
	Priority Severity `json:"priority"`
	Action   string   `json:"action"`
	Details  string   `json:"details,omitempty"`
	Impact   string   `json:"impact,omitempty"`
}

// StageDiagnostics is the per-stage block exposed in the report. The error
// summary is a sentence, never a stack trace.
type StageDiagnostics struct {
	Stage           string  `json:"stage"`
	Status          string  `json:"status"`
	DurationSeconds float64 `json:"duration_seconds"`
	Confidence      float64 `json:"confidence"`
	Error           string  `json:"error,omitempty"`
}
