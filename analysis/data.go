package analysis

import (
	"github.com/chainlock/chainlock"
)

// VulnData is the vulnerability stage's payload.
type VulnData struct {
	// ByPackage holds the advisories found per ref.
	ByPackage map[chainlock.PackageRef][]chainlock.Vulnerability
	// Errors records per-ref query failures; a failed ref does not fail the
	// stage.
	Errors map[chainlock.PackageRef]string
	// PackageRisk is the combined risk per ref: the maximum vulnerability
	// severity, promoted when three or more high-or-above advisories exist.
	PackageRisk map[chainlock.PackageRef]chainlock.Severity
	// Offline is set when the vulnerability database was unreachable.
	Offline bool
}

func (*VulnData) isStageData() {}

// ReputationData is the reputation stage's payload.
type ReputationData struct {
	Assessments map[chainlock.PackageRef]*chainlock.ReputationAssessment
	Errors      map[chainlock.PackageRef]string
}

func (*ReputationData) isStageData() {}

// ComplexitySummary describes the shape of one package's script material.
type ComplexitySummary struct {
	LOC         int     `json:"loc"`
	MaxNesting  int     `json:"max_nesting"`
	FlowDensity float64 `json:"control_flow_density"`
	LongLines   int     `json:"long_lines"`
}

// CodeData is the code-analysis stage's payload.
type CodeData struct {
	Findings   []chainlock.Finding
	Complexity map[chainlock.PackageRef]*ComplexitySummary
	// Assessment carries the LLM's free-text verdict when one was requested.
	Assessment string
}

func (*CodeData) isStageData() {}

// AttackLikelihood is the supply-chain stage's overall verdict.
type AttackLikelihood string

const (
	LikelihoodNone     AttackLikelihood = "none"
	LikelihoodLow      AttackLikelihood = "low"
	LikelihoodMedium   AttackLikelihood = "medium"
	LikelihoodHigh     AttackLikelihood = "high"
	LikelihoodCritical AttackLikelihood = "critical"
)

// SupplyChainData is the supply-chain stage's payload.
type SupplyChainData struct {
	Findings   []chainlock.Finding
	Likelihood AttackLikelihood
	// Signals records the observed indicator names per ref.
	Signals map[chainlock.PackageRef][]string
}

func (*SupplyChainData) isStageData() {}

// SynthesisData is the synthesis stage's payload: the assembled report.
type SynthesisData struct {
	Report *chainlock.Report
	// UsedLLM reports whether the LLM path produced the report; false means
	// the deterministic assembler ran.
	UsedLLM bool
}

func (*SynthesisData) isStageData() {}
