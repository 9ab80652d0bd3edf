package chainlock

// DetectionMethod records which analysis layer produced a finding.
type DetectionMethod string

const (
	RuleBased  DetectionMethod = "rule_based"
	AgentBased DetectionMethod = "agent_based"
)

// FindingType tags.
//
// These are free-form strings by design, but the well-known ones are
// declared here so producers and the report assembler agree.
const (
	FindingMaliciousPackage   = "malicious_package"
	FindingMaliciousScript    = "malicious_install_script"
	FindingRemoteCodeExec     = "remote_code_execution"
	FindingTyposquat          = "typosquat"
	FindingVulnerability      = "vulnerability"
	FindingObfuscatedCode     = "obfuscated_code"
	FindingSuspiciousBehavior = "suspicious_behavior"
	FindingSupplyChainAttack  = "supply_chain_attack"
	FindingLowReputation      = "low_reputation"
	FindingCircularDependency = "circular_dependency"
)

// Finding is a single observation about a package.
//
// Findings are immutable once produced; producers hand out fresh values and
// consumers must not modify the evidence slice.
type Finding struct {
	Package        PackageRef      `json:"package"`
	Type           string          `json:"finding_type"`
	Severity       Severity        `json:"severity"`
	Confidence     float64         `json:"confidence"`
	Evidence       []string        `json:"evidence,omitempty"`
	Source         string          `json:"source"`
	Recommendation string          `json:"recommendation,omitempty"`
	References     []string        `json:"references,omitempty"`
	Method         DetectionMethod `json:"detection_method"`
}
