package chainlock

// RiskLevel is the coarse bucket derived from a reputation score.
type RiskLevel string

const (
	RiskTrusted RiskLevel = "trusted"
	RiskLow     RiskLevel = "low"
	RiskMedium  RiskLevel = "medium"
	RiskHigh    RiskLevel = "high"
)

// Reputation flags.
const (
	FlagNewPackage    = "new_package"
	FlagLowDownloads  = "low_downloads"
	FlagUnknownAuthor = "unknown_author"
	FlagUnmaintained  = "unmaintained"
)

// ReputationFactors are the four factor scores, each in [0,1].
type ReputationFactors struct {
	Age         float64 `json:"age"`
	Downloads   float64 `json:"downloads"`
	Author      float64 `json:"author"`
	Maintenance float64 `json:"maintenance"`
}

// ReputationAssessment is the reputation stage's verdict on one package.
type ReputationAssessment struct {
	Package    PackageRef        `json:"package"`
	Score      float64           `json:"score"`
	Factors    ReputationFactors `json:"factors"`
	Flags      []string          `json:"flags,omitempty"`
	RiskLevel  RiskLevel         `json:"risk_level"`
	Confidence float64           `json:"confidence"`
}

// DeriveRiskLevel buckets a reputation score:
// high when score < 0.3, medium < 0.6, low < 0.8, else trusted.
func DeriveRiskLevel(score float64) RiskLevel {
	switch {
	case score < 0.3:
		return RiskHigh
	case score < 0.6:
		return RiskMedium
	case score < 0.8:
		return RiskLow
	default:
		return RiskTrusted
	}
}
