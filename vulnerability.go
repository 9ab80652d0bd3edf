package chainlock

// Affectedness is the tri-state answer to "is the resolved version inside an
// affected range".
type Affectedness string

const (
	AffectedYes     Affectedness = "yes"
	AffectedNo      Affectedness = "no"
	AffectedUnknown Affectedness = "unknown"
)

// VulnStatus describes the remediation state of a vulnerability with respect
// to the analysed package.
type VulnStatus string

const (
	VulnActive        VulnStatus = "active"
	VulnFixed         VulnStatus = "fixed"
	VulnNotApplicable VulnStatus = "not_applicable"
	VulnNotAvailable  VulnStatus = "not_available"
)

// CVSSUnknown is the sentinel for a missing CVSS score.
const CVSSUnknown = float64(-1)

// Vulnerability is a single advisory attributed to a package.
type Vulnerability struct {
	ID               string       `json:"id"`
	Aliases          []string     `json:"aliases,omitempty"`
	Summary          string       `json:"summary,omitempty"`
	Details          string       `json:"details,omitempty"`
	CVSSScore        float64      `json:"cvss_score"` // CVSSUnknown when absent
	Severity         Severity     `json:"severity"`
	AffectedVersions []string     `json:"affected_versions,omitempty"`
	FixedVersions    []string     `json:"fixed_versions,omitempty"`
	CurrentAffected  Affectedness `json:"is_current_version_affected"`
	Status           VulnStatus   `json:"status"`
	References       []string     `json:"references,omitempty"`
}
