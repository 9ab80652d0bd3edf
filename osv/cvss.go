package osv

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/chainlock/chainlock"
)

// scoreAdvisory extracts a numeric CVSS score and severity bucket from an
// advisory's severity entries. Preference order: an explicit numeric score, a
// v3 vector string, a database_specific severity word. A (-1, Unknown) return
// means no usable signal was present.
func scoreAdvisory(sevs []severity, dbSeverity string) (float64, chainlock.Severity) {
	for _, s := range sevs {
		if f, err := strconv.ParseFloat(s.Score, 64); err == nil && f >= 0 && f <= 10 {
			return f, chainlock.SeverityFromCVSS(f)
		}
	}
	for _, s := range sevs {
		if !strings.HasPrefix(s.Score, "CVSS:3") {
			continue
		}
		if f, err := v3BaseScore(s.Score); err == nil {
			return f, chainlock.SeverityFromCVSS(f)
		}
	}
	if sev, ok := severityFromWord(dbSeverity); ok {
		return chainlock.CVSSUnknown, sev
	}
	return chainlock.CVSSUnknown, chainlock.Unknown
}

// severityFromWord maps the severity words OSV databases use.
func severityFromWord(s string) (chainlock.Severity, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical":
		return chainlock.Critical, true
	case "high":
		return chainlock.High, true
	case "moderate", "medium":
		return chainlock.Medium, true
	case "low":
		return chainlock.Low, true
	}
	return chainlock.Unknown, false
}

// v3Weights maps each base metric's values to its weight, per the CVSS v3.1
// specification. Only base metrics appear in OSV vectors.
var v3Weights = map[string]map[string]float64{
	"AV": {"N": 0.85, "A": 0.62, "L": 0.55, "P": 0.2},
	"AC": {"L": 0.77, "H": 0.44},
	"PR": {"N": 0.85, "L": 0.62, "H": 0.27},
	"UI": {"N": 0.85, "R": 0.62},
	"C":  {"H": 0.56, "L": 0.22, "N": 0},
	"I":  {"H": 0.56, "L": 0.22, "N": 0},
	"A":  {"H": 0.56, "L": 0.22, "N": 0},
}

// prChanged overrides PR weights when scope is changed.
var prChanged = map[string]float64{"N": 0.85, "L": 0.68, "H": 0.50}

// v3BaseScore computes the base score of a CVSS v3.x vector.
func v3BaseScore(vector string) (float64, error) {
	parts := strings.Split(vector, "/")
	// The leading element is the "CVSS:3.x" tag.
	m := make(map[string]string, len(parts)-1)
	for _, p := range parts[1:] {
		k, v, ok := strings.Cut(p, ":")
		if !ok {
			return 0, fmt.Errorf("osv: malformed vector component %q", p)
		}
		m[k] = v
	}
	scopeChanged := m["S"] == "C"
	var vals [7]float64
	for i, k := range []string{"AV", "AC", "PR", "UI", "C", "I", "A"} {
		w, ok := v3Weights[k][m[k]]
		if !ok {
			return 0, fmt.Errorf("osv: vector %q missing metric %s", vector, k)
		}
		if k == "PR" && scopeChanged {
			w = prChanged[m[k]]
		}
		vals[i] = w
	}
	av, ac, pr, ui, c, i, a := vals[0], vals[1], vals[2], vals[3], vals[4], vals[5], vals[6]

	iss := 1 - (1-c)*(1-i)*(1-a)
	var impact float64
	if scopeChanged {
		impact = 7.52*(iss-0.029) - 3.25*math.Pow(iss-0.02, 15)
	} else {
		impact = 6.42 * iss
	}
	if impact <= 0 {
		return 0, nil
	}
	exploitability := 8.22 * av * ac * pr * ui
	score := impact + exploitability
	if scopeChanged {
		score *= 1.08
	}
	if score > 10 {
		score = 10
	}
	// Round up to one decimal place.
	return math.Ceil(score*10) / 10, nil
}
