package chainlock

import (
	"database/sql/driver"
	"fmt"
	"strings"
)

// Severity is the normalised severity scale used for findings and
// vulnerabilities.
type Severity uint

const (
	Unknown Severity = iota
	Info
	Low
	Medium
	High
	Critical
)

var severityNames = [...]string{
	Unknown:  "unknown",
	Info:     "info",
	Low:      "low",
	Medium:   "medium",
	High:     "high",
	Critical: "critical",
}

func (s Severity) String() string {
	if int(s) >= len(severityNames) {
		return fmt.Sprintf("Severity(%d)", uint(s))
	}
	return severityNames[s]
}

func (s Severity) MarshalText() ([]byte, error) {
	if int(s) >= len(severityNames) {
		return nil, fmt.Errorf("invalid severity %d", uint(s))
	}
	return []byte(severityNames[s]), nil
}

func (s *Severity) UnmarshalText(b []byte) error {
	for i, n := range severityNames {
		if strings.EqualFold(string(b), n) {
			*s = Severity(i)
			return nil
		}
	}
	return fmt.Errorf("unknown severity %q", string(b))
}

func (s Severity) Value() (driver.Value, error) {
	return s.String(), nil
}

func (s *Severity) Scan(i interface{}) error {
	switch v := i.(type) {
	case []byte:
		return s.UnmarshalText(v)
	case string:
		return s.UnmarshalText([]byte(v))
	case int64:
		if v < 0 || v >= int64(len(severityNames)) {
			return fmt.Errorf("unable to scan Severity from enum %d", v)
		}
		*s = Severity(v)
	default:
		return fmt.Errorf("unable to scan Severity from type %T", i)
	}
	return nil
}

// Promote returns the severity one level up, capped at Critical.
func (s Severity) Promote() Severity {
	if s >= Critical {
		return Critical
	}
	return s + 1
}

// SeverityFromCVSS maps a CVSS base score onto the severity scale:
// 0–3.9 low, 4.0–6.9 medium, 7.0–8.9 high, 9.0–10 critical.
func SeverityFromCVSS(score float64) Severity {
	switch {
	case score < 0 || score > 10:
		return Unknown
	case score < 4:
		return Low
	case score < 7:
		return Medium
	case score < 9:
		return High
	default:
		return Critical
	}
}
