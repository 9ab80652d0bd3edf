package osv

import (
	"github.com/Masterminds/semver"

	"github.com/chainlock/chainlock"
	"github.com/chainlock/chainlock/ecosystem/pypi"
)

// affectedness decides whether version falls inside any of the advisory's
// affected ranges for the package. Ambiguous or unparseable ranges yield
// unknown rather than a guess.
func affectedness(e chainlock.Ecosystem, version string, affs []affected) chainlock.Affectedness {
	if version == "" {
		return chainlock.AffectedUnknown
	}
	sawRange := false
	unknown := false
	for _, aff := range affs {
		for _, v := range aff.Versions {
			if v == version {
				return chainlock.AffectedYes
			}
		}
		for _, r := range aff.Ranges {
			switch r.Type {
			case "SEMVER", "ECOSYSTEM":
			default:
				// GIT and friends are not version-comparable.
				unknown = true
				continue
			}
			sawRange = true
			switch inRange(e, version, r.Events) {
			case chainlock.AffectedYes:
				return chainlock.AffectedYes
			case chainlock.AffectedUnknown:
				unknown = true
			}
		}
	}
	switch {
	case unknown:
		return chainlock.AffectedUnknown
	case sawRange:
		return chainlock.AffectedNo
	}
	return chainlock.AffectedUnknown
}

// inRange walks a single range's event list. Events pair an "introduced"
// version with an optional terminator ("fixed", "last_affected", "limit").
func inRange(e chainlock.Ecosystem, version string, events []rangeEvent) chainlock.Affectedness {
	var lo string
	haveLo := false
	check := func(hi string, inclusive bool) chainlock.Affectedness {
		cLo, err := compare(e, version, lo)
		if err != nil {
			return chainlock.AffectedUnknown
		}
		if cLo < 0 {
			return chainlock.AffectedNo
		}
		if hi == "" {
			return chainlock.AffectedYes
		}
		cHi, err := compare(e, version, hi)
		if err != nil {
			return chainlock.AffectedUnknown
		}
		if cHi < 0 || (inclusive && cHi == 0) {
			return chainlock.AffectedYes
		}
		return chainlock.AffectedNo
	}

	out := chainlock.AffectedNo
	for _, ev := range events {
		switch {
		case ev.Introduced != "":
			lo = ev.Introduced
			if lo == "0" {
				lo = ""
			}
			haveLo = true
			continue
		case !haveLo:
			// A terminator with no opener is a malformed range.
			return chainlock.AffectedUnknown
		}
		var res chainlock.Affectedness
		switch {
		case ev.Fixed != "":
			res = check(ev.Fixed, false)
		case ev.LastAffected != "":
			res = check(ev.LastAffected, true)
		case ev.Limit != "":
			res = check(ev.Limit, false)
		default:
			continue
		}
		switch res {
		case chainlock.AffectedYes:
			return chainlock.AffectedYes
		case chainlock.AffectedUnknown:
			out = chainlock.AffectedUnknown
		}
		haveLo = false
	}
	if haveLo {
		// An open range: introduced with no terminator.
		if res := check("", false); res != chainlock.AffectedNo {
			return res
		}
	}
	return out
}

// compare returns -1, 0, or 1 for version a against b under the ecosystem's
// version scheme. An empty b is treated as negative infinity.
func compare(e chainlock.Ecosystem, a, b string) (int, error) {
	if b == "" {
		return 1, nil
	}
	switch e {
	case chainlock.PyPI:
		return pypi.CompareVersions(a, b)
	default:
		va, err := semver.NewVersion(a)
		if err != nil {
			return 0, err
		}
		vb, err := semver.NewVersion(b)
		if err != nil {
			return 0, err
		}
		return va.Compare(vb), nil
	}
}

// fixedVersions collects the fixed versions named by the advisory's ranges.
func fixedVersions(affs []affected) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, aff := range affs {
		for _, r := range aff.Ranges {
			for _, ev := range r.Events {
				if ev.Fixed == "" {
					continue
				}
				if _, ok := seen[ev.Fixed]; ok {
					continue
				}
				seen[ev.Fixed] = struct{}{}
				out = append(out, ev.Fixed)
			}
		}
	}
	return out
}

// affectedVersions collects the explicit affected version enumeration, if the
// advisory carries one.
func affectedVersions(affs []affected) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, aff := range affs {
		for _, v := range aff.Versions {
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}
