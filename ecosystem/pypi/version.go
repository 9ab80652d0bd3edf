package pypi

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// This is the regexp from the "packaging" project, as noted in
// https://www.python.org/dev/peps/pep-0440/#id81
var versionPattern = regexp.MustCompile(`^\s*v?` +
	`(?:` +
	`(?:(?P<epoch>[0-9]+)!)?` + // epoch
	`(?P<release>[0-9]+(?:\.[0-9]+)*)` + // release segment
	`(?P<pre>[-_\.]?(?P<pre_l>(a|b|c|rc|alpha|beta|pre|preview))[-_\.]?(?P<pre_n>[0-9]+)?)?` + // pre release
	`(?P<post>(?:-(?P<post_n1>[0-9]+))|(?:[-_\.]?(?P<post_l>post|rev|r)[-_\.]?(?P<post_n2>[0-9]+)?))?` + // post release
	`(?P<dev>[-_\.]?(?P<dev_l>dev)[-_\.]?(?P<dev_n>[0-9]+)?)?` + // dev release
	`)` +
	`(?:\+(?P<local>[a-z0-9]+(?:[-_\.][a-z0-9]+)*))?` + // local version
	`\s*$`)

// Version is a canonical-ish representation of a PEP 440 version.
//
// Local revisions are discarded. This is a comparison aid, not a general
// PEP 440 implementation: it exists so affected-range checks can say
// something more useful than "unknown" for well-formed versions.
type Version struct {
	Epoch   int
	Release []int
	// Pre orders a<b<rc; 0 means "not a pre-release".
	Pre  int
	PreN int
	Post int
	Dev  int
}

// ParseVersion parses a PEP 440 version string.
func ParseVersion(s string) (*Version, error) {
	ms := versionPattern.FindStringSubmatch(strings.ToLower(s))
	if ms == nil {
		return nil, fmt.Errorf("pypi: unparseable version %q", s)
	}
	var v Version
	for i, name := range versionPattern.SubexpNames() {
		m := ms[i]
		if m == "" {
			continue
		}
		switch name {
		case "epoch":
			v.Epoch, _ = strconv.Atoi(m)
		case "release":
			for _, n := range strings.Split(m, ".") {
				x, err := strconv.Atoi(n)
				if err != nil {
					return nil, fmt.Errorf("pypi: unparseable version %q: %w", s, err)
				}
				v.Release = append(v.Release, x)
			}
		case "pre_l":
			switch m {
			case "a", "alpha":
				v.Pre = -3
			case "b", "beta":
				v.Pre = -2
			case "c", "rc", "pre", "preview":
				v.Pre = -1
			}
		case "pre_n":
			v.PreN, _ = strconv.Atoi(m)
		case "post_n1", "post_n2":
			v.Post, _ = strconv.Atoi(m)
		case "post_l":
			if v.Post == 0 {
				v.Post = 1
			}
		case "dev_l":
			if v.Dev == 0 {
				v.Dev = 1
			}
		case "dev_n":
			v.Dev, _ = strconv.Atoi(m)
		}
	}
	return &v, nil
}

// Compare returns -1, 0, or 1 when v sorts before, equal to, or after o.
func (v *Version) Compare(o *Version) int {
	if c := cmpInt(v.Epoch, o.Epoch); c != 0 {
		return c
	}
	for i := 0; i < len(v.Release) || i < len(o.Release); i++ {
		var a, b int
		if i < len(v.Release) {
			a = v.Release[i]
		}
		if i < len(o.Release) {
			b = o.Release[i]
		}
		if c := cmpInt(a, b); c != 0 {
			return c
		}
	}
	if c := cmpInt(v.Pre, o.Pre); c != 0 {
		return c
	}
	if c := cmpInt(v.PreN, o.PreN); c != 0 {
		return c
	}
	if c := cmpInt(v.Post, o.Post); c != 0 {
		return c
	}
	// A dev release sorts before the corresponding non-dev release.
	return cmpInt(devKey(v.Dev), devKey(o.Dev))
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func devKey(d int) int {
	if d == 0 {
		return 1 << 30
	}
	return d
}

// CompareVersions parses and compares two version strings.
func CompareVersions(a, b string) (int, error) {
	va, err := ParseVersion(a)
	if err != nil {
		return 0, err
	}
	vb, err := ParseVersion(b)
	if err != nil {
		return 0, err
	}
	return va.Compare(vb), nil
}
