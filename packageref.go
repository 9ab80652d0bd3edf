package chainlock

import (
	"fmt"
	"strings"

	"github.com/package-url/packageurl-go"
)

// PackageRef is the identity of a package across the system.
//
// Version may be a concrete version or a raw specifier string; the resolver
// normalises before a ref is used as a cache key.
type PackageRef struct {
	Name      string    `json:"name"`
	Version   string    `json:"version"`
	Ecosystem Ecosystem `json:"ecosystem"`
}

// String returns a stable human-readable rendering.
func (r PackageRef) String() string {
	return fmt.Sprintf("%s/%s@%s", r.Ecosystem, r.Name, r.Version)
}

// Key returns the canonical identity string used for cache keys and map
// lookups. Names are case-folded per-ecosystem: PyPI treats names
// case-insensitively with "-"/"_" equivalence, npm names are already
// lowercase by policy.
func (r PackageRef) Key() string {
	return fmt.Sprintf("%s\x00%s\x00%s", r.Ecosystem, NormalizeName(r.Ecosystem, r.Name), r.Version)
}

// PURL returns the package-url rendering of the ref.
func (r PackageRef) PURL() string {
	var typ string
	switch r.Ecosystem {
	case NPM:
		typ = packageurl.TypeNPM
	case PyPI:
		typ = packageurl.TypePyPi
	default:
		typ = packageurl.TypeGeneric
	}
	ns, name := "", r.Name
	if i := strings.LastIndex(name, "/"); i != -1 { // npm scoped packages
		ns, name = name[:i], name[i+1:]
	}
	p := packageurl.NewPackageURL(typ, ns, name, r.Version, nil, "")
	return p.ToString()
}

// NormalizeName canonicalises a package name for the given ecosystem.
func NormalizeName(e Ecosystem, name string) string {
	switch e {
	case PyPI:
		// PEP 503 normalisation.
		return strings.ToLower(strings.NewReplacer("_", "-", ".", "-").Replace(name))
	case NPM:
		return strings.ToLower(name)
	}
	return name
}
