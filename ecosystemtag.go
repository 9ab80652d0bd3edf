package chainlock

import "fmt"

// Ecosystem is a package-management universe with its own manifest format and
// registry.
//
// The set is closed; adding a new ecosystem means adding a handler under the
// ecosystem package and a tag here.
type Ecosystem string

// Supported ecosystems.
const (
	NPM  Ecosystem = "npm"
	PyPI Ecosystem = "pypi"
)

// OSVName reports the ecosystem name used by the OSV API.
func (e Ecosystem) OSVName() string {
	switch e {
	case NPM:
		return "npm"
	case PyPI:
		return "PyPI"
	}
	return string(e)
}

// Valid reports whether the tag is one of the supported ecosystems.
func (e Ecosystem) Valid() bool {
	switch e {
	case NPM, PyPI:
		return true
	}
	return false
}

// ParseEcosystem maps a string onto an Ecosystem tag.
func ParseEcosystem(s string) (Ecosystem, error) {
	switch Ecosystem(s) {
	case NPM:
		return NPM, nil
	case PyPI:
		return PyPI, nil
	}
	return "", fmt.Errorf("unknown ecosystem %q", s)
}
