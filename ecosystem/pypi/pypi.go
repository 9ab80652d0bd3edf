// Package pypi contains the ecosystem handler for Python projects.
//
// Three manifest forms are understood: requirements.txt, PEP 621
// pyproject.toml, and setup.py. A setup.py is only ever inspected as text;
// it is never executed.
package pypi

import (
	"bufio"
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/quay/zlog"

	"github.com/chainlock/chainlock"
	"github.com/chainlock/chainlock/ecosystem"
)

var _ ecosystem.Handler = (*Handler)(nil)

// DefaultRegistry is the PyPI JSON API root.
//
//doc:url registry
const DefaultRegistry = `https://pypi.org/pypi/`

// Handler implements ecosystem.Handler for PyPI.
//
// The zero value is ready to use.
type Handler struct{}

// Ecosystem implements ecosystem.Handler.
func (*Handler) Ecosystem() chainlock.Ecosystem { return chainlock.PyPI }

// manifestNames are the filenames Detect looks for, in preference order.
var manifestNames = []string{"requirements.txt", "pyproject.toml", "setup.py"}

// Detect implements ecosystem.Handler.
func (*Handler) Detect(ctx context.Context, dir string) ([]string, error) {
	var out []string
	for _, n := range manifestNames {
		p := filepath.Join(dir, n)
		fi, err := os.Stat(p)
		switch {
		case err == nil && fi.Mode().IsRegular():
			out = append(out, p)
		case err == nil, os.IsNotExist(err):
		default:
			return nil, err
		}
	}
	return out, nil
}

// ParseManifest implements ecosystem.Handler. The parse strategy is picked
// by filename.
func (h *Handler) ParseManifest(ctx context.Context, path string) (*ecosystem.Manifest, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "ecosystem/pypi/Handler.ParseManifest")
	var m *ecosystem.Manifest
	var err error
	switch base := filepath.Base(path); base {
	case "requirements.txt":
		m, err = parseRequirements(ctx, path)
	case "pyproject.toml":
		m, err = parsePyproject(ctx, path)
	case "setup.py":
		m, err = parseSetupPy(ctx, path)
	default:
		return nil, &chainlock.Error{
			Op:      "pypi.ParseManifest",
			Kind:    chainlock.ErrInputValidation,
			Message: fmt.Sprintf("unrecognized manifest %q", base),
		}
	}
	if err != nil {
		return nil, err
	}
	m.Path = path
	m.Ecosystem = chainlock.PyPI
	m.Root.Ecosystem = chainlock.PyPI
	sort.Slice(m.Dependencies, func(i, j int) bool { return m.Dependencies[i].Name < m.Dependencies[j].Name })
	zlog.Debug(ctx).
		Str("manifest", filepath.Base(path)).
		Int("dependencies", len(m.Dependencies)).
		Msg("parsed manifest")
	return m, nil
}

// specifierOps are the PEP 508 version comparison operators, longest first
// so the split finds "===" before "==" and "==" before "=".
var specifierOps = []string{"===", "==", "~=", ">=", "<=", "!=", ">", "<"}

// splitRequirement splits a PEP 508 requirement line into name and
// specifier. Extras brackets and environment markers are dropped.
func splitRequirement(line string) (name, spec string) {
	// Environment markers are ignored wholesale.
	if i := strings.IndexByte(line, ';'); i != -1 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)
	rest := line
	for i, r := range line {
		if strings.ContainsRune("=<>!~ [(", r) {
			name, rest = line[:i], line[i:]
			break
		}
	}
	if name == "" {
		return line, ""
	}
	// Drop extras: requests[security]>=2.0 → requests.
	rest = strings.TrimSpace(rest)
	if strings.HasPrefix(rest, "[") {
		if i := strings.IndexByte(rest, ']'); i != -1 {
			rest = strings.TrimSpace(rest[i+1:])
		}
	}
	return name, strings.TrimSpace(strings.Trim(rest, "()"))
}

func parseRequirements(ctx context.Context, path string) (*ecosystem.Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("pypi: unable to open manifest: %w", err)
	}
	defer f.Close()

	var m ecosystem.Manifest
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if i := strings.IndexByte(line, '#'); i != -1 {
			line = strings.TrimSpace(line[:i])
		}
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "-"):
			// Option lines (-r, -e, --hash, ...) aren't dependencies.
			continue
		}
		name, spec := splitRequirement(line)
		if name == "" {
			continue
		}
		m.Dependencies = append(m.Dependencies, ecosystem.Dependency{Name: name, Specifier: spec})
	}
	if err := s.Err(); err != nil {
		return nil, &chainlock.Error{
			Op:      "pypi.parseRequirements",
			Kind:    chainlock.ErrInputValidation,
			Message: "unable to read requirements.txt",
			Inner:   err,
		}
	}
	return &m, nil
}

// pyproject models the PEP 621 tables we care about.
type pyproject struct {
	Project struct {
		Name                 string              `toml:"name"`
		Version              string              `toml:"version"`
		Dependencies         []string            `toml:"dependencies"`
		OptionalDependencies map[string][]string `toml:"optional-dependencies"`
	} `toml:"project"`
}

func parsePyproject(ctx context.Context, path string) (*ecosystem.Manifest, error) {
	var doc pyproject
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		return nil, &chainlock.Error{
			Op:      "pypi.parsePyproject",
			Kind:    chainlock.ErrInputValidation,
			Message: "unable to decode pyproject.toml",
			Inner:   err,
		}
	}
	m := ecosystem.Manifest{
		Root: chainlock.PackageRef{Name: doc.Project.Name, Version: doc.Project.Version},
	}
	for _, line := range doc.Project.Dependencies {
		name, spec := splitRequirement(line)
		if name == "" {
			continue
		}
		m.Dependencies = append(m.Dependencies, ecosystem.Dependency{Name: name, Specifier: spec})
	}
	for _, lines := range doc.Project.OptionalDependencies {
		for _, line := range lines {
			name, spec := splitRequirement(line)
			if name == "" {
				continue
			}
			m.Dependencies = append(m.Dependencies, ecosystem.Dependency{Name: name, Specifier: spec, Dev: true})
		}
	}
	return &m, nil
}

// Scripts implements ecosystem.Handler. The PyPI JSON API serves no script
// material, so there is never anything to classify.
func (*Handler) Scripts(map[string]string) []ecosystem.Script { return nil }

// MetadataURL implements ecosystem.Handler.
//
// Specifier ranges must not be appended to the URL; callers pass a concrete
// version or the empty string.
func (*Handler) MetadataURL(name, version string) (pinned, latest string) {
	n := url.PathEscape(chainlock.NormalizeName(chainlock.PyPI, name))
	latest = DefaultRegistry + n + "/json"
	if version == "" {
		return latest, latest
	}
	return DefaultRegistry + n + "/" + url.PathEscape(version) + "/json", latest
}

// PinnedVersion implements ecosystem.Handler.
//
// Only "==" and "===" with a single concrete version count as pins.
func (*Handler) PinnedVersion(spec string) (string, bool) {
	s := strings.TrimSpace(spec)
	for _, op := range []string{"===", "=="} {
		if strings.HasPrefix(s, op) {
			v := strings.TrimSpace(strings.TrimPrefix(s, op))
			if v == "" || strings.ContainsAny(v, "*,") {
				return "", false
			}
			return v, true
		}
	}
	return "", false
}
