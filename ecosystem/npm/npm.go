// Package npm contains the ecosystem handler for npm projects.
package npm

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Masterminds/semver"
	"github.com/quay/zlog"

	"github.com/chainlock/chainlock"
	"github.com/chainlock/chainlock/ecosystem"
)

var _ ecosystem.Handler = (*Handler)(nil)

// DefaultRegistry is the public npm registry.
//
//doc:url registry
const DefaultRegistry = `https://registry.npmjs.org/`

// Handler implements ecosystem.Handler for npm.
//
// The zero value is ready to use.
type Handler struct{}

// Ecosystem implements ecosystem.Handler.
func (*Handler) Ecosystem() chainlock.Ecosystem { return chainlock.NPM }

// lifecycleHooks are the script names npm runs automatically around
// install/uninstall. See https://docs.npmjs.com/cli/using-npm/scripts
var lifecycleHooks = map[string]bool{
	"preinstall":    true,
	"install":       true,
	"postinstall":   true,
	"preuninstall":  true,
	"postuninstall": true,
	"prepublish":    true,
	"prepare":       true,
}

// Detect implements ecosystem.Handler.
//
// Only the top-level package.json is a candidate; node_modules trees are the
// resolver's concern, not the manifest's.
func (*Handler) Detect(ctx context.Context, dir string) ([]string, error) {
	p := filepath.Join(dir, "package.json")
	fi, err := os.Stat(p)
	switch {
	case err == nil && fi.Mode().IsRegular():
		return []string{p}, nil
	case os.IsNotExist(err):
		return nil, nil
	case err != nil:
		return nil, err
	}
	return nil, nil
}

// packageJSON represents the fields of a package.json file useful for
// dependency extraction.
//
// See https://docs.npmjs.com/files/package.json/ for more details about the
// format of package.json files.
type packageJSON struct {
	Name             string            `json:"name"`
	Version          string            `json:"version"`
	Dependencies     map[string]string `json:"dependencies"`
	DevDependencies  map[string]string `json:"devDependencies"`
	PeerDependencies map[string]string `json:"peerDependencies"`
	Scripts          map[string]string `json:"scripts"`
}

// ParseManifest implements ecosystem.Handler.
func (h *Handler) ParseManifest(ctx context.Context, path string) (*ecosystem.Manifest, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "ecosystem/npm/Handler.ParseManifest")
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("npm: unable to open manifest: %w", err)
	}
	defer f.Close()

	var pkg packageJSON
	if err := json.NewDecoder(bufio.NewReader(f)).Decode(&pkg); err != nil {
		return nil, &chainlock.Error{
			Op:      "npm.ParseManifest",
			Kind:    chainlock.ErrInputValidation,
			Message: "unable to decode package.json",
			Inner:   err,
		}
	}

	m := ecosystem.Manifest{
		Path:      path,
		Ecosystem: chainlock.NPM,
		Root: chainlock.PackageRef{
			Name:      pkg.Name,
			Version:   pkg.Version,
			Ecosystem: chainlock.NPM,
		},
	}
	for name, spec := range pkg.Dependencies {
		m.Dependencies = append(m.Dependencies, ecosystem.Dependency{Name: name, Specifier: spec})
	}
	for name, spec := range pkg.DevDependencies {
		m.Dependencies = append(m.Dependencies, ecosystem.Dependency{Name: name, Specifier: spec, Dev: true})
	}
	for name, spec := range pkg.PeerDependencies {
		m.Dependencies = append(m.Dependencies, ecosystem.Dependency{Name: name, Specifier: spec})
	}
	sort.Slice(m.Dependencies, func(i, j int) bool { return m.Dependencies[i].Name < m.Dependencies[j].Name })
	m.Scripts = h.Scripts(pkg.Scripts)

	zlog.Debug(ctx).
		Int("dependencies", len(m.Dependencies)).
		Int("scripts", len(m.Scripts)).
		Msg("parsed manifest")
	return &m, nil
}

// Scripts implements ecosystem.Handler.
func (*Handler) Scripts(raw map[string]string) []ecosystem.Script {
	if len(raw) == 0 {
		return nil
	}
	out := make([]ecosystem.Script, 0, len(raw))
	for hook, cmd := range raw {
		out = append(out, ecosystem.Script{
			Hook:               hook,
			Command:            cmd,
			LifecycleSensitive: lifecycleHooks[hook],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hook < out[j].Hook })
	return out
}

// MetadataURL implements ecosystem.Handler.
func (*Handler) MetadataURL(name, version string) (pinned, latest string) {
	esc := url.PathEscape(name)
	if strings.HasPrefix(name, "@") {
		// Scoped names keep their slash percent-encoded.
		esc = strings.Replace(url.PathEscape(name), "%2F", "/", 1)
	}
	latest = DefaultRegistry + esc + "/latest"
	if version == "" {
		return latest, latest
	}
	return DefaultRegistry + esc + "/" + url.PathEscape(version), latest
}

// PinnedVersion implements ecosystem.Handler.
//
// A specifier is a pin when it parses as a bare semver version; ranges
// ("^1.2.3", ">=2", "1.x", "*") are not pins.
func (*Handler) PinnedVersion(spec string) (string, bool) {
	s := strings.TrimSpace(spec)
	if s == "" || strings.ContainsAny(s, "^~><=*x ") || strings.Contains(s, "||") {
		return "", false
	}
	v, err := semver.NewVersion(s)
	if err != nil {
		return "", false
	}
	return v.String(), true
}
