// Package ecosystem defines the plug-in boundary for package ecosystems.
//
// A Handler knows how to find and parse one ecosystem's manifests, what its
// install-script attack patterns look like, and how to address its registry.
// The set of handlers is closed and registered explicitly; see the npm and
// pypi subpackages.
package ecosystem

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/chainlock/chainlock"
)

// Dependency is one declared dependency: a name and the raw version
// specifier from the manifest.
type Dependency struct {
	Name      string
	Specifier string
	// Dev marks dependencies that are not installed in production
	// (devDependencies, optional extras).
	Dev bool
}

// Script is a named script from a manifest.
type Script struct {
	// Hook is the script's name, e.g. "preinstall" or "build" for npm, or a
	// cmdclass name for a setup.py.
	Hook    string
	Command string
	// LifecycleSensitive marks hooks the package manager runs automatically
	// during install/uninstall. Pattern matches in these hooks are promoted
	// one severity level.
	LifecycleSensitive bool
}

// Manifest is the parsed form of a manifest file.
type Manifest struct {
	Path         string
	Ecosystem    chainlock.Ecosystem
	Root         chainlock.PackageRef
	Dependencies []Dependency
	Scripts      []Script
}

// ScriptPattern is one entry of an ecosystem's install-script pattern table.
type ScriptPattern struct {
	ID           string
	Pattern      *regexp.Regexp
	Severity     chainlock.Severity
	AttackFamily string
	// LifecycleHookSensitive marks patterns whose severity is promoted when
	// matched inside a lifecycle hook.
	LifecycleHookSensitive bool
}

// Handler is the uniform capability set an ecosystem exposes.
type Handler interface {
	Ecosystem() chainlock.Ecosystem
	// Detect scans dir for candidate manifest files and returns their paths.
	// A return of (nil, nil) means the ecosystem is not present.
	Detect(ctx context.Context, dir string) ([]string, error)
	// ParseManifest parses one manifest into declared dependencies.
	ParseManifest(ctx context.Context, path string) (*Manifest, error)
	// ScriptPatterns returns the install-script pattern table.
	ScriptPatterns() []ScriptPattern
	// Scripts classifies a raw scripts map, as served by the registry's
	// version document, into the manifest script form. Ecosystems whose
	// registry exposes no scripts return nil.
	Scripts(raw map[string]string) []Script
	// PopularPackages returns well-known package names used for typosquat
	// distance checks.
	PopularPackages() []string
	// MetadataURL builds the registry endpoints for a package: the pinned
	// metadata URL and the latest-version URL for when the version is
	// unknown or a range.
	MetadataURL(name, version string) (pinned, latest string)
	// PinnedVersion reports the concrete version from a specifier, if the
	// specifier is an exact pin.
	PinnedVersion(spec string) (string, bool)
}

var (
	mu       sync.RWMutex
	handlers = make(map[chainlock.Ecosystem]Handler)
)

// Register installs a Handler. It panics on duplicate registration, which is
// a programmer error.
func Register(h Handler) {
	mu.Lock()
	defer mu.Unlock()
	e := h.Ecosystem()
	if _, ok := handlers[e]; ok {
		panic(fmt.Sprintf("ecosystem: duplicate registration for %q", e))
	}
	handlers[e] = h
}

// Get returns the Handler for the tag.
func Get(e chainlock.Ecosystem) (Handler, error) {
	mu.RLock()
	defer mu.RUnlock()
	h, ok := handlers[e]
	if !ok {
		return nil, fmt.Errorf("ecosystem: no handler registered for %q", e)
	}
	return h, nil
}

// Registered returns the registered ecosystem tags, sorted.
func Registered() []chainlock.Ecosystem {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]chainlock.Ecosystem, 0, len(handlers))
	for e := range handlers {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Detect runs every registered handler's detection over dir and returns the
// candidate manifests per ecosystem. Ecosystems with no hits are omitted.
func Detect(ctx context.Context, dir string) (map[chainlock.Ecosystem][]string, error) {
	out := make(map[chainlock.Ecosystem][]string)
	for _, e := range Registered() {
		h, err := Get(e)
		if err != nil {
			return nil, err
		}
		ms, err := h.Detect(ctx, dir)
		if err != nil {
			return nil, fmt.Errorf("ecosystem: detecting %s manifests: %w", e, err)
		}
		if len(ms) != 0 {
			out[e] = ms
		}
	}
	return out, nil
}
