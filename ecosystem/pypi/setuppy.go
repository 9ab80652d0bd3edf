package pypi

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/chainlock/chainlock/ecosystem"
)

// Patterns for the static setup.py inspection. The file is treated as text;
// this is intentionally shallow and errs toward finding dependencies rather
// than evaluating them.
var (
	setupName       = regexp.MustCompile(`(?m)^\s*name\s*=\s*['"]([^'"]+)['"]`)
	setupVersion    = regexp.MustCompile(`(?m)^\s*version\s*=\s*['"]([^'"]+)['"]`)
	installRequires = regexp.MustCompile(`(?s)install_requires\s*=\s*\[(.*?)\]`)
	requireItem     = regexp.MustCompile(`['"]([^'"]+)['"]`)
	cmdclassBlock   = regexp.MustCompile(`(?s)cmdclass\s*=\s*\{(.*?)\}`)
	cmdclassKey     = regexp.MustCompile(`['"]([^'"]+)['"]\s*:`)
)

// parseSetupPy statically extracts dependencies and lifecycle hooks from a
// setup.py. The whole source is also exposed as script material so the
// rule-based scanner can pattern-match it; a custom cmdclass marks the
// material lifecycle-sensitive, since pip runs those classes on install.
func parseSetupPy(ctx context.Context, path string) (*ecosystem.Manifest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pypi: unable to read setup.py: %w", err)
	}
	src := string(b)

	var m ecosystem.Manifest
	if ms := setupName.FindStringSubmatch(src); ms != nil {
		m.Root.Name = ms[1]
	}
	if ms := setupVersion.FindStringSubmatch(src); ms != nil {
		m.Root.Version = ms[1]
	}
	if ms := installRequires.FindStringSubmatch(src); ms != nil {
		for _, item := range requireItem.FindAllStringSubmatch(ms[1], -1) {
			name, spec := splitRequirement(item[1])
			if name == "" {
				continue
			}
			m.Dependencies = append(m.Dependencies, ecosystem.Dependency{Name: name, Specifier: spec})
		}
	}

	var hooks []string
	if ms := cmdclassBlock.FindStringSubmatch(src); ms != nil {
		for _, k := range cmdclassKey.FindAllStringSubmatch(ms[1], -1) {
			hooks = append(hooks, k[1])
		}
	}
	m.Scripts = append(m.Scripts, ecosystem.Script{
		Hook:               "setup.py",
		Command:            src,
		LifecycleSensitive: len(hooks) != 0,
	})
	for _, h := range hooks {
		m.Scripts = append(m.Scripts, ecosystem.Script{
			Hook:               "cmdclass:" + h,
			Command:            cmdclassContext(src, h),
			LifecycleSensitive: true,
		})
	}
	return &m, nil
}

// cmdclassContext returns the class body for a cmdclass hook when it can be
// located, else the hook name itself. Good enough for evidence; the full
// source is scanned regardless.
func cmdclassContext(src, hook string) string {
	re, err := regexp.Compile(`(?s)class\s+` + regexp.QuoteMeta(hook) + `[^\n]*\n(.*?)(?:\nclass\s|\z)`)
	if err != nil {
		return hook
	}
	if ms := re.FindStringSubmatch(src); ms != nil {
		return strings.TrimSpace(ms[1])
	}
	return hook
}
