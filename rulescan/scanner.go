// Package rulescan is the rule-based layer of the analyser.
//
// Everything here runs locally against already-parsed material, so a scan
// completes in milliseconds and never waits on the network. Three checks are
// performed: install-script pattern matching against the ecosystem's attack
// pattern table, membership in the known-malicious package set, and edit
// distance typosquat detection against popular package names.
package rulescan

import (
	"context"
	"fmt"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/quay/zlog"

	"github.com/chainlock/chainlock"
	"github.com/chainlock/chainlock/ecosystem"
)

// Source identifies findings produced by this package.
const Source = `rule_scanner`

// evidenceLimit bounds how much script text is carried into evidence.
const evidenceLimit = 200

const (
	maliciousConfidence = 0.95
	scriptConfidence    = 0.8
	typoConfidence      = 0.6
)

// Scanner runs the rule-based checks.
type Scanner struct {
	db *DB
}

// New returns a Scanner backed by db. A nil db means malicious-package
// lookups run against the built-in seed set only.
func New(db *DB) *Scanner {
	if db == nil {
		db = NewDB(nil)
	}
	return &Scanner{db: db}
}

// ScanManifest runs the install-script check over every script the manifest
// declares.
func (s *Scanner) ScanManifest(ctx context.Context, m *ecosystem.Manifest) ([]chainlock.Finding, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "rulescan/Scanner.ScanManifest")
	h, err := ecosystem.Get(m.Ecosystem)
	if err != nil {
		return nil, err
	}
	patterns := h.ScriptPatterns()
	var out []chainlock.Finding
	for _, sc := range m.Scripts {
		for _, p := range patterns {
			if !p.Pattern.MatchString(sc.Command) {
				continue
			}
			sev := p.Severity
			if sc.LifecycleSensitive && p.LifecycleHookSensitive {
				sev = sev.Promote()
			}
			out = append(out, chainlock.Finding{
				Package:    m.Root,
				Type:       p.AttackFamily,
				Severity:   sev,
				Confidence: scriptConfidence,
				Evidence: []string{
					fmt.Sprintf("hook %q: %s", sc.Hook, truncate(sc.Command)),
					"pattern " + p.ID,
				},
				Source:         Source,
				Recommendation: "Review the script before installing; lifecycle hooks run automatically.",
				Method:         chainlock.RuleBased,
			})
		}
	}
	zlog.Debug(ctx).
		Int("scripts", len(m.Scripts)).
		Int("findings", len(out)).
		Msg("script scan done")
	return out, nil
}

// ScanPackages runs the malicious-set and typosquat checks over refs. The
// refs are typically every node of the resolved graph plus the declared
// dependencies.
func (s *Scanner) ScanPackages(ctx context.Context, refs []chainlock.PackageRef) ([]chainlock.Finding, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "rulescan/Scanner.ScanPackages")
	var out []chainlock.Finding
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return nil, &chainlock.Error{Op: "rulescan.ScanPackages", Kind: chainlock.ErrCancelled, Inner: err}
		}
		if e, ok := s.db.Lookup(ref); ok {
			f := chainlock.Finding{
				Package:        ref,
				Type:           chainlock.FindingMaliciousPackage,
				Severity:       chainlock.Critical,
				Confidence:     maliciousConfidence,
				Source:         Source,
				Recommendation: "Remove this package immediately and rotate any credentials the install environment held.",
				References:     e.References,
				Method:         chainlock.RuleBased,
			}
			if e.Summary != "" {
				f.Evidence = []string{e.Summary}
			}
			out = append(out, f)
			continue
		}
		if f, ok := s.typosquat(ref); ok {
			out = append(out, f)
		}
	}
	zlog.Debug(ctx).
		Int("packages", len(refs)).
		Int("findings", len(out)).
		Msg("package scan done")
	return out, nil
}

// Scan runs the full rule-based layer: scripts, then every ref in the graph.
func (s *Scanner) Scan(ctx context.Context, m *ecosystem.Manifest, g *chainlock.Graph) ([]chainlock.Finding, error) {
	out, err := s.ScanManifest(ctx, m)
	if err != nil {
		return nil, err
	}
	refs := make([]chainlock.PackageRef, 0, len(m.Dependencies))
	if g != nil {
		refs = g.Refs()
	} else {
		for _, d := range m.Dependencies {
			refs = append(refs, chainlock.PackageRef{
				Name:      d.Name,
				Version:   d.Specifier,
				Ecosystem: m.Ecosystem,
			})
		}
	}
	fs, err := s.ScanPackages(ctx, refs)
	if err != nil {
		return nil, err
	}
	return append(out, fs...), nil
}

// typosquat reports a finding when ref's name is within edit distance 2 of a
// popular package and is not itself popular.
func (s *Scanner) typosquat(ref chainlock.PackageRef) (chainlock.Finding, bool) {
	h, err := ecosystem.Get(ref.Ecosystem)
	if err != nil {
		return chainlock.Finding{}, false
	}
	name := chainlock.NormalizeName(ref.Ecosystem, ref.Name)
	popular := h.PopularPackages()
	for _, p := range popular {
		if name == p {
			return chainlock.Finding{}, false
		}
	}
	for _, p := range popular {
		// ComputeDistance walks both strings; skip pairs whose lengths
		// already rule the threshold out.
		if d := len(name) - len(p); d > 2 || d < -2 {
			continue
		}
		d := levenshtein.ComputeDistance(name, p)
		if d == 1 || d == 2 {
			return chainlock.Finding{
				Package:    ref,
				Type:       chainlock.FindingTyposquat,
				Severity:   chainlock.Medium,
				Confidence: typoConfidence,
				Evidence: []string{
					fmt.Sprintf("name %q resembles popular package %q (edit distance %d)", ref.Name, p, d),
				},
				Source:         Source,
				Recommendation: fmt.Sprintf("Verify the intended package is %q.", p),
				Method:         chainlock.RuleBased,
			}, true
		}
	}
	return chainlock.Finding{}, false
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= evidenceLimit {
		return s
	}
	return s[:evidenceLimit] + "..."
}
