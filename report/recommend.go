package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/chainlock/chainlock"
	"github.com/chainlock/chainlock/analysis"
	"github.com/chainlock/chainlock/depgraph"
)

// recommend applies the deterministic recommendation-selection table over
// the assembled report.
func recommend(sc *analysis.SharedContext, ga *depgraph.Analysis, r *chainlock.Report) []chainlock.Recommendation {
	out := []chainlock.Recommendation{}

	// Critical vulnerabilities.
	criticalRefs := map[string]struct{}{}
	criticalCount := 0
	for i := range r.Vulnerabilities {
		if r.Vulnerabilities[i].Severity == chainlock.Critical {
			criticalRefs[r.Vulnerabilities[i].Package.Name] = struct{}{}
			criticalCount++
		}
	}
	if criticalCount > 0 {
		out = append(out, chainlock.Recommendation{
			Priority: chainlock.Critical,
			Action: fmt.Sprintf("Update %d packages with %d critical vulnerabilities (%s)",
				len(criticalRefs), criticalCount, nameList(criticalRefs)),
			Details: "Critical advisories have known exploits; upgrade to a fixed release.",
			Impact:  "Removes the highest-severity exposure in the dependency tree.",
		})
	}

	// Supply-chain indicators.
	scRefs := map[string]struct{}{}
	for i := range r.Packages {
		for _, f := range r.Packages[i].SupplyChainRisks {
			if f.Severity >= chainlock.High {
				scRefs[f.Package.Name] = struct{}{}
			}
		}
	}
	for _, f := range sc.RuleFindings {
		if f.Type == chainlock.FindingMaliciousPackage {
			scRefs[f.Package.Name] = struct{}{}
		}
	}
	if len(scRefs) > 0 {
		out = append(out, chainlock.Recommendation{
			Priority: chainlock.Critical,
			Action: fmt.Sprintf("Remove %d packages with supply-chain attack indicators (%s); rotate exposed credentials",
				len(scRefs), nameList(scRefs)),
			Details: "Packages showing takeover indicators must be treated as compromised.",
			Impact:  "Stops active exfiltration and closes the attacker's foothold.",
		})
	}

	// High-severity vulnerabilities without a fix.
	unfixed := map[string]struct{}{}
	for i := range r.Vulnerabilities {
		v := &r.Vulnerabilities[i]
		if v.Severity == chainlock.High && len(v.FixedVersions) == 0 {
			unfixed[v.Package.Name] = struct{}{}
		}
	}
	if len(unfixed) > 0 {
		out = append(out, chainlock.Recommendation{
			Priority: chainlock.High,
			Action:   fmt.Sprintf("Mitigate %d packages with high-severity vulnerabilities (%s)", len(unfixed), nameList(unfixed)),
			Details:  "No fixed release exists yet; apply workarounds or replace the package.",
			Impact:   "Reduces exposure while upstream fixes are pending.",
		})
	}

	// Obfuscated code.
	obfuscated := map[string]struct{}{}
	for i := range r.Packages {
		for _, f := range r.Packages[i].CodeIssues {
			if f.Type == chainlock.FindingObfuscatedCode {
				obfuscated[f.Package.Name] = struct{}{}
			}
		}
	}
	if len(obfuscated) > 0 {
		out = append(out, chainlock.Recommendation{
			Priority: chainlock.High,
			Action:   fmt.Sprintf("Review %d packages with obfuscated code (%s); verify or replace", len(obfuscated), nameList(obfuscated)),
			Details:  "Obfuscation in install scripts is a strong malware indicator.",
			Impact:   "Prevents execution of hidden payloads at install time.",
		})
	}

	// Low reputation.
	lowRep := map[string]struct{}{}
	for i := range r.Packages {
		if rep := r.Packages[i].Reputation; rep != nil && rep.Score < 0.3 {
			lowRep[r.Packages[i].Ref.Name] = struct{}{}
		}
	}
	if len(lowRep) > 0 {
		out = append(out, chainlock.Recommendation{
			Priority: chainlock.Medium,
			Action:   fmt.Sprintf("Replace %d low-reputation packages with trusted alternatives (%s)", len(lowRep), nameList(lowRep)),
			Details:  "Low-reputation packages carry elevated takeover and abandonment risk.",
			Impact:   "Shrinks the attack surface of the dependency tree.",
		})
	}

	// Circular dependencies.
	if ga != nil && len(ga.Cycles) > 0 {
		out = append(out, chainlock.Recommendation{
			Priority: chainlock.Low,
			Action:   fmt.Sprintf("Resolve %d circular dependencies", len(ga.Cycles)),
			Details:  "Cycles complicate upgrades and can mask injected packages.",
			Impact:   "Simplifies future remediation work.",
		})
	}

	if len(out) == 0 {
		out = append(out, chainlock.Recommendation{
			Priority: chainlock.Info,
			Action:   "No critical issues detected; maintain monitoring",
			Details:  "Re-run the analysis when dependencies change.",
		})
	}
	return out
}

// nameList renders up to three names from a set.
func nameList(set map[string]struct{}) string {
	names := make([]string, 0, len(set))
	for n := range set {
		names = append(names, n)
	}
	sort.Strings(names)
	if len(names) > 3 {
		names = names[:3]
	}
	return strings.Join(names, ", ")
}
