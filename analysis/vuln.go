package analysis

import (
	"context"
	"time"

	"github.com/quay/zlog"

	"github.com/chainlock/chainlock"
	"github.com/chainlock/chainlock/osv"
)

// Confidence levels for the vulnerability stage, by quality of the severity
// signal the database provided: a structured CVSS score, a severity word
// only, or neither.
const (
	vulnConfStructured = 0.95
	vulnConfWordOnly   = 0.8
	vulnConfNone       = 0.7
)

// promoteThreshold is the number of high-or-above advisories that promotes a
// package's combined risk one level.
const promoteThreshold = 3

// ErrOffline is returned by a stage whose upstream service is unreachable.
// The orchestrator records the stage as not_available instead of retrying.
var ErrOffline = &chainlock.Error{
	Op:      "analysis",
	Kind:    chainlock.ErrNetworkTransient,
	Message: "upstream service unreachable",
}

var _ Stage = (*VulnStage)(nil)

// VulnStage queries the vulnerability database for every package under
// analysis.
type VulnStage struct {
	Client *osv.Client
}

// Name implements Stage.
func (*VulnStage) Name() string { return StageVulnerability }

// Deadline implements Stage.
func (*VulnStage) Deadline() time.Duration { return 30 * time.Second }

// Skip implements Stage.
func (*VulnStage) Skip(sc *SharedContext) (bool, string) {
	if sc.SkipExternal {
		return true, "external vulnerability queries disabled"
	}
	return false, ""
}

// Run implements Stage.
func (s *VulnStage) Run(ctx context.Context, sc *SharedContext) (StageData, float64, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "analysis/VulnStage.Run")
	refs := sc.Packages()
	batch, err := s.Client.QueryBatch(ctx, refs)
	if err != nil {
		return nil, 0, err
	}
	data := &VulnData{
		ByPackage:   make(map[chainlock.PackageRef][]chainlock.Vulnerability),
		Errors:      make(map[chainlock.PackageRef]string),
		PackageRisk: make(map[chainlock.PackageRef]chainlock.Severity),
		Offline:     batch.Status == osv.StatusOffline,
	}
	if data.Offline {
		zlog.Warn(ctx).Msg("vulnerability database offline")
		return data, 0, ErrOffline
	}

	conf := 1.0
	for ref, res := range batch.Results {
		if res.Err != nil {
			data.Errors[ref] = res.Err.Error()
			continue
		}
		if len(res.Vulns) == 0 {
			continue
		}
		data.ByPackage[ref] = res.Vulns
		risk := chainlock.Unknown
		highOrAbove := 0
		for _, v := range res.Vulns {
			if c := vulnConfidence(&v); c < conf {
				conf = c
			}
			if v.Severity > risk {
				risk = v.Severity
			}
			if v.Severity >= chainlock.High {
				highOrAbove++
			}
		}
		if highOrAbove >= promoteThreshold {
			risk = risk.Promote()
		}
		data.PackageRisk[ref] = risk
		if risk >= chainlock.High {
			sc.MarkHighRisk(ref, "vulnerability risk "+risk.String())
		}
	}
	zlog.Info(ctx).
		Int("packages", len(refs)).
		Int("vulnerable", len(data.ByPackage)).
		Int("errors", len(data.Errors)).
		Msg("vulnerability stage done")
	return data, conf, nil
}

// vulnConfidence grades one advisory's severity signal.
func vulnConfidence(v *chainlock.Vulnerability) float64 {
	switch {
	case v.CVSSScore != chainlock.CVSSUnknown:
		return vulnConfStructured
	case v.Severity != chainlock.Unknown:
		return vulnConfWordOnly
	}
	return vulnConfNone
}
