package analysis

import (
	"context"
	"math"
	"time"

	"github.com/quay/zlog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/chainlock/chainlock"
	"github.com/chainlock/chainlock/registry"
)

// Factor weights for the reputation score.
const (
	weightAge         = 0.30
	weightDownloads   = 0.30
	weightAuthor      = 0.20
	weightMaintenance = 0.20
)

// flagThreshold is the factor score below which its flag is raised.
const flagThreshold = 0.5

// highRiskReputation is the score below which a package joins the run's
// high-risk set.
const highRiskReputation = 0.4

var _ Stage = (*ReputationStage)(nil)

// ReputationStage scores every package's registry footprint.
type ReputationStage struct {
	Registry *registry.Client
	// Concurrency bounds in-flight metadata fetches; zero means 10.
	Concurrency int64
}

// Name implements Stage.
func (*ReputationStage) Name() string { return StageReputation }

// Deadline implements Stage.
func (*ReputationStage) Deadline() time.Duration { return 20 * time.Second }

// Skip implements Stage.
func (*ReputationStage) Skip(*SharedContext) (bool, string) { return false, "" }

// Run implements Stage.
func (s *ReputationStage) Run(ctx context.Context, sc *SharedContext) (StageData, float64, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "analysis/ReputationStage.Run")
	refs := sc.Packages()
	data := &ReputationData{
		Assessments: make(map[chainlock.PackageRef]*chainlock.ReputationAssessment, len(refs)),
		Errors:      make(map[chainlock.PackageRef]string),
	}

	n := s.Concurrency
	if n <= 0 {
		n = 10
	}
	type keyed struct {
		ref chainlock.PackageRef
		as  *chainlock.ReputationAssessment
		err error
	}
	out := make([]keyed, len(refs))
	sem := semaphore.NewWeighted(n)
	eg, gctx := errgroup.WithContext(ctx)
	for i, ref := range refs {
		i, ref := i, ref
		eg.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)
			as, err := s.assess(gctx, ref)
			out[i] = keyed{ref: ref, as: as, err: err}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, 0, &chainlock.Error{Op: "analysis.reputation", Kind: chainlock.ErrCancelled, Inner: err}
	}

	failed := 0
	for _, kv := range out {
		if kv.err != nil {
			data.Errors[kv.ref] = kv.err.Error()
			failed++
			continue
		}
		data.Assessments[kv.ref] = kv.as
		if kv.as.Score < highRiskReputation {
			sc.MarkHighRisk(kv.ref, "reputation score below threshold")
		}
	}
	if len(refs) != 0 && failed == len(refs) {
		return data, 0, &chainlock.Error{
			Op:      "analysis.reputation",
			Kind:    chainlock.ErrNetworkTransient,
			Message: "no package metadata could be fetched",
		}
	}
	conf := 1.0
	for _, as := range data.Assessments {
		if as.Confidence < conf {
			conf = as.Confidence
		}
	}
	zlog.Info(ctx).
		Int("packages", len(refs)).
		Int("assessed", len(data.Assessments)).
		Int("errors", failed).
		Msg("reputation stage done")
	return data, conf, nil
}

// assess computes the four factor scores for one package.
func (s *ReputationStage) assess(ctx context.Context, ref chainlock.PackageRef) (*chainlock.ReputationAssessment, error) {
	md, err := s.Registry.FetchMetadata(ctx, ref)
	if err != nil {
		return nil, err
	}
	hist, _ := s.Registry.FetchHistory(ctx, ref.Ecosystem, ref.Name)

	as := &chainlock.ReputationAssessment{Package: ref}
	known := 0

	// Age: a package published years ago scores 1, days ago scores near 0.
	var first time.Time
	if hist != nil && !hist.FirstPublished.IsZero() {
		first = hist.FirstPublished
	} else if !md.PublishedAt.IsZero() {
		first = md.PublishedAt
	}
	if !first.IsZero() {
		days := time.Since(first).Hours() / 24
		as.Factors.Age = clamp01(days / 730)
		known++
	}

	// Downloads: log scale, saturating at a million weekly downloads.
	if md.Downloads >= 0 {
		as.Factors.Downloads = clamp01(math.Log10(float64(md.Downloads)+1) / 6)
		known++
	}

	// Author: any named maintainer gives a base score; more maintainers give
	// modest extra credit.
	if len(md.Maintainers) != 0 {
		as.Factors.Author = clamp01(0.6 + 0.2*float64(len(md.Maintainers)-1))
		known++
	} else if hist != nil && len(hist.Maintainers) != 0 {
		as.Factors.Author = clamp01(0.6 + 0.2*float64(len(hist.Maintainers)-1))
		known++
	}

	// Maintenance: time since the most recent release, a year of silence
	// scoring 0. Deprecation zeroes the factor.
	if hist != nil && len(hist.Releases) != 0 {
		last := hist.Releases[len(hist.Releases)-1].ReleasedAt
		if !last.IsZero() {
			days := time.Since(last).Hours() / 24
			as.Factors.Maintenance = clamp01(1 - days/365)
			known++
		}
	}
	if md.Deprecated != "" {
		as.Factors.Maintenance = 0
	}

	as.Score = weightAge*as.Factors.Age +
		weightDownloads*as.Factors.Downloads +
		weightAuthor*as.Factors.Author +
		weightMaintenance*as.Factors.Maintenance
	as.RiskLevel = chainlock.DeriveRiskLevel(as.Score)

	if as.Factors.Age < flagThreshold {
		as.Flags = append(as.Flags, chainlock.FlagNewPackage)
	}
	if as.Factors.Downloads < flagThreshold {
		as.Flags = append(as.Flags, chainlock.FlagLowDownloads)
	}
	if as.Factors.Author < flagThreshold {
		as.Flags = append(as.Flags, chainlock.FlagUnknownAuthor)
	}
	if as.Factors.Maintenance < flagThreshold {
		as.Flags = append(as.Flags, chainlock.FlagUnmaintained)
	}

	switch {
	case known >= 4:
		as.Confidence = 1.0
	case known == 3:
		as.Confidence = 0.75
	default:
		as.Confidence = 0.5
	}
	return as, nil
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
