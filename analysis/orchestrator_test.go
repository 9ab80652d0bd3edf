package analysis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/quay/zlog"

	"github.com/chainlock/chainlock"
)

// fakeStage scripts one stage's behaviour for orchestrator tests. The run
// function receives the attempt number, starting at zero.
type fakeStage struct {
	name     string
	deadline time.Duration
	skip     bool
	run      func(attempt int) (StageData, float64, error)

	attempts int
}

var _ Stage = (*fakeStage)(nil)

func (f *fakeStage) Name() string { return f.name }

func (f *fakeStage) Deadline() time.Duration {
	if f.deadline == 0 {
		return time.Second
	}
	return f.deadline
}

func (f *fakeStage) Skip(*SharedContext) (bool, string) {
	if f.skip {
		return true, "trigger condition not met"
	}
	return false, ""
}

func (f *fakeStage) Run(ctx context.Context, sc *SharedContext) (StageData, float64, error) {
	attempt := f.attempts
	f.attempts++
	return f.run(attempt)
}

func okStage(name string) *fakeStage {
	return &fakeStage{name: name, run: func(int) (StageData, float64, error) {
		return nil, 0.9, nil
	}}
}

func failStage(name string, err error) *fakeStage {
	return &fakeStage{name: name, run: func(int) (StageData, float64, error) {
		return nil, 0, err
	}}
}

func newTestOrchestrator(stages ...Stage) *Orchestrator {
	o := NewOrchestrator(stages...)
	o.initial = time.Millisecond
	return o
}

func TestRunRecordsEveryStage(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	sc := NewSharedContext("/proj", chainlock.NPM)
	o := newTestOrchestrator(
		okStage(StageVulnerability),
		okStage(StageReputation),
		okStage(StageSynthesis),
	)
	if err := o.Run(ctx, sc); err != nil {
		t.Fatal(err)
	}
	results := sc.Results()
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for _, r := range results {
		if !r.Success || r.Status != StatusSuccess {
			t.Errorf("%s: got: %+v", r.StageName, r)
		}
	}
	// The context is sealed; late writes are a bug.
	defer func() {
		if recover() == nil {
			t.Error("write after seal did not panic")
		}
	}()
	sc.SetResult(&StageResult{StageName: "late"})
}

func TestRunRetriesTransientFailures(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	sc := NewSharedContext("/proj", chainlock.NPM)
	st := &fakeStage{name: StageVulnerability, run: func(attempt int) (StageData, float64, error) {
		if attempt < 2 {
			return nil, 0, &chainlock.Error{
				Op:   "osv.query",
				Kind: chainlock.ErrNetworkTransient,
			}
		}
		return nil, 0.9, nil
	}}
	o := newTestOrchestrator(st)
	if err := o.Run(ctx, sc); err != nil {
		t.Fatal(err)
	}
	if st.attempts != 3 {
		t.Errorf("got %d attempts, want 3", st.attempts)
	}
	r, _ := sc.Result(StageVulnerability)
	if !r.Success {
		t.Errorf("stage did not recover: %+v", r)
	}
}

func TestRunDoesNotRetryTerminalErrors(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)

	tt := []struct {
		name string
		err  error
		want StageStatus
	}{
		{"offline", ErrOffline, StatusNotAvailable},
		{"deadline", context.DeadlineExceeded, StatusTimeout},
		{"permanent", errors.New("schema mismatch"), StatusFailed},
	}
	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			sc := NewSharedContext("/proj", chainlock.NPM)
			st := failStage(StageCode, tc.err)
			o := newTestOrchestrator(st)
			if err := o.Run(ctx, sc); err != nil {
				t.Fatal(err)
			}
			if st.attempts != 1 {
				t.Errorf("got %d attempts, want 1", st.attempts)
			}
			r, _ := sc.Result(StageCode)
			if r.Status != tc.want {
				t.Errorf("status: got: %v, want: %v", r.Status, tc.want)
			}
		})
	}
}

func TestRunSubstitutesFallbackPayloads(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	sc := NewSharedContext("/proj", chainlock.NPM)
	o := newTestOrchestrator(
		failStage(StageVulnerability, errors.New("decode failure")),
		failStage(StageReputation, context.DeadlineExceeded),
		okStage(StageSynthesis),
	)
	if err := o.Run(ctx, sc); err != nil {
		t.Fatal(err)
	}
	r, _ := sc.Result(StageVulnerability)
	if r.Status != StatusFallback || r.Success {
		t.Errorf("vulnerability result: %+v", r)
	}
	if _, ok := r.Data.(*VulnData); !ok {
		t.Errorf("vulnerability data: got: %T, want: *VulnData", r.Data)
	}
	r, _ = sc.Result(StageReputation)
	if r.Status != StatusFallback {
		t.Errorf("reputation status: got: %v, want: fallback", r.Status)
	}
	if _, ok := r.Data.(*ReputationData); !ok {
		t.Errorf("reputation data: got: %T, want: *ReputationData", r.Data)
	}
	// The substituted payloads keep synthesis running; the verdict still
	// records the failures.
	out := Degrade(sc, true)
	if out.Status != chainlock.StatusBasic || out.Confidence != 0.55 {
		t.Errorf("outcome: got: (%v, %v), want: (basic, 0.55)", out.Status, out.Confidence)
	}
	for _, want := range []string{StageVulnerability, StageReputation} {
		found := false
		for _, m := range out.Missing {
			if m == want {
				found = true
			}
		}
		if !found {
			t.Errorf("missing_analysis lacks %q: %v", want, out.Missing)
		}
	}
}

func TestRunKeepsPartialDataOnFailure(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	sc := NewSharedContext("/proj", chainlock.NPM)
	st := &fakeStage{name: StageVulnerability, run: func(int) (StageData, float64, error) {
		return &VulnData{Offline: true}, 0, ErrOffline
	}}
	o := newTestOrchestrator(st)
	if err := o.Run(ctx, sc); err != nil {
		t.Fatal(err)
	}
	// A stage that returned data keeps it, and keeps its real status.
	r, _ := sc.Result(StageVulnerability)
	if r.Status != StatusNotAvailable {
		t.Errorf("status: got: %v, want: not_available", r.Status)
	}
	if vd, ok := r.Data.(*VulnData); !ok || !vd.Offline {
		t.Errorf("partial data replaced: %+v", r.Data)
	}
}

func TestRunGuardsPanics(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	sc := NewSharedContext("/proj", chainlock.NPM)
	panicking := &fakeStage{name: StageCode, run: func(int) (StageData, float64, error) {
		panic("nil map write")
	}}
	o := newTestOrchestrator(panicking, okStage(StageSynthesis))
	if err := o.Run(ctx, sc); err != nil {
		t.Fatal(err)
	}
	r, ok := sc.Result(StageCode)
	if !ok || r.Status != StatusFailed {
		t.Fatalf("panicking stage result: %+v", r)
	}
	if !errors.Is(r.Err, chainlock.ErrInternal) {
		t.Errorf("err kind: got: %v", r.Err)
	}
	// The run proceeded past the panic.
	if r, ok := sc.Result(StageSynthesis); !ok || !r.Success {
		t.Error("stage after panic did not run")
	}
}

func TestRunCancelled(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	ctx, cancel := context.WithCancel(ctx)
	sc := NewSharedContext("/proj", chainlock.NPM)
	first := &fakeStage{name: StageVulnerability, run: func(int) (StageData, float64, error) {
		cancel()
		return nil, 0.9, nil
	}}
	second := okStage(StageReputation)
	o := newTestOrchestrator(first, second)
	err := o.Run(ctx, sc)
	if !errors.Is(err, chainlock.ErrCancelled) {
		t.Errorf("got: %v, want: cancelled", err)
	}
	if second.attempts != 0 {
		t.Error("stage ran after cancellation")
	}
}

func TestSeedHighRisk(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	mal := chainlock.PackageRef{Name: "flatmap-stream", Version: "0.1.1", Ecosystem: chainlock.NPM}
	low := chainlock.PackageRef{Name: "left-pad", Version: "1.3.0", Ecosystem: chainlock.NPM}
	sc := NewSharedContext("/proj", chainlock.NPM)
	sc.RuleFindings = []chainlock.Finding{
		{Type: chainlock.FindingMaliciousPackage, Package: mal, Severity: chainlock.Critical},
		{Type: chainlock.FindingTyposquat, Package: low, Severity: chainlock.Medium},
	}
	o := newTestOrchestrator()
	if err := o.Run(ctx, sc); err != nil {
		t.Fatal(err)
	}
	if _, ok := sc.HighRiskReason(mal); !ok {
		t.Error("malicious package not marked high-risk")
	}
	if _, ok := sc.HighRiskReason(low); ok {
		t.Error("medium-severity finding marked high-risk")
	}
}

func record(sc *SharedContext, name string, status StageStatus, err error) {
	sc.SetResult(&StageResult{
		StageName: name,
		Success:   status == StatusSuccess,
		Status:    status,
		Err:       err,
	})
}

func TestDegrade(t *testing.T) {
	transient := &chainlock.Error{Op: "registry.fetch", Kind: chainlock.ErrNetworkTransient}

	tt := []struct {
		name       string
		setup      func(sc *SharedContext)
		status     chainlock.AnalysisStatus
		confidence float64
		missing    []string
		retry      bool
	}{
		{
			name: "all stages succeed",
			setup: func(sc *SharedContext) {
				record(sc, StageVulnerability, StatusSuccess, nil)
				record(sc, StageReputation, StatusSuccess, nil)
				record(sc, StageCode, StatusSuccess, nil)
				record(sc, StageSupplyChain, StatusSuccess, nil)
			},
			status:     chainlock.StatusFull,
			confidence: 0.95,
		},
		{
			name: "optional stage fails",
			setup: func(sc *SharedContext) {
				record(sc, StageVulnerability, StatusSuccess, nil)
				record(sc, StageReputation, StatusSuccess, nil)
				record(sc, StageCode, StatusFailed, errors.New("model error"))
			},
			status:     chainlock.StatusPartial,
			confidence: 0.75,
			missing:    []string{StageCode},
		},
		{
			name: "required reputation stage fails",
			setup: func(sc *SharedContext) {
				record(sc, StageVulnerability, StatusSuccess, nil)
				record(sc, StageReputation, StatusFailed, transient)
			},
			status:     chainlock.StatusBasic,
			confidence: 0.55,
			missing:    []string{StageReputation},
			retry:      true,
		},
		{
			name: "no required stage succeeds",
			setup: func(sc *SharedContext) {
				record(sc, StageVulnerability, StatusNotAvailable, ErrOffline)
				record(sc, StageReputation, StatusFailed, errors.New("boom"))
			},
			status:     chainlock.StatusMinimal,
			confidence: 0.35,
			missing:    []string{StageVulnerability, StageReputation},
		},
		{
			name: "skipped optional stages keep the run full",
			setup: func(sc *SharedContext) {
				record(sc, StageVulnerability, StatusSuccess, nil)
				record(sc, StageReputation, StatusSuccess, nil)
				record(sc, StageCode, StatusSkipped, errors.New("no high-risk packages"))
				record(sc, StageSupplyChain, StatusSkipped, errors.New("no signals"))
			},
			status:     chainlock.StatusFull,
			confidence: 0.95,
		},
	}
	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			sc := NewSharedContext("/proj", chainlock.NPM)
			tc.setup(sc)
			out := Degrade(sc, true)
			if out.Status != tc.status {
				t.Errorf("status: got: %v, want: %v", out.Status, tc.status)
			}
			if out.Confidence != tc.confidence {
				t.Errorf("confidence: got: %v, want: %v", out.Confidence, tc.confidence)
			}
			if out.RetryRecommended != tc.retry {
				t.Errorf("retry: got: %v, want: %v", out.RetryRecommended, tc.retry)
			}
			for _, want := range tc.missing {
				found := false
				for _, m := range out.Missing {
					if m == want {
						found = true
					}
				}
				if !found {
					t.Errorf("missing_analysis lacks %q: %v", want, out.Missing)
				}
			}
		})
	}
}

func TestDegradeSynthesisFailure(t *testing.T) {
	sc := NewSharedContext("/proj", chainlock.NPM)
	record(sc, StageVulnerability, StatusSuccess, nil)
	record(sc, StageReputation, StatusSuccess, nil)
	out := Degrade(sc, false)
	if out.Status != chainlock.StatusBasic {
		t.Errorf("status: got: %v, want: basic", out.Status)
	}
}
