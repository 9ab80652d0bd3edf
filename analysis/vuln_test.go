package analysis

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/quay/zlog"

	"github.com/chainlock/chainlock"
	"github.com/chainlock/chainlock/osv"
)

// highAdvisories renders an OSV query response carrying n distinct
// high-severity advisories affecting every version.
func highAdvisories(n int) string {
	out := `{"vulns":[`
	for i := 0; i < n; i++ {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprintf(`{
			"id": "GHSA-test-%04d",
			"severity": [{"type": "CVSS_V3", "score": "7.5"}],
			"affected": [{
				"package": {"name": "busy-pkg", "ecosystem": "npm"},
				"ranges": [{"type": "SEMVER", "events": [{"introduced": "0"}]}]
			}]
		}`, i)
	}
	return out + `]}`
}

func TestVulnStagePromotesRisk(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, highAdvisories(3))
	}))
	defer srv.Close()

	ref := chainlock.PackageRef{Name: "busy-pkg", Version: "1.0.0", Ecosystem: chainlock.NPM}
	sc := NewSharedContext("/proj", chainlock.NPM)
	sc.Graph = chainlock.NewGraph(chainlock.PackageRef{Name: "app", Version: "1.0.0", Ecosystem: chainlock.NPM})
	node, _ := sc.Graph.Intern(ref)
	sc.Graph.Attach(sc.Graph.Node(sc.Graph.Root), node)

	st := &VulnStage{Client: osv.New(osv.WithClient(srv.Client()), osv.WithRoot(srv.URL))}
	data, conf, err := st.Run(ctx, sc)
	if err != nil {
		t.Fatal(err)
	}
	vd := data.(*VulnData)
	if got := len(vd.ByPackage[ref]); got != 3 {
		t.Fatalf("got %d advisories, want 3", got)
	}
	// Three high advisories promote the combined risk one level.
	if got := vd.PackageRisk[ref]; got != chainlock.Critical {
		t.Errorf("risk: got: %v, want: critical", got)
	}
	if _, ok := sc.HighRiskReason(ref); !ok {
		t.Error("vulnerable package not marked high-risk")
	}
	// Structured CVSS scores carry the highest confidence.
	if conf != 0.95 {
		t.Errorf("confidence: got: %v", conf)
	}
}

func TestVulnStageNoPromotionBelowThreshold(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, highAdvisories(2))
	}))
	defer srv.Close()

	ref := chainlock.PackageRef{Name: "busy-pkg", Version: "1.0.0", Ecosystem: chainlock.NPM}
	sc := NewSharedContext("/proj", chainlock.NPM)
	sc.Graph = chainlock.NewGraph(chainlock.PackageRef{Name: "app", Version: "1.0.0", Ecosystem: chainlock.NPM})
	node, _ := sc.Graph.Intern(ref)
	sc.Graph.Attach(sc.Graph.Node(sc.Graph.Root), node)

	st := &VulnStage{Client: osv.New(osv.WithClient(srv.Client()), osv.WithRoot(srv.URL))}
	data, _, err := st.Run(ctx, sc)
	if err != nil {
		t.Fatal(err)
	}
	if got := data.(*VulnData).PackageRisk[ref]; got != chainlock.High {
		t.Errorf("risk: got: %v, want: high", got)
	}
}

func TestVulnStageOffline(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	ref := chainlock.PackageRef{Name: "lodash", Version: "4.17.20", Ecosystem: chainlock.NPM}
	sc := NewSharedContext("/proj", chainlock.NPM)
	sc.Graph = chainlock.NewGraph(chainlock.PackageRef{Name: "app", Version: "1.0.0", Ecosystem: chainlock.NPM})
	node, _ := sc.Graph.Intern(ref)
	sc.Graph.Attach(sc.Graph.Node(sc.Graph.Root), node)

	st := &VulnStage{Client: osv.New(osv.WithRoot("https://osv.invalid/"))}
	data, _, err := st.Run(ctx, sc)
	if err != ErrOffline {
		t.Fatalf("got: %v, want: ErrOffline", err)
	}
	if !data.(*VulnData).Offline {
		t.Error("offline flag not set")
	}
}

func TestVulnStageSkip(t *testing.T) {
	sc := NewSharedContext("/proj", chainlock.NPM)
	sc.SkipExternal = true
	var st VulnStage
	if skip, reason := st.Skip(sc); !skip || reason == "" {
		t.Errorf("skip: got: (%v, %q)", skip, reason)
	}
}
