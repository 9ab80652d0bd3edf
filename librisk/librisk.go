// Package librisk is the embedding facade: it wires the analyser's
// components together and exposes a single Analyze entrypoint plus a run
// function for the controller.
package librisk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/quay/zlog"
	"golang.org/x/sync/semaphore"

	"github.com/chainlock/chainlock"
	"github.com/chainlock/chainlock/analysis"
	"github.com/chainlock/chainlock/cache"
	"github.com/chainlock/chainlock/controller"
	"github.com/chainlock/chainlock/ecosystem"
	"github.com/chainlock/chainlock/ecosystem/defaults"
	"github.com/chainlock/chainlock/llm"
	"github.com/chainlock/chainlock/osv"
	"github.com/chainlock/chainlock/registry"
	"github.com/chainlock/chainlock/report"
	"github.com/chainlock/chainlock/resolver"
	"github.com/chainlock/chainlock/rulescan"
	"github.com/chainlock/chainlock/scm"
	"github.com/chainlock/chainlock/validate"
)

// Libris exports the analysis entrypoints.
type Libris struct {
	opts      *Opts
	store     cache.Store
	registry  *registry.Client
	osv       *osv.Client
	scanner   *rulescan.Scanner
	resolver  *resolver.Resolver
	llm       llm.Client
	assembler *report.Assembler
	sem       *semaphore.Weighted
}

// New creates a configured Libris instance.
func New(ctx context.Context, opts *Opts) (*Libris, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "librisk/New")
	defaults.Register()
	if err := opts.parse(ctx); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return nil, &chainlock.Error{Op: "librisk.New", Kind: chainlock.ErrConfiguration, Inner: err}
	}
	store, err := opts.store(ctx)
	if err != nil {
		return nil, err
	}
	store = cache.Instrument(store)

	l := &Libris{
		opts:      opts,
		store:     store,
		assembler: report.NewAssembler(),
		sem:       semaphore.NewWeighted(opts.PoolSize),
	}

	ropts := []registry.Option{
		registry.WithClient(opts.Client),
		registry.WithCache(store),
	}
	for e, root := range opts.RegistryRoots {
		ropts = append(ropts, registry.WithRoot(e, root))
	}
	l.registry = registry.New(ropts...)

	oopts := []osv.Option{
		osv.WithClient(opts.Client),
		osv.WithCache(store),
		osv.WithConcurrency(opts.PoolSize),
	}
	if opts.OSVRoot != "" {
		oopts = append(oopts, osv.WithRoot(opts.OSVRoot))
	}
	l.osv = osv.New(oopts...)

	db, err := l.maliciousDB(ctx)
	if err != nil {
		zlog.Warn(ctx).Err(err).Msg("malicious feed unavailable, using seed set")
		db = rulescan.NewDB(nil)
	}
	l.scanner = rulescan.New(db)

	l.resolver = resolver.New(l.registry,
		resolver.WithMaxDepth(opts.MaxDepth),
		resolver.WithSemaphore(l.sem),
	)

	if opts.LLMKey != "" {
		lopts := []llm.Option{llm.WithCache(store)}
		if opts.LLMRoot != "" {
			lopts = append(lopts, llm.WithRoot(opts.LLMRoot))
		}
		if opts.LLMModel != "" {
			lopts = append(lopts, llm.WithModel(opts.LLMModel))
		}
		l.llm = llm.NewOpenAI(opts.LLMKey, lopts...)
	}

	zlog.Info(ctx).
		Str("cache", opts.CacheBackend).
		Int64("pool", opts.PoolSize).
		Msg("librisk initialized")
	return l, nil
}

func (l *Libris) maliciousDB(ctx context.Context) (*rulescan.DB, error) {
	switch {
	case l.opts.MaliciousFeedFile != "":
		entries, err := rulescan.LoadFeedFile(l.opts.MaliciousFeedFile)
		if err != nil {
			return nil, err
		}
		return rulescan.NewDB(entries), nil
	case l.opts.MaliciousFeedURL != "":
		u, err := url.Parse(l.opts.MaliciousFeedURL)
		if err != nil {
			return nil, err
		}
		f := &rulescan.FeedFetcher{URL: u, Client: l.opts.Client, Store: l.store}
		entries, err := f.Fetch(ctx)
		if err != nil {
			return nil, err
		}
		return rulescan.NewDB(entries), nil
	}
	return rulescan.NewDB(nil), nil
}

// Close releases held resources.
func (l *Libris) Close() error {
	return l.store.Close()
}

// Cache exposes the run cache for maintenance commands.
func (l *Libris) Cache() cache.Store { return l.store }

// Resolve builds the dependency graph for a manifest without running the
// stage pipeline.
func (l *Libris) Resolve(ctx context.Context, m *ecosystem.Manifest) (*chainlock.Graph, error) {
	return l.resolver.Resolve(ctx, m)
}

// Analyze runs the whole pipeline for opts and returns the final report.
func (l *Libris) Analyze(ctx context.Context, opts *controller.StartOptions, log *controller.Logger) (*chainlock.Report, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "librisk/Libris.Analyze")
	if l.opts.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.opts.RunTimeout)
		defer cancel()
	}

	target := opts.Target
	if scm.IsURL(target) {
		log.Append("INFO", "cloning %s", target)
		dir, err := scm.Clone(ctx, target, l.opts.OutputDir, "")
		if err != nil {
			return nil, err
		}
		defer os.RemoveAll(dir)
		target = dir
	}

	manifestPath, e, err := locateManifest(ctx, target, opts.Ecosystem)
	if err != nil {
		return nil, err
	}
	issues := validate.Check(ctx, &validate.Config{
		ManifestPath: manifestPath,
		Ecosystem:    e,
		Dirs:         []string{l.opts.OutputDir, l.opts.CacheDir},
	})
	for _, issue := range issues {
		log.Append(levelFor(issue.Level), "%s: %s", issue.Code, issue.Message)
	}
	if validate.HasErrors(issues) {
		return nil, &chainlock.Error{
			Op:      "librisk.Analyze",
			Kind:    chainlock.ErrInputValidation,
			Message: "pre-flight validation failed",
		}
	}

	h, err := ecosystem.Get(e)
	if err != nil {
		return nil, err
	}
	m, err := h.ParseManifest(ctx, manifestPath)
	if err != nil {
		return nil, &chainlock.Error{Op: "librisk.Analyze", Kind: chainlock.ErrInputValidation, Inner: err}
	}

	sc := analysis.NewSharedContext(opts.Target, e)
	sc.Manifest = m
	sc.SkipExternal = opts.SkipExternal

	// The rule-based layer runs before any network work.
	findings, err := l.scanner.Scan(ctx, m, nil)
	if err != nil {
		return nil, err
	}
	log.Append("INFO", "rule scan found %d findings", len(findings))

	graph, err := l.resolver.Resolve(ctx, m)
	if err != nil {
		return nil, err
	}
	sc.Graph = graph
	log.Append("INFO", "resolved %d packages", graph.Len())

	// Re-scan with the transitive refs now known.
	if more, err := l.scanner.ScanPackages(ctx, graph.Refs()); err == nil {
		findings = mergeFindings(findings, more)
	} else {
		zlog.Warn(ctx).Err(err).Msg("transitive rule scan failed")
	}
	sc.RuleFindings = filterConfidence(findings, opts.ConfidenceThreshold)

	orch := analysis.NewOrchestrator(
		&analysis.VulnStage{Client: l.osv},
		&analysis.ReputationStage{Registry: l.registry, Concurrency: l.opts.PoolSize},
		&analysis.CodeStage{LLM: l.llm, Registry: l.registry},
		&analysis.SupplyChainStage{Registry: l.registry},
		report.NewSynthesisStage(l.assembler, l.llm),
	)
	if err := orch.Run(ctx, sc); err != nil {
		return nil, err
	}

	res, ok := sc.Result(analysis.StageSynthesis)
	if ok && res.Data != nil {
		if sd, ok := res.Data.(*analysis.SynthesisData); ok {
			return sd.Report, nil
		}
	}
	// Synthesis itself failed; assemble directly so the caller still gets a
	// degraded report.
	return l.assembler.Assemble(ctx, sc, analysis.Degrade(sc, false)), nil
}

// RunFunc adapts Analyze for the run controller: it writes the report and
// appends the run to the history index.
func (l *Libris) RunFunc() controller.RunFunc {
	return func(ctx context.Context, log *controller.Logger, opts *controller.StartOptions) (string, error) {
		r, err := l.Analyze(ctx, opts, log)
		if err != nil {
			return "", err
		}
		path, werr := l.WriteReport(r)
		if werr != nil {
			return "", werr
		}
		if err := l.appendHistory(r, path); err != nil {
			zlog.Warn(ctx).Err(err).Msg("history index update failed")
		}
		if err := l.store.Sweep(ctx); err != nil {
			zlog.Warn(ctx).Err(err).Msg("cache sweep failed")
		}
		return path, nil
	}
}

// WriteReport serialises r to the run's deterministic output path.
func (l *Libris) WriteReport(r *chainlock.Report) (string, error) {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	path := filepath.Join(l.opts.OutputDir, "report.json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", err
	}
	return path, nil
}

// historyEntry is one line of the history index.
type historyEntry struct {
	AnalysisID string    `json:"analysis_id"`
	Target     string    `json:"target"`
	FinishedAt time.Time `json:"finished_at"`
	ReportPath string    `json:"report_path"`
}

func (l *Libris) appendHistory(r *chainlock.Report, path string) error {
	f, err := os.OpenFile(filepath.Join(l.opts.OutputDir, "history.jsonl"),
		os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(historyEntry{
		AnalysisID: r.Metadata.AnalysisID,
		Target:     r.Metadata.Target,
		FinishedAt: r.Metadata.FinishedAt,
		ReportPath: path,
	})
}

// locateManifest finds the manifest to analyse under dir.
func locateManifest(ctx context.Context, dir string, e chainlock.Ecosystem) (string, chainlock.Ecosystem, error) {
	detected, err := ecosystem.Detect(ctx, dir)
	if err != nil {
		return "", "", err
	}
	if e != "" {
		ms := detected[e]
		if len(ms) == 0 {
			return "", "", &chainlock.Error{
				Op:      "librisk.Analyze",
				Kind:    chainlock.ErrInputValidation,
				Message: fmt.Sprintf("no %s manifest found under %s", e, dir),
			}
		}
		return ms[0], e, nil
	}
	switch len(detected) {
	case 0:
		return "", "", &chainlock.Error{
			Op:      "librisk.Analyze",
			Kind:    chainlock.ErrInputValidation,
			Message: fmt.Sprintf("no supported manifest found under %s", dir),
		}
	case 1:
		for d, ms := range detected {
			return ms[0], d, nil
		}
	}
	return "", "", &chainlock.Error{
		Op:      "librisk.Analyze",
		Kind:    chainlock.ErrInputValidation,
		Message: "multiple ecosystems detected; pass one explicitly",
	}
}

func levelFor(l validate.Level) string {
	switch l {
	case validate.LevelError:
		return "ERROR"
	case validate.LevelWarning:
		return "WARNING"
	}
	return "INFO"
}

// mergeFindings appends b to a, skipping exact duplicates by package, type,
// and first evidence line.
func mergeFindings(a, b []chainlock.Finding) []chainlock.Finding {
	seen := make(map[string]struct{}, len(a))
	key := func(f *chainlock.Finding) string {
		ev := ""
		if len(f.Evidence) != 0 {
			ev = f.Evidence[0]
		}
		return f.Package.Key() + "\x00" + f.Type + "\x00" + ev
	}
	for i := range a {
		seen[key(&a[i])] = struct{}{}
	}
	for i := range b {
		k := key(&b[i])
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		a = append(a, b[i])
	}
	return a
}

func filterConfidence(fs []chainlock.Finding, threshold float64) []chainlock.Finding {
	if threshold <= 0 {
		return fs
	}
	out := fs[:0]
	for _, f := range fs {
		if f.Confidence >= threshold {
			out = append(out, f)
		}
	}
	return out
}
