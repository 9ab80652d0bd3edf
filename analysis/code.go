package analysis

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/quay/zlog"

	"github.com/chainlock/chainlock"
	"github.com/chainlock/chainlock/ecosystem"
	"github.com/chainlock/chainlock/llm"
	"github.com/chainlock/chainlock/registry"
)

// codePattern is one entry of the code-analysis pattern tables.
type codePattern struct {
	id       string
	re       *regexp.Regexp
	severity chainlock.Severity
	family   string
}

// Obfuscation patterns: code working to hide what it does.
var obfuscationPatterns = []codePattern{
	{`base64-exec`, regexp.MustCompile(`(?i)(?:atob|b64decode|base64\s*(?:-d|--decode))\s*\(?[^)]*\)?\s*.{0,40}(?:eval|exec|Function|sh\b|bash\b)`), chainlock.High, chainlock.FindingObfuscatedCode},
	{`eval-dynamic`, regexp.MustCompile(`(?i)\beval\s*\(`), chainlock.Medium, chainlock.FindingObfuscatedCode},
	{`exec-dynamic`, regexp.MustCompile(`(?i)\bexec\s*\(|child_process|subprocess\.(?:call|run|Popen)|\bspawn\s*\(`), chainlock.Medium, chainlock.FindingObfuscatedCode},
	{`hex-string-blob`, regexp.MustCompile(`\\x[0-9a-fA-F]{2}(?:\\x[0-9a-fA-F]{2}){9,}`), chainlock.Medium, chainlock.FindingObfuscatedCode},
	{`charcode-assembly`, regexp.MustCompile(`(?i)String\.fromCharCode\s*\(|chr\s*\(\s*\d+\s*\)\s*\+\s*chr`), chainlock.Medium, chainlock.FindingObfuscatedCode},
}

// Suspicious-behaviour patterns: capabilities worth a human look.
var behaviourPatterns = []codePattern{
	{`network-access`, regexp.MustCompile(`(?i)\b(?:https?://|fetch\s*\(|XMLHttpRequest|requests\.(?:get|post)|urllib|net\.connect|socket\.)`), chainlock.Low, chainlock.FindingSuspiciousBehavior},
	{`filesystem-write`, regexp.MustCompile(`(?i)\b(?:fs\.write|writeFileSync|open\s*\([^)]*['"]w|shutil\.|os\.remove|rimraf)`), chainlock.Low, chainlock.FindingSuspiciousBehavior},
	{`process-spawn`, regexp.MustCompile(`(?i)\b(?:fork\s*\(|execve|os\.system|popen)`), chainlock.Medium, chainlock.FindingSuspiciousBehavior},
	{`env-access`, regexp.MustCompile(`(?i)\b(?:process\.env|os\.environ|getenv)\b`), chainlock.Low, chainlock.FindingSuspiciousBehavior},
	{`crypto-use`, regexp.MustCompile(`(?i)\b(?:crypto\.|hashlib|createCipher|pbkdf2|wallet|private[_ ]?key)`), chainlock.Medium, chainlock.FindingSuspiciousBehavior},
}

// longLine is the column beyond which a line counts as suspicious padding.
const longLine = 200

var _ Stage = (*CodeStage)(nil)

// CodeStage inspects script material for obfuscation and suspicious
// capabilities. It runs only when an earlier layer flagged a high-risk
// package, and inspects exactly those packages: the root's scripts come from
// the manifest, a dependency's from its registry version document.
type CodeStage struct {
	// LLM, when configured, is asked for a deeper assessment of ambiguous
	// evidence. A nil or unconfigured client degrades to patterns only.
	LLM llm.Client
	// Registry fetches script material for non-root packages. A nil client
	// limits the stage to the manifest.
	Registry *registry.Client
}

// Name implements Stage.
func (*CodeStage) Name() string { return StageCode }

// Deadline implements Stage.
func (*CodeStage) Deadline() time.Duration { return 40 * time.Second }

// Skip implements Stage.
func (*CodeStage) Skip(sc *SharedContext) (bool, string) {
	if len(sc.HighRisk()) == 0 {
		return true, "no high-risk packages flagged"
	}
	return false, ""
}

// Run implements Stage.
func (s *CodeStage) Run(ctx context.Context, sc *SharedContext) (StageData, float64, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "analysis/CodeStage.Run")
	data := &CodeData{
		Complexity: make(map[chainlock.PackageRef]*ComplexitySummary),
	}

	ambiguous := 0
	for _, ref := range sc.HighRisk() {
		if err := ctx.Err(); err != nil {
			return data, 0.5, err
		}
		scripts := s.scriptsFor(ctx, sc, ref)
		if len(scripts) == 0 {
			continue
		}
		var material strings.Builder
		for _, script := range scripts {
			material.WriteString(script.Command)
			material.WriteByte('\n')
			for _, tbl := range [][]codePattern{obfuscationPatterns, behaviourPatterns} {
				for _, p := range tbl {
					if !p.re.MatchString(script.Command) {
						continue
					}
					sev := p.severity
					if script.LifecycleSensitive {
						sev = sev.Promote()
					}
					if p.family == chainlock.FindingObfuscatedCode {
						sc.MarkHighRisk(ref, "obfuscation evidence in "+script.Hook)
					}
					if sev == chainlock.Medium {
						ambiguous++
					}
					data.Findings = append(data.Findings, chainlock.Finding{
						Package:    ref,
						Type:       p.family,
						Severity:   sev,
						Confidence: 0.7,
						Evidence: []string{
							fmt.Sprintf("hook %q: %s", script.Hook, firstLine(script.Command)),
							"pattern " + p.id,
						},
						Source: "code_analysis",
						Method: chainlock.AgentBased,
					})
				}
			}
		}
		data.Complexity[ref] = summarize(material.String())
	}

	conf := 0.85
	if ambiguous > 0 && s.LLM != nil {
		if verdict, err := s.assess(ctx, sc, data); err == nil {
			data.Assessment = verdict
			conf = 0.9
		} else if !errors.Is(err, llm.ErrUnavailable) {
			zlog.Warn(ctx).Err(err).Msg("assessment request failed")
		}
	}
	zlog.Info(ctx).
		Int("packages", len(data.Complexity)).
		Int("findings", len(data.Findings)).
		Msg("code stage done")
	return data, conf, nil
}

// scriptsFor returns the script material for ref: the manifest's scripts for
// the root package, the registry version document's for everything else. A
// package whose material cannot be fetched contributes nothing.
func (s *CodeStage) scriptsFor(ctx context.Context, sc *SharedContext, ref chainlock.PackageRef) []ecosystem.Script {
	if sc.Manifest != nil && ref == sc.Manifest.Root {
		return sc.Manifest.Scripts
	}
	if s.Registry == nil {
		return nil
	}
	md, err := s.Registry.FetchMetadata(ctx, ref)
	if err != nil {
		zlog.Debug(ctx).Err(err).Str("package", ref.String()).Msg("metadata fetch failed")
		return nil
	}
	h, err := ecosystem.Get(ref.Ecosystem)
	if err != nil {
		return nil
	}
	return h.Scripts(md.Scripts)
}

// assess asks the LLM for a free-text read of the ambiguous evidence.
func (s *CodeStage) assess(ctx context.Context, sc *SharedContext, data *CodeData) (string, error) {
	var b strings.Builder
	b.WriteString("Assess whether the following package scripts are malicious. Answer in at most three sentences.\n")
	for _, f := range data.Findings {
		for _, e := range f.Evidence {
			b.WriteString(e)
			b.WriteByte('\n')
		}
	}
	return s.LLM.Complete(ctx, &llm.Request{
		System:    "You are a supply-chain security analyst.",
		Prompt:    b.String(),
		MaxTokens: 300,
	})
}

// summarize computes the complexity counters over a blob of script text.
func summarize(src string) *ComplexitySummary {
	out := &ComplexitySummary{}
	depth, maxDepth, branches := 0, 0, 0
	for _, line := range strings.Split(src, "\n") {
		t := strings.TrimSpace(line)
		if t == "" {
			continue
		}
		out.LOC++
		if len(line) > longLine {
			out.LongLines++
		}
		for _, r := range line {
			switch r {
			case '{', '(':
				depth++
				if depth > maxDepth {
					maxDepth = depth
				}
			case '}', ')':
				if depth > 0 {
					depth--
				}
			}
		}
		for _, kw := range []string{"if ", "if(", "for ", "for(", "while ", "while(", "case ", "&&", "||"} {
			branches += strings.Count(line, kw)
		}
	}
	out.MaxNesting = maxDepth
	if out.LOC > 0 {
		out.FlowDensity = float64(branches) / float64(out.LOC)
	}
	return out
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i != -1 {
		s = s[:i]
	}
	if len(s) > longLine {
		s = s[:longLine]
	}
	return s
}
