package npm

import (
	"regexp"

	"github.com/chainlock/chainlock"
	"github.com/chainlock/chainlock/ecosystem"
)

// patterns is the install-script pattern table for npm.
//
// One entry per attack family; severity is before any lifecycle-hook
// promotion.
var patterns = []ecosystem.ScriptPattern{
	{
		ID:                     "npm-rce-pipe-shell",
		Pattern:                regexp.MustCompile(`(?i)\b(?:curl|wget)\b[^|;&]*\|\s*(?:ba|z|da)?sh\b`),
		Severity:               chainlock.Critical,
		AttackFamily:           "remote_code_execution",
		LifecycleHookSensitive: true,
	},
	{
		ID:                     "npm-rce-node-http-eval",
		Pattern:                regexp.MustCompile(`node\s+-e\s+.*(?:http\.get|fetch\(|require\(['"]https?['"]\)).*eval`),
		Severity:               chainlock.Critical,
		AttackFamily:           "remote_code_execution",
		LifecycleHookSensitive: true,
	},
	{
		ID:                     "npm-exfil-post",
		Pattern:                regexp.MustCompile(`(?i)\b(?:curl|wget)\b.*(?:-d|--data|--post-data)\s`),
		Severity:               chainlock.High,
		AttackFamily:           "data_exfiltration",
		LifecycleHookSensitive: true,
	},
	{
		ID:                     "npm-credential-paths",
		Pattern:                regexp.MustCompile(`(?:\.npmrc|\.aws/credentials|\.ssh/id_[a-z0-9]+|\.docker/config\.json|\.git-credentials)`),
		Severity:               chainlock.Critical,
		AttackFamily:           "credential_theft",
		LifecycleHookSensitive: true,
	},
	{
		ID:                     "npm-reverse-shell",
		Pattern:                regexp.MustCompile(`(?:/dev/tcp/|\bnc\b[^|;&]*\s-e\s|\bbash\s+-i\s*>&)`),
		Severity:               chainlock.Critical,
		AttackFamily:           "reverse_shell",
		LifecycleHookSensitive: true,
	},
	{
		ID:                     "npm-crypto-mining",
		Pattern:                regexp.MustCompile(`(?i)(?:xmrig|minerd|stratum\+tcp://|coinhive)`),
		Severity:               chainlock.High,
		AttackFamily:           "crypto_mining",
		LifecycleHookSensitive: false,
	},
	{
		ID:                     "npm-obfuscated-eval",
		Pattern:                regexp.MustCompile(`(?:base64\s+(?:-d|--decode)[^|;&]*\|\s*(?:ba)?sh|eval\s*\(\s*atob|Buffer\.from\([^)]+,\s*['"]base64['"]\)|String\.fromCharCode)`),
		Severity:               chainlock.High,
		AttackFamily:           "obfuscation",
		LifecycleHookSensitive: true,
	},
	{
		ID:                     "npm-env-harvest",
		Pattern:                regexp.MustCompile(`(?:\bprintenv\b|\benv\b\s*[|>]|JSON\.stringify\(\s*process\.env\s*\))`),
		Severity:               chainlock.High,
		AttackFamily:           "env_harvesting",
		LifecycleHookSensitive: true,
	},
	{
		ID:                     "npm-file-tamper",
		Pattern:                regexp.MustCompile(`(?:>\s*/etc/|chmod\s+[0-7]*77[0-7]?\s|tee\s+/etc/)`),
		Severity:               chainlock.Medium,
		AttackFamily:           "file_tampering",
		LifecycleHookSensitive: false,
	},
	{
		ID:                     "npm-persistence",
		Pattern:                regexp.MustCompile(`(?:crontab\s|>>\s*~?/?\.(?:bashrc|profile|zshrc)|systemctl\s+enable|launchctl\s+load)`),
		Severity:               chainlock.High,
		AttackFamily:           "persistence",
		LifecycleHookSensitive: true,
	},
	{
		ID:                     "npm-network-recon",
		Pattern:                regexp.MustCompile(`(?:\bnmap\b|\barp\s+-a\b|\bifconfig\b.*\||\bip\s+addr\b.*\|)`),
		Severity:               chainlock.Medium,
		AttackFamily:           "network_recon",
		LifecycleHookSensitive: false,
	},
	{
		ID:                     "npm-priv-escalation",
		Pattern:                regexp.MustCompile(`(?:\bsudo\s|chmod\s+[ug]\+s\b|\bsetuid\b)`),
		Severity:               chainlock.Medium,
		AttackFamily:           "privilege_escalation",
		LifecycleHookSensitive: true,
	},
	{
		ID:                     "npm-delayed-execution",
		Pattern:                regexp.MustCompile(`(?:setTimeout\s*\([^)]*(?:\d{6,}|Date)|sleep\s+\d{3,}\s*(?:&&|;).*(?:curl|wget|node))`),
		Severity:               chainlock.High,
		AttackFamily:           "delayed_execution",
		LifecycleHookSensitive: true,
	},
	{
		ID:                     "npm-clipboard-hijack",
		Pattern:                regexp.MustCompile(`(?:\bxclip\b|\bpbpaste\b|\bclipboardy\b|navigator\.clipboard)`),
		Severity:               chainlock.Medium,
		AttackFamily:           "clipboard_hijack",
		LifecycleHookSensitive: false,
	},
	{
		ID:                     "npm-destructive",
		Pattern:                regexp.MustCompile(`(?:rm\s+-[a-z]*rf?[a-z]*\s+(?:/|\$HOME|~)(?:\s|$)|\bmkfs\b|\bdd\b[^|;&]*of=/dev/)`),
		Severity:               chainlock.Critical,
		AttackFamily:           "destructive",
		LifecycleHookSensitive: false,
	},
}

// ScriptPatterns implements ecosystem.Handler.
func (*Handler) ScriptPatterns() []ecosystem.ScriptPattern {
	return patterns
}
