package pypi

import (
	"regexp"

	"github.com/chainlock/chainlock"
	"github.com/chainlock/chainlock/ecosystem"
)

// patterns is the install-script pattern table for PyPI. The material
// matched is setup.py source and cmdclass bodies.
var patterns = []ecosystem.ScriptPattern{
	{
		ID:                     "pypi-rce-pipe-shell",
		Pattern:                regexp.MustCompile(`(?i)\b(?:curl|wget)\b[^|;&]*\|\s*(?:ba|z|da)?sh\b`),
		Severity:               chainlock.Critical,
		AttackFamily:           "remote_code_execution",
		LifecycleHookSensitive: true,
	},
	{
		ID:                     "pypi-rce-urlopen-exec",
		Pattern:                regexp.MustCompile(`(?s)(?:urlopen|requests\.get|urlretrieve)\s*\(.*?(?:exec|eval|os\.system|subprocess)`),
		Severity:               chainlock.Critical,
		AttackFamily:           "remote_code_execution",
		LifecycleHookSensitive: true,
	},
	{
		ID:                     "pypi-exfil-post",
		Pattern:                regexp.MustCompile(`requests\.post\s*\(|urllib\.request\.Request\s*\([^)]*data\s*=`),
		Severity:               chainlock.High,
		AttackFamily:           "data_exfiltration",
		LifecycleHookSensitive: true,
	},
	{
		ID:                     "pypi-credential-paths",
		Pattern:                regexp.MustCompile(`(?:\.pypirc|\.aws/credentials|\.ssh/id_[a-z0-9]+|\.netrc|\.docker/config\.json)`),
		Severity:               chainlock.Critical,
		AttackFamily:           "credential_theft",
		LifecycleHookSensitive: true,
	},
	{
		ID:                     "pypi-reverse-shell",
		Pattern:                regexp.MustCompile(`(?:socket\.socket\s*\([^)]*\).*(?:dup2|/bin/sh)|pty\.spawn\s*\(|/dev/tcp/)`),
		Severity:               chainlock.Critical,
		AttackFamily:           "reverse_shell",
		LifecycleHookSensitive: true,
	},
	{
		ID:                     "pypi-crypto-mining",
		Pattern:                regexp.MustCompile(`(?i)(?:xmrig|minerd|stratum\+tcp://|cryptonight)`),
		Severity:               chainlock.High,
		AttackFamily:           "crypto_mining",
		LifecycleHookSensitive: false,
	},
	{
		ID:                     "pypi-obfuscated-exec",
		Pattern:                regexp.MustCompile(`(?:exec\s*\(\s*(?:base64\.b64decode|codecs\.decode|bytes\.fromhex)|eval\s*\(\s*compile|marshal\.loads|zlib\.decompress\s*\(\s*base64)`),
		Severity:               chainlock.High,
		AttackFamily:           "obfuscation",
		LifecycleHookSensitive: true,
	},
	{
		ID:                     "pypi-env-harvest",
		Pattern:                regexp.MustCompile(`(?:dict\s*\(\s*os\.environ\s*\)|os\.environ\.items\s*\(\)|json\.dumps\s*\([^)]*os\.environ)`),
		Severity:               chainlock.High,
		AttackFamily:           "env_harvesting",
		LifecycleHookSensitive: true,
	},
	{
		ID:                     "pypi-file-tamper",
		Pattern:                regexp.MustCompile(`(?:open\s*\(\s*['"]/etc/|os\.chmod\s*\([^)]*0o?777|shutil\.copy\s*\([^)]*/etc/)`),
		Severity:               chainlock.Medium,
		AttackFamily:           "file_tampering",
		LifecycleHookSensitive: false,
	},
	{
		ID:                     "pypi-persistence",
		Pattern:                regexp.MustCompile(`(?:crontab|\.bashrc|systemd|LaunchAgents|HKEY_CURRENT_USER.*Run)`),
		Severity:               chainlock.High,
		AttackFamily:           "persistence",
		LifecycleHookSensitive: true,
	},
	{
		ID:                     "pypi-network-recon",
		Pattern:                regexp.MustCompile(`(?:socket\.gethostbyname_ex|netifaces|psutil\.net_connections)`),
		Severity:               chainlock.Medium,
		AttackFamily:           "network_recon",
		LifecycleHookSensitive: false,
	},
	{
		ID:                     "pypi-priv-escalation",
		Pattern:                regexp.MustCompile(`(?:os\.setuid\s*\(|sudo\s|ctypes\.windll)`),
		Severity:               chainlock.Medium,
		AttackFamily:           "privilege_escalation",
		LifecycleHookSensitive: true,
	},
	{
		ID:                     "pypi-delayed-execution",
		Pattern:                regexp.MustCompile(`(?:time\.sleep\s*\(\s*\d{3,}|datetime\.(?:date\.today|datetime\.now)\s*\(\s*\)\s*[<>])`),
		Severity:               chainlock.High,
		AttackFamily:           "delayed_execution",
		LifecycleHookSensitive: true,
	},
	{
		ID:                     "pypi-clipboard-hijack",
		Pattern:                regexp.MustCompile(`(?:pyperclip|clipboard\.paste|win32clipboard)`),
		Severity:               chainlock.Medium,
		AttackFamily:           "clipboard_hijack",
		LifecycleHookSensitive: false,
	},
	{
		ID:                     "pypi-destructive",
		Pattern:                regexp.MustCompile(`(?:shutil\.rmtree\s*\(\s*['"](?:/|~)|os\.remove\s*\(\s*['"]/etc/|rm\s+-[a-z]*rf?[a-z]*\s+/)`),
		Severity:               chainlock.Critical,
		AttackFamily:           "destructive",
		LifecycleHookSensitive: false,
	},
}

// ScriptPatterns implements ecosystem.Handler.
func (*Handler) ScriptPatterns() []ecosystem.ScriptPattern {
	return patterns
}
