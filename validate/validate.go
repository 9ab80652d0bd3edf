// Package validate runs pre-flight checks before an analysis run.
//
// Every check produces structured issues instead of failing fast, so a run's
// operator sees the full list of problems at once. Error-level issues halt
// the run before any side effects; warnings ride along as diagnostics.
package validate

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/quay/zlog"

	"github.com/chainlock/chainlock"
	"github.com/chainlock/chainlock/ecosystem"
)

// Level grades an Issue.
type Level string

const (
	LevelError   Level = "error"
	LevelWarning Level = "warning"
	LevelInfo    Level = "info"
)

// Issue is one pre-flight problem with a machine-readable code and a
// human-oriented fix hint.
type Issue struct {
	Level         Level  `json:"level"`
	Code          string `json:"code"`
	Message       string `json:"message"`
	FixSuggestion string `json:"fix_suggestion,omitempty"`
}

// Issue codes.
const (
	CodeMissingCredential = "missing_credential"
	CodeBadDirectory      = "bad_directory"
	CodeLowDiskSpace      = "low_disk_space"
	CodeBadManifest       = "bad_manifest"
	CodeNoDependencies    = "no_dependencies"
	CodeHostUnreachable   = "host_unreachable"
)

// DefaultMinFreeBytes is the free-space floor below which a warning is
// raised.
const DefaultMinFreeBytes = 256 << 20

// Config describes the run to validate.
type Config struct {
	// ManifestPath is the manifest the run will analyse.
	ManifestPath string
	// Ecosystem selects the handler used to parse the manifest.
	Ecosystem chainlock.Ecosystem
	// Dirs must exist and be writable; typically the cache and output
	// directories.
	Dirs []string
	// RequiredEnv names environment variables that must be present and
	// non-empty; a missing one is an error.
	RequiredEnv []string
	// OptionalEnv names environment variables that improve the run when
	// present; a missing one is a warning.
	OptionalEnv []string
	// Hosts are DNS names the run will contact. Unresolvable hosts are
	// warnings, since stages degrade without them.
	Hosts []string
	// MinFreeBytes overrides DefaultMinFreeBytes when positive.
	MinFreeBytes int64
}

// HasErrors reports whether any issue is error-level.
func HasErrors(issues []Issue) bool {
	for _, i := range issues {
		if i.Level == LevelError {
			return true
		}
	}
	return false
}

// Check runs every pre-flight check and returns the collected issues.
func Check(ctx context.Context, cfg *Config) []Issue {
	ctx = zlog.ContextWithValues(ctx, "component", "validate/Check")
	var out []Issue
	out = append(out, checkCredentials(cfg)...)
	out = append(out, checkDirs(cfg)...)
	out = append(out, checkManifest(ctx, cfg)...)
	out = append(out, checkHosts(ctx, cfg)...)
	zlog.Debug(ctx).
		Int("issues", len(out)).
		Bool("errors", HasErrors(out)).
		Msg("pre-flight checks done")
	return out
}

func checkCredentials(cfg *Config) []Issue {
	var out []Issue
	for _, name := range cfg.RequiredEnv {
		if os.Getenv(name) == "" {
			out = append(out, Issue{
				Level:         LevelError,
				Code:          CodeMissingCredential,
				Message:       fmt.Sprintf("required environment variable %q is not set", name),
				FixSuggestion: fmt.Sprintf("export %s before running", name),
			})
		}
	}
	for _, name := range cfg.OptionalEnv {
		if os.Getenv(name) == "" {
			out = append(out, Issue{
				Level:         LevelWarning,
				Code:          CodeMissingCredential,
				Message:       fmt.Sprintf("environment variable %q is not set; dependent stages will degrade", name),
				FixSuggestion: fmt.Sprintf("export %s to enable the full analysis", name),
			})
		}
	}
	return out
}

func checkDirs(cfg *Config) []Issue {
	min := cfg.MinFreeBytes
	if min <= 0 {
		min = DefaultMinFreeBytes
	}
	var out []Issue
	for _, dir := range cfg.Dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			out = append(out, Issue{
				Level:         LevelError,
				Code:          CodeBadDirectory,
				Message:       fmt.Sprintf("unable to create directory %q: %v", dir, err),
				FixSuggestion: "check permissions on the parent directory",
			})
			continue
		}
		probe, err := os.CreateTemp(dir, "preflight.")
		if err != nil {
			out = append(out, Issue{
				Level:         LevelError,
				Code:          CodeBadDirectory,
				Message:       fmt.Sprintf("directory %q is not writable: %v", dir, err),
				FixSuggestion: "check permissions or point the configuration at a writable path",
			})
			continue
		}
		probe.Close()
		os.Remove(probe.Name())
		if free := freeBytes(dir); free >= 0 && free < min {
			out = append(out, Issue{
				Level:         LevelWarning,
				Code:          CodeLowDiskSpace,
				Message:       fmt.Sprintf("only %d bytes free under %q", free, dir),
				FixSuggestion: "free disk space or relocate the cache directory",
			})
		}
	}
	return out
}

func checkManifest(ctx context.Context, cfg *Config) []Issue {
	if cfg.ManifestPath == "" {
		return nil
	}
	fi, err := os.Stat(cfg.ManifestPath)
	switch {
	case err != nil:
		return []Issue{{
			Level:         LevelError,
			Code:          CodeBadManifest,
			Message:       fmt.Sprintf("manifest %q: %v", cfg.ManifestPath, err),
			FixSuggestion: "check the target path",
		}}
	case fi.Size() == 0:
		return []Issue{{
			Level:         LevelError,
			Code:          CodeBadManifest,
			Message:       fmt.Sprintf("manifest %q is empty", cfg.ManifestPath),
			FixSuggestion: "point the analyser at a populated manifest",
		}}
	}
	e := cfg.Ecosystem
	if e == "" {
		detected, err := ecosystem.Detect(ctx, filepath.Dir(cfg.ManifestPath))
		if err != nil || len(detected) != 1 {
			return []Issue{{
				Level:         LevelError,
				Code:          CodeBadManifest,
				Message:       "unable to detect a single ecosystem for the target",
				FixSuggestion: "pass the ecosystem explicitly",
			}}
		}
		for d := range detected {
			e = d
		}
	}
	h, err := ecosystem.Get(e)
	if err != nil {
		return []Issue{{
			Level:   LevelError,
			Code:    CodeBadManifest,
			Message: err.Error(),
		}}
	}
	m, err := h.ParseManifest(ctx, cfg.ManifestPath)
	if err != nil {
		return []Issue{{
			Level:         LevelError,
			Code:          CodeBadManifest,
			Message:       fmt.Sprintf("manifest %q does not parse: %v", cfg.ManifestPath, err),
			FixSuggestion: "fix the manifest syntax",
		}}
	}
	if len(m.Dependencies) == 0 {
		return []Issue{{
			Level:         LevelWarning,
			Code:          CodeNoDependencies,
			Message:       fmt.Sprintf("manifest %q declares no dependencies", cfg.ManifestPath),
			FixSuggestion: "nothing to analyse; the report will be empty",
		}}
	}
	return nil
}

func checkHosts(ctx context.Context, cfg *Config) []Issue {
	var out []Issue
	for _, host := range cfg.Hosts {
		hctx, cancel := context.WithTimeout(ctx, time.Second)
		_, err := net.DefaultResolver.LookupHost(hctx, host)
		cancel()
		if err != nil {
			out = append(out, Issue{
				Level:         LevelWarning,
				Code:          CodeHostUnreachable,
				Message:       fmt.Sprintf("host %q does not resolve: %v", host, err),
				FixSuggestion: "check network connectivity; dependent stages will degrade",
			})
		}
	}
	return out
}
