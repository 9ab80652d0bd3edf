// Package scm clones remote repositories for analysis.
//
// Cloning is delegated to the git binary as a child process. The process is
// bound to the run's context, so cancelling the run kills an in-flight
// clone.
package scm

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"strings"

	"github.com/quay/zlog"

	"github.com/chainlock/chainlock"
)

// TokenEnv is the environment variable consulted for an authentication
// token when none is passed explicitly.
const TokenEnv = "CHAINLOCK_SCM_TOKEN"

// IsURL reports whether target looks like a remote repository rather than a
// local path.
func IsURL(target string) bool {
	u, err := url.Parse(target)
	if err != nil {
		return false
	}
	switch u.Scheme {
	case "http", "https", "git", "ssh":
		return true
	}
	return false
}

// Clone performs a shallow clone of repo into dir. The returned path is the
// checkout root. An empty token falls back to TokenEnv.
func Clone(ctx context.Context, repo, dir, token string) (string, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "scm/Clone")
	if token == "" {
		token = os.Getenv(TokenEnv)
	}
	u, err := url.Parse(repo)
	if err != nil {
		return "", &chainlock.Error{Op: "scm.Clone", Kind: chainlock.ErrInputValidation, Inner: err}
	}
	if token != "" && (u.Scheme == "http" || u.Scheme == "https") {
		u.User = url.UserPassword("x-access-token", token)
	}

	dst, err := os.MkdirTemp(dir, "checkout.")
	if err != nil {
		return "", err
	}
	cmd := exec.CommandContext(ctx, "git", "clone", "--depth", "1", "--quiet", u.String(), dst)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	out, err := cmd.CombinedOutput()
	if err != nil {
		os.RemoveAll(dst)
		if ctx.Err() != nil {
			return "", &chainlock.Error{Op: "scm.Clone", Kind: chainlock.ErrCancelled, Inner: ctx.Err()}
		}
		return "", &chainlock.Error{
			Op:      "scm.Clone",
			Kind:    chainlock.ErrNetworkTransient,
			Message: fmt.Sprintf("git clone failed: %s", scrub(string(out), token)),
			Inner:   err,
		}
	}
	zlog.Info(ctx).Str("repository", repo).Str("path", dst).Msg("clone complete")
	return dst, nil
}

// scrub keeps tokens out of error messages and logs.
func scrub(s, token string) string {
	s = strings.TrimSpace(s)
	if token != "" {
		s = strings.ReplaceAll(s, token, "[redacted]")
	}
	if i := strings.IndexByte(s, '\n'); i != -1 {
		s = s[:i]
	}
	return s
}
