// Package git checks out upstream repositories with the git command and
// reads commit metadata with go-git.
package git

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	gogit "github.com/go-git/go-git/v5"
)

// TokenEnv carries the HTTPS token to the credential helper
const TokenEnv = "RPMSNAP_GIT_TOKEN"

// Client provides the repository operations used by git sources
type Client interface {
	// Sync clones url into dir, or fetches if dir is already a clone, and
	// checks out ref detached. It returns the commit hash.
	Sync(ctx context.Context, url, ref, dir string) (string, error)
	// Head returns the commit checked out in repoDir
	Head(repoDir string) (Commit, error)
	// Archive writes a gzipped tarball of HEAD with every path under prefix
	Archive(ctx context.Context, repoDir, prefix, destFile string) error
}

// Commit identifies a checked out commit
type Commit struct {
	Hash string
	// Time is the committer time in UTC
	Time time.Time
}

// ShellClient runs the git binary
type ShellClient struct {
	sshKeyFile     string
	httpsTokenFile string
}

// NewShellClient returns a client authenticating with an SSH key for ssh
// remotes and a token file for https remotes. Both may be empty.
func NewShellClient(sshKeyFile, httpsTokenFile string) *ShellClient {
	return &ShellClient{sshKeyFile: sshKeyFile, httpsTokenFile: httpsTokenFile}
}

func (c *ShellClient) Sync(ctx context.Context, url, ref, dir string) (string, error) {
	if ref == "" {
		ref = "HEAD"
	}

	if _, err := os.Stat(filepath.Join(dir, ".git")); err != nil {
		if err := os.MkdirAll(filepath.Dir(dir), 0755); err != nil {
			return "", fmt.Errorf("failed to create parent directory: %w", err)
		}
		if _, err := c.run(ctx, "", url, "clone", "--no-checkout", url, dir); err != nil {
			return "", fmt.Errorf("git clone failed: %w", err)
		}
	} else {
		if _, err := c.run(ctx, dir, url, "fetch", "--tags", "--force", "--prune", "origin"); err != nil {
			return "", fmt.Errorf("git fetch failed: %w", err)
		}
	}

	hash, err := c.resolve(ctx, dir, ref)
	if err != nil {
		return "", err
	}
	if _, err := c.run(ctx, dir, "", "checkout", "--force", "--detach", hash); err != nil {
		return "", fmt.Errorf("git checkout of %s failed: %w", hash, err)
	}
	return hash, nil
}

// resolve turns ref into a commit hash. Remote branches win over local
// names so a fetch always moves branch checkouts forward.
func (c *ShellClient) resolve(ctx context.Context, dir, ref string) (string, error) {
	for _, candidate := range []string{"origin/" + ref, ref} {
		out, err := c.run(ctx, dir, "", "rev-parse", "--verify", "--quiet", candidate+"^{commit}")
		if err == nil {
			return strings.TrimSpace(out), nil
		}
	}
	return "", fmt.Errorf("ref %q not found in %s", ref, dir)
}

// Head reads the HEAD commit of repoDir
func (c *ShellClient) Head(repoDir string) (Commit, error) {
	repo, err := gogit.PlainOpen(repoDir)
	if err != nil {
		return Commit{}, fmt.Errorf("failed to open repository %s: %w", repoDir, err)
	}
	ref, err := repo.Head()
	if err != nil {
		return Commit{}, fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	obj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return Commit{}, fmt.Errorf("failed to read commit %s: %w", ref.Hash(), err)
	}
	return Commit{
		Hash: obj.Hash.String(),
		Time: obj.Committer.When.UTC(),
	}, nil
}

// Archive exports HEAD of repoDir as a .tar.gz
func (c *ShellClient) Archive(ctx context.Context, repoDir, prefix, destFile string) error {
	if err := os.MkdirAll(filepath.Dir(destFile), 0755); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}
	prefix = strings.TrimSuffix(prefix, "/") + "/"
	if _, err := c.run(ctx, repoDir, "", "archive", "--format=tar.gz", "--prefix="+prefix, "-o", destFile, "HEAD"); err != nil {
		return fmt.Errorf("git archive failed: %w", err)
	}
	return nil
}

// run executes git in dir. A non-empty remote adds the credentials matching
// its scheme. Stdout is returned; on failure the error carries stderr.
func (c *ShellClient) run(ctx context.Context, dir, remote string, args ...string) (string, error) {
	if dir != "" {
		args = append([]string{"-C", dir}, args...)
	}
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	if remote != "" {
		env, err := c.authEnv(remote)
		if err != nil {
			return "", err
		}
		cmd.Env = append(cmd.Env, env...)
	}

	var stderr strings.Builder
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return string(out), nil
}

// authEnv returns the environment that authenticates git against remote.
// The token itself never appears on the command line.
func (c *ShellClient) authEnv(remote string) ([]string, error) {
	switch {
	case c.sshKeyFile != "" && (strings.HasPrefix(remote, "git@") || strings.HasPrefix(remote, "ssh://")):
		return []string{
			"GIT_SSH_COMMAND=ssh -i " + quote(c.sshKeyFile) + " -o IdentitiesOnly=yes -o StrictHostKeyChecking=accept-new -F /dev/null",
		}, nil
	case c.httpsTokenFile != "" && strings.HasPrefix(remote, "https://"):
		data, err := os.ReadFile(c.httpsTokenFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read HTTPS token file: %w", err)
		}
		return append(configEnv(
			"credential.helper", "",
			"credential.helper", `!f() { echo username=x-access-token; echo "password=$`+TokenEnv+`"; }; f`,
		), TokenEnv+"="+strings.TrimSpace(string(data))), nil
	}
	return nil, nil
}

// configEnv encodes key/value pairs as GIT_CONFIG_* variables
func configEnv(kv ...string) []string {
	n := len(kv) / 2
	env := []string{"GIT_CONFIG_COUNT=" + strconv.Itoa(n)}
	for i := 0; i < n; i++ {
		env = append(env,
			fmt.Sprintf("GIT_CONFIG_KEY_%d=%s", i, kv[2*i]),
			fmt.Sprintf("GIT_CONFIG_VALUE_%d=%s", i, kv[2*i+1]),
		)
	}
	return env
}

// quote single-quotes s for the shell that evaluates GIT_SSH_COMMAND
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
