package gitsync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"

	"gitship/internal/logger"
)

var glog = logger.PackageLogger("gitsync")

// projectNamePattern is the set of names safe to use in remote paths,
// container names and nginx config file names.
var projectNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

// SyncError is a fatal source synchronization failure. The operator resolves
// the underlying git state manually and reruns; there is no partial recovery.
type SyncError struct {
	Op  string
	Err error
}

func (e *SyncError) Error() string { return fmt.Sprintf("source sync: %s: %v", e.Op, e.Err) }

func (e *SyncError) Unwrap() error { return e.Err }

// ProjectName derives the stable project identity from a repository URL: the
// URL's base name with exactly one trailing ".git" stripped. Repeated calls
// with the same URL always agree, so redeploy and cleanup target the same
// remote resources.
func ProjectName(repoURL string) (string, error) {
	trimmed := strings.TrimRight(repoURL, "/")
	base := trimmed
	if i := strings.LastIndexAny(trimmed, "/:"); i >= 0 {
		base = trimmed[i+1:]
	}
	base = strings.TrimSuffix(base, ".git")
	if !projectNamePattern.MatchString(base) {
		return "", fmt.Errorf("cannot derive a safe project name from %q", repoURL)
	}
	return base, nil
}

// Descriptor classifies how the project builds its containers.
type Descriptor int

const (
	DescriptorNone Descriptor = iota
	DescriptorDockerfile
	DescriptorCompose
)

var composeFiles = []string{"docker-compose.yml", "docker-compose.yaml", "compose.yml", "compose.yaml"}

// DetectDescriptor looks for a build descriptor in the checked-out tree. A
// compose file wins over a plain Dockerfile. A missing descriptor is fatal
// for the pipeline; no default descriptor is synthesized.
func DetectDescriptor(dir string) (Descriptor, string) {
	for _, name := range composeFiles {
		if fileExists(filepath.Join(dir, name)) {
			return DescriptorCompose, name
		}
	}
	if fileExists(filepath.Join(dir, "Dockerfile")) {
		return DescriptorDockerfile, "Dockerfile"
	}
	return DescriptorNone, ""
}

// Syncer maintains local working copies under a base directory
// (~/.gitship/src by default).
type Syncer struct {
	BaseDir  string
	Progress io.Writer
}

// auth returns per-operation credentials. The token is handed to the
// transport layer for this one operation; it is never written into the
// repository's stored remote URL, onto disk or into logs.
func auth(repoURL, token string) transport.AuthMethod {
	if token == "" || !strings.HasPrefix(repoURL, "https://") {
		return nil
	}
	return &githttp.BasicAuth{Username: "token", Password: token}
}

// EnsureLocalCheckout clones the repository at the requested branch, or if a
// working copy already exists fetches all refs, checks out the branch and
// fast-forwards it. Returns the working copy path.
func (s *Syncer) EnsureLocalCheckout(ctx context.Context, repoURL, branch, token, project string) (string, error) {
	dir := filepath.Join(s.BaseDir, project)

	if _, err := os.Stat(filepath.Join(dir, ".git")); os.IsNotExist(err) {
		glog.Info("Cloning %s (branch %s)", repoURL, branch)
		_, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
			URL:           repoURL,
			ReferenceName: plumbing.NewBranchReferenceName(branch),
			Auth:          auth(repoURL, token),
			Progress:      s.Progress,
		})
		if err != nil {
			return "", &SyncError{Op: "clone", Err: err}
		}
		s.logHead(dir)
		return dir, nil
	}

	glog.Info("Updating existing checkout in %s", dir)
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return "", &SyncError{Op: "open", Err: err}
	}

	err = repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: "origin",
		RefSpecs:   []config.RefSpec{"+refs/heads/*:refs/remotes/origin/*"},
		Auth:       auth(repoURL, token),
		Force:      true,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return "", &SyncError{Op: "fetch", Err: err}
	}

	wt, err := repo.Worktree()
	if err != nil {
		return "", &SyncError{Op: "worktree", Err: err}
	}

	local := plumbing.NewBranchReferenceName(branch)
	if err := wt.Checkout(&git.CheckoutOptions{Branch: local}); err != nil {
		// First deployment of this branch: create it from the remote ref.
		remote, rerr := repo.Reference(plumbing.NewRemoteReferenceName("origin", branch), true)
		if rerr != nil {
			return "", &SyncError{Op: "checkout", Err: err}
		}
		err = wt.Checkout(&git.CheckoutOptions{Branch: local, Hash: remote.Hash(), Create: true})
		if err != nil {
			return "", &SyncError{Op: "checkout", Err: err}
		}
	}

	err = wt.PullContext(ctx, &git.PullOptions{
		RemoteName:    "origin",
		ReferenceName: local,
		Auth:          auth(repoURL, token),
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return "", &SyncError{Op: "pull", Err: err}
	}

	s.logHead(dir)
	return dir, nil
}

func (s *Syncer) logHead(dir string) {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return
	}
	head, err := repo.Head()
	if err != nil {
		return
	}
	glog.Info("Checked out commit %s", head.Hash().String()[:7])
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
