// Package repo introspects the git repository a pipeline is running
// against: the commit sha, branch, remote, commit message, and the set
// of files changed relative to a target ref.
package repo

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path"
	"strings"

	"github.com/go-git/go-git/v5"
)

// SetupError indicates the repo could not be introspected: the
// directory is not a git repo, it has no commits, or the configured
// remote does not exist. Not retried.
type SetupError struct {
	Reason string
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("repo setup: %s", e.Reason)
}

// Info is a snapshot of the repo's identity at the moment FromEnv ran.
type Info struct {
	Commit        string
	Branch        string
	Remote        RemoteInfo
	CommitMessage string

	root string
}

// RemoteInfo breaks a git remote URL down into its host, owner and
// repository name. Both ssh and https remote forms are supported:
//
//	ssh://git@example.com:owner/repo.git
//	git@example.com:owner/repo.git
//	https://example.com/owner/repo.git
type RemoteInfo struct {
	Host     string
	Owner    string
	Repo     string
	Original string
}

// ParseRemote parses a git remote URL into a RemoteInfo.
func ParseRemote(remote string) (RemoteInfo, error) {
	original := remote

	isSSHish := strings.HasSuffix(remote, ".git") &&
		strings.Contains(remote, "@") &&
		(strings.HasPrefix(remote, "ssh://") ||
			strings.HasPrefix(remote, "ssh+git://") ||
			!strings.Contains(remote, "://"))

	if isSSHish {
		_, after, ok := strings.Cut(remote, "@")
		if !ok {
			return RemoteInfo{}, &SetupError{Reason: fmt.Sprintf("malformed ssh remote %q", original)}
		}
		host, p, ok := strings.Cut(after, ":")
		if !ok {
			return RemoteInfo{}, &SetupError{Reason: fmt.Sprintf("malformed ssh remote %q", original)}
		}
		owner, repoName, ok := strings.Cut(p, "/")
		if !ok {
			return RemoteInfo{}, &SetupError{Reason: fmt.Sprintf("malformed ssh remote %q", original)}
		}
		return RemoteInfo{
			Host:     host,
			Owner:    owner,
			Repo:     strings.TrimSuffix(repoName, ".git"),
			Original: original,
		}, nil
	}

	// https:// or http://
	rest := remote
	for _, prefix := range []string{"https://", "http://"} {
		if strings.HasPrefix(rest, prefix) {
			rest = strings.TrimPrefix(rest, prefix)
			break
		}
	}
	host, urlPath, ok := strings.Cut(rest, "/")
	if !ok {
		return RemoteInfo{}, &SetupError{Reason: fmt.Sprintf("malformed remote %q", original)}
	}
	parts := strings.Split(strings.Trim(urlPath, "/"), "/")
	if len(parts) < 2 {
		return RemoteInfo{}, &SetupError{Reason: fmt.Sprintf("remote %q has no owner/repo path", original)}
	}
	return RemoteInfo{
		Host:     host,
		Owner:    parts[0],
		Repo:     strings.TrimSuffix(path.Base(parts[1]), ".git"),
		Original: original,
	}, nil
}

// FromEnv opens the repository at root (the current directory if root
// is empty) and reads its HEAD, the given remote's URL, and the HEAD
// commit's message.
func FromEnv(ctx context.Context, root, remoteName string) (*Info, error) {
	if root == "" {
		var err error
		root, err = os.Getwd()
		if err != nil {
			return nil, &SetupError{Reason: fmt.Sprintf("resolve working directory: %s", err)}
		}
	}
	if remoteName == "" {
		remoteName = "origin"
	}

	r, err := git.PlainOpenWithOptions(root, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, &SetupError{Reason: fmt.Sprintf("open git repo at %s: %s", root, err)}
	}

	head, err := r.Head()
	if err != nil {
		return nil, &SetupError{Reason: fmt.Sprintf("resolve HEAD: %s", err)}
	}

	commit, err := r.CommitObject(head.Hash())
	if err != nil {
		return nil, &SetupError{Reason: fmt.Sprintf("resolve HEAD commit: %s", err)}
	}

	remote, err := r.Remote(remoteName)
	if err != nil {
		return nil, &SetupError{Reason: fmt.Sprintf("resolve remote %q: %s", remoteName, err)}
	}
	urls := remote.Config().URLs
	if len(urls) == 0 {
		return nil, &SetupError{Reason: fmt.Sprintf("remote %q has no URLs", remoteName)}
	}
	ri, err := ParseRemote(urls[0])
	if err != nil {
		return nil, err
	}

	branch := ""
	if head.Name().IsBranch() {
		branch = head.Name().Short()
	} else {
		branch = head.Hash().String()
	}

	return &Info{
		Commit:        head.Hash().String(),
		Branch:        branch,
		Remote:        ri,
		CommitMessage: strings.TrimSpace(commit.Message),
		root:          root,
	}, nil
}

// SHA satisfies pipeline.RepoHandle.
func (i *Info) SHA() string { return i.Commit }

// FilesChanged returns the paths that differ between HEAD and target
// using git's three-dot range semantics (changes on HEAD since the
// merge-base with target). go-git has no equivalent of `git diff
// A...B --name-only`, so this shells out specifically for it.
func (i *Info) FilesChanged(ctx context.Context, target string) ([]string, error) {
	rng := fmt.Sprintf("%s...%s", target, i.Commit)
	cmd := exec.CommandContext(ctx, "git", "diff", "--name-only", rng)
	cmd.Dir = i.root
	out, err := cmd.Output()
	if err != nil {
		return nil, &SetupError{Reason: fmt.Sprintf("git diff --name-only %s: %s", rng, err)}
	}
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	files := make([]string, 0, len(lines))
	for _, l := range lines {
		if l != "" {
			files = append(files, l)
		}
	}
	return files, nil
}
