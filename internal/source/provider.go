// Package source materializes scan workspaces from git repositories or
// uploaded archives and sanitizes them before analysis.
package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/SuryaSriramD/CodeAgentTool/internal/config"
)

// Kind identifies where source code comes from.
type Kind string

const (
	KindGit     Kind = "git"
	KindArchive Kind = "archive"
)

// Spec describes the source of one job.
type Spec struct {
	Kind   Kind
	URL    string
	Ref    string
	Commit string
	// Archive holds uploaded zip bytes for KindArchive.
	Archive []byte
}

// Workspace is a materialized source tree owned by one job.
type Workspace struct {
	Path string
	// Commit is the resolved commit for git sources, if known.
	Commit string
}

// FetchError reports a failure to materialize a workspace.
type FetchError struct {
	Op  string
	Err error
}

func (e *FetchError) Error() string {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return fmt.Sprintf("%s timed out", e.Op)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Provider materializes workspaces under a storage root.
type Provider interface {
	Materialize(ctx context.Context, spec Spec, jobID string) (Workspace, error)
	Cleanup(jobID string) error
}

// Fetcher is the Provider backed by go-git and archive extraction.
type Fetcher struct {
	root         string
	cloneTimeout time.Duration
	allowList    func() []string
	git          []config.GitHubConfig
	gitlab       []config.GitLabConfig
	resolver     *Resolver
}

// NewFetcher returns a Fetcher writing workspaces under root. allowList is
// consulted on every git fetch so live settings changes take effect.
func NewFetcher(root string, cfg *config.Config, allowList func() []string) *Fetcher {
	f := &Fetcher{
		root:         root,
		cloneTimeout: cfg.Fetch.CloneTimeout,
		allowList:    allowList,
		git:          cfg.Git.GitHub,
		gitlab:       cfg.Git.GitLab,
	}
	if cfg.Fetch.ResolveRefs {
		f.resolver = NewResolver(cfg.Git)
	}
	return f
}

// WorkspacePath is where jobID's workspace lives.
func (f *Fetcher) WorkspacePath(jobID string) string {
	return filepath.Join(f.root, jobID)
}

// Materialize fetches spec into the job's workspace. On failure the
// partially written workspace is removed and a *FetchError returned.
func (f *Fetcher) Materialize(ctx context.Context, spec Spec, jobID string) (Workspace, error) {
	dest := f.WorkspacePath(jobID)
	if err := os.MkdirAll(f.root, 0o750); err != nil {
		return Workspace{}, &FetchError{Op: "creating workspace", Err: err}
	}

	var (
		ws  Workspace
		err error
	)
	switch spec.Kind {
	case KindGit:
		ws, err = f.fetchGit(ctx, spec, dest)
	case KindArchive:
		ws, err = ExtractZip(spec.Archive, dest)
	default:
		err = &FetchError{Op: "materializing source", Err: fmt.Errorf("unknown source kind %q", spec.Kind)}
	}
	if err != nil {
		if rmErr := os.RemoveAll(dest); rmErr != nil {
			slog.Warn("Failed to clean up workspace", "path", dest, "error", rmErr)
		}
		return Workspace{}, err
	}
	return ws, nil
}

// Cleanup removes jobID's workspace. Missing workspaces are not an error.
func (f *Fetcher) Cleanup(jobID string) error {
	if jobID == "" || strings.ContainsAny(jobID, `/\`) {
		return fmt.Errorf("invalid job id %q", jobID)
	}
	return os.RemoveAll(f.WorkspacePath(jobID))
}

// CheckAllowed verifies that url starts with one of the allowed prefixes.
func CheckAllowed(url string, allowList []string) error {
	for _, prefix := range allowList {
		if prefix != "" && strings.HasPrefix(url, prefix) {
			return nil
		}
	}
	return &FetchError{Op: "validating URL", Err: fmt.Errorf("%s is not in the allow list", url)}
}

func (f *Fetcher) tokenFor(url string) string {
	lower := strings.ToLower(url)
	for _, g := range f.git {
		host := g.Host
		if host == "" {
			host = "github.com"
		}
		if g.Token != "" && strings.Contains(lower, host) {
			return g.Token
		}
	}
	for _, g := range f.gitlab {
		host := g.Host
		if host == "" {
			host = "gitlab.com"
		}
		if g.Token != "" && strings.Contains(lower, host) {
			return g.Token
		}
	}
	return ""
}
