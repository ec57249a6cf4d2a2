package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	gogit "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
)

// fetchGit shallow-clones spec.URL into dest, checks out the pinned commit
// when there is one, and strips the .git directory.
func (f *Fetcher) fetchGit(ctx context.Context, spec Spec, dest string) (Workspace, error) {
	var allow []string
	if f.allowList != nil {
		allow = f.allowList()
	}
	if err := CheckAllowed(spec.URL, allow); err != nil {
		return Workspace{}, err
	}

	if f.cloneTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cloneTimeout)
		defer cancel()
	}

	var auth transport.AuthMethod
	if token := f.tokenFor(spec.URL); token != "" {
		auth = &githttp.BasicAuth{Username: "codeagent", Password: token}
	}

	commit, err := f.pinCommit(ctx, spec)
	if err != nil {
		return Workspace{}, err
	}

	slog.Info("Cloning repository", "url", spec.URL, "ref", spec.Ref, "commit", commit, "dest", dest)
	repo, err := cloneRef(ctx, spec.URL, spec.Ref, dest, auth)
	if err != nil {
		return Workspace{}, &FetchError{Op: "git clone", Err: err}
	}

	if commit != "" {
		if err := checkoutCommit(ctx, repo, commit, auth); err != nil {
			return Workspace{}, &FetchError{Op: "git checkout " + commit, Err: err}
		}
	}

	head, err := repo.Head()
	if err != nil {
		return Workspace{}, &FetchError{Op: "resolving HEAD", Err: err}
	}

	if err := os.RemoveAll(filepath.Join(dest, ".git")); err != nil {
		slog.Warn("Failed to remove .git directory", "path", dest, "error", err)
	}

	return Workspace{Path: dest, Commit: head.Hash().String()}, nil
}

// pinCommit returns the commit to check out after cloning: spec.Commit when
// set, otherwise the SHA the hosting API reports for spec.Ref. An empty
// result leaves the clone at the tip of the ref.
func (f *Fetcher) pinCommit(ctx context.Context, spec Spec) (string, error) {
	if spec.Commit != "" || f.resolver == nil {
		return spec.Commit, nil
	}
	sha, err := f.resolver.Resolve(ctx, spec.URL, spec.Ref)
	switch {
	case errors.Is(err, ErrRefNotFound):
		return "", &FetchError{Op: "resolving ref " + spec.Ref, Err: err}
	case err != nil:
		slog.Debug("Ref resolution unavailable", "url", spec.URL, "error", err)
		return "", nil
	}
	slog.Debug("Resolved ref via hosting API", "url", spec.URL, "ref", spec.Ref, "commit", sha)
	return sha, nil
}

// cloneRef clones ref as a branch, falling back to a tag of the same name.
func cloneRef(ctx context.Context, url, ref, dest string, auth transport.AuthMethod) (*gogit.Repository, error) {
	opts := &gogit.CloneOptions{
		URL:   url,
		Depth: 1,
		Auth:  auth,
	}
	if ref == "" {
		return gogit.PlainCloneContext(ctx, dest, false, opts)
	}

	opts.SingleBranch = true
	opts.ReferenceName = plumbing.NewBranchReferenceName(ref)
	repo, err := gogit.PlainCloneContext(ctx, dest, false, opts)
	if err == nil {
		return repo, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	slog.Debug("Branch clone failed, retrying as tag", "ref", ref, "error", err)
	if rmErr := os.RemoveAll(dest); rmErr != nil {
		return nil, rmErr
	}
	opts.ReferenceName = plumbing.NewTagReferenceName(ref)
	repo, tagErr := gogit.PlainCloneContext(ctx, dest, false, opts)
	if tagErr != nil {
		return nil, fmt.Errorf("ref %q not found as branch (%v) or tag: %w", ref, err, tagErr)
	}
	return repo, nil
}

// checkoutCommit fetches a single commit into a shallow clone and checks it out.
func checkoutCommit(ctx context.Context, repo *gogit.Repository, commit string, auth transport.AuthMethod) error {
	hash := plumbing.NewHash(commit)
	if _, err := repo.CommitObject(hash); err != nil {
		err := repo.FetchContext(ctx, &gogit.FetchOptions{
			RemoteName: gogit.DefaultRemoteName,
			RefSpecs:   []gitconfig.RefSpec{gitconfig.RefSpec(commit + ":refs/heads/codeagent-scan")},
			Depth:      1,
			Auth:       auth,
		})
		if err != nil && !errors.Is(err, gogit.NoErrAlreadyUpToDate) {
			return fmt.Errorf("fetching commit: %w", err)
		}
	}

	wt, err := repo.Worktree()
	if err != nil {
		return err
	}
	return wt.Checkout(&gogit.CheckoutOptions{Hash: hash, Force: true})
}
