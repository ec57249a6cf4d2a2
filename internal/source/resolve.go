package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	gogithub "github.com/google/go-github/v68/github"
	gitlab "gitlab.com/gitlab-org/api/client-go"
	"golang.org/x/oauth2"

	"github.com/SuryaSriramD/CodeAgentTool/internal/config"
)

// ErrRefNotFound is returned when the hosting API knows the repository but
// not the requested ref.
var ErrRefNotFound = errors.New("ref not found")

// Resolver looks refs up through the GitHub and GitLab APIs so bad refs
// fail before a clone is attempted.
type Resolver struct {
	github map[string]*gogithub.Client
	gitlab map[string]*gitlab.Client
}

// NewResolver builds API clients for every configured host.
func NewResolver(cfg config.GitConfig) *Resolver {
	r := &Resolver{
		github: make(map[string]*gogithub.Client),
		gitlab: make(map[string]*gitlab.Client),
	}
	for _, g := range cfg.GitHub {
		host := g.Host
		if host == "" {
			host = "github.com"
		}
		var hc *http.Client
		if g.Token != "" {
			hc = oauth2.NewClient(context.Background(), oauth2.StaticTokenSource(&oauth2.Token{AccessToken: g.Token}))
		}
		client := gogithub.NewClient(hc)
		if host != "github.com" {
			var err error
			client, err = client.WithEnterpriseURLs(
				fmt.Sprintf("https://%s/api/v3/", host),
				fmt.Sprintf("https://%s/api/uploads/", host),
			)
			if err != nil {
				continue
			}
		}
		r.github[host] = client
	}
	if _, ok := r.github["github.com"]; !ok {
		r.github["github.com"] = gogithub.NewClient(nil)
	}
	for _, g := range cfg.GitLab {
		host := g.Host
		if host == "" {
			host = "gitlab.com"
		}
		var opts []gitlab.ClientOptionFunc
		if host != "gitlab.com" {
			opts = append(opts, gitlab.WithBaseURL(fmt.Sprintf("https://%s/api/v4/", host)))
		}
		client, err := gitlab.NewClient(g.Token, opts...)
		if err != nil {
			continue
		}
		r.gitlab[host] = client
	}
	return r
}

// Resolve returns the commit SHA that ref points to in the repository at
// repoURL. An empty ref resolves the default branch.
func (r *Resolver) Resolve(ctx context.Context, repoURL, ref string) (string, error) {
	host, owner, name, err := splitRepoURL(repoURL)
	if err != nil {
		return "", err
	}
	if gh, ok := r.github[host]; ok {
		return resolveGitHub(ctx, gh, owner, name, ref)
	}
	if gl, ok := r.gitlab[host]; ok {
		return resolveGitLab(ctx, gl, owner+"/"+name, ref)
	}
	return "", fmt.Errorf("no API client for host %s", host)
}

func resolveGitHub(ctx context.Context, client *gogithub.Client, owner, name, ref string) (string, error) {
	if ref == "" {
		repo, _, err := client.Repositories.Get(ctx, owner, name)
		if err != nil {
			return "", fmt.Errorf("getting GitHub repo %s/%s: %w", owner, name, err)
		}
		ref = repo.GetDefaultBranch()
	}
	sha, resp, err := client.Repositories.GetCommitSHA1(ctx, owner, name, ref, "")
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusUnprocessableEntity) {
			return "", fmt.Errorf("%s/%s@%s: %w", owner, name, ref, ErrRefNotFound)
		}
		return "", fmt.Errorf("resolving %s/%s@%s: %w", owner, name, ref, err)
	}
	return sha, nil
}

func resolveGitLab(ctx context.Context, client *gitlab.Client, project, ref string) (string, error) {
	if ref == "" {
		p, _, err := client.Projects.GetProject(project, nil, gitlab.WithContext(ctx))
		if err != nil {
			return "", fmt.Errorf("getting GitLab project %s: %w", project, err)
		}
		ref = p.DefaultBranch
	}
	branch, resp, err := client.Branches.GetBranch(project, ref, gitlab.WithContext(ctx))
	if err == nil && branch.Commit != nil {
		return branch.Commit.ID, nil
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		return "", fmt.Errorf("resolving %s@%s: %w", project, ref, err)
	}
	tag, resp, err := client.Tags.GetTag(project, ref, gitlab.WithContext(ctx))
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return "", fmt.Errorf("%s@%s: %w", project, ref, ErrRefNotFound)
		}
		return "", fmt.Errorf("resolving %s@%s: %w", project, ref, err)
	}
	if tag.Commit == nil {
		return "", fmt.Errorf("%s@%s: %w", project, ref, ErrRefNotFound)
	}
	return tag.Commit.ID, nil
}

// splitRepoURL extracts host, owner and repository name from an HTTPS git URL.
func splitRepoURL(repoURL string) (host, owner, name string, err error) {
	u, err := url.Parse(repoURL)
	if err != nil {
		return "", "", "", fmt.Errorf("parsing %q: %w", repoURL, err)
	}
	parts := strings.Split(strings.Trim(strings.TrimSuffix(u.Path, ".git"), "/"), "/")
	if u.Host == "" || len(parts) < 2 {
		return "", "", "", fmt.Errorf("cannot determine owner/repo from %q", repoURL)
	}
	name = parts[len(parts)-1]
	owner = strings.Join(parts[:len(parts)-1], "/")
	return strings.ToLower(u.Host), owner, name, nil
}
