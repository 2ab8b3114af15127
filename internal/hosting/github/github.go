// Package github implements hosting.Provider with the go-github client.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	gogithub "github.com/google/go-github/v82/github"

	"github.com/hangw/agentcheck/internal/hosting"
)

var _ hosting.Provider = (*Provider)(nil)

func init() {
	hosting.Register(hosting.KindGitHub, newProvider)
}

// Provider talks to the GitHub (or GitHub Enterprise) API.
type Provider struct {
	client *gogithub.Client
	owner  string
	repo   string
}

func newProvider(remoteURL string, cfg hosting.Config) (hosting.Provider, error) {
	envVar := cfg.TokenEnvVar
	if envVar == "" {
		envVar = "GITHUB_TOKEN"
	}
	token := os.Getenv(envVar)
	if token == "" {
		return nil, fmt.Errorf("%s is not set (required for GitHub API access)", envVar)
	}

	owner, repo := hosting.ParseOwnerRepo(remoteURL)
	if owner == "" || repo == "" {
		return nil, fmt.Errorf("cannot parse owner/repo from remote %q", remoteURL)
	}

	client := gogithub.NewClient(&http.Client{Transport: &bearerTransport{token: token}})
	if cfg.BaseURL != "" {
		base := strings.TrimSuffix(cfg.BaseURL, "/")
		var err error
		if client.BaseURL, err = client.BaseURL.Parse(base + "/api/v3/"); err != nil {
			return nil, fmt.Errorf("parse base URL %q: %w", cfg.BaseURL, err)
		}
		if client.UploadURL, err = client.UploadURL.Parse(base + "/api/uploads/"); err != nil {
			return nil, fmt.Errorf("parse upload URL %q: %w", cfg.BaseURL, err)
		}
	}
	return &Provider{client: client, owner: owner, repo: repo}, nil
}

// bearerTransport adds the Authorization header to every request.
type bearerTransport struct {
	token string
	base  http.RoundTripper
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", "Bearer "+t.token)
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(clone)
}

func (p *Provider) Name() hosting.Kind {
	return hosting.KindGitHub
}

func (p *Provider) OwnerRepo() (string, string) {
	return p.owner, p.repo
}

// CheckAuth validates the token by fetching the authenticated user.
func (p *Provider) CheckAuth(ctx context.Context) error {
	if _, _, err := p.client.Users.Get(ctx, ""); err != nil {
		return fmt.Errorf("github auth check: %w", err)
	}
	return nil
}

// CreatePR opens a pull request. An empty Base falls back to the
// repository default branch.
func (p *Provider) CreatePR(ctx context.Context, opts hosting.CreateOptions) (*hosting.PullRequest, error) {
	base := opts.Base
	if base == "" {
		repo, _, err := p.client.Repositories.Get(ctx, p.owner, p.repo)
		if err != nil {
			return nil, fmt.Errorf("resolve default branch: %w", err)
		}
		base = repo.GetDefaultBranch()
	}
	created, _, err := p.client.PullRequests.Create(ctx, p.owner, p.repo, &gogithub.NewPullRequest{
		Title: gogithub.Ptr(opts.Title),
		Body:  gogithub.Ptr(opts.Body),
		Head:  gogithub.Ptr(opts.Head),
		Base:  gogithub.Ptr(base),
		Draft: gogithub.Ptr(opts.Draft),
	})
	if err != nil {
		return nil, fmt.Errorf("create PR: %w", err)
	}
	return mapPR(created), nil
}

// FindPRByBranch returns the open pull request whose head is branch.
func (p *Provider) FindPRByBranch(ctx context.Context, branch string) (*hosting.PullRequest, error) {
	prs, _, err := p.client.PullRequests.List(ctx, p.owner, p.repo, &gogithub.PullRequestListOptions{
		Head:        p.owner + ":" + branch,
		State:       "open",
		ListOptions: gogithub.ListOptions{PerPage: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("find PR by branch %q: %w", branch, err)
	}
	if len(prs) == 0 {
		return nil, hosting.ErrNoPRFound
	}
	return mapPR(prs[0]), nil
}

func mapPR(pr *gogithub.PullRequest) *hosting.PullRequest {
	if pr == nil {
		return nil
	}
	return &hosting.PullRequest{
		Number:     pr.GetNumber(),
		Title:      pr.GetTitle(),
		State:      pr.GetState(),
		HeadBranch: pr.GetHead().GetRef(),
		BaseBranch: pr.GetBase().GetRef(),
		URL:        pr.GetHTMLURL(),
		Draft:      pr.GetDraft(),
	}
}

// IsNotFound reports whether an error is the no-PR sentinel.
func IsNotFound(err error) bool {
	return errors.Is(err, hosting.ErrNoPRFound)
}
