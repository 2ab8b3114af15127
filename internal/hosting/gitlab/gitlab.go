// Package gitlab implements hosting.Provider with the GitLab client.
package gitlab

import (
	"context"
	"fmt"
	"os"
	"strings"

	gogitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/hangw/agentcheck/internal/hosting"
)

var _ hosting.Provider = (*Provider)(nil)

func init() {
	hosting.Register(hosting.KindGitLab, newProvider)
}

// Provider talks to the GitLab (or self-hosted GitLab) API. Merge
// requests are surfaced through the provider-neutral PullRequest shape.
type Provider struct {
	client *gogitlab.Client
	// projectID is the full path ("group/subgroup/repo") GitLab accepts
	// as a project identifier.
	projectID string
	owner     string
	repo      string
}

func newProvider(remoteURL string, cfg hosting.Config) (hosting.Provider, error) {
	envVar := cfg.TokenEnvVar
	if envVar == "" {
		envVar = "GITLAB_TOKEN"
	}
	token := os.Getenv(envVar)
	if token == "" {
		return nil, fmt.Errorf("%s is not set (required for GitLab API access)", envVar)
	}

	owner, repo := hosting.ParseOwnerRepo(remoteURL)
	if owner == "" || repo == "" {
		return nil, fmt.Errorf("cannot parse owner/repo from remote %q", remoteURL)
	}

	var client *gogitlab.Client
	var err error
	if cfg.BaseURL != "" {
		client, err = gogitlab.NewClient(token, gogitlab.WithBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")+"/api/v4"))
	} else {
		client, err = gogitlab.NewClient(token)
	}
	if err != nil {
		return nil, fmt.Errorf("create GitLab client: %w", err)
	}
	return &Provider{client: client, projectID: owner + "/" + repo, owner: owner, repo: repo}, nil
}

func (p *Provider) Name() hosting.Kind {
	return hosting.KindGitLab
}

func (p *Provider) OwnerRepo() (string, string) {
	return p.owner, p.repo
}

// CheckAuth validates the token by fetching the authenticated user.
func (p *Provider) CheckAuth(ctx context.Context) error {
	if _, _, err := p.client.Users.CurrentUser(gogitlab.WithContext(ctx)); err != nil {
		return fmt.Errorf("gitlab auth check: %w", err)
	}
	return nil
}

// CreatePR opens a merge request. Draft is expressed via the title
// prefix GitLab recognizes. An empty Base falls back to the project's
// default branch.
func (p *Provider) CreatePR(ctx context.Context, opts hosting.CreateOptions) (*hosting.PullRequest, error) {
	title := opts.Title
	if opts.Draft && !strings.HasPrefix(title, "Draft:") {
		title = "Draft: " + title
	}
	base := opts.Base
	if base == "" {
		project, _, err := p.client.Projects.GetProject(p.projectID, nil, gogitlab.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("resolve default branch: %w", err)
		}
		base = project.DefaultBranch
	}
	mr, _, err := p.client.MergeRequests.CreateMergeRequest(p.projectID, &gogitlab.CreateMergeRequestOptions{
		Title:        gogitlab.Ptr(title),
		Description:  gogitlab.Ptr(opts.Body),
		SourceBranch: gogitlab.Ptr(opts.Head),
		TargetBranch: gogitlab.Ptr(base),
	}, gogitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("create MR: %w", err)
	}
	return mapMR(mr.Title, mr.State, mr.SourceBranch, mr.TargetBranch, mr.WebURL, int(mr.IID), mr.Draft), nil
}

// FindPRByBranch returns the open merge request whose source is branch.
func (p *Provider) FindPRByBranch(ctx context.Context, branch string) (*hosting.PullRequest, error) {
	mrs, _, err := p.client.MergeRequests.ListProjectMergeRequests(p.projectID, &gogitlab.ListProjectMergeRequestsOptions{
		SourceBranch: gogitlab.Ptr(branch),
		State:        gogitlab.Ptr("opened"),
		ListOptions:  gogitlab.ListOptions{PerPage: 1},
	}, gogitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("find MR by branch %q: %w", branch, err)
	}
	if len(mrs) == 0 {
		return nil, hosting.ErrNoPRFound
	}
	mr := mrs[0]
	return mapMR(mr.Title, mr.State, mr.SourceBranch, mr.TargetBranch, mr.WebURL, int(mr.IID), mr.Draft), nil
}

func mapMR(title, state, head, base, url string, iid int, draft bool) *hosting.PullRequest {
	return &hosting.PullRequest{
		Number:     iid,
		Title:      title,
		State:      state,
		HeadBranch: head,
		BaseBranch: base,
		URL:        url,
		Draft:      draft,
	}
}
