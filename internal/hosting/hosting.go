// Package hosting publishes task summaries to git hosting providers.
// The surface is deliberately small: create a draft pull request, look
// one up by branch, and verify auth. GitHub and GitLab implementations
// register themselves at init time from their subpackages.
package hosting

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Kind identifies a hosting provider family.
type Kind string

const (
	KindGitHub  Kind = "github"
	KindGitLab  Kind = "gitlab"
	KindUnknown Kind = "unknown"
)

// ErrNoPRFound is returned by FindPRByBranch when no open pull request
// exists for the branch.
var ErrNoPRFound = errors.New("no pull request found")

// PullRequest is the provider-neutral view of a PR / merge request.
type PullRequest struct {
	Number     int    `json:"number"`
	Title      string `json:"title"`
	State      string `json:"state"`
	HeadBranch string `json:"head_branch"`
	BaseBranch string `json:"base_branch"`
	URL        string `json:"url"`
	Draft      bool   `json:"draft"`
}

// CreateOptions describes the pull request to create. An empty Base
// means the repository's default branch.
type CreateOptions struct {
	Title string
	Body  string
	Head  string
	Base  string
	Draft bool
}

// Provider is a hosted remote the summaries can be published to.
type Provider interface {
	Name() Kind
	OwnerRepo() (owner, repo string)
	CheckAuth(ctx context.Context) error
	CreatePR(ctx context.Context, opts CreateOptions) (*PullRequest, error)
	FindPRByBranch(ctx context.Context, branch string) (*PullRequest, error)
}

// Config selects and authenticates a provider.
type Config struct {
	// Provider forces "github" or "gitlab"; empty or "auto" detects
	// from the remote URL.
	Provider string `yaml:"provider" json:"provider,omitempty"`
	// BaseURL points at a self-hosted instance; empty means the public
	// service.
	BaseURL string `yaml:"base_url" json:"base_url,omitempty"`
	// TokenEnvVar overrides the token variable name (GITHUB_TOKEN /
	// GITLAB_TOKEN by default).
	TokenEnvVar string `yaml:"token_env_var" json:"token_env_var,omitempty"`
}

// Constructor builds a Provider for an already-detected remote.
type Constructor func(remoteURL string, cfg Config) (Provider, error)

var constructors = map[Kind]Constructor{}

// Register installs a provider constructor. Called from init() in the
// github and gitlab subpackages.
func Register(kind Kind, ctor Constructor) {
	constructors[kind] = ctor
}

// NewProvider resolves the provider for a remote URL and constructs it.
func NewProvider(remoteURL string, cfg Config) (Provider, error) {
	kind := KindUnknown
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "auto":
		kind = Detect(remoteURL)
	case string(KindGitHub):
		kind = KindGitHub
	case string(KindGitLab):
		kind = KindGitLab
	default:
		return nil, fmt.Errorf("unknown hosting provider %q (supported: github, gitlab)", cfg.Provider)
	}
	if kind == KindUnknown {
		return nil, fmt.Errorf("cannot detect hosting provider from remote %q", remoteURL)
	}
	ctor, ok := constructors[kind]
	if !ok {
		return nil, fmt.Errorf("hosting provider %q is not linked into this binary", kind)
	}
	return ctor(remoteURL, cfg)
}

// Host-matching covers the public services and self-hosted instances
// that keep the product name in the host (github.company.com,
// gitlab.company.com).
var (
	githubHostRe = regexp.MustCompile(`(^|@|//)github(\.[a-z0-9-]+)*\.[a-z]+[:/]`)
	gitlabHostRe = regexp.MustCompile(`(^|@|//)gitlab(\.[a-z0-9-]+)*\.[a-z]+[:/]`)
)

// Detect classifies a git remote URL.
func Detect(remoteURL string) Kind {
	url := strings.ToLower(strings.TrimSpace(remoteURL))
	switch {
	case githubHostRe.MatchString(url):
		return KindGitHub
	case gitlabHostRe.MatchString(url):
		return KindGitLab
	default:
		return KindUnknown
	}
}

// ParseOwnerRepo extracts the owner (or group path) and repository name
// from a remote URL. GitLab subgroup paths keep their slashes in owner.
func ParseOwnerRepo(remoteURL string) (owner, repo string) {
	raw := strings.TrimSuffix(strings.TrimSpace(remoteURL), ".git")
	switch {
	case strings.HasPrefix(raw, "ssh://"):
		raw = strings.TrimPrefix(raw, "ssh://")
		if idx := strings.Index(raw, "/"); idx != -1 {
			raw = strings.TrimLeft(raw[idx+1:], "/")
		}
	case strings.HasPrefix(raw, "https://"), strings.HasPrefix(raw, "http://"):
		raw = strings.TrimPrefix(strings.TrimPrefix(raw, "https://"), "http://")
		if idx := strings.Index(raw, "/"); idx != -1 {
			raw = raw[idx+1:]
		}
	default:
		// SCP-style: git@host:owner/repo
		if idx := strings.Index(raw, ":"); idx != -1 {
			raw = raw[idx+1:]
		}
	}
	parts := strings.Split(raw, "/")
	if len(parts) < 2 {
		return raw, ""
	}
	return strings.Join(parts[:len(parts)-1], "/"), parts[len(parts)-1]
}
