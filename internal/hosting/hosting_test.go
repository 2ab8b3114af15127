package hosting

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetect(t *testing.T) {
	cases := []struct {
		remote string
		want   Kind
	}{
		{"git@github.com:acme/widgets.git", KindGitHub},
		{"https://github.com/acme/widgets.git", KindGitHub},
		{"https://github.acme-corp.com/acme/widgets.git", KindGitHub},
		{"git@gitlab.com:acme/widgets.git", KindGitLab},
		{"https://gitlab.example.io/group/sub/widgets.git", KindGitLab},
		{"ssh://git@gitlab.internal.net/group/widgets.git", KindGitLab},
		{"https://bitbucket.org/acme/widgets.git", KindUnknown},
		{"", KindUnknown},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Detect(tc.remote), "remote %q", tc.remote)
	}
}

func TestParseOwnerRepo(t *testing.T) {
	cases := []struct {
		remote string
		owner  string
		repo   string
	}{
		{"git@github.com:acme/widgets.git", "acme", "widgets"},
		{"https://github.com/acme/widgets", "acme", "widgets"},
		{"ssh://git@gitlab.com/group/sub/widgets.git", "group/sub", "widgets"},
		{"https://gitlab.com/group/sub/widgets.git", "group/sub", "widgets"},
		{"git@gitlab.com:group/widgets.git", "group", "widgets"},
	}
	for _, tc := range cases {
		owner, repo := ParseOwnerRepo(tc.remote)
		assert.Equal(t, tc.owner, owner, "remote %q", tc.remote)
		assert.Equal(t, tc.repo, repo, "remote %q", tc.remote)
	}
}

func TestNewProviderForcedUnknown(t *testing.T) {
	_, err := NewProvider("git@github.com:acme/widgets.git", Config{Provider: "sourcehut"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown hosting provider")
}

func TestNewProviderUndetectable(t *testing.T) {
	_, err := NewProvider("https://example.com/acme/widgets.git", Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot detect")
}
