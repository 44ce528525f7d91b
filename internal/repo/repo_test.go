package repo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRemoteSSHColonForm(t *testing.T) {
	ri, err := ParseRemote("git@gitea.arjoonn.com:arjoonn/jaypore_ci.git")
	require.NoError(t, err)
	assert.Equal(t, "gitea.arjoonn.com", ri.Host)
	assert.Equal(t, "arjoonn", ri.Owner)
	assert.Equal(t, "jaypore_ci", ri.Repo)
}

func TestParseRemoteSSHSchemeForm(t *testing.T) {
	ri, err := ParseRemote("ssh://git@gitea.arjoonn.com:arjoonn/jaypore_ci.git")
	require.NoError(t, err)
	assert.Equal(t, "gitea.arjoonn.com", ri.Host)
	assert.Equal(t, "arjoonn", ri.Owner)
	assert.Equal(t, "jaypore_ci", ri.Repo)
}

func TestParseRemoteSSHGitPlusForm(t *testing.T) {
	ri, err := ParseRemote("ssh+git://git@gitea.arjoonn.com:arjoonn/jaypore_ci.git")
	require.NoError(t, err)
	assert.Equal(t, "gitea.arjoonn.com", ri.Host)
	assert.Equal(t, "arjoonn", ri.Owner)
	assert.Equal(t, "jaypore_ci", ri.Repo)
}

func TestParseRemoteHTTPSForm(t *testing.T) {
	ri, err := ParseRemote("https://gitea.arjoonn.com/midpath/jaypore_ci.git")
	require.NoError(t, err)
	assert.Equal(t, "gitea.arjoonn.com", ri.Host)
	assert.Equal(t, "midpath", ri.Owner)
	assert.Equal(t, "jaypore_ci", ri.Repo)
}

func TestParseRemoteHTTPForm(t *testing.T) {
	ri, err := ParseRemote("http://gitea.arjoonn.com/midpath/jaypore_ci.git")
	require.NoError(t, err)
	assert.Equal(t, "gitea.arjoonn.com", ri.Host)
	assert.Equal(t, "midpath", ri.Owner)
	assert.Equal(t, "jaypore_ci", ri.Repo)
}

func TestParseRemoteGitHubHTTPS(t *testing.T) {
	ri, err := ParseRemote("https://github.com/jayporeci/engine.git")
	require.NoError(t, err)
	assert.Equal(t, "github.com", ri.Host)
	assert.Equal(t, "jayporeci", ri.Owner)
	assert.Equal(t, "engine", ri.Repo)
}

func TestParseRemoteMalformedReturnsSetupError(t *testing.T) {
	_, err := ParseRemote("not-a-remote")
	require.Error(t, err)
	var setupErr *SetupError
	assert.ErrorAs(t, err, &setupErr)
}

func TestInfoSHASatisfiesRepoHandle(t *testing.T) {
	i := &Info{Commit: "deadbeef"}
	assert.Equal(t, "deadbeef", i.SHA())
}
