package github

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	gogithub "github.com/google/go-github/v68/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jayporeci/engine/internal/pipeline"
)

func newTestPlatform(t *testing.T, mux *http.ServeMux) *Platform {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client := gogithub.NewClient(nil)
	base, err := url.Parse(srv.URL + "/")
	require.NoError(t, err)
	client.BaseURL = base

	return &Platform{client: client, owner: "jayporeci", repo: "engine", sha: "deadbeef", prNum: 7}
}

func TestPublishCreatesStatusAndComment(t *testing.T) {
	var createdComment bool
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/jayporeci/engine/statuses/deadbeef", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(&gogithub.RepoStatus{})
	})
	mux.HandleFunc("/repos/jayporeci/engine/issues/7/comments", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			_ = json.NewEncoder(w).Encode([]*gogithub.IssueComment{})
		case http.MethodPost:
			createdComment = true
			_ = json.NewEncoder(w).Encode(&gogithub.IssueComment{ID: gogithub.Ptr(int64(42))})
		}
	})

	p := newTestPlatform(t, mux)
	err := p.Publish(context.Background(), "all green", pipeline.ExternalSuccess)
	require.NoError(t, err)
	assert.True(t, createdComment)
	assert.Equal(t, int64(42), p.commentID)
}

func TestPublishEditsExistingTrackedComment(t *testing.T) {
	var edited bool
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/jayporeci/engine/statuses/deadbeef", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(&gogithub.RepoStatus{})
	})
	mux.HandleFunc("/repos/jayporeci/engine/issues/comments/42", func(w http.ResponseWriter, r *http.Request) {
		edited = true
		_ = json.NewEncoder(w).Encode(&gogithub.IssueComment{ID: gogithub.Ptr(int64(42))})
	})

	p := newTestPlatform(t, mux)
	p.commentID = 42
	err := p.Publish(context.Background(), "still running", pipeline.ExternalPending)
	require.NoError(t, err)
	assert.True(t, edited)
}

func TestPublishWithoutPRNumberSkipsComment(t *testing.T) {
	var commentHit bool
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/jayporeci/engine/statuses/deadbeef", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(&gogithub.RepoStatus{})
	})
	mux.HandleFunc("/repos/jayporeci/engine/issues/", func(w http.ResponseWriter, r *http.Request) {
		commentHit = true
	})

	p := newTestPlatform(t, mux)
	p.prNum = 0
	err := p.Publish(context.Background(), "all green", pipeline.ExternalSuccess)
	require.NoError(t, err)
	assert.False(t, commentHit)
}
