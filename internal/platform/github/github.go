// Package github implements a platform.Platform that reports pipeline
// status as a GitHub commit status plus a single, edited-in-place pull
// request comment, using github.com/google/go-github.
package github

import (
	"context"
	"fmt"
	"os"
	"strings"

	gogithub "github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"

	"github.com/jayporeci/engine/internal/pipeline"
	"github.com/jayporeci/engine/internal/repo"
)

// commentMarker tags comments this platform owns, so Publish can find
// and edit its own comment instead of leaving a new one on every tick.
const commentMarker = "<!-- jayporeci-ci-report -->"

// contextName is the commit status context shown in GitHub's UI.
const contextName = "jayporeci-ci"

// Platform publishes reports as a GitHub commit status and PR comment.
type Platform struct {
	client *gogithub.Client
	owner  string
	repo   string
	sha    string
	prNum  int

	commentID int64
}

// Config carries everything needed to build a Platform beyond what can
// be read from the environment.
type Config struct {
	Token string
	Owner string
	Repo  string
	SHA   string
	// PRNumber is 0 when this sha is not associated with an open pull
	// request; Publish then only sets the commit status.
	PRNumber int
}

// New builds a github Platform from an explicit Config.
func New(cfg Config) *Platform {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
	httpClient := oauth2.NewClient(context.Background(), ts)
	return &Platform{
		client: gogithub.NewClient(httpClient),
		owner:  cfg.Owner,
		repo:   cfg.Repo,
		sha:    cfg.SHA,
		prNum:  cfg.PRNumber,
	}
}

// FromEnv builds a Platform from GITHUB_TOKEN and GITHUB_PR_NUMBER
// environment variables and the given repo identity.
func FromEnv(ctx context.Context, info *repo.Info) (*Platform, error) {
	token := os.Getenv("GITHUB_TOKEN")
	if token == "" {
		return nil, &pipeline.ConfigError{Reason: "GITHUB_TOKEN is not set"}
	}
	prNum := 0
	if v := os.Getenv("GITHUB_PR_NUMBER"); v != "" {
		fmt.Sscanf(v, "%d", &prNum)
	}
	return New(Config{
		Token:    token,
		Owner:    info.Remote.Owner,
		Repo:     info.Remote.Repo,
		SHA:      info.SHA(),
		PRNumber: prNum,
	}), nil
}

func (p *Platform) Setup(ctx context.Context) error { return nil }

func (p *Platform) Teardown(ctx context.Context) error { return nil }

// Publish sets a commit status and, when this sha belongs to an open
// pull request, creates or edits this platform's tracked comment on
// it rather than posting a new one every call.
func (p *Platform) Publish(ctx context.Context, report string, status pipeline.ExternalStatus) error {
	state := string(status)
	if state == string(pipeline.ExternalWarning) {
		// GitHub's commit status API has no "warning" state.
		state = string(pipeline.ExternalFailure)
	}
	_, _, err := p.client.Repositories.CreateStatus(ctx, p.owner, p.repo, p.sha, &gogithub.RepoStatus{
		State:   gogithub.Ptr(state),
		Context: gogithub.Ptr(contextName),
	})
	if err != nil {
		return &pipeline.PlatformError{Err: fmt.Errorf("create commit status: %w", err)}
	}

	if p.prNum == 0 {
		return nil
	}

	// The rendered report arrives already fenced; only the marker is added.
	body := commentMarker + "\n" + report
	if err := p.upsertComment(ctx, body); err != nil {
		return &pipeline.PlatformError{Err: err}
	}
	return nil
}

func (p *Platform) upsertComment(ctx context.Context, body string) error {
	if p.commentID != 0 {
		_, _, err := p.client.Issues.EditComment(ctx, p.owner, p.repo, p.commentID, &gogithub.IssueComment{
			Body: gogithub.Ptr(body),
		})
		if err == nil {
			return nil
		}
		// fall through and try to re-discover the comment if editing failed
		p.commentID = 0
	}

	comments, _, err := p.client.Issues.ListComments(ctx, p.owner, p.repo, p.prNum, nil)
	if err != nil {
		return fmt.Errorf("list pr comments: %w", err)
	}
	for _, c := range comments {
		if c.Body != nil && strings.Contains(*c.Body, commentMarker) {
			p.commentID = c.GetID()
			_, _, err := p.client.Issues.EditComment(ctx, p.owner, p.repo, p.commentID, &gogithub.IssueComment{
				Body: gogithub.Ptr(body),
			})
			return err
		}
	}

	created, _, err := p.client.Issues.CreateComment(ctx, p.owner, p.repo, p.prNum, &gogithub.IssueComment{
		Body: gogithub.Ptr(body),
	})
	if err != nil {
		return fmt.Errorf("create pr comment: %w", err)
	}
	p.commentID = created.GetID()
	return nil
}
