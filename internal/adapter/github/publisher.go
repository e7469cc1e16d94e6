// Package github publishes audit entries as comments on a GitHub issue.
package github

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	gh "github.com/google/go-github/v68/github"
	"github.com/guillermoBallester/auditsql/internal/core/domain"
	"github.com/guillermoBallester/auditsql/internal/core/port"
)

// Options locate the issue that serves as the audit ledger.
type Options struct {
	Token string
	// Repo is "owner/name".
	Repo  string
	Issue int
	// APIURL overrides the API endpoint for GitHub Enterprise.
	APIURL string
	// HTTPClient is optional; the token is layered on top of it.
	HTTPClient *http.Client
}

// Publisher posts the markdown rendering of each entry as an issue comment
// and returns the comment's URL.
type Publisher struct {
	client *gh.Client
	owner  string
	repo   string
	issue  int
}

var _ port.AuditPublisher = (*Publisher)(nil)

func NewPublisher(opts Options) (*Publisher, error) {
	owner, repo, err := splitRepo(opts.Repo)
	if err != nil {
		return nil, err
	}
	if opts.Issue <= 0 {
		return nil, fmt.Errorf("github audit issue must be positive, got %d", opts.Issue)
	}
	if opts.Token == "" {
		return nil, fmt.Errorf("github token is required")
	}

	client := gh.NewClient(opts.HTTPClient).WithAuthToken(opts.Token)
	if opts.APIURL != "" {
		client, err = client.WithEnterpriseURLs(opts.APIURL, opts.APIURL)
		if err != nil {
			return nil, fmt.Errorf("configuring github api url: %w", err)
		}
	}
	return newPublisher(client, owner, repo, opts.Issue), nil
}

func newPublisher(client *gh.Client, owner, repo string, issue int) *Publisher {
	return &Publisher{client: client, owner: owner, repo: repo, issue: issue}
}

func (p *Publisher) Publish(ctx context.Context, entry domain.AuditEntry) port.PublishResult {
	comment, _, err := p.client.Issues.CreateComment(ctx, p.owner, p.repo, p.issue, &gh.IssueComment{
		Body: gh.Ptr(domain.FormatAuditMarkdown(entry)),
	})
	if err != nil {
		return port.PublishResult{Err: fmt.Errorf("posting audit comment to %s/%s#%d: %w", p.owner, p.repo, p.issue, err)}
	}
	return port.PublishResult{Reference: comment.GetHTMLURL()}
}

func (p *Publisher) Close() error { return nil }

func splitRepo(s string) (string, string, error) {
	owner, repo, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", fmt.Errorf("github audit repo must be owner/name, got %q", s)
	}
	return owner, repo, nil
}
