// Package escalate files a ticket's transcript as a GitHub issue so that
// problems agents cannot solve reach the engineering backlog.
package escalate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/go-github/v68/github"
	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/models"
	"golang.org/x/oauth2"
)

// ErrNotConfigured is returned by a nil Escalator.
var ErrNotConfigured = errors.New("escalate: no repository configured")

// issueCreator abstracts the go-github method we use, enabling test mocks.
type issueCreator interface {
	Create(ctx context.Context, owner, repo string, issue *github.IssueRequest) (*github.Issue, *github.Response, error)
}

// Escalator creates issues in one repository.
type Escalator struct {
	owner  string
	repo   string
	labels []string
	issues issueCreator
}

// Issue identifies a created GitHub issue.
type Issue struct {
	Number int    `json:"number"`
	URL    string `json:"url"`
}

// New returns an Escalator authenticated with cfg.Token, or nil when
// escalation is not configured.
func New(ctx context.Context, cfg config.EscalateConfig) *Escalator {
	if !cfg.Enabled() {
		return nil
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
	return NewWithClient(cfg, github.NewClient(oauth2.NewClient(ctx, ts)))
}

// NewWithClient returns an Escalator using gh.
func NewWithClient(cfg config.EscalateConfig, gh *github.Client) *Escalator {
	return &Escalator{
		owner:  cfg.Owner,
		repo:   cfg.Repo,
		labels: cfg.Labels,
		issues: gh.Issues,
	}
}

// Escalate files t and its messages as a new issue. note is the agent's
// reason for escalating and may be empty.
func (e *Escalator) Escalate(ctx context.Context, t models.Ticket, msgs []models.Message, note string) (Issue, error) {
	if e == nil {
		return Issue{}, ErrNotConfigured
	}
	title := fmt.Sprintf("Support ticket #%d", t.ID)
	if t.Subject != "" {
		title += ": " + t.Subject
	}
	req := &github.IssueRequest{
		Title: github.Ptr(title),
		Body:  github.Ptr(Transcript(t, msgs, note)),
	}
	if len(e.labels) > 0 {
		labels := append([]string(nil), e.labels...)
		req.Labels = &labels
	}
	issue, _, err := e.issues.Create(ctx, e.owner, e.repo, req)
	if err != nil {
		return Issue{}, fmt.Errorf("escalate: create issue in %s/%s: %w", e.owner, e.repo, err)
	}
	return Issue{Number: issue.GetNumber(), URL: issue.GetHTMLURL()}, nil
}

// Transcript renders a ticket as issue markdown. Client contact details are
// left out of the public issue.
func Transcript(t models.Ticket, msgs []models.Message, note string) string {
	var b strings.Builder
	if note = strings.TrimSpace(note); note != "" {
		fmt.Fprintf(&b, "%s\n\n", note)
	}
	fmt.Fprintf(&b, "| | |\n|---|---|\n")
	fmt.Fprintf(&b, "| Ticket | #%d |\n", t.ID)
	fmt.Fprintf(&b, "| State | %s |\n", t.State)
	fmt.Fprintf(&b, "| Priority | %d |\n", t.Priority)
	if t.Department != "" {
		fmt.Fprintf(&b, "| Department | %s |\n", t.Department)
	}
	if t.AgentID != nil {
		fmt.Fprintf(&b, "| Agent | %d |\n", *t.AgentID)
	}
	fmt.Fprintf(&b, "| Entered queue | %s |\n", t.EnteredQueueAt.UTC().Format(time.RFC3339))

	b.WriteString("\n### Transcript\n\n")
	if len(msgs) == 0 {
		b.WriteString("_No messages._\n")
	}
	for _, m := range msgs {
		fmt.Fprintf(&b, "**%s** (%s):\n", m.Sender, m.SentAt.UTC().Format("15:04:05"))
		for _, line := range strings.Split(m.Body, "\n") {
			fmt.Fprintf(&b, "> %s\n", line)
		}
		b.WriteString("\n")
	}
	return b.String()
}
