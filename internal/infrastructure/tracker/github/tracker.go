package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"

	"ticketpilot/internal/bootstrap/config"
	"ticketpilot/internal/errs"
	"ticketpilot/internal/ports"
)

// Tracker adapts GitHub Issues to the ports.TicketSource contract.
type Tracker struct {
	client  *github.Client
	profile config.TrackerProfile
}

var _ ports.TicketSource = (*Tracker)(nil)

func NewTracker(ctx context.Context, profile config.TrackerProfile) *Tracker {
	var httpClient *http.Client
	if token := strings.TrimSpace(profile.Token); token != "" {
		httpClient = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	}

	return &Tracker{
		client:  github.NewClient(httpClient),
		profile: profile,
	}
}

func (t *Tracker) Name() string { return "github" }

func (t *Tracker) FetchEligible(ctx context.Context, filter ports.TrackerFilter) ([]ports.TrackerTicket, error) {
	opts := &github.IssueListByRepoOptions{
		State:     issueState(filter.Statuses),
		Sort:      "updated",
		Direction: "asc",
		ListOptions: github.ListOptions{
			PerPage: filter.Limit,
		},
	}
	if label := strings.TrimSpace(filter.RequiredLabel); label != "" {
		opts.Labels = []string{label}
	}

	issues, _, err := t.client.Issues.ListByRepo(ctx, t.profile.Owner, t.profile.Repo, opts)
	if err != nil {
		return nil, classify(err, "list issues")
	}

	repoURL := fmt.Sprintf("https://github.com/%s/%s", t.profile.Owner, t.profile.Repo)
	items := make([]ports.TrackerTicket, 0, len(issues))
	for _, issue := range issues {
		if issue.IsPullRequest() {
			continue
		}

		var assignee *string
		if issue.Assignee != nil {
			assignee = github.Ptr(issue.Assignee.GetLogin())
		}

		labels := make([]string, 0, len(issue.Labels))
		for _, label := range issue.Labels {
			labels = append(labels, label.GetName())
		}

		url := repoURL
		items = append(items, ports.TrackerTicket{
			TrackerKey:    fmt.Sprintf("%s#%d", t.profile.Repo, issue.GetNumber()),
			Summary:       issue.GetTitle(),
			Description:   issue.GetBody(),
			Status:        issue.GetState(),
			Priority:      priorityFromLabels(labels),
			Assignee:      assignee,
			Reporter:      issue.GetUser().GetLogin(),
			Labels:        labels,
			RepositoryURL: &url,
			UpdatedAt:     issue.GetUpdatedAt().Time,
		})
	}
	return items, nil
}

func (t *Tracker) AddComment(ctx context.Context, trackerKey string, body string) error {
	number, err := issueNumber(trackerKey)
	if err != nil {
		return err
	}

	_, _, err = t.client.Issues.CreateComment(ctx, t.profile.Owner, t.profile.Repo, number, &github.IssueComment{
		Body: github.Ptr(body),
	})
	if err != nil {
		return classify(err, "create issue comment")
	}
	return nil
}

func (t *Tracker) UpdateStatus(ctx context.Context, trackerKey string, status string) error {
	number, err := issueNumber(trackerKey)
	if err != nil {
		return err
	}

	mapped := status
	if v, ok := t.profile.StatusMap[status]; ok {
		mapped = v
	}

	switch strings.ToLower(mapped) {
	case "open", "closed":
		_, _, err = t.client.Issues.Edit(ctx, t.profile.Owner, t.profile.Repo, number, &github.IssueRequest{
			State: github.Ptr(strings.ToLower(mapped)),
		})
		if err != nil {
			return classify(err, "edit issue state")
		}
		return nil
	default:
		// GitHub has no custom issue statuses; anything else becomes a
		// status label.
		_, _, err = t.client.Issues.AddLabelsToIssue(ctx, t.profile.Owner, t.profile.Repo, number,
			[]string{"status:" + strings.ToLower(mapped)})
		if err != nil {
			return classify(err, "add status label")
		}
		return nil
	}
}

func (t *Tracker) SupportedStatuses() []string {
	out := make([]string, len(t.profile.AllowedStatuses))
	copy(out, t.profile.AllowedStatuses)
	return out
}

func (t *Tracker) ValidateConfig(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errs.Wrap(err, "check context")
	}
	if strings.TrimSpace(t.profile.Owner) == "" {
		return errs.Config(errors.New("tracker.owner is required"))
	}
	if strings.TrimSpace(t.profile.Repo) == "" {
		return errs.Config(errors.New("tracker.repo is required"))
	}
	if strings.TrimSpace(t.profile.Token) == "" {
		return errs.Config(errors.New("tracker.token is required"))
	}
	return nil
}

func issueNumber(trackerKey string) (int, error) {
	idx := strings.LastIndex(trackerKey, "#")
	if idx < 0 || idx == len(trackerKey)-1 {
		return 0, errs.Business(fmt.Errorf("malformed tracker key %q", trackerKey))
	}

	var number int
	if _, err := fmt.Sscanf(trackerKey[idx+1:], "%d", &number); err != nil {
		return 0, errs.Business(fmt.Errorf("malformed tracker key %q", trackerKey))
	}
	return number, nil
}

// issueState folds the requested tracker statuses onto GitHub's issue state
// filter, which only knows open, closed and all.
func issueState(statuses []string) string {
	var open, closed bool
	for _, status := range statuses {
		switch strings.ToLower(strings.TrimSpace(status)) {
		case "open":
			open = true
		case "closed":
			closed = true
		}
	}
	switch {
	case open && closed:
		return "all"
	case closed:
		return "closed"
	default:
		return "open"
	}
}

func priorityFromLabels(labels []string) string {
	for _, label := range labels {
		if rest, ok := strings.CutPrefix(strings.ToLower(label), "priority:"); ok {
			return rest
		}
	}
	return "medium"
}

// classify maps GitHub API failures onto the retry taxonomy: rate limits
// and server errors are transient, everything else is left for the state
// machine to treat as fatal.
func classify(err error, msg string) error {
	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &rateErr) || errors.As(err, &abuseErr) {
		return errs.Transient(errs.Wrap(err, msg))
	}

	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil && respErr.Response.StatusCode >= 500 {
		return errs.Transient(errs.Wrap(err, msg))
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errs.Transient(errs.Wrap(err, msg))
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errs.Transient(errs.Wrap(err, msg))
	}

	return errs.Wrap(err, msg)
}
