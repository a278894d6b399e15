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

// Publisher adapts GitHub pull requests to the ports.Publisher contract.
type Publisher struct {
	client  *github.Client
	profile config.VCSProfile
}

var _ ports.Publisher = (*Publisher)(nil)

func NewPublisher(ctx context.Context, profile config.VCSProfile) *Publisher {
	var httpClient *http.Client
	if token := strings.TrimSpace(profile.Token); token != "" {
		httpClient = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	}

	return &Publisher{
		client:  github.NewClient(httpClient),
		profile: profile,
	}
}

func (p *Publisher) Name() string { return "github" }

func (p *Publisher) CreatePR(ctx context.Context, req ports.PublishRequest) (ports.PublishResult, error) {
	owner, repo, err := p.splitRepository(req.Repository)
	if err != nil {
		return ports.PublishResult{}, err
	}

	base := req.BaseBranch
	if base == "" {
		base = p.profile.BaseBranch
	}

	// Branch off the base head so an empty repository fails loudly here
	// rather than at PR time.
	ref, _, err := p.client.Git.GetRef(ctx, owner, repo, "refs/heads/"+base)
	if err != nil {
		return ports.PublishResult{}, classify(err, "resolve base branch")
	}

	if _, _, err := p.client.Git.CreateRef(ctx, owner, repo, &github.Reference{
		Ref:    github.Ptr("refs/heads/" + req.Branch),
		Object: &github.GitObject{SHA: ref.Object.SHA},
	}); err != nil {
		// An existing branch from an earlier attempt is fine; PR creation
		// decides whether anything is actually wrong.
		var respErr *github.ErrorResponse
		if !errors.As(err, &respErr) || respErr.Response == nil || respErr.Response.StatusCode != 422 {
			return ports.PublishResult{}, classify(err, "create branch")
		}
	}

	pr, _, err := p.client.PullRequests.Create(ctx, owner, repo, &github.NewPullRequest{
		Title: github.Ptr(req.Title),
		Head:  github.Ptr(req.Branch),
		Base:  github.Ptr(base),
		Body:  github.Ptr(req.Body),
	})
	if err != nil {
		return ports.PublishResult{}, classify(err, "create pull request")
	}

	return ports.PublishResult{
		PRNumber: pr.GetNumber(),
		URL:      pr.GetHTMLURL(),
		Branch:   req.Branch,
	}, nil
}

func (p *Publisher) CommentPR(ctx context.Context, repository string, prNumber int, body string) error {
	owner, repo, err := p.splitRepository(repository)
	if err != nil {
		return err
	}

	if _, _, err := p.client.Issues.CreateComment(ctx, owner, repo, prNumber, &github.IssueComment{
		Body: github.Ptr(body),
	}); err != nil {
		return classify(err, "create pr comment")
	}
	return nil
}

func (p *Publisher) MergePR(ctx context.Context, repository string, prNumber int) error {
	owner, repo, err := p.splitRepository(repository)
	if err != nil {
		return err
	}

	if _, _, err := p.client.PullRequests.Merge(ctx, owner, repo, prNumber, "", &github.PullRequestOptions{
		MergeMethod: "squash",
	}); err != nil {
		return classify(err, "merge pull request")
	}
	return nil
}

func (p *Publisher) DeleteBranch(ctx context.Context, repository string, branch string) error {
	owner, repo, err := p.splitRepository(repository)
	if err != nil {
		return err
	}

	if _, err := p.client.Git.DeleteRef(ctx, owner, repo, "refs/heads/"+branch); err != nil {
		var respErr *github.ErrorResponse
		if errors.As(err, &respErr) && respErr.Response != nil && respErr.Response.StatusCode == 422 {
			// Already gone.
			return nil
		}
		return classify(err, "delete branch")
	}
	return nil
}

func (p *Publisher) ValidateConfig(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errs.Wrap(err, "check context")
	}
	if strings.TrimSpace(p.profile.Token) == "" {
		return errs.Config(errors.New("vcs.token is required"))
	}
	if strings.TrimSpace(p.profile.BaseBranch) == "" {
		return errs.Config(errors.New("vcs.base_branch is required"))
	}
	return nil
}

// splitRepository accepts "owner/name" or a full https URL; the profile
// owner/repo serve as defaults when the ticket carries none.
func (p *Publisher) splitRepository(repository string) (string, string, error) {
	repository = strings.TrimSpace(repository)
	repository = strings.TrimPrefix(repository, "https://github.com/")
	repository = strings.TrimSuffix(repository, ".git")

	if repository == "" {
		if p.profile.Owner == "" || p.profile.Repo == "" {
			return "", "", errs.Business(errors.New("no repository configured for ticket"))
		}
		return p.profile.Owner, p.profile.Repo, nil
	}

	parts := strings.Split(repository, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errs.Business(fmt.Errorf("malformed repository %q", repository))
	}
	return parts[0], parts[1], nil
}

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

	if errors.Is(err, context.DeadlineExceeded) {
		return errs.Transient(errs.Wrap(err, msg))
	}

	return errs.Wrap(err, msg)
}
