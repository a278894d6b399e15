package ports

import (
	"context"
	"time"
)

// TrackerTicket is a ticket as the external tracker reports it, before it
// is persisted locally.
type TrackerTicket struct {
	TrackerKey    string
	Summary       string
	Description   string
	Status        string
	Priority      string
	Assignee      *string
	Reporter      string
	Labels        []string
	RepositoryURL *string
	UpdatedAt     time.Time
}

type TrackerFilter struct {
	RequiredLabel string
	Statuses      []string
	Limit         int
}

// TicketSource is the issue-tracker seam. Implementations return structured
// errors classified with errs kinds so the state machine can always decide
// retry vs. review vs. failure.
type TicketSource interface {
	Name() string
	FetchEligible(ctx context.Context, filter TrackerFilter) ([]TrackerTicket, error)
	AddComment(ctx context.Context, trackerKey string, body string) error
	UpdateStatus(ctx context.Context, trackerKey string, status string) error
	SupportedStatuses() []string
	ValidateConfig(ctx context.Context) error
}

type SolutionRequest struct {
	TrackerKey  string
	Summary     string
	Description string
	Repository  string
	Context     string
}

type SolutionTodo struct {
	Title              string
	Description        string
	Priority           int
	Category           string
	OrderIndex         int
	EstimatedHours     float64
	DependsOnIndexes   []int
	AcceptanceCriteria string
}

type FileChange struct {
	Path    string
	Action  string
	Content string
}

type Solution struct {
	Summary       string
	Explanation   string
	Todos         []SolutionTodo
	Files         []FileChange
	Commands      []string
	Model         string
	Provider      string
	EstimatedCost float64
	// FallbackUsed records a transparent substitution of the fallback
	// provider for audit.
	FallbackUsed bool
}

type ModelInfo struct {
	Model           string
	MaxInputTokens  int64
	MaxOutputTokens int64
}

type SolutionGenerator interface {
	Name() string
	Generate(ctx context.Context, req SolutionRequest) (Solution, error)
	ModelInfo() ModelInfo
	ValidateConfig(ctx context.Context) error
}

type PublishRequest struct {
	Repository string
	Branch     string
	BaseBranch string
	Title      string
	Body       string
}

type PublishResult struct {
	PRNumber int
	URL      string
	Branch   string
}

// Publisher is the version-control seam.
type Publisher interface {
	Name() string
	CreatePR(ctx context.Context, req PublishRequest) (PublishResult, error)
	CommentPR(ctx context.Context, repository string, prNumber int, body string) error
	MergePR(ctx context.Context, repository string, prNumber int) error
	DeleteBranch(ctx context.Context, repository string, branch string) error
	ValidateConfig(ctx context.Context) error
}
