package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"ticketpilot/internal/bootstrap/config"
	"ticketpilot/internal/errs"
	"ticketpilot/internal/ports"
)

const (
	defaultModel      = "gpt-4o-mini"
	costPerKiloTokens = 0.01

	systemPrompt = `You are a senior software engineer resolving a tracked work item.
Respond with a single JSON object:
{"summary": "...", "explanation": "...",
 "todos": [{"title": "...", "description": "...", "priority": 1, "category": "...",
            "estimated_hours": 0.5, "depends_on": [], "acceptance_criteria": "..."}],
 "files": [{"path": "...", "action": "create|edit|delete", "content": "..."}],
 "commands": ["..."]}`
)

// Generator adapts the OpenAI chat completion API to ports.SolutionGenerator.
type Generator struct {
	client   openai.Client
	provider string
	model    string
	token    string
	limits   ports.ModelInfo
}

var _ ports.SolutionGenerator = (*Generator)(nil)

func NewGenerator(profile config.AIProfile) *Generator {
	return newGenerator(profile.Provider, profile.Model, profile.Token, profile.BaseURL, profile.MaxInputTokens, profile.MaxOutputTokens)
}

// NewFallbackGenerator builds a generator from the fallback_* fields of the
// AI profile.
func NewFallbackGenerator(profile config.AIProfile) *Generator {
	return newGenerator(profile.FallbackProvider, profile.FallbackModel, profile.FallbackToken, profile.FallbackBaseURL, profile.MaxInputTokens, profile.MaxOutputTokens)
}

func newGenerator(provider, model, token, baseURL string, maxIn, maxOut int64) *Generator {
	opts := []option.RequestOption{option.WithAPIKey(token)}
	if strings.TrimSpace(baseURL) != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	if strings.TrimSpace(model) == "" {
		model = defaultModel
	}
	if provider == "" {
		provider = "openai"
	}

	return &Generator{
		client:   openai.NewClient(opts...),
		provider: provider,
		model:    model,
		token:    token,
		limits: ports.ModelInfo{
			Model:           model,
			MaxInputTokens:  maxIn,
			MaxOutputTokens: maxOut,
		},
	}
}

func (g *Generator) Name() string { return g.provider }

func (g *Generator) ModelInfo() ports.ModelInfo { return g.limits }

func (g *Generator) ValidateConfig(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errs.Wrap(err, "check context")
	}
	if strings.TrimSpace(g.token) == "" {
		return errs.Config(fmt.Errorf("ai provider %q has no token", g.provider))
	}
	return nil
}

func (g *Generator) Generate(ctx context.Context, req ports.SolutionRequest) (ports.Solution, error) {
	prompt := buildPrompt(req)

	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(g.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(prompt),
		},
	})
	if err != nil {
		return ports.Solution{}, classify(err)
	}
	if len(resp.Choices) == 0 {
		return ports.Solution{}, errs.Transient(errors.New("completion returned no choices"))
	}

	solution, err := parseSolution(resp.Choices[0].Message.Content)
	if err != nil {
		return ports.Solution{}, err
	}

	solution.Model = g.model
	solution.Provider = g.provider
	solution.EstimatedCost = float64(resp.Usage.TotalTokens) / 1000 * costPerKiloTokens
	return solution, nil
}

func buildPrompt(req ports.SolutionRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Ticket %s: %s\n\n", req.TrackerKey, req.Summary)
	if req.Description != "" {
		fmt.Fprintf(&b, "Description:\n%s\n\n", req.Description)
	}
	if req.Repository != "" {
		fmt.Fprintf(&b, "Repository: %s\n", req.Repository)
	}
	if req.Context != "" {
		fmt.Fprintf(&b, "\nAdditional context:\n%s\n", req.Context)
	}
	return b.String()
}

type wireSolution struct {
	Summary     string `json:"summary"`
	Explanation string `json:"explanation"`
	Todos       []struct {
		Title              string  `json:"title"`
		Description        string  `json:"description"`
		Priority           int     `json:"priority"`
		Category           string  `json:"category"`
		EstimatedHours     float64 `json:"estimated_hours"`
		DependsOn          []int   `json:"depends_on"`
		AcceptanceCriteria string  `json:"acceptance_criteria"`
	} `json:"todos"`
	Files []struct {
		Path    string `json:"path"`
		Action  string `json:"action"`
		Content string `json:"content"`
	} `json:"files"`
	Commands []string `json:"commands"`
}

func parseSolution(content string) (ports.Solution, error) {
	trimmed := strings.TrimSpace(content)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")

	var wire wireSolution
	if err := json.Unmarshal([]byte(strings.TrimSpace(trimmed)), &wire); err != nil {
		// A malformed completion is worth one more round trip.
		return ports.Solution{}, errs.Transient(errs.Wrap(err, "decode solution payload"))
	}

	out := ports.Solution{
		Summary:     wire.Summary,
		Explanation: wire.Explanation,
		Commands:    wire.Commands,
	}
	for i, todo := range wire.Todos {
		out.Todos = append(out.Todos, ports.SolutionTodo{
			Title:              todo.Title,
			Description:        todo.Description,
			Priority:           todo.Priority,
			Category:           todo.Category,
			OrderIndex:         i,
			EstimatedHours:     todo.EstimatedHours,
			DependsOnIndexes:   todo.DependsOn,
			AcceptanceCriteria: todo.AcceptanceCriteria,
		})
	}
	for _, file := range wire.Files {
		out.Files = append(out.Files, ports.FileChange{
			Path:    file.Path,
			Action:  file.Action,
			Content: file.Content,
		})
	}
	return out, nil
}

func classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == 429 || apiErr.StatusCode >= 500 {
			return errs.Transient(errs.Wrap(err, "chat completion"))
		}
		if apiErr.StatusCode == 401 || apiErr.StatusCode == 403 {
			return errs.Config(errs.Wrap(err, "chat completion"))
		}
		return errs.Wrap(err, "chat completion")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errs.Transient(errs.Wrap(err, "chat completion"))
	}
	return errs.Transient(errs.Wrap(err, "chat completion"))
}
