package openai

import (
	"context"
	"testing"

	"ticketpilot/internal/bootstrap/config"
	"ticketpilot/internal/errs"
)

const sampleCompletion = `{
  "summary": "Patch the login redirect",
  "explanation": "Adjust the redirect target.",
  "todos": [
    {"title": "Reproduce", "priority": 2, "estimated_hours": 0.5, "depends_on": []},
    {"title": "Fix handler", "priority": 1, "estimated_hours": 1, "depends_on": [0]}
  ],
  "files": [{"path": "internal/auth/redirect.go", "action": "edit", "content": "package auth"}],
  "commands": ["go test ./..."]
}`

func TestParseSolution(t *testing.T) {
	solution, err := parseSolution(sampleCompletion)
	if err != nil {
		t.Fatalf("parseSolution() error = %v", err)
	}

	if solution.Summary != "Patch the login redirect" {
		t.Fatalf("Summary = %q", solution.Summary)
	}
	if len(solution.Todos) != 2 {
		t.Fatalf("todos = %d, want 2", len(solution.Todos))
	}
	if solution.Todos[0].OrderIndex != 0 || solution.Todos[1].OrderIndex != 1 {
		t.Fatalf("order indexes = %d/%d", solution.Todos[0].OrderIndex, solution.Todos[1].OrderIndex)
	}
	if len(solution.Todos[1].DependsOnIndexes) != 1 || solution.Todos[1].DependsOnIndexes[0] != 0 {
		t.Fatalf("DependsOnIndexes = %v", solution.Todos[1].DependsOnIndexes)
	}
	if len(solution.Files) != 1 || solution.Files[0].Action != "edit" {
		t.Fatalf("Files = %+v", solution.Files)
	}
	if len(solution.Commands) != 1 {
		t.Fatalf("Commands = %v", solution.Commands)
	}
}

func TestParseSolutionStripsCodeFence(t *testing.T) {
	fenced := "```json\n" + sampleCompletion + "\n```"
	solution, err := parseSolution(fenced)
	if err != nil {
		t.Fatalf("parseSolution(fenced) error = %v", err)
	}
	if solution.Summary == "" {
		t.Fatal("fenced payload not decoded")
	}
}

func TestParseSolutionMalformedIsTransient(t *testing.T) {
	_, err := parseSolution("the model rambled instead of emitting JSON")
	if err == nil {
		t.Fatal("malformed payload accepted")
	}
	if !errs.IsTransient(err) {
		t.Fatalf("malformed payload classified %v, want transient", errs.Classify(err))
	}
}

func TestValidateConfigRequiresToken(t *testing.T) {
	g := NewGenerator(config.AIProfile{Provider: "openai", Model: "gpt-4o-mini"})
	err := g.ValidateConfig(context.Background())
	if err == nil {
		t.Fatal("missing token accepted")
	}
	if errs.Classify(err) != errs.KindConfig {
		t.Fatalf("missing token classified %v, want config", errs.Classify(err))
	}

	g = NewGenerator(config.AIProfile{Provider: "openai", Model: "gpt-4o-mini", Token: "sk-test"})
	if err := g.ValidateConfig(context.Background()); err != nil {
		t.Fatalf("ValidateConfig() error = %v", err)
	}
}
