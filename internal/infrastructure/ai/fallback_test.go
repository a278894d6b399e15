package ai

import (
	"context"
	"errors"
	"testing"

	"ticketpilot/internal/errs"
	"ticketpilot/internal/ports"
)

type stubGenerator struct {
	name        string
	solution    ports.Solution
	generateErr error
	validateErr error
	calls       int
}

func (s *stubGenerator) Name() string               { return s.name }
func (s *stubGenerator) ModelInfo() ports.ModelInfo { return ports.ModelInfo{Model: s.name} }
func (s *stubGenerator) ValidateConfig(_ context.Context) error { return s.validateErr }

func (s *stubGenerator) Generate(_ context.Context, _ ports.SolutionRequest) (ports.Solution, error) {
	s.calls++
	if s.generateErr != nil {
		return ports.Solution{}, s.generateErr
	}
	return s.solution, nil
}

func TestPrimarySuccessSkipsFallback(t *testing.T) {
	primary := &stubGenerator{name: "primary", solution: ports.Solution{Summary: "from primary"}}
	fallback := &stubGenerator{name: "fallback"}
	g := NewFallbackGenerator(primary, fallback)

	solution, err := g.Generate(context.Background(), ports.SolutionRequest{})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if solution.FallbackUsed {
		t.Fatal("FallbackUsed set on primary success")
	}
	if fallback.calls != 0 {
		t.Fatal("fallback called despite primary success")
	}
}

func TestTransientPrimaryFailureUsesFallback(t *testing.T) {
	primary := &stubGenerator{name: "primary", generateErr: errs.Transient(errors.New("503"))}
	fallback := &stubGenerator{name: "fallback", solution: ports.Solution{Summary: "from fallback"}}
	g := NewFallbackGenerator(primary, fallback)

	solution, err := g.Generate(context.Background(), ports.SolutionRequest{})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if !solution.FallbackUsed {
		t.Fatal("FallbackUsed not recorded on substitution")
	}
	if solution.Summary != "from fallback" {
		t.Fatalf("Summary = %q", solution.Summary)
	}
}

func TestInvalidPrimaryConfigUsesFallbackWithoutCallingPrimary(t *testing.T) {
	primary := &stubGenerator{name: "primary", validateErr: errs.Config(errors.New("no token"))}
	fallback := &stubGenerator{name: "fallback", solution: ports.Solution{Summary: "from fallback"}}
	g := NewFallbackGenerator(primary, fallback)

	solution, err := g.Generate(context.Background(), ports.SolutionRequest{})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if !solution.FallbackUsed {
		t.Fatal("FallbackUsed not recorded")
	}
	if primary.calls != 0 {
		t.Fatal("primary called despite failed validation")
	}
}

func TestBusinessFailureIsNotSubstituted(t *testing.T) {
	cause := errs.Business(errors.New("request exceeds model input limit"))
	primary := &stubGenerator{name: "primary", generateErr: cause}
	fallback := &stubGenerator{name: "fallback"}
	g := NewFallbackGenerator(primary, fallback)

	if _, err := g.Generate(context.Background(), ports.SolutionRequest{}); !errors.Is(err, cause) {
		t.Fatalf("Generate() = %v, want the business error", err)
	}
	if fallback.calls != 0 {
		t.Fatal("fallback called for a business failure")
	}
}

func TestFallbackFailureSurfaces(t *testing.T) {
	primary := &stubGenerator{name: "primary", generateErr: errs.Transient(errors.New("503"))}
	fallback := &stubGenerator{name: "fallback", generateErr: errs.Transient(errors.New("also down"))}
	g := NewFallbackGenerator(primary, fallback)

	if _, err := g.Generate(context.Background(), ports.SolutionRequest{}); err == nil {
		t.Fatal("both providers down but Generate succeeded")
	}
}
