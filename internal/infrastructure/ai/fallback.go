package ai

import (
	"context"
	"log/slog"

	"ticketpilot/internal/bootstrap/logging"
	"ticketpilot/internal/errs"
	"ticketpilot/internal/ports"
)

// FallbackGenerator substitutes a configured fallback provider when the
// primary is judged unavailable: a config validation failure or a transient
// generation failure. The substitution is recorded on the solution for
// audit.
type FallbackGenerator struct {
	primary  ports.SolutionGenerator
	fallback ports.SolutionGenerator
}

var _ ports.SolutionGenerator = (*FallbackGenerator)(nil)

func NewFallbackGenerator(primary, fallback ports.SolutionGenerator) *FallbackGenerator {
	return &FallbackGenerator{primary: primary, fallback: fallback}
}

func (g *FallbackGenerator) Name() string { return g.primary.Name() }

func (g *FallbackGenerator) ModelInfo() ports.ModelInfo { return g.primary.ModelInfo() }

func (g *FallbackGenerator) ValidateConfig(ctx context.Context) error {
	if err := g.primary.ValidateConfig(ctx); err != nil {
		if g.fallback != nil {
			return g.fallback.ValidateConfig(ctx)
		}
		return err
	}
	return nil
}

func (g *FallbackGenerator) Generate(ctx context.Context, req ports.SolutionRequest) (ports.Solution, error) {
	logCtx := logging.WithAttrs(ctx, slog.String("component", "ai.fallback"))

	if err := g.primary.ValidateConfig(ctx); err != nil {
		return g.generateWithFallback(logCtx, req, err)
	}

	solution, err := g.primary.Generate(ctx, req)
	if err == nil {
		return solution, nil
	}
	if g.fallback == nil || errs.Classify(err) == errs.KindBusiness {
		return ports.Solution{}, err
	}

	return g.generateWithFallback(logCtx, req, err)
}

func (g *FallbackGenerator) generateWithFallback(ctx context.Context, req ports.SolutionRequest, cause error) (ports.Solution, error) {
	if g.fallback == nil {
		return ports.Solution{}, cause
	}

	logging.Warn(ctx, "primary solution provider unavailable, using fallback",
		slog.String("primary", g.primary.Name()),
		slog.String("fallback", g.fallback.Name()),
		slog.Any("err", errs.Loggable(cause)))

	solution, err := g.fallback.Generate(ctx, req)
	if err != nil {
		return ports.Solution{}, errs.Wrap(err, "fallback provider")
	}
	solution.FallbackUsed = true
	return solution, nil
}
