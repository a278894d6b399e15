package config

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"ticketpilot/internal/bootstrap/logging"
	"ticketpilot/internal/errs"
)

// ProviderProfile is the providers.toml contents: which concrete tracker,
// AI and VCS providers to use and their credentials. Loaded once at process
// start and passed by reference, like the main config.
type ProviderProfile struct {
	Tracker TrackerProfile `toml:"tracker"`
	AI      AIProfile      `toml:"ai"`
	VCS     VCSProfile     `toml:"vcs"`
}

type TrackerProfile struct {
	Kind  string `toml:"kind"`
	Owner string `toml:"owner"`
	Repo  string `toml:"repo"`
	Token string `toml:"token"`
	// StatusMap maps lifecycle milestones (picked_up, completed,
	// requires_review, failed) to tracker-side status strings.
	StatusMap       map[string]string `toml:"status_map"`
	AllowedStatuses []string          `toml:"allowed_statuses"`
}

type AIProfile struct {
	Provider        string `toml:"provider"`
	Model           string `toml:"model"`
	Token           string `toml:"token"`
	BaseURL         string `toml:"base_url"`
	MaxInputTokens  int64  `toml:"max_input_tokens"`
	MaxOutputTokens int64  `toml:"max_output_tokens"`

	// FallbackProvider is substituted transparently when the primary fails
	// validation or connectivity.
	FallbackProvider string `toml:"fallback_provider"`
	FallbackModel    string `toml:"fallback_model"`
	FallbackToken    string `toml:"fallback_token"`
	FallbackBaseURL  string `toml:"fallback_base_url"`
}

type VCSProfile struct {
	Owner      string `toml:"owner"`
	Repo       string `toml:"repo"`
	Token      string `toml:"token"`
	BaseBranch string `toml:"base_branch"`
}

func LoadProviders(ctx context.Context, path string) (ProviderProfile, error) {
	if ctx == nil {
		return ProviderProfile{}, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return ProviderProfile{}, errs.Wrap(err, "check context")
	}

	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.providers"))

	raw, err := os.ReadFile(path)
	if err != nil {
		return ProviderProfile{}, errs.Wrapf(err, "read provider profile %q", path)
	}

	var profile ProviderProfile
	if err := toml.Unmarshal(raw, &profile); err != nil {
		return ProviderProfile{}, errs.Wrap(err, "parse provider profile")
	}

	if profile.Tracker.Kind == "" {
		profile.Tracker.Kind = "github"
	}
	if profile.VCS.BaseBranch == "" {
		profile.VCS.BaseBranch = "main"
	}
	if len(profile.Tracker.AllowedStatuses) == 0 {
		profile.Tracker.AllowedStatuses = []string{"open"}
	}

	logging.Info(
		logCtx,
		"provider profile loaded",
		slog.String("tracker", profile.Tracker.Kind),
		slog.String("ai_provider", profile.AI.Provider),
		slog.String("ai_fallback", profile.AI.FallbackProvider),
	)

	return profile, nil
}

// HasFallback reports whether the AI profile configures a usable fallback.
func (p AIProfile) HasFallback() bool {
	return strings.TrimSpace(p.FallbackProvider) != ""
}
