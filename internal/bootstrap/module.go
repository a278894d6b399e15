package bootstrap

import (
	"context"
	"log/slog"

	"go.uber.org/fx"
	"gorm.io/gorm"

	"ticketpilot/internal/bootstrap/config"
	"ticketpilot/internal/bootstrap/database"
	"ticketpilot/internal/bootstrap/logging"
	"ticketpilot/internal/infrastructure/ai"
	aigen "ticketpilot/internal/infrastructure/ai/openai"
	cacheinfra "ticketpilot/internal/infrastructure/cache"
	"ticketpilot/internal/infrastructure/notify"
	sqliterepo "ticketpilot/internal/infrastructure/persistence/sqlite/repository"
	sqliteuow "ticketpilot/internal/infrastructure/persistence/sqlite/uow"
	trackergh "ticketpilot/internal/infrastructure/tracker/github"
	vcsgh "ticketpilot/internal/infrastructure/vcs/github"
	"ticketpilot/internal/ports"
	"ticketpilot/internal/transport/httpapi"
	"ticketpilot/internal/usecase/meter"
	"ticketpilot/internal/usecase/pipeline"
	"ticketpilot/internal/usecase/retry"
)

var Module = fx.Options(
	fx.Provide(provideConfig),
	fx.Provide(provideDatabase),
	fx.Provide(provideApp),
	fx.Provide(provideProviders),
	fx.Provide(
		func(cfg config.Config) config.PipelineConfig { return cfg.Pipeline },
		func(cfg config.Config) config.SessionsConfig { return cfg.Sessions },
	),
	fx.Provide(
		fx.Annotate(
			sqliterepo.NewTicketRepository,
			fx.As(new(ports.TicketRepository)),
		),
		fx.Annotate(
			sqliterepo.NewSessionRepository,
			fx.As(new(ports.SessionRepository)),
		),
		fx.Annotate(
			sqliterepo.NewRetryRepository,
			fx.As(new(ports.RetryRepository)),
		),
		fx.Annotate(
			sqliteuow.NewUnitOfWork,
			fx.As(new(ports.UnitOfWork)),
		),
		fx.Annotate(
			cacheinfra.NewSQLiteCache,
			fx.As(new(ports.Cache)),
		),
	),
	fx.Provide(provideTracker),
	fx.Provide(provideGenerator),
	fx.Provide(providePublisher),
	fx.Provide(provideEvents),
	fx.Provide(meter.NewService),
	fx.Provide(retry.NewCoordinator),
	fx.Provide(pipeline.NewMachine),
	fx.Provide(pipeline.NewRunner),
	fx.Provide(pipeline.NewService),
	fx.Provide(httpapi.NewHandler),
)

type configParams struct {
	fx.In

	Ctx        context.Context
	ConfigFile string `name:"configFile"`
}

func provideConfig(p configParams) (config.Config, error) {
	ctx := logging.WithAttrs(p.Ctx, slog.String("component", "bootstrap.fx"))
	return config.Load(ctx, p.ConfigFile)
}

func provideDatabase(lc fx.Lifecycle, ctx context.Context, cfg config.Config) (*gorm.DB, error) {
	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.fx"))

	db, err := database.Open(logCtx, cfg.Database)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	})

	return db, nil
}

func provideApp(cfg config.Config, db *gorm.DB) *App {
	return &App{
		Config: cfg,
		DB:     db,
	}
}

func provideProviders(ctx context.Context, cfg config.Config) (config.ProviderProfile, error) {
	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.fx"))
	return config.LoadProviders(logCtx, cfg.Providers.File)
}

func provideTracker(ctx context.Context, profile config.ProviderProfile) ports.TicketSource {
	return trackergh.NewTracker(ctx, profile.Tracker)
}

// provideGenerator wires the primary AI provider, wrapped with the fallback
// when the profile configures one.
func provideGenerator(profile config.ProviderProfile) ports.SolutionGenerator {
	primary := aigen.NewGenerator(profile.AI)
	if !profile.AI.HasFallback() {
		return primary
	}
	return ai.NewFallbackGenerator(primary, aigen.NewFallbackGenerator(profile.AI))
}

func providePublisher(ctx context.Context, profile config.ProviderProfile) ports.Publisher {
	return vcsgh.NewPublisher(ctx, profile.VCS)
}

func provideEvents(lc fx.Lifecycle, ctx context.Context, cfg config.Config) (ports.EventPublisher, error) {
	if !cfg.Notify.Enabled {
		return notify.NewLogPublisher(), nil
	}

	publisher, err := notify.NewNATSPublisher(cfg.Notify.NATSURL, cfg.Notify.SubjectPrefix)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			publisher.Close()
			return nil
		},
	})
	logging.Info(ctx, "nats notification publisher enabled",
		slog.String("subject_prefix", cfg.Notify.SubjectPrefix))
	return publisher, nil
}
