package fx

import (
	"clash-intelligence/internal/api"
	"clash-intelligence/internal/config"
	"clash-intelligence/internal/database"
	"clash-intelligence/internal/logger"
	"clash-intelligence/internal/repository"
	"clash-intelligence/internal/server"
	"clash-intelligence/internal/service"

	"go.uber.org/fx"
)

var Module = fx.Options(
	fx.Provide(logger.New),
	fx.Provide(config.Load),
	fx.Provide(database.New),
	// repos
	fx.Provide(repository.NewSnapshotRepository),
	fx.Provide(repository.NewPlayerDayRepository),
	fx.Provide(repository.NewTenureRepository),
	fx.Provide(repository.NewJobRepository),
	// api client
	fx.Provide(api.NewCoCClient),
	// svc
	fx.Provide(service.NewTenureService),
	fx.Provide(service.NewScoreService),
	fx.Provide(service.NewIngestionService),
	fx.Provide(service.NewJobQueue),
	// server
	fx.Provide(server.NewServer),
)
