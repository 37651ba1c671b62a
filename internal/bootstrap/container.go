package bootstrap

import (
	"context"
	"time"

	"github.com/codehive-io/codehive/internal/config"
	"github.com/codehive-io/codehive/internal/infra/blob"
	"github.com/codehive-io/codehive/internal/infra/cache"
	"github.com/codehive-io/codehive/internal/infra/db"
	"github.com/codehive-io/codehive/internal/infra/logger"
	"github.com/codehive-io/codehive/internal/modules/handler"
	"github.com/codehive-io/codehive/internal/modules/model"
	"github.com/codehive-io/codehive/internal/modules/repo"
	"github.com/codehive-io/codehive/internal/modules/service"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/samber/do"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func BuildContainer() *do.Injector {
	inj := do.New()

	// config
	do.Provide(inj, func(i *do.Injector) (*config.Config, error) {
		return config.Load()
	})

	// logger
	do.Provide(inj, func(i *do.Injector) (*zap.Logger, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return logger.New(cfg.Log.Level)
	})

	// DB
	do.Provide(inj, func(i *do.Injector) (*gorm.DB, error) {
		cfg := do.MustInvoke[*config.Config](i)
		d, err := db.New(cfg)
		if err != nil {
			return nil, err
		}
		// [optional] auto migrate
		if cfg.Database.AutoMigrate {
			_ = d.AutoMigrate(
				&model.User{},
				&model.Project{},
			)
		}
		return d, nil
	})

	// Redis (optional: enables the cross-instance room relay)
	do.Provide(inj, func(i *do.Injector) (*redis.Client, error) {
		cfg := do.MustInvoke[*config.Config](i)
		if cfg.Redis.Addr == "" {
			return nil, nil
		}
		return cache.New(cfg), nil
	})

	// RabbitMQ Connection (optional: enables the ingest notification)
	do.Provide(inj, func(i *do.Injector) (*amqp.Connection, error) {
		cfg := do.MustInvoke[*config.Config](i)
		if cfg.RabbitMQ.URL == "" {
			return nil, nil
		}
		return amqp.Dial(cfg.RabbitMQ.URL)
	})

	// S3 (optional: enables the tree snapshot archive)
	do.Provide(inj, func(i *do.Injector) (*blob.S3Deps, error) {
		cfg := do.MustInvoke[*config.Config](i)
		if cfg.S3.Bucket == "" {
			return nil, nil
		}
		return blob.NewS3(context.Background(), cfg)
	})

	// Repo
	do.Provide(inj, func(i *do.Injector) (repo.UserRepo, error) {
		return repo.NewUserRepo(do.MustInvoke[*gorm.DB](i)), nil
	})
	do.Provide(inj, func(i *do.Injector) (repo.ProjectRepo, error) {
		return repo.NewProjectRepo(do.MustInvoke[*gorm.DB](i)), nil
	})

	// Service
	do.Provide(inj, func(i *do.Injector) (service.RoomRegistry, error) {
		return service.NewRoomRegistry(
			context.Background(),
			do.MustInvoke[*zap.Logger](i),
			do.MustInvoke[*redis.Client](i),
		), nil
	})
	do.Provide(inj, func(i *do.Injector) (service.ProcessRunner, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return service.NewProcessRunner(do.MustInvoke[*zap.Logger](i), cfg.Exec.MaxConcurrent), nil
	})
	do.Provide(inj, func(i *do.Injector) (service.CommandRelay, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return service.NewCommandRelay(
			do.MustInvoke[service.ProcessRunner](i),
			do.MustInvoke[service.RoomRegistry](i),
			do.MustInvoke[*zap.Logger](i),
			service.RelayOptions{
				Timeout:     time.Duration(cfg.Exec.CommandTimeoutSec) * time.Second,
				Interpreter: cfg.Exec.Interpreter,
				TempDir:     cfg.Exec.TempDir,
			},
		), nil
	})
	do.Provide(inj, func(i *do.Injector) (service.FileTreeBuilder, error) {
		return service.NewFileTreeBuilder(do.MustInvoke[*zap.Logger](i)), nil
	})
	do.Provide(inj, func(i *do.Injector) (service.Cloner, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return service.NewGitCloner(time.Duration(cfg.Projects.CloneTimeoutSec) * time.Second), nil
	})
	do.Provide(inj, func(i *do.Injector) (service.ProjectService, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return service.NewProjectService(
			do.MustInvoke[repo.ProjectRepo](i),
			do.MustInvoke[service.FileTreeBuilder](i),
			do.MustInvoke[service.Cloner](i),
			do.MustInvoke[*zap.Logger](i),
			do.MustInvoke[*blob.S3Deps](i),
			do.MustInvoke[*amqp.Connection](i),
			cfg.RabbitMQ.Queue,
		), nil
	})
	do.Provide(inj, func(i *do.Injector) (service.UserService, error) {
		return service.NewUserService(do.MustInvoke[repo.UserRepo](i)), nil
	})

	// Handler
	do.Provide(inj, func(i *do.Injector) (*handler.SyncHub, error) {
		return handler.NewSyncHub(
			do.MustInvoke[service.RoomRegistry](i),
			do.MustInvoke[service.CommandRelay](i),
			do.MustInvoke[service.ProjectService](i),
			do.MustInvoke[service.UserService](i),
			do.MustInvoke[*config.Config](i),
			do.MustInvoke[*zap.Logger](i),
		), nil
	})
	do.Provide(inj, func(i *do.Injector) (*handler.WSHandler, error) {
		return handler.NewWSHandler(
			do.MustInvoke[*handler.SyncHub](i),
			do.MustInvoke[*zap.Logger](i),
		), nil
	})

	return inj
}
