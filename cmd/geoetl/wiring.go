package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/mengeric/geoetl-go/backoff"
	"github.com/mengeric/geoetl-go/config"
	"github.com/mengeric/geoetl-go/jobdef"
	"github.com/mengeric/geoetl-go/jobs/helloworld"
	"github.com/mengeric/geoetl-go/logging"
	"github.com/mengeric/geoetl-go/orchestrator"
	"github.com/mengeric/geoetl-go/processor"
	"github.com/mengeric/geoetl-go/queue"
	"github.com/mengeric/geoetl-go/queue/memqueue"
	"github.com/mengeric/geoetl-go/queue/redisqueue"
	"github.com/mengeric/geoetl-go/state"
	"github.com/mengeric/geoetl-go/storage/gormstore"
	"github.com/mengeric/geoetl-go/storage/memstore"
)

// app 进程内组装好的编排组件。
type app struct {
	cfg     config.Config
	store   state.Store
	queue   queue.Queue
	manager *orchestrator.Manager
	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// buildApp 按配置组装存储、队列与注册表。
func buildApp(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{cfg: cfg}
	store, err := buildStore(ctx, cfg.Store, a)
	if err != nil {
		a.Close()
		return nil, err
	}
	q, err := buildQueue(ctx, cfg.Queue, a)
	if err != nil {
		a.Close()
		return nil, err
	}
	defs, procs, err := buildRegistries()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store, a.queue = store, q
	a.manager = orchestrator.NewManager(store, q, defs, procs,
		orchestrator.WithQueues(cfg.Queue.TaskQueue, cfg.Queue.JobQueue),
		orchestrator.WithMaxRetries(cfg.Retry.MaxRetries),
		orchestrator.WithBackoff(backoff.FromSeconds(cfg.Retry.BackoffBaseSeconds, cfg.Retry.BackoffMultiplier, cfg.Retry.BackoffMaxSeconds)),
		orchestrator.WithFailFast(*cfg.Orchestrator.FailFast),
	)
	return a, nil
}

// buildRegistries 启动时构造只读注册表；作业定义与处理器不一致时启动失败。
func buildRegistries() (*jobdef.Registry, *processor.Registry, error) {
	procs, err := processor.NewRegistry(helloworld.Processors())
	if err != nil {
		return nil, nil, err
	}
	defs, err := jobdef.NewRegistry(procs, helloworld.Definition{})
	if err != nil {
		return nil, nil, err
	}
	return defs, procs, nil
}

func buildStore(ctx context.Context, c config.Store, a *app) (state.Store, error) {
	var dialector gorm.Dialector
	switch c.Driver {
	case "memory":
		return memstore.New(), nil
	case "sqlite":
		dialector = sqlite.Open(c.DSN)
	case "postgres":
		dialector = postgres.Open(c.DSN)
	default:
		return nil, fmt.Errorf("unknown store driver %q", c.Driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", c.Driver, err)
	}
	if sqlDB, err := db.DB(); err == nil {
		a.closers = append(a.closers, func() { _ = sqlDB.Close() })
		if c.Driver == "sqlite" {
			// sqlite 单写者
			sqlDB.SetMaxOpenConns(1)
		}
	}
	s := gormstore.New(db)
	mctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := s.Migrate(mctx); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	logging.L().Info(ctx, "store ready", "driver", c.Driver)
	return s, nil
}

func buildQueue(ctx context.Context, c config.Queue, a *app) (queue.Queue, error) {
	switch c.Driver {
	case "memory":
		return memqueue.New(memqueue.WithVisibility(c.VisibilityTimeout), memqueue.WithMaxDeliveries(c.MaxDeliveries)), nil
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: c.RedisAddr})
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rdb.Ping(pctx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping %s: %w", c.RedisAddr, err)
		}
		logging.L().Info(ctx, "queue ready", "driver", "redis", "addr", c.RedisAddr)
		return redisqueue.New(rdb, redisqueue.Options{Visibility: c.VisibilityTimeout, MaxDeliveries: c.MaxDeliveries}), nil
	default:
		return nil, fmt.Errorf("unknown queue driver %q", c.Driver)
	}
}
