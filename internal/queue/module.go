package queue

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/playcore-platform/message-delivery-service/config"
	"github.com/playcore-platform/message-delivery-service/infra/broker"
	"github.com/playcore-platform/message-delivery-service/internal/history"
)

var Module = fx.Module("queue",
	fx.Provide(func(cfg *config.Config, pool broker.Opener, store *history.Store, logger *slog.Logger) *Engine {
		return NewEngine(pool, store, Options{
			IncomingQueue: cfg.Queue.IncomingQueueName,
			Prefetch:      cfg.Queue.PrefetchCount,
			Workers:       cfg.Queue.OutgoingWorkers,
		}, logger)
	}),

	fx.Invoke(func(lc fx.Lifecycle, engine *Engine, store *history.Store) {
		// Mutations in the history store fan out through the engine.
		store.BindQueue(engine)

		lc.Append(fx.Hook{
			OnStart: engine.Start,
			OnStop: func(context.Context) error {
				engine.Stop()
				return nil
			},
		})
	}),
)
