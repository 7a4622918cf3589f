package conversation

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/playcore-platform/message-delivery-service/infra/broker"
	"github.com/playcore-platform/message-delivery-service/internal/group"
	"github.com/playcore-platform/message-delivery-service/internal/history"
	"github.com/playcore-platform/message-delivery-service/internal/queue"
)

var Module = fx.Module("conversation",
	fx.Provide(func(pool broker.Opener, groups *group.Directory, store *history.Store, engine *queue.Engine, logger *slog.Logger) *Registry {
		return NewRegistry(pool, groups, store, engine, logger)
	}),

	fx.Invoke(func(groups *group.Directory, registry *Registry) {
		// Joins reach online sessions immediately instead of waiting for
		// the next attach.
		groups.BindOnline(registry)
	}),
)
