package rest

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/playcore-platform/message-delivery-service/internal/auth"
	"github.com/playcore-platform/message-delivery-service/internal/group"
	"github.com/playcore-platform/message-delivery-service/internal/history"
	"github.com/playcore-platform/message-delivery-service/internal/queue"
)

var Module = fx.Module("rest-handler",
	fx.Provide(func(logger *slog.Logger, verifier *auth.Verifier, store *history.Store, groups *group.Directory, engine *queue.Engine) *RESTHandler {
		return NewRESTHandler(logger, verifier, store, groups, engine)
	}),
)
