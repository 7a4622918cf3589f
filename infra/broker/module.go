package broker

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/playcore-platform/message-delivery-service/config"
)

var Module = fx.Module("broker",
	fx.Provide(
		fx.Annotate(
			func(cfg *config.Config, logger *slog.Logger) *Pool {
				return NewPool(Config{
					URL:            cfg.Broker.URL,
					MaxConnections: cfg.Broker.MaxConnections,
				}, logger)
			},
			fx.As(new(Opener)),
		),
	),

	fx.Invoke(func(lc fx.Lifecycle, opener Opener) {
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				if pool, ok := opener.(*Pool); ok {
					pool.Close()
				}
				return nil
			},
		})
	}),
)
