package storage

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/fx"

	"github.com/playcore-platform/message-delivery-service/config"
)

var Module = fx.Module("storage",
	fx.Provide(func(lc fx.Lifecycle, cfg *config.Config) (*sql.DB, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		db, err := Open(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error { return db.Close() },
		})
		return db, nil
	}),
)
