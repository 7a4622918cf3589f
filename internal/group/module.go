package group

import (
	"database/sql"
	"log/slog"

	"go.uber.org/fx"

	"github.com/playcore-platform/message-delivery-service/config"
	"github.com/playcore-platform/message-delivery-service/internal/history"
)

var Module = fx.Module("group",
	fx.Provide(func(db *sql.DB, store *history.Store, cfg *config.Config, logger *slog.Logger) *Directory {
		return NewDirectory(db, store, cfg.Group.ClusterSize, logger)
	}),
)
