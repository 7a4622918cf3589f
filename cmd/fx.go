package cmd

import (
	"log/slog"
	"os"

	"go.uber.org/fx"

	"github.com/playcore-platform/message-delivery-service/config"
	"github.com/playcore-platform/message-delivery-service/infra/broker"
	"github.com/playcore-platform/message-delivery-service/infra/storage"
	"github.com/playcore-platform/message-delivery-service/internal/auth"
	"github.com/playcore-platform/message-delivery-service/internal/conversation"
	"github.com/playcore-platform/message-delivery-service/internal/group"
	"github.com/playcore-platform/message-delivery-service/internal/handler/rest"
	"github.com/playcore-platform/message-delivery-service/internal/handler/ws"
	"github.com/playcore-platform/message-delivery-service/internal/history"
	"github.com/playcore-platform/message-delivery-service/internal/queue"
	"github.com/playcore-platform/message-delivery-service/internal/server"
)

func NewApp(cfg *config.Config) *fx.App {
	return fx.New(
		fx.Provide(
			func() *config.Config { return cfg },
			ProvideLogger,
		),
		broker.Module,
		storage.Module,
		history.Module,
		group.Module,
		queue.Module,
		conversation.Module,
		auth.Module,
		ws.Module,
		rest.Module,
		server.Module,
	)
}

// ProvideLogger builds the process-wide structured logger. The level comes
// from the configuration; unknown values fall back to info.
func ProvideLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}
