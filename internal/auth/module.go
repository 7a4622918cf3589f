package auth

import (
	"go.uber.org/fx"

	"github.com/playcore-platform/message-delivery-service/config"
)

var Module = fx.Module("auth",
	fx.Provide(func(cfg *config.Config) *Verifier {
		return NewVerifier(cfg.Auth.TokenSecret)
	}),
)
