package server

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("server",
	fx.Provide(NewServer),

	fx.Invoke(func(lc fx.Lifecycle, s *Server) {
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				s.Start()
				return nil
			},
			OnStop: s.Stop,
		})
	}),
)
