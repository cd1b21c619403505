package main

import (
	"github.com/comnecter/verifymail/internal/application/delivery"
	"github.com/comnecter/verifymail/internal/config"
	"github.com/comnecter/verifymail/internal/infrastructure/sendgrid"
	"github.com/comnecter/verifymail/internal/pkg/logger"
	"go.uber.org/zap"
)

// app holds what every command needs to build a delivery path.
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	resolver *config.Resolver
	composer *delivery.Composer
	sender   sendgrid.EmailSender
}

func newApp() *app {
	cfg := config.Load()
	log := logger.New(cfg.AppEnv, cfg.LogLevel)
	sugar := log.Sugar()

	return &app{
		cfg: cfg,
		log: log,
		resolver: config.NewResolver(config.ResolverDeps{
			Legacy:   config.NewLegacyFile(cfg.LegacyConfigPath),
			CacheTTL: cfg.ConfigCacheTTL,
			Logger:   sugar.Named("config"),
		}),
		composer: delivery.NewComposer(nil),
		sender:   sendgrid.NewSender(cfg.SendGridHost, sugar.Named("sendgrid")),
	}
}

func (a *app) manualHandler() *delivery.ManualHandler {
	return delivery.NewManualHandler(delivery.ManualDeps{
		Resolver: a.resolver,
		Composer: a.composer,
		Sender:   a.sender,
		Logger:   a.log.Sugar().Named("manual"),
	})
}
