package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/comnecter/verifymail/internal/application/delivery"
	"github.com/comnecter/verifymail/internal/config"
	"github.com/comnecter/verifymail/internal/domain"
	"github.com/comnecter/verifymail/internal/infrastructure/dynamo"
	"github.com/comnecter/verifymail/internal/infrastructure/kafka"
	"github.com/comnecter/verifymail/internal/infrastructure/sns"
	"github.com/comnecter/verifymail/internal/infrastructure/streams"
	transporthttp "github.com/comnecter/verifymail/internal/transport/http"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the trigger source and the HTTP endpoint",
	Long: `Start verifymail.

The server will:
  - attach the trigger handler to TRIGGER_SOURCE (dynamodb, kafka or none)
  - serve POST /v1/sendVerificationEmailManual, health checks and /metrics
  - reload the legacy runtime config when LEGACY_CONFIG_PATH changes`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := newApp()
	defer func() { _ = a.log.Sync() }()
	cfg, log := a.cfg, a.log.Sugar()

	tmpl, err := domain.ParsePathTemplate(cfg.RecordPath)
	if err != nil {
		return fmt.Errorf("RECORD_PATH: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.TriggerSource != config.TriggerNone {
		run, err := a.triggerSource(gctx, tmpl)
		if err != nil {
			return err
		}
		g.Go(func() error { return run(gctx) })
	}

	g.Go(func() error {
		err := config.WatchLegacyFile(gctx, cfg.LegacyConfigPath, a.resolver.Invalidate, log.Named("config"))
		if err != nil {
			log.Warnw("legacy config reload disabled", "path", cfg.LegacyConfigPath, "err", err)
		}
		return nil
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      transporthttp.NewRouter(gctx, cfg, &transporthttp.Deps{Manual: a.manualHandler(), Logger: a.log.Named("http")}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	g.Go(func() error {
		log.Infow("server starting", "port", cfg.AppPort, "env", cfg.AppEnv, "trigger_source", cfg.TriggerSource)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	log.Info("server stopped")
	return err
}

// triggerSource wires the reactive handler to the configured source and returns its run loop.
func (a *app) triggerSource(ctx context.Context, tmpl domain.PathTemplate) (func(context.Context) error, error) {
	cfg, log := a.cfg, a.log.Sugar()

	awsCfg, err := dynamo.LoadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	ddb := dynamo.NewClient(awsCfg, cfg)
	if cfg.AutoBootstrap {
		dynamo.Bootstrap(ctx, ddb, cfg.DynamoTables, log.Named("dynamo"))
	}

	records := dynamo.NewVerificationCodeRepo(ddb, cfg.DynamoTables.VerificationCodes)
	deps := delivery.TriggerDeps{
		Resolver: a.resolver,
		Composer: a.composer,
		Sender:   a.sender,
		Recorder: delivery.NewOutcomeRecorder(records, log.Named("recorder")),
		Records:  records,
		Logger:   log.Named("trigger"),
	}
	alerter, err := sns.NewAlerter(ctx, cfg)
	if err != nil {
		log.Warnw("operator alerts disabled", "err", err)
	} else if alerter != nil {
		deps.Alerter = alerter
	}
	trigger, err := delivery.NewTriggerHandler(deps)
	if err != nil {
		return nil, err
	}
	handle := func(ctx context.Context, ev domain.CreatedEvent) { trigger.Handle(ctx, ev) }

	switch cfg.TriggerSource {
	case config.TriggerDynamoStreams:
		arn := cfg.StreamARN
		if arn == "" {
			if arn, err = dynamo.LatestStreamARN(ctx, ddb, cfg.DynamoTables.VerificationCodes); err != nil {
				return nil, err
			}
		}
		wcfg := streams.WatcherConfig{
			StreamARN:    arn,
			Template:     tmpl,
			IteratorType: cfg.StreamIteratorType,
			PollInterval: cfg.StreamPollInterval,
		}
		if cfg.StreamCheckpointing {
			wcfg.Checkpoints = dynamo.NewCheckpointRepo(ddb, cfg.DynamoTables.StreamCheckpoints)
		}
		w := streams.NewWatcher(streams.NewClient(awsCfg, cfg), wcfg, handle, log.Named("streams"))
		return w.Run, nil

	case config.TriggerKafka:
		reader, err := kafka.NewReader(kafka.ReaderConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
			GroupID: cfg.KafkaGroupID,
		})
		if err != nil {
			return nil, err
		}
		return kafka.NewConsumer(reader, tmpl, handle, log.Named("kafka")).Run, nil
	}
	return nil, fmt.Errorf("unknown TRIGGER_SOURCE %q", cfg.TriggerSource)
}
