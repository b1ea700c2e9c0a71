package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/miladsoleymani/ackmux/broker"
	"github.com/miladsoleymani/ackmux/core"
	"github.com/miladsoleymani/ackmux/core/middleware"
	"github.com/miladsoleymani/ackmux/internal/config"
	"github.com/miladsoleymani/ackmux/internal/logger"
	"github.com/miladsoleymani/ackmux/internal/obs"
	"github.com/miladsoleymani/ackmux/plugins/postgres"
)

func newRunCmd() *cobra.Command {
	var batch bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the listener container and log every delivery",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, batch)
		},
	}
	cmd.Flags().BoolVar(&batch, "batch", false, "deliver each poll to a single batch handler")
	return cmd
}

func run(ctx context.Context, batch bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	b, err := broker.Create(cfg.Broker.Type, cfg.BrokerConfig(log))
	if err != nil {
		return err
	}

	opts, err := cfg.ContainerOptions()
	if err != nil {
		return err
	}

	var store *postgres.OffsetStore
	if cfg.Broker.TransactionalIDPrefix != "" {
		tm, err := broker.TransactionManager(b)
		if err != nil {
			return err
		}
		opts = append(opts, core.WithTransactionManager(tm))

		if cfg.Postgres.DSN != "" {
			db, err := postgres.Open(ctx, postgres.DBConfig{DSN: cfg.Postgres.DSN, MaxOpenConns: cfg.Postgres.MaxOpenConns})
			if err != nil {
				return err
			}
			defer db.Close()
			store = postgres.NewOffsetStore(db)
			opts = append(opts, core.WithParticipants(postgres.NewParticipant(db, postgres.DefaultName, nil)))
		}
	}

	props, err := core.NewProperties(opts...)
	if err != nil {
		return err
	}

	c := core.New(b, props)
	c.SetLogger(log)
	c.Use(middleware.Recovery(log))
	c.Use(middleware.Logging(log))

	if props.MetricsEnabled() {
		metrics := obs.NewMetrics(prometheus.DefaultRegisterer, props.MetricsTags())
		c.SetObserver(metrics)
		c.Use(middleware.Metrics(metrics))
		go func() {
			if err := obs.StartMetricsServer(ctx, cfg.Metrics.Port, prometheus.DefaultGatherer, log); err != nil {
				log.Error("Metrics server failed", zap.Error(err))
			}
		}()
	}

	handler := deliveryHandler(log, props, store)
	if batch {
		c.HandleBatch(handler)
	} else {
		c.Handle("#", handler)
	}

	go func() {
		for err := range c.Failures() {
			log.Error("Container fault", zap.Error(err))
		}
	}()

	log.Info("Starting ackmux",
		zap.String("broker", cfg.Broker.Type),
		zap.Stringer("ackMode", props.AckMode()),
		zap.Bool("transactional", props.Transactional()),
	)
	return c.Start(ctx)
}

// deliveryHandler logs each record, saves progress in the participant's
// transaction when a database is configured and acknowledges in manual modes.
func deliveryHandler(log *zap.Logger, props *core.Properties, store *postgres.OffsetStore) core.HandlerFunc {
	return func(c core.Context) error {
		for _, m := range c.Messages() {
			log.Info("Record received",
				zap.String("topic", m.Topic()),
				zap.Int("partition", m.Partition()),
				zap.Int64("offset", m.Offset()),
				zap.ByteString("value", m.Value()),
			)
		}
		if store != nil {
			if tx, ok := postgres.TxFromContext(c, postgres.DefaultName); ok {
				if err := store.Save(c.Context(), tx, props.GroupID(), core.OffsetsOf(c.Messages())); err != nil {
					return err
				}
			}
		}
		if props.AckMode().Manual() {
			return c.Ack()
		}
		return nil
	}
}
