package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/workorders/pkg/api"
	"github.com/openfroyo/workorders/pkg/config"
	"github.com/openfroyo/workorders/pkg/engine"
	"github.com/openfroyo/workorders/pkg/inventory"
	"github.com/openfroyo/workorders/pkg/notify"
	"github.com/openfroyo/workorders/pkg/policy"
	"github.com/openfroyo/workorders/pkg/provisioner"
	"github.com/openfroyo/workorders/pkg/segments"
	"github.com/openfroyo/workorders/pkg/stores"
	"github.com/openfroyo/workorders/pkg/telemetry"
	"github.com/openfroyo/workorders/pkg/transports/ssh"
)

func newServeCommand(info buildInfo) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		Long: `Run the workorder HTTP service.

The database schema is migrated on startup. SIGINT and SIGTERM drain in-flight
requests before exiting; SIGHUP reloads the inventory catalog.`,
		Example: `  # Serve with defaults (sqlite in ./data, :8000)
  workorderd serve

  # Serve from a config file on another port
  workorderd serve --config /etc/workorders/workorders.yaml --listen :9000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Server.ListenAddress = listen
			}
			cfg.Telemetry.ServiceVersion = info.Version
			return serve(cmd.Context(), cfg, info)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address, overrides server.listen_address")

	return cmd
}

func serve(ctx context.Context, cfg *config.Config, info buildInfo) error {
	tel, err := telemetry.NewTelemetry(&cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	logger := tel.Logger.Zerolog()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Telemetry shutdown failed")
		}
	}()

	store, err := openStore(ctx, cfg.StoreConfig())
	if err != nil {
		return err
	}
	defer store.Close()

	catalog, err := inventory.LoadFromFile(cfg.Inventory.Path, logger)
	if err != nil {
		return err
	}

	reviewer, err := newReviewer(ctx, cfg.Policy, logger)
	if err != nil {
		return err
	}

	if cfg.NATS.URL != "" {
		nc, err := notify.Connect(cfg.NATS.URL, cfg.NATS.ClientName, logger)
		if err != nil {
			return err
		}
		defer notify.Close(nc)
		notify.NewForwarder(nc, cfg.NATS.SubjectPrefix, logger).Attach(tel.Events)
	}

	var runner provisioner.Runner
	if cfg.BuildHost.Enabled() {
		client, err := ssh.NewClient(cfg.BuildHost, logger)
		if err != nil {
			return err
		}
		defer client.Close()
		runner = ssh.NewRunner(client, logger)
		log.Info().Str("host", cfg.BuildHost.Host).Msg("Provisioning on remote build host")
	}

	opts := []engine.Option{engine.WithLogger(logger), engine.WithTelemetry(tel)}
	workOrders := engine.NewWorkOrderService(store,
		provisioner.New(cfg.Provisioner, runner, logger),
		append(opts, engine.WithReviewer(reviewer))...)
	networkOrders := engine.NewNetworkOrderService(store, segments.NewAdapter(nil, logger), opts...)

	server := api.NewServer(api.Config{
		ListenAddress:   cfg.Server.ListenAddress,
		CORSOrigins:     cfg.Server.CORSOrigins,
		RequestTimeout:  cfg.Server.RequestTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		Version:         info.Version,
	}, api.Deps{
		WorkOrders:    workOrders,
		NetworkOrders: networkOrders,
		Catalog:       catalog,
		Store:         store,
		Telemetry:     tel,
		Logger:        logger,
	})

	errCh := make(chan error, 2)
	go func() { errCh <- server.Start() }()
	go func() {
		if err := <-tel.Metrics.StartMetricsServer(); err != nil {
			errCh <- err
		}
	}()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Shutting down HTTP service")
			return server.Stop(context.Background())
		case err := <-errCh:
			return err
		case <-hup:
			if err := catalog.Reload(); err != nil {
				log.Error().Err(err).Msg("Inventory reload failed, keeping previous catalog")
			}
		}
	}
}

func openStore(ctx context.Context, cfg stores.Config) (*stores.SQLStore, error) {
	if cfg.Driver != stores.DriverPostgres && cfg.DSN != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DSN), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	store, err := stores.NewSQLStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

func newReviewer(ctx context.Context, cfg config.PolicyConfig, logger zerolog.Logger) (*policy.Engine, error) {
	reviewer, err := policy.NewEngine(logger, cfg.Limits)
	if err != nil {
		return nil, fmt.Errorf("failed to create policy engine: %w", err)
	}
	if len(cfg.Paths) == 0 {
		return reviewer, nil
	}
	if cfg.Watch {
		err = reviewer.Watch(ctx, cfg.Paths)
	} else {
		err = reviewer.LoadPolicies(ctx, cfg.Paths)
	}
	if err != nil {
		return nil, err
	}
	return reviewer, nil
}
