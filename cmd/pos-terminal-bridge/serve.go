package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"pos-terminal-bridge/internal/alert"
	"pos-terminal-bridge/internal/api"
	"pos-terminal-bridge/internal/config"
	"pos-terminal-bridge/internal/core"
	"pos-terminal-bridge/internal/orders"
	"pos-terminal-bridge/internal/pairing"
	"pos-terminal-bridge/internal/printing"
	"pos-terminal-bridge/internal/service"
	"pos-terminal-bridge/internal/settings"
	"pos-terminal-bridge/internal/terminal"
	_ "pos-terminal-bridge/internal/terminal/smartpay"
	_ "pos-terminal-bridge/internal/terminal/tyro"
	_ "pos-terminal-bridge/internal/terminal/verifone"
	_ "pos-terminal-bridge/internal/terminal/windcave"
	"pos-terminal-bridge/internal/transport"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}
}

func serve(cfg *config.Config) error {
	logger := core.NewLogger(cfg.Log.Level, cfg.Log.Format)
	logger.Info("Starting POS terminal bridge...")

	dataDir := core.GetDataDirectory(cfg.Service.DataDir)
	store, err := core.NewStore(filepath.Join(dataDir, "badger_db"), logger)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Errorf("Failed to close store: %v", err)
		}
	}()

	auditor := core.NewAuditLogger(filepath.Join(dataDir, "audit"), cfg.Service.AuditMaxSizeMB, logger)
	bridge := transport.NewHTTPBridge(cfg.Service.HTTPTimeout, auditor, logger)

	sinks := []any{alert.NewLogSink(logger)}
	if cfg.Kafka.Enabled {
		kafkaSink := alert.NewKafkaSink(alert.NewKafkaWriter(cfg.Kafka.Brokers), cfg.Kafka.AlertTopic, cfg.Kafka.ErrorTopic, cfg.Kafka.Site)
		defer func() {
			if err := kafkaSink.Close(); err != nil {
				logger.Errorf("Failed to close kafka writer: %v", err)
			}
		}()
		sinks = append(sinks, kafkaSink)
	}
	alerts := alert.NewFanout(sinks...)

	credentials := pairing.NewCredentialStore(store)
	terminals := service.NewTerminalManager(logger, bridge, credentials)
	defer terminals.Stop()

	settingsManager := settings.NewManager(logger, store)
	settingsManager.SetUpdateCallback(func(tc *settings.TerminalConfig) {
		if err := terminals.HandleConfigChange(tc); err != nil {
			logger.Errorf("Failed to apply terminal configuration: %v", err)
		}
	})

	initial := settingsManager.ActiveTerminal()
	if initial == nil && cfg.Terminal.Provider != "" {
		raw, err := cfg.TerminalRaw()
		if err != nil {
			return err
		}
		initial = &settings.TerminalConfig{Provider: cfg.Terminal.Provider, Config: raw}
	}
	if initial != nil {
		if err := terminals.HandleConfigChange(initial); err != nil {
			logger.Errorf("Failed to start terminal %s: %v", initial.Provider, err)
		}
	}

	queue := printing.NewQueue(store, printing.NewBridgeClient(bridge, cfg.Print.BridgeURL), alerts, logger,
		printing.WithInterval(cfg.Print.RetryInterval),
		printing.WithThreshold(cfg.Print.AlertThreshold),
		printing.WithNotice(func(r printing.Receipt, err error) {
			logger.Warnf("Receipt for order %s did not print and will be retried: %v", r.OrderID, err)
		}),
	)

	server := api.NewServer(fmt.Sprintf(":%d", cfg.Service.Port), logger, settingsManager, terminals, queue)
	server.Credentials = credentials
	if cfg.Service.Simulation {
		server.Mode = "simulation"
	}

	core.NewAppLogger(logger, "main").LogStartup(map[string]interface{}{
		"port":           cfg.Service.Port,
		"data_dir":       dataDir,
		"providers":      terminal.Registered(),
		"terminal":       terminals.Provider(),
		"print_bridge":   cfg.Print.BridgeURL,
		"online_orders":  cfg.Orders.Endpoint != "",
		"kafka_alerting": cfg.Kafka.Enabled,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("API server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return server.Stop(shutdownCtx)
	})
	g.Go(func() error { return queue.Run(ctx) })

	if cfg.Orders.Endpoint != "" {
		source := orders.NewGraphQLSource(bridge, cfg.Orders.Endpoint, cfg.Orders.APIKey, cfg.Orders.RestaurantID)
		poller := orders.NewPoller(source, queue, settingsManager, store, alerts, logger, cfg.Orders.Interval)
		g.Go(func() error { return poller.Run(ctx) })
	} else {
		logger.Info("Online order polling disabled (no endpoint configured)")
	}

	err = g.Wait()
	logger.Info("POS terminal bridge stopped")
	return err
}
