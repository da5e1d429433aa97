package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/seaward-systems/streamsift/internal/blobstore"
	"github.com/seaward-systems/streamsift/internal/checkpoint"
	"github.com/seaward-systems/streamsift/internal/config"
	"github.com/seaward-systems/streamsift/internal/esbulk"
	"github.com/seaward-systems/streamsift/internal/host"
	"github.com/seaward-systems/streamsift/internal/logging"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run both delivery pipelines",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

func serve() error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format)
	logging.SetDefault(logger)

	slog.Info("starting streamsift",
		slog.String("broker", cfg.Broker.URL),
		slog.Int("partitions", cfg.Broker.Partitions),
		slog.String("es_url", cfg.ES.URL),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// shared infrastructure
	esClient, err := esbulk.NewClient(esbulk.ClientConfig{
		URL:      cfg.ES.URL,
		Username: cfg.ES.Username,
		Password: cfg.ES.Password,
		Insecure: cfg.ES.Insecure,
	})
	if err != nil {
		return err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.StateStore.Addr,
		Password: cfg.StateStore.Password,
		DB:       cfg.StateStore.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping state store: %w", err)
	}
	store := checkpoint.NewStore(rdb, cfg.StateStore.KeyPrefix)

	nc, err := nats.Connect(cfg.Broker.URL, nats.Name("streamsift"))
	if err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}
	defer nc.Drain()
	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("create stream context: %w", err)
	}

	accounts, err := loadAccounts(cfg.CA)
	if err != nil {
		return err
	}
	pool, err := blobstore.NewAccountPool(accounts)
	if err != nil {
		return err
	}
	uploader := blobstore.NewUploader(pool, logger)

	logSchemaID, err := cfg.CA.LogSchemaUUID()
	if err != nil {
		return err
	}
	interactionsSchemaID, err := cfg.CA.InteractionsSchemaUUID()
	if err != nil {
		return err
	}

	// pipeline factories
	esFactory := host.NewESFactory(esClient, host.ESFactoryConfig{
		StatsEnabled:           cfg.ES.StatsEnabled,
		MaxFailedDocRetries:    cfg.ES.MaxFailedDocRetries,
		MaxAbandonedDocRetries: cfg.ES.MaxAbandonedDocRetries,
		CheckpointInterval:     cfg.ES.CheckpointInterval,
	}, logger)

	caFactory := host.NewCAFactory(uploader, host.CAFactoryConfig{
		StatsEnabled:         cfg.CA.StatsEnabled,
		CheckpointInterval:   cfg.CA.CheckpointInterval,
		BufferCapacity:       cfg.CA.BufferCapacity,
		Compress:             cfg.CA.Compress,
		BaseContainer:        cfg.CA.BaseContainer,
		NotificationEndpoint: cfg.CA.NotificationEndpoint,
		InstrumentationKey:   cfg.CA.InstrumentationKey,
		LogSchemaID:          logSchemaID,
		InteractionsSchemaID: interactionsSchemaID,
	}, &http.Client{Timeout: 30 * time.Second}, logger)

	esRunner := host.NewRunner(js, esFactory, store, host.RunnerConfig{
		Pipeline:      "es",
		Stream:        cfg.Broker.Stream,
		SubjectPrefix: cfg.Broker.SubjectPrefix,
		Group:         cfg.Broker.ESGroup,
		Partitions:    cfg.Broker.Partitions,
		BatchSize:     cfg.Broker.BatchSize,
	}, logger)

	caRunner := host.NewRunner(js, caFactory, store, host.RunnerConfig{
		Pipeline:      "ca",
		Stream:        cfg.Broker.Stream,
		SubjectPrefix: cfg.Broker.SubjectPrefix,
		Group:         cfg.Broker.CAGroup,
		Partitions:    cfg.Broker.Partitions,
		BatchSize:     cfg.Broker.BatchSize,
	}, logger)

	// metrics and health listener
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: mux,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics listener failed", slog.String("error", err.Error()))
		}
	}()

	var wg sync.WaitGroup
	for _, runner := range []*host.Runner{esRunner, caRunner} {
		wg.Add(1)
		go func(r *host.Runner) {
			defer wg.Done()
			if err := r.Run(ctx); err != nil {
				slog.Error("runner stopped", slog.String("error", err.Error()))
				stop()
			}
		}(runner)
	}

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)

	wg.Wait()
	slog.Info("stopped")
	return nil
}

func loadAccounts(cfg config.CAConfig) ([]blobstore.Account, error) {
	if cfg.AccountsFile != "" {
		return blobstore.LoadAccountsFile(cfg.AccountsFile)
	}
	return blobstore.ParseAccounts(cfg.Accounts)
}
