package main

import (
	"VoltrQuote/internal/fetch"
	"VoltrQuote/internal/observability"
	"VoltrQuote/internal/persistence"
	"VoltrQuote/internal/publish"
	"VoltrQuote/internal/query"
	"VoltrQuote/internal/quote"
	"VoltrQuote/internal/server"
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Config holds all application configuration, loaded from environment
// variables.
type Config struct {
	// Solana
	RPCURL          string
	Vaults          string // comma-separated vault addresses
	RefreshInterval time.Duration

	// HTTP/Metrics
	HTTPAddr    string
	MetricsAddr string

	// Postgres quote log (optional, disabled when DSN is empty)
	PostgresDSN          string
	MigrationsDir        string
	QuoteLogChanSize     int
	QuoteLogBatchSize    int
	QuoteLogFlushTimeout time.Duration

	// NATS vault update publishing (optional, disabled when URL is empty)
	NATSURL         string
	PublishChanSize int
}

func DefaultConfig() Config {
	return Config{
		RPCURL:               envOrDefault("VOLTR_RPC_URL", "https://api.mainnet-beta.solana.com"),
		Vaults:               os.Getenv("VOLTR_VAULTS"),
		RefreshInterval:      envDurationOrDefault("VOLTR_REFRESH_INTERVAL", 10*time.Second),
		HTTPAddr:             envOrDefault("VOLTR_HTTP_ADDR", ":8080"),
		MetricsAddr:          envOrDefault("VOLTR_METRICS_ADDR", ":9091"),
		PostgresDSN:          os.Getenv("VOLTR_POSTGRES_DSN"),
		MigrationsDir:        envOrDefault("VOLTR_MIGRATIONS_DIR", "migrations"),
		QuoteLogChanSize:     envIntOrDefault("VOLTR_QUOTE_LOG_CHAN_SIZE", 1024),
		QuoteLogBatchSize:    envIntOrDefault("VOLTR_QUOTE_LOG_BATCH_SIZE", 50),
		QuoteLogFlushTimeout: envDurationOrDefault("VOLTR_QUOTE_LOG_FLUSH_TIMEOUT", 50*time.Millisecond),
		NATSURL:              os.Getenv("VOLTR_NATS_URL"),
		PublishChanSize:      envIntOrDefault("VOLTR_PUBLISH_CHAN_SIZE", 256),
	}
}

func main() {
	log := observability.NewLogger("main")
	log.Info().Msg("voltrquote starting")

	cfg := DefaultConfig()

	vaultKeys, err := parseVaultKeys(cfg.Vaults)
	if err != nil {
		log.Fatal().Err(err).Msg("parse VOLTR_VAULTS")
	}
	if len(vaultKeys) == 0 {
		log.Fatal().Msg("VOLTR_VAULTS is empty; set at least one vault address")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	registry := quote.NewRegistry(vaultKeys)
	fetcher := fetch.NewRPCFetcher(cfg.RPCURL)

	errChan := make(chan error, 10)

	// --- Postgres quote log (optional) ---
	var queryService *query.Service
	var quoteLogWorker *persistence.QuoteLogWorker
	if cfg.PostgresDSN != "" {
		db, err := sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("postgres open")
		}
		defer db.Close()

		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			log.Fatal().Err(err).Msg("postgres ping")
		}
		log.Info().Msg("postgres connected")

		migrator := persistence.NewMigrator(db, cfg.MigrationsDir, observability.NewLogger("migrate"))
		if err := migrator.Up(ctx); err != nil {
			log.Fatal().Err(err).Msg("run migrations")
		}

		queryService = query.NewService(db)
		quoteLogWorker = persistence.NewQuoteLogWorker(
			db,
			cfg.QuoteLogChanSize,
			cfg.QuoteLogBatchSize,
			cfg.QuoteLogFlushTimeout,
			metrics,
			observability.NewLogger("quote_log"),
		)
		go func() {
			errChan <- quoteLogWorker.Run(ctx)
		}()
	} else {
		log.Info().Msg("VOLTR_POSTGRES_DSN not set, quote log disabled")
	}

	// --- NATS vault update publishing (optional) ---
	var publishChan chan publish.VaultUpdate
	if cfg.NATSURL != "" {
		nc, js, err := publish.ConnectNATS(cfg.NATSURL, observability.NewLogger("nats"))
		if err != nil {
			log.Fatal().Err(err).Msg("nats connect")
		}
		defer nc.Close()
		log.Info().Msg("nats connected")

		if err := publish.EnsureUpdateStream(ctx, js); err != nil {
			log.Fatal().Err(err).Msg("ensure update stream")
		}

		publishChan = make(chan publish.VaultUpdate, cfg.PublishChanSize)
		publisher := publish.NewPublisher(js, publishChan, observability.NewLogger("publish"))
		publisher.OnPublish(metrics.PublishTotal.Inc)
		publisher.OnDrop(metrics.PublishDrops.Inc)
		go func() {
			errChan <- publisher.Run(ctx)
		}()
	} else {
		log.Info().Msg("VOLTR_NATS_URL not set, vault update publishing disabled")
	}

	// --- Initial refresh ---
	refreshLog := observability.NewLogger("refresh")
	refreshAll(ctx, registry, fetcher, metrics, publishChan, healthChecker, refreshLog)

	// --- Periodic refresh loop ---
	go func() {
		ticker := time.NewTicker(cfg.RefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				refreshAll(ctx, registry, fetcher, metrics, publishChan, healthChecker, refreshLog)
			}
		}
	}()

	// --- HTTP API ---
	apiServer := server.New(server.Deps{
		Registry: registry,
		Queries:  queryService,
		QuoteLog: quoteLogWorker,
		Metrics:  metrics,
		Health:   healthChecker,
		Log:      observability.NewLogger("http"),
	})
	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: apiServer.Router(),
	}
	go func() {
		<-ctx.Done()
		shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
		defer c()
		httpServer.Shutdown(shutCtx)
	}()
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("http server: %w", err)
		}
	}()

	// --- Prometheus metrics server ---
	go func() {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsServer := &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: metricsMux,
		}
		go func() {
			<-ctx.Done()
			shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
			defer c()
			metricsServer.Shutdown(shutCtx)
		}()
		log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server listening")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	log.Info().
		Int("vaults", len(vaultKeys)).
		Str("http", cfg.HTTPAddr).
		Str("metrics", cfg.MetricsAddr).
		Dur("refresh_interval", cfg.RefreshInterval).
		Msg("voltrquote ready")

	// --- Wait for shutdown signal ---
	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		log.Error().Err(err).Msg("goroutine failed, shutting down")
	}

	cancel()

	// Give the quote log worker time to flush its last batch.
	time.Sleep(500 * time.Millisecond)
	log.Info().Msg("voltrquote shutdown complete")
}

// refreshAll refreshes every venue, updates the per-vault gauges, and emits
// a vault update per successful refresh. Readiness flips on once every vault
// has a snapshot.
func refreshAll(
	ctx context.Context,
	registry *quote.Registry,
	fetcher fetch.AccountFetcher,
	metrics *observability.Metrics,
	publishChan chan<- publish.VaultUpdate,
	healthChecker *observability.HealthChecker,
	log zerolog.Logger,
) {
	allInitialized := true

	for _, v := range registry.Venues() {
		vaultLabel := v.Key().String()

		rctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		start := time.Now()
		err := v.Refresh(rctx, fetcher)
		cancel()

		metrics.RefreshDuration.WithLabelValues(vaultLabel).Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.RefreshErrors.WithLabelValues(vaultLabel).Inc()
			log.Warn().Err(err).Str("vault", vaultLabel).Msg("vault refresh failed")
			if !v.Initialized() {
				allInitialized = false
			}
			continue
		}
		metrics.RefreshTotal.WithLabelValues(vaultLabel).Inc()

		st, err := v.Stats(uint64(time.Now().Unix()))
		if err != nil {
			log.Warn().Err(err).Str("vault", vaultLabel).Msg("vault stats failed")
			continue
		}

		metrics.VaultTotalAssetValue.WithLabelValues(vaultLabel).Set(float64(st.TotalAssetValue))
		metrics.VaultUnlockedAssetValue.WithLabelValues(vaultLabel).Set(float64(st.UnlockedAssetValue))
		metrics.VaultLpSupply.WithLabelValues(vaultLabel).Set(float64(st.LpSupply))
		metrics.VaultIdleBalance.WithLabelValues(vaultLabel).Set(float64(st.IdleBalance))
		metrics.VaultSnapshotAge.WithLabelValues(vaultLabel).Set(time.Since(st.RefreshedAt).Seconds())

		if publishChan != nil {
			select {
			case publishChan <- publish.VaultUpdate{
				VaultKey:           vaultLabel,
				AssetMint:          st.AssetMint.String(),
				LpMint:             st.LpMint.String(),
				TotalAssetValue:    st.TotalAssetValue,
				UnlockedAssetValue: st.UnlockedAssetValue,
				LpSupply:           st.LpSupply,
				IdleBalance:        st.IdleBalance,
				MaxCap:             st.MaxCap,
				LastUpdatedTs:      st.LastUpdatedTs,
				RefreshedAt:        st.RefreshedAt,
			}:
			default:
				metrics.PublishDrops.Inc()
			}
		}
	}

	if allInitialized && !healthChecker.IsReady() {
		healthChecker.SetReady(true)
		log.Info().Msg("all vaults refreshed, service ready")
	}
}

func parseVaultKeys(raw string) ([]solana.PublicKey, error) {
	var keys []solana.PublicKey
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, err := solana.PublicKeyFromBase58(part)
		if err != nil {
			return nil, fmt.Errorf("vault address %q: %w", part, err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// --- Helpers ---

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOrDefault(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var i int
	if _, err := fmt.Sscanf(v, "%d", &i); err != nil {
		return defaultVal
	}
	return i
}

func envDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
