// Command provenanced runs the report provenance and disclosure-control
// service.
package main

import (
	"context"
	"database/sql"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go/rpc"
	"github.com/redis/go-redis/v9"

	"github.com/csds-network/provenance/pkg/collection"
	"github.com/csds-network/provenance/pkg/config"
	"github.com/csds-network/provenance/pkg/keyvault"
	"github.com/csds-network/provenance/pkg/ledger"
	"github.com/csds-network/provenance/pkg/notify"
	"github.com/csds-network/provenance/pkg/observability"
	"github.com/csds-network/provenance/pkg/pinner"
	"github.com/csds-network/provenance/pkg/provenance"
	"github.com/csds-network/provenance/pkg/reportlock"
	"github.com/csds-network/provenance/pkg/store"

	_ "github.com/lib/pq" // Postgres driver
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	shutdownTracing, err := observability.Setup(ctx, observability.Config{
		ServiceName:  "provenanced",
		OTLPEndpoint: cfg.OTLPEndpoint,
		SampleRate:   1,
		Insecure:     cfg.OTLPInsecure,
	})
	if err != nil {
		log.Fatalf("init tracing: %v", err)
	}
	if cfg.OTLPEndpoint != "" {
		logger.Info("trace export enabled", "endpoint", cfg.OTLPEndpoint)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("ping database: %v", err)
	}
	st := store.New(db)
	if err := st.EnsureSchema(ctx); err != nil {
		log.Fatalf("ensure schema: %v", err)
	}
	logger.Info("postgres connected")

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("ping redis: %v", err)
	}
	locker := reportlock.New(rdb)
	logger.Info("redis connected")

	vault, err := keyvault.New(cfg.EncryptionKey)
	if err != nil {
		log.Fatalf("init keyvault: %v", err)
	}

	rpcClient := rpc.New(cfg.SolanaRPCURL)
	submitter := ledger.NewSubmitter(rpcClient, cfg.ServiceWallet, logger)
	programs := ledger.Programs{
		Report:        cfg.ReportProgramID,
		TokenMetadata: cfg.TokenMetadataProgram,
		Core:          cfg.CoreProgram,
	}
	logger.Info("ledger identity loaded", "identity", submitter.Identity().String())

	pin := pinner.New(cfg.PinataJWT, pinner.WithBaseURL(cfg.PinataBaseURL))

	opts := []provenance.Option{provenance.WithImageURL(cfg.ReportImage)}
	if cfg.BrokerURL != "" {
		opts = append(opts, provenance.WithNotifier(notify.New(cfg.BrokerURL)))
		logger.Info("context broker notifications enabled", "url", cfg.BrokerURL)
	}

	engine := provenance.New(st, submitter, pin, redisLocker{locker},
		collection.NewManager(vault), programs, logger, opts...)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           newServer(engine, logger).routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("serve: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("tracing shutdown", "error", err)
	}
	_ = rdb.Close()
	_ = db.Close()
}

// redisLocker adapts the concrete reportlock types to the engine's
// interfaces.
type redisLocker struct {
	inner *reportlock.Locker
}

func (r redisLocker) Acquire(ctx context.Context, reportID string) (provenance.Lease, error) {
	return r.inner.Acquire(ctx, reportID)
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
