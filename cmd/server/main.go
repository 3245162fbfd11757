package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mmynk/splitledger/internal/api/apiconnect"
	"github.com/mmynk/splitledger/internal/app"
	"github.com/mmynk/splitledger/internal/auth"
	"github.com/mmynk/splitledger/internal/config"
	"github.com/mmynk/splitledger/internal/ledger"
	"github.com/mmynk/splitledger/internal/metrics"
	"github.com/mmynk/splitledger/internal/middleware"
	"github.com/mmynk/splitledger/internal/service"
	"github.com/mmynk/splitledger/pkg/logging"
)

func main() {
	configPath := flag.String("config", "", "path to a config file (default: splitledger.toml in . or /etc/splitledger)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := app.OpenStore(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	idem, err := app.OpenIdempotency(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize idempotency store: %w", err)
	}
	defer idem.Close()

	proofs, err := app.OpenProofs(ctx, cfg.Proof)
	if err != nil {
		return fmt.Errorf("failed to initialize proof storage: %w", err)
	}

	m := metrics.New()
	l := ledger.New(store,
		ledger.WithMaxAttempts(cfg.Ledger.MaxAttempts),
		ledger.WithMetrics(m),
		ledger.WithLogger(slog.Default()),
	)
	jwtManager := auth.NewJWTManager(cfg.Auth.JWTSecret, 24*time.Hour)

	recoverOpt := connect.WithRecover(func(_ context.Context, spec connect.Spec, _ http.Header, p any) error {
		slog.Error("Handler panicked", "procedure", spec.Procedure, "panic", p)
		return connect.NewError(connect.CodeInternal, errors.New("internal error"))
	})
	// Metrics run outermost so rejected calls are counted; logging runs after auth to see the user.
	opts := []connect.HandlerOption{
		connect.WithInterceptors(
			middleware.MetricsInterceptor(m),
			middleware.RequireAuth(jwtManager),
			middleware.LoggingInterceptor(),
			// Proof uploads can outlast the request timeout; the handler bounds its ledger step.
			middleware.TimeoutInterceptor(cfg.Server.RequestTimeout,
				apiconnect.SettlementServiceMarkSettlementPaidProcedure),
		),
		recoverOpt,
	}
	// Reconstruction walks the whole history and is not bound by the request timeout.
	adminOpts := []connect.HandlerOption{
		connect.WithInterceptors(
			middleware.MetricsInterceptor(m),
			middleware.RequireAuth(jwtManager),
			middleware.LoggingInterceptor(),
		),
		recoverOpt,
	}

	mux := http.NewServeMux()
	mux.Handle(apiconnect.NewGroupServiceHandler(service.NewGroupService(store), opts...))
	mux.Handle(apiconnect.NewExpenseServiceHandler(
		service.NewExpenseService(store, l, idem, cfg.Idempotency.TTL), opts...))
	mux.Handle(apiconnect.NewSettlementServiceHandler(service.NewSettlementService(store, l, proofs,
		service.WithLedgerTimeout(cfg.Server.RequestTimeout),
		service.WithUploadTimeout(cfg.Proof.UploadTimeout),
	), opts...))
	mux.Handle(apiconnect.NewBalanceServiceHandler(service.NewBalanceService(store), opts...))
	mux.Handle(apiconnect.NewAdminServiceHandler(service.NewAdminService(l), adminOpts...))
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// Wrap with h2c for HTTP/2 without TLS (required for Connect)
	handler := h2c.NewHandler(accessLogMiddleware(corsMiddleware(mux)), &http2.Server{})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Connect server starting", "address", srv.Addr, "storage", cfg.Storage.Driver,
			"idempotency", cfg.Idempotency.Driver, "proofs", cfg.Proof.Enabled)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// accessLogMiddleware logs every HTTP request at debug level, including /metrics scrapes.
func accessLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("Request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// corsMiddleware adds CORS headers for browser access
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers",
			"Authorization, Content-Type, Connect-Protocol-Version, Connect-Timeout-Ms, "+
				service.IdempotencyKeyHeader+", "+middleware.RequestIDHeader)
		w.Header().Set("Access-Control-Expose-Headers",
			"Connect-Protocol-Version, Connect-Timeout-Ms, "+middleware.RequestIDHeader)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
