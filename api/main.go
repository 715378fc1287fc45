package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/malbeclabs/lakeql/agent/pkg/catalog"
	"github.com/malbeclabs/lakeql/agent/pkg/datasource/connect"
	"github.com/malbeclabs/lakeql/agent/pkg/redact"
	"github.com/malbeclabs/lakeql/agent/pkg/workflow"
	"github.com/malbeclabs/lakeql/api/config"
	"github.com/malbeclabs/lakeql/api/handlers"
	"github.com/malbeclabs/lakeql/api/metrics"
	"github.com/malbeclabs/lakeql/utils/pkg/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const (
	defaultListenAddr  = ":8080"
	defaultMetricsAddr = "0.0.0.0:0"
	shutdownTimeout    = 30 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	listenAddrFlag := flag.String("listen-addr", defaultListenAddr, "address to listen on for the HTTP API (or PORT env var)")
	metricsAddrFlag := flag.String("metrics-addr", defaultMetricsAddr, "address to listen on for prometheus metrics")
	flag.Parse()

	// godotenv doesn't override existing env vars, so later files don't overwrite earlier ones
	_ = godotenv.Load()           // .env in current working directory
	_ = godotenv.Load("api/.env") // api/.env when running from repo root

	log := logger.New(*verboseFlag)
	slog.SetDefault(log)

	log.Info("starting lakeql-api", "version", version, "commit", commit, "date", date)
	handlers.SetBuildInfo(version, commit, date)

	// Sentry is optional and a no-op without a DSN.
	sentryDSN := os.Getenv("SENTRY_DSN")
	if sentryDSN != "" {
		sentryEnv := os.Getenv("SENTRY_ENVIRONMENT")
		if sentryEnv == "" {
			sentryEnv = "development"
		}
		release := version
		if commit != "none" {
			release = version + "-" + commit
		}
		tracesSampleRate := 0.1
		if sentryEnv == "development" {
			tracesSampleRate = 1.0
		}
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              sentryDSN,
			Environment:      sentryEnv,
			Release:          release,
			EnableTracing:    true,
			TracesSampleRate: tracesSampleRate,
		})
		if err != nil {
			log.Warn("sentry initialization failed", "error", err)
		} else {
			log.Info("sentry initialized", "env", sentryEnv, "release", release)
			defer sentry.Flush(2 * time.Second)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	src, err := connect.Open(ctx, log, cfg.Datasource)
	if err != nil {
		return fmt.Errorf("failed to open datasource: %w", err)
	}
	defer src.Close()
	log.Info("datasource connected", "type", cfg.Datasource.Type, "dialect", src.Dialect())

	schemas := catalog.NewCached(log, src, cfg.SchemaCacheTTL)

	prompts, err := workflow.LoadPrompts(src.Dialect())
	if err != nil {
		return fmt.Errorf("failed to load prompts: %w", err)
	}
	llm := workflow.NewAnthropicLLMClient(cfg.AnthropicModel, cfg.MaxTokens)

	cfg.Redact.Logger = log
	redactor, err := redact.New(cfg.Redact)
	if err != nil {
		return fmt.Errorf("failed to create redactor: %w", err)
	}

	wf, err := workflow.New(&workflow.Config{
		Logger:      log,
		Catalog:     schemas,
		Generator:   workflow.NewLLMGenerator(llm, prompts),
		Executor:    src,
		Summarizer:  workflow.NewLLMSummarizer(llm, prompts),
		Intent:      workflow.NewLLMIntentAnalyzer(llm, prompts),
		Redactor:    redactor,
		MaxRetries:  cfg.MaxRetries,
		RetryUnsafe: cfg.RetryUnsafe,
	})
	if err != nil {
		return fmt.Errorf("failed to create workflow: %w", err)
	}

	srv, err := handlers.NewServer(log, wf, schemas, src)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	var metricsServer *http.Server
	if *metricsAddrFlag != "" {
		metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
		listener, err := net.Listen("tcp", *metricsAddrFlag)
		if err != nil {
			log.Warn("failed to start prometheus metrics server listener", "error", err)
		} else {
			log.Info("prometheus metrics server listening", "address", listener.Addr().String())
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			metricsServer = &http.Server{Handler: mux}
			go func() {
				if err := metricsServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("metrics server error", "error", err)
				}
			}()
		}
	}

	r := newRouter(srv, sentryDSN != "")

	addr := *listenAddrFlag
	if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Turns make several LLM round-trips.
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("api server listening", "address", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	log.Info("shutting down gracefully")

	// Fail readiness first so traffic drains before the listener closes.
	srv.MarkShuttingDown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown error", "error", err)
	} else {
		log.Info("server stopped gracefully")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error("metrics server shutdown error", "error", err)
		}
	}
	return nil
}

func newRouter(srv *handlers.Server, withSentry bool) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)

	// Sentry goes before Recoverer so panics are captured.
	if withSentry {
		sentryHandler := sentryhttp.New(sentryhttp.Options{
			Repanic: true,
		})
		r.Use(sentryHandler.Handle)

		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if txn := sentry.TransactionFromContext(r.Context()); txn != nil {
					if rctx := chi.RouteContext(r.Context()); rctx != nil {
						if pattern := rctx.RoutePattern(); pattern != "" {
							txn.Name = r.Method + " " + pattern
						} else {
							txn.Name = r.Method + " " + r.URL.Path
						}
					}
				}
				next.ServeHTTP(w, r)
			})
		})
	}

	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	corsOrigins := []string{"*"}
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		corsOrigins = strings.Split(origins, ",")
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", handlers.Healthz)
	r.Get("/readyz", srv.Readyz)

	r.Route("/api", func(r chi.Router) {
		r.Get("/version", handlers.GetVersion)
		r.Get("/schema", srv.GetSchema)
		r.Post("/validate", srv.PostValidate)
		r.Post("/turn", srv.PostTurn)
	})

	return r
}
