package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/polisai/polis-shape/pkg/config"
	"github.com/polisai/polis-shape/pkg/logging"
	"github.com/polisai/polis-shape/pkg/middleware"
	"github.com/polisai/polis-shape/pkg/optimizer"
	"github.com/polisai/polis-shape/pkg/telemetry"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the optimizing reverse proxy",
		RunE:  runServe,
	}

	cmd.Flags().StringP("config", "c", "", "Path to configuration file (YAML or JSON); watched for changes")
	cmd.Flags().String("listen", "", "Address to listen on (overrides server.listen)")
	cmd.Flags().String("upstream", "", "Upstream base URL (overrides server.upstream)")
	cmd.Flags().StringP("log-level", "l", "", "Log level (debug, info, warn, error)")
	cmd.Flags().Bool("pretty", false, "Enable pretty console logging")
	return cmd
}

// serveFlags are the CLI values that take precedence over the config file.
type serveFlags struct {
	Config   string
	Listen   string
	Upstream string
	LogLevel string
	Pretty   bool
}

func parseServeFlags(cmd *cobra.Command) (*serveFlags, error) {
	flags := &serveFlags{}
	var err error
	if flags.Config, err = cmd.Flags().GetString("config"); err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	if flags.Listen, err = cmd.Flags().GetString("listen"); err != nil {
		return nil, fmt.Errorf("failed to get listen flag: %w", err)
	}
	if flags.Upstream, err = cmd.Flags().GetString("upstream"); err != nil {
		return nil, fmt.Errorf("failed to get upstream flag: %w", err)
	}
	if flags.LogLevel, err = cmd.Flags().GetString("log-level"); err != nil {
		return nil, fmt.Errorf("failed to get log-level flag: %w", err)
	}
	if flags.Pretty, err = cmd.Flags().GetBool("pretty"); err != nil {
		return nil, fmt.Errorf("failed to get pretty flag: %w", err)
	}
	return flags, nil
}

// applyServeFlags overrides the loaded configuration with non-empty flags.
func applyServeFlags(cfg *config.Config, flags *serveFlags) error {
	if flags.Listen != "" {
		cfg.Server.Listen = flags.Listen
	}
	if flags.Upstream != "" {
		cfg.Server.Upstream = flags.Upstream
	}
	if flags.LogLevel != "" {
		cfg.Logging.Level = flags.LogLevel
	}
	if flags.Pretty {
		cfg.Logging.Pretty = true
	}
	if cfg.Server.Upstream == "" {
		return config.NewConfigMissingError("server.upstream").
			WithSuggestion("Set server.upstream in the config file, SHAPE_UPSTREAM, or --upstream")
	}
	return cfg.Validate()
}

func runServe(cmd *cobra.Command, _ []string) error {
	flags, err := parseServeFlags(cmd)
	if err != nil {
		return err
	}

	var watcher *config.Watcher
	var cfg *config.Config
	if flags.Config != "" {
		watcher, err = config.NewWatcher(flags.Config, nil)
		if err != nil {
			return err
		}
		defer func() { _ = watcher.Close() }()
		cfg = watcher.Current()
	} else if cfg, err = config.Load(""); err != nil {
		return err
	}
	if err := applyServeFlags(cfg, flags); err != nil {
		return err
	}

	logger := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Pretty: cfg.Logging.Pretty,
	})
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.SetupProvider(ctx, telemetryConfig(cfg.Telemetry))
	if err != nil {
		logger.Error("Failed to initialize telemetry", "error", err)
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Error("Failed to flush telemetry", "error", err)
		}
	}()

	optCfg, err := cfg.Optimizer.ToOptimizer()
	if err != nil {
		return err
	}
	opt, err := optimizer.New(optCfg, logger)
	if err != nil {
		return err
	}

	handler, err := newServerHandler(cfg, opt, logger)
	if err != nil {
		return err
	}

	if watcher != nil {
		go watchConfig(ctx, watcher.Subscribe(), opt, logger)
	}

	logger.Info("Starting polis-shape",
		"listen", cfg.Server.Listen,
		"upstream", cfg.Server.Upstream,
		"admin_prefix", cfg.Server.AdminPrefix,
	)
	return serve(ctx, cfg.Server, handler, logger)
}

func telemetryConfig(cfg config.TelemetryConfig) telemetry.Config {
	return telemetry.Config{
		ServiceName:  cfg.ServiceName,
		Endpoint:     cfg.OTLPEndpoint,
		Environment:  cfg.Environment,
		Insecure:     cfg.Insecure,
		Headers:      cfg.Headers,
		ResourceTags: cfg.ResourceTags,
	}
}

// watchConfig applies reloaded optimizer settings. Server settings such as
// the listen address only take effect on restart.
func watchConfig(ctx context.Context, updates <-chan *config.Config, opt *optimizer.Optimizer, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-updates:
			if !ok {
				return
			}
			optCfg, err := cfg.Optimizer.ToOptimizer()
			if err == nil {
				err = opt.Reload(optCfg)
			}
			if err != nil {
				logger.Error("Failed to apply configuration update", "error", err)
				continue
			}
			logger.Info("Optimizer configuration reloaded")
		}
	}
}

// newServerHandler assembles the proxy, the optimizer middleware, and the
// health, metrics, and admin endpoints.
func newServerHandler(cfg *config.Config, opt *optimizer.Optimizer, logger *slog.Logger) (http.Handler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	proxy, err := newUpstreamProxy(cfg.Server.Upstream, logger)
	if err != nil {
		return nil, err
	}

	shaped := middleware.NewResponseOptimizer(opt, middleware.Options{Logger: logger}).Wrap(proxy)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", telemetry.Handler(telemetry.NewRegistry(opt.Stats())))
	mux.Handle(cfg.Server.AdminPrefix+"/stats", middleware.NewStatsHandler(opt.Stats(), logger))
	mux.Handle("/", otelhttp.NewHandler(shaped, "polis.shape"))
	return mux, nil
}

func newUpstreamProxy(rawURL string, logger *slog.Logger) (*httputil.ReverseProxy, error) {
	if logger == nil {
		logger = slog.Default()
	}
	target, err := url.Parse(rawURL)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return nil, config.NewConfigValidationError("server.upstream", rawURL, "must be an absolute http(s) URL")
	}

	// Transparent gzip would re-add Accept-Encoding upstream.
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DisableCompression = true

	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			// The proxy negotiates encoding with the client itself; upstream
			// bodies must arrive uncompressed to be optimized.
			pr.Out.Header.Del("Accept-Encoding")
		},
		Transport: otelhttp.NewTransport(transport),
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Error("Upstream request failed", "path", r.URL.Path, "error", err)
			http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		},
	}, nil
}

func serve(ctx context.Context, cfg config.ServerConfig, handler http.Handler, logger *slog.Logger) error {
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	if cfg.TLS != nil && cfg.TLS.Enabled {
		server.TLSConfig = cfg.TLS.ServerTLS()
	}

	listener, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to bind listener on %s: %w", cfg.Listen, err)
	}
	logger.Info("Server listening", "addr", listener.Addr().String(), "tls", server.TLSConfig != nil)

	errCh := make(chan error, 1)
	go func() {
		if server.TLSConfig != nil {
			errCh <- server.ServeTLS(listener, cfg.TLS.CertFile, cfg.TLS.KeyFile)
			return
		}
		errCh <- server.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down", "timeout", cfg.ShutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", "error", err)
		return err
	}
	logger.Info("Server stopped")
	return nil
}
