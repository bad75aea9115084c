package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/MegaGrindStone/go-mcp-outreach"
	"github.com/MegaGrindStone/go-mcp-outreach/config"
	"github.com/MegaGrindStone/go-mcp-outreach/logging"
	"github.com/MegaGrindStone/go-mcp-outreach/metrics"
	"github.com/MegaGrindStone/go-mcp-outreach/servers/outreach"
	"github.com/MegaGrindStone/go-mcp-outreach/servers/outreach/upstream"
)

const (
	serverName = "outreach-mcp"

	serverInstructions = "Tools for the outreach API: campaigns, their sequences and schedules, " +
		"leads, campaign analytics, webhooks and sending email accounts. Identifiers such as " +
		"campaignId and leadId come from the list tools. Upstream failures are returned as " +
		"tool errors starting with \"Error: \"."

	pingInterval    = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

// loadConfig reads the config file and the environment, then applies the flags set on the
// command line.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	flags := cmd.Flags()

	path, _ := flags.GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}

	if flags.Changed("base-url") {
		cfg.BaseURL, _ = flags.GetString("base-url")
	}
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
	if flags.Changed("addr") {
		cfg.SSE.Addr, _ = flags.GetString("addr")
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

type app struct {
	logger      *slog.Logger
	sync        func()
	tools       *outreach.Server
	registry    *prometheus.Registry
	sendTimeout time.Duration
}

func newApp(cfg config.Config) (*app, error) {
	logger, sync, err := logging.New(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewGatewayMetricsWithRegistry(reg)

	client, err := upstream.NewClient(cfg.Upstream(), upstream.WithLogger(logger), upstream.WithMetrics(m))
	if err != nil {
		sync()
		return nil, fmt.Errorf("failed to create upstream client: %w", err)
	}

	tools, err := outreach.NewServer(client, outreach.WithLogger(logger), outreach.WithMetrics(m))
	if err != nil {
		sync()
		return nil, fmt.Errorf("failed to create tool server: %w", err)
	}

	return &app{
		logger:      logger,
		sync:        sync,
		tools:       tools,
		registry:    reg,
		sendTimeout: time.Duration(cfg.SendTimeout),
	}, nil
}

func (a *app) newServer(transport mcp.ServerTransport) mcp.Server {
	return mcp.NewServer(mcp.Info{
		Name:    serverName,
		Version: version,
	}, transport,
		mcp.WithToolServer(a.tools),
		mcp.WithInstructions(serverInstructions),
		mcp.WithServerPingInterval(pingInterval),
		mcp.WithServerSendTimeout(a.sendTimeout),
		mcp.WithServerLogger(a.logger),
		mcp.WithServerOnClientConnected(func(id string, info mcp.Info) {
			a.logger.Info("client connected",
				slog.String("sessionID", id),
				slog.String("client", info.Name),
				slog.String("clientVersion", info.Version))
		}),
		mcp.WithServerOnClientDisconnected(func(id string) {
			a.logger.Info("client disconnected", slog.String("sessionID", id))
		}),
	)
}

// runStdIO serves one session until the input ends or ctx is cancelled. A read failure of the
// input is returned, so the process exits non-zero.
func runStdIO(ctx context.Context, cfg config.Config, in io.Reader, out io.Writer) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.sync()

	transport := mcp.NewStdIO(in, out, mcp.WithStdIOLogger(a.logger))
	srv := a.newServer(transport)

	served := make(chan struct{})
	go func() {
		srv.Serve()
		close(served)
	}()

	a.logger.Info("serving over stdio", slog.String("baseURL", cfg.BaseURL))

	select {
	case <-ctx.Done():
		a.logger.Info("shutting down", slog.String("reason", context.Cause(ctx).Error()))
	case <-served:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("failed to shutdown server", slog.String("err", err.Error()))
	}

	if err := transport.Err(); err != nil {
		a.logger.Error("stdio transport failed", slog.String("err", err.Error()))
		return fmt.Errorf("failed to read from stdin: %w", err)
	}
	return nil
}

// runSSE serves sessions over HTTP until ctx is cancelled or the listener fails.
func runSSE(ctx context.Context, cfg config.Config) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.sync()

	transport := mcp.NewSSEServer(cfg.MessageURL(),
		mcp.WithSSEKeepAlive(time.Duration(cfg.SSE.KeepAlive)),
		mcp.WithSSEServerLogger(a.logger))
	srv := a.newServer(transport)

	httpSrv := &http.Server{
		Addr:              cfg.SSE.Addr,
		Handler:           newMux(transport, a.registry),
		ReadHeaderTimeout: 15 * time.Second,
	}

	go srv.Serve()

	listenErr := make(chan error, 1)
	go func() {
		a.logger.Info("serving over SSE",
			slog.String("addr", cfg.SSE.Addr),
			slog.String("messageURL", cfg.MessageURL()),
			slog.String("baseURL", cfg.BaseURL))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErr <- err
		}
		close(listenErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutting down", slog.String("reason", context.Cause(ctx).Error()))
	case err, ok := <-listenErr:
		if ok {
			runErr = fmt.Errorf("http server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Sessions are closed first, so in-flight calls can still deliver over their open streams.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("failed to shutdown server", slog.String("err", err.Error()))
	}
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("failed to shutdown http server", slog.String("err", err.Error()))
	}

	return runErr
}

func newMux(transport mcp.SSEServer, reg *prometheus.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/sse", transport.HandleSSE())
	mux.Handle("/message", transport.HandleMessage())
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return mux
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
