// Main entry point for the haws server
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"gopkg.in/natefinch/lumberjack.v2"

	"haws/internal/common"
	"haws/internal/config"
	"haws/internal/httpserver"
	"haws/internal/pages"
	"haws/internal/socks"
	"haws/internal/transport"
)

// Command line flags, applied over the config file when set
type flags struct {
	configPath  string
	host        string
	port        int
	transport   string
	xorKey      string
	socksAddr   string
	metricsAddr string
	singleRead  bool
	tracing     bool
	logLevel    string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	f := &flags{}

	root := &cobra.Command{
		Use:           "haws",
		Short:         "haws: a minimal HTTP route dispatcher",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&f.configPath, "config", "c", "", "Config file (yaml, toml or json)")
	root.PersistentFlags().StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn, error")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the configured routes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, f)
		},
	}
	serveCmd.Flags().StringVar(&f.host, "host", "", "Host to listen on")
	serveCmd.Flags().IntVarP(&f.port, "port", "p", 0, "Port to listen on")
	serveCmd.Flags().StringVar(&f.transport, "transport", "", "Transport: tcp or yamux")
	serveCmd.Flags().StringVar(&f.xorKey, "xor-key", "", "XOR key for obfuscating connections")
	serveCmd.Flags().StringVar(&f.socksAddr, "socks", "", "Address for a SOCKS5 proxy in front of the server")
	serveCmd.Flags().StringVar(&f.metricsAddr, "metrics", "", "Address for the Prometheus /metrics endpoint")
	serveCmd.Flags().BoolVar(&f.singleRead, "single-read", false, "Read each request with a single 1024 byte read")
	serveCmd.Flags().BoolVar(&f.tracing, "trace", false, "Write a trace span per connection to stderr")

	routesCmd := &cobra.Command{
		Use:   "routes",
		Short: "Print the configured routes in match order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRoutes(cmd, f)
		},
	}

	root.AddCommand(serveCmd, routesCmd)
	return root
}

// loadConfig reads the config file and applies any flags that were set
func loadConfig(cmd *cobra.Command, f *flags) (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}

	set := func(name string) bool {
		fl := cmd.Flags().Lookup(name)
		return fl != nil && fl.Changed
	}
	if set("host") {
		cfg.Host = f.host
	}
	if set("port") {
		cfg.Port = f.port
	}
	if set("transport") {
		cfg.Transport = f.transport
	}
	if set("xor-key") {
		cfg.XorKey = f.xorKey
	}
	if set("socks") {
		cfg.SocksAddr = f.socksAddr
	}
	if set("metrics") {
		cfg.MetricsAddr = f.metricsAddr
	}
	if set("single-read") {
		cfg.SingleRead = f.singleRead
	}
	if set("trace") {
		cfg.Tracing = f.tracing
	}
	if set("log-level") {
		cfg.LogLevel = f.logLevel
	}

	return cfg, cfg.Validate()
}

// newLogger logs to stderr, or to a rotated file when one is configured
func newLogger(cfg *config.Config) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		l = slog.LevelInfo
	}

	var w io.Writer = os.Stderr
	if cfg.LogFile != "" {
		w = &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     28,
		}
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l}))
}

// buildServer creates the dispatcher and registers the configured routes
func buildServer(cfg *config.Config, logger *slog.Logger, store *pages.Store, opts ...httpserver.Option) (*httpserver.Server, error) {
	opts = append([]httpserver.Option{
		httpserver.WithLogger(logger),
		httpserver.WithMaxHeaderBytes(cfg.MaxHeaderBytes),
		httpserver.WithMaxBodyBytes(cfg.MaxBodyBytes),
		httpserver.WithTimeouts(cfg.ReadTimeout, cfg.WriteTimeout),
	}, opts...)
	if cfg.SingleRead {
		opts = append(opts, httpserver.WithSingleRead())
	}
	srv := httpserver.NewServer(cfg.Host, cfg.Port, opts...)

	for _, r := range cfg.Routes {
		handler, err := routeHandler(r, store)
		if err != nil {
			return nil, fmt.Errorf("route %q: %w", r.Path, err)
		}
		if err := srv.Route(r.Path, handler); err != nil {
			return nil, err
		}
	}

	if cfg.StatusPath != "" {
		start := time.Now()
		err := srv.Route(cfg.StatusPath, func(httpserver.RequestBuffer) string {
			info := common.GetInfo(start)
			stats := srv.Stats()
			info.Connections = stats.Connections
			info.Matched = stats.Matched
			info.Fallbacks = stats.Fallbacks
			info.Failures = stats.Failures
			return info.String()
		})
		if err != nil {
			return nil, err
		}
	}

	return srv, nil
}

func routeHandler(r config.Route, store *pages.Store) (httpserver.Handler, error) {
	if r.File != "" {
		if store == nil {
			return nil, errors.New("page files are not available")
		}
		return store.Handler(r.File)
	}
	body := r.Body
	return func(httpserver.RequestBuffer) string {
		return body
	}, nil
}

func runServe(cmd *cobra.Command, f *flags) error {
	cfg, err := loadConfig(cmd, f)
	if err != nil {
		return reportError(err)
	}
	logger := newLogger(cfg)

	store, err := pages.NewStore(logger)
	if err != nil {
		return reportError(err)
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := []httpserver.Option{httpserver.WithMetrics(httpserver.NewMetrics(reg))}
	if cfg.Tracing {
		tp, err := newTracerProvider(os.Stderr)
		if err != nil {
			return reportError(err)
		}
		defer tp.Shutdown(context.Background())
		opts = append(opts, httpserver.WithTracer(tp.Tracer("haws")))
	}

	srv, err := buildServer(cfg, logger, store, opts...)
	if err != nil {
		return reportError(err)
	}

	// Check the route table before anything is bound.
	if err := srv.Validate(); err != nil {
		httpserver.WriteSetupGuidance(os.Stderr)
		return reportError(err)
	}

	if cfg.MetricsAddr != "" {
		startMetricsServer(cfg.MetricsAddr, reg, logger)
	}

	setupSignalHandling(srv, logger)

	if cfg.SocksAddr != "" {
		if err := startSocksServer(cfg, srv.Addr(), logger); err != nil {
			return reportError(err)
		}
	}

	err = startHTTPServer(cfg, srv, logger)
	if errors.Is(err, httpserver.ErrServerClosed) {
		return nil
	}
	return reportError(err)
}

// startHTTPServer binds the configured transport and serves until Close
func startHTTPServer(cfg *config.Config, srv *httpserver.Server, logger *slog.Logger) error {
	if cfg.Transport == config.TransportTCP && cfg.XorKey == "" {
		return srv.ListenAndServe()
	}

	ln, err := net.Listen("tcp", srv.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", srv.Addr(), err)
	}
	ln = transport.XorListener(ln, []byte(cfg.XorKey))
	if cfg.Transport == config.TransportYamux {
		ln = transport.ListenYamux(ln, transport.DefaultYamuxConfig(), logger)
	}

	logger.Info("starting HTTP server", "addr", srv.Addr(), "transport", cfg.Transport, "xor", cfg.XorKey != "")
	return srv.Serve(ln)
}

// startSocksServer starts the SOCKS5 proxy in front of the dispatcher
func startSocksServer(cfg *config.Config, target string, logger *slog.Logger) error {
	server, err := socks.NewServer(cfg.SocksAddr, target, cfg.XorKey, logger)
	if err != nil {
		return fmt.Errorf("create SOCKS5 server: %w", err)
	}
	server.StartAsync()
	return nil
}

// newTracerProvider exports one span per connection as JSON to w
func newTracerProvider(w io.Writer) (*sdktrace.TracerProvider, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("create span exporter: %w", err)
	}
	return sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter)), nil
}

func startMetricsServer(addr string, reg *prometheus.Registry, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	go func() {
		logger.Info("starting metrics server", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics server stopped", "err", err)
		}
	}()
}

// setupSignalHandling closes the server on SIGINT or SIGTERM
func setupSignalHandling(srv *httpserver.Server, logger *slog.Logger) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-c
		logger.Info("received signal, shutting down", "signal", sig.String())
		srv.Close()
	}()
}

func runRoutes(cmd *cobra.Command, f *flags) error {
	cfg, err := loadConfig(cmd, f)
	if err != nil {
		return reportError(err)
	}
	srv, err := buildServer(withoutFiles(cfg), newLogger(cfg), nil)
	if err != nil {
		return reportError(err)
	}

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"#", "Path", "Pattern"})

	patterns := srv.Patterns()
	for i, path := range srv.Routes() {
		pattern := "(fallback)"
		if path != httpserver.FallbackPath {
			pattern = strconv.Quote(patterns[0])
			patterns = patterns[1:]
		}
		table.Append([]string{strconv.Itoa(i + 1), path, pattern})
	}
	table.Render()

	if err := srv.Validate(); err != nil {
		httpserver.WriteSetupGuidance(cmd.ErrOrStderr())
		return reportError(err)
	}
	return nil
}

// withoutFiles replaces file routes with empty bodies so routes can be listed
// without reading page files.
func withoutFiles(cfg *config.Config) *config.Config {
	c := *cfg
	c.Routes = make([]config.Route, len(cfg.Routes))
	for i, r := range cfg.Routes {
		c.Routes[i] = config.Route{Path: r.Path, Body: r.Body}
	}
	return &c
}

func reportError(err error) error {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return err
}
