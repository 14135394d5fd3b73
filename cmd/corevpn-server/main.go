package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/corevpn/corevpn/addressing"
	"github.com/corevpn/corevpn/config"
	"github.com/corevpn/corevpn/eventbus"
	"github.com/corevpn/corevpn/health"
	"github.com/corevpn/corevpn/internal/logger"
	"github.com/corevpn/corevpn/internal/metrics"
	"github.com/corevpn/corevpn/pushconfig"
	"github.com/corevpn/corevpn/server"
)

var (
	configPath string
	envName    string
	dotEnvPath string
)

var rootCmd = &cobra.Command{
	Use:   "corevpn-server",
	Short: "corevpn-server runs the OpenVPN-wire-compatible server core",
	Long: `corevpn-server binds a UDP socket and dispatches OpenVPN protocol
traffic to per-peer sessions: hard-reset handshakes, reliable control
channel delivery, data-channel decryption, idle-session reaping and
PUSH_REPLY generation on successful authentication.`,
	RunE: runServer,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.Flags().StringVarP(&configPath, "config-dir", "c", "config", "directory to load environment config files from")
	rootCmd.Flags().StringVarP(&envName, "env", "e", "", "environment name (defaults to COREVPN_ENV/ENVIRONMENT)")
	rootCmd.Flags().StringVar(&dotEnvPath, "dotenv", "", "optional .env file to load before config resolution")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(config.LoaderOptions{
		ConfigDir:   configPath,
		Environment: envName,
		DotEnvPath:  dotEnvPath,
	})
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := buildLogger(cfg)

	listenAddr := "0.0.0.0:1194"
	if cfg.Listen != nil && cfg.Listen.Address != "" {
		listenAddr = cfg.Listen.Address
	}

	conn, err := net.ListenPacket("udp", listenAddr)
	if err != nil {
		return fmt.Errorf("listen udp %s: %w", listenAddr, err)
	}
	defer conn.Close()

	pool, err := cfg.AddressPool()
	if err != nil {
		return fmt.Errorf("build address pool: %w", err)
	}
	pushPolicy, err := cfg.PushPolicy()
	if err != nil {
		return fmt.Errorf("build push-reply policy: %w", err)
	}
	pushBuilder := pushconfig.NewBuilder(pool, pushPolicy)

	authProvider, err := cfg.AuthProvider()
	if err != nil {
		return fmt.Errorf("build auth provider: %w", err)
	}

	dispatcherCfg, err := cfg.DispatcherConfig(authProvider, pushBuilder)
	if err != nil {
		return fmt.Errorf("build dispatcher config: %w", err)
	}

	connLogger, closeConnLogger, dbPool, err := buildConnectionLogger(cfg)
	if err != nil {
		return fmt.Errorf("build connection logger: %w", err)
	}
	defer closeConnLogger()

	dispatcher := server.NewDispatcher(conn, dispatcherCfg, connLogger, nil)
	defer dispatcher.Close()

	healthChecker := buildHealthChecker(cfg, conn, pool, dispatcher, dbPool)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startMetricsServer(cfg, log)
	startHealthServer(ctx, cfg, healthChecker, log)

	log.Info("corevpn-server starting", logger.String("listen", listenAddr), logger.String("environment", cfg.Environment))

	err = dispatcher.Run(ctx)
	if ctx.Err() != nil {
		log.Info("corevpn-server shutting down")
		return nil
	}
	return err
}

func buildLogger(cfg *config.Config) *logger.StructuredLogger {
	level := logger.InfoLevel
	if cfg.Logging != nil {
		if l, err := logger.ParseLevel(cfg.Logging.Level); err == nil {
			level = l
		}
	}
	return logger.NewLogger(os.Stdout, level)
}

// buildConnectionLogger returns an eventbus.Logger matching
// cfg.Logging.Output, a cleanup func the caller must defer, and the
// underlying pgxpool.Pool when Output is "database" (nil otherwise,
// so buildHealthChecker can wire DatabaseHealthCheck against it).
func buildConnectionLogger(cfg *config.Config) (eventbus.Logger, func(), *pgxpool.Pool, error) {
	if cfg.Logging == nil || cfg.Logging.Output == "" || cfg.Logging.Output == "stdout" || cfg.Logging.Output == "stderr" {
		return eventbus.NewNullLogger(), func() {}, nil, nil
	}

	if cfg.Logging.Output == "database" {
		pool, err := pgxpool.New(context.Background(), cfg.Logging.DSN)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connect connection-event database: %w", err)
		}
		dl := eventbus.NewDatabaseLogger(pool, cfg.Logging.RetentionDays)
		return dl, func() { _ = dl.Flush(context.Background()); pool.Close() }, pool, nil
	}

	fl, err := eventbus.NewFileLogger(cfg.Logging.FilePath, true)
	if err != nil {
		return nil, nil, nil, err
	}
	return fl, func() { _ = fl.Flush(context.Background()) }, nil, nil
}

// buildHealthChecker registers the dispatcher's liveness/capacity
// checks. Checks whose backing collaborator isn't configured (the
// database logger, an OIDC issuer) are left unregistered rather than
// always-pass.
func buildHealthChecker(cfg *config.Config, conn net.PacketConn, pool *addressing.Pool, dispatcher *server.Dispatcher, dbPool *pgxpool.Pool) *health.HealthChecker {
	hc := health.NewHealthChecker(5 * time.Second)

	hc.RegisterCheck("udp-listener", health.UDPListenerHealthCheck(func(ctx context.Context) error {
		_, err := conn.WriteTo(nil, conn.LocalAddr())
		return err
	}))

	hc.RegisterCheck("address-pool", health.AddressPoolHealthCheck(func() int {
		stats := pool.Stats()
		return (stats.V4Capacity - stats.V4Allocated) + (stats.V6Capacity - stats.V6Allocated)
	}))

	maxSessions := 0
	if cfg.Session != nil {
		maxSessions = cfg.Session.MaxSessions
	}
	hc.RegisterCheck("session-capacity", health.SessionCapacityHealthCheck(dispatcher.SessionCount, maxSessions))

	if dbPool != nil {
		hc.RegisterCheck("connection-event-database", health.DatabaseHealthCheck(dbPool.Ping))
	}

	if cfg.Auth != nil && cfg.Auth.OIDC != nil && cfg.Auth.OIDC.Issuer != "" {
		hc.RegisterCheck("oidc-issuer", health.ServiceHealthCheck(cfg.Auth.OIDC.Issuer, pingHTTPService))
	}

	return hc
}

func pingHTTPService(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("service returned %s", resp.Status)
	}
	return nil
}

// startMetricsServer serves the process's Prometheus registry on
// cfg.Metrics.Port when enabled. It runs in the background; a failure
// is logged rather than fatal, since metrics scraping is not on the
// data path.
func startMetricsServer(cfg *config.Config, log *logger.StructuredLogger) {
	if cfg.Metrics == nil || !cfg.Metrics.Enabled {
		return
	}
	addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
	go func() {
		log.Info("metrics server listening", logger.String("addr", addr))
		if err := metrics.StartServer(addr); err != nil {
			log.Error("metrics server stopped", logger.Error(err))
		}
	}()
}

// startHealthServer serves GetSystemHealth as JSON on cfg.Health.Port
// when enabled, returning 503 once any registered check is unhealthy.
func startHealthServer(ctx context.Context, cfg *config.Config, hc *health.HealthChecker, log *logger.StructuredLogger) {
	if cfg.Health == nil || !cfg.Health.Enabled {
		return
	}
	path := cfg.Health.Path

	mux := http.NewServeMux()
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		sh := hc.GetSystemHealth(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if sh.Status != health.StatusHealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(sh)
	})

	addr := fmt.Sprintf(":%d", cfg.Health.Port)
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		log.Info("health server listening", logger.String("addr", addr), logger.String("path", path))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("health server stopped", logger.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}
