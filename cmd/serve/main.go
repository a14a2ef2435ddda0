// Package serve wires every component into a single process sharing
// in-process buses — the realistic single-host deployment the in-process
// bus.Bus transport is meant for. A multi-host deployment instead runs
// gateway/relay/bouncer/monitor as separate processes behind a networked
// transport implementing the same interface.
package serve

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/galnet-eddn/bus/internal/bouncer"
	"github.com/galnet-eddn/bus/internal/bus"
	"github.com/galnet-eddn/bus/internal/gateway"
	"github.com/galnet-eddn/bus/internal/monitor"
	"github.com/galnet-eddn/bus/internal/relay"
	"github.com/galnet-eddn/bus/internal/schema"
	"github.com/galnet-eddn/bus/internal/stats"
	"github.com/galnet-eddn/bus/pkg/admin"
	"github.com/galnet-eddn/bus/pkg/flags"
)

// Main executes the serve subcommand: gateway, relay and monitor sharing
// in-process buses, plus an optional bouncer front door.
func Main(args []string) {
	cmd := flag.NewFlagSet("serve", flag.ExitOnError)

	gatewayAddr := cmd.String("gateway-addr", flags.StringEnv("GALNET_SERVE_GATEWAY_ADDR", ":8080"), "address to serve uploads on")
	relayAddr := cmd.String("relay-addr", flags.StringEnv("GALNET_SERVE_RELAY_ADDR", ":8081"), "address to serve the public stats/firehose surface on")
	bouncerAddr := cmd.String("bouncer-addr", flags.StringEnv("GALNET_SERVE_BOUNCER_ADDR", ":8082"), "address to accept queued uploads on")
	monitorAddr := cmd.String("monitor-addr", flags.StringEnv("GALNET_SERVE_MONITOR_ADDR", ":8083"), "address to serve query endpoints on")
	adminAddr := cmd.String("admin-addr", flags.StringEnv("GALNET_SERVE_ADMIN_ADDR", ":9990"), "address to serve the combined admin/metrics server on")
	enableBouncer := cmd.Bool("enable-bouncer", false, "also run the on-disk buffering front door")
	enableMonitor := cmd.Bool("enable-monitor", false, "also run the MySQL-backed hit-counter query surface")

	schemaDir := cmd.String("schema-dir", flags.StringEnv("GALNET_SERVE_SCHEMA_DIR", "/etc/galnet-bus/schemas"), "directory of JSON Schema documents to load")
	maxBodyBytes := cmd.Int64("max-body-bytes", gateway.DefaultMaxBodyBytes, "maximum accepted upload body size, in bytes")
	trustForwardedIP := cmd.Bool("trust-forwarded-ip", false, "trust the first X-Forwarded-For entry as the uploader's IP, when the peer matches -trusted-proxy-prefix")
	trustedProxyPrefix := cmd.String("trusted-proxy-prefix", flags.StringEnv("GALNET_SERVE_TRUSTED_PROXY_PREFIX", ""), "CIDR prefix the immediate peer must match for -trust-forwarded-ip to take effect")
	dedupeMinutes := cmd.Int("dedupe-max-minutes", flags.IntEnv("GALNET_SERVE_DEDUPE_MAX_MINUTES", 15), "duplicate-detection window in minutes; 0 disables the cache")
	queueDepth := cmd.Int("bus-queue-depth", flags.IntEnv("GALNET_SERVE_BUS_QUEUE_DEPTH", bus.DefaultQueueSize), "per-subscriber bus queue depth")
	statsInterval := cmd.Duration("stats-interval", flags.DurationEnv("GALNET_SERVE_STATS_INTERVAL", 60*time.Second), "interval between stats rate snapshots")

	queueDir := cmd.String("bouncer-queue-dir", flags.StringEnv("GALNET_SERVE_BOUNCER_QUEUE_DIR", "/var/lib/galnet-bus/bouncer"), "directory holding the on-disk upload queue")
	bouncerUpstream := cmd.String("bouncer-upstream-url", flags.StringEnv("GALNET_SERVE_BOUNCER_UPSTREAM_URL", "http://localhost:8080/upload/"), "gateway URL the bouncer forwards queued uploads to")

	mysqlDSN := cmd.String("mysql-dsn", flags.StringEnv("GALNET_SERVE_MYSQL_DSN", ""), "MySQL DSN for the monitor store, required if -enable-monitor")
	mysqlMaxConns := cmd.Int("mysql-max-conns", flags.IntEnv("GALNET_SERVE_MYSQL_MAX_CONNS", 8), "maximum open MySQL connections")

	enablePprof := cmd.Bool("enable-pprof", false, "enable pprof endpoints on the admin server")
	shutdownTimeout := cmd.Duration("graceful-shutdown-timeout", flags.DurationEnv("GALNET_SERVE_GRACEFUL_SHUTDOWN_TIMEOUT", 5*time.Second), "time allowed for in-flight requests to finish on shutdown")

	flags.ConfigureAndParse(cmd, args)

	schemas, err := schema.LoadDir(*schemaDir)
	if err != nil {
		log.Fatalf("failed to load schemas from %s: %s", *schemaDir, err)
	}
	log.Infof("loaded %d schemas from %s", schemas.Count(), *schemaDir)

	internalBus := bus.New(*queueDepth)
	publicBus := bus.New(*queueDepth)

	gatewayStats := stats.New(*statsInterval, stats.PrometheusSink())
	relayStats := stats.New(*statsInterval, stats.PrometheusSink())
	defer gatewayStats.Stop()
	defer relayStats.Stop()

	gatewaySrv := gateway.New(gateway.Config{
		MaxBodyBytes:       *maxBodyBytes,
		TrustForwardedIP:   *trustForwardedIP,
		TrustedProxyPrefix: *trustedProxyPrefix,
		DedupeWindow:       time.Duration(*dedupeMinutes) * time.Minute,
	}, internalBus, schemas, gatewayStats)

	relaySrv := relay.New(internalBus, publicBus, relayStats, time.Duration(*dedupeMinutes)*time.Minute)

	ctx, cancelRun := context.WithCancel(context.Background())
	go relaySrv.Run(ctx)

	servers := []*http.Server{
		{Addr: *gatewayAddr, Handler: gatewaySrv.Handler(), ReadHeaderTimeout: 15 * time.Second},
		{Addr: *relayAddr, Handler: relaySrv.Handler(), ReadHeaderTimeout: 15 * time.Second},
	}

	var stopDepthReport func()
	if *enableBouncer {
		queue, err := bouncer.OpenQueue(*queueDir, bouncer.DefaultMaxSegmentBytes)
		if err != nil {
			log.Fatalf("failed to open bouncer queue at %s: %s", *queueDir, err)
		}
		bouncerStats := stats.New(*statsInterval, stats.PrometheusSink())
		defer bouncerStats.Stop()

		bouncerSrv := bouncer.New(queue, bouncerStats, *maxBodyBytes)
		drainer := bouncer.NewDrainer(queue, *bouncerUpstream)
		go drainer.Run(ctx)
		stopDepthReport = bouncer.ReportDepth(queue, 15*time.Second)

		servers = append(servers, &http.Server{Addr: *bouncerAddr, Handler: bouncerSrv.Handler(), ReadHeaderTimeout: 15 * time.Second})
	}

	if *enableMonitor {
		if *mysqlDSN == "" {
			log.Fatal("-mysql-dsn is required when -enable-monitor is set")
		}
		store, err := monitor.OpenStore(*mysqlDSN, *mysqlMaxConns)
		if err != nil {
			log.Fatalf("failed to open MySQL store: %s", err)
		}
		defer store.Close()

		monitorStats := stats.New(*statsInterval, stats.PrometheusSink())
		defer monitorStats.Stop()

		mon := monitor.New(publicBus, store, monitorStats, time.Duration(*dedupeMinutes)*time.Minute)
		go mon.Run(ctx)

		monitorSrv := monitor.NewServer(store)
		servers = append(servers, &http.Server{Addr: *monitorAddr, Handler: monitorSrv.Handler(), ReadHeaderTimeout: 15 * time.Second})
	}

	ready := &admin.Readiness{}
	adminServer := admin.NewServer(*adminAddr, *enablePprof, ready)

	go func() {
		log.Infof("starting admin server on %s", *adminAddr)
		if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("admin server error on %s: %s", *adminAddr, err)
		}
	}()
	for _, s := range servers {
		s := s
		go func() {
			log.Infof("starting server on %s", s.Addr)
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("server error on %s: %s", s.Addr, err)
			}
		}()
	}

	ready.Set(true)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	cancelRun()
	if stopDepthReport != nil {
		stopDepthReport()
	}
	shutCtx, cancel := context.WithTimeout(context.Background(), *shutdownTimeout)
	defer cancel()
	for _, s := range servers {
		s.Shutdown(shutCtx)
	}
	adminServer.Shutdown(shutCtx)
}
