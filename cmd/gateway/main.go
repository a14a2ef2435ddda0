// Package gateway wires the gateway subcommand: the public upload intake
// of spec.md §4.E.
package gateway

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

	"github.com/galnet-eddn/bus/internal/bus"
	"github.com/galnet-eddn/bus/internal/gateway"
	"github.com/galnet-eddn/bus/internal/schema"
	"github.com/galnet-eddn/bus/internal/stats"
	"github.com/galnet-eddn/bus/pkg/admin"
	"github.com/galnet-eddn/bus/pkg/flags"
)

// Main executes the gateway subcommand.
func Main(args []string) {
	cmd := flag.NewFlagSet("gateway", flag.ExitOnError)

	addr := cmd.String("addr", flags.StringEnv("GALNET_GATEWAY_ADDR", ":8080"), "address to serve uploads on")
	adminAddr := cmd.String("admin-addr", flags.StringEnv("GALNET_GATEWAY_ADMIN_ADDR", ":9990"), "address to serve the admin/metrics server on")
	schemaDir := cmd.String("schema-dir", flags.StringEnv("GALNET_GATEWAY_SCHEMA_DIR", "/etc/galnet-bus/schemas"), "directory of JSON Schema documents to load")
	maxBodyBytes := cmd.Int64("max-body-bytes", gateway.DefaultMaxBodyBytes, "maximum accepted upload body size, in bytes")
	trustForwardedIP := cmd.Bool("trust-forwarded-ip", false, "trust the first X-Forwarded-For entry as the uploader's IP, when the peer matches -trusted-proxy-prefix")
	trustedProxyPrefix := cmd.String("trusted-proxy-prefix", flags.StringEnv("GALNET_GATEWAY_TRUSTED_PROXY_PREFIX", ""), "CIDR prefix the immediate peer must match for -trust-forwarded-ip to take effect")
	dedupeMinutes := cmd.Int("dedupe-max-minutes", flags.IntEnv("GALNET_GATEWAY_DEDUPE_MAX_MINUTES", 15), "duplicate-detection window in minutes; 0 disables the cache")
	queueDepth := cmd.Int("bus-queue-depth", flags.IntEnv("GALNET_GATEWAY_BUS_QUEUE_DEPTH", bus.DefaultQueueSize), "per-subscriber bus queue depth")
	statsInterval := cmd.Duration("stats-interval", flags.DurationEnv("GALNET_GATEWAY_STATS_INTERVAL", 60*time.Second), "interval between stats rate snapshots")
	enablePprof := cmd.Bool("enable-pprof", false, "enable pprof endpoints on the admin server")
	shutdownTimeout := cmd.Duration("graceful-shutdown-timeout", flags.DurationEnv("GALNET_GATEWAY_GRACEFUL_SHUTDOWN_TIMEOUT", 5*time.Second), "time allowed for in-flight requests to finish on shutdown")

	flags.ConfigureAndParse(cmd, args)

	schemas, err := schema.LoadDir(*schemaDir)
	if err != nil {
		log.Fatalf("failed to load schemas from %s: %s", *schemaDir, err)
	}
	log.Infof("loaded %d schemas from %s", schemas.Count(), *schemaDir)

	b := bus.New(*queueDepth)
	st := stats.New(*statsInterval, stats.PrometheusSink())
	defer st.Stop()

	srv := gateway.New(gateway.Config{
		MaxBodyBytes:       *maxBodyBytes,
		TrustForwardedIP:   *trustForwardedIP,
		TrustedProxyPrefix: *trustedProxyPrefix,
		DedupeWindow:       time.Duration(*dedupeMinutes) * time.Minute,
	}, b, schemas, st)

	httpServer := &http.Server{Addr: *addr, Handler: srv.Handler(), ReadHeaderTimeout: 15 * time.Second}

	ready := &admin.Readiness{}
	adminServer := admin.NewServer(*adminAddr, *enablePprof, ready)

	go func() {
		log.Infof("starting admin server on %s", *adminAddr)
		if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("admin server error on %s: %s", *adminAddr, err)
		}
	}()

	go func() {
		log.Infof("starting gateway server on %s", *addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("gateway server error on %s: %s", *addr, err)
		}
	}()

	ready.Set(true)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Infof("shutting down gateway server on %s", *addr)
	ctx, cancel := context.WithTimeout(context.Background(), *shutdownTimeout)
	defer cancel()
	httpServer.Shutdown(ctx)
	adminServer.Shutdown(ctx)
}
