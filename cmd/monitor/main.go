// Package monitor wires the monitor subcommand: the per-schema/per-software
// hit accounting of spec.md §4.H. Standalone, it watches its own empty
// in-process bus; run it via the combined "serve" subcommand to observe a
// relay's output in the same process.
package monitor

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
	"github.com/galnet-eddn/bus/internal/monitor"
	"github.com/galnet-eddn/bus/internal/stats"
	"github.com/galnet-eddn/bus/pkg/admin"
	"github.com/galnet-eddn/bus/pkg/flags"
)

// Main executes the monitor subcommand.
func Main(args []string) {
	cmd := flag.NewFlagSet("monitor", flag.ExitOnError)

	addr := cmd.String("addr", flags.StringEnv("GALNET_MONITOR_ADDR", ":8083"), "address to serve query endpoints on")
	adminAddr := cmd.String("admin-addr", flags.StringEnv("GALNET_MONITOR_ADMIN_ADDR", ":9993"), "address to serve the admin/metrics server on")
	dsn := cmd.String("mysql-dsn", flags.StringEnv("GALNET_MONITOR_MYSQL_DSN", ""), "MySQL DSN, e.g. user:pass@tcp(host:3306)/galnet_bus")
	maxConns := cmd.Int("mysql-max-conns", flags.IntEnv("GALNET_MONITOR_MYSQL_MAX_CONNS", 8), "maximum open MySQL connections")
	dedupeMinutes := cmd.Int("dedupe-max-minutes", flags.IntEnv("GALNET_MONITOR_DEDUPE_MAX_MINUTES", 15), "duplicate-detection window in minutes; 0 disables the cache")
	queueDepth := cmd.Int("bus-queue-depth", flags.IntEnv("GALNET_MONITOR_BUS_QUEUE_DEPTH", bus.DefaultQueueSize), "per-subscriber bus queue depth")
	statsInterval := cmd.Duration("stats-interval", flags.DurationEnv("GALNET_MONITOR_STATS_INTERVAL", 60*time.Second), "interval between stats rate snapshots")
	enablePprof := cmd.Bool("enable-pprof", false, "enable pprof endpoints on the admin server")
	shutdownTimeout := cmd.Duration("graceful-shutdown-timeout", flags.DurationEnv("GALNET_MONITOR_GRACEFUL_SHUTDOWN_TIMEOUT", 5*time.Second), "time allowed for in-flight requests to finish on shutdown")

	flags.ConfigureAndParse(cmd, args)

	if *dsn == "" {
		log.Fatal("-mysql-dsn is required")
	}
	store, err := monitor.OpenStore(*dsn, *maxConns)
	if err != nil {
		log.Fatalf("failed to open MySQL store: %s", err)
	}
	defer store.Close()

	in := bus.New(*queueDepth)
	st := stats.New(*statsInterval, stats.PrometheusSink())
	defer st.Stop()

	mon := monitor.New(in, store, st, time.Duration(*dedupeMinutes)*time.Minute)
	ctx, cancelRun := context.WithCancel(context.Background())
	go mon.Run(ctx)

	srv := monitor.NewServer(store)
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
		log.Infof("starting monitor server on %s", *addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("monitor server error on %s: %s", *addr, err)
		}
	}()

	ready.Set(true)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Infof("shutting down monitor server on %s", *addr)
	cancelRun()
	shutCtx, cancel := context.WithTimeout(context.Background(), *shutdownTimeout)
	defer cancel()
	httpServer.Shutdown(shutCtx)
	adminServer.Shutdown(shutCtx)
}
