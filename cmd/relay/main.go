// Package relay wires the relay subcommand: the sanitizing republisher of
// spec.md §4.F. Standalone, it publishes to its own in-process public bus
// with no subscribers; run it via the combined "serve" subcommand to wire
// it to a gateway's internal bus in the same process, or swap bus.Bus for
// a networked transport behind the same interface for a multi-host
// deployment.
package relay

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
	"github.com/galnet-eddn/bus/internal/relay"
	"github.com/galnet-eddn/bus/internal/stats"
	"github.com/galnet-eddn/bus/pkg/admin"
	"github.com/galnet-eddn/bus/pkg/flags"
)

// Main executes the relay subcommand.
func Main(args []string) {
	cmd := flag.NewFlagSet("relay", flag.ExitOnError)

	addr := cmd.String("addr", flags.StringEnv("GALNET_RELAY_ADDR", ":8081"), "address to serve the public stats/firehose surface on")
	adminAddr := cmd.String("admin-addr", flags.StringEnv("GALNET_RELAY_ADMIN_ADDR", ":9991"), "address to serve the admin/metrics server on")
	queueDepth := cmd.Int("bus-queue-depth", flags.IntEnv("GALNET_RELAY_BUS_QUEUE_DEPTH", bus.DefaultQueueSize), "per-subscriber bus queue depth")
	dedupeMinutes := cmd.Int("dedupe-max-minutes", flags.IntEnv("GALNET_RELAY_DEDUPE_MAX_MINUTES", 15), "duplicate-detection window in minutes; 0 disables the cache")
	statsInterval := cmd.Duration("stats-interval", flags.DurationEnv("GALNET_RELAY_STATS_INTERVAL", 60*time.Second), "interval between stats rate snapshots")
	enablePprof := cmd.Bool("enable-pprof", false, "enable pprof endpoints on the admin server")
	shutdownTimeout := cmd.Duration("graceful-shutdown-timeout", flags.DurationEnv("GALNET_RELAY_GRACEFUL_SHUTDOWN_TIMEOUT", 5*time.Second), "time allowed for in-flight requests to finish on shutdown")

	flags.ConfigureAndParse(cmd, args)

	in := bus.New(*queueDepth)
	out := bus.New(*queueDepth)
	st := stats.New(*statsInterval, stats.PrometheusSink())
	defer st.Stop()

	srv := relay.New(in, out, st, time.Duration(*dedupeMinutes)*time.Minute)

	ctx, cancelRun := context.WithCancel(context.Background())
	go srv.Run(ctx)

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
		log.Infof("starting relay server on %s", *addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("relay server error on %s: %s", *addr, err)
		}
	}()

	ready.Set(true)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Infof("shutting down relay server on %s", *addr)
	cancelRun()
	shutCtx, cancel := context.WithTimeout(context.Background(), *shutdownTimeout)
	defer cancel()
	httpServer.Shutdown(shutCtx)
	adminServer.Shutdown(shutCtx)
}
