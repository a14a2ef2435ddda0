// Package bouncer wires the bouncer subcommand: the on-disk buffering
// upload intake of spec.md §4.G.
package bouncer

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
	"github.com/galnet-eddn/bus/internal/stats"
	"github.com/galnet-eddn/bus/pkg/admin"
	"github.com/galnet-eddn/bus/pkg/flags"
)

// Main executes the bouncer subcommand.
func Main(args []string) {
	cmd := flag.NewFlagSet("bouncer", flag.ExitOnError)

	addr := cmd.String("addr", flags.StringEnv("GALNET_BOUNCER_ADDR", ":8082"), "address to accept queued uploads on")
	adminAddr := cmd.String("admin-addr", flags.StringEnv("GALNET_BOUNCER_ADMIN_ADDR", ":9992"), "address to serve the admin/metrics server on")
	queueDir := cmd.String("queue-dir", flags.StringEnv("GALNET_BOUNCER_QUEUE_DIR", "/var/lib/galnet-bus/bouncer"), "directory holding the on-disk upload queue")
	upstreamURL := cmd.String("upstream-url", flags.StringEnv("GALNET_BOUNCER_UPSTREAM_URL", "http://localhost:8080/upload/"), "gateway URL to forward queued uploads to")
	maxSegmentBytes := cmd.Int64("max-segment-bytes", bouncer.DefaultMaxSegmentBytes, "size at which the active queue segment rolls over")
	backoffMaxSeconds := cmd.Int("backoff-max-seconds", flags.IntEnv("GALNET_BOUNCER_BACKOFF_MAX_SECONDS", int(bouncer.DefaultBackoffMax/time.Second)), "maximum seconds between drain retry attempts")
	discardAfterDays := cmd.Int("discard-after-days", flags.IntEnv("GALNET_BOUNCER_DISCARD_AFTER_DAYS", int(bouncer.DefaultDiscardAfter/(24*time.Hour))), "days after which an undelivered entry is discarded")
	maxBodyBytes := cmd.Int64("max-body-bytes", 1<<20, "maximum accepted upload body size, in bytes")
	statsInterval := cmd.Duration("stats-interval", flags.DurationEnv("GALNET_BOUNCER_STATS_INTERVAL", 60*time.Second), "interval between stats rate snapshots")
	enablePprof := cmd.Bool("enable-pprof", false, "enable pprof endpoints on the admin server")
	shutdownTimeout := cmd.Duration("graceful-shutdown-timeout", flags.DurationEnv("GALNET_BOUNCER_GRACEFUL_SHUTDOWN_TIMEOUT", 5*time.Second), "time allowed for in-flight requests to finish on shutdown")

	flags.ConfigureAndParse(cmd, args)

	queue, err := bouncer.OpenQueue(*queueDir, *maxSegmentBytes)
	if err != nil {
		log.Fatalf("failed to open queue at %s: %s", *queueDir, err)
	}

	st := stats.New(*statsInterval, stats.PrometheusSink())
	defer st.Stop()

	srv := bouncer.New(queue, st, *maxBodyBytes)

	drainer := bouncer.NewDrainer(queue, *upstreamURL)
	drainer.BackoffMax = time.Duration(*backoffMaxSeconds) * time.Second
	drainer.DiscardAfter = time.Duration(*discardAfterDays) * 24 * time.Hour

	ctx, cancelRun := context.WithCancel(context.Background())
	go drainer.Run(ctx)
	stopDepthReport := bouncer.ReportDepth(queue, 15*time.Second)

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
		log.Infof("starting bouncer server on %s", *addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("bouncer server error on %s: %s", *addr, err)
		}
	}()

	ready.Set(true)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Infof("shutting down bouncer server on %s", *addr)
	cancelRun()
	stopDepthReport()
	shutCtx, cancel := context.WithTimeout(context.Background(), *shutdownTimeout)
	defer cancel()
	httpServer.Shutdown(shutCtx)
	adminServer.Shutdown(shutCtx)
}
