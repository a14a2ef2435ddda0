package bouncer

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// DefaultBackoffMax caps the exponential retry delay between drain
// attempts, per spec.md §4.G.
const DefaultBackoffMax = 60 * time.Second

// CompactSentinel is the filename watched for inside the queue directory;
// its creation triggers an out-of-band drain attempt regardless of the
// current backoff, letting an operator nudge the drainer without a restart.
const CompactSentinel = ".compact"

// Drainer periodically forwards closed queue segments to an upstream
// Gateway, backing off exponentially on failure and discarding entries
// older than DiscardAfter.
type Drainer struct {
	Queue        *Queue
	UpstreamURL  string
	BackoffMax   time.Duration
	DiscardAfter time.Duration
	Client       *http.Client
}

// NewDrainer returns a Drainer with defaults applied for zero-valued
// fields.
func NewDrainer(q *Queue, upstreamURL string) *Drainer {
	return &Drainer{
		Queue:        q,
		UpstreamURL:  upstreamURL,
		BackoffMax:   DefaultBackoffMax,
		DiscardAfter: DefaultDiscardAfter,
		Client:       &http.Client{Timeout: 10 * time.Second},
	}
}

// Run drains until ctx is canceled, sleeping with exponential backoff
// between unsuccessful attempts and waking immediately whenever
// CompactSentinel is created in the queue directory.
func (d *Drainer) Run(ctx context.Context) {
	nudge := make(chan struct{}, 1)
	if watcher, err := fsnotify.NewWatcher(); err == nil {
		if err := watcher.Add(d.Queue.dir); err == nil {
			go d.watchSentinel(ctx, watcher, nudge)
		} else {
			watcher.Close()
		}
	} else {
		log.WithError(err).Warn("bouncer: fsnotify unavailable, relying on backoff polling only")
	}

	backoff := time.Second
	for {
		drained, err := d.drainOnce()
		if err != nil {
			log.WithError(err).Warn("bouncer: drain attempt failed")
		}
		if drained && err == nil {
			backoff = time.Second
		} else {
			backoff *= 2
			if backoff > d.BackoffMax {
				backoff = d.BackoffMax
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-nudge:
		case <-time.After(backoff):
		}
	}
}

func (d *Drainer) watchSentinel(ctx context.Context, watcher *fsnotify.Watcher, nudge chan<- struct{}) {
	defer watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 && filepathBase(ev.Name) == CompactSentinel {
				os.Remove(ev.Name)
				select {
				case nudge <- struct{}{}:
				default:
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.WithError(err).Debug("bouncer: fsnotify watch error")
		}
	}
}

// drainOnce processes every closed segment once, oldest first, forwarding
// each still-fresh record to the upstream Gateway. A segment is deleted
// once every record in it is either forwarded or discarded as stale; the
// first record that fails to forward (and isn't stale) stops that
// segment's processing so ordering is preserved.
func (d *Drainer) drainOnce() (drained bool, err error) {
	indices, err := d.Queue.closedSegments()
	if err != nil {
		return false, err
	}
	for _, idx := range indices {
		ok, err := d.drainSegment(idx)
		if err != nil {
			return drained, err
		}
		if !ok {
			return drained, nil
		}
		drained = true
	}
	return drained, nil
}

// drainSegment returns true if the whole segment was consumed (forwarded
// or discarded) and removed.
func (d *Drainer) drainSegment(index int) (bool, error) {
	path := d.Queue.segmentPath(index)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	cutoff := time.Now().Add(-d.DiscardAfter)

	for {
		rec, err := readRecord(r)
		if err == io.EOF {
			os.Remove(path)
			return true, nil
		}
		if err != nil {
			log.WithError(err).Error("bouncer: truncated queue segment, discarding")
			os.Remove(path)
			return true, nil
		}

		if rec.enqueuedAt.Before(cutoff) {
			continue
		}
		if err := d.forward(rec); err != nil {
			log.WithError(err).Debug("bouncer: upstream forward failed, will retry")
			return false, nil
		}
	}
}

func (d *Drainer) forward(rec record) error {
	req, err := http.NewRequest(http.MethodPost, d.UpstreamURL, bytes.NewReader(rec.body))
	if err != nil {
		return err
	}
	for name, values := range rec.headers {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}

	resp, err := d.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 500 {
		return errStatus(resp.StatusCode)
	}
	return nil
}

type errStatus int

func (e errStatus) Error() string {
	return "upstream returned a server error"
}

func filepathBase(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' || p[i] == '\\' {
			return p[i+1:]
		}
	}
	return p
}
