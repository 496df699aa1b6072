// Package daemon implements the sync orchestrator: a cooperative main loop
// that combines scheduled polling, a live IDLE wake signal, cache
// maintenance, watermark-gated notifications, and an on-demand control
// service, plus a single-instance guard on the control socket.
package daemon

import (
	"context"
	"errors"
	"net"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/notifier"
	"github.com/nhle/mailsync/internal/store"
)

// ErrAlreadyRunning is returned when a live daemon already answers on the
// control socket. It is a clean exit, not a failure.
var ErrAlreadyRunning = errors.New("daemon already running")

// pageSize is the fixed window size used by the scheduled cycle.
const pageSize = 20

// loopTick is the main-loop cadence; every sleep is this short so shutdown
// stays responsive.
const loopTick = 200 * time.Millisecond

// Fetcher is the protocol-client surface the orchestrator drives.
type Fetcher interface {
	FetchPage(ctx context.Context, accessToken string, page, pageSize uint32) ([]model.EmailSummary, error)
	FetchBody(ctx context.Context, accessToken string, id model.EmailID) (*model.EmailBody, error)
	FetchRaw(ctx context.Context, accessToken string, id model.EmailID) ([]byte, error)
	WatchInbox(ctx context.Context, accessToken string, wake func()) error
}

// TokenSource resolves a valid bearer token.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// Config bounds the orchestrator's cadence and cache size.
type Config struct {
	// Interval is the fallback delay between scheduled poll cycles.
	Interval time.Duration

	// KeepRecent is the retention bound handed to the repository's prune.
	KeepRecent int

	// Pages is how many pages of pageSize each cycle refreshes.
	Pages int
}

// Daemon owns the main loop. All repository access happens on that loop;
// the IDLE watcher is the only other thread of control and communicates
// solely through the wake channel.
type Daemon struct {
	repo   store.Repository
	client Fetcher
	tokens TokenSource
	notify notifier.Notifier
	log    *zap.SugaredLogger
	cfg    Config
	wake   chan struct{}
}

// New assembles a daemon around the shared repository, protocol client,
// and token manager instances.
func New(
	repo store.Repository,
	client Fetcher,
	tokens TokenSource,
	notify notifier.Notifier,
	log *zap.SugaredLogger,
	cfg Config,
) *Daemon {
	if cfg.Interval < 5*time.Second {
		cfg.Interval = 5 * time.Second
	}
	return &Daemon{
		repo:   repo,
		client: client,
		tokens: tokens,
		notify: notify,
		log:    log,
		cfg:    cfg,
		wake:   make(chan struct{}, 1),
	}
}

// Run binds the control socket, starts the IDLE watcher, and drives the
// main loop until ctx is cancelled. It returns ErrAlreadyRunning when a
// live instance already owns the socket.
func (d *Daemon) Run(ctx context.Context, socketPath string) error {
	ln, err := listenControl(socketPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = ln.Close()
		_ = os.Remove(socketPath)
	}()

	go d.watchLoop(ctx)

	d.log.Infow("daemon started",
		"socket", socketPath,
		"interval", d.cfg.Interval,
		"keep_recent", d.cfg.KeepRecent,
		"pages", d.cfg.Pages,
	)

	nextRun := time.Now()
	for ctx.Err() == nil {
		d.drainControl(ctx, ln)

		// Any number of queued wakes collapse into one immediate cycle.
		select {
		case <-d.wake:
			nextRun = time.Now()
		default:
		}

		if now := time.Now(); !now.Before(nextRun) {
			if err := d.pollCycle(ctx); err != nil {
				d.log.Errorw("poll cycle failed", "error", err)
			}
			nextRun = now.Add(d.cfg.Interval)
		}

		select {
		case <-ctx.Done():
		case <-time.After(loopTick):
		}
	}

	d.log.Infow("daemon stopping")
	return nil
}

// listenControl implements the single-instance guard: a socket path that
// answers a dial belongs to a live daemon; an unanswering path is stale and
// replaced.
func listenControl(path string) (net.Listener, error) {
	if _, err := os.Stat(path); err == nil {
		conn, dialErr := net.DialTimeout("unix", path, time.Second)
		if dialErr == nil {
			conn.Close()
			return nil, ErrAlreadyRunning
		}
		_ = os.Remove(path)
	}
	return net.Listen("unix", path)
}

// watchLoop keeps one IDLE session alive, reconnecting with a short,
// shutdown-responsive backoff on any error.
func (d *Daemon) watchLoop(ctx context.Context) {
	for ctx.Err() == nil {
		token, err := d.tokens.AccessToken(ctx)
		if err != nil {
			d.log.Warnw("idle watcher: token unavailable", "error", err)
			d.pause(ctx)
			continue
		}

		if err := d.client.WatchInbox(ctx, token, d.signalWake); err != nil {
			d.log.Warnw("idle watcher: session ended, reconnecting", "error", err)
		}
		d.pause(ctx)
	}
}

// signalWake requests one immediate poll cycle; redundant signals collapse.
func (d *Daemon) signalWake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Daemon) pause(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
	}
}
