package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/nhle/mailsync/internal/control"
	"github.com/nhle/mailsync/internal/mail"
)

// connDeadline bounds how long a single control exchange may occupy the
// main loop.
const connDeadline = 5 * time.Second

// drainControl accepts and serves every pending control connection, then
// returns without blocking the loop.
func (d *Daemon) drainControl(ctx context.Context, ln net.Listener) {
	type deadliner interface {
		SetDeadline(t time.Time) error
	}

	for {
		if dl, ok := ln.(deadliner); ok {
			_ = dl.SetDeadline(time.Now().Add(time.Millisecond))
		}
		conn, err := ln.Accept()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return
			}
			if !errors.Is(err, net.ErrClosed) {
				d.log.Warnw("control accept failed", "error", err)
			}
			return
		}
		d.serveConn(ctx, conn)
	}
}

// serveConn handles one framed request/response exchange and closes the
// connection. Malformed frames get an error response when possible.
func (d *Daemon) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(connDeadline))

	var req control.Request
	if err := control.ReadFrame(conn, &req); err != nil {
		d.log.Warnw("control request unreadable", "error", err)
		_ = control.WriteFrame(conn, control.Response{OK: false, Message: "bad request"})
		return
	}

	resp := d.handleRequest(ctx, req)
	if err := control.WriteFrame(conn, resp); err != nil {
		d.log.Warnw("control response failed", "cmd", req.Cmd, "error", err)
	}
}

func (d *Daemon) handleRequest(ctx context.Context, req control.Request) control.Response {
	switch req.Cmd {
	case control.CmdPing:
		return control.Response{OK: true, Message: "pong"}

	case control.CmdSyncPage:
		return d.handleSyncPage(ctx, req)

	case control.CmdFetchRaw:
		return d.handleFetchRaw(ctx, req)

	default:
		return control.Response{OK: false, Message: fmt.Sprintf("unknown command %q", req.Cmd)}
	}
}

// handleSyncPage refreshes one explicit page on demand, including body
// backfill and pruning, without touching the notification watermark.
func (d *Daemon) handleSyncPage(ctx context.Context, req control.Request) control.Response {
	size := req.PageSize
	if size == 0 {
		size = pageSize
	}

	token, err := d.tokens.AccessToken(ctx)
	if err != nil {
		return control.Response{OK: false, Message: err.Error()}
	}

	items, err := d.client.FetchPage(ctx, token, req.Page, size)
	if err != nil {
		return control.Response{OK: false, Message: err.Error()}
	}
	if len(items) == 0 {
		return control.Response{OK: true, Message: fmt.Sprintf("page %d is empty", req.Page)}
	}

	items = mail.DedupeSummaries(items)
	if err := d.repo.UpsertSummaries(ctx, items); err != nil {
		return control.Response{OK: false, Message: err.Error()}
	}
	d.backfillBodies(ctx, token, items)

	if err := d.repo.PruneKeepRecent(ctx, d.cfg.KeepRecent); err != nil {
		return control.Response{OK: false, Message: err.Error()}
	}
	return control.Response{OK: true, Message: fmt.Sprintf("synced %d messages on page %d", len(items), req.Page)}
}

// handleFetchRaw downloads one complete message and caches it verbatim.
func (d *Daemon) handleFetchRaw(ctx context.Context, req control.Request) control.Response {
	token, err := d.tokens.AccessToken(ctx)
	if err != nil {
		return control.Response{OK: false, Message: err.Error()}
	}

	raw, err := d.client.FetchRaw(ctx, token, req.UID)
	if err != nil {
		return control.Response{OK: false, Message: err.Error()}
	}
	if err := d.repo.UpsertRaw(ctx, req.UID, raw); err != nil {
		return control.Response{OK: false, Message: err.Error()}
	}
	return control.Response{OK: true, Message: fmt.Sprintf("stored %d raw bytes for message %d", len(raw), req.UID)}
}
