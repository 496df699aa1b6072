// Package control implements the framed request/response protocol local
// clients use to ask a running daemon for work: a 4-byte
// big-endian length prefix followed by a JSON payload, symmetric in both
// directions over a local Unix socket.
package control

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"path/filepath"

	"github.com/nhle/mailsync/internal/model"
)

// MaxFrameSize is the largest accepted payload. Oversized frames are
// rejected from the length prefix alone, before any buffering.
const MaxFrameSize = 1 << 20

// ControlError indicates a malformed or oversized frame.
type ControlError struct {
	Message string
}

func (e *ControlError) Error() string {
	return "control protocol error: " + e.Message
}

// IsControlError reports whether err (or any error in its chain) is a
// ControlError.
func IsControlError(err error) bool {
	var ce *ControlError
	return errors.As(err, &ce)
}

// Command names carried in the request's "cmd" field.
const (
	CmdPing     = "ping"
	CmdSyncPage = "sync_page"
	CmdFetchRaw = "fetch_raw"
)

// Request asks the daemon to do work on demand.
type Request struct {
	Cmd      string `json:"cmd"`
	Page     uint32 `json:"page,omitempty"`
	PageSize uint32 `json:"page_size,omitempty"`
	UID      uint32 `json:"uid,omitempty"`
}

// Response reports the outcome of a single request.
type Response struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

// SocketPath returns the daemon's control socket location under the
// per-user application state directory.
func SocketPath() (string, error) {
	dir, err := model.ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "daemon.sock"), nil
}

// WriteFrame writes one length-prefixed JSON payload.
func WriteFrame(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return &ControlError{Message: fmt.Sprintf("encoding payload: %v", err)}
	}
	if len(data) > MaxFrameSize {
		return &ControlError{Message: fmt.Sprintf("payload too large: %d bytes", len(data))}
	}

	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(data)))
	if _, err := w.Write(prefix[:]); err != nil {
		return fmt.Errorf("writing frame prefix: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("writing frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed JSON payload into v. Frames larger
// than MaxFrameSize are rejected without reading the payload.
func ReadFrame(r io.Reader, v any) error {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return fmt.Errorf("reading frame prefix: %w", err)
	}

	n := binary.BigEndian.Uint32(prefix[:])
	if n > MaxFrameSize {
		return &ControlError{Message: fmt.Sprintf("frame too large: %d bytes", n)}
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return fmt.Errorf("reading frame payload: %w", err)
	}

	if err := json.Unmarshal(buf, v); err != nil {
		return &ControlError{Message: fmt.Sprintf("decoding payload: %v", err)}
	}
	return nil
}

// Send connects to the daemon's control socket, sends one request, and
// waits for its response.
func Send(req Request) (*Response, error) {
	path, err := SocketPath()
	if err != nil {
		return nil, err
	}

	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, fmt.Errorf("connecting to daemon at %s: %w", path, err)
	}
	defer conn.Close()

	if err := WriteFrame(conn, req); err != nil {
		return nil, err
	}

	var resp Response
	if err := ReadFrame(conn, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
