// Package mail implements the mailbox protocol client: XOAUTH2
// authentication, pagination over the UID space, and best-effort plain-text
// extraction from arbitrary MIME trees.
package mail

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/nhle/mailsync/internal/model"
)

const mailboxName = "INBOX"

// ProtocolError indicates a connect, authenticate, or fetch failure against
// the mailbox server.
type ProtocolError struct {
	Op      string
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error (%s): %s", e.Op, e.Message)
}

// IsProtocolError reports whether err (or any error in its chain) is a
// ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

func protoErr(op string, err error) error {
	return &ProtocolError{Op: op, Message: err.Error()}
}

// Client connects to an IMAP server over implicit TLS and authenticates
// with the XOAUTH2 mechanism. It holds no connection state; every operation
// dials, works, and logs out.
type Client struct {
	server string
	user   string
}

// NewClient creates a client for the given server (port 993 assumed when
// absent) and mailbox identity.
func NewClient(server, user string) *Client {
	return &Client{server: server, user: user}
}

func (c *Client) addr() string {
	if strings.Contains(c.server, ":") {
		return c.server
	}
	return c.server + ":993"
}

// connect dials the server and authenticates. The XOAUTH2 payload is tried
// raw first and base64-encoded on rejection; both failing is terminal.
// The caller owns the returned connection.
func (c *Client) connect(accessToken string, options *imapclient.Options) (*imapclient.Client, error) {
	client, err := imapclient.DialTLS(c.addr(), options)
	if err != nil {
		return nil, protoErr("connect", fmt.Errorf("dialing %s: %w", c.addr(), err))
	}

	rawErr := client.Authenticate(newXOAuth2Raw(c.user, accessToken))
	if rawErr == nil {
		return client, nil
	}

	b64Err := client.Authenticate(newXOAuth2Base64(c.user, accessToken))
	if b64Err == nil {
		return client, nil
	}

	_ = client.Close()
	return nil, protoErr("authenticate", fmt.Errorf(
		"XOAUTH2 rejected for %s (raw: %v; base64: %v)", c.user, rawErr, b64Err))
}

// Authenticate verifies that the access token opens a session, then closes
// it again.
func (c *Client) Authenticate(_ context.Context, accessToken string) error {
	client, err := c.connect(accessToken, nil)
	if err != nil {
		return err
	}
	defer func() { _ = client.Logout().Wait() }()
	return nil
}

// pageWindow maps a page index onto the ascending identifier space.
// Page 0 is the newest window. A (0, 0) return means the page is empty and
// the caller should stop iterating.
func pageWindow(total int, page, pageSize uint32) (start, end int) {
	end = total - int(page)*int(pageSize)
	start = end - int(pageSize)
	if start < 0 {
		start = 0
	}
	if end <= 0 || start >= end {
		return 0, 0
	}
	return start, end
}

// FetchPage lists the mailbox's identifiers, slices out the requested
// window, and fetches envelope plus body for each message in it. The result
// is deduplicated by UID and sorted newest-first regardless of server
// order. An empty result means the page is past the end of the mailbox.
func (c *Client) FetchPage(
	_ context.Context, accessToken string, page, pageSize uint32,
) ([]model.EmailSummary, error) {
	client, err := c.connect(accessToken, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Logout().Wait() }()

	if _, err := client.Select(mailboxName, nil).Wait(); err != nil {
		return nil, protoErr("select", err)
	}

	searchData, err := client.UIDSearch(&imap.SearchCriteria{}, nil).Wait()
	if err != nil {
		return nil, protoErr("search", err)
	}

	uids := searchData.AllUIDs()
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })

	start, end := pageWindow(len(uids), page, pageSize)
	if start == end {
		return nil, nil
	}

	// Newest first within the window.
	window := make([]imap.UID, end-start)
	copy(window, uids[start:end])
	sort.Slice(window, func(i, j int) bool { return window[i] > window[j] })

	var out []model.EmailSummary
	for _, uid := range window {
		summary, err := c.fetchSummary(client, uid)
		if err != nil {
			return nil, err
		}
		out = append(out, summary)
	}

	return DedupeSummaries(out), nil
}

// fetchSummary retrieves envelope and full body for one UID in a single
// round trip and renders the summary fields from them.
func (c *Client) fetchSummary(client *imapclient.Client, uid imap.UID) (model.EmailSummary, error) {
	buf, err := fetchFullMessage(client, uid)
	if err != nil {
		return model.EmailSummary{}, err
	}

	section := &imap.FetchItemBodySection{Peek: true}
	raw, err := fetchRawWithRetry(func() ([]byte, error) {
		if body := buf.FindBodySection(section); len(body) > 0 {
			return body, nil
		}
		// Body absent from the combined response; refetch this UID once.
		retry, rerr := fetchFullMessage(client, uid)
		if rerr != nil {
			return nil, rerr
		}
		buf = retry
		return retry.FindBodySection(section), nil
	})

	parsed := parsedMessage{}
	if err != nil {
		// A missing body degrades the summary but does not abort the page.
		raw = nil
	}
	if len(raw) > 0 {
		parsed = parseMessage(raw)
	}

	return summaryFromParts(uid, buf, parsed), nil
}

// summaryFromParts merges the envelope and parsed-body views of a message,
// preferring envelope fields and falling back to the raw payload.
func summaryFromParts(
	uid imap.UID, buf *imapclient.FetchMessageBuffer, parsed parsedMessage,
) model.EmailSummary {
	subject := ""
	fromName := ""
	if buf.Envelope != nil {
		subject = strings.TrimSpace(buf.Envelope.Subject)
		if len(buf.Envelope.From) > 0 {
			from := buf.Envelope.From[0]
			if from.Name != "" {
				fromName = from.Name
			} else if from.Mailbox != "" || from.Host != "" {
				fromName = from.Addr()
			}
		}
	}

	if subject == "" {
		subject = parsed.Subject
	}
	if subject == "" {
		subject = placeholderSubject
	}

	if fromName == "" {
		fromName = parsed.FromName
	}
	if fromName == "" {
		fromName = placeholderSender
	}

	return model.EmailSummary{
		ID:        uint32(uid),
		FromName:  fromName,
		Subject:   subject,
		Snippet:   normalizeSnippet(parsed.Body, snippetBudget),
		DateEpoch: parsed.DateEpoch,
	}
}

// FetchBody retrieves the plain-text rendering of one message. A body
// missing from the first response is refetched once; missing on both
// attempts is an explicit failure, never silently empty content.
func (c *Client) FetchBody(
	ctx context.Context, accessToken string, id model.EmailID,
) (*model.EmailBody, error) {
	raw, err := c.FetchRaw(ctx, accessToken, id)
	if err != nil {
		return nil, err
	}

	parsed := parseMessage(raw)
	return &model.EmailBody{ID: id, Body: parsed.Body}, nil
}

// FetchRaw retrieves the untouched RFC 822 payload of one message, with the
// same single-retry discipline as FetchBody.
func (c *Client) FetchRaw(
	_ context.Context, accessToken string, id model.EmailID,
) ([]byte, error) {
	client, err := c.connect(accessToken, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Logout().Wait() }()

	if _, err := client.Select(mailboxName, nil).Wait(); err != nil {
		return nil, protoErr("select", err)
	}

	uid := imap.UID(id)
	section := &imap.FetchItemBodySection{Peek: true}

	raw, err := fetchRawWithRetry(func() ([]byte, error) {
		buf, err := fetchFullMessage(client, uid)
		if err != nil {
			return nil, err
		}
		return buf.FindBodySection(section), nil
	})
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// fetchFullMessage fetches envelope plus full body for a single UID.
func fetchFullMessage(client *imapclient.Client, uid imap.UID) (*imapclient.FetchMessageBuffer, error) {
	section := &imap.FetchItemBodySection{Peek: true}
	fetchCmd := client.Fetch(imap.UIDSetNum(uid), &imap.FetchOptions{
		UID:         true,
		Envelope:    true,
		BodySection: []*imap.FetchItemBodySection{section},
	})
	defer fetchCmd.Close()

	msg := fetchCmd.Next()
	if msg == nil {
		return nil, protoErr("fetch", fmt.Errorf("message UID %d not found", uid))
	}

	buf, err := msg.Collect()
	if err != nil {
		return nil, protoErr("fetch", fmt.Errorf("collecting UID %d: %w", uid, err))
	}

	if err := fetchCmd.Close(); err != nil {
		return nil, protoErr("fetch", err)
	}
	return buf, nil
}

// fetchRawWithRetry calls fetch up to twice and returns the first non-empty
// payload. Empty on both attempts is an explicit failure.
func fetchRawWithRetry(fetch func() ([]byte, error)) ([]byte, error) {
	raw, firstErr := fetch()
	if firstErr == nil && len(raw) > 0 {
		return raw, nil
	}

	raw, retryErr := fetch()
	if retryErr == nil && len(raw) > 0 {
		return raw, nil
	}

	switch {
	case retryErr != nil:
		return nil, retryErr
	case firstErr != nil:
		return nil, firstErr
	default:
		return nil, &ProtocolError{Op: "fetch", Message: "empty message payload after retry"}
	}
}

// DedupeSummaries removes duplicate UIDs, keeping the most recently
// appended attributes for each, and returns the result sorted newest-first.
func DedupeSummaries(items []model.EmailSummary) []model.EmailSummary {
	if len(items) == 0 {
		return items
	}

	byID := make(map[model.EmailID]model.EmailSummary, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}

	out := make([]model.EmailSummary, 0, len(byID))
	for _, it := range byID {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

// idleWaitTimeout bounds each IDLE wait so servers that expect periodic
// re-entry keep the connection alive.
const idleWaitTimeout = 60 * time.Second

// WatchInbox holds an authenticated, mailbox-selected session and blocks in
// the server's IDLE mode, invoking wake whenever the mailbox changes. It
// returns when ctx is cancelled (nil) or on any session error, leaving
// reconnection to the caller.
func (c *Client) WatchInbox(ctx context.Context, accessToken string, wake func()) error {
	changed := make(chan struct{}, 1)

	options := &imapclient.Options{
		UnilateralDataHandler: &imapclient.UnilateralDataHandler{
			Mailbox: func(_ *imapclient.UnilateralDataMailbox) {
				select {
				case changed <- struct{}{}:
				default:
				}
			},
			Expunge: func(_ uint32) {
				select {
				case changed <- struct{}{}:
				default:
				}
			},
		},
	}

	client, err := c.connect(accessToken, options)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	if _, err := client.Select(mailboxName, nil).Wait(); err != nil {
		return protoErr("select", err)
	}

	for {
		if ctx.Err() != nil {
			_ = client.Logout().Wait()
			return nil
		}

		idleCmd, err := client.Idle()
		if err != nil {
			return protoErr("idle", err)
		}

		fired := false
		select {
		case <-changed:
			fired = true
		case <-time.After(idleWaitTimeout):
		case <-ctx.Done():
		}

		if err := idleCmd.Close(); err != nil {
			return protoErr("idle stop", err)
		}
		if err := idleCmd.Wait(); err != nil {
			return protoErr("idle wait", err)
		}

		if fired {
			wake()
		}
	}
}
