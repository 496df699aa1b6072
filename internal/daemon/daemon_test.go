package daemon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nhle/mailsync/internal/logger"
	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/store"
)

type fakeRepo struct {
	summaries map[model.EmailID]model.EmailSummary
	bodies    map[model.EmailID]string
	raws      map[model.EmailID][]byte
	meta      map[string]int64
	pruned    []int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		summaries: make(map[model.EmailID]model.EmailSummary),
		bodies:    make(map[model.EmailID]string),
		raws:      make(map[model.EmailID][]byte),
		meta:      make(map[string]int64),
	}
}

func (r *fakeRepo) UpsertSummaries(_ context.Context, items []model.EmailSummary) error {
	for _, it := range items {
		r.summaries[it.ID] = it
	}
	return nil
}

func (r *fakeRepo) UpsertBody(_ context.Context, body model.EmailBody) error {
	r.bodies[body.ID] = body.Body
	return nil
}

func (r *fakeRepo) UpsertRaw(_ context.Context, id model.EmailID, raw []byte) error {
	r.raws[id] = raw
	return nil
}

func (r *fakeRepo) ListPage(_ context.Context, _, _ uint32) ([]model.EmailSummary, error) {
	return nil, nil
}

func (r *fakeRepo) GetBody(_ context.Context, id model.EmailID) (*model.EmailBody, error) {
	b, ok := r.bodies[id]
	if !ok {
		return nil, nil
	}
	return &model.EmailBody{ID: id, Body: b}, nil
}

func (r *fakeRepo) GetRaw(_ context.Context, id model.EmailID) ([]byte, error) {
	return r.raws[id], nil
}

func (r *fakeRepo) PruneKeepRecent(_ context.Context, keep int) error {
	r.pruned = append(r.pruned, keep)
	return nil
}

func (r *fakeRepo) GetMeta(_ context.Context, key string) (int64, bool, error) {
	v, ok := r.meta[key]
	return v, ok, nil
}

func (r *fakeRepo) SetMeta(_ context.Context, key string, value int64) error {
	r.meta[key] = value
	return nil
}

type fakeFetcher struct {
	pages      []model.EmailSummary
	bodyCalls  []model.EmailID
	rawPayload []byte
	err        error
}

func (f *fakeFetcher) FetchPage(_ context.Context, _ string, page, pageSize uint32) ([]model.EmailSummary, error) {
	if f.err != nil {
		return nil, f.err
	}
	start := int(page) * int(pageSize)
	if start >= len(f.pages) {
		return nil, nil
	}
	end := start + int(pageSize)
	if end > len(f.pages) {
		end = len(f.pages)
	}
	return f.pages[start:end], nil
}

func (f *fakeFetcher) FetchBody(_ context.Context, _ string, id model.EmailID) (*model.EmailBody, error) {
	f.bodyCalls = append(f.bodyCalls, id)
	return &model.EmailBody{ID: id, Body: "body"}, nil
}

func (f *fakeFetcher) FetchRaw(_ context.Context, _ string, id model.EmailID) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.rawPayload, nil
}

func (f *fakeFetcher) WatchInbox(ctx context.Context, _ string, _ func()) error {
	<-ctx.Done()
	return nil
}

type staticTokens struct{ err error }

func (s staticTokens) AccessToken(context.Context) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "token", nil
}

type recordingNotifier struct {
	notified []model.EmailID
}

func (n *recordingNotifier) Notify(s model.EmailSummary) error {
	n.notified = append(n.notified, s.ID)
	return nil
}

func newTestDaemon(repo *fakeRepo, fetcher *fakeFetcher, notes *recordingNotifier) *Daemon {
	return New(repo, fetcher, staticTokens{}, notes, logger.Nop(), Config{
		Interval:   5 * time.Second,
		KeepRecent: 200,
		Pages:      3,
	})
}

func summaries(ids ...model.EmailID) []model.EmailSummary {
	out := make([]model.EmailSummary, 0, len(ids))
	for _, id := range ids {
		out = append(out, model.EmailSummary{ID: id, Subject: "s", DateEpoch: int64(id)})
	}
	return out
}

func TestPollCycleFirstRunSuppressesNotifications(t *testing.T) {
	repo := newFakeRepo()
	fetcher := &fakeFetcher{pages: summaries(10, 9, 8)}
	notes := &recordingNotifier{}
	d := newTestDaemon(repo, fetcher, notes)

	if err := d.pollCycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	if len(notes.notified) != 0 {
		t.Errorf("first run notified %v, want none", notes.notified)
	}
	if wm := repo.meta[store.MetaLastSeenUID]; wm != 10 {
		t.Errorf("watermark = %d, want 10", wm)
	}
	if len(repo.summaries) != 3 {
		t.Errorf("cached %d summaries, want 3", len(repo.summaries))
	}
}

func TestPollCycleNotifiesAboveWatermarkNewestFirst(t *testing.T) {
	repo := newFakeRepo()
	repo.meta[store.MetaLastSeenUID] = 10
	fetcher := &fakeFetcher{pages: summaries(12, 11, 10, 9, 8)}
	notes := &recordingNotifier{}
	d := newTestDaemon(repo, fetcher, notes)

	if err := d.pollCycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	want := []model.EmailID{12, 11}
	if len(notes.notified) != len(want) {
		t.Fatalf("notified %v, want %v", notes.notified, want)
	}
	for i := range want {
		if notes.notified[i] != want[i] {
			t.Errorf("notification %d: got %d, want %d", i, notes.notified[i], want[i])
		}
	}
	if wm := repo.meta[store.MetaLastSeenUID]; wm != 12 {
		t.Errorf("watermark = %d, want 12", wm)
	}
}

func TestPollCycleWatermarkNeverRegresses(t *testing.T) {
	repo := newFakeRepo()
	repo.meta[store.MetaLastSeenUID] = 50
	fetcher := &fakeFetcher{pages: summaries(12, 11)}
	notes := &recordingNotifier{}
	d := newTestDaemon(repo, fetcher, notes)

	if err := d.pollCycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	if len(notes.notified) != 0 {
		t.Errorf("notified %v below the watermark", notes.notified)
	}
	if wm := repo.meta[store.MetaLastSeenUID]; wm != 50 {
		t.Errorf("watermark = %d, want unchanged 50", wm)
	}
}

func TestPollCycleSkipsCachedBodies(t *testing.T) {
	repo := newFakeRepo()
	repo.bodies[10] = "already here"
	fetcher := &fakeFetcher{pages: summaries(10, 9)}
	d := newTestDaemon(repo, fetcher, &recordingNotifier{})

	if err := d.pollCycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	if len(fetcher.bodyCalls) != 1 || fetcher.bodyCalls[0] != 9 {
		t.Errorf("body fetches = %v, want only id 9", fetcher.bodyCalls)
	}
	if repo.bodies[10] != "already here" {
		t.Errorf("cached body overwritten: %q", repo.bodies[10])
	}
}

func TestPollCycleEmptyMailboxIsANoop(t *testing.T) {
	repo := newFakeRepo()
	fetcher := &fakeFetcher{}
	d := newTestDaemon(repo, fetcher, &recordingNotifier{})

	if err := d.pollCycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if len(repo.pruned) != 0 {
		t.Errorf("prune ran on an empty cycle")
	}
	if _, ok := repo.meta[store.MetaLastSeenUID]; ok {
		t.Errorf("watermark set on an empty cycle")
	}
}

func TestPollCycleFetchErrorPropagates(t *testing.T) {
	repo := newFakeRepo()
	boom := errors.New("connection reset")
	d := newTestDaemon(repo, &fakeFetcher{err: boom}, &recordingNotifier{})

	if err := d.pollCycle(context.Background()); !errors.Is(err, boom) {
		t.Errorf("got %v, want the fetch error", err)
	}
}

func TestSignalWakeCollapses(t *testing.T) {
	d := newTestDaemon(newFakeRepo(), &fakeFetcher{}, &recordingNotifier{})

	d.signalWake()
	d.signalWake()
	d.signalWake()

	select {
	case <-d.wake:
	default:
		t.Fatal("no wake pending after signals")
	}
	select {
	case <-d.wake:
		t.Fatal("more than one wake queued")
	default:
	}
}

func TestListenControlSingleInstance(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "d.sock")

	ln, err := listenControl(sock)
	if err != nil {
		t.Fatalf("first listen: %v", err)
	}
	defer ln.Close()

	if _, err := listenControl(sock); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second listen: got %v, want ErrAlreadyRunning", err)
	}
}

func TestListenControlReplacesStaleSocket(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "d.sock")
	if err := os.WriteFile(sock, nil, 0o600); err != nil {
		t.Fatalf("planting stale file: %v", err)
	}

	ln, err := listenControl(sock)
	if err != nil {
		t.Fatalf("listen over stale socket: %v", err)
	}
	ln.Close()
}
