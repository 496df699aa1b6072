package mail

import (
	"errors"
	"testing"

	"github.com/nhle/mailsync/internal/model"
)

func TestPageWindow(t *testing.T) {
	tests := []struct {
		name           string
		total          int
		page, pageSize uint32
		start, end     int
	}{
		{"first page of a large mailbox", 100, 0, 20, 80, 100},
		{"second page of a large mailbox", 100, 1, 20, 60, 80},
		{"last full page", 100, 4, 20, 0, 20},
		{"page past the end", 100, 5, 20, 0, 0},
		{"partial last page", 45, 2, 20, 0, 5},
		{"single message", 1, 0, 20, 0, 1},
		{"empty mailbox", 0, 0, 20, 0, 0},
		{"exact boundary", 40, 1, 20, 0, 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end := pageWindow(tt.total, tt.page, tt.pageSize)
			if start != tt.start || end != tt.end {
				t.Errorf("pageWindow(%d, %d, %d) = (%d, %d), want (%d, %d)",
					tt.total, tt.page, tt.pageSize, start, end, tt.start, tt.end)
			}
		})
	}
}

func TestPageWindowCoversEveryMessageOnce(t *testing.T) {
	const total = 45
	const pageSize = 20

	seen := make(map[int]int)
	for page := uint32(0); ; page++ {
		start, end := pageWindow(total, page, pageSize)
		if start == 0 && end == 0 {
			break
		}
		for i := start; i < end; i++ {
			seen[i]++
		}
	}

	if len(seen) != total {
		t.Fatalf("windows covered %d positions, want %d", len(seen), total)
	}
	for pos, n := range seen {
		if n != 1 {
			t.Errorf("position %d covered %d times", pos, n)
		}
	}
}

func TestDedupeSummaries(t *testing.T) {
	in := []model.EmailSummary{
		{ID: 5, Subject: "old five"},
		{ID: 7, Subject: "seven"},
		{ID: 5, Subject: "new five"},
		{ID: 3, Subject: "three"},
	}

	out := DedupeSummaries(in)
	if len(out) != 3 {
		t.Fatalf("got %d summaries, want 3", len(out))
	}

	wantOrder := []model.EmailID{7, 5, 3}
	for i, want := range wantOrder {
		if out[i].ID != want {
			t.Errorf("position %d: got id %d, want %d", i, out[i].ID, want)
		}
	}
	if out[1].Subject != "new five" {
		t.Errorf("duplicate id 5 kept %q, want the later attributes", out[1].Subject)
	}
}

func TestDedupeSummariesEmpty(t *testing.T) {
	if out := DedupeSummaries(nil); len(out) != 0 {
		t.Errorf("got %d summaries from nil input", len(out))
	}
}

func TestFetchRawWithRetry(t *testing.T) {
	t.Run("first attempt succeeds", func(t *testing.T) {
		calls := 0
		raw, err := fetchRawWithRetry(func() ([]byte, error) {
			calls++
			return []byte("payload"), nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(raw) != "payload" || calls != 1 {
			t.Errorf("got %q after %d calls, want payload after 1", raw, calls)
		}
	})

	t.Run("empty payload triggers one retry", func(t *testing.T) {
		calls := 0
		raw, err := fetchRawWithRetry(func() ([]byte, error) {
			calls++
			if calls == 1 {
				return nil, nil
			}
			return []byte("second"), nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(raw) != "second" || calls != 2 {
			t.Errorf("got %q after %d calls, want second after 2", raw, calls)
		}
	})

	t.Run("empty twice is an explicit failure", func(t *testing.T) {
		_, err := fetchRawWithRetry(func() ([]byte, error) {
			return nil, nil
		})
		if !IsProtocolError(err) {
			t.Fatalf("got %v, want a protocol error", err)
		}
	})

	t.Run("retry error wins over first error", func(t *testing.T) {
		calls := 0
		first := errors.New("first failure")
		second := errors.New("second failure")
		_, err := fetchRawWithRetry(func() ([]byte, error) {
			calls++
			if calls == 1 {
				return nil, first
			}
			return nil, second
		})
		if !errors.Is(err, second) {
			t.Errorf("got %v, want the retry error", err)
		}
	})
}
