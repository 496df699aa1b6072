package daemon

import (
	"context"

	"github.com/nhle/mailsync/internal/mail"
	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/store"
)

// pollCycle refreshes the newest pages of the mailbox, backfills missing
// bodies, prunes the cache, and emits watermark-gated notifications.
func (d *Daemon) pollCycle(ctx context.Context) error {
	token, err := d.tokens.AccessToken(ctx)
	if err != nil {
		return err
	}

	var all []model.EmailSummary
	for page := 0; page < d.cfg.Pages; page++ {
		items, err := d.client.FetchPage(ctx, token, uint32(page), pageSize)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			break
		}
		all = append(all, items...)
	}
	if len(all) == 0 {
		return nil
	}

	// Overlapping windows from a mailbox that changed mid-cycle collapse
	// to one entry per message, latest attributes winning.
	all = mail.DedupeSummaries(all)

	if err := d.repo.UpsertSummaries(ctx, all); err != nil {
		return err
	}
	d.backfillBodies(ctx, token, all)

	if err := d.repo.PruneKeepRecent(ctx, d.cfg.KeepRecent); err != nil {
		return err
	}

	return d.notifyNew(ctx, all)
}

// backfillBodies fetches and caches bodies for summaries that do not have
// one yet. Individual failures are logged and skipped so one broken
// message cannot stall the cycle.
func (d *Daemon) backfillBodies(ctx context.Context, token string, items []model.EmailSummary) {
	for _, s := range items {
		cached, err := d.repo.GetBody(ctx, s.ID)
		if err != nil {
			d.log.Warnw("body lookup failed", "id", s.ID, "error", err)
			continue
		}
		if cached != nil {
			continue
		}

		body, err := d.client.FetchBody(ctx, token, s.ID)
		if err != nil {
			d.log.Warnw("body fetch failed", "id", s.ID, "error", err)
			continue
		}
		if err := d.repo.UpsertBody(ctx, *body); err != nil {
			d.log.Warnw("body store failed", "id", s.ID, "error", err)
		}
	}
}

// notifyNew emits one desktop notification per message above the stored
// watermark, newest first, then advances the watermark. A zero watermark
// means first run: everything is treated as pre-existing and only the
// watermark moves.
func (d *Daemon) notifyNew(ctx context.Context, items []model.EmailSummary) error {
	maxID := items[0].ID
	for _, s := range items {
		if s.ID > maxID {
			maxID = s.ID
		}
	}

	lastSeen, ok, err := d.repo.GetMeta(ctx, store.MetaLastSeenUID)
	if err != nil {
		return err
	}

	if ok && lastSeen > 0 {
		// Summaries arrive sorted newest first.
		for _, s := range items {
			if int64(s.ID) <= lastSeen {
				continue
			}
			if err := d.notify.Notify(s); err != nil {
				d.log.Warnw("notification failed", "id", s.ID, "error", err)
			}
		}
	}

	if int64(maxID) > lastSeen {
		return d.repo.SetMeta(ctx, store.MetaLastSeenUID, int64(maxID))
	}
	return nil
}
