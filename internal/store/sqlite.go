package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/mailsync/internal/model"
)

// SQLiteStore implements Repository using a local SQLite database.
//
// The daemon accesses the store from its main loop only (control-triggered
// work runs inline on that loop), so a single connection is sufficient;
// sqlx serializes the rest.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, storageErr("open", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, storageErr("open", fmt.Errorf("enabling WAL mode: %w", err))
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, storageErr("migrate", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// UpsertSummaries inserts or overwrites a batch of summaries transactionally.
func (s *SQLiteStore) UpsertSummaries(ctx context.Context, items []model.EmailSummary) error {
	if len(items) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return storageErr("upsert_summaries", err)
	}
	defer tx.Rollback()

	const query = `
		INSERT INTO emails (id, from_name, subject, snippet, date_epoch)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			from_name = excluded.from_name,
			subject   = excluded.subject,
			snippet   = excluded.snippet,
			date_epoch = excluded.date_epoch`

	stmt, err := tx.PreparexContext(ctx, query)
	if err != nil {
		return storageErr("upsert_summaries", err)
	}
	defer stmt.Close()

	for _, it := range items {
		if _, err := stmt.ExecContext(ctx,
			it.ID, it.FromName, it.Subject, it.Snippet, it.DateEpoch,
		); err != nil {
			return storageErr("upsert_summaries",
				fmt.Errorf("upserting summary %d: %w", it.ID, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return storageErr("upsert_summaries", err)
	}
	return nil
}

// UpsertBody inserts or overwrites the plain-text body for a message.
func (s *SQLiteStore) UpsertBody(ctx context.Context, body model.EmailBody) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bodies (id, body) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET body = excluded.body`,
		body.ID, body.Body,
	)
	if err != nil {
		return storageErr("upsert_body", err)
	}
	return nil
}

// UpsertRaw inserts or overwrites the raw protocol payload for a message.
func (s *SQLiteStore) UpsertRaw(ctx context.Context, id model.EmailID, raw []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO raw_messages (id, raw) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET raw = excluded.raw`,
		id, raw,
	)
	if err != nil {
		return storageErr("upsert_raw", err)
	}
	return nil
}

// ListPage returns a page of cached summaries for the reading surface,
// newest first by (date_epoch, id).
func (s *SQLiteStore) ListPage(ctx context.Context, page, pageSize uint32) ([]model.EmailSummary, error) {
	limit := int64(pageSize)
	offset := int64(page) * int64(pageSize)

	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, from_name, subject, snippet, date_epoch
		FROM emails
		ORDER BY date_epoch DESC, id DESC
		LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, storageErr("list_page", err)
	}
	defer rows.Close()

	var out []model.EmailSummary
	for rows.Next() {
		var it model.EmailSummary
		if err := rows.Scan(
			&it.ID, &it.FromName, &it.Subject, &it.Snippet, &it.DateEpoch,
		); err != nil {
			return nil, storageErr("list_page", err)
		}
		out = append(out, it)
	}

	if err := rows.Err(); err != nil {
		return nil, storageErr("list_page", err)
	}
	return out, nil
}

// GetBody returns the cached body for id, or nil when absent.
func (s *SQLiteStore) GetBody(ctx context.Context, id model.EmailID) (*model.EmailBody, error) {
	var body string
	err := s.db.GetContext(ctx, &body, "SELECT body FROM bodies WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get_body", err)
	}
	return &model.EmailBody{ID: id, Body: body}, nil
}

// GetRaw returns the cached raw payload for id, or nil when absent.
func (s *SQLiteStore) GetRaw(ctx context.Context, id model.EmailID) ([]byte, error) {
	var raw []byte
	err := s.db.GetContext(ctx, &raw, "SELECT raw FROM raw_messages WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get_raw", err)
	}
	return raw, nil
}

// PruneKeepRecent deletes every summary outside the top-keep by
// (date desc, id desc) and cascades the deletion to bodies and raw rows.
// Referential integrity is enforced by this cascade, not by foreign keys.
func (s *SQLiteStore) PruneKeepRecent(ctx context.Context, keep int) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return storageErr("prune", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM emails
		WHERE id NOT IN (
			SELECT id FROM emails
			ORDER BY date_epoch DESC, id DESC
			LIMIT ?
		)`,
		int64(keep),
	); err != nil {
		return storageErr("prune", err)
	}

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM bodies WHERE id NOT IN (SELECT id FROM emails)",
	); err != nil {
		return storageErr("prune", err)
	}

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM raw_messages WHERE id NOT IN (SELECT id FROM emails)",
	); err != nil {
		return storageErr("prune", err)
	}

	if err := tx.Commit(); err != nil {
		return storageErr("prune", err)
	}
	return nil
}

// GetMeta returns the persisted counter for key; ok is false when unset.
func (s *SQLiteStore) GetMeta(ctx context.Context, key string) (int64, bool, error) {
	var value int64
	err := s.db.GetContext(ctx, &value, "SELECT value FROM meta WHERE key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, storageErr("get_meta", err)
	}
	return value, true, nil
}

// SetMeta creates or updates the persisted counter for key.
func (s *SQLiteStore) SetMeta(ctx context.Context, key string, value int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return storageErr("set_meta", err)
	}
	return nil
}

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Message: err.Error()}
}
