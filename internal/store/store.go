package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/nhle/mailsync/internal/model"
)

// StorageError indicates a cache read, write, or transaction failure.
type StorageError struct {
	Op      string
	Message string
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error (%s): %s", e.Op, e.Message)
}

// IsStorageError reports whether err (or any error in its chain) is a
// StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// MetaLastSeenUID is the meta key holding the notification watermark.
const MetaLastSeenUID = "last_seen_uid"

// Repository is the capability interface over durable message storage.
// It is the only channel through which the orchestrator, the control
// service, and the reading surface touch cached state; any backend
// implementing it is interchangeable.
type Repository interface {
	// UpsertSummaries inserts or overwrites a batch of summaries in a
	// single transaction.
	UpsertSummaries(ctx context.Context, items []model.EmailSummary) error

	// UpsertBody inserts or overwrites the plain-text body for a message.
	UpsertBody(ctx context.Context, body model.EmailBody) error

	// UpsertRaw inserts or overwrites the untouched protocol payload.
	UpsertRaw(ctx context.Context, id model.EmailID, raw []byte) error

	// ListPage returns a page of summaries ordered by date desc, id desc.
	ListPage(ctx context.Context, page, pageSize uint32) ([]model.EmailSummary, error)

	// GetBody returns the cached body for id, or nil when absent.
	GetBody(ctx context.Context, id model.EmailID) (*model.EmailBody, error)

	// GetRaw returns the cached raw payload for id, or nil when absent.
	GetRaw(ctx context.Context, id model.EmailID) ([]byte, error)

	// PruneKeepRecent deletes every summary not among the top-k by
	// (date desc, id desc), then every body and raw row whose id no longer
	// has a surviving summary.
	PruneKeepRecent(ctx context.Context, keep int) error

	// GetMeta returns the persisted counter for key; ok is false when the
	// key has never been set.
	GetMeta(ctx context.Context, key string) (value int64, ok bool, err error)

	// SetMeta creates or updates the persisted counter for key.
	SetMeta(ctx context.Context, key string, value int64) error
}
