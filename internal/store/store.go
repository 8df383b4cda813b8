package store

import (
	"context"
	"database/sql"
	"time"
)

type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

// IndexEntry is the durable per-video record that prevents reprocessing.
type IndexEntry struct {
	VideoID   string
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
}

const lookupEntry = `
SELECT video_id, status, created_at, updated_at FROM video_index WHERE video_id = $1
`

// LookupEntry returns the index entry for the video, or sql.ErrNoRows when
// the video has not been processed.
func (q *Queries) LookupEntry(ctx context.Context, videoID string) (IndexEntry, error) {
	row := q.db.QueryRowContext(ctx, lookupEntry, videoID)
	var e IndexEntry
	err := row.Scan(&e.VideoID, &e.Status, &e.CreatedAt, &e.UpdatedAt)
	return e, err
}

const recordEntry = `
INSERT INTO video_index (video_id, status, created_at, updated_at)
VALUES ($1, $2, $3, $3)
ON CONFLICT (video_id) DO UPDATE SET status = EXCLUDED.status, updated_at = EXCLUDED.updated_at
`

// RecordEntry appends or overwrites the entry for the video.
func (q *Queries) RecordEntry(ctx context.Context, videoID string, status Status, at time.Time) error {
	_, err := q.db.ExecContext(ctx, recordEntry, videoID, string(status), at.UTC())
	return err
}
