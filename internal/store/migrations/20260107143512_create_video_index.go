package migrations

import (
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigration(upCreateVideoIndex, downCreateVideoIndex)
}

func upCreateVideoIndex(tx *sql.Tx) error {
	if _, err := tx.Exec(`
		CREATE TABLE video_index (
			video_id   TEXT PRIMARY KEY,
			status     TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("creating video_index: %w", err)
	}

	return nil
}

func downCreateVideoIndex(tx *sql.Tx) error {
	if _, err := tx.Exec("DROP TABLE video_index"); err != nil {
		return fmt.Errorf("dropping video_index: %w", err)
	}

	return nil
}
