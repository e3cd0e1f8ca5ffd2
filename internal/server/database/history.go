package database

import (
	"context"
	"fmt"
)

// HistoryRepository owns the append-only download audit log. Entries are
// never mutated or deleted here; retention is handled out of band.
type HistoryRepository struct {
	db *DB
}

// NewHistoryRepository creates a new HistoryRepository.
func NewHistoryRepository(db *DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// Append records one completed download.
func (r *HistoryRepository) Append(ctx context.Context, entry *DownloadHistoryEntry) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO download_history (file_id, downloader_id, downloaded_at, origin_addr)
		VALUES ($1, $2, $3, $4)
	`,
		entry.FileID,
		entry.DownloaderID,
		entry.DownloadedAt,
		entry.OriginAddr,
	)
	if err != nil {
		return fmt.Errorf("failed to append download history: %w", err)
	}
	return nil
}

// ListByFile returns the download history for one file, newest first.
func (r *HistoryRepository) ListByFile(ctx context.Context, fileID string) ([]*DownloadHistoryEntry, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, file_id, downloader_id, downloaded_at, origin_addr
		FROM download_history
		WHERE file_id = $1
		ORDER BY downloaded_at DESC
	`, fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to list download history: %w", err)
	}
	defer rows.Close()

	var entries []*DownloadHistoryEntry
	for rows.Next() {
		entry := &DownloadHistoryEntry{}
		if err := rows.Scan(
			&entry.ID,
			&entry.FileID,
			&entry.DownloaderID,
			&entry.DownloadedAt,
			&entry.OriginAddr,
		); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
