package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrFileNotFound = errors.New("file record not found")
	// ErrCodeTaken signals that another active record already holds the
	// extract code; callers regenerate and retry.
	ErrCodeTaken = errors.New("extract code already in use")
)

const fileColumns = `id, owner_id, display_name, size_bytes, content_type,
	   storage_key, extract_code, download_count, state,
	   created_at, updated_at, expires_at`

// FileRepository owns persistence of file records. All state transitions and
// counter updates go through here; the service layer never touches SQL.
type FileRepository struct {
	db *DB
}

// NewFileRepository creates a new FileRepository.
func NewFileRepository(db *DB) *FileRepository {
	return &FileRepository{db: db}
}

func scanFile(row pgx.Row) (*FileRecord, error) {
	rec := &FileRecord{}
	err := row.Scan(
		&rec.ID,
		&rec.OwnerID,
		&rec.DisplayName,
		&rec.SizeBytes,
		&rec.ContentType,
		&rec.StorageKey,
		&rec.ExtractCode,
		&rec.DownloadCount,
		&rec.State,
		&rec.CreatedAt,
		&rec.UpdatedAt,
		&rec.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// isActiveCodeViolation reports whether err is a unique violation on the
// active-extract-code index.
func isActiveCodeViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" && pgErr.ConstraintName == "idx_files_extract_code_active"
	}
	return false
}

// Create inserts a new file record. Returns ErrCodeTaken when the extract
// code collides with another active record.
func (r *FileRepository) Create(ctx context.Context, rec *FileRecord) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO files (
			id, owner_id, display_name, size_bytes, content_type,
			storage_key, extract_code, download_count, state,
			created_at, updated_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		rec.ID,
		rec.OwnerID,
		rec.DisplayName,
		rec.SizeBytes,
		rec.ContentType,
		rec.StorageKey,
		rec.ExtractCode,
		rec.DownloadCount,
		rec.State,
		rec.CreatedAt,
		rec.UpdatedAt,
		rec.ExpiresAt,
	)
	if err != nil {
		if isActiveCodeViolation(err) {
			return ErrCodeTaken
		}
		return fmt.Errorf("failed to create file record: %w", err)
	}
	return nil
}

// GetByID retrieves a file record by its ID regardless of state.
func (r *FileRepository) GetByID(ctx context.Context, id string) (*FileRecord, error) {
	rec, err := scanFile(r.db.Pool.QueryRow(ctx,
		`SELECT `+fileColumns+` FROM files WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("failed to get file record: %w", err)
	}
	return rec, nil
}

// GetActiveByCode retrieves the unique active record holding an extract code.
// Expiry is not checked here; logically-expired rows are filtered by the
// service so it can distinguish expired from unknown.
func (r *FileRepository) GetActiveByCode(ctx context.Context, code string) (*FileRecord, error) {
	rec, err := scanFile(r.db.Pool.QueryRow(ctx,
		`SELECT `+fileColumns+` FROM files WHERE extract_code = $1 AND state = 'active'`, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("failed to get file record by code: %w", err)
	}
	return rec, nil
}

// ListByOwner returns the owner's active records, newest first.
func (r *FileRepository) ListByOwner(ctx context.Context, ownerID string) ([]*FileRecord, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+fileColumns+`
		FROM files
		WHERE owner_id = $1 AND state = 'active'
		ORDER BY created_at DESC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list files by owner: %w", err)
	}
	defer rows.Close()

	var records []*FileRecord
	for rows.Next() {
		rec, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// IncrementDownloadCount atomically bumps the download counter. The increment
// runs in SQL so concurrent downloads never lose updates.
func (r *FileRepository) IncrementDownloadCount(ctx context.Context, id string) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE files
		SET download_count = download_count + 1, updated_at = NOW()
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("failed to increment download count: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrFileNotFound
	}
	return nil
}

// SoftDelete flips an active record to deleted. Already-deleted records are
// left alone and reported as success, which makes owner deletes and the
// sweeper compose without double-processing.
func (r *FileRepository) SoftDelete(ctx context.Context, id string) error {
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE files
		SET state = 'deleted', updated_at = NOW()
		WHERE id = $1 AND state = 'active'
	`, id)
	if err != nil {
		return fmt.Errorf("failed to soft-delete file record: %w", err)
	}
	return nil
}

// UpdateExtractCode assigns a new extract code. Returns ErrCodeTaken when the
// code collides with another active record.
func (r *FileRepository) UpdateExtractCode(ctx context.Context, id, code string) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE files
		SET extract_code = $2, updated_at = NOW()
		WHERE id = $1
	`, id, code)
	if err != nil {
		if isActiveCodeViolation(err) {
			return ErrCodeTaken
		}
		return fmt.Errorf("failed to update extract code: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrFileNotFound
	}
	return nil
}

// GetExpiredActive returns active records whose expiry deadline has passed.
// Only the sweeper consumes this.
func (r *FileRepository) GetExpiredActive(ctx context.Context) ([]*FileRecord, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+fileColumns+`
		FROM files
		WHERE state = 'active' AND expires_at < NOW()
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired files: %w", err)
	}
	defer rows.Close()

	var records []*FileRecord
	for rows.Next() {
		rec, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan expired file: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// GetStats returns aggregate server statistics.
func (r *FileRepository) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	err := r.db.Pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE state = 'active' AND expires_at > NOW()),
			COALESCE(SUM(download_count), 0),
			COALESCE(SUM(size_bytes) FILTER (WHERE state = 'active' AND expires_at > NOW()), 0)
		FROM files
	`).Scan(
		&stats.TotalFiles,
		&stats.ActiveFiles,
		&stats.TotalDownloads,
		&stats.ActiveBytes,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return stats, nil
}
