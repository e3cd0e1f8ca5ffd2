package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"satchel/internal/server/config"
	"satchel/internal/server/database"
	"satchel/internal/server/storage"

	"github.com/google/uuid"
)

// Sentinel errors for the service layer.
var (
	ErrNotFound           = errors.New("file not found")
	ErrExpired            = errors.New("file has expired")
	ErrForbidden          = errors.New("caller does not own this file")
	ErrFileTooLarge       = errors.New("file exceeds maximum allowed size")
	ErrMissingName        = errors.New("no filename provided")
	ErrCodeSpaceExhausted = errors.New("could not assign a unique extract code")
	// ErrStorageFault marks object-store failures, including the
	// metadata-says-active-but-blob-missing inconsistency. Safe for clients
	// to retry; never reported as not-found.
	ErrStorageFault = errors.New("object storage fault")
)

// maxCodeAttempts bounds collision retries during code assignment. The code
// space (62^6) dwarfs any plausible active-file count, so exhausting this is
// a configuration error, not an expected outcome.
const maxCodeAttempts = 5

// FileStore is the slice of the file repository the lifecycle service uses.
type FileStore interface {
	Create(ctx context.Context, rec *database.FileRecord) error
	GetByID(ctx context.Context, id string) (*database.FileRecord, error)
	GetActiveByCode(ctx context.Context, code string) (*database.FileRecord, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*database.FileRecord, error)
	IncrementDownloadCount(ctx context.Context, id string) error
	SoftDelete(ctx context.Context, id string) error
	UpdateExtractCode(ctx context.Context, id, code string) error
	GetStats(ctx context.Context) (*database.Stats, error)
}

// HistoryStore records completed downloads.
type HistoryStore interface {
	Append(ctx context.Context, entry *database.DownloadHistoryEntry) error
	ListByFile(ctx context.Context, fileID string) ([]*database.DownloadHistoryEntry, error)
}

// UploadRequest carries one incoming upload.
type UploadRequest struct {
	Data         io.Reader
	Size         int64
	ContentType  string
	SuppliedName string // optional override from the caller
	OriginalName string // filename as sent by the client
	OwnerID      string
}

// PresignResult is returned when a presigned download URL is issued.
type PresignResult struct {
	URL         string        `json:"download_url"`
	DisplayName string        `json:"display_name"`
	SizeBytes   int64         `json:"size_bytes"`
	ContentType string        `json:"content_type"`
	ExpiresIn   time.Duration `json:"-"`
}

// FileService is the file lifecycle core: upload, lookup by extract code,
// download, presign issuance, owner listing, logical delete, code reset.
type FileService struct {
	files   FileStore
	history HistoryStore
	store   storage.ObjectStore
	cfg     *config.Config

	// newCode is swapped out by tests to shrink the code space.
	newCode func() string
}

// NewFileService creates a new file lifecycle service.
func NewFileService(files FileStore, history HistoryStore, store storage.ObjectStore, cfg *config.Config) *FileService {
	return &FileService{
		files:   files,
		history: history,
		store:   store,
		cfg:     cfg,
		newCode: GenerateExtractCode,
	}
}

// Upload stores the blob, assigns an extract code, and persists the metadata
// record. The blob goes in first: a failed blob write aborts with no metadata
// row, and a failed metadata write removes the blob best-effort so no record
// ever points at a missing blob.
func (s *FileService) Upload(ctx context.Context, req UploadRequest) (*database.FileRecord, error) {
	if req.Size > s.cfg.MaxFileSize {
		return nil, ErrFileTooLarge
	}

	displayName := strings.TrimSpace(req.SuppliedName)
	if displayName == "" {
		displayName = strings.TrimSpace(req.OriginalName)
	}
	if displayName == "" {
		return nil, ErrMissingName
	}

	contentType := req.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	// The storage key is generated server-side; user input contributes only
	// the extension, so display names can never collide or traverse paths.
	storageKey := strings.ReplaceAll(uuid.NewString(), "-", "") + path.Ext(displayName)

	if err := s.store.Put(ctx, storageKey, req.Data, req.Size, contentType); err != nil {
		return nil, fmt.Errorf("%w: put %s: %v", ErrStorageFault, storageKey, err)
	}

	now := time.Now().UTC()
	rec := &database.FileRecord{
		ID:            uuid.NewString(),
		OwnerID:       req.OwnerID,
		DisplayName:   displayName,
		SizeBytes:     req.Size,
		ContentType:   contentType,
		StorageKey:    storageKey,
		DownloadCount: 0,
		State:         database.StateActive,
		CreatedAt:     now,
		UpdatedAt:     now,
		ExpiresAt:     now.Add(s.cfg.Retention),
	}

	var err error
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		rec.ExtractCode = s.newCode()
		err = s.files.Create(ctx, rec)
		if err == nil {
			slog.Info("file uploaded",
				"file_id", rec.ID,
				"display_name", rec.DisplayName,
				"size_bytes", rec.SizeBytes,
				"expires_at", rec.ExpiresAt,
			)
			return rec, nil
		}
		if !errors.Is(err, database.ErrCodeTaken) {
			break
		}
		slog.Warn("extract code collision, retrying", "attempt", attempt+1)
	}

	// Metadata never landed; don't leave the blob behind if we can help it.
	if rmErr := s.store.Remove(ctx, storageKey); rmErr != nil {
		slog.Error("failed to remove orphaned blob", "storage_key", storageKey, "error", rmErr)
	}
	if errors.Is(err, database.ErrCodeTaken) {
		return nil, ErrCodeSpaceExhausted
	}
	return nil, fmt.Errorf("failed to persist file record: %w", err)
}

// LookupByCode resolves an extract code to its active, unexpired record.
// Read-only: the download counter is untouched. Logically-expired records
// that the sweeper has not reclaimed yet report ErrExpired, never the record.
func (s *FileService) LookupByCode(ctx context.Context, code string) (*database.FileRecord, error) {
	rec, err := s.files.GetActiveByCode(ctx, code)
	if err != nil {
		if errors.Is(err, database.ErrFileNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !rec.ExpiresAt.After(time.Now()) {
		return nil, ErrExpired
	}
	return rec, nil
}

// OpenDownload resolves the code and opens the blob stream. The caller
// streams the body and, only after a full delivery, calls CompleteDownload —
// partial transfers count nothing.
func (s *FileService) OpenDownload(ctx context.Context, code string) (*database.FileRecord, io.ReadCloser, error) {
	rec, err := s.LookupByCode(ctx, code)
	if err != nil {
		return nil, nil, err
	}

	body, err := s.store.Get(ctx, rec.StorageKey)
	if err != nil {
		if errors.Is(err, storage.ErrBlobNotFound) {
			// Active metadata with no blob is our inconsistency, not the
			// caller's bad code.
			return nil, nil, fmt.Errorf("%w: blob %s missing for active file %s",
				ErrStorageFault, rec.StorageKey, rec.ID)
		}
		return nil, nil, fmt.Errorf("%w: get %s: %v", ErrStorageFault, rec.StorageKey, err)
	}
	return rec, body, nil
}

// CompleteDownload records a fully delivered transfer: it bumps the download
// counter and, when the downloader was authenticated, appends a history
// entry. The history append is best-effort; the count is not.
func (s *FileService) CompleteDownload(ctx context.Context, fileID string, downloaderID *string, originAddr string) error {
	if err := s.files.IncrementDownloadCount(ctx, fileID); err != nil {
		return fmt.Errorf("failed to count download: %w", err)
	}

	if downloaderID != nil {
		entry := &database.DownloadHistoryEntry{
			FileID:       fileID,
			DownloaderID: downloaderID,
			DownloadedAt: time.Now().UTC(),
			OriginAddr:   originAddr,
		}
		if err := s.history.Append(ctx, entry); err != nil {
			slog.Error("failed to record download history",
				"file_id", fileID, "error", err)
		}
	}
	return nil
}

// IssuePresignedURL resolves the code and returns a time-limited direct
// download URL. The download counter is bumped at issuance, whether or not
// the URL is ever used — a deliberately weaker guarantee than Download's
// count-on-completion.
func (s *FileService) IssuePresignedURL(ctx context.Context, code string) (*PresignResult, error) {
	rec, err := s.LookupByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	url, err := s.store.Presign(ctx, rec.StorageKey, s.cfg.PresignTTL)
	if err != nil {
		return nil, fmt.Errorf("%w: presign %s: %v", ErrStorageFault, rec.StorageKey, err)
	}

	if err := s.files.IncrementDownloadCount(ctx, rec.ID); err != nil {
		slog.Error("failed to count presign issuance", "file_id", rec.ID, "error", err)
	}

	return &PresignResult{
		URL:         url,
		DisplayName: rec.DisplayName,
		SizeBytes:   rec.SizeBytes,
		ContentType: rec.ContentType,
		ExpiresIn:   s.cfg.PresignTTL,
	}, nil
}

// ListOwned returns the caller's active files, newest first.
func (s *FileService) ListOwned(ctx context.Context, ownerID string) ([]*database.FileRecord, error) {
	return s.files.ListByOwner(ctx, ownerID)
}

// Delete logically deletes a file after an ownership check. The blob stays
// put; the sweeper reclaims it later, keeping this path fast and decoupled
// from object-store latency.
func (s *FileService) Delete(ctx context.Context, fileID, callerID string) error {
	rec, err := s.getOwned(ctx, fileID, callerID)
	if err != nil {
		return err
	}

	if err := s.files.SoftDelete(ctx, rec.ID); err != nil {
		return fmt.Errorf("failed to delete file record: %w", err)
	}

	slog.Info("file deleted", "file_id", rec.ID, "display_name", rec.DisplayName)
	return nil
}

// ResetExtractCode assigns a fresh code after an ownership check. The expiry
// deadline, download count and storage key are untouched.
func (s *FileService) ResetExtractCode(ctx context.Context, fileID, callerID string) (string, error) {
	rec, err := s.getOwned(ctx, fileID, callerID)
	if err != nil {
		return "", err
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code := s.newCode()
		err = s.files.UpdateExtractCode(ctx, rec.ID, code)
		if err == nil {
			slog.Info("extract code reset", "file_id", rec.ID)
			return code, nil
		}
		if !errors.Is(err, database.ErrCodeTaken) {
			return "", fmt.Errorf("failed to update extract code: %w", err)
		}
		slog.Warn("extract code collision, retrying", "attempt", attempt+1)
	}
	return "", ErrCodeSpaceExhausted
}

// ListHistory returns the download history of an owned file, newest first.
func (s *FileService) ListHistory(ctx context.Context, fileID, callerID string) ([]*database.DownloadHistoryEntry, error) {
	rec, err := s.getOwned(ctx, fileID, callerID)
	if err != nil {
		return nil, err
	}
	return s.history.ListByFile(ctx, rec.ID)
}

// GetStats returns aggregate server statistics.
func (s *FileService) GetStats(ctx context.Context) (*database.Stats, error) {
	return s.files.GetStats(ctx)
}

// getOwned fetches a live record and verifies the caller owns it. Deleted
// records are reported as not found, never as forbidden.
func (s *FileService) getOwned(ctx context.Context, fileID, callerID string) (*database.FileRecord, error) {
	rec, err := s.files.GetByID(ctx, fileID)
	if err != nil {
		if errors.Is(err, database.ErrFileNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if rec.State != database.StateActive {
		return nil, ErrNotFound
	}
	if rec.OwnerID != callerID {
		return nil, ErrForbidden
	}
	return rec, nil
}
