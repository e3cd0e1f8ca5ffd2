package database

import "time"

// File record states. Deletion is logical; blob reclaim happens later in the
// expiration sweeper.
const (
	StateActive  = "active"
	StateDeleted = "deleted"
)

// FileRecord is the metadata row for one uploaded file.
type FileRecord struct {
	ID            string
	OwnerID       string
	DisplayName   string
	SizeBytes     int64
	ContentType   string
	StorageKey    string
	ExtractCode   string
	DownloadCount int
	State         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ExpiresAt     time.Time
}

// DownloadHistoryEntry is one append-only audit row per completed download
// by an authenticated principal.
type DownloadHistoryEntry struct {
	ID           int64
	FileID       string
	DownloaderID *string // nil when the downloader carried no principal
	DownloadedAt time.Time
	OriginAddr   string
}

// User is an uploading principal.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// Stats holds aggregate server statistics.
type Stats struct {
	TotalFiles     int64
	ActiveFiles    int64
	TotalDownloads int64
	ActiveBytes    int64
}
