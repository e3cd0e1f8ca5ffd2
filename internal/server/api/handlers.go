package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"satchel/internal/server/database"
	"satchel/internal/server/service"
	"satchel/internal/server/storage"

	"github.com/labstack/echo/v4"
)

// Handler contains the HTTP handlers for the satchel API.
type Handler struct {
	files *service.FileService
	users *service.UserService
	db    *database.DB

	// local is set only when the filesystem backend is active; it serves
	// the HMAC-signed /blob URLs that stand in for S3 presigned links.
	local *storage.FileSystemStore
}

// NewHandler creates a new handler with the given service dependencies.
func NewHandler(files *service.FileService, users *service.UserService, db *database.DB, local *storage.FileSystemStore) *Handler {
	return &Handler{files: files, users: users, db: db, local: local}
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// fileResponse is the wire shape of a file record.
type fileResponse struct {
	ID            string    `json:"id"`
	DisplayName   string    `json:"display_name"`
	SizeBytes     int64     `json:"size_bytes"`
	ContentType   string    `json:"content_type"`
	ExtractCode   string    `json:"extract_code"`
	DownloadCount int       `json:"download_count"`
	CreatedAt     time.Time `json:"created_at"`
	ExpiresAt     time.Time `json:"expires_at"`
}

func toFileResponse(rec *database.FileRecord) fileResponse {
	return fileResponse{
		ID:            rec.ID,
		DisplayName:   rec.DisplayName,
		SizeBytes:     rec.SizeBytes,
		ContentType:   rec.ContentType,
		ExtractCode:   rec.ExtractCode,
		DownloadCount: rec.DownloadCount,
		CreatedAt:     rec.CreatedAt,
		ExpiresAt:     rec.ExpiresAt,
	}
}

// HandleRegister handles POST /api/auth/register.
func (h *Handler) HandleRegister(c echo.Context) error {
	var req credentialsRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	user, err := h.users.Register(c.Request().Context(), req.Username, req.Password)
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusCreated, echo.Map{
		"id":       user.ID,
		"username": user.Username,
	})
}

// HandleLogin handles POST /api/auth/login. Returns a bearer token.
func (h *Handler) HandleLogin(c echo.Context) error {
	var req credentialsRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	token, err := h.users.Login(c.Request().Context(), req.Username, req.Password)
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{"token": token})
}

// HandleUpload handles POST /api/files.
// Accepts a multipart form with a "file" field and an optional "fileName"
// override. Responds with the full record including the extract code.
func (h *Handler) HandleUpload(c echo.Context) error {
	ownerID, _ := currentUserID(c)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error": "file is required (use form field 'file')",
		})
	}

	src, err := fileHeader.Open()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"error": "failed to read uploaded file",
		})
	}
	defer src.Close()

	rec, err := h.files.Upload(c.Request().Context(), service.UploadRequest{
		Data:         src,
		Size:         fileHeader.Size,
		ContentType:  fileHeader.Header.Get(echo.HeaderContentType),
		SuppliedName: c.FormValue("fileName"),
		OriginalName: fileHeader.Filename,
		OwnerID:      ownerID,
	})
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusCreated, toFileResponse(rec))
}

// HandleList handles GET /api/files. Active files of the caller, newest first.
func (h *Handler) HandleList(c echo.Context) error {
	ownerID, _ := currentUserID(c)

	records, err := h.files.ListOwned(c.Request().Context(), ownerID)
	if err != nil {
		return mapServiceError(c, err)
	}

	out := make([]fileResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, toFileResponse(rec))
	}
	return c.JSON(http.StatusOK, out)
}

// HandleLookup handles GET /api/code/:code.
// Returns file metadata without counting a download.
func (h *Handler) HandleLookup(c echo.Context) error {
	rec, err := h.files.LookupByCode(c.Request().Context(), c.Param("code"))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, toFileResponse(rec))
}

// HandlePresign handles GET /api/code/:code/url.
// Issues a presigned download URL; counts as a download at issuance.
func (h *Handler) HandlePresign(c echo.Context) error {
	result, err := h.files.IssuePresignedURL(c.Request().Context(), c.Param("code"))
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"download_url":       result.URL,
		"display_name":       result.DisplayName,
		"size_bytes":         result.SizeBytes,
		"content_type":       result.ContentType,
		"expires_in_seconds": int(result.ExpiresIn.Seconds()),
	})
}

// HandleDownload handles GET /d/:code.
// Streams the blob; the download counter and history entry land only after
// the full body went out.
func (h *Handler) HandleDownload(c echo.Context) error {
	ctx := c.Request().Context()

	rec, body, err := h.files.OpenDownload(ctx, c.Param("code"))
	if err != nil {
		return mapServiceError(c, err)
	}
	defer body.Close()

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, rec.ContentType)
	res.Header().Set(echo.HeaderContentLength, strconv.FormatInt(rec.SizeBytes, 10))
	res.Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf(`attachment; filename*=UTF-8''%s`, url.PathEscape(rec.DisplayName)))
	res.WriteHeader(http.StatusOK)

	if _, err := io.Copy(res, body); err != nil {
		// Transfer broke mid-stream; the status line is already gone and
		// the delivery doesn't count.
		slog.Warn("download aborted mid-transfer", "file_id", rec.ID, "error", err)
		return nil
	}

	var downloaderID *string
	if id, ok := currentUserID(c); ok {
		downloaderID = &id
	}
	if err := h.files.CompleteDownload(ctx, rec.ID, downloaderID, c.RealIP()); err != nil {
		slog.Error("failed to finalize download", "file_id", rec.ID, "error", err)
	}
	return nil
}

// HandleDelete handles DELETE /api/files/:id. Logical delete, owner only.
func (h *Handler) HandleDelete(c echo.Context) error {
	callerID, _ := currentUserID(c)

	if err := h.files.Delete(c.Request().Context(), c.Param("id"), callerID); err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{"message": "file deleted"})
}

// HandleResetCode handles PUT /api/files/:id/code. Owner only; the expiry
// deadline is unchanged.
func (h *Handler) HandleResetCode(c echo.Context) error {
	callerID, _ := currentUserID(c)

	code, err := h.files.ResetExtractCode(c.Request().Context(), c.Param("id"), callerID)
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{"extract_code": code})
}

// HandleHistory handles GET /api/files/:id/history. Owner only.
func (h *Handler) HandleHistory(c echo.Context) error {
	callerID, _ := currentUserID(c)

	entries, err := h.files.ListHistory(c.Request().Context(), c.Param("id"), callerID)
	if err != nil {
		return mapServiceError(c, err)
	}

	type historyResponse struct {
		DownloaderID *string   `json:"downloader_id"`
		DownloadedAt time.Time `json:"downloaded_at"`
		OriginAddr   string    `json:"origin_addr"`
	}
	out := make([]historyResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, historyResponse{
			DownloaderID: e.DownloaderID,
			DownloadedAt: e.DownloadedAt,
			OriginAddr:   e.OriginAddr,
		})
	}
	return c.JSON(http.StatusOK, out)
}

// HandleBlob handles GET /blob/:key for the filesystem backend: the target
// of locally-issued presigned URLs. Signature and expiry are checked before
// any disk access.
func (h *Handler) HandleBlob(c echo.Context) error {
	key := c.Param("key")

	if !h.local.VerifySignedRequest(key, c.QueryParam("exp"), c.QueryParam("sig")) {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "invalid or expired link"})
	}

	body, err := h.local.Get(c.Request().Context(), key)
	if err != nil {
		if errors.Is(err, storage.ErrBlobNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "blob not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
	}
	defer body.Close()

	return c.Stream(http.StatusOK, "application/octet-stream", body)
}

// HandleHealth handles GET /health.
func (h *Handler) HandleHealth(c echo.Context) error {
	status := "healthy"
	dbStatus := "connected"

	if err := h.db.HealthCheck(c.Request().Context()); err != nil {
		status = "degraded"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"status":   status,
		"database": dbStatus,
	})
}

// HandleStats handles GET /api/stats.
func (h *Handler) HandleStats(c echo.Context) error {
	stats, err := h.files.GetStats(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"error": "failed to retrieve stats",
		})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"total_files":     stats.TotalFiles,
		"active_files":    stats.ActiveFiles,
		"total_downloads": stats.TotalDownloads,
		"active_bytes":    stats.ActiveBytes,
	})
}

// mapServiceError translates service-layer errors into HTTP responses.
// Expired is distinct from NotFound (410 vs 404) for telemetry even though
// clients treat them the same.
func mapServiceError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "file not found"})
	case errors.Is(err, service.ErrExpired):
		return c.JSON(http.StatusGone, echo.Map{"error": "file has expired"})
	case errors.Is(err, service.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "you do not own this file"})
	case errors.Is(err, service.ErrMissingName):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "no filename provided"})
	case errors.Is(err, service.ErrFileTooLarge):
		return c.JSON(http.StatusRequestEntityTooLarge, echo.Map{
			"error": "file exceeds maximum allowed size",
		})
	case errors.Is(err, service.ErrWeakCredentials):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.Is(err, service.ErrUsernameTaken):
		return c.JSON(http.StatusConflict, echo.Map{"error": "username already taken"})
	case errors.Is(err, service.ErrInvalidCredentials):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid username or password"})
	case errors.Is(err, service.ErrStorageFault):
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"error": "storage temporarily unavailable, retry shortly",
		})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
	}
}
