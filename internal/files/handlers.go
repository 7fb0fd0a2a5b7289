// Package files implements the per-user sandboxed file REST endpoints:
// directory listing, upload, and download, all confined to the user's
// configured filesystem root.
package files

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/termgate-dev/termgate/internal/auth"
	"github.com/termgate-dev/termgate/internal/errors"
	"github.com/termgate-dev/termgate/internal/logger"
	"github.com/termgate-dev/termgate/internal/models"
)

// Handler serves the file endpoints.
type Handler struct {
	registry *models.Registry
}

// NewHandler creates the file handler.
func NewHandler(registry *models.Registry) *Handler {
	return &Handler{registry: registry}
}

// RegisterRoutes registers the file routes on a bearer-gated group. The
// upload route additionally carries the upload size limiter, wired in main.
func (h *Handler) RegisterRoutes(authed *gin.RouterGroup, uploadLimiter gin.HandlerFunc) {
	authed.GET("", h.List)
	authed.GET("/download", h.Download)
	authed.POST("/upload", uploadLimiter, h.Upload)
}

// Entry is one directory listing entry.
type Entry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
}

// List returns the entries of a directory inside the user's root.
//
// Endpoint: GET /files?path=<p>
func (h *Handler) List(c *gin.Context) {
	target, ok := h.resolve(c, c.Query("path"))
	if !ok {
		return
	}

	entries, err := os.ReadDir(target)
	if err != nil {
		appErr := errors.BadRequest("cannot read directory")
		c.JSON(appErr.StatusCode, appErr.ToResponse())
		return
	}

	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Entry{Name: e.Name(), IsDir: e.IsDir(), Size: info.Size()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	c.JSON(http.StatusOK, gin.H{"path": c.Query("path"), "entries": out})
}

// Download streams a file from inside the user's root.
//
// Endpoint: GET /files/download?path=<p>
func (h *Handler) Download(c *gin.Context) {
	target, ok := h.resolve(c, c.Query("path"))
	if !ok {
		return
	}

	info, err := os.Stat(target)
	if err != nil || info.IsDir() {
		appErr := errors.BadRequest("not a file")
		c.JSON(appErr.StatusCode, appErr.ToResponse())
		return
	}

	c.FileAttachment(target, filepath.Base(target))
}

// Upload writes a multipart file into a directory inside the user's root.
// The body size cap comes from the upload limiter middleware.
//
// Endpoint: POST /files/upload?path=<dir> (multipart field "file")
func (h *Handler) Upload(c *gin.Context) {
	target, ok := h.resolve(c, c.Query("path"))
	if !ok {
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		appErr := errors.BadRequest("missing file field")
		c.JSON(appErr.StatusCode, appErr.ToResponse())
		return
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	if name == "." || name == string(filepath.Separator) {
		appErr := errors.BadRequest("invalid file name")
		c.JSON(appErr.StatusCode, appErr.ToResponse())
		return
	}

	dst, err := os.Create(filepath.Join(target, name))
	if err != nil {
		appErr := errors.BadRequest("cannot create file")
		c.JSON(appErr.StatusCode, appErr.ToResponse())
		return
	}
	defer dst.Close()

	written, err := io.Copy(dst, file)
	if err != nil {
		appErr := errors.BadRequest("upload failed")
		c.JSON(appErr.StatusCode, appErr.ToResponse())
		return
	}

	logger.Files().Info().
		Str("name", name).
		Int64("bytes", written).
		Msg("File uploaded")
	c.JSON(http.StatusCreated, gin.H{"name": name, "size": written})
}

// resolve canonicalises the requested path inside the user's root. Unlike
// the terminal cwd (which silently falls back), file operations surface a
// 403 on escape attempts.
func (h *Handler) resolve(c *gin.Context, requested string) (string, bool) {
	userID, ok := auth.GetUserID(c)
	if !ok {
		appErr := errors.AuthFailed("no authenticated user")
		c.JSON(appErr.StatusCode, appErr.ToResponse())
		return "", false
	}
	user, ok := h.registry.Get(userID)
	if !ok {
		appErr := errors.AuthFailed("unknown user")
		c.JSON(appErr.StatusCode, appErr.ToResponse())
		return "", false
	}

	target := filepath.Join(user.Root, filepath.Clean("/"+requested))

	resolved, err := filepath.EvalSymlinks(target)
	if err != nil {
		// Uploads target paths that may not exist yet; containment is
		// checked on the lexical path in that case.
		resolved = target
	}
	rootResolved, err := filepath.EvalSymlinks(user.Root)
	if err != nil {
		rootResolved = user.Root
	}

	if resolved != rootResolved && !strings.HasPrefix(resolved, rootResolved+string(filepath.Separator)) {
		logger.Files().Warn().
			Str("user", userID).
			Str("requested", requested).
			Msg("Path escape attempt refused")
		appErr := errors.Forbidden("path outside user root")
		c.JSON(appErr.StatusCode, appErr.ToResponse())
		return "", false
	}
	return resolved, true
}
