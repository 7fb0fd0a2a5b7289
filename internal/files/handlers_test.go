package files

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/termgate-dev/termgate/internal/auth"
	"github.com/termgate-dev/termgate/internal/logger"
	"github.com/termgate-dev/termgate/internal/middleware"
	"github.com/termgate-dev/termgate/internal/models"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	logger.Initialize("error", false)
	os.Exit(m.Run())
}

func setupFilesTest(t *testing.T) (*gin.Engine, string) {
	t.Helper()

	root := t.TempDir()
	registry, err := models.NewRegistry([]*models.User{
		{ID: "alice", PasswordHash: "x", Root: root},
	}, "")
	require.NoError(t, err)

	router := gin.New()
	group := router.Group("/files", func(c *gin.Context) {
		// Stand-in for the bearer middleware.
		c.Set(auth.CtxUserID, "alice")
	})
	NewHandler(registry).RegisterRoutes(group, middleware.UploadSizeLimiter(1))

	return router, root
}

func TestList(t *testing.T) {
	router, root := setupFilesTest(t)

	require.NoError(t, os.WriteFile(filepath.Join(root, "b.txt"), []byte("bb"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("a"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "dir"), 0o755))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/files?path=/", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Entries []Entry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Entries, 3)
	assert.Equal(t, "a.txt", resp.Entries[0].Name)
	assert.True(t, resp.Entries[2].IsDir)
}

func TestList_EscapeForbidden(t *testing.T) {
	router, root := setupFilesTest(t)

	// Lexical traversal is neutralized by cleaning under the root; a
	// symlink escape is caught by resolution and refused.
	outside := t.TempDir()
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "leak")))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/files?path=/leak", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestList_TraversalNeutralized(t *testing.T) {
	router, root := setupFilesTest(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "ok.txt"), []byte("x"), 0o644))

	// "../.." cleans to the root itself; the listing is the sandbox root,
	// never the parent.
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/files?path=../..", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok.txt")
}

func TestDownload(t *testing.T) {
	router, root := setupFilesTest(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "hello.txt"), []byte("hello world"), 0o644))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/files/download?path=/hello.txt", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hello world", w.Body.String())
}

func TestDownload_DirectoryRefused(t *testing.T) {
	router, _ := setupFilesTest(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/files/download?path=/", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpload(t *testing.T) {
	router, root := setupFilesTest(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "upload.txt")
	require.NoError(t, err)
	_, err = fw.Write([]byte("payload"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/files/upload?path=/", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	data, err := os.ReadFile(filepath.Join(root, "upload.txt"))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestUpload_NameIsBasenamed(t *testing.T) {
	router, root := setupFilesTest(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "../../evil.txt")
	require.NoError(t, err)
	_, err = fw.Write([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/files/upload?path=/", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	_, err = os.Stat(filepath.Join(root, "evil.txt"))
	assert.NoError(t, err, "upload lands under the root under its base name")
	_, err = os.Stat(filepath.Join(filepath.Dir(filepath.Dir(root)), "evil.txt"))
	assert.Error(t, err)
}
