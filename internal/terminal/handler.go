package terminal

import (
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/termgate-dev/termgate/internal/auth"
	"github.com/termgate-dev/termgate/internal/errors"
	"github.com/termgate-dev/termgate/internal/logger"
	"github.com/termgate-dev/termgate/internal/models"
	"github.com/termgate-dev/termgate/internal/ticket"
)

// Handler serves the WebSocket terminal endpoint and the ticket mint.
type Handler struct {
	registry *models.Registry
	tickets  *ticket.Store
	shell    string
	upgrader websocket.Upgrader
}

// NewHandler creates the terminal handler. allowedOrigin is the configured
// RP origin; upgrades from any other browser origin are refused unless the
// origin's host equals the request's Host.
func NewHandler(registry *models.Registry, tickets *ticket.Store, shell, allowedOrigin string) *Handler {
	return &Handler{
		registry: registry,
		tickets:  tickets,
		shell:    resolveShell(shell),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  readBufSize,
			WriteBufferSize: readBufSize,
			CheckOrigin:     originChecker(allowedOrigin),
		},
	}
}

// RegisterRoutes registers the terminal routes. The authed group must carry
// the bearer middleware; the terminal endpoint itself is gated by ticket.
func (h *Handler) RegisterRoutes(public, authed *gin.RouterGroup) {
	authed.POST("/ticket", h.MintTicket)
	public.GET("/terminal", h.HandleTerminal)
}

// MintTicket issues a single-use WebSocket ticket for the authenticated
// user.
//
// Endpoint: POST /ws/ticket (bearer required)
func (h *Handler) MintTicket(c *gin.Context) {
	userID, ok := auth.GetUserID(c)
	if !ok {
		appErr := errors.AuthFailed("no authenticated user")
		c.JSON(appErr.StatusCode, appErr.ToResponse())
		return
	}

	t, err := h.tickets.Mint(userID)
	if err != nil {
		appErr := errors.Internal("ticket", err)
		logger.Terminal().Error().Err(err).Msg("Ticket mint failed")
		c.JSON(appErr.StatusCode, appErr.ToResponse())
		return
	}
	c.JSON(http.StatusOK, gin.H{"ticket": t})
}

// HandleTerminal upgrades to WebSocket, redeems the ticket, spawns the
// shell, and runs the relay until either side closes.
//
// Endpoint: GET /ws/terminal?ticket=<t>&cwd=<path>
//
// A missing, expired, or already-used ticket closes the socket with a
// policy-violation close frame. The cwd candidate must resolve inside the
// user's root; escapes silently fall back to the root.
func (h *Handler) HandleTerminal(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		logger.Terminal().Debug().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	userID, err := h.tickets.Redeem(c.Query("ticket"), time.Now())
	if err != nil {
		logger.Terminal().Info().
			Str("remote", c.ClientIP()).
			Err(err).
			Msg("Terminal ticket refused")
		closeWithPolicyViolation(conn, "invalid ticket")
		return
	}

	user, ok := h.registry.Get(userID)
	if !ok {
		closeWithPolicyViolation(conn, "unknown user")
		return
	}

	cwd := resolveCwd(user.Root, c.Query("cwd"))

	sess, err := spawnShell(h.shell, cwd, user.ID)
	if err != nil {
		// Exec failure after upgrade: error frame, then close. No exit
		// frame, the child never ran.
		logger.Terminal().Error().Err(err).Str("shell", h.shell).Msg("Shell spawn failed")
		conn.WriteJSON(Frame{Type: FrameError, Message: "failed to start shell"})
		conn.Close()
		return
	}

	logger.Terminal().Info().
		Str("user", user.ID).
		Str("cwd", cwd).
		Msg("Terminal session started")

	newRelay(conn, sess).run()

	logger.Terminal().Info().Str("user", user.ID).Msg("Terminal session ended")
}

// resolveCwd canonicalises the candidate and confines it to root. Any
// escape, resolution failure, or non-directory falls back to root without
// surfacing an error.
func resolveCwd(root, candidate string) string {
	if candidate == "" {
		return root
	}
	candidate = filepath.Clean(candidate)
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(root, candidate)
	}

	resolved, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		return root
	}
	rootResolved, err := filepath.EvalSymlinks(root)
	if err != nil {
		rootResolved = root
	}

	if resolved != rootResolved && !strings.HasPrefix(resolved, rootResolved+string(filepath.Separator)) {
		return root
	}

	info, err := os.Stat(resolved)
	if err != nil || !info.IsDir() {
		return root
	}
	return resolved
}

func closeWithPolicyViolation(conn *websocket.Conn, reason string) {
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason))
	conn.Close()
}

// originChecker pins browser upgrades to the configured origin. Requests
// without an Origin header (non-browser clients) are allowed; the ticket
// still gates them.
func originChecker(allowedOrigin string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if allowedOrigin != "" && strings.EqualFold(origin, allowedOrigin) {
			return true
		}
		// Same-host origins are fine regardless of scheme.
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return strings.EqualFold(u.Host, r.Host)
	}
}
