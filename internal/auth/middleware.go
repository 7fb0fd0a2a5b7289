// This file implements the Gin middleware for bearer token validation.
//
// AUTHENTICATION FLOW:
//
//  1. Client includes the token: "Authorization: Bearer <token>"
//  2. Middleware extracts and validates it (signature, expiry, revocation)
//  3. The user id and claims land in the Gin context for handlers
//
// All failures map to a uniform 401; the internal cause is logged, never
// returned. WebSocket upgrade requests are aborted with a bare status code
// so the failure does not interfere with the handshake.
package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/termgate-dev/termgate/internal/errors"
	"github.com/termgate-dev/termgate/internal/logger"
)

// Context keys set by the middleware.
const (
	CtxUserID = "userID"
	CtxClaims = "claims"
)

// Middleware creates an authentication middleware that validates bearer
// tokens against the token service (signature, expiry, revocation).
func Middleware(tokens *TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		// WebSocket upgrades get status-only aborts; a JSON body would
		// interfere with the handshake.
		upgrade := strings.ToLower(c.GetHeader("Upgrade"))
		connection := strings.ToLower(c.GetHeader("Connection"))
		isWebSocket := upgrade == "websocket" && strings.Contains(connection, "upgrade")

		tokenString, ok := BearerFromHeader(c.GetHeader("Authorization"))
		if !ok {
			reject(c, isWebSocket, "missing or malformed authorization header")
			return
		}

		claims, err := tokens.Validate(tokenString)
		if err != nil {
			reject(c, isWebSocket, err.Error())
			return
		}

		c.Set(CtxUserID, claims.UserID())
		c.Set(CtxClaims, claims)
		c.Next()
	}
}

func reject(c *gin.Context, isWebSocket bool, cause string) {
	logger.Security().Debug().
		Str("path", c.Request.URL.Path).
		Str("remote", c.ClientIP()).
		Str("cause", cause).
		Msg("Bearer validation failed")

	if isWebSocket {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	appErr := errors.AuthFailed(cause)
	c.AbortWithStatusJSON(appErr.StatusCode, appErr.ToResponse())
}

// BearerFromHeader extracts the token from an Authorization header value.
func BearerFromHeader(header string) (string, bool) {
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// GetUserID extracts the authenticated user id from the Gin context.
func GetUserID(c *gin.Context) (string, bool) {
	userID, exists := c.Get(CtxUserID)
	if !exists {
		return "", false
	}
	id, ok := userID.(string)
	return id, ok
}
