package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Afshari9978/avishan/internal/core/domain"
	"github.com/Afshari9978/avishan/internal/usecase"
)

// Auth binds the session carried by the request token. A missing token is
// not an error here; callables that require authentication reject later in
// the dispatch pipeline. A present but dead token fails immediately.
func Auth(sessions *usecase.SessionService, defaultLanguage domain.Language) gin.HandlerFunc {
	return func(c *gin.Context) {
		env := EnvelopeFromContext(c)
		if env == nil {
			c.Next()
			return
		}

		token := extractToken(c)
		if token == "" {
			env.ResolveLanguage(defaultLanguage)
			c.Next()
			return
		}

		account, payload, err := sessions.Authenticate(c.Request.Context(), token)
		if err != nil {
			env.Exception = err
			env.ResolveLanguage(defaultLanguage)
			c.Abort()
			return
		}

		env.BindSession(account.Method, account.Membership, account.User, account.Group)
		env.DecodedToken = payload
		env.ResolveLanguage(defaultLanguage)

		// Every authenticated response carries a rebound token with a fresh
		// expiry window, implementing the rolling session.
		rebound, err := sessions.Rebind(payload, account.Group)
		if err != nil {
			env.Exception = err
			c.Abort()
			return
		}
		env.Token = rebound

		c.Next()
	}
}

// extractToken reads the session token from the Authorization header, the
// token cookie, or the reserved token query parameter, in that order.
func extractToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return strings.TrimSpace(header)
	}

	if cookie, err := c.Cookie(tokenCookieName); err == nil && cookie != "" {
		return cookie
	}

	return c.Query("token")
}
