package middleware

import (
	"net/http"

	"iqbot/utils"

	"github.com/gin-gonic/gin"
)

// AuthMiddleware checks bearer tokens issued by `iqbotctl token`. With an
// empty secret every request is let through.
type AuthMiddleware struct {
	secret string
}

func NewAuthMiddleware(secret string) *AuthMiddleware {
	return &AuthMiddleware{secret: secret}
}

// Enabled reports whether tokens are checked at all.
func (a *AuthMiddleware) Enabled() bool { return a.secret != "" }

func (a *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.Enabled() {
			c.Next()
			return
		}

		tokenString := utils.ExtractTokenFromHeader(c.GetHeader("Authorization"))
		if tokenString == "" {
			utils.RespondWithUnauthorized(c, "Authentication token is required")
			c.Abort()
			return
		}

		claims, err := utils.ValidateJWT(tokenString, a.secret)
		if err != nil {
			utils.RespondWithError(c, http.StatusUnauthorized, "invalid_token", "Authentication token is invalid or expired", gin.H{"error": err.Error()})
			c.Abort()
			return
		}

		c.Set("subject", claims.Subject)
		c.Set("claims", claims)
		c.Next()
	}
}

// GetSubject returns the authenticated subject, or "" when auth is off.
func GetSubject(c *gin.Context) string {
	if v, exists := c.Get("subject"); exists {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
