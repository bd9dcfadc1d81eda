package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// SubjectKey is the gin context key holding the verified token subject.
const SubjectKey = "auth_subject"

// GinAuth returns middleware enforcing bearer authentication. A nil
// service disables enforcement and passes every request through.
func GinAuth(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if svc == nil {
			c.Next()
			return
		}

		subject, err := svc.Verify(BearerToken(c.Request))
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "authentication_failed",
				"message": "Authentication required",
			})
			c.Abort()
			return
		}

		c.Set(SubjectKey, subject)
		c.Next()
	}
}

// BearerToken extracts the token from the Authorization header, falling
// back to the access_token query parameter. Browser WebSocket clients
// cannot set request headers, so the console endpoint needs the query
// form.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return r.URL.Query().Get("access_token")
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) == 2 && strings.ToLower(parts[0]) == "bearer" {
		return parts[1]
	}
	return ""
}
