package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mrlokans/shelfsync/internal/entities"
)

// UserAuthenticator resolves API tokens to users. Implemented by
// database.Database.
type UserAuthenticator interface {
	GetUserByToken(token string) (*entities.User, error)
}

// TokenAuthMiddleware authenticates requests via a bearer token and
// stores the resolved user ID in the context. Requests without a valid
// token are rejected with 401.
func TokenAuthMiddleware(users UserAuthenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "missing or malformed Authorization header"})
			return
		}

		user, err := users.GetUserByToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid API token"})
			return
		}

		c.Set(ContextKeyUserID, user.ID)
		c.Next()
	}
}
