package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-programme-api/internal/models"
	appErrors "github.com/noah-isme/course-programme-api/pkg/errors"
	"github.com/noah-isme/course-programme-api/pkg/response"
)

// RequireCapability gates a route on the actor holding at least one of the
// listed capabilities. Routes see WHO may act; the services decide what the
// action is allowed to touch.
func RequireCapability(capabilities ...models.Capability) gin.HandlerFunc {
	return func(c *gin.Context) {
		claimsValue, exists := c.Get(ContextUserKey)
		if !exists {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		claims := claimsValue.(*models.JWTClaims)
		actor := claims.Actor()

		for _, capability := range capabilities {
			if actor.Can(capability) {
				c.Next()
				return
			}
		}

		response.Error(c, appErrors.ErrForbidden)
		c.Abort()
	}
}
