package server

import (
	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/kitchenbill/internal/audit/domain"
	obscontext "github.com/smallbiznis/kitchenbill/internal/observability/context"
)

// HeaderActor names the calling user. The request logger reads it first.
const HeaderActor = "X-Actor"

// ActorContext makes sure API changes are never attributed to the scheduler:
// anonymous callers are recorded as users without an id.
func ActorContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if actorType, _ := obscontext.ActorFromContext(ctx); actorType == "" {
			ctx = obscontext.WithActor(ctx, string(auditdomain.ActorTypeUser), "")
			c.Request = c.Request.WithContext(ctx)
		}
		c.Next()
	}
}
