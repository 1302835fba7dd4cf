package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/cashback/internal/authorization"
)

type ActorType string

const (
	ActorUser   ActorType = "user"
	ActorMaster ActorType = "master"
)

// Actor is the authenticated operator on admin routes.
type Actor struct {
	Type ActorType
	ID   string
	Role string
}

func (a Actor) subject() string {
	switch a.Type {
	case ActorMaster:
		return authorization.SubjectMaster
	case ActorUser:
		return "user:" + a.ID
	default:
		return ""
	}
}

func (s *Server) authorizeAdminAction(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := actorFromContext(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if s.authzSvc == nil {
			AbortWithError(c, ErrForbidden)
			return
		}

		err := s.authzSvc.Authorize(c.Request.Context(), authorization.Actor{
			Subject: actor.subject(),
			Role:    actor.Role,
		}, strings.TrimSpace(object), strings.TrimSpace(action))
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

func actorFromContext(c *gin.Context) (Actor, bool) {
	if c == nil {
		return Actor{}, false
	}
	value, ok := c.Get(contextActorKey)
	if !ok {
		return Actor{}, false
	}
	actor, ok := value.(Actor)
	if !ok || actor.subject() == "" {
		return Actor{}, false
	}
	return actor, true
}
