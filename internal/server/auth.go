package server

import (
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	obscontext "github.com/smallbiznis/cashback/internal/observability/context"
)

const (
	HeaderUserID   = "X-User-ID"
	HeaderAdminKey = "X-Admin-Key"

	contextUserIDKey = "user_id"
	contextActorKey  = "actor"
)

var errTokenClaims = errors.New("invalid token claims")

// userClaims is the bearer token issued by the user service. Subject is the
// user id; Role is only set on operator tokens.
type userClaims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// UserAuthRequired rejects requests without a user identity.
func (s *Server) UserAuthRequired() gin.HandlerFunc {
	return s.userAuth(true)
}

// UserAuthOptional resolves the user when credentials are sent. Anonymous
// requests pass through; bad credentials do not.
func (s *Server) UserAuthOptional() gin.HandlerFunc {
	return s.userAuth(false)
}

func (s *Server) userAuth(required bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := s.resolveUser(c)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if userID == "" {
			if required {
				AbortWithError(c, ErrUnauthorized)
				return
			}
			c.Next()
			return
		}

		c.Set(contextUserIDKey, userID)
		ctx := obscontext.WithActor(c.Request.Context(), string(ActorUser), userID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// resolveUser returns the caller's user id, or "" when no credentials were
// sent.
func (s *Server) resolveUser(c *gin.Context) (string, error) {
	if token, ok := bearerToken(c); ok {
		claims, err := s.parseToken(token)
		if err != nil {
			return "", ErrUnauthorized
		}
		return strings.TrimSpace(claims.Subject), nil
	}

	if s.cfg.Auth.AllowHeaderIdentity {
		return strings.TrimSpace(c.GetHeader(HeaderUserID)), nil
	}
	return "", nil
}

func (s *Server) parseToken(raw string) (*userClaims, error) {
	secret := s.cfg.Auth.UserJWTSecret
	if secret == "" {
		return nil, ErrUnauthorized
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(30 * time.Second),
		jwt.WithExpirationRequired(),
	}
	if issuer := strings.TrimSpace(s.cfg.Auth.UserJWTIssuer); issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}

	parsed, err := jwt.ParseWithClaims(raw, &userClaims{}, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*userClaims)
	if !ok || !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return nil, errTokenClaims
	}
	return claims, nil
}

// AdminAuthRequired accepts the master key or an operator token carrying a
// role claim.
func (s *Server) AdminAuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, err := s.resolveAdmin(c)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		c.Set(contextActorKey, actor)
		ctx := obscontext.WithActor(c.Request.Context(), string(actor.Type), actor.ID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func (s *Server) resolveAdmin(c *gin.Context) (Actor, error) {
	if key := strings.TrimSpace(c.GetHeader(HeaderAdminKey)); key != "" {
		if !s.cfg.MasterKeyEnabled() {
			return Actor{}, ErrUnauthorized
		}
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.cfg.Webhook.MasterKey)) != 1 {
			return Actor{}, ErrUnauthorized
		}
		return Actor{Type: ActorMaster, ID: "master"}, nil
	}

	token, ok := bearerToken(c)
	if !ok {
		return Actor{}, ErrUnauthorized
	}
	claims, err := s.parseToken(token)
	if err != nil {
		return Actor{}, ErrUnauthorized
	}
	if strings.TrimSpace(claims.Role) == "" {
		return Actor{}, ErrForbidden
	}
	return Actor{
		Type: ActorUser,
		ID:   strings.TrimSpace(claims.Subject),
		Role: strings.TrimSpace(claims.Role),
	}, nil
}

func bearerToken(c *gin.Context) (string, bool) {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if header == "" {
		return "", false
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return parts[1], true
}

func userIDFromContext(c *gin.Context) string {
	return strings.TrimSpace(c.GetString(contextUserIDKey))
}
