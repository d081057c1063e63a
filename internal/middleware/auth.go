package middleware

import (
	"collaborative-office-suite/internal/auth"
	"collaborative-office-suite/internal/errors"
	"collaborative-office-suite/internal/store"
	"context"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	ContextUserID   = "user_id"
	ContextIdentity = "identity"
	ContextAuthTime = "auth_time"
	ContextToken    = "jwt_token"
)

// IdentityProvider resolves a verified token to the user it was issued for.
// It rejects tokens whose version was revoked by a sign-out.
type IdentityProvider interface {
	IdentityForToken(ctx context.Context, data auth.TokenData) (*store.Identity, error)
}

type Auth struct {
	Provider IdentityProvider
}

func (m *Auth) AuthMiddleWare() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		authHeader := ctx.GetHeader("Authorization")
		var token string
		// browsers cannot set headers on websocket upgrades
		tokenQuery := ctx.Query("token")

		if authHeader != "" {
			token = strings.TrimPrefix(authHeader, "Bearer ")
		} else if tokenQuery != "" {
			token = tokenQuery
		} else {
			ctx.Error(errors.Unauthorized("Authorization is not found!", nil))
			ctx.Abort()
			return
		}

		parsedToken, err := auth.VerifyJWT(token)
		if err != nil {
			ctx.Error(errors.Unauthorized("Invalid token!", err))
			ctx.Abort()
			return
		}

		data, err := auth.GetDataFromToken(parsedToken)
		if err != nil {
			ctx.Error(errors.Unauthorized("Invalid token!", err))
			ctx.Abort()
			return
		}

		identity, err := m.Provider.IdentityForToken(ctx.Request.Context(), data)
		if err != nil {
			ctx.Error(err)
			ctx.Abort()
			return
		}

		ctx.Set(ContextUserID, identity.UserID)
		ctx.Set(ContextIdentity, *identity)
		ctx.Set(ContextAuthTime, data.AuthTime)
		ctx.Set(ContextToken, token)
		ctx.Next()
	}
}

// CurrentIdentity returns the identity set by AuthMiddleWare.
func CurrentIdentity(c *gin.Context) store.Identity {
	v, _ := c.Get(ContextIdentity)
	identity, _ := v.(store.Identity)
	return identity
}

func AuthTime(c *gin.Context) time.Time {
	return c.GetTime(ContextAuthTime)
}
