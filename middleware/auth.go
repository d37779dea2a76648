package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cppla/storefront/utils"
)

const (
	// ContextClaimsKey stores the verified *utils.Claims inside Gin context.
	ContextClaimsKey = "claims"
	// ContextTokenKey stores the raw bearer token inside Gin context.
	ContextTokenKey = "token"
)

// Gate verifies bearer tokens against the token service and the revocation list.
type Gate struct {
	tokens    *utils.TokenService
	blacklist *utils.TokenBlacklist
}

// NewGate builds a Gate; blacklist may be nil.
func NewGate(tokens *utils.TokenService, blacklist *utils.TokenBlacklist) *Gate {
	return &Gate{tokens: tokens, blacklist: blacklist}
}

// bearerToken extracts the token from "Authorization: Bearer <token>".
func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

// AuthRequired rejects requests without a usable credential (401) and requests whose
// token fails verification (403). Expired and tampered tokens are reported the same way.
func (g *Gate) AuthRequired() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		authHeader := ctx.GetHeader("Authorization")
		if authHeader == "" {
			utils.HandleError(ctx, nil, utils.Unauthenticated(40101, "authorization header missing"))
			return
		}
		token, ok := bearerToken(authHeader)
		if !ok {
			utils.HandleError(ctx, nil, utils.Unauthenticated(40102, "invalid authorization header format"))
			return
		}

		claims, ok := g.verify(ctx, token)
		if !ok {
			utils.HandleError(ctx, nil, utils.Forbidden(40301, "invalid token"))
			return
		}

		ctx.Set(ContextClaimsKey, claims)
		ctx.Set(ContextTokenKey, token)
		ctx.Next()
	}
}

// OptionalAuth attaches claims when a valid bearer token is present and otherwise
// lets the request through anonymously.
func (g *Gate) OptionalAuth() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if token, ok := bearerToken(ctx.GetHeader("Authorization")); ok {
			if claims, ok := g.verify(ctx, token); ok {
				ctx.Set(ContextClaimsKey, claims)
				ctx.Set(ContextTokenKey, token)
			}
		}
		ctx.Next()
	}
}

func (g *Gate) verify(ctx *gin.Context, token string) (*utils.Claims, bool) {
	if g.blacklist != nil && g.blacklist.IsRevoked(ctx.Request.Context(), token) {
		return nil, false
	}
	claims, err := g.tokens.Verify(token)
	if err != nil {
		return nil, false
	}
	return claims, true
}

// RequireAdmin must run after AuthRequired; non-admin callers get 403.
func RequireAdmin() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		claims, ok := Claims(ctx)
		if !ok || !claims.IsAdmin {
			utils.HandleError(ctx, nil, utils.Forbidden(40302, "admin privileges required"))
			return
		}
		ctx.Next()
	}
}

// Claims returns the verified claims attached by the gate.
func Claims(ctx *gin.Context) (*utils.Claims, bool) {
	v, exists := ctx.Get(ContextClaimsKey)
	if !exists {
		return nil, false
	}
	claims, ok := v.(*utils.Claims)
	return claims, ok && claims != nil
}

// Token returns the raw bearer token attached by the gate.
func Token(ctx *gin.Context) string {
	return ctx.GetString(ContextTokenKey)
}
