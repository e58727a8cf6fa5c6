package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/dormitricity/orchestrator/pkg/types"
)

// Context keys set by the middleware below.
const (
	CtxCrawlerClaims = "crawler_claims"
	CtxUserID        = "user_id"
	CtxUserEmail     = "user_email"
)

func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if h == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}

// RequireCrawler authenticates a crawler claim token and enforces the
// given scope. Rejected calls never reach the handler, so no state can
// change on an authorization failure.
func (a *Auth) RequireCrawler(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, types.ErrorResponse{Error: "UNAUTHORIZED"})
			return
		}
		claims, err := a.VerifyCrawlerToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, types.ErrorResponse{Error: "UNAUTHORIZED"})
			return
		}
		if !claims.HasScope(scope) {
			c.AbortWithStatusJSON(http.StatusForbidden, types.ErrorResponse{Error: "FORBIDDEN"})
			return
		}
		c.Set(CtxCrawlerClaims, claims)
		c.Next()
	}
}

// RequireUser authenticates a user session token.
func (a *Auth) RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, types.ErrorResponse{Error: "UNAUTHORIZED"})
			return
		}
		claims, err := a.VerifyUserToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, types.ErrorResponse{Error: "UNAUTHORIZED"})
			return
		}
		c.Set(CtxUserID, claims.UID)
		c.Set(CtxUserEmail, claims.Email)
		c.Next()
	}
}

// CrawlerClaimsFrom returns the verified claims set by RequireCrawler.
func CrawlerClaimsFrom(c *gin.Context) *CrawlerClaims {
	v, ok := c.Get(CtxCrawlerClaims)
	if !ok {
		return nil
	}
	claims, _ := v.(*CrawlerClaims)
	return claims
}
