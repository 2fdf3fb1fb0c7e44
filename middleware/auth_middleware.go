package middleware

import (
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"pagelens/api/models"
	"pagelens/api/utils"
)

const (
	ctxUserID    = "user_id"
	ctxUserEmail = "user_email"
	ctxUserRole  = "user_role"
)

type TokenValidator interface {
	ValidateJWT(tokenString, tokenType string) (*utils.Claims, error)
}

type Authenticator struct {
	tokens TokenValidator
}

func NewAuthenticator(tokens TokenValidator) *Authenticator {
	return &Authenticator{tokens: tokens}
}

// BearerToken returns the access token from the Authorization header, or the
// jwt_token cookie when the header is absent.
func BearerToken(c *gin.Context) string {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	if header != "" {
		return header
	}
	if cookie, err := c.Cookie("jwt_token"); err == nil {
		return cookie
	}
	return ""
}

func (a *Authenticator) authenticate(c *gin.Context) (*utils.Claims, bool) {
	tokenString := BearerToken(c)
	if tokenString == "" {
		return nil, false
	}
	claims, err := a.tokens.ValidateJWT(tokenString, utils.TokenTypeAccess)
	if err != nil {
		log.Printf("Auth: invalid JWT token: %v", err)
		return nil, true
	}
	c.Set(ctxUserID, claims.UserID)
	c.Set(ctxUserEmail, claims.Email)
	c.Set(ctxUserRole, claims.Role)
	return claims, true
}

// AuthRequired rejects requests without a valid access token.
func (a *Authenticator) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, present := a.authenticate(c)
		if !present {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: No token provided"})
			return
		}
		if claims == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid or expired token"})
			return
		}
		c.Next()
	}
}

// OptionalAuth identifies the caller when a token is sent. A token that is
// present but invalid is still rejected so clients notice expiry.
func (a *Authenticator) OptionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, present := a.authenticate(c)
		if present && claims == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid or expired token"})
			return
		}
		c.Next()
	}
}

// AdminRequired must run after AuthRequired.
func AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(ctxUserRole) != models.RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Admin access required"})
			return
		}
		c.Next()
	}
}

// UserID returns the authenticated caller, or nil for anonymous requests.
func UserID(c *gin.Context) *int64 {
	v, ok := c.Get(ctxUserID)
	if !ok {
		return nil
	}
	id, ok := v.(int64)
	if !ok {
		return nil
	}
	return &id
}

func UserEmail(c *gin.Context) string {
	return c.GetString(ctxUserEmail)
}
