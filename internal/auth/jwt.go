package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"plate-auction/internal/biddingerrors"
	"plate-auction/internal/models"
	"plate-auction/utils"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
)

// callerKey is the gin context key holding the authenticated models.User
const callerKey = "auth.caller"

// Claims defines the JWT claims structure
type Claims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	IsStaff  bool   `json:"is_staff"`
	jwt.RegisteredClaims
}

// Resolver turns a request credential into a caller identity
type Resolver interface {
	Resolve(credential string) (models.User, error)
}

// Provider validates HS256 tokens signed with a shared secret
type Provider struct {
	secret []byte
	clock  clockwork.Clock
}

// NewProvider creates a Provider
func NewProvider(secret string, clock clockwork.Clock) *Provider {
	return &Provider{secret: []byte(secret), clock: clock}
}

// Resolve parses and validates a token and returns the user it names
func (p *Provider) Resolve(credential string) (models.User, error) {
	if credential == "" {
		return models.User{}, fmt.Errorf("missing credential: %w", biddingerrors.ErrUnauthenticated)
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(credential, claims,
		func(token *jwt.Token) (interface{}, error) {
			return p.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(p.clock.Now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return models.User{}, fmt.Errorf("invalid token: %w: %v", biddingerrors.ErrUnauthenticated, err)
	}
	if !token.Valid || claims.UserID == "" {
		return models.User{}, fmt.Errorf("invalid token claims: %w", biddingerrors.ErrUnauthenticated)
	}

	return models.User{
		UserID:   claims.UserID,
		Username: claims.Username,
		IsStaff:  claims.IsStaff,
	}, nil
}

// Issue signs a token for user valid for ttl. Login lives outside this service; this is for tooling and tests.
func (p *Provider) Issue(user models.User, ttl time.Duration) (string, error) {
	now := p.clock.Now()
	claims := &Claims{
		UserID:   user.UserID,
		Username: user.Username,
		IsStaff:  user.IsStaff,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(p.secret)
}

// Middleware rejects requests without a valid bearer token and stores the caller in the gin context
func Middleware(resolver Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := bearerToken(c.GetHeader("Authorization"))
		if tokenStr == "" {
			if cookie, err := c.Cookie("token"); err == nil {
				tokenStr = cookie
			}
		}

		user, err := resolver.Resolve(tokenStr)
		if err != nil {
			utils.JSONError(c, http.StatusUnauthorized, err, "unauthenticated")
			utils.Warn("auth: rejected request", map[string]any{
				"path":  c.Request.URL.Path,
				"error": err.Error(),
			})
			return
		}

		SetCaller(c, user)
		c.Next()
	}
}

// SetCaller stores the authenticated user in the gin context
func SetCaller(c *gin.Context, user models.User) {
	c.Set(callerKey, user)
}

// Caller returns the authenticated user stored by Middleware
func Caller(c *gin.Context) (models.User, error) {
	v, ok := c.Get(callerKey)
	if !ok {
		return models.User{}, biddingerrors.ErrUnauthenticated
	}
	user, ok := v.(models.User)
	if !ok {
		return models.User{}, errors.New("auth: unexpected caller type in context")
	}
	return user, nil
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
