// Package authguard issues and validates the bearer tokens the control
// API requires on every RPC, as a gRPC unary interceptor and a gin
// middleware.
package authguard

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

var (
	ErrMissingToken = errors.New("authguard: missing bearer token")
	ErrInvalidToken = errors.New("authguard: invalid token")
	ErrExpiredToken = errors.New("authguard: expired token")
)

// Claims identifies the caller and the tables it may operate on. An empty
// Tables list means unrestricted access to every table.
type Claims struct {
	Subject string   `json:"sub"`
	Tables  []string `json:"tables,omitempty"`
	jwt.RegisteredClaims
}

// Guard issues and validates HS256 JWTs over a shared secret.
type Guard struct {
	secret []byte
	ttl    time.Duration
}

// New builds a Guard signing tokens with secret. An empty secret disables
// the guard: Validate always succeeds with no claims, matching a
// single-node development deployment that has no operator identity to
// enforce. A zero ttl defaults to 24 hours.
func New(secret string, ttl time.Duration) *Guard {
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &Guard{secret: []byte(secret), ttl: ttl}
}

// Enabled reports whether this guard actually checks tokens.
func (g *Guard) Enabled() bool { return len(g.secret) > 0 }

// IssueToken mints a signed token for subject, scoped to tables (empty
// means unrestricted).
func (g *Guard) IssueToken(subject string, tables []string) (string, error) {
	claims := &Claims{
		Subject: subject,
		Tables:  tables,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(g.ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "raftengine",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(g.secret)
}

// Validate parses and verifies a raw bearer token.
func (g *Guard) Validate(raw string) (*Claims, error) {
	if !g.Enabled() {
		return &Claims{}, nil
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return g.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Allows reports whether claims permit access to table.
func (c *Claims) Allows(table string) bool {
	if len(c.Tables) == 0 {
		return true
	}
	for _, t := range c.Tables {
		if t == table {
			return true
		}
	}
	return false
}

// UnaryServerInterceptor enforces a valid bearer token on every gRPC call
// when the guard is enabled.
func (g *Guard) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if !g.Enabled() {
			return handler(ctx, req)
		}
		raw, err := bearerFromContext(ctx)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		claims, err := g.Validate(raw)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		return handler(context.WithValue(ctx, claimsKey{}, claims), req)
	}
}

func bearerFromContext(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", ErrMissingToken
	}
	values := md.Get("authorization")
	if len(values) == 0 {
		return "", ErrMissingToken
	}
	return strings.TrimPrefix(values[0], "Bearer "), nil
}

type claimsKey struct{}

// FromContext retrieves the Claims a gRPC interceptor attached to ctx.
func FromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*Claims)
	return c, ok
}

// GinMiddleware enforces a valid bearer token on HTTP requests when the
// guard is enabled, attaching Claims to the gin context under "claims".
func (g *Guard) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !g.Enabled() {
			c.Next()
			return
		}
		raw := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if raw == "" {
			c.AbortWithStatusJSON(401, gin.H{"error": ErrMissingToken.Error()})
			return
		}
		claims, err := g.Validate(raw)
		if err != nil {
			c.AbortWithStatusJSON(401, gin.H{"error": err.Error()})
			return
		}
		c.Set("claims", claims)
		c.Next()
	}
}
