// Package auth issues and checks the bearer tokens that guard the scanner's
// control endpoints. Tokens are HS256 JWTs carrying a subject and a role.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Roles for role-based access control
const (
	RoleOperator = "operator" // Start, stop and reconfigure the scanner
	RoleViewer   = "viewer"   // Read-only access
)

// Issuer is set on every token this package signs.
const Issuer = "adsb-scanner"

var (
	// ErrInvalidToken is returned when token validation fails
	ErrInvalidToken = errors.New("invalid or expired token")
	// ErrUnauthorized is returned when a token lacks the required role
	ErrUnauthorized = errors.New("unauthorized access")
	// ErrNoSecret is returned when signing is attempted without a secret
	ErrNoSecret = errors.New("no signing secret configured")
)

// Claims represents the JWT claims for a client
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Config holds authentication configuration
type Config struct {
	Secret        string        // Secret key for signing JWTs
	TokenDuration time.Duration // How long tokens are valid
}

// Service provides token operations
type Service struct {
	config Config
	now    func() time.Time
}

// NewService creates a new authentication service
func NewService(cfg Config) *Service {
	// Default token duration is 24 hours
	if cfg.TokenDuration == 0 {
		cfg.TokenDuration = 24 * time.Hour
	}

	return &Service{
		config: cfg,
		now:    time.Now,
	}
}

// Enabled reports whether a secret is configured. Without one the control
// endpoints are open.
func (s *Service) Enabled() bool {
	return s != nil && s.config.Secret != ""
}

// GenerateToken signs a token for subject with the given role
func (s *Service) GenerateToken(subject, role string) (string, error) {
	if !s.Enabled() {
		return "", ErrNoSecret
	}
	if roleLevel(role) < 0 {
		return "", errors.New("unknown role " + role)
	}

	now := s.now()
	claims := &Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.config.TokenDuration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    Issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.config.Secret))
}

// ValidateToken validates a JWT token and returns the claims
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	if !s.Enabled() {
		return nil, ErrNoSecret
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// Verify signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(s.config.Secret), nil
	},
		jwt.WithIssuer(Issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, ErrInvalidToken
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, ErrInvalidToken
}

// HasRole checks if a role is at least requiredRole.
// Role hierarchy: Operator > Viewer
func HasRole(userRole, requiredRole string) bool {
	userLevel := roleLevel(userRole)
	requiredLevel := roleLevel(requiredRole)
	if userLevel < 0 || requiredLevel < 0 {
		return false
	}
	return userLevel >= requiredLevel
}

func roleLevel(role string) int {
	switch role {
	case RoleOperator:
		return 1
	case RoleViewer:
		return 0
	default:
		return -1
	}
}

type claimsKey struct{}

// FromContext returns the claims stored by Require, if any.
func FromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*Claims)
	return c, ok
}

// Require returns middleware that rejects requests without a bearer token
// carrying at least role. When the service is disabled it passes everything.
// onDeny writes the rejection so callers keep their error format.
func (s *Service) Require(role string, onDeny func(w http.ResponseWriter, status int, err error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !s.Enabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="`+Issuer+`"`)
				onDeny(w, http.StatusUnauthorized, ErrInvalidToken)
				return
			}
			claims, err := s.ValidateToken(raw)
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="`+Issuer+`", error="invalid_token"`)
				onDeny(w, http.StatusUnauthorized, err)
				return
			}
			if !HasRole(claims.Role, role) {
				onDeny(w, http.StatusForbidden, ErrUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
