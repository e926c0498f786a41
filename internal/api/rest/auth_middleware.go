package rest

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/davidleathers/dnc-guard/internal/domain/errors"
	dncsvc "github.com/davidleathers/dnc-guard/internal/service/dnc"
)

type contextKey string

const contextKeyUser contextKey = "user"

// Claims represents JWT claims. The subject is the user id.
type Claims struct {
	jwt.RegisteredClaims
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
}

// AuthMiddleware validates HS256 bearer tokens and puts the caller into the
// request context.
type AuthMiddleware struct {
	secret []byte
	issuer string
	tracer trace.Tracer
	logger *slog.Logger
}

func NewAuthMiddleware(secret, issuer string, logger *slog.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		secret: []byte(secret),
		issuer: issuer,
		tracer: otel.Tracer("api.rest.auth"),
		logger: logger,
	}
}

// Authenticate attaches the user when a valid bearer token is present.
// Requests without an Authorization header pass through anonymously; a
// malformed or invalid token is rejected.
func (a *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}

		ctx, span := a.tracer.Start(r.Context(), "auth.middleware")
		defer span.End()

		token, err := extractBearer(header)
		if err == nil {
			var claims *Claims
			claims, err = a.parse(token)
			if err == nil {
				user := &dncsvc.User{ID: claims.Subject, Username: claims.Username, Email: claims.Email}
				span.SetAttributes(attribute.String("user_id", user.ID))
				next.ServeHTTP(w, r.WithContext(WithUser(ctx, user)))
				return
			}
		}

		span.RecordError(err)
		writeError(w, r, a.logger, errors.NewUnauthorizedError("Invalid or expired token"))
	})
}

// RequireUser rejects anonymous requests.
func (a *AuthMiddleware) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if UserFromContext(r.Context()) == nil {
			writeError(w, r, a.logger, errors.NewUnauthorizedError("authentication required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GenerateToken issues a token for user valid for ttl.
func (a *AuthMiddleware) GenerateToken(user dncsvc.User, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
		Username: user.Username,
		Email:    user.Email,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *AuthMiddleware) parse(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithIssuer(a.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, stderrors.New("invalid token claims")
	}
	if claims.Subject == "" {
		return nil, stderrors.New("token has no subject")
	}
	return claims, nil
}

func extractBearer(header string) (string, error) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", stderrors.New("invalid authorization header format")
	}
	return strings.TrimSpace(parts[1]), nil
}

// WithUser returns ctx carrying user.
func WithUser(ctx context.Context, user *dncsvc.User) context.Context {
	return context.WithValue(ctx, contextKeyUser, user)
}

// UserFromContext returns the authenticated user, or nil.
func UserFromContext(ctx context.Context) *dncsvc.User {
	user, _ := ctx.Value(contextKeyUser).(*dncsvc.User)
	return user
}
