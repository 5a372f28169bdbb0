package auth

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	UserIDKey   contextKey = "user_id"
	UserRoleKey contextKey = "user_role"
	EntityIDKey contextKey = "entity_id"
)

const (
	RoleAdmin     = "admin"
	RoleDoctor    = "doctor"
	RoleSecretary = "secretary"
	RolePatient   = "patient"
)

var knownRoles = map[string]bool{
	RoleAdmin: true, RoleDoctor: true, RoleSecretary: true, RolePatient: true,
}

// Claims are issued by the clinic's login service. EntityID is the
// patient_id, doctor_id or secretary_id the account belongs to.
type Claims struct {
	jwt.RegisteredClaims
	Role     string `json:"role"`
	EntityID int64  `json:"entity_id"`
}

type JWTConfig struct {
	Secret []byte
	Issuer string
}

func withIdentity(ctx context.Context, subject, role string, entityID int64) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, subject)
	ctx = context.WithValue(ctx, UserRoleKey, role)
	return context.WithValue(ctx, EntityIDKey, entityID)
}

// JWTMiddleware verifies HS256 bearer tokens and stores the caller's
// identity on the request context.
func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	parser := jwt.NewParser(opts...)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}

			scheme, tokenStr, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(tokenStr) == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			claims := &Claims{}
			token, err := parser.ParseWithClaims(strings.TrimSpace(tokenStr), claims, func(t *jwt.Token) (interface{}, error) {
				return cfg.Secret, nil
			})
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			if !knownRoles[claims.Role] {
				return echo.NewHTTPError(http.StatusForbidden, "unknown role")
			}

			c.SetRequest(c.Request().WithContext(
				withIdentity(c.Request().Context(), claims.Subject, claims.Role, claims.EntityID)))
			return next(c)
		}
	}
}

// DevAuthMiddleware grants admin to every request. X-Dev-Role and
// X-Dev-Entity-ID override the identity for local testing.
func DevAuthMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			role := RoleAdmin
			if r := c.Request().Header.Get("X-Dev-Role"); knownRoles[r] {
				role = r
			}
			entityID, _ := strconv.ParseInt(c.Request().Header.Get("X-Dev-Entity-ID"), 10, 64)

			c.SetRequest(c.Request().WithContext(
				withIdentity(c.Request().Context(), "dev-user", role, entityID)))
			return next(c)
		}
	}
}

func UserIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(UserIDKey).(string)
	return uid
}

func RoleFromContext(ctx context.Context) string {
	role, _ := ctx.Value(UserRoleKey).(string)
	return role
}

func EntityIDFromContext(ctx context.Context) int64 {
	id, _ := ctx.Value(EntityIDKey).(int64)
	return id
}
