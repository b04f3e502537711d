package utils

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/spf13/viper"
	"github.com/storyslip/storyslip-server/pkg/apperrors"
)

// Claims carried in management-session tokens.
type Claims struct {
	UserID int64  `json:"user_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

func jwtSecret() []byte {
	return []byte(viper.GetString("JWT_SECRET_KEY"))
}

// GenerateJWT mints a session token for the management API.
func GenerateJWT(userID int64, email string) (string, error) {
	ttl := viper.GetInt("JWT_TTL_HOURS")
	if ttl <= 0 {
		ttl = 24
	}

	claims := Claims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Duration(ttl) * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "storyslip-server",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(jwtSecret())
}

// ParseJWT validates a session token and returns its claims.
func ParseJWT(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return jwtSecret(), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// Context keys set by the auth middleware.
const (
	ContextKeyUserID = "user_id"
	ContextKeyEmail  = "user_email"
)

// UserIDFromContext returns the authenticated user's ID, or an
// unauthorized error when the auth middleware has not run.
func UserIDFromContext(c echo.Context) (int64, error) {
	id, ok := c.Get(ContextKeyUserID).(int64)
	if !ok {
		return 0, apperrors.NewUnauthorized(apperrors.ErrCodeTokenInvalid, "Authentication required")
	}
	return id, nil
}
