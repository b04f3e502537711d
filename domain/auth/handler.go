package auth

import (
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	"github.com/storyslip/storyslip-server/pkg/apperrors"
	"github.com/storyslip/storyslip-server/pkg/logger"
	"github.com/storyslip/storyslip-server/utils"
)

type Handler struct {
	db  *sqlx.DB
	log logger.Logger
}

func NewHandler(db *sqlx.DB, log logger.Logger) *Handler {
	return &Handler{db: db, log: log}
}

// LoginHandler authenticates a management user and issues a session token.
// POST /auth/login
//
// Bad email and bad password produce the same error, so the endpoint does
// not confirm which accounts exist.
func (h *Handler) LoginHandler(c echo.Context) error {
	req := new(LoginRequest)
	if err := c.Bind(req); err != nil {
		return apperrors.NewBadRequest(apperrors.ErrCodeInvalidInput, "Invalid request body")
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		return apperrors.NewBadRequest(apperrors.ErrCodeMissingField, "Email and password are required")
	}

	var user User
	err := h.db.GetContext(c.Request().Context(), &user,
		`SELECT id, email, name, password_hash, created_at, last_login_at
		 FROM users WHERE email = $1`, email)
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.NewUnauthorized(apperrors.ErrCodeBadLogin, "Invalid email or password")
	}
	if err != nil {
		return apperrors.NewInternal(apperrors.ErrCodeDatabaseError, "failed to look up user", err)
	}

	if !utils.CheckPasswordHash(req.Password, user.PasswordHash) {
		return apperrors.NewUnauthorized(apperrors.ErrCodeBadLogin, "Invalid email or password")
	}

	token, err := utils.GenerateJWT(user.ID, user.Email)
	if err != nil {
		return apperrors.NewInternal(apperrors.ErrCodeUnexpectedError, "failed to issue token", err)
	}

	if _, err := h.db.ExecContext(c.Request().Context(),
		`UPDATE users SET last_login_at = NOW() WHERE id = $1`, user.ID); err != nil {
		h.log.Warn("failed to record login time", logger.Err(err), logger.Int64("user_id", user.ID))
	}

	return c.JSON(http.StatusOK, LoginResponse{Token: token, User: &user})
}

// MeHandler returns the authenticated user.
// GET /auth/me
func (h *Handler) MeHandler(c echo.Context) error {
	userID, err := utils.UserIDFromContext(c)
	if err != nil {
		return err
	}

	var user User
	err = h.db.GetContext(c.Request().Context(), &user,
		`SELECT id, email, name, password_hash, created_at, last_login_at
		 FROM users WHERE id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.NewUnauthorized(apperrors.ErrCodeTokenInvalid, "Account no longer exists")
	}
	if err != nil {
		return apperrors.NewInternal(apperrors.ErrCodeDatabaseError, "failed to look up user", err)
	}
	return c.JSON(http.StatusOK, &user)
}
