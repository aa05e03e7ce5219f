package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/dermascan/internal/middleware"
	"github.com/iliyamo/dermascan/internal/service"
)

// AuthHandler serves registration, login and session endpoints.
type AuthHandler struct {
	Auth *service.AuthService
	Log  *zap.Logger
}

func NewAuthHandler(auth *service.AuthService, log *zap.Logger) *AuthHandler {
	return &AuthHandler{Auth: auth, Log: log}
}

// ----- DTOs -----

type registerReq struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

type loginReq struct {
	UsernameOrEmail string `json:"usernameOrEmail"`
	Password        string `json:"password"`
}

type tokenReq struct {
	Token string `json:"token"`
}

type userReq struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

type registerResp struct {
	Message string `json:"message"`
	service.Registered
}

type loginResp struct {
	Message string `json:"message"`
	service.Session
}

type sessionResp struct {
	Message string `json:"message"`
	service.SessionInfo
}

// Register creates an account with role "user".
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerReq
	if err := bind(c, &req); err != nil {
		return fail(c, h.Log, err)
	}
	ctx, cancel := withTimeout(c, dbTimeout)
	defer cancel()

	out, err := h.Auth.Register(ctx, service.RegisterInput{
		Username:  req.Username,
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	}, middleware.ClientInfo(c))
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, registerResp{Message: "Registration successful", Registered: out})
}

// Login exchanges credentials for a bearer token.  The plaintext token is
// returned exactly once.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := bind(c, &req); err != nil {
		return fail(c, h.Log, err)
	}
	ctx, cancel := withTimeout(c, dbTimeout)
	defer cancel()

	sess, err := h.Auth.Login(ctx, req.UsernameOrEmail, req.Password, middleware.ClientInfo(c))
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, loginResp{Message: "Login successful", Session: sess})
}

func (h *AuthHandler) CheckSession(c echo.Context) error {
	var req tokenReq
	if err := bind(c, &req); err != nil {
		return fail(c, h.Log, err)
	}
	ctx, cancel := withTimeout(c, dbTimeout)
	defer cancel()

	info, err := h.Auth.CheckSession(ctx, req.Token, middleware.ClientInfo(c))
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, sessionResp{Message: "Session valid", SessionInfo: info})
}

func (h *AuthHandler) Profile(c echo.Context) error {
	var req userReq
	if err := bind(c, &req); err != nil {
		return fail(c, h.Log, err)
	}
	ctx, cancel := withTimeout(c, dbTimeout)
	defer cancel()

	p, err := h.Auth.Profile(ctx, req.UserID, middleware.ClientInfo(c))
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, p)
}

// LogLogout only records the event; the token stays valid until expiry.
func (h *AuthHandler) LogLogout(c echo.Context) error {
	var req userReq
	if err := bind(c, &req); err != nil {
		return fail(c, h.Log, err)
	}
	ctx, cancel := withTimeout(c, dbTimeout)
	defer cancel()

	if err := h.Auth.LogLogout(ctx, req.UserID, req.Username, middleware.ClientInfo(c)); err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "Logout logged successfully"})
}
