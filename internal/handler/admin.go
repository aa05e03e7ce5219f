package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/dermascan/internal/middleware"
	"github.com/iliyamo/dermascan/internal/service"
)

// AdminHandler serves the routes behind middleware.RequireAdminAuth.  Every
// method expects the admin to be present in the context.
type AdminHandler struct {
	Admin *service.AdminService
	Log   *zap.Logger
}

func NewAdminHandler(admin *service.AdminService, log *zap.Logger) *AdminHandler {
	return &AdminHandler{Admin: admin, Log: log}
}

type roleChangeReq struct {
	TargetUsername string `json:"target_username"`
}

type listUsersReq struct {
	Limit      int64  `json:"limit"`
	Skip       int64  `json:"skip"`
	RoleFilter string `json:"role_filter"`
}

type auditLogsReq struct {
	UserID       string `json:"user_id"`
	Limit        int64  `json:"limit"`
	ActionFilter string `json:"action_filter"`
	StartDate    string `json:"start_date"`
	EndDate      string `json:"end_date"`
}

type changedUser struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}

func (h *AdminHandler) PromoteUser(c echo.Context) error {
	var req roleChangeReq
	if err := bind(c, &req); err != nil {
		return fail(c, h.Log, err)
	}
	ctx, cancel := withTimeout(c, dbTimeout)
	defer cancel()

	rc, err := h.Admin.Promote(ctx, middleware.Admin(c), req.TargetUsername, middleware.ClientInfo(c))
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"message":       rc.Message,
		"promoted_user": changedUser{Username: rc.Username, Email: rc.Email, Role: rc.Role},
		"promoted_by":   rc.By,
	})
}

func (h *AdminHandler) DemoteUser(c echo.Context) error {
	var req roleChangeReq
	if err := bind(c, &req); err != nil {
		return fail(c, h.Log, err)
	}
	ctx, cancel := withTimeout(c, dbTimeout)
	defer cancel()

	rc, err := h.Admin.Demote(ctx, middleware.Admin(c), req.TargetUsername, middleware.ClientInfo(c))
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"message":      rc.Message,
		"demoted_user": changedUser{Username: rc.Username, Email: rc.Email, Role: rc.Role},
		"demoted_by":   rc.By,
	})
}

func (h *AdminHandler) ListUsers(c echo.Context) error {
	var req listUsersReq
	if err := bind(c, &req); err != nil {
		return fail(c, h.Log, err)
	}
	ctx, cancel := withTimeout(c, dbTimeout)
	defer cancel()

	page, err := h.Admin.ListUsers(ctx, middleware.Admin(c), req.RoleFilter, req.Skip, req.Limit, middleware.ClientInfo(c))
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, page)
}

func (h *AdminHandler) AuditLogs(c echo.Context) error {
	var req auditLogsReq
	if err := bind(c, &req); err != nil {
		return fail(c, h.Log, err)
	}
	ctx, cancel := withTimeout(c, dbTimeout)
	defer cancel()

	page, err := h.Admin.AuditLogs(ctx, middleware.Admin(c), service.AuditQuery{
		UserID: req.UserID,
		Action: req.ActionFilter,
		Start:  req.StartDate,
		End:    req.EndDate,
		Limit:  req.Limit,
	}, middleware.ClientInfo(c))
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, page)
}

func (h *AdminHandler) AuditStats(c echo.Context) error {
	ctx, cancel := withTimeout(c, dbTimeout)
	defer cancel()

	st, err := h.Admin.AuditStats(ctx, middleware.Admin(c), middleware.ClientInfo(c))
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, st)
}
