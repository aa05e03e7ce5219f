package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/dermascan/internal/model"
	"github.com/iliyamo/dermascan/internal/service"
)

// maxPeekBytes bounds how much of a JSON body the admin gate reads while
// looking for a token.  Larger bodies are refused with 413.
const maxPeekBytes = 1 << 20

var errBodyTooLarge = errors.New("request body too large")

// RequireAdminAuth gates admin routes.  The token is taken from the JSON
// body fields admin_token or token, the admin_token query parameter, or an
// Authorization: Bearer header, in that order.  The role is re-read from
// the users collection on every request.  Both outcomes of the role check
// are audited; the admin is stored in the context for the handler.
func RequireAdminAuth(tokens service.TokenResolver, audit service.Auditor, log *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw, err := adminToken(c)
			if errors.Is(err, errBodyTooLarge) {
				return c.JSON(http.StatusRequestEntityTooLarge, echo.Map{"error": "Request body too large"})
			}
			if raw == "" {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "Authentication token required"})
			}
			ctx := c.Request().Context()
			user, _, err := tokens.ResolveToken(ctx, raw)
			switch {
			case errors.Is(err, service.ErrTokenInvalid):
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "Invalid authentication token"})
			case errors.Is(err, service.ErrTokenExpired):
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "Authentication token expired"})
			case errors.Is(err, service.ErrTokenNoUser):
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "User not found"})
			case err != nil:
				log.Error("admin auth", zap.Error(err))
				return c.JSON(http.StatusInternalServerError, echo.Map{"error": "Authentication error"})
			}

			client := ClientInfo(c)
			endpoint := c.Request().URL.Path
			role := user.Role
			if role == "" {
				role = model.RoleUser
			}
			if !user.IsAdmin() {
				audit.Record(ctx, model.ActionAdminAccessDenied, user.ID.Hex(), map[string]any{
					"attempted_endpoint": endpoint,
					"user_role":          role,
					"reason":             "Insufficient privileges",
				}, client)
				return c.JSON(http.StatusForbidden, echo.Map{"error": "Admin privileges required"})
			}
			audit.Record(ctx, model.ActionAdminAccessGranted, user.ID.Hex(), map[string]any{
				"endpoint":  endpoint,
				"user_role": role,
			}, client)
			SetAdmin(c, user)
			return next(c)
		}
	}
}

func adminToken(c echo.Context) (string, error) {
	tok, err := bodyToken(c.Request())
	if err != nil || tok != "" {
		return tok, err
	}
	if tok := strings.TrimSpace(c.QueryParam("admin_token")); tok != "" {
		return tok, nil
	}
	auth := c.Request().Header.Get(echo.HeaderAuthorization)
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer ")), nil
	}
	return "", nil
}

// bodyToken reads a JSON body and puts it back so the handler can bind it.
// A body over maxPeekBytes yields errBodyTooLarge instead of a truncated copy.
func bodyToken(r *http.Request) (string, error) {
	if r.Body == nil || !strings.HasPrefix(r.Header.Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		return "", nil
	}
	if r.ContentLength > maxPeekBytes {
		return "", errBodyTooLarge
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxPeekBytes+1))
	_ = r.Body.Close()
	if len(data) > maxPeekBytes {
		return "", errBodyTooLarge
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	if err != nil || len(data) == 0 {
		return "", nil
	}
	var fields struct {
		AdminToken string `json:"admin_token"`
		Token      string `json:"token"`
	}
	if json.Unmarshal(data, &fields) != nil {
		return "", nil
	}
	if fields.AdminToken != "" {
		return fields.AdminToken, nil
	}
	return fields.Token, nil
}
