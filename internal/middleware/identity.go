package middleware

// identity.go holds the context helpers shared by the middleware and the
// handlers.  RequireAdminAuth stores the resolved admin under adminKey; the
// rate limiter and the request log read it back to label the caller.

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/dermascan/internal/model"
)

const adminKey = "admin_user"

// SetAdmin stores the authenticated admin in c.
func SetAdmin(c echo.Context, u *model.User) { c.Set(adminKey, u) }

// Admin returns the admin resolved by RequireAdminAuth, or nil when the
// route is not gated.
func Admin(c echo.Context) *model.User {
	u, _ := c.Get(adminKey).(*model.User)
	return u
}

// userID identifies the caller for rate limit keys and request logs.  It
// returns "anon" when no user is attached to the context.
func userID(c echo.Context) string {
	if u := Admin(c); u != nil {
		return u.ID.Hex()
	}
	return "anon"
}
