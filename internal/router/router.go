package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iliyamo/dermascan/internal/handler"
)

// RegisterRoutes registers the operational endpoints: the health check and
// the Prometheus scrape target.
func RegisterRoutes(e *echo.Echo, health echo.HandlerFunc) {
	e.GET("/healthz", health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// RegisterAuth registers the account and session routes.  The credential
// routes sit behind the rate limiter.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, limiter echo.MiddlewareFunc) {
	e.POST("/register", a.Register, limiter)
	e.POST("/login", a.Login, limiter)
	e.POST("/check-session", a.CheckSession)
	e.POST("/get-user-profile", a.Profile)
	e.POST("/log-logout", a.LogLogout)
}

// RegisterPredictions registers uploads, prediction storage and Grad-CAM.
func RegisterPredictions(e *echo.Echo, p *handler.PredictionHandler) {
	e.POST("/upload-image", p.UploadImage)
	e.POST("/upload-gradcam", p.UploadGradcam)
	e.POST("/store-prediction", p.Store)
	e.POST("/get-user-predictions", p.History)
	e.POST("/update-gradcam-uri", p.UpdateGradcamURI)
	e.POST("/generate-gradcam", p.GenerateGradcam)
	e.GET("/api/predictions/recent/:userId", p.Recent)
}

// RegisterAPI registers the /api routes for summaries, chat and feedback.
// Only the derived summary listing is cached; it is read on every page load
// of the timeline and changes only when a prediction is stored.
func RegisterAPI(e *echo.Echo, s *handler.SummaryHandler, cache echo.MiddlewareFunc) {
	g := e.Group("/api")
	g.GET("/llm-summaries", s.PredictionSummaries, cache)
	g.POST("/llm-summaries", s.StoreSummary)
	g.GET("/llm-summaries/:summaryId", s.GetSummary)
	g.GET("/llm-summaries/user/:userId", s.UserSummaries)
	g.POST("/generate-summary", s.Generate)
	g.POST("/chat", s.ChatReply)

	g.POST("/feedback", s.SubmitFeedback)
	g.GET("/feedback", s.ListFeedback)
	g.GET("/feedback/analytics", s.FeedbackAnalytics)
}

// RegisterAdmin registers the admin routes.  gate must be
// middleware.RequireAdminAuth.
func RegisterAdmin(e *echo.Echo, a *handler.AdminHandler, gate echo.MiddlewareFunc) {
	g := e.Group("/admin", gate)
	g.POST("/audit-logs", a.AuditLogs)
	g.GET("/audit-stats", a.AuditStats)
	g.POST("/promote-user", a.PromoteUser)
	g.POST("/demote-user", a.DemoteUser)
	g.POST("/list-users", a.ListUsers)
}
