package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/dermascan/internal/middleware"
	"github.com/iliyamo/dermascan/internal/model"
	"github.com/iliyamo/dermascan/internal/service"
)

// SummaryHandler serves the /api routes for LLM summaries, chat and
// feedback.  All of them answer with a success flag.
type SummaryHandler struct {
	Summaries *service.SummaryService
	Chat      *service.ChatService
	Feedback  *service.FeedbackService
	Log       *zap.Logger
}

func NewSummaryHandler(s *service.SummaryService, chat *service.ChatService, fb *service.FeedbackService, log *zap.Logger) *SummaryHandler {
	return &SummaryHandler{Summaries: s, Chat: chat, Feedback: fb, Log: log}
}

func queryInt(c echo.Context, name string) int64 {
	n, _ := strconv.ParseInt(c.QueryParam(name), 10, 64)
	return n
}

// PredictionSummaries serves GET /api/llm-summaries: summaries derived from
// the user's stored predictions.
func (h *SummaryHandler) PredictionSummaries(c echo.Context) error {
	userID := c.QueryParam("userId")
	ctx, cancel := withTimeout(c, dbTimeout)
	defer cancel()

	list, timeRange, err := h.Summaries.PredictionSummaries(ctx, userID, queryInt(c, "limit"), c.QueryParam("fromDate"))
	if err != nil {
		return apiFail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"success":    true,
		"summaries":  list,
		"totalCount": len(list),
		"timeRange":  timeRange,
		"userId":     userID,
	})
}

func (h *SummaryHandler) StoreSummary(c echo.Context) error {
	var in service.SummaryInput
	if err := bind(c, &in); err != nil {
		return apiFail(c, h.Log, err)
	}
	ctx, cancel := withTimeout(c, dbTimeout)
	defer cancel()

	id, err := h.Summaries.Store(ctx, in)
	if err != nil {
		return apiFail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"success":   true,
		"summaryId": id,
		"message":   "LLM summary stored successfully",
	})
}

func (h *SummaryHandler) GetSummary(c echo.Context) error {
	ctx, cancel := withTimeout(c, dbTimeout)
	defer cancel()

	s, err := h.Summaries.Get(ctx, c.Param("summaryId"))
	if err != nil {
		return apiFail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "summary": s})
}

func (h *SummaryHandler) UserSummaries(c echo.Context) error {
	userID := c.Param("userId")
	ctx, cancel := withTimeout(c, dbTimeout)
	defer cancel()

	list, err := h.Summaries.ListForUser(ctx, userID, c.QueryParam("sortBy"), queryInt(c, "limit"))
	if err != nil {
		return apiFail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"success":    true,
		"summaries":  list,
		"totalCount": len(list),
		"userId":     userID,
	})
}

// Generate asks the LLM for a summary.  An LLM outage still answers 200
// with the rule-based summary and fallback set.
func (h *SummaryHandler) Generate(c echo.Context) error {
	var in service.GenerateInput
	if err := bind(c, &in); err != nil {
		return apiFail(c, h.Log, err)
	}
	ctx, cancel := withTimeout(c, upstreamTimeout)
	defer cancel()

	out, err := h.Summaries.Generate(ctx, in, middleware.ClientInfo(c))
	if err != nil {
		return apiFail(c, h.Log, err)
	}
	if out.Fallback {
		return c.JSON(http.StatusOK, echo.Map{
			"success":  true,
			"summary":  out.Summary,
			"fallback": true,
			"error":    "Used fallback summary due to LLM error",
		})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"success":          true,
		"summary":          out.Summary,
		"storedInDatabase": out.Stored,
	})
}

func (h *SummaryHandler) ChatReply(c echo.Context) error {
	var in service.ChatInput
	if err := bind(c, &in); err != nil {
		return fail(c, h.Log, err)
	}
	ctx, cancel := withTimeout(c, upstreamTimeout)
	defer cancel()

	reply, err := h.Chat.Reply(ctx, in)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, reply)
}

func (h *SummaryHandler) SubmitFeedback(c echo.Context) error {
	var in service.FeedbackInput
	if err := bind(c, &in); err != nil {
		return apiFail(c, h.Log, err)
	}
	ctx, cancel := withTimeout(c, dbTimeout)
	defer cancel()

	id, err := h.Feedback.Submit(ctx, in)
	if err != nil {
		return apiFail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"success":    true,
		"feedbackId": id,
		"message":    "Feedback submitted successfully",
	})
}

func (h *SummaryHandler) ListFeedback(c echo.Context) error {
	userID := c.QueryParam("user_id")
	ctx, cancel := withTimeout(c, dbTimeout)
	defer cancel()

	list, err := h.Feedback.List(ctx, model.FeedbackFilter{
		UserID:       userID,
		SummaryID:    c.QueryParam("summary_id"),
		FeedbackType: c.QueryParam("feedback_type"),
	}, queryInt(c, "limit"))
	if err != nil {
		return apiFail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"success":    true,
		"feedback":   list,
		"totalCount": len(list),
		"userId":     userID,
	})
}

// FeedbackAnalytics authenticates through the admin_token query parameter
// rather than the admin gate, and answers 401 for every token problem.
func (h *SummaryHandler) FeedbackAnalytics(c echo.Context) error {
	ctx, cancel := withTimeout(c, dbTimeout)
	defer cancel()

	a, err := h.Feedback.Analytics(ctx, c.QueryParam("admin_token"), middleware.ClientInfo(c))
	if err != nil {
		return apiFail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "analytics": a})
}
