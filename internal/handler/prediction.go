package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/dermascan/internal/apperr"
	"github.com/iliyamo/dermascan/internal/middleware"
	"github.com/iliyamo/dermascan/internal/service"
)

// maxUploadBytes caps a single multipart image.
const maxUploadBytes = 20 << 20

// PredictionHandler serves image uploads, prediction storage and Grad-CAM.
type PredictionHandler struct {
	Predictions *service.PredictionService
	Log         *zap.Logger
}

func NewPredictionHandler(p *service.PredictionService, log *zap.Logger) *PredictionHandler {
	return &PredictionHandler{Predictions: p, Log: log}
}

type predictionIDReq struct {
	PredictionID string `json:"prediction_id"`
	GradcamURI   string `json:"gradcam_uri"`
}

func (h *PredictionHandler) Store(c echo.Context) error {
	var in service.StoreInput
	if err := bind(c, &in); err != nil {
		return fail(c, h.Log, err)
	}
	ctx, cancel := withTimeout(c, dbTimeout)
	defer cancel()

	st, err := h.Predictions.Store(ctx, in, middleware.ClientInfo(c))
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"message":       "Stored prediction and image",
		"image_id":      st.ImageID,
		"prediction_id": st.PredictionID,
	})
}

// History returns every prediction of the user in the body.
func (h *PredictionHandler) History(c echo.Context) error {
	var req userReq
	if err := bind(c, &req); err != nil {
		return fail(c, h.Log, err)
	}
	ctx, cancel := withTimeout(c, dbTimeout)
	defer cancel()

	recs, err := h.Predictions.History(ctx, req.UserID, middleware.ClientInfo(c))
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"predictions": recs})
}

// Recent serves GET /api/predictions/recent/:userId?limit=.
func (h *PredictionHandler) Recent(c echo.Context) error {
	limit, _ := strconv.ParseInt(c.QueryParam("limit"), 10, 64)
	ctx, cancel := withTimeout(c, dbTimeout)
	defer cancel()

	recs, err := h.Predictions.Recent(ctx, c.Param("userId"), limit)
	if err != nil {
		return apiFail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "predictions": recs, "total": len(recs)})
}

func (h *PredictionHandler) UpdateGradcamURI(c echo.Context) error {
	var req predictionIDReq
	if err := bind(c, &req); err != nil {
		return fail(c, h.Log, err)
	}
	ctx, cancel := withTimeout(c, dbTimeout)
	defer cancel()

	if err := h.Predictions.UpdateGradcamURI(ctx, req.PredictionID, req.GradcamURI); err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "gradcam_uri updated"})
}

// GenerateGradcam renders a Grad-CAM overlay for a stored prediction.
func (h *PredictionHandler) GenerateGradcam(c echo.Context) error {
	var req predictionIDReq
	if err := bind(c, &req); err != nil {
		return fail(c, h.Log, err)
	}
	ctx, cancel := withTimeout(c, upstreamTimeout)
	defer cancel()

	url, err := h.Predictions.GenerateGradcam(ctx, req.PredictionID, middleware.ClientInfo(c))
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"gradcam_url": url})
}

func (h *PredictionHandler) UploadImage(c echo.Context) error {
	f, err := formUpload(c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	ctx, cancel := withTimeout(c, upstreamTimeout)
	defer cancel()

	url, err := h.Predictions.UploadImage(ctx, uploaderID(c), f, middleware.ClientInfo(c))
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"url": url})
}

// UploadGradcam stores a client-rendered overlay and, when prediction_id is
// given, points the prediction at it.
func (h *PredictionHandler) UploadGradcam(c echo.Context) error {
	f, err := formUpload(c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	ctx, cancel := withTimeout(c, upstreamTimeout)
	defer cancel()

	url, updated, err := h.Predictions.UploadGradcam(ctx, uploaderID(c), c.FormValue("prediction_id"), f, middleware.ClientInfo(c))
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"url": url, "gradcam_uri_updated": updated})
}

func uploaderID(c echo.Context) string {
	if id := c.FormValue("user_id"); id != "" {
		return id
	}
	return c.Request().Header.Get("X-User-Id")
}

func formUpload(c echo.Context) (service.Upload, error) {
	fh, err := c.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return service.Upload{}, apperr.Validation("No file uploaded")
	}
	if err != nil {
		return service.Upload{}, apperr.Validation("Invalid multipart body")
	}
	if fh.Size > maxUploadBytes {
		return service.Upload{}, apperr.Validation("File too large")
	}
	src, err := fh.Open()
	if err != nil {
		return service.Upload{}, apperr.Internal("Failed to read upload", err)
	}
	defer src.Close()
	data, err := io.ReadAll(src)
	if err != nil {
		return service.Upload{}, apperr.Internal("Failed to read upload", err)
	}
	return service.Upload{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get(echo.HeaderContentType),
		Data:        data,
	}, nil
}
