package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/iliyamo/dermascan/internal/handler"
	"github.com/iliyamo/dermascan/internal/middleware"
	"github.com/iliyamo/dermascan/internal/model"
	"github.com/iliyamo/dermascan/internal/router"
	"github.com/iliyamo/dermascan/internal/service"
	"github.com/iliyamo/dermascan/internal/service/servicetest"
)

type app struct {
	e           *echo.Echo
	users       *servicetest.Users
	audit       *servicetest.Recorder
	objects     *servicetest.Objects
	images      *servicetest.Images
	predictions *servicetest.Predictions
	completer   *servicetest.Completer
}

func noop(next echo.HandlerFunc) echo.HandlerFunc { return next }

func newApp(t *testing.T) *app {
	t.Helper()
	log := zap.NewNop()
	a := &app{
		e:           echo.New(),
		users:       servicetest.NewUsers(),
		audit:       &servicetest.Recorder{},
		objects:     servicetest.NewObjects(),
		images:      servicetest.NewImages(),
		predictions: servicetest.NewPredictions(),
		completer:   &servicetest.Completer{Reply: `{"summary":"Looks benign"}`},
	}
	authSvc := service.NewAuthService(a.users, servicetest.NewTokens(), a.audit, 24*time.Hour, log)
	adminSvc := service.NewAdminService(a.users, &servicetest.AuditLog{}, a.audit)
	predSvc := service.NewPredictionService(a.images, a.predictions, a.objects, &servicetest.Renderer{}, a.audit, log)
	summarySvc := service.NewSummaryService(&servicetest.Summaries{}, a.images, a.predictions, a.completer, "qwen-turbo", a.audit, log)
	chatSvc := service.NewChatService(a.completer, "qwen-max", log)
	feedbackSvc := service.NewFeedbackService(&servicetest.Feedback{}, authSvc, a.audit, a.audit)

	router.RegisterAuth(a.e, handler.NewAuthHandler(authSvc, log), noop)
	router.RegisterPredictions(a.e, handler.NewPredictionHandler(predSvc, log))
	router.RegisterAPI(a.e, handler.NewSummaryHandler(summarySvc, chatSvc, feedbackSvc, log), noop)
	router.RegisterAdmin(a.e, handler.NewAdminHandler(adminSvc, log), middleware.RequireAdminAuth(authSvc, a.audit, log))
	return a
}

func (a *app) do(t *testing.T, method, path string, body any, header ...string) (int, map[string]any) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	return a.send(t, req)
}

func (a *app) send(t *testing.T, req *http.Request) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	out := map[string]any{}
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec.Code, out
}

func (a *app) register(t *testing.T, username, email string) string {
	t.Helper()
	code, body := a.do(t, http.MethodPost, "/register", map[string]any{
		"username": username, "email": email, "password": "secret1",
	})
	require.Equal(t, http.StatusOK, code, body)
	return body["userId"].(string)
}

func (a *app) login(t *testing.T, who string) string {
	t.Helper()
	code, body := a.do(t, http.MethodPost, "/login", map[string]any{"usernameOrEmail": who, "password": "secret1"})
	require.Equal(t, http.StatusOK, code, body)
	return body["token"].(string)
}

func (a *app) makeAdmin(t *testing.T, id string) {
	t.Helper()
	oid, err := primitive.ObjectIDFromHex(id)
	require.NoError(t, err)
	require.NoError(t, a.users.SetRole(context.Background(), oid, model.RoleAdmin))
}

func TestRegisterLoginAndSession(t *testing.T) {
	a := newApp(t)
	a.register(t, "Alice", "alice@example.com")

	code, body := a.do(t, http.MethodPost, "/register", map[string]any{
		"username": "alice", "email": "other@example.com", "password": "secret1",
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Username already taken", body["error"])

	code, body = a.do(t, http.MethodPost, "/login", map[string]any{"usernameOrEmail": "alice", "password": "wrong!!"})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.NotEmpty(t, body["error"])

	token := a.login(t, "alice@example.com")
	code, body = a.do(t, http.MethodPost, "/check-session", map[string]any{"token": token})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "Session valid", body["message"])
}

func TestRegisterRejectsMalformedBody(t *testing.T) {
	a := newApp(t)
	req := httptest.NewRequest(http.MethodPost, "/register", strings.NewReader("{not json"))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	code, body := a.send(t, req)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Invalid request body", body["error"])
}

func TestAdminPromoteThroughGate(t *testing.T) {
	a := newApp(t)
	bossID := a.register(t, "boss", "boss@example.com")
	a.register(t, "bob", "bob@example.com")

	plain := a.login(t, "bob")
	code, body := a.do(t, http.MethodPost, "/admin/promote-user", map[string]any{"target_username": "bob"},
		echo.HeaderAuthorization, "Bearer "+plain)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "Admin privileges required", body["error"])

	a.makeAdmin(t, bossID)
	token := a.login(t, "boss")
	code, body = a.do(t, http.MethodPost, "/admin/promote-user", map[string]any{"target_username": "bob"},
		echo.HeaderAuthorization, "Bearer "+token)
	require.Equal(t, http.StatusOK, code, body)
	promoted := body["promoted_user"].(map[string]any)
	assert.Equal(t, "bob", promoted["username"])
	assert.Equal(t, model.RoleAdmin, promoted["role"])

	code, body = a.do(t, http.MethodPost, "/admin/promote-user", map[string]any{"target_username": "bob"},
		echo.HeaderAuthorization, "Bearer "+token)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "User is already an admin", body["error"])

	_, ok := a.audit.Last(model.ActionAdminAccessGranted)
	assert.True(t, ok)
}

func TestAdminRequiresToken(t *testing.T) {
	a := newApp(t)
	code, body := a.do(t, http.MethodGet, "/admin/audit-stats", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "Authentication token required", body["error"])
}

func TestStorePrediction(t *testing.T) {
	a := newApp(t)

	code, body := a.do(t, http.MethodPost, "/store-prediction", map[string]any{"user_id": "u1"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Missing required fields", body["error"])

	code, body = a.do(t, http.MethodPost, "/store-prediction", map[string]any{
		"user_id":           "u1",
		"image_uri":         "https://bucket.test/uploads/a.jpg",
		"filename":          "a.jpg",
		"predicted_class":   "nevus",
		"confidence_scores": map[string]any{"nevus": 0.91},
		"model_version":     "v2",
		"gradcam_uri":       "",
	})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "Stored prediction and image", body["message"])
	assert.NotEmpty(t, body["prediction_id"])
	assert.Equal(t, 1, a.predictions.Len())

	code, body = a.do(t, http.MethodGet, "/api/predictions/recent/u1?limit=5", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])
	assert.EqualValues(t, 1, body["total"])
	assert.Len(t, body["predictions"], 1)
}

func TestUpdateGradcamURIMissingPrediction(t *testing.T) {
	a := newApp(t)
	code, body := a.do(t, http.MethodPost, "/update-gradcam-uri", map[string]any{
		"prediction_id": primitive.NewObjectID().Hex(),
		"gradcam_uri":   "https://bucket.test/gradcam/x.jpg",
	})
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "Prediction not found or not updated", body["error"])
}

func multipartRequest(t *testing.T, path string, fields map[string]string, file []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if file != nil {
		fw, err := w.CreateFormFile("file", "mole photo.jpg")
		require.NoError(t, err)
		_, err = fw.Write(file)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	return req
}

func TestUploadImage(t *testing.T) {
	a := newApp(t)

	code, body := a.send(t, multipartRequest(t, "/upload-image", map[string]string{"user_id": "u1"}, nil))
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "No file uploaded", body["error"])

	code, body = a.send(t, multipartRequest(t, "/upload-image", map[string]string{"user_id": "u1"}, []byte("jpegbytes")))
	require.Equal(t, http.StatusOK, code, body)
	assert.True(t, strings.HasPrefix(body["url"].(string), "https://bucket.test/uploads/"))
	require.Len(t, a.objects.Keys(), 1)

	ev, ok := a.audit.Last(model.ActionImageUpload)
	require.True(t, ok)
	assert.Equal(t, "u1", ev.UserID)
}

func TestUploadGradcamWithoutPrediction(t *testing.T) {
	a := newApp(t)
	code, body := a.send(t, multipartRequest(t, "/upload-gradcam", nil, []byte("overlay")))
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, false, body["gradcam_uri_updated"])
}

func TestGenerateSummaryFallback(t *testing.T) {
	a := newApp(t)
	a.completer.Err = errors.New("llm down")

	code, body := a.do(t, http.MethodPost, "/api/generate-summary", map[string]any{
		"mlResults": map[string]any{"predicted_class": "melanoma", "confidence_score": 0.8},
		"userId":    "u1",
	})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, true, body["fallback"])
	assert.Equal(t, "Used fallback summary due to LLM error", body["error"])
	assert.NotEmpty(t, body["summary"])
}

func TestGenerateSummaryStores(t *testing.T) {
	a := newApp(t)
	code, body := a.do(t, http.MethodPost, "/api/generate-summary", map[string]any{
		"mlResults": map[string]any{"predicted_class": "nevus"},
		"userId":    "u1",
	})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, true, body["storedInDatabase"])
	assert.Equal(t, "Looks benign", body["summary"].(map[string]any)["summary"])
}

func TestAPIErrorEnvelope(t *testing.T) {
	a := newApp(t)

	code, body := a.do(t, http.MethodGet, "/api/llm-summaries/not-an-id", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, false, body["success"])
	assert.NotEmpty(t, body["error"])

	code, body = a.do(t, http.MethodPost, "/api/feedback", map[string]any{"user_id": "u1"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Required fields missing: summary_id, user_id, feedback_type", body["error"])
}

func TestFeedbackRoundTrip(t *testing.T) {
	a := newApp(t)
	code, body := a.do(t, http.MethodPost, "/api/feedback", map[string]any{
		"summary_id": "s1", "user_id": "u1", "feedback_type": "helpful", "usefulness_score": 4,
	})
	require.Equal(t, http.StatusOK, code, body)
	assert.NotEmpty(t, body["feedbackId"])

	code, body = a.do(t, http.MethodGet, "/api/feedback?user_id=u1", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, body["totalCount"])

	code, body = a.do(t, http.MethodGet, "/api/feedback/analytics", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "Admin access required", body["error"])

	id := a.register(t, "boss", "boss@example.com")
	a.makeAdmin(t, id)
	token := a.login(t, "boss")
	code, body = a.do(t, http.MethodGet, "/api/feedback/analytics?admin_token="+token, nil)
	require.Equal(t, http.StatusOK, code, body)
	analytics := body["analytics"].(map[string]any)
	assert.EqualValues(t, 1, analytics["totalFeedback"])
}

func TestHealth(t *testing.T) {
	up := handler.PingFunc(func(context.Context) error { return nil })
	down := handler.PingFunc(func(context.Context) error { return errors.New("connection refused") })

	e := echo.New()
	rec := httptest.NewRecorder()
	err := handler.Health(map[string]handler.Pinger{"mongo": up})(e.NewContext(httptest.NewRequest(http.MethodGet, "/healthz", nil), rec))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = httptest.NewRecorder()
	err = handler.Health(map[string]handler.Pinger{"mongo": up, "redis": down})(e.NewContext(httptest.NewRequest(http.MethodGet, "/healthz", nil), rec))
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"redis":"connection refused"`)
}
