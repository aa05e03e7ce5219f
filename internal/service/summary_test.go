package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iliyamo/dermascan/internal/apperr"
	"github.com/iliyamo/dermascan/internal/model"
	"github.com/iliyamo/dermascan/internal/service/servicetest"
)

type summaryFixture struct {
	svc       *SummaryService
	summaries *servicetest.Summaries
	images    *servicetest.Images
	preds     *servicetest.Predictions
	llm       *servicetest.Completer
	audit     *servicetest.Recorder
}

func newSummaryFixture() *summaryFixture {
	f := &summaryFixture{
		summaries: &servicetest.Summaries{},
		images:    servicetest.NewImages(),
		preds:     servicetest.NewPredictions(),
		llm:       &servicetest.Completer{},
		audit:     &servicetest.Recorder{},
	}
	f.svc = NewSummaryService(f.summaries, f.images, f.preds, f.llm, "", f.audit, zap.NewNop())
	return f
}

func TestRiskLevel(t *testing.T) {
	cases := []struct {
		class  string
		scores map[string]any
		want   string
	}{
		{"mel", map[string]any{"mel": 85.0}, "High"},
		{"Melanoma", map[string]any{"a": 61.0}, "Medium-High"},
		{"bcc", map[string]any{"a": 10.0}, "Medium"},
		{"nv", map[string]any{"nv": 95.0}, "Low"},
		{"nv", map[string]any{"nv": "75"}, "Low-Medium"},
		{"df", map[string]any{}, "Medium"},
		{"", nil, "Medium"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, RiskLevel(tc.class, tc.scores), tc.class)
	}
}

func TestMedicalTerms(t *testing.T) {
	assert.Equal(t, []string{"Melanoma", "Malignant melanoma", "Skin cancer"}, MedicalTerms("MEL"))
	assert.Equal(t, []string{"Vascular lesion", "Hemangioma", "Blood vessel lesion"}, MedicalTerms("vasc"))
	assert.Equal(t, []string{"scc"}, MedicalTerms("scc"))
	assert.Empty(t, MedicalTerms(""))
}

func TestStoreSummaryCopiesDerivedFields(t *testing.T) {
	f := newSummaryFixture()
	ctx := context.Background()

	id, err := f.svc.Store(ctx, SummaryInput{
		UserID:          "u1",
		OriginalResults: map[string]any{"predicted_class": "nv", "confidence_scores": map[string]any{"nv": 90.0}},
		LLMSummary:      map[string]any{"interpretation": map[string]any{"risk_level": "low"}},
	})
	require.NoError(t, err)

	got, err := f.svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "nv", got.PredictedClass)
	assert.Equal(t, map[string]any{"nv": 90.0}, got.ConfidenceScore)
	assert.Equal(t, "low", got.RiskLevel)
	assert.Equal(t, "qwen-turbo", got.ModelUsed)
	assert.Equal(t, "1.0", got.Version)
	assert.Nil(t, got.UploadID)
	assert.NotEmpty(t, got.GeneratedAt)

	_, err = f.svc.Store(ctx, SummaryInput{UserID: "u1", OriginalResults: map[string]any{}, LLMSummary: map[string]any{}})
	require.NoError(t, err)
	assert.Equal(t, "unknown", f.summaries.Docs[1].RiskLevel)

	_, err = f.svc.Store(ctx, SummaryInput{UserID: "u1"})
	assert.Equal(t, "Required fields missing: userId, originalResults, llmSummary", err.Error())

	_, err = f.svc.Get(ctx, "65f000000000000000000000")
	assert.Equal(t, "Summary not found", err.Error())

	views, err := f.svc.ListForUser(ctx, "u1", "password_hash", 0)
	require.NoError(t, err)
	assert.Len(t, views, 2)
}

func TestPredictionSummaries(t *testing.T) {
	f := newSummaryFixture()
	ctx := context.Background()
	old := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	for _, ts := range []time.Time{old, recent} {
		id, err := f.images.Insert(ctx, &model.Image{UserID: "u1", Filename: "x.jpg", UploadTimestamp: ts})
		require.NoError(t, err)
		_, err = f.preds.Insert(ctx, &model.Prediction{ImageID: id, PredictedClass: "mel", ConfidenceScores: map[string]any{"mel": 88.0}})
		require.NoError(t, err)
	}

	all, rng, err := f.svc.PredictionSummaries(ctx, "u1", 0, "")
	require.NoError(t, err)
	assert.Equal(t, "all time", rng)
	require.Len(t, all, 2)
	assert.Equal(t, "High", all[0].RiskLevel)
	assert.Equal(t, "skin_lesion_classification", all[0].AnalysisType)
	assert.Equal(t, recent, all[0].UploadTimestamp)

	since, rng, err := f.svc.PredictionSummaries(ctx, "u1", 10, "2025-02-01")
	require.NoError(t, err)
	assert.Equal(t, "since 2025-02-01", rng)
	assert.Len(t, since, 1)

	_, _, err = f.svc.PredictionSummaries(ctx, "", 10, "")
	assert.Equal(t, "User ID required", err.Error())
}

func TestGenerateStoresLLMSummary(t *testing.T) {
	f := newSummaryFixture()
	f.llm.Reply = `{"summary":"looks benign","interpretation":{"risk_level":"low"}}`

	out, err := f.svc.Generate(context.Background(), GenerateInput{
		MLResults: map[string]any{"predicted_class": "nv", "confidence_score": 91.0},
		UserID:    "u1",
		UploadID:  "up1",
	}, testClient)
	require.NoError(t, err)
	assert.False(t, out.Fallback)
	assert.True(t, out.Stored)
	assert.Equal(t, "looks benign", out.Summary["summary"])

	require.Len(t, f.summaries.Docs, 1)
	assert.Equal(t, "low", f.summaries.Docs[0].RiskLevel)
	assert.Equal(t, "up1", *f.summaries.Docs[0].UploadID)

	require.Len(t, f.llm.Requests, 1)
	req := f.llm.Requests[0]
	assert.Equal(t, "qwen-turbo", req.Model)
	assert.InDelta(t, 0.3, req.Temperature, 1e-6)
	assert.Equal(t, 800, req.MaxTokens)
	assert.True(t, req.JSON)
	assert.Contains(t, req.Messages[1].Content, "91.00%")
}

func TestGenerateFallsBackOnLLMError(t *testing.T) {
	f := newSummaryFixture()
	f.llm.Err = errors.New("503")

	out, err := f.svc.Generate(context.Background(), GenerateInput{
		MLResults: map[string]any{"predicted_class": "melanoma", "confidence_score": 85.0},
		UserID:    "u1",
	}, testClient)
	require.NoError(t, err)
	assert.True(t, out.Fallback)
	assert.False(t, out.Stored)
	assert.Empty(t, f.summaries.Docs)
	interp := out.Summary["interpretation"].(map[string]any)
	assert.Equal(t, "high", interp["risk_level"])
}

func TestGenerateReplacesInvalidJSON(t *testing.T) {
	f := newSummaryFixture()
	f.llm.Reply = "Sure! Here is your summary."

	out, err := f.svc.Generate(context.Background(), GenerateInput{
		MLResults: map[string]any{"predicted_class": "nv"},
		UserID:    "u1",
	}, testClient)
	require.NoError(t, err)
	assert.False(t, out.Fallback)
	assert.True(t, out.Stored)
	assert.Equal(t, medicalDisclaimer, out.Summary["medical_disclaimer"])
}

func TestGenerateValidation(t *testing.T) {
	f := newSummaryFixture()
	_, err := f.svc.Generate(context.Background(), GenerateInput{UserID: "u1"}, testClient)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.Equal(t, "ML results and user ID are required", err.Error())
}

func TestFallbackSummary(t *testing.T) {
	s := FallbackSummary(map[string]any{
		"predicted_class": "nevus",
		"confidence_scores": map[string]any{
			"lesion_type":       "Melanocytic nevi",
			"confidence_scores": map[string]any{"Melanocytic nevi": 82.5},
		},
	})
	interp := s["interpretation"].(map[string]any)
	assert.Equal(t, "low", interp["risk_level"])
	assert.Equal(t, "82.50% confidence indicates high certainty in the analysis.", interp["confidence_assessment"])
	assert.Equal(t, []any{"Detected: Melanocytic nevi", "Confidence: 82.50%"}, interp["key_findings"])

	rec := s["recommendations"].(map[string]any)
	assert.Equal(t, "Regular dermatology check-ups as recommended", rec["follow_up"])
	ctxBlock := s["context"].(map[string]any)
	assert.Equal(t, "This appears to be classified as: nevus", ctxBlock["lesion_type_explanation"])
	assert.Equal(t, []any{"High confidence analysis", "Clear imaging quality"}, ctxBlock["reassurance_factors"])

	s = FallbackSummary(map[string]any{"predicted_class": "bkl", "confidence_score": 55.0})
	interp = s["interpretation"].(map[string]any)
	assert.Equal(t, "moderate", interp["risk_level"])
	assert.Equal(t, "55.00% confidence indicates lower certainty in the analysis.", interp["confidence_assessment"])
	assert.Equal(t, []any{"Analysis completed successfully"}, s["context"].(map[string]any)["reassurance_factors"])
}
