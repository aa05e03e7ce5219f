package service

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iliyamo/dermascan/internal/metrics"
	"github.com/iliyamo/dermascan/internal/model"
	"github.com/iliyamo/dermascan/internal/service/servicetest"
)

func TestAuditRecordBuildsEntry(t *testing.T) {
	sink := &servicetest.AuditLog{}
	r := NewAuditRecorder(sink, nil, zap.NewNop(), "test")

	r.Record(context.Background(), model.ActionUserLoginFailed, "u1", map[string]any{
		"session_id":    "abc",
		"success":       false,
		"error_message": "Invalid password",
	}, testClient)

	require.Len(t, sink.Entries, 1)
	e := sink.Entries[0]
	assert.Equal(t, "USER_LOGIN_FAILED", e.Action)
	assert.Equal(t, "u1", *e.UserID)
	assert.Equal(t, "abc", *e.SessionID)
	assert.False(t, e.Success)
	assert.Equal(t, "Invalid password", *e.ErrorMessage)
	assert.Equal(t, "Chrome", e.Browser)
	assert.Equal(t, "203.0.113.7", e.IPAddress)
	assert.Equal(t, "test", e.Environment)
	assert.NotEmpty(t, e.ServerTimestamp)
}

func TestAuditRecordDefaults(t *testing.T) {
	sink := &servicetest.AuditLog{}
	r := NewAuditRecorder(sink, nil, zap.NewNop(), "test")

	r.Record(context.Background(), model.ActionImageUpload, "", nil, model.ClientInfo{})

	e := sink.Entries[0]
	assert.Nil(t, e.UserID)
	assert.Nil(t, e.SessionID)
	assert.Nil(t, e.ErrorMessage)
	assert.True(t, e.Success)
	assert.Equal(t, "Unknown", e.Browser)
	assert.NotNil(t, e.Details)
}

func TestAuditFailureGoesToDeadLetter(t *testing.T) {
	sink := &servicetest.AuditLog{FailNext: 1}
	dead := &servicetest.DeadLetters{}
	r := NewAuditRecorder(sink, dead, zap.NewNop(), "test")
	before := testutil.ToFloat64(metrics.AuditWriteFailures.WithLabelValues("USER_LOGOUT"))

	assert.NotPanics(t, func() {
		r.Record(context.Background(), model.ActionUserLogout, "u1", nil, testClient)
	})

	assert.Empty(t, sink.Entries)
	require.Len(t, dead.Entries, 1)
	assert.Equal(t, "USER_LOGOUT", dead.Entries[0].Action)
	assert.Equal(t, servicetest.ErrInjected.Error(), dead.Reasons[0])
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.AuditWriteFailures.WithLabelValues("USER_LOGOUT")))
}

func TestAuditRecordSurvivesCanceledRequest(t *testing.T) {
	sink := &servicetest.AuditLog{}
	r := NewAuditRecorder(sink, nil, zap.NewNop(), "test")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r.Record(ctx, model.ActionUserLogout, "u1", nil, testClient)
	assert.Len(t, sink.Entries, 1)
}

func TestRecordSystemUppercases(t *testing.T) {
	sink := &servicetest.AuditLog{}
	r := NewAuditRecorder(sink, nil, zap.NewNop(), "test")

	r.RecordSystem(context.Background(), "u1", "feedback_submitted", map[string]any{"feedback_id": "f1"})
	require.Len(t, sink.Entries, 1)
	assert.Equal(t, "FEEDBACK_SUBMITTED", sink.Entries[0].Action)
}

func TestBrowserLabel(t *testing.T) {
	cases := []struct{ ua, want string }{
		{"", "Unknown"},
		{"Mozilla/5.0 (Windows NT 10.0) AppleWebKit/537.36 Chrome/120.0 Safari/537.36", "Chrome"},
		{"Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0", "Firefox"},
		{"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_2) AppleWebKit/605.1.15 Version/17.2 Safari", "Safari"},
		{"Mozilla/5.0 Edge/18.19045", "Edge"},
		{"Opera/9.80 (Windows NT 6.1)", "Opera"},
		{"curl/8.4.0", "Unknown"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, BrowserLabel(tc.ua), tc.ua)
	}
}
