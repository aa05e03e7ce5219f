package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/dermascan/internal/metrics"
	"github.com/iliyamo/dermascan/internal/model"
)

// AuditSink persists audit entries.
type AuditSink interface {
	Insert(ctx context.Context, e *model.AuditEntry) error
}

// DeadLetterPublisher receives entries the sink rejected.
type DeadLetterPublisher interface {
	PublishAuditDeadLetter(ctx context.Context, entry model.AuditEntry, reason string) error
}

// auditWriteTimeout bounds one audit insert.  The write is detached from the
// request context so a client disconnect does not drop the entry.
const auditWriteTimeout = 3 * time.Second

// AuditRecorder writes one system_logs document per call.  Record never
// returns an error: a failed write is logged, counted, and handed to the
// dead-letter publisher for replay.
type AuditRecorder struct {
	sink AuditSink
	dead DeadLetterPublisher
	log  *zap.Logger
	env  string
	now  func() time.Time
}

// NewAuditRecorder returns a recorder.  dead may be nil.
func NewAuditRecorder(sink AuditSink, dead DeadLetterPublisher, log *zap.Logger, env string) *AuditRecorder {
	return &AuditRecorder{sink: sink, dead: dead, log: log, env: env, now: time.Now}
}

// Record builds and writes an audit entry for action.  userID may be empty
// for anonymous events.
func (r *AuditRecorder) Record(ctx context.Context, action model.AuditAction, userID string, details map[string]any, client model.ClientInfo) {
	entry := r.entry(action, userID, details, client)

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditWriteTimeout)
	defer cancel()
	err := r.sink.Insert(wctx, &entry)
	if err == nil {
		return
	}

	metrics.AuditWriteFailures.WithLabelValues(entry.Action).Inc()
	r.log.Error("audit write failed",
		zap.String("action", entry.Action),
		zap.Stringp("user_id", entry.UserID),
		zap.Error(err))
	if r.dead == nil {
		return
	}
	if perr := r.dead.PublishAuditDeadLetter(wctx, entry, err.Error()); perr != nil {
		r.log.Error("audit dead-letter publish failed", zap.String("action", entry.Action), zap.Error(perr))
	}
}

// RecordSystem records an action named in snake_case by normalizing it to
// the upper-case form used by every other entry.
func (r *AuditRecorder) RecordSystem(ctx context.Context, userID, action string, details map[string]any) {
	r.Record(ctx, model.AuditAction(strings.ToUpper(action)), userID, details, model.ClientInfo{})
}

func (r *AuditRecorder) entry(action model.AuditAction, userID string, details map[string]any, client model.ClientInfo) model.AuditEntry {
	if details == nil {
		details = map[string]any{}
	}
	now := r.now().UTC()
	e := model.AuditEntry{
		Timestamp:       now,
		Action:          string(action),
		IPAddress:       client.IP,
		UserAgent:       client.UserAgent,
		Browser:         BrowserLabel(client.UserAgent),
		Details:         details,
		Success:         true,
		ServerTimestamp: now.Format(time.RFC3339Nano),
		Environment:     r.env,
	}
	if userID != "" {
		e.UserID = &userID
	}
	if s, ok := details["session_id"].(string); ok && s != "" {
		e.SessionID = &s
	}
	if ok, isBool := details["success"].(bool); isBool {
		e.Success = ok
	}
	if s, ok := details["error_message"].(string); ok && s != "" {
		e.ErrorMessage = &s
	}
	return e
}

// BrowserLabel derives a coarse browser name from a user agent.  The first
// match in the order Chrome, Firefox, Safari, Edge, Opera wins; Safari only
// counts when the agent does not also claim Chrome.
func BrowserLabel(ua string) string {
	switch {
	case ua == "":
		return "Unknown"
	case strings.Contains(ua, "Chrome"):
		return "Chrome"
	case strings.Contains(ua, "Firefox"):
		return "Firefox"
	case strings.Contains(ua, "Safari"):
		return "Safari"
	case strings.Contains(ua, "Edge"):
		return "Edge"
	case strings.Contains(ua, "Opera"):
		return "Opera"
	}
	return "Unknown"
}

// failure returns details with success=false and error_message set.
func failure(msg string, details map[string]any) map[string]any {
	if details == nil {
		details = map[string]any{}
	}
	details["success"] = false
	details["error_message"] = msg
	return details
}
