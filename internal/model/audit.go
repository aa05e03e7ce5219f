package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// AuditAction names an audited event.  The constants below are the actions
// this server emits; the set stays open so maintenance tooling and future
// features can record their own actions without a schema change.
type AuditAction string

const (
	ActionUserRegistration       AuditAction = "USER_REGISTRATION"
	ActionUserRegistrationFailed AuditAction = "USER_REGISTRATION_FAILED"
	ActionUserLoginSuccess       AuditAction = "USER_LOGIN_SUCCESS"
	ActionUserLoginFailed        AuditAction = "USER_LOGIN_FAILED"
	ActionSessionCheckFailed     AuditAction = "SESSION_CHECK_FAILED"
	ActionUserLogout             AuditAction = "USER_LOGOUT"
	ActionProfileAccessed        AuditAction = "USER_PROFILE_ACCESSED"

	ActionImageUpload               AuditAction = "IMAGE_UPLOAD"
	ActionGradcamUpload             AuditAction = "GRADCAM_UPLOAD"
	ActionGradcamGenerated          AuditAction = "GRADCAM_GENERATED"
	ActionPredictionMade            AuditAction = "PREDICTION_MADE"
	ActionPredictionHistoryAccessed AuditAction = "PREDICTION_HISTORY_ACCESSED"
	ActionSummaryGenerated          AuditAction = "LLM_SUMMARY_GENERATED"
	ActionFeedbackSubmitted         AuditAction = "FEEDBACK_SUBMITTED"

	ActionAdminAccessGranted  AuditAction = "ADMIN_ACCESS_GRANTED"
	ActionAdminAccessDenied   AuditAction = "ADMIN_ACCESS_DENIED"
	ActionAdminUserCreated    AuditAction = "ADMIN_USER_CREATED"
	ActionUserPromoted        AuditAction = "USER_PROMOTED_TO_ADMIN"
	ActionUserDemoted         AuditAction = "USER_DEMOTED_FROM_ADMIN"
	ActionUserListAccessed    AuditAction = "ADMIN_USER_LIST_ACCESSED"
	ActionAuditLogsAccessed   AuditAction = "AUDIT_LOGS_ACCESSED"
	ActionAuditStatsAccessed  AuditAction = "AUDIT_STATS_ACCESSED"
	ActionFeedbackAnalytics   AuditAction = "FEEDBACK_ANALYTICS_ACCESSED"
	ActionUsernamesBackfilled AuditAction = "USERNAMES_BACKFILLED"
)

// ClientInfo describes the caller of a request as seen by the audit log.
type ClientInfo struct {
	IP        string
	UserAgent string
}

// SystemClient is used for events raised by maintenance tooling rather than
// an HTTP request.
var SystemClient = ClientInfo{IP: "system", UserAgent: "system"}

// AuditEntry is a document in the append-only `system_logs` collection.
type AuditEntry struct {
	ID              primitive.ObjectID `bson:"_id,omitempty" json:"_id"`
	Timestamp       time.Time          `bson:"timestamp" json:"timestamp"`
	Action          string             `bson:"action" json:"action"`
	UserID          *string            `bson:"user_id" json:"user_id"`
	IPAddress       string             `bson:"ip_address" json:"ip_address"`
	UserAgent       string             `bson:"user_agent" json:"user_agent"`
	Browser         string             `bson:"browser" json:"browser"`
	Details         map[string]any     `bson:"details" json:"details"`
	SessionID       *string            `bson:"session_id" json:"session_id"`
	Success         bool               `bson:"success" json:"success"`
	ErrorMessage    *string            `bson:"error_message" json:"error_message"`
	ServerTimestamp string             `bson:"server_timestamp" json:"server_timestamp"`
	Environment     string             `bson:"environment" json:"environment"`
}

// AuditFilter narrows an audit log query.  Zero values mean "no filter".
type AuditFilter struct {
	UserID string
	Action string
	Since  time.Time
	Until  time.Time
}

// ActionCount is one row of the audit statistics.
type ActionCount struct {
	Action         string    `bson:"_id" json:"_id"`
	Count          int64     `bson:"count" json:"count"`
	LastOccurrence time.Time `bson:"last_occurrence" json:"last_occurrence"`
}

// AuditStats aggregates the audit log for the admin dashboard.
type AuditStats struct {
	ActionBreakdown []ActionCount `json:"action_breakdown"`
	TotalLogs       int64         `json:"total_logs"`
	LogsLast24h     int64         `json:"logs_last_24h"`
}
