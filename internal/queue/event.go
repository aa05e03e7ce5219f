// Package queue defines message payloads exchanged over the message broker.
package queue

import "github.com/iliyamo/dermascan/internal/model"

// AuditDeadLetterQueue receives audit entries that could not be written to
// system_logs on the request path.
const AuditDeadLetterQueue = "audit.deadletter"

// AuditDeadLetter carries one failed audit entry and why it failed, so the
// replay consumer can insert it later without the original request.
type AuditDeadLetter struct {
	Entry    model.AuditEntry `json:"entry"`
	Reason   string           `json:"reason"`
	FailedAt string           `json:"failed_at"`
}
