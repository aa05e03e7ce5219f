package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/iliyamo/dermascan/internal/apperr"
	"github.com/iliyamo/dermascan/internal/model"
	"github.com/iliyamo/dermascan/internal/repository"
)

// AdminService implements the operations behind the admin gate.  Every
// method takes the already-authorized caller.
type AdminService struct {
	users UserStore
	logs  AuditStore
	audit Auditor
	now   func() time.Time
}

func NewAdminService(users UserStore, logs AuditStore, audit Auditor) *AdminService {
	return &AdminService{users: users, logs: logs, audit: audit, now: time.Now}
}

// RoleChange describes the outcome of a promote or demote.
type RoleChange struct {
	Message  string
	Username string
	Email    string
	Role     string
	By       string
}

func (s *AdminService) target(ctx context.Context, username string) (*model.User, error) {
	if username == "" {
		return nil, apperr.Validation("Target username required")
	}
	u, err := s.users.GetByUsername(ctx, normalize(username))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("Target user not found")
	}
	if err != nil {
		return nil, apperr.Internal("Failed to load target user", err)
	}
	return u, nil
}

// Promote grants the admin role to targetUsername.
func (s *AdminService) Promote(ctx context.Context, caller *model.User, targetUsername string, client model.ClientInfo) (RoleChange, error) {
	u, err := s.target(ctx, targetUsername)
	if err != nil {
		return RoleChange{}, err
	}
	if u.IsAdmin() {
		return RoleChange{}, apperr.Validation("User is already an admin")
	}
	if err := s.users.SetRole(ctx, u.ID, model.RoleAdmin); err != nil {
		return RoleChange{}, apperr.Internal("Failed to promote user", err)
	}
	s.audit.Record(ctx, model.ActionUserPromoted, u.ID.Hex(), map[string]any{
		"promoted_by":     caller.Username,
		"promoted_by_id":  caller.ID.Hex(),
		"target_username": u.Username,
		"target_email":    u.Email,
	}, client)
	return RoleChange{
		Message:  fmt.Sprintf("User %s promoted to admin successfully", u.Username),
		Username: u.Username,
		Email:    u.Email,
		Role:     model.RoleAdmin,
		By:       caller.Username,
	}, nil
}

// Demote returns targetUsername to the user role.  Admins cannot demote
// themselves.
func (s *AdminService) Demote(ctx context.Context, caller *model.User, targetUsername string, client model.ClientInfo) (RoleChange, error) {
	u, err := s.target(ctx, targetUsername)
	if err != nil {
		return RoleChange{}, err
	}
	if !u.IsAdmin() {
		return RoleChange{}, apperr.Validation("User is not an admin")
	}
	if u.ID == caller.ID {
		return RoleChange{}, apperr.Validation("Cannot demote yourself")
	}
	if err := s.users.SetRole(ctx, u.ID, model.RoleUser); err != nil {
		return RoleChange{}, apperr.Internal("Failed to demote user", err)
	}
	s.audit.Record(ctx, model.ActionUserDemoted, u.ID.Hex(), map[string]any{
		"demoted_by":      caller.Username,
		"demoted_by_id":   caller.ID.Hex(),
		"target_username": u.Username,
		"target_email":    u.Email,
	}, client)
	return RoleChange{
		Message:  fmt.Sprintf("User %s demoted to regular user successfully", u.Username),
		Username: u.Username,
		Email:    u.Email,
		Role:     model.RoleUser,
		By:       caller.Username,
	}, nil
}

// UserPage is one page of the user listing.
type UserPage struct {
	Users       []model.Profile `json:"users"`
	TotalCount  int64           `json:"total_count"`
	CurrentPage int64           `json:"current_page"`
	TotalPages  int64           `json:"total_pages"`
	AccessedBy  string          `json:"accessed_by"`
}

// ListUsers pages through users, newest first.  limit defaults to 50.
func (s *AdminService) ListUsers(ctx context.Context, caller *model.User, role string, skip, limit int64, client model.ClientInfo) (UserPage, error) {
	if limit <= 0 {
		limit = 50
	}
	if skip < 0 {
		skip = 0
	}
	users, total, err := s.users.List(ctx, role, skip, limit)
	if err != nil {
		return UserPage{}, apperr.Internal("Failed to list users", err)
	}
	profiles := make([]model.Profile, 0, len(users))
	for i := range users {
		profiles = append(profiles, users[i].Profile())
	}
	filter := map[string]any{}
	if role != "" {
		filter["role"] = role
	}
	s.audit.Record(ctx, model.ActionUserListAccessed, caller.ID.Hex(), map[string]any{
		"accessed_by":    caller.Username,
		"filter_applied": filter,
		"results_count":  len(profiles),
		"total_users":    total,
	}, client)
	return UserPage{
		Users:       profiles,
		TotalCount:  total,
		CurrentPage: skip/limit + 1,
		TotalPages:  int64(math.Ceil(float64(total) / float64(limit))),
		AccessedBy:  caller.Username,
	}, nil
}

// AuditQuery is the admin audit log search.  Dates are RFC 3339 or
// YYYY-MM-DD; empty means unbounded.
type AuditQuery struct {
	UserID string
	Action string
	Start  string
	End    string
	Limit  int64
}

type AuditLogPage struct {
	Logs         []model.AuditEntry `json:"logs"`
	TotalCount   int                `json:"total_count"`
	TotalMatches int64              `json:"total_matches"`
	QueryFilters map[string]any     `json:"query_filters"`
	AccessedBy   string             `json:"accessed_by"`
}

// AuditLogs returns matching entries newest first.  limit defaults to 100.
func (s *AdminService) AuditLogs(ctx context.Context, caller *model.User, q AuditQuery, client model.ClientInfo) (AuditLogPage, error) {
	if q.Limit <= 0 {
		q.Limit = 100
	}
	f := model.AuditFilter{UserID: q.UserID, Action: q.Action}
	filters := map[string]any{}
	if q.UserID != "" {
		filters["user_id"] = q.UserID
	}
	if q.Action != "" {
		filters["action"] = q.Action
	}
	var err error
	if q.Start != "" {
		if f.Since, err = parseDate(q.Start); err != nil {
			return AuditLogPage{}, apperr.Validation("Invalid start_date")
		}
		filters["start_date"] = f.Since
	}
	if q.End != "" {
		if f.Until, err = parseDate(q.End); err != nil {
			return AuditLogPage{}, apperr.Validation("Invalid end_date")
		}
		filters["end_date"] = f.Until
	}

	logs, total, err := s.logs.Find(ctx, f, q.Limit)
	if err != nil {
		return AuditLogPage{}, apperr.Internal("Failed to query audit logs", err)
	}
	s.audit.Record(ctx, model.ActionAuditLogsAccessed, caller.ID.Hex(), map[string]any{
		"query_filters": filters,
		"results_count": len(logs),
		"accessed_by":   caller.Username,
	}, client)
	return AuditLogPage{
		Logs:         logs,
		TotalCount:   len(logs),
		TotalMatches: total,
		QueryFilters: filters,
		AccessedBy:   caller.Username,
	}, nil
}

type AuditStatsView struct {
	model.AuditStats
	AccessedBy string `json:"accessed_by"`
}

// AuditStats summarizes the audit log by action.
func (s *AdminService) AuditStats(ctx context.Context, caller *model.User, client model.ClientInfo) (AuditStatsView, error) {
	st, err := s.logs.Stats(ctx, s.now().Add(-24*time.Hour))
	if err != nil {
		return AuditStatsView{}, apperr.Internal("Failed to compute audit stats", err)
	}
	s.audit.Record(ctx, model.ActionAuditStatsAccessed, caller.ID.Hex(), map[string]any{
		"accessed_by": caller.Username,
		"total_logs":  st.TotalLogs,
		"stats_count": len(st.ActionBreakdown),
	}, client)
	return AuditStatsView{AuditStats: st, AccessedBy: caller.Username}, nil
}

// parseDate accepts RFC 3339 timestamps and bare dates.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}
