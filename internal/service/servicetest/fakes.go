// Package servicetest provides in-memory implementations of the service
// ports for tests.
package servicetest

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/iliyamo/dermascan/internal/llm"
	"github.com/iliyamo/dermascan/internal/model"
	"github.com/iliyamo/dermascan/internal/repository"
)

// ErrInjected is returned by fakes configured to fail.
var ErrInjected = errors.New("injected failure")

// Users enforces username and email uniqueness like the unique indexes do.
type Users struct {
	mu   sync.Mutex
	byID map[primitive.ObjectID]model.User
}

func NewUsers() *Users { return &Users{byID: map[primitive.ObjectID]model.User{}} }

func (f *Users) Create(_ context.Context, u *model.User) (primitive.ObjectID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.byID {
		if u.Username != "" && existing.Username == u.Username {
			return primitive.NilObjectID, repository.ErrUsernameExists
		}
		if existing.Email == u.Email {
			return primitive.NilObjectID, repository.ErrEmailExists
		}
	}
	u.ID = primitive.NewObjectID()
	f.byID[u.ID] = *u
	return u.ID, nil
}

func (f *Users) find(match func(model.User) bool) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.byID {
		if match(u) {
			c := u
			return &c, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *Users) GetByUsername(_ context.Context, username string) (*model.User, error) {
	return f.find(func(u model.User) bool { return u.Username != "" && u.Username == username })
}

func (f *Users) GetByEmail(_ context.Context, email string) (*model.User, error) {
	return f.find(func(u model.User) bool { return u.Email == email })
}

func (f *Users) GetByID(_ context.Context, id primitive.ObjectID) (*model.User, error) {
	return f.find(func(u model.User) bool { return u.ID == id })
}

func (f *Users) TouchLastLogin(_ context.Context, id primitive.ObjectID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.LastLogin = &at
	f.byID[id] = u
	return nil
}

func (f *Users) SetRole(_ context.Context, id primitive.ObjectID, role string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.Role = role
	f.byID[id] = u
	return nil
}

func (f *Users) List(_ context.Context, role string, skip, limit int64) ([]model.User, int64, error) {
	f.mu.Lock()
	all := make([]model.User, 0, len(f.byID))
	for _, u := range f.byID {
		if role == "" || u.Role == role {
			all = append(all, u)
		}
	}
	f.mu.Unlock()
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := int64(len(all))
	if skip >= total {
		return []model.User{}, total, nil
	}
	end := skip + limit
	if limit <= 0 || end > total {
		end = total
	}
	return all[skip:end], total, nil
}

func (f *Users) CountAdmins(_ context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, u := range f.byID {
		if u.Role == model.RoleAdmin {
			n++
		}
	}
	return n, nil
}

func (f *Users) WithoutUsername(_ context.Context) ([]model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []model.User{}
	for _, u := range f.byID {
		if u.Username == "" {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func (f *Users) UsernameTaken(ctx context.Context, username string) (bool, error) {
	_, err := f.GetByUsername(ctx, username)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (f *Users) SetUsername(_ context.Context, id primitive.ObjectID, username string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.Username = username
	f.byID[id] = u
	return nil
}

// Put inserts u directly, bypassing uniqueness checks.
func (f *Users) Put(u model.User) primitive.ObjectID {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u.ID.IsZero() {
		u.ID = primitive.NewObjectID()
	}
	f.byID[u.ID] = u
	return u.ID
}

// Tokens is an in-memory auth_tokens collection.
type Tokens struct {
	mu        sync.Mutex
	byHash    map[string]model.AuthToken
	FailStore bool
}

func NewTokens() *Tokens { return &Tokens{byHash: map[string]model.AuthToken{}} }

func (f *Tokens) Store(_ context.Context, t *model.AuthToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailStore {
		return ErrInjected
	}
	if _, dup := f.byHash[t.TokenHash]; dup {
		return repository.ErrConflict
	}
	t.ID = primitive.NewObjectID()
	f.byHash[t.TokenHash] = *t
	return nil
}

func (f *Tokens) GetByHash(_ context.Context, h string) (*model.AuthToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.byHash[h]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &t, nil
}

// Len reports the number of stored tokens.
func (f *Tokens) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.byHash)
}

// Event is one call captured by Recorder.
type Event struct {
	Action  model.AuditAction
	UserID  string
	Details map[string]any
	Client  model.ClientInfo
}

// Recorder captures audit calls.  It implements both Auditor and
// SystemAuditor.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Record(_ context.Context, action model.AuditAction, userID string, details map[string]any, client model.ClientInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{Action: action, UserID: userID, Details: details, Client: client})
}

func (r *Recorder) RecordSystem(ctx context.Context, userID, action string, details map[string]any) {
	r.Record(ctx, model.AuditAction(strings.ToUpper(action)), userID, details, model.ClientInfo{})
}

// Events returns a copy of the captured calls.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Actions lists the captured actions in order.
func (r *Recorder) Actions() []model.AuditAction {
	out := []model.AuditAction{}
	for _, e := range r.Events() {
		out = append(out, e.Action)
	}
	return out
}

// Last returns the most recent event for action.
func (r *Recorder) Last(action model.AuditAction) (Event, bool) {
	ev := r.Events()
	for i := len(ev) - 1; i >= 0; i-- {
		if ev[i].Action == action {
			return ev[i], true
		}
	}
	return Event{}, false
}

// AuditLog is an in-memory system_logs collection.
type AuditLog struct {
	mu       sync.Mutex
	Entries  []model.AuditEntry
	FailNext int
}

func (f *AuditLog) Insert(_ context.Context, e *model.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailNext > 0 {
		f.FailNext--
		return ErrInjected
	}
	e.ID = primitive.NewObjectID()
	f.Entries = append(f.Entries, *e)
	return nil
}

func (f *AuditLog) Find(_ context.Context, q model.AuditFilter, limit int64) ([]model.AuditEntry, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	match := []model.AuditEntry{}
	for _, e := range f.Entries {
		if q.UserID != "" && (e.UserID == nil || *e.UserID != q.UserID) {
			continue
		}
		if q.Action != "" && e.Action != q.Action {
			continue
		}
		if !q.Since.IsZero() && e.Timestamp.Before(q.Since) {
			continue
		}
		if !q.Until.IsZero() && e.Timestamp.After(q.Until) {
			continue
		}
		match = append(match, e)
	}
	sort.SliceStable(match, func(i, j int) bool { return match[i].Timestamp.After(match[j].Timestamp) })
	total := int64(len(match))
	if limit > 0 && int64(len(match)) > limit {
		match = match[:limit]
	}
	return match, total, nil
}

func (f *AuditLog) Stats(_ context.Context, since time.Time) (model.AuditStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := map[string]*model.ActionCount{}
	var st model.AuditStats
	for _, e := range f.Entries {
		c, ok := counts[e.Action]
		if !ok {
			c = &model.ActionCount{Action: e.Action}
			counts[e.Action] = c
		}
		c.Count++
		if e.Timestamp.After(c.LastOccurrence) {
			c.LastOccurrence = e.Timestamp
		}
		st.TotalLogs++
		if !e.Timestamp.Before(since) {
			st.LogsLast24h++
		}
	}
	st.ActionBreakdown = []model.ActionCount{}
	for _, c := range counts {
		st.ActionBreakdown = append(st.ActionBreakdown, *c)
	}
	sort.Slice(st.ActionBreakdown, func(i, j int) bool {
		return st.ActionBreakdown[i].Count > st.ActionBreakdown[j].Count
	})
	return st, nil
}

// DeadLetters captures published dead letters.
type DeadLetters struct {
	mu      sync.Mutex
	Entries []model.AuditEntry
	Reasons []string
}

func (d *DeadLetters) PublishAuditDeadLetter(_ context.Context, e model.AuditEntry, reason string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Entries = append(d.Entries, e)
	d.Reasons = append(d.Reasons, reason)
	return nil
}

// Images is an in-memory images collection.
type Images struct {
	mu      sync.Mutex
	byID    map[primitive.ObjectID]model.Image
	order   []primitive.ObjectID
	Deleted []primitive.ObjectID
}

func NewImages() *Images { return &Images{byID: map[primitive.ObjectID]model.Image{}} }

func (f *Images) Insert(_ context.Context, img *model.Image) (primitive.ObjectID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	img.ID = primitive.NewObjectID()
	f.byID[img.ID] = *img
	f.order = append(f.order, img.ID)
	return img.ID, nil
}

func (f *Images) Delete(_ context.Context, id primitive.ObjectID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.byID, id)
	f.Deleted = append(f.Deleted, id)
	return nil
}

func (f *Images) GetByID(_ context.Context, id primitive.ObjectID) (*model.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	img, ok := f.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &img, nil
}

func (f *Images) ListByUser(_ context.Context, userID string, since time.Time, limit int64) ([]model.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []model.Image{}
	for _, id := range f.order {
		img, ok := f.byID[id]
		if !ok || img.UserID != userID {
			continue
		}
		if !since.IsZero() && img.UploadTimestamp.Before(since) {
			continue
		}
		out = append(out, img)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UploadTimestamp.After(out[j].UploadTimestamp) })
	if limit > 0 && int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Len reports the number of live images.
func (f *Images) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.byID)
}

// Predictions is an in-memory predictions collection.
type Predictions struct {
	mu          sync.Mutex
	byID        map[primitive.ObjectID]model.Prediction
	FailInsert  bool
	FailPatch   bool
	ByIDsCalled int
}

func NewPredictions() *Predictions {
	return &Predictions{byID: map[primitive.ObjectID]model.Prediction{}}
}

func (f *Predictions) Insert(_ context.Context, p *model.Prediction) (primitive.ObjectID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailInsert {
		return primitive.NilObjectID, ErrInjected
	}
	p.ID = primitive.NewObjectID()
	f.byID[p.ID] = *p
	return p.ID, nil
}

func (f *Predictions) GetByID(_ context.Context, id primitive.ObjectID) (*model.Prediction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

func (f *Predictions) ByImageIDs(_ context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]model.Prediction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ByIDsCalled++
	want := map[primitive.ObjectID]bool{}
	for _, id := range ids {
		want[id] = true
	}
	out := map[primitive.ObjectID]model.Prediction{}
	for _, p := range f.byID {
		if want[p.ImageID] {
			if _, seen := out[p.ImageID]; !seen {
				out[p.ImageID] = p
			}
		}
	}
	return out, nil
}

func (f *Predictions) SetGradcamURI(_ context.Context, id primitive.ObjectID, uri string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailPatch {
		return false, ErrInjected
	}
	p, ok := f.byID[id]
	if !ok || p.GradcamURI == uri {
		return false, nil
	}
	p.GradcamURI = uri
	f.byID[id] = p
	return true, nil
}

// Len reports the number of stored predictions.
func (f *Predictions) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.byID)
}

// Summaries is an in-memory llm_summaries collection.
type Summaries struct {
	mu   sync.Mutex
	Docs []model.LLMSummary
	Fail bool
}

func (f *Summaries) Insert(_ context.Context, s *model.LLMSummary) (primitive.ObjectID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Fail {
		return primitive.NilObjectID, ErrInjected
	}
	s.ID = primitive.NewObjectID()
	f.Docs = append(f.Docs, *s)
	return s.ID, nil
}

func (f *Summaries) GetByID(_ context.Context, id primitive.ObjectID) (*model.LLMSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.Docs {
		if d.ID == id {
			c := d
			return &c, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *Summaries) ListByUser(_ context.Context, userID, _ string, limit int64) ([]model.LLMSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []model.LLMSummary{}
	for _, d := range f.Docs {
		if d.UserID == userID {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedTimestamp.After(out[j].CreatedTimestamp) })
	if limit > 0 && int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Feedback is an in-memory feedback collection.  Analytics is computed the
// way the aggregation pipelines compute it.
type Feedback struct {
	mu   sync.Mutex
	Docs []model.Feedback
}

func (f *Feedback) Insert(_ context.Context, fb *model.Feedback) (primitive.ObjectID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fb.ID = primitive.NewObjectID()
	f.Docs = append(f.Docs, *fb)
	return fb.ID, nil
}

func (f *Feedback) Find(_ context.Context, q model.FeedbackFilter, limit int64) ([]model.Feedback, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []model.Feedback{}
	for _, d := range f.Docs {
		if d.UserID != q.UserID ||
			(q.SummaryID != "" && d.SummaryID != q.SummaryID) ||
			(q.FeedbackType != "" && d.FeedbackType != q.FeedbackType) {
			continue
		}
		out = append(out, d)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *Feedback) Analytics(_ context.Context, since time.Time) (model.FeedbackAnalytics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	type acc struct {
		count  int64
		sum    float64
		scored int
	}
	byType := map[string]*acc{}
	dist := map[int]int64{}
	var a model.FeedbackAnalytics
	for _, d := range f.Docs {
		t, ok := byType[d.FeedbackType]
		if !ok {
			t = &acc{}
			byType[d.FeedbackType] = t
		}
		t.count++
		if d.UsefulnessScore != nil {
			t.sum += float64(*d.UsefulnessScore)
			t.scored++
			dist[*d.UsefulnessScore]++
		}
		a.TotalFeedback++
		if !d.CreatedAt.Before(since) {
			a.RecentFeedback++
		}
	}
	a.FeedbackByType = []model.FeedbackTypeStat{}
	for name, t := range byType {
		st := model.FeedbackTypeStat{FeedbackType: name, Count: t.count}
		if t.scored > 0 {
			avg := t.sum / float64(t.scored)
			st.AvgUsefulness = &avg
		}
		a.FeedbackByType = append(a.FeedbackByType, st)
	}
	sort.Slice(a.FeedbackByType, func(i, j int) bool { return a.FeedbackByType[i].FeedbackType < a.FeedbackByType[j].FeedbackType })
	a.UsefulnessDistribution = []model.UsefulnessBucket{}
	for score, n := range dist {
		a.UsefulnessDistribution = append(a.UsefulnessDistribution, model.UsefulnessBucket{Score: score, Count: n})
	}
	sort.Slice(a.UsefulnessDistribution, func(i, j int) bool {
		return a.UsefulnessDistribution[i].Score < a.UsefulnessDistribution[j].Score
	})
	return a, nil
}

// Objects is an in-memory bucket.
type Objects struct {
	mu      sync.Mutex
	Data    map[string][]byte
	Deleted []string
	FailPut bool
}

func NewObjects() *Objects { return &Objects{Data: map[string][]byte{}} }

func (o *Objects) Put(_ context.Context, key, _ string, body []byte) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.FailPut {
		return "", ErrInjected
	}
	o.Data[key] = body
	return "https://bucket.test/" + key, nil
}

func (o *Objects) Delete(_ context.Context, key string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.Data, key)
	o.Deleted = append(o.Deleted, key)
	return nil
}

// Keys lists stored object keys.
func (o *Objects) Keys() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, 0, len(o.Data))
	for k := range o.Data {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Renderer stands in for the image host and the inference service.
type Renderer struct {
	Image       []byte
	Overlay     []byte
	FailFetch   bool
	FailGradcam bool
}

func (r *Renderer) Fetch(_ context.Context, _ string) ([]byte, error) {
	if r.FailFetch {
		return nil, ErrInjected
	}
	return r.Image, nil
}

func (r *Renderer) Gradcam(_ context.Context, _ string, _ []byte) ([]byte, error) {
	if r.FailGradcam {
		return nil, ErrInjected
	}
	return r.Overlay, nil
}

// Completer answers with Reply or fails with Err, recording each request.
type Completer struct {
	mu       sync.Mutex
	Reply    string
	Err      error
	Requests []llm.Request
}

func (c *Completer) Complete(_ context.Context, req llm.Request) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Requests = append(c.Requests, req)
	if c.Err != nil {
		return "", c.Err
	}
	return c.Reply, nil
}
