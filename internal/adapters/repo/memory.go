package repo

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hohoemi-rabo/prepfeed/internal/domain"
)

// Store объединяет все репозитории. Реализуется Postgres и Memory.
type Store interface {
	domain.SettingRepo
	domain.CollectedItemRepo
	domain.FetchLogRepo
	domain.AnalysisRepo
	domain.BusinessMetricRepo
}

// Memory хранит данные в памяти процесса и соблюдает те же ограничения, что и схема Postgres.
// Используется в тестах и при локальном запуске без БД.
type Memory struct {
	mu       sync.Mutex
	now      func() time.Time
	settings map[string]domain.WatchSetting
	items    map[itemKey]domain.CollectedItem
	logs     []domain.FetchLog
	results  map[string]domain.AnalysisResult
	jobs     map[string]domain.AnalysisJob
	events   []domain.BusinessMetric
}

type itemKey struct {
	userID    string
	settingID string
	contentID string
}

var (
	_ Store = (*Memory)(nil)
	_ Store = (*Postgres)(nil)
)

// NewMemory создаёт пустое хранилище.
func NewMemory() *Memory {
	return &Memory{
		now:      func() time.Time { return time.Now().UTC() },
		settings: make(map[string]domain.WatchSetting),
		items:    make(map[itemKey]domain.CollectedItem),
		results:  make(map[string]domain.AnalysisResult),
		jobs:     make(map[string]domain.AnalysisJob),
	}
}

// WithClock подменяет источник времени.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
	return m
}

func (m *Memory) CreateSetting(_ context.Context, s domain.WatchSetting) (domain.WatchSetting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	s.ID = uuid.NewString()
	s.CreatedAt = now
	s.UpdatedAt = now
	m.settings[s.ID] = s
	return s, nil
}

func (m *Memory) GetSetting(_ context.Context, userID, id string) (domain.WatchSetting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.settings[id]
	if !ok || s.UserID != userID {
		return domain.WatchSetting{}, domain.ErrSettingNotFound
	}
	return s, nil
}

func (m *Memory) ListSettings(_ context.Context, userID string, filter domain.SettingFilter) ([]domain.WatchSetting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.WatchSetting
	for _, s := range m.settings {
		if s.UserID != userID {
			continue
		}
		if filter.Active != nil && s.IsActive != *filter.Active {
			continue
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) ListActiveSettings(_ context.Context) ([]domain.WatchSetting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeSettings(func(domain.WatchSetting) bool { return true }), nil
}

func (m *Memory) ListActiveSettingsByUser(_ context.Context, userID string) ([]domain.WatchSetting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeSettings(func(s domain.WatchSetting) bool { return s.UserID == userID }), nil
}

func (m *Memory) activeSettings(match func(domain.WatchSetting) bool) []domain.WatchSetting {
	var out []domain.WatchSetting
	for _, s := range m.settings {
		if s.IsActive && match(s) {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *Memory) UpdateSetting(_ context.Context, userID, id string, patch domain.SettingPatch) (domain.WatchSetting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.settings[id]
	if !ok || s.UserID != userID {
		return domain.WatchSetting{}, domain.ErrSettingNotFound
	}
	if patch.DisplayName != nil {
		name := *patch.DisplayName
		s.DisplayName = &name
	}
	if patch.FetchCount != nil {
		s.FetchCount = *patch.FetchCount
	}
	if patch.IsActive != nil {
		s.IsActive = *patch.IsActive
	}
	s.UpdatedAt = m.now()
	m.settings[id] = s
	return s, nil
}

func (m *Memory) DeleteSetting(_ context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.settings[id]
	if !ok || s.UserID != userID {
		return domain.ErrSettingNotFound
	}
	for k := range m.items {
		if k.settingID == id {
			delete(m.items, k)
		}
	}
	kept := m.logs[:0]
	for _, l := range m.logs {
		if l.SettingID != id {
			kept = append(kept, l)
		}
	}
	m.logs = kept
	for rid, r := range m.results {
		if r.SettingID != nil && *r.SettingID == id {
			delete(m.results, rid)
		}
	}
	delete(m.settings, id)
	return nil
}

func (m *Memory) TouchSettingFetched(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.settings[id]
	if !ok {
		return nil
	}
	s.LastFetchedAt = &at
	s.UpdatedAt = m.now()
	m.settings[id] = s
	return nil
}

func (m *Memory) UpsertItems(_ context.Context, items []domain.CollectedItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, it := range items {
		if _, ok := m.settings[it.SettingID]; !ok {
			return fmt.Errorf("memory: collected_items_upsert: %w: unknown setting %s", domain.ErrStore, it.SettingID)
		}
		if it.CollectedAt.IsZero() {
			it.CollectedAt = m.now()
		}
		m.items[itemKey{userID: it.UserID, settingID: it.SettingID, contentID: it.ContentID}] = it
	}
	return nil
}

func (m *Memory) ListItemsBySetting(_ context.Context, userID, settingID string) ([]domain.CollectedItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.CollectedItem
	for k, it := range m.items {
		if k.userID == userID && k.settingID == settingID {
			out = append(out, it)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].PublishedAt.Equal(out[j].PublishedAt) {
			return out[i].ContentID < out[j].ContentID
		}
		return out[i].PublishedAt.After(out[j].PublishedAt)
	})
	return out, nil
}

func (m *Memory) ListRecentItems(_ context.Context, userID string, limit int) ([]domain.CollectedItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.CollectedItem
	for k, it := range m.items {
		if k.userID == userID {
			out = append(out, it)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CollectedAt.Equal(out[j].CollectedAt) {
			return out[i].PublishedAt.After(out[j].PublishedAt)
		}
		return out[i].CollectedAt.After(out[j].CollectedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) AppendFetchLog(_ context.Context, l domain.FetchLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l.ID = uuid.NewString()
	if l.ExecutedAt.IsZero() {
		l.ExecutedAt = m.now()
	}
	m.logs = append(m.logs, l)
	return nil
}

func (m *Memory) ListFetchLogs(_ context.Context, userID string, q domain.FetchLogQuery) (domain.FetchLogPage, error) {
	q = q.Normalize()
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []domain.FetchLog
	for _, l := range m.logs {
		if l.UserID != userID {
			continue
		}
		if q.Platform != "" && l.Platform != q.Platform {
			continue
		}
		if q.Status != "" && l.Status != q.Status {
			continue
		}
		matched = append(matched, l)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].ExecutedAt.After(matched[j].ExecutedAt)
	})

	page := domain.FetchLogPage{
		Logs:       []domain.FetchLog{},
		Page:       q.Page,
		Limit:      q.Limit,
		Total:      len(matched),
		TotalPages: (len(matched) + q.Limit - 1) / q.Limit,
	}
	from := (q.Page - 1) * q.Limit
	if from < len(matched) {
		to := from + q.Limit
		if to > len(matched) {
			to = len(matched)
		}
		page.Logs = append(page.Logs, matched[from:to]...)
	}
	return page, nil
}

func (m *Memory) SaveSimpleResult(_ context.Context, r domain.AnalysisResult) (domain.AnalysisResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r.Type = domain.AnalysisSimple
	for id, existing := range m.results {
		if existing.Type != domain.AnalysisSimple || existing.UserID != r.UserID {
			continue
		}
		if existing.SettingID == nil || r.SettingID == nil || *existing.SettingID != *r.SettingID {
			continue
		}
		r.ID = id
		r.CreatedAt = existing.CreatedAt
		m.results[id] = r
		return r, nil
	}
	r.ID = uuid.NewString()
	r.CreatedAt = m.now()
	m.results[r.ID] = r
	return r, nil
}

func (m *Memory) FindActiveDetailed(_ context.Context, userID string) (domain.AnalysisResult, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.activeDetailed(userID)
	return r, ok, nil
}

func (m *Memory) activeDetailed(userID string) (domain.AnalysisResult, bool) {
	for _, r := range m.results {
		if r.UserID == userID && r.Type == domain.AnalysisDetailed &&
			(r.Status == domain.AnalysisPending || r.Status == domain.AnalysisProcessing) {
			return r, true
		}
	}
	return domain.AnalysisResult{}, false
}

func (m *Memory) CreateDetailedAnalysis(_ context.Context, userID string, now time.Time) (domain.AnalysisResult, domain.AnalysisJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if active, ok := m.activeDetailed(userID); ok {
		return domain.AnalysisResult{}, domain.AnalysisJob{}, &domain.AnalysisInProgressError{AnalysisID: active.ID}
	}
	result := domain.AnalysisResult{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      domain.AnalysisDetailed,
		Status:    domain.AnalysisPending,
		CreatedAt: now,
	}
	job := domain.AnalysisJob{
		ID:         uuid.NewString(),
		UserID:     userID,
		AnalysisID: result.ID,
		JobType:    domain.AnalysisDetailed,
		Status:     domain.JobQueued,
		Payload:    []byte("{}"),
		CreatedAt:  now,
	}
	m.results[result.ID] = result
	m.jobs[job.ID] = job
	return result, job, nil
}

func (m *Memory) GetAnalysis(_ context.Context, userID, id string) (domain.AnalysisResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.results[id]
	if !ok || r.UserID != userID {
		return domain.AnalysisResult{}, domain.ErrAnalysisNotFound
	}
	return r, nil
}

func (m *Memory) ListAnalyses(_ context.Context, userID string, typ domain.AnalysisType, limit int) ([]domain.AnalysisResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.AnalysisResult
	for _, r := range m.results {
		if r.UserID != userID || (typ != "" && r.Type != typ) {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) GetJob(_ context.Context, jobID string) (domain.AnalysisJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID]
	if !ok {
		return domain.AnalysisJob{}, domain.ErrJobNotFound
	}
	return j, nil
}

func (m *Memory) RegisterJobDelivery(_ context.Context, jobID string) (domain.AnalysisJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID]
	if !ok {
		return domain.AnalysisJob{}, domain.ErrJobNotFound
	}
	j.Attempts++
	m.jobs[jobID] = j
	return j, nil
}

func (m *Memory) TransitionJob(_ context.Context, jobID string, t domain.JobTransition) (domain.AnalysisJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID]
	if !ok {
		return domain.AnalysisJob{}, domain.ErrJobNotFound
	}
	if !j.Status.CanTransitionTo(t.To) {
		return j, fmt.Errorf("%w: %s → %s", domain.ErrInvalidTransition, j.Status, t.To)
	}
	if t.At.IsZero() {
		t.At = m.now()
	}
	at := t.At

	j.Status = t.To
	switch t.To {
	case domain.JobProcessing:
		if j.StartedAt == nil {
			j.StartedAt = &at
		}
	case domain.JobCompleted, domain.JobFailed:
		j.CompletedAt = &at
	}
	var errMsg *string
	if t.To == domain.JobFailed {
		msg := t.Error
		errMsg = &msg
		j.ErrorMessage = errMsg
	}
	m.jobs[jobID] = j

	if r, ok := m.results[j.AnalysisID]; ok {
		r.Status = t.To.ResultStatus()
		if t.To == domain.JobCompleted && len(t.Result) > 0 {
			r.Result = append([]byte(nil), t.Result...)
		}
		if errMsg != nil {
			r.ErrorMessage = errMsg
		}
		if t.To.Terminal() {
			r.CompletedAt = &at
		}
		m.results[j.AnalysisID] = r
	}
	return j, nil
}

func (m *Memory) FailStaleJobs(_ context.Context, olderThan time.Time, message string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	failed := 0
	for id, j := range m.jobs {
		if j.Status.Terminal() || !j.CreatedAt.Before(olderThan) {
			continue
		}
		msg := message
		j.Status = domain.JobFailed
		j.ErrorMessage = &msg
		j.CompletedAt = &now
		m.jobs[id] = j
		if r, ok := m.results[j.AnalysisID]; ok && r.Status.Active() {
			r.Status = domain.AnalysisFailed
			r.ErrorMessage = &msg
			r.CompletedAt = &now
			m.results[j.AnalysisID] = r
		}
		failed++
	}
	return failed, nil
}

func (m *Memory) RecordBusinessMetric(_ context.Context, metric domain.BusinessMetric) error {
	if metric.Event == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if metric.OccurredAt.IsZero() {
		metric.OccurredAt = m.now()
	}
	m.events = append(m.events, metric)
	return nil
}

// BusinessMetrics возвращает копию сохранённых событий.
func (m *Memory) BusinessMetrics() []domain.BusinessMetric {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.BusinessMetric(nil), m.events...)
}
