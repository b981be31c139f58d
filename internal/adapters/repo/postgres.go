package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hohoemi-rabo/prepfeed/internal/domain"
	"github.com/hohoemi-rabo/prepfeed/internal/infra/metrics"
)

// DB подмножество *pgxpool.Pool, которым пользуется адаптер.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool DB
}

var (
	_ domain.SettingRepo        = (*Postgres)(nil)
	_ domain.CollectedItemRepo  = (*Postgres)(nil)
	_ domain.FetchLogRepo       = (*Postgres)(nil)
	_ domain.AnalysisRepo       = (*Postgres)(nil)
	_ domain.BusinessMetricRepo = (*Postgres)(nil)
)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool DB) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

func storeErr(op string, err error) error {
	return fmt.Errorf("postgres: %s: %w: %w", op, domain.ErrStore, err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

const settingColumns = `id::text, user_id, platform, type, value, display_name, fetch_count, is_active, last_fetched_at, created_at, updated_at`

func scanSetting(row rowScanner) (domain.WatchSetting, error) {
	var (
		s           domain.WatchSetting
		platform    string
		typ         string
		displayName sql.NullString
		lastFetched sql.NullTime
	)
	if err := row.Scan(&s.ID, &s.UserID, &platform, &typ, &s.Value, &displayName, &s.FetchCount, &s.IsActive, &lastFetched, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return domain.WatchSetting{}, err
	}
	s.Platform = domain.Platform(platform)
	s.Type = domain.MonitorType(typ)
	if displayName.Valid {
		s.DisplayName = &displayName.String
	}
	if lastFetched.Valid {
		t := lastFetched.Time
		s.LastFetchedAt = &t
	}
	return s, nil
}

func (p *Postgres) querySettings(ctx context.Context, op, query string, args ...any) ([]domain.WatchSetting, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, query, args...)
	metrics.ObserveNetworkRequest("postgres", op, "watch_settings", start, err)
	if err != nil {
		return nil, storeErr(op, err)
	}
	defer rows.Close()
	var out []domain.WatchSetting
	for rows.Next() {
		s, err := scanSetting(rows)
		if err != nil {
			return nil, storeErr(op, err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(op, err)
	}
	return out, nil
}

// CreateSetting сохраняет новую настройку.
func (p *Postgres) CreateSetting(ctx context.Context, s domain.WatchSetting) (domain.WatchSetting, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	row := p.pool.QueryRow(ctx, `
INSERT INTO watch_settings (user_id, platform, type, value, display_name, fetch_count, is_active)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING `+settingColumns,
		s.UserID, string(s.Platform), string(s.Type), s.Value, s.DisplayName, s.FetchCount, s.IsActive)
	created, err := scanSetting(row)
	metrics.ObserveNetworkRequest("postgres", "watch_settings_insert", "watch_settings", start, err)
	if err != nil {
		return domain.WatchSetting{}, storeErr("watch_settings_insert", err)
	}
	return created, nil
}

// GetSetting возвращает настройку пользователя.
func (p *Postgres) GetSetting(ctx context.Context, userID, id string) (domain.WatchSetting, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	s, err := scanSetting(p.pool.QueryRow(ctx, `SELECT `+settingColumns+` FROM watch_settings WHERE user_id=$1 AND id=$2`, userID, id))
	metrics.ObserveNetworkRequest("postgres", "watch_settings_get", "watch_settings", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.WatchSetting{}, domain.ErrSettingNotFound
	}
	if err != nil {
		return domain.WatchSetting{}, storeErr("watch_settings_get", err)
	}
	return s, nil
}

// ListSettings возвращает настройки пользователя, новые первыми.
func (p *Postgres) ListSettings(ctx context.Context, userID string, filter domain.SettingFilter) ([]domain.WatchSetting, error) {
	return p.querySettings(ctx, "watch_settings_list", `
SELECT `+settingColumns+`
FROM watch_settings
WHERE user_id=$1 AND ($2::boolean IS NULL OR is_active=$2)
ORDER BY created_at DESC
`, userID, filter.Active)
}

// ListActiveSettings возвращает активные настройки всех пользователей.
func (p *Postgres) ListActiveSettings(ctx context.Context) ([]domain.WatchSetting, error) {
	return p.querySettings(ctx, "watch_settings_list_active", `
SELECT `+settingColumns+`
FROM watch_settings
WHERE is_active
ORDER BY user_id, created_at, id
`)
}

// ListActiveSettingsByUser возвращает активные настройки пользователя.
func (p *Postgres) ListActiveSettingsByUser(ctx context.Context, userID string) ([]domain.WatchSetting, error) {
	return p.querySettings(ctx, "watch_settings_list_user_active", `
SELECT `+settingColumns+`
FROM watch_settings
WHERE user_id=$1 AND is_active
ORDER BY created_at, id
`, userID)
}

// UpdateSetting применяет патч к настройке.
func (p *Postgres) UpdateSetting(ctx context.Context, userID, id string, patch domain.SettingPatch) (domain.WatchSetting, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	row := p.pool.QueryRow(ctx, `
UPDATE watch_settings
SET display_name = COALESCE($3, display_name),
    fetch_count  = COALESCE($4, fetch_count),
    is_active    = COALESCE($5, is_active),
    updated_at   = now()
WHERE user_id=$1 AND id=$2
RETURNING `+settingColumns,
		userID, id, patch.DisplayName, patch.FetchCount, patch.IsActive)
	s, err := scanSetting(row)
	metrics.ObserveNetworkRequest("postgres", "watch_settings_update", "watch_settings", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.WatchSetting{}, domain.ErrSettingNotFound
	}
	if err != nil {
		return domain.WatchSetting{}, storeErr("watch_settings_update", err)
	}
	return s, nil
}

// DeleteSetting удаляет собранные данные и саму настройку.
func (p *Postgres) DeleteSetting(ctx context.Context, userID, id string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "watch_settings", start, err)
	if err != nil {
		return storeErr("begin_tx", err)
	}
	defer tx.Rollback(ctx)

	start = time.Now()
	_, err = tx.Exec(ctx, `DELETE FROM collected_items WHERE user_id=$1 AND setting_id=$2`, userID, id)
	metrics.ObserveNetworkRequest("postgres", "collected_items_delete", "collected_items", start, err)
	if err != nil {
		return storeErr("collected_items_delete", err)
	}
	start = time.Now()
	tag, err := tx.Exec(ctx, `DELETE FROM watch_settings WHERE user_id=$1 AND id=$2`, userID, id)
	metrics.ObserveNetworkRequest("postgres", "watch_settings_delete", "watch_settings", start, err)
	if err != nil {
		return storeErr("watch_settings_delete", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSettingNotFound
	}
	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "watch_settings", start, err)
	if err != nil {
		return storeErr("commit", err)
	}
	return nil
}

// TouchSettingFetched обновляет last_fetched_at.
func (p *Postgres) TouchSettingFetched(ctx context.Context, id string, at time.Time) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `UPDATE watch_settings SET last_fetched_at=$2, updated_at=now() WHERE id=$1`, id, at)
	metrics.ObserveNetworkRequest("postgres", "watch_settings_touch", "watch_settings", start, err)
	if err != nil {
		return storeErr("watch_settings_touch", err)
	}
	return nil
}

// UpsertItems сохраняет записи батчем, перезаписывая существующие по естественному ключу.
func (p *Postgres) UpsertItems(ctx context.Context, items []domain.CollectedItem) error {
	if len(items) == 0 {
		return nil
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	batch := &pgx.Batch{}
	for _, it := range items {
		collectedAt := it.CollectedAt
		if collectedAt.IsZero() {
			collectedAt = time.Now().UTC()
		}
		batch.Queue(`
INSERT INTO collected_items (user_id, setting_id, platform, content_id, title, url, published_at,
    author_id, author_name, views, likes, comments, stocks, duration, tags, growth_rate, collected_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
ON CONFLICT (user_id, setting_id, content_id) DO UPDATE SET
    platform=EXCLUDED.platform, title=EXCLUDED.title, url=EXCLUDED.url, published_at=EXCLUDED.published_at,
    author_id=EXCLUDED.author_id, author_name=EXCLUDED.author_name, views=EXCLUDED.views, likes=EXCLUDED.likes,
    comments=EXCLUDED.comments, stocks=EXCLUDED.stocks, duration=EXCLUDED.duration, tags=EXCLUDED.tags,
    growth_rate=EXCLUDED.growth_rate, collected_at=EXCLUDED.collected_at
`, it.UserID, it.SettingID, string(it.Platform), it.ContentID, it.Title, it.URL, it.PublishedAt,
			it.AuthorID, it.AuthorName, it.Views, it.Likes, it.Comments, it.Stocks, it.Duration, it.Tags, it.GrowthRate, collectedAt)
	}
	start := time.Now()
	br := p.pool.SendBatch(ctx, batch)
	metrics.ObserveNetworkRequest("postgres", "collected_items_send_batch", "collected_items", start, nil)
	defer br.Close()
	for range items {
		start = time.Now()
		_, err := br.Exec()
		metrics.ObserveNetworkRequest("postgres", "collected_items_upsert", "collected_items", start, err)
		if err != nil {
			return storeErr("collected_items_upsert", err)
		}
	}
	return nil
}

const itemColumns = `user_id, setting_id::text, platform, content_id, title, url, published_at, author_id, author_name,
    views, likes, comments, stocks, duration, tags, growth_rate, collected_at`

func (p *Postgres) queryItems(ctx context.Context, op, query string, args ...any) ([]domain.CollectedItem, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, query, args...)
	metrics.ObserveNetworkRequest("postgres", op, "collected_items", start, err)
	if err != nil {
		return nil, storeErr(op, err)
	}
	defer rows.Close()
	var out []domain.CollectedItem
	for rows.Next() {
		var (
			it       domain.CollectedItem
			platform string
		)
		if err := rows.Scan(&it.UserID, &it.SettingID, &platform, &it.ContentID, &it.Title, &it.URL, &it.PublishedAt,
			&it.AuthorID, &it.AuthorName, &it.Views, &it.Likes, &it.Comments, &it.Stocks, &it.Duration, &it.Tags,
			&it.GrowthRate, &it.CollectedAt); err != nil {
			return nil, storeErr(op, err)
		}
		it.Platform = domain.Platform(platform)
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(op, err)
	}
	return out, nil
}

// ListItemsBySetting возвращает записи настройки, свежие публикации первыми.
func (p *Postgres) ListItemsBySetting(ctx context.Context, userID, settingID string) ([]domain.CollectedItem, error) {
	return p.queryItems(ctx, "collected_items_list_setting", `
SELECT `+itemColumns+`
FROM collected_items
WHERE user_id=$1 AND setting_id=$2
ORDER BY published_at DESC
`, userID, settingID)
}

// ListRecentItems возвращает последние собранные записи пользователя.
func (p *Postgres) ListRecentItems(ctx context.Context, userID string, limit int) ([]domain.CollectedItem, error) {
	return p.queryItems(ctx, "collected_items_list_recent", `
SELECT `+itemColumns+`
FROM collected_items
WHERE user_id=$1
ORDER BY collected_at DESC
LIMIT $2
`, userID, limit)
}

// AppendFetchLog добавляет запись журнала.
func (p *Postgres) AppendFetchLog(ctx context.Context, l domain.FetchLog) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	if l.ExecutedAt.IsZero() {
		l.ExecutedAt = time.Now().UTC()
	}
	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO fetch_logs (user_id, setting_id, platform, status, records_count, error_message, executed_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`, l.UserID, l.SettingID, string(l.Platform), string(l.Status), l.RecordsCount, l.ErrorMessage, l.ExecutedAt)
	metrics.ObserveNetworkRequest("postgres", "fetch_logs_insert", "fetch_logs", start, err)
	if err != nil {
		return storeErr("fetch_logs_insert", err)
	}
	return nil
}

// ListFetchLogs возвращает страницу журнала пользователя.
func (p *Postgres) ListFetchLogs(ctx context.Context, userID string, q domain.FetchLogQuery) (domain.FetchLogPage, error) {
	q = q.Normalize()
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	page := domain.FetchLogPage{Page: q.Page, Limit: q.Limit, Logs: []domain.FetchLog{}}
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT count(*) FROM fetch_logs
WHERE user_id=$1 AND ($2 = '' OR platform=$2) AND ($3 = '' OR status=$3)
`, userID, string(q.Platform), string(q.Status)).Scan(&page.Total)
	metrics.ObserveNetworkRequest("postgres", "fetch_logs_count", "fetch_logs", start, err)
	if err != nil {
		return domain.FetchLogPage{}, storeErr("fetch_logs_count", err)
	}
	page.TotalPages = (page.Total + q.Limit - 1) / q.Limit

	start = time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id::text, user_id, setting_id::text, platform, status, records_count, error_message, executed_at
FROM fetch_logs
WHERE user_id=$1 AND ($2 = '' OR platform=$2) AND ($3 = '' OR status=$3)
ORDER BY executed_at DESC
LIMIT $4 OFFSET $5
`, userID, string(q.Platform), string(q.Status), q.Limit, (q.Page-1)*q.Limit)
	metrics.ObserveNetworkRequest("postgres", "fetch_logs_list", "fetch_logs", start, err)
	if err != nil {
		return domain.FetchLogPage{}, storeErr("fetch_logs_list", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			l        domain.FetchLog
			platform string
			status   string
		)
		if err := rows.Scan(&l.ID, &l.UserID, &l.SettingID, &platform, &status, &l.RecordsCount, &l.ErrorMessage, &l.ExecutedAt); err != nil {
			return domain.FetchLogPage{}, storeErr("fetch_logs_list", err)
		}
		l.Platform = domain.Platform(platform)
		l.Status = domain.FetchStatus(status)
		page.Logs = append(page.Logs, l)
	}
	if err := rows.Err(); err != nil {
		return domain.FetchLogPage{}, storeErr("fetch_logs_list", err)
	}
	return page, nil
}

const resultColumns = `id::text, user_id, setting_id::text, analysis_type, status, result, error_message, created_at, completed_at`

func scanResult(row rowScanner) (domain.AnalysisResult, error) {
	var (
		r           domain.AnalysisResult
		settingID   sql.NullString
		typ         string
		status      string
		errMsg      sql.NullString
		completedAt sql.NullTime
		result      []byte
	)
	if err := row.Scan(&r.ID, &r.UserID, &settingID, &typ, &status, &result, &errMsg, &r.CreatedAt, &completedAt); err != nil {
		return domain.AnalysisResult{}, err
	}
	r.Type = domain.AnalysisType(typ)
	r.Status = domain.AnalysisStatus(status)
	if settingID.Valid {
		r.SettingID = &settingID.String
	}
	if len(result) > 0 {
		r.Result = json.RawMessage(result)
	}
	if errMsg.Valid {
		r.ErrorMessage = &errMsg.String
	}
	if completedAt.Valid {
		t := completedAt.Time
		r.CompletedAt = &t
	}
	return r, nil
}

// SaveSimpleResult держит единственный простой результат на настройку.
func (p *Postgres) SaveSimpleResult(ctx context.Context, r domain.AnalysisResult) (domain.AnalysisResult, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	row := p.pool.QueryRow(ctx, `
INSERT INTO analysis_results (user_id, setting_id, analysis_type, status, result, error_message, completed_at)
VALUES ($1, $2, 'simple', $3, $4, $5, $6)
ON CONFLICT (user_id, setting_id) WHERE analysis_type = 'simple' DO UPDATE SET
    status=EXCLUDED.status, result=EXCLUDED.result, error_message=EXCLUDED.error_message, completed_at=EXCLUDED.completed_at
RETURNING `+resultColumns,
		r.UserID, r.SettingID, string(r.Status), nullJSON(r.Result), r.ErrorMessage, r.CompletedAt)
	saved, err := scanResult(row)
	metrics.ObserveNetworkRequest("postgres", "analysis_results_upsert_simple", "analysis_results", start, err)
	if err != nil {
		return domain.AnalysisResult{}, storeErr("analysis_results_upsert_simple", err)
	}
	return saved, nil
}

// FindActiveDetailed ищет незавершённый подробный анализ пользователя.
func (p *Postgres) FindActiveDetailed(ctx context.Context, userID string) (domain.AnalysisResult, bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	return p.findActiveDetailed(ctx, p.pool, userID)
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (p *Postgres) findActiveDetailed(ctx context.Context, q querier, userID string) (domain.AnalysisResult, bool, error) {
	start := time.Now()
	r, err := scanResult(q.QueryRow(ctx, `
SELECT `+resultColumns+`
FROM analysis_results
WHERE user_id=$1 AND analysis_type='detailed' AND status IN ('pending','processing')
ORDER BY created_at DESC
LIMIT 1
`, userID))
	metrics.ObserveNetworkRequest("postgres", "analysis_results_find_active", "analysis_results", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.AnalysisResult{}, false, nil
	}
	if err != nil {
		return domain.AnalysisResult{}, false, storeErr("analysis_results_find_active", err)
	}
	return r, true, nil
}

// CreateDetailedAnalysis создаёт результат и задачу одной транзакцией.
// Частичный уникальный индекс не даёт завести второй активный анализ.
func (p *Postgres) CreateDetailedAnalysis(ctx context.Context, userID string, now time.Time) (domain.AnalysisResult, domain.AnalysisJob, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "analysis_results", start, err)
	if err != nil {
		return domain.AnalysisResult{}, domain.AnalysisJob{}, storeErr("begin_tx", err)
	}
	defer tx.Rollback(ctx)

	start = time.Now()
	result, err := scanResult(tx.QueryRow(ctx, `
INSERT INTO analysis_results (user_id, analysis_type, status, created_at)
VALUES ($1, 'detailed', 'pending', $2)
ON CONFLICT (user_id) WHERE analysis_type = 'detailed' AND status IN ('pending', 'processing') DO NOTHING
RETURNING `+resultColumns, userID, now))
	metrics.ObserveNetworkRequest("postgres", "analysis_results_insert_detailed", "analysis_results", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		_ = tx.Rollback(ctx)
		active, found, findErr := p.findActiveDetailed(ctx, p.pool, userID)
		if findErr != nil {
			return domain.AnalysisResult{}, domain.AnalysisJob{}, findErr
		}
		if !found {
			return domain.AnalysisResult{}, domain.AnalysisJob{}, storeErr("analysis_results_insert_detailed", errors.New("conflict without active analysis"))
		}
		return domain.AnalysisResult{}, domain.AnalysisJob{}, &domain.AnalysisInProgressError{AnalysisID: active.ID}
	}
	if err != nil {
		return domain.AnalysisResult{}, domain.AnalysisJob{}, storeErr("analysis_results_insert_detailed", err)
	}

	start = time.Now()
	job, err := scanJob(tx.QueryRow(ctx, `
INSERT INTO analysis_jobs (user_id, analysis_id, job_type, status, priority, payload, created_at)
VALUES ($1, $2, 'detailed', 'queued', 0, '{}'::jsonb, $3)
RETURNING `+jobColumns, userID, result.ID, now))
	metrics.ObserveNetworkRequest("postgres", "analysis_jobs_insert", "analysis_jobs", start, err)
	if err != nil {
		return domain.AnalysisResult{}, domain.AnalysisJob{}, storeErr("analysis_jobs_insert", err)
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "analysis_jobs", start, err)
	if err != nil {
		return domain.AnalysisResult{}, domain.AnalysisJob{}, storeErr("commit", err)
	}
	return result, job, nil
}

// GetAnalysis возвращает результат анализа пользователя.
func (p *Postgres) GetAnalysis(ctx context.Context, userID, id string) (domain.AnalysisResult, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	r, err := scanResult(p.pool.QueryRow(ctx, `SELECT `+resultColumns+` FROM analysis_results WHERE user_id=$1 AND id=$2`, userID, id))
	metrics.ObserveNetworkRequest("postgres", "analysis_results_get", "analysis_results", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.AnalysisResult{}, domain.ErrAnalysisNotFound
	}
	if err != nil {
		return domain.AnalysisResult{}, storeErr("analysis_results_get", err)
	}
	return r, nil
}

// ListAnalyses возвращает анализы пользователя, новые первыми. Пустой typ означает все виды.
func (p *Postgres) ListAnalyses(ctx context.Context, userID string, typ domain.AnalysisType, limit int) ([]domain.AnalysisResult, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 50
	}
	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT `+resultColumns+`
FROM analysis_results
WHERE user_id=$1 AND ($2 = '' OR analysis_type=$2)
ORDER BY created_at DESC
LIMIT $3
`, userID, string(typ), limit)
	metrics.ObserveNetworkRequest("postgres", "analysis_results_list", "analysis_results", start, err)
	if err != nil {
		return nil, storeErr("analysis_results_list", err)
	}
	defer rows.Close()
	var out []domain.AnalysisResult
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, storeErr("analysis_results_list", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("analysis_results_list", err)
	}
	return out, nil
}

const jobColumns = `id::text, user_id, analysis_id::text, job_type, status, priority, payload, attempts, error_message, started_at, completed_at, created_at`

func scanJob(row rowScanner) (domain.AnalysisJob, error) {
	var (
		j           domain.AnalysisJob
		jobType     string
		status      string
		payload     []byte
		errMsg      sql.NullString
		startedAt   sql.NullTime
		completedAt sql.NullTime
	)
	if err := row.Scan(&j.ID, &j.UserID, &j.AnalysisID, &jobType, &status, &j.Priority, &payload, &j.Attempts, &errMsg, &startedAt, &completedAt, &j.CreatedAt); err != nil {
		return domain.AnalysisJob{}, err
	}
	j.JobType = domain.AnalysisType(jobType)
	j.Status = domain.JobStatus(status)
	j.Payload = json.RawMessage(payload)
	if errMsg.Valid {
		j.ErrorMessage = &errMsg.String
	}
	if startedAt.Valid {
		t := startedAt.Time
		j.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		j.CompletedAt = &t
	}
	return j, nil
}

// GetJob возвращает задачу по идентификатору.
func (p *Postgres) GetJob(ctx context.Context, jobID string) (domain.AnalysisJob, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	j, err := scanJob(p.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM analysis_jobs WHERE id=$1`, jobID))
	metrics.ObserveNetworkRequest("postgres", "analysis_jobs_get", "analysis_jobs", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.AnalysisJob{}, domain.ErrJobNotFound
	}
	if err != nil {
		return domain.AnalysisJob{}, storeErr("analysis_jobs_get", err)
	}
	return j, nil
}

// RegisterJobDelivery увеличивает счётчик доставок задачи.
func (p *Postgres) RegisterJobDelivery(ctx context.Context, jobID string) (domain.AnalysisJob, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	j, err := scanJob(p.pool.QueryRow(ctx, `UPDATE analysis_jobs SET attempts = attempts + 1 WHERE id=$1 RETURNING `+jobColumns, jobID))
	metrics.ObserveNetworkRequest("postgres", "analysis_jobs_register_delivery", "analysis_jobs", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.AnalysisJob{}, domain.ErrJobNotFound
	}
	if err != nil {
		return domain.AnalysisJob{}, storeErr("analysis_jobs_register_delivery", err)
	}
	return j, nil
}

// TransitionJob меняет статус задачи и зеркалит его в результат одной транзакцией.
// Переход выполняется только из допустимых предыдущих статусов.
func (p *Postgres) TransitionJob(ctx context.Context, jobID string, t domain.JobTransition) (domain.AnalysisJob, error) {
	from := AllowedFrom(t.To)
	if len(from) == 0 {
		return domain.AnalysisJob{}, domain.ErrInvalidTransition
	}
	if t.At.IsZero() {
		t.At = time.Now().UTC()
	}
	var errMsg *string
	if t.To == domain.JobFailed {
		msg := t.Error
		errMsg = &msg
	}
	var result any
	if t.To == domain.JobCompleted {
		result = nullJSON(t.Result)
	}

	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "analysis_jobs", start, err)
	if err != nil {
		return domain.AnalysisJob{}, storeErr("begin_tx", err)
	}
	defer tx.Rollback(ctx)

	start = time.Now()
	job, err := scanJob(tx.QueryRow(ctx, `
UPDATE analysis_jobs SET
    status        = $2,
    started_at    = CASE WHEN $2 = 'processing' THEN COALESCE(started_at, $3) ELSE started_at END,
    completed_at  = CASE WHEN $2 IN ('completed', 'failed') THEN $3 ELSE completed_at END,
    error_message = COALESCE($4, error_message)
WHERE id=$1 AND status = ANY($5)
RETURNING `+jobColumns, jobID, string(t.To), t.At, errMsg, from))
	metrics.ObserveNetworkRequest("postgres", "analysis_jobs_transition", "analysis_jobs", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		_ = tx.Rollback(ctx)
		current, getErr := p.GetJob(ctx, jobID)
		if getErr != nil {
			return domain.AnalysisJob{}, getErr
		}
		return current, fmt.Errorf("%w: %s → %s", domain.ErrInvalidTransition, current.Status, t.To)
	}
	if err != nil {
		return domain.AnalysisJob{}, storeErr("analysis_jobs_transition", err)
	}

	start = time.Now()
	_, err = tx.Exec(ctx, `
UPDATE analysis_results SET
    status        = $2,
    result        = COALESCE($3, result),
    error_message = COALESCE($4, error_message),
    completed_at  = CASE WHEN $2 IN ('completed', 'failed') THEN $5 ELSE completed_at END
WHERE id=$1
`, job.AnalysisID, string(t.To.ResultStatus()), result, errMsg, t.At)
	metrics.ObserveNetworkRequest("postgres", "analysis_results_transition", "analysis_results", start, err)
	if err != nil {
		return domain.AnalysisJob{}, storeErr("analysis_results_transition", err)
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "analysis_jobs", start, err)
	if err != nil {
		return domain.AnalysisJob{}, storeErr("commit", err)
	}
	return job, nil
}

// FailStaleJobs переводит в failed задачи, зависшие в queued/processing дольше порога.
func (p *Postgres) FailStaleJobs(ctx context.Context, olderThan time.Time, message string) (int, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "analysis_jobs", start, err)
	if err != nil {
		return 0, storeErr("begin_tx", err)
	}
	defer tx.Rollback(ctx)

	start = time.Now()
	rows, err := tx.Query(ctx, `
UPDATE analysis_jobs SET status='failed', completed_at=now(), error_message=$2
WHERE status IN ('queued', 'processing') AND created_at < $1
RETURNING analysis_id::text
`, olderThan, message)
	metrics.ObserveNetworkRequest("postgres", "analysis_jobs_fail_stale", "analysis_jobs", start, err)
	if err != nil {
		return 0, storeErr("analysis_jobs_fail_stale", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, storeErr("analysis_jobs_fail_stale", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, storeErr("analysis_jobs_fail_stale", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	start = time.Now()
	_, err = tx.Exec(ctx, `
UPDATE analysis_results SET status='failed', error_message=$2, completed_at=now()
WHERE id::text = ANY($1) AND status IN ('pending', 'processing')
`, ids, message)
	metrics.ObserveNetworkRequest("postgres", "analysis_results_fail_stale", "analysis_results", start, err)
	if err != nil {
		return 0, storeErr("analysis_results_fail_stale", err)
	}
	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "analysis_jobs", start, err)
	if err != nil {
		return 0, storeErr("commit", err)
	}
	return len(ids), nil
}

// RecordBusinessMetric сохраняет продуктовое событие в БД.
func (p *Postgres) RecordBusinessMetric(ctx context.Context, metric domain.BusinessMetric) error {
	if metric.Event == "" {
		return nil
	}
	if metric.OccurredAt.IsZero() {
		metric.OccurredAt = time.Now().UTC()
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var payload []byte
	if metric.Metadata != nil {
		if data, err := json.Marshal(metric.Metadata); err == nil {
			payload = data
		}
	}

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO business_metrics (event, user_id, setting_id, metadata, occurred_at)
VALUES ($1, $2, $3, $4, $5)
`, metric.Event, metric.UserID, metric.SettingID, payload, metric.OccurredAt)
	metrics.ObserveNetworkRequest("postgres", "business_metrics_insert", "business_metrics", start, err)
	if err != nil {
		return storeErr("business_metrics_insert", err)
	}
	return nil
}

// AllowedFrom возвращает статусы-предшественники в виде строк для SQL.
func AllowedFrom(to domain.JobStatus) []string {
	prev := domain.AllowedPredecessors(to)
	out := make([]string, 0, len(prev))
	for _, s := range prev {
		out = append(out, string(s))
	}
	return out
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
