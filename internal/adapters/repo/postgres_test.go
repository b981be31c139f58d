package repo

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"

	"github.com/hohoemi-rabo/prepfeed/internal/domain"
)

var (
	resultCols = []string{"id", "user_id", "setting_id", "analysis_type", "status", "result", "error_message", "created_at", "completed_at"}
	jobCols    = []string{"id", "user_id", "analysis_id", "job_type", "status", "priority", "payload", "attempts", "error_message", "started_at", "completed_at", "created_at"}
)

func newMockPostgres(t *testing.T) (*Postgres, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("не все ожидания выполнены: %v", err)
		}
		mock.Close()
	})
	return NewPostgres(mock), mock
}

func sqlFragment(s string) string { return regexp.QuoteMeta(s) }

func TestPostgresSaveSimpleResultUpsertsBySetting(t *testing.T) {
	p, mock := newMockPostgres(t)
	now := time.Date(2025, 1, 1, 6, 0, 0, 0, time.UTC)
	settingID := "s1"

	mock.ExpectQuery(sqlFragment("ON CONFLICT (user_id, setting_id) WHERE analysis_type = 'simple' DO UPDATE")).
		WithArgs("u1", pgxmock.AnyArg(), string(domain.AnalysisCompleted), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(resultCols).
			AddRow("r1", "u1", settingID, "simple", "completed", []byte(`{"summary":"ok"}`), nil, now, now))

	got, err := p.SaveSimpleResult(context.Background(), domain.AnalysisResult{
		UserID: "u1", SettingID: &settingID, Type: domain.AnalysisSimple, Status: domain.AnalysisCompleted,
		Result: []byte(`{"summary":"ok"}`), CompletedAt: &now,
	})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if got.ID != "r1" || got.SettingID == nil || *got.SettingID != settingID || got.CompletedAt == nil {
		t.Fatalf("неожиданный результат %+v", got)
	}
}

func TestPostgresCreateDetailedAnalysis(t *testing.T) {
	p, mock := newMockPostgres(t)
	now := time.Date(2025, 1, 1, 6, 0, 0, 0, time.UTC)

	mock.ExpectBeginTx(pgx.TxOptions{})
	mock.ExpectQuery(sqlFragment("ON CONFLICT (user_id) WHERE analysis_type = 'detailed' AND status IN ('pending', 'processing') DO NOTHING")).
		WithArgs("u1", now).
		WillReturnRows(pgxmock.NewRows(resultCols).
			AddRow("r1", "u1", nil, "detailed", "pending", []byte(nil), nil, now, nil))
	mock.ExpectQuery(sqlFragment("INSERT INTO analysis_jobs")).
		WithArgs("u1", "r1", now).
		WillReturnRows(pgxmock.NewRows(jobCols).
			AddRow("j1", "u1", "r1", "detailed", "queued", 0, []byte(`{}`), 0, nil, nil, nil, now))
	mock.ExpectCommit()

	result, job, err := p.CreateDetailedAnalysis(context.Background(), "u1", now)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if result.ID != "r1" || result.Status != domain.AnalysisPending || result.SettingID != nil {
		t.Fatalf("неожиданный результат %+v", result)
	}
	if job.ID != "j1" || job.AnalysisID != "r1" || job.Status != domain.JobQueued {
		t.Fatalf("неожиданная задача %+v", job)
	}
}

func TestPostgresCreateDetailedAnalysisConflict(t *testing.T) {
	p, mock := newMockPostgres(t)
	now := time.Date(2025, 1, 1, 6, 0, 0, 0, time.UTC)

	mock.ExpectBeginTx(pgx.TxOptions{})
	mock.ExpectQuery(sqlFragment("DO NOTHING")).
		WithArgs("u1", now).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()
	mock.ExpectQuery(sqlFragment("status IN ('pending','processing')")).
		WithArgs("u1").
		WillReturnRows(pgxmock.NewRows(resultCols).
			AddRow("active", "u1", nil, "detailed", "processing", []byte(nil), nil, now, nil))

	_, _, err := p.CreateDetailedAnalysis(context.Background(), "u1", now)
	var inProgress *domain.AnalysisInProgressError
	if !errors.As(err, &inProgress) || inProgress.AnalysisID != "active" {
		t.Fatalf("ожидали AnalysisInProgressError(active), получили %v", err)
	}
}

func TestPostgresTransitionJobGuardsPreviousStatus(t *testing.T) {
	p, mock := newMockPostgres(t)
	at := time.Date(2025, 1, 1, 6, 0, 0, 0, time.UTC)

	mock.ExpectBeginTx(pgx.TxOptions{})
	mock.ExpectQuery(sqlFragment("WHERE id=$1 AND status = ANY($5)")).
		WithArgs("j1", string(domain.JobProcessing), at, pgxmock.AnyArg(), []string{string(domain.JobQueued)}).
		WillReturnRows(pgxmock.NewRows(jobCols).
			AddRow("j1", "u1", "r1", "detailed", "processing", 0, []byte(`{}`), 1, nil, at, nil, at))
	mock.ExpectExec(sqlFragment("UPDATE analysis_results SET")).
		WithArgs("r1", string(domain.AnalysisProcessing), pgxmock.AnyArg(), pgxmock.AnyArg(), at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	job, err := p.TransitionJob(context.Background(), "j1", domain.JobTransition{To: domain.JobProcessing, At: at})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if job.Status != domain.JobProcessing || job.StartedAt == nil {
		t.Fatalf("неожиданная задача %+v", job)
	}
}

func TestPostgresTransitionJobRejectsTerminal(t *testing.T) {
	p, mock := newMockPostgres(t)
	at := time.Date(2025, 1, 1, 6, 0, 0, 0, time.UTC)

	mock.ExpectBeginTx(pgx.TxOptions{})
	mock.ExpectQuery(sqlFragment("status = ANY($5)")).
		WithArgs("j1", string(domain.JobFailed), at, pgxmock.AnyArg(), []string{string(domain.JobQueued), string(domain.JobProcessing)}).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()
	mock.ExpectQuery(sqlFragment("FROM analysis_jobs WHERE id=$1")).
		WithArgs("j1").
		WillReturnRows(pgxmock.NewRows(jobCols).
			AddRow("j1", "u1", "r1", "detailed", "completed", 0, []byte(`{}`), 1, nil, at, at, at))

	current, err := p.TransitionJob(context.Background(), "j1", domain.JobTransition{To: domain.JobFailed, Error: "late", At: at})
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("ожидали ErrInvalidTransition, получили %v", err)
	}
	if current.Status != domain.JobCompleted {
		t.Fatalf("ожидали текущий статус completed, получили %s", current.Status)
	}
}

func TestPostgresTransitionJobUnknownTarget(t *testing.T) {
	p, _ := newMockPostgres(t)
	if _, err := p.TransitionJob(context.Background(), "j1", domain.JobTransition{To: domain.JobQueued}); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("ожидали ErrInvalidTransition, получили %v", err)
	}
}
