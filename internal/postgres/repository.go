package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JPierreXiong/subtitleTK-final-backup-sub001/internal/domain"
)

// TaskRepository abstracts all database access for tasks.
//
// Every write advances updated_at strictly, even when the wall clock has not
// moved since the previous write: the watchdog relies on it as the only
// liveness signal and clients rely on it as a dedup watermark.
type TaskRepository interface {
	Create(ctx context.Context, task *domain.Task) error
	GetByID(ctx context.Context, id string) (*domain.Task, error)
	// Touch refreshes updated_at (and raises progress when given) on a non-terminal task.
	Touch(ctx context.Context, id string, progress *int) (*domain.Task, error)
	// Advance applies a success transition if the task is still in one of tr.From.
	Advance(ctx context.Context, tr domain.Transition) (*domain.Task, error)
	// Fail marks the task failed unless it is terminal. applied is false when
	// another writer got there first, in which case the current row is returned.
	Fail(ctx context.Context, req domain.FailRequest) (task *domain.Task, applied bool, err error)
	// ListStale returns tasks in one of statuses whose updated_at is older than before.
	ListStale(ctx context.Context, statuses []domain.Status, before time.Time, limit int) ([]*domain.Task, error)
}

const updatedAtExpr = `GREATEST(clock_timestamp(), updated_at + interval '1 microsecond')`

const taskColumns = `
	id, user_id, status, progress, output_type, error_message, credit_id,
	source_url, target_language, rewrite,
	title, author, duration_sec, thumbnail_url, language,
	subtitle_raw, subtitle_translated, subtitle_rewritten, video_url_internal, expires_at,
	created_at, updated_at`

var terminalStatuses = []string{string(domain.StatusCompleted), string(domain.StatusFailed)}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository wraps a pgxpool with the TaskRepository interface.
func NewRepository(pool *pgxpool.Pool) TaskRepository {
	return &repository{pool: pool}
}

// NewPool creates a pgxpool and verifies connectivity.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return pool, nil
}

func (r *repository) Create(ctx context.Context, task *domain.Task) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO tasks
			(id, user_id, status, progress, output_type, credit_id,
			 source_url, target_language, rewrite, created_at, updated_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, clock_timestamp(), clock_timestamp())
		RETURNING created_at, updated_at
	`,
		task.ID, task.UserID, string(task.Status), domain.ClampProgress(task.Progress),
		string(task.OutputType), task.CreditID,
		task.SourceURL, task.TargetLanguage, task.Rewrite,
	).Scan(&task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create task %s: %w", task.ID, err)
	}
	return nil
}

func (r *repository) GetByID(ctx context.Context, id string) (*domain.Task, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	return scanTask(row, id)
}

func (r *repository) Touch(ctx context.Context, id string, progress *int) (*domain.Task, error) {
	var p *int
	if progress != nil {
		v := domain.ClampProgress(*progress)
		p = &v
	}
	row := r.pool.QueryRow(ctx, `
		UPDATE tasks
		SET progress = GREATEST(progress, $2), updated_at = `+updatedAtExpr+`
		WHERE id = $1 AND status <> ALL($3)
		RETURNING `+taskColumns,
		id, p, terminalStatuses,
	)
	task, err := scanTask(row, id)
	if err == nil {
		return task, nil
	}
	var notFound *domain.TaskNotFoundError
	if !errors.As(err, &notFound) {
		return nil, fmt.Errorf("touch task %s: %w", id, err)
	}
	return nil, r.explainMiss(ctx, id, "")
}

func (r *repository) Advance(ctx context.Context, tr domain.Transition) (*domain.Task, error) {
	from := make([]string, len(tr.From))
	for i, s := range tr.From {
		from[i] = string(s)
	}
	var progress *int
	if tr.Patch.Progress != nil {
		v := domain.ClampProgress(*tr.Patch.Progress)
		progress = &v
	}
	p := tr.Patch
	row := r.pool.QueryRow(ctx, `
		UPDATE tasks
		SET status              = $2,
		    progress            = GREATEST(progress, $4),
		    title               = COALESCE($5, title),
		    author              = COALESCE($6, author),
		    duration_sec        = COALESCE($7, duration_sec),
		    thumbnail_url       = COALESCE($8, thumbnail_url),
		    language            = COALESCE($9, language),
		    subtitle_raw        = COALESCE($10, subtitle_raw),
		    subtitle_translated = COALESCE($11, subtitle_translated),
		    subtitle_rewritten  = COALESCE($12, subtitle_rewritten),
		    video_url_internal  = COALESCE($13, video_url_internal),
		    expires_at          = COALESCE($14, expires_at),
		    credit_id           = COALESCE($15, credit_id),
		    target_language     = COALESCE($16, target_language),
		    updated_at          = `+updatedAtExpr+`
		WHERE id = $1 AND status = ANY($3)
		RETURNING `+taskColumns,
		tr.TaskID, string(tr.To), from, progress,
		p.Title, p.Author, p.DurationSec, p.ThumbnailURL, p.Language,
		p.SubtitleRaw, p.SubtitleTranslated, p.SubtitleRewritten, p.VideoURLInternal, p.ExpiresAt,
		p.CreditID, p.TargetLanguage,
	)
	task, err := scanTask(row, tr.TaskID)
	if err == nil {
		return task, nil
	}
	var notFound *domain.TaskNotFoundError
	if !errors.As(err, &notFound) {
		return nil, fmt.Errorf("advance task %s to %s: %w", tr.TaskID, tr.To, err)
	}
	return nil, r.explainMiss(ctx, tr.TaskID, tr.To)
}

func (r *repository) Fail(ctx context.Context, req domain.FailRequest) (*domain.Task, bool, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE tasks
		SET status = 'failed', progress = 0, error_message = $2, updated_at = `+updatedAtExpr+`
		WHERE id = $1
		  AND status <> ALL($3)
		  AND ($4::timestamptz IS NULL OR updated_at < $4)
		RETURNING `+taskColumns,
		req.TaskID, req.ErrorText(), terminalStatuses, req.StaleBefore,
	)
	task, err := scanTask(row, req.TaskID)
	if err == nil {
		return task, true, nil
	}
	var notFound *domain.TaskNotFoundError
	if !errors.As(err, &notFound) {
		return nil, false, fmt.Errorf("fail task %s: %w", req.TaskID, err)
	}

	// Lost the race, or the row was refreshed after the stale scan.
	current, err := r.GetByID(ctx, req.TaskID)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

func (r *repository) ListStale(ctx context.Context, statuses []domain.Status, before time.Time, limit int) ([]*domain.Task, error) {
	ss := make([]string, len(statuses))
	for i, s := range statuses {
		ss[i] = string(s)
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE status = ANY($1) AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3
	`, ss, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale tasks before %s: %w", before.Format(time.RFC3339), err)
	}
	defer rows.Close()

	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows, "")
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// explainMiss turns a conditional update that matched no row into a typed error.
func (r *repository) explainMiss(ctx context.Context, id string, to domain.Status) error {
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if current.Status.IsTerminal() {
		return &domain.TaskTerminalError{TaskID: id, Status: current.Status}
	}
	return &domain.InvalidTransitionError{TaskID: id, From: current.Status, To: to}
}

// scanTask reads a task row from any pgx row type.
func scanTask(row interface {
	Scan(...any) error
}, id string) (*domain.Task, error) {
	var task domain.Task
	var status, outputType string
	err := row.Scan(
		&task.ID, &task.UserID, &status, &task.Progress, &outputType,
		&task.ErrorMessage, &task.CreditID,
		&task.SourceURL, &task.TargetLanguage, &task.Rewrite,
		&task.Title, &task.Author, &task.DurationSec, &task.ThumbnailURL, &task.Language,
		&task.SubtitleRaw, &task.SubtitleTranslated, &task.SubtitleRewritten,
		&task.VideoURLInternal, &task.ExpiresAt,
		&task.CreatedAt, &task.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &domain.TaskNotFoundError{TaskID: id}
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}
	task.Status = domain.Status(status)
	task.OutputType = domain.OutputType(outputType)
	return &task, nil
}
