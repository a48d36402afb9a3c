package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/batchwatch/constants"
	"github.com/joseph-ayodele/batchwatch/internal/common"
	"github.com/joseph-ayodele/batchwatch/internal/monitor"
	"github.com/joseph-ayodele/batchwatch/internal/reconcile"
)

// Run is one archived job.
type Run struct {
	ID                uuid.UUID
	TaskID            string
	DocumentName      string
	AffiliationType   constants.AffiliationType
	SubmitterName     string
	State             constants.MonitorState
	TotalRecords      int
	ProcessedRecords  int
	SuccessfulRecords int
	ErrorRecords      int
	DownloadRef       string
	ErrorCode         string
	ErrorMessage      string
	Timeline          []reconcile.Entry
	StartedAt         time.Time
	FinishedAt        time.Time
}

// RunRepository archives finished runs.
type RunRepository interface {
	SaveRun(ctx context.Context, o monitor.Outcome) (uuid.UUID, error)
	ListRuns(ctx context.Context, limit int) ([]Run, error)
}

type runRepository struct {
	db *DB
}

func NewRunRepository(db *DB) RunRepository {
	return &runRepository{db: db}
}

// SaveRun inserts one row for a finished run. Runs still in flight are rejected.
func (r *runRepository) SaveRun(ctx context.Context, o monitor.Outcome) (uuid.UUID, error) {
	start := time.Now()
	if !o.State.Terminal() {
		return uuid.Nil, common.NewAppError(common.CodeValidation, fmt.Sprintf("run in state %s is not finished", o.State), common.ErrInvalidInput)
	}
	timeline := o.Timeline
	if timeline == nil {
		timeline = []reconcile.Entry{}
	}
	tl, err := json.Marshal(timeline)
	if err != nil {
		return uuid.Nil, fmt.Errorf("encode timeline: %w", err)
	}
	finished := o.FinishedAt
	if finished.IsZero() {
		finished = time.Now()
	}
	started := o.StartedAt
	if started.IsZero() {
		started = finished
	}

	id := uuid.New()
	_, err = r.db.sql.ExecContext(ctx, r.db.rebind(`INSERT INTO runs (
		id, task_id, document_name, affiliation_type, submitter_name, state,
		total_records, processed_records, successful_records, error_records,
		download_ref, error_code, error_message, timeline, started_at, finished_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		id.String(), o.TaskID, o.DocumentName, string(o.AffiliationType), o.SubmitterName, string(o.State),
		o.TotalRecords, o.ProcessedRecords, o.SuccessfulRecords, o.ErrorRecords,
		o.DownloadRef, o.ErrorCode, o.ErrorMessage, string(tl), started.UTC(), finished.UTC(),
	)
	if err != nil {
		r.db.logger.Error("history.save.failed", "task_id", o.TaskID, "error", err)
		return uuid.Nil, fmt.Errorf("%w: insert run: %v", common.ErrDatabase, err)
	}
	r.db.logger.Info("history.save.ok",
		"run_id", id.String(),
		"task_id", o.TaskID,
		"state", string(o.State),
		"entries", len(timeline),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return id, nil
}

// ListRuns returns the most recently finished runs first.
func (r *runRepository) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.sql.QueryContext(ctx, r.db.rebind(`SELECT
		id, task_id, document_name, affiliation_type, submitter_name, state,
		total_records, processed_records, successful_records, error_records,
		download_ref, error_code, error_message, timeline, started_at, finished_at
	FROM runs ORDER BY finished_at DESC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list runs: %v", common.ErrDatabase, err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			run                Run
			id, aff, state, tl string
		)
		if err := rows.Scan(
			&id, &run.TaskID, &run.DocumentName, &aff, &run.SubmitterName, &state,
			&run.TotalRecords, &run.ProcessedRecords, &run.SuccessfulRecords, &run.ErrorRecords,
			&run.DownloadRef, &run.ErrorCode, &run.ErrorMessage, &tl, &run.StartedAt, &run.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("%w: scan run: %v", common.ErrDatabase, err)
		}
		if run.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("%w: run id %q: %v", common.ErrDatabase, id, err)
		}
		run.AffiliationType = constants.AffiliationType(aff)
		run.State = constants.MonitorState(state)
		if err := json.Unmarshal([]byte(tl), &run.Timeline); err != nil {
			return nil, fmt.Errorf("decode timeline: %w", err)
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	return out, nil
}
