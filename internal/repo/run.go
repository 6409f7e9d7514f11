package repo

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/crucial707/chaos-scheduler/internal/models"
)

const runColumns = `id, trigger_id, experiment_id, target_id, target_name, target_type, action, status,
	attempts, detail, error, started_at, completed_at`

// RunRepo is the append-only store behind the run log. It never updates or deletes rows.
type RunRepo struct {
	DB *sql.DB
}

// NewRunRepo returns a new RunRepo.
func NewRunRepo(db *sql.DB) *RunRepo {
	return &RunRepo{DB: db}
}

// Insert appends a run record and returns its id. Inserting the same trigger id
// twice returns the id of the existing row, so retried writes are idempotent.
func (r *RunRepo) Insert(ctx context.Context, rec models.RunRecord) (int64, error) {
	var expID interface{}
	if rec.ExperimentID != nil {
		expID = *rec.ExperimentID
	}
	var id int64
	err := r.DB.QueryRowContext(ctx,
		`INSERT INTO run_records (trigger_id, experiment_id, target_id, target_name, target_type, action, status,
			attempts, detail, error, started_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 RETURNING id`,
		rec.TriggerID, expID, rec.TargetID, rec.TargetName, rec.TargetType, rec.Action, rec.Status,
		rec.Attempts, nullString(rec.Detail), nullString(rec.Error), rec.StartedAt, rec.CompletedAt,
	).Scan(&id)
	if err != nil && isUniqueViolation(err) {
		err = r.DB.QueryRowContext(ctx, `SELECT id FROM run_records WHERE trigger_id = $1`, rec.TriggerID).Scan(&id)
	}
	return id, err
}

// runWhere builds a WHERE clause and its args for a filter.
func runWhere(f models.RunFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, strings.Replace(cond, "?", "$"+strconv.Itoa(len(args)), 1))
	}
	if f.ExperimentID != nil {
		add("experiment_id = ?", *f.ExperimentID)
	}
	if f.TargetID != nil {
		add("target_id = ?", *f.TargetID)
	}
	if f.Status != "" {
		add("status = ?", f.Status)
	}
	if f.Action != "" {
		add("action = ?", f.Action)
	}
	if f.Since != nil {
		add("started_at >= ?", *f.Since)
	}
	if f.Until != nil {
		add("started_at <= ?", *f.Until)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// Query returns matching run records, newest first.
func (r *RunRepo) Query(ctx context.Context, f models.RunFilter, limit, offset int) ([]models.RunRecord, error) {
	where, args := runWhere(f)
	n := len(args)
	args = append(args, limit, offset)
	query := `SELECT ` + runColumns + ` FROM run_records` + where +
		` ORDER BY started_at DESC, id DESC LIMIT $` + strconv.Itoa(n+1) + ` OFFSET $` + strconv.Itoa(n+2)

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.RunRecord
	for rows.Next() {
		var (
			rec           models.RunRecord
			expID         sql.NullInt64
			detail, errMsg sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.TriggerID, &expID, &rec.TargetID, &rec.TargetName, &rec.TargetType,
			&rec.Action, &rec.Status, &rec.Attempts, &detail, &errMsg, &rec.StartedAt, &rec.CompletedAt); err != nil {
			return nil, err
		}
		if expID.Valid {
			v := int(expID.Int64)
			rec.ExperimentID = &v
		}
		rec.Detail = detail.String
		rec.Error = errMsg.String
		list = append(list, rec)
	}
	return list, rows.Err()
}

// Count returns the total number of run records.
func (r *RunRepo) Count(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM run_records`).Scan(&n)
	return n, err
}

// Summary groups run records by target type, action and status.
func (r *RunRepo) Summary(ctx context.Context) ([]models.RunTally, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT target_type, action, status, COUNT(*) FROM run_records
		 GROUP BY target_type, action, status
		 ORDER BY target_type, action, status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.RunTally
	for rows.Next() {
		var t models.RunTally
		if err := rows.Scan(&t.TargetType, &t.Action, &t.Status, &t.Count); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// History counts run records per UTC day and status since the given time.
func (r *RunRepo) History(ctx context.Context, since time.Time) ([]models.DailyTally, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT date_trunc('day', started_at AT TIME ZONE 'UTC') AS day, status, COUNT(*)
		 FROM run_records
		 WHERE started_at >= $1
		 GROUP BY day, status
		 ORDER BY day, status`,
		since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.DailyTally
	for rows.Next() {
		var d models.DailyTally
		if err := rows.Scan(&d.Day, &d.Status, &d.Count); err != nil {
			return nil, err
		}
		d.Day = time.Date(d.Day.Year(), d.Day.Month(), d.Day.Day(), 0, 0, 0, 0, time.UTC)
		out = append(out, d)
	}
	return out, rows.Err()
}
