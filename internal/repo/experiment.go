package repo

import (
	"context"
	"database/sql"
	"time"

	"github.com/crucial707/chaos-scheduler/internal/chaoserr"
	"github.com/crucial707/chaos-scheduler/internal/models"
)

const experimentColumns = `id, name, description, target_id, action, schedule_kind, run_at, cron_expr,
	next_fire_at, last_fired_at, active, created_at, updated_at`

// ExperimentRepo persists experiment definitions.
type ExperimentRepo struct {
	DB *sql.DB
}

// NewExperimentRepo returns a new ExperimentRepo.
func NewExperimentRepo(db *sql.DB) *ExperimentRepo {
	return &ExperimentRepo{DB: db}
}

func scanExperiment(row rowScanner) (*models.Experiment, error) {
	var (
		e                        models.Experiment
		runAt, nextFire, lastRun sql.NullTime
	)
	err := row.Scan(&e.ID, &e.Name, &e.Description, &e.TargetID, &e.Action, &e.ScheduleKind,
		&runAt, &e.CronExpr, &nextFire, &lastRun, &e.Active, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.RunAt = timePtr(runAt)
	e.NextFireAt = timePtr(nextFire)
	e.LastFiredAt = timePtr(lastRun)
	return &e, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func (r *ExperimentRepo) queryList(ctx context.Context, query string, args ...any) ([]models.Experiment, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Experiment
	for rows.Next() {
		e, err := scanExperiment(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *e)
	}
	return list, rows.Err()
}

// Create inserts a new experiment and returns it with id and timestamps set.
func (r *ExperimentRepo) Create(ctx context.Context, e models.Experiment) (*models.Experiment, error) {
	row := r.DB.QueryRowContext(ctx,
		`INSERT INTO experiments (name, description, target_id, action, schedule_kind, run_at, cron_expr, next_fire_at, active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING `+experimentColumns,
		e.Name, e.Description, e.TargetID, e.Action, e.ScheduleKind, e.RunAt, e.CronExpr, e.NextFireAt, e.Active,
	)
	out, err := scanExperiment(row)
	if err != nil && isForeignKeyViolation(err) {
		return nil, chaoserr.E(chaoserr.KindNotFound, "repo.ExperimentRepo.Create", "target does not exist", err)
	}
	return out, err
}

// GetByID returns one experiment, or nil if not found.
func (r *ExperimentRepo) GetByID(ctx context.Context, id int) (*models.Experiment, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+experimentColumns+` FROM experiments WHERE id = $1`, id)
	e, err := scanExperiment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

// List returns experiments, most recent first.
func (r *ExperimentRepo) List(ctx context.Context, limit, offset int) ([]models.Experiment, error) {
	return r.queryList(ctx,
		`SELECT `+experimentColumns+` FROM experiments ORDER BY id DESC LIMIT $1 OFFSET $2`,
		limit, offset,
	)
}

// ListDue returns active experiments whose next fire time is at or before asOf,
// ordered by next fire time then id.
func (r *ExperimentRepo) ListDue(ctx context.Context, asOf time.Time) ([]models.Experiment, error) {
	return r.queryList(ctx,
		`SELECT `+experimentColumns+` FROM experiments
		 WHERE active AND next_fire_at IS NOT NULL AND next_fire_at <= $1
		 ORDER BY next_fire_at, id`,
		asOf,
	)
}

// ListUpcoming returns active experiments firing strictly after the given time.
func (r *ExperimentRepo) ListUpcoming(ctx context.Context, after time.Time, limit int) ([]models.Experiment, error) {
	return r.queryList(ctx,
		`SELECT `+experimentColumns+` FROM experiments
		 WHERE active AND next_fire_at > $1
		 ORDER BY next_fire_at, id
		 LIMIT $2`,
		after, limit,
	)
}

// UpdateSchedule records a firing. Only active rows are touched, so a second
// call for an already-deactivated experiment reports false.
func (r *ExperimentRepo) UpdateSchedule(ctx context.Context, id int, active bool, nextFireAt *time.Time, firedAt time.Time) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE experiments
		 SET active = $1, next_fire_at = $2, last_fired_at = $3, updated_at = now()
		 WHERE id = $4 AND active`,
		active, nextFireAt, firedAt, id,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Counts returns the total and active experiment counts.
func (r *ExperimentRepo) Counts(ctx context.Context) (total, active int, err error) {
	err = r.DB.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE active) FROM experiments`,
	).Scan(&total, &active)
	return total, active, err
}

// CountByTarget returns how many experiments reference a target.
func (r *ExperimentRepo) CountByTarget(ctx context.Context, targetID int) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM experiments WHERE target_id = $1`, targetID).Scan(&n)
	return n, err
}

// Delete removes an experiment. Run records keep their experiment id.
func (r *ExperimentRepo) Delete(ctx context.Context, id int) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM experiments WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
