package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/crucial707/chaos-scheduler/internal/chaoserr"
	"github.com/crucial707/chaos-scheduler/internal/models"
)

const targetColumns = `id, name, type, connection, status, last_checked_at, created_at`

// TargetRepo persists targets and their connection descriptors.
type TargetRepo struct {
	DB *sql.DB
}

// NewTargetRepo returns a new TargetRepo.
func NewTargetRepo(db *sql.DB) *TargetRepo {
	return &TargetRepo{DB: db}
}

func scanTarget(row rowScanner) (*models.Target, error) {
	var (
		t         models.Target
		conn      []byte
		checkedAt sql.NullTime
	)
	if err := row.Scan(&t.ID, &t.Name, &t.Type, &conn, &t.Status, &checkedAt, &t.CreatedAt); err != nil {
		return nil, err
	}
	if checkedAt.Valid {
		ts := checkedAt.Time
		t.LastCheckedAt = &ts
	}
	switch t.Type {
	case models.TargetServer:
		t.Server = &models.ServerConn{}
		if err := json.Unmarshal(conn, t.Server); err != nil {
			return nil, fmt.Errorf("decode server connection for target %d: %w", t.ID, err)
		}
	case models.TargetContainer:
		t.Container = &models.ContainerConn{}
		if err := json.Unmarshal(conn, t.Container); err != nil {
			return nil, fmt.Errorf("decode container connection for target %d: %w", t.ID, err)
		}
	}
	return &t, nil
}

func connectionJSON(t models.Target) ([]byte, error) {
	if t.Type == models.TargetServer {
		return json.Marshal(t.Server)
	}
	return json.Marshal(t.Container)
}

// Create inserts a target and returns it with id and created_at set.
func (r *TargetRepo) Create(ctx context.Context, t models.Target) (*models.Target, error) {
	conn, err := connectionJSON(t)
	if err != nil {
		return nil, err
	}
	status := t.Status
	if status == "" {
		status = models.StatusUnknown
	}
	row := r.DB.QueryRowContext(ctx,
		`INSERT INTO targets (name, type, connection, status)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+targetColumns,
		t.Name, t.Type, conn, status,
	)
	return scanTarget(row)
}

// GetByID returns a target, or nil if it does not exist.
func (r *TargetRepo) GetByID(ctx context.Context, id int) (*models.Target, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+targetColumns+` FROM targets WHERE id = $1`, id)
	t, err := scanTarget(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

// List returns targets ordered by id.
func (r *TargetRepo) List(ctx context.Context, limit, offset int) ([]models.Target, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+targetColumns+` FROM targets ORDER BY id LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Target
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *t)
	}
	return list, rows.Err()
}

// ListByEndpoint returns the container targets behind one runtime endpoint.
func (r *TargetRepo) ListByEndpoint(ctx context.Context, endpoint string) ([]models.Target, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+targetColumns+` FROM targets
		 WHERE type = 'container' AND connection->>'endpoint' = $1
		 ORDER BY id`,
		endpoint,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Target
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *t)
	}
	return list, rows.Err()
}

// CountByType returns the number of targets per type.
func (r *TargetRepo) CountByType(ctx context.Context) (map[models.TargetType]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT type, COUNT(*) FROM targets GROUP BY type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[models.TargetType]int)
	for rows.Next() {
		var (
			typ models.TargetType
			n   int
		)
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, err
		}
		counts[typ] = n
	}
	return counts, rows.Err()
}

// UpdateStatus stores a status report and returns the status it replaced.
// found is false when the target does not exist.
func (r *TargetRepo) UpdateStatus(ctx context.Context, id int, status models.TargetStatus, checkedAt time.Time) (models.TargetStatus, bool, error) {
	var prev models.TargetStatus
	err := r.DB.QueryRowContext(ctx,
		`UPDATE targets t SET status = $1, last_checked_at = $2
		 FROM (SELECT id, status FROM targets WHERE id = $3 FOR UPDATE) old
		 WHERE t.id = old.id
		 RETURNING old.status`,
		status, checkedAt, id,
	).Scan(&prev)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return prev, true, nil
}

// Delete removes a target. It fails with a conflict while experiments still reference it.
func (r *TargetRepo) Delete(ctx context.Context, id int) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM targets WHERE id = $1`, id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return false, chaoserr.E(chaoserr.KindConflict, "repo.TargetRepo.Delete", "target is referenced by experiments", err)
		}
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
