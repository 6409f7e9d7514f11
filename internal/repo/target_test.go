package repo

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/crucial707/chaos-scheduler/internal/chaoserr"
	"github.com/crucial707/chaos-scheduler/internal/models"
	"github.com/lib/pq"
)

var targetCols = []string{"id", "name", "type", "connection", "status", "last_checked_at", "created_at"}

func TestTargetRepo_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Now()
	conn := `{"host":"10.0.0.5","port":22,"username":"root","credential_ref":"env:WEB1_PASS"}`
	mock.ExpectQuery(`INSERT INTO targets`).
		WithArgs("web-1", models.TargetServer, sqlmock.AnyArg(), models.StatusUnknown).
		WillReturnRows(sqlmock.NewRows(targetCols).
			AddRow(1, "web-1", "server", conn, "unknown", nil, now))

	r := NewTargetRepo(db)
	got, err := r.Create(context.Background(), models.Target{
		Name: "web-1",
		Type: models.TargetServer,
		Server: &models.ServerConn{
			Host: "10.0.0.5", Port: 22, Username: "root", CredentialRef: "env:WEB1_PASS",
		},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if got.ID != 1 || got.Server == nil || got.Server.Host != "10.0.0.5" || got.Container != nil {
		t.Errorf("unexpected target: %+v", got)
	}
	if got.LastCheckedAt != nil {
		t.Errorf("expected nil last_checked_at, got %v", got.LastCheckedAt)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestTargetRepo_GetByID_Container(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Now()
	conn := `{"endpoint":"tcp://docker-1:2375","container_id":"abc123"}`
	mock.ExpectQuery(`SELECT id, name, type, connection, status, last_checked_at, created_at FROM targets WHERE id`).
		WithArgs(7).
		WillReturnRows(sqlmock.NewRows(targetCols).
			AddRow(7, "cache", "container", conn, "online", now, now))

	r := NewTargetRepo(db)
	got, err := r.GetByID(context.Background(), 7)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got == nil || got.Container == nil || got.Container.ContainerID != "abc123" {
		t.Fatalf("unexpected target: %+v", got)
	}
	if got.Status != models.StatusOnline || got.LastCheckedAt == nil {
		t.Errorf("status not scanned: %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestTargetRepo_GetByID_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT id, name, type`).
		WithArgs(999).
		WillReturnError(sql.ErrNoRows)

	r := NewTargetRepo(db)
	got, err := r.GetByID(context.Background(), 999)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestTargetRepo_UpdateStatus(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	checked := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`UPDATE targets t SET status`).
		WithArgs(models.StatusOffline, checked, 3).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("online"))
	mock.ExpectQuery(`UPDATE targets t SET status`).
		WithArgs(models.StatusOffline, checked, 4).
		WillReturnError(sql.ErrNoRows)

	r := NewTargetRepo(db)
	prev, found, err := r.UpdateStatus(context.Background(), 3, models.StatusOffline, checked)
	if err != nil || !found || prev != models.StatusOnline {
		t.Errorf("UpdateStatus(3): prev=%q found=%v err=%v", prev, found, err)
	}
	_, found, err = r.UpdateStatus(context.Background(), 4, models.StatusOffline, checked)
	if err != nil || found {
		t.Errorf("UpdateStatus(4): found=%v err=%v", found, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestTargetRepo_CountByType(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT type, COUNT\(\*\) FROM targets GROUP BY type`).
		WillReturnRows(sqlmock.NewRows([]string{"type", "count"}).
			AddRow("server", 3).
			AddRow("container", 5))

	r := NewTargetRepo(db)
	counts, err := r.CountByType(context.Background())
	if err != nil {
		t.Fatalf("CountByType: %v", err)
	}
	if counts[models.TargetServer] != 3 || counts[models.TargetContainer] != 5 {
		t.Errorf("unexpected counts: %v", counts)
	}
}

func TestTargetRepo_Delete_Referenced(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`DELETE FROM targets WHERE id`).
		WithArgs(2).
		WillReturnError(&pq.Error{Code: "23503"})

	r := NewTargetRepo(db)
	_, err = r.Delete(context.Background(), 2)
	if !errors.Is(err, chaoserr.ErrConflict) {
		t.Errorf("expected conflict, got %v", err)
	}
}

func TestTargetRepo_Delete(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`DELETE FROM targets WHERE id`).
		WithArgs(2).
		WillReturnResult(sqlmock.NewResult(0, 1))

	r := NewTargetRepo(db)
	ok, err := r.Delete(context.Background(), 2)
	if err != nil || !ok {
		t.Errorf("Delete: ok=%v err=%v", ok, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestTargetRepo_ListByEndpoint(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Now()
	conn := `{"endpoint":"tcp://10.0.0.9:2375","container_id":"4f1e2d3c4b5a"}`
	mock.ExpectQuery(`SELECT .+ FROM targets\s+WHERE type = 'container' AND connection->>'endpoint' = \$1`).
		WithArgs("tcp://10.0.0.9:2375").
		WillReturnRows(sqlmock.NewRows(targetCols).
			AddRow(3, "web-1", "container", conn, "online", now, now))

	list, err := NewTargetRepo(db).ListByEndpoint(context.Background(), "tcp://10.0.0.9:2375")
	if err != nil {
		t.Fatalf("ListByEndpoint: %v", err)
	}
	if len(list) != 1 || list[0].Container == nil || list[0].Container.ContainerID != "4f1e2d3c4b5a" {
		t.Errorf("unexpected list: %+v", list)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}
