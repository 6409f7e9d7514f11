// Package memstore keeps targets, experiments, runs, users and audit entries
// in process memory. It mirrors the repo package's method set so the engine
// can run without Postgres (STORAGE=memory) and in tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/crucial707/chaos-scheduler/internal/chaoserr"
	"github.com/crucial707/chaos-scheduler/internal/models"
	"golang.org/x/crypto/bcrypt"
)

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// ==========================
// Targets
// ==========================

type Targets struct {
	mu     sync.RWMutex
	nextID int
	rows   map[int]models.Target
	now    func() time.Time
}

func NewTargets() *Targets {
	return &Targets{rows: make(map[int]models.Target), now: time.Now}
}

func cloneTarget(t models.Target) *models.Target {
	if t.Server != nil {
		s := *t.Server
		t.Server = &s
	}
	if t.Container != nil {
		c := *t.Container
		t.Container = &c
	}
	if t.LastCheckedAt != nil {
		at := *t.LastCheckedAt
		t.LastCheckedAt = &at
	}
	return &t
}

func (s *Targets) Create(_ context.Context, t models.Target) (*models.Target, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	t.ID = s.nextID
	if t.Status == "" {
		t.Status = models.StatusUnknown
	}
	t.CreatedAt = s.now().UTC()
	s.rows[t.ID] = *cloneTarget(t)
	return cloneTarget(t), nil
}

func (s *Targets) GetByID(_ context.Context, id int) (*models.Target, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.rows[id]
	if !ok {
		return nil, nil
	}
	return cloneTarget(t), nil
}

func (s *Targets) List(_ context.Context, limit, offset int) ([]models.Target, error) {
	s.mu.RLock()
	list := make([]models.Target, 0, len(s.rows))
	for _, t := range s.rows {
		list = append(list, *cloneTarget(t))
	}
	s.mu.RUnlock()
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return page(list, limit, offset), nil
}

func (s *Targets) ListByEndpoint(_ context.Context, endpoint string) ([]models.Target, error) {
	s.mu.RLock()
	var list []models.Target
	for _, t := range s.rows {
		if t.Container != nil && t.Container.Endpoint == endpoint {
			list = append(list, *cloneTarget(t))
		}
	}
	s.mu.RUnlock()
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}

func (s *Targets) CountByType(_ context.Context) (map[models.TargetType]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[models.TargetType]int)
	for _, t := range s.rows {
		counts[t.Type]++
	}
	return counts, nil
}

func (s *Targets) UpdateStatus(_ context.Context, id int, status models.TargetStatus, checkedAt time.Time) (models.TargetStatus, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.rows[id]
	if !ok {
		return "", false, nil
	}
	prev := t.Status
	t.Status = status
	at := checkedAt
	t.LastCheckedAt = &at
	s.rows[id] = t
	return prev, true, nil
}

func (s *Targets) Delete(_ context.Context, id int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[id]; !ok {
		return false, nil
	}
	delete(s.rows, id)
	return true, nil
}

// ==========================
// Experiments
// ==========================

type Experiments struct {
	mu     sync.RWMutex
	nextID int
	rows   map[int]models.Experiment
	now    func() time.Time
}

func NewExperiments() *Experiments {
	return &Experiments{rows: make(map[int]models.Experiment), now: time.Now}
}

func cloneExperiment(e models.Experiment) models.Experiment {
	for _, p := range []**time.Time{&e.RunAt, &e.NextFireAt, &e.LastFiredAt} {
		if *p != nil {
			v := **p
			*p = &v
		}
	}
	return e
}

func (s *Experiments) Create(_ context.Context, e models.Experiment) (*models.Experiment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	e.ID = s.nextID
	now := s.now().UTC()
	e.CreatedAt, e.UpdatedAt = now, now
	s.rows[e.ID] = cloneExperiment(e)
	out := cloneExperiment(e)
	return &out, nil
}

func (s *Experiments) GetByID(_ context.Context, id int) (*models.Experiment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.rows[id]
	if !ok {
		return nil, nil
	}
	out := cloneExperiment(e)
	return &out, nil
}

func (s *Experiments) snapshot(keep func(models.Experiment) bool) []models.Experiment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var list []models.Experiment
	for _, e := range s.rows {
		if keep(e) {
			list = append(list, cloneExperiment(e))
		}
	}
	return list
}

func byNextFire(list []models.Experiment) {
	sort.Slice(list, func(i, j int) bool {
		a, b := list[i].NextFireAt, list[j].NextFireAt
		if !a.Equal(*b) {
			return a.Before(*b)
		}
		return list[i].ID < list[j].ID
	})
}

func (s *Experiments) List(_ context.Context, limit, offset int) ([]models.Experiment, error) {
	list := s.snapshot(func(models.Experiment) bool { return true })
	sort.Slice(list, func(i, j int) bool { return list[i].ID > list[j].ID })
	return page(list, limit, offset), nil
}

func (s *Experiments) ListDue(_ context.Context, asOf time.Time) ([]models.Experiment, error) {
	list := s.snapshot(func(e models.Experiment) bool {
		return e.Active && e.NextFireAt != nil && !e.NextFireAt.After(asOf)
	})
	byNextFire(list)
	return list, nil
}

func (s *Experiments) ListUpcoming(_ context.Context, after time.Time, limit int) ([]models.Experiment, error) {
	list := s.snapshot(func(e models.Experiment) bool {
		return e.Active && e.NextFireAt != nil && e.NextFireAt.After(after)
	})
	byNextFire(list)
	return page(list, limit, 0), nil
}

func (s *Experiments) UpdateSchedule(_ context.Context, id int, active bool, nextFireAt *time.Time, firedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.rows[id]
	if !ok || !e.Active {
		return false, nil
	}
	e.Active = active
	e.NextFireAt = nil
	if nextFireAt != nil {
		n := *nextFireAt
		e.NextFireAt = &n
	}
	f := firedAt
	e.LastFiredAt = &f
	e.UpdatedAt = s.now().UTC()
	s.rows[id] = e
	return true, nil
}

func (s *Experiments) Counts(_ context.Context) (total, active int, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.rows {
		total++
		if e.Active {
			active++
		}
	}
	return total, active, nil
}

func (s *Experiments) CountByTarget(_ context.Context, targetID int) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.rows {
		if e.TargetID == targetID {
			n++
		}
	}
	return n, nil
}

func (s *Experiments) Delete(_ context.Context, id int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[id]; !ok {
		return false, nil
	}
	delete(s.rows, id)
	return true, nil
}

// ==========================
// Runs
// ==========================

// Runs is an append-only run record list. FailNext makes the next n inserts
// fail, which tests use to exercise the run log's retry buffer.
type Runs struct {
	mu        sync.RWMutex
	rows      []models.RunRecord
	byTrigger map[string]int64
	failNext  int
}

func NewRuns() *Runs {
	return &Runs{byTrigger: make(map[string]int64)}
}

// FailNext makes the next n Insert calls return a persistence error.
func (s *Runs) FailNext(n int) {
	s.mu.Lock()
	s.failNext = n
	s.mu.Unlock()
}

func (s *Runs) Insert(_ context.Context, rec models.RunRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext > 0 {
		s.failNext--
		return 0, chaoserr.E(chaoserr.KindPersistence, "memstore.Runs.Insert", "injected failure", nil)
	}
	if id, ok := s.byTrigger[rec.TriggerID]; ok && rec.TriggerID != "" {
		return id, nil
	}
	rec.ID = int64(len(s.rows) + 1)
	if rec.ExperimentID != nil {
		id := *rec.ExperimentID
		rec.ExperimentID = &id
	}
	s.rows = append(s.rows, rec)
	if rec.TriggerID != "" {
		s.byTrigger[rec.TriggerID] = rec.ID
	}
	return rec.ID, nil
}

// Query returns matching records, newest first.
func (s *Runs) Query(_ context.Context, f models.RunFilter, limit, offset int) ([]models.RunRecord, error) {
	s.mu.RLock()
	var list []models.RunRecord
	for i := range s.rows {
		if f.Match(&s.rows[i]) {
			list = append(list, s.rows[i])
		}
	}
	s.mu.RUnlock()
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].StartedAt.Equal(list[j].StartedAt) {
			return list[i].StartedAt.After(list[j].StartedAt)
		}
		return list[i].ID > list[j].ID
	})
	return page(list, limit, offset), nil
}

func (s *Runs) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows), nil
}

func (s *Runs) Summary(_ context.Context) ([]models.RunTally, error) {
	type key struct {
		typ    models.TargetType
		action models.Action
		status models.RunStatus
	}
	counts := make(map[key]int)
	s.mu.RLock()
	for _, r := range s.rows {
		counts[key{r.TargetType, r.Action, r.Status}]++
	}
	s.mu.RUnlock()

	out := make([]models.RunTally, 0, len(counts))
	for k, n := range counts {
		out = append(out, models.RunTally{TargetType: k.typ, Action: k.action, Status: k.status, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.TargetType != b.TargetType {
			return a.TargetType < b.TargetType
		}
		if a.Action != b.Action {
			return a.Action < b.Action
		}
		return a.Status < b.Status
	})
	return out, nil
}

func (s *Runs) History(_ context.Context, since time.Time) ([]models.DailyTally, error) {
	type key struct {
		day    time.Time
		status models.RunStatus
	}
	counts := make(map[key]int)
	s.mu.RLock()
	for _, r := range s.rows {
		if r.StartedAt.Before(since) {
			continue
		}
		u := r.StartedAt.UTC()
		counts[key{time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC), r.Status}]++
	}
	s.mu.RUnlock()

	out := make([]models.DailyTally, 0, len(counts))
	for k, n := range counts {
		out = append(out, models.DailyTally{Day: k.day, Status: k.status, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Day.Equal(out[j].Day) {
			return out[i].Day.Before(out[j].Day)
		}
		return out[i].Status < out[j].Status
	})
	return out, nil
}

// ==========================
// Users
// ==========================

type Users struct {
	mu     sync.RWMutex
	nextID int
	rows   map[string]models.User
}

func NewUsers() *Users {
	return &Users{rows: make(map[string]models.User)}
}

func (s *Users) Create(_ context.Context, username, password, role string) (*models.User, error) {
	var hash string
	if password != "" {
		b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
		if err != nil {
			return nil, err
		}
		hash = string(b)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[username]; ok {
		return nil, chaoserr.E(chaoserr.KindConflict, "memstore.Users.Create", "username taken", nil)
	}
	s.nextID++
	u := models.User{ID: s.nextID, Username: username, PasswordHash: hash, Role: role}
	s.rows[username] = u
	return &u, nil
}

func (s *Users) GetByUsername(_ context.Context, username string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.rows[username]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

// ==========================
// Audit
// ==========================

type Audit struct {
	mu   sync.RWMutex
	rows []models.AuditEntry
}

func NewAudit() *Audit {
	return &Audit{}
}

func (s *Audit) Log(_ context.Context, userID int, action, resourceType string, resourceID int, details string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, models.AuditEntry{
		ID:           len(s.rows) + 1,
		UserID:       userID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Details:      details,
		CreatedAt:    time.Now().UTC(),
	})
	return nil
}

func (s *Audit) List(_ context.Context, resourceType string, limit, offset int) ([]models.AuditEntry, error) {
	s.mu.RLock()
	var list []models.AuditEntry
	for i := len(s.rows) - 1; i >= 0; i-- {
		if resourceType == "" || s.rows[i].ResourceType == resourceType {
			list = append(list, s.rows[i])
		}
	}
	s.mu.RUnlock()
	return page(list, limit, offset), nil
}
