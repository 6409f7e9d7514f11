package executor

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/crucial707/chaos-scheduler/internal/chaoserr"
	"github.com/crucial707/chaos-scheduler/internal/models"
	"github.com/crucial707/chaos-scheduler/internal/transport/transporttest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLog struct {
	mu   sync.Mutex
	recs []models.RunRecord
	err  error
}

func (f *fakeLog) Append(_ context.Context, rec *models.RunRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.recs = append(f.recs, *rec)
	return nil
}

func (f *fakeLog) records() []models.RunRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.RunRecord(nil), f.recs...)
}

type fakeStatus struct {
	mu  sync.Mutex
	set map[int]models.TargetStatus
}

func (f *fakeStatus) SetStatus(_ context.Context, id int, s models.TargetStatus, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.set == nil {
		f.set = map[int]models.TargetStatus{}
	}
	f.set[id] = s
	return nil
}

func target(id int) *models.Target {
	return &models.Target{ID: id, Name: "srv", Type: models.TargetServer}
}

func quiet() Option { return WithLogger(slog.New(slog.DiscardHandler)) }

func TestExecute_SerializesPerTarget(t *testing.T) {
	stub := &transporttest.Stub{
		RunFunc: func(ctx context.Context, _ *models.Target, _ models.Action) (string, error) {
			time.Sleep(3 * time.Millisecond)
			return "ok", nil
		},
	}
	log := &fakeLog{}
	ex := New(stub, log, nil, quiet())

	const n = 25
	var wg sync.WaitGroup
	actions := []models.Action{models.ActionStop, models.ActionRestart, models.ActionStart}
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := ex.Execute(context.Background(), Request{Target: target(1), Action: actions[i%3]})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	calls := stub.Calls()
	require.Len(t, calls, n)
	sort.Slice(calls, func(i, j int) bool { return calls[i].Start.Before(calls[j].Start) })
	for i := 1; i < len(calls); i++ {
		assert.False(t, calls[i].Start.Before(calls[i-1].End), "call %d overlaps call %d", i, i-1)
	}

	recs := log.records()
	require.Len(t, recs, n)
	sort.Slice(recs, func(i, j int) bool { return recs[i].StartedAt.Before(recs[j].StartedAt) })
	for i := 1; i < len(recs); i++ {
		assert.False(t, recs[i].StartedAt.Before(recs[i-1].CompletedAt), "record windows overlap")
	}
	assert.Equal(t, 0, ex.locks.Size(), "arena should be empty once idle")
}

func TestExecute_DistinctTargetsRunConcurrently(t *testing.T) {
	var started sync.WaitGroup
	started.Add(2)
	both := make(chan struct{})
	go func() {
		started.Wait()
		close(both)
	}()

	stub := &transporttest.Stub{
		RunFunc: func(ctx context.Context, _ *models.Target, _ models.Action) (string, error) {
			started.Done()
			select {
			case <-both:
				return "ok", nil
			case <-time.After(2 * time.Second):
				return "", errors.New("targets were serialized")
			}
		},
	}
	ex := New(stub, &fakeLog{}, nil, quiet())

	var wg sync.WaitGroup
	for _, id := range []int{1, 2} {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			_, err := ex.Execute(context.Background(), Request{Target: target(id), Action: models.ActionRestart})
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()
}

func TestExecute_RetryBound(t *testing.T) {
	stub := &transporttest.Stub{
		RunFunc: func(context.Context, *models.Target, models.Action) (string, error) {
			return "", chaoserr.E(chaoserr.KindTimeout, "stub", "no reply", nil)
		},
	}
	var sleeps []time.Duration
	log := &fakeLog{}
	ex := New(stub, log, nil, quiet(),
		WithRetry(3, time.Second),
		WithSleep(func(_ context.Context, d time.Duration) error {
			sleeps = append(sleeps, d)
			return nil
		}),
	)

	rec, err := ex.Execute(context.Background(), Request{Target: target(7), Action: models.ActionRestart})
	require.Error(t, err)
	assert.True(t, errors.Is(err, chaoserr.ErrTargetUnreachable))
	assert.Equal(t, chaoserr.KindTargetUnreachable, chaoserr.KindOf(err))

	assert.Len(t, stub.Calls(), 3)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeps)

	recs := log.records()
	require.Len(t, recs, 1)
	assert.Equal(t, models.RunFailure, recs[0].Status)
	assert.Equal(t, 3, recs[0].Attempts)
	assert.Contains(t, recs[0].Error, "after 3 attempts")
	assert.Equal(t, rec.TriggerID, recs[0].TriggerID)
	assert.False(t, ex.Busy(7))
}

func TestExecute_TerminalErrorsNotRetried(t *testing.T) {
	for _, kind := range []chaoserr.Kind{chaoserr.KindAuthentication, chaoserr.KindActionRejected} {
		stub := &transporttest.Stub{
			RunFunc: func(context.Context, *models.Target, models.Action) (string, error) {
				return "", chaoserr.E(kind, "stub", "", nil)
			},
		}
		log := &fakeLog{}
		ex := New(stub, log, nil, quiet())

		rec, err := ex.Execute(context.Background(), Request{Target: target(1), Action: models.ActionStop})
		assert.Equal(t, kind, chaoserr.KindOf(err))
		assert.Len(t, stub.Calls(), 1)
		require.NotNil(t, rec)
		assert.Equal(t, 1, rec.Attempts)
		assert.Len(t, log.records(), 1)
	}
}

func TestExecute_SuccessRecordsImpliedStatus(t *testing.T) {
	status := &fakeStatus{}
	log := &fakeLog{}
	expID := 4
	ex := New(&transporttest.Stub{}, log, status, quiet())

	rec, err := ex.Execute(context.Background(), Request{Target: target(3), Action: models.ActionStop, ExperimentID: &expID, TriggerID: "trig-1"})
	require.NoError(t, err)
	assert.Equal(t, models.RunSuccess, rec.Status)
	assert.Empty(t, rec.Error)
	assert.Equal(t, "trig-1", rec.TriggerID)
	require.NotNil(t, rec.ExperimentID)
	assert.Equal(t, 4, *rec.ExperimentID)
	assert.Equal(t, models.StatusOffline, status.set[3])

	_, err = ex.Execute(context.Background(), Request{Target: target(3), Action: models.ActionStart})
	require.NoError(t, err)
	assert.Equal(t, models.StatusOnline, status.set[3])
}

func TestExecute_PanicReleasesLock(t *testing.T) {
	stub := &transporttest.Stub{
		RunFunc: func(context.Context, *models.Target, models.Action) (string, error) { panic("transport bug") },
	}
	log := &fakeLog{}
	ex := New(stub, log, nil, quiet())

	rec, err := ex.Execute(context.Background(), Request{Target: target(5), Action: models.ActionRestart})
	require.Error(t, err)
	assert.Equal(t, models.RunFailure, rec.Status)
	assert.Contains(t, rec.Error, "transport bug")
	assert.False(t, ex.Busy(5))
	assert.Len(t, log.records(), 1)
}

func TestExecute_CancelWhileWaitingForLock(t *testing.T) {
	hold := make(chan struct{})
	running := make(chan struct{})
	stub := &transporttest.Stub{
		RunFunc: func(context.Context, *models.Target, models.Action) (string, error) {
			close(running)
			<-hold
			return "ok", nil
		},
	}
	log := &fakeLog{}
	ex := New(stub, log, nil, quiet())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = ex.Execute(context.Background(), Request{Target: target(9), Action: models.ActionStop})
	}()
	<-running
	assert.True(t, ex.Busy(9))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	rec, err := ex.Execute(ctx, Request{Target: target(9), Action: models.ActionStart})
	assert.Nil(t, rec)
	assert.True(t, errors.Is(err, chaoserr.ErrTimeout))

	close(hold)
	<-done
	assert.False(t, ex.Busy(9))
	assert.Len(t, log.records(), 1)
}

func TestExecute_PersistenceFailureSurfaced(t *testing.T) {
	log := &fakeLog{err: errors.New("db down")}
	ex := New(&transporttest.Stub{}, log, nil, quiet())

	rec, err := ex.Execute(context.Background(), Request{Target: target(2), Action: models.ActionRestart})
	assert.True(t, errors.Is(err, chaoserr.ErrPersistence))
	require.NotNil(t, rec)
	assert.Equal(t, models.RunSuccess, rec.Status)
}

func TestExecute_RejectsInvalidRequest(t *testing.T) {
	stub := &transporttest.Stub{}
	ex := New(stub, &fakeLog{}, nil, quiet())

	rec, err := ex.Execute(context.Background(), Request{Target: target(1), Action: "reboot"})
	assert.Nil(t, rec)
	assert.True(t, errors.Is(err, chaoserr.ErrValidation))
	assert.Empty(t, stub.Calls())
}

func TestExecute_ScheduledTriggerCanceledBeforeStartIsRecorded(t *testing.T) {
	stub := &transporttest.Stub{}
	log := &fakeLog{}
	ex := New(stub, log, nil, quiet())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	expID := 12
	rec, err := ex.Execute(ctx, Request{Target: target(4), Action: models.ActionStop, ExperimentID: &expID, TriggerID: "trig-9"})
	assert.True(t, errors.Is(err, chaoserr.ErrTimeout))
	require.NotNil(t, rec)
	assert.Equal(t, models.RunFailure, rec.Status)
	assert.Equal(t, 0, rec.Attempts)
	assert.Contains(t, rec.Error, "canceled before start")
	assert.Empty(t, stub.Calls())

	recs := log.records()
	require.Len(t, recs, 1)
	assert.Equal(t, "trig-9", recs[0].TriggerID)
	require.NotNil(t, recs[0].ExperimentID)
	assert.Equal(t, 12, *recs[0].ExperimentID)
	assert.False(t, ex.Busy(4))
}

func TestExecute_PersistenceFailureStillRecordsStatus(t *testing.T) {
	status := &fakeStatus{}
	log := &fakeLog{err: errors.New("db down")}
	ex := New(&transporttest.Stub{}, log, status, quiet())

	_, err := ex.Execute(context.Background(), Request{Target: target(6), Action: models.ActionStop})
	assert.True(t, errors.Is(err, chaoserr.ErrPersistence))
	assert.Equal(t, models.StatusOffline, status.set[6])
}
