package runlog

import (
	"context"
	"time"

	"github.com/crucial707/chaos-scheduler/internal/chaoserr"
	"github.com/crucial707/chaos-scheduler/internal/models"
)

// Summary aggregates the whole run log.
type Summary struct {
	Total        int               `json:"total"`
	Success      int               `json:"success"`
	Failure      int               `json:"failure"`
	SuccessRate  float64           `json:"success_rate"`
	ByTargetType map[string]int    `json:"by_target_type"`
	ByAction     map[string]int    `json:"by_action"`
	Tallies      []models.RunTally `json:"tallies"`
}

// Day is one UTC day of history.
type Day struct {
	Date    string `json:"date"`
	Success int    `json:"success"`
	Failure int    `json:"failure"`
}

func (l *Log) Summary(ctx context.Context) (*Summary, error) {
	tallies, err := l.store.Summary(ctx)
	if err != nil {
		return nil, chaoserr.E(chaoserr.KindPersistence, "runlog.Summary", "", err)
	}
	s := &Summary{
		ByTargetType: map[string]int{},
		ByAction:     map[string]int{},
		Tallies:      tallies,
	}
	if s.Tallies == nil {
		s.Tallies = []models.RunTally{}
	}
	for _, t := range tallies {
		s.Total += t.Count
		if t.Status == models.RunSuccess {
			s.Success += t.Count
		} else {
			s.Failure += t.Count
		}
		s.ByTargetType[string(t.TargetType)] += t.Count
		s.ByAction[string(t.Action)] += t.Count
	}
	if s.Total > 0 {
		s.SuccessRate = float64(s.Success) / float64(s.Total)
	}
	return s, nil
}

// History returns one entry per UTC day for the last days days, oldest first,
// including days without runs.
func (l *Log) History(ctx context.Context, days int) ([]Day, error) {
	if days < 1 || days > 90 {
		return nil, chaoserr.Validation("runlog.History", map[string]string{"days": "must be between 1 and 90"})
	}
	now := l.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	since := today.AddDate(0, 0, -(days - 1))

	tallies, err := l.store.History(ctx, since)
	if err != nil {
		return nil, chaoserr.E(chaoserr.KindPersistence, "runlog.History", "", err)
	}

	out := make([]Day, days)
	index := make(map[string]int, days)
	for i := range out {
		d := since.AddDate(0, 0, i).Format(time.DateOnly)
		out[i].Date = d
		index[d] = i
	}
	for _, t := range tallies {
		i, ok := index[t.Day.UTC().Format(time.DateOnly)]
		if !ok {
			continue
		}
		if t.Status == models.RunSuccess {
			out[i].Success += t.Count
		} else {
			out[i].Failure += t.Count
		}
	}
	return out, nil
}
