package handlers

import (
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/crucial707/chaos-scheduler/internal/models"
	"github.com/crucial707/chaos-scheduler/internal/runlog"
	"github.com/gorilla/websocket"
)

const (
	streamWriteWait    = 5 * time.Second
	streamPingInterval = 30 * time.Second
)

var streamUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     sameOrigin,
}

// sameOrigin accepts requests without an Origin header (non-browser clients)
// and browser requests whose Origin host matches the request host.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

// LogHandler serves the run log.
type LogHandler struct {
	Log *runlog.Log
}

// parseRunFilter reads experiment_id, target_id, status, action, since and until.
func parseRunFilter(q url.Values) (models.RunFilter, map[string]string) {
	var f models.RunFilter
	fields := map[string]string{}

	intParam := func(name string) *int {
		v := q.Get(name)
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			fields[name] = "must be a positive integer"
			return nil
		}
		return &n
	}
	timeParam := func(name string) *time.Time {
		v := q.Get(name)
		if v == "" {
			return nil
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			fields[name] = "must be an RFC3339 timestamp"
			return nil
		}
		t = t.UTC()
		return &t
	}

	f.ExperimentID = intParam("experiment_id")
	f.TargetID = intParam("target_id")
	f.Since = timeParam("since")
	f.Until = timeParam("until")

	if s := models.RunStatus(q.Get("status")); s != "" {
		if s != models.RunSuccess && s != models.RunFailure {
			fields["status"] = "must be success or failure"
		}
		f.Status = s
	}
	if a := models.Action(q.Get("action")); a != "" {
		if !a.Valid() {
			fields["action"] = "must be stop, start or restart"
		}
		f.Action = a
	}
	return f, fields
}

// ListLogs returns run records, newest first.
// Query: experiment_id, target_id, status, action, since, until (RFC3339), limit (default 50, max 500), offset.
func (h *LogHandler) ListLogs(w http.ResponseWriter, r *http.Request) {
	f, fields := parseRunFilter(r.URL.Query())
	if len(fields) > 0 {
		JSONValidationError(w, "validation failed", fields, http.StatusBadRequest)
		return
	}
	limit, offset := pagination(r, 50, 500)

	recs, err := h.Log.Query(r.Context(), f, limit, offset)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	if recs == nil {
		recs = []models.RunRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// Stream upgrades to a websocket and pushes each appended run record that
// matches the same filters ListLogs accepts.
func (h *LogHandler) Stream(w http.ResponseWriter, r *http.Request) {
	f, fields := parseRunFilter(r.URL.Query())
	if len(fields) > 0 {
		JSONValidationError(w, "validation failed", fields, http.StatusBadRequest)
		return
	}

	// Subscribed before the handshake completes so no record appended after it is missed.
	records := h.Log.Subscribe()
	defer h.Log.Unsubscribe(records)

	conn, err := streamUpgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("log stream upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	// Reads only detect the client going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case rec, ok := <-records:
			if !ok {
				return
			}
			if !f.Match(&rec) {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(rec); err != nil {
				slog.Debug("log stream write failed", "err", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		}
	}
}
