package targets

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/crucial707/chaos-scheduler/internal/models"
	"github.com/spf13/cobra"
)

func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func useServer(t *testing.T, h http.HandlerFunc) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	t.Setenv("CHAOS_API_URL", srv.URL)
	t.Setenv("CHAOS_TOKEN", "test-token")
}

func TestListTargets_TableOutput(t *testing.T) {
	targets := []models.Target{
		{ID: 1, Name: "web-1", Type: models.TargetServer, Status: models.StatusOnline,
			Server: &models.ServerConn{Host: "10.0.0.5", Username: "ops"}},
		{ID: 2, Name: "pg", Type: models.TargetContainer, Status: models.StatusUnknown,
			Container: &models.ContainerConn{Endpoint: "tcp://10.0.0.9:2375", ContainerID: "pg-primary"}},
	}
	useServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/targets" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-token" {
			t.Errorf("missing bearer token")
		}
		_ = json.NewEncoder(w).Encode(targets)
	})

	out, err := execute(t, listTargetsCmd())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, want := range []string{"web-1", "ops@10.0.0.5:22", "pg-primary", "online"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output, got: %s", want, out)
		}
	}
}

func TestImportTargets(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []models.Target
	)
	useServer(t, func(w http.ResponseWriter, r *http.Request) {
		var in models.Target
		_ = json.NewDecoder(r.Body).Decode(&in)
		mu.Lock()
		seen = append(seen, in)
		in.ID = len(seen)
		mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(in)
	})

	file := filepath.Join(t.TempDir(), "targets.yaml")
	doc := `targets:
  - name: web-1
    type: server
    server: {host: 10.0.0.5, port: 2222, username: ops, credential_ref: lab-key}
  - name: pg
    type: container
    container: {endpoint: "tcp://10.0.0.9:2375", container_id: pg-primary}
`
	if err := os.WriteFile(file, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, importTargetsCmd(), "-f", file)
	if err != nil {
		t.Fatalf("import: %v\n%s", err, out)
	}
	if len(seen) != 2 {
		t.Fatalf("posted %d targets, want 2", len(seen))
	}
	if s := seen[0].Server; s == nil || s.Port != 2222 || s.CredentialRef != "lab-key" {
		t.Errorf("server descriptor: %+v", s)
	}
	if c := seen[1].Container; c == nil || c.ContainerID != "pg-primary" {
		t.Errorf("container descriptor: %+v", c)
	}
	if !strings.Contains(out, "registered") {
		t.Errorf("expected result table, got: %s", out)
	}
}

func TestParseImport_MissingName(t *testing.T) {
	_, err := parseImport([]byte("targets:\n  - type: server\n"))
	if err == nil || !strings.Contains(err.Error(), "name is required") {
		t.Errorf("got %v", err)
	}
}

func TestAction_FailurePrintsRun(t *testing.T) {
	useServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/targets/3/actions/restart" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"error": "target unreachable: giving up after 3 attempts",
			"run": models.RunRecord{
				ID: 9, TriggerID: "abc", TargetName: "web-1", Action: models.ActionRestart,
				Status: models.RunFailure, Attempts: 3, Error: "dial tcp: connection refused",
			},
		})
	})

	out, err := execute(t, actionCmd(), "3", "restart")
	if err == nil || !strings.Contains(err.Error(), "giving up") {
		t.Errorf("expected API error, got %v", err)
	}
	if !strings.Contains(out, "failure") || !strings.Contains(out, "connection refused") {
		t.Errorf("expected failed run in output, got: %s", out)
	}
}

func TestAction_RejectsBadArgs(t *testing.T) {
	if _, err := execute(t, actionCmd(), "3", "explode"); err == nil {
		t.Error("expected error for unknown action")
	}
	if _, err := execute(t, actionCmd(), "web", "stop"); err == nil {
		t.Error("expected error for non-numeric id")
	}
}

func TestDiscoverTargets(t *testing.T) {
	useServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/targets/discover" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var in map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&in)
		if in["endpoint"] != "tcp://10.0.0.9:2375" {
			t.Errorf("endpoint: got %v", in["endpoint"])
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"endpoint": "tcp://10.0.0.9:2375",
			"registered": []models.Target{{ID: 4, Name: "redis", Status: models.StatusOffline,
				Container: &models.ContainerConn{ContainerID: "0a1b2c3d4e5f"}}},
			"refreshed": []models.Target{{ID: 2, Name: "web-1", Status: models.StatusOnline,
				Container: &models.ContainerConn{ContainerID: "4f1e2d3c4b5a"}}},
			"missing": []models.Target{},
		})
	})

	out, err := execute(t, discoverTargetsCmd(), "--endpoint", "tcp://10.0.0.9:2375")
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	for _, want := range []string{"redis", "registered", "web-1", "refreshed", "0a1b2c3d4e5f"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output, got: %s", want, out)
		}
	}
}

func TestDiscoverTargets_RequiresEndpoint(t *testing.T) {
	useServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("no request expected, got %s", r.URL.Path)
	})
	if _, err := execute(t, discoverTargetsCmd()); err == nil {
		t.Fatal("expected missing --endpoint to fail")
	}
}
