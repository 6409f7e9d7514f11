package registry

import (
	"context"
	"strings"

	"github.com/crucial707/chaos-scheduler/internal/chaoserr"
	"github.com/crucial707/chaos-scheduler/internal/models"
	"github.com/crucial707/chaos-scheduler/internal/transport"
)

// Discovery is the outcome of scanning one container-runtime host.
type Discovery struct {
	Endpoint string `json:"endpoint"`
	// Registered are containers seen for the first time.
	Registered []models.Target `json:"registered"`
	// Refreshed are known targets whose status was updated from the listing.
	Refreshed []models.Target `json:"refreshed"`
	// Missing are known targets the host no longer reports. They are marked
	// offline, not deleted, since experiments may still reference them.
	Missing []models.Target `json:"missing"`
}

// sameContainer matches a registered container id, which may be a short id
// or a name, against a listed container.
func sameContainer(registered string, c transport.ContainerInfo) bool {
	if registered == c.ID || registered == c.Name {
		return true
	}
	return len(registered) >= 12 && strings.HasPrefix(c.ID, registered)
}

func runningStatus(running bool) models.TargetStatus {
	if running {
		return models.StatusOnline
	}
	return models.StatusOffline
}

// Discover lists every container on the runtime host behind runtime.Endpoint,
// registers the ones not yet known and refreshes the status of the rest.
// runtime.ContainerID is ignored; TLS and CredentialRef are copied onto new
// targets.
func (r *Registry) Discover(ctx context.Context, runtime models.ContainerConn) (*Discovery, error) {
	const op = "registry.Discover"
	runtime.Endpoint = strings.TrimSpace(runtime.Endpoint)
	runtime.ContainerID = ""
	fields := map[string]string{}
	if runtime.Endpoint == "" {
		fields["endpoint"] = "required"
	}
	if runtime.TLS && runtime.CredentialRef == "" {
		fields["credential_ref"] = "required_if"
	}
	if len(fields) > 0 {
		return nil, chaoserr.Validation(op, fields)
	}
	disc, ok := r.transports.(transport.Discoverer)
	if !ok {
		return nil, chaoserr.E(chaoserr.KindActionRejected, op, "container discovery is not available", nil)
	}

	known, err := r.store.ListByEndpoint(ctx, runtime.Endpoint)
	if err != nil {
		return nil, chaoserr.E(chaoserr.KindPersistence, op, "", err)
	}

	lctx, cancel := context.WithTimeout(ctx, r.probeTimeout)
	listed, err := disc.Containers(lctx, &runtime)
	cancel()
	now := r.now()
	if err != nil {
		r.log.Warn("runtime listing failed", "endpoint", runtime.Endpoint, "err", err)
		if chaoserr.Retryable(err) {
			for _, t := range known {
				if serr := r.SetStatus(context.WithoutCancel(ctx), t.ID, models.StatusOffline, now); serr != nil {
					return nil, serr
				}
			}
		}
		return nil, chaoserr.E(chaoserr.KindProbe, op, runtime.Endpoint, err)
	}

	out := &Discovery{
		Endpoint:   runtime.Endpoint,
		Registered: []models.Target{},
		Refreshed:  []models.Target{},
		Missing:    []models.Target{},
	}
	checkedAt := now.UTC()
	seen := make(map[int]bool, len(known))
	for _, c := range listed {
		status := runningStatus(c.Running)
		var (
			match *models.Target
			fresh bool
		)
		for i := range known {
			if !seen[known[i].ID] && sameContainer(known[i].Container.ContainerID, c) {
				match = &known[i]
				break
			}
		}
		if match == nil {
			conn := runtime
			conn.ContainerID = c.ID
			match, err = r.Register(ctx, models.Target{Name: c.Name, Type: models.TargetContainer, Container: &conn})
			if err != nil {
				return nil, err
			}
			fresh = true
		}
		seen[match.ID] = true
		if err := r.SetStatus(ctx, match.ID, status, now); err != nil {
			return nil, err
		}
		t := *match
		t.Status, t.LastCheckedAt = status, &checkedAt
		if fresh {
			out.Registered = append(out.Registered, t)
		} else {
			out.Refreshed = append(out.Refreshed, t)
		}
	}
	for _, t := range known {
		if seen[t.ID] {
			continue
		}
		if err := r.SetStatus(ctx, t.ID, models.StatusOffline, now); err != nil {
			return nil, err
		}
		t.Status, t.LastCheckedAt = models.StatusOffline, &checkedAt
		out.Missing = append(out.Missing, t)
	}

	r.log.Info("runtime discovered", "endpoint", runtime.Endpoint,
		"registered", len(out.Registered), "refreshed", len(out.Refreshed), "missing", len(out.Missing))
	return out, nil
}
