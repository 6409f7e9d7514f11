package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"

	"github.com/crucial707/chaos-scheduler/internal/chaoserr"
	"github.com/crucial707/chaos-scheduler/internal/models"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
)

// containerAPI is the subset of the Engine API client the transport uses.
// *client.Client satisfies it.
type containerAPI interface {
	ContainerStop(ctx context.Context, id string, opts container.StopOptions) error
	ContainerStart(ctx context.Context, id string, opts container.StartOptions) error
	ContainerRestart(ctx context.Context, id string, opts container.StopOptions) error
	ContainerInspect(ctx context.Context, id string) (types.ContainerJSON, error)
	Close() error
}

type containerLister interface {
	ContainerList(ctx context.Context, opts container.ListOptions) ([]types.Container, error)
}

// ContainerInfo is one container seen on a runtime host.
type ContainerInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Image   string `json:"image"`
	State   string `json:"state"`
	Running bool   `json:"running"`
}

func listContainers(ctx context.Context, api containerLister) ([]ContainerInfo, error) {
	list, err := api.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, classifyRuntime(ctx, "container.list", err)
	}
	out := make([]ContainerInfo, 0, len(list))
	for _, c := range list {
		name := c.ID
		if len(name) > 12 {
			name = name[:12]
		}
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		out = append(out, ContainerInfo{
			ID:      c.ID,
			Name:    name,
			Image:   c.Image,
			State:   c.State,
			Running: c.State == "running",
		})
	}
	return out, nil
}

// ContainerTransport acts on one container through a container-runtime API.
type ContainerTransport struct {
	api         containerAPI
	containerID string
	log         *slog.Logger
}

func NewContainerTransport(api containerAPI, containerID string, log *slog.Logger) *ContainerTransport {
	if log == nil {
		log = slog.Default()
	}
	return &ContainerTransport{
		api:         api,
		containerID: containerID,
		log:         log.With("component", "transport", "kind", "container", "container_id", containerID),
	}
}

func classifyRuntime(ctx context.Context, op string, err error) error {
	switch {
	case ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded):
		return chaoserr.E(chaoserr.KindTimeout, op, "", err)
	case errdefs.IsUnauthorized(err), errdefs.IsForbidden(err):
		return chaoserr.E(chaoserr.KindAuthentication, op, "", err)
	case errdefs.IsNotFound(err):
		return chaoserr.E(chaoserr.KindActionRejected, op, "container not found", err)
	case client.IsErrConnectionFailed(err), errdefs.IsUnavailable(err):
		return chaoserr.E(chaoserr.KindTargetUnreachable, op, "", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return chaoserr.E(chaoserr.KindTimeout, op, "", err)
		}
		return chaoserr.E(chaoserr.KindTargetUnreachable, op, "", err)
	}
	return chaoserr.E(chaoserr.KindActionRejected, op, "", err)
}

func (c *ContainerTransport) Run(ctx context.Context, action models.Action) (string, error) {
	var err error
	switch action {
	case models.ActionStop:
		err = c.api.ContainerStop(ctx, c.containerID, container.StopOptions{})
	case models.ActionStart:
		err = c.api.ContainerStart(ctx, c.containerID, container.StartOptions{})
	case models.ActionRestart:
		err = c.api.ContainerRestart(ctx, c.containerID, container.StopOptions{})
	default:
		return "", chaoserr.E(chaoserr.KindActionRejected, "container.run", fmt.Sprintf("unsupported action %q", action), nil)
	}
	if err != nil {
		return "", classifyRuntime(ctx, "container."+string(action), err)
	}
	c.log.Debug("container action accepted", "action", action)
	return fmt.Sprintf("container %s: %s accepted", c.containerID, action), nil
}

func (c *ContainerTransport) Probe(ctx context.Context) (models.TargetStatus, error) {
	info, err := c.api.ContainerInspect(ctx, c.containerID)
	if err != nil {
		err = classifyRuntime(ctx, "container.inspect", err)
		if chaoserr.KindOf(err) == chaoserr.KindTargetUnreachable || chaoserr.KindOf(err) == chaoserr.KindTimeout {
			return models.StatusOffline, err
		}
		return models.StatusUnknown, err
	}
	if info.ContainerJSONBase != nil && info.State != nil && info.State.Running {
		return models.StatusOnline, nil
	}
	return models.StatusOffline, nil
}

func (c *ContainerTransport) Close() error { return c.api.Close() }
