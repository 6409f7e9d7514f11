// Package transport performs chaos actions against targets. A Transport is a
// capability with two variants: ServerTransport (remote shell over SSH) and
// ContainerTransport (container-runtime Engine API).
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/crucial707/chaos-scheduler/internal/chaoserr"
	"github.com/crucial707/chaos-scheduler/internal/credentials"
	"github.com/crucial707/chaos-scheduler/internal/models"
	"github.com/docker/docker/client"
)

// Transport runs one action or probe against a single target.
// Errors carry a chaoserr kind: TargetUnreachable and Timeout are retryable,
// Authentication and ActionRejected are terminal.
type Transport interface {
	// Run performs the action and returns a short human readable detail.
	Run(ctx context.Context, action models.Action) (string, error)
	// Probe reports the target's reachability without changing it.
	Probe(ctx context.Context) (models.TargetStatus, error)
	Close() error
}

// Factory builds a Transport for a target.
type Factory interface {
	For(ctx context.Context, t *models.Target) (Transport, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context, t *models.Target) (Transport, error)

func (f FactoryFunc) For(ctx context.Context, t *models.Target) (Transport, error) { return f(ctx, t) }

// Discoverer lists the containers present on a container-runtime host.
// *Dialer implements it.
type Discoverer interface {
	Containers(ctx context.Context, runtime *models.ContainerConn) ([]ContainerInfo, error)
}

// Dialer is the production Factory. It resolves credential refs and builds
// the transport variant matching the target type.
type Dialer struct {
	Credentials credentials.Resolver
	// KnownHostsFile verifies server host keys. Empty accepts any key.
	KnownHostsFile   string
	DockerAPIVersion string
	Logger           *slog.Logger
}

func (d *Dialer) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

func (d *Dialer) For(ctx context.Context, t *models.Target) (Transport, error) {
	switch t.Type {
	case models.TargetServer:
		if t.Server == nil {
			return nil, chaoserr.E(chaoserr.KindValidation, "transport.For", "server target without server descriptor", nil)
		}
		return d.server(ctx, t.Server)
	case models.TargetContainer:
		if t.Container == nil {
			return nil, chaoserr.E(chaoserr.KindValidation, "transport.For", "container target without container descriptor", nil)
		}
		return d.container(ctx, t.Container)
	}
	return nil, chaoserr.E(chaoserr.KindValidation, "transport.For", fmt.Sprintf("unknown target type %q", t.Type), nil)
}

func (d *Dialer) server(ctx context.Context, c *models.ServerConn) (Transport, error) {
	sec, err := d.Credentials.Resolve(ctx, c.CredentialRef)
	if err != nil {
		return nil, err
	}
	cfg, err := clientConfig(c, sec, d.KnownHostsFile, d.logger())
	if err != nil {
		return nil, err
	}
	port := c.Port
	if port == 0 {
		port = 22
	}
	return &ServerTransport{
		addr:   net.JoinHostPort(c.Host, strconv.Itoa(port)),
		config: cfg,
		log:    d.logger().With("component", "transport", "kind", "server", "host", c.Host),
	}, nil
}

func (d *Dialer) runtimeClient(ctx context.Context, c *models.ContainerConn) (*client.Client, error) {
	opts := []client.Opt{client.WithHost(c.Endpoint)}
	if d.DockerAPIVersion != "" {
		opts = append(opts, client.WithVersion(d.DockerAPIVersion))
	}
	if c.TLS {
		sec, err := d.Credentials.Resolve(ctx, c.CredentialRef)
		if err != nil {
			return nil, err
		}
		opts = append(opts, client.WithTLSClientConfig(sec.CACertFile, sec.CertFile, sec.KeyFile))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, chaoserr.E(chaoserr.KindValidation, "transport.container", "bad runtime endpoint", err)
	}
	return cli, nil
}

func (d *Dialer) container(ctx context.Context, c *models.ContainerConn) (Transport, error) {
	cli, err := d.runtimeClient(ctx, c)
	if err != nil {
		return nil, err
	}
	return NewContainerTransport(cli, c.ContainerID, d.logger()), nil
}

// Containers lists every container, running or not, on the runtime host that
// runtime points at. runtime.ContainerID is ignored.
func (d *Dialer) Containers(ctx context.Context, runtime *models.ContainerConn) ([]ContainerInfo, error) {
	cli, err := d.runtimeClient(ctx, runtime)
	if err != nil {
		return nil, err
	}
	defer cli.Close()
	return listContainers(ctx, cli)
}
