package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"

	"github.com/crucial707/chaos-scheduler/internal/chaoserr"
	"github.com/crucial707/chaos-scheduler/internal/credentials"
	"github.com/crucial707/chaos-scheduler/internal/models"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// serverCommands lists the shell commands tried, in order, for each action.
// The first one that exits 0 wins.
var serverCommands = map[models.Action][]string{
	models.ActionStop:    {"sudo shutdown -h now", "shutdown -h now"},
	models.ActionRestart: {"sudo reboot", "reboot"},
}

// ServerTransport controls a host over SSH. It dials a fresh connection per call.
type ServerTransport struct {
	addr   string
	config *ssh.ClientConfig
	log    *slog.Logger
}

func clientConfig(c *models.ServerConn, sec credentials.Secret, knownHostsFile string, log *slog.Logger) (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	method := c.AuthMethod
	if method == "" {
		method = models.AuthPassword
		if sec.PrivateKey != "" || sec.PrivateKeyFile != "" {
			method = models.AuthKey
		}
	}
	switch method {
	case models.AuthKey:
		pem, err := sec.Key()
		if err != nil || len(pem) == 0 {
			return nil, chaoserr.E(chaoserr.KindAuthentication, "transport.clientConfig", "private key not available for "+c.CredentialRef, err)
		}
		var signer ssh.Signer
		if sec.Passphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(pem, []byte(sec.Passphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(pem)
		}
		if err != nil {
			return nil, chaoserr.E(chaoserr.KindAuthentication, "transport.clientConfig", "parse private key", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	default:
		auth = append(auth, ssh.Password(sec.Password))
	}

	hostKey := ssh.InsecureIgnoreHostKey()
	if knownHostsFile != "" {
		cb, err := knownhosts.New(knownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("load known hosts: %w", err)
		}
		hostKey = cb
	} else {
		log.Warn("ssh host key verification disabled", "host", c.Host)
	}

	return &ssh.ClientConfig{
		User:            c.Username,
		Auth:            auth,
		HostKeyCallback: hostKey,
	}, nil
}

// classify maps a dial, handshake or session error to an engine error kind.
func classify(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return chaoserr.E(chaoserr.KindTimeout, op, "", err)
	}
	var keyErr *knownhosts.KeyError
	if errors.As(err, &keyErr) || strings.Contains(err.Error(), "unable to authenticate") {
		return chaoserr.E(chaoserr.KindAuthentication, op, "", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return chaoserr.E(chaoserr.KindTimeout, op, "", err)
	}
	return chaoserr.E(chaoserr.KindTargetUnreachable, op, "", err)
}

// dial opens an SSH client bound to ctx: cancelling ctx closes the connection.
func (s *ServerTransport) dial(ctx context.Context) (*ssh.Client, func(), error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return nil, nil, classify(ctx, "ssh.dial", err)
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })

	c, chans, reqs, err := ssh.NewClientConn(conn, s.addr, s.config)
	if err != nil {
		stop()
		conn.Close()
		return nil, nil, classify(ctx, "ssh.handshake", err)
	}
	cli := ssh.NewClient(c, chans, reqs)
	return cli, func() {
		stop()
		cli.Close()
	}, nil
}

// runCommand runs cmd in a new session. started reports whether the host
// accepted the command; errors before that point mean nothing was executed.
func runCommand(cli *ssh.Client, cmd string) (out string, started bool, err error) {
	sess, err := cli.NewSession()
	if err != nil {
		return "", false, err
	}
	defer sess.Close()
	var buf bytes.Buffer
	sess.Stdout = &buf
	sess.Stderr = &buf
	if err := sess.Start(cmd); err != nil {
		return "", false, err
	}
	err = sess.Wait()
	return strings.TrimSpace(buf.String()), true, err
}

// notStarted classifies a failure to open a session or start a command.
// A host that refuses sessions outright will not change its mind on retry.
func notStarted(ctx context.Context, op, cmd string, err error) error {
	var openErr *ssh.OpenChannelError
	if errors.As(err, &openErr) && openErr.Reason != ssh.ConnectionFailed {
		return chaoserr.E(chaoserr.KindActionRejected, op, "session refused for "+cmd, err)
	}
	if errors.As(err, &openErr) || errors.Is(err, io.EOF) {
		return classify(ctx, op, err)
	}
	return chaoserr.E(chaoserr.KindActionRejected, op, "command refused: "+cmd, err)
}

// droppedAfterStart reports whether the session ended without an exit
// status, which is what a host going down mid-command looks like.
func droppedAfterStart(err error) bool {
	var missing *ssh.ExitMissingError
	return errors.As(err, &missing) || errors.Is(err, io.EOF)
}

func (s *ServerTransport) Run(ctx context.Context, action models.Action) (string, error) {
	cmds, ok := serverCommands[action]
	if !ok {
		return "", chaoserr.E(chaoserr.KindActionRejected, "ssh.run",
			fmt.Sprintf("server %s requires out-of-band power control", action), nil)
	}

	cli, closeFn, err := s.dial(ctx)
	if err != nil {
		return "", err
	}
	defer closeFn()

	var rejected []string
	for _, cmd := range cmds {
		out, started, err := runCommand(cli, cmd)
		if err == nil {
			return fmt.Sprintf("%q exited 0", cmd), nil
		}
		if ctx.Err() != nil {
			return "", chaoserr.E(chaoserr.KindTimeout, "ssh.run", cmd, err)
		}
		if !started {
			return "", notStarted(ctx, "ssh.run", cmd, err)
		}
		var exitErr *ssh.ExitError
		switch {
		case errors.As(err, &exitErr):
			s.log.Debug("command rejected", "cmd", cmd, "status", exitErr.ExitStatus(), "output", out)
			rejected = append(rejected, fmt.Sprintf("%q exited %d: %s", cmd, exitErr.ExitStatus(), out))
		case droppedAfterStart(err):
			s.log.Debug("connection dropped after command", "cmd", cmd, "err", err)
			return fmt.Sprintf("%q sent; connection closed by host", cmd), nil
		default:
			return "", chaoserr.E(chaoserr.KindTargetUnreachable, "ssh.run", cmd, err)
		}
	}
	return "", chaoserr.E(chaoserr.KindActionRejected, "ssh.run", strings.Join(rejected, "; "), nil)
}

func (s *ServerTransport) Probe(ctx context.Context) (models.TargetStatus, error) {
	cli, closeFn, err := s.dial(ctx)
	if err != nil {
		if chaoserr.KindOf(err) == chaoserr.KindAuthentication {
			return models.StatusUnknown, err
		}
		return models.StatusOffline, err
	}
	defer closeFn()
	if _, _, err := runCommand(cli, "true"); err != nil {
		return models.StatusUnknown, classify(ctx, "ssh.probe", err)
	}
	return models.StatusOnline, nil
}

func (s *ServerTransport) Close() error { return nil }
