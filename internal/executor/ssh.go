package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/andrej220/autopilot/internal/lg"
	"github.com/andrej220/autopilot/pkg/tasks"
)

// ResilienceConfig tunes dial retries and the session circuit breaker.
type ResilienceConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxRetries      uint64
	DialTimeout     time.Duration
	Breaker         gobreaker.Settings
}

func DefaultResilience() ResilienceConfig {
	return ResilienceConfig{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		MaxRetries:      3,
		DialTimeout:     10 * time.Second,
		Breaker: gobreaker.Settings{
			Name:        "ssh-session",
			MaxRequests: 5,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > 5
			},
		},
	}
}

func (r ResilienceConfig) newBackOff(ctx context.Context) backoff.BackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     r.InitialInterval,
		MaxInterval:         r.MaxInterval,
		Multiplier:          1.5,
		RandomizationFactor: 0.5,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, r.MaxRetries), ctx)
}

// NativeTransport talks SSH in-process with golang.org/x/crypto/ssh instead
// of spawning scp/ssh. Uploads are streamed into "cat > path" on the remote.
type NativeTransport struct {
	logger  lg.Logger
	policy  HostKeyPolicy
	res     ResilienceConfig
	breaker *gobreaker.CircuitBreaker
	Stdout  io.Writer
	Stderr  io.Writer
}

func NewNativeTransport(logger lg.Logger, policy HostKeyPolicy, res ResilienceConfig) *NativeTransport {
	if logger == nil {
		logger = lg.Discard
	}
	return &NativeTransport{
		logger:  logger,
		policy:  policy,
		res:     res,
		breaker: gobreaker.NewCircuitBreaker(res.Breaker),
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
	}
}

func (n *NativeTransport) Upload(ctx context.Context, t Target, localPath, remotePath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return tasks.Wrap(tasks.ErrRemoteTransfer, err, "Script upload failed: %v", err)
	}
	defer f.Close()

	code, err := n.run(ctx, t, "cat > "+remotePath, f, io.Discard, n.Stderr)
	if err != nil {
		return tasks.Wrap(tasks.ErrRemoteTransfer, err, "Script upload failed: %v", err)
	}
	if code != 0 {
		return tasks.Errorf(tasks.ErrRemoteTransfer, "Script upload failed with exit code %d", code)
	}
	return nil
}

func (n *NativeTransport) Execute(ctx context.Context, t Target, command string) error {
	code, err := n.run(ctx, t, command, nil, n.Stdout, n.Stderr)
	if err != nil {
		return tasks.Wrap(tasks.ErrRemoteExecution, err, "Shell script execution failed: %v", err)
	}
	if code != 0 {
		return tasks.Errorf(tasks.ErrRemoteExecution, "Shell script execution failed with exit code: %d", code)
	}
	return nil
}

// run executes command in a fresh session and returns the remote exit code.
// err is set only when no exit status could be obtained.
func (n *NativeTransport) run(ctx context.Context, t Target, command string, stdin io.Reader, stdout, stderr io.Writer) (int, error) {
	client, err := n.dial(ctx, t)
	if err != nil {
		return 0, err
	}
	defer client.Close()

	res, err := n.breaker.Execute(func() (any, error) {
		return client.NewSession()
	})
	if err != nil {
		return 0, fmt.Errorf("new session: %w", err)
	}
	sess := res.(*ssh.Session)
	defer sess.Close()

	if stdin != nil {
		sess.Stdin = stdin
	}
	sess.Stdout = stdout
	sess.Stderr = stderr

	done := make(chan error, 1)
	go func() { done <- sess.Run(command) }()

	select {
	case <-ctx.Done():
		_ = sess.Signal(ssh.SIGKILL)
		_ = sess.Close()
		return 0, ctx.Err()
	case err = <-done:
	}

	var exitErr *ssh.ExitError
	switch {
	case err == nil:
		return 0, nil
	case errors.As(err, &exitErr):
		return exitErr.ExitStatus(), nil
	}
	var missing *ssh.ExitMissingError
	if errors.As(err, &missing) {
		return -1, nil
	}
	return 0, err
}

func (n *NativeTransport) dial(ctx context.Context, t Target) (*ssh.Client, error) {
	key, err := os.ReadFile(t.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	hostKeys, err := n.hostKeyCallback(t)
	if err != nil {
		return nil, err
	}

	cfg := &ssh.ClientConfig{
		User:            t.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeys,
		Timeout:         n.res.DialTimeout,
		BannerCallback:  func(string) error { return nil },
	}
	addr := net.JoinHostPort(t.Host, t.portOr("22"))

	var client *ssh.Client
	operation := func() error {
		c, err := dialContext(ctx, addr, cfg)
		if err != nil {
			if permanentDialError(err) {
				return backoff.Permanent(err)
			}
			n.logger.Warn("ssh dial failed, retrying", lg.String("addr", addr), lg.Err(err))
			return err
		}
		client = c
		return nil
	}
	if err := backoff.Retry(operation, n.res.newBackOff(ctx)); err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	n.logger.Debug("ssh connection established", lg.String("addr", addr))
	return client, nil
}

func dialContext(ctx context.Context, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	d := net.Dialer{Timeout: cfg.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return ssh.NewClient(c, chans, reqs), nil
}

// permanentDialError reports failures that a retry cannot fix.
func permanentDialError(err error) bool {
	var keyErr *knownhosts.KeyError
	if errors.As(err, &keyErr) {
		return true
	}
	var revoked *knownhosts.RevokedError
	if errors.As(err, &revoked) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "unable to authenticate") || strings.Contains(msg, "knownhosts:")
}

func (n *NativeTransport) hostKeyCallback(t Target) (ssh.HostKeyCallback, error) {
	if n.policy.Insecure {
		n.logger.Warn("host key verification disabled", lg.String("host", t.Host))
		return ssh.InsecureIgnoreHostKey(), nil
	}
	path := n.policy.KnownHostsFile
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("locate known_hosts: %w", err)
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}
	cb, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("load known_hosts %s: %w", path, err)
	}
	return cb, nil
}
