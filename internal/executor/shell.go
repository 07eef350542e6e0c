package executor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/andrej220/autopilot/internal/lg"
	"github.com/andrej220/autopilot/pkg/tasks"
)

const (
	// RemoteScriptPath is where every uploaded script lands on the target.
	RemoteScriptPath    = "~/uploaded_script.sh"
	ShellSuccessMessage = "Shell script executed successfully."
)

// Target identifies the remote side of a shell task.
type Target struct {
	Host    string
	Port    string
	User    string
	KeyPath string
}

func (t Target) String() string {
	return t.User + "@" + net.JoinHostPort(t.Host, t.portOr("22"))
}

func (t Target) portOr(def string) string {
	if t.Port == "" {
		return def
	}
	return t.Port
}

// Transport moves a script to the remote host and runs commands there.
// Implementations return *tasks.TaskError values of kind ErrRemoteTransfer
// or ErrRemoteExecution.
type Transport interface {
	Upload(ctx context.Context, t Target, localPath, remotePath string) error
	Execute(ctx context.Context, t Target, command string) error
}

// HostKeyPolicy controls remote host verification. The zero value verifies
// against ~/.ssh/known_hosts.
type HostKeyPolicy struct {
	Insecure       bool
	KnownHostsFile string
}

// ShellExecutor uploads a local script to a remote host and runs it with sh.
type ShellExecutor struct {
	logger    lg.Logger
	runner    CommandRunner
	transport Transport
	keygen    string
}

type ShellOption func(*ShellExecutor)

// WithRunner replaces the process runner used for key preparation and, when
// no transport is given, for scp/ssh.
func WithRunner(r CommandRunner) ShellOption {
	return func(e *ShellExecutor) { e.runner = r }
}

func WithTransport(t Transport) ShellOption {
	return func(e *ShellExecutor) { e.transport = t }
}

// WithKeygen sets the ssh-keygen binary.
func WithKeygen(path string) ShellOption {
	return func(e *ShellExecutor) { e.keygen = path }
}

func NewShellExecutor(logger lg.Logger, opts ...ShellOption) *ShellExecutor {
	if logger == nil {
		logger = lg.Discard
	}
	e := &ShellExecutor{logger: logger, keygen: "ssh-keygen"}
	for _, opt := range opts {
		opt(e)
	}
	if e.runner == nil {
		e.runner = NewExecRunner()
	}
	if e.transport == nil {
		e.transport = NewSubprocessTransport(e.runner, HostKeyPolicy{}, logger)
	}
	return e
}

// RunFromConfig checks artifacts, normalizes the private key, uploads the
// script and executes it. Each step aborts the task on failure.
func (e *ShellExecutor) RunFromConfig(ctx context.Context, cfg *tasks.ShellConfig) (string, error) {
	if cfg == nil {
		return "", tasks.Errorf(tasks.ErrMalformedTask, "missing shell config")
	}
	logger := e.logger.With(lg.String("host", cfg.HostAddress), lg.String("user", cfg.RemoteUsername))

	if err := checkArtifacts(cfg); err != nil {
		logger.Error("shell task precondition failed", lg.Err(err))
		return "", err
	}
	if err := e.prepareKey(ctx, cfg, logger); err != nil {
		logger.Error("private key preparation failed", lg.Err(err))
		return "", err
	}

	host, port := splitHostPort(cfg.HostAddress)
	target := Target{Host: host, Port: port, User: cfg.RemoteUsername, KeyPath: cfg.PrivateKeyPath}

	logger.Info("uploading script", lg.String("local", cfg.LocalScriptPath), lg.String("remote", RemoteScriptPath))
	if err := e.transport.Upload(ctx, target, cfg.LocalScriptPath, RemoteScriptPath); err != nil {
		logger.Error("upload failed", lg.Err(err))
		return "", err
	}

	logger.Info("executing remote script")
	if err := e.transport.Execute(ctx, target, "sh "+RemoteScriptPath); err != nil {
		logger.Error("remote execution failed", lg.Err(err))
		return "", err
	}

	logger.Info(ShellSuccessMessage)
	return ShellSuccessMessage, nil
}

func checkArtifacts(cfg *tasks.ShellConfig) error {
	info, err := os.Stat(cfg.LocalScriptPath)
	if err != nil || info.IsDir() {
		return tasks.Errorf(tasks.ErrMissingArtifact, "Shell script file not found: %s", cfg.LocalScriptPath)
	}
	info, err = os.Stat(cfg.PrivateKeyPath)
	if err != nil || info.IsDir() {
		return tasks.Errorf(tasks.ErrMissingArtifact, "Private key file not found: %s", cfg.PrivateKeyPath)
	}
	if info.Size() == 0 {
		return tasks.Errorf(tasks.ErrMissingArtifact, "Private key file is empty: %s", cfg.PrivateKeyPath)
	}
	return nil
}

// prepareKey restricts the key file to its owner and strips a configured
// passphrase with ssh-keygen. A key that already parses without a passphrase
// is left alone, so repeated runs against the same file behave the same.
func (e *ShellExecutor) prepareKey(ctx context.Context, cfg *tasks.ShellConfig, logger lg.Logger) error {
	if err := os.Chmod(cfg.PrivateKeyPath, 0o600); err != nil {
		return tasks.Wrap(tasks.ErrKeyPreparation, err, "Failed to set permissions on private key: %v", err)
	}
	if cfg.PrivateKeyPassphrase == "" {
		return nil
	}
	if encrypted, err := keyEncrypted(cfg.PrivateKeyPath); err == nil && !encrypted {
		logger.Debug("private key has no passphrase, skipping ssh-keygen")
		return nil
	}

	res, err := e.runner.Run(ctx, Command{
		Name:    e.keygen,
		Args:    []string{"-p", "-P", cfg.PrivateKeyPassphrase, "-N", "", "-f", cfg.PrivateKeyPath},
		Capture: true,
	})
	if err != nil {
		return tasks.Wrap(tasks.ErrKeyPreparation, err, "Failed to run %s: %v", e.keygen, err)
	}
	if res.ExitCode != 0 {
		out := strings.TrimSpace(strings.ReplaceAll(res.Output, cfg.PrivateKeyPassphrase, "****"))
		return tasks.Errorf(tasks.ErrKeyPreparation,
			"Failed to remove passphrase from private key (exit code %d): %s", res.ExitCode, out)
	}
	logger.Info("removed passphrase from private key", lg.String("key", cfg.PrivateKeyPath))
	return nil
}

func keyEncrypted(path string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	_, err = ssh.ParsePrivateKey(data)
	if err == nil {
		return false, nil
	}
	var missing *ssh.PassphraseMissingError
	if errors.As(err, &missing) {
		return true, nil
	}
	return false, err
}

func splitHostPort(addr string) (string, string) {
	addr = strings.TrimSpace(addr)
	if host, port, err := net.SplitHostPort(addr); err == nil {
		return host, port
	}
	return strings.Trim(addr, "[]"), ""
}

// SubprocessTransport shells out to scp and ssh.
type SubprocessTransport struct {
	runner CommandRunner
	policy HostKeyPolicy
	logger lg.Logger
	SCP    string
	SSH    string
}

func NewSubprocessTransport(runner CommandRunner, policy HostKeyPolicy, logger lg.Logger) *SubprocessTransport {
	if logger == nil {
		logger = lg.Discard
	}
	return &SubprocessTransport{runner: runner, policy: policy, logger: logger, SCP: "scp", SSH: "ssh"}
}

func (s *SubprocessTransport) Upload(ctx context.Context, t Target, localPath, remotePath string) error {
	args := []string{}
	if t.Port != "" {
		args = append(args, "-P", t.Port)
	}
	args = append(args, s.commonArgs(t)...)
	args = append(args, localPath, fmt.Sprintf("%s@%s:%s", t.User, bracketHost(t.Host), remotePath))

	res, err := s.runner.Run(ctx, Command{Name: s.SCP, Args: args})
	if err != nil {
		return tasks.Wrap(tasks.ErrRemoteTransfer, err, "SCP upload failed: %v", err)
	}
	if res.ExitCode != 0 {
		return tasks.Errorf(tasks.ErrRemoteTransfer, "SCP upload failed with exit code %d", res.ExitCode)
	}
	return nil
}

func (s *SubprocessTransport) Execute(ctx context.Context, t Target, command string) error {
	args := []string{}
	if t.Port != "" {
		args = append(args, "-p", t.Port)
	}
	args = append(args, s.commonArgs(t)...)
	args = append(args, t.User+"@"+t.Host, command)

	res, err := s.runner.Run(ctx, Command{Name: s.SSH, Args: args})
	if err != nil {
		return tasks.Wrap(tasks.ErrRemoteExecution, err, "Shell script execution failed: %v", err)
	}
	if res.ExitCode != 0 {
		return tasks.Errorf(tasks.ErrRemoteExecution, "Shell script execution failed with exit code: %d", res.ExitCode)
	}
	return nil
}

func (s *SubprocessTransport) commonArgs(t Target) []string {
	args := []string{"-i", t.KeyPath, "-o", "BatchMode=yes"}
	if s.policy.Insecure {
		s.logger.Warn("host key verification disabled", lg.String("host", t.Host))
		return append(args, "-o", "StrictHostKeyChecking=no", "-o", "UserKnownHostsFile=/dev/null")
	}
	args = append(args, "-o", "StrictHostKeyChecking=yes")
	if s.policy.KnownHostsFile != "" {
		args = append(args, "-o", "UserKnownHostsFile="+s.policy.KnownHostsFile)
	}
	return args
}

func bracketHost(host string) string {
	if strings.Contains(host, ":") {
		return "[" + host + "]"
	}
	return host
}
