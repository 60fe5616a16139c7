package hostexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"

	"go.uber.org/zap"

	"github.com/oabuhamdan/fleet/internal/errdefs"
)

// LocalRunner executes commands directly on the controller machine. It
// fits mininet-style deployments where "hosts" are namespaced local
// processes sharing the filesystem, and it backs the tests.
type LocalRunner struct {
	log *zap.SugaredLogger
}

func NewLocalRunner(log *zap.SugaredLogger) *LocalRunner {
	return &LocalRunner{log: log}
}

func (r *LocalRunner) Exec(ctx context.Context, host string, command []string) (string, string, error) {
	if len(command) == 0 {
		return "", "", fmt.Errorf("%w: empty command for host %s", errdefs.ErrConfiguration, host)
	}
	r.log.Debugf("[%s] exec: %v", host, command)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return stdout.String(), stderr.String(),
				fmt.Errorf("%w: %v on %s exited %d: %s", errdefs.ErrProcessFailure, command[0], host, exitErr.ExitCode(), stderr.String())
		}
		return stdout.String(), stderr.String(),
			fmt.Errorf("%w: spawning %v on %s: %v", errdefs.ErrResourceUnavailable, command[0], host, err)
	}
	return stdout.String(), stderr.String(), nil
}

func (r *LocalRunner) ExecStream(ctx context.Context, host string, command []string) (io.ReadCloser, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("%w: empty command for host %s", errdefs.ErrConfiguration, host)
	}
	r.log.Debugf("[%s] exec stream: %v", host, command)

	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	pipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: spawning %v on %s: %v", errdefs.ErrResourceUnavailable, command[0], host, err)
	}
	return &cmdStream{ReadCloser: pipe, cmd: cmd}, nil
}

// cmdStream reaps the child when the consumer closes the stream.
type cmdStream struct {
	io.ReadCloser
	cmd *exec.Cmd
}

func (s *cmdStream) Close() error {
	s.ReadCloser.Close()
	if s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	s.cmd.Wait()
	return nil
}

// LocalProvider is the degenerate host fabric for single-machine runs:
// every "host" is the controller machine itself, addressed over loopback,
// with stream ports keeping flows apart. Resource limits are advisory
// only and logged.
type LocalProvider struct {
	log *zap.SugaredLogger
}

func NewLocalProvider(log *zap.SugaredLogger) *LocalProvider {
	return &LocalProvider{log: log}
}

func (p *LocalProvider) EnsureNetwork(ctx context.Context, name, cidr string) error {
	p.log.Debugf("network %s (%s) is loopback in local mode", name, cidr)
	return nil
}

func (p *LocalProvider) AddHost(ctx context.Context, spec HostSpec) (string, error) {
	p.log.Infof("host %s (switch %s, %s) runs locally, limits cpu=%.3f mem=%dMB not enforced",
		spec.Name, spec.Switch, spec.Image, spec.CPU, spec.MemMB)
	return "127.0.0.1", nil
}

func (p *LocalProvider) RemoveHost(ctx context.Context, name string) error {
	return nil
}
