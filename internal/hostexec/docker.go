package hostexec

import (
	"context"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
)

// DockerRunner drives hosts that are docker containers through the docker
// CLI. The container name is the host name with an optional prefix, which
// matches how containernet names its docker hosts.
type DockerRunner struct {
	prefix string
	local  *LocalRunner
	log    *zap.SugaredLogger
}

func NewDockerRunner(prefix string, log *zap.SugaredLogger) *DockerRunner {
	return &DockerRunner{
		prefix: prefix,
		local:  NewLocalRunner(log),
		log:    log,
	}
}

// ContainerName maps a host name to its container name.
func (r *DockerRunner) ContainerName(host string) string {
	return r.prefix + host
}

func (r *DockerRunner) Exec(ctx context.Context, host string, command []string) (string, string, error) {
	argv := append([]string{"docker", "exec", r.ContainerName(host)}, command...)
	return r.local.Exec(ctx, host, argv)
}

func (r *DockerRunner) ExecStream(ctx context.Context, host string, command []string) (io.ReadCloser, error) {
	argv := append([]string{"docker", "exec", r.ContainerName(host)}, command...)
	return r.local.ExecStream(ctx, host, argv)
}

// Inspect reads a single field from docker inspect, trimmed of the quoting
// docker adds.
func (r *DockerRunner) Inspect(ctx context.Context, host, format string) (string, error) {
	out, _, err := r.local.Exec(ctx, host, []string{"docker", "inspect", r.ContainerName(host), "--format", format})
	if err != nil {
		return "", fmt.Errorf("inspecting container %s: %w", r.ContainerName(host), err)
	}
	out = strings.Trim(out, " ")
	out = strings.Trim(out, "\n")
	return out, nil
}

// ContainerAddr resolves the container's address on the experiment
// network.
func (r *DockerRunner) ContainerAddr(ctx context.Context, host, network string) (string, error) {
	return r.Inspect(ctx, host, fmt.Sprintf("{{.NetworkSettings.Networks.%s.IPAddress}}", network))
}

// DockerProvider materializes hosts as docker containers kept alive with a
// no-op command, mirroring how containernet runs its docker hosts. Limits
// map onto --cpus and --memory.
type DockerProvider struct {
	runner *DockerRunner
	log    *zap.SugaredLogger
}

func NewDockerProvider(runner *DockerRunner, log *zap.SugaredLogger) *DockerProvider {
	return &DockerProvider{runner: runner, log: log}
}

func (p *DockerProvider) EnsureNetwork(ctx context.Context, name, cidr string) error {
	// Inspect first so reruns against a live network succeed.
	_, _, err := p.runner.local.Exec(ctx, name, []string{"docker", "network", "inspect", name})
	if err == nil {
		p.log.Debugf("network %s already exists", name)
		return nil
	}
	_, _, err = p.runner.local.Exec(ctx, name, []string{"docker", "network", "create", "--subnet", cidr, name})
	if err != nil {
		return fmt.Errorf("creating network %s (%s): %w", name, cidr, err)
	}
	return nil
}

func (p *DockerProvider) AddHost(ctx context.Context, spec HostSpec) (string, error) {
	argv := []string{
		"docker", "run", "-d",
		"--name", p.runner.ContainerName(spec.Name),
		"--network", spec.Network,
		"--ip", spec.Addr,
		"--cpus", fmt.Sprintf("%.3f", spec.CPU),
		"--memory", fmt.Sprintf("%dm", spec.MemMB),
		"--label", "fleet.switch=" + spec.Switch,
	}
	if spec.MAC != "" {
		argv = append(argv, "--mac-address", spec.MAC)
	}
	argv = append(argv, spec.Image, "tail", "-f", "/dev/null")
	_, _, err := p.runner.local.Exec(ctx, spec.Name, argv)
	if err != nil {
		return "", fmt.Errorf("creating host %s: %w", spec.Name, err)
	}
	p.log.Infof("created host %s at %s on %s (switch %s)", spec.Name, spec.Addr, spec.Network, spec.Switch)
	return spec.Addr, nil
}

func (p *DockerProvider) RemoveHost(ctx context.Context, name string) error {
	_, _, err := p.runner.local.Exec(ctx, name, []string{"docker", "rm", "-f", p.runner.ContainerName(name)})
	return err
}
