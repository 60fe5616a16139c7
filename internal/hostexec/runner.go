// Package hostexec abstracts "run a command on an emulated host". The
// three runners cover the deployment modes: plain processes sharing the
// controller's filesystem, docker containers driven through the docker
// CLI, and kubernetes pods reached with an exec subresource.
package hostexec

import (
	"context"
	"io"
)

// Runner executes commands on a named host. Exec is synchronous and
// captures output; ExecStream returns the remote stdout as a stream for
// long-running commands like log tailing. Implementations wrap transport
// failures in errdefs.ErrResourceUnavailable and nonzero remote exits in
// errdefs.ErrProcessFailure.
type Runner interface {
	Exec(ctx context.Context, host string, command []string) (stdout, stderr string, err error)
	ExecStream(ctx context.Context, host string, command []string) (io.ReadCloser, error)
}

// HostSpec describes one host for a Provider: its name, the switch it
// attaches to, its address inside the experiment network and its resource
// allocation.
type HostSpec struct {
	Name    string
	Switch  string
	Network string
	Addr    string
	MAC     string
	Image   string
	CPU     float64
	MemMB   int
}
