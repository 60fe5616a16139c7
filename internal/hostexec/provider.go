package hostexec

import "context"

// Provider is the host-creation side of the emulation runtime. The
// orchestrator hands it one HostSpec per planned host and uses the
// returned address to wire traffic streams and workload commands.
//
// EnsureNetwork is called once per experiment network before any host on
// it; backends with external address management treat it as a no-op.
type Provider interface {
	EnsureNetwork(ctx context.Context, name, cidr string) error
	AddHost(ctx context.Context, spec HostSpec) (addr string, err error)
	RemoveHost(ctx context.Context, name string) error
}
