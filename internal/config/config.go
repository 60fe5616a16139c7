// Package config defines the experiment file format and its defaults.
// Files override defaults field by field, so a minimal experiment file
// only names what differs from a stock run.
package config

import (
	"fmt"
	"io"
	"net/netip"
	"os"

	yaml "gopkg.in/yaml.v2"

	"github.com/oabuhamdan/fleet/internal/errdefs"
	"github.com/oabuhamdan/fleet/internal/limits"
	"github.com/oabuhamdan/fleet/internal/pattern"
	"github.com/oabuhamdan/fleet/internal/placement"
	"github.com/oabuhamdan/fleet/internal/topology"
)

const (
	ProviderLocal  = "local"
	ProviderDocker = "docker"
	ProviderKube   = "kube"
)

// ServiceSpec is one long-running process of the workload. Commands may
// reference $COORDINATOR_IP and $PARTICIPANT_ID; the orchestrator expands
// them per host before launch.
type ServiceSpec struct {
	Name string `yaml:"name"`
	Cmd  string `yaml:"cmd"`
}

// ServiceSet groups the services by the role that runs them. The last
// coordinator service is the primary one whose exit ends the experiment.
type ServiceSet struct {
	Coordinator []ServiceSpec `yaml:"coordinator"`
	Participant []ServiceSpec `yaml:"participant"`
}

// FLConfig shapes the learning workload: where its roles go, what images
// and resource limits its hosts get, and which processes it runs.
type FLConfig struct {
	Placement         placement.Config `yaml:",inline"`
	Image             string           `yaml:"image"`
	Network           string           `yaml:"network"`
	CoordinatorLimits limits.Config    `yaml:"coordinator_limits"`
	ParticipantLimits limits.Config    `yaml:"participant_limits"`
	Services          ServiceSet       `yaml:"services"`
	// LaunchCmd runs on the controller once every service is up, for
	// workloads submitted from outside the emulated network.
	LaunchCmd string `yaml:"launch_cmd"`
}

// BGConfig shapes the background traffic: one host per switch sourcing
// and sinking scheduled iperf3 flows over the emulated links.
type BGConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Image    string         `yaml:"image"`
	Network  string         `yaml:"network"`
	Limits   limits.Config  `yaml:"limits"`
	Pattern  pattern.Config `yaml:"pattern"`
	BasePort int            `yaml:"base_port"`
	StateDir string         `yaml:"state_dir"`
	AgentBin string         `yaml:"agent_bin"`
}

// Experiment is the full experiment description.
type Experiment struct {
	Name     string          `yaml:"name"`
	LogDir   string          `yaml:"log_dir"`
	LogLevel string          `yaml:"log_level"`
	Seed     int64           `yaml:"seed"`
	Provider string          `yaml:"provider"`
	Topology topology.Config `yaml:"topology"`
	FL       FLConfig        `yaml:"fl"`
	BG       BGConfig        `yaml:"bg"`
}

// Default returns a runnable baseline experiment. Every field a file can
// set has a sensible value here.
func Default() *Experiment {
	return &Experiment{
		Name:     "exp1",
		LogDir:   "log",
		LogLevel: "info",
		Seed:     42,
		Provider: ProviderDocker,
		Topology: topology.Config{
			Source:      topology.SourceCatalog,
			CatalogID:   "abilene",
			LinkUtilKey: "deg",
			SwitchConfig: map[string]string{
				"failMode": "standalone",
				"stp":      "true",
			},
		},
		FL: FLConfig{
			Placement: placement.Config{
				Participants:        10,
				CoordinatorStrategy: placement.StrategyHighestDegree,
				ParticipantStrategy: placement.StrategyLowestDegree,
			},
			Image:   "fl-app:latest",
			Network: "10.0.0.0/16",
			CoordinatorLimits: limits.Config{
				CPU:      1.0,
				MemoryMB: 2048,
			},
			ParticipantLimits: limits.Config{
				Strategy: limits.Homogeneous,
				CPU:      0.5,
				MemoryMB: 256,
			},
			Services: ServiceSet{
				Coordinator: []ServiceSpec{
					{Name: "flower-superlink", Cmd: "venv/bin/flower-superlink --insecure --isolation process"},
					{Name: "flwr-serverapp", Cmd: "venv/bin/flwr-serverapp --insecure --run-once"},
				},
				Participant: []ServiceSpec{
					{Name: "flower-supernode", Cmd: "venv/bin/flower-supernode --insecure --isolation process --superlink=$COORDINATOR_IP:9092 --node-config=cid=$PARTICIPANT_ID"},
					{Name: "flwr-clientapp", Cmd: "venv/bin/flwr-clientapp --insecure"},
				},
			},
		},
		BG: BGConfig{
			Enabled: false,
			Image:   "bg-traffic:latest",
			Network: "10.1.0.0/16",
			Limits: limits.Config{
				CPU:      0.5,
				MemoryMB: 256,
			},
			Pattern: pattern.Config{
				Kind:            pattern.Poisson,
				MinRate:         1.0,
				MaxRate:         100.0,
				ParallelStreams: 1,
			},
			BasePort: 12345,
		},
	}
}

// Read loads an experiment file over the defaults. Unknown keys are
// rejected so typos surface instead of silently running a stock value.
func Read(path string) (*Experiment, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening experiment file: %v", errdefs.ErrConfiguration, err)
	}
	defer file.Close()
	raw, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}
	exp := Default()
	if err := yaml.UnmarshalStrict(raw, exp); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", errdefs.ErrConfiguration, path, err)
	}
	if err := exp.Validate(); err != nil {
		return nil, err
	}
	return exp, nil
}

// Validate checks the invariants the components cannot check for
// themselves. Strategy names, pattern kinds and limit bounds are
// validated by their own constructors before any host exists.
func (e *Experiment) Validate() error {
	switch e.Provider {
	case ProviderLocal, ProviderDocker, ProviderKube:
	default:
		return fmt.Errorf("%w: unknown provider %q", errdefs.ErrConfiguration, e.Provider)
	}
	if _, err := netip.ParsePrefix(e.FL.Network); err != nil {
		return fmt.Errorf("%w: fl network: %v", errdefs.ErrConfiguration, err)
	}
	if _, err := netip.ParsePrefix(e.BG.Network); err != nil {
		return fmt.Errorf("%w: bg network: %v", errdefs.ErrConfiguration, err)
	}
	if len(e.FL.Services.Coordinator) == 0 {
		return fmt.Errorf("%w: at least one coordinator service is required", errdefs.ErrConfiguration)
	}
	if e.BG.Enabled && e.BG.BasePort < 1 {
		return fmt.Errorf("%w: bg base_port must be positive", errdefs.ErrConfiguration)
	}
	return nil
}
