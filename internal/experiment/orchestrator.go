package experiment

import (
	"context"
	"fmt"
	"hash/fnv"
	"net/netip"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/iti/rngstream"
	"go.uber.org/zap"

	"github.com/oabuhamdan/fleet/internal/config"
	"github.com/oabuhamdan/fleet/internal/errdefs"
	"github.com/oabuhamdan/fleet/internal/hostexec"
	"github.com/oabuhamdan/fleet/internal/limits"
	"github.com/oabuhamdan/fleet/internal/pattern"
	"github.com/oabuhamdan/fleet/internal/placement"
	"github.com/oabuhamdan/fleet/internal/topology"
	"github.com/oabuhamdan/fleet/internal/traffic"
)

const coordinatorName = "flserver"

// Options are the per-run switches, set from the command line rather than
// the experiment file.
type Options struct {
	DryRun      bool
	SkipPing    bool
	SkipTraffic bool
}

// Orchestrator wires the whole experiment together: topology, placement,
// host creation, background traffic and the workload supervisor.
type Orchestrator struct {
	RunID uuid.UUID

	cfg  *config.Experiment
	opts Options
	log  *zap.SugaredLogger

	provider hostexec.Provider
	runner   hostexec.Runner

	graph *topology.Graph
	plan  *placement.Assignment

	coordinator  string
	participants []string
	bgHosts      map[string]string
	addrs        map[string]string
	created      []string

	traffic *traffic.Generator
	super   *Supervisor
}

func NewOrchestrator(cfg *config.Experiment, opts Options, provider hostexec.Provider,
	runner hostexec.Runner, log *zap.SugaredLogger) *Orchestrator {
	return &Orchestrator{
		RunID:    uuid.New(),
		cfg:      cfg,
		opts:     opts,
		log:      log,
		provider: provider,
		runner:   runner,
		bgHosts:  make(map[string]string),
		addrs:    make(map[string]string),
		traffic: traffic.NewGenerator(runner, traffic.GeneratorConfig{
			StateDir: cfg.BG.StateDir,
			AgentBin: cfg.BG.AgentBin,
		}, log),
		super: NewSupervisor(runner, SupervisorConfig{}, log),
	}
}

func (o *Orchestrator) Supervisor() *Supervisor     { return o.super }
func (o *Orchestrator) Traffic() *traffic.Generator { return o.traffic }
func (o *Orchestrator) CoordinatorHost() string     { return o.coordinator }
func (o *Orchestrator) StateDir() string            { return o.traffic.StateDir() }

// Setup loads the topology, computes the placement and creates every
// host. Configuration problems surface here, before anything exists.
func (o *Orchestrator) Setup(ctx context.Context) error {
	// 1. Topology and placement.
	graph, err := topology.Load(o.cfg.Topology, o.log)
	if err != nil {
		return err
	}
	o.graph = graph
	plan, err := placement.Plan(graph, o.cfg.FL.Placement, rngstream.New("placement"))
	if err != nil {
		return err
	}
	o.plan = plan
	o.log.Infow("Placement computed", "coordinator", plan.Coordinator,
		"participants", len(plan.Participants), "backgroundHosts", len(plan.Background))

	// Validate the pattern before any host exists.
	if o.cfg.BG.Enabled {
		if _, err := pattern.New(o.cfg.BG.Pattern); err != nil {
			return err
		}
	}

	// 2. Address pools. Identical networks share one pool, so the two
	// host families keep disjoint addresses.
	flPool, err := newAddrPool(o.cfg.FL.Network)
	if err != nil {
		return err
	}
	bgPool := flPool
	sharedNet := o.cfg.BG.Network == o.cfg.FL.Network
	if !sharedNet {
		if bgPool, err = newAddrPool(o.cfg.BG.Network); err != nil {
			return err
		}
	}

	if o.opts.DryRun {
		return o.describe(flPool, bgPool)
	}

	// 3. Networks.
	flNet := o.cfg.Name + "-fl"
	if sharedNet {
		flNet = o.cfg.Name + "-net"
	}
	if err := o.provider.EnsureNetwork(ctx, flNet, o.cfg.FL.Network); err != nil {
		return err
	}
	bgNet := flNet
	if o.cfg.BG.Enabled && !sharedNet {
		bgNet = o.cfg.Name + "-bg"
		if err := o.provider.EnsureNetwork(ctx, bgNet, o.cfg.BG.Network); err != nil {
			return err
		}
	}

	// 4. Coordinator host first, then participants, then traffic hosts.
	coordSource, err := limits.NewSource(o.cfg.FL.CoordinatorLimits, rngstream.New("coordinator-limits"))
	if err != nil {
		return err
	}
	if err := o.addHost(ctx, coordinatorName, plan.Coordinator, flNet, flPool,
		o.cfg.FL.Image, coordSource.Next()); err != nil {
		return err
	}
	o.coordinator = coordinatorName

	partSource, err := limits.NewSource(o.cfg.FL.ParticipantLimits, rngstream.New("participant-limits"))
	if err != nil {
		return err
	}
	for i, sw := range plan.Participants {
		name := fmt.Sprintf("flc%d", i+1)
		if err := o.addHost(ctx, name, sw, flNet, flPool, o.cfg.FL.Image, partSource.Next()); err != nil {
			return err
		}
		o.participants = append(o.participants, name)
	}
	o.log.Infof("Created %d participant hosts", len(o.participants))

	if o.cfg.BG.Enabled {
		bgSource, err := limits.NewSource(o.cfg.BG.Limits, rngstream.New("bg-limits"))
		if err != nil {
			return err
		}
		for _, sw := range plan.Background {
			name := "bgc" + sw
			if err := o.addHost(ctx, name, sw, bgNet, bgPool, o.cfg.BG.Image, bgSource.Next()); err != nil {
				return err
			}
			o.bgHosts[sw] = name
		}
		o.log.Infof("Created %d background hosts", len(o.bgHosts))
	}
	return nil
}

// Start brings the experiment up: connectivity probe, background
// traffic, then the workload itself.
func (o *Orchestrator) Start(ctx context.Context) error {
	if o.opts.DryRun {
		return nil
	}
	if !o.opts.SkipPing {
		o.pingParticipants(ctx)
	}
	if o.cfg.BG.Enabled && !o.opts.SkipTraffic {
		o.log.Info("Starting background traffic")
		if err := o.startTraffic(ctx); err != nil {
			return err
		}
	}
	o.log.Info("Starting experiment")
	return o.super.Start(ctx, o.buildPlan())
}

// Stop tears the run down in reverse: workload, traffic, hosts. Every
// step is best-effort so one dead host cannot strand the rest.
func (o *Orchestrator) Stop(ctx context.Context) {
	if o.opts.DryRun {
		return
	}
	o.super.Stop(ctx)
	if o.cfg.BG.Enabled && !o.opts.SkipTraffic {
		o.traffic.StopAll(ctx)
	}
	for i := len(o.created) - 1; i >= 0; i-- {
		if err := o.provider.RemoveHost(ctx, o.created[i]); err != nil {
			o.log.Warnw("Host removal failed", "host", o.created[i], "error", err)
		}
	}
	o.created = nil
	o.log.Info("Experiment torn down")
}

func (o *Orchestrator) addHost(ctx context.Context, name, sw, network string,
	pool *addrPool, image string, spec limits.Spec) error {
	addr, err := pool.Next()
	if err != nil {
		return err
	}
	got, err := o.provider.AddHost(ctx, hostexec.HostSpec{
		Name:    name,
		Switch:  sw,
		Network: network,
		Addr:    addr.String(),
		MAC:     ipToMAC(addr),
		Image:   image,
		CPU:     spec.CPU,
		MemMB:   spec.MemoryMB,
	})
	if err != nil {
		return fmt.Errorf("creating host %s: %w", name, err)
	}
	o.addrs[name] = got
	o.created = append(o.created, name)
	o.log.Debugw("Host created", "host", name, "switch", sw, "addr", got, "limits", spec)
	return nil
}

// pingParticipants checks that the coordinator can reach every
// participant. Failures are reported, not fatal; the workload's own
// retries decide what a partial network means.
func (o *Orchestrator) pingParticipants(ctx context.Context) {
	o.log.Info("Pinging participant hosts")
	for _, p := range o.participants {
		_, _, err := o.runner.Exec(ctx, o.coordinator, []string{"ping", "-c", "1", o.addrs[p]})
		if err != nil {
			o.log.Warnw("Ping failed", "from", o.coordinator, "to", p, "error", err)
			continue
		}
		o.log.Debugw("Ping ok", "from", o.coordinator, "to", p)
	}
}

// startTraffic turns every directed link with positive utilization into
// a stream between the background hosts of its endpoints. Ports count up
// from the configured base, one per stream.
func (o *Orchestrator) startTraffic(ctx context.Context) error {
	port := o.cfg.BG.BasePort
	for _, l := range o.graph.SwitchLinks() {
		srcHost, srcOK := o.bgHosts[l.Src]
		dstHost, dstOK := o.bgHosts[l.Dst]
		if !srcOK || !dstOK {
			continue
		}
		if l.FwdUtil > 0 {
			if err := o.initStream(ctx, srcHost, dstHost, l.FwdUtil, port); err == nil {
				port++
			}
		}
		if l.BwdUtil > 0 {
			if err := o.initStream(ctx, dstHost, srcHost, l.BwdUtil, port); err == nil {
				port++
			}
		}
	}
	return o.traffic.StartStreams(ctx)
}

func (o *Orchestrator) initStream(ctx context.Context, src, dst string, mean float64, port int) error {
	id := traffic.StreamID(src, dst)
	pcfg := o.cfg.BG.Pattern
	if o.cfg.Seed != 0 {
		pcfg.Seed = streamSeed(o.cfg.Seed, id)
	}
	eng, err := pattern.New(pcfg)
	if err != nil {
		return err
	}
	sched, err := eng.Generate(mean)
	if err != nil {
		o.log.Errorw("Schedule generation failed", "stream", id, "error", err)
		return err
	}
	err = o.traffic.InitStream(ctx, traffic.Stream{
		ID:       id,
		Src:      src,
		Dst:      dst,
		DstAddr:  o.addrs[dst],
		Port:     port,
		Parallel: pcfg.ParallelStreams,
		Schedule: sched,
	})
	if err != nil {
		o.log.Errorw("Stream init failed", "stream", id, "error", err)
	}
	return err
}

// buildPlan expands the service templates into concrete launches.
// Coordinator commands may use $COORDINATOR_IP; participant commands
// also get $PARTICIPANT_ID, counted from 1.
func (o *Orchestrator) buildPlan() Plan {
	coordAddr := o.addrs[o.coordinator]
	coordExpand := strings.NewReplacer("$COORDINATOR_IP", coordAddr)

	plan := Plan{LaunchCmd: coordExpand.Replace(o.cfg.FL.LaunchCmd)}
	for _, svc := range o.cfg.FL.Services.Coordinator {
		plan.Coordinator = append(plan.Coordinator, Service{
			Host: o.coordinator,
			Name: svc.Name,
			Cmd:  coordExpand.Replace(svc.Cmd),
		})
	}
	for i, host := range o.participants {
		expand := strings.NewReplacer(
			"$COORDINATOR_IP", coordAddr,
			"$PARTICIPANT_ID", strconv.Itoa(i+1),
		)
		for _, svc := range o.cfg.FL.Services.Participant {
			plan.Participants = append(plan.Participants, Service{
				Host: host,
				Name: svc.Name,
				Cmd:  expand.Replace(svc.Cmd),
			})
		}
	}
	return plan
}

// describe logs what a run would create without touching the provider.
func (o *Orchestrator) describe(flPool, bgPool *addrPool) error {
	addr, err := flPool.Next()
	if err != nil {
		return err
	}
	o.log.Infow("Would create host", "host", coordinatorName, "switch", o.plan.Coordinator,
		"addr", addr.String(), "image", o.cfg.FL.Image)
	for i, sw := range o.plan.Participants {
		if addr, err = flPool.Next(); err != nil {
			return err
		}
		o.log.Infow("Would create host", "host", fmt.Sprintf("flc%d", i+1), "switch", sw,
			"addr", addr.String(), "image", o.cfg.FL.Image)
	}
	if o.cfg.BG.Enabled {
		for _, sw := range o.plan.Background {
			if addr, err = bgPool.Next(); err != nil {
				return err
			}
			o.log.Infow("Would create host", "host", "bgc"+sw, "switch", sw,
				"addr", addr.String(), "image", o.cfg.BG.Image)
		}
		streams := 0
		for _, l := range o.graph.SwitchLinks() {
			if l.FwdUtil > 0 {
				streams++
			}
			if l.BwdUtil > 0 {
				streams++
			}
		}
		o.log.Infow("Would start traffic", "streams", streams, "pattern", o.cfg.BG.Pattern.Kind)
	}
	return nil
}

func streamSeed(seed int64, id string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(id))
	return uint64(seed) ^ h.Sum64()
}

// addrPool hands out consecutive host addresses from a network, the
// network address itself excluded.
type addrPool struct {
	prefix netip.Prefix
	next   netip.Addr
}

func newAddrPool(cidr string) (*addrPool, error) {
	p, err := netip.ParsePrefix(cidr)
	if err != nil {
		return nil, fmt.Errorf("%w: network %q: %v", errdefs.ErrConfiguration, cidr, err)
	}
	p = p.Masked()
	return &addrPool{prefix: p, next: p.Addr().Next()}, nil
}

func (p *addrPool) Next() (netip.Addr, error) {
	a := p.next
	if !p.prefix.Contains(a) {
		return netip.Addr{}, fmt.Errorf("%w: network %s is out of addresses",
			errdefs.ErrResourceUnavailable, p.prefix)
	}
	p.next = a.Next()
	return a, nil
}

func ipToMAC(a netip.Addr) string {
	b := a.As4()
	return fmt.Sprintf("00:00:%02x:%02x:%02x:%02x", b[0], b[1], b[2], b[3])
}
