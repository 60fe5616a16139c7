package traffic

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/oabuhamdan/fleet/internal/errdefs"
	"github.com/oabuhamdan/fleet/internal/hostexec"
)

// GeneratorConfig tunes the controller side of the traffic protocol.
type GeneratorConfig struct {
	// StateDir is where agents keep their rate files and stream records.
	StateDir string
	// AgentBin is the agent executable as invoked inside the hosts.
	AgentBin string
	// SettleDelay is how long to wait between launching a server and
	// probing its record before the matching client starts.
	SettleDelay time.Duration
}

type trackedStream struct {
	stream Stream
	failed bool
}

// Generator drives traffic agents on remote hosts. All coordination with
// the agents goes through the files under StateDir on each host; the
// generator never keeps a live connection to them.
type Generator struct {
	runner   hostexec.Runner
	stateDir string
	agentBin string
	settle   time.Duration
	log      *zap.SugaredLogger

	streams map[string]*trackedStream
}

func NewGenerator(runner hostexec.Runner, cfg GeneratorConfig, log *zap.SugaredLogger) *Generator {
	if cfg.StateDir == "" {
		cfg.StateDir = DefaultStateDir
	}
	if cfg.AgentBin == "" {
		cfg.AgentBin = "fleet-agent"
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 2 * time.Second
	}
	return &Generator{
		runner:   runner,
		stateDir: cfg.StateDir,
		agentBin: cfg.AgentBin,
		settle:   cfg.SettleDelay,
		log:      log,
		streams:  make(map[string]*trackedStream),
	}
}

// InitStream registers a stream and installs its rate schedule and initial
// client record on the source host. The record carries the destination,
// port and parallelism so a later resume can rebuild the client command
// without the controller present.
func (g *Generator) InitStream(ctx context.Context, s Stream) error {
	if s.ID == "" || s.Src == "" || s.Dst == "" || s.DstAddr == "" {
		return fmt.Errorf("%w: stream endpoints incomplete", errdefs.ErrConfiguration)
	}
	if s.Schedule.Len() == 0 {
		return fmt.Errorf("%w: stream %s has an empty schedule", errdefs.ErrConfiguration, s.ID)
	}
	if s.Parallel < 1 {
		s.Parallel = 1
	}
	if _, ok := g.streams[s.ID]; ok {
		return fmt.Errorf("%w: stream %s already initialized", errdefs.ErrConfiguration, s.ID)
	}

	if err := g.installFile(ctx, s.Src, RatesPath(g.stateDir, s.ID), EncodeSchedule(s.Schedule)); err != nil {
		return fmt.Errorf("installing rates for stream %s: %w", s.ID, err)
	}
	initial := ControlState{Dst: s.DstAddr, Port: s.Port, Parallel: s.Parallel}
	raw, err := json.MarshalIndent(initial, "", "  ")
	if err != nil {
		return err
	}
	if err := g.installFile(ctx, s.Src, StatePath(g.stateDir, s.ID, RoleClient), string(raw)); err != nil {
		return fmt.Errorf("installing client record for stream %s: %w", s.ID, err)
	}

	g.streams[s.ID] = &trackedStream{stream: s}
	g.log.Infow("Stream initialized", "stream", s.ID, "src", s.Src, "dst", s.Dst, "points", s.Schedule.Len())
	return nil
}

// StartStreams launches the server and client agents for every initialized
// stream. A stream whose server never writes its record is marked failed
// and skipped; the remaining streams still start.
func (g *Generator) StartStreams(ctx context.Context) error {
	for _, id := range g.ids() {
		t := g.streams[id]
		if err := g.startStream(ctx, t.stream); err != nil {
			t.failed = true
			g.log.Errorw("Stream failed to start", "stream", id, "error", err)
			continue
		}
		g.log.Infow("Stream running", "stream", id)
	}
	return ctx.Err()
}

func (g *Generator) startStream(ctx context.Context, s Stream) error {
	// 1. Launch the server on the destination host.
	if err := g.launchDetached(ctx, s.Dst, "server", s.ID, strconv.Itoa(s.Port)); err != nil {
		return fmt.Errorf("launching server: %w", err)
	}

	// 2. Give it a moment, then check it wrote its record.
	select {
	case <-time.After(g.settle):
	case <-ctx.Done():
		return ctx.Err()
	}
	states, err := g.statusOnHost(ctx, s.Dst, s.ID)
	if err != nil {
		return fmt.Errorf("probing server: %w", err)
	}
	srv, ok := states[RoleServer]
	if !ok || srv.PID == nil {
		return fmt.Errorf("%w: server for stream %s did not come up", errdefs.ErrProcessFailure, s.ID)
	}

	// 3. Launch the client on the source host.
	if err := g.launchDetached(ctx, s.Src, "client", s.ID, s.DstAddr,
		strconv.Itoa(s.Port), strconv.Itoa(s.Parallel)); err != nil {
		return fmt.Errorf("launching client: %w", err)
	}
	return nil
}

// Pause kills a stream's transfer in flight and marks the stream paused.
// The interrupted step replays on resume. The call is synchronous so the
// caller knows the stream is quiescent when it returns.
func (g *Generator) Pause(ctx context.Context, id string) error {
	t, err := g.lookup(id)
	if err != nil {
		return err
	}
	if _, stderr, err := g.runner.Exec(ctx, t.stream.Src, []string{g.agentBin, "pause", id}); err != nil {
		return fmt.Errorf("pausing stream %s: %w (%s)", id, err, strings.TrimSpace(stderr))
	}
	g.log.Infow("Stream paused", "stream", id)
	return nil
}

// Resume relaunches a paused stream's client. The agent picks the step up
// from the record, so transmission continues where the pause left it.
func (g *Generator) Resume(ctx context.Context, id string) error {
	t, err := g.lookup(id)
	if err != nil {
		return err
	}
	if err := g.launchDetached(ctx, t.stream.Src, "resume", id); err != nil {
		return fmt.Errorf("resuming stream %s: %w", id, err)
	}
	g.log.Infow("Stream resumed", "stream", id)
	return nil
}

// Stop terminates one role of a stream. Stopping a role that never started
// or already exited is a no-op on the agent side.
func (g *Generator) Stop(ctx context.Context, id string, role Role) error {
	t, err := g.lookup(id)
	if err != nil {
		return err
	}
	host := t.stream.Src
	if role == RoleServer {
		host = t.stream.Dst
	}
	if _, stderr, err := g.runner.Exec(ctx, host, []string{g.agentBin, "stop", id, string(role)}); err != nil {
		return fmt.Errorf("stopping %s of stream %s: %w (%s)", role, id, err, strings.TrimSpace(stderr))
	}
	return nil
}

// StopAll stops every tracked stream, clients first so servers do not log
// resets. Failures are logged and do not stop the sweep.
func (g *Generator) StopAll(ctx context.Context) {
	for _, id := range g.ids() {
		if err := g.Stop(ctx, id, RoleClient); err != nil {
			g.log.Warnw("Client stop failed", "stream", id, "error", err)
		}
		if err := g.Stop(ctx, id, RoleServer); err != nil {
			g.log.Warnw("Server stop failed", "stream", id, "error", err)
		}
		delete(g.streams, id)
	}
}

// Status reads both roles' records for a stream, the client's from the
// source host and the server's from the destination host.
func (g *Generator) Status(ctx context.Context, id string) (map[Role]ControlState, error) {
	t, err := g.lookup(id)
	if err != nil {
		return nil, err
	}
	merged := make(map[Role]ControlState)
	src, err := g.statusOnHost(ctx, t.stream.Src, id)
	if err != nil {
		return nil, err
	}
	if st, ok := src[RoleClient]; ok {
		merged[RoleClient] = st
	}
	dst, err := g.statusOnHost(ctx, t.stream.Dst, id)
	if err != nil {
		return nil, err
	}
	if st, ok := dst[RoleServer]; ok {
		merged[RoleServer] = st
	}
	return merged, nil
}

// StreamIDs lists the tracked streams in insertion-independent sorted order.
func (g *Generator) StreamIDs() []string {
	return g.ids()
}

// StateDir is where the agents keep their records for this generator.
func (g *Generator) StateDir() string {
	return g.stateDir
}

func (g *Generator) lookup(id string) (*trackedStream, error) {
	t, ok := g.streams[id]
	if !ok {
		return nil, fmt.Errorf("%w: unknown stream %s", errdefs.ErrConfiguration, id)
	}
	if t.failed {
		return nil, fmt.Errorf("%w: stream %s failed to start", errdefs.ErrProcessFailure, id)
	}
	return t, nil
}

func (g *Generator) ids() []string {
	ids := make([]string, 0, len(g.streams))
	for id := range g.streams {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// launchDetached starts an agent command in the background on a host and
// returns as soon as the shell does, leaving the agent running on its own.
func (g *Generator) launchDetached(ctx context.Context, host string, args ...string) error {
	script := fmt.Sprintf("nohup %s %s > /dev/null 2>&1 &", g.agentBin, strings.Join(args, " "))
	_, stderr, err := g.runner.Exec(ctx, host, []string{"sh", "-c", script})
	if err != nil {
		return fmt.Errorf("%w (%s)", err, strings.TrimSpace(stderr))
	}
	return nil
}

func (g *Generator) statusOnHost(ctx context.Context, host, id string) (map[Role]ControlState, error) {
	stdout, stderr, err := g.runner.Exec(ctx, host, []string{g.agentBin, "status", id})
	if err != nil {
		return nil, fmt.Errorf("%w (%s)", err, strings.TrimSpace(stderr))
	}
	var raw map[string]ControlState
	if err := json.Unmarshal([]byte(stdout), &raw); err != nil {
		return nil, fmt.Errorf("%w: bad status output: %v", errdefs.ErrStateCorruption, err)
	}
	states := make(map[Role]ControlState, len(raw))
	for k, v := range raw {
		states[Role(k)] = v
	}
	return states, nil
}

// installFile writes content to a path on a host through the runner, via a
// temp file and rename so readers never see a partial write.
func (g *Generator) installFile(ctx context.Context, host, path, content string) error {
	script := fmt.Sprintf("cat > %[1]s.tmp << 'FLEET_EOF'\n%[2]s\nFLEET_EOF\nmv %[1]s.tmp %[1]s",
		path, strings.TrimRight(content, "\n"))
	_, stderr, err := g.runner.Exec(ctx, host, []string{"sh", "-c", script})
	if err != nil {
		return fmt.Errorf("%w (%s)", err, strings.TrimSpace(stderr))
	}
	return nil
}
