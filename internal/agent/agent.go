// Package agent implements the on-host side of the traffic protocol. One
// agent process supervises one iperf3 role for one stream; all its
// coordination with the controller happens through the record files under
// the state directory.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/oabuhamdan/fleet/internal/errdefs"
	"github.com/oabuhamdan/fleet/internal/logging"
	"github.com/oabuhamdan/fleet/internal/traffic"
)

// Config carries the agent's tunables. Zero values fall back to the
// defaults the controller assumes.
type Config struct {
	StateDir    string
	LogDir      string
	IperfPath   string
	DialTimeout time.Duration
	StopGrace   time.Duration
}

type Agent struct {
	stateDir    string
	logDir      string
	iperfPath   string
	dialTimeout time.Duration
	stopGrace   time.Duration
}

func New(cfg Config) *Agent {
	if cfg.StateDir == "" {
		cfg.StateDir = traffic.DefaultStateDir
	}
	if cfg.LogDir == "" {
		cfg.LogDir = "log/bg_traffic"
	}
	if cfg.IperfPath == "" {
		cfg.IperfPath = "iperf3"
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 30 * time.Second
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = 3 * time.Second
	}
	return &Agent{
		stateDir:    cfg.StateDir,
		logDir:      cfg.LogDir,
		iperfPath:   cfg.IperfPath,
		dialTimeout: cfg.DialTimeout,
		stopGrace:   cfg.StopGrace,
	}
}

// RunServer starts an iperf3 server, records its pid and port, and blocks
// until the server exits. Interval reports go to the process's own stdout;
// only lifecycle events land in the stream log.
func (a *Agent) RunServer(ctx context.Context, id string, port int) error {
	log, err := a.streamLog(id)
	if err != nil {
		return err
	}
	defer log.Sync()
	log.Infow("Starting iperf3 server", "stream", id, "port", port)

	cmd := exec.CommandContext(ctx, a.iperfPath, "-s", "-i", "10", "-p", strconv.Itoa(port))
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: starting iperf3 server: %v", errdefs.ErrResourceUnavailable, err)
	}
	pid := cmd.Process.Pid
	if err := traffic.SaveState(a.stateDir, id, traffic.RoleServer,
		traffic.ControlState{PID: &pid, Port: port}); err != nil {
		return err
	}

	if err := cmd.Wait(); err != nil {
		log.Errorw("Server exited", "stream", id, "error", err)
		return fmt.Errorf("%w: iperf3 server: %v", errdefs.ErrProcessFailure, err)
	}
	return nil
}

// RunClient walks the stream's rate schedule, one iperf3 transfer per
// step, until the record tells it to pause or disappears. The record is
// updated at each spawn, so a pause during step k resumes at step k.
func (a *Agent) RunClient(ctx context.Context, id, dst string, port, parallel int) error {
	log, err := a.streamLog(id)
	if err != nil {
		return err
	}
	defer log.Sync()

	sched, err := traffic.ReadScheduleFile(traffic.RatesPath(a.stateDir, id))
	if err != nil {
		return err
	}
	log.Infow("Starting iperf3 client", "stream", id, "dst", dst, "port", port, "steps", sched.Len())

	if err := a.waitForServer(ctx, dst, port); err != nil {
		log.Errorw("Server unreachable", "stream", id, "error", err)
		return err
	}

	state, _, err := traffic.LoadState(a.stateDir, id, traffic.RoleClient)
	if err != nil {
		return err
	}
	step := state.Step

	for !state.Paused {
		rate, dur := sched.At(step)
		log.Infow("Transfer step", "step", step, "rateMbps", rate, "duration", dur)

		args := []string{
			"-c", dst, "-p", strconv.Itoa(port),
			"-t", strconv.Itoa(int(dur.Seconds())),
			"-b", strconv.FormatFloat(rate, 'f', 2, 64) + "M",
			"-P", strconv.Itoa(parallel),
		}
		cmd := exec.Command(a.iperfPath, args...)
		out, err := a.runTransfer(cmd)
		if err != nil {
			return err
		}

		pid := cmd.Process.Pid
		state.PID = &pid
		state.Step = step
		if err := traffic.SaveState(a.stateDir, id, traffic.RoleClient, state); err != nil {
			return err
		}

		if err := cmd.Wait(); err != nil {
			log.Errorw("Transfer failed", "step", step, "error", err, "output", tail(out.String(), 400))
		}

		step++
		var found bool
		state, found, err = traffic.LoadState(a.stateDir, id, traffic.RoleClient)
		if err != nil {
			return err
		}
		if !found {
			log.Infow("Record removed, stopping", "stream", id)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	log.Infow("Client paused", "stream", id, "step", state.Step)
	return nil
}

func (a *Agent) runTransfer(cmd *exec.Cmd) (*outputBuffer, error) {
	out := &outputBuffer{}
	cmd.Stdout = out
	cmd.Stderr = out
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: starting iperf3 client: %v", errdefs.ErrResourceUnavailable, err)
	}
	return out, nil
}

// Pause kills the transfer in flight and flags the client loop to exit.
// The recorded step is left alone, so the interrupted step replays on
// resume.
func (a *Agent) Pause(id string) error {
	state, found, err := traffic.LoadState(a.stateDir, id, traffic.RoleClient)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: no client record for stream %s", errdefs.ErrConfiguration, id)
	}
	if state.PID != nil {
		signalPID(*state.PID, syscall.SIGKILL)
	}
	state.Paused = true
	state.PID = nil
	return traffic.SaveState(a.stateDir, id, traffic.RoleClient, state)
}

// Resume clears the paused flag and re-enters the client loop with the
// endpoints recorded at initialization. It blocks like RunClient does.
func (a *Agent) Resume(ctx context.Context, id string) error {
	state, found, err := traffic.LoadState(a.stateDir, id, traffic.RoleClient)
	if err != nil {
		return err
	}
	if !found || state.Dst == "" {
		return fmt.Errorf("%w: no previous client state for stream %s", errdefs.ErrConfiguration, id)
	}
	state.Paused = false
	if err := traffic.SaveState(a.stateDir, id, traffic.RoleClient, state); err != nil {
		return err
	}
	parallel := state.Parallel
	if parallel < 1 {
		parallel = 1
	}
	return a.RunClient(ctx, id, state.Dst, state.Port, parallel)
}

// Stop terminates the recorded process for one role and deletes its
// record. Missing records and already-dead processes are fine; stop is
// the one command that must always succeed.
func (a *Agent) Stop(id string, role traffic.Role) error {
	if role != traffic.RoleClient && role != traffic.RoleServer {
		return fmt.Errorf("%w: unknown role %q", errdefs.ErrConfiguration, role)
	}
	state, found, err := traffic.LoadState(a.stateDir, id, role)
	if err == nil && found && state.PID != nil {
		a.terminate(*state.PID)
	}
	return traffic.RemoveState(a.stateDir, id, role)
}

// terminate asks politely first and escalates when the process outlives
// the grace period.
func (a *Agent) terminate(pid int) {
	if err := signalPID(pid, syscall.SIGTERM); err != nil {
		return
	}
	deadline := time.Now().Add(a.stopGrace)
	for time.Now().Before(deadline) {
		if signalPID(pid, syscall.Signal(0)) != nil {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	signalPID(pid, syscall.SIGKILL)
}

// Status writes the records of both roles as JSON, omitting roles that
// have none.
func (a *Agent) Status(w io.Writer, id string) error {
	states := make(map[string]traffic.ControlState)
	for _, role := range []traffic.Role{traffic.RoleClient, traffic.RoleServer} {
		st, found, err := traffic.LoadState(a.stateDir, id, role)
		if err != nil {
			return err
		}
		if found {
			states[string(role)] = st
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(states)
}

func (a *Agent) waitForServer(ctx context.Context, dst string, port int) error {
	addr := net.JoinHostPort(dst, strconv.Itoa(port))
	deadline := time.Now().Add(a.dialTimeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, time.Second)
		if err == nil {
			conn.Close()
			return nil
		}
		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("%w: timed out waiting for server %s", errdefs.ErrResourceUnavailable, addr)
}

func (a *Agent) streamLog(id string) (*zap.SugaredLogger, error) {
	if err := os.MkdirAll(a.logDir, 0o755); err != nil {
		return nil, err
	}
	return logging.NewFile("info", filepath.Join(a.logDir, "iperf_log_"+id+".txt"))
}

func signalPID(pid int, sig syscall.Signal) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	if err := p.Signal(sig); err != nil {
		if errors.Is(err, os.ErrProcessDone) || errors.Is(err, syscall.ESRCH) {
			return os.ErrProcessDone
		}
		return err
	}
	return nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}

// outputBuffer keeps transfer output for failure logs without holding an
// unbounded pipe open.
type outputBuffer struct {
	buf []byte
}

func (b *outputBuffer) Write(p []byte) (int, error) {
	const keep = 64 << 10
	b.buf = append(b.buf, p...)
	if len(b.buf) > keep {
		b.buf = b.buf[len(b.buf)-keep:]
	}
	return len(p), nil
}

func (b *outputBuffer) String() string { return string(b.buf) }
