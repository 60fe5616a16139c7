package experiment

import (
	"context"
	"io"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oabuhamdan/fleet/internal/errdefs"
	"github.com/oabuhamdan/fleet/internal/logging"
)

type hostCall struct {
	host string
	cmd  []string
}

func (c hostCall) script() string { return strings.Join(c.cmd, " ") }

// fakeRunner plays the emulated hosts: launch scripts get fresh pids,
// liveness probes consult a kill list, and everything is recorded.
type fakeRunner struct {
	mu        sync.Mutex
	calls     []hostCall
	streams   []hostCall
	nextPID   int
	deadPIDs  map[int]bool
	failHosts map[string]bool
	badPID    bool
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		nextPID:   100,
		deadPIDs:  make(map[int]bool),
		failHosts: make(map[string]bool),
	}
}

func (f *fakeRunner) Exec(_ context.Context, host string, cmd []string) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, hostCall{host: host, cmd: cmd})
	if f.failHosts[host] {
		return "", "no such host", errdefs.ErrResourceUnavailable
	}
	script := strings.Join(cmd, " ")
	switch {
	case strings.Contains(script, "echo $!"):
		if f.badPID {
			return "no pid for you", "", nil
		}
		f.nextPID++
		return strconv.Itoa(f.nextPID) + "\n", "", nil
	case len(cmd) == 3 && strings.HasPrefix(cmd[2], "kill -0 "):
		pid, _ := strconv.Atoi(strings.TrimPrefix(cmd[2], "kill -0 "))
		if f.deadPIDs[pid] {
			return "", "", errdefs.ErrProcessFailure
		}
	case len(cmd) >= 2 && cmd[0] == "fleet-agent" && cmd[1] == "status":
		return `{"server": {"pid": 99, "step": 0}}`, "", nil
	}
	return "", "", nil
}

func (f *fakeRunner) ExecStream(_ context.Context, host string, cmd []string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streams = append(f.streams, hostCall{host: host, cmd: cmd})
	return io.NopCloser(strings.NewReader("log line\n")), nil
}

func (f *fakeRunner) markDead(pid int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deadPIDs[pid] = true
}

func (f *fakeRunner) recorded() []hostCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]hostCall, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeRunner) streamed() []hostCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]hostCall, len(f.streams))
	copy(out, f.streams)
	return out
}

func newTestSupervisor(runner *fakeRunner, poll time.Duration) *Supervisor {
	return NewSupervisor(runner, SupervisorConfig{
		LogDir:       "/tmp/fleet-test",
		SettleDelay:  time.Millisecond,
		PollInterval: poll,
	}, logging.Discard())
}

func testServicePlan() Plan {
	return Plan{
		Coordinator: []Service{
			{Host: "flserver", Name: "superlink", Cmd: "superlink --insecure"},
			{Host: "flserver", Name: "serverapp", Cmd: "serverapp --run-once"},
		},
		Participants: []Service{
			{Host: "flc1", Name: "supernode", Cmd: "supernode --id 1"},
			{Host: "flc2", Name: "supernode", Cmd: "supernode --id 2"},
		},
	}
}

func TestStartLaunchesCoordinatorBeforeParticipants(t *testing.T) {
	runner := newFakeRunner()
	s := newTestSupervisor(runner, time.Hour)
	ctx := context.Background()

	require.NoError(t, s.Start(ctx, testServicePlan()))

	calls := runner.recorded()
	require.Len(t, calls, 4)
	require.Equal(t, "flserver", calls[0].host)
	require.Equal(t,
		"sh -c nohup superlink --insecure > /tmp/fleet-test/superlink.log 2>&1 & echo $!",
		calls[0].script())
	require.Equal(t, "flserver", calls[1].host)
	require.Equal(t, "flc1", calls[2].host)
	require.Equal(t, "flc2", calls[3].host)

	// A second Start while running changes nothing.
	require.NoError(t, s.Start(ctx, testServicePlan()))
	require.Len(t, runner.recorded(), 4)

	s.Stop(ctx)
}

func TestStartRequiresCoordinatorServices(t *testing.T) {
	s := newTestSupervisor(newFakeRunner(), time.Hour)
	err := s.Start(context.Background(), Plan{Participants: []Service{{Host: "flc1", Name: "x", Cmd: "x"}}})
	require.ErrorIs(t, err, errdefs.ErrConfiguration)
}

func TestStatusProbesEveryService(t *testing.T) {
	runner := newFakeRunner()
	s := newTestSupervisor(runner, time.Hour)
	ctx := context.Background()

	require.NoError(t, s.Start(ctx, testServicePlan()))
	defer s.Stop(ctx)

	statuses := s.Status(ctx)
	require.Len(t, statuses, 4)
	for _, st := range statuses {
		require.True(t, st.Running, st.Name)
	}
	require.Equal(t, "superlink", statuses[0].Name)
	require.Equal(t, 101, statuses[0].PID)
	require.Equal(t, "flc2", statuses[3].Host)
	require.Equal(t, 104, statuses[3].PID)

	runner.markDead(103)
	statuses = s.Status(ctx)
	require.True(t, statuses[1].Running)
	require.False(t, statuses[2].Running)
}

func TestStopKillsEveryHostOnce(t *testing.T) {
	runner := newFakeRunner()
	s := newTestSupervisor(runner, time.Hour)
	ctx := context.Background()

	require.NoError(t, s.Start(ctx, testServicePlan()))
	s.Stop(ctx)

	var kills []string
	for _, c := range runner.recorded() {
		if strings.Contains(c.script(), "kill -9") {
			kills = append(kills, c.host+": "+c.cmd[2])
		}
	}
	require.Equal(t, []string{
		"flserver: kill -9 101 102 2>/dev/null || true",
		"flc1: kill -9 103 2>/dev/null || true",
		"flc2: kill -9 104 2>/dev/null || true",
	}, kills)

	select {
	case <-s.Done():
	default:
		t.Fatal("done channel still open after stop")
	}

	// Stopping again is a no-op.
	before := len(runner.recorded())
	s.Stop(ctx)
	require.Len(t, runner.recorded(), before)
}

func TestCoordinatorFailureAbortsRun(t *testing.T) {
	runner := newFakeRunner()
	runner.failHosts["flserver"] = true
	s := newTestSupervisor(runner, time.Hour)

	err := s.Start(context.Background(), testServicePlan())
	require.ErrorIs(t, err, errdefs.ErrResourceUnavailable)

	for _, c := range runner.recorded() {
		require.Equal(t, "flserver", c.host)
	}
	select {
	case <-s.Done():
	default:
		t.Fatal("abort did not close the done channel")
	}
}

func TestStartRejectsServiceWithoutPID(t *testing.T) {
	runner := newFakeRunner()
	runner.badPID = true
	s := newTestSupervisor(runner, time.Hour)

	err := s.Start(context.Background(), testServicePlan())
	require.ErrorIs(t, err, errdefs.ErrProcessFailure)
}

func TestParticipantHostFailureSkipsItsRemainingServices(t *testing.T) {
	runner := newFakeRunner()
	runner.failHosts["flc1"] = true
	s := newTestSupervisor(runner, time.Hour)
	ctx := context.Background()

	plan := Plan{
		Coordinator: []Service{{Host: "flserver", Name: "coord", Cmd: "coord"}},
		Participants: []Service{
			{Host: "flc1", Name: "svc-a", Cmd: "a"},
			{Host: "flc1", Name: "svc-b", Cmd: "b"},
			{Host: "flc2", Name: "svc-a", Cmd: "a"},
		},
	}
	require.NoError(t, s.Start(ctx, plan))
	defer s.Stop(ctx)

	attempts := 0
	for _, c := range runner.recorded() {
		if c.host == "flc1" {
			attempts++
		}
	}
	require.Equal(t, 1, attempts)

	statuses := s.Status(ctx)
	require.Len(t, statuses, 2)
	require.Equal(t, "flserver", statuses[0].Host)
	require.Equal(t, "flc2", statuses[1].Host)
}

func TestMonitorCascadesWhenPrimaryExits(t *testing.T) {
	runner := newFakeRunner()
	s := newTestSupervisor(runner, 20*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, s.Start(ctx, testServicePlan()))

	// The last coordinator service is the primary one.
	runner.markDead(102)

	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("monitor did not cascade after primary exit")
	}

	killHosts := make(map[string]bool)
	for _, c := range runner.recorded() {
		if strings.Contains(c.script(), "kill -9") {
			killHosts[c.host] = true
		}
	}
	require.Equal(t, map[string]bool{"flserver": true, "flc1": true, "flc2": true}, killHosts)
}

func TestLaunchCmdRunsOnTheController(t *testing.T) {
	ctx := context.Background()

	plan := testServicePlan()
	plan.LaunchCmd = "true"
	s := newTestSupervisor(newFakeRunner(), time.Hour)
	require.NoError(t, s.Start(ctx, plan))
	s.Stop(ctx)

	plan.LaunchCmd = "exit 7"
	s = newTestSupervisor(newFakeRunner(), time.Hour)
	err := s.Start(ctx, plan)
	require.ErrorIs(t, err, errdefs.ErrProcessFailure)
}

func TestFollowLogsTailsTheRightService(t *testing.T) {
	runner := newFakeRunner()
	s := newTestSupervisor(runner, time.Hour)
	ctx := context.Background()

	require.NoError(t, s.Start(ctx, testServicePlan()))
	defer s.Stop(ctx)

	rc, err := s.FollowLogs(ctx, "flserver", "")
	require.NoError(t, err)
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	require.Equal(t, "log line\n", string(b))

	// Empty service name follows the most recently started service.
	streams := runner.streamed()
	require.Len(t, streams, 1)
	require.Equal(t, "flserver", streams[0].host)
	require.Equal(t, []string{"tail", "-f", "--pid=102", "/tmp/fleet-test/serverapp.log"}, streams[0].cmd)

	rc, err = s.FollowLogs(ctx, "flserver", "superlink")
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	streams = runner.streamed()
	require.Equal(t, []string{"tail", "-f", "--pid=101", "/tmp/fleet-test/superlink.log"}, streams[1].cmd)

	_, err = s.FollowLogs(ctx, "flserver", "ghost")
	require.ErrorIs(t, err, errdefs.ErrConfiguration)
	_, err = s.FollowLogs(ctx, "nohost", "")
	require.ErrorIs(t, err, errdefs.ErrConfiguration)
}
