// Package experiment starts, watches and tears down the workload's own
// processes across the emulated hosts.
package experiment

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/oabuhamdan/fleet/internal/errdefs"
	"github.com/oabuhamdan/fleet/internal/hostexec"
)

// Service is one process to launch: which host, what to call it, and the
// command line to run. Names double as log file names, so they must be
// unique per host.
type Service struct {
	Host string
	Name string
	Cmd  string
}

// Plan is the launch order for one experiment. Coordinator services run
// first on a single host; the last of them is the primary service whose
// exit ends the run. LaunchCmd, when set, runs on the controller after
// everything is up.
type Plan struct {
	Coordinator  []Service
	Participants []Service
	LaunchCmd    string
}

// ServiceRecord tracks one launched process. Records exist from launch
// until stop; there is no reattach after a controller restart.
type ServiceRecord struct {
	Name string
	PID  int
}

// ServiceStatus is one row of a status report.
type ServiceStatus struct {
	Host    string
	Name    string
	PID     int
	Running bool
}

type SupervisorConfig struct {
	// LogDir is the directory on each host for service logs.
	LogDir       string
	SettleDelay  time.Duration
	PollInterval time.Duration
}

// Supervisor owns the workload processes. One instance per experiment.
type Supervisor struct {
	runner hostexec.Runner
	log    *zap.SugaredLogger
	logDir string
	settle time.Duration
	poll   time.Duration

	mu          sync.Mutex
	running     bool
	services    map[string][]ServiceRecord
	order       []string
	primary     ServiceRecord
	primaryHost string
	cancelWatch context.CancelFunc
	watchDone   chan struct{}
	doneCh      chan struct{}
}

func NewSupervisor(runner hostexec.Runner, cfg SupervisorConfig, log *zap.SugaredLogger) *Supervisor {
	if cfg.LogDir == "" {
		cfg.LogDir = "/tmp"
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 2 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	return &Supervisor{
		runner:   runner,
		log:      log,
		logDir:   cfg.LogDir,
		settle:   cfg.SettleDelay,
		poll:     cfg.PollInterval,
		services: make(map[string][]ServiceRecord),
	}
}

// Start launches the plan: coordinator services, a settle pause,
// participant services, the optional launch command, then the liveness
// monitor. A coordinator failure aborts the whole run; a participant
// host failure only skips that host's remaining services.
func (s *Supervisor) Start(ctx context.Context, plan Plan) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.log.Warn("Experiment already running")
		return nil
	}
	if len(plan.Coordinator) == 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: plan has no coordinator services", errdefs.ErrConfiguration)
	}
	s.running = true
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	// 1. Coordinator services, in order. Any failure here kills the run.
	for _, svc := range plan.Coordinator {
		rec, err := s.startService(ctx, svc)
		if err != nil {
			s.stopAll(ctx)
			return fmt.Errorf("starting coordinator service: %w", err)
		}
		s.mu.Lock()
		s.primary = rec
		s.primaryHost = svc.Host
		s.mu.Unlock()
	}

	// 2. Let the coordinator open its sockets before clients dial in.
	if err := s.pause(ctx); err != nil {
		s.stopAll(ctx)
		return err
	}

	// 3. Participant services. A dead host forfeits its services only.
	failedHosts := make(map[string]bool)
	started := 0
	for _, svc := range plan.Participants {
		if failedHosts[svc.Host] {
			continue
		}
		if _, err := s.startService(ctx, svc); err != nil {
			failedHosts[svc.Host] = true
			s.log.Errorw("Participant host failed, skipping its services", "host", svc.Host, "error", err)
			continue
		}
		started++
	}
	s.log.Infof("Started %d participant services", started)

	if err := s.pause(ctx); err != nil {
		s.stopAll(ctx)
		return err
	}

	// 4. Submit the workload from the controller, when configured.
	if plan.LaunchCmd != "" {
		out, err := exec.CommandContext(ctx, "sh", "-c", plan.LaunchCmd).CombinedOutput()
		if err != nil {
			s.stopAll(ctx)
			return fmt.Errorf("%w: launch command: %v: %s", errdefs.ErrProcessFailure, err, out)
		}
		s.log.Debugw("Launch command finished", "output", strings.TrimSpace(string(out)))
	}

	// 5. Watch the primary service until it exits.
	mctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancelWatch = cancel
	s.watchDone = make(chan struct{})
	s.mu.Unlock()
	go s.monitor(mctx)

	s.log.Infow("Experiment started", "logDir", s.logDir)
	return nil
}

// Stop force-terminates every tracked service. Stopping an idle
// supervisor just logs a notice.
func (s *Supervisor) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		s.log.Debug("No experiment running")
		return
	}
	cancel, done := s.cancelWatch, s.watchDone
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	s.stopAll(ctx)
	s.log.Info("Experiment stopped")
}

// Done is closed once every tracked service has been stopped, whether by
// Stop or by the monitor's cascade.
func (s *Supervisor) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doneCh
}

// Status probes every tracked service with a signal-0 check.
func (s *Supervisor) Status(ctx context.Context) []ServiceStatus {
	s.mu.Lock()
	hosts := make([]string, len(s.order))
	copy(hosts, s.order)
	records := make(map[string][]ServiceRecord, len(s.services))
	for h, recs := range s.services {
		records[h] = append([]ServiceRecord(nil), recs...)
	}
	s.mu.Unlock()

	var out []ServiceStatus
	for _, host := range hosts {
		for _, rec := range records[host] {
			out = append(out, ServiceStatus{
				Host:    host,
				Name:    rec.Name,
				PID:     rec.PID,
				Running: s.isRunning(ctx, host, rec.PID),
			})
		}
	}
	return out
}

// FollowLogs streams a service's log until the process exits or ctx is
// cancelled. An empty service name follows the host's most recently
// started service.
func (s *Supervisor) FollowLogs(ctx context.Context, host, service string) (io.ReadCloser, error) {
	s.mu.Lock()
	recs := s.services[host]
	s.mu.Unlock()
	if len(recs) == 0 {
		return nil, fmt.Errorf("%w: no services tracked on host %s", errdefs.ErrConfiguration, host)
	}
	rec := recs[len(recs)-1]
	if service != "" {
		found := false
		for _, r := range recs {
			if r.Name == service {
				rec, found = r, true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: no service %q on host %s", errdefs.ErrConfiguration, service, host)
		}
	}
	logFile := path.Join(s.logDir, rec.Name+".log")
	return s.runner.ExecStream(ctx, host, []string{
		"tail", "-f", "--pid=" + strconv.Itoa(rec.PID), logFile,
	})
}

func (s *Supervisor) startService(ctx context.Context, svc Service) (ServiceRecord, error) {
	logFile := path.Join(s.logDir, svc.Name+".log")
	script := fmt.Sprintf("nohup %s > %s 2>&1 & echo $!", svc.Cmd, logFile)
	stdout, stderr, err := s.runner.Exec(ctx, svc.Host, []string{"sh", "-c", script})
	if err != nil {
		return ServiceRecord{}, fmt.Errorf("%s on %s: %w (%s)", svc.Name, svc.Host, err, strings.TrimSpace(stderr))
	}
	pid, err := strconv.Atoi(strings.TrimSpace(stdout))
	if err != nil {
		return ServiceRecord{}, fmt.Errorf("%w: %s on %s reported no pid: %q",
			errdefs.ErrProcessFailure, svc.Name, svc.Host, strings.TrimSpace(stdout))
	}
	rec := ServiceRecord{Name: svc.Name, PID: pid}

	s.mu.Lock()
	if _, seen := s.services[svc.Host]; !seen {
		s.order = append(s.order, svc.Host)
	}
	s.services[svc.Host] = append(s.services[svc.Host], rec)
	s.mu.Unlock()

	s.log.Debugw("Service started", "host", svc.Host, "service", svc.Name, "pid", pid)
	return rec, nil
}

// monitor polls the primary service and cascades a stop when it exits.
// It runs until cancelled and never blocks caller-issued commands.
func (s *Supervisor) monitor(ctx context.Context) {
	defer close(s.watchDone)
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			host, rec := s.primaryHost, s.primary
			s.mu.Unlock()
			if !s.isRunning(ctx, host, rec.PID) {
				s.log.Infow("Primary service completed, stopping experiment", "service", rec.Name)
				s.stopAll(ctx)
				return
			}
		}
	}
}

// stopAll is the cascade: one kill per host covering all of its records.
func (s *Supervisor) stopAll(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	for _, host := range s.order {
		recs := s.services[host]
		if len(recs) == 0 {
			continue
		}
		pids := make([]string, len(recs))
		for i, rec := range recs {
			pids[i] = strconv.Itoa(rec.PID)
		}
		script := "kill -9 " + strings.Join(pids, " ") + " 2>/dev/null || true"
		if _, _, err := s.runner.Exec(ctx, host, []string{"sh", "-c", script}); err != nil {
			s.log.Warnw("Stop failed on host", "host", host, "error", err)
			continue
		}
		for _, rec := range recs {
			s.log.Debugw("Service stopped", "host", host, "service", rec.Name)
		}
	}
	s.services = make(map[string][]ServiceRecord)
	s.order = nil
	close(s.doneCh)
}

func (s *Supervisor) isRunning(ctx context.Context, host string, pid int) bool {
	_, _, err := s.runner.Exec(ctx, host, []string{"sh", "-c", "kill -0 " + strconv.Itoa(pid)})
	return err == nil
}

func (s *Supervisor) pause(ctx context.Context) error {
	select {
	case <-time.After(s.settle):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
