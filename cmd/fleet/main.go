package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/jessevdk/go-flags"
	"go.uber.org/zap"

	"github.com/oabuhamdan/fleet/internal/config"
	"github.com/oabuhamdan/fleet/internal/experiment"
	"github.com/oabuhamdan/fleet/internal/hostexec"
	"github.com/oabuhamdan/fleet/internal/logging"
	"github.com/oabuhamdan/fleet/internal/traffic"
)

type FlagStore struct {
	Config    string `short:"c" long:"config" description:"Experiment file to run" default:"experiment.yaml"`
	Follow    bool   `short:"f" long:"follow" description:"Follow the coordinator's primary service log"`
	Watch     bool   `long:"watch" description:"Report stream record changes from the local state directory"`
	DryRun    bool   `long:"dry-run" description:"Plan the run and exit without creating anything"`
	NoPing    bool   `long:"no-ping" description:"Skip the connectivity probe"`
	NoTraffic bool   `long:"no-traffic" description:"Skip background traffic generation"`
}

var flagstore FlagStore

// the init function of main will parse provided flags before running the main, gracefully stop running if parsing fails.
func init() {
	_, err := flags.Parse(&flagstore)
	if err != nil {
		log.Fatalf("Error parsing flags: %v", err)
	}
}

func main() {
	config.InitEnv()
	exp, err := config.Read(flagstore.Config)
	if err != nil {
		log.Fatalf("Error reading experiment: %v", err)
	}
	config.ApplyEnv(exp)

	runID := uuid.New()
	runDir := filepath.Join(exp.LogDir, fmt.Sprintf("%s_%s", exp.Name, runID))
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		log.Fatalf("Error creating run directory: %v", err)
	}
	logger, err := logging.NewTee(exp.LogLevel, filepath.Join(runDir, "fleet.log"))
	if err != nil {
		log.Fatalf("Error building logger: %v", err)
	}
	defer logger.Sync()

	provider, runner, err := buildProvider(exp, logger)
	if err != nil {
		logger.Fatalf("Error building %s provider: %v", exp.Provider, err)
	}

	orch := experiment.NewOrchestrator(exp, experiment.Options{
		DryRun:      flagstore.DryRun,
		SkipPing:    flagstore.NoPing,
		SkipTraffic: flagstore.NoTraffic,
	}, provider, runner, logger)
	orch.RunID = runID
	logger.Infow("Run starting", "experiment", exp.Name, "run", orch.RunID,
		"provider", exp.Provider, "seed", exp.Seed, "dir", runDir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup channel to listen for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		logger.Info("Shutdown signal received, cleaning up...")
		cancel()
	}()

	if err := orch.Setup(ctx); err != nil {
		logger.Fatalf("Setup failed: %v", err)
	}
	if flagstore.DryRun {
		return
	}
	if err := orch.Start(ctx); err != nil {
		logger.Errorf("Start failed: %v", err)
		orch.Stop(context.Background())
		os.Exit(1)
	}

	if flagstore.Watch {
		go watchStreams(ctx, orch, logger)
	}
	if flagstore.Follow {
		go followCoordinator(ctx, orch, logger)
	}

	select {
	case <-ctx.Done():
	case <-orch.Supervisor().Done():
		logger.Info("Experiment completed")
	}
	orch.Stop(context.Background())
}

func buildProvider(exp *config.Experiment, logger *zap.SugaredLogger) (hostexec.Provider, hostexec.Runner, error) {
	switch exp.Provider {
	case config.ProviderLocal:
		runner := hostexec.NewLocalRunner(logger)
		return hostexec.NewLocalProvider(logger), runner, nil
	case config.ProviderKube:
		runner, err := hostexec.NewKubeRunner(config.Kubeconfig(), config.Namespace(), logger)
		if err != nil {
			return nil, nil, err
		}
		return hostexec.NewKubeProvider(runner, logger), runner, nil
	default:
		prefix := config.HostPrefix()
		if prefix == "" {
			prefix = exp.Name + "-"
		}
		runner := hostexec.NewDockerRunner(prefix, logger)
		return hostexec.NewDockerProvider(runner, logger), runner, nil
	}
}

func followCoordinator(ctx context.Context, orch *experiment.Orchestrator, logger *zap.SugaredLogger) {
	stream, err := orch.Supervisor().FollowLogs(ctx, orch.CoordinatorHost(), "")
	if err != nil {
		logger.Warnf("Cannot follow logs: %v", err)
		return
	}
	defer stream.Close()
	if _, err := io.Copy(os.Stdout, stream); err != nil && ctx.Err() == nil {
		logger.Debugf("Log stream ended: %v", err)
	}
}

func watchStreams(ctx context.Context, orch *experiment.Orchestrator, logger *zap.SugaredLogger) {
	err := traffic.WatchStates(ctx, orch.StateDir(), 0, func(ev traffic.StateEvent) {
		if ev.Removed {
			logger.Infow("Stream stopped", "stream", ev.Stream, "role", ev.Role)
			return
		}
		logger.Infow("Stream state", "stream", ev.Stream, "role", ev.Role,
			"step", ev.State.Step, "paused", ev.State.Paused)
	})
	if err != nil {
		logger.Warnf("State watch ended: %v", err)
	}
}
