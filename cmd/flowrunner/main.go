// Package main provides the flowrunner binary entry point.
// Flowrunner executes declarative YAML flows: one-shot actions,
// long-running stream pipelines and cron schedules.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/c360studio/flowrunner/config"
	"github.com/c360studio/flowrunner/flow"
	"github.com/c360studio/flowrunner/metrics"
	"github.com/c360studio/flowrunner/operation"
	"github.com/c360studio/flowrunner/scheduler"
	"github.com/c360studio/flowrunner/server"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "flowrunner"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// runtimeEnv is everything a subcommand needs after setup.
type runtimeEnv struct {
	cfg          *config.Config
	logger       *slog.Logger
	registry     *operation.Registry
	metrics      *metrics.Metrics
	orchestrator *flow.Orchestrator
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		flowDir    string
		pluginDir  string
		verbosity  int
	)

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Declarative flow runtime",
		Long: `Flowrunner executes declarative YAML flows.

A flow wires sources, jobs and sinks over bounded channels. Action
flows run their jobs once and return results; stream flows run until
stopped; cron flows fire on a schedule.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (default: .flowrunner.yaml)")
	cmd.PersistentFlags().StringVar(&flowDir, "flow-dir", "", "Flow directory (overrides config)")
	cmd.PersistentFlags().StringVar(&pluginDir, "plugin-dir", "", "Accepted for compatibility; operations are compiled in")
	cmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Increase log verbosity (-v for debug)")

	setup := func() (*runtimeEnv, error) {
		return buildEnv(configPath, flowDir, pluginDir, verbosity)
	}

	var flowFile string
	execCmd := &cobra.Command{
		Use:   "exec",
		Short: "Run a single flow and exit (streams run until interrupted)",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := setup()
			if err != nil {
				return err
			}
			if flowFile == "" {
				return fmt.Errorf("--flow-file is required")
			}
			return runExec(cmd.Context(), env, flowFile)
		},
	}
	execCmd.Flags().StringVarP(&flowFile, "flow-file", "f", "", "Flow definition file")
	cmd.AddCommand(execCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "cron",
		Short: "Run the scheduler over the flow directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := setup()
			if err != nil {
				return err
			}
			return runCron(cmd.Context(), env)
		},
	})

	var hostAddr string
	serverCmd := &cobra.Command{
		Use:   "server",
		Short: "Serve action flows as HTTP triggers",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := setup()
			if err != nil {
				return err
			}
			if hostAddr != "" {
				env.cfg.HostAddr = hostAddr
			}
			return runServer(cmd.Context(), env)
		},
	}
	serverCmd.Flags().StringVar(&hostAddr, "host-addr", "", "Listen address (overrides config)")
	cmd.AddCommand(serverCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

func buildEnv(configPath, flowDir, pluginDir string, verbosity int) (*runtimeEnv, error) {
	loader := config.NewLoader(slog.Default())
	loader.ExplicitPath = configPath
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if flowDir != "" {
		cfg.FlowDir = flowDir
	}

	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	if verbosity > 0 {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if pluginDir != "" {
		logger.Warn("Ignoring --plugin-dir: operations are compiled in", "plugin_dir", pluginDir)
	}

	registry := operation.NewRegistry(logger)
	registerOperations(registry)

	m := metrics.New()
	orchestrator := flow.NewOrchestrator(registry, logger, m)
	orchestrator.ChannelCapacity = cfg.ChannelCapacity

	return &runtimeEnv{
		cfg:          cfg,
		logger:       logger,
		registry:     registry,
		metrics:      m,
		orchestrator: orchestrator,
	}, nil
}

func runExec(ctx context.Context, env *runtimeEnv, flowFile string) error {
	f, err := config.LoadFlow(flowFile)
	if err != nil {
		return err
	}

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch f.Kind {
	case flow.KindStream:
		return env.orchestrator.RunStream(runCtx, f)
	default:
		results, err := env.orchestrator.RunAction(runCtx, f, f.UserPayload)
		if err != nil {
			return err
		}
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(results)
	}
}

func runCron(ctx context.Context, env *runtimeEnv) error {
	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s := scheduler.New(env.cfg.FlowDir, env.orchestrator, env.logger)
	if err := s.Start(runCtx); err != nil {
		return err
	}

	<-runCtx.Done()
	return s.Stop()
}

func runServer(ctx context.Context, env *runtimeEnv) error {
	flows, err := config.LoadFlowDir(env.cfg.FlowDir)
	if err != nil {
		return err
	}

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := server.New(env.cfg.HostAddr, flows, env.orchestrator, env.logger, env.metrics)
	if err := srv.Start(); err != nil {
		return err
	}
	env.logger.Info("Flowrunner ready", "version", Version, "addr", srv.Addr())

	<-runCtx.Done()
	return srv.Stop()
}
