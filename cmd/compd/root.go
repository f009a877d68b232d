package main

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/grantila/compd/internal/core/readiness"
	"github.com/grantila/compd/internal/shell/command"
	"github.com/grantila/compd/internal/shell/compose"
	"github.com/grantila/compd/internal/shell/detectors"
	"github.com/grantila/compd/internal/shell/docker"
	shelldockerhost "github.com/grantila/compd/internal/shell/dockerhost"
	"github.com/grantila/compd/internal/shell/store"
	"github.com/grantila/compd/internal/shell/wrap"
)

// app carries the state shared by the commands of one invocation.
type app struct {
	configPath string
	cfg        *Config
	logger     *slog.Logger

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	exitCode int
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "compd [flags] [--] command [args...]",
		Short: "Run a command with a compose stack brought up before and torn down after",
		Long: `compd brings up the services of a compose file, waits until they
respond to input (such as a Postgres server accepting queries) and then runs
a command. After the command finishes the compose stack is torn down.

The published ports are exported to the command as <SERVICE>_HOST,
<SERVICE>_PORT_<CONTAINER_PORT> and, for single-port services, <SERVICE>_PORT.`,
		Example: `  compd npm test
  compd -f ci/compose.yml --docker-host route -- go test ./...`,
		Version:           Version,
		Args:              cobra.MinimumNArgs(1),
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.load,
		RunE:              a.wrap,
	}
	// Flags after the command belong to the command.
	root.Flags().SetInterspersed(false)

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "Path to config file")
	pf.BoolP("verbose", "v", false, "Verbose output")
	pf.String("log-level", "info", "Log level (debug, info, warn, error)")
	pf.String("log-format", "text", "Log format (text, json)")

	f := root.Flags()
	f.String("docker-host", "", "Docker host detection: env, env:NAME, route, host:HOST or no")
	f.Float64("wait", 0, "Seconds to wait after the services are ready before running the command")
	f.Bool("teardown", true, "Tear down the compose stack after the command (COMPD_NO_TEARDOWN=1 disables)")
	f.StringP("file", "f", "", "The compose file (default: compose.yaml, docker-compose.yml, ...)")
	f.String("lookup", "cli", "Container and port lookup: cli or api")
	f.Bool("history", false, "Record the run in the history database")

	root.AddCommand(newHistoryCmd(a))
	root.AddCommand(newVersionCmd(a))
	return root
}

func (a *app) load(cmd *cobra.Command, args []string) error {
	cfg, err := LoadConfig(a.configPath, cmd.Flags())
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = SetupLogger(cfg, a.stderr)
	return nil
}

func (a *app) wrap(cmd *cobra.Command, args []string) error {
	cfg := a.cfg
	logger := a.logger
	runner := command.NewExecRunner(logger)

	var client docker.Client
	if cfg.Compose.Lookup == "api" {
		c, err := docker.NewDockerClient("")
		if err != nil {
			return err
		}
		defer c.Close()
		if err := c.Ping(cmd.Context()); err != nil {
			return err
		}
		client = c
	}

	var history store.Store
	if cfg.History.Enabled {
		s, err := openHistory(cfg.History.DSN)
		if err != nil {
			return err
		}
		defer s.Close()
		history = s
	}

	detectorConfig := detectors.Config{
		TCP:      retryOptions(cfg.Detectors.TCP),
		Redis:    retryOptions(cfg.Detectors.Redis),
		Postgres: retryOptions(cfg.Detectors.Postgres),
	}

	w := wrap.New(wrap.Config{
		Resolver: shelldockerhost.NewResolver(runner, logger),
		NewExec: func(file string) compose.Exec {
			cli := compose.NewCLIExec(file, runner, compose.CLIConfig{
				Command: cfg.Compose.Command,
				Stdout:  a.stderr,
				Stderr:  a.stderr,
			}, logger)
			if client != nil {
				return compose.NewAPIExec(cli, client)
			}
			return cli
		},
		Detectors: func(exec compose.Exec) []readiness.Detector {
			return detectors.Defaults(exec, detectorConfig, logger)
		},
		Concurrency: cfg.Compose.Concurrency,
		History:     history,
	}, logger)

	code, err := w.Wrap(cmd.Context(), wrap.Request{
		Command:    args,
		File:       cfg.File,
		DockerHost: cfg.DockerHost,
		Verbose:    cfg.Verbose,
		Wait:       cfg.WaitDuration(),
		Teardown:   cfg.Teardown,
		Stdin:      a.stdin,
		Stdout:     a.stdout,
		Stderr:     a.stderr,
	})
	if err != nil {
		logger.Error("compd failed", "error", err, "exit_code", code)
	}
	a.exitCode = code
	return nil
}

func retryOptions(c RetryConfig) readiness.RetryOptions {
	return readiness.RetryOptions{Delay: c.Delay, Time: c.Time}
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("compd %s (built %s)\n", Version, BuildTime)
		},
	}
}
