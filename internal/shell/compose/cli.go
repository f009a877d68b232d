package compose

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"

	corecompose "github.com/grantila/compd/internal/core/compose"
	"github.com/grantila/compd/internal/core/ports"
	"github.com/grantila/compd/internal/shell/command"
)

// CLIConfig configures the docker compose command line.
type CLIConfig struct {
	// Command is the compose program and its leading arguments.
	// Default: docker compose.
	Command []string

	// Stdout and Stderr receive the output of up and down.
	Stdout io.Writer
	Stderr io.Writer

	// LookupEnv resolves ${VAR} references in the compose file.
	// Default: os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

// CLIExec implements Exec by running the docker compose CLI.
type CLIExec struct {
	file   string
	runner command.Runner
	config CLIConfig
	logger *slog.Logger
}

// NewCLIExec creates an Exec for file.
func NewCLIExec(file string, runner command.Runner, config CLIConfig, logger *slog.Logger) *CLIExec {
	if len(config.Command) == 0 {
		config.Command = []string{"docker", "compose"}
	}
	if config.LookupEnv == nil {
		config.LookupEnv = os.LookupEnv
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &CLIExec{
		file:   file,
		runner: runner,
		config: config,
		logger: logger.With("component", "compose_cli"),
	}
}

// File returns the compose file path.
func (c *CLIExec) File() string {
	return c.file
}

// LoadFile reads and decodes the compose file.
func (c *CLIExec) LoadFile(ctx context.Context) (corecompose.Document, error) {
	content, err := os.ReadFile(c.file)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return corecompose.Document{}, NewComposeError("LoadFile", "", "cannot find compose file "+c.file, ErrFileNotFound)
		}
		return corecompose.Document{}, NewComposeError("LoadFile", "", err.Error(), err)
	}

	doc, err := corecompose.DecodeDocument(content, c.config.LookupEnv)
	if err != nil {
		return corecompose.Document{}, NewComposeError("LoadFile", "", err.Error(), err)
	}
	return doc, nil
}

// BringUp runs `up --detach`.
func (c *CLIExec) BringUp(ctx context.Context) error {
	_, err := c.run(ctx, c.passthrough("up", "--detach"))
	if err != nil {
		return NewComposeError("BringUp", "", err.Error(), err)
	}
	return nil
}

// Teardown runs `down`.
func (c *CLIExec) Teardown(ctx context.Context) error {
	_, err := c.run(ctx, c.passthrough("down"))
	if err != nil {
		return NewComposeError("Teardown", "", err.Error(), err)
	}
	return nil
}

// ContainerID runs `ps --quiet SERVICE` and returns the first id.
func (c *CLIExec) ContainerID(ctx context.Context, service string) (string, error) {
	res, err := c.run(ctx, c.command("ps", "--quiet", service))
	if err != nil {
		return "", NewComposeError("ContainerID", service, err.Error(), err)
	}
	id, _, _ := strings.Cut(strings.TrimSpace(res.Stdout), "\n")
	id = strings.TrimSpace(id)
	if id == "" {
		return "", NewComposeError("ContainerID", service, "no running container", ErrNoContainer)
	}
	return id, nil
}

// HostPort runs `port --protocol PROTO SERVICE PORT`.
func (c *CLIExec) HostPort(ctx context.Context, service string, containerPort int, proto ports.Protocol) (HostPort, error) {
	if proto == "" {
		proto = ports.ProtocolTCP
	}
	res, err := c.run(ctx, c.command("port", "--protocol", string(proto), service, strconv.Itoa(containerPort)))
	if err != nil {
		return HostPort{}, NewComposeError("HostPort", service, err.Error(), err)
	}

	hostIP, host, err := ParsePortOutput(res.Stdout)
	if err != nil {
		return HostPort{}, NewComposeError("HostPort", service,
			fmt.Sprintf("%d/%s: %v", containerPort, proto, err), ErrPortNotPublished)
	}

	return HostPort{
		Service:   service,
		Container: containerPort,
		Proto:     proto,
		HostIP:    hostIP,
		Host:      host,
	}, nil
}

// Run runs `exec -T [-e K=V...] SERVICE COMMAND...`.
func (c *CLIExec) Run(ctx context.Context, req RunRequest) (RunResult, error) {
	args := []string{"exec", "-T"}

	keys := make([]string, 0, len(req.Env))
	for k := range req.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "-e", k+"="+req.Env[k])
	}

	args = append(args, req.Service)
	args = append(args, req.Command...)

	res, err := c.run(ctx, c.command(args...))
	out := RunResult{Stdout: res.Stdout, Stderr: res.Stderr, ExitCode: res.ExitCode}
	if err != nil {
		return out, NewComposeError("Run", req.Service, err.Error(), err)
	}
	return out, nil
}

// =============================================================================
// Helpers
// =============================================================================

func (c *CLIExec) command(args ...string) command.Command {
	full := append([]string{}, c.config.Command[1:]...)
	full = append(full, "--file", c.file)
	full = append(full, args...)
	return command.Command{Path: c.config.Command[0], Args: full}
}

func (c *CLIExec) passthrough(args ...string) command.Command {
	cmd := c.command(args...)
	cmd.Stdout = c.config.Stdout
	cmd.Stderr = c.config.Stderr
	return cmd
}

func (c *CLIExec) run(ctx context.Context, cmd command.Command) (command.Result, error) {
	c.logger.Debug("compose", "command", cmd.String())
	return c.runner.Run(ctx, cmd)
}

// ParsePortOutput parses `docker compose port` output such as
// "0.0.0.0:49153" or "[::]:49153".
func ParsePortOutput(output string) (string, int, error) {
	line, _, _ := strings.Cut(strings.TrimSpace(output), "\n")
	line = strings.TrimSpace(line)

	idx := strings.LastIndex(line, ":")
	if idx < 0 {
		return "", 0, fmt.Errorf("unexpected output %q", output)
	}

	host, err := strconv.Atoi(line[idx+1:])
	if err != nil || host == 0 {
		return "", 0, fmt.Errorf("unexpected output %q", output)
	}

	hostIP := strings.TrimSuffix(strings.TrimPrefix(line[:idx], "["), "]")
	return hostIP, host, nil
}
