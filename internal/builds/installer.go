package builds

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/TheGojiOG/CfxSM/internal/config"
	"github.com/TheGojiOG/CfxSM/internal/logging"
)

// CommandInstaller fetches builds by running an external program. The
// {version} and {destination} placeholders in its arguments are replaced
// on every run.
type CommandInstaller struct {
	Command string
	Args    []string
	Dir     string
}

// NewCommandInstaller returns nil when no command is configured
func NewCommandInstaller(cfg config.InstallerConfig, workDir string) *CommandInstaller {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil
	}
	return &CommandInstaller{
		Command: cfg.Command,
		Args:    append([]string(nil), cfg.Args...),
		Dir:     workDir,
	}
}

// Install runs the command and streams its output to the log
func (i *CommandInstaller) Install(ctx context.Context, version, destination string) error {
	if i == nil || strings.TrimSpace(i.Command) == "" {
		return ErrNoInstaller
	}
	if err := os.MkdirAll(destination, 0755); err != nil {
		return fmt.Errorf("failed to create build folder: %w", err)
	}

	replacer := strings.NewReplacer("{version}", version, "{destination}", destination)
	args := make([]string, len(i.Args))
	for idx, arg := range i.Args {
		args[idx] = replacer.Replace(arg)
	}

	logger := logging.L().With("version", version)
	logger.Info("build_installer_running", "command", i.Command, "args", strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, i.Command, args...)
	if i.Dir != "" {
		cmd.Dir = i.Dir
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start installer: %w", err)
	}

	var wg sync.WaitGroup
	readPipe := func(reader io.Reader) {
		defer wg.Done()
		scanner := bufio.NewScanner(reader)
		scanner.Split(splitOnNewlineOrCarriageReturn)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			if line := strings.TrimSpace(scanner.Text()); line != "" {
				logger.Info("build_installer_output", "line", line)
			}
		}
	}
	wg.Add(2)
	go readPipe(stdout)
	go readPipe(stderr)
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return errors.Join(ctxErr, err)
		}
		return fmt.Errorf("installer exited with error: %w", err)
	}
	return nil
}

func splitOnNewlineOrCarriageReturn(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	for i, b := range data {
		if b == '\n' || b == '\r' {
			return i + 1, data[:i], nil
		}
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
