package launch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"paperctl/internal/logfields"
)

// Launcher runs a server artifact in a working directory.
type Launcher struct {
	ServerDir string
	JVM       JVM
	Opts      Options
	DryRun    bool
}

// Command builds the launch command without starting it.
func (l *Launcher) Command(ctx context.Context, artifactPath string) (*exec.Cmd, error) {
	args, err := JavaArgs(l.Opts)
	if err != nil {
		return nil, err
	}
	args = append(args, "-jar", artifactPath, "--nogui")

	cmd := exec.CommandContext(ctx, l.JVM.JavaBin(), args...)
	cmd.Dir = l.ServerDir
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd, nil
}

// Run launches the server and blocks until it exits. With DryRun set it only
// logs the command line.
func (l *Launcher) Run(ctx context.Context, artifactPath string) error {
	cmd, err := l.Command(ctx, artifactPath)
	if err != nil {
		return err
	}

	slog.Info("launching server",
		logfields.Jar(artifactPath),
		slog.String("java", cmd.Path),
		slog.String("args", strings.Join(cmd.Args[1:], " ")))
	if l.DryRun {
		return nil
	}

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("server exited: %w", err)
	}
	return nil
}
