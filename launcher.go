package adb

import (
	"context"
	"os/exec"
	"strconv"

	"github.com/pkg/errors"
)

// Launcher starts an adb server executable that listens on port.
// Launch should return once the process has been spawned; the caller polls
// the port for readiness.
type Launcher interface {
	Launch(ctx context.Context, path string, port int) error
}

// LauncherFunc adapts a function to a Launcher.
type LauncherFunc func(ctx context.Context, path string, port int) error

func (f LauncherFunc) Launch(ctx context.Context, path string, port int) error {
	return f(ctx, path, port)
}

// ExecLauncher runs "<path> -P <port> start-server". The adb tool forks the
// server into the background and exits.
type ExecLauncher struct{}

func (ExecLauncher) Launch(ctx context.Context, path string, port int) error {
	if isBlank(path) {
		path = DefaultExecutableName
	}
	out, err := exec.CommandContext(ctx, path, "-P", strconv.Itoa(port), "start-server").CombinedOutput()
	return errors.WithMessagef(err, "error starting server. Output:\n%s", out)
}
