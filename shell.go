package adb

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/d1ced/adbclient/internal/logfields"
	"github.com/d1ced/adbclient/wire"
)

/*
OpenShell runs command in a shell on the device and returns the raw output
stream. The stream ends when the command exits; closing it early ends the
command.

From the Android docs:

	Run 'command arg1 arg2 ...' in a shell on the device, and return
	its output and error streams. Note that arguments must be separated
	by spaces. If an argument contains a space, it must be quoted with
	double-quotes. Arguments cannot contain double quotes or things
	will go very wrong.

	Note that this is the non-interactive version of "adb shell"

Source: https://android.googlesource.com/platform/system/core/+/master/adb/SERVICES.TXT
*/
func (c *Client) OpenShell(ctx context.Context, serial, command string) (io.ReadCloser, error) {
	if isBlank(command) {
		return nil, wire.Errorf(wire.AssertionError, "command cannot be empty")
	}
	conn, err := c.transport(ctx, DeviceWithSerial(serial))
	if err != nil {
		return nil, err
	}
	// Shell responses don't include a length header; the connection turns
	// into a raw stream that is read until the device closes it.
	if err := conn.SendMessage(wire.ShellRequest(command)); err != nil {
		conn.Close()
		return nil, err
	}
	if err := conn.ReadStatus(); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// ExecuteShellCommand runs command on the device and returns its combined
// output once the device closes the stream.
func (c *Client) ExecuteShellCommand(ctx context.Context, serial, command string) (out string, err error) {
	defer func(start time.Time) { c.server.observe("shell", start, err) }(time.Now())

	r, err := c.OpenShell(ctx, serial, command)
	if err != nil {
		return "", err
	}
	defer r.Close()
	b := &strings.Builder{}
	_, err = io.Copy(b, r)
	c.logger.Debug("shell command finished", logfields.Serial(serial), logfields.Request(command), logfields.Error(err))
	return b.String(), err
}

// Cmd represents a command that can be executed on a device.
// Use Client.Command to get an instance.
type Cmd struct {
	Path string
	Args []string

	client   *Client
	serial   string
	exitCode int
	output   []byte
	done     bool
}

// Command sets up a command to execute on the device with serial. Command
// takes ownership of args.
func (c *Client) Command(serial, name string, args ...string) *Cmd {
	return &Cmd{
		Path:     name,
		Args:     args,
		client:   c,
		serial:   serial,
		exitCode: -1,
	}
}

// commandLine appends an echo of the exit status, the shell service has no
// other way to report it.
func (cmd *Cmd) commandLine() (string, error) {
	line, err := prepareCommandLine(cmd.Path, cmd.Args...)
	if err != nil {
		return "", err
	}
	return line + "; echo :$?", nil
}

// Run runs the command and waits for it to exit. A non-zero exit code is
// returned as *ShellExitError.
func (cmd *Cmd) Run(ctx context.Context) error {
	if cmd.done {
		return errors.New("adb: command already run")
	}
	line, err := cmd.commandLine()
	if err != nil {
		return err
	}
	out, err := cmd.client.ExecuteShellCommand(ctx, cmd.serial, line)
	if err != nil {
		return err
	}
	cmd.done = true
	cmd.output, cmd.exitCode = splitExitCode([]byte(out))
	if cmd.exitCode != 0 {
		return &ShellExitError{Command: line, ExitCode: cmd.exitCode, Output: cmd.output}
	}
	return nil
}

// Output runs the command if it has not run yet and returns its output.
// A non-zero exit code is not an error here; check ExitCode.
func (cmd *Cmd) Output(ctx context.Context) ([]byte, error) {
	if !cmd.done {
		var exitErr *ShellExitError
		if err := cmd.Run(ctx); err != nil && !errors.As(err, &exitErr) {
			return nil, err
		}
	}
	return cmd.output, nil
}

// ExitCode returns the exit code of the command, or -1 if it has not run.
func (cmd *Cmd) ExitCode() int {
	return cmd.exitCode
}

// splitExitCode splits the ":<code>" trailer written by echo off out.
func splitExitCode(out []byte) ([]byte, int) {
	trimmed := bytes.TrimRight(out, "\r\n")
	i := bytes.LastIndexByte(trimmed, ':')
	if i < 0 {
		return out, -1
	}
	code, err := strconv.Atoi(string(trimmed[i+1:]))
	if err != nil {
		return out, -1
	}
	return trimmed[:i], code
}

// prepareCommandLine validates the command and argument strings, quotes
// arguments if required, and joins them into a valid adb command string.
func prepareCommandLine(cmd string, args ...string) (string, error) {
	if isBlank(cmd) {
		return "", wire.Errorf(wire.AssertionError, "command cannot be empty")
	}

	for i, arg := range args {
		if strings.ContainsRune(arg, '"') {
			return "", wire.Errorf(wire.ParseError, "arg at index %d contains an invalid double quote: %s", i, arg)
		}
		if containsWhitespace(arg) {
			args[i] = fmt.Sprintf("\"%s\"", arg)
		}
	}

	// Prepend the command to the args array.
	if len(args) > 0 {
		cmd = fmt.Sprintf("%s %s", cmd, strings.Join(args, " "))
	}

	return cmd, nil
}
