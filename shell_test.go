package adb

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrepareCommandLine(t *testing.T) {
	line, err := prepareCommandLine("ls", "-l", "/sdcard/My Files")
	require.NoError(t, err)
	assert.Equal(t, `ls -l "/sdcard/My Files"`, line)

	_, err = prepareCommandLine("  ")
	assert.True(t, HasErrCode(err, AssertionError))
	_, err = prepareCommandLine("echo", `say "hi"`)
	assert.True(t, HasErrCode(err, ParseError))
}

func TestSplitExitCode(t *testing.T) {
	out, code := splitExitCode([]byte("file1\nfile2\n:0\n"))
	assert.Equal(t, "file1\nfile2\n", string(out))
	assert.Equal(t, 0, code)

	out, code = splitExitCode([]byte("ls: /x: No such file or directory\r\n:1\r\n"))
	assert.Equal(t, "ls: /x: No such file or directory\r\n", string(out))
	assert.Equal(t, 1, code)

	_, code = splitExitCode([]byte("no trailer"))
	assert.Equal(t, -1, code)
}

func TestCmdRun(t *testing.T) {
	useFakeServer(t,
		shellReply("ls /sdcard; echo :$?", "Download\nMusic\n:0\n"),
		shellReply("ls /nope; echo :$?", "ls: /nope: No such file or directory\n:1\n"),
	)
	c := newTestClient(t, deviceList)
	ctx := testContext(t)

	cmd := c.Command(testSerial, "ls", "/sdcard")
	assert.Equal(t, -1, cmd.ExitCode())
	out, err := cmd.Output(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Download\nMusic\n", string(out))
	assert.Equal(t, 0, cmd.ExitCode())
	assert.Error(t, cmd.Run(ctx), "a command runs once")

	cmd = c.Command(testSerial, "ls", "/nope")
	err = cmd.Run(ctx)
	var exitErr *ShellExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 1, exitErr.ExitCode)
	assert.Equal(t, 1, cmd.ExitCode())
}

func TestOpenShellStreams(t *testing.T) {
	useFakeServer(t, shellReply("logcat -d", "line 1\nline 2\n"))
	c := newTestClient(t, deviceList)

	r, err := c.OpenShell(testContext(t), testSerial, "logcat -d")
	require.NoError(t, err)
	defer r.Close()
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "line 1\nline 2\n", string(b))
}

func TestShellEmptyCommand(t *testing.T) {
	f := useFakeServer(t)
	c := newTestClient(t, deviceList)
	_, err := c.ExecuteShellCommand(testContext(t), testSerial, " ")
	assert.True(t, HasErrCode(err, AssertionError))
	assert.Equal(t, 0, f.dialCount())
}

func TestShellQuote(t *testing.T) {
	assert.Equal(t, `'/sdcard/a b'`, shellQuote("/sdcard/a b"))
	assert.Equal(t, `'it'\''s'`, shellQuote("it's"))
}
