package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin"
	"github.com/cheggaaa/pb"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/d1ced/adbclient"
	"github.com/d1ced/adbclient/extra"
	"github.com/d1ced/adbclient/internal/config"
	"github.com/d1ced/adbclient/internal/metrics"
	"github.com/d1ced/adbclient/internal/retry"
)

const StdIoFilename = "-"

var (
	serial = kingpin.Flag("serial",
		"Connect to device by serial number.").
		Short('s').
		String()
	usbFlag = kingpin.Flag("usb",
		"Use the only device attached over USB.").
		Short('d').
		Bool()
	localFlag = kingpin.Flag("local",
		"Use the only TCP/IP device or emulator.").
		Short('e').
		Bool()
	configPath = kingpin.Flag("config",
		"Path of the YAML config file.").
		Default(config.Path()).
		String()
	hostFlag = kingpin.Flag("host",
		"Host of the adb server.").
		Short('H').
		String()
	portFlag = kingpin.Flag("port",
		"Port of the adb server.").
		Short('P').
		Int()
	logLevel = kingpin.Flag("log-level",
		"Log level (debug, info, warn, error).").
		String()
	logFormat = kingpin.Flag("log-format",
		"Log format (text, json).").
		String()
	metricsListen = kingpin.Flag("metrics-listen",
		"Serve Prometheus metrics on this address.").
		String()

	statusCommand = kingpin.Command("status",
		"Show whether the server is running.")

	startCommand = kingpin.Command("start-server",
		"Start the server unless it is running.")
	startRestartFlag = startCommand.Flag("restart",
		"Restart a running server.").
		Bool()
	startAdbPathFlag = startCommand.Flag("adb-path",
		"Path of the adb executable.").
		String()

	killCommand = kingpin.Command("kill-server",
		"Stop the server.")

	shellCommand = kingpin.Command("shell",
		"Run a shell command on the device.")
	shellCommandArg = shellCommand.Arg("command",
		"Command to run on device.").
		Strings()

	devicesCommand = kingpin.Command("devices",
		"List devices.")
	devicesLongFlag = devicesCommand.Flag("long",
		"Include extra detail about devices.").
		Short('l').
		Bool()

	forwardCommand = kingpin.Command("forward",
		"Forward a local port to the device.")
	forwardListFlag = forwardCommand.Flag("list",
		"List forwards").
		Short('l').
		Bool()
	forwardRemoveFlag = forwardCommand.Flag("remove",
		"Remove the forward on local.").
		Bool()
	forwardNoRebindFlag = forwardCommand.Flag("no-rebind",
		"Fail if local is already forwarded.").
		Bool()
	forwardLocalArg = forwardCommand.Arg("local",
		"Local end, e.g. tcp:8080.").
		String()
	forwardRemoteArg = forwardCommand.Arg("remote",
		"Remote end, e.g. tcp:8080 or localabstract:name.").
		String()

	reverseCommand = kingpin.Command("reverse",
		"Forward a device port to the host.")
	reverseListFlag = reverseCommand.Flag("list",
		"List reverse forwards").
		Short('l').
		Bool()
	reverseRemoveFlag = reverseCommand.Flag("remove",
		"Remove the reverse forward on remote.").
		Bool()
	reverseRemoveAllFlag = reverseCommand.Flag("remove-all",
		"Remove all reverse forwards.").
		Bool()
	reverseNoRebindFlag = reverseCommand.Flag("no-rebind",
		"Fail if remote is already forwarded.").
		Bool()
	reverseRemoteArg = reverseCommand.Arg("remote",
		"Device end, e.g. tcp:8080.").
		String()
	reverseLocalArg = reverseCommand.Arg("local",
		"Host end, e.g. tcp:8080.").
		String()

	rootCommand = kingpin.Command("root",
		"Restart adbd with root permissions.")
	unrootCommand = kingpin.Command("unroot",
		"Restart adbd without root permissions.")

	featuresCommand = kingpin.Command("features",
		"List the features of the device.")

	installCommand = kingpin.Command("install",
		"Install an APK.")
	installReplaceFlag = installCommand.Flag("replace",
		"Replace an existing application.").
		Short('r').
		Bool()
	installApkArg = installCommand.Arg("apk",
		"Path of the APK.").
		Required().
		String()

	pullCommand = kingpin.Command("pull",
		"Pull a file from the device.")
	pullProgressFlag = pullCommand.Flag("progress",
		"Show progress.").
		Short('p').
		Bool()
	pullRemoteArg = pullCommand.Arg("remote",
		"Path of source file on device.").
		Required().
		String()
	pullLocalArg = pullCommand.Arg("local",
		"Path of destination file. If -, will write to stdout.").
		String()

	pushCommand = kingpin.Command("push",
		"Push a file to the device.")
	pushProgressFlag = pushCommand.Flag("progress",
		"Show progress.").
		Short('p').
		Bool()
	pushLocalArg = pushCommand.Arg("local",
		"Path or http(s) URL of source file. If -, will read from stdin.").
		Required().
		String()
	pushRemoteArg = pushCommand.Arg("remote",
		"Path of destination file on device.").
		Required().
		String()

	watchCommand = kingpin.Command("watch",
		"Print device state changes until interrupted.")

	propsCommand = kingpin.Command("props",
		"Print the system properties of the device.")

	psCommand = kingpin.Command("ps",
		"List processes on the device.")

	pkgInfoCommand = kingpin.Command("pkg-info",
		"Show path and version of an installed package.")
	pkgInfoNameArg = pkgInfoCommand.Arg("package",
		"Package name.").
		Required().
		String()
)

var (
	client *adb.Client
	cfg    *config.Config
	logger *slog.Logger
)

func main() {
	command := kingpin.Parse()

	var err error
	cfg, err = loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	logger = newLogger(cfg.Log)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client = newClient(ctx)

	var exitCode int
	switch command {
	case "status":
		exitCode = status(ctx)
	case "start-server":
		exitCode = startServer(ctx, *startRestartFlag)
	case "kill-server":
		exitCode = killServer(ctx)
	case "devices":
		exitCode = listDevices(ctx, *devicesLongFlag)
	case "shell":
		exitCode = runShellCommand(ctx, *shellCommandArg)
	case "pull":
		exitCode = pull(ctx, *pullProgressFlag, *pullRemoteArg, *pullLocalArg)
	case "push":
		exitCode = push(ctx, *pushProgressFlag, *pushLocalArg, *pushRemoteArg)
	case "forward":
		exitCode = forward(ctx, *forwardListFlag, *forwardRemoveFlag, *forwardNoRebindFlag, *forwardLocalArg, *forwardRemoteArg)
	case "reverse":
		exitCode = reverse(ctx, *reverseListFlag, *reverseRemoveFlag, *reverseRemoveAllFlag, *reverseNoRebindFlag, *reverseRemoteArg, *reverseLocalArg)
	case "root":
		exitCode = restartAdbd(ctx, client.Root)
	case "unroot":
		exitCode = restartAdbd(ctx, client.Unroot)
	case "features":
		exitCode = features(ctx)
	case "install":
		exitCode = install(ctx, *installReplaceFlag, *installApkArg)
	case "watch":
		exitCode = watch(ctx)
	case "props":
		exitCode = props(ctx)
	case "ps":
		exitCode = listProcesses(ctx)
	case "pkg-info":
		exitCode = packageInfo(ctx, *pkgInfoNameArg)
	}

	stop()
	os.Exit(exitCode)
}

// loadConfig reads .env, the config file and the environment, then applies
// the flags on top.
func loadConfig() (*config.Config, error) {
	if err := config.LoadDotEnv(".env"); err != nil {
		return nil, err
	}
	c, err := config.Load(*configPath)
	if err != nil {
		return nil, err
	}
	if *hostFlag != "" {
		c.Host = *hostFlag
	}
	if *portFlag != 0 {
		c.Port = *portFlag
	}
	if *startAdbPathFlag != "" {
		c.AdbPath = *startAdbPathFlag
	}
	if *logLevel != "" {
		c.Log.Level = *logLevel
	}
	if *logFormat != "" {
		c.Log.Format = *logFormat
	}
	if *metricsListen != "" {
		c.MetricsListen = *metricsListen
	}
	return c, c.Validate()
}

func newLogger(c config.Log) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func newClient(ctx context.Context) *adb.Client {
	opts := []adb.Option{
		adb.WithAddress(cfg.Host, cfg.Port),
		adb.WithTimeout(cfg.CommandTimeout),
		adb.WithRetry(retry.NewPolicy(retry.Mode(cfg.Retry.Mode), cfg.Retry.Initial, cfg.Retry.Max, cfg.Retry.Attempts)),
		adb.WithLogger(logger),
	}
	if cfg.MetricsListen != "" {
		reg := prometheus.NewRegistry()
		opts = append(opts, adb.WithMetrics(reg))
		serveMetrics(ctx, cfg.MetricsListen, reg)
	}
	return adb.New(opts...)
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.HTTPHandler(reg))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", slog.String("address", addr), slog.Any("error", err))
		}
	}()
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
}

// resolveSerial returns the -s flag, the device selected by -d or -e, or
// the only attached device.
func resolveSerial(ctx context.Context) (string, error) {
	switch {
	case *serial != "":
		return *serial, nil
	case *usbFlag:
		return client.ResolveSerial(ctx, adb.AnyUSBDevice)
	case *localFlag:
		return client.ResolveSerial(ctx, adb.AnyLocalDevice)
	}
	devices, err := client.GetDevices(ctx)
	if err != nil {
		return "", err
	}
	switch len(devices) {
	case 0:
		return "", errors.New("no devices/emulators found")
	case 1:
		return devices[0].Serial, nil
	default:
		return "", errors.New("more than one device/emulator, use -s")
	}
}

func status(ctx context.Context) int {
	st, err := client.GetStatus(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	if !st.IsRunning {
		fmt.Printf("adb server at %s is not running\n", client.Server().Address())
		return 1
	}
	fmt.Printf("adb server at %s is running, version %d\n", client.Server().Address(), st.Version)
	return 0
}

func startServer(ctx context.Context, restart bool) int {
	st, err := client.StartServer(ctx, cfg.AdbPath, restart)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	fmt.Printf("adb server running, version %d\n", st.Version)
	return 0
}

func killServer(ctx context.Context) int {
	if err := client.KillServer(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}

func listDevices(ctx context.Context, long bool) int {
	devices, err := client.GetDevices(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}

	for _, device := range devices {
		if long {
			fmt.Println(device.String())
		} else {
			fmt.Printf("%s\t%s\n", device.Serial, device.State)
		}
	}

	return 0
}

func runShellCommand(ctx context.Context, commandAndArgs []string) int {
	if len(commandAndArgs) == 0 {
		fmt.Fprintln(os.Stderr, "error: no command")
		kingpin.Usage()
		return 1
	}
	deviceSerial, err := resolveSerial(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}

	r, err := client.OpenShell(ctx, deviceSerial, strings.Join(commandAndArgs, " "))
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	defer r.Close()
	if _, err := io.Copy(os.Stdout, r); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}

func forward(ctx context.Context, list, remove, noRebind bool, local, remote string) int {
	deviceSerial, err := resolveSerial(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}

	switch {
	case list:
		fws, err := client.ListForward(ctx, deviceSerial)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			return 1
		}
		for _, fw := range fws {
			fmt.Printf("%v %v %v\n", fw.Serial, fw.Local, fw.Remote)
		}
		return 0
	case remove:
		l, err := adb.ParseForwardSpec(local)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			return 1
		}
		if err := client.RemoveForward(ctx, deviceSerial, l); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			return 1
		}
		return 0
	}

	l, err := adb.ParseForwardSpec(local)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	r, err := adb.ParseForwardSpec(remote)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	port, err := client.Forward(ctx, deviceSerial, l, r, noRebind)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	if l.Port() == 0 {
		fmt.Println(port)
	}
	return 0
}

func reverse(ctx context.Context, list, remove, removeAll, noRebind bool, remote, local string) int {
	deviceSerial, err := resolveSerial(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}

	switch {
	case list:
		fws, err := client.ListReverseForward(ctx, deviceSerial)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			return 1
		}
		for _, fw := range fws {
			fmt.Printf("%v %v %v\n", fw.Serial, fw.Local, fw.Remote)
		}
		return 0
	case removeAll:
		if err := client.RemoveAllReverseForwards(ctx, deviceSerial); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			return 1
		}
		return 0
	case remove:
		r, err := adb.ParseForwardSpec(remote)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			return 1
		}
		if err := client.RemoveReverseForward(ctx, deviceSerial, r); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			return 1
		}
		return 0
	}

	r, err := adb.ParseForwardSpec(remote)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	l, err := adb.ParseForwardSpec(local)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	port, err := client.ReverseForward(ctx, deviceSerial, r, l, noRebind)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	if r.Port() == 0 {
		fmt.Println(port)
	}
	return 0
}

func restartAdbd(ctx context.Context, fn func(context.Context, string) error) int {
	deviceSerial, err := resolveSerial(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	if err := fn(ctx, deviceSerial); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}

func features(ctx context.Context) int {
	deviceSerial, err := resolveSerial(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	ff, err := client.GetFeatureSet(ctx, deviceSerial)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	for _, f := range ff {
		fmt.Println(f)
	}
	return 0
}

func install(ctx context.Context, replace bool, apkPath string) int {
	deviceSerial, err := resolveSerial(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	var args []string
	if replace {
		args = append(args, "-r")
	}
	if err := client.InstallFile(ctx, deviceSerial, apkPath, args...); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	fmt.Println("Success")
	return 0
}

func pull(ctx context.Context, showProgress bool, remotePath, localPath string) int {
	if remotePath == "" {
		fmt.Fprintln(os.Stderr, "error: must specify remote file")
		kingpin.Usage()
		return 1
	}
	if localPath == "" {
		localPath = filepath.Base(remotePath)
	}
	deviceSerial, err := resolveSerial(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}

	bar := newProgress(showProgress)
	startTime := time.Now()
	var copied int64
	if localPath == StdIoFilename {
		copied, err = client.PullWriter(ctx, deviceSerial, remotePath, os.Stdout, bar.option())
	} else {
		err = client.Pull(ctx, deviceSerial, remotePath, localPath, bar.option())
		copied = bar.copied
	}
	bar.finish()

	if adb.HasErrCode(err, adb.FileNotExist) {
		fmt.Fprintln(os.Stderr, "remote file does not exist:", remotePath)
		return 1
	} else if err != nil {
		fmt.Fprintln(os.Stderr, "error pulling file:", err)
		return 1
	}
	printStats(copied, startTime)
	return 0
}

func push(ctx context.Context, showProgress bool, localPath, remotePath string) int {
	if remotePath == "" {
		fmt.Fprintln(os.Stderr, "error: must specify remote file")
		kingpin.Usage()
		return 1
	}
	deviceSerial, err := resolveSerial(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}

	bar := newProgress(showProgress)
	startTime := time.Now()
	switch {
	case localPath == StdIoFilename:
		// Unknown size hides the progress bar.
		err = client.PushReader(ctx, deviceSerial, os.Stdin, -1, remotePath,
			adb.WithFileMode(0660), bar.option())
	case strings.HasPrefix(localPath, "http://") || strings.HasPrefix(localPath, "https://"):
		err = pushURL(ctx, deviceSerial, localPath, remotePath, bar.option())
	default:
		err = client.Push(ctx, deviceSerial, localPath, remotePath, bar.option())
	}
	bar.finish()

	if err != nil {
		fmt.Fprintln(os.Stderr, "error pushing file:", err)
		return 1
	}
	printStats(bar.copied, startTime)
	return 0
}

// pushURL downloads srcURL straight to the device.
func pushURL(ctx context.Context, deviceSerial, srcURL, remotePath string, opts ...adb.TransferOption) error {
	hc := retryablehttp.NewClient()
	hc.Logger = nil
	hc.RetryMax = cfg.Retry.Attempts

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, srcURL, nil)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	res, err := hc.Do(req)
	if err != nil {
		return errors.Wrapf(err, "download %s", srcURL)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return errors.Errorf("http download <%s> status %v", srcURL, res.Status)
	}
	opts = append([]adb.TransferOption{adb.WithFileMode(0644), adb.WithModTime(time.Now())}, opts...)
	return client.PushReader(ctx, deviceSerial, res.Body, res.ContentLength, remotePath, opts...)
}

func watch(ctx context.Context) int {
	watcher, err := client.WatchDevices(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	defer watcher.Close()

	for event := range watcher.C() {
		fmt.Printf("%s\t%s -> %s\n", event.Serial, event.OldState, event.NewState)
	}
	if err := watcher.Err(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}

func props(ctx context.Context) int {
	deviceSerial, err := resolveSerial(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	props, err := client.DeviceProperties(ctx, deviceSerial)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("%s=%s\n", k, props[k])
	}
	return 0
}

func listProcesses(ctx context.Context) int {
	deviceSerial, err := resolveSerial(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	pp, err := extra.ListProcesses(ctx, client, deviceSerial)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	for _, p := range pp {
		fmt.Printf("%-12s %6d %s\n", p.User, p.Pid, p.Name)
	}
	return 0
}

func packageInfo(ctx context.Context, name string) int {
	deviceSerial, err := resolveSerial(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	pi, err := extra.StatPackage(ctx, client, deviceSerial, name)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	fmt.Printf("%s\n\tpath: %s\n\tversion: %s (%d)\n", pi.Name, pi.Path, pi.Version.Name, pi.Version.Code)
	return 0
}

// progress shows a progress bar on stderr once the size of the transfer is
// known, and counts the bytes for the final stats.
type progress struct {
	show   bool
	bar    *pb.ProgressBar
	copied int64
}

func newProgress(show bool) *progress {
	return &progress{show: show}
}

func (p *progress) option() adb.TransferOption {
	return adb.WithProgress(func(done, total int64) {
		p.copied = done
		if !p.show || total <= 0 {
			return
		}
		if p.bar == nil {
			p.bar = pb.New64(total)
			// Write to stderr in case dst is stdout.
			p.bar.Output = os.Stderr
			p.bar.ShowSpeed = true
			p.bar.ShowPercent = true
			p.bar.ShowTimeLeft = true
			p.bar.SetUnits(pb.U_BYTES)
			p.bar.Start()
		}
		p.bar.Set64(done)
	})
}

func (p *progress) finish() {
	if p.bar != nil {
		p.bar.Finish()
	}
}

// printStats prints the transfer speed and size to stderr.
func printStats(copied int64, startTime time.Time) {
	duration := time.Since(startTime)
	rate := int64(float64(copied) / duration.Seconds())
	fmt.Fprintf(os.Stderr, "%d B/s (%d bytes in %s)\n", rate, copied, duration)
}
