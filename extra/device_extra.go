// Package extra has helpers built on shell commands of the device.
package extra

import (
	"bufio"
	"bytes"
	"context"
	"regexp"
	"strconv"
	"strings"
	"syscall"

	"github.com/pkg/errors"

	"github.com/d1ced/adbclient"
)

type Process struct {
	User string
	Pid  int
	Name string
}

// ListProcesses runs ps on the device.
func ListProcesses(ctx context.Context, c *adb.Client, serial string) ([]Process, error) {
	out, err := c.Command(serial, "ps", "-A").Output(ctx)
	if err != nil {
		return nil, err
	}
	pp, err := parseProcesses(out)
	if err != nil || len(pp) > 0 {
		return pp, err
	}
	// ps without -A lists everything on older releases and fails on -A.
	out, err = c.Command(serial, "ps").Output(ctx)
	if err != nil {
		return nil, err
	}
	return parseProcesses(out)
}

// parseProcesses parses ps output. Example:
//
//	USER  PID  PPID  VSIZE  RSS  WCHAN     PC         NAME
//	root    1     0    684  540  ffffffff  00000000 S /init
//	root    2     0      0    0  ffffffff  00000000 S kthreadd
func parseProcesses(out []byte) ([]Process, error) {
	var (
		fieldNames []string
		pp         = make([]Process, 0, 4)
		scanner    = bufio.NewScanner(bytes.NewReader(out))
	)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if fieldNames == nil {
			fieldNames = fields
			continue
		}
		// The state column has no header on older releases.
		if len(fields) < len(fieldNames) {
			return nil, errors.Errorf("unexpected ps line %q", scanner.Text())
		}

		var process Process
		for index, name := range fieldNames {
			value := fields[index]
			switch strings.ToUpper(name) {
			case "PID":
				process.Pid, _ = strconv.Atoi(value)
			case "NAME":
				process.Name = fields[len(fields)-1]
			case "USER":
				process.User = value
			}
		}
		if process.Pid == 0 {
			continue
		}
		pp = append(pp, process)
	}
	return pp, scanner.Err()
}

// KillProcessByName sends sig to every process called name.
func KillProcessByName(ctx context.Context, c *adb.Client, serial, name string, sig syscall.Signal) error {
	pp, err := ListProcesses(ctx, c, serial)
	if err != nil {
		return err
	}
	for _, p := range pp {
		if p.Name != name {
			continue
		}
		cmd := c.Command(serial, "kill", "-"+strconv.Itoa(int(sig)), strconv.Itoa(p.Pid))
		if err := cmd.Run(ctx); err != nil {
			return errors.WithMessagef(err, "kill %s (%d)", p.Name, p.Pid)
		}
	}
	return nil
}

type PackageInfo struct {
	Name    string
	Path    string
	Version struct {
		Code int
		Name string
	}
}

var (
	rePkgPath = regexp.MustCompile(`codePath=([^\s]+)`)
	reVerCode = regexp.MustCompile(`versionCode=(\d+)`)
	reVerName = regexp.MustCompile(`versionName=([^\s]+)`)

	ErrPackageNotExist = errors.New("package does not exist")
)

// StatPackage returns PackageInfo
// If package not found, err will be ErrPackageNotExist
func StatPackage(ctx context.Context, c *adb.Client, serial, packageName string) (PackageInfo, error) {
	out, err := c.Command(serial, "dumpsys", "package", packageName).Output(ctx)
	if err != nil {
		return PackageInfo{}, err
	}
	return parsePackage(packageName, out)
}

func parsePackage(packageName string, out []byte) (PackageInfo, error) {
	var pi PackageInfo
	pi.Name = packageName

	matches := rePkgPath.FindSubmatch(out)
	if len(matches) == 0 {
		return PackageInfo{}, ErrPackageNotExist
	}
	pi.Path = string(matches[1])

	matches = reVerCode.FindSubmatch(out)
	if len(matches) == 0 {
		return PackageInfo{}, ErrPackageNotExist
	}
	pi.Version.Code, _ = strconv.Atoi(string(matches[1]))

	matches = reVerName.FindSubmatch(out)
	if len(matches) == 0 {
		return PackageInfo{}, ErrPackageNotExist
	}
	pi.Version.Name = string(matches[1])
	return pi, nil
}
