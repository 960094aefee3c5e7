package adb

import (
	"context"
	"io"
)

// Interface is the surface of Client consumed by bindings and UIs.
type Interface interface {
	GetStatus(ctx context.Context) (ServerStatus, error)
	StartServer(ctx context.Context, path string, restartIfRunning bool) (ServerStatus, error)
	KillServer(ctx context.Context) error
	GetDevices(ctx context.Context) ([]Device, error)
	Snapshot() *Registry

	ExecuteShellCommand(ctx context.Context, serial, command string) (string, error)
	OpenShell(ctx context.Context, serial, command string) (io.ReadCloser, error)

	Stat(ctx context.Context, serial, remotePath string) (*DirEntry, error)
	List(ctx context.Context, serial, remotePath string) ([]*DirEntry, error)
	Push(ctx context.Context, serial, localPath, remotePath string, opts ...TransferOption) error
	Pull(ctx context.Context, serial, remotePath, localPath string, opts ...TransferOption) error

	Forward(ctx context.Context, serial string, local, remote ForwardSpec, noRebind bool) (int, error)
	ListForward(ctx context.Context, serial string) ([]ForwardPair, error)
	RemoveForward(ctx context.Context, serial string, local ForwardSpec) error
	RemoveAllForwards(ctx context.Context, serial string) error
	ReverseForward(ctx context.Context, serial string, remote, local ForwardSpec, noRebind bool) (int, error)
	ListReverseForward(ctx context.Context, serial string) ([]ForwardPair, error)
	RemoveReverseForward(ctx context.Context, serial string, remote ForwardSpec) error
	RemoveAllReverseForwards(ctx context.Context, serial string) error

	Root(ctx context.Context, serial string) error
	Unroot(ctx context.Context, serial string) error
	GetFeatureSet(ctx context.Context, serial string) ([]string, error)
	Install(ctx context.Context, serial string, r io.Reader, size int64, args ...string) error

	WatchDevices(ctx context.Context) (*DeviceWatcher, error)
}

var _ Interface = (*Client)(nil)
