// Package hostres opens the host objects whose descriptors a synthesized
// QEMU command line inherits: listening UNIX sockets, device nodes and tap
// queues.
package hostres

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/onkernel/qsynth/lib/logger"
	"golang.org/x/sys/unix"
)

// maxSocketPath is the usable length of sockaddr_un.sun_path.
const maxSocketPath = 107

const listenBacklog = 16

var (
	// ErrPathTooLong is returned when a socket path does not fit sun_path.
	ErrPathTooLong = errors.New("socket path too long")

	// ErrNotTap is returned when an interface exists but is not a tap device.
	ErrNotTap = errors.New("interface is not a tap device")
)

// Options configures a Provider.
type Options struct {
	// TunPath is the clone device used to attach tap queues.
	TunPath string
	// CreateTaps creates missing tap interfaces, owned by the current user.
	CreateTaps bool
}

// Provider opens host resources on the local machine.
type Provider struct {
	tunPath    string
	createTaps bool
}

// New returns a Provider.
func New(opts Options) *Provider {
	tun := opts.TunPath
	if tun == "" {
		tun = "/dev/net/tun"
	}
	return &Provider{tunPath: tun, createTaps: opts.CreateTaps}
}

// ListenUnix binds path, applies mode and only then starts listening, so no
// client can connect before the permissions are in place. A stale socket at
// path is replaced.
func (p *Provider) ListenUnix(ctx context.Context, path string, mode os.FileMode) (*os.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(path) > maxSocketPath {
		return nil, fmt.Errorf("%w: %d bytes: %s", ErrPathTooLong, len(path), path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create socket directory: %w", err)
	}
	if err := removeStaleSocket(path); err != nil {
		return nil, err
	}

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("create socket: %w", err)
	}
	fail := func(step string, err error) (*os.File, error) {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("%s %s: %w", step, path, err)
	}
	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		return fail("bind", err)
	}
	if err := os.Chmod(path, mode); err != nil {
		_ = os.Remove(path)
		return fail("chmod", err)
	}
	if err := unix.Listen(fd, listenBacklog); err != nil {
		_ = os.Remove(path)
		return fail("listen", err)
	}

	logger.FromContext(ctx).DebugContext(ctx, "listening on unix socket", "path", path, "mode", mode)
	return os.NewFile(uintptr(fd), path), nil
}

func removeStaleSocket(path string) error {
	fi, err := os.Lstat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil
	case err != nil:
		return fmt.Errorf("stat %s: %w", path, err)
	case fi.Mode().Type() != fs.ModeSocket:
		return fmt.Errorf("%s exists and is not a socket", path)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("remove stale socket: %w", err)
	}
	return nil
}

// OpenDevice opens a device node.
func (p *Provider) OpenDevice(ctx context.Context, path string, flag int) (*os.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, err
	}
	logger.FromContext(ctx).DebugContext(ctx, "opened device", "path", path)
	return f, nil
}
