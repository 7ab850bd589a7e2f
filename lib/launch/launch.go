// Package launch finds QEMU binaries and starts synthesized command lines.
package launch

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"syscall"
	"time"

	"github.com/onkernel/qsynth/lib/logger"
	"github.com/onkernel/qsynth/lib/qemu"
	"gvisor.dev/gvisor/pkg/cleanup"
)

const (
	// socketWaitTimeout is how long to wait for the monitor socket after start
	socketWaitTimeout = 10 * time.Second

	socketPollInterval = 50 * time.Millisecond
	socketDialTimeout  = 100 * time.Millisecond
)

var binaryNames = map[string]string{
	"x86_64":  "qemu-system-x86_64",
	"i686":    "qemu-system-i386",
	"aarch64": "qemu-system-aarch64",
	"armv7l":  "qemu-system-arm",
	"ppc64":   "qemu-system-ppc64",
	"ppc64le": "qemu-system-ppc64",
	"riscv64": "qemu-system-riscv64",
	"s390x":   "qemu-system-s390x",
}

var versionRe = regexp.MustCompile(`version (\d+\.\d+(?:\.\d+)?)`)

// BinaryName returns the QEMU system emulator for arch.
func BinaryName(arch string) (string, error) {
	name, ok := binaryNames[arch]
	if !ok {
		return "", fmt.Errorf("unsupported architecture: %s", arch)
	}
	return name, nil
}

// FindBinary locates the QEMU binary for arch in the usual install
// locations, then in PATH.
func FindBinary(arch string) (string, error) {
	name, err := BinaryName(arch)
	if err != nil {
		return "", err
	}
	for _, dir := range []string{"/usr/bin", "/usr/local/bin", "/usr/libexec"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}
	return "", fmt.Errorf("%s not found", name)
}

// Version runs "binary --version" and returns the reported version.
func Version(ctx context.Context, binary string) (string, error) {
	out, err := exec.CommandContext(ctx, binary, "--version").Output()
	if err != nil {
		return "", fmt.Errorf("get qemu version: %w", err)
	}
	return parseVersion(string(out))
}

// parseVersion extracts "8.2.0" from "QEMU emulator version 8.2.0 (Debian ...)".
func parseVersion(output string) (string, error) {
	m := versionRe.FindStringSubmatch(output)
	if len(m) < 2 {
		return "", fmt.Errorf("could not parse QEMU version from: %q", output)
	}
	return m[1], nil
}

// Options controls a detached start.
type Options struct {
	Binary string
	// MonitorSocket is waited on after start. Empty skips the wait.
	MonitorSocket string
	// LogFile receives QEMU's stdout and stderr. Empty discards them.
	LogFile string
}

// Start launches res in its own process group and returns the pid once the
// monitor socket accepts connections. The process is killed if it never
// does. The caller still owns res and closes it after Start returns.
func Start(ctx context.Context, res *qemu.Result, opts Options) (int, error) {
	log := logger.FromContext(ctx)

	if opts.MonitorSocket != "" {
		if socketInUse(opts.MonitorSocket) {
			return 0, fmt.Errorf("socket already in use, QEMU may be running at %s", opts.MonitorSocket)
		}
		os.Remove(opts.MonitorSocket)
	}

	// not bound to ctx: the process outlives the request that started it
	cmd := res.Command(context.Background(), opts.Binary)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if opts.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(opts.LogFile), 0755); err != nil {
			return 0, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(opts.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return 0, fmt.Errorf("open qemu log: %w", err)
		}
		defer f.Close()
		cmd.Stdout = f
		cmd.Stderr = f
	}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start qemu: %w", err)
	}
	pid := cmd.Process.Pid
	go cmd.Wait()

	cu := cleanup.Make(func() {
		syscall.Kill(pid, syscall.SIGKILL)
	})
	defer cu.Clean()

	if opts.MonitorSocket != "" {
		if err := waitForSocket(ctx, opts.MonitorSocket, socketWaitTimeout); err != nil {
			if data, readErr := os.ReadFile(opts.LogFile); opts.LogFile != "" && readErr == nil && len(data) > 0 {
				return 0, fmt.Errorf("%w; qemu log: %s", err, data)
			}
			return 0, err
		}
	}

	log.InfoContext(ctx, "qemu started", "pid", pid, "binary", opts.Binary)
	cu.Release()
	return pid, nil
}

func socketInUse(path string) bool {
	conn, err := net.DialTimeout("unix", path, socketDialTimeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func waitForSocket(ctx context.Context, path string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(socketPollInterval)
	defer ticker.Stop()
	for {
		if socketInUse(path) {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for socket %s", path)
		case <-ticker.C:
		}
	}
}
