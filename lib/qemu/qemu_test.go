package qemu

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/onkernel/qsynth/lib/caps"
	"github.com/onkernel/qsynth/lib/domain"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testDiskPath = "/var/lib/qsynth/images/guest1.qcow2"

// legacyCaps is a target without any JSON syntax or -blockdev.
func legacyCaps() *caps.Set {
	return caps.ForVersion(4, 1)
}

// modernCaps is a recent target with JSON syntax, printed in legacy form
// where a test compares option strings.
func modernCaps() *caps.Set {
	return caps.ForVersion(9, 0)
}

func modernLegacySyntax() *caps.Set {
	return modernCaps().Without(caps.ObjectJSON, caps.DeviceJSON, caps.NetdevJSON)
}

func testGuest() *domain.Guest {
	return &domain.Guest{
		Name:     "guest1",
		UUID:     "c7a5fdbd-edaf-9455-926a-d65c16db1809",
		VirtType: domain.VirtTCG,
		Arch:     "x86_64",
		Machine:  "pc-q35-8.2",
		CPU:      domain.CPU{VCPUs: 2, MaxVCPUs: 2},
		Memory:   domain.Memory{Size: 1024 * 1024},
		Clock:    domain.Clock{Offset: domain.ClockUTC},
	}
}

func virtioDisk(target, path string) domain.Disk {
	return domain.Disk{
		Device: domain.DiskDeviceDisk,
		Bus:    domain.DiskBusVirtio,
		Target: target,
		Source: domain.DiskSource{Type: domain.SourceFile, Path: path},
		Driver: domain.DiskDriver{Format: "qcow2"},
	}
}

func tapInterface(mac, ifname string) domain.NetInterface {
	return domain.NetInterface{
		Type:   domain.NetEthernet,
		MAC:    mac,
		Model:  "virtio",
		Ifname: ifname,
	}
}

// fakeHost hands out temporary files in place of real host objects.
type fakeHost struct {
	dir string

	mu     sync.Mutex
	calls  int
	opened []*os.File
	// failPaths makes OpenDevice fail for these paths.
	failPaths map[string]bool
}

var _ HostResources = (*fakeHost)(nil)

func newFakeHost(t *testing.T) *fakeHost {
	t.Helper()
	h := &fakeHost{dir: t.TempDir(), failPaths: map[string]bool{}}
	t.Cleanup(func() {
		for _, f := range h.opened {
			_ = f.Close()
		}
	})
	return h
}

func (h *fakeHost) open(kind string) (*os.File, error) {
	f, err := os.CreateTemp(h.dir, kind+"-*")
	if err != nil {
		return nil, err
	}
	h.opened = append(h.opened, f)
	return f, nil
}

func (h *fakeHost) ListenUnix(_ context.Context, _ string, _ os.FileMode) (*os.File, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	return h.open("sock")
}

func (h *fakeHost) OpenDevice(_ context.Context, path string, _ int) (*os.File, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	if h.failPaths[path] {
		return nil, errors.New("permission denied")
	}
	return h.open("dev")
}

func (h *fakeHost) OpenTap(_ context.Context, _ string, queues int, _ bool) ([]*os.File, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	files := make([]*os.File, 0, queues)
	for range queues {
		f, err := h.open("tap")
		if err != nil {
			return files, err
		}
		files = append(files, f)
	}
	return files, nil
}

func (h *fakeHost) callCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

func ptr[T any](v T) *T { return &v }

func isClosed(f *os.File) bool {
	_, err := f.Stat()
	return errors.Is(err, os.ErrClosed)
}

func testEnv(host HostResources) *Environment {
	return &Environment{
		Arch:       "x86_64",
		Privileged: true,
		LibDir:     "/var/lib/qsynth/guests/guest1",
		Host:       host,
	}
}

func synthesize(t *testing.T, def *domain.Guest, oracle caps.Oracle, env *Environment) *Result {
	t.Helper()
	res, err := Synthesize(context.Background(), def, oracle, env)
	require.NoError(t, err)
	t.Cleanup(func() { _ = res.Close() })
	return res
}

// argIndex returns the position of the first argument with flag whose value
// starts with prefix, or -1.
func argIndex(res *Result, flag, prefix string) int {
	for i, a := range res.Args {
		if a.Flag == flag && strings.HasPrefix(a.Value, prefix) {
			return i
		}
	}
	return -1
}

func flagIndex(res *Result, flag string) int {
	for i, a := range res.Args {
		if a.Flag == flag {
			return i
		}
	}
	return -1
}
