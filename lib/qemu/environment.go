package qemu

import (
	"context"
	"os"

	"github.com/onkernel/qsynth/lib/domain"
)

// HostResources opens host objects whose descriptors are handed to QEMU.
type HostResources interface {
	// ListenUnix binds and listens on a UNIX socket, applying mode before any
	// client can connect, and returns the listening socket.
	ListenUnix(ctx context.Context, path string, mode os.FileMode) (*os.File, error)
	// OpenDevice opens a device node such as /dev/vhost-net or /dev/tpm0.
	OpenDevice(ctx context.Context, path string, flag int) (*os.File, error)
	// OpenTap opens one descriptor per queue on an existing tap interface.
	OpenTap(ctx context.Context, ifname string, queues int, vnetHdr bool) ([]*os.File, error)
}

// SecretStore resolves secret references to their plaintext value.
type SecretStore interface {
	LookupSecret(ctx context.Context, ref domain.SecretRef) ([]byte, error)
}

// HugepageMount is a hugetlbfs mount point for one page size.
type HugepageMount struct {
	Size domain.KiB
	Path string
}

// TLSConfig locates x509 material per consumer. Empty per-consumer
// directories fall back to DefaultDir.
type TLSConfig struct {
	DefaultDir string
	VNCDir     string
	SpiceDir   string
	ChardevDir string
	DiskDir    string
	VerifyPeer bool
}

func (t TLSConfig) dir(specific string) string {
	if specific != "" {
		return specific
	}
	return t.DefaultDir
}

// Environment carries the host and deployment facts synthesis depends on.
type Environment struct {
	// Arch is the host architecture in QEMU naming ("x86_64", "aarch64").
	Arch string
	// FIPS reports whether the host runs in FIPS mode.
	FIPS bool
	// Privileged is false for per-user (session) deployments.
	Privileged bool

	// Hugepages lists hugetlbfs mounts; the first one is the default.
	Hugepages        []HugepageMount
	MemoryBackingDir string
	TLS              TLSConfig

	// LibDir is the guest's private state directory. It becomes HOME and
	// the root of the XDG directories of the QEMU process.
	LibDir         string
	ChannelDir     string
	MonitorSocket  string
	PRHelperSocket string
	ShmemDir       string

	// MasterKey wraps every secret passed on the command line. It must also
	// be readable by QEMU at MasterKeyPath.
	MasterKey     []byte
	MasterKeyPath string

	Sandbox     bool
	StartPaused bool

	Secrets SecretStore
	Host    HostResources
}

// hugepageMount returns the mount for the given page size; zero selects the default.
func (e *Environment) hugepageMount(size domain.KiB) (HugepageMount, bool) {
	if len(e.Hugepages) == 0 {
		return HugepageMount{}, false
	}
	if size == 0 {
		return e.Hugepages[0], true
	}
	for _, m := range e.Hugepages {
		if m.Size == size {
			return m, true
		}
	}
	return HugepageMount{}, false
}
