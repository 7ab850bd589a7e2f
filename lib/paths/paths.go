// Package paths provides centralized path construction for the qsynth data directory.
package paths

import (
	"fmt"
	"path/filepath"

	securejoin "github.com/cyphar/filepath-securejoin"
)

// Paths provides typed path construction for the qsynth data directory.
//
// Layout:
//
//	<data>/guests/<name>/           private state, HOME of the QEMU process
//	<data>/guests/<name>/qmp.sock   QMP monitor
//	<data>/guests/<name>/master-key.aes
//	<data>/channels/<name>/         virtio channel sockets
//	<data>/ram/<name>/              file backed guest memory
//	<data>/shmem/                   ivshmem sockets
//	<data>/caps/                    cached capability sets
type Paths struct {
	dataDir string
}

// New creates a new Paths instance for the given data directory.
func New(dataDir string) *Paths {
	return &Paths{dataDir: dataDir}
}

// DataDir returns the root data directory.
func (p *Paths) DataDir() string {
	return p.dataDir
}

// scoped joins name under root without letting it escape root, so guest
// names such as "../etc" stay inside the data directory.
func (p *Paths) scoped(root, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("empty name under %s", root)
	}
	dir, err := securejoin.SecureJoin(filepath.Join(p.dataDir, root), name)
	if err != nil {
		return "", fmt.Errorf("join %s/%s: %w", root, name, err)
	}
	return dir, nil
}

// Guest path methods

// GuestDir returns the private state directory of a guest.
func (p *Paths) GuestDir(name string) (string, error) {
	return p.scoped("guests", name)
}

// GuestMonitorSocket returns the path of the QMP monitor socket.
// Keep the data directory short: the path must fit sun_path (108 bytes).
func (p *Paths) GuestMonitorSocket(name string) (string, error) {
	dir, err := p.GuestDir(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "qmp.sock"), nil
}

// GuestMasterKey returns the path QEMU reads the secret master key from.
func (p *Paths) GuestMasterKey(name string) (string, error) {
	dir, err := p.GuestDir(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "master-key.aes"), nil
}

// GuestPRHelperSocket returns the socket of the persistent reservation helper.
func (p *Paths) GuestPRHelperSocket(name string) (string, error) {
	dir, err := p.GuestDir(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "pr-helper0.sock"), nil
}

// ChannelDir returns the directory holding the guest's channel sockets.
func (p *Paths) ChannelDir(name string) (string, error) {
	return p.scoped("channels", name)
}

// MemoryBackingDir returns the directory for file backed guest memory.
func (p *Paths) MemoryBackingDir(name string) (string, error) {
	return p.scoped("ram", name)
}

// Shared path methods

// ShmemDir returns the directory of ivshmem server sockets.
func (p *Paths) ShmemDir() string {
	return filepath.Join(p.dataDir, "shmem")
}

// CapsDir returns the directory of cached capability sets.
func (p *Paths) CapsDir() string {
	return filepath.Join(p.dataDir, "caps")
}

// CapsFile returns the cached capability set of a QEMU binary version.
func (p *Paths) CapsFile(version string) (string, error) {
	return p.scoped("caps", version+".yaml")
}

// GuestLogFile returns the per-guest synthesis log under logDir.
func GuestLogFile(logDir, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("empty guest name")
	}
	dir, err := securejoin.SecureJoin(logDir, name)
	if err != nil {
		return "", fmt.Errorf("join log dir: %w", err)
	}
	return filepath.Join(dir, "synth.log"), nil
}
