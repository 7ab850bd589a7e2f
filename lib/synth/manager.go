// Package synth turns guest definitions into QEMU command lines for one
// host: it normalizes the definition, lays out the guest's directories and
// projects host configuration into the synthesis environment.
package synth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/onkernel/qsynth/lib/caps"
	"github.com/onkernel/qsynth/lib/domain"
	"github.com/onkernel/qsynth/lib/logger"
	"github.com/onkernel/qsynth/lib/paths"
	"github.com/onkernel/qsynth/lib/qemu"
)

const masterKeySize = 32

// Config is the host configuration shared by every synthesis.
type Config struct {
	Arch       string
	FIPS       bool
	Privileged bool
	Sandbox    bool

	Hugepages []qemu.HugepageMount
	// MemoryBackingDir overrides the per-guest directory under the data dir.
	MemoryBackingDir string
	TLS              qemu.TLSConfig
}

// Request carries per-run options.
type Request struct {
	// DryRun replaces host resources with placeholders and writes nothing.
	DryRun      bool
	StartPaused bool
	Secrets     SecretMap
}

// Manager synthesizes command lines.
type Manager interface {
	Synthesize(ctx context.Context, def *domain.Guest, req Request) (*qemu.Result, error)
	Capabilities() *caps.Set
}

type manager struct {
	paths  *paths.Paths
	caps   *caps.Set
	config Config
	host   qemu.HostResources
	rand   io.Reader
	now    func() time.Time
}

// NewManager creates a synthesis manager. host opens resources for runs
// that are not dry runs.
func NewManager(p *paths.Paths, set *caps.Set, cfg Config, host qemu.HostResources) Manager {
	if cfg.Arch == "" {
		cfg.Arch = domain.HostArch()
	}
	return &manager{
		paths:  p,
		caps:   set,
		config: cfg,
		host:   host,
		rand:   rand.Reader,
		now:    time.Now,
	}
}

func (m *manager) Capabilities() *caps.Set {
	return m.caps
}

func (m *manager) Synthesize(ctx context.Context, def *domain.Guest, req Request) (*qemu.Result, error) {
	if def == nil || def.Name == "" {
		return nil, fmt.Errorf("%w: guest definition needs a name", ErrInvalidRequest)
	}
	log := logger.FromContext(ctx).With(logger.GuestKey, def.Name)
	ctx = logger.AddToContext(ctx, log)

	norm, err := domain.Normalize(def, m.now())
	if err != nil {
		return nil, fmt.Errorf("%w: normalize: %v", ErrInvalidRequest, err)
	}

	env, err := m.environment(norm.Name, req)
	if err != nil {
		return nil, err
	}

	if !req.DryRun {
		if err := m.prepare(env); err != nil {
			return nil, err
		}
	}

	res, err := qemu.Synthesize(ctx, norm, m.caps, env)
	if err != nil {
		var serr *qemu.Error
		if errors.As(err, &serr) {
			serr.Close()
		}
		return nil, err
	}
	log.DebugContext(ctx, "command line", "argv", res.String(), "dry_run", req.DryRun)
	return res, nil
}

// environment projects the host configuration onto one guest.
func (m *manager) environment(name string, req Request) (*qemu.Environment, error) {
	env := &qemu.Environment{
		Arch:        m.config.Arch,
		FIPS:        m.config.FIPS,
		Privileged:  m.config.Privileged,
		Hugepages:   m.config.Hugepages,
		TLS:         m.config.TLS,
		ShmemDir:    m.paths.ShmemDir(),
		Sandbox:     m.config.Sandbox,
		StartPaused: req.StartPaused,
		Secrets:     req.Secrets,
		Host:        m.host,
	}
	if req.DryRun {
		env.Host = previewHost{}
	}

	var err error
	if env.LibDir, err = m.paths.GuestDir(name); err != nil {
		return nil, err
	}
	if env.ChannelDir, err = m.paths.ChannelDir(name); err != nil {
		return nil, err
	}
	if env.MonitorSocket, err = m.paths.GuestMonitorSocket(name); err != nil {
		return nil, err
	}
	if env.PRHelperSocket, err = m.paths.GuestPRHelperSocket(name); err != nil {
		return nil, err
	}
	if env.MasterKeyPath, err = m.paths.GuestMasterKey(name); err != nil {
		return nil, err
	}
	if m.config.MemoryBackingDir != "" {
		env.MemoryBackingDir, err = securejoin.SecureJoin(m.config.MemoryBackingDir, name)
	} else {
		env.MemoryBackingDir, err = m.paths.MemoryBackingDir(name)
	}
	if err != nil {
		return nil, err
	}

	env.MasterKey = make([]byte, masterKeySize)
	if _, err := io.ReadFull(m.rand, env.MasterKey); err != nil {
		return nil, fmt.Errorf("generate master key: %w", err)
	}
	return env, nil
}

// prepare creates the guest's directories and writes the master key QEMU
// will read.
func (m *manager) prepare(env *qemu.Environment) error {
	for _, dir := range []string{env.LibDir, env.ChannelDir, env.MemoryBackingDir} {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(env.MasterKeyPath, env.MasterKey, 0600); err != nil {
		return fmt.Errorf("write master key: %w", err)
	}
	return nil
}
