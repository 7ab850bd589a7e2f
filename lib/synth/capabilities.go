package synth

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/onkernel/qsynth/lib/caps"
	"github.com/onkernel/qsynth/lib/launch"
	"github.com/onkernel/qsynth/lib/logger"
	"github.com/onkernel/qsynth/lib/paths"
)

// CapsSource selects where the capability set comes from. The first
// non-empty of File, ProbeSocket, Binary and Version wins.
type CapsSource struct {
	File        string
	ProbeSocket string
	// Binary is asked for its version, which selects the built-in table.
	Binary  string
	Version string
	// Cache receives probed sets so they can be reused as files.
	Cache *paths.Paths
}

// LoadCapabilities resolves a capability set from src.
func LoadCapabilities(ctx context.Context, src CapsSource) (*caps.Set, error) {
	log := logger.FromContext(ctx)

	switch {
	case src.File != "":
		set, err := caps.LoadFile(src.File)
		if err != nil {
			return nil, err
		}
		log.InfoContext(ctx, "loaded capabilities", "file", src.File, "version", set.Version())
		return set, nil

	case src.ProbeSocket != "":
		set, err := caps.ProbeSocket(ctx, src.ProbeSocket)
		if err != nil {
			return nil, fmt.Errorf("probe %s: %w", src.ProbeSocket, err)
		}
		log.InfoContext(ctx, "probed capabilities", "socket", src.ProbeSocket,
			"version", set.Version(), "flags", len(set.Flags()))
		if src.Cache != nil {
			if err := cacheCapabilities(src.Cache, set); err != nil {
				log.WarnContext(ctx, "failed to cache capabilities", "error", err)
			}
		}
		return set, nil

	case src.Binary != "":
		version, err := launch.Version(ctx, src.Binary)
		if err != nil {
			return nil, err
		}
		log.InfoContext(ctx, "detected qemu version", "binary", src.Binary, "version", version)
		return forVersion(version)

	case src.Version != "":
		return forVersion(src.Version)
	}
	return nil, fmt.Errorf("%w: no capability source configured", ErrInvalidRequest)
}

func forVersion(version string) (*caps.Set, error) {
	var major, minor int
	if _, err := fmt.Sscanf(version, "%d.%d", &major, &minor); err != nil {
		return nil, fmt.Errorf("%w: qemu version %q: %v", ErrInvalidRequest, version, err)
	}
	return caps.ForVersion(major, minor), nil
}

func cacheCapabilities(p *paths.Paths, set *caps.Set) error {
	path, err := p.CapsFile(set.Version())
	if err != nil {
		return err
	}
	data, err := caps.Marshal(set)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
