// Package providers holds the wire providers of the qsynth API.
package providers

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/onkernel/qsynth/cmd/api/config"
	"github.com/onkernel/qsynth/lib/caps"
	"github.com/onkernel/qsynth/lib/domain"
	"github.com/onkernel/qsynth/lib/hostres"
	"github.com/onkernel/qsynth/lib/logger"
	"github.com/onkernel/qsynth/lib/otel"
	"github.com/onkernel/qsynth/lib/paths"
	"github.com/onkernel/qsynth/lib/qemu"
	"github.com/onkernel/qsynth/lib/synth"
)

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// ProvideLogger provides a structured logger. Records tagged with a guest
// are also appended to that guest's log under LOG_DIR, and to the OTel
// bridge when telemetry is enabled.
func ProvideLogger(cfg *config.Config, otelProvider *otel.Provider) *slog.Logger {
	var h slog.Handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	})
	if otelProvider != nil && otelProvider.LogHandler != nil {
		h = fanout{h, otelProvider.LogHandler}
	}
	h = logger.NewGuestLogHandler(h, func(guest string) (string, error) {
		return paths.GuestLogFile(cfg.LogDir, guest)
	})
	return slog.New(h)
}

// ProvideContext provides a context with logger attached
func ProvideContext(log *slog.Logger) context.Context {
	return logger.AddToContext(context.Background(), log)
}

// ProvideConfig provides the application configuration
func ProvideConfig() *config.Config {
	return config.Load()
}

// ProvidePaths provides the data directory layout
func ProvidePaths(cfg *config.Config) *paths.Paths {
	return paths.New(cfg.DataDir)
}

// ProvideCapabilities resolves the capability set synthesis runs against
func ProvideCapabilities(ctx context.Context, cfg *config.Config, p *paths.Paths) (*caps.Set, error) {
	return synth.LoadCapabilities(ctx, synth.CapsSource{
		File:        cfg.CapsFile,
		ProbeSocket: cfg.CapsProbeSocket,
		Binary:      cfg.QemuBinary,
		Version:     cfg.QemuVersion,
		Cache:       p,
	})
}

// ProvideHostResources provides the host resource opener
func ProvideHostResources(cfg *config.Config) qemu.HostResources {
	return hostres.New(hostres.Options{CreateTaps: cfg.CreateTaps})
}

// ProvideSynthConfig projects the application config onto synthesis
func ProvideSynthConfig(cfg *config.Config) (synth.Config, error) {
	mounts, err := config.ParseHugepageMounts(cfg.HugepageMounts)
	if err != nil {
		return synth.Config{}, fmt.Errorf("HUGEPAGE_MOUNTS: %w", err)
	}
	hugepages := make([]qemu.HugepageMount, len(mounts))
	for i, m := range mounts {
		hugepages[i] = qemu.HugepageMount{Size: domain.KiB(m.Size.KBytes()), Path: m.Path}
	}

	return synth.Config{
		Arch:             cfg.HostArch,
		FIPS:             synth.DetectFIPS(cfg.FIPSPath),
		Privileged:       cfg.Privileged,
		Sandbox:          cfg.Sandbox,
		Hugepages:        hugepages,
		MemoryBackingDir: cfg.MemoryBackingDir,
		TLS: qemu.TLSConfig{
			DefaultDir: cfg.TLSDefaultDir,
			VNCDir:     cfg.TLSVNCDir,
			SpiceDir:   cfg.TLSSpiceDir,
			ChardevDir: cfg.TLSChardevDir,
			DiskDir:    cfg.TLSDiskDir,
			VerifyPeer: cfg.TLSVerifyPeer,
		},
	}, nil
}

// ProvideSynthManager provides the synthesis manager
func ProvideSynthManager(p *paths.Paths, set *caps.Set, cfg synth.Config, host qemu.HostResources) synth.Manager {
	return synth.NewManager(p, set, cfg, host)
}
