package qemu

import (
	"context"
	"time"

	"github.com/nrednav/cuid2"
	"github.com/onkernel/qsynth/lib/caps"
	"github.com/onkernel/qsynth/lib/domain"
	"github.com/onkernel/qsynth/lib/logger"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// State is a step of the synthesis state machine.
type State int

const (
	StateInit State = iota
	StateValidating
	StateEmittingCore
	StateEmittingControllers
	StateEmittingStorage
	StateEmittingNetwork
	StateEmittingCharDevices
	StateEmittingPeripherals
	StateEmittingSecurity
	StateFinalized
)

var stateNames = map[State]string{
	StateInit:                "init",
	StateValidating:          "validating",
	StateEmittingCore:        "emitting core",
	StateEmittingControllers: "emitting controllers",
	StateEmittingStorage:     "emitting storage",
	StateEmittingNetwork:     "emitting network",
	StateEmittingCharDevices: "emitting character devices",
	StateEmittingPeripherals: "emitting peripherals",
	StateEmittingSecurity:    "emitting security",
	StateFinalized:           "finalized",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

type stage struct {
	state State
	emit  func(c *SynthesisContext) error
}

// stages run in this order; later stages reference what earlier ones emitted.
var stages = []stage{
	{StateEmittingCore, emitCore},
	{StateEmittingControllers, emitControllers},
	{StateEmittingStorage, emitStorage},
	{StateEmittingNetwork, emitNetwork},
	{StateEmittingCharDevices, emitCharDevices},
	{StateEmittingPeripherals, emitPeripherals},
	{StateEmittingSecurity, emitSecurity},
}

// Synthesize turns a normalized guest definition into a QEMU command line.
// On failure it returns an *Error; descriptors opened by stages that had
// completed are carried by the error and must be closed by the caller.
func Synthesize(ctx context.Context, def *domain.Guest, oracle caps.Oracle, env *Environment) (res *Result, err error) {
	start := time.Now()
	if env == nil {
		env = &Environment{}
	}
	log := logger.FromContext(ctx).With("guest", def.Name, "run_id", cuid2.Generate())

	ctx, span := SynthMetrics.startSpan(ctx, "Synthesize",
		attribute.String("guest", def.Name),
		attribute.String("machine", def.Machine))
	defer span.End()

	defer func() {
		SynthMetrics.RecordRun(ctx, def.Machine, start, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, KindOf(err))
			log.WarnContext(ctx, "synthesis failed", "kind", KindOf(err), "error", err)
			return
		}
		log.InfoContext(ctx, "synthesized command line",
			"args", len(res.Args),
			"files", len(res.Files),
			"duration_ms", time.Since(start).Milliseconds())
	}()

	if verr := Validate(def, env); verr != nil {
		return nil, &Error{Stage: StateValidating, Err: verr}
	}

	c := newSynthesisContext(ctx, def, oracle, env)
	for _, st := range stages {
		stageCtx, stageSpan := SynthMetrics.startSpan(ctx, st.state.String())
		c.ctx = stageCtx
		serr := st.emit(c)
		stageSpan.End()
		if serr != nil {
			return nil, &Error{Stage: st.state, Err: serr, Files: c.files}
		}
		log.DebugContext(ctx, "stage complete", "stage", st.state.String(), "args", len(c.args))
	}
	c.ctx = ctx
	return c.result(), nil
}

// each builds every item of a device list, one scope per device.
func each[T any](c *SynthesisContext, items []T, build func(int, *T) error) error {
	for i := range items {
		if err := c.scope(func() error { return build(i, &items[i]) }); err != nil {
			return err
		}
	}
	return nil
}

func steps(c *SynthesisContext, fns ...func() error) error {
	for _, fn := range fns {
		if err := c.scope(fn); err != nil {
			return err
		}
	}
	return nil
}

func emitCore(c *SynthesisContext) error {
	var fw pflashNodes
	var plan systemMemory
	c.buildEnv()
	c.buildName()

	return steps(c,
		func() (err error) { fw, err = c.buildFirmwareBlockdevs(); return err },
		func() (err error) { plan, err = c.planSystemMemory(); return err },
		func() error { return c.buildMachine(fw) },
		c.buildCPU,
		func() error { c.buildFIPS(); return nil },
		func() error { return c.buildMemory(plan) },
		c.buildSMP,
		c.buildIOThreads,
		c.buildNUMA,
		c.buildSysinfo,
		func() error {
			c.addFlag("-no-user-config")
			c.addFlag("-nodefaults")
			return nil
		},
		c.buildMonitor,
		c.buildClock,
		func() error { c.buildLifecycle(); return nil },
		c.buildBoot,
		func() error { return c.buildFirmware(fw) },
		c.buildIOMMU,
	)
}

func emitControllers(c *SynthesisContext) error {
	for _, ctrl := range sortedControllers(c.def.Controllers) {
		if err := c.scope(func() error { return c.buildController(ctrl) }); err != nil {
			return err
		}
	}
	c.finishUSB()
	return nil
}

func emitStorage(c *SynthesisContext) error {
	if err := each(c, c.def.Disks, c.buildDisk); err != nil {
		return err
	}
	return each(c, c.def.Filesystems, c.buildFilesystem)
}

func emitNetwork(c *SynthesisContext) error {
	return each(c, c.def.Interfaces, c.buildNet)
}

func emitCharDevices(c *SynthesisContext) error {
	def := c.def
	if err := each(c, def.Smartcards, c.buildSmartcard); err != nil {
		return err
	}
	if err := each(c, def.Serials, c.buildSerial); err != nil {
		return err
	}
	if err := each(c, def.Parallels, c.buildParallel); err != nil {
		return err
	}
	if err := each(c, def.Channels, c.buildChannel); err != nil {
		return err
	}
	if err := each(c, def.Consoles, c.buildConsole); err != nil {
		return err
	}
	if err := each(c, def.TPMs, c.buildTPM); err != nil {
		return err
	}
	if err := each(c, def.RNGs, c.buildRNG); err != nil {
		return err
	}
	if err := each(c, def.Redirdevs, c.buildRedirdev); err != nil {
		return err
	}
	return each(c, def.Shmems, c.buildShmem)
}

// emitPeripherals runs input, audio, graphics and video, then sound,
// watchdog and host devices, then memory hotplug devices.
func emitPeripherals(c *SynthesisContext) error {
	def := c.def
	if err := each(c, def.Inputs, c.buildInput); err != nil {
		return err
	}
	if err := c.scope(c.buildAudio); err != nil {
		return err
	}
	if err := each(c, def.Graphics, func(_ int, g *domain.Graphics) error { return c.buildGraphics(g) }); err != nil {
		return err
	}
	c.finishGraphics()
	if err := each(c, def.Videos, c.buildVideo); err != nil {
		return err
	}
	if err := each(c, def.Sounds, c.buildSound); err != nil {
		return err
	}
	if err := each(c, def.Watchdogs, c.buildWatchdog); err != nil {
		return err
	}
	if err := each(c, def.Hostdevs, c.buildHostdev); err != nil {
		return err
	}
	if err := c.scope(c.buildBalloon); err != nil {
		return err
	}
	if err := each(c, def.Panics, c.buildPanic); err != nil {
		return err
	}
	return each(c, def.MemoryDevs, c.buildMemoryDevice)
}

func emitSecurity(c *SynthesisContext) error {
	return steps(c, c.buildLaunchSecurity, c.buildVsock, c.buildFinal)
}
