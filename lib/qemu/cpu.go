package qemu

import (
	"fmt"
	"strings"

	"github.com/onkernel/qsynth/lib/caps"
	"github.com/onkernel/qsynth/lib/domain"
	"github.com/onkernel/qsynth/lib/qemu/props"
	"github.com/samber/lo"
)

const defaultSpinlockRetries = 0x1fff

// cpuLine collects the comma separated -cpu value. Later entries override
// earlier ones with the same name, so the order of appends matters.
type cpuLine struct {
	parts []string
	props bool
}

func (l *cpuLine) feature(name string, on bool) {
	switch {
	case l.props:
		l.parts = append(l.parts, name+"="+props.OnOff(on))
	case on:
		l.parts = append(l.parts, "+"+name)
	default:
		l.parts = append(l.parts, "-"+name)
	}
}

func (l *cpuLine) toggle(name string, v *bool) {
	if v != nil {
		l.parts = append(l.parts, name+"="+props.OnOff(*v))
	}
}

func (c *SynthesisContext) cpuModel() (string, error) {
	cpu := c.def.CPU
	switch cpu.Mode {
	case domain.CPUModeHostPassthrough:
		if c.def.VirtType != domain.VirtKVM {
			return "", unsupported("host-passthrough CPU needs KVM")
		}
		return "host", nil
	case domain.CPUModeHostModel:
		if model, ok := c.caps.MachineDefault(caps.HostCPUModel, c.def.Machine); ok {
			return model, nil
		}
		if c.def.VirtType == domain.VirtKVM {
			return "host", nil
		}
		return "", unsupported("host-model CPU: no host CPU model known for machine %s", c.def.Machine)
	case domain.CPUModeMaximum:
		return "max", nil
	}
	if cpu.Model != "" {
		return cpu.Model, nil
	}
	model, _ := c.caps.MachineDefault(caps.DefaultCPUModel, c.def.Machine)
	return model, nil
}

func (c *SynthesisContext) hasHypervPanic() bool {
	return lo.ContainsBy(c.def.Panics, func(p domain.Panic) bool { return p.Model == "hyperv" })
}

// buildCPU emits the composite -cpu argument.
func (c *SynthesisContext) buildCPU() error {
	if c.def.VirtType == domain.VirtKVM && c.env.Arch != "" && c.def.Arch != "" && c.def.Arch != c.env.Arch {
		return unsupported("KVM guest architecture %s differs from host architecture %s", c.def.Arch, c.env.Arch)
	}

	model, err := c.cpuModel()
	if err != nil {
		return err
	}
	cpu := c.def.CPU
	line := &cpuLine{props: c.has(caps.CPUFeatureProps)}

	if cpu.Mode == domain.CPUModeHostPassthrough && cpu.Migratable != nil {
		if err := c.require(caps.CPUMigratable, "CPU migratable setting"); err != nil {
			return err
		}
		line.toggle("migratable", cpu.Migratable)
	}
	if cpu.Vendor != "" {
		line.parts = append(line.parts, "vendor="+cpu.Vendor)
	}
	for _, f := range cpu.Features {
		line.feature(f.Name, f.Enabled())
	}

	feat := c.def.Features
	if kvm := feat.KVM; kvm != nil {
		if kvm.Hidden {
			line.parts = append(line.parts, "kvm=off")
		}
		line.toggle("kvm-hint-dedicated", kvm.HintDedicated)
		line.toggle("kvm-poll-control", kvm.PollControl)
		line.toggle("kvm-pv-ipi", kvm.PVIPI)
	}
	if t := c.def.Clock.FindTimer("kvmclock"); t != nil {
		line.toggle("kvmclock", t.Present)
	}
	hvclock := c.def.Clock.FindTimer("hypervclock")
	if hv := feat.HyperV; hv != nil || hvclock != nil {
		if hv == nil {
			hv = &domain.HyperVFeatures{}
		}
		line.toggle("hv-relaxed", hv.Relaxed)
		line.toggle("hv-vapic", hv.VAPIC)
		if hv.Spinlocks != nil && *hv.Spinlocks {
			retries := hv.SpinlockRetries
			if retries == 0 {
				retries = defaultSpinlockRetries
			}
			line.parts = append(line.parts, fmt.Sprintf("hv-spinlocks=0x%x", retries))
		}
		if hvclock != nil {
			line.toggle("hv-time", hvclock.Present)
		}
		line.toggle("hv-vpindex", hv.VPIndex)
		line.toggle("hv-runtime", hv.Runtime)
		line.toggle("hv-synic", hv.Synic)
		line.toggle("hv-stimer", hv.STimer)
		line.toggle("hv-stimer-direct", hv.STimerDirect)
		line.toggle("hv-reset", hv.Reset)
		if hv.VendorID != "" {
			line.parts = append(line.parts, "hv-vendor-id="+hv.VendorID)
		}
		line.toggle("hv-frequencies", hv.Frequencies)
		line.toggle("hv-reenlightenment", hv.Reenlightenment)
		line.toggle("hv-tlbflush", hv.TLBFlush)
		line.toggle("hv-ipi", hv.IPI)
		line.toggle("hv-evmcs", hv.EVMCS)
	}
	if c.hasHypervPanic() {
		line.parts = append(line.parts, "hv-crash")
	}
	line.toggle("pmu", feat.PMU)

	if model == "" && len(line.parts) == 0 {
		return nil
	}
	if model == "" {
		return unsupported("CPU features without a CPU model on machine %s", c.def.Machine)
	}
	c.add("-cpu", strings.Join(append([]string{model}, line.parts...), ","))
	return nil
}

// buildSMP emits the vCPU count and topology.
func (c *SynthesisContext) buildSMP() error {
	cpu := c.def.CPU
	parts := []string{fmt.Sprint(c.def.TotalVCPUs())}
	if cpu.MaxVCPUs > 0 {
		parts = append(parts, fmt.Sprintf("maxcpus=%d", cpu.MaxVCPUs))
	}
	if t := cpu.Topology; t != nil {
		parts = append(parts, fmt.Sprintf("sockets=%d", t.Sockets))
		if t.Dies > 1 {
			if err := c.require(caps.SMPDies, "CPU dies"); err != nil {
				return err
			}
			parts = append(parts, fmt.Sprintf("dies=%d", t.Dies))
		}
		parts = append(parts, fmt.Sprintf("cores=%d", t.Cores), fmt.Sprintf("threads=%d", t.Threads))
	}
	c.add("-smp", strings.Join(parts, ","))
	return nil
}
