package qemu

import (
	"fmt"
	"path/filepath"

	"github.com/onkernel/qsynth/lib/caps"
	"github.com/onkernel/qsynth/lib/domain"
	"github.com/onkernel/qsynth/lib/qemu/props"
	"github.com/samber/lo"
)

const (
	monitorChardev   = "charmonitor"
	launchSecurityID = "lsec0"
	rtcTimeLayout    = "2006-01-02T15:04:05"
)

// buildEnv sets the environment of the QEMU process.
func (c *SynthesisContext) buildEnv() {
	c.setEnv("LC_ALL", "C")
	if c.env.LibDir != "" {
		c.setEnv("HOME", c.env.LibDir)
		c.setEnv("XDG_DATA_HOME", filepath.Join(c.env.LibDir, ".local", "share"))
		c.setEnv("XDG_CACHE_HOME", filepath.Join(c.env.LibDir, ".cache"))
		c.setEnv("XDG_CONFIG_HOME", filepath.Join(c.env.LibDir, ".config"))
	}
	if clk := c.def.Clock; clk.Offset == domain.ClockTimezone && clk.Timezone != "" {
		c.setEnv("TZ", clk.Timezone)
	}
}

func (c *SynthesisContext) buildName() {
	if c.has(caps.NameGuest) {
		c.add("-name", props.New().Set("guest", c.def.Name).Bool("debug-threads", true).Legacy())
		return
	}
	c.add("-name", props.Escape(c.def.Name))
}

// pflashNodes holds the blockdev node names of the firmware images.
type pflashNodes struct {
	code  string
	nvram string
}

// buildFirmwareBlockdevs emits pflash images as blockdev nodes when the
// machine can reference them. It runs before -machine.
func (c *SynthesisContext) buildFirmwareBlockdevs() (pflashNodes, error) {
	loader := c.def.Boot.Loader
	if loader == nil || loader.Type != domain.LoaderPflash || !c.has(caps.Blockdev) || !c.has(caps.MachinePflash) {
		return pflashNodes{}, nil
	}
	image := func(name, path string, readOnly bool) (string, error) {
		storage := props.New().
			Set("driver", "file").
			Set("filename", path).
			Set("node-name", name+"-storage").
			Bool("auto-read-only", true).
			Set("discard", "unmap")
		if err := c.addBlockdev(storage); err != nil {
			return "", err
		}
		format := props.New().
			Set("node-name", name+"-format").
			Bool("read-only", readOnly).
			Set("driver", "raw").
			Set("file", name+"-storage")
		if err := c.addBlockdev(format); err != nil {
			return "", err
		}
		return name + "-format", nil
	}

	var nodes pflashNodes
	var err error
	if nodes.code, err = image("pflash0", loader.Path, loader.ReadOnly); err != nil {
		return pflashNodes{}, err
	}
	if c.def.Boot.NVRAM != "" {
		if nodes.nvram, err = image("pflash1", c.def.Boot.NVRAM, false); err != nil {
			return pflashNodes{}, err
		}
	}
	return nodes, nil
}

func (c *SynthesisContext) buildMachine(pflash pflashNodes) error {
	def := c.def
	feat := def.Features
	p := props.WithHead(props.HeadType, def.Machine)

	accel := string(lo.CoalesceOrEmpty(def.VirtType, domain.VirtTCG))
	if !c.has(caps.AccelSeparate) {
		p.Set("accel", accel)
	}
	if def.Memory.DumpCore != nil {
		p.Bool("dump-guest-core", *def.Memory.DumpCore)
	}
	p.Str("memory-backend", c.systemRAM)

	if lo.ContainsBy(def.MemoryDevs, func(m domain.MemoryDevice) bool { return m.Model == domain.MemoryNVDIMM }) {
		if err := c.require(caps.MachineNVDIMM, "NVDIMM"); err != nil {
			return err
		}
		p.Bool("nvdimm", true)
	}

	if hpet := def.Clock.FindTimer("hpet"); hpet != nil && hpet.Present != nil && def.IsX86() && c.has(caps.MachineHPET) {
		p.Bool("hpet", *hpet.Present)
	}
	if feat.ACPI != nil && !*feat.ACPI && c.has(caps.MachineACPI) {
		p.Bool("acpi", false)
	}
	if feat.VMPort != nil {
		if !def.IsX86() {
			return unsupported("vmport on %s guests", def.Arch)
		}
		if err := c.require(caps.MachineVMPort, "vmport"); err != nil {
			return err
		}
		p.Bool("vmport", *feat.VMPort)
	}
	if feat.SMM != nil {
		if err := c.require(caps.MachineSMM, "SMM"); err != nil {
			return err
		}
		p.Bool("smm", *feat.SMM)
	}
	if feat.GIC != 0 {
		if !def.IsARMVirt() {
			return unsupported("GIC version on machine %s", def.Machine)
		}
		p.Set("gic-version", feat.GIC)
	}
	if def.IOMMU != nil && def.IOMMU.Model == domain.IOMMUSMMUv3 {
		if err := c.require(caps.MachineSMMUv3, "SMMUv3 IOMMU"); err != nil {
			return err
		}
		p.Set("iommu", "smmuv3")
	}
	if feat.IOAPIC == "qemu" {
		p.Set("kernel_irqchip", "split")
	}
	if feat.HPT != "" && def.IsPSeries() {
		p.Set("resize-hpt", feat.HPT)
	}
	p.Str("pflash0", pflash.code).Str("pflash1", pflash.nvram)

	if def.Security != nil {
		if c.has(caps.MachineConfidentialGuest) {
			p.Set("confidential-guest-support", launchSecurityID)
		} else if def.Security.Type == domain.LaunchSEV {
			p.Set("memory-encryption", launchSecurityID)
		} else {
			return unsupported("launch security %s needs confidential-guest-support", def.Security.Type)
		}
	}

	c.add("-machine", p.Legacy())
	if c.has(caps.AccelSeparate) {
		c.add("-accel", accel)
	}
	if feat.ACPI != nil && !*feat.ACPI && !c.has(caps.MachineACPI) && def.IsX86() {
		c.addFlag("-no-acpi")
	}
	return nil
}

func (c *SynthesisContext) buildIOThreads() error {
	if c.def.IOThreads == 0 {
		return nil
	}
	if err := c.require(caps.ObjectIOThread, "iothreads"); err != nil {
		return err
	}
	for i := uint(1); i <= c.def.IOThreads; i++ {
		if err := c.addObject(props.Object("iothread", fmt.Sprintf("iothread%d", i))); err != nil {
			return err
		}
	}
	return nil
}

func (c *SynthesisContext) buildSysinfo() error {
	if c.def.UUID != "" {
		c.add("-uuid", c.def.UUID)
	}
	si := c.def.Sysinfo
	if si == nil {
		return nil
	}
	if err := c.require(caps.SMBIOSType1, "SMBIOS system information"); err != nil {
		return err
	}
	p := props.New().Set("type", 1).
		Str("manufacturer", si.Manufacturer).
		Str("product", si.Product).
		Str("version", si.Version).
		Str("serial", si.Serial).
		Str("uuid", si.UUID).
		Str("sku", si.SKU).
		Str("family", si.Family)
	c.add("-smbios", p.Legacy())
	return nil
}

// buildMonitor emits the QMP monitor on a listening UNIX socket.
func (c *SynthesisContext) buildMonitor() error {
	if c.env.MonitorSocket == "" {
		return nil
	}
	src := &domain.ChardevSource{Type: domain.ChardevUnix, Path: c.env.MonitorSocket, Listen: true}
	if err := c.chardevBackend(monitorChardev, src); err != nil {
		return err
	}
	c.add("-mon", "chardev="+monitorChardev+",id=monitor,mode=control")
	return nil
}

func (c *SynthesisContext) buildClock() error {
	clk := c.def.Clock
	p := props.New()

	switch clk.Offset {
	case domain.ClockUTC, "":
		p.Set("base", "utc")
	case domain.ClockLocaltime, domain.ClockTimezone:
		p.Set("base", "localtime")
	case domain.ClockVariable:
		if clk.Start == nil {
			return inconsistent("variable clock was not normalized")
		}
		if err := c.require(caps.RTCBase, "variable clock offset"); err != nil {
			return err
		}
		p.Set("base", clk.Start.UTC().Format(rtcTimeLayout))
	default:
		return unsupported("clock offset %q", clk.Offset)
	}

	for _, t := range clk.Timers {
		switch t.Name {
		case "rtc":
			if t.Track == "guest" {
				p.Set("clock", "vm")
			}
			if t.TickPolicy == "catchup" {
				p.Set("driftfix", "slew")
			}
		case "pit":
			if t.TickPolicy == "" || !c.has(caps.KVMPITLostTick) {
				continue
			}
			policy := map[string]string{"delay": "delay", "catchup": "slew", "discard": "discard"}[t.TickPolicy]
			if policy == "" {
				return unsupported("pit tick policy %q", t.TickPolicy)
			}
			c.add("-global", "kvm-pit.lost_tick_policy="+policy)
		case "hpet":
			if t.Present != nil && !*t.Present && c.def.IsX86() && !c.has(caps.MachineHPET) {
				c.addFlag("-no-hpet")
			}
		}
	}
	c.add("-rtc", p.Legacy())
	return nil
}

func (c *SynthesisContext) buildLifecycle() {
	if c.env.MonitorSocket != "" {
		c.addFlag("-no-shutdown")
	}
	if c.def.Lifecycle.OnReboot == "destroy" {
		c.addFlag("-no-reboot")
	}
}

func (c *SynthesisContext) buildBoot() error {
	boot := c.def.Boot
	p := props.New()
	if boot.Menu != nil {
		p.Bool("menu", *boot.Menu)
		if *boot.Menu && boot.MenuTimeout > 0 {
			p.Set("splash-time", boot.MenuTimeout)
		}
	}
	if boot.RebootTimeout != nil {
		if err := c.require(caps.RebootTimeout, "boot reboot timeout"); err != nil {
			return err
		}
		p.Int("reboot-timeout", *boot.RebootTimeout)
	}
	if boot.Strict {
		if err := c.require(caps.BootStrict, "strict boot"); err != nil {
			return err
		}
		p.Bool("strict", true)
	}
	if p.Len() > 0 {
		c.add("-boot", p.Legacy())
	}

	if boot.Kernel != "" {
		c.add("-kernel", boot.Kernel)
	}
	if boot.Initrd != "" {
		c.add("-initrd", boot.Initrd)
	}
	if boot.Cmdline != "" {
		c.add("-append", boot.Cmdline)
	}
	if boot.DTB != "" {
		c.add("-dtb", boot.DTB)
	}
	return nil
}

// buildFirmware emits the loader when it was not already wired into the
// machine as blockdev nodes.
func (c *SynthesisContext) buildFirmware(pflash pflashNodes) error {
	loader := c.def.Boot.Loader
	if loader == nil {
		return nil
	}
	if loader.Type != domain.LoaderPflash {
		c.add("-bios", loader.Path)
		return nil
	}
	if loader.Secure {
		if c.def.Features.SMM == nil || !*c.def.Features.SMM {
			return invalid("secure boot firmware needs SMM")
		}
		c.add("-global", "driver=cfi.pflash01,property=secure,value=on")
	}
	if pflash.code != "" {
		return nil
	}
	drive := props.New().
		Set("file", loader.Path).
		Set("if", "pflash").
		Set("format", "raw").
		Set("unit", 0).
		True("readonly", loader.ReadOnly)
	c.add("-drive", drive.Legacy())
	if c.def.Boot.NVRAM != "" {
		nvram := props.New().
			Set("file", c.def.Boot.NVRAM).
			Set("if", "pflash").
			Set("format", "raw").
			Set("unit", 1)
		c.add("-drive", nvram.Legacy())
	}
	return nil
}

// buildIOMMU emits the IOMMU device. SMMUv3 is a machine option and has no
// device of its own.
func (c *SynthesisContext) buildIOMMU() error {
	iommu := c.def.IOMMU
	if iommu == nil {
		return nil
	}
	var p *props.Props
	var err error

	switch iommu.Model {
	case domain.IOMMUSMMUv3:
		return nil
	case domain.IOMMUIntel:
		if err := c.require(caps.DeviceIntelIOMMU, "intel-iommu"); err != nil {
			return err
		}
		if p, err = c.device("intel-iommu", &iommu.Info); err != nil {
			return err
		}
		p.Switch("intremap", iommu.IntRemap).
			Switch("caching-mode", iommu.CachingMode).
			Switch("eim", iommu.EIM).
			Switch("device-iotlb", iommu.IOTLB).
			Uint("aw-bits", uint64(iommu.AWBits))
	case domain.IOMMUAMD:
		if err := c.require(caps.DeviceAMDIOMMU, "amd-iommu"); err != nil {
			return err
		}
		if p, err = c.device("amd-iommu", &iommu.Info); err != nil {
			return err
		}
		p.Switch("intremap", iommu.IntRemap).Switch("device-iotlb", iommu.IOTLB)
	case domain.IOMMUVirtio:
		if err := c.require(caps.DeviceVirtioIOMMU, "virtio-iommu"); err != nil {
			return err
		}
		if p, err = c.device("virtio-iommu-pci", &iommu.Info); err != nil {
			return err
		}
	default:
		return unsupported("IOMMU model %q", iommu.Model)
	}
	return c.addDevice(p)
}
