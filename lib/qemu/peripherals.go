package qemu

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/onkernel/qsynth/lib/caps"
	"github.com/onkernel/qsynth/lib/domain"
	"github.com/onkernel/qsynth/lib/qemu/props"
	"github.com/samber/lo"
)

const (
	pciSysfsPrefix  = "/sys/bus/pci/devices/"
	mdevSysfsPrefix = "/sys/bus/mdev/devices/"
	vhostSCSIPath   = "/dev/vhost-scsi"
)

var usbInputs = map[domain.InputType]modelDevice{
	domain.InputTablet:   {"usb-tablet", caps.DeviceUSBTablet},
	domain.InputMouse:    {"usb-mouse", caps.DeviceUSBMouse},
	domain.InputKeyboard: {"usb-kbd", caps.DeviceUSBKbd},
}

var virtioInputs = map[domain.InputType]modelDevice{
	domain.InputTablet:      {"virtio-tablet", caps.DeviceVirtioTablet},
	domain.InputMouse:       {"virtio-mouse", caps.DeviceVirtioMouse},
	domain.InputKeyboard:    {"virtio-keyboard", caps.DeviceVirtioKeyboard},
	domain.InputPassthrough: {"virtio-input-host", caps.DeviceVirtioInputHost},
}

func (c *SynthesisContext) buildInput(i int, in *domain.Input) error {
	alias, err := c.alloc.DeviceAlias(&in.Info, "input", uint(i))
	if err != nil {
		return err
	}

	if in.Type == domain.InputEvdev {
		if err := c.require(caps.ObjectInputLinux, "evdev input passthrough"); err != nil {
			return err
		}
		p := props.Object("input-linux", alias).
			Set("evdev", in.Evdev).
			True("grab_all", in.Grab == "all").
			Switch("repeat", in.Repeat)
		return c.addObject(p)
	}

	var p *props.Props
	switch in.Bus {
	case domain.InputBusPS2, domain.InputBusNone, "":
		return nil
	case domain.InputBusUSB:
		m, ok := usbInputs[in.Type]
		if !ok {
			return unsupported("USB input type %q", in.Type)
		}
		if err := c.require(m.flag, m.driver); err != nil {
			return err
		}
		if p, err = c.device(m.driver, &in.Info); err != nil {
			return err
		}
	case domain.InputBusVirtio:
		m, ok := virtioInputs[in.Type]
		if !ok {
			return unsupported("virtio input type %q", in.Type)
		}
		if err := c.require(m.flag, m.driver); err != nil {
			return err
		}
		if p, err = c.virtioDevice(m.driver, in.Model, &in.Info); err != nil {
			return err
		}
		if in.Type == domain.InputPassthrough {
			p.Set("evdev", in.Evdev)
		}
	default:
		return unsupported("input bus %q", in.Bus)
	}
	return c.addDevice(p.Set("id", alias))
}

func (c *SynthesisContext) buildVideo(i int, v *domain.Video) error {
	alias, err := c.alloc.DeviceAlias(&v.Info, "video", uint(i))
	if err != nil {
		return err
	}
	var p *props.Props

	switch v.Model {
	case "none":
		return nil
	case "vga":
		if err := c.require(caps.DeviceVGA, "VGA video"); err != nil {
			return err
		}
		p, err = c.device("VGA", &v.Info)
		if err == nil {
			p.Uint("vgamem_mb", v.VGAMem.MiB())
		}
	case "cirrus":
		if err := c.require(caps.DeviceCirrusVGA, "cirrus video"); err != nil {
			return err
		}
		p, err = c.device("cirrus-vga", &v.Info)
	case "vmvga":
		if err := c.require(caps.DeviceVMwareSVGA, "vmware-svga video"); err != nil {
			return err
		}
		p, err = c.device("vmware-svga", &v.Info)
		if err == nil {
			p.Uint("vgamem_mb", v.VGAMem.MiB())
		}
	case "qxl":
		driver, flag := "qxl", caps.DeviceQXL
		if v.Primary {
			driver, flag = "qxl-vga", caps.DeviceQXLVGA
		}
		if err := c.require(flag, driver+" video"); err != nil {
			return err
		}
		p, err = c.device(driver, &v.Info)
		if err == nil {
			p.Uint("ram_size", v.RAM.Bytes()).
				Uint("vram_size", v.VRAM.Bytes()).
				Uint("vgamem_mb", v.VGAMem.MiB()).
				Uint("max_outputs", uint64(v.Heads))
		}
	case "virtio":
		accel := v.Accel3D != nil && *v.Accel3D
		switch {
		case v.Primary && c.def.IsX86() && c.has(caps.DeviceVirtioVGA) && !accel:
			p, err = c.device("virtio-vga", &v.Info)
		case accel:
			if err := c.require(caps.DeviceVirtioGPUGL, "virtio-gpu 3D acceleration"); err != nil {
				return err
			}
			p, err = c.virtioDevice("virtio-gpu-gl", domain.VirtioModelDefault, &v.Info)
		default:
			if err := c.require(caps.DeviceVirtioGPU, "virtio-gpu video"); err != nil {
				return err
			}
			p, err = c.virtioDevice("virtio-gpu", domain.VirtioModelDefault, &v.Info)
		}
		if err == nil {
			p.Uint("max_outputs", uint64(v.Heads))
		}
	case "bochs":
		if err := c.require(caps.DeviceBochsDisplay, "bochs-display video"); err != nil {
			return err
		}
		p, err = c.device("bochs-display", &v.Info)
		if err == nil {
			p.Uint("vgamem", v.VGAMem.Bytes())
		}
	case "ramfb":
		if err := c.require(caps.DeviceRamfb, "ramfb video"); err != nil {
			return err
		}
		p = props.Device("ramfb")
	default:
		return unsupported("video model %q", v.Model)
	}
	if err != nil {
		return err
	}
	return c.addDevice(p.Set("id", alias))
}

var soundModels = map[string]modelDevice{
	"ich6":   {"intel-hda", caps.DeviceIntelHDA},
	"ich9":   {"ich9-intel-hda", caps.DeviceICH9IntelHDA},
	"ac97":   {"AC97", caps.DeviceAC97},
	"es1370": {"ES1370", caps.DeviceES1370},
	"sb16":   {"sb16", caps.DeviceSB16},
	"usb":    {"usb-audio", caps.DeviceUSBAudio},
}

var hdaCodecs = map[string]caps.Flag{
	"duplex": caps.DeviceHDADuplex,
	"micro":  caps.DeviceHDAMicro,
	"output": caps.DeviceHDAOutput,
}

func (c *SynthesisContext) buildSound(i int, s *domain.Sound) error {
	alias, err := c.alloc.DeviceAlias(&s.Info, "sound", uint(i))
	if err != nil {
		return err
	}
	m, ok := soundModels[s.Model]
	if !ok {
		return unsupported("sound model %q", s.Model)
	}
	if err := c.require(m.flag, m.driver+" sound"); err != nil {
		return err
	}
	p, err := c.device(m.driver, &s.Info)
	if err != nil {
		return err
	}
	p.Set("id", alias)
	audio := c.audioRef(s.Audio)
	hda := s.Model == "ich6" || s.Model == "ich9"
	if !hda {
		p.Str("audiodev", audio)
	}
	if err := c.addDevice(p); err != nil {
		return err
	}
	if !hda {
		return nil
	}

	codecs := lo.Ternary(len(s.Codecs) == 0, []string{"duplex"}, s.Codecs)
	for j, codec := range codecs {
		flag, ok := hdaCodecs[codec]
		if !ok {
			return unsupported("HDA codec %q", codec)
		}
		if err := c.require(flag, "hda-"+codec); err != nil {
			return err
		}
		cp := props.Device("hda-"+codec).
			Set("id", fmt.Sprintf("%s-codec%d", alias, j)).
			Set("bus", alias+".0").
			Set("cad", j).
			Str("audiodev", audio)
		if err := c.addDevice(cp); err != nil {
			return err
		}
	}
	return nil
}

var watchdogActions = map[string]string{
	"reset":      "reset",
	"shutdown":   "shutdown",
	"poweroff":   "poweroff",
	"pause":      "pause",
	"none":       "none",
	"dump":       "pause",
	"inject-nmi": "inject-nmi",
}

func (c *SynthesisContext) buildWatchdog(i int, w *domain.Watchdog) error {
	alias, err := c.alloc.DeviceAlias(&w.Info, "watchdog", uint(i))
	if err != nil {
		return err
	}

	switch w.Model {
	case "itco":
		if !c.def.IsQ35() {
			return unsupported("itco watchdog on machine %s", c.def.Machine)
		}
		c.add("-global", "ICH9-LPC.noreboot=off")
	default:
		m, ok := map[string]modelDevice{
			"i6300esb": {"i6300esb", caps.DeviceI6300ESB},
			"ib700":    {"ib700", caps.DeviceIB700},
			"diag288":  {"diag288", caps.DeviceDiag288},
		}[w.Model]
		if !ok {
			return unsupported("watchdog model %q", w.Model)
		}
		if err := c.require(m.flag, m.driver+" watchdog"); err != nil {
			return err
		}
		p, err := c.device(m.driver, &w.Info)
		if err != nil {
			return err
		}
		if err := c.addDevice(p.Set("id", alias)); err != nil {
			return err
		}
	}

	// The action applies to all watchdogs and is set once.
	if i == 0 && w.Action != "" {
		action, ok := watchdogActions[w.Action]
		if !ok {
			return unsupported("watchdog action %q", w.Action)
		}
		c.add("-watchdog-action", action)
	}
	return nil
}

// hostPCIAddress returns the host address of a PCI hostdev, taken from the
// explicit address or the last element of its sysfs path.
func hostPCIAddress(h *domain.Hostdev) (string, error) {
	if h.HostAddress != nil {
		return h.HostAddress.String(), nil
	}
	if strings.HasPrefix(h.SysfsPath, pciSysfsPrefix) {
		return filepath.Base(strings.TrimSuffix(h.SysfsPath, "/")), nil
	}
	return "", invalid("PCI hostdev has neither a host address nor a PCI sysfs path")
}

func mdevSysfsPath(h *domain.Hostdev) string {
	if h.MdevUUID != "" {
		return mdevSysfsPrefix + h.MdevUUID
	}
	return h.SysfsPath
}

func (c *SynthesisContext) buildHostdev(i int, h *domain.Hostdev) error {
	alias, err := c.alloc.DeviceAlias(&h.Info, "hostdev", uint(i))
	if err != nil {
		return err
	}
	var p *props.Props

	switch h.Type {
	case domain.HostdevPCI:
		if err := c.require(caps.DeviceVFIOPCI, "PCI device assignment"); err != nil {
			return err
		}
		host, err := hostPCIAddress(h)
		if err != nil {
			return err
		}
		if p, err = c.device("vfio-pci", &h.Info); err != nil {
			return err
		}
		p.Set("host", host).Set("id", alias)
		applyBoot(p, &h.Info)

	case domain.HostdevMdev:
		if err := c.require(caps.DeviceVFIOPCI, "mediated device assignment"); err != nil {
			return err
		}
		path := mdevSysfsPath(h)
		if !strings.HasPrefix(path, mdevSysfsPrefix) {
			return invalid("mdev hostdev %s has no mdev sysfs path", alias)
		}
		if p, err = c.device("vfio-pci", &h.Info); err != nil {
			return err
		}
		p.Set("id", alias).Set("sysfsdev", path)
		if h.Display != nil {
			if err := c.require(caps.VFIOPCIDisplay, "mdev display"); err != nil {
				return err
			}
			p.Bool("display", *h.Display)
		}
		p.Switch("ramfb", h.RamFB)
		applyBoot(p, &h.Info)

	case domain.HostdevUSB:
		if err := c.require(caps.DeviceUSBHost, "USB device assignment"); err != nil {
			return err
		}
		if p, err = c.device("usb-host", &h.Info); err != nil {
			return err
		}
		if h.HostBus != 0 || h.HostDev != 0 {
			p.Set("hostbus", h.HostBus).Set("hostaddr", h.HostDev)
		} else {
			p.Set("vendorid", fmt.Sprintf("0x%04x", h.VendorID)).Set("productid", fmt.Sprintf("0x%04x", h.ProductID))
		}
		p.Set("id", alias)
		applyBoot(p, &h.Info)

	case domain.HostdevSCSI:
		return c.buildSCSIHostdev(alias, h)

	case domain.HostdevSCSIHost:
		if err := c.require(caps.DeviceVhostSCSI, "vhost-scsi"); err != nil {
			return err
		}
		fd, err := c.openDevice(vhostSCSIPath, os.O_RDWR)
		if err != nil {
			return err
		}
		if p, err = c.virtioDevice("vhost-scsi", domain.VirtioModelDefault, &h.Info); err != nil {
			return err
		}
		p.Set("wwpn", h.WWPN).Set("vhostfd", fmt.Sprint(fd)).Set("id", alias)
		applyBoot(p, &h.Info)

	default:
		return unsupported("hostdev type %q", h.Type)
	}
	return c.addDevice(p)
}

// buildSCSIHostdev passes a host /dev/sg node through as scsi-generic.
func (c *SynthesisContext) buildSCSIHostdev(alias string, h *domain.Hostdev) error {
	if err := c.require(caps.DeviceSCSIGeneric, "SCSI device assignment"); err != nil {
		return err
	}
	addr := h.Info.Address.Drive
	if h.Info.Address.Type != domain.AddressDrive || addr == nil {
		return fmt.Errorf("%w: %w: SCSI hostdev %s has no drive address", ErrInternalInconsistency, ErrAddressMissing, alias)
	}
	ctrl, err := c.alloc.ControllerAlias(domain.ControllerSCSI, addr.Controller)
	if err != nil {
		return err
	}

	drive := "drive-" + alias
	if c.has(caps.Blockdev) {
		node := alias + "-backend"
		bp := props.New().
			Set("driver", "host_device").
			Set("filename", h.Device).
			Set("node-name", node).
			Bool("read-only", h.ReadOnly)
		if err := c.addBlockdev(bp); err != nil {
			return err
		}
		drive = node
	} else {
		dp := props.New().
			Set("file", h.Device).
			Set("if", "none").
			Set("format", "raw").
			Set("id", drive).
			True("readonly", h.ReadOnly)
		c.add("-drive", dp.Legacy())
	}

	p := props.Device("scsi-generic")
	c.scsiPlacement(p, ctrl, addr)
	p.Set("drive", drive).Set("id", alias)
	applyBoot(p, &h.Info)
	return c.addDevice(p)
}

func (c *SynthesisContext) buildBalloon() error {
	b := c.def.Memballoon
	if b == nil || b.Model == "none" {
		return nil
	}
	if b.Model != "virtio" {
		return unsupported("memory balloon model %q", b.Model)
	}
	if err := c.require(caps.DeviceVirtioBalloon, "virtio-balloon"); err != nil {
		return err
	}
	alias, err := c.alloc.DeviceAlias(&b.Info, "balloon", 0)
	if err != nil {
		return err
	}
	p, err := c.virtioDevice("virtio-balloon", b.VirtioModel, &b.Info)
	if err != nil {
		return err
	}
	p.Set("id", alias)
	if b.AutoDeflate != nil {
		if err := c.require(caps.BalloonDeflateOnOOM, "balloon deflate-on-oom"); err != nil {
			return err
		}
		p.Bool("deflate-on-oom", *b.AutoDeflate)
	}
	if b.FreePageReporting != nil {
		if err := c.require(caps.BalloonFreePageReporting, "balloon free page reporting"); err != nil {
			return err
		}
		p.Bool("free-page-reporting", *b.FreePageReporting)
	}
	return c.addDevice(p)
}

func (c *SynthesisContext) buildPanic(i int, pn *domain.Panic) error {
	switch pn.Model {
	case "hyperv", "s390", "pseries":
		// Provided by the CPU or the machine.
		return nil
	case "isa":
		if err := c.require(caps.DevicePVPanic, "pvpanic"); err != nil {
			return err
		}
		p := props.Device("pvpanic")
		if isa := pn.Info.Address.ISA; pn.Info.Address.Type == domain.AddressISA && isa != nil && isa.IOBase != 0 {
			p.Set("ioport", isa.IOBase)
		}
		return c.addDevice(p)
	case "pci":
		if err := c.require(caps.DevicePVPanicPCI, "pvpanic-pci"); err != nil {
			return err
		}
		alias, err := c.alloc.DeviceAlias(&pn.Info, "panic", uint(i))
		if err != nil {
			return err
		}
		p, err := c.device("pvpanic-pci", &pn.Info)
		if err != nil {
			return err
		}
		return c.addDevice(p.Set("id", alias))
	}
	return unsupported("panic model %q", pn.Model)
}
