package qemu

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/onkernel/qsynth/lib/caps"
	"github.com/onkernel/qsynth/lib/domain"
	"github.com/onkernel/qsynth/lib/qemu/props"
	"github.com/samber/lo"
)

const defaultNSSDatabase = "/etc/pki/nssdb"

func (c *SynthesisContext) buildSmartcard(i int, sc *domain.Smartcard) error {
	alias, err := c.alloc.DeviceAlias(&sc.Info, "smartcard", uint(i))
	if err != nil {
		return err
	}

	var p *props.Props
	switch sc.Mode {
	case domain.SmartcardHost:
		if err := c.require(caps.DeviceCCIDEmulated, "ccid-card-emulated"); err != nil {
			return err
		}
		p = props.Device("ccid-card-emulated").Set("backend", "nss-emulated")
	case domain.SmartcardCertificates:
		if err := c.require(caps.DeviceCCIDEmulated, "ccid-card-emulated"); err != nil {
			return err
		}
		p = props.Device("ccid-card-emulated").Set("backend", "certificates")
		for n, cert := range sc.Certificates {
			p.Set(fmt.Sprintf("cert%d", n+1), cert)
		}
		p.Set("db", lo.CoalesceOrEmpty(sc.Database, defaultNSSDatabase))
	case domain.SmartcardPassthrough:
		if err := c.require(caps.DeviceCCIDPassthru, "ccid-card-passthru"); err != nil {
			return err
		}
		src := domain.ChardevSource{Type: domain.ChardevSpiceVMC, Channel: "smartcard"}
		if sc.Source != nil {
			src = *sc.Source
		}
		if err := c.chardevBackend(chardevID(alias), &src); err != nil {
			return err
		}
		p = props.Device("ccid-card-passthru").Set("chardev", chardevID(alias))
	default:
		return unsupported("smartcard mode %q", sc.Mode)
	}

	p.Set("id", alias)
	if sc.Info.Address.Type == domain.AddressCCID {
		if err := c.applyAddress(p, &sc.Info); err != nil {
			return err
		}
	} else {
		ctrl, err := c.alloc.ControllerAlias(domain.ControllerCCID, 0)
		if err != nil {
			return err
		}
		p.Set("bus", ctrl+".0")
	}
	return c.addDevice(p)
}

func (c *SynthesisContext) defaultSerialTarget() domain.ChardevTargetType {
	switch {
	case c.def.IsX86():
		return domain.SerialISA
	case c.def.IsPSeries():
		return domain.SerialSpaprVIO
	case c.def.IsS390():
		return domain.SerialSCLP
	}
	return domain.SerialSystem
}

var serialDevices = map[domain.ChardevTargetType]struct {
	driver string
	flag   caps.Flag
}{
	domain.SerialISA:      {"isa-serial", caps.DeviceISASerial},
	domain.SerialUSB:      {"usb-serial", caps.DeviceUSBSerial},
	domain.SerialPCI:      {"pci-serial", caps.DevicePCISerial},
	domain.SerialSCLP:     {"sclpconsole", caps.DeviceSCLPConsole},
	domain.SerialSpaprVIO: {"spapr-vty", ""},
}

func (c *SynthesisContext) buildSerial(i int, s *domain.Chardev) error {
	alias, err := c.alloc.DeviceAlias(&s.Info, "serial", uint(i))
	if err != nil {
		return err
	}
	chr := chardevID(alias)
	if err := c.chardevBackend(chr, &s.Source); err != nil {
		return err
	}

	target := s.TargetType
	if target == "" {
		target = c.defaultSerialTarget()
	}
	if target == domain.SerialSystem {
		c.add("-serial", "chardev:"+chr)
		return nil
	}

	kind, ok := serialDevices[target]
	if !ok {
		return unsupported("serial target %q", target)
	}
	if kind.flag != "" {
		if err := c.require(kind.flag, kind.driver); err != nil {
			return err
		}
	}
	p, err := c.device(kind.driver, &s.Info)
	if err != nil {
		return err
	}
	p.Set("chardev", chr).Set("id", alias)
	switch target {
	case domain.SerialISA:
		p.Set("index", s.TargetPort)
	case domain.SerialSpaprVIO:
		p.Set("reg", fmt.Sprintf("0x%x", 0x30000000+s.TargetPort*0x1000))
	}
	return c.addDevice(p)
}

func (c *SynthesisContext) buildParallel(i int, pp *domain.Chardev) error {
	if !c.def.IsX86() {
		return unsupported("parallel ports on %s", c.def.Arch)
	}
	alias, err := c.alloc.DeviceAlias(&pp.Info, "parallel", uint(i))
	if err != nil {
		return err
	}
	if err := c.chardevBackend(chardevID(alias), &pp.Source); err != nil {
		return err
	}
	p, err := c.device("isa-parallel", &pp.Info)
	if err != nil {
		return err
	}
	p.Set("chardev", chardevID(alias)).Set("id", alias)
	return c.addDevice(p)
}

// virtioPort emits a port device on a virtio-serial bus, controller 0 bus 0
// unless the device carries its own address.
func (c *SynthesisContext) virtioPort(driver, alias string, info *domain.DeviceInfo, name string) error {
	p := props.Device(driver)
	if info.Address.Type == domain.AddressVirtioSerial {
		if err := c.applyAddress(p, info); err != nil {
			return err
		}
	} else {
		bus, err := c.virtioSerialBus(0, 0)
		if err != nil {
			return err
		}
		p.Set("bus", bus)
	}
	p.Set("chardev", chardevID(alias)).Set("id", alias).Str("name", name)
	return c.addDevice(p)
}

func (c *SynthesisContext) buildChannel(i int, ch *domain.Chardev) error {
	alias, err := c.alloc.DeviceAlias(&ch.Info, "channel", uint(i))
	if err != nil {
		return err
	}
	chr := chardevID(alias)
	src := ch.Source

	switch ch.TargetType {
	case domain.ChannelGuestFwd:
		if err := c.chardevBackend(chr, &src); err != nil {
			return err
		}
		p := props.WithHead("type", "user").
			Set("guestfwd", fmt.Sprintf("tcp:%s:%d-chardev:%s", ch.GuestFwdAddr, ch.GuestFwdPort, chr)).
			Set("id", alias)
		c.add("-netdev", p.Legacy())
		return nil

	case domain.ChannelVirtio, "":
		if src.Type == domain.ChardevUnix && src.Path == "" {
			if c.env.ChannelDir == "" || ch.TargetName == "" {
				return invalid("channel %s has no socket path", alias)
			}
			src.Path = filepath.Join(c.env.ChannelDir, ch.TargetName)
		}
		name := ch.TargetName
		if name == "" && src.Type == domain.ChardevSpiceVMC {
			name = "com.redhat.spice.0"
		}
		if err := c.chardevBackend(chr, &src); err != nil {
			return err
		}
		return c.virtioPort("virtserialport", alias, &ch.Info, name)
	}
	return unsupported("channel target %q", ch.TargetType)
}

func (c *SynthesisContext) buildConsole(i int, con *domain.Chardev) error {
	target := con.TargetType
	if target == "" || target == domain.ConsoleSerial {
		// The first serial console is the first serial port.
		if i == 0 && len(c.def.Serials) > 0 {
			return nil
		}
		return invalid("serial console %d has no matching serial port", i)
	}

	alias, err := c.alloc.DeviceAlias(&con.Info, "console", uint(i))
	if err != nil {
		return err
	}
	if err := c.chardevBackend(chardevID(alias), &con.Source); err != nil {
		return err
	}

	var driver string
	switch target {
	case domain.ConsoleVirtio:
		return c.virtioPort("virtconsole", alias, &con.Info, "")
	case domain.ConsoleSCLP:
		driver = "sclpconsole"
		if err := c.require(caps.DeviceSCLPConsole, driver); err != nil {
			return err
		}
	case domain.ConsoleSCLPLM:
		driver = "sclplmconsole"
		if err := c.require(caps.DeviceSCLPLMConsole, driver); err != nil {
			return err
		}
	default:
		return unsupported("console target %q", target)
	}
	p := props.Device(driver).Set("chardev", chardevID(alias)).Set("id", alias)
	return c.addDevice(p)
}

var tpmModels = map[domain.TPMModel]caps.Flag{
	domain.TPMTIS:       caps.DeviceTPMTIS,
	domain.TPMCRB:       caps.DeviceTPMCRB,
	domain.TPMSpapr:     caps.DeviceTPMSpapr,
	domain.TPMTISDevice: caps.DeviceTPMTISDevice,
}

func (c *SynthesisContext) defaultTPMModel() domain.TPMModel {
	switch {
	case c.def.IsPSeries():
		return domain.TPMSpapr
	case c.def.IsARMVirt():
		return domain.TPMTISDevice
	}
	return domain.TPMTIS
}

func (c *SynthesisContext) buildTPM(i int, t *domain.TPM) error {
	alias, err := c.alloc.DeviceAlias(&t.Info, "tpm", uint(i))
	if err != nil {
		return err
	}
	backendID := "tpm-" + alias

	model := t.Model
	if model == "" {
		model = c.defaultTPMModel()
	}
	flag, ok := tpmModels[model]
	if !ok {
		return unsupported("TPM model %q", model)
	}
	if err := c.require(flag, string(model)); err != nil {
		return err
	}

	var backend *props.Props
	switch t.Backend {
	case domain.TPMBackendPassthrough:
		if err := c.require(caps.TPMPassthrough, "TPM passthrough"); err != nil {
			return err
		}
		dev := lo.CoalesceOrEmpty(t.Device, "/dev/tpm0")
		cancel := t.CancelPath
		if cancel == "" {
			cancel = filepath.Join("/sys/class/tpm", filepath.Base(dev), "device/cancel")
		}
		fd, err := c.openDevice(dev, os.O_RDWR)
		if err != nil {
			return err
		}
		cancelFD, err := c.openDevice(cancel, os.O_WRONLY)
		if err != nil {
			return err
		}
		backend = props.WithHead("type", "passthrough").
			Set("id", backendID).
			Set("path", c.addFDSet(fd, dev)).
			Set("cancel-path", c.addFDSet(cancelFD, cancel))

	case domain.TPMBackendEmulator, domain.TPMBackendExternal:
		if err := c.require(caps.TPMEmulator, "TPM emulator"); err != nil {
			return err
		}
		if t.Socket == "" {
			return invalid("TPM %s backend has no socket", t.Backend)
		}
		chr := "chr" + alias
		if err := c.chardevBackend(chr, &domain.ChardevSource{Type: domain.ChardevUnix, Path: t.Socket}); err != nil {
			return err
		}
		backend = props.WithHead("type", "emulator").Set("id", backendID).Set("chardev", chr)

	default:
		return unsupported("TPM backend %q", t.Backend)
	}
	c.add("-tpmdev", backend.Legacy())

	p, err := c.device(string(model), &t.Info)
	if err != nil {
		return err
	}
	p.Set("tpmdev", backendID).Set("id", alias)
	return c.addDevice(p)
}

// rngBackend emits the RNG backend object. A builtin backend on a target
// without rng-builtin falls back to rng-random on /dev/urandom.
func (c *SynthesisContext) rngBackend(id, alias string, r *domain.RNG) error {
	random := func(path string) *props.Props {
		return props.Object("rng-random", id).Set("filename", lo.CoalesceOrEmpty(path, "/dev/urandom"))
	}

	var obj *props.Props
	switch r.Backend {
	case domain.RNGRandom:
		if err := c.require(caps.ObjectRNGRandom, "rng-random"); err != nil {
			return err
		}
		obj = random(r.Path)
	case domain.RNGEGD:
		if err := c.require(caps.ObjectRNGEGD, "rng-egd"); err != nil {
			return err
		}
		if r.Source == nil {
			return invalid("egd RNG %s has no source", alias)
		}
		if err := c.chardevBackend(chardevID(alias), r.Source); err != nil {
			return err
		}
		obj = props.Object("rng-egd", id).Set("chardev", chardevID(alias))
	case domain.RNGBuiltin:
		switch {
		case c.has(caps.ObjectRNGBuiltin):
			obj = props.Object("rng-builtin", id)
		case c.has(caps.ObjectRNGRandom):
			obj = random("")
		default:
			return unsupported("builtin RNG backend (neither rng-builtin nor rng-random is available)")
		}
	default:
		return unsupported("RNG backend %q", r.Backend)
	}
	return c.addObject(obj)
}

func (c *SynthesisContext) buildRNG(i int, r *domain.RNG) error {
	if err := c.require(caps.DeviceVirtioRNG, "virtio-rng"); err != nil {
		return err
	}
	alias, err := c.alloc.DeviceAlias(&r.Info, "rng", uint(i))
	if err != nil {
		return err
	}
	objID := "obj" + alias
	if err := c.rngBackend(objID, alias, r); err != nil {
		return err
	}

	p, err := c.virtioDevice("virtio-rng", r.Model, &r.Info)
	if err != nil {
		return err
	}
	p.Set("rng", objID).Set("id", alias)
	if r.Bytes > 0 {
		p.Set("max-bytes", r.Bytes)
		p.Set("period", lo.CoalesceOrEmpty(r.Period, 1000))
	}
	return c.addDevice(p)
}

func (c *SynthesisContext) buildRedirdev(i int, r *domain.Redirdev) error {
	if err := c.require(caps.DeviceUSBRedir, "usb-redir"); err != nil {
		return err
	}
	alias, err := c.alloc.DeviceAlias(&r.Info, "redir", uint(i))
	if err != nil {
		return err
	}
	src := r.Source
	if src.Type == domain.ChardevSpiceVMC && src.Channel == "" {
		src.Channel = "usbredir"
	}
	if err := c.chardevBackend(chardevID(alias), &src); err != nil {
		return err
	}
	p, err := c.device("usb-redir", &r.Info)
	if err != nil {
		return err
	}
	p.Set("chardev", chardevID(alias)).Set("id", alias)
	return c.addDevice(p)
}

const defaultShmemSize = domain.KiB(4 * 1024)

func (c *SynthesisContext) buildShmem(i int, s *domain.Shmem) error {
	alias, err := c.alloc.DeviceAlias(&s.Info, "shmem", uint(i))
	if err != nil {
		return err
	}

	switch s.Model {
	case domain.ShmemPlain, "":
		if err := c.require(caps.DeviceIVShmemPlain, "ivshmem-plain"); err != nil {
			return err
		}
		if err := c.require(caps.ObjectMemoryFile, "file memory backend"); err != nil {
			return err
		}
		memID := "shmmem-" + alias
		size := s.Size
		if size == 0 {
			size = defaultShmemSize
		}
		obj := props.Object("memory-backend-file", memID).
			Set("mem-path", filepath.Join("/dev/shm", s.Name)).
			Set("size", size.Bytes()).
			Bool("share", true)
		if err := c.addObject(obj); err != nil {
			return err
		}
		p, err := c.device("ivshmem-plain", &s.Info)
		if err != nil {
			return err
		}
		p.Set("id", alias).Set("memdev", memID)
		return c.addDevice(p)

	case domain.ShmemDoorbell:
		if err := c.require(caps.DeviceIVShmemDoorbell, "ivshmem-doorbell"); err != nil {
			return err
		}
		src := domain.ChardevSource{Type: domain.ChardevUnix}
		if s.Server != nil {
			src = *s.Server
		}
		if src.Path == "" {
			dir := lo.CoalesceOrEmpty(c.env.ShmemDir, "/var/lib/qsynth/shmem")
			src.Path = filepath.Join(dir, s.Name+"-sock")
		}
		if err := c.chardevBackend(chardevID(alias), &src); err != nil {
			return err
		}
		p, err := c.device("ivshmem-doorbell", &s.Info)
		if err != nil {
			return err
		}
		p.Set("id", alias).
			Set("chardev", chardevID(alias)).
			Uint("vectors", uint64(s.Vectors)).
			Switch("ioeventfd", s.IOEventFD)
		return c.addDevice(p)
	}
	return unsupported("shmem model %q", s.Model)
}
