package qemu

import (
	"fmt"

	"github.com/onkernel/qsynth/lib/domain"
	"github.com/onkernel/qsynth/lib/qemu/props"
)

type transport int

const (
	transportPCI transport = iota
	transportCCW
	transportMMIO
	transportOther
)

// transportFor maps an address to the transport virtio devices use on it.
// Devices without an address get the machine's default transport.
func transportFor(def *domain.Guest, addr domain.Address) transport {
	switch addr.Type {
	case domain.AddressPCI:
		return transportPCI
	case domain.AddressCCW:
		return transportCCW
	case domain.AddressVirtioMMIO:
		return transportMMIO
	case domain.AddressNone:
		switch {
		case def.IsS390():
			return transportCCW
		case !def.HasPCI():
			return transportMMIO
		}
		return transportPCI
	}
	return transportOther
}

func (c *SynthesisContext) transportOf(info *domain.DeviceInfo) transport {
	return transportFor(c.def, info.Address)
}

// device starts a -device property set for driver placed at info's address.
func (c *SynthesisContext) device(driver string, info *domain.DeviceInfo) (*props.Props, error) {
	p := props.Device(driver)
	if err := c.applyAddress(p, info); err != nil {
		return nil, err
	}
	return p, nil
}

// applyAddress adds the bus placement properties of info to p.
func (c *SynthesisContext) applyAddress(p *props.Props, info *domain.DeviceInfo) error {
	addr := info.Address
	missing := func() error {
		return fmt.Errorf("%w: %w: %s address has no %s member", ErrInternalInconsistency, ErrAddressMissing, p.Head(), addr.Type)
	}

	switch addr.Type {
	case domain.AddressNone, domain.AddressVirtioMMIO, domain.AddressDrive:
		return nil

	case domain.AddressPCI:
		pci := addr.PCI
		if pci == nil {
			return missing()
		}
		if pci.Domain != 0 {
			return unsupported("PCI domain %d for %s; only domain 0 is available", pci.Domain, p.Head())
		}
		bus, err := c.alloc.ControllerAlias(domain.ControllerPCI, pci.Bus)
		if err != nil {
			return err
		}
		p.Set("bus", bus)
		if pci.Function != 0 {
			p.Set("addr", fmt.Sprintf("0x%x.0x%x", pci.Slot, pci.Function))
		} else {
			p.Set("addr", fmt.Sprintf("0x%x", pci.Slot))
		}
		p.True("multifunction", pci.Multifunction)
		p.Uint("acpi-index", uint64(info.ACPIIndex))

	case domain.AddressUSB:
		usb := addr.USB
		if usb == nil {
			return missing()
		}
		ctrl, err := c.alloc.ControllerAlias(domain.ControllerUSB, usb.Bus)
		if err != nil {
			return err
		}
		p.Set("bus", ctrl+".0")
		p.Str("port", usb.Port)

	case domain.AddressCCW:
		if addr.CCW == nil {
			return missing()
		}
		p.Set("devno", addr.CCW.String())

	case domain.AddressISA:
		if addr.ISA == nil {
			return missing()
		}
		if addr.ISA.IOBase != 0 {
			p.Set("iobase", fmt.Sprintf("0x%x", addr.ISA.IOBase))
		}
		p.Uint("irq", uint64(addr.ISA.IRQ))

	case domain.AddressVirtioSerial:
		vs := addr.VirtioSerial
		if vs == nil {
			return missing()
		}
		bus, err := c.virtioSerialBus(vs.Controller, vs.Bus)
		if err != nil {
			return err
		}
		p.Set("bus", bus)
		p.Uint("nr", uint64(vs.Port))

	case domain.AddressCCID:
		if addr.CCID == nil {
			return missing()
		}
		ctrl, err := c.alloc.ControllerAlias(domain.ControllerCCID, addr.CCID.Controller)
		if err != nil {
			return err
		}
		p.Set("bus", ctrl+".0")

	case domain.AddressDIMM:
		if addr.DIMM == nil {
			return missing()
		}
		p.Set("slot", addr.DIMM.Slot)
		if addr.DIMM.Base != 0 {
			p.Set("addr", addr.DIMM.Base)
		}

	default:
		return inconsistent("unknown address type %q", addr.Type)
	}
	return nil
}

func (c *SynthesisContext) virtioSerialBus(controller, bus uint) (string, error) {
	ctrl, err := c.alloc.ControllerAlias(domain.ControllerVirtioSerial, controller)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s.%d", ctrl, bus), nil
}

// applyBoot adds the boot index and option ROM settings of info.
func applyBoot(p *props.Props, info *domain.DeviceInfo) {
	p.Uint("bootindex", uint64(info.BootIndex))
	if info.ROM == nil {
		return
	}
	if info.ROM.Enabled != nil && !*info.ROM.Enabled {
		p.Set("romfile", "")
		return
	}
	if info.ROM.Bar != nil {
		p.Set("rombar", boolToInt(*info.ROM.Bar))
	}
	p.Str("romfile", info.ROM.File)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
