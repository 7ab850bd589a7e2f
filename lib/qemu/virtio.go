package qemu

import (
	"github.com/onkernel/qsynth/lib/caps"
	"github.com/onkernel/qsynth/lib/domain"
	"github.com/onkernel/qsynth/lib/qemu/props"
)

// virtioDevice starts the property set of a virtio frontend. The concrete
// driver is base plus a transport suffix, with the transitional variant
// picked from model.
func (c *SynthesisContext) virtioDevice(base string, model domain.VirtioModel, info *domain.DeviceInfo) (*props.Props, error) {
	var p *props.Props

	switch c.transportOf(info) {
	case transportCCW:
		if model.Transitional() {
			return nil, invalid("%s model %s requires a PCI address", base, model)
		}
		p = props.Device(base + "-ccw")
	case transportMMIO:
		if model.Transitional() {
			return nil, invalid("%s model %s requires a PCI address", base, model)
		}
		p = props.Device(base + "-device")
	case transportOther:
		return nil, invalid("%s cannot be placed on a %s address", base, info.Address.Type)
	default:
		var err error
		if p, err = c.virtioPCIDevice(base, model); err != nil {
			return nil, err
		}
	}

	if err := c.applyAddress(p, info); err != nil {
		return nil, err
	}
	return p, nil
}

func (c *SynthesisContext) virtioPCIDevice(base string, model domain.VirtioModel) (*props.Props, error) {
	name := base + "-pci"
	if !model.Transitional() {
		return props.Device(name), nil
	}

	transitional := model == domain.VirtioModelTransitional
	switch {
	case c.has(caps.VirtioPCITransitional):
		if transitional {
			return props.Device(name + "-transitional"), nil
		}
		return props.Device(name + "-non-transitional"), nil
	case c.has(caps.VirtioPCIDisableLegacy):
		return props.Device(name).
			Bool("disable-legacy", !transitional).
			Bool("disable-modern", false), nil
	}
	return nil, unsupported("%s model %s needs either transitional device variants or disable-legacy", name, model)
}
