package qemu

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/onkernel/qsynth/lib/caps"
	"github.com/onkernel/qsynth/lib/domain"
	"github.com/onkernel/qsynth/lib/qemu/props"
)

// controllerOrder is the emission order by type. PCI buses come first so
// every later device can reference them.
var controllerOrder = map[domain.ControllerType]int{
	domain.ControllerPCI:          0,
	domain.ControllerUSB:          1,
	domain.ControllerSCSI:         2,
	domain.ControllerSATA:         3,
	domain.ControllerVirtioSerial: 4,
	domain.ControllerCCID:         5,
	domain.ControllerIDE:          6,
	domain.ControllerFDC:          7,
}

func sortedControllers(ctrls []domain.Controller) []*domain.Controller {
	out := make([]*domain.Controller, len(ctrls))
	for i := range ctrls {
		out[i] = &ctrls[i]
	}
	slices.SortStableFunc(out, func(a, b *domain.Controller) int {
		if n := cmp.Compare(controllerOrder[a.Type], controllerOrder[b.Type]); n != 0 {
			return n
		}
		return cmp.Compare(a.Index, b.Index)
	})
	return out
}

type modelDevice struct {
	driver string
	flag   caps.Flag
}

var usbModels = map[string]modelDevice{
	domain.USBModelPIIX3UHCI: {"piix3-usb-uhci", caps.DevicePIIX3UHCI},
	domain.USBModelPIIX4UHCI: {"piix4-usb-uhci", caps.DevicePIIX4UHCI},
	domain.USBModelEHCI:      {"usb-ehci", caps.DeviceUSBEHCI},
	domain.USBModelICH9EHCI1: {"ich9-usb-ehci1", caps.DeviceICH9EHCI1},
	domain.USBModelICH9UHCI1: {"ich9-usb-uhci1", caps.DeviceICH9UHCI},
	domain.USBModelICH9UHCI2: {"ich9-usb-uhci2", caps.DeviceICH9UHCI},
	domain.USBModelICH9UHCI3: {"ich9-usb-uhci3", caps.DeviceICH9UHCI},
	domain.USBModelVT82C686B: {"vt82c686b-usb-uhci", caps.DeviceVT82C686BUHCI},
	domain.USBModelPCIOHCI:   {"pci-ohci", caps.DevicePCIOHCI},
	domain.USBModelNECXHCI:   {"nec-usb-xhci", caps.DeviceNECXHCI},
	domain.USBModelQemuXHCI:  {"qemu-xhci", caps.DeviceQemuXHCI},
}

var scsiModels = map[string]modelDevice{
	domain.SCSIModelLSILogic:   {"lsi", caps.DeviceLSI},
	domain.SCSIModelLSISAS1068: {"mptsas1068", caps.DeviceMPTSAS1068},
	domain.SCSIModelLSISAS1078: {"megasas", caps.DeviceMegaSAS},
	domain.SCSIModelVMPVSCSI:   {"pvscsi", caps.DevicePVSCSI},
	domain.SCSIModelIBMVSCSI:   {"spapr-vscsi", caps.DeviceSpaprVSCSI},
}

var pciModels = map[string]modelDevice{
	domain.PCIModelBridge:           {"pci-bridge", caps.DevicePCIBridge},
	domain.PCIModelDMIToPCIBridge:   {"i82801b11-bridge", caps.DeviceDMIToPCIBridge},
	domain.PCIModelRootPort:         {"pcie-root-port", caps.DevicePCIeRootPort},
	domain.PCIModelSwitchUpstream:   {"x3130-upstream", caps.DeviceX3130Upstream},
	domain.PCIModelSwitchDownstream: {"xio3130-downstream", caps.DeviceXIO3130Downstream},
	domain.PCIModelExpanderBus:      {"pxb", caps.DevicePXB},
	domain.PCIModelExpressExpander:  {"pxb-pcie", caps.DevicePXBPCIe},
	domain.PCIModelExpressToPCI:     {"pcie-pci-bridge", caps.DevicePCIePCIBridge},
}

func (c *SynthesisContext) buildController(ctrl *domain.Controller) error {
	if c.alloc.IsImplicit(ctrl.Type, ctrl.Index) {
		return nil
	}
	alias, err := c.alloc.ControllerAlias(ctrl.Type, ctrl.Index)
	if err != nil {
		return err
	}

	switch ctrl.Type {
	case domain.ControllerPCI:
		return c.buildPCIController(alias, ctrl)
	case domain.ControllerUSB:
		return c.buildUSBController(alias, ctrl)
	case domain.ControllerSCSI:
		return c.buildSCSIController(alias, ctrl)
	case domain.ControllerSATA:
		if err := c.require(caps.DeviceAHCI, "SATA controllers"); err != nil {
			return err
		}
		p, err := c.device("ahci", &ctrl.Info)
		if err != nil {
			return err
		}
		return c.addDevice(p.Set("id", alias))
	case domain.ControllerVirtioSerial:
		if err := c.require(caps.DeviceVirtioSerial, "virtio-serial"); err != nil {
			return err
		}
		p, err := c.virtioDevice("virtio-serial", virtioControllerModel(ctrl.Model), &ctrl.Info)
		if err != nil {
			return err
		}
		p.Set("id", alias).Uint("max_ports", uint64(ctrl.Ports)).Uint("vectors", uint64(ctrl.Vectors))
		return c.addDevice(p)
	case domain.ControllerCCID:
		if err := c.require(caps.DeviceUSBCCID, "CCID controllers"); err != nil {
			return err
		}
		p, err := c.device("usb-ccid", &ctrl.Info)
		if err != nil {
			return err
		}
		return c.addDevice(p.Set("id", alias))
	}
	return unsupported("%s controller %d on machine %s", ctrl.Type, ctrl.Index, c.def.Machine)
}

func virtioControllerModel(model string) domain.VirtioModel {
	switch model {
	case string(domain.VirtioModelTransitional):
		return domain.VirtioModelTransitional
	case string(domain.VirtioModelNonTransitional):
		return domain.VirtioModelNonTransitional
	}
	return domain.VirtioModelDefault
}

func (c *SynthesisContext) buildPCIController(alias string, ctrl *domain.Controller) error {
	switch ctrl.Model {
	case domain.PCIModelRoot, domain.PCIModelExpressRoot:
		if c.def.IsPSeries() && ctrl.Model == domain.PCIModelRoot {
			p := props.Device("spapr-pci-host-bridge").Set("index", ctrl.Index).Set("id", alias)
			return c.addDevice(p)
		}
		return unsupported("additional %s controller %d", ctrl.Model, ctrl.Index)
	}

	m, ok := pciModels[ctrl.Model]
	if !ok {
		return unsupported("PCI controller model %q", ctrl.Model)
	}
	if ctrl.Model == domain.PCIModelRootPort && !c.has(m.flag) {
		m = modelDevice{"ioh3420", caps.DeviceIOH3420}
	}
	if err := c.require(m.flag, m.driver); err != nil {
		return err
	}

	p, err := c.device(m.driver, &ctrl.Info)
	if err != nil {
		return err
	}
	switch ctrl.Model {
	case domain.PCIModelBridge:
		chassis := ctrl.Index
		if ctrl.Chassis != nil {
			chassis = *ctrl.Chassis
		}
		p.Set("chassis_nr", chassis)
	case domain.PCIModelRootPort, domain.PCIModelSwitchDownstream:
		if ctrl.Port == nil {
			return invalid("%s controller %d has no port", ctrl.Model, ctrl.Index)
		}
		chassis := ctrl.Index
		if ctrl.Chassis != nil {
			chassis = *ctrl.Chassis
		}
		p.Set("port", fmt.Sprintf("0x%x", *ctrl.Port)).Set("chassis", chassis)
		if ctrl.Hotplug != nil {
			p.Bool("hotplug", *ctrl.Hotplug)
		}
	case domain.PCIModelExpanderBus, domain.PCIModelExpressExpander:
		p.Set("bus_nr", ctrl.BusNr)
		if ctrl.NUMANode != nil {
			p.Set("numa_node", *ctrl.NUMANode)
		}
	}
	p.Set("id", alias)
	return c.addDevice(p)
}

func (c *SynthesisContext) buildUSBController(alias string, ctrl *domain.Controller) error {
	switch ctrl.Model {
	case domain.USBModelNone:
		return nil
	case domain.USBModelDefault:
		return c.legacyUSBController(ctrl)
	}

	m, ok := usbModels[ctrl.Model]
	if !ok {
		return unsupported("USB controller model %q", ctrl.Model)
	}
	if err := c.require(m.flag, m.driver); err != nil {
		return err
	}
	p, err := c.device(m.driver, &ctrl.Info)
	if err != nil {
		return err
	}

	if ctrl.MasterStartPort != nil {
		p.Set("masterbus", alias+".0").Set("firstport", *ctrl.MasterStartPort)
	} else {
		p.Set("id", alias)
	}
	if ctrl.USBPorts > 0 {
		switch ctrl.Model {
		case domain.USBModelNECXHCI, domain.USBModelQemuXHCI:
			p.Set("p2", ctrl.USBPorts).Set("p3", ctrl.USBPorts)
		default:
			return unsupported("setting the port count of USB model %s", ctrl.Model)
		}
	}
	c.usbEmitted = true
	return c.addDevice(p)
}

// legacyUSBController handles a USB controller without a model. Machines
// that need an explicit model reject it and s390 ignores it; elsewhere a
// single one is allowed and becomes -usb after the controller stage.
func (c *SynthesisContext) legacyUSBController(ctrl *domain.Controller) error {
	switch {
	case c.def.IsQ35(), c.def.IsARMVirt(), c.def.IsRISCVVirt():
		return unsupported("USB controller %d needs an explicit model on machine %s", ctrl.Index, c.def.Machine)
	case c.def.IsS390():
		return nil
	}
	c.legacyUSB++
	if c.legacyUSB > 1 {
		return unsupported("multiple legacy USB controllers")
	}
	return nil
}

func (c *SynthesisContext) buildSCSIController(alias string, ctrl *domain.Controller) error {
	model := c.scsiModel(ctrl)
	var p *props.Props
	var err error

	switch model {
	case domain.SCSIModelVirtio, domain.SCSIModelVirtioTransitional, domain.SCSIModelVirtioNonTransitional:
		if err := c.require(caps.DeviceVirtioSCSI, "virtio-scsi"); err != nil {
			return err
		}
		if p, err = c.virtioDevice("virtio-scsi", virtioControllerModel(model), &ctrl.Info); err != nil {
			return err
		}
		p.Set("id", alias).
			Uint("num_queues", uint64(ctrl.Queues)).
			Uint("cmd_per_lun", uint64(ctrl.CmdPerLun)).
			Uint("max_sectors", uint64(ctrl.MaxSectors)).
			Switch("ioeventfd", ctrl.IOEventFD)
		if ctrl.IOThread > 0 {
			p.Set("iothread", fmt.Sprintf("iothread%d", ctrl.IOThread))
		}
		return c.addDevice(p)
	}

	m, ok := scsiModels[model]
	if !ok {
		return unsupported("SCSI controller model %q", model)
	}
	if err := c.require(m.flag, m.driver); err != nil {
		return err
	}
	if p, err = c.device(m.driver, &ctrl.Info); err != nil {
		return err
	}
	return c.addDevice(p.Set("id", alias))
}

// finishUSB appends the catch-all legacy controller when one was requested
// and nothing else provides USB.
func (c *SynthesisContext) finishUSB() {
	if c.legacyUSB == 1 && !c.usbEmitted {
		c.addFlag("-usb")
	}
}
