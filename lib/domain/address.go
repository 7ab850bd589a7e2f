package domain

import "fmt"

// AddressType identifies which bus an Address lives on.
type AddressType string

const (
	AddressNone         AddressType = ""
	AddressPCI          AddressType = "pci"
	AddressDrive        AddressType = "drive"
	AddressVirtioSerial AddressType = "virtio-serial"
	AddressCCID         AddressType = "ccid"
	AddressUSB          AddressType = "usb"
	AddressCCW          AddressType = "ccw"
	AddressVirtioMMIO   AddressType = "virtio-mmio"
	AddressISA          AddressType = "isa"
	AddressDIMM         AddressType = "dimm"
)

// Address is a tagged union over bus kinds. Only the member matching Type is
// meaningful.
type Address struct {
	Type         AddressType          `json:"type,omitempty"`
	PCI          *PCIAddress          `json:"pci,omitempty"`
	Drive        *DriveAddress        `json:"drive,omitempty"`
	VirtioSerial *VirtioSerialAddress `json:"virtioSerial,omitempty"`
	CCID         *CCIDAddress         `json:"ccid,omitempty"`
	USB          *USBAddress          `json:"usb,omitempty"`
	CCW          *CCWAddress          `json:"ccw,omitempty"`
	ISA          *ISAAddress          `json:"isa,omitempty"`
	DIMM         *DIMMAddress         `json:"dimm,omitempty"`
}

// PCIAddress is domain:bus:slot.function.
type PCIAddress struct {
	Domain        uint `json:"domain,omitempty"`
	Bus           uint `json:"bus"`
	Slot          uint `json:"slot"`
	Function      uint `json:"function,omitempty"`
	Multifunction bool `json:"multifunction,omitempty"`
}

func (a PCIAddress) String() string {
	return fmt.Sprintf("%04x:%02x:%02x.%x", a.Domain, a.Bus, a.Slot, a.Function)
}

// DriveAddress places a disk on an IDE, SATA, SCSI or floppy controller.
type DriveAddress struct {
	Controller uint `json:"controller"`
	Bus        uint `json:"bus"`
	Target     uint `json:"target,omitempty"`
	Unit       uint `json:"unit"`
}

// VirtioSerialAddress places a port on a virtio-serial controller.
type VirtioSerialAddress struct {
	Controller uint `json:"controller"`
	Bus        uint `json:"bus"`
	Port       uint `json:"port,omitempty"`
}

// CCIDAddress places a smartcard on a CCID controller slot.
type CCIDAddress struct {
	Controller uint `json:"controller"`
	Slot       uint `json:"slot"`
}

// USBAddress is a controller bus plus a dotted port path ("1", "1.2").
type USBAddress struct {
	Bus  uint   `json:"bus"`
	Port string `json:"port,omitempty"`
}

// CCWAddress is cssid.ssid.devno on s390.
type CCWAddress struct {
	CSSID uint `json:"cssid"`
	SSID  uint `json:"ssid"`
	DevNo uint `json:"devno"`
}

func (a CCWAddress) String() string {
	return fmt.Sprintf("%x.%x.%04x", a.CSSID, a.SSID, a.DevNo)
}

// ISAAddress is an I/O port base and IRQ.
type ISAAddress struct {
	IOBase uint `json:"iobase,omitempty"`
	IRQ    uint `json:"irq,omitempty"`
}

// DIMMAddress is a memory slot plus an optional guest physical base.
type DIMMAddress struct {
	Slot uint   `json:"slot"`
	Base uint64 `json:"base,omitempty"`
}

// DeviceInfo carries the identity shared by all devices.
type DeviceInfo struct {
	Alias     string  `json:"alias,omitempty"`
	Address   Address `json:"address,omitempty"`
	BootIndex uint    `json:"bootIndex,omitempty"`
	ACPIIndex uint    `json:"acpiIndex,omitempty"`
	ROM       *ROM    `json:"rom,omitempty"`
}

// ROM controls the option ROM of a PCI device.
type ROM struct {
	Bar     *bool  `json:"bar,omitempty"`
	File    string `json:"file,omitempty"`
	Enabled *bool  `json:"enabled,omitempty"`
}

// UserAliasPrefix marks aliases chosen by the user rather than generated.
const UserAliasPrefix = "ua-"
