package domain

import "fmt"

// ControllerType is the bus a controller provides.
type ControllerType string

const (
	ControllerIDE          ControllerType = "ide"
	ControllerFDC          ControllerType = "fdc"
	ControllerSCSI         ControllerType = "scsi"
	ControllerSATA         ControllerType = "sata"
	ControllerVirtioSerial ControllerType = "virtio-serial"
	ControllerCCID         ControllerType = "ccid"
	ControllerUSB          ControllerType = "usb"
	ControllerPCI          ControllerType = "pci"
)

// Controller models. Empty means "no model chosen".
const (
	PCIModelRoot             = "pci-root"
	PCIModelExpressRoot      = "pcie-root"
	PCIModelBridge           = "pci-bridge"
	PCIModelDMIToPCIBridge   = "dmi-to-pci-bridge"
	PCIModelRootPort         = "pcie-root-port"
	PCIModelSwitchUpstream   = "pcie-switch-upstream-port"
	PCIModelSwitchDownstream = "pcie-switch-downstream-port"
	PCIModelExpanderBus      = "pci-expander-bus"
	PCIModelExpressExpander  = "pcie-expander-bus"
	PCIModelExpressToPCI     = "pcie-to-pci-bridge"

	SCSIModelAuto                  = ""
	SCSIModelLSILogic              = "lsilogic"
	SCSIModelLSISAS1068            = "lsisas1068"
	SCSIModelLSISAS1078            = "lsisas1078"
	SCSIModelVirtio                = "virtio-scsi"
	SCSIModelVirtioTransitional    = "virtio-transitional"
	SCSIModelVirtioNonTransitional = "virtio-non-transitional"
	SCSIModelVMPVSCSI              = "vmpvscsi"
	SCSIModelIBMVSCSI              = "ibmvscsi"

	USBModelDefault   = ""
	USBModelNone      = "none"
	USBModelPIIX3UHCI = "piix3-uhci"
	USBModelPIIX4UHCI = "piix4-uhci"
	USBModelEHCI      = "ehci"
	USBModelICH9EHCI1 = "ich9-ehci1"
	USBModelICH9UHCI1 = "ich9-uhci1"
	USBModelICH9UHCI2 = "ich9-uhci2"
	USBModelICH9UHCI3 = "ich9-uhci3"
	USBModelVT82C686B = "vt82c686b-uhci"
	USBModelPCIOHCI   = "pci-ohci"
	USBModelNECXHCI   = "nec-xhci"
	USBModelQemuXHCI  = "qemu-xhci"

	VirtioSerialModelVirtio          = "virtio"
	VirtioSerialModelTransitional    = "virtio-transitional"
	VirtioSerialModelNonTransitional = "virtio-non-transitional"
)

// Controller is a bus controller.
type Controller struct {
	Type  ControllerType `json:"type"`
	Index uint           `json:"index"`
	Model string         `json:"model,omitempty"`
	Info  DeviceInfo     `json:"info,omitempty"`

	// virtio-scsi / virtio-serial
	Queues     uint  `json:"queues,omitempty"`
	IOThread   uint  `json:"iothread,omitempty"`
	CmdPerLun  uint  `json:"cmdPerLun,omitempty"`
	MaxSectors uint  `json:"maxSectors,omitempty"`
	IOEventFD  *bool `json:"ioeventfd,omitempty"`
	Ports      uint  `json:"ports,omitempty"`
	Vectors    uint  `json:"vectors,omitempty"`

	// USB companion controllers
	MasterStartPort *uint `json:"masterStartPort,omitempty"`
	USBPorts        uint  `json:"usbPorts,omitempty"`

	// PCI
	Chassis  *uint `json:"chassis,omitempty"`
	Port     *uint `json:"port,omitempty"`
	BusNr    uint  `json:"busNr,omitempty"`
	Target   *uint `json:"target,omitempty"`
	NUMANode *uint `json:"numaNode,omitempty"`
	Hotplug  *bool `json:"hotplug,omitempty"`
}

// DiskDevice is what the guest sees.
type DiskDevice string

const (
	DiskDeviceDisk   DiskDevice = "disk"
	DiskDeviceCDROM  DiskDevice = "cdrom"
	DiskDeviceFloppy DiskDevice = "floppy"
	DiskDeviceLUN    DiskDevice = "lun"
)

// DiskBus is the guest bus a disk attaches to.
type DiskBus string

const (
	DiskBusIDE    DiskBus = "ide"
	DiskBusSATA   DiskBus = "sata"
	DiskBusSCSI   DiskBus = "scsi"
	DiskBusVirtio DiskBus = "virtio"
	DiskBusUSB    DiskBus = "usb"
	DiskBusFDC    DiskBus = "fdc"
)

// VirtioModel selects the virtio transport variant of a device.
type VirtioModel string

const (
	VirtioModelDefault         VirtioModel = ""
	VirtioModelVirtio          VirtioModel = "virtio"
	VirtioModelTransitional    VirtioModel = "virtio-transitional"
	VirtioModelNonTransitional VirtioModel = "virtio-non-transitional"
)

// Transitional reports whether the model requests a specific transitional mode.
func (m VirtioModel) Transitional() bool {
	return m == VirtioModelTransitional || m == VirtioModelNonTransitional
}

// SourceType is where disk data lives.
type SourceType string

const (
	SourceFile    SourceType = "file"
	SourceBlock   SourceType = "block"
	SourceNetwork SourceType = "network"
)

// Protocol is a network disk protocol.
type Protocol string

const (
	ProtocolNBD   Protocol = "nbd"
	ProtocolISCSI Protocol = "iscsi"
	ProtocolRBD   Protocol = "rbd"
	ProtocolHTTP  Protocol = "http"
	ProtocolHTTPS Protocol = "https"
)

// Host is one network storage endpoint.
type Host struct {
	Name      string `json:"name,omitempty"`
	Port      uint   `json:"port,omitempty"`
	Transport string `json:"transport,omitempty"`
	Socket    string `json:"socket,omitempty"`
}

// SecretRef names a secret by UUID or usage string.
type SecretRef struct {
	UUID  string `json:"uuid,omitempty"`
	Usage string `json:"usage,omitempty"`
}

// IsZero reports whether no secret is referenced.
func (s SecretRef) IsZero() bool { return s.UUID == "" && s.Usage == "" }

// DiskAuth is credential data for network storage.
type DiskAuth struct {
	Username string    `json:"username"`
	Secret   SecretRef `json:"secret"`
}

// Reservations configures SCSI persistent reservations for a LUN.
type Reservations struct {
	Managed bool   `json:"managed"`
	Path    string `json:"path,omitempty"`
}

// DiskSource is the host side of a disk.
type DiskSource struct {
	Type         SourceType    `json:"type"`
	Path         string        `json:"path,omitempty"`
	Protocol     Protocol      `json:"protocol,omitempty"`
	Name         string        `json:"name,omitempty"`
	Query        string        `json:"query,omitempty"`
	Hosts        []Host        `json:"hosts,omitempty"`
	Auth         *DiskAuth     `json:"auth,omitempty"`
	TLS          bool          `json:"tls,omitempty"`
	Reservations *Reservations `json:"reservations,omitempty"`
	Encryption   *SecretRef    `json:"encryption,omitempty"`
}

// IsEmpty reports whether the disk has no medium (an empty CD-ROM).
func (s DiskSource) IsEmpty() bool {
	return s.Type != SourceNetwork && s.Path == ""
}

// ErrorPolicy is how guest I/O errors are handled.
type ErrorPolicy string

const (
	ErrorPolicyDefault  ErrorPolicy = ""
	ErrorPolicyStop     ErrorPolicy = "stop"
	ErrorPolicyReport   ErrorPolicy = "report"
	ErrorPolicyIgnore   ErrorPolicy = "ignore"
	ErrorPolicyENOSpace ErrorPolicy = "enospace"
)

// DiskDriver holds the hypervisor-side knobs of a disk.
type DiskDriver struct {
	Format       string      `json:"format,omitempty"`
	Cache        string      `json:"cache,omitempty"`
	ErrorPolicy  ErrorPolicy `json:"errorPolicy,omitempty"`
	RErrorPolicy ErrorPolicy `json:"rerrorPolicy,omitempty"`
	IO           string      `json:"io,omitempty"`
	Discard      string      `json:"discard,omitempty"`
	DetectZeroes string      `json:"detectZeroes,omitempty"`
	CopyOnRead   bool        `json:"copyOnRead,omitempty"`
	IOThread     uint        `json:"iothread,omitempty"`
	Queues       uint        `json:"queues,omitempty"`
	QueueSize    uint        `json:"queueSize,omitempty"`
	EventIdx     *bool       `json:"eventIdx,omitempty"`
	IOEventFD    *bool       `json:"ioeventfd,omitempty"`
}

// Throttle holds per-disk I/O limits. Zero means unset.
type Throttle struct {
	TotalBytesSec          uint64 `json:"totalBytesSec,omitempty"`
	ReadBytesSec           uint64 `json:"readBytesSec,omitempty"`
	WriteBytesSec          uint64 `json:"writeBytesSec,omitempty"`
	TotalIOPSSec           uint64 `json:"totalIopsSec,omitempty"`
	ReadIOPSSec            uint64 `json:"readIopsSec,omitempty"`
	WriteIOPSSec           uint64 `json:"writeIopsSec,omitempty"`
	TotalBytesSecMax       uint64 `json:"totalBytesSecMax,omitempty"`
	ReadBytesSecMax        uint64 `json:"readBytesSecMax,omitempty"`
	WriteBytesSecMax       uint64 `json:"writeBytesSecMax,omitempty"`
	TotalIOPSSecMax        uint64 `json:"totalIopsSecMax,omitempty"`
	ReadIOPSSecMax         uint64 `json:"readIopsSecMax,omitempty"`
	WriteIOPSSecMax        uint64 `json:"writeIopsSecMax,omitempty"`
	TotalBytesSecMaxLength uint64 `json:"totalBytesSecMaxLength,omitempty"`
	ReadBytesSecMaxLength  uint64 `json:"readBytesSecMaxLength,omitempty"`
	WriteBytesSecMaxLength uint64 `json:"writeBytesSecMaxLength,omitempty"`
	TotalIOPSSecMaxLength  uint64 `json:"totalIopsSecMaxLength,omitempty"`
	ReadIOPSSecMaxLength   uint64 `json:"readIopsSecMaxLength,omitempty"`
	WriteIOPSSecMaxLength  uint64 `json:"writeIopsSecMaxLength,omitempty"`
	SizeIOPSSec            uint64 `json:"sizeIopsSec,omitempty"`
	GroupName              string `json:"groupName,omitempty"`
}

// BlockIO overrides reported block sizes.
type BlockIO struct {
	LogicalBlockSize  uint `json:"logicalBlockSize,omitempty"`
	PhysicalBlockSize uint `json:"physicalBlockSize,omitempty"`
}

// Geometry overrides the legacy CHS geometry.
type Geometry struct {
	Cylinders uint   `json:"cylinders"`
	Heads     uint   `json:"heads"`
	Sectors   uint   `json:"sectors"`
	Trans     string `json:"trans,omitempty"`
}

// Disk is a block device exposed to the guest.
type Disk struct {
	Device       DiskDevice  `json:"device,omitempty"`
	Bus          DiskBus     `json:"bus"`
	Target       string      `json:"target"`
	Model        VirtioModel `json:"model,omitempty"`
	Source       DiskSource  `json:"source"`
	Driver       DiskDriver  `json:"driver,omitempty"`
	Throttle     *Throttle   `json:"throttle,omitempty"`
	BlockIO      *BlockIO    `json:"blockio,omitempty"`
	Geometry     *Geometry   `json:"geometry,omitempty"`
	ReadOnly     bool        `json:"readOnly,omitempty"`
	Shareable    bool        `json:"shareable,omitempty"`
	Removable    *bool       `json:"removable,omitempty"`
	Serial       string      `json:"serial,omitempty"`
	WWN          string      `json:"wwn,omitempty"`
	Vendor       string      `json:"vendor,omitempty"`
	Product      string      `json:"product,omitempty"`
	RotationRate uint        `json:"rotationRate,omitempty"`
	SGIO         string      `json:"sgio,omitempty"`
	Info         DeviceInfo  `json:"info,omitempty"`
}

// IsCDROM reports whether the disk is a CD-ROM.
func (d *Disk) IsCDROM() bool { return d.Device == DiskDeviceCDROM }

// DiskIndex returns the zero based index encoded in a target name:
// "vda" is 0, "sdz" is 25, "hdaa" is 26.
func DiskIndex(target string) (uint, error) {
	if len(target) < 3 {
		return 0, fmt.Errorf("invalid disk target %q", target)
	}
	var idx uint
	for _, r := range target[2:] {
		if r < 'a' || r > 'z' {
			return 0, fmt.Errorf("invalid disk target %q", target)
		}
		idx = idx*26 + uint(r-'a') + 1
	}
	return idx - 1, nil
}

// IsLUN reports whether the disk is a SCSI LUN passthrough.
func (d *Disk) IsLUN() bool { return d.Device == DiskDeviceLUN }

// FSDriver is the filesystem sharing implementation.
type FSDriver string

const (
	FSDriverPath     FSDriver = "path"
	FSDriverVirtioFS FSDriver = "virtiofs"
)

// Filesystem shares a host directory with the guest.
type Filesystem struct {
	Driver     FSDriver    `json:"driver"`
	Source     string      `json:"source,omitempty"`
	Target     string      `json:"target"`
	AccessMode string      `json:"accessMode,omitempty"`
	ReadOnly   bool        `json:"readOnly,omitempty"`
	Socket     string      `json:"socket,omitempty"`
	QueueSize  uint        `json:"queueSize,omitempty"`
	Model      VirtioModel `json:"model,omitempty"`
	Info       DeviceInfo  `json:"info,omitempty"`
}
