package domain

// InputType is the kind of input device.
type InputType string

const (
	InputMouse       InputType = "mouse"
	InputTablet      InputType = "tablet"
	InputKeyboard    InputType = "keyboard"
	InputPassthrough InputType = "passthrough"
	InputEvdev       InputType = "evdev"
)

// InputBus is where an input device attaches.
type InputBus string

const (
	InputBusPS2    InputBus = "ps2"
	InputBusUSB    InputBus = "usb"
	InputBusVirtio InputBus = "virtio"
	InputBusNone   InputBus = "none"
)

// Input is a pointer, keyboard or host input passthrough.
type Input struct {
	Type   InputType   `json:"type"`
	Bus    InputBus    `json:"bus,omitempty"`
	Model  VirtioModel `json:"model,omitempty"`
	Evdev  string      `json:"evdev,omitempty"`
	Grab   string      `json:"grab,omitempty"`
	Repeat *bool       `json:"repeat,omitempty"`
	Info   DeviceInfo  `json:"info,omitempty"`
}

// Audio is a host audio backend.
type Audio struct {
	ID     uint   `json:"id"`
	Type   string `json:"type"`
	Path   string `json:"path,omitempty"`
	Server string `json:"server,omitempty"`
}

// GraphicsType is the display protocol.
type GraphicsType string

const (
	GraphicsVNC         GraphicsType = "vnc"
	GraphicsSPICE       GraphicsType = "spice"
	GraphicsSDL         GraphicsType = "sdl"
	GraphicsEGLHeadless GraphicsType = "egl-headless"
	GraphicsDBus        GraphicsType = "dbus"
)

// Graphics is a display output.
type Graphics struct {
	Type GraphicsType `json:"type"`

	Listen       string `json:"listen,omitempty"`
	Socket       string `json:"socket,omitempty"`
	Port         int    `json:"port,omitempty"`
	TLSPort      int    `json:"tlsPort,omitempty"`
	Websocket    int    `json:"websocket,omitempty"`
	Password     bool   `json:"password,omitempty"`
	TLS          bool   `json:"tls,omitempty"`
	Share        string `json:"share,omitempty"`
	Keymap       string `json:"keymap,omitempty"`
	PowerControl bool   `json:"powerControl,omitempty"`
	Audio        uint   `json:"audio,omitempty"`

	// SPICE
	ImageCompression string   `json:"imageCompression,omitempty"`
	JPEG             string   `json:"jpeg,omitempty"`
	Zlib             string   `json:"zlib,omitempty"`
	Playback         *bool    `json:"playback,omitempty"`
	Streaming        string   `json:"streaming,omitempty"`
	CopyPaste        *bool    `json:"copyPaste,omitempty"`
	FileTransfer     *bool    `json:"fileTransfer,omitempty"`
	SecureChannels   []string `json:"secureChannels,omitempty"`
	InsecureChannels []string `json:"insecureChannels,omitempty"`

	// SDL / EGL / SPICE GL
	Display    string `json:"display,omitempty"`
	XAuth      string `json:"xauth,omitempty"`
	Fullscreen bool   `json:"fullscreen,omitempty"`
	GL         *bool  `json:"gl,omitempty"`
	Rendernode string `json:"rendernode,omitempty"`
}

// Video is a graphics adapter.
type Video struct {
	Model   string     `json:"model"`
	Primary bool       `json:"primary,omitempty"`
	VRAM    KiB        `json:"vram,omitempty"`
	RAM     KiB        `json:"ram,omitempty"`
	VGAMem  KiB        `json:"vgamem,omitempty"`
	Heads   uint       `json:"heads,omitempty"`
	Accel3D *bool      `json:"accel3d,omitempty"`
	Info    DeviceInfo `json:"info,omitempty"`
}

// Sound is a sound card.
type Sound struct {
	Model  string     `json:"model"`
	Codecs []string   `json:"codecs,omitempty"`
	Audio  uint       `json:"audio,omitempty"`
	Info   DeviceInfo `json:"info,omitempty"`
}

// Watchdog is a hardware watchdog.
type Watchdog struct {
	Model  string     `json:"model"`
	Action string     `json:"action,omitempty"`
	Info   DeviceInfo `json:"info,omitempty"`
}

// HostdevType is the kind of host device assigned to the guest.
type HostdevType string

const (
	HostdevPCI      HostdevType = "pci"
	HostdevMdev     HostdevType = "mdev"
	HostdevUSB      HostdevType = "usb"
	HostdevSCSI     HostdevType = "scsi"
	HostdevSCSIHost HostdevType = "scsi_host"
)

// Hostdev is an assigned host device.
type Hostdev struct {
	Type HostdevType `json:"type"`

	// PCI: host address; mdev: sysfs UUID.
	HostAddress *PCIAddress `json:"hostAddress,omitempty"`
	SysfsPath   string      `json:"sysfsPath,omitempty"`
	MdevUUID    string      `json:"mdevUuid,omitempty"`
	Display     *bool       `json:"display,omitempty"`
	RamFB       *bool       `json:"ramfb,omitempty"`

	// USB
	VendorID  uint `json:"vendorId,omitempty"`
	ProductID uint `json:"productId,omitempty"`
	HostBus   uint `json:"hostBus,omitempty"`
	HostDev   uint `json:"hostDevice,omitempty"`

	// SCSI generic: the /dev/sgN node; scsi_host: vhost WWPN.
	Device   string `json:"device,omitempty"`
	WWPN     string `json:"wwpn,omitempty"`
	ReadOnly bool   `json:"readOnly,omitempty"`

	Info DeviceInfo `json:"info,omitempty"`
}

// MemoryModel is the kind of hotpluggable memory device.
type MemoryModel string

const (
	MemoryDIMM       MemoryModel = "dimm"
	MemoryNVDIMM     MemoryModel = "nvdimm"
	MemoryVirtioPmem MemoryModel = "virtio-pmem"
	MemoryVirtioMem  MemoryModel = "virtio-mem"
)

// MemoryDevice is a DIMM, NVDIMM or virtio memory device.
type MemoryDevice struct {
	Model     MemoryModel  `json:"model"`
	Size      KiB          `json:"size"`
	Node      *uint        `json:"node,omitempty"`
	Path      string       `json:"path,omitempty"`
	PageSize  KiB          `json:"pageSize,omitempty"`
	Nodemask  string       `json:"nodemask,omitempty"`
	Access    MemoryAccess `json:"access,omitempty"`
	Discard   *bool        `json:"discard,omitempty"`
	UUID      string       `json:"uuid,omitempty"`
	ReadOnly  bool         `json:"readOnly,omitempty"`
	LabelSize KiB          `json:"labelSize,omitempty"`
	BlockSize KiB          `json:"blockSize,omitempty"`
	Requested KiB          `json:"requested,omitempty"`
	Info      DeviceInfo   `json:"info,omitempty"`
}

// Memballoon is the memory balloon device.
type Memballoon struct {
	Model             string      `json:"model"`
	VirtioModel       VirtioModel `json:"virtioModel,omitempty"`
	AutoDeflate       *bool       `json:"autodeflate,omitempty"`
	FreePageReporting *bool       `json:"freePageReporting,omitempty"`
	Info              DeviceInfo  `json:"info,omitempty"`
}

// Panic is a guest crash notifier.
type Panic struct {
	Model string     `json:"model"`
	Info  DeviceInfo `json:"info,omitempty"`
}

// Vsock is a virtio socket device.
type Vsock struct {
	CID   uint32      `json:"cid"`
	Model VirtioModel `json:"model,omitempty"`
	Info  DeviceInfo  `json:"info,omitempty"`
}

// IOMMUModel is the virtual IOMMU implementation.
type IOMMUModel string

const (
	IOMMUIntel  IOMMUModel = "intel"
	IOMMUAMD    IOMMUModel = "amd"
	IOMMUSMMUv3 IOMMUModel = "smmuv3"
	IOMMUVirtio IOMMUModel = "virtio"
)

// IOMMU is a virtual IOMMU.
type IOMMU struct {
	Model       IOMMUModel `json:"model"`
	IntRemap    *bool      `json:"intremap,omitempty"`
	CachingMode *bool      `json:"cachingMode,omitempty"`
	EIM         *bool      `json:"eim,omitempty"`
	IOTLB       *bool      `json:"iotlb,omitempty"`
	AWBits      uint       `json:"awBits,omitempty"`
	Info        DeviceInfo `json:"info,omitempty"`
}
