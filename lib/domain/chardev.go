package domain

// ChardevType is the host side of a character device.
type ChardevType string

const (
	ChardevNull      ChardevType = "null"
	ChardevVC        ChardevType = "vc"
	ChardevPTY       ChardevType = "pty"
	ChardevDev       ChardevType = "dev"
	ChardevFile      ChardevType = "file"
	ChardevPipe      ChardevType = "pipe"
	ChardevStdio     ChardevType = "stdio"
	ChardevUDP       ChardevType = "udp"
	ChardevTCP       ChardevType = "tcp"
	ChardevUnix      ChardevType = "unix"
	ChardevSpiceVMC  ChardevType = "spicevmc"
	ChardevSpicePort ChardevType = "spiceport"
	ChardevVDAgent   ChardevType = "qemu-vdagent"
)

// ChardevSource describes the host end of a character device.
type ChardevSource struct {
	Type ChardevType `json:"type"`
	Path string      `json:"path,omitempty"`
	// Append only applies to file sources.
	Append *bool `json:"append,omitempty"`

	Host        string `json:"host,omitempty"`
	Service     string `json:"service,omitempty"`
	BindHost    string `json:"bindHost,omitempty"`
	BindService string `json:"bindService,omitempty"`
	Listen      bool   `json:"listen,omitempty"`
	Telnet      bool   `json:"telnet,omitempty"`
	TLS         *bool  `json:"tls,omitempty"`
	Reconnect   uint   `json:"reconnect,omitempty"`

	// Channel is the SPICE channel name for spicevmc/spiceport.
	Channel string `json:"channel,omitempty"`
	LogFile string `json:"logfile,omitempty"`
}

// ChardevTargetType is the guest side of a character device.
type ChardevTargetType string

const (
	SerialISA      ChardevTargetType = "isa-serial"
	SerialUSB      ChardevTargetType = "usb-serial"
	SerialPCI      ChardevTargetType = "pci-serial"
	SerialSpaprVIO ChardevTargetType = "spapr-vio-serial"
	SerialSCLP     ChardevTargetType = "sclp-serial"
	SerialSystem   ChardevTargetType = "system-serial"

	ChannelVirtio   ChardevTargetType = "virtio"
	ChannelGuestFwd ChardevTargetType = "guestfwd"

	ConsoleSerial ChardevTargetType = "serial"
	ConsoleVirtio ChardevTargetType = "virtio"
	ConsoleSCLP   ChardevTargetType = "sclp"
	ConsoleSCLPLM ChardevTargetType = "sclplm"
)

// Chardev is a serial port, parallel port, channel or console.
type Chardev struct {
	Source      ChardevSource     `json:"source"`
	TargetType  ChardevTargetType `json:"targetType,omitempty"`
	TargetModel string            `json:"targetModel,omitempty"`
	TargetPort  uint              `json:"targetPort,omitempty"`
	// TargetName is the virtio port name, for channels.
	TargetName string `json:"targetName,omitempty"`
	// GuestFwd is the guest address:port for guestfwd channels.
	GuestFwdAddr string     `json:"guestfwdAddr,omitempty"`
	GuestFwdPort uint       `json:"guestfwdPort,omitempty"`
	Info         DeviceInfo `json:"info,omitempty"`
}

// SmartcardMode is how the smartcard is provided.
type SmartcardMode string

const (
	SmartcardHost         SmartcardMode = "host"
	SmartcardCertificates SmartcardMode = "host-certificates"
	SmartcardPassthrough  SmartcardMode = "passthrough"
)

// Smartcard is a CCID smartcard.
type Smartcard struct {
	Mode         SmartcardMode  `json:"mode"`
	Certificates []string       `json:"certificates,omitempty"`
	Database     string         `json:"database,omitempty"`
	Source       *ChardevSource `json:"source,omitempty"`
	Info         DeviceInfo     `json:"info,omitempty"`
}

// Redirdev is a redirected USB device.
type Redirdev struct {
	Source ChardevSource `json:"source"`
	Info   DeviceInfo    `json:"info,omitempty"`
}

// TPMModel is the guest TPM interface.
type TPMModel string

const (
	TPMTIS       TPMModel = "tpm-tis"
	TPMCRB       TPMModel = "tpm-crb"
	TPMSpapr     TPMModel = "tpm-spapr"
	TPMTISDevice TPMModel = "tpm-tis-device"
)

// TPMBackend is the host TPM provider.
type TPMBackend string

const (
	TPMBackendPassthrough TPMBackend = "passthrough"
	TPMBackendEmulator    TPMBackend = "emulator"
	TPMBackendExternal    TPMBackend = "external"
)

// TPM is a virtual TPM.
type TPM struct {
	Model      TPMModel   `json:"model,omitempty"`
	Backend    TPMBackend `json:"backend"`
	Device     string     `json:"device,omitempty"`
	CancelPath string     `json:"cancelPath,omitempty"`
	Socket     string     `json:"socket,omitempty"`
	Info       DeviceInfo `json:"info,omitempty"`
}

// RNGBackend is the host entropy provider.
type RNGBackend string

const (
	RNGRandom  RNGBackend = "random"
	RNGEGD     RNGBackend = "egd"
	RNGBuiltin RNGBackend = "builtin"
)

// RNG is a virtio-rng device.
type RNG struct {
	Model   VirtioModel    `json:"model,omitempty"`
	Backend RNGBackend     `json:"backend"`
	Path    string         `json:"path,omitempty"`
	Source  *ChardevSource `json:"source,omitempty"`
	Period  uint           `json:"period,omitempty"`
	Bytes   uint           `json:"bytes,omitempty"`
	Info    DeviceInfo     `json:"info,omitempty"`
}

// ShmemModel selects the ivshmem flavour.
type ShmemModel string

const (
	ShmemPlain    ShmemModel = "ivshmem-plain"
	ShmemDoorbell ShmemModel = "ivshmem-doorbell"
)

// Shmem is an inter-VM shared memory device.
type Shmem struct {
	Name      string         `json:"name"`
	Model     ShmemModel     `json:"model"`
	Size      KiB            `json:"size,omitempty"`
	Server    *ChardevSource `json:"server,omitempty"`
	Vectors   uint           `json:"vectors,omitempty"`
	IOEventFD *bool          `json:"ioeventfd,omitempty"`
	Info      DeviceInfo     `json:"info,omitempty"`
}
