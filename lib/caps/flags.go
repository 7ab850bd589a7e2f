// Package caps describes what a QEMU binary supports. A Set is built once
// (from a file or by probing a running QEMU over QMP) and then only read.
package caps

// Flag names one capability of the target binary.
type Flag string

// Command line syntax.
const (
	ObjectJSON Flag = "object.json"
	DeviceJSON Flag = "device.json"
	NetdevJSON Flag = "netdev.json"
	Blockdev   Flag = "blockdev"
)

// Backend objects.
const (
	ObjectSecret             Flag = "object.secret"
	ObjectTLSCredsX509       Flag = "object.tls-creds-x509"
	ObjectIOThread           Flag = "object.iothread"
	ObjectMemoryFile         Flag = "object.memory-backend-file"
	ObjectMemoryMemfd        Flag = "object.memory-backend-memfd"
	ObjectMemoryMemfdHuge    Flag = "object.memory-backend-memfd.hugetlb"
	MemoryFileDiscard        Flag = "memory-backend-file.discard-data"
	MemoryRAMBlockCanonical  Flag = "x-use-canonical-path-for-ramblock-id"
	MemoryPreallocThreads    Flag = "memory-backend.prealloc-threads"
	MachineMemoryBackend     Flag = "machine.memory-backend"
	ObjectRNGRandom          Flag = "object.rng-random"
	ObjectRNGEGD             Flag = "object.rng-egd"
	ObjectRNGBuiltin         Flag = "object.rng-builtin"
	ObjectPRManagerHelper    Flag = "object.pr-manager-helper"
	ObjectThrottleGroup      Flag = "object.throttle-group"
	ObjectInputLinux         Flag = "object.input-linux"
	ObjectSEVGuest           Flag = "object.sev-guest"
	ObjectSEVSNPGuest        Flag = "object.sev-snp-guest"
	ObjectS390PVGuest        Flag = "object.s390-pv-guest"
	MachineConfidentialGuest Flag = "machine.confidential-guest-support"
)

// Virtio transport variants.
const (
	VirtioPCITransitional  Flag = "virtio-pci.transitional"
	VirtioPCIDisableLegacy Flag = "virtio-pci.disable-legacy"
	VirtioCCW              Flag = "virtio-ccw"
	VirtioMMIO             Flag = "virtio-mmio"
)

// Storage.
const (
	DeviceVirtioBlk      Flag = "device.virtio-blk"
	VirtioBlkSCSI        Flag = "virtio-blk.scsi"
	VirtioBlkNumQueues   Flag = "virtio-blk.num-queues"
	VirtioBlkQueueSize   Flag = "virtio-blk.queue-size"
	DeviceSCSIBlock      Flag = "device.scsi-block"
	DeviceUSBStorage     Flag = "device.usb-storage"
	DeviceFloppy         Flag = "device.floppy"
	DeviceIDEDrive       Flag = "device.ide-hd"
	DeviceAHCI           Flag = "device.ahci"
	DriveThrottlingGroup Flag = "drive.throttling.group"
	DriveDetectZeroes    Flag = "drive.detect-zeroes"
	DiskWriteCache       Flag = "disk.write-cache"
	DiskShareRW          Flag = "disk.share-rw"
	DeviceSCSIGeneric    Flag = "device.scsi-generic"
	DeviceVhostSCSI      Flag = "device.vhost-scsi"
	DeviceVhostUserFS    Flag = "device.vhost-user-fs"
	FSDev                Flag = "fsdev"
)

// Controllers.
const (
	DevicePCIBridge         Flag = "device.pci-bridge"
	DeviceDMIToPCIBridge    Flag = "device.i82801b11-bridge"
	DevicePCIeRootPort      Flag = "device.pcie-root-port"
	DeviceIOH3420           Flag = "device.ioh3420"
	DeviceX3130Upstream     Flag = "device.x3130-upstream"
	DeviceXIO3130Downstream Flag = "device.xio3130-downstream"
	DevicePXB               Flag = "device.pxb"
	DevicePXBPCIe           Flag = "device.pxb-pcie"
	DevicePCIePCIBridge     Flag = "device.pcie-pci-bridge"

	DevicePIIX3UHCI     Flag = "device.piix3-usb-uhci"
	DevicePIIX4UHCI     Flag = "device.piix4-usb-uhci"
	DeviceUSBEHCI       Flag = "device.usb-ehci"
	DeviceICH9EHCI1     Flag = "device.ich9-usb-ehci1"
	DeviceICH9UHCI      Flag = "device.ich9-usb-uhci"
	DeviceVT82C686BUHCI Flag = "device.vt82c686b-usb-uhci"
	DevicePCIOHCI       Flag = "device.pci-ohci"
	DeviceNECXHCI       Flag = "device.nec-usb-xhci"
	DeviceQemuXHCI      Flag = "device.qemu-xhci"

	DeviceLSI        Flag = "device.lsi"
	DeviceVirtioSCSI Flag = "device.virtio-scsi"
	DeviceSpaprVSCSI Flag = "device.spapr-vscsi"
	DeviceMPTSAS1068 Flag = "device.mptsas1068"
	DeviceMegaSAS    Flag = "device.megasas"
	DevicePVSCSI     Flag = "device.pvscsi"

	DeviceVirtioSerial Flag = "device.virtio-serial"
	DeviceUSBCCID      Flag = "device.usb-ccid"
)

// Network.
const (
	NetdevVhostVDPA      Flag = "netdev.vhost-vdpa"
	NetdevVhostUser      Flag = "netdev.vhost-user"
	VirtioNetHostMTU     Flag = "virtio-net.host_mtu"
	VirtioNetRxQueueSize Flag = "virtio-net.rx_queue_size"
	VirtioNetTxQueueSize Flag = "virtio-net.tx_queue_size"
	DeviceE1000E         Flag = "device.e1000e"
	DeviceUSBNet         Flag = "device.usb-net"
)

// Character devices and chardev-backed devices.
const (
	ChardevFDPass         Flag = "chardev.fd-pass"
	ChardevReconnect      Flag = "chardev.reconnect"
	ChardevFileAppend     Flag = "chardev.file-append"
	ChardevLogfile        Flag = "chardev.logfile"
	ChardevSpicevmc       Flag = "chardev.spicevmc"
	ChardevSpiceport      Flag = "chardev.spiceport"
	ChardevVDAgent        Flag = "chardev.qemu-vdagent"
	DeviceISASerial       Flag = "device.isa-serial"
	DeviceUSBSerial       Flag = "device.usb-serial"
	DevicePCISerial       Flag = "device.pci-serial"
	DeviceSCLPConsole     Flag = "device.sclpconsole"
	DeviceSCLPLMConsole   Flag = "device.sclplmconsole"
	DeviceCCIDEmulated    Flag = "device.ccid-card-emulated"
	DeviceCCIDPassthru    Flag = "device.ccid-card-passthru"
	DeviceUSBRedir        Flag = "device.usb-redir"
	DeviceIVShmemPlain    Flag = "device.ivshmem-plain"
	DeviceIVShmemDoorbell Flag = "device.ivshmem-doorbell"
	DeviceTPMTIS          Flag = "device.tpm-tis"
	DeviceTPMCRB          Flag = "device.tpm-crb"
	DeviceTPMSpapr        Flag = "device.tpm-spapr"
	DeviceTPMTISDevice    Flag = "device.tpm-tis-device"
	TPMPassthrough        Flag = "tpm.passthrough"
	TPMEmulator           Flag = "tpm.emulator"
	DeviceVirtioRNG       Flag = "device.virtio-rng"
)

// Peripherals.
const (
	Audiodev              Flag = "audiodev"
	DeviceVirtioTablet    Flag = "device.virtio-tablet"
	DeviceVirtioMouse     Flag = "device.virtio-mouse"
	DeviceVirtioKeyboard  Flag = "device.virtio-keyboard"
	DeviceVirtioInputHost Flag = "device.virtio-input-host"
	DeviceUSBTablet       Flag = "device.usb-tablet"
	DeviceUSBMouse        Flag = "device.usb-mouse"
	DeviceUSBKbd          Flag = "device.usb-kbd"

	VNC                   Flag = "vnc"
	VNCWebsocket          Flag = "vnc.websocket"
	VNCPowerControl       Flag = "vnc.power-control"
	VNCAudiodev           Flag = "vnc.audiodev"
	Spice                 Flag = "spice"
	SpiceGL               Flag = "spice.gl"
	SpiceRendernode       Flag = "spice.rendernode"
	SpiceFileXferDisable  Flag = "spice.disable-agent-file-xfer"
	SDL                   Flag = "sdl"
	SDLGL                 Flag = "sdl.gl"
	EGLHeadless           Flag = "egl-headless"
	EGLHeadlessRendernode Flag = "egl-headless.rendernode"
	DBusDisplay           Flag = "display.dbus"

	DeviceVGA          Flag = "device.VGA"
	DeviceCirrusVGA    Flag = "device.cirrus-vga"
	DeviceVMwareSVGA   Flag = "device.vmware-svga"
	DeviceQXL          Flag = "device.qxl"
	DeviceQXLVGA       Flag = "device.qxl-vga"
	DeviceVirtioGPU    Flag = "device.virtio-gpu"
	DeviceVirtioVGA    Flag = "device.virtio-vga"
	DeviceVirtioGPUGL  Flag = "device.virtio-gpu-gl"
	DeviceBochsDisplay Flag = "device.bochs-display"
	DeviceRamfb        Flag = "device.ramfb"

	DeviceIntelHDA     Flag = "device.intel-hda"
	DeviceICH9IntelHDA Flag = "device.ich9-intel-hda"
	DeviceAC97         Flag = "device.AC97"
	DeviceES1370       Flag = "device.ES1370"
	DeviceSB16         Flag = "device.sb16"
	DeviceUSBAudio     Flag = "device.usb-audio"
	DeviceHDADuplex    Flag = "device.hda-duplex"
	DeviceHDAMicro     Flag = "device.hda-micro"
	DeviceHDAOutput    Flag = "device.hda-output"

	DeviceI6300ESB Flag = "device.i6300esb"
	DeviceIB700    Flag = "device.ib700"
	DeviceDiag288  Flag = "device.diag288"

	DeviceVFIOPCI  Flag = "device.vfio-pci"
	VFIOPCIDisplay Flag = "vfio-pci.display"
	DeviceUSBHost  Flag = "device.usb-host"

	DevicePCDIMM     Flag = "device.pc-dimm"
	DeviceNVDIMM     Flag = "device.nvdimm"
	DeviceVirtioPmem Flag = "device.virtio-pmem-pci"
	DeviceVirtioMem  Flag = "device.virtio-mem-pci"

	DeviceVirtioBalloon      Flag = "device.virtio-balloon"
	BalloonDeflateOnOOM      Flag = "virtio-balloon.deflate-on-oom"
	BalloonFreePageReporting Flag = "virtio-balloon.free-page-reporting"

	DevicePVPanic    Flag = "device.pvpanic"
	DevicePVPanicPCI Flag = "device.pvpanic-pci"

	DeviceVhostVsock Flag = "device.vhost-vsock"

	DeviceIntelIOMMU  Flag = "device.intel-iommu"
	DeviceAMDIOMMU    Flag = "device.amd-iommu"
	DeviceVirtioIOMMU Flag = "device.virtio-iommu-pci"
	MachineSMMUv3     Flag = "machine.virt.iommu"
)

// CPU, machine and global toggles.
const (
	CPUFeatureProps  Flag = "query-cpu-model-expansion"
	CPUMigratable    Flag = "cpu.migratable"
	SMPDies          Flag = "smp.dies"
	NUMAMemdev       Flag = "numa.memdev"
	NUMADist         Flag = "numa.dist"
	MachineHPET      Flag = "machine.hpet"
	MachineACPI      Flag = "machine.acpi"
	MachineVMPort    Flag = "machine.vmport"
	MachineSMM       Flag = "machine.smm"
	MachineNVDIMM    Flag = "machine.nvdimm"
	MachinePflash    Flag = "machine.pflash"
	AccelSeparate    Flag = "accel"
	BootStrict       Flag = "boot.strict"
	RebootTimeout    Flag = "boot.reboot-timeout"
	Sandbox          Flag = "seccomp-sandbox"
	Overcommit       Flag = "overcommit"
	MsgTimestamp     Flag = "msg.timestamp"
	EnableFIPS       Flag = "enable-fips"
	NameGuest        Flag = "name.guest"
	SMBIOSType1      Flag = "smbios.type1"
	RTCBase          Flag = "rtc.base"
	KVMPITLostTick   Flag = "kvm-pit.lost_tick_policy"
	ChardevMonitorFD Flag = "monitor.fd"
)

// DefaultKey names a machine-type dependent default.
type DefaultKey string

const (
	// DefaultRAMID is the id of the machine's built-in RAM backend object.
	DefaultRAMID DefaultKey = "default-ram-id"
	// HostCPUModel is the named model the host CPU expands to.
	HostCPUModel DefaultKey = "host-cpu-model"
	// DefaultCPUModel is the machine's default CPU model.
	DefaultCPUModel DefaultKey = "default-cpu"
)
