package caps

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/digitalocean/go-qemu/qmp"
)

// qmpConnectTimeout bounds connecting to a probe monitor socket.
const qmpConnectTimeout = 2 * time.Second

// Runner executes one raw QMP command. qmp.Monitor satisfies it.
type Runner interface {
	Run(command []byte) ([]byte, error)
}

// qomTypes maps QOM type names reported by qom-list-types to flags.
var qomTypes = map[string]Flag{
	"secret":                      ObjectSecret,
	"tls-creds-x509":              ObjectTLSCredsX509,
	"iothread":                    ObjectIOThread,
	"memory-backend-file":         ObjectMemoryFile,
	"memory-backend-memfd":        ObjectMemoryMemfd,
	"rng-random":                  ObjectRNGRandom,
	"rng-egd":                     ObjectRNGEGD,
	"rng-builtin":                 ObjectRNGBuiltin,
	"pr-manager-helper":           ObjectPRManagerHelper,
	"throttle-group":              ObjectThrottleGroup,
	"input-linux":                 ObjectInputLinux,
	"sev-guest":                   ObjectSEVGuest,
	"sev-snp-guest":               ObjectSEVSNPGuest,
	"s390-pv-guest":               ObjectS390PVGuest,
	"virtio-blk-pci-transitional": VirtioPCITransitional,
	"virtio-pci":                  VirtioPCIDisableLegacy,
	"virtio-blk-ccw":              VirtioCCW,
	"virtio-blk-device":           VirtioMMIO,
	"virtio-blk-pci":              DeviceVirtioBlk,
	"scsi-block":                  DeviceSCSIBlock,
	"usb-storage":                 DeviceUSBStorage,
	"floppy":                      DeviceFloppy,
	"ide-hd":                      DeviceIDEDrive,
	"ahci":                        DeviceAHCI,
	"scsi-generic":                DeviceSCSIGeneric,
	"vhost-scsi-pci":              DeviceVhostSCSI,
	"vhost-user-fs-pci":           DeviceVhostUserFS,
	"pci-bridge":                  DevicePCIBridge,
	"i82801b11-bridge":            DeviceDMIToPCIBridge,
	"pcie-root-port":              DevicePCIeRootPort,
	"ioh3420":                     DeviceIOH3420,
	"x3130-upstream":              DeviceX3130Upstream,
	"xio3130-downstream":          DeviceXIO3130Downstream,
	"pxb":                         DevicePXB,
	"pxb-pcie":                    DevicePXBPCIe,
	"pcie-pci-bridge":             DevicePCIePCIBridge,
	"piix3-usb-uhci":              DevicePIIX3UHCI,
	"piix4-usb-uhci":              DevicePIIX4UHCI,
	"usb-ehci":                    DeviceUSBEHCI,
	"ich9-usb-ehci1":              DeviceICH9EHCI1,
	"ich9-usb-uhci1":              DeviceICH9UHCI,
	"vt82c686b-usb-uhci":          DeviceVT82C686BUHCI,
	"pci-ohci":                    DevicePCIOHCI,
	"nec-usb-xhci":                DeviceNECXHCI,
	"qemu-xhci":                   DeviceQemuXHCI,
	"lsi53c895a":                  DeviceLSI,
	"virtio-scsi-pci":             DeviceVirtioSCSI,
	"spapr-vscsi":                 DeviceSpaprVSCSI,
	"mptsas1068":                  DeviceMPTSAS1068,
	"megasas":                     DeviceMegaSAS,
	"pvscsi":                      DevicePVSCSI,
	"virtio-serial-pci":           DeviceVirtioSerial,
	"usb-ccid":                    DeviceUSBCCID,
	"e1000e":                      DeviceE1000E,
	"usb-net":                     DeviceUSBNet,
	"isa-serial":                  DeviceISASerial,
	"usb-serial":                  DeviceUSBSerial,
	"pci-serial":                  DevicePCISerial,
	"sclpconsole":                 DeviceSCLPConsole,
	"sclplmconsole":               DeviceSCLPLMConsole,
	"ccid-card-emulated":          DeviceCCIDEmulated,
	"ccid-card-passthru":          DeviceCCIDPassthru,
	"usb-redir":                   DeviceUSBRedir,
	"ivshmem-plain":               DeviceIVShmemPlain,
	"ivshmem-doorbell":            DeviceIVShmemDoorbell,
	"tpm-tis":                     DeviceTPMTIS,
	"tpm-crb":                     DeviceTPMCRB,
	"tpm-spapr":                   DeviceTPMSpapr,
	"tpm-tis-device":              DeviceTPMTISDevice,
	"tpm-passthrough":             TPMPassthrough,
	"tpm-emulator":                TPMEmulator,
	"virtio-rng-pci":              DeviceVirtioRNG,
	"virtio-tablet-pci":           DeviceVirtioTablet,
	"virtio-mouse-pci":            DeviceVirtioMouse,
	"virtio-keyboard-pci":         DeviceVirtioKeyboard,
	"virtio-input-host-pci":       DeviceVirtioInputHost,
	"usb-tablet":                  DeviceUSBTablet,
	"usb-mouse":                   DeviceUSBMouse,
	"usb-kbd":                     DeviceUSBKbd,
	"VGA":                         DeviceVGA,
	"cirrus-vga":                  DeviceCirrusVGA,
	"vmware-svga":                 DeviceVMwareSVGA,
	"qxl":                         DeviceQXL,
	"qxl-vga":                     DeviceQXLVGA,
	"virtio-gpu-pci":              DeviceVirtioGPU,
	"virtio-vga":                  DeviceVirtioVGA,
	"virtio-gpu-gl-pci":           DeviceVirtioGPUGL,
	"bochs-display":               DeviceBochsDisplay,
	"ramfb":                       DeviceRamfb,
	"intel-hda":                   DeviceIntelHDA,
	"ich9-intel-hda":              DeviceICH9IntelHDA,
	"AC97":                        DeviceAC97,
	"ES1370":                      DeviceES1370,
	"sb16":                        DeviceSB16,
	"usb-audio":                   DeviceUSBAudio,
	"hda-duplex":                  DeviceHDADuplex,
	"hda-micro":                   DeviceHDAMicro,
	"hda-output":                  DeviceHDAOutput,
	"i6300esb":                    DeviceI6300ESB,
	"ib700":                       DeviceIB700,
	"diag288":                     DeviceDiag288,
	"vfio-pci":                    DeviceVFIOPCI,
	"usb-host":                    DeviceUSBHost,
	"pc-dimm":                     DevicePCDIMM,
	"nvdimm":                      DeviceNVDIMM,
	"virtio-pmem-pci":             DeviceVirtioPmem,
	"virtio-mem-pci":              DeviceVirtioMem,
	"virtio-balloon-pci":          DeviceVirtioBalloon,
	"pvpanic":                     DevicePVPanic,
	"pvpanic-pci":                 DevicePVPanicPCI,
	"vhost-vsock-pci":             DeviceVhostVsock,
	"intel-iommu":                 DeviceIntelIOMMU,
	"amd-iommu":                   DeviceAMDIOMMU,
	"virtio-iommu-pci":            DeviceVirtioIOMMU,
}

// commandLineOptions maps query-command-line-options option names to flags.
var commandLineOptions = map[string]Flag{
	"audiodev":   Audiodev,
	"vnc":        VNC,
	"spice":      Spice,
	"sandbox":    Sandbox,
	"overcommit": Overcommit,
	"msg":        MsgTimestamp,
	"fsdev":      FSDev,
	"accel":      AccelSeparate,
}

// versionGated lists flags implied by a minimum QEMU version.
var versionGated = []struct {
	major, minor int
	flags        []Flag
}{
	{2, 6, []Flag{NameGuest, SMBIOSType1, RTCBase, KVMPITLostTick, BootStrict, RebootTimeout}},
	{2, 7, []Flag{ChardevReconnect, ChardevFileAppend, ChardevLogfile}},
	{2, 10, []Flag{NUMADist, NUMAMemdev, DriveThrottlingGroup, DriveDetectZeroes, DiskWriteCache, DiskShareRW}},
	{4, 0, []Flag{SMPDies, MachineHPET, MachineACPI, MachineVMPort, MachineSMM, MachineNVDIMM}},
	{4, 2, []Flag{Blockdev, MemoryFileDiscard, MachinePflash, VirtioNetHostMTU, VirtioNetRxQueueSize, VirtioNetTxQueueSize, VirtioBlkNumQueues, VirtioBlkQueueSize, BalloonDeflateOnOOM, CPUMigratable, ChardevFDPass, ChardevMonitorFD}},
	{5, 0, []Flag{MachineMemoryBackend, MemoryRAMBlockCanonical, MemoryPreallocThreads, EGLHeadlessRendernode, SpiceRendernode, SpiceFileXferDisable}},
	{5, 1, []Flag{BalloonFreePageReporting}},
	{5, 2, []Flag{MachineConfidentialGuest, ObjectMemoryMemfdHuge, VNCPowerControl}},
	{6, 0, []Flag{ObjectJSON, VFIOPCIDisplay}},
	{6, 2, []Flag{DeviceJSON}},
	{7, 0, []Flag{NetdevJSON, NetdevVhostVDPA, NetdevVhostUser, VNCAudiodev}},
}

type qmpVersion struct {
	QEMU struct {
		Major int `json:"major"`
		Minor int `json:"minor"`
		Micro int `json:"micro"`
	} `json:"qemu"`
}

type qomType struct {
	Name string `json:"name"`
}

type qmpCommandInfo struct {
	Name string `json:"name"`
}

type machineInfo struct {
	Name         string `json:"name"`
	Alias        string `json:"alias,omitempty"`
	DefaultRAMID string `json:"default-ram-id,omitempty"`
	DefaultCPU   string `json:"default-cpu-type,omitempty"`
}

type commandLineOption struct {
	Option     string `json:"option"`
	Parameters []struct {
		Name string `json:"name"`
	} `json:"parameters"`
}

// Probe builds a Set by interrogating a QEMU monitor.
func Probe(ctx context.Context, r Runner) (*Set, error) {
	var ver qmpVersion
	if err := run(ctx, r, "query-version", nil, &ver); err != nil {
		return nil, err
	}
	version := fmt.Sprintf("%d.%d.%d", ver.QEMU.Major, ver.QEMU.Minor, ver.QEMU.Micro)

	var flags []Flag
	for _, g := range versionGated {
		if ver.QEMU.Major > g.major || (ver.QEMU.Major == g.major && ver.QEMU.Minor >= g.minor) {
			flags = append(flags, g.flags...)
		}
	}

	var types []qomType
	if err := run(ctx, r, "qom-list-types", nil, &types); err != nil {
		return nil, err
	}
	for _, t := range types {
		if f, ok := qomTypes[t.Name]; ok {
			flags = append(flags, f)
		}
	}

	var commands []qmpCommandInfo
	if err := run(ctx, r, "query-commands", nil, &commands); err != nil {
		return nil, err
	}
	for _, c := range commands {
		if c.Name == "query-cpu-model-expansion" {
			flags = append(flags, CPUFeatureProps)
		}
	}

	var options []commandLineOption
	if err := run(ctx, r, "query-command-line-options", nil, &options); err != nil {
		return nil, err
	}
	for _, o := range options {
		if f, ok := commandLineOptions[o.Option]; ok {
			flags = append(flags, f)
		}
		if o.Option == "spice" {
			for _, p := range o.Parameters {
				if p.Name == "gl" {
					flags = append(flags, SpiceGL)
				}
			}
		}
		if o.Option == "vnc" {
			for _, p := range o.Parameters {
				if p.Name == "websocket" {
					flags = append(flags, VNCWebsocket)
				}
			}
		}
	}

	var machines []machineInfo
	if err := run(ctx, r, "query-machines", nil, &machines); err != nil {
		return nil, err
	}
	defaults := map[DefaultKey]map[string]string{
		DefaultRAMID:    {},
		DefaultCPUModel: {},
	}
	for _, m := range machines {
		for _, name := range []string{m.Name, m.Alias} {
			if name == "" {
				continue
			}
			if m.DefaultRAMID != "" {
				defaults[DefaultRAMID][name] = m.DefaultRAMID
			}
			if m.DefaultCPU != "" {
				defaults[DefaultCPUModel][name] = strings.TrimSuffix(m.DefaultCPU, "-"+archSuffix(m.DefaultCPU))
			}
		}
	}

	return NewSet(version, flags, defaults), nil
}

// ProbeSocket connects to a QMP UNIX socket and probes it.
func ProbeSocket(ctx context.Context, socketPath string) (*Set, error) {
	mon, err := qmp.NewSocketMonitor("unix", socketPath, qmpConnectTimeout)
	if err != nil {
		return nil, fmt.Errorf("create socket monitor: %w", err)
	}
	if err := mon.Connect(); err != nil {
		return nil, fmt.Errorf("connect to qmp: %w", err)
	}
	defer mon.Disconnect()

	return Probe(ctx, mon)
}

func run(ctx context.Context, r Runner, execute string, args any, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cmd, err := json.Marshal(qmp.Command{Execute: execute, Args: args})
	if err != nil {
		return fmt.Errorf("encode %s: %w", execute, err)
	}
	raw, err := r.Run(cmd)
	if err != nil {
		return fmt.Errorf("qmp %s: %w", execute, err)
	}
	var resp struct {
		Return json.RawMessage `json:"return"`
		Error  *struct {
			Class string `json:"class"`
			Desc  string `json:"desc"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return fmt.Errorf("decode %s response: %w", execute, err)
	}
	if resp.Error != nil {
		return fmt.Errorf("qmp %s: %s: %s", execute, resp.Error.Class, resp.Error.Desc)
	}
	if err := json.Unmarshal(resp.Return, out); err != nil {
		return fmt.Errorf("decode %s result: %w", execute, err)
	}
	return nil
}

// archSuffix returns the target suffix of a CPU QOM type name
// ("qemu64-x86_64-cpu" -> "x86_64-cpu").
func archSuffix(typeName string) string {
	parts := strings.Split(typeName, "-")
	if len(parts) < 2 {
		return ""
	}
	last := parts[len(parts)-1]
	if last != "cpu" {
		return ""
	}
	return parts[len(parts)-2] + "-cpu"
}
