// Package domain defines the resolved guest definition handed to the
// command-line synthesis engine, plus loading and normalization helpers.
package domain

import "strings"

// VirtType selects the accelerator.
type VirtType string

const (
	VirtKVM VirtType = "kvm"
	VirtTCG VirtType = "tcg"
)

// Guest is a fully resolved description of one virtual machine.
type Guest struct {
	Name     string   `json:"name"`
	UUID     string   `json:"uuid,omitempty"`
	VirtType VirtType `json:"virtType,omitempty"`
	Arch     string   `json:"arch,omitempty"`
	Machine  string   `json:"machine"`

	CPU       CPU             `json:"cpu"`
	Memory    Memory          `json:"memory"`
	NUMA      []NUMACell      `json:"numa,omitempty"`
	IOThreads uint            `json:"iothreads,omitempty"`
	Clock     Clock           `json:"clock,omitempty"`
	Boot      Boot            `json:"boot,omitempty"`
	Features  Features        `json:"features,omitempty"`
	Sysinfo   *Sysinfo        `json:"sysinfo,omitempty"`
	Lifecycle Lifecycle       `json:"lifecycle,omitempty"`
	Security  *LaunchSecurity `json:"launchSecurity,omitempty"`

	Controllers []Controller   `json:"controllers,omitempty"`
	Disks       []Disk         `json:"disks,omitempty"`
	Filesystems []Filesystem   `json:"filesystems,omitempty"`
	Interfaces  []NetInterface `json:"interfaces,omitempty"`
	Smartcards  []Smartcard    `json:"smartcards,omitempty"`
	Serials     []Chardev      `json:"serials,omitempty"`
	Parallels   []Chardev      `json:"parallels,omitempty"`
	Channels    []Chardev      `json:"channels,omitempty"`
	Consoles    []Chardev      `json:"consoles,omitempty"`
	TPMs        []TPM          `json:"tpms,omitempty"`
	RNGs        []RNG          `json:"rngs,omitempty"`
	Redirdevs   []Redirdev     `json:"redirdevs,omitempty"`
	Shmems      []Shmem        `json:"shmems,omitempty"`
	Inputs      []Input        `json:"inputs,omitempty"`
	Audios      []Audio        `json:"audios,omitempty"`
	Graphics    []Graphics     `json:"graphics,omitempty"`
	Videos      []Video        `json:"videos,omitempty"`
	Sounds      []Sound        `json:"sounds,omitempty"`
	Watchdogs   []Watchdog     `json:"watchdogs,omitempty"`
	Hostdevs    []Hostdev      `json:"hostdevs,omitempty"`
	MemoryDevs  []MemoryDevice `json:"memoryDevices,omitempty"`
	Memballoon  *Memballoon    `json:"memballoon,omitempty"`
	Panics      []Panic        `json:"panics,omitempty"`
	Vsock       *Vsock         `json:"vsock,omitempty"`
	IOMMU       *IOMMU         `json:"iommu,omitempty"`
}

// Memory describes base guest RAM.
type Memory struct {
	Size      KiB          `json:"size"`
	MaxSize   KiB          `json:"maxSize,omitempty"`
	Slots     uint         `json:"slots,omitempty"`
	Hugepages []Hugepage   `json:"hugepages,omitempty"`
	Source    MemorySource `json:"source,omitempty"`
	Access    MemoryAccess `json:"access,omitempty"`
	Discard   bool         `json:"discard,omitempty"`
	Locked    bool         `json:"locked,omitempty"`
	Prealloc  bool         `json:"prealloc,omitempty"`
	// Nodeset binds base memory to host NUMA nodes ("0-1,3").
	Nodeset  string `json:"nodeset,omitempty"`
	Policy   string `json:"policy,omitempty"`
	DumpCore *bool  `json:"dumpCore,omitempty"`
}

// Hugepage requests hugepage backing, optionally scoped to guest NUMA nodes.
type Hugepage struct {
	Size    KiB    `json:"size,omitempty"`
	Nodeset string `json:"nodeset,omitempty"`
}

// MemorySource selects the host memory provider.
type MemorySource string

const (
	MemorySourceAnonymous MemorySource = ""
	MemorySourceFile      MemorySource = "file"
	MemorySourceMemfd     MemorySource = "memfd"
)

// MemoryAccess is the host mapping mode.
type MemoryAccess string

const (
	MemoryAccessDefault MemoryAccess = ""
	MemoryAccessShared  MemoryAccess = "shared"
	MemoryAccessPrivate MemoryAccess = "private"
)

// NUMACell is one guest NUMA node.
type NUMACell struct {
	ID        uint          `json:"id"`
	CPUs      string        `json:"cpus,omitempty"`
	Memory    KiB           `json:"memory"`
	Access    MemoryAccess  `json:"access,omitempty"`
	Discard   *bool         `json:"discard,omitempty"`
	Distances map[uint]uint `json:"distances,omitempty"`
}

// Boot covers firmware, boot order and direct kernel boot.
type Boot struct {
	Loader        *Loader `json:"loader,omitempty"`
	NVRAM         string  `json:"nvram,omitempty"`
	Kernel        string  `json:"kernel,omitempty"`
	Initrd        string  `json:"initrd,omitempty"`
	Cmdline       string  `json:"cmdline,omitempty"`
	DTB           string  `json:"dtb,omitempty"`
	Menu          *bool   `json:"menu,omitempty"`
	MenuTimeout   uint    `json:"menuTimeout,omitempty"`
	RebootTimeout *int    `json:"rebootTimeout,omitempty"`
	Strict        bool    `json:"strict,omitempty"`
}

// LoaderType selects how firmware is mapped.
type LoaderType string

const (
	LoaderROM    LoaderType = "rom"
	LoaderPflash LoaderType = "pflash"
)

// Loader is the guest firmware image.
type Loader struct {
	Path     string     `json:"path"`
	Type     LoaderType `json:"type,omitempty"`
	ReadOnly bool       `json:"readOnly,omitempty"`
	Secure   bool       `json:"secure,omitempty"`
}

// Features are machine level toggles.
type Features struct {
	ACPI   *bool           `json:"acpi,omitempty"`
	APIC   bool            `json:"apic,omitempty"`
	PAE    bool            `json:"pae,omitempty"`
	VMPort *bool           `json:"vmport,omitempty"`
	SMM    *bool           `json:"smm,omitempty"`
	GIC    uint            `json:"gicVersion,omitempty"`
	IOAPIC string          `json:"ioapic,omitempty"`
	HPT    string          `json:"hpt,omitempty"`
	PMU    *bool           `json:"pmu,omitempty"`
	KVM    *KVMFeatures    `json:"kvm,omitempty"`
	HyperV *HyperVFeatures `json:"hyperv,omitempty"`
}

// Sysinfo is SMBIOS type 1 data.
type Sysinfo struct {
	Manufacturer string `json:"manufacturer,omitempty"`
	Product      string `json:"product,omitempty"`
	Version      string `json:"version,omitempty"`
	Serial       string `json:"serial,omitempty"`
	UUID         string `json:"uuid,omitempty"`
	SKU          string `json:"sku,omitempty"`
	Family       string `json:"family,omitempty"`
}

// Lifecycle actions.
type Lifecycle struct {
	OnReboot   string `json:"onReboot,omitempty"`
	OnPoweroff string `json:"onPoweroff,omitempty"`
	OnCrash    string `json:"onCrash,omitempty"`
}

// LaunchSecurityType selects the confidential computing technology.
type LaunchSecurityType string

const (
	LaunchSEV    LaunchSecurityType = "sev"
	LaunchSEVSNP LaunchSecurityType = "sev-snp"
	LaunchS390PV LaunchSecurityType = "s390-pv"
)

// LaunchSecurity configures a confidential guest.
type LaunchSecurity struct {
	Type            LaunchSecurityType `json:"type"`
	CBitPos         uint               `json:"cbitpos,omitempty"`
	ReducedPhysBits uint               `json:"reducedPhysBits,omitempty"`
	Policy          uint64             `json:"policy,omitempty"`
	DHCert          string             `json:"dhCert,omitempty"`
	Session         string             `json:"session,omitempty"`
	KernelHashes    bool               `json:"kernelHashes,omitempty"`
}

// MachineFamily returns the normalized family of the machine type:
// "q35", "pc", "virt", "pseries", "s390-ccw-virtio", "microvm" or the raw name.
func (g *Guest) MachineFamily() string {
	m := g.Machine
	switch {
	case m == "q35" || strings.HasPrefix(m, "pc-q35"):
		return "q35"
	case m == "pc" || strings.HasPrefix(m, "pc-i440fx") || strings.HasPrefix(m, "pc-"):
		return "pc"
	case m == "virt" || strings.HasPrefix(m, "virt-"):
		return "virt"
	case strings.HasPrefix(m, "pseries"):
		return "pseries"
	case strings.HasPrefix(m, "s390-ccw-virtio"):
		return "s390-ccw-virtio"
	}
	return m
}

// IsQ35 reports whether the machine is a Q35 chipset.
func (g *Guest) IsQ35() bool { return g.MachineFamily() == "q35" }

// IsI440FX reports whether the machine is a legacy i440fx PC.
func (g *Guest) IsI440FX() bool { return g.MachineFamily() == "pc" }

// IsX86 reports whether the guest architecture is x86.
func (g *Guest) IsX86() bool { return g.Arch == "x86_64" || g.Arch == "i686" }

// IsARMVirt reports whether the guest is an ARM virt machine.
func (g *Guest) IsARMVirt() bool {
	return (g.Arch == "aarch64" || g.Arch == "armv7l") && g.MachineFamily() == "virt"
}

// IsRISCVVirt reports whether the guest is a RISC-V virt machine.
func (g *Guest) IsRISCVVirt() bool {
	return strings.HasPrefix(g.Arch, "riscv") && g.MachineFamily() == "virt"
}

// IsS390 reports whether the guest is s390x.
func (g *Guest) IsS390() bool { return g.Arch == "s390x" }

// IsPSeries reports whether the guest is a POWER pseries machine.
func (g *Guest) IsPSeries() bool { return g.MachineFamily() == "pseries" }

// HasPCIExpressRoot reports whether PCI root bus 0 is a PCIe root complex.
func (g *Guest) HasPCIExpressRoot() bool {
	return g.IsQ35() || g.IsARMVirt() || g.IsRISCVVirt()
}

// HasPCI reports whether the machine has a PCI host bridge at all.
func (g *Guest) HasPCI() bool {
	return !g.IsS390() && g.MachineFamily() != "microvm"
}

// SharedMemory reports whether base memory (or every NUMA cell) is mapped shared.
func (g *Guest) SharedMemory() bool {
	if len(g.NUMA) == 0 {
		return g.Memory.Access == MemoryAccessShared
	}
	for _, cell := range g.NUMA {
		access := cell.Access
		if access == MemoryAccessDefault {
			access = g.Memory.Access
		}
		if access != MemoryAccessShared {
			return false
		}
	}
	return true
}

// TotalVCPUs returns the number of vCPUs present at boot.
func (g *Guest) TotalVCPUs() uint {
	if g.CPU.VCPUs == 0 {
		return 1
	}
	return g.CPU.VCPUs
}
