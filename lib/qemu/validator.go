package qemu

import (
	"errors"
	"fmt"
	"math"
	"net"
	"strings"

	"github.com/google/uuid"
	"github.com/mdlayher/vsock"
	"github.com/onkernel/qsynth/lib/domain"
	"github.com/samber/lo"
)

// scsiLimits bounds the drive address of a SCSI device by controller model.
// Units and targets are exclusive upper bounds.
type scsiLimits struct {
	buses, targets, units uint
}

var scsiAddressLimits = map[string]scsiLimits{
	domain.SCSIModelLSILogic:   {buses: 1, targets: 1, units: 7},
	domain.SCSIModelIBMVSCSI:   {buses: 1, targets: 1, units: 64},
	domain.SCSIModelLSISAS1068: {buses: 1, targets: 8, units: 8},
	domain.SCSIModelLSISAS1078: {buses: 1, targets: 8, units: 8},
	domain.SCSIModelVMPVSCSI:   {buses: 1, targets: 64, units: 8},
	domain.SCSIModelVirtio:     {buses: 1, targets: 256, units: 16384},
}

// validator collects every structural problem of a guest definition.
type validator struct {
	def  *domain.Guest
	env  *Environment
	errs []error
}

func (v *validator) fail(format string, args ...any) {
	v.errs = append(v.errs, invalid(format, args...))
}

// Validate checks def for self-contradictions that no capability set could
// resolve. It touches no host resources and runs before any emission.
func Validate(def *domain.Guest, env *Environment) error {
	if env == nil {
		env = &Environment{}
	}
	v := &validator{def: def, env: env}
	v.identity()
	v.aliases()
	v.numa()
	v.memoryDevices()
	v.controllers()
	v.disks()
	v.interfaces()
	v.chardevs()
	v.graphics()
	v.transports()
	v.vsock()
	v.platform()
	v.privileges()
	return errors.Join(v.errs...)
}

func (v *validator) identity() {
	if v.def.Name == "" {
		v.fail("guest has no name")
	}
	if v.def.UUID != "" {
		if _, err := uuid.Parse(v.def.UUID); err != nil {
			v.fail("guest UUID %q: %v", v.def.UUID, err)
		}
	}
	if v.def.Memory.Size == 0 {
		v.fail("guest has no memory")
	}
}

// deviceInfos returns the identity of every device that can carry an alias.
func (v *validator) deviceInfos() []*domain.DeviceInfo {
	def := v.def
	var infos []*domain.DeviceInfo
	collect := func(n int, get func(int) *domain.DeviceInfo) {
		for i := range n {
			infos = append(infos, get(i))
		}
	}
	collect(len(def.Controllers), func(i int) *domain.DeviceInfo { return &def.Controllers[i].Info })
	collect(len(def.Disks), func(i int) *domain.DeviceInfo { return &def.Disks[i].Info })
	collect(len(def.Filesystems), func(i int) *domain.DeviceInfo { return &def.Filesystems[i].Info })
	collect(len(def.Interfaces), func(i int) *domain.DeviceInfo { return &def.Interfaces[i].Info })
	collect(len(def.Smartcards), func(i int) *domain.DeviceInfo { return &def.Smartcards[i].Info })
	collect(len(def.Serials), func(i int) *domain.DeviceInfo { return &def.Serials[i].Info })
	collect(len(def.Parallels), func(i int) *domain.DeviceInfo { return &def.Parallels[i].Info })
	collect(len(def.Channels), func(i int) *domain.DeviceInfo { return &def.Channels[i].Info })
	collect(len(def.Consoles), func(i int) *domain.DeviceInfo { return &def.Consoles[i].Info })
	collect(len(def.TPMs), func(i int) *domain.DeviceInfo { return &def.TPMs[i].Info })
	collect(len(def.RNGs), func(i int) *domain.DeviceInfo { return &def.RNGs[i].Info })
	collect(len(def.Redirdevs), func(i int) *domain.DeviceInfo { return &def.Redirdevs[i].Info })
	collect(len(def.Shmems), func(i int) *domain.DeviceInfo { return &def.Shmems[i].Info })
	collect(len(def.Inputs), func(i int) *domain.DeviceInfo { return &def.Inputs[i].Info })
	collect(len(def.Videos), func(i int) *domain.DeviceInfo { return &def.Videos[i].Info })
	collect(len(def.Sounds), func(i int) *domain.DeviceInfo { return &def.Sounds[i].Info })
	collect(len(def.Watchdogs), func(i int) *domain.DeviceInfo { return &def.Watchdogs[i].Info })
	collect(len(def.Hostdevs), func(i int) *domain.DeviceInfo { return &def.Hostdevs[i].Info })
	collect(len(def.MemoryDevs), func(i int) *domain.DeviceInfo { return &def.MemoryDevs[i].Info })
	collect(len(def.Panics), func(i int) *domain.DeviceInfo { return &def.Panics[i].Info })
	if def.Memballoon != nil {
		infos = append(infos, &def.Memballoon.Info)
	}
	if def.Vsock != nil {
		infos = append(infos, &def.Vsock.Info)
	}
	if def.IOMMU != nil {
		infos = append(infos, &def.IOMMU.Info)
	}
	return infos
}

func (v *validator) aliases() {
	seen := make(map[string]bool)
	for _, info := range v.deviceInfos() {
		if info.Alias == "" {
			continue
		}
		if !strings.HasPrefix(info.Alias, domain.UserAliasPrefix) {
			v.fail("user alias %q must start with %q", info.Alias, domain.UserAliasPrefix)
		}
		if seen[info.Alias] {
			v.fail("user alias %q is used more than once", info.Alias)
		}
		seen[info.Alias] = true
	}
}

func (v *validator) numa() {
	cells := v.def.NUMA
	if len(cells) == 0 {
		return
	}
	var total domain.KiB
	ids := make(map[uint]bool)
	for _, cell := range cells {
		if cell.ID >= uint(len(cells)) || ids[cell.ID] {
			v.fail("NUMA cell id %d is duplicated or out of range", cell.ID)
		}
		ids[cell.ID] = true
		total += cell.Memory

		cpus, err := parseNodeset(cell.CPUs)
		if err != nil {
			v.fail("NUMA cell %d cpus: %v", cell.ID, err)
			continue
		}
		maxCPUs := max(v.def.CPU.MaxVCPUs, v.def.TotalVCPUs())
		if lo.SomeBy(cpus, func(cpu uint) bool { return cpu >= maxCPUs }) {
			v.fail("NUMA cell %d references vCPUs beyond %d", cell.ID, maxCPUs)
		}
		for dst := range cell.Distances {
			if dst >= uint(len(cells)) {
				v.fail("NUMA cell %d has a distance to unknown cell %d", cell.ID, dst)
			}
		}
	}
	if total != v.def.Memory.Size {
		v.fail("NUMA cells hold %s but the guest has %s", total, v.def.Memory.Size)
	}
}

func (v *validator) memoryDevices() {
	mem := v.def.Memory
	for _, m := range v.def.MemoryDevs {
		if mem.MaxSize == 0 {
			v.fail("%s memory device needs a maximum memory size", m.Model)
		}
		if (m.Model == domain.MemoryDIMM || m.Model == domain.MemoryNVDIMM) && mem.Slots == 0 {
			v.fail("%s memory device needs memory slots", m.Model)
		}
		if m.Node != nil && len(v.def.NUMA) > 0 && *m.Node >= uint(len(v.def.NUMA)) {
			v.fail("%s memory device targets unknown NUMA node %d", m.Model, *m.Node)
		}
		if m.UUID != "" {
			if _, err := uuid.Parse(m.UUID); err != nil {
				v.fail("memory device UUID %q: %v", m.UUID, err)
			}
		}
	}
}

func (v *validator) controllers() {
	seen := make(map[string]bool)
	for _, c := range v.def.Controllers {
		key := fmt.Sprintf("%s/%d", c.Type, c.Index)
		if seen[key] {
			v.fail("%s controller %d is defined more than once", c.Type, c.Index)
		}
		seen[key] = true

		if c.IOThread > v.def.IOThreads {
			v.fail("%s controller %d uses iothread %d of %d", c.Type, c.Index, c.IOThread, v.def.IOThreads)
		}
		if c.Type != domain.ControllerPCI {
			continue
		}
		switch c.Model {
		case domain.PCIModelRootPort, domain.PCIModelSwitchDownstream:
			if c.Port == nil {
				v.fail("%s controller %d has no port", c.Model, c.Index)
			}
		case domain.PCIModelExpanderBus, domain.PCIModelExpressExpander:
			if c.BusNr == 0 {
				v.fail("%s controller %d has no bus number", c.Model, c.Index)
			}
		}
	}
}

func (v *validator) scsiModelOf(index uint) string {
	for _, c := range v.def.Controllers {
		if c.Type == domain.ControllerSCSI && c.Index == index {
			if c.Model == domain.SCSIModelVirtioTransitional || c.Model == domain.SCSIModelVirtioNonTransitional {
				return domain.SCSIModelVirtio
			}
			return c.Model
		}
	}
	return domain.SCSIModelAuto
}

func (v *validator) disks() {
	targets := make(map[string]bool)
	for _, d := range v.def.Disks {
		if targets[d.Target] {
			v.fail("disk target %s is used more than once", d.Target)
		}
		targets[d.Target] = true
		if _, err := domain.DiskIndex(d.Target); err != nil {
			v.fail("disk %s: %v", d.Target, err)
		}

		if d.Driver.RErrorPolicy == domain.ErrorPolicyENOSpace {
			v.fail("disk %s: enospace is not a read error policy", d.Target)
		}
		if d.Driver.IOThread > v.def.IOThreads {
			v.fail("disk %s uses iothread %d of %d", d.Target, d.Driver.IOThread, v.def.IOThreads)
		}
		if d.Driver.IOThread > 0 && d.Bus != domain.DiskBusVirtio {
			v.fail("disk %s: iothreads need the virtio bus", d.Target)
		}
		if d.IsLUN() && d.Bus != domain.DiskBusSCSI && d.Bus != domain.DiskBusVirtio {
			v.fail("disk %s: LUN passthrough needs a SCSI or virtio bus", d.Target)
		}
		if d.Source.Type == domain.SourceNetwork && len(d.Source.Hosts) == 0 {
			v.fail("network disk %s has no hosts", d.Target)
		}
		if d.Source.Auth != nil && d.Source.Auth.Secret.IsZero() {
			v.fail("disk %s authentication has no secret", d.Target)
		}

		addr := d.Info.Address.Drive
		if d.Bus != domain.DiskBusSCSI || addr == nil {
			continue
		}
		lim, ok := scsiAddressLimits[v.scsiModelOf(addr.Controller)]
		if !ok {
			continue
		}
		if addr.Bus >= lim.buses || addr.Target >= lim.targets || addr.Unit >= lim.units {
			v.fail("disk %s: SCSI address %d:%d:%d is out of range for its controller", d.Target, addr.Bus, addr.Target, addr.Unit)
		}
	}

	for _, fs := range v.def.Filesystems {
		if fs.Driver == domain.FSDriverVirtioFS && !v.def.SharedMemory() {
			v.fail("virtiofs filesystem %s needs shared guest memory", fs.Target)
		}
		if fs.Target == "" {
			v.fail("filesystem %s has no target tag", fs.Source)
		}
	}
}

func (v *validator) interfaces() {
	for i, n := range v.def.Interfaces {
		if _, err := net.ParseMAC(n.MAC); err != nil {
			v.fail("interface %d: %v", i, err)
		}
		switch {
		case n.Type.UsesTap() && n.Ifname == "":
			v.fail("interface %d: tap backends need an interface name", i)
		case n.Type == domain.NetVhostUser && !v.def.SharedMemory():
			v.fail("vhost-user interface %d needs shared guest memory", i)
		case n.Type == domain.NetVDPA && n.VDPADev == "":
			v.fail("vdpa interface %d has no device", i)
		}
		if n.Driver.Queues > 1 && !n.IsVirtio() {
			v.fail("interface %d: multiqueue needs a virtio model", i)
		}
	}
}

func (v *validator) chardevs() {
	def := v.def
	if len(def.Smartcards) > 1 {
		v.fail("at most one smartcard is supported, got %d", len(def.Smartcards))
	}
	for _, sc := range def.Smartcards {
		if sc.Mode == domain.SmartcardCertificates && len(sc.Certificates) != 3 {
			v.fail("certificate smartcard needs exactly 3 certificates, got %d", len(sc.Certificates))
		}
		if sc.Mode == domain.SmartcardPassthrough && sc.Source == nil {
			v.fail("passthrough smartcard has no source")
		}
	}
	for i, ch := range def.Channels {
		switch ch.TargetType {
		case domain.ChannelGuestFwd:
			if net.ParseIP(ch.GuestFwdAddr) == nil || ch.GuestFwdPort == 0 {
				v.fail("guestfwd channel %d needs an address and port", i)
			}
		case domain.ChannelVirtio, "":
			if ch.Source.Type == domain.ChardevUnix && ch.Source.Path == "" && (v.env.ChannelDir == "" || ch.TargetName == "") {
				v.fail("channel %d has no socket path", i)
			}
		}
	}
	for i, t := range def.TPMs {
		switch t.Backend {
		case domain.TPMBackendEmulator, domain.TPMBackendExternal:
			if t.Socket == "" {
				v.fail("TPM %d: %s backend needs a socket", i, t.Backend)
			}
		case domain.TPMBackendPassthrough:
			if t.Device == "" {
				v.fail("TPM %d: passthrough backend needs a device", i)
			}
		}
	}
	if len(def.TPMs) > 2 {
		v.fail("at most two TPMs are supported, got %d", len(def.TPMs))
	}
	for i, r := range def.RNGs {
		if r.Backend == domain.RNGEGD && r.Source == nil {
			v.fail("rng %d: egd backend has no source", i)
		}
	}
	for i, s := range def.Shmems {
		if s.Name == "" {
			v.fail("shmem %d has no name", i)
		}
		if s.Model == domain.ShmemDoorbell && s.Server == nil {
			v.fail("shmem %s: doorbell model needs a server", s.Name)
		}
	}
}

func (v *validator) graphics() {
	counts := lo.CountValuesBy(v.def.Graphics, func(g domain.Graphics) domain.GraphicsType { return g.Type })
	for t, n := range counts {
		if n > 1 {
			v.fail("only one %s graphics device is supported, got %d", t, n)
		}
	}
	for _, g := range v.def.Graphics {
		if g.Type == domain.GraphicsVNC && g.Socket == "" && g.Port > 0 && g.Port < vncPortBase {
			v.fail("VNC port %d is below %d", g.Port, vncPortBase)
		}
	}
	primaries := lo.CountBy(v.def.Videos, func(vd domain.Video) bool { return vd.Primary })
	if primaries > 1 {
		v.fail("only one primary video device is supported, got %d", primaries)
	}
}

// transports rejects transitional virtio models on devices that do not sit
// on PCI.
func (v *validator) transports() {
	check := func(what string, model domain.VirtioModel, info *domain.DeviceInfo) {
		if !model.Transitional() {
			return
		}
		if transportFor(v.def, info.Address) != transportPCI {
			v.fail("%s: model %s is only meaningful on a PCI address", what, model)
		}
	}
	def := v.def
	for _, d := range def.Disks {
		if d.Bus == domain.DiskBusVirtio {
			check("disk "+d.Target, d.Model, &d.Info)
		} else if d.Model.Transitional() {
			v.fail("disk %s: model %s needs the virtio bus", d.Target, d.Model)
		}
	}
	for i := range def.Interfaces {
		n := &def.Interfaces[i]
		check("interface "+n.MAC, n.VirtioModel(), &n.Info)
	}
	for i := range def.Filesystems {
		check("filesystem "+def.Filesystems[i].Target, def.Filesystems[i].Model, &def.Filesystems[i].Info)
	}
	for i := range def.Inputs {
		check("input", def.Inputs[i].Model, &def.Inputs[i].Info)
	}
	for i := range def.RNGs {
		check("rng", def.RNGs[i].Model, &def.RNGs[i].Info)
	}
	for i := range def.Controllers {
		c := &def.Controllers[i]
		check(string(c.Type)+" controller", virtioControllerModel(c.Model), &c.Info)
	}
	if b := def.Memballoon; b != nil {
		check("memballoon", b.VirtioModel, &b.Info)
	}
	if vs := def.Vsock; vs != nil {
		check("vsock", vs.Model, &vs.Info)
	}
}

func (v *validator) vsock() {
	vs := v.def.Vsock
	if vs == nil {
		return
	}
	if vs.CID <= vsock.Host || vs.CID == math.MaxUint32 {
		v.fail("vsock CID %d is reserved", vs.CID)
	}
}

func (v *validator) platform() {
	def := v.def
	if sec := def.Security; sec != nil {
		switch sec.Type {
		case domain.LaunchSEV, domain.LaunchSEVSNP:
			if !def.IsX86() {
				v.fail("%s launch security needs an x86 guest", sec.Type)
			}
		case domain.LaunchS390PV:
			if !def.IsS390() {
				v.fail("s390 protected virtualization needs an s390x guest")
			}
		}
	}
	if iommu := def.IOMMU; iommu != nil {
		switch iommu.Model {
		case domain.IOMMUIntel, domain.IOMMUAMD:
			if !def.IsQ35() {
				v.fail("%s IOMMU needs a q35 machine", iommu.Model)
			}
		case domain.IOMMUSMMUv3:
			if !def.IsARMVirt() {
				v.fail("smmuv3 IOMMU needs an ARM virt machine")
			}
		}
	}
	if t := def.CPU.Topology; t != nil {
		dies := max(t.Dies, 1)
		if n := t.Sockets * dies * t.Cores * t.Threads; n != max(def.CPU.MaxVCPUs, def.TotalVCPUs()) {
			v.fail("CPU topology provides %d vCPUs, expected %d", n, max(def.CPU.MaxVCPUs, def.TotalVCPUs()))
		}
	}
	if def.CPU.MaxVCPUs > 0 && def.CPU.MaxVCPUs < def.TotalVCPUs() {
		v.fail("maximum vCPUs %d is below the boot vCPU count %d", def.CPU.MaxVCPUs, def.TotalVCPUs())
	}
	if def.Memory.MaxSize > 0 && def.Memory.MaxSize < def.Memory.Size {
		v.fail("maximum memory %s is below the boot memory %s", def.Memory.MaxSize, def.Memory.Size)
	}
}

// privileges rejects devices an unprivileged deployment cannot open.
func (v *validator) privileges() {
	if v.env.Privileged {
		return
	}
	for _, h := range v.def.Hostdevs {
		if h.Type != domain.HostdevUSB {
			v.fail("%s host device assignment needs a privileged deployment", h.Type)
		}
	}
	for _, t := range v.def.TPMs {
		if t.Backend == domain.TPMBackendPassthrough {
			v.fail("TPM passthrough needs a privileged deployment")
		}
	}
}
