package qemu

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/onkernel/qsynth/lib/caps"
	"github.com/onkernel/qsynth/lib/domain"
	"github.com/onkernel/qsynth/lib/qemu/props"
	"github.com/samber/lo"
)

type backendOutcome int

const (
	// backendNotNeeded means the memory is expressed without an object.
	backendNotNeeded backendOutcome = iota
	backendNeeded
)

type memoryBackend struct {
	Outcome backendOutcome
	Props   *props.Props
}

func (b memoryBackend) id() string {
	v, _ := b.Props.Get("id")
	s, _ := v.(string)
	return s
}

type memorySpec struct {
	id        string
	size      domain.KiB
	hugepages bool
	// pageSize selects the hugetlbfs mount; zero picks the default one.
	pageSize domain.KiB
	source   domain.MemorySource
	access   domain.MemoryAccess
	discard  bool
	nodemask string
	policy   string
	prealloc bool
	// path is an explicit backing file (NVDIMM, virtio-pmem).
	path     string
	readonly bool
	// system marks base guest RAM.
	system bool
	// force requires an object even for plain anonymous memory.
	force bool
}

// memoryBackend builds the memory-backend-* object for spec, or reports
// that plain anonymous memory needs none.
func (c *SynthesisContext) memoryBackend(spec memorySpec) (memoryBackend, error) {
	var mount HugepageMount
	if spec.hugepages {
		m, ok := c.env.hugepageMount(spec.pageSize)
		if !ok {
			return memoryBackend{}, unsupported("no hugetlbfs mount for %s pages", spec.pageSize)
		}
		mount = m
	}

	useMemfd := spec.source == domain.MemorySourceMemfd
	useFile := !useMemfd && (spec.source == domain.MemorySourceFile ||
		spec.path != "" ||
		spec.hugepages ||
		spec.discard ||
		spec.access == domain.MemoryAccessShared)

	if !spec.force && !useMemfd && !useFile && spec.nodemask == "" && !spec.prealloc {
		return memoryBackend{Outcome: backendNotNeeded}, nil
	}

	var p *props.Props
	switch {
	case useMemfd:
		if err := c.require(caps.ObjectMemoryMemfd, "memfd memory backend"); err != nil {
			return memoryBackend{}, err
		}
		p = props.Object("memory-backend-memfd", spec.id)
	case useFile:
		if err := c.require(caps.ObjectMemoryFile, "file memory backend"); err != nil {
			return memoryBackend{}, err
		}
		p = props.Object("memory-backend-file", spec.id)
	default:
		p = props.Object("memory-backend-ram", spec.id)
	}

	if spec.system && c.has(caps.MemoryRAMBlockCanonical) {
		p.Bool("x-use-canonical-path-for-ramblock-id", false)
	}

	switch {
	case useMemfd && spec.hugepages:
		if err := c.require(caps.ObjectMemoryMemfdHuge, "hugepages with the memfd memory backend"); err != nil {
			return memoryBackend{}, err
		}
		p.Bool("hugetlb", true).Set("hugetlbsize", mount.Size.Bytes())
	case useFile:
		path := spec.path
		if path == "" {
			path = mount.Path
		}
		if path == "" {
			path = c.env.MemoryBackingDir
		}
		if path == "" {
			return memoryBackend{}, unsupported("file backed memory requested but no memory backing directory is configured")
		}
		p.Set("mem-path", path)
		if spec.discard && c.has(caps.MemoryFileDiscard) {
			p.Bool("discard-data", true)
		}
	}

	switch spec.access {
	case domain.MemoryAccessShared:
		p.Bool("share", true)
	case domain.MemoryAccessPrivate:
		p.Bool("share", false)
	}
	p.True("prealloc", spec.hugepages || spec.prealloc)
	p.Set("size", spec.size.Bytes())
	p.True("readonly", spec.readonly)

	if spec.nodemask != "" {
		nodes, err := parseNodeset(spec.nodemask)
		if err != nil {
			return memoryBackend{}, fmt.Errorf("%w: memory nodeset: %w", ErrStructuralInvalid, err)
		}
		p.Set("host-nodes", nodes)
		p.Set("policy", lo.CoalesceOrEmpty(spec.policy, "bind"))
	}

	return memoryBackend{Outcome: backendNeeded, Props: p}, nil
}

// systemMemory is the plan for base guest RAM.
type systemMemory struct {
	backend     memoryBackend
	memPath     string
	memPrealloc bool
}

// planSystemMemory decides how base RAM is expressed before the machine
// line is built, since the machine references the RAM object by id.
func (c *SynthesisContext) planSystemMemory() (systemMemory, error) {
	if len(c.def.NUMA) > 0 {
		return systemMemory{}, nil
	}

	mem := c.def.Memory
	spec := memorySpec{
		size:      mem.Size,
		hugepages: len(mem.Hugepages) > 0,
		source:    mem.Source,
		access:    mem.Access,
		discard:   mem.Discard,
		nodemask:  mem.Nodeset,
		policy:    mem.Policy,
		prealloc:  mem.Prealloc,
		system:    true,
	}
	if spec.hugepages {
		spec.pageSize = mem.Hugepages[0].Size
	}

	ramID, ok := c.caps.MachineDefault(caps.DefaultRAMID, c.def.Machine)
	if ok && c.has(caps.MachineMemoryBackend) {
		spec.id = ramID
		b, err := c.memoryBackend(spec)
		if err != nil {
			return systemMemory{}, err
		}
		if b.Outcome == backendNeeded {
			c.systemRAM = ramID
		}
		return systemMemory{backend: b}, nil
	}

	// Without a named RAM object only hugepages, file backing and
	// preallocation can be expressed.
	switch {
	case spec.source == domain.MemorySourceMemfd, spec.nodemask != "", spec.discard, spec.access != domain.MemoryAccessDefault:
		return systemMemory{}, unsupported("memory backing options for machine %s need a default RAM backend object", c.def.Machine)
	}
	plan := systemMemory{memPrealloc: spec.prealloc || spec.hugepages}
	switch {
	case spec.hugepages:
		m, ok := c.env.hugepageMount(spec.pageSize)
		if !ok {
			return systemMemory{}, unsupported("no hugetlbfs mount for %s pages", spec.pageSize)
		}
		plan.memPath = m.Path
	case spec.source == domain.MemorySourceFile:
		if c.env.MemoryBackingDir == "" {
			return systemMemory{}, unsupported("file backed memory requested but no memory backing directory is configured")
		}
		plan.memPath = c.env.MemoryBackingDir
	}
	return plan, nil
}

// buildMemory emits -m and the base RAM backend chosen by planSystemMemory.
func (c *SynthesisContext) buildMemory(plan systemMemory) error {
	mem := c.def.Memory
	p := props.New().Set("size", fmt.Sprintf("%dk", uint64(mem.Size)))
	if mem.MaxSize > 0 {
		p.Set("slots", mem.Slots).Set("maxmem", fmt.Sprintf("%dk", uint64(mem.MaxSize)))
	}
	c.add("-m", p.Legacy())

	if plan.backend.Outcome == backendNeeded {
		if err := c.addObject(plan.backend.Props); err != nil {
			return err
		}
	}
	if plan.memPath != "" {
		c.add("-mem-path", plan.memPath)
	}
	if plan.memPrealloc {
		c.addFlag("-mem-prealloc")
	}
	if mem.Locked {
		if err := c.require(caps.Overcommit, "memory locking (-overcommit)"); err != nil {
			return err
		}
		c.add("-overcommit", "mem-lock=on")
	}
	return nil
}

// buildNUMA emits one backend plus -numa node per guest cell, then distances.
func (c *SynthesisContext) buildNUMA() error {
	if len(c.def.NUMA) == 0 {
		return nil
	}
	memdev := c.has(caps.NUMAMemdev)
	mem := c.def.Memory

	for _, cell := range c.def.NUMA {
		spec := memorySpec{
			id:       fmt.Sprintf("ram-node%d", cell.ID),
			size:     cell.Memory,
			source:   mem.Source,
			access:   lo.CoalesceOrEmpty(cell.Access, mem.Access),
			discard:  mem.Discard,
			prealloc: mem.Prealloc,
			force:    memdev,
		}
		if cell.Discard != nil {
			spec.discard = *cell.Discard
		}
		if hp, ok := hugepageForNode(mem.Hugepages, cell.ID); ok {
			spec.hugepages = true
			spec.pageSize = hp.Size
		}

		b, err := c.memoryBackend(spec)
		if err != nil {
			return err
		}

		node := props.WithHead("type", "node").Set("nodeid", cell.ID)
		if cell.CPUs != "" {
			node.Set("cpus", strings.Split(cell.CPUs, ","))
		}
		if b.Outcome == backendNeeded {
			if !memdev {
				return unsupported("NUMA cell %d needs a memory backend but -numa memdev is not supported", cell.ID)
			}
			if err := c.addObject(b.Props); err != nil {
				return err
			}
			node.Set("memdev", b.id())
		} else {
			node.Set("mem", cell.Memory.MiB())
		}
		c.add("-numa", node.Legacy())
	}

	for _, cell := range c.def.NUMA {
		if len(cell.Distances) == 0 {
			continue
		}
		if err := c.require(caps.NUMADist, "NUMA distances"); err != nil {
			return err
		}
		dsts := make([]uint, 0, len(cell.Distances))
		for dst := range cell.Distances {
			dsts = append(dsts, dst)
		}
		slices.Sort(dsts)
		for _, dst := range dsts {
			p := props.WithHead("type", "dist").
				Set("src", cell.ID).
				Set("dst", dst).
				Set("val", cell.Distances[dst])
			c.add("-numa", p.Legacy())
		}
	}
	return nil
}

func hugepageForNode(pages []domain.Hugepage, node uint) (domain.Hugepage, bool) {
	for _, hp := range pages {
		if hp.Nodeset == "" {
			return hp, true
		}
		nodes, err := parseNodeset(hp.Nodeset)
		if err == nil && slices.Contains(nodes, node) {
			return hp, true
		}
	}
	return domain.Hugepage{}, false
}

// parseNodeset expands "0-2,5" into [0 1 2 5].
func parseNodeset(s string) ([]uint, error) {
	var out []uint
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		first, last, isRange := strings.Cut(part, "-")
		start, err := strconv.ParseUint(first, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid nodeset %q", s)
		}
		end := start
		if isRange {
			if end, err = strconv.ParseUint(last, 10, 32); err != nil || end < start {
				return nil, fmt.Errorf("invalid nodeset %q", s)
			}
		}
		for n := start; n <= end; n++ {
			out = append(out, uint(n))
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty nodeset %q", s)
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

// memoryDeviceKinds describes each memory device model. For virtio models
// driver is the base name the transport suffix is added to.
var memoryDeviceKinds = map[domain.MemoryModel]struct {
	alias  string
	driver string
	virtio bool
	flag   caps.Flag
}{
	domain.MemoryDIMM:       {"dimm", "pc-dimm", false, caps.DevicePCDIMM},
	domain.MemoryNVDIMM:     {"nvdimm", "nvdimm", false, caps.DeviceNVDIMM},
	domain.MemoryVirtioPmem: {"virtiopmem", "virtio-pmem", true, caps.DeviceVirtioPmem},
	domain.MemoryVirtioMem:  {"virtiomem", "virtio-mem", true, caps.DeviceVirtioMem},
}

// buildMemoryDevice emits the backend and device of one hotpluggable memory device.
func (c *SynthesisContext) buildMemoryDevice(i int, m *domain.MemoryDevice) error {
	kind, ok := memoryDeviceKinds[m.Model]
	if !ok {
		return unsupported("memory device model %q", m.Model)
	}
	if err := c.require(kind.flag, kind.driver); err != nil {
		return err
	}
	if kind.virtio && c.transportOf(&m.Info) != transportPCI {
		return unsupported("%s is only available on PCI", kind.driver)
	}
	alias, err := c.alloc.DeviceAlias(&m.Info, kind.alias, uint(i))
	if err != nil {
		return err
	}

	mem := c.def.Memory
	spec := memorySpec{
		id:       "mem" + alias,
		size:     m.Size,
		source:   mem.Source,
		access:   lo.CoalesceOrEmpty(m.Access, mem.Access),
		discard:  mem.Discard,
		nodemask: m.Nodemask,
		path:     m.Path,
		readonly: m.ReadOnly && m.Model == domain.MemoryNVDIMM,
		force:    true,
	}
	if m.Discard != nil {
		spec.discard = *m.Discard
	}
	switch {
	case m.PageSize != 0:
		spec.hugepages = true
		spec.pageSize = m.PageSize
	case m.Path == "" && m.Node != nil:
		if hp, ok := hugepageForNode(mem.Hugepages, *m.Node); ok {
			spec.hugepages = true
			spec.pageSize = hp.Size
		}
	case m.Path == "" && len(c.def.NUMA) == 0 && len(mem.Hugepages) > 0:
		spec.hugepages = true
		spec.pageSize = mem.Hugepages[0].Size
	}

	b, err := c.memoryBackend(spec)
	if err != nil {
		return err
	}
	if err := c.addObject(b.Props); err != nil {
		return err
	}

	var p *props.Props
	if kind.virtio {
		if p, err = c.virtioDevice(kind.driver, domain.VirtioModelVirtio, &m.Info); err != nil {
			return err
		}
	} else {
		p = props.Device(kind.driver)
	}
	if m.Node != nil {
		p.Set("node", *m.Node)
	}
	switch m.Model {
	case domain.MemoryNVDIMM:
		p.Uint("label-size", m.LabelSize.Bytes())
		p.True("unarmed", m.ReadOnly)
	case domain.MemoryVirtioMem:
		p.Uint("block-size", m.BlockSize.Bytes())
		p.Set("requested-size", m.Requested.Bytes())
	}
	p.Set("memdev", b.id())
	p.Set("id", alias)
	if m.UUID != "" {
		id, err := uuid.Parse(m.UUID)
		if err != nil {
			return invalid("memory device %s uuid: %v", alias, err)
		}
		p.Set("uuid", id.String())
	}
	if !kind.virtio {
		if err := c.applyAddress(p, &m.Info); err != nil {
			return err
		}
	}
	return c.addDevice(p)
}
