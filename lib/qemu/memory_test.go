package qemu

import (
	"testing"

	"github.com/onkernel/qsynth/lib/caps"
	"github.com/onkernel/qsynth/lib/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func numaGuest() *domain.Guest {
	def := testGuest()
	def.NUMA = []domain.NUMACell{
		{ID: 0, CPUs: "0", Memory: 524288, Distances: map[uint]uint{0: 10, 1: 20}},
		{ID: 1, CPUs: "1", Memory: 524288, Distances: map[uint]uint{0: 20, 1: 10}},
	}
	return def
}

func TestNUMA_MemdevBackends(t *testing.T) {
	res := synthesize(t, numaGuest(), modernLegacySyntax(), testEnv(nil))

	assert.Equal(t, []string{
		"memory-backend-ram,id=ram-node0,size=536870912",
		"memory-backend-ram,id=ram-node1,size=536870912",
	}, res.Values("-object"))
	assert.Equal(t, []string{
		"node,nodeid=0,cpus=0,memdev=ram-node0",
		"node,nodeid=1,cpus=1,memdev=ram-node1",
		"dist,src=0,dst=0,val=10",
		"dist,src=0,dst=1,val=20",
		"dist,src=1,dst=0,val=20",
		"dist,src=1,dst=1,val=10",
	}, res.Values("-numa"))
	assert.Equal(t, []string{"pc-q35-8.2"}, res.Values("-machine"))
}

func TestNUMA_LegacyMem(t *testing.T) {
	def := numaGuest()
	def.NUMA[0].Distances = nil
	def.NUMA[1].Distances = nil

	res := synthesize(t, def, legacyCaps().Without(caps.NUMAMemdev), testEnv(nil))

	assert.Empty(t, res.Values("-object"))
	assert.Equal(t, []string{
		"node,nodeid=0,cpus=0,mem=512",
		"node,nodeid=1,cpus=1,mem=512",
	}, res.Values("-numa"))
}

func TestNUMA_BackingNeedsMemdev(t *testing.T) {
	def := numaGuest()
	def.Memory.Source = domain.MemorySourceMemfd

	_, err := Synthesize(t.Context(), def, legacyCaps().Without(caps.NUMAMemdev), testEnv(nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfigUnsupported)
}

func TestSystemMemory_Hugepages(t *testing.T) {
	def := testGuest()
	def.Memory.Hugepages = []domain.Hugepage{{Size: 2048}}
	env := testEnv(nil)
	env.Hugepages = []HugepageMount{{Size: 2048, Path: "/dev/hugepages"}}

	t.Run("ram object", func(t *testing.T) {
		res := synthesize(t, def, modernLegacySyntax(), env)

		assert.Equal(t, []string{"pc-q35-8.2,memory-backend=pc.ram"}, res.Values("-machine"))
		assert.Equal(t, []string{
			"memory-backend-file,id=pc.ram,x-use-canonical-path-for-ramblock-id=off,mem-path=/dev/hugepages,prealloc=on,size=1073741824",
		}, res.Values("-object"))
		assert.Equal(t, -1, flagIndex(res, "-mem-path"))
	})

	t.Run("mem-path", func(t *testing.T) {
		res := synthesize(t, def, legacyCaps(), env)

		assert.Equal(t, []string{"pc-q35-8.2"}, res.Values("-machine"))
		assert.Equal(t, []string{"/dev/hugepages"}, res.Values("-mem-path"))
		assert.NotEqual(t, -1, flagIndex(res, "-mem-prealloc"))
		assert.Empty(t, res.Values("-object"))
	})

	t.Run("no mount", func(t *testing.T) {
		_, err := Synthesize(t.Context(), def, modernLegacySyntax(), testEnv(nil))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrConfigUnsupported)
	})
}

func TestSystemMemory_SharedMemfd(t *testing.T) {
	def := testGuest()
	def.Memory.Source = domain.MemorySourceMemfd
	def.Memory.Access = domain.MemoryAccessShared

	res := synthesize(t, def, modernLegacySyntax(), testEnv(nil))
	assert.Equal(t, []string{
		"memory-backend-memfd,id=pc.ram,x-use-canonical-path-for-ramblock-id=off,share=on,size=1073741824",
	}, res.Values("-object"))

	_, err := Synthesize(t.Context(), def, legacyCaps(), testEnv(nil))
	assert.ErrorIs(t, err, ErrConfigUnsupported, "memfd needs a named RAM object")
}

func TestSystemMemory_Locked(t *testing.T) {
	def := testGuest()
	def.Memory.Locked = true

	res := synthesize(t, def, modernCaps(), testEnv(nil))
	assert.Equal(t, []string{"mem-lock=on"}, res.Values("-overcommit"))

	_, err := Synthesize(t.Context(), def, modernCaps().Without(caps.Overcommit), testEnv(nil))
	assert.ErrorIs(t, err, ErrConfigUnsupported)
}

func TestMemoryDevice_VirtioMem(t *testing.T) {
	def := testGuest()
	def.Memory.MaxSize = 4194304
	def.MemoryDevs = []domain.MemoryDevice{{
		Model:     domain.MemoryVirtioMem,
		Size:      1048576,
		BlockSize: 2048,
		Requested: 524288,
	}}

	res := synthesize(t, def, modernLegacySyntax(), testEnv(nil))

	backend := argIndex(res, "-object", "memory-backend-ram,id=memvirtiomem0,size=1073741824")
	device := argIndex(res, "-device",
		"virtio-mem-pci,block-size=2097152,requested-size=536870912,memdev=memvirtiomem0,id=virtiomem0")
	require.NotEqual(t, -1, backend)
	require.NotEqual(t, -1, device)
	assert.Less(t, backend, device)
}

func TestMemoryDevice_VirtioTransport(t *testing.T) {
	tests := []struct {
		name    string
		machine string
		arch    string
		dev     domain.MemoryDevice
		want    string
		wantErr error
	}{
		{
			name:    "pmem on a pci slot",
			machine: "pc-q35-8.2",
			arch:    "x86_64",
			dev: domain.MemoryDevice{
				Model: domain.MemoryVirtioPmem,
				Size:  1048576,
				Path:  "/var/lib/qsynth/pmem0.img",
				Info: domain.DeviceInfo{Address: domain.Address{
					Type: domain.AddressPCI,
					PCI:  &domain.PCIAddress{Slot: 5},
				}},
			},
			want: "virtio-pmem-pci,bus=pcie.0,addr=0x5,memdev=memvirtiopmem0,id=virtiopmem0",
		},
		{
			name:    "mem on ccw",
			machine: "s390-ccw-virtio",
			arch:    "s390x",
			dev:     domain.MemoryDevice{Model: domain.MemoryVirtioMem, Size: 1048576, BlockSize: 2048},
			wantErr: ErrConfigUnsupported,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := testGuest()
			def.Machine, def.Arch = tt.machine, tt.arch
			def.Memory.MaxSize = 4194304
			def.MemoryDevs = []domain.MemoryDevice{tt.dev}
			c := newSynthesisContext(t.Context(), def, modernLegacySyntax(), testEnv(nil))

			err := c.buildMemoryDevice(0, &def.MemoryDevs[0])
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Empty(t, c.args)
				return
			}
			require.NoError(t, err)
			require.Len(t, c.args, 2)
			assert.Equal(t, Argument{Flag: "-device", Value: tt.want}, c.args[1])
		})
	}
}

func TestParseNodeset(t *testing.T) {
	got, err := parseNodeset("0-2,5, 1")
	require.NoError(t, err)
	assert.Equal(t, []uint{0, 1, 2, 5}, got)

	for _, bad := range []string{"", "a", "3-1", ","} {
		_, err := parseNodeset(bad)
		assert.Error(t, err, bad)
	}
}
