package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleGuest = `
name: web01
machine: pc-q35-8.2
arch: x86_64
cpu:
  mode: host-passthrough
  vcpus: 2
memory:
  size: 2GB
disks:
  - bus: virtio
    target: vda
    source:
      type: file
      path: /var/lib/images/web01.qcow2
    driver:
      format: qcow2
interfaces:
  - type: user
    mac: "52:54:00:12:34:56"
clock:
  offset: variable
  basis: localtime
  adjustment: 3600
`

func TestParse(t *testing.T) {
	g, err := Parse([]byte(sampleGuest))
	require.NoError(t, err)

	assert.Equal(t, "web01", g.Name)
	assert.Equal(t, KiB(2*1024*1024), g.Memory.Size)
	assert.Equal(t, uint64(2*1024*1024*1024), g.Memory.Size.Bytes())
	require.Len(t, g.Disks, 1)
	assert.Equal(t, DiskBusVirtio, g.Disks[0].Bus)
	assert.Equal(t, "qcow2", g.Disks[0].Driver.Format)
	assert.True(t, g.IsQ35())
}

func TestParse_RequiresName(t *testing.T) {
	_, err := Parse([]byte("machine: q35\n"))
	assert.Error(t, err)
}

func TestKiB_Unmarshal(t *testing.T) {
	tests := []struct {
		in   string
		want KiB
		err  bool
	}{
		{in: `1024`, want: 1024},
		{in: `"2048"`, want: 2048},
		{in: `"1MB"`, want: 1024},
		{in: `"4GB"`, want: 4 * 1024 * 1024},
		{in: `"1000B"`, err: true},
		{in: `true`, err: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var k KiB
			err := k.UnmarshalJSON([]byte(tt.in))
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, k)
		})
	}
}

func TestNormalize_VariableLocaltimeClock(t *testing.T) {
	g, err := Parse([]byte(sampleGuest))
	require.NoError(t, err)

	loc := time.FixedZone("test", 2*3600)
	oldLocal := time.Local
	time.Local = loc
	defer func() { time.Local = oldLocal }()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	out, err := Normalize(g, now)
	require.NoError(t, err)

	// input untouched
	assert.Equal(t, BasisLocaltime, g.Clock.Basis)
	assert.Nil(t, g.Clock.Start)

	assert.Equal(t, BasisUTC, out.Clock.Basis)
	assert.Equal(t, int64(3600+7200), out.Clock.Adjustment)
	require.NotNil(t, out.Clock.Start)
	assert.Equal(t, time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC), *out.Clock.Start)
}

func TestNormalize_Defaults(t *testing.T) {
	g := &Guest{
		Name:    "d",
		Machine: "pc",
		Disks: []Disk{
			{Bus: DiskBusIDE, Target: "hda", Source: DiskSource{Type: SourceFile, Path: "/a.img"}},
			{Bus: DiskBusIDE, Target: "hdc", Device: DiskDeviceCDROM},
		},
	}
	out, err := Normalize(g, time.Now())
	require.NoError(t, err)

	assert.Equal(t, VirtKVM, out.VirtType)
	assert.NotEmpty(t, out.Arch)
	assert.Equal(t, uint(1), out.CPU.VCPUs)
	assert.Equal(t, ClockUTC, out.Clock.Offset)
	assert.Equal(t, DiskDeviceDisk, out.Disks[0].Device)
	assert.Equal(t, "raw", out.Disks[0].Driver.Format)
	assert.Equal(t, "", out.Disks[1].Driver.Format)
}

func TestNormalize_RejectsShrunkMaxVCPUs(t *testing.T) {
	g := &Guest{Name: "d", Machine: "pc", CPU: CPU{VCPUs: 4, MaxVCPUs: 2}}
	_, err := Normalize(g, time.Now())
	assert.Error(t, err)
}

func TestMachineFamily(t *testing.T) {
	tests := map[string]string{
		"q35":                 "q35",
		"pc-q35-9.0":          "q35",
		"pc":                  "pc",
		"pc-i440fx-8.2":       "pc",
		"virt-9.0":            "virt",
		"pseries-8.2":         "pseries",
		"s390-ccw-virtio-8.2": "s390-ccw-virtio",
		"microvm":             "microvm",
	}
	for machine, want := range tests {
		g := &Guest{Machine: machine}
		assert.Equal(t, want, g.MachineFamily(), machine)
	}
}

func TestSharedMemory(t *testing.T) {
	g := &Guest{Memory: Memory{Access: MemoryAccessShared}}
	assert.True(t, g.SharedMemory())

	g.NUMA = []NUMACell{{ID: 0}, {ID: 1, Access: MemoryAccessPrivate}}
	assert.False(t, g.SharedMemory())

	g.NUMA[1].Access = MemoryAccessShared
	assert.True(t, g.SharedMemory())
}

func TestDiskIndex(t *testing.T) {
	tests := map[string]uint{"vda": 0, "sdb": 1, "vdz": 25, "hdaa": 26, "sdab": 27}
	for target, want := range tests {
		got, err := DiskIndex(target)
		require.NoError(t, err, target)
		assert.Equal(t, want, got, target)
	}

	_, err := DiskIndex("vd")
	assert.Error(t, err)
	_, err = DiskIndex("vd1")
	assert.Error(t, err)
}

func TestNormalize_AssignsDriveAddresses(t *testing.T) {
	g := &Guest{
		Name:    "g",
		Machine: "pc",
		Disks: []Disk{
			{Bus: DiskBusIDE, Target: "hdc", Source: DiskSource{Type: SourceFile, Path: "/a"}},
			{Bus: DiskBusSCSI, Target: "sdi", Source: DiskSource{Type: SourceFile, Path: "/b"}},
			{Bus: DiskBusVirtio, Target: "vda", Source: DiskSource{Type: SourceFile, Path: "/c"}},
		},
	}
	out, err := Normalize(g, time.Now())
	require.NoError(t, err)

	assert.Equal(t, &DriveAddress{Controller: 0, Bus: 1, Unit: 0}, out.Disks[0].Info.Address.Drive)
	assert.Equal(t, &DriveAddress{Controller: 1, Unit: 1}, out.Disks[1].Info.Address.Drive)
	assert.Equal(t, AddressNone, out.Disks[2].Info.Address.Type)
	assert.Equal(t, AddressNone, g.Disks[0].Info.Address.Type, "input must not be modified")
}
