package qemu

import (
	"testing"
	"time"

	"github.com/onkernel/qsynth/lib/caps"
	"github.com/onkernel/qsynth/lib/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCore_MachineAndAccel(t *testing.T) {
	res := synthesize(t, testGuest(), modernCaps(), testEnv(nil))

	assert.Equal(t, []string{"pc-q35-8.2"}, res.Values("-machine"))
	assert.Equal(t, []string{"tcg"}, res.Values("-accel"))
	assert.Equal(t, []string{"guest=guest1,debug-threads=on"}, res.Values("-name"))
	assert.Equal(t, []string{"c7a5fdbd-edaf-9455-926a-d65c16db1809"}, res.Values("-uuid"))
	assert.Equal(t, []string{"base=utc"}, res.Values("-rtc"))
	assert.Equal(t, -1, flagIndex(res, "-cpu"), "no model and no features means no -cpu")

	assert.Less(t, flagIndex(res, "-machine"), flagIndex(res, "-m"))
	assert.Less(t, flagIndex(res, "-smp"), flagIndex(res, "-no-user-config"))
	assert.Less(t, flagIndex(res, "-no-user-config"), flagIndex(res, "-nodefaults"))
}

func TestCore_Environment(t *testing.T) {
	def := testGuest()
	def.Clock = domain.Clock{Offset: domain.ClockTimezone, Timezone: "Europe/Paris"}

	res := synthesize(t, def, modernCaps(), testEnv(nil))

	assert.Equal(t, []string{
		"LC_ALL=C",
		"HOME=/var/lib/qsynth/guests/guest1",
		"XDG_DATA_HOME=/var/lib/qsynth/guests/guest1/.local/share",
		"XDG_CACHE_HOME=/var/lib/qsynth/guests/guest1/.cache",
		"XDG_CONFIG_HOME=/var/lib/qsynth/guests/guest1/.config",
		"TZ=Europe/Paris",
	}, res.Env)
	assert.Equal(t, []string{"base=localtime"}, res.Values("-rtc"))
}

func TestCore_CPUFeatures(t *testing.T) {
	def := testGuest()
	def.CPU.Model = "Skylake-Client"
	def.CPU.Features = []domain.CPUFeature{
		{Name: "pcid", Policy: domain.FeatureRequire},
		{Name: "hle", Policy: domain.FeatureDisable},
	}
	def.Features.HyperV = &domain.HyperVFeatures{Relaxed: ptr(true), Spinlocks: ptr(true)}

	res := synthesize(t, def, modernCaps(), testEnv(nil))
	assert.Equal(t, []string{"Skylake-Client,pcid=on,hle=off,hv-relaxed=on,hv-spinlocks=0x1fff"}, res.Values("-cpu"))

	res = synthesize(t, def, modernCaps().Without(caps.CPUFeatureProps), testEnv(nil))
	assert.Equal(t, []string{"Skylake-Client,+pcid,-hle,hv-relaxed=on,hv-spinlocks=0x1fff"}, res.Values("-cpu"))
}

func TestCore_ParavirtClocks(t *testing.T) {
	tests := []struct {
		name     string
		kvmclock *bool
		hvclock  *bool
		expected string
	}{
		{name: "unset", expected: "qemu64"},
		{name: "kvmclock off", kvmclock: ptr(false), expected: "qemu64,kvmclock=off"},
		{name: "kvmclock on", kvmclock: ptr(true), expected: "qemu64,kvmclock=on"},
		{name: "hypervclock on", hvclock: ptr(true), expected: "qemu64,hv-time=on"},
		{name: "hypervclock off", hvclock: ptr(false), expected: "qemu64,hv-time=off"},
		{name: "both", kvmclock: ptr(false), hvclock: ptr(true), expected: "qemu64,kvmclock=off,hv-time=on"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := testGuest()
			def.CPU.Model = "qemu64"
			if tt.kvmclock != nil {
				def.Clock.Timers = append(def.Clock.Timers, domain.Timer{Name: "kvmclock", Present: tt.kvmclock})
			}
			if tt.hvclock != nil {
				def.Clock.Timers = append(def.Clock.Timers, domain.Timer{Name: "hypervclock", Present: tt.hvclock})
			}

			res := synthesize(t, def, modernCaps(), testEnv(nil))
			assert.Equal(t, []string{tt.expected}, res.Values("-cpu"))
		})
	}
}

func TestCore_HypervClockJoinsHypervGroup(t *testing.T) {
	def := testGuest()
	def.CPU.Model = "qemu64"
	def.Features.HyperV = &domain.HyperVFeatures{Relaxed: ptr(true), VPIndex: ptr(true)}
	def.Clock.Timers = []domain.Timer{{Name: "hypervclock", Present: ptr(true)}}

	res := synthesize(t, def, modernCaps(), testEnv(nil))
	assert.Equal(t, []string{"qemu64,hv-relaxed=on,hv-time=on,hv-vpindex=on"}, res.Values("-cpu"))
}

func TestCore_CPUModes(t *testing.T) {
	def := testGuest()
	def.CPU.Mode = domain.CPUModeHostPassthrough

	_, err := Synthesize(t.Context(), def, modernCaps(), testEnv(nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfigUnsupported)

	def.VirtType = domain.VirtKVM
	res := synthesize(t, def, modernCaps(), testEnv(nil))
	assert.Equal(t, []string{"host"}, res.Values("-cpu"))
	assert.Equal(t, []string{"kvm"}, res.Values("-accel"))

	def.CPU.Mode = domain.CPUModeMaximum
	res = synthesize(t, def, modernCaps(), testEnv(nil))
	assert.Equal(t, []string{"max"}, res.Values("-cpu"))

	env := testEnv(nil)
	env.Arch = "aarch64"
	_, err = Synthesize(t.Context(), def, modernCaps(), env)
	assert.ErrorIs(t, err, ErrConfigUnsupported, "KVM cannot run a foreign architecture")
}

func TestCore_SMPTopology(t *testing.T) {
	def := testGuest()
	def.CPU.MaxVCPUs = 8
	def.CPU.Topology = &domain.Topology{Sockets: 2, Dies: 2, Cores: 2, Threads: 1}

	res := synthesize(t, def, modernCaps(), testEnv(nil))
	assert.Equal(t, []string{"2,maxcpus=8,sockets=2,dies=2,cores=2,threads=1"}, res.Values("-smp"))

	_, err := Synthesize(t.Context(), def, modernCaps().Without(caps.SMPDies), testEnv(nil))
	assert.ErrorIs(t, err, ErrConfigUnsupported)
}

func TestCore_VariableClock(t *testing.T) {
	start := time.Date(2024, 3, 9, 14, 30, 0, 0, time.FixedZone("CET", 3600))
	def := testGuest()
	def.Clock = domain.Clock{
		Offset: domain.ClockVariable,
		Start:  &start,
		Timers: []domain.Timer{
			{Name: "rtc", Track: "guest", TickPolicy: "catchup"},
			{Name: "pit", TickPolicy: "delay"},
		},
	}

	res := synthesize(t, def, modernCaps(), testEnv(nil))

	assert.Equal(t, []string{"base=2024-03-09T13:30:00,clock=vm,driftfix=slew"}, res.Values("-rtc"))
	assert.Contains(t, res.Values("-global"), "kvm-pit.lost_tick_policy=delay")

	def.Clock.Start = nil
	_, err := Synthesize(t.Context(), def, modernCaps(), testEnv(nil))
	assert.ErrorIs(t, err, ErrInternalInconsistency)
}

func TestCore_BootAndLifecycle(t *testing.T) {
	def := testGuest()
	def.Boot = domain.Boot{
		Menu:        ptr(true),
		MenuTimeout: 3000,
		Strict:      true,
		Kernel:      "/var/lib/qsynth/boot/vmlinuz",
		Initrd:      "/var/lib/qsynth/boot/initrd.img",
		Cmdline:     "console=ttyS0 root=/dev/vda1",
	}
	def.Lifecycle.OnReboot = "destroy"
	def.Sysinfo = &domain.Sysinfo{Manufacturer: "Kernel", Product: "qsynth"}

	res := synthesize(t, def, modernCaps(), testEnv(nil))

	assert.Equal(t, []string{"menu=on,splash-time=3000,strict=on"}, res.Values("-boot"))
	assert.Equal(t, []string{"/var/lib/qsynth/boot/vmlinuz"}, res.Values("-kernel"))
	assert.Equal(t, []string{"/var/lib/qsynth/boot/initrd.img"}, res.Values("-initrd"))
	assert.Equal(t, []string{"console=ttyS0 root=/dev/vda1"}, res.Values("-append"))
	assert.Equal(t, []string{"type=1,manufacturer=Kernel,product=qsynth"}, res.Values("-smbios"))
	assert.NotEqual(t, -1, flagIndex(res, "-no-reboot"))
}

func TestCore_PflashFirmware(t *testing.T) {
	def := testGuest()
	def.Boot.Loader = &domain.Loader{Path: "/usr/share/OVMF/OVMF_CODE.fd", Type: domain.LoaderPflash, ReadOnly: true}
	def.Boot.NVRAM = "/var/lib/qsynth/nvram/guest1_VARS.fd"

	t.Run("blockdev", func(t *testing.T) {
		res := synthesize(t, def, modernCaps(), testEnv(nil))

		code := argIndex(res, "-blockdev", `{"driver":"file","filename":"/usr/share/OVMF/OVMF_CODE.fd","node-name":"pflash0-storage"`)
		vars := argIndex(res, "-blockdev", `{"node-name":"pflash1-format","read-only":false,"driver":"raw","file":"pflash1-storage"}`)
		machine := flagIndex(res, "-machine")
		require.NotEqual(t, -1, code)
		require.NotEqual(t, -1, vars)
		assert.Less(t, code, machine)
		assert.Less(t, vars, machine)
		assert.Equal(t, []string{"pc-q35-8.2,pflash0=pflash0-format,pflash1=pflash1-format"}, res.Values("-machine"))
		assert.Equal(t, -1, argIndex(res, "-drive", "file=/usr/share/OVMF"))
	})

	t.Run("drive", func(t *testing.T) {
		res := synthesize(t, def, legacyCaps(), testEnv(nil))

		assert.Equal(t, []string{
			"file=/usr/share/OVMF/OVMF_CODE.fd,if=pflash,format=raw,unit=0,readonly=on",
			"file=/var/lib/qsynth/nvram/guest1_VARS.fd,if=pflash,format=raw,unit=1",
		}, res.Values("-drive"))
		assert.Equal(t, -1, flagIndex(res, "-blockdev"))
	})

	t.Run("secure boot needs smm", func(t *testing.T) {
		secure := testGuest()
		secure.Boot.Loader = &domain.Loader{Path: "/usr/share/OVMF/OVMF_CODE.secboot.fd", Type: domain.LoaderPflash, Secure: true}

		_, err := Synthesize(t.Context(), secure, modernCaps(), testEnv(nil))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrStructuralInvalid)

		secure.Features.SMM = ptr(true)
		res := synthesize(t, secure, modernCaps(), testEnv(nil))
		assert.Contains(t, res.Values("-global"), "driver=cfi.pflash01,property=secure,value=on")
		assert.Equal(t, []string{"pc-q35-8.2,smm=on,pflash0=pflash0-format"}, res.Values("-machine"))
	})
}

func TestCore_IOMMU(t *testing.T) {
	def := testGuest()
	def.IOMMU = &domain.IOMMU{Model: domain.IOMMUIntel, IntRemap: ptr(true), CachingMode: ptr(true)}

	res := synthesize(t, def, modernLegacySyntax(), testEnv(nil))
	assert.NotEqual(t, -1, argIndex(res, "-device", "intel-iommu,intremap=on,caching-mode=on"))
	assert.Equal(t, flagIndex(res, "-device"), argIndex(res, "-device", "intel-iommu"), "the IOMMU precedes every other device")
}

func TestCore_IOThreads(t *testing.T) {
	def := testGuest()
	def.IOThreads = 2

	res := synthesize(t, def, modernLegacySyntax(), testEnv(nil))
	assert.Equal(t, []string{"iothread,id=iothread1", "iothread,id=iothread2"}, res.Values("-object"))
}
