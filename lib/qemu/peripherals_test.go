package qemu

import (
	"testing"

	"github.com/onkernel/qsynth/lib/caps"
	"github.com/onkernel/qsynth/lib/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGraphics_VNC(t *testing.T) {
	def := testGuest()
	def.Graphics = []domain.Graphics{{
		Type:      domain.GraphicsVNC,
		Listen:    "::1",
		Port:      5901,
		Websocket: 5700,
		TLS:       true,
		Password:  true,
		Keymap:    "en-us",
	}}
	env := testEnv(nil)
	env.TLS = TLSConfig{DefaultDir: "/etc/pki/qsynth", VNCDir: "/etc/pki/qsynth-vnc"}

	res := synthesize(t, def, modernLegacySyntax(), env)

	assert.Equal(t, []string{"tls-creds-x509,id=vnc-tls-creds0,dir=/etc/pki/qsynth-vnc,endpoint=server,verify-peer=off"}, res.Values("-object"))
	assert.Equal(t, []string{"[::1]:1,websocket=5700,tls-creds=vnc-tls-creds0,password=on"}, res.Values("-vnc"))
	assert.Equal(t, []string{"en-us"}, res.Values("-k"))
	assert.Equal(t, -1, flagIndex(res, "-display"))
}

func TestGraphics_VNCPasswordInFIPSMode(t *testing.T) {
	def := testGuest()
	def.Graphics = []domain.Graphics{{Type: domain.GraphicsVNC, Password: true}}
	env := testEnv(nil)
	env.FIPS = true

	_, err := Synthesize(t.Context(), def, modernCaps(), env)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfigUnsupported)
}

func TestGraphics_Spice(t *testing.T) {
	def := testGuest()
	def.Graphics = []domain.Graphics{{Type: domain.GraphicsSPICE, Port: 5903, Listen: "0.0.0.0", CopyPaste: ptr(false)}}

	res := synthesize(t, def, modernCaps(), testEnv(nil))
	assert.Equal(t, []string{"port=5903,addr=0.0.0.0,disable-ticketing=on,disable-copy-paste=on,seamless-migration=on"}, res.Values("-spice"))
}

func TestGraphics_NoneDisablesDisplay(t *testing.T) {
	res := synthesize(t, testGuest(), modernCaps(), testEnv(nil))
	assert.Equal(t, []string{"none"}, res.Values("-display"))
}

func TestAudio(t *testing.T) {
	def := testGuest()
	def.Audios = []domain.Audio{{ID: 1, Type: "pulseaudio", Server: "unix:/run/user/1000/pulse/native"}}
	def.Sounds = []domain.Sound{{Model: "ich9", Codecs: []string{"duplex", "micro"}}}

	t.Run("audiodev", func(t *testing.T) {
		res := synthesize(t, def, modernLegacySyntax(), testEnv(nil))

		assert.Equal(t, []string{"pa,id=audio1,server=unix:/run/user/1000/pulse/native"}, res.Values("-audiodev"))
		hda := argIndex(res, "-device", "ich9-intel-hda,id=sound0")
		duplex := argIndex(res, "-device", "hda-duplex,id=sound0-codec0,bus=sound0.0,cad=0,audiodev=audio1")
		micro := argIndex(res, "-device", "hda-micro,id=sound0-codec1,bus=sound0.0,cad=1,audiodev=audio1")
		require.NotEqual(t, -1, hda)
		require.NotEqual(t, -1, duplex)
		require.NotEqual(t, -1, micro)
		assert.Less(t, hda, duplex)
		assert.Less(t, duplex, micro)
	})

	t.Run("environment", func(t *testing.T) {
		res := synthesize(t, def, modernLegacySyntax().Without(caps.Audiodev), testEnv(nil))

		assert.Empty(t, res.Values("-audiodev"))
		assert.Contains(t, res.Env, "QEMU_AUDIO_DRV=pa")
		assert.Contains(t, res.Env, "QEMU_PA_SERVER=unix:/run/user/1000/pulse/native")
		assert.NotEqual(t, -1, argIndex(res, "-device", "hda-duplex,id=sound0-codec0,bus=sound0.0,cad=0"))
	})
}

func TestWatchdog_ActionEmittedOnce(t *testing.T) {
	def := testGuest()
	def.Watchdogs = []domain.Watchdog{
		{Model: "itco", Action: "dump"},
		{Model: "i6300esb", Action: "reset"},
	}

	res := synthesize(t, def, modernLegacySyntax(), testEnv(nil))

	assert.Equal(t, []string{"pause"}, res.Values("-watchdog-action"))
	assert.Contains(t, res.Values("-global"), "ICH9-LPC.noreboot=off")
	assert.NotEqual(t, -1, argIndex(res, "-device", "i6300esb,id=watchdog1"))
}

func TestHostdev(t *testing.T) {
	def := testGuest()
	def.Hostdevs = []domain.Hostdev{
		{Type: domain.HostdevPCI, HostAddress: &domain.PCIAddress{Bus: 0x3b, Slot: 0, Function: 1}},
		{Type: domain.HostdevUSB, VendorID: 0x046d, ProductID: 0xc52b},
		{Type: domain.HostdevPCI, SysfsPath: "/sys/bus/pci/devices/0000:5e:00.0/"},
	}

	res := synthesize(t, def, modernLegacySyntax(), testEnv(nil))

	assert.NotEqual(t, -1, argIndex(res, "-device", "vfio-pci,host=0000:3b:00.1,id=hostdev0"))
	assert.NotEqual(t, -1, argIndex(res, "-device", "usb-host,vendorid=0x046d,productid=0xc52b,id=hostdev1"))
	assert.NotEqual(t, -1, argIndex(res, "-device", "vfio-pci,host=0000:5e:00.0,id=hostdev2"))
}

func TestBalloon(t *testing.T) {
	def := testGuest()
	def.Memballoon = &domain.Memballoon{Model: "virtio", AutoDeflate: ptr(true), FreePageReporting: ptr(true)}

	res := synthesize(t, def, modernLegacySyntax(), testEnv(nil))
	assert.NotEqual(t, -1, argIndex(res, "-device", "virtio-balloon-pci,id=balloon0,deflate-on-oom=on,free-page-reporting=on"))

	_, err := Synthesize(t.Context(), def, legacyCaps(), testEnv(nil))
	assert.ErrorIs(t, err, ErrConfigUnsupported, "4.1 has neither balloon option")

	def.Memballoon = &domain.Memballoon{Model: "none"}
	res = synthesize(t, def, modernLegacySyntax(), testEnv(nil))
	assert.Equal(t, -1, argIndex(res, "-device", "virtio-balloon"))
}

func TestVsock(t *testing.T) {
	host := newFakeHost(t)
	def := testGuest()
	def.Vsock = &domain.Vsock{CID: 42}

	res := synthesize(t, def, modernLegacySyntax(), testEnv(host))

	require.Len(t, res.Files, 1)
	assert.NotEqual(t, -1, argIndex(res, "-device", "vhost-vsock-pci,id=vsock0,guest-cid=42,vhostfd=3"))
}

func TestLaunchSecurity_SEV(t *testing.T) {
	def := testGuest()
	def.VirtType = domain.VirtKVM
	def.Security = &domain.LaunchSecurity{Type: domain.LaunchSEV, CBitPos: 47, ReducedPhysBits: 1, Policy: 0x33}

	t.Run("confidential guest support", func(t *testing.T) {
		res := synthesize(t, def, modernLegacySyntax(), testEnv(nil))

		assert.Equal(t, []string{"pc-q35-8.2,confidential-guest-support=lsec0"}, res.Values("-machine"))
		assert.Equal(t, []string{"sev-guest,id=lsec0,cbitpos=47,reduced-phys-bits=1,policy=0x33"}, res.Values("-object"))
	})

	t.Run("memory encryption", func(t *testing.T) {
		res := synthesize(t, def, modernLegacySyntax().Without(caps.MachineConfidentialGuest), testEnv(nil))
		assert.Equal(t, []string{"pc-q35-8.2,memory-encryption=lsec0"}, res.Values("-machine"))
	})

	t.Run("snp needs confidential guest support", func(t *testing.T) {
		snp := testGuest()
		snp.VirtType = domain.VirtKVM
		snp.Security = &domain.LaunchSecurity{Type: domain.LaunchSEVSNP, CBitPos: 51, Policy: 0x30000}

		_, err := Synthesize(t.Context(), snp, modernCaps().Without(caps.MachineConfidentialGuest), testEnv(nil))
		assert.ErrorIs(t, err, ErrConfigUnsupported)
	})
}

func TestFinalFlags(t *testing.T) {
	env := testEnv(nil)
	env.Sandbox = true
	env.StartPaused = true
	env.FIPS = true

	res := synthesize(t, testGuest(), modernCaps().With(caps.EnableFIPS), env)

	assert.Equal(t, []string{"on,obsolete=deny,elevateprivileges=deny,spawn=deny,resourcecontrol=deny"}, res.Values("-sandbox"))
	assert.Equal(t, []string{"timestamp=on"}, res.Values("-msg"))
	assert.NotEqual(t, -1, flagIndex(res, "-enable-fips"))
	assert.Equal(t, "-S", res.Args[len(res.Args)-1].Flag)

	_, err := Synthesize(t.Context(), testGuest(), modernCaps().Without(caps.Sandbox), env)
	assert.ErrorIs(t, err, ErrConfigUnsupported)
}
