package qemu

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/onkernel/qsynth/lib/caps"
	"github.com/onkernel/qsynth/lib/domain"
	"github.com/onkernel/qsynth/lib/qemu/props"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSecrets map[string][]byte

func (s staticSecrets) LookupSecret(_ context.Context, ref domain.SecretRef) ([]byte, error) {
	if v, ok := s[ref.UUID]; ok {
		return v, nil
	}
	if v, ok := s[ref.Usage]; ok {
		return v, nil
	}
	return nil, errors.New("secret not found")
}

func secretEnv() *Environment {
	env := testEnv(nil)
	env.MasterKey = bytes.Repeat([]byte{0x42}, masterKeySize)
	env.MasterKeyPath = "/var/lib/qsynth/guests/guest1/master-key.aes"
	env.Secrets = staticSecrets{"ceph-client": []byte("AQDlCmNj")}
	return env
}

func TestDisk_BlockdevChain(t *testing.T) {
	def := testGuest()
	def.Disks = []domain.Disk{virtioDisk("vda", testDiskPath)}

	res := synthesize(t, def, modernCaps(), testEnv(nil))

	assert.Equal(t, []string{
		`{"driver":"file","filename":"` + testDiskPath + `","node-name":"blk0-storage","auto-read-only":true}`,
		`{"node-name":"blk0-format","read-only":false,"driver":"qcow2","file":"blk0-storage"}`,
	}, res.Values("-blockdev"))
	assert.Contains(t, res.Values("-device"), `{"driver":"virtio-blk-pci","drive":"blk0-format","id":"virtio-disk0"}`)
	assert.Empty(t, res.Values("-drive"))
}

func TestDisk_CacheModes(t *testing.T) {
	def := testGuest()
	disk := virtioDisk("vda", testDiskPath)
	disk.Driver.Cache = "none"
	def.Disks = []domain.Disk{disk}

	res := synthesize(t, def, modernLegacySyntax(), testEnv(nil))

	blockdevs := res.Values("-blockdev")
	require.Len(t, blockdevs, 2)
	assert.Contains(t, blockdevs[0], `"cache":{"direct":true,"no-flush":false}`)
	assert.Contains(t, blockdevs[1], `"cache":{"direct":true,"no-flush":false}`)
	assert.GreaterOrEqual(t, argIndex(res, "-device", "virtio-blk-pci,drive=blk0-format,id=virtio-disk0,write-cache=on"), 0, res.String())

	t.Run("unknown mode", func(t *testing.T) {
		def := testGuest()
		disk := virtioDisk("vda", testDiskPath)
		disk.Driver.Cache = "sometimes"
		def.Disks = []domain.Disk{disk}

		_, err := Synthesize(context.Background(), def, modernCaps(), testEnv(nil))
		assert.ErrorIs(t, err, ErrConfigUnsupported)
	})
}

func TestDisk_SharedThrottleGroup(t *testing.T) {
	def := testGuest()
	a := virtioDisk("vda", testDiskPath)
	b := virtioDisk("vdb", "/var/lib/qsynth/images/data.qcow2")
	a.Throttle = &domain.Throttle{TotalBytesSec: 1000, GroupName: "gold"}
	b.Throttle = &domain.Throttle{TotalBytesSec: 1000, GroupName: "gold"}
	def.Disks = []domain.Disk{a, b}

	res := synthesize(t, def, modernCaps(), testEnv(nil))

	groups := 0
	for _, obj := range res.Values("-object") {
		if obj == `{"qom-type":"throttle-group","id":"throttle-gold","limits":{"bps-total":1000}}` {
			groups++
		}
	}
	assert.Equal(t, 1, groups, res.String())
	assert.Contains(t, res.Values("-blockdev"), `{"driver":"throttle","node-name":"blk0-throttle","throttle-group":"throttle-gold","file":"blk0-format"}`)
	assert.Contains(t, res.Values("-blockdev"), `{"driver":"throttle","node-name":"blk1-throttle","throttle-group":"throttle-gold","file":"blk1-format"}`)
	assert.GreaterOrEqual(t, argIndex(res, "-device", `{"driver":"virtio-blk-pci","drive":"blk1-throttle"`), 0)
}

func TestDisk_LegacyThrottleAndErrorPolicy(t *testing.T) {
	def := testGuest()
	disk := virtioDisk("vda", testDiskPath)
	disk.Throttle = &domain.Throttle{TotalIOPSSec: 200, ReadBytesSec: 5000, GroupName: "silver"}
	disk.Driver.ErrorPolicy = domain.ErrorPolicyENOSpace
	def.Disks = []domain.Disk{disk}

	res := synthesize(t, def, legacyCaps(), testEnv(nil))

	drives := res.Values("-drive")
	require.Len(t, drives, 1)
	assert.Equal(t,
		"file="+testDiskPath+",if=none,id=drive-virtio-disk0,format=qcow2,werror=enospc,"+
			"throttling.bps-read=5000,throttling.iops-total=200,throttling.group=silver",
		drives[0])

	t.Run("group without capability", func(t *testing.T) {
		_, err := Synthesize(context.Background(), def, legacyCaps().Without(caps.DriveThrottlingGroup), testEnv(nil))
		assert.ErrorIs(t, err, ErrConfigUnsupported)
	})
}

func TestDisk_ThrottleFieldsIndependent(t *testing.T) {
	tests := []struct {
		key string
		set func(*domain.Throttle)
	}{
		{"bps-total", func(t *domain.Throttle) { t.TotalBytesSec = 7 }},
		{"bps-read", func(t *domain.Throttle) { t.ReadBytesSec = 7 }},
		{"bps-write", func(t *domain.Throttle) { t.WriteBytesSec = 7 }},
		{"iops-total", func(t *domain.Throttle) { t.TotalIOPSSec = 7 }},
		{"iops-read", func(t *domain.Throttle) { t.ReadIOPSSec = 7 }},
		{"iops-write", func(t *domain.Throttle) { t.WriteIOPSSec = 7 }},
		{"bps-total-max", func(t *domain.Throttle) { t.TotalBytesSecMax = 7 }},
		{"bps-read-max", func(t *domain.Throttle) { t.ReadBytesSecMax = 7 }},
		{"bps-write-max", func(t *domain.Throttle) { t.WriteBytesSecMax = 7 }},
		{"iops-total-max", func(t *domain.Throttle) { t.TotalIOPSSecMax = 7 }},
		{"iops-read-max", func(t *domain.Throttle) { t.ReadIOPSSecMax = 7 }},
		{"iops-write-max", func(t *domain.Throttle) { t.WriteIOPSSecMax = 7 }},
		{"bps-total-max-length", func(t *domain.Throttle) { t.TotalBytesSecMaxLength = 7 }},
		{"bps-read-max-length", func(t *domain.Throttle) { t.ReadBytesSecMaxLength = 7 }},
		{"bps-write-max-length", func(t *domain.Throttle) { t.WriteBytesSecMaxLength = 7 }},
		{"iops-total-max-length", func(t *domain.Throttle) { t.TotalIOPSSecMaxLength = 7 }},
		{"iops-read-max-length", func(t *domain.Throttle) { t.ReadIOPSSecMaxLength = 7 }},
		{"iops-write-max-length", func(t *domain.Throttle) { t.WriteIOPSSecMaxLength = 7 }},
		{"iops-size", func(t *domain.Throttle) { t.SizeIOPSSec = 7 }},
	}
	require.Len(t, throttleFields, len(tests))

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			th := &domain.Throttle{}
			tt.set(th)

			t.Run("drive", func(t *testing.T) {
				c := newSynthesisContext(context.Background(), testGuest(), legacyCaps(), testEnv(nil))
				p := props.New()
				require.NoError(t, c.legacyThrottle(p, th))
				assert.Equal(t, "throttling."+tt.key+"=7", p.Legacy())
			})

			t.Run("group object", func(t *testing.T) {
				c := newSynthesisContext(context.Background(), testGuest(), modernCaps(), testEnv(nil))
				id, err := c.throttleGroup("blk0", th)
				require.NoError(t, err)
				assert.Equal(t, "throttle-blk0", id)
				assert.Equal(t, []Argument{{
					Flag:  "-object",
					Value: `{"qom-type":"throttle-group","id":"throttle-blk0","limits":{"` + tt.key + `":7}}`,
				}}, c.args)
			})

			t.Run("group object legacy syntax", func(t *testing.T) {
				c := newSynthesisContext(context.Background(), testGuest(), modernLegacySyntax(), testEnv(nil))
				_, err := c.throttleGroup("blk0", th)
				require.NoError(t, err)
				assert.Equal(t, []Argument{{
					Flag:  "-object",
					Value: "throttle-group,id=throttle-blk0,x-" + tt.key + "=7",
				}}, c.args)
			})
		})
	}
}

func TestDisk_EmptyCDROM(t *testing.T) {
	def := testGuest()
	def.Disks = []domain.Disk{{
		Device: domain.DiskDeviceCDROM,
		Bus:    domain.DiskBusSATA,
		Target: "sda",
		Info: domain.DeviceInfo{Address: domain.Address{
			Type:  domain.AddressDrive,
			Drive: &domain.DriveAddress{},
		}},
	}}

	res := synthesize(t, def, modernLegacySyntax(), testEnv(nil))

	assert.Empty(t, res.Values("-blockdev"))
	assert.Contains(t, res.Values("-device"), "ide-cd,bus=ide.0,id=sata0-0-0")
}

func TestDisk_SCSIPlacement(t *testing.T) {
	scsiDisk := func(model string) *domain.Guest {
		def := testGuest()
		def.Controllers = []domain.Controller{{Type: domain.ControllerSCSI, Index: 0, Model: model}}
		def.Disks = []domain.Disk{{
			Device: domain.DiskDeviceDisk,
			Bus:    domain.DiskBusSCSI,
			Target: "sdb",
			Source: domain.DiskSource{Type: domain.SourceFile, Path: testDiskPath},
			Driver: domain.DiskDriver{Format: "raw"},
			Info: domain.DeviceInfo{Address: domain.Address{
				Type:  domain.AddressDrive,
				Drive: &domain.DriveAddress{Unit: 1},
			}},
		}}
		return def
	}

	res := synthesize(t, scsiDisk(domain.SCSIModelVirtio), modernLegacySyntax(), testEnv(nil))
	assert.Contains(t, res.Values("-device"), "virtio-scsi-pci,id=scsi0")
	assert.Contains(t, res.Values("-device"), "scsi-hd,bus=scsi0.0,channel=0,scsi-id=0,lun=1,drive=blk0-format,id=scsi0-0-0-1")

	res = synthesize(t, scsiDisk(domain.SCSIModelLSILogic), modernLegacySyntax(), testEnv(nil))
	assert.Contains(t, res.Values("-device"), "lsi,id=scsi0")
	assert.Contains(t, res.Values("-device"), "scsi-hd,bus=scsi0.0,scsi-id=1,drive=blk0-format,id=scsi0-0-0-1")
}

func TestDisk_RBDWithSecret(t *testing.T) {
	def := testGuest()
	def.Disks = []domain.Disk{{
		Device: domain.DiskDeviceDisk,
		Bus:    domain.DiskBusVirtio,
		Target: "vda",
		Source: domain.DiskSource{
			Type:     domain.SourceNetwork,
			Protocol: domain.ProtocolRBD,
			Name:     "pool/image",
			Hosts:    []domain.Host{{Name: "mon1.example.com"}, {Name: "mon2.example.com", Port: 6790}},
			Auth:     &domain.DiskAuth{Username: "admin", Secret: domain.SecretRef{Usage: "ceph-client"}},
		},
		Driver: domain.DiskDriver{Format: "raw"},
	}}

	res := synthesize(t, def, modernLegacySyntax(), secretEnv())

	objects := res.Values("-object")
	require.Len(t, objects, 2)
	assert.Equal(t, "secret,id=masterKey0,format=raw,file=/var/lib/qsynth/guests/guest1/master-key.aes", objects[0])
	assert.Contains(t, objects[1], "secret,id=virtio-disk0-secret0,data=")
	assert.Contains(t, objects[1], ",keyid=masterKey0,")
	assert.NotContains(t, objects[1], "AQDlCmNj")

	blockdevs := res.Values("-blockdev")
	require.Len(t, blockdevs, 2)
	assert.Equal(t,
		`{"driver":"rbd","pool":"pool","image":"image",`+
			`"server":[{"host":"mon1.example.com","port":"6789"},{"host":"mon2.example.com","port":"6790"}],`+
			`"user":"admin","auth-client-required":["cephx","none"],"key-secret":"virtio-disk0-secret0",`+
			`"node-name":"blk0-storage","auto-read-only":true}`,
		blockdevs[0])
}

func TestDisk_SecretsAreDeterministic(t *testing.T) {
	c := newSynthesisContext(context.Background(), testGuest(), modernCaps(), secretEnv())
	a1, iv1, err := c.wrapSecret("virtio-disk0-secret0", []byte("AQDlCmNj"))
	require.NoError(t, err)
	a2, iv2, err := c.wrapSecret("virtio-disk0-secret0", []byte("AQDlCmNj"))
	require.NoError(t, err)
	assert.Equal(t, a1, a2)
	assert.Equal(t, iv1, iv2)

	_, iv3, err := c.wrapSecret("virtio-disk1-secret0", []byte("AQDlCmNj"))
	require.NoError(t, err)
	assert.NotEqual(t, iv1, iv3)
}

func TestDisk_LegacyRBDInlineKey(t *testing.T) {
	def := testGuest()
	def.Disks = []domain.Disk{{
		Bus:    domain.DiskBusVirtio,
		Target: "vda",
		Source: domain.DiskSource{
			Type:     domain.SourceNetwork,
			Protocol: domain.ProtocolRBD,
			Name:     "pool/image",
			Hosts:    []domain.Host{{Name: "mon1"}},
			Auth:     &domain.DiskAuth{Username: "admin", Secret: domain.SecretRef{Usage: "ceph-client"}},
		},
		Driver: domain.DiskDriver{Format: "raw"},
	}}

	res := synthesize(t, def, legacyCaps().Without(caps.ObjectSecret), secretEnv())

	drives := res.Values("-drive")
	require.Len(t, drives, 1)
	assert.Contains(t, drives[0], `file=rbd:pool/image:id=admin:key=QVFEbENtTmo=:auth_supported=cephx\;none:mon_host=mon1\:6789,`)
	assert.Empty(t, res.Values("-object"))
}

func TestErrorPolicies(t *testing.T) {
	tests := []struct {
		name           string
		driver         domain.DiskDriver
		werror, rerror string
	}{
		{"unset", domain.DiskDriver{}, "", ""},
		{"stop mirrors to reads", domain.DiskDriver{ErrorPolicy: domain.ErrorPolicyStop}, "stop", "stop"},
		{"explicit read policy", domain.DiskDriver{ErrorPolicy: domain.ErrorPolicyStop, RErrorPolicy: domain.ErrorPolicyReport}, "stop", "report"},
		{"enospace", domain.DiskDriver{ErrorPolicy: domain.ErrorPolicyENOSpace}, "enospc", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, r := errorPolicies(&tt.driver)
			assert.Equal(t, tt.werror, w)
			assert.Equal(t, tt.rerror, r)
		})
	}
}
