package qemu

import (
	"testing"

	"github.com/onkernel/qsynth/lib/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocator_AliasIsStable(t *testing.T) {
	a := NewAllocator(testGuest())

	first, err := a.Alias("net", 0)
	require.NoError(t, err)
	again, err := a.Alias("net", 0)
	require.NoError(t, err)
	other, err := a.Alias("net", 1)
	require.NoError(t, err)

	assert.Equal(t, "net0", first)
	assert.Equal(t, first, again)
	assert.Equal(t, "net1", other)

	multi, err := a.Alias("ide", 0, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, "ide0-1-0", multi)
}

func TestAllocator_UserAliases(t *testing.T) {
	a := NewAllocator(testGuest())

	alias, err := a.DeviceAlias(&domain.DeviceInfo{Alias: "ua-boot"}, "net", 0)
	require.NoError(t, err)
	assert.Equal(t, "ua-boot", alias)

	_, err = a.DeviceAlias(&domain.DeviceInfo{Alias: "ua-boot"}, "net", 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInternalInconsistency)
}

func TestAllocator_GeneratedAliasCollision(t *testing.T) {
	a := NewAllocator(testGuest())

	_, err := a.DeviceAlias(&domain.DeviceInfo{Alias: "net1"}, "net", 0)
	require.NoError(t, err)
	_, err = a.Alias("net", 1)
	assert.ErrorIs(t, err, ErrInternalInconsistency)
}

func TestAllocator_ControllerAlias(t *testing.T) {
	tests := []struct {
		name    string
		machine string
		arch    string
		ctype   domain.ControllerType
		index   uint
		want    string
	}{
		{"q35 root", "pc-q35-8.2", "x86_64", domain.ControllerPCI, 0, "pcie.0"},
		{"i440fx root", "pc-i440fx-8.2", "x86_64", domain.ControllerPCI, 0, "pci.0"},
		{"arm virt root", "virt-8.2", "aarch64", domain.ControllerPCI, 0, "pcie.0"},
		{"q35 sata", "q35", "x86_64", domain.ControllerSATA, 0, "ide"},
		{"i440fx ide", "pc", "x86_64", domain.ControllerIDE, 0, "ide"},
		{"i440fx fdc", "pc", "x86_64", domain.ControllerFDC, 0, "fdc0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := testGuest()
			def.Machine, def.Arch = tt.machine, tt.arch
			got, err := NewAllocator(def).ControllerAlias(tt.ctype, tt.index)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAllocator_DefinedControllers(t *testing.T) {
	def := testGuest()
	def.Controllers = []domain.Controller{
		{Type: domain.ControllerPCI, Index: 1, Model: domain.PCIModelRootPort},
		{Type: domain.ControllerUSB, Index: 0, Model: domain.USBModelQemuXHCI},
		{Type: domain.ControllerSCSI, Index: 0, Info: domain.DeviceInfo{Alias: "ua-disks"}},
	}
	a := NewAllocator(def)

	pci, err := a.ControllerAlias(domain.ControllerPCI, 1)
	require.NoError(t, err)
	assert.Equal(t, "pci.1", pci)

	usb, err := a.ControllerAlias(domain.ControllerUSB, 0)
	require.NoError(t, err)
	assert.Equal(t, "usb", usb)

	scsi, err := a.ControllerAlias(domain.ControllerSCSI, 0)
	require.NoError(t, err)
	assert.Equal(t, "ua-disks", scsi)
}

func TestAllocator_ControllerNotFound(t *testing.T) {
	a := NewAllocator(testGuest())

	_, err := a.ControllerAlias(domain.ControllerSCSI, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrControllerNotFound)
	assert.ErrorIs(t, err, ErrInternalInconsistency)

	_, err = a.ControllerAlias(domain.ControllerPCI, 4)
	assert.ErrorIs(t, err, ErrControllerNotFound)

	s390 := testGuest()
	s390.Arch, s390.Machine = "s390x", "s390-ccw-virtio"
	_, err = NewAllocator(s390).ControllerAlias(domain.ControllerPCI, 0)
	assert.ErrorIs(t, err, ErrControllerNotFound)
}

func TestAllocator_DiskAlias(t *testing.T) {
	def := testGuest()
	def.Disks = []domain.Disk{
		virtioDisk("vdc", testDiskPath),
		{Bus: domain.DiskBusIDE, Target: "hdb", Info: domain.DeviceInfo{Address: domain.Address{
			Type: domain.AddressDrive, Drive: &domain.DriveAddress{Unit: 1},
		}}},
		{Bus: domain.DiskBusSCSI, Target: "sda"},
	}
	a := NewAllocator(def)

	alias, err := a.DiskAlias(0)
	require.NoError(t, err)
	assert.Equal(t, "virtio-disk2", alias)

	alias, err = a.DiskAlias(1)
	require.NoError(t, err)
	assert.Equal(t, "ide0-0-1", alias)

	_, err = a.DiskAlias(2)
	assert.ErrorIs(t, err, ErrAddressMissing)
}
