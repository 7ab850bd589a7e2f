package domain

import (
	"fmt"
	"runtime"
	"time"
)

// hostArch maps GOARCH to QEMU target names.
var hostArch = map[string]string{
	"amd64":   "x86_64",
	"386":     "i686",
	"arm64":   "aarch64",
	"arm":     "armv7l",
	"s390x":   "s390x",
	"ppc64le": "ppc64le",
	"riscv64": "riscv64",
}

// HostArch returns the QEMU architecture name of the running host.
func HostArch() string {
	if a, ok := hostArch[runtime.GOARCH]; ok {
		return a
	}
	return runtime.GOARCH
}

// Normalize returns a canonical copy of g. It fills defaults and converts a
// variable clock relative to localtime into an absolute UTC start time, using
// now as the reference. The input is not modified.
func Normalize(g *Guest, now time.Time) (*Guest, error) {
	out, err := g.Clone()
	if err != nil {
		return nil, err
	}

	if out.VirtType == "" {
		out.VirtType = VirtKVM
	}
	if out.Arch == "" {
		out.Arch = HostArch()
	}
	if out.CPU.VCPUs == 0 {
		out.CPU.VCPUs = 1
	}
	if out.CPU.MaxVCPUs == 0 {
		out.CPU.MaxVCPUs = out.CPU.VCPUs
	}
	if out.CPU.MaxVCPUs < out.CPU.VCPUs {
		return nil, fmt.Errorf("maxVcpus %d is less than vcpus %d", out.CPU.MaxVCPUs, out.CPU.VCPUs)
	}

	for i := range out.Disks {
		d := &out.Disks[i]
		if d.Device == "" {
			d.Device = DiskDeviceDisk
		}
		if d.Driver.Format == "" && !d.Source.IsEmpty() {
			d.Driver.Format = "raw"
		}
		if err := assignDriveAddress(d); err != nil {
			return nil, err
		}
	}

	normalizeClock(&out.Clock, now)
	return out, nil
}

func normalizeClock(c *Clock, now time.Time) {
	if c.Offset == "" {
		c.Offset = ClockUTC
	}
	if c.Offset != ClockVariable {
		return
	}

	if c.Basis == BasisLocaltime {
		_, localOffset := now.In(time.Local).Zone()
		c.Adjustment += int64(localOffset)
		c.Basis = BasisUTC
	}
	if c.Basis == "" {
		c.Basis = BasisUTC
	}

	start := now.UTC().Add(time.Duration(c.Adjustment) * time.Second).Truncate(time.Second)
	c.Start = &start
}

// assignDriveAddress derives a drive address from the target name for disks
// on IDE, SATA, SCSI and floppy buses that have none.
func assignDriveAddress(d *Disk) error {
	switch d.Bus {
	case DiskBusIDE, DiskBusSATA, DiskBusSCSI, DiskBusFDC:
	default:
		return nil
	}
	if d.Info.Address.Type != AddressNone {
		return nil
	}
	idx, err := DiskIndex(d.Target)
	if err != nil {
		return err
	}

	addr := &DriveAddress{}
	switch d.Bus {
	case DiskBusIDE:
		addr.Controller = idx / 4
		addr.Bus = (idx % 4) / 2
		addr.Unit = idx % 2
	case DiskBusSATA:
		addr.Controller = idx / 6
		addr.Unit = idx % 6
	case DiskBusSCSI:
		addr.Controller = idx / 7
		addr.Unit = idx % 7
	case DiskBusFDC:
		addr.Unit = idx
	}
	d.Info.Address = Address{Type: AddressDrive, Drive: addr}
	return nil
}
