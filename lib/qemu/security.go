package qemu

import (
	"fmt"
	"os"

	"github.com/onkernel/qsynth/lib/caps"
	"github.com/onkernel/qsynth/lib/domain"
	"github.com/onkernel/qsynth/lib/qemu/props"
)

const vhostVsockPath = "/dev/vhost-vsock"

func (c *SynthesisContext) buildLaunchSecurity() error {
	sec := c.def.Security
	if sec == nil {
		return nil
	}
	var p *props.Props

	switch sec.Type {
	case domain.LaunchSEV:
		if err := c.require(caps.ObjectSEVGuest, "AMD SEV"); err != nil {
			return err
		}
		p = props.Object("sev-guest", launchSecurityID).
			Set("cbitpos", sec.CBitPos).
			Set("reduced-phys-bits", sec.ReducedPhysBits).
			Set("policy", fmt.Sprintf("0x%x", sec.Policy)).
			Str("dh-cert-file", sec.DHCert).
			Str("session-file", sec.Session).
			True("kernel-hashes", sec.KernelHashes)
	case domain.LaunchSEVSNP:
		if err := c.require(caps.ObjectSEVSNPGuest, "AMD SEV-SNP"); err != nil {
			return err
		}
		p = props.Object("sev-snp-guest", launchSecurityID).
			Set("cbitpos", sec.CBitPos).
			Set("reduced-phys-bits", sec.ReducedPhysBits).
			Set("policy", fmt.Sprintf("0x%x", sec.Policy)).
			True("kernel-hashes", sec.KernelHashes)
	case domain.LaunchS390PV:
		if err := c.require(caps.ObjectS390PVGuest, "s390 protected virtualization"); err != nil {
			return err
		}
		p = props.Object("s390-pv-guest", launchSecurityID)
	default:
		return unsupported("launch security type %q", sec.Type)
	}
	return c.addObject(p)
}

func (c *SynthesisContext) buildVsock() error {
	v := c.def.Vsock
	if v == nil {
		return nil
	}
	if err := c.require(caps.DeviceVhostVsock, "vsock"); err != nil {
		return err
	}
	alias, err := c.alloc.DeviceAlias(&v.Info, "vsock", 0)
	if err != nil {
		return err
	}
	fd, err := c.openDevice(vhostVsockPath, os.O_RDWR)
	if err != nil {
		return err
	}
	p, err := c.virtioDevice("vhost-vsock", v.Model, &v.Info)
	if err != nil {
		return err
	}
	p.Set("id", alias).Set("guest-cid", v.CID).Set("vhostfd", fmt.Sprint(fd))
	return c.addDevice(p)
}

// buildFinal emits the process level flags that close the command line.
func (c *SynthesisContext) buildFinal() error {
	if c.env.Sandbox {
		if err := c.require(caps.Sandbox, "seccomp sandbox"); err != nil {
			return err
		}
		p := props.WithHead("mode", "on").
			Set("obsolete", "deny").
			Set("elevateprivileges", "deny").
			Set("spawn", "deny").
			Set("resourcecontrol", "deny")
		c.add("-sandbox", p.Legacy())
	}
	if c.has(caps.MsgTimestamp) {
		c.add("-msg", "timestamp=on")
	}
	if c.env.StartPaused {
		c.addFlag("-S")
	}
	return nil
}

func (c *SynthesisContext) buildFIPS() {
	if c.env.FIPS && c.has(caps.EnableFIPS) {
		c.addFlag("-enable-fips")
	}
}
