package qemu

import (
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/onkernel/qsynth/lib/caps"
	"github.com/onkernel/qsynth/lib/domain"
	"github.com/onkernel/qsynth/lib/qemu/props"
	"github.com/samber/lo"
)

const defaultVhostNetPath = "/dev/vhost-net"

// nicModels lists the emulated NIC models. An empty flag means the model is
// always available.
var nicModels = map[string]modelDevice{
	"e1000":      {"e1000", ""},
	"e1000e":     {"e1000e", caps.DeviceE1000E},
	"rtl8139":    {"rtl8139", ""},
	"ne2k_pci":   {"ne2k_pci", ""},
	"pcnet":      {"pcnet", ""},
	"vmxnet3":    {"vmxnet3", ""},
	"spapr-vlan": {"spapr-vlan", ""},
	"usb-net":    {"usb-net", caps.DeviceUSBNet},
}

func joinFDs(fds []int) string {
	return strings.Join(lo.Map(fds, func(fd int, _ int) string { return strconv.Itoa(fd) }), ":")
}

func netQueues(n *domain.NetInterface) int {
	if n.Driver.Queues > 1 {
		return int(n.Driver.Queues)
	}
	return 1
}

// joinHostPort renders a socket endpoint, bracketing IPv6 hosts.
func joinHostPort(host string, port uint) string {
	return net.JoinHostPort(host, strconv.FormatUint(uint64(port), 10))
}

// tapBackend opens the tap queues and, when used, the vhost-net queues of n.
func (c *SynthesisContext) tapBackend(p *props.Props, n *domain.NetInterface) error {
	queues := netQueues(n)
	fds, err := c.openTap(n.Ifname, queues, n.IsVirtio())
	if err != nil {
		return err
	}
	if len(fds) == 1 {
		p.Set("fd", strconv.Itoa(fds[0]))
	} else {
		p.Set("fds", joinFDs(fds))
	}

	if !n.UseVhost() {
		return nil
	}
	path := lo.CoalesceOrEmpty(n.VhostPath, defaultVhostNetPath)
	vhost := make([]int, 0, queues)
	for range queues {
		fd, err := c.openDevice(path, os.O_RDWR)
		if err != nil {
			// vhost is only mandatory when asked for explicitly.
			if n.Driver.Name == "vhost" {
				return err
			}
			c.dropFiles(len(vhost))
			return nil
		}
		vhost = append(vhost, fd)
	}
	p.Bool("vhost", true)
	if len(vhost) == 1 {
		p.Set("vhostfd", strconv.Itoa(vhost[0]))
	} else {
		p.Set("vhostfds", joinFDs(vhost))
	}
	return nil
}

func (c *SynthesisContext) buildNetBackend(alias, id string, n *domain.NetInterface) error {
	var p *props.Props

	switch n.Type {
	case domain.NetEthernet, domain.NetBridge, domain.NetNetwork:
		p = props.Netdev("tap", id)
		if err := c.tapBackend(p, n); err != nil {
			return err
		}

	case domain.NetUser:
		p = props.Netdev("user", id)

	case domain.NetServer, domain.NetClient, domain.NetMcast, domain.NetUDP:
		s := n.Socket
		if s == nil {
			return invalid("socket interface %s has no endpoint", alias)
		}
		remote := joinHostPort(s.Address, s.Port)
		p = props.Netdev("socket", id)
		switch n.Type {
		case domain.NetServer:
			p.Set("listen", remote)
		case domain.NetClient:
			p.Set("connect", remote)
		case domain.NetMcast:
			p.Set("mcast", remote).Str("localaddr", s.LocalAddress)
		case domain.NetUDP:
			p.Set("udp", remote).Set("localaddr", joinHostPort(s.LocalAddress, s.LocalPort))
		}

	case domain.NetVhostUser:
		if err := c.require(caps.NetdevVhostUser, "vhost-user interfaces"); err != nil {
			return err
		}
		if n.VhostUser == nil {
			return invalid("vhost-user interface %s has no socket", alias)
		}
		chr := chardevID(alias)
		src := &domain.ChardevSource{
			Type:      domain.ChardevUnix,
			Path:      n.VhostUser.Path,
			Listen:    n.VhostUser.Server,
			Reconnect: n.VhostUser.Reconnect,
		}
		if err := c.chardevBackend(chr, src); err != nil {
			return err
		}
		p = props.Netdev("vhost-user", id).Set("chardev", chr)
		if q := netQueues(n); q > 1 {
			p.Set("queues", q)
		}

	case domain.NetVDPA:
		if err := c.require(caps.NetdevVhostVDPA, "vhost-vdpa interfaces"); err != nil {
			return err
		}
		fd, err := c.openDevice(n.VDPADev, os.O_RDWR)
		if err != nil {
			return err
		}
		p = props.Netdev("vhost-vdpa", id).Set("vhostdev", c.addFDSet(fd, n.VDPADev))
		if q := netQueues(n); q > 1 {
			p.Set("queues", q)
		}

	default:
		return unsupported("network interface type %q", n.Type)
	}
	return c.addNetdev(p)
}

func (c *SynthesisContext) netFrontend(alias, netdev string, n *domain.NetInterface) error {
	if !n.IsVirtio() {
		m, ok := nicModels[n.Model]
		if !ok {
			return unsupported("network model %q", n.Model)
		}
		if m.flag != "" {
			if err := c.require(m.flag, m.driver); err != nil {
				return err
			}
		}
		p, err := c.device(m.driver, &n.Info)
		if err != nil {
			return err
		}
		p.Set("netdev", netdev).Set("id", alias).Set("mac", n.MAC)
		applyBoot(p, &n.Info)
		return c.addDevice(p)
	}

	p, err := c.virtioDevice("virtio-net", n.VirtioModel(), &n.Info)
	if err != nil {
		return err
	}

	host, guest := n.Driver.Host, n.Driver.Guest
	p.Switch("csum", host.CSum).
		Switch("gso", host.GSO).
		Switch("host_tso4", host.TSO4).
		Switch("host_tso6", host.TSO6).
		Switch("host_ecn", host.ECN).
		Switch("host_ufo", host.UFO).
		Switch("mrg_rxbuf", host.MrgRxBuf).
		Switch("guest_csum", guest.CSum).
		Switch("guest_tso4", guest.TSO4).
		Switch("guest_tso6", guest.TSO6).
		Switch("guest_ecn", guest.ECN).
		Switch("guest_ufo", guest.UFO)

	p.Str("tx", n.Driver.TxMode).
		Switch("ioeventfd", n.Driver.IOEventFD).
		Switch("event_idx", n.Driver.EventIdx)

	if q := netQueues(n); q > 1 {
		p.Bool("mq", true)
		if c.transportOf(&n.Info) != transportCCW {
			p.Set("vectors", 2*q+2)
		}
	}
	if n.Driver.RxQueueSize > 0 {
		if err := c.require(caps.VirtioNetRxQueueSize, "virtio-net rx queue size"); err != nil {
			return err
		}
		p.Set("rx_queue_size", n.Driver.RxQueueSize)
	}
	if n.Driver.TxQueueSize > 0 {
		if err := c.require(caps.VirtioNetTxQueueSize, "virtio-net tx queue size"); err != nil {
			return err
		}
		p.Set("tx_queue_size", n.Driver.TxQueueSize)
	}
	if n.MTU > 0 {
		if err := c.require(caps.VirtioNetHostMTU, "virtio-net host_mtu"); err != nil {
			return err
		}
		p.Set("host_mtu", n.MTU)
	}

	p.Set("netdev", netdev).Set("id", alias).Set("mac", n.MAC)
	applyBoot(p, &n.Info)
	return c.addDevice(p)
}

// buildNet emits the backend and then the frontend of interface i.
func (c *SynthesisContext) buildNet(i int, n *domain.NetInterface) error {
	alias, err := c.alloc.DeviceAlias(&n.Info, "net", uint(i))
	if err != nil {
		return err
	}
	netdev := "host" + alias
	if err := c.buildNetBackend(alias, netdev, n); err != nil {
		return err
	}
	return c.netFrontend(alias, netdev, n)
}
