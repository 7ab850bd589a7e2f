package hostres

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/onkernel/qsynth/lib/logger"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

// OpenTap attaches queues descriptors to the tap interface ifname. With more
// than one queue the interface must be multiqueue.
func (p *Provider) OpenTap(ctx context.Context, ifname string, queues int, vnetHdr bool) ([]*os.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if queues < 1 {
		queues = 1
	}
	if err := p.ensureTap(ctx, ifname, queues > 1); err != nil {
		return nil, err
	}

	flags := uint16(unix.IFF_TAP | unix.IFF_NO_PI)
	if vnetHdr {
		flags |= unix.IFF_VNET_HDR
	}
	if queues > 1 {
		flags |= unix.IFF_MULTI_QUEUE
	}

	files := make([]*os.File, 0, queues)
	for q := range queues {
		f, err := p.attachQueue(ifname, flags)
		if err != nil {
			for _, f := range files {
				_ = f.Close()
			}
			return nil, fmt.Errorf("attach queue %d of %s: %w", q, ifname, err)
		}
		files = append(files, f)
	}

	logger.FromContext(ctx).DebugContext(ctx, "opened tap queues", "ifname", ifname, "queues", queues, "vnet_hdr", vnetHdr)
	return files, nil
}

func (p *Provider) attachQueue(ifname string, flags uint16) (*os.File, error) {
	f, err := os.OpenFile(p.tunPath, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	ifr, err := unix.NewIfreq(ifname)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	ifr.SetUint16(flags)
	if err := unix.IoctlIfreq(int(f.Fd()), unix.TUNSETIFF, ifr); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("TUNSETIFF: %w", err)
	}
	return f, nil
}

// ensureTap checks that ifname is a tap interface, creating it when it is
// missing and creation is enabled.
func (p *Provider) ensureTap(ctx context.Context, ifname string, multiqueue bool) error {
	link, err := netlink.LinkByName(ifname)
	if err == nil {
		tt, ok := link.(*netlink.Tuntap)
		if !ok {
			return fmt.Errorf("%w: %s is a %s link", ErrNotTap, ifname, link.Type())
		}
		if tt.Mode != netlink.TUNTAP_MODE_TAP {
			return fmt.Errorf("%w: %s is a tun device", ErrNotTap, ifname)
		}
		return nil
	}
	var notFound netlink.LinkNotFoundError
	if !errors.As(err, &notFound) || !p.createTaps {
		return fmt.Errorf("look up %s: %w", ifname, err)
	}

	tap := &netlink.Tuntap{
		LinkAttrs: netlink.LinkAttrs{Name: ifname},
		Mode:      netlink.TUNTAP_MODE_TAP,
		Owner:     uint32(os.Getuid()),
		Group:     uint32(os.Getgid()),
		Flags:     netlink.TUNTAP_NO_PI | netlink.TUNTAP_VNET_HDR,
	}
	if multiqueue {
		tap.Flags |= netlink.TUNTAP_MULTI_QUEUE_DEFAULTS
	}
	if err := netlink.LinkAdd(tap); err != nil {
		return fmt.Errorf("create tap %s: %w", ifname, err)
	}
	created, err := netlink.LinkByName(ifname)
	if err != nil {
		return fmt.Errorf("get tap %s: %w", ifname, err)
	}
	if err := netlink.LinkSetUp(created); err != nil {
		return fmt.Errorf("set tap %s up: %w", ifname, err)
	}
	logger.FromContext(ctx).InfoContext(ctx, "created tap interface", "ifname", ifname, "multiqueue", multiqueue)
	return nil
}
