package qemu

import (
	"fmt"
	"strings"

	"github.com/onkernel/qsynth/lib/caps"
	"github.com/onkernel/qsynth/lib/domain"
	"github.com/onkernel/qsynth/lib/qemu/props"
	"github.com/samber/lo"
)

func chardevID(alias string) string { return "char" + alias }

// chardevBackend emits the -chardev for src under id. Listening UNIX sockets
// are bound here and handed over as descriptors when the target accepts that,
// so the socket permissions are in place before anything can connect.
func (c *SynthesisContext) chardevBackend(id string, src *domain.ChardevSource) error {
	var p *props.Props
	backend := func(name string) *props.Props {
		return props.WithHead("backend", name).Set("id", id)
	}

	switch src.Type {
	case domain.ChardevNull, domain.ChardevVC, domain.ChardevPTY, domain.ChardevStdio:
		p = backend(string(src.Type))

	case domain.ChardevDev:
		name := "tty"
		if strings.HasPrefix(src.Path, "/dev/parport") {
			name = "parport"
		}
		p = backend(name).Set("path", src.Path)

	case domain.ChardevFile:
		p = backend("file").Set("path", src.Path)
		if src.Append != nil {
			if err := c.require(caps.ChardevFileAppend, "chardev file append"); err != nil {
				return err
			}
			p.Bool("append", *src.Append)
		}

	case domain.ChardevPipe:
		p = backend("pipe").Set("path", src.Path)

	case domain.ChardevUDP:
		p = backend("udp").
			Str("host", src.Host).
			Str("port", src.Service).
			Str("localaddr", src.BindHost).
			Str("localport", src.BindService)

	case domain.ChardevTCP:
		p = backend("socket").
			Set("host", src.Host).
			Set("port", src.Service).
			True("telnet", src.Telnet)
		if err := c.chardevSocketMode(p, src); err != nil {
			return err
		}
		if src.TLS != nil && *src.TLS {
			tlsID := fmt.Sprintf("obj%s_tls0", id)
			if err := c.tlsCredsObject(tlsID, c.env.TLS.dir(c.env.TLS.ChardevDir), src.Listen, c.env.TLS.VerifyPeer, ""); err != nil {
				return err
			}
			p.Set("tls-creds", tlsID)
		}

	case domain.ChardevUnix:
		p = backend("socket")
		if src.Listen && c.has(caps.ChardevFDPass) && c.env.Host != nil {
			fd, err := c.listenUnix(src.Path)
			if err != nil {
				return err
			}
			p.Set("fd", fd)
		} else {
			p.Set("path", src.Path)
		}
		if err := c.chardevSocketMode(p, src); err != nil {
			return err
		}

	case domain.ChardevSpiceVMC:
		if err := c.require(caps.ChardevSpicevmc, "spicevmc chardev"); err != nil {
			return err
		}
		p = backend("spicevmc").Set("name", lo.CoalesceOrEmpty(src.Channel, "vdagent"))

	case domain.ChardevSpicePort:
		if err := c.require(caps.ChardevSpiceport, "spiceport chardev"); err != nil {
			return err
		}
		p = backend("spiceport").Set("name", src.Channel)

	case domain.ChardevVDAgent:
		if err := c.require(caps.ChardevVDAgent, "qemu-vdagent chardev"); err != nil {
			return err
		}
		p = backend("qemu-vdagent").Set("name", "vdagent")

	default:
		return unsupported("chardev type %q", src.Type)
	}

	if src.LogFile != "" {
		if err := c.require(caps.ChardevLogfile, "chardev logfile"); err != nil {
			return err
		}
		p.Set("logfile", src.LogFile)
		if src.Append != nil && src.Type != domain.ChardevFile {
			p.Bool("logappend", *src.Append)
		}
	}

	c.add("-chardev", p.Legacy())
	return nil
}

func (c *SynthesisContext) chardevSocketMode(p *props.Props, src *domain.ChardevSource) error {
	if src.Listen {
		p.Bool("server", true).Bool("wait", false)
		return nil
	}
	if src.Reconnect > 0 {
		if err := c.require(caps.ChardevReconnect, "chardev reconnect"); err != nil {
			return err
		}
		p.Set("reconnect", src.Reconnect)
	}
	return nil
}
