package qemu

import (
	"fmt"
	"strings"

	"github.com/onkernel/qsynth/lib/caps"
	"github.com/onkernel/qsynth/lib/domain"
	"github.com/onkernel/qsynth/lib/qemu/props"
	"github.com/samber/lo"
)

const (
	vncTLSID      = "vnc-tls-creds0"
	vncPortBase   = 5900
	audioIDPrefix = "audio"
)

func audiodevID(id uint) string {
	return fmt.Sprintf("%s%d", audioIDPrefix, id)
}

// audioDrivers maps backend names to the names QEMU uses.
var audioDrivers = map[string]string{
	"pulseaudio": "pa",
	"pa":         "pa",
	"alsa":       "alsa",
	"oss":        "oss",
	"sdl":        "sdl",
	"spice":      "spice",
	"file":       "wav",
	"none":       "none",
	"coreaudio":  "coreaudio",
	"jack":       "jack",
	"pipewire":   "pipewire",
	"dbus":       "dbus",
}

// buildAudio emits -audiodev backends, or selects the single backend through
// the environment on targets without -audiodev.
func (c *SynthesisContext) buildAudio() error {
	for i, a := range c.def.Audios {
		driver, ok := audioDrivers[a.Type]
		if !ok {
			return unsupported("audio backend %q", a.Type)
		}
		if !c.has(caps.Audiodev) {
			if i > 0 {
				return unsupported("multiple audio backends need -audiodev")
			}
			c.setEnv("QEMU_AUDIO_DRV", driver)
			if driver == "wav" && a.Path != "" {
				c.setEnv("QEMU_WAV_PATH", a.Path)
			}
			if driver == "pa" && a.Server != "" {
				c.setEnv("QEMU_PA_SERVER", a.Server)
			}
			continue
		}
		p := props.WithHead("driver", driver).Set("id", audiodevID(a.ID))
		switch driver {
		case "wav":
			p.Str("path", a.Path)
		case "pa":
			p.Str("server", a.Server)
		}
		c.add("-audiodev", p.Legacy())
	}
	return nil
}

// audioRef resolves the audiodev a frontend should use. Zero selects the
// first backend.
func (c *SynthesisContext) audioRef(id uint) string {
	if !c.has(caps.Audiodev) || len(c.def.Audios) == 0 {
		return ""
	}
	if id == 0 {
		id = c.def.Audios[0].ID
	}
	return audiodevID(id)
}

func (c *SynthesisContext) buildVNC(g *domain.Graphics) error {
	if err := c.require(caps.VNC, "VNC graphics"); err != nil {
		return err
	}
	if c.env.FIPS && g.Password && !g.TLS {
		return unsupported("VNC passwords are not allowed in FIPS mode without TLS")
	}

	var display string
	switch {
	case g.Socket != "":
		display = "unix:" + g.Socket
	default:
		listen := lo.CoalesceOrEmpty(g.Listen, "127.0.0.1")
		if strings.Contains(listen, ":") {
			listen = "[" + listen + "]"
		}
		port := g.Port
		if port >= vncPortBase {
			port -= vncPortBase
		} else {
			port = 0
		}
		display = fmt.Sprintf("%s:%d", listen, port)
	}
	p := props.WithHead("display", display)

	if g.Websocket != 0 {
		if err := c.require(caps.VNCWebsocket, "VNC websockets"); err != nil {
			return err
		}
		p.Set("websocket", g.Websocket)
	}
	if g.TLS {
		dir := c.env.TLS.dir(c.env.TLS.VNCDir)
		if err := c.tlsCredsObject(vncTLSID, dir, true, c.env.TLS.VerifyPeer, ""); err != nil {
			return err
		}
		p.Set("tls-creds", vncTLSID)
	}
	p.True("password", g.Password)
	p.Str("share", g.Share)
	if g.PowerControl {
		if err := c.require(caps.VNCPowerControl, "VNC power control"); err != nil {
			return err
		}
		p.Bool("power-control", true)
	}
	if c.has(caps.VNCAudiodev) {
		p.Str("audiodev", c.audioRef(g.Audio))
	}

	c.add("-vnc", p.Legacy())
	if g.Keymap != "" {
		c.add("-k", g.Keymap)
	}
	return nil
}

func (c *SynthesisContext) buildSpice(g *domain.Graphics) error {
	if err := c.require(caps.Spice, "SPICE graphics"); err != nil {
		return err
	}
	p := props.New()

	if g.Socket != "" {
		p.Bool("unix", true).Set("addr", g.Socket)
	} else {
		if g.Port > 0 {
			p.Set("port", g.Port)
		}
		if g.TLSPort > 0 {
			p.Set("tls-port", g.TLSPort)
			p.Set("x509-dir", c.env.TLS.dir(c.env.TLS.SpiceDir))
		}
		p.Str("addr", g.Listen)
	}
	if !g.Password {
		p.Bool("disable-ticketing", true)
	}
	p.Set("tls-channel", g.SecureChannels)
	p.Set("plaintext-channel", g.InsecureChannels)
	p.Str("image-compression", g.ImageCompression).
		Str("jpeg-wan-compression", g.JPEG).
		Str("zlib-glz-wan-compression", g.Zlib).
		Switch("playback-compression", g.Playback).
		Str("streaming-video", g.Streaming)
	if g.CopyPaste != nil && !*g.CopyPaste {
		p.Bool("disable-copy-paste", true)
	}
	if g.FileTransfer != nil && !*g.FileTransfer {
		if err := c.require(caps.SpiceFileXferDisable, "disabling SPICE file transfer"); err != nil {
			return err
		}
		p.Bool("disable-agent-file-xfer", true)
	}
	if g.GL != nil && *g.GL {
		if err := c.require(caps.SpiceGL, "SPICE OpenGL"); err != nil {
			return err
		}
		p.Bool("gl", true)
		if g.Rendernode != "" {
			if err := c.require(caps.SpiceRendernode, "SPICE render node"); err != nil {
				return err
			}
			p.Set("rendernode", g.Rendernode)
		}
	}
	p.Bool("seamless-migration", true)

	c.add("-spice", p.Legacy())
	if g.Keymap != "" {
		c.add("-k", g.Keymap)
	}
	return nil
}

func (c *SynthesisContext) buildGraphics(g *domain.Graphics) error {
	switch g.Type {
	case domain.GraphicsVNC:
		return c.buildVNC(g)
	case domain.GraphicsSPICE:
		return c.buildSpice(g)

	case domain.GraphicsSDL:
		if err := c.require(caps.SDL, "SDL graphics"); err != nil {
			return err
		}
		if g.XAuth != "" {
			c.setEnv("XAUTHORITY", g.XAuth)
		}
		if g.Display != "" {
			c.setEnv("DISPLAY", g.Display)
		}
		p := props.WithHead("type", "sdl")
		if g.GL != nil {
			if err := c.require(caps.SDLGL, "SDL OpenGL"); err != nil {
				return err
			}
			p.Bool("gl", *g.GL)
		}
		c.add("-display", p.Legacy())
		if g.Fullscreen {
			c.addFlag("-full-screen")
		}

	case domain.GraphicsEGLHeadless:
		if err := c.require(caps.EGLHeadless, "egl-headless graphics"); err != nil {
			return err
		}
		p := props.WithHead("type", "egl-headless")
		if g.Rendernode != "" {
			if err := c.require(caps.EGLHeadlessRendernode, "egl-headless render node"); err != nil {
				return err
			}
			p.Set("rendernode", g.Rendernode)
		}
		c.add("-display", p.Legacy())

	case domain.GraphicsDBus:
		if err := c.require(caps.DBusDisplay, "D-Bus display"); err != nil {
			return err
		}
		p := props.WithHead("type", "dbus")
		if g.GL != nil {
			p.Bool("gl", *g.GL)
		}
		p.Str("rendernode", g.Rendernode)
		c.add("-display", p.Legacy())

	default:
		return unsupported("graphics type %q", g.Type)
	}
	return nil
}

// finishGraphics disables the local display when no graphics were requested.
func (c *SynthesisContext) finishGraphics() {
	if len(c.def.Graphics) == 0 {
		c.add("-display", "none")
	}
}
