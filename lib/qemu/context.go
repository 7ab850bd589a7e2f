package qemu

import (
	"context"
	"fmt"
	"os"

	"github.com/onkernel/qsynth/lib/caps"
	"github.com/onkernel/qsynth/lib/domain"
	"github.com/onkernel/qsynth/lib/qemu/props"
	"gvisor.dev/gvisor/pkg/cleanup"
)

// SynthesisContext is the state shared by every builder of one run: the
// allocator, the accumulated arguments and the descriptors to hand over.
type SynthesisContext struct {
	ctx   context.Context
	def   *domain.Guest
	caps  caps.Oracle
	env   *Environment
	alloc *Allocator

	args    []Argument
	files   []*os.File
	envVars []string

	nextFDSet uint
	masterKey bool
	// objects records shared backend objects already emitted, by id.
	objects map[string]bool

	legacyUSB  int
	usbEmitted bool
	// systemRAM is the id of the base RAM backend object, if one is used.
	systemRAM string
}

func newSynthesisContext(ctx context.Context, def *domain.Guest, oracle caps.Oracle, env *Environment) *SynthesisContext {
	return &SynthesisContext{
		ctx:     ctx,
		def:     def,
		caps:    oracle,
		env:     env,
		alloc:   NewAllocator(def),
		objects: make(map[string]bool),
	}
}

func (c *SynthesisContext) has(f caps.Flag) bool {
	return c.caps.Supports(f)
}

// require fails with ErrConfigUnsupported when f is missing.
func (c *SynthesisContext) require(f caps.Flag, what string) error {
	if c.has(f) {
		return nil
	}
	return unsupported("%s is not supported by this QEMU binary", what)
}

func (c *SynthesisContext) add(flag, value string) {
	c.args = append(c.args, Argument{Flag: flag, Value: value})
}

func (c *SynthesisContext) addFlag(flag string) {
	c.args = append(c.args, Argument{Flag: flag, Switch: true})
}

func (c *SynthesisContext) addProps(flag string, p *props.Props, structured bool) error {
	v, err := p.Render(structured)
	if err != nil {
		return inconsistent("%s: %v", flag, err)
	}
	c.add(flag, v)
	return nil
}

func (c *SynthesisContext) addObject(p *props.Props) error {
	return c.addProps("-object", p, c.has(caps.ObjectJSON))
}

func (c *SynthesisContext) addDevice(p *props.Props) error {
	return c.addProps("-device", p, c.has(caps.DeviceJSON))
}

func (c *SynthesisContext) addNetdev(p *props.Props) error {
	return c.addProps("-netdev", p, c.has(caps.NetdevJSON))
}

func (c *SynthesisContext) addBlockdev(p *props.Props) error {
	return c.addProps("-blockdev", p, true)
}

func (c *SynthesisContext) setEnv(key, value string) {
	c.envVars = append(c.envVars, key+"="+value)
}

// scope runs fn as the construction of one device. Descriptors registered
// while fn runs are closed and forgotten if it fails.
func (c *SynthesisContext) scope(fn func() error) error {
	mark := len(c.files)
	cu := cleanup.Make(func() {
		_ = closeFiles(c.files[mark:])
		c.files = c.files[:mark]
	})
	defer cu.Clean()

	if err := fn(); err != nil {
		return err
	}
	cu.Release()
	return nil
}

// passFile registers f for inheritance and returns its descriptor number in QEMU.
func (c *SynthesisContext) passFile(f *os.File) int {
	c.files = append(c.files, f)
	return firstPassedFD + len(c.files) - 1
}

// addFDSet places the inherited descriptor fd into a new fd set and returns
// the path QEMU opens it by.
func (c *SynthesisContext) addFDSet(fd int, opaque string) string {
	set := c.nextFDSet
	c.nextFDSet++
	p := props.New().Set("set", set).Set("fd", fd).Str("opaque", opaque)
	c.add("-add-fd", p.Legacy())
	return fmt.Sprintf("/dev/fdset/%d", set)
}

func (c *SynthesisContext) host() (HostResources, error) {
	if c.env.Host == nil {
		return nil, inconsistent("no host resource provider configured")
	}
	return c.env.Host, nil
}

func (c *SynthesisContext) openDevice(path string, flag int) (int, error) {
	h, err := c.host()
	if err != nil {
		return 0, err
	}
	f, err := h.OpenDevice(c.ctx, path, flag)
	if err != nil {
		return 0, acquisition(err, "open %s", path)
	}
	return c.passFile(f), nil
}

func (c *SynthesisContext) listenUnix(path string) (int, error) {
	h, err := c.host()
	if err != nil {
		return 0, err
	}
	f, err := h.ListenUnix(c.ctx, path, 0o600)
	if err != nil {
		return 0, acquisition(err, "listen on %s", path)
	}
	return c.passFile(f), nil
}

func (c *SynthesisContext) openTap(ifname string, queues int, vnetHdr bool) ([]int, error) {
	h, err := c.host()
	if err != nil {
		return nil, err
	}
	files, err := h.OpenTap(c.ctx, ifname, queues, vnetHdr)
	if err != nil {
		_ = closeFiles(files)
		return nil, acquisition(err, "open tap %s", ifname)
	}
	fds := make([]int, len(files))
	for i, f := range files {
		fds[i] = c.passFile(f)
	}
	return fds, nil
}

func (c *SynthesisContext) result() *Result {
	return &Result{Args: c.args, Files: c.files, Env: c.envVars}
}

// dropFiles closes and forgets the last n registered descriptors.
func (c *SynthesisContext) dropFiles(n int) {
	if n == 0 {
		return
	}
	mark := len(c.files) - n
	_ = closeFiles(c.files[mark:])
	c.files = c.files[:mark]
}
