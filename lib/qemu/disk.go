package qemu

import (
	"encoding/base64"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/onkernel/qsynth/lib/caps"
	"github.com/onkernel/qsynth/lib/domain"
	"github.com/onkernel/qsynth/lib/qemu/props"
	"github.com/samber/lo"
)

var defaultPorts = map[domain.Protocol]uint{
	domain.ProtocolNBD:   10809,
	domain.ProtocolISCSI: 3260,
	domain.ProtocolRBD:   6789,
	domain.ProtocolHTTP:  80,
	domain.ProtocolHTTPS: 443,
}

func hostPort(proto domain.Protocol, h domain.Host) string {
	port := h.Port
	if port == 0 {
		port = defaultPorts[proto]
	}
	return net.JoinHostPort(h.Name, strconv.FormatUint(uint64(port), 10))
}

// diskCredentials resolves the auth secret of a network disk. secretID is
// set when the credential went into a secret object; otherwise password
// holds the plaintext for inline use.
type diskCredentials struct {
	user     string
	secretID string
	password []byte
}

func (c *SynthesisContext) diskCredentials(alias string, src *domain.DiskSource) (diskCredentials, error) {
	if src.Auth == nil {
		return diskCredentials{}, nil
	}
	value, err := c.lookupSecret(src.Auth.Secret)
	if err != nil {
		return diskCredentials{}, err
	}
	creds := diskCredentials{user: src.Auth.Username}
	id := alias + "-secret0"
	ok, err := c.secretObject(id, value)
	if err != nil {
		return diskCredentials{}, err
	}
	if ok {
		creds.secretID = id
	} else {
		creds.password = value
	}
	return creds, nil
}

func (c *SynthesisContext) diskTLS(alias string, src *domain.DiskSource) (string, error) {
	if !src.TLS {
		return "", nil
	}
	id := fmt.Sprintf("obj%s_tls0", alias)
	if err := c.tlsCredsObject(id, c.env.TLS.dir(c.env.TLS.DiskDir), false, true, ""); err != nil {
		return "", err
	}
	return id, nil
}

// splitIQN splits "iqn.2013-07.com.example:target/1" into target and LUN.
func splitIQN(name string) (string, uint, error) {
	target, lun, ok := strings.Cut(name, "/")
	if !ok {
		return target, 0, nil
	}
	n, err := strconv.ParseUint(lun, 10, 32)
	if err != nil {
		return "", 0, invalid("iSCSI source %q has an invalid LUN", name)
	}
	return target, uint(n), nil
}

func diskURL(src *domain.DiskSource) *url.URL {
	return &url.URL{
		Scheme:   string(src.Protocol),
		Host:     hostPort(src.Protocol, src.Hosts[0]),
		Path:     "/" + strings.TrimPrefix(src.Name, "/"),
		RawQuery: src.Query,
	}
}

// rbdSource renders the legacy rbd: pseudo-filename.
func rbdSource(src *domain.DiskSource, creds diskCredentials) string {
	var b strings.Builder
	b.WriteString("rbd:" + src.Name)
	if creds.user != "" {
		b.WriteString(":id=" + creds.user)
		if creds.password != nil {
			b.WriteString(":key=" + base64.StdEncoding.EncodeToString(creds.password))
		}
		b.WriteString(`:auth_supported=cephx\;none`)
	} else {
		b.WriteString(":auth_supported=none")
	}
	if len(src.Hosts) > 0 {
		mons := make([]string, len(src.Hosts))
		for i, h := range src.Hosts {
			mons[i] = strings.ReplaceAll(hostPort(domain.ProtocolRBD, h), ":", `\:`)
		}
		b.WriteString(":mon_host=" + strings.Join(mons, `\;`))
	}
	return b.String()
}

// legacyNetworkFile adds the file part of a -drive for network storage.
func (c *SynthesisContext) legacyNetworkFile(p *props.Props, alias string, src *domain.DiskSource) error {
	if len(src.Hosts) == 0 {
		return invalid("network disk %s has no hosts", alias)
	}
	creds, err := c.diskCredentials(alias, src)
	if err != nil {
		return err
	}
	host := src.Hosts[0]

	switch src.Protocol {
	case domain.ProtocolNBD:
		p.Set("file.driver", "nbd")
		if host.Socket != "" {
			p.Set("file.server.type", "unix").Set("file.server.path", host.Socket)
		} else {
			h, port, _ := net.SplitHostPort(hostPort(src.Protocol, host))
			p.Set("file.server.type", "inet").Set("file.server.host", h).Set("file.server.port", port)
		}
		p.Str("file.export", src.Name)
		tlsID, err := c.diskTLS(alias, src)
		if err != nil {
			return err
		}
		p.Str("file.tls-creds", tlsID)

	case domain.ProtocolISCSI:
		target, lun, err := splitIQN(src.Name)
		if err != nil {
			return err
		}
		if creds.password != nil {
			u := &url.URL{
				Scheme: "iscsi",
				User:   url.UserPassword(creds.user, string(creds.password)),
				Host:   hostPort(src.Protocol, host),
				Path:   fmt.Sprintf("/%s/%d", target, lun),
			}
			p.Set("file", u.String())
			return nil
		}
		p.Set("file.driver", "iscsi").
			Set("file.portal", hostPort(src.Protocol, host)).
			Set("file.target", target).
			Set("file.lun", lun).
			Set("file.transport", "tcp").
			Str("file.user", creds.user).
			Str("file.password-secret", creds.secretID)

	case domain.ProtocolRBD:
		p.Set("file", rbdSource(src, creds))
		p.Str("file.password-secret", creds.secretID)

	case domain.ProtocolHTTP, domain.ProtocolHTTPS:
		u := diskURL(src)
		if creds.password != nil {
			u.User = url.UserPassword(creds.user, string(creds.password))
		}
		if creds.secretID != "" {
			p.Set("file.driver", string(src.Protocol)).
				Set("file.url", u.String()).
				Set("file.username", creds.user).
				Set("file.password-secret", creds.secretID)
			return nil
		}
		p.Set("file", u.String())

	default:
		return unsupported("network disk protocol %q", src.Protocol)
	}
	return nil
}

func errorPolicies(d *domain.DiskDriver) (werror, rerror string) {
	if d.ErrorPolicy == domain.ErrorPolicyENOSpace {
		return "enospc", string(d.RErrorPolicy)
	}
	rerror = string(d.RErrorPolicy)
	if rerror == "" {
		rerror = string(d.ErrorPolicy)
	}
	return string(d.ErrorPolicy), rerror
}

func (c *SynthesisContext) diskEncryption(alias string, d *domain.Disk) (string, error) {
	if d.Source.Encryption == nil {
		return "", nil
	}
	value, err := c.lookupSecret(*d.Source.Encryption)
	if err != nil {
		return "", err
	}
	id := alias + "-encryption-secret0"
	ok, err := c.secretObject(id, value)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", unsupported("encrypted disk %s needs secret objects", alias)
	}
	return id, nil
}

// legacyDrive emits the -drive for d and returns the id the device references.
func (c *SynthesisContext) legacyDrive(alias string, d *domain.Disk) (string, error) {
	id := "drive-" + alias
	p := props.New()

	switch {
	case d.Source.Type == domain.SourceNetwork:
		if err := c.legacyNetworkFile(p, alias, &d.Source); err != nil {
			return "", err
		}
	case !d.Source.IsEmpty():
		p.Set("file", d.Source.Path)
	}
	if d.Source.Reservations != nil {
		pr, err := c.prManager(alias, d.Source.Reservations)
		if err != nil {
			return "", err
		}
		p.Set("file.pr-manager", pr)
	}

	p.Set("if", "none").Set("id", id)
	p.Str("format", d.Driver.Format)

	secretID, err := c.diskEncryption(alias, d)
	if err != nil {
		return "", err
	}
	if secretID != "" {
		if d.Driver.Format == "luks" {
			p.Set("key-secret", secretID)
		} else {
			p.Set("encrypt.format", "luks").Set("encrypt.key-secret", secretID)
		}
	}

	p.True("readonly", d.ReadOnly || d.IsCDROM())
	p.Str("cache", d.Driver.Cache)
	p.Str("aio", d.Driver.IO)
	p.Str("discard", d.Driver.Discard)
	if d.Driver.DetectZeroes != "" {
		if err := c.require(caps.DriveDetectZeroes, "detect_zeroes"); err != nil {
			return "", err
		}
		p.Set("detect-zeroes", d.Driver.DetectZeroes)
	}
	werror, rerror := errorPolicies(&d.Driver)
	p.Str("werror", werror).Str("rerror", rerror)
	if err := c.legacyThrottle(p, d.Throttle); err != nil {
		return "", err
	}
	p.True("copy-on-read", d.Driver.CopyOnRead)
	if g := d.Geometry; g != nil {
		p.Set("cyls", g.Cylinders).Set("heads", g.Heads).Set("secs", g.Sectors).Str("trans", g.Trans)
	}

	c.add("-drive", p.Legacy())
	return id, nil
}

type cacheMode struct {
	direct     bool
	noFlush    bool
	writeCache bool
}

var cacheModes = map[string]cacheMode{
	"none":         {direct: true, writeCache: true},
	"writeback":    {writeCache: true},
	"writethrough": {},
	"directsync":   {direct: true},
	"unsafe":       {noFlush: true, writeCache: true},
}

func (c *SynthesisContext) applyBlockdevCache(p *props.Props, mode string) error {
	if mode == "" || mode == "default" {
		return nil
	}
	m, ok := cacheModes[mode]
	if !ok {
		return unsupported("disk cache mode %q", mode)
	}
	p.Nested("cache", props.New().Bool("direct", m.direct).Bool("no-flush", m.noFlush))
	return nil
}

// blockdevStorage returns the protocol node of d.
func (c *SynthesisContext) blockdevStorage(alias, node string, d *domain.Disk) (*props.Props, error) {
	src := &d.Source
	p := props.New()

	switch src.Type {
	case domain.SourceFile, "":
		p.Set("driver", "file").Set("filename", src.Path)
	case domain.SourceBlock:
		driver := "host_device"
		if d.IsCDROM() {
			driver = "host_cdrom"
		}
		p.Set("driver", driver).Set("filename", src.Path)
	case domain.SourceNetwork:
		if len(src.Hosts) == 0 {
			return nil, invalid("network disk %s has no hosts", alias)
		}
		creds, err := c.diskCredentials(alias, src)
		if err != nil {
			return nil, err
		}
		if creds.password != nil {
			return nil, unsupported("authenticated network disk %s without secret objects", alias)
		}
		host := src.Hosts[0]

		switch src.Protocol {
		case domain.ProtocolNBD:
			server := props.New()
			if host.Socket != "" {
				server.Set("type", "unix").Set("path", host.Socket)
			} else {
				h, port, _ := net.SplitHostPort(hostPort(src.Protocol, host))
				server.Set("type", "inet").Set("host", h).Set("port", port)
			}
			p.Set("driver", "nbd").Set("server", server).Str("export", src.Name)
			tlsID, err := c.diskTLS(alias, src)
			if err != nil {
				return nil, err
			}
			p.Str("tls-creds", tlsID)
		case domain.ProtocolISCSI:
			target, lun, err := splitIQN(src.Name)
			if err != nil {
				return nil, err
			}
			p.Set("driver", "iscsi").
				Set("portal", hostPort(src.Protocol, host)).
				Set("target", target).
				Set("lun", lun).
				Set("transport", "tcp").
				Str("user", creds.user).
				Str("password-secret", creds.secretID)
		case domain.ProtocolRBD:
			pool, image, _ := strings.Cut(src.Name, "/")
			servers := make([]*props.Props, len(src.Hosts))
			for i, h := range src.Hosts {
				hn, port, _ := net.SplitHostPort(hostPort(src.Protocol, h))
				servers[i] = props.New().Set("host", hn).Set("port", port)
			}
			p.Set("driver", "rbd").Set("pool", pool).Set("image", image).Set("server", servers)
			if creds.user != "" {
				p.Set("user", creds.user).
					Set("auth-client-required", []string{"cephx", "none"}).
					Set("key-secret", creds.secretID)
			} else {
				p.Set("auth-client-required", []string{"none"})
			}
		case domain.ProtocolHTTP, domain.ProtocolHTTPS:
			p.Set("driver", string(src.Protocol)).
				Set("url", diskURL(src).String()).
				Str("username", creds.user).
				Str("password-secret", creds.secretID)
		default:
			return nil, unsupported("network disk protocol %q", src.Protocol)
		}
	default:
		return nil, unsupported("disk source type %q", src.Type)
	}

	p.Set("node-name", node).Bool("auto-read-only", true)
	if d.Driver.Discard == "unmap" {
		p.Set("discard", "unmap")
	}
	if err := c.applyBlockdevCache(p, d.Driver.Cache); err != nil {
		return nil, err
	}
	if d.Source.Reservations != nil {
		pr, err := c.prManager(alias, d.Source.Reservations)
		if err != nil {
			return nil, err
		}
		p.Set("pr-manager", pr)
	}
	return p, nil
}

// blockdevChain emits the storage, format and optional throttle nodes of
// disk i and returns the top node name. Empty media have no nodes.
func (c *SynthesisContext) blockdevChain(i int, alias string, d *domain.Disk) (string, error) {
	if d.Source.IsEmpty() {
		return "", nil
	}
	storageNode := fmt.Sprintf("blk%d-storage", i)
	formatNode := fmt.Sprintf("blk%d-format", i)

	storage, err := c.blockdevStorage(alias, storageNode, d)
	if err != nil {
		return "", err
	}
	if err := c.addBlockdev(storage); err != nil {
		return "", err
	}

	secretID, err := c.diskEncryption(alias, d)
	if err != nil {
		return "", err
	}
	format := props.New().
		Set("node-name", formatNode).
		Bool("read-only", d.ReadOnly || d.IsCDROM()).
		Set("driver", d.Driver.Format)
	if secretID != "" {
		if d.Driver.Format == "luks" {
			format.Set("key-secret", secretID)
		} else {
			format.Set("encrypt", props.New().Set("format", "luks").Set("key-secret", secretID))
		}
	}
	if d.Driver.Discard == "unmap" {
		format.Set("discard", "unmap")
	}
	format.Str("detect-zeroes", d.Driver.DetectZeroes)
	if err := c.applyBlockdevCache(format, d.Driver.Cache); err != nil {
		return "", err
	}
	format.Set("file", storageNode)
	if err := c.addBlockdev(format); err != nil {
		return "", err
	}

	if d.Throttle == nil {
		return formatNode, nil
	}
	group, err := c.throttleGroup(alias, d.Throttle)
	if err != nil {
		return "", err
	}
	throttleNode := fmt.Sprintf("blk%d-throttle", i)
	filter := props.New().
		Set("driver", "throttle").
		Set("node-name", throttleNode).
		Set("throttle-group", group).
		Set("file", formatNode)
	if err := c.addBlockdev(filter); err != nil {
		return "", err
	}
	return throttleNode, nil
}

func (c *SynthesisContext) prManager(alias string, r *domain.Reservations) (string, error) {
	if err := c.require(caps.ObjectPRManagerHelper, "persistent reservations (pr-manager-helper)"); err != nil {
		return "", err
	}
	id, path := "pr-helper0", c.env.PRHelperSocket
	if !r.Managed {
		id, path = "pr-helper-"+alias, r.Path
	}
	if path == "" {
		return "", unsupported("persistent reservations for %s need a pr-helper socket", alias)
	}
	if c.objects[id] {
		return id, nil
	}
	if err := c.addObject(props.Object("pr-manager-helper", id).Set("path", path)); err != nil {
		return "", err
	}
	c.objects[id] = true
	return id, nil
}

func (c *SynthesisContext) scsiModel(ctrl *domain.Controller) string {
	if ctrl != nil && ctrl.Model != domain.SCSIModelAuto {
		return ctrl.Model
	}
	switch {
	case c.def.IsPSeries():
		return domain.SCSIModelIBMVSCSI
	case c.has(caps.DeviceVirtioSCSI):
		return domain.SCSIModelVirtio
	}
	return domain.SCSIModelLSILogic
}

// driveBus places a disk on its IDE, SATA, SCSI or floppy controller.
func (c *SynthesisContext) driveBus(p *props.Props, d *domain.Disk) error {
	addr := d.Info.Address.Drive
	if d.Info.Address.Type != domain.AddressDrive || addr == nil {
		return fmt.Errorf("%w: %w: disk %s has no drive address", ErrInternalInconsistency, ErrAddressMissing, d.Target)
	}

	var ctype domain.ControllerType
	switch d.Bus {
	case domain.DiskBusIDE:
		ctype = domain.ControllerIDE
	case domain.DiskBusSATA:
		ctype = domain.ControllerSATA
	case domain.DiskBusSCSI:
		ctype = domain.ControllerSCSI
	}
	ctrl, err := c.alloc.ControllerAlias(ctype, addr.Controller)
	if err != nil {
		return err
	}

	switch d.Bus {
	case domain.DiskBusIDE:
		p.Set("bus", fmt.Sprintf("%s.%d", ctrl, addr.Bus)).Set("unit", addr.Unit)
	case domain.DiskBusSATA:
		p.Set("bus", fmt.Sprintf("%s.%d", ctrl, addr.Unit))
	case domain.DiskBusSCSI:
		c.scsiPlacement(p, ctrl, addr)
	}
	return nil
}

// scsiPlacement addresses a SCSI device. Controllers with a single channel
// and LUN take the unit as the SCSI id.
func (c *SynthesisContext) scsiPlacement(p *props.Props, ctrl string, addr *domain.DriveAddress) {
	p.Set("bus", ctrl+".0")
	switch c.scsiModel(c.alloc.Controller(domain.ControllerSCSI, addr.Controller)) {
	case domain.SCSIModelLSILogic, domain.SCSIModelIBMVSCSI:
		p.Set("scsi-id", addr.Unit)
	default:
		p.Set("channel", addr.Bus).Set("scsi-id", addr.Target).Set("lun", addr.Unit)
	}
}

// diskFrontend emits the -device of disk d backed by drive.
func (c *SynthesisContext) diskFrontend(alias, drive string, d *domain.Disk) error {
	var p *props.Props
	var err error

	switch d.Bus {
	case domain.DiskBusVirtio:
		if err := c.require(caps.DeviceVirtioBlk, "virtio-blk"); err != nil {
			return err
		}
		if p, err = c.virtioDevice("virtio-blk", d.Model, &d.Info); err != nil {
			return err
		}
	case domain.DiskBusIDE, domain.DiskBusSATA:
		driver := "ide-hd"
		if d.IsCDROM() {
			driver = "ide-cd"
		}
		p = props.Device(driver)
		if err := c.driveBus(p, d); err != nil {
			return err
		}
	case domain.DiskBusSCSI:
		driver := "scsi-hd"
		switch {
		case d.IsCDROM():
			driver = "scsi-cd"
		case d.IsLUN():
			if err := c.require(caps.DeviceSCSIBlock, "scsi-block"); err != nil {
				return err
			}
			driver = "scsi-block"
		}
		p = props.Device(driver)
		if err := c.driveBus(p, d); err != nil {
			return err
		}
	case domain.DiskBusUSB:
		if err := c.require(caps.DeviceUSBStorage, "usb-storage"); err != nil {
			return err
		}
		if p, err = c.device("usb-storage", &d.Info); err != nil {
			return err
		}
	case domain.DiskBusFDC:
		return c.floppyFrontend(alias, drive, d)
	default:
		return unsupported("disk bus %q", d.Bus)
	}

	p.Str("drive", drive).Set("id", alias)
	applyBoot(p, &d.Info)

	switch d.Bus {
	case domain.DiskBusVirtio:
		if d.Driver.Queues > 0 {
			if err := c.require(caps.VirtioBlkNumQueues, "virtio-blk queues"); err != nil {
				return err
			}
			p.Set("num-queues", d.Driver.Queues)
		}
		if d.Driver.QueueSize > 0 {
			if err := c.require(caps.VirtioBlkQueueSize, "virtio-blk queue size"); err != nil {
				return err
			}
			p.Set("queue-size", d.Driver.QueueSize)
		}
		if d.Driver.IOThread > 0 {
			p.Set("iothread", fmt.Sprintf("iothread%d", d.Driver.IOThread))
		}
		if c.has(caps.VirtioBlkSCSI) && !d.IsLUN() {
			p.Bool("scsi", false)
		}
		p.Switch("ioeventfd", d.Driver.IOEventFD).Switch("event_idx", d.Driver.EventIdx)
	case domain.DiskBusIDE, domain.DiskBusSATA, domain.DiskBusSCSI:
		if d.WWN != "" {
			wwn, err := strconv.ParseUint(strings.TrimPrefix(d.WWN, "0x"), 16, 64)
			if err != nil {
				return invalid("disk %s has an invalid WWN %q", alias, d.WWN)
			}
			p.Set("wwn", wwn)
		}
		if d.Bus == domain.DiskBusSCSI {
			p.Str("vendor", d.Vendor).Str("product", d.Product)
		} else {
			p.Str("model", d.Product)
		}
		p.Uint("rotation_rate", uint64(d.RotationRate))
	case domain.DiskBusUSB:
		p.Switch("removable", d.Removable)
	}

	p.Str("serial", d.Serial)
	if b := d.BlockIO; b != nil {
		p.Uint("logical_block_size", uint64(b.LogicalBlockSize)).
			Uint("physical_block_size", uint64(b.PhysicalBlockSize))
	}

	if c.has(caps.Blockdev) && d.Bus != domain.DiskBusUSB {
		if m, ok := cacheModes[d.Driver.Cache]; ok && c.has(caps.DiskWriteCache) {
			p.Set("write-cache", props.OnOff(m.writeCache))
		}
		werror, rerror := errorPolicies(&d.Driver)
		p.Str("werror", werror).Str("rerror", rerror)
	}
	if d.Shareable && c.has(caps.DiskShareRW) {
		p.Bool("share-rw", true)
	}
	return c.addDevice(p)
}

func (c *SynthesisContext) floppyFrontend(alias, drive string, d *domain.Disk) error {
	addr := d.Info.Address.Drive
	if addr == nil {
		return fmt.Errorf("%w: %w: floppy %s has no drive address", ErrInternalInconsistency, ErrAddressMissing, d.Target)
	}
	if _, err := c.alloc.ControllerAlias(domain.ControllerFDC, addr.Controller); err != nil {
		return err
	}
	if c.has(caps.DeviceFloppy) {
		p := props.Device("floppy").Set("unit", addr.Unit).Str("drive", drive).Set("id", alias)
		applyBoot(p, &d.Info)
		return c.addDevice(p)
	}
	letter := "A"
	if addr.Unit == 1 {
		letter = "B"
	}
	c.add("-global", fmt.Sprintf("isa-fdc.drive%s=%s", letter, drive))
	return nil
}

func (c *SynthesisContext) buildDisk(i int, d *domain.Disk) error {
	alias, err := c.alloc.DiskAlias(i)
	if err != nil {
		return err
	}
	var drive string
	if c.has(caps.Blockdev) {
		drive, err = c.blockdevChain(i, alias, d)
	} else {
		drive, err = c.legacyDrive(alias, d)
	}
	if err != nil {
		return err
	}
	return c.diskFrontend(alias, drive, d)
}

func (c *SynthesisContext) buildFilesystem(i int, fs *domain.Filesystem) error {
	alias, err := c.alloc.DeviceAlias(&fs.Info, "fs", uint(i))
	if err != nil {
		return err
	}

	switch fs.Driver {
	case domain.FSDriverPath, "":
		if err := c.require(caps.FSDev, "9p filesystems"); err != nil {
			return err
		}
		fsdevID := "fsdev-" + alias
		fsdev := props.WithHead("type", "local").
			Set("security_model", lo.CoalesceOrEmpty(fs.AccessMode, "passthrough")).
			Set("id", fsdevID).
			Set("path", fs.Source).
			True("readonly", fs.ReadOnly)
		c.add("-fsdev", fsdev.Legacy())

		p, err := c.virtioDevice("virtio-9p", fs.Model, &fs.Info)
		if err != nil {
			return err
		}
		p.Set("id", alias).Set("fsdev", fsdevID).Set("mount_tag", fs.Target)
		return c.addDevice(p)

	case domain.FSDriverVirtioFS:
		if err := c.require(caps.DeviceVhostUserFS, "virtiofs"); err != nil {
			return err
		}
		chr := "chr-vu-" + alias
		if err := c.chardevBackend(chr, &domain.ChardevSource{Type: domain.ChardevUnix, Path: fs.Socket}); err != nil {
			return err
		}
		p, err := c.virtioDevice("vhost-user-fs", fs.Model, &fs.Info)
		if err != nil {
			return err
		}
		p.Set("id", alias).Set("chardev", chr).Uint("queue-size", uint64(fs.QueueSize)).Set("tag", fs.Target)
		applyBoot(p, &fs.Info)
		return c.addDevice(p)
	}
	return unsupported("filesystem driver %q", fs.Driver)
}
