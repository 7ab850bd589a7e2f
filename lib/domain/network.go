package domain

// NetType is the host side of a network interface.
type NetType string

const (
	NetUser      NetType = "user"
	NetEthernet  NetType = "ethernet"
	NetBridge    NetType = "bridge"
	NetNetwork   NetType = "network"
	NetVhostUser NetType = "vhostuser"
	NetVDPA      NetType = "vdpa"
	NetServer    NetType = "server"
	NetClient    NetType = "client"
	NetMcast     NetType = "mcast"
	NetUDP       NetType = "udp"
)

// UsesTap reports whether the backend is a host tap device.
func (t NetType) UsesTap() bool {
	return t == NetEthernet || t == NetBridge || t == NetNetwork
}

// NetDriver holds backend and virtio tuning for an interface.
type NetDriver struct {
	Name        string        `json:"name,omitempty"`
	Queues      uint          `json:"queues,omitempty"`
	TxMode      string        `json:"txmode,omitempty"`
	IOEventFD   *bool         `json:"ioeventfd,omitempty"`
	EventIdx    *bool         `json:"eventIdx,omitempty"`
	RxQueueSize uint          `json:"rxQueueSize,omitempty"`
	TxQueueSize uint          `json:"txQueueSize,omitempty"`
	Host        HostOffloads  `json:"host,omitempty"`
	Guest       GuestOffloads `json:"guest,omitempty"`
}

// HostOffloads are host side virtio-net feature toggles.
type HostOffloads struct {
	CSum     *bool `json:"csum,omitempty"`
	GSO      *bool `json:"gso,omitempty"`
	TSO4     *bool `json:"tso4,omitempty"`
	TSO6     *bool `json:"tso6,omitempty"`
	ECN      *bool `json:"ecn,omitempty"`
	UFO      *bool `json:"ufo,omitempty"`
	MrgRxBuf *bool `json:"mrgRxbuf,omitempty"`
}

// GuestOffloads are guest side virtio-net feature toggles.
type GuestOffloads struct {
	CSum *bool `json:"csum,omitempty"`
	TSO4 *bool `json:"tso4,omitempty"`
	TSO6 *bool `json:"tso6,omitempty"`
	ECN  *bool `json:"ecn,omitempty"`
	UFO  *bool `json:"ufo,omitempty"`
}

// VhostUserSource is the socket of a vhost-user backend.
type VhostUserSource struct {
	Path      string `json:"path"`
	Server    bool   `json:"server,omitempty"`
	Reconnect uint   `json:"reconnect,omitempty"`
}

// SocketSource is the endpoint of a socket backend.
type SocketSource struct {
	Address      string `json:"address,omitempty"`
	Port         uint   `json:"port"`
	LocalAddress string `json:"localAddress,omitempty"`
	LocalPort    uint   `json:"localPort,omitempty"`
}

// NetInterface is a guest network interface.
type NetInterface struct {
	Type      NetType          `json:"type"`
	MAC       string           `json:"mac"`
	Model     string           `json:"model,omitempty"`
	Ifname    string           `json:"ifname,omitempty"`
	Bridge    string           `json:"bridge,omitempty"`
	TapPath   string           `json:"tapPath,omitempty"`
	VhostPath string           `json:"vhostPath,omitempty"`
	Driver    NetDriver        `json:"driver,omitempty"`
	MTU       uint             `json:"mtu,omitempty"`
	VhostUser *VhostUserSource `json:"vhostuser,omitempty"`
	VDPADev   string           `json:"vdpaDev,omitempty"`
	Socket    *SocketSource    `json:"socket,omitempty"`
	Info      DeviceInfo       `json:"info,omitempty"`
}

// IsVirtio reports whether the frontend is a virtio-net NIC.
func (n *NetInterface) IsVirtio() bool {
	return n.VirtioModel() != ""
}

// VirtioModel returns the virtio variant of the model, or "" for emulated NICs.
func (n *NetInterface) VirtioModel() VirtioModel {
	switch n.Model {
	case "virtio", "":
		return VirtioModelVirtio
	case string(VirtioModelTransitional):
		return VirtioModelTransitional
	case string(VirtioModelNonTransitional):
		return VirtioModelNonTransitional
	}
	return ""
}

// UseVhost reports whether vhost-net acceleration is used.
func (n *NetInterface) UseVhost() bool {
	if !n.Type.UsesTap() || !n.IsVirtio() {
		return false
	}
	return n.Driver.Name != "qemu"
}
