package qemu

import (
	"testing"

	"github.com/onkernel/qsynth/lib/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNet_Multiqueue(t *testing.T) {
	host := newFakeHost(t)
	def := testGuest()
	nic := tapInterface("52:54:00:00:00:01", "tap0")
	nic.Driver.Queues = 2
	def.Interfaces = []domain.NetInterface{nic}

	res := synthesize(t, def, modernLegacySyntax(), testEnv(host))

	assert.Len(t, res.Files, 4)
	assert.NotEqual(t, -1, argIndex(res, "-netdev", "tap,id=hostnet0,fds=3:4,vhost=on,vhostfds=5:6"))
	assert.NotEqual(t, -1, argIndex(res, "-device", "virtio-net-pci,mq=on,vectors=6,netdev=hostnet0,id=net0,mac=52:54:00:00:00:01"))
}

func TestNet_SocketBackends(t *testing.T) {
	tests := []struct {
		name    string
		typ     domain.NetType
		socket  *domain.SocketSource
		netdev  string
		wantErr error
	}{
		{
			name:   "listen",
			typ:    domain.NetServer,
			socket: &domain.SocketSource{Address: "127.0.0.1", Port: 5558},
			netdev: "socket,id=hostnet0,listen=127.0.0.1:5558",
		},
		{
			name:   "connect",
			typ:    domain.NetClient,
			socket: &domain.SocketSource{Address: "192.0.2.10", Port: 5558},
			netdev: "socket,id=hostnet0,connect=192.0.2.10:5558",
		},
		{
			name:   "udp",
			typ:    domain.NetUDP,
			socket: &domain.SocketSource{Address: "192.0.2.10", Port: 5558, LocalAddress: "127.0.0.1", LocalPort: 5559},
			netdev: "socket,id=hostnet0,udp=192.0.2.10:5558,localaddr=127.0.0.1:5559",
		},
		{
			name:   "listen on ipv6",
			typ:    domain.NetServer,
			socket: &domain.SocketSource{Address: "::1", Port: 5558},
			netdev: "socket,id=hostnet0,listen=[::1]:5558",
		},
		{
			name:   "udp over ipv6",
			typ:    domain.NetUDP,
			socket: &domain.SocketSource{Address: "2001:db8::10", Port: 5558, LocalAddress: "::", LocalPort: 5559},
			netdev: "socket,id=hostnet0,udp=[2001:db8::10]:5558,localaddr=[::]:5559",
		},
		{
			name:    "missing endpoint",
			typ:     domain.NetServer,
			wantErr: ErrStructuralInvalid,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := testGuest()
			def.Interfaces = []domain.NetInterface{{
				Type:   tt.typ,
				MAC:    "52:54:00:00:00:01",
				Model:  "e1000",
				Socket: tt.socket,
			}}

			if tt.wantErr != nil {
				_, err := Synthesize(t.Context(), def, modernLegacySyntax(), testEnv(nil))
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			res := synthesize(t, def, modernLegacySyntax(), testEnv(nil))
			netdev := argIndex(res, "-netdev", tt.netdev)
			device := argIndex(res, "-device", "e1000,netdev=hostnet0,id=net0,mac=52:54:00:00:00:01")
			require.NotEqual(t, -1, netdev)
			require.NotEqual(t, -1, device)
			assert.Less(t, netdev, device)
		})
	}
}

func TestNet_VhostUser(t *testing.T) {
	host := newFakeHost(t)
	def := testGuest()
	def.Memory.Source = domain.MemorySourceMemfd
	def.Memory.Access = domain.MemoryAccessShared
	def.Interfaces = []domain.NetInterface{{
		Type:      domain.NetVhostUser,
		MAC:       "52:54:00:00:00:01",
		VhostUser: &domain.VhostUserSource{Path: "/run/vhost-user/port0.sock"},
		Driver:    domain.NetDriver{Queues: 2},
	}}

	res := synthesize(t, def, modernCaps(), testEnv(host))

	chardev := argIndex(res, "-chardev", "socket,id=charnet0,path=/run/vhost-user/port0.sock")
	netdev := argIndex(res, "-netdev", `{"type":"vhost-user","id":"hostnet0","chardev":"charnet0","queues":2}`)
	require.NotEqual(t, -1, chardev)
	require.NotEqual(t, -1, netdev)
	assert.Less(t, chardev, netdev)
	assert.Zero(t, host.callCount(), "a client socket is not opened by the synthesizer")

	_, err := Synthesize(t.Context(), def, legacyCaps(), testEnv(host))
	assert.ErrorIs(t, err, ErrConfigUnsupported)
}

func TestNet_VhostUserServerSocketIsPassed(t *testing.T) {
	host := newFakeHost(t)
	def := testGuest()
	def.Memory.Source = domain.MemorySourceMemfd
	def.Memory.Access = domain.MemoryAccessShared
	def.Interfaces = []domain.NetInterface{{
		Type:      domain.NetVhostUser,
		MAC:       "52:54:00:00:00:01",
		VhostUser: &domain.VhostUserSource{Path: "/run/vhost-user/port0.sock", Server: true},
	}}

	res := synthesize(t, def, modernCaps(), testEnv(host))

	require.Len(t, res.Files, 1)
	assert.NotEqual(t, -1, argIndex(res, "-chardev", "socket,id=charnet0,fd=3,server=on,wait=off"))
}

func TestNet_VDPA(t *testing.T) {
	host := newFakeHost(t)
	def := testGuest()
	def.Interfaces = []domain.NetInterface{{
		Type:    domain.NetVDPA,
		MAC:     "52:54:00:00:00:01",
		VDPADev: "/dev/vhost-vdpa-0",
	}}

	res := synthesize(t, def, modernLegacySyntax(), testEnv(host))

	require.Len(t, res.Files, 1)
	fdset := argIndex(res, "-add-fd", "set=0,fd=3,opaque=/dev/vhost-vdpa-0")
	netdev := argIndex(res, "-netdev", "vhost-vdpa,id=hostnet0,vhostdev=/dev/fdset/0")
	require.NotEqual(t, -1, fdset)
	require.NotEqual(t, -1, netdev)
	assert.Less(t, fdset, netdev)
}

func TestNet_EmulatedModels(t *testing.T) {
	def := testGuest()
	def.Interfaces = []domain.NetInterface{{Type: domain.NetUser, MAC: "52:54:00:00:00:01", Model: "e1000e"}}

	res := synthesize(t, def, modernLegacySyntax(), testEnv(nil))
	assert.NotEqual(t, -1, argIndex(res, "-device", "e1000e,netdev=hostnet0,id=net0,mac=52:54:00:00:00:01"))

	def.Interfaces[0].Model = "tulip"
	_, err := Synthesize(t.Context(), def, modernLegacySyntax(), testEnv(nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfigUnsupported)
}

func TestNet_VirtioTuning(t *testing.T) {
	def := testGuest()
	def.Interfaces = []domain.NetInterface{{
		Type:  domain.NetUser,
		MAC:   "52:54:00:00:00:01",
		Model: "virtio",
		MTU:   9000,
		Driver: domain.NetDriver{
			RxQueueSize: 1024,
			TxQueueSize: 256,
		},
	}}

	res := synthesize(t, def, modernLegacySyntax(), testEnv(nil))
	assert.NotEqual(t, -1, argIndex(res, "-device",
		"virtio-net-pci,rx_queue_size=1024,tx_queue_size=256,host_mtu=9000,netdev=hostnet0,id=net0,mac=52:54:00:00:00:01"))
}
