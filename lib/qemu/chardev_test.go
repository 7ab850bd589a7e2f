package qemu

import (
	"testing"

	"github.com/onkernel/qsynth/lib/caps"
	"github.com/onkernel/qsynth/lib/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMonitorSocket = "/var/lib/qsynth/guests/guest1/qmp.sock"

func TestMonitor_PassesListeningSocket(t *testing.T) {
	host := newFakeHost(t)
	env := testEnv(host)
	env.MonitorSocket = testMonitorSocket

	res := synthesize(t, testGuest(), modernCaps(), env)

	require.Len(t, res.Files, 1)
	chardev := argIndex(res, "-chardev", "socket,id=charmonitor,fd=3,server=on,wait=off")
	mon := argIndex(res, "-mon", "chardev=charmonitor,id=monitor,mode=control")
	require.NotEqual(t, -1, chardev)
	require.NotEqual(t, -1, mon)
	assert.Less(t, chardev, mon)
	assert.NotEqual(t, -1, flagIndex(res, "-no-shutdown"))
}

func TestMonitor_PathWithoutFDPassing(t *testing.T) {
	host := newFakeHost(t)
	env := testEnv(host)
	env.MonitorSocket = testMonitorSocket

	res := synthesize(t, testGuest(), legacyCaps(), env)

	assert.Empty(t, res.Files)
	assert.Zero(t, host.callCount())
	assert.NotEqual(t, -1, argIndex(res, "-chardev", "socket,id=charmonitor,path="+testMonitorSocket+",server=on,wait=off"))
}

func TestMonitor_Absent(t *testing.T) {
	res := synthesize(t, testGuest(), modernCaps(), testEnv(nil))

	assert.Equal(t, -1, flagIndex(res, "-mon"))
	assert.Equal(t, -1, flagIndex(res, "-no-shutdown"))
}

func TestChardev_Backends(t *testing.T) {
	tests := []struct {
		name    string
		src     domain.ChardevSource
		oracle  caps.Oracle
		want    string
		wantErr error
	}{
		{
			name: "file with append",
			src:  domain.ChardevSource{Type: domain.ChardevFile, Path: "/var/log/qsynth/guest1.log", Append: ptr(true)},
			want: "file,id=charserial0,path=/var/log/qsynth/guest1.log,append=on",
		},
		{
			name: "tcp client with reconnect",
			src:  domain.ChardevSource{Type: domain.ChardevTCP, Host: "192.0.2.1", Service: "4555", Reconnect: 10},
			want: "socket,id=charserial0,host=192.0.2.1,port=4555,reconnect=10",
		},
		{
			name: "telnet server",
			src:  domain.ChardevSource{Type: domain.ChardevTCP, Host: "127.0.0.1", Service: "4555", Listen: true, Telnet: true},
			want: "socket,id=charserial0,host=127.0.0.1,port=4555,telnet=on,server=on,wait=off",
		},
		{
			name: "udp",
			src:  domain.ChardevSource{Type: domain.ChardevUDP, Host: "192.0.2.1", Service: "9998", BindHost: "127.0.0.1", BindService: "9999"},
			want: "udp,id=charserial0,host=192.0.2.1,port=9998,localaddr=127.0.0.1,localport=9999",
		},
		{
			name: "udp without remote port",
			src:  domain.ChardevSource{Type: domain.ChardevUDP, Host: "192.0.2.1", BindService: "9999"},
			want: "udp,id=charserial0,host=192.0.2.1,localport=9999",
		},
		{
			name: "host tty",
			src:  domain.ChardevSource{Type: domain.ChardevDev, Path: "/dev/ttyS0"},
			want: "tty,id=charserial0,path=/dev/ttyS0",
		},
		{
			name: "pty with logfile",
			src:  domain.ChardevSource{Type: domain.ChardevPTY, LogFile: "/var/log/qsynth/serial.log", Append: ptr(false)},
			want: "pty,id=charserial0,logfile=/var/log/qsynth/serial.log,logappend=off",
		},
		{
			name:    "reconnect unsupported",
			src:     domain.ChardevSource{Type: domain.ChardevTCP, Host: "192.0.2.1", Service: "4555", Reconnect: 10},
			oracle:  legacyCaps().Without(caps.ChardevReconnect),
			wantErr: ErrConfigUnsupported,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := testGuest()
			def.Serials = []domain.Chardev{{Source: tt.src}}
			oracle := tt.oracle
			if oracle == nil {
				oracle = modernCaps()
			}

			if tt.wantErr != nil {
				_, err := Synthesize(t.Context(), def, oracle, testEnv(nil))
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			res := synthesize(t, def, oracle, testEnv(nil))
			assert.NotEqual(t, -1, argIndex(res, "-chardev", tt.want), "args: %v", res.Argv())
		})
	}
}

func TestChardev_VirtioChannel(t *testing.T) {
	def := testGuest()
	def.Controllers = []domain.Controller{{Type: domain.ControllerVirtioSerial}}
	def.Channels = []domain.Chardev{{
		Source:     domain.ChardevSource{Type: domain.ChardevUnix, Listen: true},
		TargetType: domain.ChannelVirtio,
		TargetName: "org.qemu.guest_agent.0",
	}}
	env := testEnv(nil)
	env.ChannelDir = "/var/lib/qsynth/channels/guest1"

	res := synthesize(t, def, modernLegacySyntax(), env)

	chardev := argIndex(res, "-chardev",
		"socket,id=charchannel0,path=/var/lib/qsynth/channels/guest1/org.qemu.guest_agent.0,server=on,wait=off")
	port := argIndex(res, "-device",
		"virtserialport,bus=virtio-serial0.0,chardev=charchannel0,id=channel0,name=org.qemu.guest_agent.0")
	require.NotEqual(t, -1, chardev)
	require.NotEqual(t, -1, port)
	assert.Less(t, argIndex(res, "-device", "virtio-serial-pci,id=virtio-serial0"), port)
}

func TestChardev_GuestFwdChannel(t *testing.T) {
	def := testGuest()
	def.Channels = []domain.Chardev{{
		Source:       domain.ChardevSource{Type: domain.ChardevPipe, Path: "/run/qsynth/fwd"},
		TargetType:   domain.ChannelGuestFwd,
		GuestFwdAddr: "10.0.2.1",
		GuestFwdPort: 4600,
	}}

	res := synthesize(t, def, modernLegacySyntax(), testEnv(nil))

	assert.NotEqual(t, -1, argIndex(res, "-chardev", "pipe,id=charchannel0,path=/run/qsynth/fwd"))
	assert.NotEqual(t, -1, argIndex(res, "-netdev", "user,guestfwd=tcp:10.0.2.1:4600-chardev:charchannel0,id=channel0"))
}

func TestChardev_SerialConsoleReusesSerial(t *testing.T) {
	def := testGuest()
	def.Serials = []domain.Chardev{{Source: domain.ChardevSource{Type: domain.ChardevPTY}}}
	def.Consoles = []domain.Chardev{{Source: domain.ChardevSource{Type: domain.ChardevPTY}, TargetType: domain.ConsoleSerial}}

	res := synthesize(t, def, modernLegacySyntax(), testEnv(nil))

	var chardevs int
	for _, a := range res.Args {
		if a.Flag == "-chardev" {
			chardevs++
		}
	}
	assert.Equal(t, 1, chardevs)
}
