package props

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLegacy_DeviceHeadFirst(t *testing.T) {
	p := Device("virtio-blk-pci").
		Set("bus", "pci.0").
		Set("addr", "0x4").
		Str("serial", "").
		Uint("num-queues", 0).
		Bool("share-rw", true)

	assert.Equal(t, "virtio-blk-pci,bus=pci.0,addr=0x4,share-rw=on", p.Legacy())
}

func TestLegacy_EscapesCommas(t *testing.T) {
	p := WithHead("file", "socket").Set("path", "/tmp/a,b.sock")
	assert.Equal(t, "socket,path=/tmp/a,,b.sock", p.Legacy())
}

func TestLegacy_NestedAndLists(t *testing.T) {
	limits := New().Uint("bps-total", 100).Uint("iops-read", 5)
	p := New().
		Set("id", "n0").
		Nested("throttling", limits).
		Set("cpus", []string{"0-1", "4"}).
		Set("host-nodes", []uint{0, 2})

	assert.Equal(t,
		"id=n0,throttling.bps-total=100,throttling.iops-read=5,cpus=0-1,cpus=4,host-nodes=0,host-nodes=2",
		p.Legacy())
}

func TestJSON_PreservesOrder(t *testing.T) {
	p := Object("memory-backend-ram", "ram-node0").
		Uint("size", 1073741824).
		Bool("prealloc", true).
		Set("host-nodes", []uint{0, 1})

	out, err := p.JSON()
	require.NoError(t, err)
	assert.Equal(t,
		`{"qom-type":"memory-backend-ram","id":"ram-node0","size":1073741824,"prealloc":true,"host-nodes":[0,1]}`,
		out)
}

func TestRender_SelectsEncoding(t *testing.T) {
	p := Netdev("tap", "hostnet0").Set("fd", "3").Bool("vhost", false)

	legacy, err := p.Render(false)
	require.NoError(t, err)
	assert.Equal(t, "tap,id=hostnet0,fd=3,vhost=off", legacy)

	structured, err := p.Render(true)
	require.NoError(t, err)
	assert.Equal(t, `{"type":"tap","id":"hostnet0","fd":"3","vhost":false}`, structured)
}

func TestSetKeepsPosition(t *testing.T) {
	p := Device("pc-dimm").Set("node", 0).Set("memdev", "memdimm0").Set("node", 1)
	assert.Equal(t, []string{"driver", "node", "memdev"}, p.Keys())
	assert.Equal(t, "pc-dimm,node=1,memdev=memdimm0", p.Legacy())
	assert.Equal(t, "pc-dimm", p.Head())
}

func TestSwitch(t *testing.T) {
	on, off := true, false
	p := New().Switch("csum", &off).Switch("gso", nil).Switch("mrg_rxbuf", &on)
	assert.Equal(t, "csum=off,mrg_rxbuf=on", p.Legacy())
}
