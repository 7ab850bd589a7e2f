package config

import (
	"testing"

	"github.com/c2h5oh/datasize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHugepageMounts(t *testing.T) {
	mounts, err := ParseHugepageMounts("2M=/dev/hugepages, 1G=/dev/hugepages1G")
	require.NoError(t, err)
	assert.Equal(t, []HugepageMount{
		{Size: 2 * datasize.MB, Path: "/dev/hugepages"},
		{Size: datasize.GB, Path: "/dev/hugepages1G"},
	}, mounts)

	mounts, err = ParseHugepageMounts("")
	require.NoError(t, err)
	assert.Empty(t, mounts)

	for _, bad := range []string{"2M", "2M=", "huge=/dev/hugepages", "512=/dev/hugepages"} {
		_, err := ParseHugepageMounts(bad)
		assert.Error(t, err, bad)
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DATA_DIR", "/tmp/qsynth")
	t.Setenv("TLS_VERIFY_PEER", "false")
	t.Setenv("SANDBOX", "not-a-bool")
	t.Setenv("QEMU_VERSION", "")

	cfg := Load()
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "/tmp/qsynth", cfg.DataDir)
	assert.False(t, cfg.TLSVerifyPeer)
	assert.True(t, cfg.Sandbox)
	assert.Equal(t, "8.2", cfg.QemuVersion)
}
