package synth

import (
	"bytes"
	"os"
)

// DefaultFIPSPath is the kernel switch reporting FIPS mode.
const DefaultFIPSPath = "/proc/sys/crypto/fips_enabled"

// DetectFIPS reports whether the kernel runs in FIPS mode. A missing or
// unreadable switch means no.
func DetectFIPS(path string) bool {
	if path == "" {
		path = DefaultFIPSPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return string(bytes.TrimSpace(data)) == "1"
}
