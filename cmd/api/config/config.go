package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/c2h5oh/datasize"
	"github.com/joho/godotenv"
)

type Config struct {
	Port      string
	DataDir   string
	LogDir    string
	JwtSecret string

	// HugepageMounts is "size=path,..." e.g. "2M=/dev/hugepages,1G=/dev/hugepages1G".
	HugepageMounts   string
	MemoryBackingDir string

	TLSDefaultDir string
	TLSVNCDir     string
	TLSSpiceDir   string
	TLSChardevDir string
	TLSDiskDir    string
	TLSVerifyPeer bool

	Privileged bool
	Sandbox    bool
	CreateTaps bool
	HostArch   string
	FIPSPath   string

	// Capability source, first non-empty wins.
	CapsFile        string
	CapsProbeSocket string
	QemuBinary      string
	QemuVersion     string

	// OpenTelemetry configuration
	OtelEnabled           bool
	OtelEndpoint          string
	OtelServiceName       string
	OtelServiceInstanceID string
	OtelInsecure          bool

	Version  string
	Env      string
	LogLevel string
}

// Load loads configuration from environment variables
// Automatically loads .env file if present
func Load() *Config {
	_ = godotenv.Load()

	hostname, _ := os.Hostname()

	cfg := &Config{
		Port:      getEnv("PORT", "8080"),
		DataDir:   getEnv("DATA_DIR", "/var/lib/qsynth"),
		LogDir:    getEnv("LOG_DIR", "/var/log/qsynth"),
		JwtSecret: getEnv("JWT_SECRET", ""),

		HugepageMounts:   getEnv("HUGEPAGE_MOUNTS", ""),
		MemoryBackingDir: getEnv("MEMORY_BACKING_DIR", ""),

		TLSDefaultDir: getEnv("TLS_DEFAULT_DIR", "/etc/pki/qemu"),
		TLSVNCDir:     getEnv("TLS_VNC_DIR", ""),
		TLSSpiceDir:   getEnv("TLS_SPICE_DIR", ""),
		TLSChardevDir: getEnv("TLS_CHARDEV_DIR", ""),
		TLSDiskDir:    getEnv("TLS_DISK_DIR", ""),
		TLSVerifyPeer: getEnvBool("TLS_VERIFY_PEER", true),

		Privileged: getEnvBool("PRIVILEGED", os.Geteuid() == 0),
		Sandbox:    getEnvBool("SANDBOX", true),
		CreateTaps: getEnvBool("CREATE_TAPS", false),
		HostArch:   getEnv("HOST_ARCH", ""),
		FIPSPath:   getEnv("FIPS_PATH", "/proc/sys/crypto/fips_enabled"),

		CapsFile:        getEnv("CAPS_FILE", ""),
		CapsProbeSocket: getEnv("CAPS_PROBE_SOCKET", ""),
		QemuBinary:      getEnv("QEMU_BINARY", ""),
		QemuVersion:     getEnv("QEMU_VERSION", "8.2"),

		OtelEnabled:           getEnvBool("OTEL_ENABLED", false),
		OtelEndpoint:          getEnv("OTEL_ENDPOINT", "127.0.0.1:4317"),
		OtelServiceName:       getEnv("OTEL_SERVICE_NAME", "qsynth"),
		OtelServiceInstanceID: getEnv("OTEL_SERVICE_INSTANCE_ID", hostname),
		OtelInsecure:          getEnvBool("OTEL_INSECURE", true),

		Version:  getEnv("VERSION", "dev"),
		Env:      getEnv("ENV", "unset"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	return cfg
}

// HugepageMount is one parsed HUGEPAGE_MOUNTS entry.
type HugepageMount struct {
	Size datasize.ByteSize
	Path string
}

// ParseHugepageMounts parses "size=path" pairs separated by commas. The
// first entry is the default mount.
func ParseHugepageMounts(s string) ([]HugepageMount, error) {
	var out []HugepageMount
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		size, path, ok := strings.Cut(entry, "=")
		if !ok || path == "" {
			return nil, fmt.Errorf("hugepage mount %q: want size=path", entry)
		}
		var bs datasize.ByteSize
		if err := bs.UnmarshalText([]byte(strings.TrimSpace(size))); err != nil {
			return nil, fmt.Errorf("hugepage mount %q: %w", entry, err)
		}
		if bs < datasize.KB {
			return nil, fmt.Errorf("hugepage mount %q: page size below 1KiB", entry)
		}
		out = append(out, HugepageMount{Size: bs, Path: strings.TrimSpace(path)})
	}
	return out, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
