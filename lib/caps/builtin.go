package caps

import "fmt"

// machineRAMIDs are the built-in RAM backend ids of upstream machine types.
var machineRAMIDs = map[string]string{
	"pc":              "pc.ram",
	"q35":             "pc.ram",
	"virt":            "mach-virt.ram",
	"pseries":         "ppc_spapr.ram",
	"s390-ccw-virtio": "s390.ram",
}

// ForVersion returns the capability set of a stock upstream QEMU build of the
// given version with every device compiled in. It stands in for probing when
// no binary is available.
func ForVersion(major, minor int) *Set {
	var flags []Flag
	for _, f := range qomTypes {
		flags = append(flags, f)
	}
	for _, f := range commandLineOptions {
		flags = append(flags, f)
	}
	for _, g := range versionGated {
		if major > g.major || (major == g.major && minor >= g.minor) {
			flags = append(flags, g.flags...)
		}
	}
	flags = append(flags, CPUFeatureProps, SpiceGL, VNCWebsocket, SDL, SDLGL, EGLHeadless,
		ChardevSpicevmc, ChardevSpiceport, MachineSMMUv3, DBusDisplay)
	if major >= 6 {
		flags = append(flags, ChardevVDAgent)
	}

	defaults := map[DefaultKey]map[string]string{
		DefaultRAMID: {},
	}
	if major > 5 || (major == 5 && minor >= 0) {
		for machine, id := range machineRAMIDs {
			defaults[DefaultRAMID][machine] = id
		}
	}

	return NewSet(versionString(major, minor), flags, defaults)
}

func versionString(major, minor int) string {
	return fmt.Sprintf("%d.%d.0", major, minor)
}
