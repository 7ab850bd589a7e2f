package caps

import (
	"slices"
	"strings"
)

// Oracle answers capability questions about one QEMU binary. Implementations
// must be safe for concurrent readers and must not change answers during a run.
type Oracle interface {
	Supports(f Flag) bool
	MachineDefault(key DefaultKey, machine string) (string, bool)
}

// Set is an immutable Oracle backed by maps.
type Set struct {
	version  string
	flags    map[Flag]struct{}
	defaults map[DefaultKey]map[string]string
}

var _ Oracle = (*Set)(nil)

// NewSet builds a Set. Inputs are copied.
func NewSet(version string, flags []Flag, defaults map[DefaultKey]map[string]string) *Set {
	s := &Set{
		version:  version,
		flags:    make(map[Flag]struct{}, len(flags)),
		defaults: make(map[DefaultKey]map[string]string, len(defaults)),
	}
	for _, f := range flags {
		s.flags[f] = struct{}{}
	}
	for key, byMachine := range defaults {
		m := make(map[string]string, len(byMachine))
		for machine, v := range byMachine {
			m[machine] = v
		}
		s.defaults[key] = m
	}
	return s
}

// Version returns the QEMU version string the set was built for, if known.
func (s *Set) Version() string {
	return s.version
}

// Supports reports whether the flag is present.
func (s *Set) Supports(f Flag) bool {
	_, ok := s.flags[f]
	return ok
}

// MachineDefault looks up a machine dependent default. The exact machine name
// wins, then its family ("q35", "pc", "virt", ...), then "*".
func (s *Set) MachineDefault(key DefaultKey, machine string) (string, bool) {
	byMachine, ok := s.defaults[key]
	if !ok {
		return "", false
	}
	for _, k := range []string{machine, machineFamily(machine), "*"} {
		if v, ok := byMachine[k]; ok && v != "" {
			return v, true
		}
	}
	return "", false
}

// Flags returns the sorted flag list.
func (s *Set) Flags() []Flag {
	out := make([]Flag, 0, len(s.flags))
	for f := range s.flags {
		out = append(out, f)
	}
	slices.Sort(out)
	return out
}

// Defaults returns a copy of the machine defaults table.
func (s *Set) Defaults() map[DefaultKey]map[string]string {
	out := make(map[DefaultKey]map[string]string, len(s.defaults))
	for key, byMachine := range s.defaults {
		m := make(map[string]string, len(byMachine))
		for machine, v := range byMachine {
			m[machine] = v
		}
		out[key] = m
	}
	return out
}

// With returns a copy of s with extra flags set.
func (s *Set) With(flags ...Flag) *Set {
	return NewSet(s.version, append(s.Flags(), flags...), s.defaults)
}

// Without returns a copy of s with the given flags cleared.
func (s *Set) Without(flags ...Flag) *Set {
	kept := slices.DeleteFunc(s.Flags(), func(f Flag) bool {
		return slices.Contains(flags, f)
	})
	return NewSet(s.version, kept, s.defaults)
}

// WithDefault returns a copy of s with one machine default set.
func (s *Set) WithDefault(key DefaultKey, machine, value string) *Set {
	d := s.Defaults()
	if d[key] == nil {
		d[key] = map[string]string{}
	}
	d[key][machine] = value
	return NewSet(s.version, s.Flags(), d)
}

func machineFamily(machine string) string {
	switch {
	case machine == "q35" || strings.HasPrefix(machine, "pc-q35"):
		return "q35"
	case machine == "pc" || strings.HasPrefix(machine, "pc-"):
		return "pc"
	case machine == "virt" || strings.HasPrefix(machine, "virt-"):
		return "virt"
	case strings.HasPrefix(machine, "pseries"):
		return "pseries"
	case strings.HasPrefix(machine, "s390-ccw-virtio"):
		return "s390-ccw-virtio"
	}
	return machine
}
