package qemu

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/onkernel/qsynth/lib/domain"
)

// Allocator hands out aliases for one synthesis run and resolves controller
// references. The same request always yields the same alias, and no alias is
// ever given to two different instances.
type Allocator struct {
	def    *domain.Guest
	byKey  map[string]string
	owners map[string]string
}

// NewAllocator returns an allocator for def.
func NewAllocator(def *domain.Guest) *Allocator {
	return &Allocator{
		def:    def,
		byKey:  make(map[string]string),
		owners: make(map[string]string),
	}
}

// Alias returns the generated alias of an instance of kind: ("net", 0) is
// "net0" and ("ide", 0, 1, 0) is "ide0-1-0".
func (a *Allocator) Alias(kind string, idx ...uint) (string, error) {
	key := instanceKey(kind, idx)
	if alias, ok := a.byKey[key]; ok {
		return alias, nil
	}
	return a.claim(key, kind+joinIndices(idx, "-"))
}

// DeviceAlias returns the user-chosen alias from info when there is one and
// the generated alias otherwise.
func (a *Allocator) DeviceAlias(info *domain.DeviceInfo, kind string, idx ...uint) (string, error) {
	if info == nil || info.Alias == "" {
		return a.Alias(kind, idx...)
	}
	key := instanceKey(kind, idx)
	if alias, ok := a.byKey[key]; ok {
		return alias, nil
	}
	return a.claim(key, info.Alias)
}

// ControllerAlias resolves the alias of the controller of type t with the
// given index, which must be defined or built into the machine.
func (a *Allocator) ControllerAlias(t domain.ControllerType, index uint) (string, error) {
	key := instanceKey("controller/"+string(t), []uint{index})
	if alias, ok := a.byKey[key]; ok {
		return alias, nil
	}

	if ctrl := a.Controller(t, index); ctrl != nil {
		if ctrl.Info.Alias != "" {
			return a.claim(key, ctrl.Info.Alias)
		}
		return a.claim(key, controllerAlias(a.def, t, index))
	}
	if a.IsImplicit(t, index) {
		return a.claim(key, controllerAlias(a.def, t, index))
	}
	return "", fmt.Errorf("%w: %w: %s controller with index %d", ErrInternalInconsistency, ErrControllerNotFound, t, index)
}

// Controller returns the defined controller of type t with the given index.
func (a *Allocator) Controller(t domain.ControllerType, index uint) *domain.Controller {
	for i := range a.def.Controllers {
		c := &a.def.Controllers[i]
		if c.Type == t && c.Index == index {
			return c
		}
	}
	return nil
}

// IsImplicit reports whether the controller is built into the machine type
// and therefore never appears on the command line.
func (a *Allocator) IsImplicit(t domain.ControllerType, index uint) bool {
	if index != 0 {
		return false
	}
	switch t {
	case domain.ControllerPCI:
		return a.def.HasPCI()
	case domain.ControllerIDE:
		return a.def.IsI440FX()
	case domain.ControllerSATA:
		return a.def.IsQ35()
	case domain.ControllerFDC:
		return a.def.IsI440FX() || a.def.IsQ35()
	}
	return false
}

// DiskAlias returns the alias of the index'th disk.
func (a *Allocator) DiskAlias(index int) (string, error) {
	d := &a.def.Disks[index]
	kind := string(d.Bus)
	var idx []uint

	switch d.Bus {
	case domain.DiskBusVirtio, domain.DiskBusUSB:
		n, err := domain.DiskIndex(d.Target)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrStructuralInvalid, err)
		}
		kind += "-disk"
		idx = []uint{n}
	default:
		addr := d.Info.Address.Drive
		if d.Info.Address.Type != domain.AddressDrive || addr == nil {
			return "", fmt.Errorf("%w: %w: disk %s has no drive address", ErrInternalInconsistency, ErrAddressMissing, d.Target)
		}
		idx = []uint{addr.Controller, addr.Bus, addr.Unit}
		if d.Bus == domain.DiskBusSCSI {
			idx = []uint{addr.Controller, addr.Bus, addr.Target, addr.Unit}
		}
	}
	return a.DeviceAlias(&d.Info, kind, idx...)
}

func (a *Allocator) claim(key, alias string) (string, error) {
	if owner, ok := a.owners[alias]; ok && owner != key {
		return "", inconsistent("alias %q is already used by %s", alias, owner)
	}
	a.owners[alias] = key
	a.byKey[key] = alias
	return alias, nil
}

func controllerAlias(def *domain.Guest, t domain.ControllerType, index uint) string {
	switch t {
	case domain.ControllerPCI:
		if index == 0 && def.HasPCIExpressRoot() {
			return "pcie.0"
		}
		return fmt.Sprintf("pci.%d", index)
	case domain.ControllerUSB, domain.ControllerIDE:
		if index == 0 {
			return string(t)
		}
	case domain.ControllerSATA:
		if index == 0 && def.IsQ35() {
			return "ide"
		}
	}
	return fmt.Sprintf("%s%d", t, index)
}

func instanceKey(kind string, idx []uint) string {
	return kind + "/" + joinIndices(idx, "/")
}

func joinIndices(idx []uint, sep string) string {
	parts := make([]string, len(idx))
	for i, n := range idx {
		parts[i] = strconv.FormatUint(uint64(n), 10)
	}
	return strings.Join(parts, sep)
}
