package qemu

import (
	"github.com/onkernel/qsynth/lib/caps"
	"github.com/onkernel/qsynth/lib/domain"
	"github.com/onkernel/qsynth/lib/qemu/props"
)

// throttleFields maps each numeric limit to its QEMU name. Every field is
// independent: a zero value emits nothing.
var throttleFields = []struct {
	name  string
	value func(*domain.Throttle) uint64
}{
	{"bps-total", func(t *domain.Throttle) uint64 { return t.TotalBytesSec }},
	{"bps-read", func(t *domain.Throttle) uint64 { return t.ReadBytesSec }},
	{"bps-write", func(t *domain.Throttle) uint64 { return t.WriteBytesSec }},
	{"iops-total", func(t *domain.Throttle) uint64 { return t.TotalIOPSSec }},
	{"iops-read", func(t *domain.Throttle) uint64 { return t.ReadIOPSSec }},
	{"iops-write", func(t *domain.Throttle) uint64 { return t.WriteIOPSSec }},
	{"bps-total-max", func(t *domain.Throttle) uint64 { return t.TotalBytesSecMax }},
	{"bps-read-max", func(t *domain.Throttle) uint64 { return t.ReadBytesSecMax }},
	{"bps-write-max", func(t *domain.Throttle) uint64 { return t.WriteBytesSecMax }},
	{"iops-total-max", func(t *domain.Throttle) uint64 { return t.TotalIOPSSecMax }},
	{"iops-read-max", func(t *domain.Throttle) uint64 { return t.ReadIOPSSecMax }},
	{"iops-write-max", func(t *domain.Throttle) uint64 { return t.WriteIOPSSecMax }},
	{"bps-total-max-length", func(t *domain.Throttle) uint64 { return t.TotalBytesSecMaxLength }},
	{"bps-read-max-length", func(t *domain.Throttle) uint64 { return t.ReadBytesSecMaxLength }},
	{"bps-write-max-length", func(t *domain.Throttle) uint64 { return t.WriteBytesSecMaxLength }},
	{"iops-total-max-length", func(t *domain.Throttle) uint64 { return t.TotalIOPSSecMaxLength }},
	{"iops-read-max-length", func(t *domain.Throttle) uint64 { return t.ReadIOPSSecMaxLength }},
	{"iops-write-max-length", func(t *domain.Throttle) uint64 { return t.WriteIOPSSecMaxLength }},
	{"iops-size", func(t *domain.Throttle) uint64 { return t.SizeIOPSSec }},
}

// throttleLimits returns the limits keyed by prefix+name.
func throttleLimits(t *domain.Throttle, prefix string) *props.Props {
	p := props.New()
	for _, f := range throttleFields {
		p.Uint(prefix+f.name, f.value(t))
	}
	return p
}

// legacyThrottle adds throttling.* keys to a -drive.
func (c *SynthesisContext) legacyThrottle(p *props.Props, t *domain.Throttle) error {
	if t == nil {
		return nil
	}
	for _, f := range throttleFields {
		p.Uint("throttling."+f.name, f.value(t))
	}
	if t.GroupName != "" {
		if err := c.require(caps.DriveThrottlingGroup, "throttle groups"); err != nil {
			return err
		}
		p.Set("throttling.group", t.GroupName)
	}
	return nil
}

// throttleGroup emits the throttle-group object for a blockdev disk and
// returns its id. Disks sharing a group name share one object.
func (c *SynthesisContext) throttleGroup(alias string, t *domain.Throttle) (string, error) {
	if err := c.require(caps.ObjectThrottleGroup, "throttle-group objects"); err != nil {
		return "", err
	}
	id := "throttle-" + alias
	if t.GroupName != "" {
		id = "throttle-" + t.GroupName
	}
	if c.objects[id] {
		return id, nil
	}

	obj := props.Object("throttle-group", id)
	if c.has(caps.ObjectJSON) {
		obj.Nested("limits", throttleLimits(t, ""))
	} else {
		limits := throttleLimits(t, "x-")
		for _, k := range limits.Keys() {
			v, _ := limits.Get(k)
			obj.Set(k, v)
		}
	}
	if err := c.addObject(obj); err != nil {
		return "", err
	}
	c.objects[id] = true
	return id, nil
}
