package domain

import "time"

// ClockOffset is how the guest RTC relates to host time.
type ClockOffset string

const (
	ClockUTC       ClockOffset = "utc"
	ClockLocaltime ClockOffset = "localtime"
	ClockTimezone  ClockOffset = "timezone"
	ClockVariable  ClockOffset = "variable"
)

// ClockBasis is the reference a variable offset is relative to.
type ClockBasis string

const (
	BasisUTC       ClockBasis = "utc"
	BasisLocaltime ClockBasis = "localtime"
)

// Clock configures the guest RTC and timers.
type Clock struct {
	Offset     ClockOffset `json:"offset,omitempty"`
	Timezone   string      `json:"timezone,omitempty"`
	Basis      ClockBasis  `json:"basis,omitempty"`
	Adjustment int64       `json:"adjustment,omitempty"`
	// Start is the absolute RTC start time for variable clocks. It is filled
	// in by Normalize and never read from input.
	Start  *time.Time `json:"-"`
	Timers []Timer    `json:"timers,omitempty"`
}

// Timer is one guest timer source.
type Timer struct {
	Name       string `json:"name"`
	Present    *bool  `json:"present,omitempty"`
	TickPolicy string `json:"tickpolicy,omitempty"`
	Track      string `json:"track,omitempty"`
}

// FindTimer returns the timer with the given name.
func (c *Clock) FindTimer(name string) *Timer {
	for i := range c.Timers {
		if c.Timers[i].Name == name {
			return &c.Timers[i]
		}
	}
	return nil
}
