// Package props provides ordered QEMU property sets with the two command-line
// encodings QEMU accepts: the flat key=value option string and the JSON object
// form understood by -object, -device, -netdev and -blockdev.
package props

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Head keys are rendered as a bare leading value in the legacy encoding.
const (
	HeadDriver  = "driver"
	HeadQOMType = "qom-type"
	HeadType    = "type"
)

// Props is an insertion-ordered property set.
type Props struct {
	head string
	m    *orderedmap.OrderedMap[string, any]
}

// New returns an empty property set with no head key.
func New() *Props {
	return &Props{m: orderedmap.New[string, any]()}
}

// WithHead returns a property set whose first key is rendered without its
// name in the legacy encoding.
func WithHead(key, value string) *Props {
	p := New()
	p.head = key
	p.m.Set(key, value)
	return p
}

// Device starts a -device property set.
func Device(driver string) *Props {
	return WithHead(HeadDriver, driver)
}

// Object starts a -object property set.
func Object(qomType, id string) *Props {
	return WithHead(HeadQOMType, qomType).Set("id", id)
}

// Netdev starts a -netdev property set.
func Netdev(typ, id string) *Props {
	return WithHead(HeadType, typ).Set("id", id)
}

// Set stores v under key, keeping the original position if key already exists.
func (p *Props) Set(key string, v any) *Props {
	p.m.Set(key, v)
	return p
}

// Str sets a string value, skipping empty strings.
func (p *Props) Str(key, v string) *Props {
	if v == "" {
		return p
	}
	return p.Set(key, v)
}

// Uint sets an unsigned value, skipping zero.
func (p *Props) Uint(key string, v uint64) *Props {
	if v == 0 {
		return p
	}
	return p.Set(key, v)
}

// Int sets a signed value unconditionally.
func (p *Props) Int(key string, v int) *Props {
	return p.Set(key, v)
}

// Bool sets a boolean value unconditionally.
func (p *Props) Bool(key string, v bool) *Props {
	return p.Set(key, v)
}

// Switch sets a boolean value only when the tri-state is explicitly set.
func (p *Props) Switch(key string, v *bool) *Props {
	if v == nil {
		return p
	}
	return p.Set(key, *v)
}

// True sets key=true when cond holds.
func (p *Props) True(key string, cond bool) *Props {
	if !cond {
		return p
	}
	return p.Set(key, true)
}

// Nested sets a nested property set, skipping empty ones.
func (p *Props) Nested(key string, n *Props) *Props {
	if n == nil || n.Len() == 0 {
		return p
	}
	return p.Set(key, n)
}

// Get returns the value stored under key.
func (p *Props) Get(key string) (any, bool) {
	return p.m.Get(key)
}

// Has reports whether key is present.
func (p *Props) Has(key string) bool {
	_, ok := p.m.Get(key)
	return ok
}

// Delete removes key.
func (p *Props) Delete(key string) *Props {
	p.m.Delete(key)
	return p
}

// Len returns the number of keys.
func (p *Props) Len() int {
	return p.m.Len()
}

// Keys returns the keys in insertion order.
func (p *Props) Keys() []string {
	keys := make([]string, 0, p.m.Len())
	for pair := p.m.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

// Head returns the head value (driver, qom-type or netdev type), if any.
func (p *Props) Head() string {
	if p.head == "" {
		return ""
	}
	v, _ := p.m.Get(p.head)
	s, _ := v.(string)
	return s
}

// Render picks the encoding: JSON when structured is set, legacy otherwise.
func (p *Props) Render(structured bool) (string, error) {
	if structured {
		return p.JSON()
	}
	return p.Legacy(), nil
}

// JSON renders the property set as a JSON object in insertion order.
func (p *Props) JSON() (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode properties: %w", err)
	}
	return string(b), nil
}

// MarshalJSON implements json.Marshaler.
func (p *Props) MarshalJSON() ([]byte, error) {
	return p.m.MarshalJSON()
}

// Legacy renders the property set as a comma separated option string.
// Commas inside values are doubled.
func (p *Props) Legacy() string {
	var parts []string
	p.appendLegacy(&parts, "")
	return strings.Join(parts, ",")
}

func (p *Props) appendLegacy(parts *[]string, prefix string) {
	for pair := p.m.Oldest(); pair != nil; pair = pair.Next() {
		key := prefix + pair.Key
		if prefix == "" && pair.Key == p.head && p.head != "" {
			*parts = append(*parts, Escape(formatScalar(pair.Value)))
			continue
		}
		switch v := pair.Value.(type) {
		case *Props:
			v.appendLegacy(parts, key+".")
		case []string:
			for _, s := range v {
				*parts = append(*parts, key+"="+Escape(s))
			}
		case []uint:
			for _, n := range v {
				*parts = append(*parts, key+"="+strconv.FormatUint(uint64(n), 10))
			}
		default:
			*parts = append(*parts, key+"="+Escape(formatScalar(v)))
		}
	}
}

func formatScalar(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case bool:
		if x {
			return "on"
		}
		return "off"
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint:
		return strconv.FormatUint(uint64(x), 10)
	case uint32:
		return strconv.FormatUint(uint64(x), 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// Escape doubles commas so a value survives QEMU option parsing.
func Escape(s string) string {
	return strings.ReplaceAll(s, ",", ",,")
}

// OnOff spells a boolean the way QEMU options expect.
func OnOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
