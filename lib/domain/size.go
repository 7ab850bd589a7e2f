package domain

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/c2h5oh/datasize"
)

// KiB is a size in kibibytes. In YAML it may be written as a bare number of
// kibibytes or as a human readable size ("4GB", "512MB").
type KiB uint64

// Bytes returns the exact byte count.
func (k KiB) Bytes() uint64 {
	return uint64(k) * 1024
}

// MiB returns the size in mebibytes, truncated.
func (k KiB) MiB() uint64 {
	return uint64(k) / 1024
}

// UnmarshalJSON accepts either a number of kibibytes or a size string.
func (k *KiB) UnmarshalJSON(b []byte) error {
	var n uint64
	if err := json.Unmarshal(b, &n); err == nil {
		*k = KiB(n)
		return nil
	}

	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("size must be a number of KiB or a size string: %w", err)
	}
	if n, err := strconv.ParseUint(s, 10, 64); err == nil {
		*k = KiB(n)
		return nil
	}

	var ds datasize.ByteSize
	if err := ds.UnmarshalText([]byte(s)); err != nil {
		return fmt.Errorf("parse size %q: %w", s, err)
	}
	if ds.Bytes()%1024 != 0 {
		return fmt.Errorf("size %q is not a whole number of KiB", s)
	}
	*k = KiB(ds.Bytes() / 1024)
	return nil
}

// String renders the size in a human readable form.
func (k KiB) String() string {
	return datasize.ByteSize(k.Bytes()).HumanReadable()
}
