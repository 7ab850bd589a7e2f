package qemu

import (
	"errors"
	"fmt"
	"os"
)

var (
	// ErrConfigUnsupported is returned when the requested configuration
	// cannot be expressed with the target's capabilities.
	ErrConfigUnsupported = errors.New("configuration not supported by this QEMU")

	// ErrStructuralInvalid is returned when the guest definition contradicts itself.
	ErrStructuralInvalid = errors.New("invalid guest definition")

	// ErrResourceAcquisition is returned when opening a host resource fails.
	ErrResourceAcquisition = errors.New("failed to acquire host resource")

	// ErrInternalInconsistency is returned when an invariant this package
	// maintains itself is violated.
	ErrInternalInconsistency = errors.New("internal inconsistency")

	// ErrControllerNotFound is returned when a device references a controller
	// that is neither defined nor built into the machine type. It is always
	// reported together with ErrInternalInconsistency.
	ErrControllerNotFound = errors.New("controller not found")

	// ErrAddressMissing is returned when a device that needs a bus address has
	// none. It is always reported together with ErrInternalInconsistency.
	ErrAddressMissing = errors.New("device address missing")
)

// Kind names for logs and metrics.
const (
	KindConfigUnsupported     = "config_unsupported"
	KindStructuralInvalid     = "structural_invalid"
	KindResourceAcquisition   = "resource_acquisition"
	KindInternalInconsistency = "internal_inconsistency"
	KindUnknown               = "unknown"
)

// KindOf classifies err into one of the four error kinds.
func KindOf(err error) string {
	switch {
	case errors.Is(err, ErrConfigUnsupported):
		return KindConfigUnsupported
	case errors.Is(err, ErrStructuralInvalid):
		return KindStructuralInvalid
	case errors.Is(err, ErrResourceAcquisition):
		return KindResourceAcquisition
	case errors.Is(err, ErrInternalInconsistency):
		return KindInternalInconsistency
	}
	return KindUnknown
}

func unsupported(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrConfigUnsupported}, args...)...)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrStructuralInvalid}, args...)...)
}

func inconsistent(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInternalInconsistency}, args...)...)
}

func acquisition(err error, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %w", ErrResourceAcquisition, fmt.Sprintf(format, args...), err)
}

// Error is returned by Synthesize on failure. No arguments are returned, but
// descriptors opened by stages that completed before the failure are still
// open and belong to the caller; Close releases them.
type Error struct {
	Stage State
	Err   error
	Files []*os.File
}

func (e *Error) Error() string {
	return fmt.Sprintf("synthesis failed while %s: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Close closes every descriptor carried by the error.
func (e *Error) Close() error {
	return closeFiles(e.Files)
}

func closeFiles(files []*os.File) error {
	var errs []error
	for _, f := range files {
		if f == nil {
			continue
		}
		if err := f.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
