//go:build !windows

package crash

import (
	"fmt"
)

type noDumps struct{}

// DefaultDumpWriter returns the platform dump writer. Minidumps only exist
// on Windows.
func DefaultDumpWriter() DumpWriter {
	return noDumps{}
}

func (noDumps) WriteDump(string, *Context) error {
	return fmt.Errorf("%w: %w", ErrDumpLibrary, ErrUnsupported)
}

// Install is only available on Windows.
func Install(*Handler) error {
	return ErrUnsupported
}
