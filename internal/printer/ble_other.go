//go:build !linux

package printer

import (
	"fmt"
	"runtime"
)

func systemBus() (bluezBus, error) {
	return nil, fmt.Errorf("%w, not available on %s", ErrBLEUnsupported, runtime.GOOS)
}
