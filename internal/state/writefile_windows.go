//go:build windows

package state

import (
	"bytes"

	"github.com/natefinch/atomic"
)

// renameio does not build on windows; atomic replaces the file with
// MoveFileEx instead.
func writeFile(path string, data []byte) error {
	return atomic.WriteFile(path, bytes.NewReader(data))
}
