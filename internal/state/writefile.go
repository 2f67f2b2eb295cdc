//go:build !windows

package state

import "github.com/google/renameio/v2"

// writeFile replaces path with data in a single rename.
func writeFile(path string, data []byte) error {
	return renameio.WriteFile(path, data, 0644)
}
