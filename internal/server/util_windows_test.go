//go:build windows

package server

import "path/filepath"

// absWorkDir returns a clean absolute instance directory for Windows.
func absWorkDir() string {
	return filepath.Join("C:\\", "srv", "minecraft", "smp")
}
