//go:build !windows

package server

import "path/filepath"

// absWorkDir returns a clean absolute instance directory for Unix.
func absWorkDir() string {
	return filepath.Join(string(filepath.Separator), "srv", "minecraft", "smp")
}
