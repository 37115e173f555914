//go:build !darwin && !linux

package storage

import "fmt"

// No statfs support here; OpenSQLite fails closed rather than risk WAL
// corruption on an undetectable network mount.
func detectFilesystemType(path string) (string, error) {
	return "", fmt.Errorf("filesystem detection is unsupported on this platform")
}
