//go:build !darwin && !linux

package storage

// Other platforms are not checked.
func detectFilesystemType(string) (string, error) { return "", nil }
