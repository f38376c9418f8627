//go:build windows

package config

import "os"

// openConfigFile opens path. Windows has no O_NOFOLLOW.
func openConfigFile(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_RDONLY, 0)
}

// checkFilePermissions is a no-op: Windows uses ACLs.
func checkFilePermissions(_ os.FileInfo) error {
	return nil
}

// checkFileOwnership is a no-op: Windows uses ACLs.
func checkFileOwnership(_ os.FileInfo) error {
	return nil
}
