//go:build windows

package mcp

import (
	"fmt"
	"os"
)

// openPolicyFile opens the policy file. Creating symlinks on Windows needs
// special privileges, so they are not rejected here.
func openPolicyFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrPolicyNotFound
		}
		return nil, fmt.Errorf("failed to open policy file: %w", err)
	}
	return f, nil
}

// checkFilePermissions is a no-op; Windows does not report Unix modes.
func checkFilePermissions(_ os.FileInfo) error {
	return nil
}

// checkFileOwnership is a no-op; Windows ownership lives in ACLs.
func checkFileOwnership(_ os.FileInfo) error {
	return nil
}
