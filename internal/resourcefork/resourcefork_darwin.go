//go:build darwin

package resourcefork

import (
	"bytes"
	"fmt"
	"io"

	"golang.org/x/sys/unix"
)

// xattrName is the extended attribute macOS uses to expose a file's
// resource fork through the regular filesystem namespace.
const xattrName = "com.apple.ResourceFork"

// Supported reports whether the native resource-fork side channel is
// available on this platform.
func Supported() bool { return true }

// Size returns the resource-fork byte count for fsPath, or 0 if the file
// has no resource fork.
func Size(fsPath string) (int64, error) {
	n, err := unix.Getxattr(fsPath, xattrName, nil)
	if err != nil {
		if err == unix.ENOATTR || err == unix.ENODATA {
			return 0, nil
		}
		return 0, fmt.Errorf("resourcefork: getxattr size: %w", err)
	}
	return int64(n), nil
}

// Open returns a reader over fsPath's resource fork.
func Open(fsPath string) (io.ReadCloser, error) {
	size, err := Size(fsPath)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	if size > 0 {
		if _, err := unix.Getxattr(fsPath, xattrName, buf); err != nil {
			return nil, fmt.Errorf("resourcefork: getxattr read: %w", err)
		}
	}
	return io.NopCloser(bytes.NewReader(buf)), nil
}

// Write stores data as fsPath's resource fork.
func Write(fsPath string, data []byte) error {
	if err := unix.Setxattr(fsPath, xattrName, data, 0); err != nil {
		return fmt.Errorf("resourcefork: setxattr: %w", err)
	}
	return nil
}
