//go:build !darwin

package resourcefork

import "io"

// Supported reports whether the native resource-fork side channel is
// available on this platform. Off darwin there is no filesystem-level
// resource fork, so callers fall back to the AppleDouble sidecar file.
func Supported() bool { return false }

// Size returns the resource-fork byte count recorded in fsPath's
// AppleDouble sidecar file, or 0 if none exists.
func Size(fsPath string) (int64, error) {
	return sidecarSize(fsPath)
}

// Open returns a reader over fsPath's AppleDouble sidecar resource fork.
func Open(fsPath string) (io.ReadCloser, error) {
	return openSidecar(fsPath)
}

// Write stores data as an AppleDouble sidecar file next to fsPath.
func Write(fsPath string, data []byte) error {
	return writeSidecar(fsPath, data)
}
