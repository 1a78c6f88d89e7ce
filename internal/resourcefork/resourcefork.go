// Package resourcefork provides the platform resource-fork side channel
// used when downloading or uploading a file's "MACR" fork (§4.3, §4.4).
// On darwin it is backed by the native resource-fork extended attribute;
// elsewhere (where there is no resource-fork concept at the filesystem
// level) it falls back to an AppleDouble sidecar file, the same scheme
// the teacher client used for cross-platform resource-fork storage.
package resourcefork

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const (
	appleDoubleMagic       = 0x00051607
	appleDoubleVersion     = 0x00020000
	appleDoubleHeaderSize  = 4 + 4 + 16 + 2 + (4 + 4 + 4) // magic,version,filler,count,1 entry descriptor
	appleDoubleEntryOffset = appleDoubleHeaderSize
	resourceForkEntryID    = 2
)

func sidecarPath(fsPath string) string {
	dir := filepath.Dir(fsPath)
	base := filepath.Base(fsPath)
	return filepath.Join(dir, "._"+base)
}

// writeAppleDoubleHeader writes a minimal single-entry AppleDouble header
// describing a resource fork of the given size, positioned immediately
// after the header.
func writeAppleDoubleHeader(w io.Writer, resourceForkSize int64) error {
	header := make([]byte, appleDoubleHeaderSize)
	binary.BigEndian.PutUint32(header[0:4], appleDoubleMagic)
	binary.BigEndian.PutUint32(header[4:8], appleDoubleVersion)
	// header[8:24] filler, zero
	binary.BigEndian.PutUint16(header[24:26], 1) // one entry

	entry := header[26:38]
	binary.BigEndian.PutUint32(entry[0:4], resourceForkEntryID)
	binary.BigEndian.PutUint32(entry[4:8], appleDoubleEntryOffset)
	binary.BigEndian.PutUint32(entry[8:12], uint32(resourceForkSize))

	_, err := w.Write(header)
	return err
}

// sidecarSize returns the resource-fork payload size recorded in an
// AppleDouble sidecar file, or 0 if none exists.
func sidecarSize(fsPath string) (int64, error) {
	info, err := os.Stat(sidecarPath(fsPath))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	if info.Size() <= appleDoubleHeaderSize {
		return 0, nil
	}
	return info.Size() - appleDoubleHeaderSize, nil
}

// openSidecar opens an AppleDouble sidecar file's resource-fork payload
// for reading, seeking past the header.
func openSidecar(fsPath string) (io.ReadCloser, error) {
	f, err := os.Open(sidecarPath(fsPath))
	if err != nil {
		return nil, err
	}
	if _, err := f.Seek(appleDoubleHeaderSize, io.SeekStart); err != nil {
		_ = f.Close()
		return nil, err
	}
	return f, nil
}

// writeSidecar writes data as a fresh AppleDouble sidecar file next to
// fsPath.
func writeSidecar(fsPath string, data []byte) error {
	f, err := os.Create(sidecarPath(fsPath))
	if err != nil {
		return fmt.Errorf("resourcefork: create sidecar: %w", err)
	}
	defer func() { _ = f.Close() }()

	if err := writeAppleDoubleHeader(f, int64(len(data))); err != nil {
		return fmt.Errorf("resourcefork: write sidecar header: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("resourcefork: write sidecar data: %w", err)
	}
	return nil
}
