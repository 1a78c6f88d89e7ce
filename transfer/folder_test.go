package transfer

import (
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustWriteFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

// readFolderItemHeader parses the wire layout encodeFolderItemHeader
// produces, for server-side test assertions.
func readFolderItemHeader(t *testing.T, conn net.Conn) (isFolder bool, names []string) {
	t.Helper()
	sizeBytes := make([]byte, 2)
	_, err := io.ReadFull(conn, sizeBytes)
	require.NoError(t, err)
	size := int(sizeBytes[0])<<8 | int(sizeBytes[1])

	rest := make([]byte, size-2)
	_, err = io.ReadFull(conn, rest)
	require.NoError(t, err)

	isFolderVal := int(rest[0])<<8 | int(rest[1])
	count := int(rest[2])<<8 | int(rest[3])
	pos := 4
	for i := 0; i < count; i++ {
		pos += 2 // reserved
		nameLen := int(rest[pos])
		pos++
		names = append(names, string(rest[pos:pos+nameLen]))
		pos += nameLen
	}
	return isFolderVal == 1, names
}

// TestFolderUploadWalksNestedTree reproduces §8 scenario 3: A/file1,
// A/sub/file2.
func TestFolderUploadWalksNestedTree(t *testing.T) {
	root := t.TempDir()
	uploadRoot := filepath.Join(root, "A")
	mustWriteFile(t, filepath.Join(uploadRoot, "file1"), []byte{1, 2})
	mustWriteFile(t, filepath.Join(uploadRoot, "sub", "file2"), []byte{1, 2, 3})

	type seenItem struct {
		isFolder bool
		names    []string
	}
	var seen []seenItem

	host, port := fakeTransferServer(t, func(conn net.Conn) {
		refNum, _, flags := readMagicHeader(t, conn)
		require.EqualValues(t, 42, refNum)
		require.EqualValues(t, 0x00010000, flags)

		for i := 0; i < 3; i++ {
			_, _ = conn.Write([]byte{0x00, byte(folderActionNextFile)})
			isFolder, names := readFolderItemHeader(t, conn)
			seen = append(seen, seenItem{isFolder, names})

			if isFolder {
				continue
			}
			_, _ = conn.Write([]byte{0x00, byte(folderActionSendFile)})

			sizeBuf := make([]byte, 4)
			_, _ = io.ReadFull(conn, sizeBuf)
			fhBytes := make([]byte, fileHeaderSize)
			_, _ = io.ReadFull(conn, fhBytes)
			fh, _ := DecodeFileHeader(fhBytes)
			for f := uint16(0); f < fh.ForkCount; f++ {
				hBytes := make([]byte, forkHeaderSize)
				_, _ = io.ReadFull(conn, hBytes)
				h, _ := DecodeForkHeader(hBytes)
				payload := make([]byte, h.DataSize)
				_, _ = io.ReadFull(conn, payload)
			}
		}
		_, _ = conn.Write([]byte{0x00, byte(folderActionNextFile)})
	})

	tctx := Context{ServerHost: host, ServerPort: port, ReferenceNumber: 42}
	client := NewFolderUploadClient(tctx, uploadRoot, nil)

	var events []Event
	var items []ItemProgress
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := client.Upload(ctx, func(e Event) { events = append(events, e) }, func(ip ItemProgress) { items = append(items, ip) })
	require.NoError(t, err)

	last := events[len(events)-1]
	assert.Equal(t, EventCompleted, last.Kind)

	require.Len(t, seen, 3)
	assert.False(t, seen[0].isFolder)
	assert.Equal(t, []string{"file1"}, seen[0].names)
	assert.True(t, seen[1].isFolder)
	assert.Equal(t, []string{"sub"}, seen[1].names)
	assert.False(t, seen[2].isFolder)
	assert.Equal(t, []string{"sub", "file2"}, seen[2].names)

	assert.Len(t, items, 2) // two files, not the folder
}

// TestFolderUploadServerSkipsFile reproduces §8 scenario 4: server
// replies nextFile instead of sendFile, client must not send the
// payload and must advance.
func TestFolderUploadServerSkipsFile(t *testing.T) {
	root := t.TempDir()
	uploadRoot := filepath.Join(root, "A")
	mustWriteFile(t, filepath.Join(uploadRoot, "file1"), []byte{1, 2})

	host, port := fakeTransferServer(t, func(conn net.Conn) {
		_, _, _ = readMagicHeader(t, conn)
		_, _ = conn.Write([]byte{0x00, byte(folderActionNextFile)})
		_, _ = readFolderItemHeader(t, conn)
		// Server skips: respond nextFile instead of sendFile.
		_, _ = conn.Write([]byte{0x00, byte(folderActionNextFile)})
	})

	tctx := Context{ServerHost: host, ServerPort: port, ReferenceNumber: 1}
	client := NewFolderUploadClient(tctx, uploadRoot, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := client.Upload(ctx, nil, nil)
	require.NoError(t, err)
}

// TestFolderUploadResumeDiscardsDescriptor reproduces §8 scenario 5: the
// server asks to resume, client reads and discards the descriptor, then
// uploads the full file from the start.
func TestFolderUploadResumeDiscardsDescriptor(t *testing.T) {
	root := t.TempDir()
	uploadRoot := filepath.Join(root, "A")
	mustWriteFile(t, filepath.Join(uploadRoot, "file1"), []byte{9, 9})

	fileReceived := make(chan []byte, 1)

	host, port := fakeTransferServer(t, func(conn net.Conn) {
		_, _, _ = readMagicHeader(t, conn)
		_, _ = conn.Write([]byte{0x00, byte(folderActionNextFile)})
		_, _ = readFolderItemHeader(t, conn)

		_, _ = conn.Write([]byte{0x00, byte(folderActionResumeFile)})
		_, _ = conn.Write([]byte{0x00, 0x08})
		_, _ = conn.Write([]byte{1, 2, 3, 4, 5, 6, 7, 8})

		sizeBuf := make([]byte, 4)
		_, _ = io.ReadFull(conn, sizeBuf)
		fhBytes := make([]byte, fileHeaderSize)
		_, _ = io.ReadFull(conn, fhBytes)
		fh, _ := DecodeFileHeader(fhBytes)
		var data []byte
		for f := uint16(0); f < fh.ForkCount; f++ {
			hBytes := make([]byte, forkHeaderSize)
			_, _ = io.ReadFull(conn, hBytes)
			h, _ := DecodeForkHeader(hBytes)
			payload := make([]byte, h.DataSize)
			_, _ = io.ReadFull(conn, payload)
			if h.ForkType == ForkTypeDATA {
				data = payload
			}
		}
		fileReceived <- data
		_, _ = conn.Write([]byte{0x00, byte(folderActionNextFile)})
	})

	tctx := Context{ServerHost: host, ServerPort: port, ReferenceNumber: 1}
	client := NewFolderUploadClient(tctx, uploadRoot, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := client.Upload(ctx, nil, nil)
	require.NoError(t, err)

	select {
	case data := <-fileReceived:
		assert.Equal(t, []byte{9, 9}, data)
	case <-time.After(5 * time.Second):
		t.Fatal("server never received the resumed file")
	}
}

// TestFolderUploadEmptyDirectoryCompletesWithoutSocket reproduces the §8
// boundary behavior: no socket is opened for an empty directory.
func TestFolderUploadEmptyDirectoryCompletesWithoutSocket(t *testing.T) {
	root := t.TempDir()
	empty := filepath.Join(root, "Empty")
	require.NoError(t, os.Mkdir(empty, 0o755))

	tctx := Context{ServerHost: "127.0.0.1", ServerPort: 1, ReferenceNumber: 1}
	client := NewFolderUploadClient(tctx, empty, nil)

	var events []Event
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := client.Upload(ctx, func(e Event) { events = append(events, e) }, nil)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, EventPreparing, events[0].Kind)
	assert.Equal(t, EventCompleted, events[1].Kind)
}
