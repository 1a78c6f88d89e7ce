package transfer

import (
	"context"
	"encoding/binary"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/hotline-go/xfercore/socket"
)

// Folder action codes the server sends to drive the state machine (§3,
// §6).
const (
	folderActionSendFile   uint16 = 1
	folderActionResumeFile uint16 = 2
	folderActionNextFile   uint16 = 3
)

// folderUploadState names the states of the C6 state machine (§4.6).
type folderUploadState int

const (
	stateWaitingForNextFile folderUploadState = iota
	stateSendingItemHeader
	stateWaitingForFileAction
	stateUploadingFile
	stateDone
)

// FolderItem is one entry in the pre-scanned upload plan: a file or
// folder, with path components relative to (and including) the root
// directory name.
type FolderItem struct {
	IsFolder   bool
	Components []string // Components[0] is the root directory's own name
	AbsPath    string
	Size       int64
}

// ItemProgress reports which item of a folder upload is currently
// in flight.
type ItemProgress struct {
	Name        string
	ItemNumber  int
	TotalItems  int
}

// ItemEmitter is the per-item progress callback for folder uploads.
type ItemEmitter func(ItemProgress)

// FolderUploadClient walks a local directory tree and drives the C6
// folder-upload protocol state machine.
type FolderUploadClient struct {
	ctx    Context
	root   string
	logger *slog.Logger

	mu        sync.Mutex
	cancel    context.CancelFunc
	chunkSize int
}

// NewFolderUploadClient builds a folder upload client for rootPath, which
// must be an existing directory.
func NewFolderUploadClient(tctx Context, rootPath string, logger *slog.Logger) *FolderUploadClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &FolderUploadClient{ctx: tctx, root: rootPath, logger: logger, chunkSize: defaultUploadChunkSize}
}

// Cancel requests the in-flight upload stop at its next suspension point.
func (f *FolderUploadClient) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancel != nil {
		f.cancel()
	}
}

// SetChunkSize overrides the per-write chunk size used for every file in
// the next Upload call; a non-positive value is ignored.
func (f *FolderUploadClient) SetChunkSize(n int) {
	if n <= 0 {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunkSize = n
}

// planFolderUpload walks the tree depth-first, skipping hidden entries,
// and returns a stable (lexicographic by component), ordered item list
// plus the total file-byte count (§4.6 preparation).
func planFolderUpload(root string) ([]FolderItem, int64, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, 0, newError(ErrKindIO, err)
	}
	if !info.IsDir() {
		return nil, 0, newError(ErrKindEncodeFailed, fmt.Errorf("folder upload: %q is not a directory", root))
	}

	rootName := filepath.Base(root)
	var items []FolderItem
	var total int64

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		components := append([]string{rootName}, strings.Split(rel, string(filepath.Separator))...)

		resolved := path
		if target, err := filepath.EvalSymlinks(path); err == nil {
			resolved = target
		}
		targetInfo, err := os.Stat(resolved)
		if err != nil {
			return fmt.Errorf("folder upload: stat %q: %w", path, err)
		}

		item := FolderItem{
			IsFolder:   targetInfo.IsDir(),
			Components: components,
			AbsPath:    resolved,
		}
		if !item.IsFolder {
			item.Size = targetInfo.Size()
			total += item.Size
		}
		items = append(items, item)
		return nil
	})
	if err != nil {
		return nil, 0, newError(ErrKindIO, err)
	}

	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i].Components, items[j].Components
		for k := 0; k < len(a) && k < len(b); k++ {
			if a[k] != b[k] {
				return a[k] < b[k]
			}
		}
		return len(a) < len(b)
	})
	return items, total, nil
}

// encodeFolderItemHeader serializes a FolderItem's upload-direction
// header (§3 "Folder item header").
func encodeFolderItemHeader(item FolderItem) []byte {
	pathComponents := item.Components[1:] // strip the root name (§4.6)
	isFolder := uint16(0)
	if item.IsFolder {
		isFolder = 1
	}

	var body []byte
	for _, name := range pathComponents {
		nameBytes := encodeWireString(name)
		comp := make([]byte, 2+1+len(nameBytes))
		// comp[0:2] reserved, zero
		comp[2] = byte(len(nameBytes))
		copy(comp[3:], nameBytes)
		body = append(body, comp...)
	}

	header := make([]byte, 2+2+2)
	binary.BigEndian.PutUint16(header[2:4], isFolder)
	binary.BigEndian.PutUint16(header[4:6], uint16(len(pathComponents)))
	full := append(header, body...)
	binary.BigEndian.PutUint16(full[0:2], uint16(len(full)))
	return full
}

// Upload runs the C6 protocol end to end.
func (f *FolderUploadClient) Upload(ctx context.Context, progress Emitter, itemProgress ItemEmitter) error {
	ctx, cancel := context.WithCancel(ctx)
	f.mu.Lock()
	f.cancel = cancel
	f.mu.Unlock()
	defer cancel()

	emitPreparing(progress)

	items, transferTotal, err := planFolderUpload(f.root)
	if err != nil {
		emitError(progress, classify(err))
		return err
	}
	if len(items) == 0 {
		emitCompleted(progress, "")
		return nil
	}

	emitConnecting(progress)
	sock, err := socket.Connect(ctx, f.ctx.ServerHost, f.ctx.TransferPort(), socket.Config{})
	if err != nil {
		emitError(progress, ErrKindIO)
		return newError(ErrKindIO, err)
	}
	defer func() { _ = sock.Close() }()

	if err := writeMagicHeader(ctx, sock, f.ctx.ReferenceNumber, 0, 0x00010000); err != nil {
		emitError(progress, classify(err))
		return err
	}
	emitConnected(progress)

	estimator := NewRateEstimator(transferTotal, true, DefaultRateEstimatorConfig())

	f.mu.Lock()
	chunkSize := f.chunkSize
	f.mu.Unlock()
	if chunkSize <= 0 {
		chunkSize = defaultUploadChunkSize
	}

	state := stateWaitingForNextFile
	nextIdx := 0
	sentItems := 0
	totalItems := len(items)
	var current FolderItem

	for state != stateDone {
		select {
		case <-ctx.Done():
			emitError(progress, ErrKindCancelled)
			return newError(ErrKindCancelled, ctx.Err())
		default:
		}

		switch state {
		case stateWaitingForNextFile:
			action, err := readAction(ctx, sock)
			if err != nil {
				emitError(progress, classify(err))
				return err
			}
			if action != folderActionNextFile {
				emitError(progress, ErrKindFailedToTransfer)
				return newError(ErrKindFailedToTransfer, fmt.Errorf("folder upload: expected nextFile, got %d", action))
			}
			if nextIdx >= len(items) {
				state = stateDone
				continue
			}
			current = items[nextIdx]
			nextIdx++
			state = stateSendingItemHeader

		case stateSendingItemHeader:
			if _, err := sock.Write(ctx, encodeFolderItemHeader(current)); err != nil {
				emitError(progress, classify(err))
				return err
			}
			if current.IsFolder {
				state = stateWaitingForNextFile
			} else {
				state = stateWaitingForFileAction
			}

		case stateWaitingForFileAction:
			action, err := readAction(ctx, sock)
			if err != nil {
				emitError(progress, classify(err))
				return err
			}
			switch action {
			case folderActionSendFile:
				state = stateUploadingFile
			case folderActionResumeFile:
				resumeLen, err := sock.ReadUint(ctx, 2)
				if err != nil {
					emitError(progress, classify(err))
					return err
				}
				if _, err := sock.Read(ctx, int(resumeLen)); err != nil {
					emitError(progress, classify(err))
					return err
				}
				state = stateUploadingFile
			case folderActionNextFile:
				sentItems++
				if nextIdx >= len(items) {
					state = stateDone
				} else {
					state = stateWaitingForNextFile
				}
			default:
				emitError(progress, ErrKindFailedToTransfer)
				return newError(ErrKindFailedToTransfer, fmt.Errorf("folder upload: unexpected action %d", action))
			}

		case stateUploadingFile:
			sentItems++
			if itemProgress != nil {
				itemProgress(ItemProgress{Name: filepath.Base(current.AbsPath), ItemNumber: sentItems, TotalItems: totalItems})
			}
			if err := uploadFolderItem(ctx, sock, current, estimator, transferTotal, progress, chunkSize); err != nil {
				emitError(progress, classify(err))
				return err
			}
			if nextIdx >= len(items) {
				state = stateDone
			} else {
				state = stateWaitingForNextFile
			}
		}
	}

	emitCompleted(progress, "")
	return nil
}

func readAction(ctx context.Context, sock *socket.Socket) (uint16, error) {
	v, err := sock.ReadUint(ctx, 2)
	if err != nil {
		return 0, classifyErr(err)
	}
	return uint16(v), nil
}

// uploadFolderItem sends the folder-channel file frame: a 4-byte
// flattened size field (which the single-file transfer does not send)
// followed by the same FileHeader/fork sequence as C5 (§6 "Folder
// transfer framing").
func uploadFolderItem(ctx context.Context, sock *socket.Socket, item FolderItem, estimator *RateEstimator, transferTotal int64, progress Emitter, chunkSize int) error {
	info, err := os.Stat(item.AbsPath)
	if err != nil {
		return newError(ErrKindIO, err)
	}
	sizes, err := ReadForkSizes(item.AbsPath)
	if err != nil {
		return err
	}
	name := filepath.Base(item.AbsPath)
	typeCode, creatorCode := fileTypeForName(name)
	infoForkBytes := EncodeInfoFork(InfoFork{Name: name, Type: typeCode, Creator: creatorCode, Created: info.ModTime(), Modified: info.ModTime()})
	flattened := FlattenedSize(len(infoForkBytes), sizes)

	if err := sock.WriteUint(ctx, uint64(flattened), 4); err != nil {
		return newError(ErrKindIO, err)
	}
	return sendFileFrame(ctx, sock, item.AbsPath, name, infoForkBytes, sizes, estimator, transferTotal, progress, chunkSize)
}
