package transfer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/hotline-go/xfercore/internal/resourcefork"
	"github.com/hotline-go/xfercore/socket"
)

const defaultUploadChunkSize = 256 * 1024

// UploadClient connects to a server's transfer port and emits a
// multi-fork stream for a single local file (C5).
type UploadClient struct {
	ctx    Context
	logger *slog.Logger

	mu        sync.Mutex
	cancel    context.CancelFunc
	chunkSize int
}

// NewUploadClient builds an upload client for one negotiated transfer.
func NewUploadClient(tctx Context, logger *slog.Logger) *UploadClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &UploadClient{ctx: tctx, logger: logger, chunkSize: defaultUploadChunkSize}
}

// Cancel requests the in-flight upload stop at its next suspension point.
func (u *UploadClient) Cancel() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.cancel != nil {
		u.cancel()
	}
}

// SetChunkSize overrides the per-write chunk size used for the next
// Upload call; a non-positive value is ignored.
func (u *UploadClient) SetChunkSize(n int) {
	if n <= 0 {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.chunkSize = n
}

// Upload runs the C5 protocol for fileURL end to end.
func (u *UploadClient) Upload(ctx context.Context, fileURL string, progress Emitter) error {
	ctx, cancel := context.WithCancel(ctx)
	u.mu.Lock()
	u.cancel = cancel
	u.mu.Unlock()
	defer cancel()

	info, err := os.Stat(fileURL)
	if err != nil {
		emitError(progress, ErrKindIO)
		return newError(ErrKindIO, err)
	}
	if !info.Mode().IsRegular() {
		emitError(progress, ErrKindEncodeFailed)
		return newError(ErrKindEncodeFailed, fmt.Errorf("upload: %q is not a regular file", fileURL))
	}

	sizes, err := ReadForkSizes(fileURL)
	if err != nil {
		emitError(progress, ErrKindIO)
		return err
	}

	name := filepath.Base(fileURL)
	typeCode, creatorCode := fileTypeForName(name)
	infoForkBytes := EncodeInfoFork(InfoFork{
		Name:     name,
		Type:     typeCode,
		Creator:  creatorCode,
		Created:  info.ModTime(),
		Modified: info.ModTime(),
	})
	flattened := FlattenedSize(len(infoForkBytes), sizes)

	emitConnecting(progress)
	sock, err := socket.Connect(ctx, u.ctx.ServerHost, u.ctx.TransferPort(), socket.Config{})
	if err != nil {
		emitError(progress, ErrKindIO)
		return newError(ErrKindIO, err)
	}
	defer func() { _ = sock.Close() }()
	emitConnected(progress)

	if err := writeMagicHeader(ctx, sock, u.ctx.ReferenceNumber, uint32(flattened), 0); err != nil {
		emitError(progress, classify(err))
		return err
	}

	u.mu.Lock()
	chunkSize := u.chunkSize
	u.mu.Unlock()
	if chunkSize <= 0 {
		chunkSize = defaultUploadChunkSize
	}

	estimator := NewRateEstimator(flattened, true, DefaultRateEstimatorConfig())
	if err := sendFileFrame(ctx, sock, fileURL, info.Name(), infoForkBytes, sizes, estimator, flattened, progress, chunkSize); err != nil {
		emitError(progress, classify(err))
		return err
	}

	emitCompleted(progress, "")
	return nil
}

// sendFileFrame writes one complete FileHeader + fork sequence (INFO,
// DATA, optional MACR) for a local file onto sock, folding per-chunk
// progress into estimator/transferTotal. It is shared between the
// single-file upload (C5) and the per-item upload inside a folder
// transfer's UPLOADING_FILE state (C6).
func sendFileFrame(ctx context.Context, sock *socket.Socket, fileURL, name string, infoForkBytes []byte, sizes ForkSizes, estimator *RateEstimator, transferTotal int64, progress Emitter, chunkSize int) error {
	forkCount := uint16(2)
	if sizes.ResourceForkSize > 0 {
		forkCount = 3
	}
	if _, err := sock.Write(ctx, EncodeFileHeader(forkCount)); err != nil {
		return newError(ErrKindIO, err)
	}

	if _, err := sock.Write(ctx, EncodeForkHeader(ForkTypeINFO, uint32(len(infoForkBytes)))); err != nil {
		return newError(ErrKindIO, err)
	}
	if _, err := sock.Write(ctx, infoForkBytes); err != nil {
		return newError(ErrKindIO, err)
	}
	sample := estimator.Update(int64(len(infoForkBytes)))
	emitTransfer(progress, name, int64(len(infoForkBytes)), transferTotal, sample)

	if sizes.DataForkSize > 0 {
		if _, err := sock.Write(ctx, EncodeForkHeader(ForkTypeDATA, uint32(sizes.DataForkSize))); err != nil {
			return newError(ErrKindIO, err)
		}
		f, err := os.Open(fileURL)
		if err != nil {
			return newError(ErrKindIO, err)
		}
		err = streamFork(ctx, sock, f, sizes.DataForkSize, estimator, transferTotal, name, progress, chunkSize)
		_ = f.Close()
		if err != nil {
			return err
		}
	}

	if sizes.ResourceForkSize > 0 {
		if _, err := sock.Write(ctx, EncodeForkHeader(ForkTypeMACR, uint32(sizes.ResourceForkSize))); err != nil {
			return newError(ErrKindIO, err)
		}
		r, err := resourcefork.Open(fileURL)
		if err != nil {
			return newError(ErrKindIO, err)
		}
		err = streamFork(ctx, sock, r, sizes.ResourceForkSize, estimator, transferTotal, name, progress, chunkSize)
		_ = r.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func streamFork(ctx context.Context, sock *socket.Socket, r io.Reader, length int64, estimator *RateEstimator, transferTotal int64, name string, progress Emitter, chunkSize int) error {
	progressCh, errCh := sock.WriteFile(ctx, r, length, chunkSize)
	for p := range progressCh {
		sample := estimator.Update(int64(p.JustMoved))
		emitTransfer(progress, name, length, transferTotal, sample)
	}
	if err := <-errCh; err != nil {
		return classifyErr(err)
	}
	return nil
}
