package transfer

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/hotline-go/xfercore/internal/resourcefork"
	"github.com/hotline-go/xfercore/socket"
)

// DownloadClient connects to a server's transfer port, consumes a
// multi-fork stream, and materializes a file on disk with progress
// (C4).
type DownloadClient struct {
	ctx    Context
	logger *slog.Logger
	cfg    socket.Config

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewDownloadClient builds a download client for one negotiated transfer.
func NewDownloadClient(tctx Context, logger *slog.Logger) *DownloadClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &DownloadClient{ctx: tctx, logger: logger}
}

// SetSocketConfig overrides the socket tuning (receive chunk size, buffer
// cap) used for the next Download call.
func (d *DownloadClient) SetSocketConfig(cfg socket.Config) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg = cfg
}

// Cancel requests the in-flight download stop at its next suspension
// point; it is idempotent and safe to call before Download starts.
func (d *DownloadClient) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		d.cancel()
	}
}

// Destination names where a download should be written: either an
// explicit full path (URL) or a directory plus the server-reported
// filename, which will be made unique if it collides (§6).
type Destination struct {
	URL            string
	DownloadsDir   string
	FallbackName   string
}

func (d Destination) resolve(serverName string) string {
	if d.URL != "" {
		return d.URL
	}
	name := serverName
	if name == "" {
		name = d.FallbackName
	}
	return UniquePath(d.DownloadsDir, name)
}

// Download runs the C4 protocol end to end and returns the final local
// path on success.
func (d *DownloadClient) Download(ctx context.Context, dest Destination, progress Emitter) (string, error) {
	ctx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()
	defer cancel()

	emitPreparing(progress)

	emitConnecting(progress)
	sock, err := socket.Connect(ctx, d.ctx.ServerHost, d.ctx.TransferPort(), d.cfg)
	if err != nil {
		emitError(progress, ErrKindIO)
		return "", newError(ErrKindIO, err)
	}
	defer func() { _ = sock.Close() }()

	if err := writeMagicHeader(ctx, sock, d.ctx.ReferenceNumber, 0, 0); err != nil {
		emitError(progress, classify(err))
		return "", err
	}

	fh, err := readFileHeader(ctx, sock)
	if err != nil {
		emitError(progress, classify(err))
		return "", err
	}
	emitConnected(progress)

	var (
		destPath   string
		partial    string
		file       *os.File
		info       InfoFork
		haveInfo   bool
		resData    []byte
		haveRes    bool
		totalSent  int64
	)
	estimator := NewRateEstimator(int64(d.ctx.TransferSize), d.ctx.TransferSize > 0, DefaultRateEstimatorConfig())

	cleanupPartial := func() {
		if file != nil {
			_ = file.Close()
		}
		if partial != "" {
			_ = os.Remove(partial)
		}
	}

	for i := uint16(0); i < fh.ForkCount; i++ {
		header, err := readForkHeader(ctx, sock)
		if err != nil {
			cleanupPartial()
			emitError(progress, classify(err))
			return "", err
		}

		switch header.ForkType {
		case ForkTypeINFO:
			b, err := sock.Read(ctx, int(header.DataSize))
			if err != nil {
				cleanupPartial()
				emitError(progress, classify(err))
				return "", err
			}
			decoded, err := DecodeInfoFork(b)
			if err != nil {
				cleanupPartial()
				emitError(progress, ErrKindDecodeFailed)
				return "", err
			}
			info = decoded.InfoFork
			haveInfo = true

			destPath = dest.resolve(info.Name)
			partial = partialPath(destPath)
			file, err = os.Create(partial)
			if err != nil {
				emitError(progress, ErrKindIO)
				return "", newError(ErrKindIO, err)
			}
			totalSent += int64(header.DataSize)
			estimator.Update(int64(header.DataSize))

		case ForkTypeDATA:
			if file == nil {
				cleanupPartial()
				emitError(progress, ErrKindFailedToTransfer)
				return "", newError(ErrKindFailedToTransfer, fmt.Errorf("download: DATA fork before INFO fork"))
			}
			name := info.Name
			progressCh, errCh := sock.ReceiveFile(ctx, file, int64(header.DataSize), socket.DefaultReceiveChunk)
			for p := range progressCh {
				totalSent += int64(p.JustMoved)
				sample := estimator.Update(int64(p.JustMoved))
				emitTransfer(progress, name, int64(header.DataSize), int64(d.ctx.TransferSize), sample)
			}
			if err := <-errCh; err != nil {
				cleanupPartial()
				emitError(progress, classify(err))
				return "", err
			}

		case ForkTypeMACR:
			b, err := sock.Read(ctx, int(header.DataSize))
			if err != nil {
				cleanupPartial()
				emitError(progress, classify(err))
				return "", err
			}
			resData = b
			haveRes = true
			totalSent += int64(header.DataSize)
			estimator.Update(int64(header.DataSize))

		default:
			if err := sock.Skip(ctx, int(header.DataSize)); err != nil {
				cleanupPartial()
				emitError(progress, classify(err))
				return "", err
			}
			totalSent += int64(header.DataSize)
			sample := estimator.Update(int64(header.DataSize))
			emitTransfer(progress, "", int64(header.DataSize), int64(d.ctx.TransferSize), sample)
		}
	}

	if !haveInfo {
		cleanupPartial()
		emitError(progress, ErrKindFailedToTransfer)
		return "", newError(ErrKindFailedToTransfer, fmt.Errorf("download: missing INFO fork"))
	}

	if file != nil {
		if err := file.Close(); err != nil {
			_ = os.Remove(partial)
			emitError(progress, ErrKindIO)
			return "", newError(ErrKindIO, err)
		}
	}

	if partial != "" {
		if err := os.Rename(partial, destPath); err != nil {
			_ = os.Remove(partial)
			emitError(progress, ErrKindIO)
			return "", newError(ErrKindIO, err)
		}
	}

	if haveRes && len(resData) > 0 {
		if err := resourcefork.Write(destPath, resData); err != nil {
			d.logger.Warn("failed to apply resource fork, discarding", "err", err, "path", destPath)
		}
	}

	emitCompleted(progress, destPath)
	return destPath, nil
}

// writeMagicHeader writes the "HTXF" handshake shared by every transfer
// role (§6); flags carries the role-specific upper bytes (folder uploads
// set 0x00010000, others 0).
func writeMagicHeader(ctx context.Context, sock *socket.Socket, refNum uint32, dataSize uint32, flags uint32) error {
	b := make([]byte, magicHeaderSize)
	copy(b[0:4], magicSignature)
	binary.BigEndian.PutUint32(b[4:8], refNum)
	binary.BigEndian.PutUint32(b[8:12], dataSize)
	binary.BigEndian.PutUint32(b[12:16], flags)
	if _, err := sock.Write(ctx, b); err != nil {
		return newError(ErrKindIO, err)
	}
	return nil
}

func readFileHeader(ctx context.Context, sock *socket.Socket) (FileHeader, error) {
	b, err := sock.Read(ctx, fileHeaderSize)
	if err != nil {
		return FileHeader{}, classifyErr(err)
	}
	fh, err := DecodeFileHeader(b)
	if err != nil {
		return FileHeader{}, err
	}
	return fh, nil
}

func readForkHeader(ctx context.Context, sock *socket.Socket) (ForkHeader, error) {
	b, err := sock.Read(ctx, forkHeaderSize)
	if err != nil {
		return ForkHeader{}, classifyErr(err)
	}
	return DecodeForkHeader(b)
}
