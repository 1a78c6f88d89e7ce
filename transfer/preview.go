package transfer

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/hotline-go/xfercore/socket"
)

// PreviewClient connects to a server's transfer port and streams a raw
// byte payload (no fork decoding) to a uniquely named temporary file
// (C7).
type PreviewClient struct {
	ctx      Context
	filename string
	logger   *slog.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	tempPath string
	cfg      socket.Config
}

// SetSocketConfig overrides the socket tuning (receive chunk size, buffer
// cap) used for the next Preview call.
func (p *PreviewClient) SetSocketConfig(cfg socket.Config) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg = cfg
}

// NewPreviewClient builds a preview client for one negotiated transfer.
func NewPreviewClient(tctx Context, filename string, logger *slog.Logger) *PreviewClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &PreviewClient{ctx: tctx, filename: filename, logger: logger}
}

// Cancel requests the in-flight preview stop at its next suspension
// point.
func (p *PreviewClient) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
	}
}

// Cleanup removes the temporary file created by a completed preview and
// clears the stored path.
func (p *PreviewClient) Cleanup() error {
	p.mu.Lock()
	path := p.tempPath
	p.tempPath = ""
	p.mu.Unlock()
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return newError(ErrKindIO, err)
	}
	return nil
}

// Preview runs the C7 protocol end to end and returns the temp file URL.
func (p *PreviewClient) Preview(ctx context.Context, progress Emitter) (string, error) {
	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()
	defer cancel()

	emitPreparing(progress)

	tempDir := os.TempDir()
	tempPath := filepath.Join(tempDir, uuid.NewString()+"_"+p.filename)

	emitConnecting(progress)
	p.mu.Lock()
	cfg := p.cfg
	p.mu.Unlock()
	sock, err := socket.Connect(ctx, p.ctx.ServerHost, p.ctx.TransferPort(), cfg)
	if err != nil {
		emitError(progress, ErrKindIO)
		return "", newError(ErrKindIO, err)
	}
	defer func() { _ = sock.Close() }()

	if err := writeMagicHeader(ctx, sock, p.ctx.ReferenceNumber, 0, 0); err != nil {
		emitError(progress, classify(err))
		return "", err
	}
	emitConnected(progress)

	f, err := os.Create(tempPath)
	if err != nil {
		emitError(progress, ErrKindIO)
		return "", newError(ErrKindIO, err)
	}

	estimator := NewRateEstimator(int64(p.ctx.TransferSize), true, DefaultRateEstimatorConfig())
	progressCh, errCh := sock.ReceiveFile(ctx, f, int64(p.ctx.TransferSize), socket.DefaultReceiveChunk)
	for sample := range progressCh {
		s := estimator.Update(int64(sample.JustMoved))
		emitTransfer(progress, p.filename, int64(p.ctx.TransferSize), int64(p.ctx.TransferSize), s)
	}
	closeErr := f.Close()
	if err := <-errCh; err != nil {
		_ = os.Remove(tempPath)
		emitError(progress, classify(err))
		return "", err
	}
	if closeErr != nil {
		_ = os.Remove(tempPath)
		emitError(progress, ErrKindIO)
		return "", newError(ErrKindIO, closeErr)
	}

	p.mu.Lock()
	p.tempPath = tempPath
	p.mu.Unlock()

	emitCompleted(progress, tempPath)
	return tempPath, nil
}
