package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/charmbracelet/huh"
	charmlog "github.com/charmbracelet/log"

	"github.com/hotline-go/xfercore/internal/config"
	"github.com/hotline-go/xfercore/socket"
	"github.com/hotline-go/xfercore/transfer"
)

// Values swapped in by a release pipeline at build time.
var version = "dev"

var logLevels = map[string]charmlog.Level{
	"debug": charmlog.DebugLevel,
	"info":  charmlog.InfoLevel,
}

func main() {
	configPath := flag.String("config", config.DefaultPath(), "Path to config file")
	logLevel := flag.String("log-level", "info", "Log level (debug, info)")
	mode := flag.String("mode", "", "Operation: download, upload, folder, preview")
	host := flag.String("host", "", "Server host")
	port := flag.Int("port", 0, "Server control port")
	refNum := flag.Int("ref", 0, "Transfer reference number issued by the server")
	size := flag.Int("size", 0, "Expected transfer size in bytes (download/preview)")
	local := flag.String("local", "", "Local file or directory path (upload/folder) or destination dir (download)")
	remoteName := flag.String("name", "", "Remote file name (preview) or fallback download name")

	flag.Parse()

	logHandler := charmlog.New(os.Stderr)
	logHandler.SetLevel(logLevels[*logLevel])
	logger := slog.New(logHandler)
	logger.Info("hlxfer starting", "version", version)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	if *mode == "" || *host == "" || *port == 0 {
		if err := promptMissing(mode, host, port, refNum, local, remoteName); err != nil {
			logger.Error("input cancelled", "err", err)
			os.Exit(1)
		}
	}

	tctx := transfer.Context{
		ServerHost:      *host,
		ServerPort:      *port,
		ReferenceNumber: uint32(*refNum),
		TransferSize:    uint32(*size),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := dispatch(ctx, cancel, *mode, tctx, cfg, *local, *remoteName, logger); err != nil {
		logger.Error("transfer failed", "err", err)
		os.Exit(1)
	}
}

func dispatch(ctx context.Context, cancel context.CancelFunc, mode string, tctx transfer.Context, cfg config.Config, local, remoteName string, logger *slog.Logger) error {
	switch mode {
	case "download":
		client := transfer.NewDownloadClient(tctx, logger)
		client.SetSocketConfig(socket.Config{ReceiveChunk: cfg.ReceiveChunkSize})
		dest := transfer.Destination{DownloadsDir: local, FallbackName: remoteName}
		if dest.DownloadsDir == "" {
			dest.DownloadsDir = cfg.DownloadDir
		}
		events, done := runEmitter(func(emit transfer.Emitter) (string, error) {
			return client.Download(ctx, dest, emit)
		})
		return runWithProgress(ctx, cancel, "download "+remoteName, events, done)

	case "upload":
		client := transfer.NewUploadClient(tctx, logger)
		client.SetChunkSize(cfg.UploadChunkSize)
		events, done := runEmitter(func(emit transfer.Emitter) (string, error) {
			return "", client.Upload(ctx, local, emit)
		})
		return runWithProgress(ctx, cancel, "upload "+filepath.Base(local), events, done)

	case "folder":
		client := transfer.NewFolderUploadClient(tctx, local, logger)
		client.SetChunkSize(cfg.UploadChunkSize)
		events, done := runEmitter(func(emit transfer.Emitter) (string, error) {
			return "", client.Upload(ctx, emit, nil)
		})
		return runWithProgress(ctx, cancel, "folder upload "+filepath.Base(local), events, done)

	case "preview":
		client := transfer.NewPreviewClient(tctx, remoteName, logger)
		client.SetSocketConfig(socket.Config{ReceiveChunk: cfg.ReceiveChunkSize})
		events, done := runEmitter(func(emit transfer.Emitter) (string, error) {
			return client.Preview(ctx, emit)
		})
		return runWithProgress(ctx, cancel, "preview "+remoteName, events, done)

	default:
		return fmt.Errorf("unknown mode %q", mode)
	}
}

// runEmitter adapts a transfer client's Emitter callback into the
// channel-based shape transferModel consumes: every call event is forwarded
// over events, and the final return value (error only; any local path is
// already reported on the completed event) arrives once over done.
func runEmitter(run func(transfer.Emitter) (string, error)) (<-chan transfer.Event, <-chan error) {
	events := make(chan transfer.Event, 16)
	done := make(chan error, 1)
	go func() {
		_, err := run(func(e transfer.Event) { events <- e })
		close(events)
		done <- err
	}()
	return events, done
}

// promptMissing collects the operation, host, port, reference number, local
// path and remote name interactively via a huh form, following the teacher
// client's join-server-form pattern. The -size flag is not prompted for.
func promptMissing(mode, host *string, port, refNum *int, local, remoteName *string) error {
	var portStr, refStr string
	if *port > 0 {
		portStr = fmt.Sprintf("%d", *port)
	}
	if *refNum > 0 {
		refStr = fmt.Sprintf("%d", *refNum)
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Operation").
				Options(
					huh.NewOption("Download", "download"),
					huh.NewOption("Upload", "upload"),
					huh.NewOption("Folder upload", "folder"),
					huh.NewOption("Preview", "preview"),
				).
				Value(mode),
			huh.NewInput().Title("Server host").Placeholder("hotline.example.com").Value(host),
			huh.NewInput().Title("Control port").Placeholder("5500").Value(&portStr),
			huh.NewInput().Title("Reference number").Placeholder("issued by server").Value(&refStr),
			huh.NewInput().Title("Local path").Placeholder("file, directory, or download dir").Value(local),
			huh.NewInput().Title("Remote name").Placeholder("optional").Value(remoteName),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}

	if _, err := fmt.Sscanf(portStr, "%d", port); err != nil && portStr != "" {
		return fmt.Errorf("invalid port %q: %w", portStr, err)
	}
	if _, err := fmt.Sscanf(refStr, "%d", refNum); err != nil && refStr != "" {
		return fmt.Errorf("invalid reference number %q: %w", refStr, err)
	}
	return nil
}
