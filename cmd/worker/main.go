package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"media-downloader/internal/config"
	"media-downloader/internal/engine"
	"media-downloader/internal/history"
	"media-downloader/internal/httpapi"
	"media-downloader/internal/jobs"
	"media-downloader/internal/supervisor"
)

const version = "0.1.0"

const shutdownTimeout = 5 * time.Second

func main() {
	host := flag.String("host", "127.0.0.1", "address to bind the API server to")
	port := flag.Int("port", 5000, "port to bind the API server to")
	downloadsDir := flag.String("downloads-dir", "", "directory for downloaded media")
	maxConcurrent := flag.Int("max-concurrent", 3, "maximum simultaneous download jobs")
	ffmpegPath := flag.String("ffmpeg-path", "", "ffmpeg binary override")
	ytdlpPath := flag.String("ytdlp-path", "yt-dlp", "yt-dlp binary override")
	proxyURL := flag.String("proxy", "", "proxy URL passed to the download engine")
	rateLimit := flag.String("rate-limit", "", "download rate limit, e.g. 4M")
	flag.Parse()

	if err := run(*host, *port, *downloadsDir, *maxConcurrent, *ffmpegPath, *ytdlpPath, *proxyURL, *rateLimit); err != nil {
		log.Fatalf("worker: %v", err)
	}
}

func run(host string, port int, downloadsDir string, maxConcurrent int, ffmpegPath, ytdlpPath, proxyURL, rateLimit string) error {
	if downloadsDir == "" {
		downloadsDir = config.DefaultSettings().DownloadsDir
	}
	if err := os.MkdirAll(downloadsDir, 0o755); err != nil {
		return fmt.Errorf("create downloads directory: %w", err)
	}

	archive, err := history.OpenArchive(filepath.Join(downloadsDir, ".media-downloader", "history.db"))
	if err != nil {
		return fmt.Errorf("open history archive: %w", err)
	}
	defer archive.Close()

	eng := engine.New(engine.Config{
		YtdlpPath:    ytdlpPath,
		FFmpegPath:   ffmpegPath,
		DownloadsDir: downloadsDir,
		ProxyURL:     proxyURL,
		RateLimit:    rateLimit,
	})
	store := jobs.NewStore()
	manager := jobs.NewManager(store, eng, maxConcurrent, archive)

	handler := httpapi.NewHandler(httpapi.Options{
		Version:      version,
		DownloadsDir: downloadsDir,
		Manager:      manager,
		Store:        store,
		Prober:       eng,
		Files:        history.NewFiles(downloadsDir),
		Archive:      archive,
	})

	listener, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("listen on %s:%d: %w", host, port, err)
	}

	server := &http.Server{Handler: handler}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(listener)
	}()

	// The supervisor waits for this exact line on stdout before marking
	// the worker ready. Everything else goes to stderr.
	fmt.Printf("%s addr=%s\n", supervisor.ReadyToken, listener.Addr())
	log.Printf("serving on %s, downloads in %s, %d concurrent jobs", listener.Addr(), downloadsDir, maxConcurrent)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-stop:
		log.Printf("received %s, shutting down", sig)
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
