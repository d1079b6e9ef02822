package config

import (
	"os"
	"path/filepath"

	"media-downloader/internal/domain"
)

// DefaultSettings returns baseline local configuration for first launch.
func DefaultSettings() domain.Settings {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	return domain.Settings{
		DownloadsDir:      filepath.Join(homeDir, "Downloads", "media-downloader"),
		MaxConcurrentJobs: 3,
		WorkerBasePort:    5000,
		DefaultQuality:    "best",
		DefaultFormat:     "mp4",
	}
}
