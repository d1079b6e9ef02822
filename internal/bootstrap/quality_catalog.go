package bootstrap

import (
	"fmt"
	"strings"

	"media-downloader/internal/domain"
)

var qualityCatalog = []domain.QualityOption{
	{
		ID:          "best",
		Name:        "Best available",
		Format:      "mp4",
		Description: "Highest quality video and audio the source offers.",
	},
	{
		ID:          "4K",
		Name:        "4K (2160p)",
		Format:      "mp4",
		Description: "Up to 2160p video merged with best audio.",
	},
	{
		ID:          "1080p",
		Name:        "Full HD (1080p)",
		Format:      "mp4",
		Description: "Up to 1080p video merged with best audio.",
	},
	{
		ID:          "720p",
		Name:        "HD (720p)",
		Format:      "mp4",
		Description: "Up to 720p video, smaller files.",
	},
	{
		ID:          "worst",
		Name:        "Smallest file",
		Format:      "mp4",
		Description: "Lowest quality the source offers.",
	},
	{
		ID:          "audio",
		Name:        "Audio only (MP3)",
		Format:      "mp3",
		AudioOnly:   true,
		Description: "Extract the audio track as MP3.",
	},
}

// GetQualityOptions returns the built-in download quality presets with the
// configured default marked first.
func (a *App) GetQualityOptions() []domain.QualityOption {
	options := make([]domain.QualityOption, len(qualityCatalog))
	copy(options, qualityCatalog)

	a.mu.Lock()
	preferred := strings.TrimSpace(a.Settings.DefaultQuality)
	a.mu.Unlock()
	if preferred == "" {
		return options
	}

	for i, option := range options {
		if option.ID != preferred || i == 0 {
			continue
		}
		reordered := make([]domain.QualityOption, 0, len(options))
		reordered = append(reordered, option)
		reordered = append(reordered, options[:i]...)
		reordered = append(reordered, options[i+1:]...)
		return reordered
	}
	return options
}

// SetDefaultQuality persists a preset from the catalog as the default.
func (a *App) SetDefaultQuality(qualityID string) (domain.Settings, error) {
	id := strings.TrimSpace(qualityID)
	if id == "" {
		return domain.Settings{}, fmt.Errorf("quality id is required")
	}

	option, found := getQualityOptionByID(id)
	if !found {
		return domain.Settings{}, fmt.Errorf("unknown quality id: %s", id)
	}

	settings, err := a.Store.Load()
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}
	settings.DefaultQuality = option.ID
	settings.DefaultFormat = option.Format
	return a.SaveSettings(settings)
}

func getQualityOptionByID(id string) (domain.QualityOption, bool) {
	for _, option := range qualityCatalog {
		if option.ID == id {
			return option, true
		}
	}
	return domain.QualityOption{}, false
}
