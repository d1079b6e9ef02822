package engine

import (
	"regexp"
	"strconv"
	"strings"
)

// downloadLineRe matches yt-dlp --newline progress output, e.g.
// "[download]  42.1% of 10.00MiB at 1.20MiB/s ETA 00:05".
var downloadLineRe = regexp.MustCompile(`^\[download\]\s+(\d+(?:\.\d+)?)% of ~?\S+(?:\s+at\s+(\S+))?(?:\s+ETA\s+(\S+))?`)

// destinationLineRe matches the line announcing the output file.
var destinationLineRe = regexp.MustCompile(`^\[download\] Destination:\s+(.+)$`)

// postprocessPrefixes are yt-dlp step markers emitted after the raw stream
// is downloaded but before the final artifact exists.
var postprocessPrefixes = []string{
	"[Merger]",
	"[ExtractAudio]",
	"[VideoConvertor]",
	"[Metadata]",
	"[EmbedThumbnail]",
	"[FixupM4a]",
}

// parseProgressLine converts one engine stdout line into a progress report.
// Lines that carry no progress information return ok=false.
func parseProgressLine(line string) (Progress, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Progress{}, false
	}

	if m := destinationLineRe.FindStringSubmatch(line); m != nil {
		return Progress{
			Stage:      StageDownloading,
			Message:    "Downloading",
			OutputPath: strings.TrimSpace(m[1]),
		}, true
	}

	if m := downloadLineRe.FindStringSubmatch(line); m != nil {
		percent, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return Progress{}, false
		}
		return Progress{
			Stage:      StageDownloading,
			Percent:    percent,
			Speed:      m[2],
			ETASeconds: parseETA(m[3]),
			Message:    "Downloading",
		}, true
	}

	for _, prefix := range postprocessPrefixes {
		if strings.HasPrefix(line, prefix) {
			return Progress{
				Stage:   StagePostprocessing,
				Message: "Processing " + strings.Trim(prefix, "[]"),
			}, true
		}
	}

	return Progress{}, false
}

// parseETA converts "hh:mm:ss" or "mm:ss" into seconds, 0 when unknown.
func parseETA(raw string) int {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "Unknown" {
		return 0
	}

	parts := strings.Split(raw, ":")
	if len(parts) > 3 {
		return 0
	}

	total := 0
	for _, part := range parts {
		value, err := strconv.Atoi(part)
		if err != nil || value < 0 {
			return 0
		}
		total = total*60 + value
	}
	return total
}
