package diagnostics

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"media-downloader/internal/domain"
)

// TestCheckerRunAllPass validates happy-path diagnostics report.
func TestCheckerRunAllPass(t *testing.T) {
	root := t.TempDir()
	checker := NewCheckerForTests(
		func(name string) (string, error) { return "/usr/local/bin/" + name, nil },
		os.MkdirAll,
		os.CreateTemp,
		os.Remove,
	)

	report := checker.Run(domain.Settings{
		DownloadsDir: filepath.Join(root, "downloads"),
	})

	if report.HasFailures {
		t.Fatalf("expected no failures, got %+v", report.Items)
	}
	assertStatusByID(t, report, "tool_yt-dlp", domain.DiagnosticStatusPass)
	assertStatusByID(t, report, "tool_ffmpeg", domain.DiagnosticStatusPass)
	assertStatusByID(t, report, "downloads_dir", domain.DiagnosticStatusPass)
}

// TestCheckerRunMissingToolsAndPaths validates failure reporting.
func TestCheckerRunMissingToolsAndPaths(t *testing.T) {
	checker := NewCheckerForTests(
		func(string) (string, error) { return "", errors.New("not found") },
		os.MkdirAll,
		os.CreateTemp,
		os.Remove,
	)

	report := checker.Run(domain.Settings{
		DownloadsDir: "",
	})

	if !report.HasFailures {
		t.Fatal("expected failures")
	}

	assertStatusByID(t, report, "tool_yt-dlp", domain.DiagnosticStatusFail)
	assertStatusByID(t, report, "downloads_dir", domain.DiagnosticStatusFail)
}

// TestCheckerMissingFFmpegIsWarning validates the degraded-mode path.
func TestCheckerMissingFFmpegIsWarning(t *testing.T) {
	root := t.TempDir()
	checker := NewCheckerForTests(
		func(name string) (string, error) {
			if name == "ffmpeg" {
				return "", errors.New("not found")
			}
			return "/usr/local/bin/" + name, nil
		},
		os.MkdirAll,
		os.CreateTemp,
		os.Remove,
	)

	report := checker.Run(domain.Settings{
		DownloadsDir: filepath.Join(root, "downloads"),
	})

	if report.HasFailures {
		t.Fatalf("warning must not count as failure, got %+v", report.Items)
	}
	assertStatusByID(t, report, "tool_ffmpeg", domain.DiagnosticStatusWarn)
}

// TestCheckerFFmpegOverridePath validates the configured override wins.
func TestCheckerFFmpegOverridePath(t *testing.T) {
	root := t.TempDir()
	var looked []string
	checker := NewCheckerForTests(
		func(name string) (string, error) {
			looked = append(looked, name)
			return name, nil
		},
		os.MkdirAll,
		os.CreateTemp,
		os.Remove,
	)

	checker.Run(domain.Settings{
		DownloadsDir: filepath.Join(root, "downloads"),
		FFmpegPath:   "/opt/tools/ffmpeg",
	})

	found := false
	for _, name := range looked {
		if name == "/opt/tools/ffmpeg" {
			found = true
		}
	}
	if !found {
		t.Fatalf("override path never probed: %v", looked)
	}
}

// TestCheckerUnwritableDownloadsDirFails validates the write check.
func TestCheckerUnwritableDownloadsDirFails(t *testing.T) {
	checker := NewCheckerForTests(
		func(name string) (string, error) { return "/usr/local/bin/" + name, nil },
		func(string, os.FileMode) error { return nil },
		func(string, string) (*os.File, error) { return nil, errors.New("read-only") },
		os.Remove,
	)

	report := checker.Run(domain.Settings{
		DownloadsDir: "/somewhere/readonly",
	})

	assertStatusByID(t, report, "downloads_dir", domain.DiagnosticStatusFail)
}

// assertStatusByID checks status for one diagnostic item by ID.
func assertStatusByID(t *testing.T, report domain.DiagnosticReport, id string, want domain.DiagnosticStatus) {
	t.Helper()
	for _, item := range report.Items {
		if item.ID == id {
			if item.Status != want {
				t.Fatalf("item %s: got %s, want %s", id, item.Status, want)
			}
			return
		}
	}
	t.Fatalf("diagnostic item not found: %s", id)
}
