package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"media-downloader/internal/domain"
)

// Stage classifies what the engine is doing when it reports progress.
type Stage string

const (
	StageDownloading    Stage = "downloading"
	StagePostprocessing Stage = "postprocessing"
)

// Progress is one engine progress report forwarded to the job executor.
type Progress struct {
	Stage      Stage
	Percent    float64
	Speed      string
	ETASeconds int
	Message    string
	OutputPath string
}

// Request describes one download run.
type Request struct {
	URL        string
	Options    domain.DownloadOptions
	OnProgress func(Progress)
}

// Result carries the final artifact location from a successful run.
type Result struct {
	OutputPath string
}

// EngineError is a stage-aware failure with the engine's stderr tail.
type EngineError struct {
	Stage    Stage
	Message  string
	Stderr   string
	ExitCode int
	Err      error
}

// Error formats engine failures for job records and logs.
func (e *EngineError) Error() string {
	if e == nil {
		return ""
	}
	if e.Stderr == "" {
		return fmt.Sprintf("%s: %s", e.Stage, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Stage, e.Message, e.Stderr)
}

// Unwrap exposes the underlying error for errors.Is / errors.As.
func (e *EngineError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// commandResult is an internal process execution response.
type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner executes a command to completion and buffers its output.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

// streamRunner executes a command and delivers stdout line by line.
type streamRunner interface {
	Run(ctx context.Context, onLine func(string), name string, args ...string) (commandResult, error)
}

// execRunner executes commands via os/exec with buffered output.
type execRunner struct{}

// Run executes one command and captures stdout/stderr and exit code.
func (r *execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := commandResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode(err),
	}
	if err != nil {
		return result, err
	}
	return result, nil
}

// execStreamRunner executes commands and scans stdout line by line.
type execStreamRunner struct{}

// Run starts the command, forwards each stdout line, and waits for exit.
func (r *execStreamRunner) Run(ctx context.Context, onLine func(string), name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return commandResult{ExitCode: -1}, err
	}
	if err := cmd.Start(); err != nil {
		return commandResult{ExitCode: -1}, err
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if onLine != nil {
			onLine(scanner.Text())
		}
	}

	err = cmd.Wait()
	result := commandResult{
		Stderr:   stderrTail(stderr.String()),
		ExitCode: exitCode(err),
	}
	if err != nil {
		return result, err
	}
	return result, nil
}

// exitCode extracts a process exit code, -1 when unavailable.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// stderrTail keeps the last few stderr lines for failure messages.
func stderrTail(raw string) string {
	lines := strings.Split(strings.TrimSpace(raw), "\n")
	const keep = 4
	if len(lines) > keep {
		lines = lines[len(lines)-keep:]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// Config holds engine binary locations and global download policy.
type Config struct {
	YtdlpPath    string
	FFmpegPath   string
	DownloadsDir string
	ProxyURL     string
	RateLimit    string
}

// Engine invokes the external yt-dlp binary per its command-line contract.
type Engine struct {
	cfg      Config
	runner   commandRunner
	streamer streamRunner
}

// New constructs the production engine adapter.
func New(cfg Config) *Engine {
	if strings.TrimSpace(cfg.YtdlpPath) == "" {
		cfg.YtdlpPath = "yt-dlp"
	}
	return &Engine{
		cfg:      cfg,
		runner:   &execRunner{},
		streamer: &execStreamRunner{},
	}
}

// probeInfo mirrors the subset of yt-dlp -J output this core consumes.
type probeInfo struct {
	Title      string  `json:"title"`
	Thumbnail  string  `json:"thumbnail"`
	Duration   float64 `json:"duration"`
	Uploader   string  `json:"uploader"`
	WebpageURL string  `json:"webpage_url"`
}

// Probe fetches media information without downloading.
func (e *Engine) Probe(ctx context.Context, url string) (domain.Metadata, error) {
	args := []string{"-J", "--no-playlist", "--no-warnings"}
	if e.cfg.ProxyURL != "" {
		args = append(args, "--proxy", e.cfg.ProxyURL)
	}
	args = append(args, url)

	result, err := e.runner.Run(ctx, e.cfg.YtdlpPath, args...)
	if err != nil {
		return domain.Metadata{}, &EngineError{
			Stage:    StageDownloading,
			Message:  "cannot fetch media information",
			Stderr:   stderrTail(result.Stderr),
			ExitCode: result.ExitCode,
			Err:      err,
		}
	}

	var info probeInfo
	if err := json.Unmarshal([]byte(result.Stdout), &info); err != nil {
		return domain.Metadata{}, &EngineError{
			Stage:   StageDownloading,
			Message: "engine returned unparseable media information",
			Err:     err,
		}
	}

	return domain.Metadata{
		Title:     info.Title,
		Thumbnail: info.Thumbnail,
		Duration:  int(info.Duration),
		Uploader:  info.Uploader,
		SourceURL: info.WebpageURL,
	}, nil
}

// Run executes one download, forwarding parsed progress reports.
func (e *Engine) Run(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.URL) == "" {
		return Result{}, &EngineError{Stage: StageDownloading, Message: "source url is required"}
	}

	args := buildDownloadArgs(req.URL, req.Options, e.cfg)

	var outputPath string
	onLine := func(line string) {
		progress, ok := parseProgressLine(line)
		if !ok {
			return
		}
		if progress.OutputPath != "" {
			outputPath = progress.OutputPath
		}
		if req.OnProgress != nil {
			req.OnProgress(progress)
		}
	}

	result, err := e.streamer.Run(ctx, onLine, e.cfg.YtdlpPath, args...)
	if err != nil {
		return Result{}, &EngineError{
			Stage:    StageDownloading,
			Message:  "download failed",
			Stderr:   result.Stderr,
			ExitCode: result.ExitCode,
			Err:      err,
		}
	}

	return Result{OutputPath: outputPath}, nil
}

// qualityFormats maps quality presets onto yt-dlp format selectors.
var qualityFormats = map[string]string{
	"best":  "bestvideo+bestaudio/best",
	"4K":    "bestvideo[height<=2160]+bestaudio/best[height<=2160]",
	"1080p": "bestvideo[height<=1080]+bestaudio/best[height<=1080]",
	"720p":  "bestvideo[height<=720]+bestaudio/best[height<=720]",
	"worst": "worstvideo+worstaudio/worst",
}

// buildDownloadArgs assembles the yt-dlp invocation for one download.
func buildDownloadArgs(url string, opts domain.DownloadOptions, cfg Config) []string {
	args := []string{
		"--newline",
		"--no-playlist",
		"--no-warnings",
		"--merge-output-format", "mp4",
	}

	if cfg.DownloadsDir != "" {
		args = append(args, "-o", cfg.DownloadsDir+"/%(title)s.%(ext)s")
	}
	if cfg.FFmpegPath != "" {
		args = append(args, "--ffmpeg-location", cfg.FFmpegPath)
	}
	if cfg.ProxyURL != "" {
		args = append(args, "--proxy", cfg.ProxyURL)
	}
	if limit := strings.TrimSpace(cfg.RateLimit); limit != "" && limit != "0" {
		args = append(args, "--limit-rate", strings.ToUpper(limit))
	}

	if opts.AudioOnly {
		format := opts.Format
		if format == "" {
			format = "mp3"
		}
		args = append(args,
			"-f", "bestaudio/best",
			"-x",
			"--audio-format", format,
			"--audio-quality", "192K",
		)
	} else {
		selector, ok := qualityFormats[opts.Quality]
		if !ok {
			selector = qualityFormats["best"]
		}
		args = append(args, "-f", selector)
		if opts.Format != "" && opts.Format != "mp4" {
			args = append(args, "--recode-video", opts.Format)
		}
	}

	return append(args, url)
}

// NewForTests constructs an engine with injected runners.
func NewForTests(cfg Config, runner commandRunner, streamer streamRunner) *Engine {
	e := New(cfg)
	if runner != nil {
		e.runner = runner
	}
	if streamer != nil {
		e.streamer = streamer
	}
	return e
}
