package domain

import "time"

// JobStatus tracks the lifecycle stage of a single download job.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusRunning    JobStatus = "running"
	JobStatusFinalizing JobStatus = "finalizing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether a status admits no further transitions.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// IsActive reports whether a status counts against the concurrency ceiling.
func (s JobStatus) IsActive() bool {
	return !s.IsTerminal()
}

// Metadata holds engine-reported information about the source media.
// Fields stay empty until the engine probe reports them.
type Metadata struct {
	Title     string `json:"title,omitempty"`
	Thumbnail string `json:"thumbnail,omitempty"`
	SourceURL string `json:"sourceUrl,omitempty"`
	Uploader  string `json:"uploader,omitempty"`
	Duration  int    `json:"duration,omitempty"`
}

// Job is one tracked download from submission to terminal state.
type Job struct {
	ID              string    `json:"job_id"`
	URL             string    `json:"url"`
	Status          JobStatus `json:"status"`
	ProgressPercent float64   `json:"progress_percent"`
	Speed           string    `json:"speed,omitempty"`
	ETASeconds      int       `json:"eta_seconds,omitempty"`
	Message         string    `json:"message,omitempty"`
	Error           string    `json:"error,omitempty"`
	Metadata        Metadata  `json:"metadata"`
	OutputPath      string    `json:"output_path,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	FinishedAt      time.Time `json:"finished_at,omitempty"`
}

// DownloadOptions are the per-job choices sent by the client.
type DownloadOptions struct {
	Quality   string `json:"quality,omitempty"`
	Format    string `json:"format,omitempty"`
	AudioOnly bool   `json:"audioOnly,omitempty"`
}

// DownloadRequest is one client submission.
type DownloadRequest struct {
	URL     string          `json:"url"`
	Options DownloadOptions `json:"options"`
}

// Settings contains user-selectable runtime configuration for the shell.
type Settings struct {
	DownloadsDir      string `json:"downloadsDir"`
	MaxConcurrentJobs int    `json:"maxConcurrentJobs"`
	WorkerBasePort    int    `json:"workerBasePort"`
	DefaultQuality    string `json:"defaultQuality"`
	DefaultFormat     string `json:"defaultFormat"`
	ProxyURL          string `json:"proxyUrl,omitempty"`
	RateLimit         string `json:"rateLimit,omitempty"`
	FFmpegPath        string `json:"ffmpegPath,omitempty"`
}

// HistoryEntry is one archived terminal job served by the history API.
type HistoryEntry struct {
	JobID      string    `json:"job_id"`
	URL        string    `json:"url"`
	Title      string    `json:"title,omitempty"`
	Status     JobStatus `json:"status"`
	Error      string    `json:"error,omitempty"`
	OutputPath string    `json:"output_path,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

// FileEntry is one downloaded file in the downloads directory listing.
type FileEntry struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	Created time.Time `json:"created"`
	Path    string    `json:"path"`
}
