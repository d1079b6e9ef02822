package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"media-downloader/internal/domain"
	"media-downloader/internal/engine"
)

// ErrAtCapacity is returned when the concurrency ceiling is reached.
// It is a normal rejection, not a failure; the caller may resubmit later.
var ErrAtCapacity = errors.New("AT_CAPACITY")

// ErrEmptyURL is returned for submissions without a source URL.
var ErrEmptyURL = errors.New("url is required")

// Engine abstracts the external download engine for testability.
type Engine interface {
	Probe(ctx context.Context, url string) (domain.Metadata, error)
	Run(ctx context.Context, req engine.Request) (engine.Result, error)
}

// Archiver records terminal jobs into persistent history.
type Archiver interface {
	Record(entry domain.HistoryEntry) error
}

// Manager admits new jobs under the concurrency ceiling and executes each
// admitted job on its own goroutine.
type Manager struct {
	store   *Store
	engine  Engine
	ceiling int
	archive Archiver
	now     func() time.Time

	// submitMu makes the count-then-insert admission step atomic so the
	// non-terminal count can never exceed the ceiling.
	submitMu sync.Mutex
}

// NewManager builds a manager over the shared store. The archiver is
// optional; a nil archiver disables history recording.
func NewManager(store *Store, eng Engine, ceiling int, archive Archiver) *Manager {
	if ceiling <= 0 {
		ceiling = 1
	}
	return &Manager{
		store:   store,
		engine:  eng,
		ceiling: ceiling,
		archive: archive,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Submit admits a new job or rejects it with ErrAtCapacity. On admission it
// inserts a queued record, launches the executor goroutine, and returns the
// fresh job id immediately without waiting for execution to begin.
func (m *Manager) Submit(req domain.DownloadRequest) (string, error) {
	url := strings.TrimSpace(req.URL)
	if url == "" {
		return "", ErrEmptyURL
	}
	req.URL = url

	m.submitMu.Lock()
	defer m.submitMu.Unlock()

	if m.store.ActiveCount() >= m.ceiling {
		return "", ErrAtCapacity
	}

	job := domain.Job{
		ID:        uuid.NewString(),
		URL:       url,
		Status:    domain.JobStatusQueued,
		CreatedAt: m.now(),
	}
	m.store.Upsert(job)

	go m.execute(job.ID, req)
	return job.ID, nil
}

// Ceiling returns the configured concurrency ceiling.
func (m *Manager) Ceiling() int {
	return m.ceiling
}

// execute runs one job to its terminal state. A panic in the engine or in
// this method fails only this job; siblings and the store stay untouched.
func (m *Manager) execute(jobID string, req domain.DownloadRequest) {
	defer func() {
		if r := recover(); r != nil {
			m.finish(jobID, domain.JobStatusFailed, "", fmt.Sprintf("internal executor error: %v", r))
		}
	}()

	if !m.transition(jobID, domain.JobStatusRunning, "Fetching media information") {
		return
	}

	ctx := context.Background()
	meta, err := m.engine.Probe(ctx, req.URL)
	if err != nil {
		m.finish(jobID, domain.JobStatusFailed, "", err.Error())
		return
	}
	meta.SourceURL = req.URL
	m.store.update(jobID, func(job domain.Job) domain.Job {
		job.Metadata = meta
		job.Message = "Downloading"
		return job
	})

	result, err := m.engine.Run(ctx, engine.Request{
		URL:     req.URL,
		Options: req.Options,
		OnProgress: func(p engine.Progress) {
			m.applyProgress(jobID, p)
		},
	})
	if err != nil {
		m.finish(jobID, domain.JobStatusFailed, "", err.Error())
		return
	}

	m.finish(jobID, domain.JobStatusCompleted, result.OutputPath, "")
}

// applyProgress folds one engine callback into the record as a single
// atomic update so observers never see a partially applied report.
func (m *Manager) applyProgress(jobID string, p engine.Progress) {
	m.store.update(jobID, func(job domain.Job) domain.Job {
		if job.Status.IsTerminal() {
			return job
		}

		if p.Stage == engine.StagePostprocessing && job.Status == domain.JobStatusRunning {
			if validTransition(job.Status, domain.JobStatusFinalizing) {
				job.Status = domain.JobStatusFinalizing
			}
		}

		// Percent never goes backwards within a job; yt-dlp restarts the
		// counter per stream fragment.
		if p.Percent > job.ProgressPercent {
			job.ProgressPercent = clampPercent(p.Percent)
		}
		if p.Speed != "" {
			job.Speed = p.Speed
		}
		if p.ETASeconds > 0 {
			job.ETASeconds = p.ETASeconds
		}
		if p.Message != "" {
			job.Message = p.Message
		}
		if p.OutputPath != "" {
			job.OutputPath = p.OutputPath
		}
		return job
	})
}

// transition applies one forward status transition and a message.
func (m *Manager) transition(jobID string, status domain.JobStatus, message string) bool {
	applied := false
	m.store.update(jobID, func(job domain.Job) domain.Job {
		if !validTransition(job.Status, status) {
			return job
		}
		job.Status = status
		job.Message = message
		applied = true
		return job
	})
	return applied
}

// finish moves a job into a terminal state exactly once and archives it.
func (m *Manager) finish(jobID string, status domain.JobStatus, outputPath, errText string) {
	var terminal domain.Job
	recorded := false
	m.store.update(jobID, func(job domain.Job) domain.Job {
		if job.Status.IsTerminal() || !validTransition(job.Status, status) {
			return job
		}
		job.Status = status
		job.FinishedAt = m.now()
		if status == domain.JobStatusCompleted {
			job.ProgressPercent = 100
			job.Message = "Download completed"
			if outputPath != "" {
				job.OutputPath = outputPath
			}
		} else {
			job.Error = errText
			job.Message = "Download failed"
		}
		terminal = job
		recorded = true
		return job
	})

	if recorded && m.archive != nil {
		entry := domain.HistoryEntry{
			JobID:      terminal.ID,
			URL:        terminal.URL,
			Title:      terminal.Metadata.Title,
			Status:     terminal.Status,
			Error:      terminal.Error,
			OutputPath: terminal.OutputPath,
			FinishedAt: terminal.FinishedAt,
		}
		_ = m.archive.Record(entry)
	}
}

// validTransition enforces the one-directional job state machine.
func validTransition(from, to domain.JobStatus) bool {
	switch from {
	case domain.JobStatusQueued:
		return to == domain.JobStatusRunning || to == domain.JobStatusFailed
	case domain.JobStatusRunning:
		return to == domain.JobStatusFinalizing || to == domain.JobStatusCompleted || to == domain.JobStatusFailed
	case domain.JobStatusFinalizing:
		return to == domain.JobStatusCompleted || to == domain.JobStatusFailed
	default:
		return false
	}
}

// clampPercent keeps reported progress inside the 0-100 range.
func clampPercent(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 100 {
		return 100
	}
	return value
}

// NewManagerForTests builds a manager with an injectable clock.
func NewManagerForTests(store *Store, eng Engine, ceiling int, archive Archiver, now func() time.Time) *Manager {
	m := NewManager(store, eng, ceiling, archive)
	if now != nil {
		m.now = now
	}
	return m
}
