package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"media-downloader/internal/domain"
	"media-downloader/internal/history"
	"media-downloader/internal/jobs"
)

// Prober exposes metadata lookup without starting a download.
type Prober interface {
	Probe(ctx context.Context, url string) (domain.Metadata, error)
}

// Options wires the worker services into the HTTP handler.
type Options struct {
	Version      string
	DownloadsDir string
	Manager      *jobs.Manager
	Store        *jobs.Store
	Prober       Prober
	Files        *history.Files
	Archive      *history.Archive
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type healthResponse struct {
	Ok      bool   `json:"ok"`
	Version string `json:"version"`
}

type submitResponse struct {
	JobID string `json:"job_id"`
}

type statusResponse struct {
	ActiveJobs   int    `json:"active_jobs"`
	MaxJobs      int    `json:"max_jobs"`
	DownloadsDir string `json:"downloads_dir"`
}

type infoRequest struct {
	URL string `json:"url"`
}

// NewHandler builds the worker's HTTP API.
func NewHandler(opts Options) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, healthResponse{Ok: true, Version: opts.Version})
	})

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, statusResponse{
			ActiveJobs:   opts.Store.ActiveCount(),
			MaxJobs:      opts.Manager.Ceiling(),
			DownloadsDir: opts.DownloadsDir,
		})
	})

	mux.HandleFunc("/jobs", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, opts.Store.SnapshotAll())
		case http.MethodPost:
			var req domain.DownloadRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, "invalid json payload", err.Error(), http.StatusBadRequest)
				return
			}
			jobID, err := opts.Manager.Submit(req)
			if err != nil {
				if errors.Is(err, jobs.ErrAtCapacity) {
					writeError(w, "AT_CAPACITY", "", http.StatusTooManyRequests)
					return
				}
				writeError(w, err.Error(), "", http.StatusBadRequest)
				return
			}
			writeJSONStatus(w, submitResponse{JobID: jobID}, http.StatusAccepted)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/jobs/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		jobID := strings.TrimPrefix(r.URL.Path, "/jobs/")
		if jobID == "" || strings.Contains(jobID, "/") {
			http.NotFound(w, r)
			return
		}
		job, ok := opts.Store.Get(jobID)
		if !ok {
			writeError(w, "job not found", "", http.StatusNotFound)
			return
		}
		writeJSON(w, job)
	})

	mux.HandleFunc("/info", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req infoRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "invalid json payload", err.Error(), http.StatusBadRequest)
			return
		}
		url := strings.TrimSpace(req.URL)
		if url == "" {
			writeError(w, "url is required", "", http.StatusBadRequest)
			return
		}
		meta, err := opts.Prober.Probe(r.Context(), url)
		if err != nil {
			writeError(w, "probe failed", err.Error(), http.StatusBadGateway)
			return
		}
		writeJSON(w, meta)
	})

	mux.HandleFunc("/history", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		entries, err := opts.Archive.List(0)
		if err != nil {
			writeError(w, "history unavailable", err.Error(), http.StatusInternalServerError)
			return
		}
		if entries == nil {
			entries = []domain.HistoryEntry{}
		}
		writeJSON(w, entries)
	})

	mux.HandleFunc("/history/files", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		files, err := opts.Files.List()
		if err != nil {
			writeError(w, "listing failed", err.Error(), http.StatusInternalServerError)
			return
		}
		if files == nil {
			files = []domain.FileEntry{}
		}
		writeJSON(w, files)
	})

	mux.HandleFunc("/history/files/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		name := strings.TrimPrefix(r.URL.Path, "/history/files/")
		deleteFile(w, opts.Files, name)
	})

	// DELETE /history/{name} mirrors the files route for clients that
	// address downloads directly under /history.
	mux.HandleFunc("/history/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		name := strings.TrimPrefix(r.URL.Path, "/history/")
		deleteFile(w, opts.Files, name)
	})

	return mux
}

func deleteFile(w http.ResponseWriter, files *history.Files, name string) {
	if name == "" {
		writeError(w, "file not found", "", http.StatusNotFound)
		return
	}
	if err := files.Delete(name); err != nil {
		switch {
		case errors.Is(err, history.ErrInvalidFileName):
			writeError(w, "invalid file name", "", http.StatusBadRequest)
		case errors.Is(err, history.ErrFileNotFound):
			writeError(w, "file not found", "", http.StatusNotFound)
		default:
			writeError(w, "delete failed", err.Error(), http.StatusInternalServerError)
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, message, details string, status int) {
	writeJSONStatus(w, errorResponse{Error: message, Details: details}, status)
}
