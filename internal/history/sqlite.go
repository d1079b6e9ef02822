package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"media-downloader/internal/domain"
)

// Archive persists terminal jobs into a local sqlite database so the
// history survives worker restarts.
type Archive struct {
	db *sql.DB
}

// OpenArchive opens (or creates) the history database at path.
func OpenArchive(path string) (*Archive, error) {
	if path == "" {
		return nil, fmt.Errorf("history database path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if err := initDB(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Archive{db: db}, nil
}

// Close releases the underlying database handle.
func (a *Archive) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	return a.db.Close()
}

func initDB(db *sql.DB) error {
	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS download_history (
    job_id      TEXT PRIMARY KEY,
    url         TEXT NOT NULL,
    title       TEXT NOT NULL DEFAULT '',
    status      TEXT NOT NULL,
    error       TEXT NOT NULL DEFAULT '',
    output_path TEXT NOT NULL DEFAULT '',
    finished_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_history_finished_at ON download_history(finished_at);`)
	return err
}

// Record upserts one terminal job. Re-recording the same job id replaces
// the previous row.
func (a *Archive) Record(entry domain.HistoryEntry) error {
	_, err := a.db.Exec(`
INSERT INTO download_history (job_id, url, title, status, error, output_path, finished_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(job_id) DO UPDATE SET
    url = excluded.url,
    title = excluded.title,
    status = excluded.status,
    error = excluded.error,
    output_path = excluded.output_path,
    finished_at = excluded.finished_at`,
		entry.JobID, entry.URL, entry.Title, string(entry.Status),
		entry.Error, entry.OutputPath, entry.FinishedAt.UTC().Format(time.RFC3339Nano))
	return err
}

// List returns archived jobs, most recently finished first. A limit of
// zero or less returns every row.
func (a *Archive) List(limit int) ([]domain.HistoryEntry, error) {
	query := `
SELECT job_id, url, title, status, error, output_path, finished_at
FROM download_history
ORDER BY finished_at DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := a.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.HistoryEntry
	for rows.Next() {
		var entry domain.HistoryEntry
		var status, finishedAt string
		if err := rows.Scan(&entry.JobID, &entry.URL, &entry.Title, &status,
			&entry.Error, &entry.OutputPath, &finishedAt); err != nil {
			return nil, err
		}
		entry.Status = domain.JobStatus(status)
		if ts, err := time.Parse(time.RFC3339Nano, finishedAt); err == nil {
			entry.FinishedAt = ts
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// Delete removes one archived job by id. Deleting an unknown id is a no-op.
func (a *Archive) Delete(jobID string) error {
	_, err := a.db.Exec(`DELETE FROM download_history WHERE job_id = ?`, jobID)
	return err
}
