package history

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"media-downloader/internal/domain"
)

// ErrFileNotFound is returned when a named file is missing from the
// downloads directory.
var ErrFileNotFound = errors.New("file not found")

// ErrInvalidFileName rejects names that would escape the downloads
// directory.
var ErrInvalidFileName = errors.New("invalid file name")

// Files lists and deletes completed downloads on disk.
type Files struct {
	dir string
}

// NewFiles builds a file browser rooted at the downloads directory.
func NewFiles(dir string) *Files {
	return &Files{dir: dir}
}

// List returns downloaded files sorted newest first. Subdirectories and
// partial downloads are skipped.
func (f *Files) List() ([]domain.FileEntry, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []domain.FileEntry
	for _, entry := range entries {
		if entry.IsDir() || isPartial(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		out = append(out, domain.FileEntry{
			Name:    entry.Name(),
			Size:    info.Size(),
			Created: info.ModTime(),
			Path:    filepath.Join(f.dir, entry.Name()),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Created.Equal(out[j].Created) {
			return out[i].Created.After(out[j].Created)
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// Delete removes one file by bare name. Names with separators or
// traversal segments are rejected before touching the filesystem.
func (f *Files) Delete(name string) error {
	if !safeName(name) {
		return ErrInvalidFileName
	}
	path := filepath.Join(f.dir, name)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return ErrFileNotFound
		}
		return err
	}
	return nil
}

// safeName accepts only bare file names that resolve inside the
// downloads directory.
func safeName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.ContainsAny(name, `/\`) {
		return false
	}
	return filepath.Base(name) == name
}

// isPartial reports whether a name is an in-flight yt-dlp artifact.
func isPartial(name string) bool {
	return strings.HasSuffix(name, ".part") ||
		strings.HasSuffix(name, ".ytdl") ||
		strings.HasSuffix(name, ".temp")
}
