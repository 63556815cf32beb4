package media

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"vidtube-backend/internal/httpx"
)

const (
	tempFilePrefix     = "vidtube-upload-"
	multipartMemoryCap = 8 << 20
	maxExtensionLength = 10
)

// Uploads holds the temp files written for one request, keyed by form field.
type Uploads struct {
	paths map[string]string
}

// SaveUploads parses a multipart request and lands at most one file per named
// field in dir. Form values stay readable through r.FormValue. Callers must
// defer Cleanup; files already consumed by the Gateway are skipped silently.
func SaveUploads(w http.ResponseWriter, r *http.Request, dir string, maxBytes int64, fields ...string) (*Uploads, error) {
	uploads := &Uploads{paths: make(map[string]string, len(fields))}

	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(multipartMemoryCap); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return uploads, httpx.BadRequest("Upload exceeds the size limit")
		}
		return uploads, httpx.BadRequest("invalid multipart form")
	}
	defer r.MultipartForm.RemoveAll()

	for _, field := range fields {
		headers := r.MultipartForm.File[field]
		if len(headers) == 0 {
			continue
		}
		if len(headers) > 1 {
			uploads.Cleanup()
			return uploads, httpx.BadRequest(fmt.Sprintf("Only one file is allowed for %s", field))
		}

		path, err := copyToTemp(dir, headers[0])
		if err != nil {
			uploads.Cleanup()
			return uploads, httpx.Internal("Failed to store upload", err)
		}
		uploads.paths[field] = path
	}

	return uploads, nil
}

// Path returns the temp file for field or "" when the field carried no file.
func (u *Uploads) Path(field string) string {
	if u == nil {
		return ""
	}
	return u.paths[field]
}

func (u *Uploads) Cleanup() {
	if u == nil {
		return
	}
	for field, path := range u.paths {
		_ = removeFile(path)
		delete(u.paths, field)
	}
}

func copyToTemp(dir string, header *multipart.FileHeader) (string, error) {
	src, err := header.Open()
	if err != nil {
		return "", fmt.Errorf("open form file: %w", err)
	}
	defer src.Close()

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}

	dst, err := os.CreateTemp(dir, tempFilePrefix+"*"+safeExtension(header.Filename))
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		_ = removeFile(dst.Name())
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := dst.Close(); err != nil {
		_ = removeFile(dst.Name())
		return "", fmt.Errorf("close temp file: %w", err)
	}

	return dst.Name(), nil
}

func safeExtension(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if len(ext) < 2 || len(ext) > maxExtensionLength {
		return ""
	}
	for _, r := range ext[1:] {
		if r > unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return ""
		}
	}
	return ext
}

// CleanupStaleUploads removes temp upload files in dir last modified before
// now-retention. Only files written by SaveUploads are considered.
func CleanupStaleUploads(dir string, retention time.Duration, now time.Time) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read upload dir: %w", err)
	}

	cutoff := now.Add(-retention)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), tempFilePrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := removeFile(filepath.Join(dir, entry.Name())); err != nil {
			return removed, fmt.Errorf("remove stale upload %s: %w", entry.Name(), err)
		}
		removed++
	}

	return removed, nil
}
