// Package media persists uploaded videos to scratch files for the duration
// of one analysis run.
package media

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"videoinsight/internal/logging"
	"videoinsight/internal/models"
)

const filePrefix = "upload-"

var (
	ErrUnsupportedExtension = errors.New("unsupported video format, expected one of mp4, mov, avi")
	ErrTooLarge             = errors.New("video file too large")
	ErrEmptyUpload          = errors.New("video file is empty")
)

// mimeTypes lists the accepted extensions with the MIME type sent to the provider.
var mimeTypes = map[string]string{
	"mp4": "video/mp4",
	"mov": "video/mov",
	"avi": "video/avi",
}

// NormalizeExtension lower-cases ext, strips a leading dot and checks it
// against the allow-list.
func NormalizeExtension(ext string) (string, error) {
	ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
	if _, ok := mimeTypes[ext]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedExtension, ext)
	}
	return ext, nil
}

// MIMEType returns the provider MIME type for an allowed extension.
func MIMEType(ext string) string {
	if norm, err := NormalizeExtension(ext); err == nil {
		return mimeTypes[norm]
	}
	return "video/mp4"
}

// Store writes uploads into a scratch directory.
type Store struct {
	dir      string
	maxBytes int64
	logger   *slog.Logger
}

// NewStore builds a store rooted at dir. maxBytes <= 0 disables the size cap.
func NewStore(dir string, maxBytes int64, logger *slog.Logger) *Store {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Store{
		dir:      dir,
		maxBytes: maxBytes,
		logger:   logging.WithComponent(logger, "media_store"),
	}
}

// Dir returns the scratch directory.
func (s *Store) Dir() string {
	return s.dir
}

// Store copies the upload into a uniquely named file. The returned file is
// fully written, synced and closed.
func (s *Store) Store(upload models.UploadedMedia) (*models.LocalMedia, error) {
	ext, err := NormalizeExtension(upload.Extension)
	if err != nil {
		return nil, err
	}
	if upload.Reader == nil {
		return nil, ErrEmptyUpload
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return nil, s.ioError("create scratch dir", err)
	}
	f, err := os.CreateTemp(s.dir, filePrefix+"*."+ext)
	if err != nil {
		return nil, s.ioError("create temp file", err)
	}
	path := f.Name()

	src := upload.Reader
	if s.maxBytes > 0 {
		src = io.LimitReader(src, s.maxBytes+1)
	}
	n, err := io.Copy(f, src)
	switch {
	case err != nil:
		err = s.ioError("write temp file", err)
	case n == 0:
		err = ErrEmptyUpload
	case s.maxBytes > 0 && n > s.maxBytes:
		err = ErrTooLarge
	default:
		if err = f.Sync(); err != nil {
			err = s.ioError("sync temp file", err)
		}
	}
	if cerr := f.Close(); err == nil && cerr != nil {
		err = s.ioError("close temp file", cerr)
	}
	if err != nil {
		_ = os.Remove(path)
		return nil, err
	}

	s.logger.Debug("stored upload", "path", logging.SanitizePath(path), "size", n, "file_name", upload.FileName)
	return &models.LocalMedia{
		Path:      path,
		Extension: ext,
		MIMEType:  mimeTypes[ext],
		Size:      n,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// ioError drops the scratch path from err; the full error is logged here.
func (s *Store) ioError(step string, err error) error {
	s.logger.Error(step+" failed", "dir", logging.SanitizePath(s.dir), "error", err)
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return fmt.Errorf("%s: %s: %w", step, pathErr.Op, pathErr.Err)
	}
	return fmt.Errorf("%s: %w", step, err)
}

// Release removes the scratch file. It is safe to call more than once and on
// a nil handle; removal errors are logged, never returned.
func (s *Store) Release(media *models.LocalMedia) {
	if media == nil || media.Path == "" {
		return
	}
	if err := os.Remove(media.Path); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("remove temp file failed", "path", logging.SanitizePath(media.Path), "error", err)
	}
}
