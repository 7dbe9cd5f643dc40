// internal/log/file.go
package log

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// FileHandler writes formatted logs to a size-rotated file.
type FileHandler struct {
	slog.Handler
	w *rotatingFile
}

// NewFileHandler creates a file handler with rotation. Backups are named
// path.1 (newest) through path.N.
func NewFileHandler(cfg *Config, level slog.Level) (*FileHandler, error) {
	dir := filepath.Dir(cfg.FilePath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
	}

	maxSize := int64(cfg.MaxSizeMB) * 1024 * 1024
	if maxSize < 1024 {
		maxSize = 1024
	}
	w := &rotatingFile{path: cfg.FilePath, maxSize: maxSize, maxBackups: cfg.MaxBackups}
	if err := w.open(); err != nil {
		return nil, err
	}

	return &FileHandler{
		Handler: newFormatHandler(w, cfg.Format, level),
		w:       w,
	}, nil
}

// WithAttrs returns a handler sharing the same file.
func (h *FileHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &FileHandler{Handler: h.Handler.WithAttrs(attrs), w: h.w}
}

// WithGroup returns a handler sharing the same file.
func (h *FileHandler) WithGroup(name string) slog.Handler {
	return &FileHandler{Handler: h.Handler.WithGroup(name), w: h.w}
}

// Close closes the underlying file.
func (h *FileHandler) Close() error {
	return h.w.Close()
}

// rotatingFile is an io.Writer that shifts the file to a numbered backup
// once it grows past maxSize.
type rotatingFile struct {
	mu         sync.Mutex
	path       string
	maxSize    int64
	maxBackups int
	file       *os.File
	size       int64
}

func (r *rotatingFile) open() error {
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	r.file = f
	r.size = info.Size()
	return nil
}

func (r *rotatingFile) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return 0, os.ErrClosed
	}
	if r.size > 0 && r.size+int64(len(p)) > r.maxSize {
		if err := r.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := r.file.Write(p)
	r.size += int64(n)
	return n, err
}

// rotate must be called with mu held
func (r *rotatingFile) rotate() error {
	r.file.Close()
	r.file = nil

	if r.maxBackups <= 0 {
		if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove log file: %w", err)
		}
		return r.open()
	}

	os.Remove(r.backup(r.maxBackups))
	for i := r.maxBackups - 1; i >= 1; i-- {
		os.Rename(r.backup(i), r.backup(i+1))
	}
	if err := os.Rename(r.path, r.backup(1)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("rename log file: %w", err)
	}
	return r.open()
}

func (r *rotatingFile) backup(n int) string {
	return fmt.Sprintf("%s.%d", r.path, n)
}

func (r *rotatingFile) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}
