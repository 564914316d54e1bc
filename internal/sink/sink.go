// Package sink writes matched records into rolling semicolon-delimited files,
// one file per sites-listing page, and hands each completed file to the
// configured uploader.
package sink

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/JakeFAU/stream-embed-audit/internal/audit"
	"github.com/JakeFAU/stream-embed-audit/internal/metrics"
	"github.com/JakeFAU/stream-embed-audit/internal/storage"
)

// TimestampLayout formats the run timestamp embedded in file names.
const TimestampLayout = "20060102T150405Z"

// Delimiter separates fields within a row.
const Delimiter = ';'

// FailurePolicy decides what a failed upload does to the run.
type FailurePolicy string

const (
	// PolicyAbort returns the *storage.StorageError and ends the crawl.
	PolicyAbort FailurePolicy = "abort"
	// PolicyContinue logs the failure, keeps the local file, and carries on.
	PolicyContinue FailurePolicy = "continue"
)

// ParsePolicy maps a configuration value to a FailurePolicy. Empty means abort.
func ParsePolicy(s string) (FailurePolicy, error) {
	switch FailurePolicy(s) {
	case "", PolicyAbort:
		return PolicyAbort, nil
	case PolicyContinue:
		return PolicyContinue, nil
	}
	return "", fmt.Errorf("unknown upload failure policy %q", s)
}

// Config controls file placement and the upload hand-off.
type Config struct {
	OutputDir       string
	RunTimestamp    string
	UploadEnabled   bool
	Provider        string
	Destination     string
	Prefix          string
	OnUploadFailure FailurePolicy
}

// RecordMirror receives a copy of every accepted record.
type RecordMirror interface {
	RecordMatch(ctx context.Context, runID string, record audit.MatchRecord) error
}

// Notifier announces uploaded files.
type Notifier interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Notification is published after each successful upload.
type Notification struct {
	RunID string `json:"run_id"`
	File  string `json:"file"`
	URI   string `json:"uri"`
	Rows  int    `json:"rows"`
}

// File describes one closed result file.
type File struct {
	Path     string
	Rows     int
	URI      string
	Uploaded bool
}

// Option customizes a CSVSink.
type Option func(*CSVSink)

// WithMirror mirrors every accepted record.
func WithMirror(m RecordMirror) Option {
	return func(s *CSVSink) { s.mirror = m }
}

// WithNotifier publishes a Notification to topic after each upload.
func WithNotifier(n Notifier, topic string) Option {
	return func(s *CSVSink) {
		s.notifier = n
		s.topic = topic
	}
}

// WithRunID tags mirrored records and notifications.
func WithRunID(id string) Option {
	return func(s *CSVSink) { s.runID = id }
}

// CSVSink is the rolling result writer. It is not safe for concurrent use;
// the crawl drives it from a single goroutine.
type CSVSink struct {
	cfg      Config
	uploader storage.Uploader
	logger   *zap.Logger

	mirror   RecordMirror
	notifier Notifier
	topic    string
	runID    string

	counter int
	current *os.File
	writer  *csv.Writer
	rows    int
	files   []File
}

var _ audit.RecordSink = (*CSVSink)(nil)

// NewCSVSink prepares the output directory. No file is created until the
// first Accept.
func NewCSVSink(cfg Config, uploader storage.Uploader, logger *zap.Logger, opts ...Option) (*CSVSink, error) {
	if cfg.OutputDir == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	if cfg.RunTimestamp == "" {
		return nil, fmt.Errorf("run timestamp is required")
	}
	policy, err := ParsePolicy(string(cfg.OnUploadFailure))
	if err != nil {
		return nil, err
	}
	cfg.OnUploadFailure = policy
	if cfg.UploadEnabled {
		if uploader == nil {
			return nil, fmt.Errorf("upload enabled without an uploader")
		}
		if cfg.Destination == "" {
			return nil, fmt.Errorf("upload enabled without a destination container")
		}
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o750); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &CSVSink{
		cfg:      cfg,
		uploader: uploader,
		logger:   logger,
		counter:  1,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// FileName returns the name of the counter-th file of a run.
func FileName(runTimestamp string, counter int) string {
	return fmt.Sprintf("%s-%d.csv", runTimestamp, counter)
}

// Accept appends one row to the current file, opening it on first use.
func (s *CSVSink) Accept(ctx context.Context, record audit.MatchRecord) error {
	if s.current == nil {
		if err := s.open(); err != nil {
			return err
		}
	}
	if err := s.writer.Write(record.Fields()); err != nil {
		return fmt.Errorf("write row to %s: %w", s.current.Name(), err)
	}
	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		return fmt.Errorf("flush row to %s: %w", s.current.Name(), err)
	}
	s.rows++

	if s.mirror != nil {
		if err := s.mirror.RecordMatch(ctx, s.runID, record); err != nil {
			return fmt.Errorf("mirror match: %w", err)
		}
	}
	return nil
}

func (s *CSVSink) open() error {
	path := filepath.Join(s.cfg.OutputDir, FileName(s.cfg.RunTimestamp, s.counter))
	// #nosec G304 -- path is built from configuration and the run timestamp.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open result file %s: %w", path, err)
	}
	w := csv.NewWriter(f)
	w.Comma = Delimiter
	s.current = f
	s.writer = w
	s.rows = 0
	s.logger.Debug("Opened result file", zap.String("file", path))
	return nil
}

// Dirty reports whether the current file holds rows not yet rolled over.
func (s *CSVSink) Dirty() bool {
	return s.current != nil
}

// Rollover closes the current file, uploads it when enabled, and moves to the
// next counter. A clean sink is left untouched.
func (s *CSVSink) Rollover(ctx context.Context) error {
	if !s.Dirty() {
		return nil
	}
	file, err := s.closeCurrent()
	if err != nil {
		return err
	}
	s.counter++
	metrics.ObserveFile(metrics.FileCompleted)

	if !s.cfg.UploadEnabled {
		s.files = append(s.files, file)
		s.logger.Info("Result file completed", zap.String("file", file.Path), zap.Int("rows", file.Rows))
		return nil
	}

	object := storage.ObjectName(s.cfg.Prefix, file.Path)
	uri, err := s.uploader.Upload(ctx, file.Path, s.cfg.Destination, object)
	if err != nil {
		s.files = append(s.files, file)
		metrics.ObserveFile(metrics.FileUploadFailed)
		storageErr := &storage.StorageError{
			Provider:  s.cfg.Provider,
			Container: s.cfg.Destination,
			Object:    object,
			LocalPath: file.Path,
			Err:       err,
		}
		var existing *storage.StorageError
		if errors.As(err, &existing) {
			storageErr = existing
		}
		if s.cfg.OnUploadFailure == PolicyContinue {
			s.logger.Warn("Upload failed, keeping local file", zap.String("file", file.Path), zap.Error(err))
			return nil
		}
		return storageErr
	}

	file.URI = uri
	file.Uploaded = true
	s.files = append(s.files, file)
	metrics.ObserveFile(metrics.FileUploaded)
	s.logger.Info("Result file uploaded",
		zap.String("file", file.Path),
		zap.String("uri", uri),
		zap.Int("rows", file.Rows),
	)
	s.notify(ctx, file)
	return nil
}

func (s *CSVSink) notify(ctx context.Context, file File) {
	if s.notifier == nil {
		return
	}
	msg := Notification{
		RunID: s.runID,
		File:  filepath.Base(file.Path),
		URI:   file.URI,
		Rows:  file.Rows,
	}
	if _, err := s.notifier.Publish(ctx, s.topic, msg); err != nil {
		s.logger.Warn("Failed to publish upload notification", zap.String("topic", s.topic), zap.Error(err))
	}
}

func (s *CSVSink) closeCurrent() (File, error) {
	f := s.current
	s.writer.Flush()
	writeErr := s.writer.Error()
	closeErr := f.Close()
	file := File{Path: f.Name(), Rows: s.rows}
	s.current = nil
	s.writer = nil
	s.rows = 0
	if writeErr != nil {
		return file, fmt.Errorf("flush %s: %w", file.Path, writeErr)
	}
	if closeErr != nil {
		return file, fmt.Errorf("close %s: %w", file.Path, closeErr)
	}
	return file, nil
}

// Close releases the current file without uploading it. Partial files stay
// on disk.
func (s *CSVSink) Close() error {
	if !s.Dirty() {
		return nil
	}
	file, err := s.closeCurrent()
	s.files = append(s.files, file)
	if err != nil {
		return err
	}
	s.logger.Warn("Result file left without upload", zap.String("file", file.Path), zap.Int("rows", file.Rows))
	return nil
}

// Files returns the files closed so far, in creation order.
func (s *CSVSink) Files() []File {
	out := make([]File, len(s.files))
	copy(out, s.files)
	return out
}
