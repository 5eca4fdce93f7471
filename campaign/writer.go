package campaign

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"sdcampaign/logging"
)

// Output file naming.
const (
	stampLayout    = "20060102_150405"
	imageExtension = ".jpg"

	// maxNameCollisions bounds the index bumps for a single image.
	maxNameCollisions = 1000
)

// WriteReport summarizes one Write call.
type WriteReport struct {
	// Written holds the paths created, in payload order.
	Written []string

	// Failed counts payloads that could not be decoded or saved.
	Failed int
	Errors []error

	// Discarded counts payloads beyond the limit.
	Discarded int
}

// OutputWriter persists image payloads for one category. The index is
// per writer and only increases. Not safe for concurrent use.
type OutputWriter struct {
	dir    string
	next   int
	ready  bool
	logger *logging.Logger

	// now is the clock used for file stamps; replaced in tests.
	now func() time.Time
}

// NewOutputWriter creates a writer for dir. The directory is created on the
// first Write, so a category that never writes leaves nothing behind.
func NewOutputWriter(dir string, logger *logging.Logger) *OutputWriter {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &OutputWriter{
		dir:    dir,
		next:   1,
		logger: logger.Named("writer"),
		now:    time.Now,
	}
}

// Dir returns the output directory.
func (w *OutputWriter) Dir() string {
	return w.dir
}

// Write decodes and saves up to limit payloads. A bad payload fails alone;
// the remaining payloads are still written.
func (w *OutputWriter) Write(images []string, limit int) WriteReport {
	var report WriteReport
	if limit < 0 {
		limit = 0
	}
	if len(images) > limit {
		report.Discarded = len(images) - limit
		images = images[:limit]
	}
	if len(images) == 0 {
		return report
	}

	if !w.ready {
		if err := os.MkdirAll(w.dir, 0o755); err != nil {
			err = fmt.Errorf("failed to create output directory: %w", err)
			w.logger.Error("output directory unavailable", zap.String("dir", w.dir), zap.Error(err))
			report.Failed = len(images)
			report.Errors = append(report.Errors, err)
			return report
		}
		w.ready = true
	}

	stamp := w.stamp(len(images) > 1)
	for i, payload := range images {
		path, err := w.save(stamp, payload)
		if err != nil {
			w.logger.Warn("failed to save image",
				zap.Int("payload", i),
				zap.Error(err))
			report.Failed++
			report.Errors = append(report.Errors, err)
			continue
		}
		report.Written = append(report.Written, path)
		w.logger.Debug("image saved", zap.String("path", path))
	}
	return report
}

// stamp formats the current time, adding milliseconds when several images
// share it.
func (w *OutputWriter) stamp(multi bool) string {
	t := w.now()
	if multi {
		return fmt.Sprintf("%s_%03d", t.Format(stampLayout), t.Nanosecond()/int(time.Millisecond))
	}
	return t.Format(stampLayout)
}

func (w *OutputWriter) save(stamp, payload string) (string, error) {
	data, err := DecodeImagePayload(payload)
	if err != nil {
		return "", err
	}

	for range maxNameCollisions {
		path := filepath.Join(w.dir, fmt.Sprintf("%s_%02d%s", stamp, w.next, imageExtension))
		w.next++

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to create %s: %w", path, err)
		}

		if _, err := f.Write(data); err != nil {
			f.Close()
			os.Remove(path)
			return "", fmt.Errorf("failed to write %s: %w", path, err)
		}
		if err := f.Close(); err != nil {
			os.Remove(path)
			return "", fmt.Errorf("failed to close %s: %w", path, err)
		}
		return path, nil
	}
	return "", fmt.Errorf("no free file name for stamp %s in %s", stamp, w.dir)
}

// DecodeImagePayload decodes a base64 image, with or without a data URI prefix.
func DecodeImagePayload(payload string) ([]byte, error) {
	payload = strings.TrimSpace(payload)
	if strings.HasPrefix(payload, "data:") {
		comma := strings.IndexByte(payload, ',')
		if comma < 0 {
			return nil, errors.New("malformed data URI payload")
		}
		payload = payload[comma+1:]
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image payload: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrEmptyPayload
	}
	return data, nil
}
