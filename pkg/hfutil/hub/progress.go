package hub

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/sgl-project/ome-loop/pkg/logging"
)

// ProgressManager manages progress bars and transfer logs. Bars are only
// drawn when stdout is a terminal; batch jobs get the log lines alone.
type ProgressManager struct {
	logger             logging.Interface
	enableProgressBars bool
	enableDetailedLogs bool
}

// stdoutIsTerminal is swapped in tests.
var stdoutIsTerminal = func() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// NewProgressManager creates a new progress manager
func NewProgressManager(logger logging.Interface, enableBars, enableLogs bool) *ProgressManager {
	if logger == nil {
		logger = logging.Discard()
	}
	return &ProgressManager{
		logger:             logger,
		enableProgressBars: enableBars && stdoutIsTerminal(),
		enableDetailedLogs: enableLogs,
	}
}

// CreateTransferBar creates a byte-count bar for one file. verb is
// "Downloading" or "Uploading".
func (pm *ProgressManager) CreateTransferBar(verb, filename string, size int64) *progressbar.ProgressBar {
	if !pm.enableProgressBars {
		return nil
	}

	description := fmt.Sprintf("%s %s", verb, filename)
	if len(description) > 50 {
		description = description[:47] + "..."
	}

	return progressbar.NewOptions64(size,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stdout),
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "▐",
			BarEnd:        "▌",
		}),
		progressbar.OptionShowCount(),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

// CreateFilesBar creates a bar counting files of a snapshot or commit.
func (pm *ProgressManager) CreateFilesBar(verb string, totalFiles int, totalSize int64) *progressbar.ProgressBar {
	if !pm.enableProgressBars {
		return nil
	}

	return progressbar.NewOptions(totalFiles,
		progressbar.OptionSetDescription(fmt.Sprintf("%s %d files (%s)", verb, totalFiles, formatSize(totalSize))),
		progressbar.OptionSetWriter(os.Stdout),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionThrottle(500*time.Millisecond),
	)
}

// LogTransferStart logs the start of a single file transfer
func (pm *ProgressManager) LogTransferStart(op, repoID, filename string, size int64) {
	if !pm.enableDetailedLogs {
		return
	}
	pm.logger.
		WithField("operation", op).
		WithField("repo_id", repoID).
		WithField("filename", filename).
		WithField("size", size).
		Debug("Starting transfer")
}

// LogTransferComplete logs the completion of a single file transfer
func (pm *ProgressManager) LogTransferComplete(op, repoID, filename string, duration time.Duration, size int64) {
	log := pm.logger.
		WithField("operation", op).
		WithField("repo_id", repoID).
		WithField("filename", filename)
	if !pm.enableDetailedLogs {
		log.Debug("Transfer completed")
		return
	}

	speed := 0.0
	if duration > 0 {
		speed = float64(size) / duration.Seconds()
	}
	log.WithField("duration_ms", duration.Milliseconds()).
		WithField("size", size).
		WithField("speed_bps", speed).
		Info("Transfer completed")
}

// LogBatch logs a snapshot download or commit summary.
func (pm *ProgressManager) LogBatch(op, repoID string, fileCount int, totalSize int64, duration time.Duration) {
	pm.logger.
		WithField("operation", op).
		WithField("repo_id", repoID).
		WithField("file_count", fileCount).
		WithField("total_size", formatSize(totalSize)).
		WithField("duration_ms", duration.Milliseconds()).
		Info("Hub operation completed")
}

// LogError logs an error with appropriate context
func (pm *ProgressManager) LogError(operation, repoID string, err error) {
	pm.logger.
		WithField("operation", operation).
		WithField("repo_id", repoID).
		WithError(err).
		Error("Operation failed")
}

// ProgressWriter wraps a progress bar as an io.Writer
type ProgressWriter struct {
	bar    *progressbar.ProgressBar
	writer io.Writer
}

// NewProgressWriter creates a new progress writer
func NewProgressWriter(bar *progressbar.ProgressBar, writer io.Writer) io.Writer {
	if bar == nil {
		return writer
	}
	return &ProgressWriter{
		bar:    bar,
		writer: writer,
	}
}

// Write implements io.Writer interface
func (pw *ProgressWriter) Write(p []byte) (n int, err error) {
	n, err = pw.writer.Write(p)
	if err == nil {
		_ = pw.bar.Add(n)
	}
	return n, err
}

func finishBar(bar *progressbar.ProgressBar) {
	if bar != nil {
		_ = bar.Finish()
	}
}

// formatSize formats bytes into human readable format
func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
