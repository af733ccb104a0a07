// Package logger provides centralized logging using arbor. It exposes
// a constructor instead of a package-level singleton: every component
// receives its own arbor.ILogger handle at construction and passes it
// down explicitly (pkg/rag, internal/api).
package logger

import (
	"os"
	"path/filepath"

	"github.com/ternarybob/arbor"
	arborcommon "github.com/ternarybob/arbor/common"
	"github.com/ternarybob/arbor/models"
	"github.com/ternarybob/repoagent/internal/config"
)

// New builds an arbor logger from cfg.Logging: console and/or file
// writers per cfg.Logging.Output, plus a memory writer so the event
// stream can tail recent log lines alongside its own events.
func New(cfg config.LoggingConfig) arbor.ILogger {
	logger := arbor.NewLogger()

	hasFile := false
	hasConsole := false
	for _, output := range cfg.Output {
		switch output {
		case "file":
			hasFile = true
		case "stdout", "console":
			hasConsole = true
		case "both":
			hasFile, hasConsole = true, true
		}
	}
	if !hasFile && !hasConsole {
		hasConsole = true
	}

	if hasFile {
		dir := cfg.Dir
		if dir == "" {
			dir = "logs"
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			tmp := logger.WithConsoleWriter(writerConfig(cfg, models.LogWriterTypeConsole, ""))
			tmp.Warn().Err(err).Str("dir", dir).Msg("failed to create log directory, falling back to console only")
		} else {
			logger = logger.WithFileWriter(writerConfig(cfg, models.LogWriterTypeFile, filepath.Join(dir, "repoagent.log")))
		}
	}
	if hasConsole {
		logger = logger.WithConsoleWriter(writerConfig(cfg, models.LogWriterTypeConsole, ""))
	}

	logger = logger.WithMemoryWriter(writerConfig(cfg, models.LogWriterTypeMemory, ""))
	logger = logger.WithLevelFromString(cfg.Level)
	return logger
}

func writerConfig(cfg config.LoggingConfig, writerType models.LogWriterType, filename string) models.WriterConfiguration {
	timeFormat := cfg.TimeFormat
	if timeFormat == "" {
		timeFormat = "15:04:05.000"
	}
	outputType := models.OutputFormatJSON
	if cfg.Format == "text" {
		outputType = models.OutputFormatLogfmt
	}
	maxSize := int64(100 * 1024 * 1024)
	if cfg.MaxSizeMB > 0 {
		maxSize = int64(cfg.MaxSizeMB) * 1024 * 1024
	}
	maxBackups := 5
	if cfg.MaxBackups > 0 {
		maxBackups = cfg.MaxBackups
	}
	return models.WriterConfiguration{
		Type:             writerType,
		FileName:         filename,
		TimeFormat:       timeFormat,
		OutputType:       outputType,
		DisableTimestamp: false,
		MaxSize:          maxSize,
		MaxBackups:       maxBackups,
	}
}

// Stop flushes any remaining context logs before application shutdown.
// Safe to call multiple times (Arbor's Stop is idempotent).
func Stop() {
	arborcommon.Stop()
}
