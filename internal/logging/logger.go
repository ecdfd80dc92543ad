package logging

import (
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"
)

var (
	// Logger is the global structured logger instance
	Logger *slog.Logger
)

// Init initializes the global structured logger
func Init(level slog.Level) {
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Format time as ISO8601
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.Format(time.RFC3339))
				}
			}
			return a
		},
	}

	handler := slog.NewJSONHandler(os.Stdout, opts)
	Logger = slog.New(handler)
	slog.SetDefault(Logger)
}

// ParseLevel converts a string log level to slog.Level
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug", "DEBUG":
		return slog.LevelDebug
	case "info", "INFO":
		return slog.LevelInfo
	case "warn", "WARN":
		return slog.LevelWarn
	case "error", "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// RedactURL removes secrets from URL logs while retaining debugging value.
// It strips userinfo and masks query parameter values.
func RedactURL(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return ""
	}

	parsed, err := url.Parse(rawURL)
	if err != nil || parsed == nil {
		return rawURL
	}

	parsed.User = nil

	if parsed.RawQuery != "" {
		query := parsed.Query()
		for key := range query {
			query.Set(key, "***")
		}
		parsed.RawQuery = query.Encode()
	}

	return parsed.String()
}

// Helper functions for common logging patterns

// LogStageStart logs the start of a pipeline stage
func LogStageStart(runID, stage, input string) {
	if Logger == nil {
		return
	}
	Logger.Info("stage started",
		"event", "stage_start",
		"run_id", runID,
		"stage", stage,
		"input", RedactURL(input))
}

// LogStageComplete logs successful completion of a pipeline stage
func LogStageComplete(runID, stage, output string, elapsed time.Duration) {
	if Logger == nil {
		return
	}
	Logger.Info("stage complete",
		"event", "stage_complete",
		"run_id", runID,
		"stage", stage,
		"output", output,
		"elapsed_ms", elapsed.Milliseconds())
}

// LogStageError logs a pipeline stage failure
func LogStageError(runID, stage string, err error) {
	if Logger == nil {
		return
	}
	Logger.Error("stage failed",
		"event", "stage_error",
		"run_id", runID,
		"stage", stage,
		"error", err)
}

// LogDownloadProgress logs download progress updates
func LogDownloadProgress(url string, received, total int64) {
	if Logger == nil {
		return
	}
	Logger.Debug("download progress",
		"event", "download_progress",
		"url", RedactURL(url),
		"received", received,
		"total", total)
}

// LogDownloadResume logs that a partial file is being resumed
func LogDownloadResume(url, dest string, offset int64) {
	if Logger == nil {
		return
	}
	Logger.Info("resuming partial download",
		"event", "download_resume",
		"url", RedactURL(url),
		"dest", dest,
		"offset", offset)
}

// LogDownloadRestart logs that a partial file was discarded because the
// server did not honor the range request.
func LogDownloadRestart(url, dest string) {
	if Logger == nil {
		return
	}
	Logger.Warn("range not honored; restarting from zero",
		"event", "download_restart",
		"url", RedactURL(url),
		"dest", dest)
}

// LogValidatorMismatch logs that the remote content appears to have changed
// since the partial file was written. Resume continues regardless.
func LogValidatorMismatch(url, dest, stored, current string) {
	if Logger == nil {
		return
	}
	Logger.Warn("remote validator changed since partial download; resumed file may be inconsistent",
		"event", "download_validator_mismatch",
		"url", RedactURL(url),
		"dest", dest,
		"stored", stored,
		"current", current)
}

// LogCommand logs an external tool invocation
func LogCommand(name string, args []string, err error) {
	if Logger == nil {
		return
	}
	if err != nil {
		Logger.Error("command failed",
			"event", "command_error",
			"command", name,
			"args", strings.Join(args, " "),
			"error", err)
	} else {
		Logger.Debug("command finished",
			"event", "command_ok",
			"command", name,
			"args", strings.Join(args, " "))
	}
}

// LogModelFetch logs speech model download activity
func LogModelFetch(model, path string, err error) {
	if Logger == nil {
		return
	}
	if err != nil {
		Logger.Error("model fetch failed",
			"event", "model_fetch_error",
			"model", model,
			"path", path,
			"error", err)
	} else {
		Logger.Info("model fetched",
			"event", "model_fetch",
			"model", model,
			"path", path)
	}
}

// LogDBOperation logs database operations
func LogDBOperation(operation, id string, err error) {
	if Logger == nil {
		return
	}
	if err != nil {
		Logger.Error("database operation failed",
			"event", "db_operation_error",
			"operation", operation,
			"id", id,
			"error", err)
	} else {
		Logger.Debug("database operation",
			"event", "db_operation",
			"operation", operation,
			"id", id)
	}
}

// LogServerStart logs server startup
func LogServerStart(addr string, config map[string]any) {
	if Logger == nil {
		return
	}
	attrs := []any{
		"event", "server_start",
		"addr", addr,
	}
	for k, v := range config {
		attrs = append(attrs, k, v)
	}
	Logger.Info("server started", attrs...)
}

// LogServerShutdown logs server shutdown events
func LogServerShutdown(msg string, err error) {
	if Logger == nil {
		return
	}
	if err != nil {
		Logger.Error(msg,
			"event", "server_shutdown_error",
			"error", err)
	} else {
		Logger.Info(msg,
			"event", "server_shutdown")
	}
}

// LogWatcherEvent logs drop-directory watcher activity
func LogWatcherEvent(path, action string) {
	if Logger == nil {
		return
	}
	Logger.Info("watcher event",
		"event", "watcher_"+action,
		"path", path)
}
