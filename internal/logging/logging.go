package logging

import (
	"fmt"
	"io"
	"strings"

	clierr "github.com/ggonzalez94/xquotes/internal/errors"
	"github.com/sirupsen/logrus"
)

// New builds a logger writing to w. Level is debug|info|warn|error and format
// is text|json.
func New(w io.Writer, level, format string) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetOutput(w)

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	case "", "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, DisableColors: true})
	default:
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("unsupported log format %q", format))
	}

	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		log.SetLevel(logrus.DebugLevel)
	case "", "info":
		log.SetLevel(logrus.InfoLevel)
	case "warn", "warning":
		log.SetLevel(logrus.WarnLevel)
	case "error":
		log.SetLevel(logrus.ErrorLevel)
	default:
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("unsupported log level %q", level))
	}
	return log, nil
}

// Discard returns a logger that drops everything. Used when no logger is wired.
func Discard() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// OrDiscard returns log, or a discarding logger when log is nil.
func OrDiscard(log logrus.FieldLogger) logrus.FieldLogger {
	if log == nil {
		return Discard()
	}
	return log
}
