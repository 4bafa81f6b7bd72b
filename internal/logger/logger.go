package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

// NewLogger returns the logger used by every rfile binary.
func NewLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	log.SetLevel(logrus.InfoLevel)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05",
	})
	return log
}

// NewQuietLogger discards everything below warnings, for tests.
func NewQuietLogger() *logrus.Logger {
	log := NewLogger()
	log.SetLevel(logrus.WarnLevel)
	return log
}
