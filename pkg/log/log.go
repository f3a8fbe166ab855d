package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// NewLogger returns the logger used across the app. In debug mode it writes
// JSON lines to development.log in the given directory; otherwise the level
// is set to errors and all output is discarded.
func NewLogger(debug bool, logDir string, version string) *logrus.Entry {
	var log *logrus.Logger
	if debug || os.Getenv("DEBUG") == "TRUE" {
		log = newDevelopmentLogger(logDir)
	} else {
		log = newProductionLogger()
	}

	// tail -f development.log | humanlog is the recommended way to read this
	log.Formatter = &logrus.JSONFormatter{}

	return log.WithFields(logrus.Fields{
		"debug":   debug,
		"version": version,
	})
}

func getLogLevel() logrus.Level {
	strLevel := os.Getenv("LOG_LEVEL")
	level, err := logrus.ParseLevel(strLevel)
	if err != nil {
		return logrus.DebugLevel
	}
	return level
}

func newDevelopmentLogger(logDir string) *logrus.Logger {
	log := logrus.New()
	log.SetLevel(getLogLevel())
	file, err := os.OpenFile(filepath.Join(logDir, "development.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
	if err != nil {
		fmt.Println("unable to log to file")
		os.Exit(1)
	}
	log.SetOutput(file)
	return log
}

func newProductionLogger() *logrus.Logger {
	log := logrus.New()
	log.Out = io.Discard
	log.SetLevel(logrus.ErrorLevel)
	return log
}
