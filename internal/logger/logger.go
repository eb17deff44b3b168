package logger

import (
	"github.com/sirupsen/logrus"
)

// Log is the logger shared by the eventer, its backends and the CLI.
var Log *logrus.Logger

func init() {
	Log = logrus.New()
	Log.Formatter = &logrus.TextFormatter{FullTimestamp: true}
}

// SetLevel sets the log level, falling back to info for unknown levels.
func SetLevel(level string) {
	l, err := logrus.ParseLevel(level)
	if err != nil {
		Log.WithField("level", level).Warn("Unknown log level, using info")
		l = logrus.InfoLevel
	}

	Log.SetLevel(l)
}
