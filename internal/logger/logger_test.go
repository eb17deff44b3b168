package logger

import (
	"testing"

	"github.com/sirupsen/logrus"
)

func TestSetLevel(t *testing.T) {
	defer Log.SetLevel(logrus.InfoLevel)

	SetLevel("debug")
	if Log.GetLevel() != logrus.DebugLevel {
		t.Errorf("expected level %v, got %v", logrus.DebugLevel, Log.GetLevel())
	}

	SetLevel("not-a-level")
	if Log.GetLevel() != logrus.InfoLevel {
		t.Errorf("expected unknown level to fall back to %v, got %v", logrus.InfoLevel, Log.GetLevel())
	}
}
