package logging

import (
	"testing"

	log "github.com/sirupsen/logrus"
)

func TestNew_Levels(t *testing.T) {
	if got := New(false).GetLevel(); got != log.WarnLevel {
		t.Errorf("expected warn level, got %s", got)
	}
	if got := New(true).GetLevel(); got != log.DebugLevel {
		t.Errorf("expected debug level, got %s", got)
	}
}

func TestOrDiscard(t *testing.T) {
	if OrDiscard(nil) == nil {
		t.Fatal("expected a logger for nil input")
	}
	l := New(false)
	if OrDiscard(l) != l {
		t.Fatal("expected the given logger back")
	}
}
