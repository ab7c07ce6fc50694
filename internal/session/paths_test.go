package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDir(t *testing.T) {
	home, _ := os.UserHomeDir()
	got := Dir("main")
	want := filepath.Join(home, ".adsync", "sessions", "main")
	if got != want {
		t.Errorf("Dir(main) = %q, want %q", got, want)
	}
}

func TestMirrorDBPath(t *testing.T) {
	got := MirrorDBPath("test")
	if !strings.HasSuffix(got, filepath.Join("sessions", "test", "mirror.db")) {
		t.Errorf("MirrorDBPath(test) = %q, want suffix sessions/test/mirror.db", got)
	}
}

func TestLockPath(t *testing.T) {
	got := LockPath("test")
	if !strings.HasSuffix(got, filepath.Join("sessions", "test", "LOCK")) {
		t.Errorf("LockPath(test) = %q, want suffix sessions/test/LOCK", got)
	}
}

func TestLogPath(t *testing.T) {
	got := LogPath("test")
	if !strings.HasSuffix(got, filepath.Join("logs", "adsyncd.log")) {
		t.Errorf("LogPath(test) = %q, want suffix logs/adsyncd.log", got)
	}
}
