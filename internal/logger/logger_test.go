package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestBuildLevels(t *testing.T) {
	var buf bytes.Buffer
	l := build(Options{Console: &buf})
	l.Debug("hidden")
	l.Info("shown", zap.String("tile", "13/1/2"))
	l.Sync()

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("debug entry logged without verbose")
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "13/1/2") {
		t.Errorf("info entry missing: %q", out)
	}

	buf.Reset()
	l = build(Options{Verbose: true, Console: &buf})
	l.Debug("visible")
	l.Sync()
	if !strings.Contains(buf.String(), "visible") {
		t.Error("debug entry missing with verbose")
	}
}

func TestBuildWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	l := build(Options{File: path, Console: &bytes.Buffer{}})
	l.Info("to file", zap.Int("attempt", 2))
	l.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"attempt":2`) {
		t.Errorf("log file = %q, want JSON entry", data)
	}
}
