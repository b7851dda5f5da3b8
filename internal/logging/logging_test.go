package logging

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPreInitLoggerUsesConfiguredHandler(t *testing.T) {
	logger := L("uibridge")

	var buf bytes.Buffer
	Init("text", "info", &buf)

	logger.Info("client connected", "remote", "127.0.0.1:5000")

	out := buf.String()
	if !strings.Contains(out, `msg="client connected"`) {
		t.Fatalf("expected message, got: %s", out)
	}
	if !strings.Contains(out, "component=uibridge") {
		t.Fatalf("expected component field, got: %s", out)
	}
	if !strings.Contains(out, "remote=127.0.0.1:5000") {
		t.Fatalf("expected remote field, got: %s", out)
	}
}

func TestPreInitLoggerRespectsConfiguredLevel(t *testing.T) {
	logger := L("capture")

	var buf bytes.Buffer
	Init("text", "warn", &buf)

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info log should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, "shown") {
		t.Fatalf("warn log should be emitted: %s", out)
	}
}

func TestSetLevelAppliesWithoutReinit(t *testing.T) {
	var buf bytes.Buffer
	Init("json", "error", &buf)
	t.Cleanup(func() { Init("text", "info", nil) })

	logger := L("config")
	logger.Debug("before")
	SetLevel("debug")
	logger.Debug("after")

	out := buf.String()
	if strings.Contains(out, "before") {
		t.Fatalf("debug log emitted at error level: %s", out)
	}
	if !strings.Contains(out, `"msg":"after"`) {
		t.Fatalf("expected json debug line after SetLevel, got: %s", out)
	}
	if Level() != slog.LevelDebug {
		t.Fatalf("Level() = %v, want debug", Level())
	}
}

func TestInitSwitchesFormat(t *testing.T) {
	t.Cleanup(func() { Init("text", "info", nil) })

	logger := L("main")

	var text bytes.Buffer
	Init("text", "info", &text)
	logger.Info("as text")

	var js bytes.Buffer
	Init("json", "info", &js)
	logger.Info("as json")

	Init("text", "info", &text)
	logger.Info("text again")

	if !strings.Contains(text.String(), `msg="as text"`) || !strings.Contains(text.String(), `msg="text again"`) {
		t.Fatalf("text output = %s", text.String())
	}
	if !strings.Contains(js.String(), `"msg":"as json"`) || !strings.Contains(js.String(), `"component":"main"`) {
		t.Fatalf("json output = %s", js.String())
	}
	if strings.Contains(text.String(), "as json") {
		t.Fatalf("json record leaked into text output: %s", text.String())
	}
}

func TestWithSessionAndContext(t *testing.T) {
	var buf bytes.Buffer
	Init("text", "info", &buf)
	t.Cleanup(func() { Init("text", "info", nil) })

	logger := WithSession(L("capture"), "abc", 2)
	ctx := NewContext(context.Background(), logger)
	FromContext(ctx).Info("frame")

	out := buf.String()
	if !strings.Contains(out, "sessionId=abc") || !strings.Contains(out, "monitorId=2") {
		t.Fatalf("expected session fields, got: %s", out)
	}
	if FromContext(context.Background()) == nil {
		t.Fatal("FromContext without logger returned nil")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"bogus":   slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestRotatingWriterRollsOver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "deskbridge.log")
	w, err := newRotatingWriterBytes(path, 16, 2)
	if err != nil {
		t.Fatalf("NewRotatingWriter: %v", err)
	}
	t.Cleanup(func() { w.Close() })

	for _, line := range []string{"0123456789\n", "abcdefghij\n", "ABCDEFGHIJ\n", "zzzzzzzzzz\n"} {
		if _, err := w.Write([]byte(line)); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	cur, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read current: %v", err)
	}
	if string(cur) != "zzzzzzzzzz\n" {
		t.Fatalf("current file = %q", cur)
	}
	b1, _ := os.ReadFile(path + ".1")
	if string(b1) != "ABCDEFGHIJ\n" {
		t.Fatalf("backup .1 = %q", b1)
	}
	b2, _ := os.ReadFile(path + ".2")
	if string(b2) != "abcdefghij\n" {
		t.Fatalf("backup .2 = %q", b2)
	}
	if _, err := os.Stat(path + ".3"); !os.IsNotExist(err) {
		t.Fatalf("expected no .3 backup, stat err = %v", err)
	}
}

func TestOutputWithoutFileIsStdout(t *testing.T) {
	w, c, err := Output("", 0, 0)
	if err != nil {
		t.Fatalf("Output: %v", err)
	}
	if w != os.Stdout {
		t.Fatalf("expected stdout writer")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
