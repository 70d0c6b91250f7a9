package logger

import (
	"bytes"
	"strings"
	"testing"
)

func newTestLogger(level LogLevel) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	l := New(Config{Level: level, Output: &buf})
	return l, &buf
}

func TestLevelFiltering(t *testing.T) {
	l, buf := newTestLogger(WARN)

	l.Debugf("debug %d", 1)
	l.Infof("info %d", 2)
	l.Warnf("warn %d", 3)
	l.Errorf("error %d", 4)

	out := buf.String()
	if strings.Contains(out, "debug 1") || strings.Contains(out, "info 2") {
		t.Errorf("Expected DEBUG and INFO to be filtered, got %q", out)
	}
	if !strings.Contains(out, "[WARN] warn 3") {
		t.Errorf("Expected WARN line, got %q", out)
	}
	if !strings.Contains(out, "[ERROR] error 4") {
		t.Errorf("Expected ERROR line, got %q", out)
	}
}

func TestNoColorWhenNotTerminal(t *testing.T) {
	l, buf := newTestLogger(DEBUG)
	l.SetOutput(buf)
	l.Infof("plain")

	if strings.Contains(buf.String(), "\033[") {
		t.Errorf("Expected no ANSI escapes for non-terminal output, got %q", buf.String())
	}
}

func TestFatalCallsExit(t *testing.T) {
	l, buf := newTestLogger(INFO)
	code := -1
	l.exit = func(c int) { code = c }

	l.Fatalf("boom")

	if code != 1 {
		t.Errorf("Expected exit code 1, got %d", code)
	}
	if !strings.Contains(buf.String(), "[FATAL] boom") {
		t.Errorf("Expected FATAL line, got %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
		ok   bool
	}{
		{"debug", DEBUG, true},
		{"INFO", INFO, true},
		{"warning", WARN, true},
		{" error ", ERROR, true},
		{"fatal", FATAL, true},
		{"loud", INFO, false},
	}

	for _, tt := range tests {
		got, ok := ParseLevel(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseLevel(%q) = %v, %v; expected %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestNopDiscards(t *testing.T) {
	l := Nop()
	l.Errorf("nothing %s", "here")
	if l.Level() <= FATAL {
		t.Errorf("Expected Nop level above FATAL, got %v", l.Level())
	}
}
