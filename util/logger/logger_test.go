package logger

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"testing"
)

func TestHandleWritesToFile(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, 0, false)
	log.Info("hello")

	if got := buf.String(); !strings.Contains(got, "hello") {
		t.Errorf("log output %q does not contain the message", got)
	}
}

func TestWithCCDAddsPrefix(t *testing.T) {
	var buf bytes.Buffer
	log := WithCCD(New(&buf, 0, false), 1, 2)
	log.Info("booted")

	got := buf.String()
	if !strings.Contains(got, "[s1.c2]") {
		t.Errorf("log output %q missing ccd tag [s1.c2]", got)
	}
	if !strings.Contains(got, "booted") {
		t.Errorf("log output %q missing message", got)
	}
}

func TestWithCCDPreservesFileAndDebug(t *testing.T) {
	var buf bytes.Buffer
	log := WithCCD(New(&buf, slog.LevelDebug, true), 0, 0)
	log.Debug("trace")

	if got := buf.String(); !strings.Contains(got, "trace") {
		t.Errorf("tagged logger stopped writing to its file: got %q", got)
	}
}

func TestWithCCDOnForeignHandlerIsNoop(t *testing.T) {
	other := slog.New(slog.NewTextHandler(io.Discard, nil))
	if got := WithCCD(other, 1, 1); got != other {
		t.Errorf("WithCCD should return the original logger unchanged for a foreign handler")
	}
}
