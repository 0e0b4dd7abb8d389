package common

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/lni/dragonboat/v4/logger"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    logger.LogLevel
		wantErr bool
	}{
		{"debug", logger.DEBUG, false},
		{"INFO", logger.INFO, false},
		{"warn", logger.WARNING, false},
		{"warning", logger.WARNING, false},
		{"error", logger.ERROR, false},
		{"verbose", logger.INFO, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLogLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLogLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestLoggerFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)

	l := CreateLogger("part")
	l.SetLevel(logger.WARNING)

	l.Infof("hidden %d", 1)
	l.Warningf("dropped %d requests", 3)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info message should be filtered at warning level: %q", out)
	}
	if !strings.Contains(out, "WARN  | part       | dropped 3 requests") {
		t.Errorf("unexpected log format: %q", out)
	}
}

func TestConfigWriter(t *testing.T) {
	var w ConfigWriter
	w.AddSection("Fabric")
	w.AddFieldf("Threads", "%d", 4)

	out := w.String()
	if !strings.Contains(out, "\nFABRIC\n") {
		t.Errorf("missing section title in %q", out)
	}
	if !strings.Contains(out, "  Threads               : 4\n") {
		t.Errorf("misaligned field in %q", out)
	}
}
