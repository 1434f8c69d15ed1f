package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestSetLogLevel(t *testing.T) {
	defer Log.SetLevel(logrus.WarnLevel)

	tests := []struct {
		level   string
		want    logrus.Level
		wantErr bool
	}{
		{"debug", logrus.DebugLevel, false},
		{"INFO", logrus.InfoLevel, false},
		{"warning", logrus.WarnLevel, false},
		{"", logrus.WarnLevel, false},
		{"error", logrus.ErrorLevel, false},
		{"verbose", logrus.WarnLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			Log.SetLevel(logrus.WarnLevel)
			err := SetLogLevel(tt.level)
			if (err != nil) != tt.wantErr {
				t.Fatalf("SetLogLevel(%q) error = %v, wantErr %v", tt.level, err, tt.wantErr)
			}
			if Log.GetLevel() != tt.want {
				t.Errorf("level = %v, want %v", Log.GetLevel(), tt.want)
			}
		})
	}
}

func TestEvent(t *testing.T) {
	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)
	l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true, DisableColors: true})

	Event(l, "USAGE_CHECK").WithField("remaining", 3).Warn("usage checked")

	out := buf.String()
	for _, want := range []string{"event=USAGE_CHECK", "remaining=3", "usage checked"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output %q missing %q", out, want)
		}
	}
}

func TestEvent_NilLoggerUsesDefault(t *testing.T) {
	if e := Event(nil, "X"); e.Logger != Log {
		t.Error("Event(nil, ...) should use the package logger")
	}
}
