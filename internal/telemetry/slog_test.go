package telemetry

import (
	"log/slog"
	"testing"
)

func TestSetupLoggerLevels(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
		{"DEBUG", slog.LevelDebug},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			SetupLogger("text", tt.level)
			if !slog.Default().Enabled(nil, tt.want) {
				t.Errorf("level %q: expected %v to be enabled", tt.level, tt.want)
			}
			if tt.want > slog.LevelDebug && slog.Default().Enabled(nil, tt.want-1) {
				t.Errorf("level %q: expected %v to be disabled", tt.level, tt.want-1)
			}
		})
	}
}
