package observ

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		env, level string
		want       zapcore.Level
	}{
		{"production", "warn", zapcore.WarnLevel},
		{"development", "debug", zapcore.DebugLevel},
		{"development", "chatty", zapcore.InfoLevel},
	}

	for _, tt := range tests {
		logger, err := NewLogger(tt.env, tt.level)
		if err != nil {
			t.Fatalf("NewLogger(%s, %s): %v", tt.env, tt.level, err)
		}
		if !logger.Core().Enabled(tt.want) {
			t.Errorf("%s/%s: level %v should be enabled", tt.env, tt.level, tt.want)
		}
		if tt.want > zapcore.DebugLevel && logger.Core().Enabled(tt.want-1) {
			t.Errorf("%s/%s: level below %v should be disabled", tt.env, tt.level, tt.want)
		}
	}
}
