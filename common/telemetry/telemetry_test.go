package telemetry

import (
	"testing"
	"time"

	"github.com/flamehq/flame-node-sdk/common/logger"
)

func TestNewSetsPprofAddr(t *testing.T) {
	tel := New(6061, logger.New("error", "json"))
	if tel.pprofAddr != "localhost:6061" {
		t.Fatalf("got %q", tel.pprofAddr)
	}
}

func TestRecordDurationDoesNotPanic(t *testing.T) {
	tel := New(6062, logger.New("error", "json"))
	tel.RecordDuration("analyze", time.Now().Add(-10*time.Millisecond))
}

func TestRecordEventDoesNotPanic(t *testing.T) {
	tel := New(6063, logger.New("error", "json"))
	tel.RecordEvent("round_committed", map[string]any{"round": 3})
}
