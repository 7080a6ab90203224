package clients

import (
	"testing"
	"time"
)

func TestGetEnvDurationDefault(t *testing.T) {
	if got := getEnvDuration("SDK_TEST_UNSET_VAR", 5*time.Second); got != 5*time.Second {
		t.Fatalf("got %v", got)
	}
}

func TestGetEnvDurationPlainSeconds(t *testing.T) {
	t.Setenv("SDK_TEST_DURATION_VAR", "3")
	if got := getEnvDuration("SDK_TEST_DURATION_VAR", time.Second); got != 3*time.Second {
		t.Fatalf("got %v", got)
	}
}

func TestGetEnvDurationParsesGoDuration(t *testing.T) {
	t.Setenv("SDK_TEST_DURATION_VAR", "250ms")
	if got := getEnvDuration("SDK_TEST_DURATION_VAR", time.Second); got != 250*time.Millisecond {
		t.Fatalf("got %v", got)
	}
}

func TestGetEnvDurationFallsBackOnGarbage(t *testing.T) {
	t.Setenv("SDK_TEST_DURATION_VAR", "not-a-duration")
	if got := getEnvDuration("SDK_TEST_DURATION_VAR", 7*time.Second); got != 7*time.Second {
		t.Fatalf("got %v", got)
	}
}
