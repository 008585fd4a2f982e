package infra

import (
	"testing"
	"time"
)

// =====================================================
// Infra Backoff Tests
// =====================================================

func TestBackoff_DefaultDelay(t *testing.T) {
	b := DefaultBackoff()

	tests := []struct {
		retryCount int
		want       time.Duration
	}{
		{-1, 1 * time.Second},
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},   // 32s capped
		{10, 30 * time.Second},  // max 30s
		{100, 30 * time.Second}, // still max 30s
	}

	for _, tt := range tests {
		if delay := b.Delay(tt.retryCount); delay != tt.want {
			t.Errorf("Delay(%d) = %s, want %s", tt.retryCount, delay, tt.want)
		}
	}
}

func TestBackoff_CustomBase(t *testing.T) {
	b := Backoff{Base: 10 * time.Millisecond, Max: 50 * time.Millisecond}

	if d := b.Delay(0); d != 10*time.Millisecond {
		t.Errorf("Delay(0) = %s", d)
	}
	if d := b.Delay(2); d != 40*time.Millisecond {
		t.Errorf("Delay(2) = %s", d)
	}
	if d := b.Delay(3); d != 50*time.Millisecond {
		t.Errorf("Delay(3) = %s, want cap", d)
	}
}
