package reporting

import (
	"testing"
	"time"
)

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0 seconds"},
		{90 * time.Second, "1 minute 30 seconds"},
		{2*time.Hour + 5*time.Minute + 10*time.Second, "2 hours 5 minutes"},
		{1500 * time.Millisecond, "1 second"},
	}

	for _, tt := range tests {
		if got := FormatUptime(tt.in); got != tt.want {
			t.Errorf("FormatUptime(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
