package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	minerErrors "github.com/bardlex/gompminer/pkg/errors"
)

func fastConfig(attempts int) *Config {
	return &Config{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    10 * time.Millisecond,
		Multiplier:  2.0,
		Jitter:      false,
	}
}

func TestDialConfig(t *testing.T) {
	tests := []struct {
		attempts int
		want     int
	}{
		{-1, 1},
		{0, 1},
		{1, 1},
		{5, 5},
	}

	for _, tt := range tests {
		if got := DialConfig(tt.attempts).MaxAttempts; got != tt.want {
			t.Errorf("DialConfig(%d).MaxAttempts = %d, want %d", tt.attempts, got, tt.want)
		}
	}
}

func TestSinkConfig(t *testing.T) {
	config := SinkConfig()

	if config.MaxAttempts != 3 {
		t.Errorf("Expected MaxAttempts = 3, got %d", config.MaxAttempts)
	}
	if config.MaxDelay != time.Second {
		t.Errorf("Expected MaxDelay = 1s, got %v", config.MaxDelay)
	}
}

func TestDo_SuccessAfterConnectionError(t *testing.T) {
	callCount := 0
	err := Do(context.Background(), fastConfig(3), func() error {
		callCount++
		if callCount == 1 {
			return minerErrors.Connection("dial", errors.New("connection refused"))
		}
		return nil
	})

	if err != nil {
		t.Errorf("Expected success, got error: %v", err)
	}
	if callCount != 2 {
		t.Errorf("Expected 2 calls, got %d", callCount)
	}
}

func TestDo_MaxAttemptsReached(t *testing.T) {
	callCount := 0
	err := Do(context.Background(), fastConfig(2), func() error {
		callCount++
		return minerErrors.New(minerErrors.ErrorTypeNetwork, "test", "persistent error")
	})

	if err == nil {
		t.Fatal("Expected error after max attempts")
	}
	if callCount != 2 {
		t.Errorf("Expected 2 calls, got %d", callCount)
	}
	if !minerErrors.IsType(err, minerErrors.ErrorTypeInternal) {
		t.Error("Expected wrapped error to be internal type")
	}
	if !minerErrors.IsType(err, minerErrors.ErrorTypeNetwork) {
		t.Error("Expected original network error in the chain")
	}
}

func TestDo_SingleAttemptReturnsOriginalError(t *testing.T) {
	dialErr := minerErrors.Connection("dial", errors.New("connection refused"))
	err := Do(context.Background(), DialConfig(1), func() error {
		return dialErr
	})

	if err != dialErr {
		t.Errorf("Expected the dial error unchanged, got %v", err)
	}
}

func TestDo_NonRetryableError(t *testing.T) {
	callCount := 0
	err := Do(context.Background(), DefaultConfig(), func() error {
		callCount++
		return minerErrors.Authorization("worker", "denied")
	})

	if callCount != 1 {
		t.Errorf("Expected 1 call (no retry), got %d", callCount)
	}
	if !minerErrors.IsType(err, minerErrors.ErrorTypeAuthorization) {
		t.Errorf("Expected authorization error, got %v", err)
	}
}

func TestDo_RegularError(t *testing.T) {
	callCount := 0
	err := Do(context.Background(), DefaultConfig(), func() error {
		callCount++
		return errors.New("regular error")
	})

	if err == nil {
		t.Error("Expected error")
	}
	if callCount != 1 {
		t.Errorf("Expected 1 call (no retry for regular error), got %d", callCount)
	}
}

func TestDo_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	config := &Config{
		MaxAttempts: 5,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    time.Second,
		Multiplier:  2.0,
	}

	callCount := 0
	err := Do(ctx, config, func() error {
		callCount++
		cancel()
		return minerErrors.New(minerErrors.ErrorTypeNetwork, "test", "network error")
	})

	if err != context.Canceled {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("Expected 1 call, got %d", callCount)
	}
}

func TestDoWithResult_Success(t *testing.T) {
	callCount := 0
	result, err := DoWithResult(context.Background(), fastConfig(3), func() (string, error) {
		callCount++
		if callCount == 1 {
			return "", minerErrors.New(minerErrors.ErrorTypeKafka, "test", "broker unavailable")
		}
		return "ok", nil
	})

	if err != nil {
		t.Errorf("Expected success, got error: %v", err)
	}
	if result != "ok" {
		t.Errorf("Expected result 'ok', got %q", result)
	}
}

func TestDoWithResult_NilConfig(t *testing.T) {
	result, err := DoWithResult(context.Background(), nil, func() (int, error) {
		return 7, nil
	})

	if err != nil || result != 7 {
		t.Errorf("DoWithResult(nil config) = %d, %v; want 7, nil", result, err)
	}
}

func TestConfig_calculateDelay(t *testing.T) {
	config := &Config{
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   time.Second,
		Multiplier: 2.0,
	}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, time.Second},
		{5, time.Second},
	}

	for _, tt := range tests {
		if delay := config.calculateDelay(tt.attempt); delay != tt.expected {
			t.Errorf("attempt %d: expected delay %v, got %v", tt.attempt, tt.expected, delay)
		}
	}
}

func TestConfig_calculateDelay_WithJitter(t *testing.T) {
	config := &Config{
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   time.Second,
		Multiplier: 2.0,
		Jitter:     true,
	}

	delay := config.calculateDelay(0)
	if delay < 100*time.Millisecond || delay > 110*time.Millisecond {
		t.Errorf("Delay with jitter out of range: %v", delay)
	}
}
