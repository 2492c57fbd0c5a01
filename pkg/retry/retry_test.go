package retry

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/silofs/silofs/pkg/errors"
)

func TestRetryer_Success(t *testing.T) {
	config := DefaultConfig()
	config.MaxAttempts = 3
	retryer := New(config)

	attempts := 0
	err := retryer.Do(func() error {
		attempts++
		return nil // Success on first attempt
	})

	if err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}

	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestRetryer_RetryableError(t *testing.T) {
	config := DefaultConfig()
	config.MaxAttempts = 3
	config.InitialDelay = 10 * time.Millisecond
	config.Jitter = false
	retryer := New(config)

	attempts := 0
	err := retryer.Do(func() error {
		attempts++
		if attempts < 3 {
			return errors.New(errors.ErrCodeIOError, "transient silo I/O error")
		}
		return nil // Success on third attempt
	})

	if err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}

	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestRetryer_NonRetryableError(t *testing.T) {
	config := DefaultConfig()
	config.MaxAttempts = 3
	retryer := New(config)

	attempts := 0
	testErr := errors.New(errors.ErrCodeValidationFailed, "signature check failed")
	testErr.Retryable = false

	err := retryer.Do(func() error {
		attempts++
		return testErr
	})

	if err == nil {
		t.Fatal("Expected an error, got nil")
	}

	if attempts != 1 {
		t.Errorf("Expected 1 attempt (no retry), got %d", attempts)
	}
}

func TestRetryer_ExhaustsAttempts(t *testing.T) {
	config := DefaultConfig()
	config.MaxAttempts = 3
	config.InitialDelay = 5 * time.Millisecond
	config.Jitter = false
	retryer := New(config)

	attempts := 0
	err := retryer.Do(func() error {
		attempts++
		return errors.New(errors.ErrCodeOperationTimeout, "peer RPC timed out")
	})

	if err == nil {
		t.Fatal("Expected an error after exhausting attempts, got nil")
	}

	if attempts != config.MaxAttempts {
		t.Errorf("Expected %d attempts, got %d", config.MaxAttempts, attempts)
	}
}

func TestRetryer_RetryableFlagOverridesCode(t *testing.T) {
	config := DefaultConfig()
	config.MaxAttempts = 3
	config.InitialDelay = 5 * time.Millisecond
	config.Jitter = false
	retryer := New(config)

	attempts := 0
	err := retryer.Do(func() error {
		attempts++
		if attempts < 2 {
			e := errors.New(errors.ErrCodeInvalidArgument, "marked retryable despite code")
			e.Retryable = true
			return e
		}
		return nil
	})

	if err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
	if attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", attempts)
	}
}

func TestRetryer_DoWithContextCancellation(t *testing.T) {
	config := DefaultConfig()
	config.MaxAttempts = 5
	config.InitialDelay = 50 * time.Millisecond
	config.Jitter = false
	retryer := New(config)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := retryer.DoWithContext(ctx, func(ctx context.Context) error {
		attempts++
		return errors.New(errors.ErrCodeIOError, "should not get far")
	})

	if err == nil {
		t.Fatal("Expected an error due to context cancellation, got nil")
	}
	if attempts > 1 {
		t.Errorf("Expected at most 1 attempt before cancellation was observed, got %d", attempts)
	}
}

func TestRetryWithBackoff(t *testing.T) {
	attempts := 0
	err := RetryWithBackoff(context.Background(), 3, func() error {
		attempts++
		if attempts < 2 {
			return fmt.Errorf("not yet")
		}
		return nil
	})

	if err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
	if attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", attempts)
	}
}

func TestStatsCollector(t *testing.T) {
	sc := NewStatsCollector()
	sc.RecordAttempt(1, true, 0)
	sc.RecordAttempt(3, false, 20*time.Millisecond)

	stats := sc.GetStats()
	if stats.TotalAttempts == 0 {
		t.Error("Expected non-zero total attempts recorded")
	}

	sc.Reset()
	reset := sc.GetStats()
	if reset.TotalAttempts != 0 {
		t.Errorf("Expected stats to be reset, got %+v", reset)
	}
}
