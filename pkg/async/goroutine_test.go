package async

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeGo_Success(t *testing.T) {
	done := SafeGo(context.Background(), nil, time.Second, "test task", func(ctx context.Context) error {
		return nil
	})
	assert.NoError(t, <-done)

	_, open := <-done
	assert.False(t, open, "channel closes after the outcome")
}

func TestSafeGo_WithError(t *testing.T) {
	boom := errors.New("test error")
	done := SafeGo(context.Background(), nil, time.Second, "test task", func(ctx context.Context) error {
		return boom
	})
	assert.ErrorIs(t, <-done, boom)
}

func TestSafeGo_Timeout(t *testing.T) {
	done := SafeGo(context.Background(), nil, 20*time.Millisecond, "test task", func(ctx context.Context) error {
		select {
		case <-time.After(5 * time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("task was not cancelled by its timeout")
	}
}

func TestSafeGo_PanicRecovery(t *testing.T) {
	done := SafeGo(context.Background(), nil, time.Second, "test task", func(ctx context.Context) error {
		panic("test panic")
	})
	err := <-done
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic: test panic")
}

func TestSafeGo_ParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := SafeGo(ctx, nil, time.Minute, "test task", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, <-done, context.Canceled)
}
