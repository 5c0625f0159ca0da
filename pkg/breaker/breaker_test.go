package breaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreaker_PassesThroughWhileClosed(t *testing.T) {
	b := New(Settings{Name: "test", FailureThreshold: 3})

	got, err := Execute(b, func() (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, "closed", b.State())
}

func TestBreaker_ReturnsUnderlyingError(t *testing.T) {
	b := New(Settings{Name: "test", FailureThreshold: 3})
	boom := errors.New("db down")

	_, err := Execute(b, func() (int, error) { return 0, boom })
	require.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrOpen)
}

func TestBreaker_TripsAfterConsecutiveFailures(t *testing.T) {
	b := New(Settings{Name: "test", FailureThreshold: 2, ResetTimeout: time.Minute})
	boom := errors.New("db down")

	for i := 0; i < 2; i++ {
		_, err := Execute(b, func() (int, error) { return 0, boom })
		require.ErrorIs(t, err, boom)
	}

	calls := 0
	_, err := Execute(b, func() (int, error) { calls++; return 1, nil })
	require.ErrorIs(t, err, ErrOpen)
	assert.Equal(t, 0, calls, "open breaker must not invoke the supplier")
	assert.Equal(t, "open", b.State())
}

func TestBreaker_RecoversAfterResetTimeout(t *testing.T) {
	b := New(Settings{Name: "test", FailureThreshold: 1, ResetTimeout: 20 * time.Millisecond})

	_, err := Execute(b, func() (int, error) { return 0, errors.New("fail") })
	require.Error(t, err)
	_, err = Execute(b, func() (int, error) { return 1, nil })
	require.ErrorIs(t, err, ErrOpen)

	time.Sleep(30 * time.Millisecond)

	got, err := Execute(b, func() (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, got)
}
