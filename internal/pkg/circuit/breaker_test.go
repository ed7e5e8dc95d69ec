package circuit

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerTripsAfterThreshold(t *testing.T) {
	b := NewBreaker("terminal", 3, time.Minute)
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		assert.Error(t, b.Do(func() error { return boom }))
	}
	assert.Equal(t, StateOpen, b.State())

	err := b.Do(func() error {
		t.Fatal("fn must not run while open")
		return nil
	})
	var open *ErrOpen
	require.ErrorAs(t, err, &open)
	assert.Equal(t, "terminal", open.Name)
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	b := NewBreaker("terminal", 1, time.Minute)
	now := time.Unix(1000, 0)
	b.nowFn = func() time.Time { return now }

	require.Error(t, b.Do(func() error { return errors.New("down") }))
	assert.Equal(t, StateOpen, b.State())

	now = now.Add(2 * time.Minute)
	assert.NoError(t, b.Do(func() error { return nil }))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker("terminal", 1, time.Minute)
	now := time.Unix(1000, 0)
	b.nowFn = func() time.Time { return now }

	require.Error(t, b.Do(func() error { return errors.New("down") }))
	now = now.Add(2 * time.Minute)
	require.Error(t, b.Do(func() error { return errors.New("still down") }))
	assert.Equal(t, StateOpen, b.State())
}
