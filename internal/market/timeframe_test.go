package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeframe(t *testing.T) {
	tf, err := ParseTimeframe(" 15M ")
	require.NoError(t, err)
	assert.Equal(t, "15m", tf.Key)
	assert.Equal(t, 15*time.Minute, tf.Duration)

	_, err = ParseTimeframe("9m")
	assert.Error(t, err)
}

func TestNextBoundary(t *testing.T) {
	tf, err := ParseTimeframe("5m")
	require.NoError(t, err)

	now := time.Date(2024, 3, 1, 10, 2, 30, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 5, 0, 0, time.UTC), tf.NextBoundary(now))

	// exactly on a boundary jumps to the following one
	onBoundary := time.Date(2024, 3, 1, 10, 5, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 10, 0, 0, time.UTC), tf.NextBoundary(onBoundary))
}

func TestAlignRange(t *testing.T) {
	tf, err := ParseTimeframe("1h")
	require.NoError(t, err)

	start := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC).UnixMilli()
	end := time.Date(2024, 3, 1, 14, 10, 0, 0, time.UTC).UnixMilli()
	alStart, alEnd := tf.AlignRange(end, start) // swapped on purpose
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC).UnixMilli(), alStart)
	assert.Equal(t, time.Date(2024, 3, 1, 14, 0, 0, 0, time.UTC).UnixMilli(), alEnd)

	assert.Equal(t, int64(5), tf.ExpectedCandles(alStart, alEnd))
}
