package sessions

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.now = c.now.Add(d)
	return nil
}

func (c *fakeClock) SleepUntil(ctx context.Context, t time.Time) error {
	if t.After(c.now) {
		c.now = t
	}
	return nil
}

type fakeCloser struct{ calls []string }

func (f *fakeCloser) CloseAll(ctx context.Context) error {
	f.calls = append(f.calls, "close_all")
	return nil
}

func (f *fakeCloser) CloseWin(ctx context.Context) error {
	f.calls = append(f.calls, "close_win")
	return nil
}

func (f *fakeCloser) CloseLoss(ctx context.Context) error {
	f.calls = append(f.calls, "close_loss")
	return nil
}

func at(hour, minute int) time.Time {
	return time.Date(2024, 6, 10, hour, minute, 0, 0, time.UTC)
}

func TestParseClock(t *testing.T) {
	d, err := ParseClock("08:30")
	require.NoError(t, err)
	assert.Equal(t, 8*time.Hour+30*time.Minute, d)

	_, err = ParseClock("25:00")
	assert.Error(t, err)
}

func TestSessionContains(t *testing.T) {
	s := Session{Start: 8 * time.Hour, End: 16 * time.Hour}
	assert.True(t, s.Contains(at(8, 0)))
	assert.True(t, s.Contains(at(15, 59)))
	assert.False(t, s.Contains(at(16, 0))) // end is exclusive
	assert.False(t, s.Contains(at(7, 59)))
}

func TestSessionContainsWrapsMidnight(t *testing.T) {
	s := Session{Start: 22 * time.Hour, End: 4 * time.Hour}
	assert.True(t, s.Contains(at(23, 30)))
	assert.True(t, s.Contains(at(2, 0)))
	assert.False(t, s.Contains(at(4, 0)))
	assert.False(t, s.Contains(at(12, 0)))
}

func TestFind(t *testing.T) {
	clk := &fakeClock{now: at(9, 0)}
	ss, err := New(clk, nil,
		Session{Start: 8 * time.Hour, End: 12 * time.Hour},
		Session{Start: 14 * time.Hour, End: 18 * time.Hour},
	)
	require.NoError(t, err)

	assert.NotNil(t, ss.Find(at(9, 0)))
	assert.Nil(t, ss.Find(at(13, 0)))
	assert.Equal(t, 14*time.Hour, ss.Find(at(15, 0)).Start)
}

func TestCheckInsideWindowReturns(t *testing.T) {
	clk := &fakeClock{now: at(10, 0)}
	ss, err := New(clk, nil, Session{Start: 8 * time.Hour, End: 16 * time.Hour})
	require.NoError(t, err)

	require.NoError(t, ss.Check(context.Background()))
	assert.Equal(t, at(10, 0), clk.now)
}

func TestCheckSleepsUntilNextOpen(t *testing.T) {
	clk := &fakeClock{now: at(6, 0)}
	ss, err := New(clk, nil, Session{Start: 8 * time.Hour, End: 16 * time.Hour})
	require.NoError(t, err)

	require.NoError(t, ss.Check(context.Background()))
	assert.Equal(t, at(8, 0), clk.now)
}

func TestCheckRunsBoundaryActions(t *testing.T) {
	clk := &fakeClock{now: at(10, 0)}
	closer := &fakeCloser{}
	ss, err := New(clk, closer,
		Session{Start: 8 * time.Hour, End: 16 * time.Hour, OnEnd: ActionCloseAll},
		Session{Start: 18 * time.Hour, End: 22 * time.Hour, OnStart: ActionCloseLoss},
	)
	require.NoError(t, err)
	ctx := context.Background()

	// enter the morning window
	require.NoError(t, ss.Check(ctx))
	assert.Empty(t, closer.calls)

	// window closed behind us: OnEnd fires, then we sleep to the evening
	// window whose OnStart fires
	clk.now = at(16, 30)
	require.NoError(t, ss.Check(ctx))
	assert.Equal(t, []string{"close_all", "close_loss"}, closer.calls)
	assert.Equal(t, at(18, 0), clk.now)
}

func TestCheckEmptyAlwaysOpen(t *testing.T) {
	clk := &fakeClock{now: at(3, 0)}
	ss, err := New(clk, nil)
	require.NoError(t, err)
	require.NoError(t, ss.Check(context.Background()))
}

func TestNewRejectsBadWindows(t *testing.T) {
	clk := &fakeClock{}
	_, err := New(clk, nil, Session{Start: 5 * time.Hour, End: 5 * time.Hour})
	assert.Error(t, err)

	_, err = New(clk, nil, Session{Start: -time.Hour, End: 3 * time.Hour})
	assert.Error(t, err)
}

func TestCheckCustomAction(t *testing.T) {
	clk := &fakeClock{now: at(7, 0)}
	ran := false
	ss, err := New(clk, nil, Session{
		Start:    8 * time.Hour,
		End:      16 * time.Hour,
		OnStart:  ActionCustom,
		CustomFn: func(ctx context.Context) error { ran = true; return nil },
	})
	require.NoError(t, err)

	require.NoError(t, ss.Check(context.Background()))
	assert.True(t, ran)
}
