package poller

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clock(loc *time.Location, y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, loc)
}

func assertNear(t *testing.T, want, got time.Time) {
	t.Helper()
	diff := got.Sub(want)
	if diff < 0 {
		diff = -diff
	}
	assert.LessOrEqual(t, diff, 2*time.Minute, "want %s got %s", want, got)
}

func TestDaylightSun(t *testing.T) {
	cest := time.FixedZone("CEST", 2*3600)
	aest := time.FixedZone("AEST", 10*3600)

	t.Run("慕尼黑九月", func(t *testing.T) {
		d := NewDaylight(48.137, 11.575, 0)
		st := d.Sun(clock(cest, 2024, 9, 1, 12, 0))
		require.False(t, st.AlwaysUp || st.AlwaysDown)
		assertNear(t, clock(cest, 2024, 9, 1, 6, 32), st.Rise)
		assertNear(t, clock(cest, 2024, 9, 1, 19, 53), st.Set)
	})

	t.Run("UT跨日校正到本地日期", func(t *testing.T) {
		d := NewDaylight(-33.87, 151.21, 0)
		st := d.Sun(clock(aest, 2024, 6, 21, 12, 0))
		assertNear(t, clock(aest, 2024, 6, 21, 7, 0), st.Rise)
		assertNear(t, clock(aest, 2024, 6, 21, 16, 53), st.Set)
	})

	t.Run("极昼", func(t *testing.T) {
		d := NewDaylight(69.65, 18.96, 0)
		st := d.Sun(clock(cest, 2024, 6, 21, 12, 0))
		assert.True(t, st.AlwaysUp)
		assert.True(t, d.Allowed(clock(cest, 2024, 6, 21, 1, 0)))
		assert.False(t, d.Twilight(clock(cest, 2024, 6, 21, 1, 0)))
	})

	t.Run("极夜", func(t *testing.T) {
		cet := time.FixedZone("CET", 3600)
		d := NewDaylight(69.65, 18.96, 0)
		st := d.Sun(clock(cet, 2024, 12, 21, 12, 0))
		assert.True(t, st.AlwaysDown)
		assert.False(t, d.Allowed(clock(cet, 2024, 12, 21, 12, 0)))
	})
}

func TestDaylightAllowed(t *testing.T) {
	cest := time.FixedZone("CEST", 2*3600)
	d := NewDaylight(48.137, 11.575, 450*time.Second)

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"午夜", clock(cest, 2024, 9, 1, 0, 30), false},
		{"日出前偏移内", clock(cest, 2024, 9, 1, 6, 27), true},
		{"日出前偏移外", clock(cest, 2024, 9, 1, 6, 15), false},
		{"正午", clock(cest, 2024, 9, 1, 13, 0), true},
		{"日落后偏移内", clock(cest, 2024, 9, 1, 19, 58), true},
		{"日落后偏移外", clock(cest, 2024, 9, 1, 20, 15), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, d.Allowed(tt.at))
		})
	}
}

func TestDaylightTwilight(t *testing.T) {
	cest := time.FixedZone("CEST", 2*3600)
	d := NewDaylight(48.137, 11.575, 0)

	assert.True(t, d.Twilight(clock(cest, 2024, 9, 1, 6, 45)))
	assert.False(t, d.Twilight(clock(cest, 2024, 9, 1, 12, 0)))
	assert.True(t, d.Twilight(clock(cest, 2024, 9, 1, 19, 40)))
}

func TestDaylightDisabled(t *testing.T) {
	assert.Nil(t, NewDaylight(0, 0, time.Minute))

	var d *Daylight
	assert.True(t, d.Allowed(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.False(t, d.Twilight(time.Now()))
}
