package leave_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/leave"
)

func TestCountDays(t *testing.T) {
	cases := []struct {
		name       string
		start, end leave.Date
		halfDay    bool
		want       string
	}{
		{"single day", april(6), april(6), false, "1"},
		{"inclusive range", april(6), april(15), false, "10"},
		{"weekends count", april(3), april(6), false, "4"},
		{"across months", leave.NewDate(2026, time.March, 30), april(2), false, "4"},
		{"half day", april(6), april(6), true, "0.5"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := leave.CountDays(tc.start, tc.end, tc.halfDay)
			require.NoError(t, err)
			requireDays(t, tc.want, got)
		})
	}
}

func TestCountDays_InvalidRanges(t *testing.T) {
	_, err := leave.CountDays(april(7), april(6), false)
	assert.ErrorIs(t, err, leave.ErrInvalidDateRange)

	_, err = leave.CountDays(april(6), april(7), true)
	assert.ErrorIs(t, err, leave.ErrInvalidDateRange)
}

func TestDate_ParseAndJSON(t *testing.T) {
	d, err := leave.ParseDate("2026-04-06")
	require.NoError(t, err)
	assert.True(t, d.Equal(april(6)))

	_, err = leave.ParseDate("06/04/2026")
	assert.Error(t, err)

	b, err := json.Marshal(struct {
		On leave.Date `json:"on"`
	}{On: d})
	require.NoError(t, err)
	assert.JSONEq(t, `{"on":"2026-04-06"}`, string(b))

	var back struct {
		On leave.Date `json:"on"`
	}
	require.NoError(t, json.Unmarshal(b, &back))
	assert.True(t, back.On.Equal(d))
}

func TestOverlaps_ClosedInterval(t *testing.T) {
	assert.True(t, leave.Overlaps(april(1), april(6), april(6), april(9)))
	assert.False(t, leave.Overlaps(april(1), april(5), april(6), april(9)))
}

func TestFixedClock_Advance(t *testing.T) {
	c := &leave.FixedClock{Day: april(30)}
	c.Advance(1)

	assert.Equal(t, "2026-05-01", c.Today().String())
	assert.Equal(t, 12, c.Now().Hour())
}
