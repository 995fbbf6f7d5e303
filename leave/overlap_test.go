package leave_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/leave"
)

func TestOverlapValidator_HasOverlap(t *testing.T) {
	// GIVEN: Alice holds April 6-10
	// WHEN: Candidate ranges are checked
	// THEN: Closed-interval intersection decides, other users never collide

	f := newFixture(t)
	f.assign(t, "alice", 20)
	held := f.submit(t, alice, april(6), april(10))
	v := f.workflow.Overlap()

	cases := []struct {
		name       string
		user       leave.UserID
		start, end leave.Date
		want       bool
	}{
		{"touching first day", "alice", april(1), april(6), true},
		{"touching last day", "alice", april(10), april(12), true},
		{"inside", "alice", april(7), april(8), true},
		{"covering", "alice", april(1), april(30), true},
		{"day before", "alice", april(1), april(5), false},
		{"day after", "alice", april(11), april(12), false},
		{"other user", "dave", april(6), april(10), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := v.HasOverlap(f.ctx, tc.user, tc.start, tc.end, nil)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	t.Run("excluding the held request", func(t *testing.T) {
		got, err := v.HasOverlap(f.ctx, "alice", april(6), april(10), &held.ID)
		require.NoError(t, err)
		assert.False(t, got)
	})
}

func TestOverlapValidator_TerminalRequestsIgnored(t *testing.T) {
	f := newFixture(t)
	f.assign(t, "alice", 20)
	r := f.submit(t, alice, april(6), april(10))
	_, err := f.workflow.Reject(f.ctx, carol, leave.RejectInput{RequestID: r.ID})
	require.NoError(t, err)

	got, err := f.workflow.Overlap().HasOverlap(f.ctx, "alice", april(6), april(10), nil)

	require.NoError(t, err)
	assert.False(t, got)
}

func TestOverlapValidator_StorageFailure(t *testing.T) {
	v := &leave.OverlapValidator{Reader: brokenStore{}}

	_, err := v.HasOverlap(context.Background(), "alice", april(6), april(10), nil)

	assert.ErrorIs(t, err, leave.ErrStorageFailure)
}
