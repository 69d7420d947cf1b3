package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/stopgame/internal/domain"
)

func TestMajorityThreshold(t *testing.T) {
	tests := map[int]int{0: 0, 1: 0, 2: 0, 3: 1, 4: 1, 5: 2, 6: 2}

	for n, want := range tests {
		assert.Equal(t, want, domain.MajorityThreshold(n), "players=%d", n)
	}
}

func TestLedger_Vote(t *testing.T) {
	k := domain.AnswerKey{PlayerID: "p1", Category: "animal"}

	tests := map[string]struct {
		players int
		votes   []struct {
			voter string
			vote  domain.Vote
		}
		assert func(t *testing.T, l *domain.Ledger, stats domain.ValidationStats)
	}{
		"two rejections out of five players keep the answer": {
			players: 5,
			votes: []struct {
				voter string
				vote  domain.Vote
			}{
				{"p2", domain.VoteReject},
				{"p3", domain.VoteReject},
				{"p4", domain.VoteApprove},
			},
			assert: func(t *testing.T, l *domain.Ledger, stats domain.ValidationStats) {
				assert.False(t, l.IsInvalidated(k))
				assert.Equal(t, 2, stats.Rejected)
				assert.Equal(t, 1, stats.Approved)
				assert.Equal(t, []string{"p2", "p3"}, stats.RejectedBy)
				assert.Equal(t, []string{"p4"}, stats.ApprovedBy)
			},
		},
		"three rejections out of five players invalidate the answer": {
			players: 5,
			votes: []struct {
				voter string
				vote  domain.Vote
			}{
				{"p2", domain.VoteReject},
				{"p3", domain.VoteReject},
				{"p4", domain.VoteReject},
			},
			assert: func(t *testing.T, l *domain.Ledger, stats domain.ValidationStats) {
				assert.True(t, l.IsInvalidated(k))
				assert.True(t, stats.IsInvalidated)
				assert.Equal(t, map[string]int{"p1": 1}, l.InvalidatedCount())
			},
		},
		"changing a vote replaces the previous stance": {
			players: 2,
			votes: []struct {
				voter string
				vote  domain.Vote
			}{
				{"p2", domain.VoteReject},
				{"p2", domain.VoteApprove},
			},
			assert: func(t *testing.T, l *domain.Ledger, stats domain.ValidationStats) {
				assert.False(t, l.IsInvalidated(k))
				assert.Equal(t, 0, stats.Rejected)
				assert.Equal(t, 1, stats.Approved)
			},
		},
		"withdrawing a vote restores the answer": {
			players: 3,
			votes: []struct {
				voter string
				vote  domain.Vote
			}{
				{"p2", domain.VoteReject},
				{"p3", domain.VoteReject},
				{"p3", domain.VoteNone},
			},
			assert: func(t *testing.T, l *domain.Ledger, stats domain.ValidationStats) {
				assert.False(t, l.IsInvalidated(k))
				assert.Equal(t, 1, stats.Rejected)
				assert.Empty(t, stats.ApprovedBy)
			},
		},
		"single rejection in a two player room invalidates": {
			players: 2,
			votes: []struct {
				voter string
				vote  domain.Vote
			}{
				{"p2", domain.VoteReject},
			},
			assert: func(t *testing.T, l *domain.Ledger, stats domain.ValidationStats) {
				assert.True(t, l.IsInvalidated(k))
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			l := domain.NewLedger()
			l.Track(k)

			var stats domain.ValidationStats
			for _, v := range tt.votes {
				stats = l.Vote(k, v.voter, v.vote, tt.players)
			}

			tt.assert(t, l, stats)
		})
	}
}

func TestLedger_RecomputeAll(t *testing.T) {
	ganso := domain.AnswerKey{PlayerID: "p1", Category: "animal"}
	gato := domain.AnswerKey{PlayerID: "p2", Category: "animal"}

	l := domain.NewLedger()
	l.Track(ganso)
	l.Track(gato)

	l.Vote(ganso, "p2", domain.VoteReject, 5)
	l.Vote(ganso, "p3", domain.VoteReject, 5)
	l.Vote(gato, "p1", domain.VoteReject, 5)
	require.False(t, l.IsInvalidated(ganso))

	l.RecomputeAll(4)
	assert.True(t, l.IsInvalidated(ganso), "two rejections exceed the threshold of four players")
	assert.False(t, l.IsInvalidated(gato))
	assert.True(t, l.Stats(ganso).IsInvalidated)

	l.RecomputeAll(5)
	assert.False(t, l.IsInvalidated(ganso))
}

func TestParseVote(t *testing.T) {
	v, err := domain.ParseVote("Approve")
	require.NoError(t, err)
	assert.Equal(t, domain.VoteApprove, v)

	v, err = domain.ParseVote("")
	require.NoError(t, err)
	assert.Equal(t, domain.VoteNone, v)

	_, err = domain.ParseVote("maybe")
	require.Error(t, err)
}
