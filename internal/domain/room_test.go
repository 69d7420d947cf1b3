package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/stopgame/internal/domain"
)

func TestRoom_RemovePlayer(t *testing.T) {
	now := time.Now()
	r := makeRoom(t, "p1", "p2", "p3")

	_, ok := r.RemovePlayer("p1", now)
	require.True(t, ok)
	assert.Contains(t, []string{"p2", "p3"}, r.Host, "host should be one of the remaining players")
	assert.Equal(t, 2, r.PlayerCount())

	_, ok = r.RemovePlayer("p1", now)
	assert.False(t, ok, "removing twice should report missing player")

	r.RemovePlayer(r.Host, now)
	assert.Equal(t, "p3", r.Host)

	r.RemovePlayer("p3", now)
	assert.True(t, r.IsEmpty())
	assert.Empty(t, r.Host)
}

func TestRoom_NextTurnPlayer(t *testing.T) {
	tests := map[string]struct {
		arrange func(r *domain.Room)
		want    string
	}{
		"next in join order": {
			arrange: func(r *domain.Room) { r.SetTurn("p1") },
			want:    "p2",
		},
		"wraps around": {
			arrange: func(r *domain.Room) { r.SetTurn("p3") },
			want:    "p1",
		},
		"turn holder left takes the player at its position": {
			arrange: func(r *domain.Room) {
				r.SetTurn("p2")
				r.RemovePlayer("p2", time.Now())
			},
			want: "p3",
		},
		"last turn holder left wraps to first": {
			arrange: func(r *domain.Room) {
				r.SetTurn("p3")
				r.RemovePlayer("p3", time.Now())
			},
			want: "p1",
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			r := makeRoom(t, "p1", "p2", "p3")
			tt.arrange(r)
			assert.Equal(t, tt.want, r.NextTurnPlayer())
		})
	}
}

func TestRoom_NameTaken(t *testing.T) {
	r := makeRoom(t, "p1")
	assert.True(t, r.NameTaken("NAME-P1"))
	assert.False(t, r.NameTaken("other"))
}

func TestRoom_Countdown(t *testing.T) {
	r := makeRoom(t, "p1", "p2")

	gen := r.BeginCountdown("p1", 3)
	assert.True(t, r.CountdownActive())
	assert.Equal(t, "p1", r.CountdownTriggeredBy())

	left, ok := r.TickCountdown(gen)
	require.True(t, ok)
	assert.Equal(t, 2, left)

	r.StopCountdown()
	assert.False(t, r.CountdownActive())

	_, ok = r.TickCountdown(gen)
	assert.False(t, ok, "stale generation must be ignored")

	next := r.BeginCountdown("p2", 3)
	assert.NotEqual(t, gen, next)
	assert.False(t, r.CountdownCurrent(gen))
	assert.True(t, r.CountdownCurrent(next))
}

func TestRoom_ResetGame(t *testing.T) {
	now := time.Now()
	r := makeRoom(t, "p1", "p2")
	r.Game = domain.NewGame(r.Code, 5, now)
	r.State = domain.StateRoundResults
	r.Round = 3
	r.History = []domain.RoundSnapshot{{Round: 1}}

	p1, _ := r.Player("p1")
	p1.AddScore(150)
	r.RecordAnswers(p1, domain.Answers{"animal": "gato"})

	r.ResetGame()

	assert.Equal(t, domain.StateLobby, r.State)
	assert.Nil(t, r.Game)
	assert.Zero(t, r.Round)
	assert.Empty(t, r.History)
	assert.Empty(t, r.Answers)
	assert.Zero(t, p1.TotalScore)
	assert.False(t, p1.Submitted)
	assert.Equal(t, domain.PlayerWaiting, p1.State)
}

func TestRoom_InitValidations(t *testing.T) {
	r := makeRoom(t, "p1", "p2")
	p1, _ := r.Player("p1")
	p2, _ := r.Player("p2")
	r.RecordAnswers(p1, domain.Answers{"animal": "gato", "fruta": "  "})
	r.RecordAnswers(p2, domain.Answers{"animal": "", "fruta": "pera"})

	r.InitValidations()

	assert.Equal(t, 2, r.Ledger.Len(), "only non-blank answers are tracked")

	r.State = domain.StateDiscussion
	v := r.View()
	require.Contains(t, v.ValidationStats, "p1")
	assert.Equal(t, 0, v.ValidationStats["p1"]["animal"].Rejected)
	assert.NotNil(t, v.InvalidatedCount)
}

func makeRoom(t *testing.T, ids ...string) *domain.Room {
	t.Helper()

	now := time.Now()
	host := domain.NewPlayer(ids[0], "c-"+ids[0], "name-"+ids[0], domain.PlayerColors[0], now)
	r := domain.NewRoom("ABC234", host, domain.DefaultCategories, 6, now)
	for i, id := range ids[1:] {
		r.AddPlayer(domain.NewPlayer(id, "c-"+id, "name-"+id, domain.PlayerColors[i+1], now), now)
	}

	return r
}
