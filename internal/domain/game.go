package domain

import (
	"sort"
	"strings"
	"time"
)

// Game is one playthrough of a room, from start to finish or restart.
type Game struct {
	RoomCode    string
	Round       int
	TotalRounds int
	Rounds      []RoundSnapshot
	StartedAt   time.Time
	FinishedAt  time.Time

	used map[string]struct{}
}

func NewGame(roomCode string, totalRounds int, now time.Time) *Game {
	return &Game{
		RoomCode:    roomCode,
		Round:       1,
		TotalRounds: totalRounds,
		StartedAt:   now,
		used:        make(map[string]struct{}),
	}
}

func (g *Game) exhausted() bool {
	return len(g.used) >= len(Alphabet)
}

// LetterUsed reports whether letter can not be chosen now.
// Once every letter has been used, all of them are available again.
func (g *Game) LetterUsed(letter string) bool {
	if g.exhausted() {
		return false
	}
	_, ok := g.used[letter]
	return ok
}

// ClaimLetter marks letter as used. It returns false if the letter was already used in the current cycle.
func (g *Game) ClaimLetter(letter string) bool {
	if g.exhausted() {
		clear(g.used)
	}

	if _, ok := g.used[letter]; ok {
		return false
	}

	g.used[letter] = struct{}{}
	return true
}

// AvailableLetters returns the letters that can be chosen now, in alphabetical order.
func (g *Game) AvailableLetters() []string {
	out := make([]string, 0, len(Alphabet))
	for _, c := range strings.Split(Alphabet, "") {
		if !g.LetterUsed(c) {
			out = append(out, c)
		}
	}
	return out
}

func (g *Game) UsedLetters() []string {
	out := make([]string, 0, len(g.used))
	for c := range g.used {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func (g *Game) AddRound(s RoundSnapshot) {
	g.Rounds = append(g.Rounds, s)
}

// Letters returns the letter of every completed round, in play order.
func (g *Game) Letters() []string {
	out := make([]string, 0, len(g.Rounds))
	for _, r := range g.Rounds {
		out = append(out, r.Letter)
	}
	return out
}

func (g *Game) Finish(now time.Time) {
	g.FinishedAt = now
}

func (g *Game) Finished() bool {
	return !g.FinishedAt.IsZero()
}

// Duration is the play time so far, or the total play time once finished.
func (g *Game) Duration(now time.Time) time.Duration {
	if g.Finished() {
		return g.FinishedAt.Sub(g.StartedAt)
	}
	return now.Sub(g.StartedAt)
}
