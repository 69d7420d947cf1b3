package domain

import (
	"strings"
	"time"
)

// Answers maps a category to the answer text.
type Answers map[string]string

// Clone returns a copy of a.
func (a Answers) Clone() Answers {
	out := make(Answers, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Player is a participant of a room. ID is stable for the player's lifetime,
// ConnectionID changes on every reconnect and is empty while disconnected.
type Player struct {
	ID           string
	ConnectionID string
	Name         string
	Color        string
	TotalScore   int
	Ready        bool
	State        PlayerState
	Submitted    bool
	PressedStop  bool
	Draft        Answers
	JoinedAt     time.Time
}

func NewPlayer(id, connectionID, name, color string, now time.Time) *Player {
	return &Player{
		ID:           id,
		ConnectionID: connectionID,
		Name:         name,
		Color:        color,
		State:        PlayerWaiting,
		Draft:        make(Answers),
		JoinedAt:     now,
	}
}

// Reset clears the per-round fields, keeping identity and score.
func (p *Player) Reset() {
	p.Ready = false
	p.State = PlayerWaiting
	p.Submitted = false
	p.PressedStop = false
	p.Draft = make(Answers)
}

// Submit records the final answers for the round.
func (p *Player) Submit(a Answers) {
	p.Draft = a.Clone()
	p.Submitted = true
	p.State = PlayerSubmitted
}

func (p *Player) UpdateDraft(category, value string) {
	p.Draft[category] = value
	p.State = PlayerWriting
}

// HasAnyDraft reports whether at least one draft answer is non-blank.
func (p *Player) HasAnyDraft() bool {
	for _, v := range p.Draft {
		if strings.TrimSpace(v) != "" {
			return true
		}
	}
	return false
}

// DraftFor returns the draft restricted to categories, missing ones being empty.
func (p *Player) DraftFor(categories []string) Answers {
	out := make(Answers, len(categories))
	for _, c := range categories {
		out[c] = p.Draft[c]
	}
	return out
}

func (p *Player) AddScore(points int) {
	p.TotalScore += points
}

func (p *Player) View() PlayerView {
	return PlayerView{
		ID:           p.ID,
		Name:         p.Name,
		Color:        p.Color,
		TotalScore:   p.TotalScore,
		IsReady:      p.Ready,
		State:        p.State,
		HasSubmitted: p.Submitted,
		PressedStop:  p.PressedStop,
		Connected:    p.ConnectionID != "",
	}
}
