package domain

import (
	"strings"
	"sync"
	"time"
)

// Room is an isolated game session. Every field is guarded by the room lock:
// callers must hold Lock while reading or mutating a room obtained from the registry.
type Room struct {
	mu sync.Mutex

	Code         string
	Host         string
	State        GameState
	Round        int
	Letter       string
	TurnPlayer   string
	Answers      map[string]Answers
	History      []RoundSnapshot
	Game         *Game
	Ledger       *Ledger
	Categories   []string
	MaxPlayers   int
	CreatedAt    time.Time
	LastActivity time.Time

	players   map[string]*Player
	order     []string
	turnIndex int
	countdown countdown
	deleted   bool
}

type countdown struct {
	active      bool
	gen         uint64
	remaining   int
	triggeredBy string
	timer       interface{ Stop() bool }
}

// NewRoom creates a room with host as its only player.
func NewRoom(code string, host *Player, categories []string, maxPlayers int, now time.Time) *Room {
	r := &Room{
		Code:         code,
		Host:         host.ID,
		State:        StateLobby,
		Answers:      make(map[string]Answers),
		Ledger:       NewLedger(),
		Categories:   categories,
		MaxPlayers:   maxPlayers,
		CreatedAt:    now,
		LastActivity: now,
		players:      make(map[string]*Player),
	}
	r.AddPlayer(host, now)
	return r
}

func (r *Room) Lock()   { r.mu.Lock() }
func (r *Room) Unlock() { r.mu.Unlock() }

func (r *Room) Touch(now time.Time) {
	r.LastActivity = now
}

// MarkDeleted flags the room as removed from the registry and stops its countdown.
func (r *Room) MarkDeleted() {
	r.deleted = true
	r.StopCountdown()
}

func (r *Room) Deleted() bool {
	return r.deleted
}

// AddPlayer appends p to the join order. The first player of an empty room becomes host.
func (r *Room) AddPlayer(p *Player, now time.Time) {
	r.players[p.ID] = p
	r.order = append(r.order, p.ID)
	if r.Host == "" {
		r.Host = p.ID
	}
	r.Touch(now)
}

// RemovePlayer removes a player. If it was the host, the first remaining player in join order becomes host.
func (r *Room) RemovePlayer(id string, now time.Time) (*Player, bool) {
	p, ok := r.players[id]
	if !ok {
		return nil, false
	}

	delete(r.players, id)
	for i, pid := range r.order {
		if pid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			if i < r.turnIndex {
				r.turnIndex--
			}
			break
		}
	}
	delete(r.Answers, id)
	r.Touch(now)

	if r.Host == id {
		r.Host = ""
		if len(r.order) > 0 {
			r.Host = r.order[0]
		}
	}

	return p, true
}

func (r *Room) Player(id string) (*Player, bool) {
	p, ok := r.players[id]
	return p, ok
}

func (r *Room) PlayerByConnection(connectionID string) (*Player, bool) {
	if connectionID == "" {
		return nil, false
	}
	for _, p := range r.players {
		if p.ConnectionID == connectionID {
			return p, true
		}
	}
	return nil, false
}

// Players returns the players in join order.
func (r *Room) Players() []*Player {
	out := make([]*Player, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.players[id])
	}
	return out
}

func (r *Room) PlayerCount() int {
	return len(r.order)
}

func (r *Room) IsEmpty() bool {
	return len(r.order) == 0
}

func (r *Room) IsFull() bool {
	return len(r.order) >= r.MaxPlayers
}

// NameTaken reports whether a player with the same name, ignoring case, is in the room.
func (r *Room) NameTaken(name string) bool {
	for _, p := range r.players {
		if strings.EqualFold(p.Name, name) {
			return true
		}
	}
	return false
}

// SetTurn gives the letter selection to playerID.
func (r *Room) SetTurn(playerID string) {
	r.TurnPlayer = playerID
	for i, id := range r.order {
		if id == playerID {
			r.turnIndex = i
			return
		}
	}
}

// NextTurnPlayer returns the player after the current turn holder in join order, wrapping around.
// If the turn holder has left, the player who took their position is next.
func (r *Room) NextTurnPlayer() string {
	if len(r.order) == 0 {
		return ""
	}

	for i, id := range r.order {
		if id == r.TurnPlayer {
			return r.order[(i+1)%len(r.order)]
		}
	}

	return r.order[r.turnIndex%len(r.order)]
}

// AllSubmitted reports whether every player has recorded answers for the round.
func (r *Room) AllSubmitted() bool {
	if len(r.order) == 0 {
		return false
	}
	for _, p := range r.players {
		if !p.Submitted {
			return false
		}
	}
	return true
}

// RecordAnswers stores the final answers of a player for the current round.
func (r *Room) RecordAnswers(p *Player, a Answers) {
	p.Submit(a)
	r.Answers[p.ID] = a.Clone()
}

// ResetForNewRound clears all per-round state of the room and its players.
func (r *Room) ResetForNewRound() {
	r.StopCountdown()
	r.Answers = make(map[string]Answers)
	r.Letter = ""
	r.Ledger = NewLedger()
	for _, p := range r.players {
		p.Reset()
	}
}

// ResetGame discards the playthrough and brings the room back to the lobby.
func (r *Room) ResetGame() {
	r.ResetForNewRound()
	r.Game = nil
	r.Round = 0
	r.History = nil
	r.TurnPlayer = ""
	r.turnIndex = 0
	r.State = StateLobby
	for _, p := range r.players {
		p.TotalScore = 0
	}
}

// BeginCountdown marks a countdown of seconds as active and returns its generation.
// Callbacks of older generations must be ignored.
func (r *Room) BeginCountdown(triggeredBy string, seconds int) uint64 {
	r.countdown.gen++
	r.countdown.active = true
	r.countdown.remaining = seconds
	r.countdown.triggeredBy = triggeredBy
	r.countdown.timer = nil
	return r.countdown.gen
}

// SetCountdownTimer attaches the pending timer of generation gen so StopCountdown can cancel it.
func (r *Room) SetCountdownTimer(gen uint64, t interface{ Stop() bool }) {
	if r.countdown.gen != gen || !r.countdown.active {
		t.Stop()
		return
	}
	r.countdown.timer = t
}

// CountdownCurrent reports whether gen is the active countdown.
func (r *Room) CountdownCurrent(gen uint64) bool {
	return r.countdown.active && r.countdown.gen == gen
}

// TickCountdown decrements the active countdown of generation gen and returns the remaining seconds.
func (r *Room) TickCountdown(gen uint64) (int, bool) {
	if !r.CountdownCurrent(gen) {
		return 0, false
	}
	r.countdown.remaining--
	r.countdown.timer = nil
	return r.countdown.remaining, true
}

func (r *Room) CountdownActive() bool {
	return r.countdown.active
}

func (r *Room) CountdownTriggeredBy() string {
	return r.countdown.triggeredBy
}

// StopCountdown cancels the active countdown, if any. Pending callbacks become stale.
func (r *Room) StopCountdown() {
	if r.countdown.timer != nil {
		r.countdown.timer.Stop()
		r.countdown.timer = nil
	}
	if r.countdown.active {
		r.countdown.gen++
	}
	r.countdown.active = false
	r.countdown.remaining = 0
}

// InitValidations opens a tally for every non-blank answer of the round.
func (r *Room) InitValidations() {
	r.Ledger = NewLedger()
	for pid, answers := range r.Answers {
		for c, a := range answers {
			if strings.TrimSpace(a) != "" {
				r.Ledger.Track(AnswerKey{PlayerID: pid, Category: c})
			}
		}
	}
}

func (r *Room) IsInvalidated(playerID, category string) bool {
	return r.Ledger.IsInvalidated(AnswerKey{PlayerID: playerID, Category: category})
}

// ValidationStats returns the stats of every answer of the round, by player then category.
func (r *Room) ValidationStats() map[string]map[string]ValidationStats {
	out := make(map[string]map[string]ValidationStats, len(r.Answers))
	for pid, answers := range r.Answers {
		out[pid] = make(map[string]ValidationStats, len(answers))
		for c := range answers {
			out[pid][c] = r.Ledger.Stats(AnswerKey{PlayerID: pid, Category: c})
		}
	}
	return out
}

// DiscussionAnswers returns the recorded answers of the round with display data.
func (r *Room) DiscussionAnswers() map[string]PlayerAnswers {
	out := make(map[string]PlayerAnswers, len(r.Answers))
	for pid, answers := range r.Answers {
		p, ok := r.players[pid]
		if !ok {
			continue
		}
		out[pid] = PlayerAnswers{
			PlayerName:  p.Name,
			PlayerColor: p.Color,
			Answers:     answers.Clone(),
		}
	}
	return out
}

// View returns a snapshot of the room safe to share outside the lock.
func (r *Room) View() RoomView {
	v := RoomView{
		Code:              r.Code,
		Host:              r.Host,
		Players:           make([]PlayerView, 0, len(r.order)),
		GameState:         r.State,
		CurrentRound:      r.Round,
		CurrentLetter:     r.Letter,
		CurrentTurnPlayer: r.TurnPlayer,
		PlayerCount:       len(r.order),
		MaxPlayers:        r.MaxPlayers,
		Categories:        r.Categories,
		CountdownActive:   r.countdown.active,
		UsedLetters:       []string{},
	}

	for _, p := range r.Players() {
		v.Players = append(v.Players, p.View())
	}

	if r.Game != nil {
		v.TotalRounds = r.Game.TotalRounds
		v.UsedLetters = r.Game.UsedLetters()
	}

	if r.State == StateDiscussion {
		v.ValidationStats = r.ValidationStats()
		v.InvalidatedCount = r.Ledger.InvalidatedCount()
	}

	return v
}
