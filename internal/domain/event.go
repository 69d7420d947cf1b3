package domain

import "time"

const (
	EventNameScoreUpdated       = "score.updated"
	EventNameLeaderboardUpdated = "leaderboard.updated"
	EventNameGameFinished       = "game.finished"
	EventNameGameReset          = "game.reset"
	EventNameRoomDeleted        = "room.deleted"
	EventNamePlayerLeft         = "player.left"
)

// Score is a player's cumulative score within a room.
type Score struct {
	RoomCode   string
	PlayerID   string
	PlayerName string
	TotalScore int
	UpdateTime time.Time
}

// Leaderboard is the list of players of a room sorted by score in descending order.
type Leaderboard struct {
	RoomCode string
	Entries  []LeaderboardEntry
}

type LeaderboardEntry struct {
	PlayerID   string
	PlayerName string
	Score      float64
}

// GameRecord summarizes a finished playthrough. ID is assigned when the record is archived.
type GameRecord struct {
	ID         string     `json:"id"`
	RoomCode   string     `json:"roomCode"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt time.Time  `json:"finishedAt"`
	Rounds     int        `json:"rounds"`
	Letters    []string   `json:"letters"`
	Standings  []Standing `json:"standings"`
}

// EventScoreUpdated carries the totals of every player of a room after a round was scored.
type EventScoreUpdated struct {
	RoomCode string
	Scores   []Score
}

func (EventScoreUpdated) Name() string  { return EventNameScoreUpdated }
func (e EventScoreUpdated) Key() string { return e.RoomCode }

type EventLeaderboardUpdated struct {
	Leaderboard Leaderboard
}

func (EventLeaderboardUpdated) Name() string  { return EventNameLeaderboardUpdated }
func (e EventLeaderboardUpdated) Key() string { return e.Leaderboard.RoomCode }

type EventGameFinished struct {
	Game GameRecord
}

func (EventGameFinished) Name() string  { return EventNameGameFinished }
func (e EventGameFinished) Key() string { return e.Game.RoomCode }

// EventGameReset is published when a room goes back to the lobby, Cancelled being set
// when the engine forced it because too few players were left.
type EventGameReset struct {
	RoomCode  string
	Cancelled bool
}

func (EventGameReset) Name() string  { return EventNameGameReset }
func (e EventGameReset) Key() string { return e.RoomCode }

type EventRoomDeleted struct {
	RoomCode string
}

func (EventRoomDeleted) Name() string  { return EventNameRoomDeleted }
func (e EventRoomDeleted) Key() string { return e.RoomCode }

// EventPlayerLeft is published when a player is removed from a room that still exists.
type EventPlayerLeft struct {
	RoomCode string
	PlayerID string
}

func (EventPlayerLeft) Name() string  { return EventNamePlayerLeft }
func (e EventPlayerLeft) Key() string { return e.RoomCode }
