package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type ScoreStatus string

const (
	ScoreEmpty       ScoreStatus = "empty"
	ScoreInvalidated ScoreStatus = "invalidated"
	ScoreUnique      ScoreStatus = "unique"
	ScoreRepeated    ScoreStatus = "repeated"
)

type CategoryScore struct {
	Points int         `json:"points"`
	Status ScoreStatus `json:"status"`
}

// RoundResult is one player's outcome for a round. Answers keep the original text.
type RoundResult struct {
	PlayerID    string                   `json:"playerId"`
	PlayerName  string                   `json:"playerName"`
	PlayerColor string                   `json:"playerColor"`
	Answers     Answers                  `json:"answers"`
	Scores      map[string]CategoryScore `json:"scores"`
	RoundScore  int                      `json:"roundScore"`
	TotalScore  int                      `json:"totalScore"`
}

// RoundSnapshot is appended to the room history every time a round is scored.
type RoundSnapshot struct {
	Round       int                                   `json:"round"`
	Letter      string                                `json:"letter"`
	Results     []RoundResult                         `json:"results"`
	Validations map[string]map[string]ValidationStats `json:"validations"`
	Timestamp   time.Time                             `json:"timestamp"`
}

// Standing is a player's final position.
type Standing struct {
	PlayerID string          `json:"id"`
	Name     string          `json:"name"`
	Color    string          `json:"color"`
	Score    int             `json:"score"`
	Average  decimal.Decimal `json:"average"`
}

// PlayerAnswers is what every player sees of another player's answers during discussion.
type PlayerAnswers struct {
	PlayerName  string  `json:"playerName"`
	PlayerColor string  `json:"playerColor"`
	Answers     Answers `json:"answers"`
}

// AutoSubmission names a player whose draft was submitted on their behalf.
type AutoSubmission struct {
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
}
