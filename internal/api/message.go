package api

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/codes"

	"github.com/victornm/stopgame/internal/domain"
	"github.com/victornm/stopgame/internal/errors"
)

// Inbound message types.
const (
	TypeCreateRoom          = "create_room"
	TypeJoinRoom            = "join_room"
	TypeReconnect           = "reconnect"
	TypeLeaveRoom           = "leave_room"
	TypeStartGame           = "start_game"
	TypeSelectLetter        = "select_letter"
	TypeUpdateCurrentAnswer = "update_current_answer"
	TypeStopPressed         = "stop_pressed"
	TypeSubmitAnswers       = "submit_answers"
	TypeVoteAnswer          = "vote_answer"
	TypeCalculateResults    = "calculate_results"
	TypeNextRound           = "next_round"
	TypeRestartGame         = "restart_game"
)

// Outbound events.
const (
	EventRoomCreated        = "room_created"
	EventRoomJoined         = "room_joined"
	EventReconnected        = "reconnected"
	EventRoomUpdated        = "room_updated"
	EventPlayerJoined       = "player_joined"
	EventPlayerLeft         = "player_left"
	EventGameStarted        = "game_started"
	EventLetterSelected     = "letter_selected"
	EventCountdownStarted   = "countdown_started"
	EventCountdownTick      = "countdown_tick"
	EventInputsLocked       = "inputs_locked"
	EventPlayerSubmitted    = "player_submitted"
	EventStartDiscussion    = "start_discussion"
	EventAnswerVoted        = "answer_voted"
	EventRoundResults       = "round_results"
	EventNewRound           = "new_round"
	EventGameFinished       = "game_finished"
	EventGameRestarted      = "game_restarted"
	EventGameCancelled      = "game_cancelled"
	EventLeaderboardUpdated = "leaderboard_updated"
	EventError              = "error"
)

// Message is the envelope of every inbound message.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type (
	CreateRoom struct {
		PlayerName string `json:"playerName"`
	}

	JoinRoom struct {
		RoomCode   string `json:"roomCode"`
		PlayerName string `json:"playerName"`
	}

	Reconnect struct {
		RoomCode string `json:"roomCode"`
		PlayerID string `json:"playerId"`
	}

	SelectLetter struct {
		Letter string `json:"letter"`
	}

	UpdateCurrentAnswer struct {
		Category string `json:"category"`
		Value    string `json:"value"`
	}

	SubmitAnswers struct {
		Answers map[string]string `json:"answers"`
	}

	VoteAnswer struct {
		PlayerID string `json:"playerId"`
		Category string `json:"category"`
		// Vote is approve, reject or null to withdraw.
		Vote *string `json:"vote"`
	}
)

// Decode parses a raw inbound message into its tagged variant. Variants without payload decode to nil.
func Decode(b []byte) (string, any, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return "", nil, invalidRequest("malformed message: %v", err)
	}

	var v any
	switch m.Type {
	case TypeCreateRoom:
		v = &CreateRoom{}
	case TypeJoinRoom:
		v = &JoinRoom{}
	case TypeReconnect:
		v = &Reconnect{}
	case TypeSelectLetter:
		v = &SelectLetter{}
	case TypeUpdateCurrentAnswer:
		v = &UpdateCurrentAnswer{}
	case TypeSubmitAnswers:
		v = &SubmitAnswers{}
	case TypeVoteAnswer:
		v = &VoteAnswer{}
	case TypeLeaveRoom, TypeStartGame, TypeStopPressed, TypeCalculateResults, TypeNextRound, TypeRestartGame:
		return m.Type, nil, nil
	case "":
		return "", nil, invalidRequest("missing message type")
	default:
		return m.Type, nil, invalidRequest("unknown message type: %s", m.Type)
	}

	if len(m.Data) == 0 || string(m.Data) == "null" {
		return "", nil, invalidRequest("missing data for %s", m.Type)
	}

	if err := json.Unmarshal(m.Data, v); err != nil {
		return "", nil, invalidRequest("malformed %s: %v", m.Type, err)
	}

	return m.Type, v, nil
}

func invalidRequest(format string, args ...any) error {
	return errors.New(errors.CodeInvalidArgument,
		errors.WithReason(domain.ReasonInvalidRequest),
		errors.WithMessagef(format, args...),
	)
}

// Notification is the envelope of every outbound event.
type Notification struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

func (n Notification) marshal() ([]byte, error) {
	b, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", n.Event, err)
	}
	return b, nil
}

type (
	ErrorData struct {
		Code    string `json:"code"`
		Reason  string `json:"reason,omitempty"`
		Message string `json:"message"`
	}

	Joined struct {
		RoomCode string            `json:"roomCode"`
		PlayerID string            `json:"playerId"`
		Player   domain.PlayerView `json:"player"`
		Room     domain.RoomView   `json:"room"`
	}

	RoomUpdated struct {
		Room domain.RoomView `json:"room"`
	}

	PlayerJoined struct {
		Player domain.PlayerView `json:"player"`
		Room   domain.RoomView   `json:"room"`
	}

	PlayerLeft struct {
		PlayerID   string          `json:"playerId"`
		PlayerName string          `json:"playerName"`
		Room       domain.RoomView `json:"room"`
	}

	GameStarted struct {
		TotalRounds       int             `json:"totalRounds"`
		CurrentTurnPlayer string          `json:"currentTurnPlayer"`
		Room              domain.RoomView `json:"room"`
	}

	LetterSelected struct {
		Letter string          `json:"letter"`
		Room   domain.RoomView `json:"room"`
	}

	CountdownStarted struct {
		TriggeredBy string          `json:"triggeredBy"`
		PlayerName  string          `json:"playerName"`
		Seconds     int             `json:"seconds"`
		Room        domain.RoomView `json:"room"`
	}

	CountdownTick struct {
		Remaining int `json:"remaining"`
	}

	PlayerSubmitted struct {
		PlayerID      string           `json:"playerId"`
		PlayerName    string           `json:"playerName"`
		AutoSubmitted bool             `json:"autoSubmitted"`
		Room          *domain.RoomView `json:"room,omitempty"`
	}

	StartDiscussion struct {
		Answers map[string]domain.PlayerAnswers `json:"answers"`
		Room    domain.RoomView                 `json:"room"`
	}

	AnswerVoted struct {
		PlayerID         string                 `json:"playerId"`
		Category         string                 `json:"category"`
		VoterID          string                 `json:"voterId"`
		Vote             *string                `json:"vote"`
		Stats            domain.ValidationStats `json:"stats"`
		InvalidatedCount map[string]int         `json:"invalidatedCount"`
		Room             domain.RoomView        `json:"room"`
	}

	RoundResults struct {
		Round   int                  `json:"round"`
		Letter  string               `json:"letter"`
		Results []domain.RoundResult `json:"results"`
		Room    domain.RoomView      `json:"room"`
	}

	NewRound struct {
		Round             int             `json:"round"`
		CurrentTurnPlayer string          `json:"currentTurnPlayer"`
		Room              domain.RoomView `json:"room"`
	}

	GameFinished struct {
		Standings []domain.Standing `json:"standings"`
		// Duration is in seconds.
		Duration int64           `json:"duration"`
		Room     domain.RoomView `json:"room"`
	}

	GameCancelled struct {
		Reason string          `json:"reason"`
		Room   domain.RoomView `json:"room"`
	}

	Leaderboard struct {
		RoomCode string             `json:"roomCode"`
		Entries  []LeaderboardEntry `json:"entries"`
	}

	LeaderboardEntry struct {
		PlayerID   string  `json:"playerId"`
		PlayerName string  `json:"playerName"`
		Score      float64 `json:"score"`
	}
)

func errorData(err error) ErrorData {
	e := errors.Convert(err)

	msg := e.Message
	if e.Code == errors.CodeInternal {
		msg = "internal error"
	}

	return ErrorData{
		Code:    codes.Code(e.Code).String(),
		Reason:  e.Reason,
		Message: msg,
	}
}

func leaderboardData(l domain.Leaderboard) Leaderboard {
	data := Leaderboard{
		RoomCode: l.RoomCode,
		Entries:  make([]LeaderboardEntry, 0, len(l.Entries)),
	}

	for _, e := range l.Entries {
		data.Entries = append(data.Entries, LeaderboardEntry{
			PlayerID:   e.PlayerID,
			PlayerName: e.PlayerName,
			Score:      e.Score,
		})
	}

	return data
}
