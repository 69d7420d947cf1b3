package domain

import (
	"github.com/victornm/stopgame/internal/errors"
)

const (
	ReasonInvalidRequest   = "invalid_request"
	ReasonInvalidName      = "invalid_name"
	ReasonInvalidCode      = "invalid_code"
	ReasonCodeGeneration   = "code_generation"
	ReasonRoomNotFound     = "room_not_found"
	ReasonPlayerNotFound   = "player_not_found"
	ReasonRoomFull         = "room_full"
	ReasonGameInProgress   = "game_in_progress"
	ReasonNameTaken        = "name_taken"
	ReasonNotHost          = "not_host"
	ReasonNotEnoughPlayers = "not_enough_players"
	ReasonNotYourTurn      = "not_your_turn"
	ReasonInvalidLetter    = "invalid_letter"
	ReasonLetterUsed       = "letter_used"
	ReasonWrongState       = "wrong_state"
	ReasonCountdownActive  = "countdown_active"
	ReasonNoAnswer         = "no_answer"
	ReasonAlreadySubmitted = "already_submitted"
	ReasonInvalidAnswers   = "invalid_answers"
	ReasonSelfVote         = "self_vote"
	ReasonInvalidVote      = "invalid_vote"
	ReasonInvalidCategory  = "invalid_category"
	ReasonConnectionInUse  = "connection_in_use"
)

func invalid(reason, format string, args ...any) error {
	return errors.New(errors.CodeInvalidArgument, errors.WithReason(reason), errors.WithMessagef(format, args...))
}

func ErrRoomNotFound(code string) error {
	return errors.New(errors.CodeNotFound,
		errors.WithReason(ReasonRoomNotFound),
		errors.WithMessagef("room not found: code=%s", code))
}

func ErrPlayerNotFound(code, playerID string) error {
	return errors.New(errors.CodeNotFound,
		errors.WithReason(ReasonPlayerNotFound),
		errors.WithMessagef("player not found: code=%s player=%s", code, playerID))
}

func ErrNotHost(action string) error {
	return errors.New(errors.CodePermissionDenied,
		errors.WithReason(ReasonNotHost),
		errors.WithMessagef("only the host can %s", action))
}

func ErrWrongState(action string, state GameState) error {
	return errors.New(errors.CodeFailedPrecondition,
		errors.WithReason(ReasonWrongState),
		errors.WithMessagef("cannot %s while game is %s", action, state))
}
