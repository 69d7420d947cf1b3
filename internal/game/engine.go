package game

import (
	"context"
	"log/slog"
	"time"

	"github.com/victornm/stopgame/internal/clock"
	"github.com/victornm/stopgame/internal/domain"
	"github.com/victornm/stopgame/internal/errors"
	"github.com/victornm/stopgame/internal/event"
	"github.com/victornm/stopgame/internal/room"
	"github.com/victornm/stopgame/internal/score"
	"github.com/victornm/stopgame/internal/telemetry"
)

const (
	defaultMinPlayers = 2
	defaultMaxRounds  = 5
)

type Config struct {
	Rooms      *room.Registry
	EventBus   *event.Bus
	Scorer     *score.Service
	Clock      clock.Clock
	MinPlayers int
	MaxRounds  int
}

// Engine drives the game state machine of every room. Each operation locks the room for its whole
// read-modify-write and validates every precondition before mutating anything.
type Engine struct {
	rooms      *room.Registry
	eb         *event.Bus
	scorer     *score.Service
	clock      clock.Clock
	minPlayers int
	maxRounds  int
}

func NewEngine(c Config) *Engine {
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.MinPlayers <= 0 {
		c.MinPlayers = defaultMinPlayers
	}
	if c.MaxRounds <= 0 {
		c.MaxRounds = defaultMaxRounds
	}
	if c.Scorer == nil {
		c.Scorer = score.NewService(score.Config{EventBus: c.EventBus, Clock: c.Clock})
	}

	return &Engine{
		rooms:      c.Rooms,
		eb:         c.EventBus,
		scorer:     c.Scorer,
		clock:      c.Clock,
		minPlayers: c.MinPlayers,
		maxRounds:  c.MaxRounds,
	}
}

type StartGameRequest struct {
	RoomCode string
	PlayerID string
}

type StartGameResponse struct {
	Room        domain.RoomView
	TotalRounds int
	TurnPlayer  string
}

// StartGame creates a new game and hands the first letter selection to the host.
func (e *Engine) StartGame(ctx context.Context, req StartGameRequest) (*StartGameResponse, error) {
	r, err := e.rooms.Acquire(req.RoomCode)
	if err != nil {
		return nil, err
	}
	defer r.Unlock()

	if r.Host != req.PlayerID {
		return nil, domain.ErrNotHost("start the game")
	}

	if r.State != domain.StateLobby {
		return nil, domain.ErrWrongState("start the game", r.State)
	}

	if r.PlayerCount() < e.minPlayers {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithReason(domain.ReasonNotEnoughPlayers),
			errors.WithMessagef("at least %d players are needed to start, got %d", e.minPlayers, r.PlayerCount()))
	}

	now := e.clock.Now()
	r.ResetForNewRound()
	r.History = nil
	r.Game = domain.NewGame(r.Code, e.maxRounds, now)
	r.Round = 1
	r.SetTurn(r.Host)
	r.State = domain.StateSelectingLetter
	r.Touch(now)

	telemetry.GamesStarted.Inc()
	slog.InfoContext(ctx, "game: started", "room", r.Code, "players", r.PlayerCount())

	return &StartGameResponse{
		Room:        r.View(),
		TotalRounds: e.maxRounds,
		TurnPlayer:  r.TurnPlayer,
	}, nil
}

type SelectLetterRequest struct {
	RoomCode string
	PlayerID string
	Letter   string
}

type SelectLetterResponse struct {
	Letter string
	Room   domain.RoomView
}

// SelectLetter accepts the letter proposed by the turn holder and starts the race.
func (e *Engine) SelectLetter(ctx context.Context, req SelectLetterRequest) (*SelectLetterResponse, error) {
	r, err := e.rooms.Acquire(req.RoomCode)
	if err != nil {
		return nil, err
	}
	defer r.Unlock()

	if r.State != domain.StateSelectingLetter {
		return nil, domain.ErrWrongState("select a letter", r.State)
	}

	if r.TurnPlayer != req.PlayerID {
		return nil, errors.New(errors.CodePermissionDenied,
			errors.WithReason(domain.ReasonNotYourTurn),
			errors.WithMessagef("it is not your turn to select the letter"))
	}

	letter, err := domain.ValidateLetter(req.Letter)
	if err != nil {
		return nil, err
	}

	if r.Game.LetterUsed(letter) || !r.Game.ClaimLetter(letter) {
		return nil, errors.New(errors.CodeAlreadyExists,
			errors.WithReason(domain.ReasonLetterUsed),
			errors.WithMessagef("letter already used in this game: %s", letter))
	}

	r.Letter = letter
	r.State = domain.StatePlaying
	r.Touch(e.clock.Now())

	slog.InfoContext(ctx, "game: letter selected", "room", r.Code, "round", r.Round, "letter", letter)

	return &SelectLetterResponse{
		Letter: letter,
		Room:   r.View(),
	}, nil
}

type UpdateDraftRequest struct {
	RoomCode string
	PlayerID string
	Category string
	Value    string
}

// UpdateDraft stores what a player has typed so far. Errors are informative only.
func (e *Engine) UpdateDraft(ctx context.Context, req UpdateDraftRequest) error {
	r, err := e.rooms.Acquire(req.RoomCode)
	if err != nil {
		return err
	}
	defer r.Unlock()

	if r.State != domain.StatePlaying && r.State != domain.StateCountdown {
		return domain.ErrWrongState("update an answer", r.State)
	}

	p, ok := r.Player(req.PlayerID)
	if !ok {
		return domain.ErrPlayerNotFound(r.Code, req.PlayerID)
	}

	if p.Submitted {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithReason(domain.ReasonAlreadySubmitted),
			errors.WithMessagef("answers already submitted"))
	}

	if err := domain.ValidateCategory(r.Categories, req.Category); err != nil {
		return err
	}

	p.UpdateDraft(req.Category, req.Value)
	r.Touch(e.clock.Now())

	return nil
}

type SubmitAnswersRequest struct {
	RoomCode string
	PlayerID string
	Answers  map[string]string
}

type SubmitAnswersResponse struct {
	PlayerID     string
	PlayerName   string
	AllSubmitted bool
	Room         domain.RoomView
	// Answers is set when the submission started the discussion.
	Answers map[string]domain.PlayerAnswers
}

// SubmitAnswers records the final answers of a player. The discussion starts as soon as every player
// has submitted, cancelling the countdown if one is running.
func (e *Engine) SubmitAnswers(ctx context.Context, req SubmitAnswersRequest) (*SubmitAnswersResponse, error) {
	r, err := e.rooms.Acquire(req.RoomCode)
	if err != nil {
		return nil, err
	}
	defer r.Unlock()

	if r.State != domain.StatePlaying && r.State != domain.StateCountdown {
		return nil, domain.ErrWrongState("submit answers", r.State)
	}

	p, ok := r.Player(req.PlayerID)
	if !ok {
		return nil, domain.ErrPlayerNotFound(r.Code, req.PlayerID)
	}

	if p.Submitted {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithReason(domain.ReasonAlreadySubmitted),
			errors.WithMessagef("answers already submitted for round %d", r.Round))
	}

	answers, err := domain.ValidateAnswers(r.Categories, req.Answers)
	if err != nil {
		return nil, err
	}

	r.RecordAnswers(p, answers)
	r.Touch(e.clock.Now())

	resp := &SubmitAnswersResponse{
		PlayerID:   p.ID,
		PlayerName: p.Name,
	}

	if r.AllSubmitted() {
		e.startDiscussion(ctx, r)
		resp.AllSubmitted = true
		resp.Answers = r.DiscussionAnswers()
	}

	resp.Room = r.View()
	return resp, nil
}

// ExpireRace auto-submits the draft of every player who has not submitted and starts the discussion.
// r must be locked by the caller.
func (e *Engine) ExpireRace(ctx context.Context, r *domain.Room) []domain.AutoSubmission {
	var autos []domain.AutoSubmission
	for _, p := range r.Players() {
		if p.Submitted {
			continue
		}
		r.RecordAnswers(p, p.DraftFor(r.Categories))
		autos = append(autos, domain.AutoSubmission{PlayerID: p.ID, PlayerName: p.Name})
	}

	r.Touch(e.clock.Now())
	e.startDiscussion(ctx, r)

	return autos
}

func (e *Engine) startDiscussion(ctx context.Context, r *domain.Room) {
	if r.CountdownActive() {
		telemetry.Countdowns.WithLabelValues("cancelled").Inc()
	}
	r.StopCountdown()
	r.State = domain.StateDiscussion
	r.InitValidations()

	slog.InfoContext(ctx, "game: discussion started", "room", r.Code, "round", r.Round, "answers", r.Ledger.Len())
}

type VoteRequest struct {
	RoomCode string
	VoterID  string
	TargetID string
	Category string
	Vote     domain.Vote
}

type VoteResponse struct {
	Stats            domain.ValidationStats
	InvalidatedCount map[string]int
	Room             domain.RoomView
}

// Vote records the voter's stance on another player's answer, replacing any previous one.
func (e *Engine) Vote(ctx context.Context, req VoteRequest) (*VoteResponse, error) {
	r, err := e.rooms.Acquire(req.RoomCode)
	if err != nil {
		return nil, err
	}
	defer r.Unlock()

	if r.State != domain.StateDiscussion {
		return nil, domain.ErrWrongState("vote", r.State)
	}

	if _, ok := r.Player(req.VoterID); !ok {
		return nil, domain.ErrPlayerNotFound(r.Code, req.VoterID)
	}

	if req.VoterID == req.TargetID {
		return nil, errors.New(errors.CodePermissionDenied,
			errors.WithReason(domain.ReasonSelfVote),
			errors.WithMessagef("players cannot vote on their own answers"))
	}

	if err := domain.ValidateCategory(r.Categories, req.Category); err != nil {
		return nil, err
	}

	answers, ok := r.Answers[req.TargetID]
	if !ok {
		return nil, domain.ErrPlayerNotFound(r.Code, req.TargetID)
	}

	k := domain.AnswerKey{PlayerID: req.TargetID, Category: req.Category}
	if score.Normalize(answers[req.Category]) == "" {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithReason(domain.ReasonInvalidVote),
			errors.WithMessagef("cannot vote on an empty answer"))
	}

	stats := r.Ledger.Vote(k, req.VoterID, req.Vote, r.PlayerCount())
	r.Touch(e.clock.Now())

	return &VoteResponse{
		Stats:            stats,
		InvalidatedCount: r.Ledger.InvalidatedCount(),
		Room:             r.View(),
	}, nil
}

type CalculateResultsRequest struct {
	RoomCode string
	PlayerID string
}

type CalculateResultsResponse struct {
	Round   int
	Letter  string
	Results []domain.RoundResult
	Room    domain.RoomView
}

// CalculateResults scores the round. It runs once per round: the room leaves the discussion.
func (e *Engine) CalculateResults(ctx context.Context, req CalculateResultsRequest) (*CalculateResultsResponse, error) {
	r, err := e.rooms.Acquire(req.RoomCode)
	if err != nil {
		return nil, err
	}
	defer r.Unlock()

	if r.Host != req.PlayerID {
		return nil, domain.ErrNotHost("calculate the results")
	}

	if r.State != domain.StateDiscussion {
		return nil, domain.ErrWrongState("calculate the results", r.State)
	}

	results := e.scorer.CalculateScores(ctx, r)
	r.State = domain.StateRoundResults
	r.Touch(e.clock.Now())

	return &CalculateResultsResponse{
		Round:   r.Round,
		Letter:  r.Letter,
		Results: results,
		Room:    r.View(),
	}, nil
}

type NextRoundRequest struct {
	RoomCode string
	PlayerID string
}

type NextRoundResponse struct {
	Finished   bool
	Round      int
	TurnPlayer string
	Room       domain.RoomView

	// Set when Finished.
	Standings []domain.Standing
	Duration  time.Duration
}

// NextRound moves to the next round, or finishes the game after the last one.
func (e *Engine) NextRound(ctx context.Context, req NextRoundRequest) (*NextRoundResponse, error) {
	r, err := e.rooms.Acquire(req.RoomCode)
	if err != nil {
		return nil, err
	}
	defer r.Unlock()

	if r.Host != req.PlayerID {
		return nil, domain.ErrNotHost("start the next round")
	}

	if r.State != domain.StateRoundResults {
		return nil, domain.ErrWrongState("start the next round", r.State)
	}

	now := e.clock.Now()
	r.Touch(now)

	r.Round++
	if r.Round > r.Game.TotalRounds {
		return e.finish(ctx, r, now), nil
	}

	r.Game.Round = r.Round
	r.ResetForNewRound()
	r.SetTurn(r.NextTurnPlayer())
	r.State = domain.StateSelectingLetter

	slog.InfoContext(ctx, "game: next round", "room", r.Code, "round", r.Round, "turn", r.TurnPlayer)

	return &NextRoundResponse{
		Round:      r.Round,
		TurnPlayer: r.TurnPlayer,
		Room:       r.View(),
	}, nil
}

func (e *Engine) finish(ctx context.Context, r *domain.Room, now time.Time) *NextRoundResponse {
	r.State = domain.StateFinished
	r.Game.Finish(now)

	standings := score.Standings(r)
	duration := r.Game.Duration(now)

	telemetry.GamesFinished.WithLabelValues("finished").Inc()
	slog.InfoContext(ctx, "game: finished", "room", r.Code, "rounds", len(r.History), "duration", duration)

	if e.eb != nil {
		e.eb.Publish(ctx, domain.EventGameFinished{
			Game: domain.GameRecord{
				RoomCode:   r.Code,
				StartedAt:  r.Game.StartedAt,
				FinishedAt: r.Game.FinishedAt,
				Rounds:     len(r.Game.Rounds),
				Letters:    r.Game.Letters(),
				Standings:  standings,
			},
		})
	}

	return &NextRoundResponse{
		Finished:  true,
		Round:     r.Round,
		Room:      r.View(),
		Standings: standings,
		Duration:  duration,
	}
}

type RestartGameRequest struct {
	RoomCode string
	PlayerID string
}

type RestartGameResponse struct {
	Room domain.RoomView
}

// RestartGame discards the game from any state and brings everyone back to the lobby with a zero score.
func (e *Engine) RestartGame(ctx context.Context, req RestartGameRequest) (*RestartGameResponse, error) {
	r, err := e.rooms.Acquire(req.RoomCode)
	if err != nil {
		return nil, err
	}
	defer r.Unlock()

	if r.Host != req.PlayerID {
		return nil, domain.ErrNotHost("restart the game")
	}

	e.reset(ctx, r, false)

	return &RestartGameResponse{
		Room: r.View(),
	}, nil
}

func (e *Engine) reset(ctx context.Context, r *domain.Room, cancelled bool) {
	if r.Game != nil && !r.Game.Finished() {
		outcome := "restarted"
		if cancelled {
			outcome = "cancelled"
		}
		telemetry.GamesFinished.WithLabelValues(outcome).Inc()
	}

	r.ResetGame()
	r.Touch(e.clock.Now())

	slog.InfoContext(ctx, "game: reset", "room", r.Code, "cancelled", cancelled)

	if e.eb != nil {
		e.eb.Publish(ctx, domain.EventGameReset{RoomCode: r.Code, Cancelled: cancelled})
	}
}

type LeaveRequest struct {
	RoomCode string
	PlayerID string
	// IfDisconnected makes the leave a no-op when the player has reconnected.
	IfDisconnected bool
}

type LeaveResponse struct {
	// Skipped is set when IfDisconnected was requested and the player is connected.
	Skipped bool
	Player  domain.PlayerView
	Room    domain.RoomView
	Empty   bool
	// Cancelled is set when the game was reset because too few players remained.
	Cancelled bool
	// Answers is set when the departure completed the submissions and started the discussion.
	Answers map[string]domain.PlayerAnswers
}

// Leave removes a player from a room and applies the game rules that depend on the remaining players.
func (e *Engine) Leave(ctx context.Context, req LeaveRequest) (*LeaveResponse, error) {
	r, err := e.rooms.Acquire(req.RoomCode)
	if err != nil {
		return nil, err
	}
	defer r.Unlock()

	if req.IfDisconnected {
		p, ok := r.Player(req.PlayerID)
		if !ok {
			return nil, domain.ErrPlayerNotFound(r.Code, req.PlayerID)
		}
		if p.ConnectionID != "" {
			return &LeaveResponse{Skipped: true, Player: p.View(), Room: r.View()}, nil
		}
	}

	wasTurn := r.TurnPlayer == req.PlayerID

	p, err := e.rooms.Remove(ctx, r, req.PlayerID)
	if err != nil {
		return nil, err
	}

	resp := &LeaveResponse{
		Player: p.View(),
		Empty:  r.IsEmpty(),
	}

	if r.State == domain.StateDiscussion {
		r.Ledger.RecomputeAll(r.PlayerCount())
	}

	switch {
	case r.State != domain.StateLobby && r.PlayerCount() < defaultMinPlayers:
		e.reset(ctx, r, true)
		resp.Cancelled = true

	case (r.State == domain.StatePlaying || r.State == domain.StateCountdown) && r.AllSubmitted():
		e.startDiscussion(ctx, r)
		resp.Answers = r.DiscussionAnswers()

	case r.State == domain.StateSelectingLetter && wasTurn:
		r.SetTurn(r.NextTurnPlayer())
	}

	resp.Room = r.View()
	return resp, nil
}

// Room returns the current view of a room.
func (e *Engine) Room(ctx context.Context, code string) (*domain.RoomView, error) {
	r, err := e.rooms.Acquire(code)
	if err != nil {
		return nil, err
	}
	defer r.Unlock()

	v := r.View()
	return &v, nil
}
