package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/victornm/stopgame/internal/clock"
	"github.com/victornm/stopgame/internal/countdown"
	"github.com/victornm/stopgame/internal/domain"
	"github.com/victornm/stopgame/internal/errors"
	"github.com/victornm/stopgame/internal/event"
	"github.com/victornm/stopgame/internal/game"
	"github.com/victornm/stopgame/internal/history"
	"github.com/victornm/stopgame/internal/leaderboard"
	"github.com/victornm/stopgame/internal/room"
	"github.com/victornm/stopgame/internal/telemetry"
)

const defaultReconnectGrace = 30 * time.Second

type Config struct {
	EventBus  *event.Bus
	Clock     clock.Clock
	Rooms     *room.Registry
	Engine    *game.Engine
	Countdown *countdown.Coordinator

	// Leaderboard and History are optional.
	Leaderboard *leaderboard.Service
	History     *history.Service

	Redis        Redis
	PubsubPrefix string

	ReconnectGrace time.Duration
	AllowedOrigins []string
	Info           Info
}

// Info describes the rules the server was started with.
type Info struct {
	Name             string   `json:"name"`
	Categories       []string `json:"categories"`
	MinPlayers       int      `json:"minPlayers"`
	MaxPlayers       int      `json:"maxPlayers"`
	MaxRounds        int      `json:"maxRounds"`
	CountdownSeconds int      `json:"countdownSeconds"`
}

// Router turns inbound connection messages into game operations and their outcomes into notifications.
type Router struct {
	rooms       *room.Registry
	engine      *game.Engine
	countdown   *countdown.Coordinator
	leaderboard *leaderboard.Service
	history     *history.Service
	clock       clock.Clock
	hub         *Hub

	grace          time.Duration
	allowedOrigins []string
	info           Info

	graceMu sync.Mutex
	pending map[string]*pendingLeave
}

type pendingLeave struct {
	timer clock.Timer
}

func New(c Config) *Router {
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.ReconnectGrace <= 0 {
		c.ReconnectGrace = defaultReconnectGrace
	}

	a := &Router{
		rooms:          c.Rooms,
		engine:         c.Engine,
		countdown:      c.Countdown,
		leaderboard:    c.Leaderboard,
		history:        c.History,
		clock:          c.Clock,
		hub:            NewHub(c.Redis, c.PubsubPrefix),
		grace:          c.ReconnectGrace,
		allowedOrigins: c.AllowedOrigins,
		info:           c.Info,
		pending:        make(map[string]*pendingLeave),
	}

	c.Countdown.SetListener(a)

	// Register event handlers
	c.EventBus.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
		return a.PublishLeaderboardUpdated(ctx, e.(domain.EventLeaderboardUpdated))
	})

	c.EventBus.Subscribe(domain.EventNameRoomDeleted, func(ctx context.Context, e event.Event) error {
		a.hub.DropRoom(e.(domain.EventRoomDeleted).RoomCode)
		return nil
	})

	return a
}

func (a *Router) Hub() *Hub {
	return a.hub
}

// Handle processes one raw inbound message of a connection. Failures are replied to the sender only.
func (a *Router) Handle(ctx context.Context, connID string, raw []byte) {
	typ, v, err := Decode(raw)
	if err != nil {
		telemetry.Messages.WithLabelValues("invalid", "error").Inc()
		a.replyError(ctx, connID, err)
		return
	}

	if err := a.dispatch(ctx, connID, typ, v); err != nil {
		telemetry.Messages.WithLabelValues(typ, "error").Inc()

		if e := errors.Convert(err); e.Code == errors.CodeInternal {
			slog.ErrorContext(ctx, "api: handle message failed", "type", typ, "conn", connID, "error", err)
		}
		a.replyError(ctx, connID, err)
		return
	}

	telemetry.Messages.WithLabelValues(typ, "ok").Inc()
}

func (a *Router) dispatch(ctx context.Context, connID, typ string, v any) error {
	switch typ {
	case TypeCreateRoom:
		return a.createRoom(ctx, connID, v.(*CreateRoom))
	case TypeJoinRoom:
		return a.joinRoom(ctx, connID, v.(*JoinRoom))
	case TypeReconnect:
		return a.reconnect(ctx, connID, v.(*Reconnect))
	}

	_, loc, err := a.rooms.RoomByConnectionID(connID)
	if err != nil {
		return err
	}

	switch typ {
	case TypeLeaveRoom:
		a.hub.Unbind(connID)
		return a.leave(ctx, loc.RoomCode, loc.PlayerID, false)
	case TypeStartGame:
		return a.startGame(ctx, loc)
	case TypeSelectLetter:
		return a.selectLetter(ctx, loc, v.(*SelectLetter))
	case TypeUpdateCurrentAnswer:
		m := v.(*UpdateCurrentAnswer)
		return a.engine.UpdateDraft(ctx, game.UpdateDraftRequest{
			RoomCode: loc.RoomCode,
			PlayerID: loc.PlayerID,
			Category: m.Category,
			Value:    m.Value,
		})
	case TypeStopPressed:
		return a.pressStop(ctx, loc)
	case TypeSubmitAnswers:
		return a.submitAnswers(ctx, loc, v.(*SubmitAnswers))
	case TypeVoteAnswer:
		return a.vote(ctx, loc, v.(*VoteAnswer))
	case TypeCalculateResults:
		return a.calculateResults(ctx, loc)
	case TypeNextRound:
		return a.nextRound(ctx, loc)
	case TypeRestartGame:
		return a.restartGame(ctx, loc)
	}

	return invalidRequest("unknown message type: %s", typ)
}

func (a *Router) createRoom(ctx context.Context, connID string, m *CreateRoom) error {
	a.leaveCurrent(ctx, connID)

	resp, err := a.rooms.CreateRoom(ctx, room.CreateRoomRequest{
		ConnectionID: connID,
		PlayerName:   m.PlayerName,
	})
	if err != nil {
		return err
	}

	a.hub.Bind(connID, resp.Room.Code, resp.Player.ID)

	return a.reply(ctx, connID, EventRoomCreated, Joined{
		RoomCode: resp.Room.Code,
		PlayerID: resp.Player.ID,
		Player:   resp.Player,
		Room:     resp.Room,
	})
}

func (a *Router) joinRoom(ctx context.Context, connID string, m *JoinRoom) error {
	a.leaveCurrent(ctx, connID)

	resp, err := a.rooms.JoinRoom(ctx, room.JoinRoomRequest{
		RoomCode:     m.RoomCode,
		ConnectionID: connID,
		PlayerName:   m.PlayerName,
	})
	if err != nil {
		return err
	}

	a.hub.Bind(connID, resp.Room.Code, resp.Player.ID)

	if err := a.reply(ctx, connID, EventRoomJoined, Joined{
		RoomCode: resp.Room.Code,
		PlayerID: resp.Player.ID,
		Player:   resp.Player,
		Room:     resp.Room,
	}); err != nil {
		return err
	}

	a.broadcast(ctx, resp.Room.Code, EventPlayerJoined, PlayerJoined{
		Player: resp.Player,
		Room:   resp.Room,
	}, connID)

	return nil
}

func (a *Router) reconnect(ctx context.Context, connID string, m *Reconnect) error {
	if _, loc, err := a.rooms.RoomByConnectionID(connID); err == nil && loc.PlayerID != m.PlayerID {
		a.leaveCurrent(ctx, connID)
	}

	resp, err := a.rooms.Reconnect(ctx, room.ReconnectRequest{
		RoomCode:     m.RoomCode,
		PlayerID:     m.PlayerID,
		ConnectionID: connID,
	})
	if err != nil {
		return err
	}

	a.cancelLeave(resp.Player.ID)
	a.hub.Bind(connID, resp.Room.Code, resp.Player.ID)

	if err := a.reply(ctx, connID, EventReconnected, Joined{
		RoomCode: resp.Room.Code,
		PlayerID: resp.Player.ID,
		Player:   resp.Player,
		Room:     resp.Room,
	}); err != nil {
		return err
	}

	a.broadcast(ctx, resp.Room.Code, EventRoomUpdated, RoomUpdated{Room: resp.Room}, connID)

	return nil
}

// leaveCurrent removes the player bound to a connection from its room, if any.
func (a *Router) leaveCurrent(ctx context.Context, connID string) {
	_, loc, err := a.rooms.RoomByConnectionID(connID)
	if err != nil {
		return
	}

	a.hub.Unbind(connID)
	if err := a.leave(ctx, loc.RoomCode, loc.PlayerID, false); err != nil {
		slog.WarnContext(ctx, "api: leave previous room failed", "room", loc.RoomCode, "player", loc.PlayerID, "error", err)
	}
}

func (a *Router) leave(ctx context.Context, roomCode, playerID string, ifDisconnected bool) error {
	resp, err := a.engine.Leave(ctx, game.LeaveRequest{
		RoomCode:       roomCode,
		PlayerID:       playerID,
		IfDisconnected: ifDisconnected,
	})
	if err != nil {
		return err
	}

	if resp.Skipped {
		return nil
	}

	a.cancelLeave(playerID)
	a.hub.UnbindPlayer(playerID)

	if resp.Empty {
		return nil
	}

	a.broadcast(ctx, roomCode, EventPlayerLeft, PlayerLeft{
		PlayerID:   resp.Player.ID,
		PlayerName: resp.Player.Name,
		Room:       resp.Room,
	})

	if resp.Cancelled {
		a.broadcast(ctx, roomCode, EventGameCancelled, GameCancelled{
			Reason: domain.ReasonNotEnoughPlayers,
			Room:   resp.Room,
		})
	}

	if resp.Answers != nil {
		a.broadcast(ctx, roomCode, EventStartDiscussion, StartDiscussion{
			Answers: resp.Answers,
			Room:    resp.Room,
		})
	}

	return nil
}

// Disconnected unbinds a closed connection. Its player is removed unless they reconnect within the grace period.
func (a *Router) Disconnected(ctx context.Context, connID string) {
	resp, ok := a.rooms.Disconnect(ctx, connID)
	a.hub.Disconnect(connID)

	if !ok {
		return
	}

	a.broadcast(ctx, resp.RoomCode, EventRoomUpdated, RoomUpdated{Room: resp.Room})
	a.scheduleLeave(resp.RoomCode, resp.PlayerID)
}

func (a *Router) scheduleLeave(roomCode, playerID string) {
	a.graceMu.Lock()
	defer a.graceMu.Unlock()

	if p, ok := a.pending[playerID]; ok {
		p.timer.Stop()
	}

	p := &pendingLeave{}
	p.timer = a.clock.AfterFunc(a.grace, func() {
		a.graceMu.Lock()
		if a.pending[playerID] != p {
			a.graceMu.Unlock()
			return
		}
		delete(a.pending, playerID)
		a.graceMu.Unlock()

		ctx := context.Background()
		err := a.leave(ctx, roomCode, playerID, true)
		if err != nil && errors.Convert(err).Code != errors.CodeNotFound {
			slog.ErrorContext(ctx, "api: remove disconnected player failed", "room", roomCode, "player", playerID, "error", err)
		}
	})
	a.pending[playerID] = p
}

func (a *Router) cancelLeave(playerID string) {
	a.graceMu.Lock()
	defer a.graceMu.Unlock()

	if p, ok := a.pending[playerID]; ok {
		p.timer.Stop()
		delete(a.pending, playerID)
	}
}

func (a *Router) startGame(ctx context.Context, loc room.Location) error {
	resp, err := a.engine.StartGame(ctx, game.StartGameRequest{
		RoomCode: loc.RoomCode,
		PlayerID: loc.PlayerID,
	})
	if err != nil {
		return err
	}

	a.broadcast(ctx, loc.RoomCode, EventGameStarted, GameStarted{
		TotalRounds:       resp.TotalRounds,
		CurrentTurnPlayer: resp.TurnPlayer,
		Room:              resp.Room,
	})

	return nil
}

func (a *Router) selectLetter(ctx context.Context, loc room.Location, m *SelectLetter) error {
	resp, err := a.engine.SelectLetter(ctx, game.SelectLetterRequest{
		RoomCode: loc.RoomCode,
		PlayerID: loc.PlayerID,
		Letter:   m.Letter,
	})
	if err != nil {
		return err
	}

	a.broadcast(ctx, loc.RoomCode, EventLetterSelected, LetterSelected{
		Letter: resp.Letter,
		Room:   resp.Room,
	})

	return nil
}

func (a *Router) pressStop(ctx context.Context, loc room.Location) error {
	resp, err := a.countdown.PressStop(ctx, countdown.PressStopRequest{
		RoomCode: loc.RoomCode,
		PlayerID: loc.PlayerID,
	})
	if err != nil {
		return err
	}

	a.broadcast(ctx, loc.RoomCode, EventCountdownStarted, CountdownStarted{
		TriggeredBy: resp.TriggeredBy,
		PlayerName:  resp.PlayerName,
		Seconds:     resp.Seconds,
		Room:        resp.Room,
	})

	return nil
}

func (a *Router) submitAnswers(ctx context.Context, loc room.Location, m *SubmitAnswers) error {
	resp, err := a.engine.SubmitAnswers(ctx, game.SubmitAnswersRequest{
		RoomCode: loc.RoomCode,
		PlayerID: loc.PlayerID,
		Answers:  m.Answers,
	})
	if err != nil {
		return err
	}

	a.broadcast(ctx, loc.RoomCode, EventPlayerSubmitted, PlayerSubmitted{
		PlayerID:   resp.PlayerID,
		PlayerName: resp.PlayerName,
		Room:       &resp.Room,
	})

	if resp.Answers != nil {
		a.broadcast(ctx, loc.RoomCode, EventStartDiscussion, StartDiscussion{
			Answers: resp.Answers,
			Room:    resp.Room,
		})
	}

	return nil
}

func (a *Router) vote(ctx context.Context, loc room.Location, m *VoteAnswer) error {
	v := domain.VoteNone
	if m.Vote != nil {
		var err error
		if v, err = domain.ParseVote(*m.Vote); err != nil {
			return err
		}
	}

	resp, err := a.engine.Vote(ctx, game.VoteRequest{
		RoomCode: loc.RoomCode,
		VoterID:  loc.PlayerID,
		TargetID: m.PlayerID,
		Category: m.Category,
		Vote:     v,
	})
	if err != nil {
		return err
	}

	var vote *string
	if v != domain.VoteNone {
		s := string(v)
		vote = &s
	}

	a.broadcast(ctx, loc.RoomCode, EventAnswerVoted, AnswerVoted{
		PlayerID:         m.PlayerID,
		Category:         m.Category,
		VoterID:          loc.PlayerID,
		Vote:             vote,
		Stats:            resp.Stats,
		InvalidatedCount: resp.InvalidatedCount,
		Room:             resp.Room,
	})

	return nil
}

func (a *Router) calculateResults(ctx context.Context, loc room.Location) error {
	resp, err := a.engine.CalculateResults(ctx, game.CalculateResultsRequest{
		RoomCode: loc.RoomCode,
		PlayerID: loc.PlayerID,
	})
	if err != nil {
		return err
	}

	a.broadcast(ctx, loc.RoomCode, EventRoundResults, RoundResults{
		Round:   resp.Round,
		Letter:  resp.Letter,
		Results: resp.Results,
		Room:    resp.Room,
	})

	return nil
}

func (a *Router) nextRound(ctx context.Context, loc room.Location) error {
	resp, err := a.engine.NextRound(ctx, game.NextRoundRequest{
		RoomCode: loc.RoomCode,
		PlayerID: loc.PlayerID,
	})
	if err != nil {
		return err
	}

	if resp.Finished {
		a.broadcast(ctx, loc.RoomCode, EventGameFinished, GameFinished{
			Standings: resp.Standings,
			Duration:  int64(resp.Duration / time.Second),
			Room:      resp.Room,
		})
		return nil
	}

	a.broadcast(ctx, loc.RoomCode, EventNewRound, NewRound{
		Round:             resp.Round,
		CurrentTurnPlayer: resp.TurnPlayer,
		Room:              resp.Room,
	})

	return nil
}

func (a *Router) restartGame(ctx context.Context, loc room.Location) error {
	resp, err := a.engine.RestartGame(ctx, game.RestartGameRequest{
		RoomCode: loc.RoomCode,
		PlayerID: loc.PlayerID,
	})
	if err != nil {
		return err
	}

	a.broadcast(ctx, loc.RoomCode, EventGameRestarted, RoomUpdated{Room: resp.Room})

	return nil
}

// CountdownTicked implements countdown.Listener.
func (a *Router) CountdownTicked(ctx context.Context, roomCode string, remaining int) {
	a.broadcast(ctx, roomCode, EventCountdownTick, CountdownTick{Remaining: remaining})
}

// CountdownExpired implements countdown.Listener.
func (a *Router) CountdownExpired(ctx context.Context, e countdown.Expiry) {
	a.broadcast(ctx, e.RoomCode, EventInputsLocked, RoomUpdated{Room: e.Room})

	for _, s := range e.AutoSubmitted {
		a.broadcast(ctx, e.RoomCode, EventPlayerSubmitted, PlayerSubmitted{
			PlayerID:      s.PlayerID,
			PlayerName:    s.PlayerName,
			AutoSubmitted: true,
		})
	}
}

// DiscussionReady implements countdown.Listener.
func (a *Router) DiscussionReady(ctx context.Context, d countdown.Discussion) {
	a.broadcast(ctx, d.RoomCode, EventStartDiscussion, StartDiscussion{
		Answers: d.Answers,
		Room:    d.Room,
	})
}

func (a *Router) reply(ctx context.Context, connID, ev string, data any) error {
	return a.hub.Reply(ctx, connID, Notification{Event: ev, Data: data})
}

func (a *Router) replyError(ctx context.Context, connID string, err error) {
	if err := a.reply(ctx, connID, EventError, errorData(err)); err != nil {
		slog.ErrorContext(ctx, "api: reply error failed", "conn", connID, "error", err)
	}
}

func (a *Router) broadcast(ctx context.Context, roomCode, ev string, data any, except ...string) {
	err := a.hub.Broadcast(ctx, roomCode, Notification{Event: ev, Data: data}, except...)
	if err != nil {
		slog.ErrorContext(ctx, "api: broadcast failed", "room", roomCode, "event", ev, "error", err)
	}
}
