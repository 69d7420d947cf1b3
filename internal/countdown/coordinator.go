// Package countdown runs the race that follows the first stop press: a ticking countdown per room
// that auto-submits the remaining drafts when it reaches zero.
package countdown

import (
	"context"
	"log/slog"
	"time"

	"github.com/victornm/stopgame/internal/clock"
	"github.com/victornm/stopgame/internal/domain"
	"github.com/victornm/stopgame/internal/errors"
	"github.com/victornm/stopgame/internal/game"
	"github.com/victornm/stopgame/internal/room"
	"github.com/victornm/stopgame/internal/telemetry"
)

const (
	defaultSeconds         = 10
	defaultDiscussionDelay = 500 * time.Millisecond
	tickInterval           = time.Second
)

// Listener is notified of countdown progress. Methods are called without any room lock held,
// in order for a given room.
type Listener interface {
	CountdownTicked(ctx context.Context, roomCode string, remaining int)
	CountdownExpired(ctx context.Context, e Expiry)
	DiscussionReady(ctx context.Context, d Discussion)
}

// Expiry reports the end of a countdown and the players whose drafts were submitted for them.
type Expiry struct {
	RoomCode      string
	AutoSubmitted []domain.AutoSubmission
	Room          domain.RoomView
}

// Discussion carries every answer of the round once the discussion can be displayed.
type Discussion struct {
	RoomCode string
	Answers  map[string]domain.PlayerAnswers
	Room     domain.RoomView
}

type Config struct {
	Rooms           *room.Registry
	Engine          *game.Engine
	Clock           clock.Clock
	Seconds         int
	DiscussionDelay time.Duration
	Listener        Listener
}

type Coordinator struct {
	rooms    *room.Registry
	engine   *game.Engine
	clock    clock.Clock
	seconds  int
	delay    time.Duration
	listener Listener
}

func NewCoordinator(c Config) *Coordinator {
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.Seconds <= 0 {
		c.Seconds = defaultSeconds
	}
	if c.DiscussionDelay <= 0 {
		c.DiscussionDelay = defaultDiscussionDelay
	}
	if c.Listener == nil {
		c.Listener = nopListener{}
	}

	return &Coordinator{
		rooms:    c.Rooms,
		engine:   c.Engine,
		clock:    c.Clock,
		seconds:  c.Seconds,
		delay:    c.DiscussionDelay,
		listener: c.Listener,
	}
}

// SetListener replaces the listener. It must be called before the first PressStop.
func (c *Coordinator) SetListener(l Listener) {
	c.listener = l
}

type PressStopRequest struct {
	RoomCode string
	PlayerID string
}

type PressStopResponse struct {
	TriggeredBy string
	PlayerName  string
	Seconds     int
	Room        domain.RoomView
}

// PressStop starts the countdown of a room. Only one countdown runs per room: pressing stop while one
// is running fails instead of restarting it.
func (c *Coordinator) PressStop(ctx context.Context, req PressStopRequest) (*PressStopResponse, error) {
	r, err := c.rooms.Acquire(req.RoomCode)
	if err != nil {
		return nil, err
	}
	defer r.Unlock()

	if r.CountdownActive() {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithReason(domain.ReasonCountdownActive),
			errors.WithMessagef("countdown already started by %s", r.CountdownTriggeredBy()))
	}

	if r.State != domain.StatePlaying {
		return nil, domain.ErrWrongState("press stop", r.State)
	}

	p, ok := r.Player(req.PlayerID)
	if !ok {
		return nil, domain.ErrPlayerNotFound(r.Code, req.PlayerID)
	}

	if !p.HasAnyDraft() {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithReason(domain.ReasonNoAnswer),
			errors.WithMessagef("at least one answer is needed to press stop"))
	}

	p.PressedStop = true
	r.State = domain.StateCountdown
	r.Touch(c.clock.Now())

	gen := r.BeginCountdown(p.ID, c.seconds)
	c.schedule(r, gen)

	slog.InfoContext(ctx, "countdown: started", "room", r.Code, "player", p.ID, "seconds", c.seconds)

	return &PressStopResponse{
		TriggeredBy: p.ID,
		PlayerName:  p.Name,
		Seconds:     c.seconds,
		Room:        r.View(),
	}, nil
}

// Stop cancels the countdown of a room, if any. Pending ticks are dropped.
func (c *Coordinator) Stop(ctx context.Context, roomCode string) {
	r, err := c.rooms.Acquire(roomCode)
	if err != nil {
		return
	}
	defer r.Unlock()

	if r.CountdownActive() {
		telemetry.Countdowns.WithLabelValues("cancelled").Inc()
		slog.InfoContext(ctx, "countdown: stopped", "room", roomCode)
	}
	r.StopCountdown()
}

func (c *Coordinator) schedule(r *domain.Room, gen uint64) {
	code := r.Code
	t := c.clock.AfterFunc(tickInterval, func() {
		c.tick(code, gen)
	})
	r.SetCountdownTimer(gen, t)
}

func (c *Coordinator) tick(code string, gen uint64) {
	ctx := context.Background()

	r, err := c.rooms.Acquire(code)
	if err != nil {
		return
	}

	remaining, ok := r.TickCountdown(gen)
	if !ok {
		r.Unlock()
		return
	}

	if remaining > 0 {
		c.schedule(r, gen)
		r.Unlock()

		c.listener.CountdownTicked(ctx, code, remaining)
		return
	}

	r.StopCountdown()
	autos := c.engine.ExpireRace(ctx, r)
	view := r.View()
	round := r.Round
	r.Unlock()

	telemetry.Countdowns.WithLabelValues("expired").Inc()
	slog.InfoContext(ctx, "countdown: expired", "room", code, "auto_submitted", len(autos))

	c.listener.CountdownTicked(ctx, code, 0)
	c.listener.CountdownExpired(ctx, Expiry{
		RoomCode:      code,
		AutoSubmitted: autos,
		Room:          view,
	})

	c.clock.AfterFunc(c.delay, func() {
		c.announceDiscussion(code, round)
	})
}

func (c *Coordinator) announceDiscussion(code string, round int) {
	ctx := context.Background()

	r, err := c.rooms.Acquire(code)
	if err != nil {
		return
	}

	if r.State != domain.StateDiscussion || r.Round != round {
		r.Unlock()
		return
	}

	d := Discussion{
		RoomCode: code,
		Answers:  r.DiscussionAnswers(),
		Room:     r.View(),
	}
	r.Unlock()

	c.listener.DiscussionReady(ctx, d)
}

type nopListener struct{}

func (nopListener) CountdownTicked(context.Context, string, int) {}
func (nopListener) CountdownExpired(context.Context, Expiry)     {}
func (nopListener) DiscussionReady(context.Context, Discussion)  {}
