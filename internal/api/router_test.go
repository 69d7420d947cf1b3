package api_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/stopgame/internal/api"
	"github.com/victornm/stopgame/internal/clock"
	"github.com/victornm/stopgame/internal/countdown"
	"github.com/victornm/stopgame/internal/domain"
	"github.com/victornm/stopgame/internal/event"
	"github.com/victornm/stopgame/internal/game"
	"github.com/victornm/stopgame/internal/room"
)

var categories = []string{"animal", "fruta"}

func TestRouter_CreateAndJoin(t *testing.T) {
	f := makeRouter(t)
	host, guest := f.connect("c1"), f.connect("c2")

	f.send(t, "c1", api.TypeCreateRoom, api.CreateRoom{PlayerName: "Ana"})
	created := decode[api.Joined](t, expect(t, host, api.EventRoomCreated))
	require.Len(t, created.RoomCode, domain.RoomCodeLength)
	assert.Equal(t, created.PlayerID, created.Room.Host)

	f.send(t, "c2", api.TypeJoinRoom, api.JoinRoom{RoomCode: created.RoomCode, PlayerName: "Bob"})
	joined := decode[api.Joined](t, expect(t, guest, api.EventRoomJoined))
	assert.Equal(t, created.RoomCode, joined.RoomCode)
	assert.Equal(t, 2, joined.Room.PlayerCount)

	pj := decode[api.PlayerJoined](t, expect(t, host, api.EventPlayerJoined))
	assert.Equal(t, "Bob", pj.Player.Name)
	expectNone(t, guest)
}

func TestRouter_Errors(t *testing.T) {
	tests := map[string]struct {
		arrange func(t *testing.T, f *fixture, l lobby)
		assert  func(t *testing.T, f *fixture, l lobby)
	}{
		"should reply invalid_request to a malformed message": {
			arrange: func(t *testing.T, f *fixture, l lobby) {
				f.router.Handle(context.Background(), "c2", []byte(`{"type":`))
			},
			assert: func(t *testing.T, f *fixture, l lobby) {
				e := decode[api.ErrorData](t, expect(t, l.guest, api.EventError))
				assert.Equal(t, domain.ReasonInvalidRequest, e.Reason)
				assert.Equal(t, "InvalidArgument", e.Code)
				expectNone(t, l.host)
			},
		},
		"should reply player_not_found to a connection outside any room": {
			arrange: func(t *testing.T, f *fixture, l lobby) {
				f.connect("c3")
				f.send(t, "c3", api.TypeStartGame, nil)
			},
			assert: func(t *testing.T, f *fixture, l lobby) {
				e := decode[api.ErrorData](t, expect(t, f.clients["c3"], api.EventError))
				assert.Equal(t, domain.ReasonPlayerNotFound, e.Reason)
			},
		},
		"should reply not_host only to the guest trying to start": {
			arrange: func(t *testing.T, f *fixture, l lobby) {
				f.send(t, "c2", api.TypeStartGame, nil)
			},
			assert: func(t *testing.T, f *fixture, l lobby) {
				e := decode[api.ErrorData](t, expect(t, l.guest, api.EventError))
				assert.Equal(t, domain.ReasonNotHost, e.Reason)
				assert.Equal(t, "PermissionDenied", e.Code)
				expectNone(t, l.host)
			},
		},
		"should reply room_not_found when joining an unknown room": {
			arrange: func(t *testing.T, f *fixture, l lobby) {
				f.connect("c3")
				f.send(t, "c3", api.TypeJoinRoom, api.JoinRoom{RoomCode: "ZZZZZZ", PlayerName: "Cid"})
			},
			assert: func(t *testing.T, f *fixture, l lobby) {
				e := decode[api.ErrorData](t, expect(t, f.clients["c3"], api.EventError))
				assert.Equal(t, domain.ReasonRoomNotFound, e.Reason)
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			f := makeRouter(t)
			l := f.lobby(t)

			tt.arrange(t, f, l)
			tt.assert(t, f, l)
		})
	}
}

func TestRouter_PlayRound(t *testing.T) {
	f := makeRouter(t)
	l := f.lobby(t)

	f.send(t, "c1", api.TypeStartGame, nil)
	started := decode[api.GameStarted](t, expect(t, l.host, api.EventGameStarted))
	expect(t, l.guest, api.EventGameStarted)
	assert.Equal(t, l.hostID, started.CurrentTurnPlayer)
	assert.Equal(t, 5, started.TotalRounds)

	f.send(t, "c1", api.TypeSelectLetter, api.SelectLetter{Letter: "g"})
	ls := decode[api.LetterSelected](t, expect(t, l.host, api.EventLetterSelected))
	expect(t, l.guest, api.EventLetterSelected)
	assert.Equal(t, "G", ls.Letter)

	f.send(t, "c1", api.TypeSubmitAnswers, api.SubmitAnswers{Answers: map[string]string{"animal": "gato", "fruta": "granada"}})
	ps := decode[api.PlayerSubmitted](t, expect(t, l.guest, api.EventPlayerSubmitted))
	expect(t, l.host, api.EventPlayerSubmitted)
	assert.Equal(t, l.hostID, ps.PlayerID)
	assert.False(t, ps.AutoSubmitted)

	f.send(t, "c2", api.TypeSubmitAnswers, api.SubmitAnswers{Answers: map[string]string{"animal": "Gato", "fruta": ""}})
	expect(t, l.host, api.EventPlayerSubmitted)
	expect(t, l.guest, api.EventPlayerSubmitted)
	sd := decode[api.StartDiscussion](t, expect(t, l.host, api.EventStartDiscussion))
	expect(t, l.guest, api.EventStartDiscussion)
	assert.Equal(t, "granada", sd.Answers[l.hostID].Answers["fruta"])
	assert.Equal(t, domain.StateDiscussion, sd.Room.GameState)

	f.send(t, "c2", api.TypeVoteAnswer, api.VoteAnswer{PlayerID: l.hostID, Category: "fruta", Vote: ptr("reject")})
	av := decode[api.AnswerVoted](t, expect(t, l.host, api.EventAnswerVoted))
	expect(t, l.guest, api.EventAnswerVoted)
	assert.Equal(t, l.guestID, av.VoterID)
	assert.Equal(t, 1, av.Stats.Rejected)
	assert.True(t, av.Stats.IsInvalidated, "1 reject out of 2 players reaches the majority")

	f.send(t, "c1", api.TypeCalculateResults, nil)
	rr := decode[api.RoundResults](t, expect(t, l.host, api.EventRoundResults))
	expect(t, l.guest, api.EventRoundResults)
	require.Len(t, rr.Results, 2)
	for _, res := range rr.Results {
		assert.Equal(t, 50, res.RoundScore, "player %s", res.PlayerName)
	}

	f.send(t, "c1", api.TypeNextRound, nil)
	nr := decode[api.NewRound](t, expect(t, l.host, api.EventNewRound))
	expect(t, l.guest, api.EventNewRound)
	assert.Equal(t, 2, nr.Round)
	assert.Equal(t, l.guestID, nr.CurrentTurnPlayer)
}

func TestRouter_Countdown(t *testing.T) {
	f := makeRouter(t)
	l := f.lobby(t)
	f.playing(t, l)

	f.send(t, "c1", api.TypeUpdateCurrentAnswer, api.UpdateCurrentAnswer{Category: "animal", Value: "gato"})
	expectNone(t, l.host)

	f.send(t, "c1", api.TypeStopPressed, nil)
	cs := decode[api.CountdownStarted](t, expect(t, l.guest, api.EventCountdownStarted))
	expect(t, l.host, api.EventCountdownStarted)
	assert.Equal(t, l.hostID, cs.TriggeredBy)
	assert.Equal(t, 10, cs.Seconds)

	f.send(t, "c2", api.TypeStopPressed, nil)
	e := decode[api.ErrorData](t, expect(t, l.guest, api.EventError))
	assert.Equal(t, domain.ReasonCountdownActive, e.Reason)

	f.clock.Advance(10 * time.Second)
	for want := 9; want >= 0; want-- {
		tick := decode[api.CountdownTick](t, expect(t, l.guest, api.EventCountdownTick))
		assert.Equal(t, want, tick.Remaining)
	}
	expect(t, l.guest, api.EventInputsLocked)

	var auto []string
	for range 2 {
		ps := decode[api.PlayerSubmitted](t, expect(t, l.guest, api.EventPlayerSubmitted))
		assert.True(t, ps.AutoSubmitted)
		auto = append(auto, ps.PlayerID)
	}
	assert.ElementsMatch(t, []string{l.hostID, l.guestID}, auto)
	expectNone(t, l.guest)

	f.clock.Advance(500 * time.Millisecond)
	sd := decode[api.StartDiscussion](t, expect(t, l.guest, api.EventStartDiscussion))
	assert.Equal(t, "gato", sd.Answers[l.hostID].Answers["animal"])
	assert.Equal(t, "", sd.Answers[l.guestID].Answers["animal"])
}

func TestRouter_Disconnect(t *testing.T) {
	tests := map[string]struct {
		arrange func(t *testing.T, f *fixture, l lobby)
		assert  func(t *testing.T, f *fixture, l lobby)
	}{
		"should remove the player once the grace period is over": {
			arrange: func(t *testing.T, f *fixture, l lobby) {},
			assert: func(t *testing.T, f *fixture, l lobby) {
				left := decode[api.PlayerLeft](t, expect(t, l.host, api.EventPlayerLeft))
				assert.Equal(t, l.guestID, left.PlayerID)
				assert.Equal(t, 1, left.Room.PlayerCount)
				assert.Equal(t, 1, f.rooms.Stats().TotalPlayers)
			},
		},
		"should keep a player who reconnects within the grace period": {
			arrange: func(t *testing.T, f *fixture, l lobby) {
				c3 := f.connect("c3")
				f.send(t, "c3", api.TypeReconnect, api.Reconnect{RoomCode: l.code, PlayerID: l.guestID})

				re := decode[api.Joined](t, expect(t, c3, api.EventReconnected))
				assert.Equal(t, l.guestID, re.PlayerID)

				ru := decode[api.RoomUpdated](t, expect(t, l.host, api.EventRoomUpdated))
				p, ok := ru.Room.Player(l.guestID)
				require.True(t, ok)
				assert.True(t, p.Connected)
			},
			assert: func(t *testing.T, f *fixture, l lobby) {
				expectNone(t, l.host)
				assert.Equal(t, 2, f.rooms.Stats().TotalPlayers)
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			f := makeRouter(t)
			l := f.lobby(t)

			f.router.Disconnected(context.Background(), "c2")
			ru := decode[api.RoomUpdated](t, expect(t, l.host, api.EventRoomUpdated))
			p, ok := ru.Room.Player(l.guestID)
			require.True(t, ok)
			assert.False(t, p.Connected)

			tt.arrange(t, f, l)
			f.clock.Advance(30 * time.Second)
			tt.assert(t, f, l)
		})
	}
}

func TestRouter_ReconnectFromBoundConnection(t *testing.T) {
	ctx := context.Background()
	f := makeRouter(t)
	l := f.lobby(t)

	other := f.connect("c3")
	f.send(t, "c3", api.TypeCreateRoom, api.CreateRoom{PlayerName: "Cid"})
	cid := decode[api.Joined](t, expect(t, other, api.EventRoomCreated))
	f.router.Disconnected(ctx, "c3")

	f.send(t, "c2", api.TypeReconnect, api.Reconnect{RoomCode: cid.RoomCode, PlayerID: cid.PlayerID})

	left := decode[api.PlayerLeft](t, expect(t, l.host, api.EventPlayerLeft))
	assert.Equal(t, l.guestID, left.PlayerID, "the player previously on the connection leaves its room")

	re := decode[api.Joined](t, expect(t, l.guest, api.EventReconnected))
	assert.Equal(t, cid.PlayerID, re.PlayerID)
	assert.Equal(t, 2, f.rooms.Stats().TotalPlayers)

	f.router.Disconnected(ctx, "c2")
	f.clock.Advance(30 * time.Second)

	assert.Equal(t, 1, f.rooms.Stats().TotalPlayers)
	_, err := f.rooms.RoomByPlayerID(l.hostID)
	require.NoError(t, err)
	expectNone(t, l.host)
}

func TestRouter_LeaveCancelsGame(t *testing.T) {
	f := makeRouter(t)
	l := f.lobby(t)
	f.playing(t, l)

	f.send(t, "c2", api.TypeLeaveRoom, nil)

	left := decode[api.PlayerLeft](t, expect(t, l.host, api.EventPlayerLeft))
	assert.Equal(t, "Bob", left.PlayerName)

	gc := decode[api.GameCancelled](t, expect(t, l.host, api.EventGameCancelled))
	assert.Equal(t, domain.ReasonNotEnoughPlayers, gc.Reason)
	assert.Equal(t, domain.StateLobby, gc.Room.GameState)
	expectNone(t, l.guest)

	f.send(t, "c2", api.TypeStartGame, nil)
	e := decode[api.ErrorData](t, expect(t, l.guest, api.EventError))
	assert.Equal(t, domain.ReasonPlayerNotFound, e.Reason, "the connection is no longer bound")
}

func TestRouter_LeaderboardUpdated(t *testing.T) {
	f := makeRouter(t)
	l := f.lobby(t)

	f.eb.Publish(context.Background(), domain.EventLeaderboardUpdated{
		Leaderboard: domain.Leaderboard{
			RoomCode: l.code,
			Entries: []domain.LeaderboardEntry{
				{PlayerID: l.guestID, PlayerName: "Bob", Score: 150},
				{PlayerID: l.hostID, PlayerName: "Ana", Score: 100},
			},
		},
	})
	f.eb.Stop()

	lb := decode[api.Leaderboard](t, expect(t, l.host, api.EventLeaderboardUpdated))
	require.Len(t, lb.Entries, 2)
	assert.Equal(t, "Bob", lb.Entries[0].PlayerName)
	assert.Equal(t, float64(150), lb.Entries[0].Score)
	expect(t, l.guest, api.EventLeaderboardUpdated)
}

func TestRouter_MirrorsBroadcastsOnPubsub(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})
	require.NoError(t, rc.Ping(ctx).Err(), "should be able to ping redis")

	f := makeRouter(t, withPubsub(rc, "stopgame"))
	host := f.connect("c1")
	f.send(t, "c1", api.TypeCreateRoom, api.CreateRoom{PlayerName: "Ana"})
	created := decode[api.Joined](t, expect(t, host, api.EventRoomCreated))

	sub := rc.Subscribe(ctx, "stopgame:room:"+created.RoomCode)
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	f.connect("c2")
	f.send(t, "c2", api.TypeJoinRoom, api.JoinRoom{RoomCode: created.RoomCode, PlayerName: "Bob"})

	select {
	case msg := <-sub.Channel():
		var n envelope
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &n))
		assert.Equal(t, api.EventPlayerJoined, n.Event)
	case <-ctx.Done():
		t.Fatal("no message mirrored on the room channel")
	}
}

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type fixture struct {
	clock   *clock.Fake
	eb      *event.Bus
	rooms   *room.Registry
	router  *api.Router
	clients map[string]*api.Client
}

type lobby struct {
	code    string
	host    *api.Client
	guest   *api.Client
	hostID  string
	guestID string
}

func makeRouter(t *testing.T, opts ...options) *fixture {
	t.Helper()

	fc := clock.NewFake(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	eb := event.NewBus()

	rooms := room.NewRegistry(room.Config{
		EventBus:   eb,
		Clock:      fc,
		Categories: categories,
	})

	engine := game.NewEngine(game.Config{
		Rooms:    rooms,
		EventBus: eb,
		Clock:    fc,
	})

	c := api.Config{
		EventBus: eb,
		Clock:    fc,
		Rooms:    rooms,
		Engine:   engine,
		Countdown: countdown.NewCoordinator(countdown.Config{
			Rooms:  rooms,
			Engine: engine,
			Clock:  fc,
		}),
		ReconnectGrace: 30 * time.Second,
	}

	for _, opt := range opts {
		opt(&c)
	}

	t.Cleanup(eb.Stop)

	return &fixture{
		clock:   fc,
		eb:      eb,
		rooms:   rooms,
		router:  api.New(c),
		clients: make(map[string]*api.Client),
	}
}

type options func(c *api.Config)

func withPubsub(r api.Redis, prefix string) options {
	return func(c *api.Config) {
		c.Redis = r
		c.PubsubPrefix = prefix
	}
}

func (f *fixture) connect(id string) *api.Client {
	c := f.router.Hub().Connect(id)
	f.clients[id] = c
	return c
}

func (f *fixture) send(t *testing.T, connID, typ string, data any) {
	t.Helper()

	m := map[string]any{"type": typ}
	if data != nil {
		m["data"] = data
	}

	b, err := json.Marshal(m)
	require.NoError(t, err)

	f.router.Handle(context.Background(), connID, b)
}

// lobby opens a room hosted by Ana on c1 with Bob on c2, with both queues drained.
func (f *fixture) lobby(t *testing.T) lobby {
	t.Helper()

	host, guest := f.connect("c1"), f.connect("c2")

	f.send(t, "c1", api.TypeCreateRoom, api.CreateRoom{PlayerName: "Ana"})
	created := decode[api.Joined](t, expect(t, host, api.EventRoomCreated))

	f.send(t, "c2", api.TypeJoinRoom, api.JoinRoom{RoomCode: created.RoomCode, PlayerName: "Bob"})
	joined := decode[api.Joined](t, expect(t, guest, api.EventRoomJoined))
	expect(t, host, api.EventPlayerJoined)

	return lobby{
		code:    created.RoomCode,
		host:    host,
		guest:   guest,
		hostID:  created.PlayerID,
		guestID: joined.PlayerID,
	}
}

// playing starts the game and selects the letter G, with both queues drained.
func (f *fixture) playing(t *testing.T, l lobby) {
	t.Helper()

	f.send(t, "c1", api.TypeStartGame, nil)
	expect(t, l.host, api.EventGameStarted)
	expect(t, l.guest, api.EventGameStarted)

	f.send(t, "c1", api.TypeSelectLetter, api.SelectLetter{Letter: "G"})
	expect(t, l.host, api.EventLetterSelected)
	expect(t, l.guest, api.EventLetterSelected)
}

func expect(t *testing.T, c *api.Client, event string) envelope {
	t.Helper()

	select {
	case b := <-c.Messages():
		var e envelope
		require.NoError(t, json.Unmarshal(b, &e))
		require.Equal(t, event, e.Event, "data: %s", e.Data)
		return e
	case <-time.After(time.Second):
		t.Fatalf("no %s received on %s", event, c.ID)
		return envelope{}
	}
}

func expectNone(t *testing.T, c *api.Client) {
	t.Helper()

	select {
	case b := <-c.Messages():
		t.Fatalf("unexpected message on %s: %s", c.ID, b)
	default:
	}
}

func decode[T any](t *testing.T, e envelope) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(e.Data, &v))
	return v
}

func ptr[T any](v T) *T {
	return &v
}
