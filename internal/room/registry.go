package room

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/victornm/stopgame/internal/clock"
	"github.com/victornm/stopgame/internal/domain"
	"github.com/victornm/stopgame/internal/errors"
	"github.com/victornm/stopgame/internal/event"
	"github.com/victornm/stopgame/internal/telemetry"
)

const (
	defaultMaxPlayers    = 6
	defaultCodeAttempts  = 100
	defaultEmptyTTL      = 5 * time.Minute
	defaultInactiveTTL   = 2 * time.Hour
	defaultSweepInterval = time.Hour
	defaultStatsInterval = 30 * time.Minute
)

type Config struct {
	EventBus      *event.Bus
	Clock         clock.Clock
	MaxPlayers    int
	Categories    []string
	CodeAttempts  int
	EmptyTTL      time.Duration
	InactiveTTL   time.Duration
	SweepInterval time.Duration
	StatsInterval time.Duration

	// NewCode and NewID default to random room codes and UUIDv7 player ids.
	NewCode func() string
	NewID   func() string
}

// Registry owns every live room and the indexes from players and connections to rooms.
//
// Lock order is room then registry: a goroutine holding the registry lock never waits for a room lock.
type Registry struct {
	eb    *event.Bus
	clock clock.Clock
	c     Config

	mu          sync.RWMutex
	rooms       map[string]*domain.Room
	byPlayer    map[string]string
	byConn      map[string]Location
	expirations map[string]*expiration
}

// Location is where a connection is bound.
type Location struct {
	RoomCode string
	PlayerID string
}

type expiration struct {
	timer clock.Timer
}

func NewRegistry(c Config) *Registry {
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.MaxPlayers <= 0 {
		c.MaxPlayers = defaultMaxPlayers
	}
	if len(c.Categories) == 0 {
		c.Categories = domain.DefaultCategories
	}
	if c.CodeAttempts <= 0 {
		c.CodeAttempts = defaultCodeAttempts
	}
	if c.EmptyTTL <= 0 {
		c.EmptyTTL = defaultEmptyTTL
	}
	if c.InactiveTTL <= 0 {
		c.InactiveTTL = defaultInactiveTTL
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = defaultSweepInterval
	}
	if c.StatsInterval <= 0 {
		c.StatsInterval = defaultStatsInterval
	}
	if c.NewCode == nil {
		c.NewCode = randomCode
	}
	if c.NewID == nil {
		c.NewID = newPlayerID
	}

	return &Registry{
		eb:          c.EventBus,
		clock:       c.Clock,
		c:           c,
		rooms:       make(map[string]*domain.Room),
		byPlayer:    make(map[string]string),
		byConn:      make(map[string]Location),
		expirations: make(map[string]*expiration),
	}
}

type CreateRoomRequest struct {
	ConnectionID string
	PlayerName   string
}

type CreateRoomResponse struct {
	Room   domain.RoomView
	Player domain.PlayerView
}

// CreateRoom registers a new room under a fresh code with the requesting player as host.
func (s *Registry) CreateRoom(ctx context.Context, req CreateRoomRequest) (*CreateRoomResponse, error) {
	name, err := domain.ValidatePlayerName(req.PlayerName)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	host := domain.NewPlayer(s.c.NewID(), req.ConnectionID, name, domain.PlayerColors[0], now)

	s.mu.Lock()
	defer s.mu.Unlock()

	code, ok := s.uniqueCode()
	if !ok {
		slog.ErrorContext(ctx, "room: code generation exhausted", "attempts", s.c.CodeAttempts)
		return nil, errors.New(errors.CodeUnavailable,
			errors.WithReason(domain.ReasonCodeGeneration),
			errors.WithMessagef("could not generate a unique room code after %d attempts", s.c.CodeAttempts))
	}

	r := domain.NewRoom(code, host, s.c.Categories, s.c.MaxPlayers, now)
	resp := &CreateRoomResponse{
		Room:   r.View(),
		Player: host.View(),
	}

	s.cancelExpirationLocked(code)
	s.rooms[code] = r
	s.indexLocked(code, host)

	telemetry.RoomsCreated.Inc()
	slog.InfoContext(ctx, "room: created", "room", code, "player", host.ID)

	return resp, nil
}

func (s *Registry) uniqueCode() (string, bool) {
	for i := 0; i < s.c.CodeAttempts; i++ {
		code := s.c.NewCode()
		if _, taken := s.rooms[code]; !taken {
			return code, true
		}
	}
	return "", false
}

type JoinRoomRequest struct {
	RoomCode     string
	ConnectionID string
	PlayerName   string
}

type JoinRoomResponse struct {
	Room   domain.RoomView
	Player domain.PlayerView
}

// JoinRoom adds a new player to a room waiting in the lobby.
func (s *Registry) JoinRoom(ctx context.Context, req JoinRoomRequest) (*JoinRoomResponse, error) {
	code, err := domain.ValidateRoomCode(req.RoomCode)
	if err != nil {
		return nil, err
	}

	name, err := domain.ValidatePlayerName(req.PlayerName)
	if err != nil {
		return nil, err
	}

	r, err := s.Acquire(code)
	if err != nil {
		return nil, err
	}
	defer r.Unlock()

	if r.IsFull() {
		return nil, errors.New(errors.CodeResourceExhausted,
			errors.WithReason(domain.ReasonRoomFull),
			errors.WithMessagef("room is full: code=%s max=%d", code, r.MaxPlayers))
	}

	if r.State != domain.StateLobby {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithReason(domain.ReasonGameInProgress),
			errors.WithMessagef("game already in progress: code=%s", code))
	}

	if r.NameTaken(name) {
		return nil, errors.New(errors.CodeAlreadyExists,
			errors.WithReason(domain.ReasonNameTaken),
			errors.WithMessagef("name already taken in room: %s", name))
	}

	now := s.clock.Now()
	p := domain.NewPlayer(s.c.NewID(), req.ConnectionID, name, pickColor(r), now)
	r.AddPlayer(p, now)

	s.mu.Lock()
	s.cancelExpirationLocked(code)
	s.indexLocked(code, p)
	s.mu.Unlock()

	slog.InfoContext(ctx, "room: player joined", "room", code, "player", p.ID)

	return &JoinRoomResponse{
		Room:   r.View(),
		Player: p.View(),
	}, nil
}

func pickColor(r *domain.Room) string {
	used := make(map[string]bool, r.PlayerCount())
	for _, p := range r.Players() {
		used[p.Color] = true
	}
	for _, c := range domain.PlayerColors {
		if !used[c] {
			return c
		}
	}
	return domain.PlayerColors[r.PlayerCount()%len(domain.PlayerColors)]
}

type ReconnectRequest struct {
	RoomCode     string
	PlayerID     string
	ConnectionID string
}

type ReconnectResponse struct {
	Room   domain.RoomView
	Player domain.PlayerView
}

// Reconnect binds a new connection to an existing player. The previous connection id stops resolving.
func (s *Registry) Reconnect(ctx context.Context, req ReconnectRequest) (*ReconnectResponse, error) {
	code, err := domain.ValidateRoomCode(req.RoomCode)
	if err != nil {
		return nil, err
	}

	// A connection serves one player: whoever held it before is disconnected first.
	s.mu.RLock()
	prev, bound := s.byConn[req.ConnectionID]
	s.mu.RUnlock()
	if bound && prev.PlayerID != req.PlayerID {
		s.Disconnect(ctx, req.ConnectionID)
	}

	r, err := s.Acquire(code)
	if err != nil {
		return nil, err
	}
	defer r.Unlock()

	p, ok := r.Player(req.PlayerID)
	if !ok {
		return nil, domain.ErrPlayerNotFound(code, req.PlayerID)
	}

	s.mu.Lock()
	if loc, ok := s.byConn[req.ConnectionID]; ok && loc.PlayerID != p.ID {
		s.mu.Unlock()
		return nil, errors.New(errors.CodeAlreadyExists,
			errors.WithReason(domain.ReasonConnectionInUse),
			errors.WithMessagef("connection is bound to another player: player=%s", loc.PlayerID))
	}
	if loc, ok := s.byConn[p.ConnectionID]; ok && loc.PlayerID == p.ID {
		delete(s.byConn, p.ConnectionID)
	}
	p.ConnectionID = req.ConnectionID
	s.indexLocked(code, p)
	s.mu.Unlock()

	r.Touch(s.clock.Now())

	slog.InfoContext(ctx, "room: player reconnected", "room", code, "player", p.ID)

	return &ReconnectResponse{
		Room:   r.View(),
		Player: p.View(),
	}, nil
}

type DisconnectResponse struct {
	RoomCode string
	PlayerID string
	Room     domain.RoomView
}

// Disconnect unbinds a dropped connection from its player. The player stays in the room.
func (s *Registry) Disconnect(ctx context.Context, connectionID string) (*DisconnectResponse, bool) {
	s.mu.RLock()
	loc, ok := s.byConn[connectionID]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}

	r, err := s.Acquire(loc.RoomCode)
	if err != nil {
		return nil, false
	}
	defer r.Unlock()

	p, ok := r.Player(loc.PlayerID)
	if !ok || p.ConnectionID != connectionID {
		return nil, false
	}

	p.ConnectionID = ""

	s.mu.Lock()
	delete(s.byConn, connectionID)
	s.mu.Unlock()

	slog.InfoContext(ctx, "room: player disconnected", "room", loc.RoomCode, "player", loc.PlayerID)

	return &DisconnectResponse{
		RoomCode: loc.RoomCode,
		PlayerID: loc.PlayerID,
		Room:     r.View(),
	}, true
}

type LeaveRoomRequest struct {
	RoomCode string
	PlayerID string
}

type LeaveRoomResponse struct {
	Room   domain.RoomView
	Player domain.PlayerView
	// Empty is set when the last player left. The room is then scheduled for deletion.
	Empty bool
}

// LeaveRoom removes a player from a room without applying any game rule.
// Use the game engine to leave a room with a game in progress.
func (s *Registry) LeaveRoom(ctx context.Context, req LeaveRoomRequest) (*LeaveRoomResponse, error) {
	r, err := s.Acquire(req.RoomCode)
	if err != nil {
		return nil, err
	}
	defer r.Unlock()

	p, err := s.Remove(ctx, r, req.PlayerID)
	if err != nil {
		return nil, err
	}

	return &LeaveRoomResponse{
		Room:   r.View(),
		Player: p.View(),
		Empty:  r.IsEmpty(),
	}, nil
}

// Remove removes a player from r, which must be locked by the caller.
// If the room becomes empty it is scheduled for deletion after the empty room TTL.
func (s *Registry) Remove(ctx context.Context, r *domain.Room, playerID string) (*domain.Player, error) {
	p, ok := r.RemovePlayer(playerID, s.clock.Now())
	if !ok {
		return nil, domain.ErrPlayerNotFound(r.Code, playerID)
	}

	s.mu.Lock()
	delete(s.byPlayer, p.ID)
	if loc, ok := s.byConn[p.ConnectionID]; ok && loc.PlayerID == p.ID {
		delete(s.byConn, p.ConnectionID)
	}
	if r.IsEmpty() {
		s.scheduleExpirationLocked(r.Code)
	}
	s.mu.Unlock()

	slog.InfoContext(ctx, "room: player left", "room", r.Code, "player", p.ID, "empty", r.IsEmpty())

	if s.eb != nil {
		s.eb.Publish(ctx, domain.EventPlayerLeft{RoomCode: r.Code, PlayerID: p.ID})
	}

	return p, nil
}

// Acquire returns the room locked. The caller must Unlock it.
func (s *Registry) Acquire(code string) (*domain.Room, error) {
	r, err := s.Get(code)
	if err != nil {
		return nil, err
	}

	r.Lock()
	if r.Deleted() {
		r.Unlock()
		return nil, domain.ErrRoomNotFound(code)
	}

	return r, nil
}

// Get returns the room without locking it.
func (s *Registry) Get(code string) (*domain.Room, error) {
	s.mu.RLock()
	r, ok := s.rooms[code]
	s.mu.RUnlock()

	if !ok {
		return nil, domain.ErrRoomNotFound(code)
	}

	return r, nil
}

func (s *Registry) RoomByPlayerID(playerID string) (*domain.Room, error) {
	s.mu.RLock()
	code, ok := s.byPlayer[playerID]
	s.mu.RUnlock()

	if !ok {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithReason(domain.ReasonPlayerNotFound),
			errors.WithMessagef("player is not in any room: player=%s", playerID))
	}

	return s.Get(code)
}

// RoomByConnectionID resolves a connection to its room and the player bound to it.
func (s *Registry) RoomByConnectionID(connectionID string) (*domain.Room, Location, error) {
	s.mu.RLock()
	loc, ok := s.byConn[connectionID]
	s.mu.RUnlock()

	if !ok {
		return nil, Location{}, errors.New(errors.CodeNotFound,
			errors.WithReason(domain.ReasonPlayerNotFound),
			errors.WithMessagef("connection is not in any room"))
	}

	r, err := s.Get(loc.RoomCode)
	if err != nil {
		return nil, Location{}, err
	}

	return r, loc, nil
}

// Delete removes a room from the registry and stops its countdown.
func (s *Registry) Delete(ctx context.Context, code, reason string) error {
	r, err := s.Acquire(code)
	if err != nil {
		return err
	}
	defer r.Unlock()

	s.deleteLocked(ctx, r, reason)
	return nil
}

func (s *Registry) deleteLocked(ctx context.Context, r *domain.Room, reason string) {
	r.MarkDeleted()

	s.mu.Lock()
	delete(s.rooms, r.Code)
	for _, p := range r.Players() {
		delete(s.byPlayer, p.ID)
		delete(s.byConn, p.ConnectionID)
	}
	s.cancelExpirationLocked(r.Code)
	s.mu.Unlock()

	telemetry.RoomsDeleted.WithLabelValues(reason).Inc()
	slog.InfoContext(ctx, "room: deleted", "room", r.Code, "reason", reason)

	if s.eb != nil {
		s.eb.Publish(ctx, domain.EventRoomDeleted{RoomCode: r.Code})
	}
}

func (s *Registry) scheduleExpirationLocked(code string) {
	s.cancelExpirationLocked(code)

	e := &expiration{}
	e.timer = s.clock.AfterFunc(s.c.EmptyTTL, func() {
		s.expire(code, e)
	})
	s.expirations[code] = e
}

func (s *Registry) cancelExpirationLocked(code string) {
	if e, ok := s.expirations[code]; ok {
		e.timer.Stop()
		delete(s.expirations, code)
	}
}

func (s *Registry) expire(code string, e *expiration) {
	ctx := context.Background()

	r, err := s.Acquire(code)
	if err != nil {
		return
	}
	defer r.Unlock()

	s.mu.RLock()
	current := s.expirations[code] == e
	s.mu.RUnlock()

	if !current || !r.IsEmpty() {
		return
	}

	s.deleteLocked(ctx, r, "empty")
}

// Sweep deletes every room without activity for longer than the inactive TTL, occupied or not.
func (s *Registry) Sweep(ctx context.Context) int {
	now := s.clock.Now()

	s.mu.RLock()
	rooms := make([]*domain.Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		rooms = append(rooms, r)
	}
	s.mu.RUnlock()

	var n int
	for _, r := range rooms {
		r.Lock()
		if !r.Deleted() && now.Sub(r.LastActivity) > s.c.InactiveTTL {
			s.deleteLocked(ctx, r, "inactive")
			n++
		}
		r.Unlock()
	}

	if n > 0 {
		slog.InfoContext(ctx, "room: swept inactive rooms", "count", n)
	}

	return n
}

type Stats struct {
	TotalRooms       int `json:"totalRooms"`
	ActiveRooms      int `json:"activeRooms"`
	EmptyRooms       int `json:"emptyRooms"`
	TotalPlayers     int `json:"totalPlayers"`
	PendingDeletions int `json:"pendingDeletions"`
}

func (s *Registry) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		TotalRooms:       len(s.rooms),
		ActiveRooms:      len(s.rooms) - len(s.expirations),
		EmptyRooms:       len(s.expirations),
		TotalPlayers:     len(s.byPlayer),
		PendingDeletions: len(s.expirations),
	}
}

// Run sweeps inactive rooms and logs statistics until ctx is done.
func (s *Registry) Run(ctx context.Context) {
	sweep := s.clock.NewTicker(s.c.SweepInterval)
	defer sweep.Stop()

	stats := s.clock.NewTicker(s.c.StatsInterval)
	defer stats.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sweep.C():
			s.Sweep(ctx)
		case <-stats.C():
			st := s.Stats()
			telemetry.RoomsActive.Set(float64(st.ActiveRooms))
			telemetry.PlayersConnected.Set(float64(st.TotalPlayers))
			slog.InfoContext(ctx, "room: stats",
				"rooms", st.TotalRooms,
				"active", st.ActiveRooms,
				"empty", st.EmptyRooms,
				"players", st.TotalPlayers,
			)
		}
	}
}

func (s *Registry) indexLocked(code string, p *domain.Player) {
	s.byPlayer[p.ID] = code
	if p.ConnectionID != "" {
		s.byConn[p.ConnectionID] = Location{RoomCode: code, PlayerID: p.ID}
	}
}

func randomCode() string {
	max := big.NewInt(int64(len(domain.RoomCodeChars)))
	b := make([]byte, domain.RoomCodeLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(fmt.Errorf("room: read random: %w", err))
		}
		b[i] = domain.RoomCodeChars[n.Int64()]
	}
	return string(b)
}

func newPlayerID() string {
	return uuid.Must(uuid.NewV7()).String()
}
