package history

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/victornm/stopgame/internal/domain"
	"github.com/victornm/stopgame/internal/event"
)

const defaultListLimit = 20

// DB is satisfied by *pgxpool.Pool.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type Config struct {
	DB       DB
	EventBus *event.Bus
}

// Service archives finished games in Postgres.
type Service struct {
	db DB
	eb *event.Bus
}

func NewService(c Config) *Service {
	s := &Service{
		db: c.DB,
		eb: c.EventBus,
	}

	if s.eb != nil {
		s.eb.Subscribe(domain.EventNameGameFinished, func(ctx context.Context, e event.Event) error {
			_, err := s.Record(ctx, e.(domain.EventGameFinished).Game)
			return err
		})
	}

	return s
}

const schema = `
CREATE TABLE IF NOT EXISTS games (
	game_id     UUID PRIMARY KEY,
	room_code   TEXT NOT NULL,
	rounds      INT NOT NULL,
	letters     TEXT[] NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS games_finished_at_idx ON games (finished_at DESC);

CREATE TABLE IF NOT EXISTS game_standings (
	game_id     UUID NOT NULL REFERENCES games (game_id) ON DELETE CASCADE,
	position    INT NOT NULL,
	player_id   TEXT NOT NULL,
	player_name TEXT NOT NULL,
	color       TEXT NOT NULL,
	score       INT NOT NULL,
	average     NUMERIC(10, 2) NOT NULL,
	PRIMARY KEY (game_id, position)
);`

// EnsureSchema creates the history tables if they do not exist yet.
func (s *Service) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create history schema: %w", err)
	}
	return nil
}

// Record stores a finished game and its final standings, returning the archived game ID.
func (s *Service) Record(ctx context.Context, g domain.GameRecord) (_ string, err error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate game ID: %w", err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	const (
		insGameStmt     = `INSERT INTO games (game_id, room_code, rounds, letters, started_at, finished_at) VALUES ($1, $2, $3, $4, $5, $6);`
		insStandingStmt = `INSERT INTO game_standings (game_id, position, player_id, player_name, color, score, average) VALUES ($1, $2, $3, $4, $5, $6, $7);`
	)

	letters := g.Letters
	if letters == nil {
		letters = []string{}
	}

	_, err = tx.Exec(ctx, insGameStmt, id, g.RoomCode, g.Rounds, letters, g.StartedAt, g.FinishedAt)
	if err != nil {
		return "", fmt.Errorf("insert game: %w", err)
	}

	if len(g.Standings) > 0 {
		b := &pgx.Batch{}
		for i, st := range g.Standings {
			b.Queue(insStandingStmt, id, i+1, st.PlayerID, st.Name, st.Color, st.Score, st.Average)
		}

		if err = execBatch(ctx, tx, b); err != nil {
			return "", fmt.Errorf("insert standings: %w", err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}

	slog.InfoContext(ctx, "history: game recorded", "room", g.RoomCode, "game", id.String(), "rounds", g.Rounds)

	return id.String(), nil
}

func execBatch(ctx context.Context, tx pgx.Tx, b *pgx.Batch) (err error) {
	br := tx.SendBatch(ctx, b)
	defer func() {
		err = stderrors.Join(err, br.Close())
	}()

	for range b.Len() {
		if _, err = br.Exec(); err != nil {
			return err
		}
	}

	return nil
}

type ListGamesRequest struct {
	// RoomCode restricts the result to the games played in a room. Empty means every room.
	RoomCode string
	Limit    int
}

// ListGames returns the most recently finished games first, with their standings.
func (s *Service) ListGames(ctx context.Context, req ListGamesRequest) ([]domain.GameRecord, error) {
	if req.Limit <= 0 {
		req.Limit = defaultListLimit
	}
	if req.RoomCode != "" {
		code, err := domain.ValidateRoomCode(req.RoomCode)
		if err != nil {
			return nil, err
		}
		req.RoomCode = code
	}

	const selGamesStmt = `
SELECT game_id::text, room_code, rounds, letters, started_at, finished_at
FROM games
WHERE $1 = '' OR room_code = $1
ORDER BY finished_at DESC
LIMIT $2;`

	rows, err := s.db.Query(ctx, selGamesStmt, req.RoomCode, req.Limit)
	if err != nil {
		return nil, fmt.Errorf("query games: %w", err)
	}

	games, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.GameRecord, error) {
		var g domain.GameRecord
		err := row.Scan(&g.ID, &g.RoomCode, &g.Rounds, &g.Letters, &g.StartedAt, &g.FinishedAt)
		return g, err
	})
	if err != nil {
		return nil, fmt.Errorf("collect games: %w", err)
	}

	if len(games) == 0 {
		return games, nil
	}

	ids := make([]string, 0, len(games))
	index := make(map[string]int, len(games))
	for i, g := range games {
		ids = append(ids, g.ID)
		index[g.ID] = i
	}

	const selStandingsStmt = `
SELECT game_id::text, player_id, player_name, color, score, average
FROM game_standings
WHERE game_id = ANY($1::uuid[])
ORDER BY game_id, position;`

	rows, err = s.db.Query(ctx, selStandingsStmt, ids)
	if err != nil {
		return nil, fmt.Errorf("query standings: %w", err)
	}

	type standingRow struct {
		gameID string
		domain.Standing
	}

	standings, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (standingRow, error) {
		var st standingRow
		err := row.Scan(&st.gameID, &st.PlayerID, &st.Name, &st.Color, &st.Score, &st.Average)
		return st, err
	})
	if err != nil {
		return nil, fmt.Errorf("collect standings: %w", err)
	}

	for _, st := range standings {
		i := index[st.gameID]
		games[i].Standings = append(games[i].Standings, st.Standing)
	}

	return games, nil
}
